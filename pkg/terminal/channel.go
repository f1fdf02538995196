package terminal

import "github.com/openmobile/omapi/pkg/access"

// Kind distinguishes the card's single basic channel from logical
// channels. Behavior differences are branches on this tag; there is no
// channel type hierarchy.
type Kind uint8

const (
	KindBasic Kind = iota
	KindLogical
)

// String returns the kind name for logging.
func (k Kind) String() string {
	if k == KindBasic {
		return "basic"
	}
	return "logical"
}

// Session identifies one client connection and carries the certificate
// hashes of the application behind it. The transport layer resolves
// the hashes before handing the session to the terminal.
type Session struct {
	// ID is the opaque client identity used for ownership checks.
	ID string

	// Hashes are the client's signing certificate digests.
	Hashes [][]byte
}

// Channel is one open channel to the card. All mutation goes through
// the owning Terminal; a Channel handed to a caller is a read-only
// record.
type Channel struct {
	handle  uint64
	number  int
	kind    Kind
	session string
	access  access.ChannelAccess

	// closed is guarded by the owning terminal's lock.
	closed bool
}

// Handle returns the process-unique channel handle.
func (c *Channel) Handle() uint64 { return c.handle }

// Number returns the card channel number (0 for the basic channel).
func (c *Channel) Number() int { return c.number }

// Kind returns whether this is the basic or a logical channel.
func (c *Channel) Kind() Kind { return c.kind }

// SessionID returns the identity of the session that opened the
// channel.
func (c *Channel) SessionID() string { return c.session }

// Access returns a copy of the decision that authorized this channel.
func (c *Channel) Access() access.ChannelAccess { return c.access.Clone() }
