package terminal

import "errors"

var (
	// ErrAccessDenied means the access control enforcer refused the
	// operation for this application/applet pair.
	ErrAccessDenied = errors.New("terminal: access denied")

	// ErrBasicChannelInUse means the card's single basic channel is
	// already held by a client.
	ErrBasicChannelInUse = errors.New("terminal: basic channel in use")

	// ErrNoChannelAvailable means neither the card nor the terminal
	// can supply a free logical channel.
	ErrNoChannelAvailable = errors.New("terminal: no logical channel available")

	// ErrApplicationNotFound means the requested applet does not
	// exist on the card or refused selection.
	ErrApplicationNotFound = errors.New("terminal: application not found")

	// ErrInvalidCommand means a command was rejected before any card
	// transmission: malformed, out of policy, or touching a file the
	// low-level path may not address.
	ErrInvalidCommand = errors.New("terminal: invalid command")

	// ErrCardNotPresent means no card is in the reader.
	ErrCardNotPresent = errors.New("terminal: card not present")

	// ErrUnknownChannel means the handle does not name an open
	// channel on this terminal.
	ErrUnknownChannel = errors.New("terminal: unknown channel handle")

	// ErrNotChannelOwner means a session touched a channel another
	// session opened.
	ErrNotChannelOwner = errors.New("terminal: channel owned by another session")

	// ErrChannelClosed means the channel was already closed.
	ErrChannelClosed = errors.New("terminal: channel closed")

	// ErrTerminalClosed means the terminal has been torn down.
	ErrTerminalClosed = errors.New("terminal: terminal closed")

	// ErrInternalInconsistency flags a channel table/card state
	// mismatch. The affected channel is forcibly closed.
	ErrInternalInconsistency = errors.New("terminal: internal channel state inconsistency")
)
