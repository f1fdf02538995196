// Package rules implements the access rule store: it locates the
// authoritative rule set on the card — preferring the access rule
// authority applet (ARA-M) and falling back to the access rule file —
// reassembles it from chained or chunked reads, and parses it into
// rules for the enforcer. An unreachable or malformed rule source
// leaves the store unloaded; the enforcer treats that as deny-all.
package rules

import (
	"fmt"
	"sync"

	"github.com/openmobile/omapi/pkg/access"
	"github.com/openmobile/omapi/pkg/apdu"
	"github.com/openmobile/omapi/pkg/cardlink"
	"github.com/pion/logging"
)

// Source identifies where the current rule set came from.
type Source uint8

const (
	SourceNone Source = iota
	SourceARA
	SourceARF
)

// String returns the source name for logging.
func (s Source) String() string {
	switch s {
	case SourceARA:
		return "ara"
	case SourceARF:
		return "arf"
	default:
		return "none"
	}
}

// Transmitter performs single card exchanges inside a transaction.
type Transmitter interface {
	Exchange(cmd *apdu.Command) (*apdu.Response, error)
}

// Exchanger grants exclusive card access for a multi-command sequence.
// The rule fetch issues several dependent commands (select, chained
// reads) that must not interleave with other clients' traffic.
type Exchanger interface {
	Transaction(fn func(tx Transmitter) error) error
}

// Defaults for the on-card rule source conventions. Deployments
// override these through the store config.
var (
	// DefaultARAAID is the ARA-M applet identifier from GP SEAC.
	DefaultARAAID = []byte{0xA0, 0x00, 0x00, 0x01, 0x51, 0x41, 0x43, 0x4C, 0x00}

	// DefaultARFPath selects down to the EF holding the rule blob.
	DefaultARFPath = []uint16{0x3F00, 0x4300}
)

// DefaultReadChunkSize is the READ BINARY request size used to
// reassemble the rule file.
const DefaultReadChunkSize = 128

// Config configures a Store.
type Config struct {
	// ARAAID overrides DefaultARAAID.
	ARAAID []byte

	// ARFPath overrides DefaultARFPath. The last element is the
	// elementary file holding the blob; preceding elements are the
	// DF chain selected first.
	ARFPath []uint16

	// ReadChunkSize overrides DefaultReadChunkSize.
	ReadChunkSize int

	// LoggerFactory, when set, enables fetch logging.
	LoggerFactory logging.LoggerFactory
}

func (c *Config) applyDefaults() {
	if c.ARAAID == nil {
		c.ARAAID = DefaultARAAID
	}
	if len(c.ARFPath) == 0 {
		c.ARFPath = DefaultARFPath
	}
	if c.ReadChunkSize <= 0 {
		c.ReadChunkSize = DefaultReadChunkSize
	}
}

// Store fetches, parses and retains the card's access rule set.
type Store struct {
	config Config
	log    logging.LeveledLogger

	mu     sync.RWMutex
	loaded bool
	source Source
	rules  []access.Rule
}

// NewStore creates a store. No card access happens until Load.
func NewStore(config Config) *Store {
	config.applyDefaults()
	s := &Store{config: config}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("rules")
	}
	return s
}

// Loaded reports whether a rule set has been successfully fetched.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Source reports where the current rule set came from.
func (s *Store) Source() Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

// Rules returns the loaded rule set. The second result is false when
// no successful fetch has happened; callers must then deny.
func (s *Store) Rules() ([]access.Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return nil, false
	}
	out := make([]access.Rule, len(s.rules))
	copy(out, s.rules)
	return out, true
}

// Invalidate drops the loaded rule set.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	s.source = SourceNone
	s.rules = nil
}

// Load fetches and parses the rule set inside one exclusive card
// transaction. On any failure the store ends up unloaded.
func (s *Store) Load(ex Exchanger) error {
	var (
		parsed []access.Rule
		source Source
	)
	err := ex.Transaction(func(tx Transmitter) error {
		blob, src, err := s.fetch(tx)
		if err != nil {
			return err
		}
		rs, err := ParseBlob(blob)
		if err != nil {
			return err
		}
		parsed = rs
		source = src
		return nil
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.loaded = false
		s.source = SourceNone
		s.rules = nil
		return err
	}
	s.loaded = true
	s.source = source
	s.rules = parsed
	if s.log != nil {
		s.log.Infof("loaded %d access rules from %s", len(parsed), source)
	}
	return nil
}

// fetch locates and reassembles the raw rule blob.
func (s *Store) fetch(tx Transmitter) ([]byte, Source, error) {
	resp, err := tx.Exchange(apdu.SelectByAID(s.config.ARAAID))
	if err != nil {
		return nil, SourceNone, fmt.Errorf("selecting rule authority: %w", err)
	}
	if resp.IsSuccess() {
		blob, err := s.fetchARA(tx)
		if err != nil {
			return nil, SourceNone, err
		}
		return blob, SourceARA, nil
	}
	if !apdu.SWIsApplicationNotFound(resp.SW()) {
		// The authority exists but refused selection. Failing is
		// safer than silently downgrading to the rule file.
		return nil, SourceNone, fmt.Errorf("rule authority select returned %04X", resp.SW())
	}

	if s.log != nil {
		s.log.Debugf("no rule authority applet, trying rule file")
	}
	blob, err := s.fetchARF(tx)
	if err != nil {
		return nil, SourceNone, err
	}
	return blob, SourceARF, nil
}

// fetchARA drains the rule blob through GET DATA [All] and chained
// GET DATA [Next] commands until the announced TLV length is complete
// or the authority sends a terminating empty record.
func (s *Store) fetchARA(tx Transmitter) ([]byte, error) {
	resp, err := tx.Exchange(apdu.GetData(0xFF40))
	if err != nil {
		return nil, fmt.Errorf("rule authority get data: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("rule authority get data returned %04X", resp.SW())
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}

	blob := append([]byte(nil), resp.Data...)
	total, err := tlvTotalLength(blob)
	if err != nil {
		return nil, err
	}

	for len(blob) < total {
		resp, err := tx.Exchange(apdu.GetData(0xFF60))
		if err != nil {
			return nil, fmt.Errorf("rule authority get next data: %w", err)
		}
		if !resp.IsSuccess() {
			return nil, fmt.Errorf("rule authority get next data returned %04X", resp.SW())
		}
		if len(resp.Data) == 0 {
			break
		}
		blob = append(blob, resp.Data...)
	}

	if len(blob) != total {
		return nil, parseErr("rule blob ended at %d of %d announced bytes", len(blob), total)
	}
	return blob, nil
}

// fetchARF selects down the configured file path and reassembles the
// rule file from fixed-size READ BINARY chunks.
func (s *Store) fetchARF(tx Transmitter) ([]byte, error) {
	for _, fid := range s.config.ARFPath {
		resp, err := tx.Exchange(apdu.SelectFileID(fid))
		if err != nil {
			return nil, fmt.Errorf("selecting rule file %04X: %w", fid, err)
		}
		if apdu.SWIsApplicationNotFound(resp.SW()) {
			return nil, fmt.Errorf("%w: file %04X not found", ErrNoRuleSource, fid)
		}
		if !resp.IsSuccess() {
			return nil, fmt.Errorf("selecting rule file %04X returned %04X", fid, resp.SW())
		}
	}

	chunk := s.config.ReadChunkSize
	resp, err := tx.Exchange(apdu.ReadBinary(0, chunk))
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("reading rule file returned %04X", resp.SW())
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}

	blob := append([]byte(nil), resp.Data...)
	total, err := tlvTotalLength(blob)
	if err != nil {
		return nil, err
	}

	for len(blob) < total {
		resp, err := tx.Exchange(apdu.ReadBinary(len(blob), chunk))
		if err != nil {
			return nil, fmt.Errorf("reading rule file: %w", err)
		}
		if !resp.IsSuccess() {
			return nil, fmt.Errorf("reading rule file returned %04X", resp.SW())
		}
		if len(resp.Data) == 0 {
			break
		}
		blob = append(blob, resp.Data...)
	}

	if len(blob) < total {
		return nil, parseErr("rule file ended at %d of %d announced bytes", len(blob), total)
	}
	return blob[:total], nil
}

// tlvTotalLength computes the full encoded length of the outer TLV
// from its first bytes, so chained reads know when to stop.
func tlvTotalLength(prefix []byte) (int, error) {
	tagLen := 1
	if len(prefix) > 0 && prefix[0]&0x1F == 0x1F {
		tagLen = 2
	}
	if len(prefix) < tagLen+1 {
		return 0, parseErr("rule blob too short for a TLV header")
	}
	b := prefix[tagLen]
	switch {
	case b < 0x80:
		return tagLen + 1 + int(b), nil
	case b == 0x81:
		if len(prefix) < tagLen+2 {
			return 0, parseErr("rule blob too short for a TLV header")
		}
		return tagLen + 2 + int(prefix[tagLen+1]), nil
	case b == 0x82:
		if len(prefix) < tagLen+3 {
			return 0, parseErr("rule blob too short for a TLV header")
		}
		return tagLen + 3 + int(prefix[tagLen+1])<<8 + int(prefix[tagLen+2]), nil
	default:
		return 0, parseErr("rule blob length form %02X", b)
	}
}

// LinkExchanger adapts a bare card link into an Exchanger, serializing
// transactions with its own mutex. The terminal supplies its own
// Exchanger tied to the terminal lock; this one serves tests and
// standalone use of the store.
type LinkExchanger struct {
	mu   sync.Mutex
	link cardlink.Link
}

// NewLinkExchanger wraps link.
func NewLinkExchanger(link cardlink.Link) *LinkExchanger {
	return &LinkExchanger{link: link}
}

// Transaction implements Exchanger.
func (e *LinkExchanger) Transaction(fn func(tx Transmitter) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(linkTx{e.link})
}

type linkTx struct{ link cardlink.Link }

func (t linkTx) Exchange(cmd *apdu.Command) (*apdu.Response, error) {
	return cardlink.Exchange(t.link, cmd)
}
