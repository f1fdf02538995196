// Package terminal implements the per-reader façade of the secure
// element service: it owns the open channel table, serializes all card
// access, performs applet selection and routes every open, transmit
// and close through the access control enforcer. One Terminal exists
// per physical reader; mutually distrusting clients share it.
package terminal

import (
	"errors"
	"fmt"
	"sync"

	"github.com/openmobile/omapi/pkg/access"
	"github.com/openmobile/omapi/pkg/apdu"
	"github.com/openmobile/omapi/pkg/cardlink"
	"github.com/openmobile/omapi/pkg/enforcer"
	"github.com/openmobile/omapi/pkg/identity"
	"github.com/openmobile/omapi/pkg/rules"
	"github.com/pion/logging"
)

// FileRange is one elementary file id range, inclusive, that the
// simIO path may address.
type FileRange struct {
	From uint16
	To   uint16
}

// Config configures a Terminal.
type Config struct {
	// Name is the stable reader name. Required.
	Name string

	// Link is the card transport. Required.
	Link cardlink.Link

	// LoggerFactory enables logging when set.
	LoggerFactory logging.LoggerFactory

	// MaxLogicalChannels caps logical channels terminal-side
	// (default: cardlink.DefaultMaxLogicalChannels). The card may
	// impose a lower limit of its own.
	MaxLogicalChannels int

	// Rules configures the access rule store for this reader.
	Rules rules.Config

	// SimIOFiles is the allowlist for SimIOExchange. An empty list
	// rejects every simIO command.
	SimIOFiles []FileRange
}

func (c *Config) validate() error {
	if c.Name == "" {
		return errors.New("terminal: config requires a reader name")
	}
	if c.Link == nil {
		return errors.New("terminal: config requires a card link")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.MaxLogicalChannels <= 0 {
		c.MaxLogicalChannels = cardlink.DefaultMaxLogicalChannels
	}
}

// Terminal is the per-reader channel manager and access control
// front end.
type Terminal struct {
	config Config
	log    logging.LeveledLogger

	// mu serializes card I/O and guards the channel table. Card
	// commands from different clients must never interleave.
	mu             sync.Mutex
	atr            []byte
	selectResponse []byte
	channels       map[uint64]*Channel
	logical        map[int]*Channel // card channel number -> channel
	basic          *Channel
	nextHandle     uint64
	closed         bool

	// Access control, built lazily on first use.
	enfOnce sync.Once
	enf     *enforcer.Enforcer
}

// New creates a terminal over the given card link. The card is reset
// once to learn the ATR; a failed reset is logged and left for later
// operations to surface.
func New(config Config) (*Terminal, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	t := &Terminal{
		config:     config,
		channels:   make(map[uint64]*Channel),
		logical:    make(map[int]*Channel),
		nextHandle: 1,
	}
	if config.LoggerFactory != nil {
		t.log = config.LoggerFactory.NewLogger("terminal")
	}

	if atr, err := config.Link.Reset(); err == nil {
		t.atr = atr
	} else if t.log != nil {
		t.log.Warnf("initial card reset failed: %v", err)
	}
	return t, nil
}

// Name returns the reader name.
func (t *Terminal) Name() string { return t.config.Name }

// IsConnected reports whether the terminal is usable.
func (t *Terminal) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// IsCardPresent reports card presence. An error means presence could
// not be determined, which callers must not treat as "absent".
func (t *Terminal) IsCardPresent() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false, ErrTerminalClosed
	}
	present, err := t.config.Link.IsPresent()
	if err != nil {
		return false, fmt.Errorf("querying card presence: %w", err)
	}
	return present, nil
}

// ATR returns the answer-to-reset from the last successful reset, or
// nil if none happened yet.
func (t *Terminal) ATR() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.atr...)
}

// SelectResponse returns the response of the most recent successful
// basic-channel select, including the trailing status word, or nil.
func (t *Terminal) SelectResponse() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.selectResponse...)
}

// Select selects the card's default application on the basic channel.
func (t *Terminal) Select() error {
	return t.SelectAID(nil)
}

// SelectAID selects the given applet on the basic channel. A nil aid
// selects the default application.
func (t *Terminal) SelectAID(aid []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTerminalClosed
	}
	_, err := t.selectLocked(aid, 0)
	return err
}

// selectLocked issues a SELECT on the given channel and records the
// select response for basic-channel selects. Caller holds t.mu.
func (t *Terminal) selectLocked(aid []byte, channel int) (*apdu.Response, error) {
	var cmd *apdu.Command
	if len(aid) == 0 {
		cmd = apdu.SelectDefault()
	} else {
		cmd = apdu.SelectByAID(aid)
	}
	cla, err := apdu.EncodeChannel(cmd.Cla, channel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalInconsistency, err)
	}
	cmd.Cla = cla

	resp, err := cardlink.Exchange(t.config.Link, cmd)
	if err != nil {
		if channel == 0 {
			t.selectResponse = nil
		}
		return nil, t.mapLinkError(err)
	}
	if !resp.IsSuccess() {
		if channel == 0 {
			t.selectResponse = nil
		}
		if apdu.SWIsApplicationNotFound(resp.SW()) {
			return nil, fmt.Errorf("%w: select returned %04X", ErrApplicationNotFound, resp.SW())
		}
		return nil, fmt.Errorf("%w: select returned %04X", cardlink.ErrCommunication, resp.SW())
	}
	if channel == 0 {
		t.selectResponse = resp.Bytes()
	}
	return resp, nil
}

// OpenBasicChannel opens the card's basic channel for the session,
// selecting aid first when given. The enforcer decision happens before
// any card access; a denial leaves the card untouched.
func (t *Terminal) OpenBasicChannel(session *Session, aid []byte) (*Channel, error) {
	decision, err := t.decide(session, aid)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTerminalClosed
	}
	if t.basic != nil {
		return nil, ErrBasicChannelInUse
	}
	if err := t.requireCardLocked(); err != nil {
		return nil, err
	}

	if len(aid) > 0 {
		if _, err := t.selectLocked(aid, 0); err != nil {
			return nil, err
		}
	}

	ch := t.registerLocked(0, KindBasic, session, decision)
	t.basic = ch
	if t.log != nil {
		t.log.Infof("session %s opened basic channel (handle %d)", session.ID, ch.handle)
	}
	return ch, nil
}

// OpenLogicalChannel asks the card for a new logical channel and
// selects aid on it when given. Channel number assignment and the
// card-level open are atomic with respect to other openers.
func (t *Terminal) OpenLogicalChannel(session *Session, aid []byte) (*Channel, error) {
	decision, err := t.decide(session, aid)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTerminalClosed
	}
	if len(t.logical) >= t.config.MaxLogicalChannels {
		return nil, ErrNoChannelAvailable
	}
	if err := t.requireCardLocked(); err != nil {
		return nil, err
	}

	resp, err := cardlink.Exchange(t.config.Link, apdu.ManageChannelOpen())
	if err != nil {
		return nil, t.mapLinkError(err)
	}
	if !resp.IsSuccess() {
		if apdu.SWIsNoChannelAvailable(resp.SW()) {
			return nil, ErrNoChannelAvailable
		}
		return nil, fmt.Errorf("%w: manage channel open returned %04X", cardlink.ErrCommunication, resp.SW())
	}
	if len(resp.Data) != 1 {
		return nil, fmt.Errorf("%w: manage channel open returned %d data bytes", cardlink.ErrCommunication, len(resp.Data))
	}
	number := int(resp.Data[0])
	if number < 1 || number > apdu.MaxChannel {
		return nil, fmt.Errorf("%w: card assigned channel %d", cardlink.ErrCommunication, number)
	}
	if _, taken := t.logical[number]; taken {
		// The card handed out a number we believe is open. Close it
		// on-card and give up; trusting either side here would leak
		// or cross wires.
		t.cardCloseLocked(number)
		return nil, fmt.Errorf("%w: card reassigned open channel %d", ErrInternalInconsistency, number)
	}

	if len(aid) > 0 {
		if _, err := t.selectLocked(aid, number); err != nil {
			t.cardCloseLocked(number)
			return nil, err
		}
	}

	ch := t.registerLocked(number, KindLogical, session, decision)
	t.logical[number] = ch
	if t.log != nil {
		t.log.Infof("session %s opened logical channel %d (handle %d)", session.ID, number, ch.handle)
	}
	return ch, nil
}

// Channel returns the open channel for the handle.
func (t *Terminal) Channel(handle uint64) (*Channel, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.channels[handle]
	return ch, ok
}

// Transmit sends a command APDU over the session's channel. The
// command is rewritten to the channel's number and checked against
// the channel's APDU filter before anything reaches the card.
func (t *Terminal) Transmit(handle uint64, session *Session, raw []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTerminalClosed
	}

	ch, ok := t.channels[handle]
	if !ok {
		return nil, ErrUnknownChannel
	}
	if ch.session != session.ID {
		return nil, ErrNotChannelOwner
	}
	if ch.closed {
		return nil, ErrChannelClosed
	}

	cmd, err := apdu.ParseCommand(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	// Channel management and re-selection stay with the terminal; a
	// client must not close foreign channels or change the selected
	// applet behind the enforcer's back.
	if cmd.Ins == apdu.InsManageChannel {
		return nil, fmt.Errorf("%w: MANAGE CHANNEL is reserved", ErrInvalidCommand)
	}
	if cmd.Ins == apdu.InsSelect && cmd.P1 == 0x04 {
		return nil, fmt.Errorf("%w: SELECT by AID is reserved", ErrInvalidCommand)
	}

	if !ch.access.CheckCommand(cmd.Header()) {
		return nil, fmt.Errorf("%w: command blocked by access rule", ErrAccessDenied)
	}

	cla, err := apdu.EncodeChannel(cmd.Cla, ch.number)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalInconsistency, err)
	}
	cmd.Cla = cla

	resp, err := cardlink.Exchange(t.config.Link, cmd)
	if err != nil {
		return nil, t.mapLinkError(err)
	}
	return resp.Bytes(), nil
}

// Close closes the session's channel. The card-side close is best
// effort; the in-memory slot is freed regardless so the channel number
// cannot leak.
func (t *Terminal) Close(handle uint64, session *Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.channels[handle]
	if !ok {
		return ErrUnknownChannel
	}
	if ch.session != session.ID {
		return ErrNotChannelOwner
	}
	if ch.closed {
		return nil
	}
	t.closeLocked(ch)
	return nil
}

// CloseChannels closes every open channel on the terminal, regardless
// of owner. Used on teardown; individual card-side failures are
// logged, never raised.
func (t *Terminal) CloseChannels() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.channels {
		if !ch.closed {
			t.closeLocked(ch)
		}
	}
}

// NotifyClientDisconnect closes exactly the channels the session owns.
// The transport layer calls this when a client dies without closing.
func (t *Terminal) NotifyClientDisconnect(session *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.channels {
		if !ch.closed && ch.session == session.ID {
			t.closeLocked(ch)
		}
	}
	if t.log != nil {
		t.log.Infof("cleaned up channels for disconnected session %s", session.ID)
	}
}

// Reset resets the card. Channel state on the card is gone after a
// reset, so every in-memory channel is dropped and the cached access
// decisions are invalidated.
func (t *Terminal) Reset() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTerminalClosed
	}
	atr, err := t.config.Link.Reset()
	if err == nil {
		t.atr = atr
	}
	for _, ch := range t.channels {
		ch.closed = true
	}
	t.channels = make(map[uint64]*Channel)
	t.logical = make(map[int]*Channel)
	t.basic = nil
	t.selectResponse = nil
	t.mu.Unlock()

	t.Enforcer().Refresh()

	if err != nil {
		return t.mapLinkError(err)
	}
	return nil
}

// Shutdown closes all channels and the card link.
func (t *Terminal) Shutdown() {
	t.CloseChannels()
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	if err := t.config.Link.Close(); err != nil && t.log != nil {
		t.log.Warnf("closing card link: %v", err)
	}
}

// SetUpChannelAccess resolves the package's certificate hashes and
// returns the enforcer's decision for the aid. A resolver failure is a
// denial; an unidentifiable caller never gains access.
func (t *Terminal) SetUpChannelAccess(resolver identity.Resolver, aid []byte, packageName string) (access.ChannelAccess, error) {
	hashes, err := resolver.CertificateHashes(packageName)
	if err != nil {
		return access.Denied("caller identity unresolved"),
			fmt.Errorf("%w: resolving %q: %v", ErrAccessDenied, packageName, err)
	}
	return t.Enforcer().Decide(hashes, aid), nil
}

// InitializeAccessControl prepares the enforcer. With loadAtStartup
// the rule set is fetched eagerly; a fetch failure is only logged,
// later decisions re-try on demand.
func (t *Terminal) InitializeAccessControl(loadAtStartup bool) {
	e := t.Enforcer()
	if !loadAtStartup {
		return
	}
	if err := e.Load(); err != nil && t.log != nil {
		t.log.Warnf("startup rule fetch failed, continuing fail-closed: %v", err)
	}
}

// Enforcer returns the terminal's access control enforcer, creating it
// on first use.
func (t *Terminal) Enforcer() *enforcer.Enforcer {
	t.enfOnce.Do(func() {
		cfg := t.config.Rules
		if cfg.LoggerFactory == nil {
			cfg.LoggerFactory = t.config.LoggerFactory
		}
		t.enf = enforcer.New(rules.NewStore(cfg), t, t.config.LoggerFactory)
	})
	return t.enf
}

// Transaction grants the rule store exclusive card access for one
// fetch sequence. Implements rules.Exchanger.
func (t *Terminal) Transaction(fn func(tx rules.Transmitter) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTerminalClosed
	}
	return fn(terminalTx{t.config.Link})
}

type terminalTx struct{ link cardlink.Link }

func (x terminalTx) Exchange(cmd *apdu.Command) (*apdu.Response, error) {
	return cardlink.Exchange(x.link, cmd)
}

// decide runs the enforcer for the session/aid pair. Must not be
// called with t.mu held: a rule fetch re-enters the terminal through
// Transaction.
func (t *Terminal) decide(session *Session, aid []byte) (access.ChannelAccess, error) {
	decision := t.Enforcer().Decide(session.Hashes, aid)
	if decision.Access != access.PolicyAllowed {
		reason := decision.Reason
		if reason == "" {
			reason = "refused by access rule"
		}
		return decision, fmt.Errorf("%w: %s", ErrAccessDenied, reason)
	}
	return decision, nil
}

func (t *Terminal) requireCardLocked() error {
	present, err := t.config.Link.IsPresent()
	if err != nil {
		return fmt.Errorf("querying card presence: %w", err)
	}
	if !present {
		return ErrCardNotPresent
	}
	return nil
}

func (t *Terminal) registerLocked(number int, kind Kind, session *Session, decision access.ChannelAccess) *Channel {
	ch := &Channel{
		handle:  t.nextHandle,
		number:  number,
		kind:    kind,
		session: session.ID,
		access:  decision.Clone(),
	}
	t.nextHandle++
	t.channels[ch.handle] = ch
	return ch
}

// closeLocked frees the channel record and notifies the card best
// effort. Caller holds t.mu.
func (t *Terminal) closeLocked(ch *Channel) {
	if ch.kind == KindLogical {
		t.cardCloseLocked(ch.number)
		delete(t.logical, ch.number)
	} else {
		t.basic = nil
	}
	ch.closed = true
	delete(t.channels, ch.handle)
}

// cardCloseLocked sends MANAGE CHANNEL close, logging failures. The
// in-memory slot is freed by the caller regardless.
func (t *Terminal) cardCloseLocked(number int) {
	resp, err := cardlink.Exchange(t.config.Link, apdu.ManageChannelClose(number))
	if err != nil {
		if t.log != nil {
			t.log.Warnf("card-side close of channel %d failed: %v", number, err)
		}
		return
	}
	if !resp.IsSuccess() && t.log != nil {
		t.log.Warnf("card-side close of channel %d returned %04X", number, resp.SW())
	}
}

func (t *Terminal) mapLinkError(err error) error {
	if errors.Is(err, cardlink.ErrNotPresent) {
		return fmt.Errorf("%w: %v", ErrCardNotPresent, err)
	}
	return err
}
