package cardlink

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/openmobile/omapi/pkg/apdu"
)

// DefaultMaxLogicalChannels matches the common UICC limit of three
// logical channels alongside the basic channel.
const DefaultMaxLogicalChannels = 3

// Applet is one selectable application on the emulated card.
type Applet struct {
	// SelectResponse is the payload (FCI) returned by a successful
	// SELECT, without the status word.
	SelectResponse []byte

	// Process handles commands dispatched to the applet while it is
	// selected. Nil applets answer 6D00 to everything.
	Process func(cmd *apdu.Command) *apdu.Response
}

// EmulatedCard is an in-memory secure element implementing Link.
// It emulates MANAGE CHANNEL and SELECT with card-accurate status
// words, dispatches other commands to the selected applet, and counts
// transmissions so tests can assert that a rejected command never
// reached the card.
type EmulatedCard struct {
	atr         string
	maxChannels int

	mu        sync.Mutex
	applets   map[string]*Applet // hex AID; "" is the default application
	open      map[int]bool       // logical channels currently open
	selected  map[int]string     // channel -> hex AID of selected applet
	present   bool
	closed    bool
	transmits int

	// failNext, when set, fails the next Transmit with the given
	// error and clears itself.
	failNext error
}

// EmulatedCardConfig configures an EmulatedCard.
type EmulatedCardConfig struct {
	// ATR returned by Reset. Defaults to a plausible UICC ATR.
	ATR []byte

	// MaxLogicalChannels bounds MANAGE CHANNEL open
	// (default: DefaultMaxLogicalChannels).
	MaxLogicalChannels int
}

// NewEmulatedCard creates an emulated card with no applets installed.
func NewEmulatedCard(config EmulatedCardConfig) *EmulatedCard {
	atr := config.ATR
	if atr == nil {
		atr = []byte{0x3B, 0x9F, 0x96, 0x80, 0x1F, 0xC7, 0x80, 0x31, 0xA0, 0x73}
	}
	max := config.MaxLogicalChannels
	if max <= 0 {
		max = DefaultMaxLogicalChannels
	}
	return &EmulatedCard{
		atr:         hex.EncodeToString(atr),
		maxChannels: max,
		applets:     make(map[string]*Applet),
		open:        make(map[int]bool),
		selected:    make(map[int]string),
		present:     true,
	}
}

// Install registers an applet under the given AID. A nil aid installs
// the card's default application.
func (c *EmulatedCard) Install(aid []byte, a *Applet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applets[hex.EncodeToString(aid)] = a
}

// SetPresent simulates card insertion and removal. Removal drops all
// channel state, as a real card would on power loss.
func (c *EmulatedCard) SetPresent(present bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.present = present
	if !present {
		c.open = make(map[int]bool)
		c.selected = make(map[int]string)
	}
}

// FailNextTransmit makes the next Transmit return err.
func (c *EmulatedCard) FailNextTransmit(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = err
}

// TransmitCount returns how many commands reached the card.
func (c *EmulatedCard) TransmitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transmits
}

// OpenChannelCount returns how many logical channels the card holds
// open.
func (c *EmulatedCard) OpenChannelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.open)
}

func (c *EmulatedCard) Transmit(raw []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if !c.present {
		return nil, ErrNotPresent
	}
	if err := c.failNext; err != nil {
		c.failNext = nil
		return nil, fmt.Errorf("%w: %v", ErrCommunication, err)
	}

	c.transmits++

	cmd, err := apdu.ParseCommand(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCommunication, err)
	}
	return c.dispatch(cmd).Bytes(), nil
}

func (c *EmulatedCard) dispatch(cmd *apdu.Command) *apdu.Response {
	channel := apdu.DecodeChannel(cmd.Cla)
	if channel != 0 && !c.open[channel] {
		return sw(apdu.SWClaNotSupported)
	}

	switch cmd.Ins {
	case apdu.InsManageChannel:
		return c.manageChannel(cmd, channel)
	case apdu.InsSelect:
		if cmd.P1 == 0x04 {
			return c.selectByAID(cmd, channel)
		}
		// SELECT by file id is a file-system operation; let the
		// selected applet emulate it.
		return c.toApplet(cmd, channel)
	default:
		return c.toApplet(cmd, channel)
	}
}

func (c *EmulatedCard) manageChannel(cmd *apdu.Command, channel int) *apdu.Response {
	switch cmd.P1 {
	case 0x00:
		// Open: assign the lowest free logical channel.
		for n := 1; n <= c.maxChannels; n++ {
			if !c.open[n] {
				c.open[n] = true
				return &apdu.Response{Data: []byte{byte(n)}, SW1: 0x90, SW2: 0x00}
			}
		}
		return sw(apdu.SWFunctionNotSupported)
	case 0x80:
		// Close: the channel to close is P2 (or the issuing channel).
		n := int(cmd.P2)
		if n == 0 {
			n = channel
		}
		if n == 0 || !c.open[n] {
			return sw(apdu.SWIncorrectP1P2)
		}
		delete(c.open, n)
		delete(c.selected, n)
		return sw(apdu.SWSuccess)
	default:
		return sw(apdu.SWIncorrectP1P2)
	}
}

func (c *EmulatedCard) selectByAID(cmd *apdu.Command, channel int) *apdu.Response {
	key := hex.EncodeToString(cmd.Data)
	a, ok := c.applets[key]
	if !ok {
		return sw(apdu.SWFileNotFound)
	}
	c.selected[channel] = key
	return &apdu.Response{
		Data: append([]byte(nil), a.SelectResponse...),
		SW1:  0x90, SW2: 0x00,
	}
}

func (c *EmulatedCard) toApplet(cmd *apdu.Command, channel int) *apdu.Response {
	key, ok := c.selected[channel]
	if !ok {
		// Nothing selected; fall back to the default application.
		key = ""
	}
	a, ok := c.applets[key]
	if !ok || a.Process == nil {
		return sw(apdu.SWInsNotSupported)
	}
	return a.Process(cmd)
}

func (c *EmulatedCard) Reset() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if !c.present {
		return nil, ErrNotPresent
	}
	c.open = make(map[int]bool)
	c.selected = make(map[int]string)
	atr, _ := hex.DecodeString(c.atr)
	return atr, nil
}

func (c *EmulatedCard) IsPresent() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrClosed
	}
	return c.present, nil
}

func (c *EmulatedCard) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	return nil
}

func sw(word uint16) *apdu.Response {
	return &apdu.Response{SW1: byte(word >> 8), SW2: byte(word)}
}
