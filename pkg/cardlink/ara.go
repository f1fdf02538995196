package cardlink

import (
	"sync"

	"github.com/openmobile/omapi/pkg/apdu"
)

// GET DATA tags of the access rule application master
// (GlobalPlatform SEAC v1.1, Section 4.2).
const (
	araTagAll  = 0xFF40
	araTagNext = 0xFF60
)

// NewARAApplet builds an access-rule-authority applet serving blob
// through GET DATA [All] / GET DATA [Next]. A fragmentSize of 0 serves
// the whole blob in one response; otherwise responses are capped at
// fragmentSize bytes so tests can exercise the chaining path. After
// the last fragment, [Next] answers with an empty record.
func NewARAApplet(blob []byte, fragmentSize int) *Applet {
	state := &araState{blob: blob, fragment: fragmentSize}
	return &Applet{
		SelectResponse: []byte{0x6F, 0x00},
		Process:        state.process,
	}
}

type araState struct {
	mu       sync.Mutex
	blob     []byte
	fragment int
	cursor   int
}

func (s *araState) process(cmd *apdu.Command) *apdu.Response {
	if cmd.Cla&0x80 == 0 || cmd.Ins != apdu.InsGetData {
		return sw(apdu.SWInsNotSupported)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tag := uint16(cmd.P1)<<8 | uint16(cmd.P2)
	switch tag {
	case araTagAll:
		s.cursor = 0
	case araTagNext:
		// Continue from the previous fragment.
	default:
		return sw(apdu.SWIncorrectP1P2)
	}

	rest := s.blob[s.cursor:]
	if s.fragment > 0 && len(rest) > s.fragment {
		rest = rest[:s.fragment]
	}
	s.cursor += len(rest)

	return &apdu.Response{
		Data: append([]byte(nil), rest...),
		SW1:  0x90, SW2: 0x00,
	}
}
