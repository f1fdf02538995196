package cardlink

import (
	"sync"

	"github.com/openmobile/omapi/pkg/apdu"
)

// NewFileSystemApplet builds an applet emulating a card file system:
// SELECT by file identifier and READ BINARY over the selected
// transparent EF. Install it as the default application to emulate a
// UICC whose rule file is reachable on the basic channel.
func NewFileSystemApplet(files map[uint16][]byte) *Applet {
	fs := &fsState{files: files}
	return &Applet{Process: fs.process}
}

type fsState struct {
	mu       sync.Mutex
	files    map[uint16][]byte
	selected uint16
	hasFile  bool
}

func (s *fsState) process(cmd *apdu.Command) *apdu.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd.Ins {
	case apdu.InsSelect:
		if len(cmd.Data) != 2 {
			return sw(apdu.SWWrongData)
		}
		fid := uint16(cmd.Data[0])<<8 | uint16(cmd.Data[1])
		if _, ok := s.files[fid]; !ok {
			return sw(apdu.SWFileNotFound)
		}
		s.selected = fid
		s.hasFile = true
		return sw(apdu.SWSuccess)

	case apdu.InsReadBinary:
		if !s.hasFile {
			return sw(apdu.SWConditionsNotMet)
		}
		content := s.files[s.selected]
		offset := int(cmd.P1&0x7F)<<8 | int(cmd.P2)
		if offset > len(content) {
			return sw(apdu.SWIncorrectP1P2)
		}
		n := cmd.Le
		if n <= 0 || offset+n > len(content) {
			n = len(content) - offset
		}
		return &apdu.Response{
			Data: append([]byte(nil), content[offset:offset+n]...),
			SW1:  0x90, SW2: 0x00,
		}

	default:
		return sw(apdu.SWInsNotSupported)
	}
}
