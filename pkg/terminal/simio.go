package terminal

import (
	"encoding/hex"
	"fmt"

	"github.com/openmobile/omapi/pkg/apdu"
	"github.com/openmobile/omapi/pkg/cardlink"
)

// simIOAllowedIns lists the instructions the low-level file path may
// carry. Everything else is rejected before transmission.
var simIOAllowedIns = map[byte]bool{
	apdu.InsReadBinary:   true,
	apdu.InsReadRecord:   true,
	apdu.InsUpdateBinary: true,
	apdu.InsUpdateRecord: true,
	apdu.InsSelect:       true,
	apdu.InsStatus:       true,
}

// SimIOExchange sends a raw file-level command to an elementary file.
// The command is validated in full before anything reaches the card: a
// malformed command, a disallowed instruction, a non-basic-channel
// class byte or a file id outside the configured allowlist all fail
// with ErrInvalidCommand and zero transmissions.
//
// filePath names the DF chain above the file as concatenated 2-byte
// hex identifiers ("3F007F20"); it may be empty when fileID is
// selectable from the current directory.
func (t *Terminal) SimIOExchange(fileID uint16, filePath string, raw []byte) ([]byte, error) {
	cmd, err := apdu.ParseCommand(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if !simIOAllowedIns[cmd.Ins] {
		return nil, fmt.Errorf("%w: instruction %02X not permitted on file path", ErrInvalidCommand, cmd.Ins)
	}
	if apdu.DecodeChannel(cmd.Cla) != apdu.BasicChannel {
		return nil, fmt.Errorf("%w: file commands run on the basic channel only", ErrInvalidCommand)
	}
	if !t.simIOFileAllowed(fileID) {
		return nil, fmt.Errorf("%w: file %04X outside permitted range", ErrInvalidCommand, fileID)
	}
	path, err := parseFilePath(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTerminalClosed
	}
	if err := t.requireCardLocked(); err != nil {
		return nil, err
	}

	for _, fid := range append(path, fileID) {
		resp, err := cardlink.Exchange(t.config.Link, apdu.SelectFileID(fid))
		if err != nil {
			return nil, t.mapLinkError(err)
		}
		if !resp.IsSuccess() {
			return nil, fmt.Errorf("%w: selecting file %04X returned %04X", ErrApplicationNotFound, fid, resp.SW())
		}
	}

	resp, err := cardlink.Exchange(t.config.Link, cmd)
	if err != nil {
		return nil, t.mapLinkError(err)
	}
	return resp.Bytes(), nil
}

func (t *Terminal) simIOFileAllowed(fileID uint16) bool {
	for _, r := range t.config.SimIOFiles {
		if fileID >= r.From && fileID <= r.To {
			return true
		}
	}
	return false
}

// parseFilePath splits a hex DF path into 2-byte file identifiers.
func parseFilePath(path string) ([]uint16, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(path)
	if err != nil {
		return nil, fmt.Errorf("file path is not hex: %v", err)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("file path length %d is not a sequence of 2-byte ids", len(raw))
	}
	fids := make([]uint16, 0, len(raw)/2)
	for i := 0; i < len(raw); i += 2 {
		fids = append(fids, uint16(raw[i])<<8|uint16(raw[i+1]))
	}
	return fids, nil
}
