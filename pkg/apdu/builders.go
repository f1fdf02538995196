package apdu

// Instruction bytes used by the terminal layer.
const (
	InsSelect        byte = 0xA4
	InsManageChannel byte = 0x70
	InsGetData       byte = 0xCA
	InsGetResponse   byte = 0xC0
	InsReadBinary    byte = 0xB0
	InsReadRecord    byte = 0xB2
	InsUpdateBinary  byte = 0xD6
	InsUpdateRecord  byte = 0xDC
	InsStatus        byte = 0xF2
)

// SelectByAID builds a SELECT [by DF name, first or only occurrence]
// command for the given applet identifier.
func SelectByAID(aid []byte) *Command {
	return &Command{
		Cla:            0x00,
		Ins:            InsSelect,
		P1:             0x04,
		P2:             0x00,
		Data:           append([]byte(nil), aid...),
		Le:             MaxShortLe,
		ExpectResponse: true,
	}
}

// SelectDefault builds a SELECT for the card's default application
// (empty DF name).
func SelectDefault() *Command {
	return &Command{
		Cla:            0x00,
		Ins:            InsSelect,
		P1:             0x04,
		P2:             0x00,
		Le:             MaxShortLe,
		ExpectResponse: true,
	}
}

// ManageChannelOpen builds MANAGE CHANNEL open, letting the card assign
// the channel number. The single response byte is the assigned number.
func ManageChannelOpen() *Command {
	return &Command{
		Cla:            0x00,
		Ins:            InsManageChannel,
		P1:             0x00,
		P2:             0x00,
		Le:             1,
		ExpectResponse: true,
	}
}

// ManageChannelClose builds MANAGE CHANNEL close for the given channel.
// The command is sent on the channel being closed, per ISO 7816-4.
func ManageChannelClose(channel int) *Command {
	return &Command{
		Cla: 0x00,
		Ins: InsManageChannel,
		P1:  0x80,
		P2:  byte(channel),
	}
}

// GetData builds the GlobalPlatform GET DATA command for a 2-byte tag.
func GetData(tag uint16) *Command {
	return &Command{
		Cla:            0x80,
		Ins:            InsGetData,
		P1:             byte(tag >> 8),
		P2:             byte(tag),
		Le:             MaxShortLe,
		ExpectResponse: true,
	}
}

// ReadBinary builds READ BINARY at the given offset (15-bit).
func ReadBinary(offset int, le int) *Command {
	return &Command{
		Cla:            0x00,
		Ins:            InsReadBinary,
		P1:             byte(offset >> 8 & 0x7F),
		P2:             byte(offset),
		Le:             le,
		ExpectResponse: true,
	}
}

// SelectFileID builds SELECT [by file identifier] for a 2-byte EF/DF id.
func SelectFileID(fid uint16) *Command {
	return &Command{
		Cla:            0x00,
		Ins:            InsSelect,
		P1:             0x00,
		P2:             0x04,
		Data:           []byte{byte(fid >> 8), byte(fid)},
		Le:             MaxShortLe,
		ExpectResponse: true,
	}
}
