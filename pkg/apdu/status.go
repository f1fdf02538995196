package apdu

// Status words relevant to channel management and application selection
// (ISO 7816-4 Table 6, GlobalPlatform Card Specification 11.1.3).
const (
	SWSuccess uint16 = 0x9000

	// Warning/error families checked by helpers below.
	SWFileNotFound          uint16 = 0x6A82
	SWRecordNotFound        uint16 = 0x6A83
	SWIncorrectP1P2         uint16 = 0x6A86
	SWFunctionNotSupported  uint16 = 0x6A81
	SWLogicalChannelNotSup  uint16 = 0x6881
	SWSecureMessagingNotSup uint16 = 0x6882
	SWInsNotSupported       uint16 = 0x6D00
	SWClaNotSupported       uint16 = 0x6E00
	SWConditionsNotMet      uint16 = 0x6985
	SWWrongData             uint16 = 0x6A80
)

// SWIsSuccess reports plain success (0x9000).
func SWIsSuccess(sw uint16) bool { return sw == SWSuccess }

// SWIsResponseAvailable reports the 0x61xx family: more response bytes
// can be fetched with GET RESPONSE, SW2 carrying the count.
func SWIsResponseAvailable(sw uint16) bool { return sw&0xFF00 == 0x6100 }

// SWIsWrongLength reports the 0x6Cxx family: retry with Le = SW2.
func SWIsWrongLength(sw uint16) bool { return sw&0xFF00 == 0x6C00 }

// SWIsApplicationNotFound reports status words a card returns when a
// SELECT names an applet that does not exist or cannot be selected.
func SWIsApplicationNotFound(sw uint16) bool {
	switch sw {
	case SWFileNotFound, SWRecordNotFound, SWIncorrectP1P2, SWWrongData:
		return true
	}
	return false
}

// SWIsNoChannelAvailable reports status words a card returns from
// MANAGE CHANNEL open when no logical channel can be allocated.
func SWIsNoChannelAvailable(sw uint16) bool {
	switch sw {
	case SWFunctionNotSupported, SWLogicalChannelNotSup,
		SWInsNotSupported, SWClaNotSupported, SWConditionsNotMet:
		return true
	}
	return false
}
