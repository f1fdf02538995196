package bertlv

import "errors"

var (
	ErrTruncated = errors.New("bertlv: data truncated inside a TLV")
	ErrBadTag    = errors.New("bertlv: unsupported tag encoding")
	ErrBadLength = errors.New("bertlv: unsupported or malformed length encoding")
)
