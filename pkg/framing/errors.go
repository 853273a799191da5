package framing

import "errors"

var (
	ErrPayloadTooLong  = errors.New("payload exceeds frame capacity")
	ErrShortFrame      = errors.New("frame too short")
	ErrNoMarker        = errors.New("frame does not start with marker")
	ErrStrayMarker     = errors.New("unescaped marker inside frame")
	ErrTruncatedEscape = errors.New("frame ends inside an escape sequence")
	ErrLength          = errors.New("frame length mismatch")
	ErrCRC             = errors.New("frame crc mismatch")
)
