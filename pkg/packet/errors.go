package packet

import "errors"

var (
	ErrShortBuffer = errors.New("buffer shorter than packet size")
	ErrVersion     = errors.New("packet version mismatch")
	ErrType        = errors.New("packet type mismatch")
	ErrCRC         = errors.New("packet crc mismatch")
	ErrUnknown     = errors.New("unrecognized packet")
)
