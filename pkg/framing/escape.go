package framing

// AppendEscaped appends the byte-stuffed form of src to dst. The first byte
// of src is copied as is; every later marker or escape byte is prefixed with
// EscapeByte.
func AppendEscaped(dst, src []byte) []byte {
	if len(src) == 0 {
		return dst
	}
	dst = append(dst, src[0])
	for _, b := range src[1:] {
		if b == Marker || b == EscapeByte {
			dst = append(dst, EscapeByte)
		}
		dst = append(dst, b)
	}
	return dst
}

// Escape returns the byte-stuffed form of src.
func Escape(src []byte) []byte {
	return AppendEscaped(make([]byte, 0, 2*len(src)), src)
}

// Unescape reverses Escape. It fails on an unescaped marker after the first
// byte or on a trailing escape byte.
func Unescape(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, nil
	}
	dst := make([]byte, 1, len(src))
	dst[0] = src[0]
	for i := 1; i < len(src); i++ {
		switch src[i] {
		case EscapeByte:
			i++
			if i == len(src) {
				return nil, ErrTruncatedEscape
			}
		case Marker:
			return nil, ErrStrayMarker
		}
		dst = append(dst, src[i])
	}
	return dst, nil
}
