package framing

import "encoding/binary"

// SplitFrames is a bufio.SplitFunc that extracts escaped frames from a byte
// stream. Bytes before a marker are discarded. A marker seen inside a frame
// abandons the partial frame and starts over at that marker; so does a
// header announcing a payload longer than the frame limit.
func SplitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := -1
	for i, b := range data {
		if b == Marker {
			start = i
			break
		}
	}
	if start < 0 {
		return len(data), nil, nil
	}

	var (
		hdr     [HeaderLen]byte
		n       = 1 // unescaped bytes seen, marker included
		want    = -1
		escaped bool
	)
	hdr[0] = Marker

	for i := start + 1; i < len(data); i++ {
		b := data[i]
		switch {
		case escaped:
			escaped = false
		case b == EscapeByte:
			escaped = true
			continue
		case b == Marker:
			return i, nil, nil
		}

		if n < HeaderLen {
			hdr[n] = b
		}
		n++

		if n == HeaderLen {
			length := int(binary.BigEndian.Uint16(hdr[8:]))
			if HeaderLen+length+CRCLen > MaxRawLen {
				return start + 1, nil, nil
			}
			want = HeaderLen + length + CRCLen
		}
		if want > 0 && n == want {
			return i + 1, data[start : i+1], nil
		}
	}

	if atEOF {
		return len(data), nil, nil
	}
	return start, nil, nil
}
