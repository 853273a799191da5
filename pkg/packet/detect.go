package packet

// Kind identifies a legacy packet layout.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindEnvV1
	KindEnvV2
	KindAnalog
)

func (k Kind) String() string {
	switch k {
	case KindEnvV1:
		return "env-v1"
	case KindEnvV2:
		return "env-v2"
	case KindAnalog:
		return "analog"
	default:
		return "unknown"
	}
}

// Detect classifies buf by its version byte, type byte and size. It does
// not verify the CRC; decode the packet for that.
func Detect(buf []byte) (Kind, error) {
	if len(buf) == 0 {
		return KindUnknown, ErrShortBuffer
	}

	switch buf[0] {
	case VersionV1:
		if len(buf) < SizeV1 {
			return KindUnknown, ErrShortBuffer
		}
		return KindEnvV1, nil
	case VersionV2:
		if len(buf) < 2 {
			return KindUnknown, ErrShortBuffer
		}
		switch buf[1] {
		case TypeEnv:
			if len(buf) < SizeV2 {
				return KindUnknown, ErrShortBuffer
			}
			return KindEnvV2, nil
		case TypeAnalog:
			if len(buf) < SizeAnalog {
				return KindUnknown, ErrShortBuffer
			}
			return KindAnalog, nil
		}
		return KindUnknown, ErrType
	}
	return KindUnknown, ErrUnknown
}
