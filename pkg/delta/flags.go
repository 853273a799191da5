package delta

import "strings"

// Flag is the 32-bit flag word sent alongside every encoded payload. The bit
// positions are part of the wire contract.
type Flag uint32

// Narrow bits: the field's delta was written as a single byte.
// Present bits: the field (or source) is included; PresentEnv marks a full,
// non-delta payload.
// Neg bits: the field's value (full) or delta (delta mode) is negative.
const (
	NarrowGas         Flag = 1 << 0
	NarrowWind        Flag = 1 << 1
	NarrowBreathVOC   Flag = 1 << 2
	NarrowCO2         Flag = 1 << 3
	NarrowStaticIAQ   Flag = 1 << 4
	NarrowIAQ         Flag = 1 << 5
	NarrowPressure    Flag = 1 << 6
	NarrowHumidity    Flag = 1 << 7
	NarrowTemperature Flag = 1 << 8
	PresentBreathVOC  Flag = 1 << 9
	PresentCO2        Flag = 1 << 10
	PresentStaticIAQ  Flag = 1 << 11
	PresentEnv        Flag = 1 << 12
	PresentGas        Flag = 1 << 13
	PresentWind       Flag = 1 << 14
	PackedAnalog      Flag = 1 << 15
	NegGas            Flag = 1 << 16
	NegWind           Flag = 1 << 17
	NegBreathVOC      Flag = 1 << 18
	NegCO2            Flag = 1 << 19
	NegStaticIAQ      Flag = 1 << 20
	NegIAQ            Flag = 1 << 21
	NegPressure       Flag = 1 << 22
	NegHumidity       Flag = 1 << 23
	NegTemperature    Flag = 1 << 24
)

const (
	narrowMask  = NarrowGas | NarrowWind | NarrowBreathVOC | NarrowCO2 | NarrowStaticIAQ | NarrowIAQ | NarrowPressure | NarrowHumidity | NarrowTemperature
	presentMask = PresentBreathVOC | PresentCO2 | PresentStaticIAQ | PresentEnv | PresentGas | PresentWind
	negMask     = NegGas | NegWind | NegBreathVOC | NegCO2 | NegStaticIAQ | NegIAQ | NegPressure | NegHumidity | NegTemperature
	definedMask = narrowMask | presentMask | negMask | PackedAnalog
)

var flagNames = [...]string{
	"narrow-gas", "narrow-wind", "narrow-bvoc", "narrow-co2", "narrow-siaq",
	"narrow-iaq", "narrow-pres", "narrow-hum", "narrow-temp",
	"present-bvoc", "present-co2", "present-siaq", "present-env",
	"present-gas", "present-wind", "packed-analog",
	"neg-gas", "neg-wind", "neg-bvoc", "neg-co2", "neg-siaq",
	"neg-iaq", "neg-pres", "neg-hum", "neg-temp",
}

// Has reports whether every bit in bits is set.
func (f Flag) Has(bits Flag) bool { return f&bits == bits }

// Full reports whether the flags describe a full (non-delta) payload.
func (f Flag) Full() bool { return f&PresentEnv != 0 }

func (f Flag) String() string {
	if f == 0 {
		return "0"
	}
	var parts []string
	for i, name := range flagNames {
		if f&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if rest := f &^ definedMask; rest != 0 {
		parts = append(parts, "undefined")
	}
	return strings.Join(parts, "|")
}

// Mode selects how Encode treats a sample.
type Mode uint8

const (
	// SkipEnv, SkipGas and SkipWind mark a source as not sampled this cycle.
	// The skipped fields carry the reference forward (zero delta).
	SkipEnv Mode = 1 << iota
	SkipGas
	SkipWind
	// Full forces a full, non-delta encode and resets the streak.
	Full
)
