// Package delta implements the stateful sample encoder and its inverse.
//
// Both sides keep one absolute reference sample. Every Encode and every
// successful Decode replaces the reference with the new absolute sample, in
// full and delta mode alike. A lost payload therefore desynchronizes the
// pair until the next full payload; nothing here detects that.
package delta

import (
	"encoding/binary"

	"github.com/itohio/telenode/pkg/sensor"
	"github.com/itohio/telenode/pkg/subsystem"
)

const (
	// MaxPayload bounds an encoded payload.
	MaxPayload = 36
	// FullPayloadLen is the size of every full payload.
	FullPayloadLen = 22

	analogMask = sensor.AnalogMax
	nibbleMask = 0x0F
)

// Status of an encode.
type Status uint8

const (
	StatusFailure Status = 0x00
	StatusOK      Status = 0x01
)

// Result is one encoded sample, consumed once by the queue and then framing.
type Result struct {
	Status Status
	Data   [MaxPayload]byte
	Flags  Flag
	Streak uint16
	Len    uint8
}

// Payload returns the encoded bytes.
func (r *Result) Payload() []byte { return r.Data[:r.Len] }

// Deltas holds the sign-magnitude deltas of the last delta encode.
type Deltas struct {
	Temperature uint16
	Humidity    uint16
	Pressure    uint32
	IAQ         uint16
	StaticIAQ   uint16
	CO2         uint16
	BreathVOC   uint16
	Gas         uint16
	Wind        uint16
}

// Encoder turns samples into full or delta payloads.
type Encoder struct {
	subsystem.NoRun

	ref    sensor.Sample
	last   Deltas
	streak uint16
}

// NewEncoder returns an encoder with a zeroed reference.
func NewEncoder() *Encoder { return &Encoder{} }

// Setup zeroes the reference, last deltas and streak.
func (e *Encoder) Setup() error {
	*e = Encoder{}
	return nil
}

// Reference returns the current absolute reference sample.
func (e *Encoder) Reference() sensor.Sample { return e.ref }

// LastDeltas returns the deltas computed by the last delta encode.
func (e *Encoder) LastDeltas() Deltas { return e.last }

// Streak returns the number of delta encodes since the last full encode.
func (e *Encoder) Streak() uint16 { return e.streak }

// Encode serializes s. With Full in mode every field is written at natural
// width; otherwise each numeric field is written as a sign-magnitude delta
// against the reference, narrowed to one byte when it fits.
func (e *Encoder) Encode(s sensor.Sample, mode Mode) Result {
	s = normalize(s)
	if mode&Full != 0 {
		return e.encodeFull(s)
	}

	if mode&SkipEnv != 0 {
		s.Env = e.ref.Env
	}
	if mode&SkipGas != 0 {
		s.Gas = e.ref.Gas
	}
	if mode&SkipWind != 0 {
		s.Wind = e.ref.Wind
	}

	var (
		flags Flag
		d     Deltas
		neg   bool
	)

	d.Temperature, neg = diffInt16(s.Env.Temperature, e.ref.Env.Temperature)
	flags |= when(neg, NegTemperature)
	d.Humidity, neg = diff16(s.Env.Humidity, e.ref.Env.Humidity)
	flags |= when(neg, NegHumidity)
	d.Pressure, neg = diff32(s.Env.Pressure, e.ref.Env.Pressure)
	flags |= when(neg, NegPressure)
	d.IAQ, neg = diff16(s.Env.IAQ, e.ref.Env.IAQ)
	flags |= when(neg, NegIAQ)
	d.StaticIAQ, neg = diff16(s.Env.StaticIAQ, e.ref.Env.StaticIAQ)
	flags |= when(neg, NegStaticIAQ)
	d.CO2, neg = diff16(s.Env.CO2, e.ref.Env.CO2)
	flags |= when(neg, NegCO2)
	d.BreathVOC, neg = diff16(s.Env.BreathVOC, e.ref.Env.BreathVOC)
	flags |= when(neg, NegBreathVOC)
	d.Gas, neg = diff16(s.Gas.Analog, e.ref.Gas.Analog)
	flags |= when(neg, NegGas)
	d.Wind, neg = diff16(s.Wind, e.ref.Wind)
	flags |= when(neg, NegWind)

	if mode&SkipEnv == 0 {
		flags |= PresentBreathVOC | PresentCO2 | PresentStaticIAQ
	}
	if mode&SkipGas == 0 {
		flags |= PresentGas
	}
	if mode&SkipWind == 0 {
		flags |= PresentWind
	}

	var r Result
	w := writer{buf: &r.Data}

	w.narrow16(d.Temperature, NarrowTemperature, &flags)
	w.narrow16(d.Humidity, NarrowHumidity, &flags)
	w.narrow32(d.Pressure, NarrowPressure, &flags)
	w.narrow16(d.IAQ, NarrowIAQ, &flags)
	w.u8(s.Env.Accuracy)
	w.narrow16(d.StaticIAQ, NarrowStaticIAQ, &flags)
	w.narrow16(d.CO2, NarrowCO2, &flags)
	w.narrow16(d.BreathVOC, NarrowBreathVOC, &flags)
	w.u8(s.Env.GasPercent)
	w.u8(packStatus(s.Env))

	if d.Gas&^nibbleMask == 0 && d.Wind&^nibbleMask == 0 {
		w.u8(uint8(d.Gas)<<4 | uint8(d.Wind))
		flags |= NarrowGas | NarrowWind | PackedAnalog
	} else {
		w.analogPair(d.Gas, d.Wind)
	}

	e.ref = s
	e.last = d
	e.streak++

	r.Status = StatusOK
	r.Flags = flags
	r.Streak = e.streak
	r.Len = uint8(w.n)
	return r
}

func (e *Encoder) encodeFull(s sensor.Sample) Result {
	flags := presentMask

	temp := int32(s.Env.Temperature)
	if temp < 0 {
		flags |= NegTemperature
		temp = -temp
	}

	var r Result
	w := writer{buf: &r.Data}

	w.u16(uint16(temp))
	w.u16(s.Env.Humidity)
	w.u32(s.Env.Pressure)
	w.u16(s.Env.IAQ)
	w.u8(s.Env.Accuracy)
	w.u16(s.Env.StaticIAQ)
	w.u16(s.Env.CO2)
	w.u16(s.Env.BreathVOC)
	w.u8(s.Env.GasPercent)
	w.u8(packStatus(s.Env))
	w.analogPair(s.Gas.Analog, s.Wind)

	e.ref = s
	e.streak = 0

	r.Status = StatusOK
	r.Flags = flags
	r.Streak = 0
	r.Len = uint8(w.n)
	return r
}

// normalize applies the truncations of the wire format so that encoder and
// decoder references stay identical: 12-bit analog readings, 4-bit status
// values, and no digital gas output.
func normalize(s sensor.Sample) sensor.Sample {
	s.Gas.Analog &= analogMask
	s.Gas.Digital = 0
	s.Wind &= analogMask
	s.Env.StabStatus &= nibbleMask
	s.Env.RunInStatus &= nibbleMask
	return s
}

func packStatus(env sensor.Environment) uint8 {
	return (env.StabStatus&nibbleMask)<<4 | env.RunInStatus&nibbleMask
}

func diffInt16(cur, ref int16) (uint16, bool) {
	d := int32(cur) - int32(ref)
	if d < 0 {
		return uint16(-d), true
	}
	return uint16(d), false
}

func diff16(cur, ref uint16) (uint16, bool) {
	if cur >= ref {
		return cur - ref, false
	}
	return ref - cur, true
}

func diff32(cur, ref uint32) (uint32, bool) {
	if cur >= ref {
		return cur - ref, false
	}
	return ref - cur, true
}

func when(cond bool, f Flag) Flag {
	if cond {
		return f
	}
	return 0
}

type writer struct {
	buf *[MaxPayload]byte
	n   int
}

func (w *writer) u8(v uint8) {
	w.buf[w.n] = v
	w.n++
}

func (w *writer) u16(v uint16) {
	binary.BigEndian.PutUint16(w.buf[w.n:], v)
	w.n += 2
}

func (w *writer) u32(v uint32) {
	binary.BigEndian.PutUint32(w.buf[w.n:], v)
	w.n += 4
}

func (w *writer) narrow16(v uint16, narrow Flag, flags *Flag) {
	if v&0xFF00 == 0 {
		w.u8(uint8(v))
		*flags |= narrow
		return
	}
	w.u16(v)
}

func (w *writer) narrow32(v uint32, narrow Flag, flags *Flag) {
	if v&0xFFFFFF00 == 0 {
		w.u8(uint8(v))
		*flags |= narrow
		return
	}
	w.u32(v)
}

// analogPair packs two 12-bit values into three bytes: gas in the high
// 12 bits, wind in the low 12 bits.
func (w *writer) analogPair(gas, wind uint16) {
	gas &= analogMask
	wind &= analogMask
	w.u8(uint8(gas >> 4))
	w.u8(uint8(gas&nibbleMask)<<4 | uint8(wind>>8))
	w.u8(uint8(wind))
}
