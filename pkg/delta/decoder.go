package delta

import (
	"errors"
	"fmt"

	"github.com/itohio/telenode/pkg/sensor"
	"github.com/itohio/telenode/pkg/subsystem"
)

var (
	ErrShortPayload    = errors.New("payload shorter than its flags require")
	ErrTrailingPayload = errors.New("payload longer than its flags require")
	ErrInvalidFlags    = errors.New("invalid flag combination")
)

// Decoder reconstructs samples from payloads produced by Encoder.
type Decoder struct {
	subsystem.NoRun

	ref sensor.Sample
}

// NewDecoder returns a decoder with a zeroed reference.
func NewDecoder() *Decoder { return &Decoder{} }

// Setup zeroes the reference.
func (d *Decoder) Setup() error {
	d.ref = sensor.Sample{}
	return nil
}

// Reference returns the current absolute reference sample.
func (d *Decoder) Reference() sensor.Sample { return d.ref }

// DecodeResult decodes an encoder result directly.
func (d *Decoder) DecodeResult(r *Result) (sensor.Sample, error) {
	return d.Decode(r.Flags, r.Payload())
}

// Decode parses payload according to flags. On success the reconstructed
// sample becomes the new reference; on error the reference is unchanged.
func (d *Decoder) Decode(flags Flag, payload []byte) (sensor.Sample, error) {
	if err := validate(flags); err != nil {
		return sensor.Sample{}, err
	}

	var (
		s   sensor.Sample
		err error
	)
	r := reader{buf: payload}
	if flags.Full() {
		s = d.decodeFull(&r, flags)
	} else {
		s = d.decodeDelta(&r, flags)
	}

	switch {
	case r.short:
		err = ErrShortPayload
	case r.n != len(payload):
		err = ErrTrailingPayload
	}
	if err != nil {
		return sensor.Sample{}, fmt.Errorf("decode %s payload of %d bytes: %w", mode(flags), len(payload), err)
	}

	d.ref = s
	return s, nil
}

func (d *Decoder) decodeFull(r *reader, flags Flag) sensor.Sample {
	var s sensor.Sample

	temp := int32(r.u16())
	if flags&NegTemperature != 0 {
		temp = -temp
	}
	s.Env.Temperature = int16(temp)
	s.Env.Humidity = r.u16()
	s.Env.Pressure = r.u32()
	s.Env.IAQ = r.u16()
	s.Env.Accuracy = r.u8()
	s.Env.StaticIAQ = r.u16()
	s.Env.CO2 = r.u16()
	s.Env.BreathVOC = r.u16()
	s.Env.GasPercent = r.u8()
	s.Env.StabStatus, s.Env.RunInStatus = unpackStatus(r.u8())
	s.Gas.Analog, s.Wind = r.analogPair()

	return s
}

func (d *Decoder) decodeDelta(r *reader, flags Flag) sensor.Sample {
	ref := d.ref
	s := ref

	s.Env.Temperature = int16(apply16(uint16(ref.Env.Temperature), r.narrow16(flags, NarrowTemperature), flags, NegTemperature))
	s.Env.Humidity = apply16(ref.Env.Humidity, r.narrow16(flags, NarrowHumidity), flags, NegHumidity)

	pressure := r.narrow32(flags, NarrowPressure)
	if flags&NegPressure != 0 {
		s.Env.Pressure = ref.Env.Pressure - pressure
	} else {
		s.Env.Pressure = ref.Env.Pressure + pressure
	}

	s.Env.IAQ = apply16(ref.Env.IAQ, r.narrow16(flags, NarrowIAQ), flags, NegIAQ)
	s.Env.Accuracy = r.u8()
	s.Env.StaticIAQ = apply16(ref.Env.StaticIAQ, r.narrow16(flags, NarrowStaticIAQ), flags, NegStaticIAQ)
	s.Env.CO2 = apply16(ref.Env.CO2, r.narrow16(flags, NarrowCO2), flags, NegCO2)
	s.Env.BreathVOC = apply16(ref.Env.BreathVOC, r.narrow16(flags, NarrowBreathVOC), flags, NegBreathVOC)
	s.Env.GasPercent = r.u8()
	s.Env.StabStatus, s.Env.RunInStatus = unpackStatus(r.u8())

	var gas, wind uint16
	if flags&PackedAnalog != 0 {
		b := r.u8()
		gas, wind = uint16(b>>4), uint16(b&nibbleMask)
	} else {
		gas, wind = r.analogPair()
	}
	s.Gas.Analog = apply16(ref.Gas.Analog, gas, flags, NegGas) & analogMask
	s.Wind = apply16(ref.Wind, wind, flags, NegWind) & analogMask

	return s
}

// validate rejects flag words no encoder produces.
func validate(flags Flag) error {
	if flags&^definedMask != 0 {
		return fmt.Errorf("%w: undefined bits %#08x", ErrInvalidFlags, uint32(flags&^definedMask))
	}
	if flags.Full() {
		if flags&(narrowMask|PackedAnalog) != 0 {
			return fmt.Errorf("%w: narrow bits on a full payload", ErrInvalidFlags)
		}
		if flags&(negMask&^NegTemperature) != 0 {
			return fmt.Errorf("%w: sign bits on unsigned full fields", ErrInvalidFlags)
		}
		return nil
	}

	narrowGas := flags&NarrowGas != 0
	narrowWind := flags&NarrowWind != 0
	if narrowGas != narrowWind {
		return fmt.Errorf("%w: analog narrow bits disagree", ErrInvalidFlags)
	}
	if narrowGas != (flags&PackedAnalog != 0) {
		return fmt.Errorf("%w: packed analog bit disagrees with narrow bits", ErrInvalidFlags)
	}
	return nil
}

func mode(flags Flag) string {
	if flags.Full() {
		return "full"
	}
	return "delta"
}

func apply16(ref, mag uint16, flags, neg Flag) uint16 {
	if flags&neg != 0 {
		return ref - mag
	}
	return ref + mag
}

func unpackStatus(b uint8) (stab, runIn uint8) {
	return b >> 4 & nibbleMask, b & nibbleMask
}

// reader consumes a payload and remembers whether it ran short.
type reader struct {
	buf   []byte
	n     int
	short bool
}

func (r *reader) u8() uint8 {
	if r.n+1 > len(r.buf) {
		r.short = true
		return 0
	}
	v := r.buf[r.n]
	r.n++
	return v
}

func (r *reader) u16() uint16 {
	hi := r.u8()
	lo := r.u8()
	return uint16(hi)<<8 | uint16(lo)
}

func (r *reader) u32() uint32 {
	hi := r.u16()
	lo := r.u16()
	return uint32(hi)<<16 | uint32(lo)
}

func (r *reader) narrow16(flags, narrow Flag) uint16 {
	if flags&narrow != 0 {
		return uint16(r.u8())
	}
	return r.u16()
}

func (r *reader) narrow32(flags, narrow Flag) uint32 {
	if flags&narrow != 0 {
		return uint32(r.u8())
	}
	return r.u32()
}

func (r *reader) analogPair() (gas, wind uint16) {
	b0, b1, b2 := r.u8(), r.u8(), r.u8()
	gas = uint16(b0)<<4 | uint16(b1>>4)
	wind = uint16(b1&nibbleMask)<<8 | uint16(b2)
	return gas, wind
}
