package delta

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/telenode/pkg/sensor"
)

func exampleSample() sensor.Sample {
	return sensor.Sample{
		Env: sensor.Environment{
			Temperature: 2050,
			Humidity:    4500,
			Pressure:    101325,
			IAQ:         50,
			Accuracy:    3,
			StaticIAQ:   55,
			CO2:         450,
			BreathVOC:   120,
			GasPercent:  10,
			StabStatus:  1,
			RunInStatus: 1,
		},
		Gas:  sensor.Gas{Analog: 2048},
		Wind: 1024,
	}
}

func TestFullRoundTrip(t *testing.T) {
	s := exampleSample()

	enc := NewEncoder()
	res := enc.Encode(s, Full)

	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, uint8(FullPayloadLen), res.Len)
	assert.Equal(t, uint16(0), res.Streak)
	assert.True(t, res.Flags.Full())
	assert.True(t, res.Flags.Has(presentMask))

	assert.Equal(t, []byte{
		0x08, 0x02, // temperature
		0x11, 0x94, // humidity
		0x00, 0x01, 0x8B, 0xCD, // pressure
		0x00, 0x32, // iaq
		0x03,       // accuracy
		0x00, 0x37, // static iaq
		0x01, 0xC2, // co2
		0x00, 0x78, // breath voc
		0x0A,             // gas percentage
		0x11,             // stab | run-in
		0x80, 0x04, 0x00, // gas analog | wind
	}, res.Payload())

	dec := NewDecoder()
	got, err := dec.DecodeResult(&res)
	require.NoError(t, err)
	assert.Equal(t, s, got)
	assert.Equal(t, enc.Reference(), dec.Reference())
}

func TestFullNegativeTemperature(t *testing.T) {
	tests := []struct {
		name string
		temp int16
	}{
		{name: "slightly below zero", temp: -1},
		{name: "typical winter", temp: -1530},
		{name: "minimum", temp: -32768},
		{name: "maximum", temp: 32767},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := exampleSample()
			s.Env.Temperature = tt.temp

			res := NewEncoder().Encode(s, Full)
			assert.Equal(t, tt.temp < 0, res.Flags.Has(NegTemperature))

			got, err := NewDecoder().DecodeResult(&res)
			require.NoError(t, err)
			assert.Equal(t, tt.temp, got.Env.Temperature)
		})
	}
}

func TestFullTruncation(t *testing.T) {
	s := exampleSample()
	s.Gas.Analog = 0xFFFF
	s.Gas.Digital = 1
	s.Wind = 0x1234
	s.Env.StabStatus = 0x21
	s.Env.RunInStatus = 0x13

	res := NewEncoder().Encode(s, Full)
	got, err := NewDecoder().DecodeResult(&res)
	require.NoError(t, err)

	assert.Equal(t, uint16(0x0FFF), got.Gas.Analog)
	assert.Equal(t, uint8(0), got.Gas.Digital)
	assert.Equal(t, uint16(0x0234), got.Wind)
	assert.Equal(t, uint8(0x01), got.Env.StabStatus)
	assert.Equal(t, uint8(0x03), got.Env.RunInStatus)
}

func TestDeltaNarrow(t *testing.T) {
	enc := NewEncoder()
	enc.Encode(exampleSample(), Full)

	next := exampleSample()
	next.Env.Temperature -= 12
	next.Env.Humidity += 30
	next.Env.Pressure -= 7
	next.Gas.Analog += 3
	next.Wind -= 9

	res := enc.Encode(next, 0)
	assert.Equal(t, uint16(1), res.Streak)
	assert.False(t, res.Flags.Full())
	assert.True(t, res.Flags.Has(narrowMask|PackedAnalog))
	assert.True(t, res.Flags.Has(NegTemperature|NegPressure|NegWind))
	assert.False(t, res.Flags.Has(NegHumidity))
	assert.False(t, res.Flags.Has(NegGas))

	assert.Equal(t, []byte{
		12,   // temperature
		30,   // humidity
		7,    // pressure
		0,    // iaq
		3,    // accuracy
		0,    // static iaq
		0,    // co2
		0,    // breath voc
		10,   // gas percentage
		0x11, // status
		0x39, // gas 3 | wind 9
	}, res.Payload())

	d := enc.LastDeltas()
	assert.Equal(t, uint16(12), d.Temperature)
	assert.Equal(t, uint16(9), d.Wind)
}

func TestDeltaWide(t *testing.T) {
	enc := NewEncoder()
	enc.Encode(exampleSample(), Full)

	next := exampleSample()
	next.Env.Temperature = -2050 // delta 4100
	next.Env.Pressure = 90000    // delta 11325
	next.Gas.Analog = 100        // delta 1948
	next.Wind = 1030             // delta 6

	res := enc.Encode(next, 0)
	assert.False(t, res.Flags.Has(NarrowTemperature))
	assert.False(t, res.Flags.Has(NarrowPressure))
	assert.False(t, res.Flags.Has(NarrowGas))
	assert.False(t, res.Flags.Has(NarrowWind))
	assert.False(t, res.Flags.Has(PackedAnalog))
	assert.True(t, res.Flags.Has(NarrowHumidity|NarrowIAQ))

	// temp 2 + hum 1 + pres 4 + iaq 1 + acc 1 + siaq 1 + co2 1 + bvoc 1 + gas% 1 + status 1 + analog 3
	assert.Equal(t, uint8(17), res.Len)
}

func TestDeltaSequenceRoundTrip(t *testing.T) {
	base := exampleSample()
	steps := []func(s *sensor.Sample){
		func(s *sensor.Sample) {},
		func(s *sensor.Sample) { s.Env.Temperature += 3; s.Gas.Analog += 15; s.Wind -= 15 },
		func(s *sensor.Sample) { s.Env.Temperature = -32768; s.Env.Humidity = 0 },
		func(s *sensor.Sample) { s.Env.Temperature = 32767; s.Env.Humidity = 65535 },
		func(s *sensor.Sample) { s.Env.Pressure = 0xFFFFFFFF },
		func(s *sensor.Sample) { s.Env.Pressure = 0 },
		func(s *sensor.Sample) { s.Gas.Analog = 4095; s.Wind = 0 },
		func(s *sensor.Sample) { s.Gas.Analog = 0; s.Wind = 4095 },
		func(s *sensor.Sample) { s.Gas.Analog += 16; s.Wind -= 1 },
		func(s *sensor.Sample) { s.Env.IAQ = 500; s.Env.StaticIAQ = 1; s.Env.CO2 = 60000; s.Env.BreathVOC = 255 },
		func(s *sensor.Sample) { s.Env.Accuracy = 0; s.Env.GasPercent = 100; s.Env.StabStatus = 0; s.Env.RunInStatus = 15 },
	}

	enc := NewEncoder()
	dec := NewDecoder()
	s := base
	for i, step := range steps {
		step(&s)
		mode := Mode(0)
		if i == 0 {
			mode = Full
		}
		res := enc.Encode(s, mode)
		got, err := dec.DecodeResult(&res)
		require.NoError(t, err, "step %d flags %s", i, res.Flags)
		assert.Equal(t, s, got, "step %d", i)
		assert.Equal(t, enc.Reference(), dec.Reference(), "step %d", i)
		assert.Equal(t, uint16(i), res.Streak)
	}
}

func TestAnalogOverflowIsMasked(t *testing.T) {
	enc := NewEncoder()
	dec := NewDecoder()

	s := exampleSample()
	s.Wind = sensor.AnalogMax
	res := enc.Encode(s, Full)
	_, err := dec.DecodeResult(&res)
	require.NoError(t, err)

	s.Wind++
	s.Gas.Analog = 0x1000 | 5
	res = enc.Encode(s, 0)
	got, err := dec.DecodeResult(&res)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), got.Wind)
	assert.Equal(t, uint16(5), got.Gas.Analog)
	assert.Equal(t, enc.Reference(), dec.Reference())
}

func TestDeltaRandomWalk(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	enc := NewEncoder()
	dec := NewDecoder()

	// Starts from the zeroed reference, no initial full frame.
	var s sensor.Sample
	for i := range 2000 {
		s.Env.Temperature += int16(rng.IntN(601) - 300)
		s.Env.Humidity += uint16(rng.IntN(41) - 20)
		s.Env.Pressure += uint32(rng.IntN(2001) - 1000)
		s.Env.IAQ = uint16(rng.IntN(501))
		s.Env.Accuracy = uint8(rng.IntN(4))
		s.Env.StaticIAQ += uint16(rng.IntN(11) - 5)
		s.Env.CO2 = uint16(rng.IntN(5000))
		s.Env.BreathVOC += uint16(rng.IntN(9) - 4)
		s.Env.GasPercent = uint8(rng.IntN(101))
		s.Env.StabStatus = uint8(rng.IntN(2))
		s.Env.RunInStatus = uint8(rng.IntN(2))
		s.Gas.Analog = uint16(rng.IntN(4096))
		s.Wind = uint16(rng.IntN(4096))
		if rng.IntN(4) == 0 {
			s.Wind = (s.Wind &^ 0x0F) | uint16(rng.IntN(16))
		}

		mode := Mode(0)
		if rng.IntN(50) == 0 {
			mode = Full
		}
		res := enc.Encode(s, mode)
		require.LessOrEqual(t, int(res.Len), MaxPayload)

		got, err := dec.DecodeResult(&res)
		require.NoError(t, err, "step %d", i)
		require.Equal(t, s, got, "step %d", i)
	}
}

func TestStreak(t *testing.T) {
	enc := NewEncoder()
	s := exampleSample()

	assert.Equal(t, uint16(0), enc.Encode(s, Full).Streak)
	assert.Equal(t, uint16(1), enc.Encode(s, 0).Streak)
	assert.Equal(t, uint16(2), enc.Encode(s, 0).Streak)
	assert.Equal(t, uint16(2), enc.Streak())
	assert.Equal(t, uint16(0), enc.Encode(s, Full).Streak)
	assert.Equal(t, uint16(0), enc.Streak())
}

func TestSkipCarriesReferenceForward(t *testing.T) {
	enc := NewEncoder()
	dec := NewDecoder()

	first := exampleSample()
	res := enc.Encode(first, Full)
	_, err := dec.DecodeResult(&res)
	require.NoError(t, err)

	next := exampleSample()
	next.Env.Temperature = 3000
	next.Gas.Analog = 100
	next.Wind = 4000

	res = enc.Encode(next, SkipGas|SkipEnv)
	assert.False(t, res.Flags.Has(PresentGas))
	assert.True(t, res.Flags.Has(PresentWind))

	got, err := dec.DecodeResult(&res)
	require.NoError(t, err)
	assert.Equal(t, first.Env, got.Env)
	assert.Equal(t, first.Gas.Analog, got.Gas.Analog)
	assert.Equal(t, uint16(4000), got.Wind)
	assert.Equal(t, enc.Reference(), dec.Reference())
}

func TestLostFrameDesynchronizesUntilFull(t *testing.T) {
	enc := NewEncoder()
	dec := NewDecoder()

	s := exampleSample()
	res := enc.Encode(s, Full)
	_, err := dec.DecodeResult(&res)
	require.NoError(t, err)

	s.Env.Temperature += 40
	enc.Encode(s, 0) // lost on the link

	s.Env.Temperature += 10
	res = enc.Encode(s, 0)
	got, err := dec.DecodeResult(&res)
	require.NoError(t, err, "divergence is silent")
	assert.NotEqual(t, s.Env.Temperature, got.Env.Temperature)
	assert.Equal(t, exampleSample().Env.Temperature+10, got.Env.Temperature)

	res = enc.Encode(s, Full)
	got, err = dec.DecodeResult(&res)
	require.NoError(t, err)
	assert.Equal(t, s, got)
	assert.Equal(t, enc.Reference(), dec.Reference())
}

func TestDecodeInvalidFlags(t *testing.T) {
	tests := []struct {
		name  string
		flags Flag
	}{
		{name: "gas narrow without wind narrow", flags: NarrowGas | PackedAnalog},
		{name: "wind narrow without gas narrow", flags: NarrowWind},
		{name: "packed without narrow", flags: PackedAnalog},
		{name: "narrow pair without packed", flags: NarrowGas | NarrowWind},
		{name: "full with narrow bit", flags: presentMask | NarrowIAQ},
		{name: "full with packed bit", flags: presentMask | PackedAnalog},
		{name: "full with unsigned sign bit", flags: presentMask | NegCO2},
		{name: "undefined bit", flags: 1 << 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewDecoder()
			payload := make([]byte, FullPayloadLen)
			_, err := dec.Decode(tt.flags, payload)
			assert.ErrorIs(t, err, ErrInvalidFlags)
			assert.Equal(t, sensor.Sample{}, dec.Reference())
		})
	}
}

func TestDecodePayloadLength(t *testing.T) {
	enc := NewEncoder()
	dec := NewDecoder()

	full := enc.Encode(exampleSample(), Full)
	_, err := dec.DecodeResult(&full)
	require.NoError(t, err)
	ref := dec.Reference()

	next := exampleSample()
	next.Env.Humidity += 1
	res := enc.Encode(next, 0)

	_, err = dec.Decode(res.Flags, res.Payload()[:res.Len-1])
	assert.ErrorIs(t, err, ErrShortPayload)
	assert.Equal(t, ref, dec.Reference(), "reference untouched on error")

	_, err = dec.Decode(res.Flags, append(res.Payload(), 0x00))
	assert.ErrorIs(t, err, ErrTrailingPayload)
	assert.Equal(t, ref, dec.Reference())

	got, err := dec.DecodeResult(&res)
	require.NoError(t, err)
	assert.Equal(t, next, got)
}

func TestFlagString(t *testing.T) {
	assert.Equal(t, "0", Flag(0).String())
	assert.Equal(t, "narrow-gas|narrow-wind|packed-analog", (NarrowGas | NarrowWind | PackedAnalog).String())
	assert.Equal(t, "neg-temp|undefined", (NegTemperature | 1<<31).String())
}

func TestSetupResetsState(t *testing.T) {
	enc := NewEncoder()
	enc.Encode(exampleSample(), 0)
	require.NoError(t, enc.Setup())
	assert.Equal(t, sensor.Sample{}, enc.Reference())
	assert.Equal(t, uint16(0), enc.Streak())

	dec := NewDecoder()
	res := NewEncoder().Encode(exampleSample(), Full)
	_, err := dec.DecodeResult(&res)
	require.NoError(t, err)
	require.NoError(t, dec.Setup())
	assert.Equal(t, sensor.Sample{}, dec.Reference())
}
