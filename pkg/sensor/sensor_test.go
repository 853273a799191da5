package sensor

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Sample
		wantErr bool
	}{
		{
			name: "valid line",
			line: "20.50,45.00,101325,50,3,55,450,1.20,10,1,1,2048,0,1024",
			want: Sample{
				Env: Environment{
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
				Gas:  Gas{Analog: 2048},
				Wind: 1024,
			},
		},
		{
			name: "negative temperature and spaces",
			line: " -5.25, 80.5 ,99000,25,0,25,400,0.5,0,0,0,0,1,4095",
			want: Sample{
				Env: Environment{
					Temperature: -525,
					Humidity:    8050,
					Pressure:    99000,
					IAQ:         25,
					StaticIAQ:   25,
					CO2:         400,
					BreathVOC:   50,
				},
				Gas:  Gas{Analog: 0, Digital: 1},
				Wind: 4095,
			},
		},
		{
			name:    "invalid - too few fields",
			line:    "20.50,45.00,101325",
			wantErr: true,
		},
		{
			name:    "invalid - too many fields",
			line:    "20.50,45.00,101325,50,3,55,450,1.20,10,1,1,2048,0,1024,9",
			wantErr: true,
		},
		{
			name:    "invalid - non-numeric temperature",
			line:    "warm,45.00,101325,50,3,55,450,1.20,10,1,1,2048,0,1024",
			wantErr: true,
		},
		{
			name:    "invalid - temperature out of range",
			line:    "400,45.00,101325,50,3,55,450,1.20,10,1,1,2048,0,1024",
			wantErr: true,
		},
		{
			name:    "invalid - negative humidity",
			line:    "20.50,-1,101325,50,3,55,450,1.20,10,1,1,2048,0,1024",
			wantErr: true,
		},
		{
			name:    "invalid - gas analog out of range",
			line:    "20.50,45.00,101325,50,3,55,450,1.20,10,1,1,4096,0,1024",
			wantErr: true,
		},
		{
			name:    "invalid - wind analog out of range",
			line:    "20.50,45.00,101325,50,3,55,450,1.20,10,1,1,2048,0,5000",
			wantErr: true,
		},
		{
			name:    "invalid - accuracy overflow",
			line:    "20.50,45.00,101325,50,300,55,450,1.20,10,1,1,2048,0,1024",
			wantErr: true,
		},
		{
			name:    "invalid - NaN",
			line:    "NaN,45.00,101325,50,3,55,450,1.20,10,1,1,2048,0,1024",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnvironmentAccessors(t *testing.T) {
	env := Environment{Temperature: -525, Humidity: 4550, BreathVOC: 120, StabStatus: 1}
	assert.InDelta(t, -5.25, env.Celsius(), 1e-6)
	assert.InDelta(t, 45.5, env.RelativeHumidity(), 1e-6)
	assert.InDelta(t, 1.2, env.BreathVOCPPM(), 1e-6)
	assert.True(t, env.Stabilized())
	assert.False(t, env.RunInComplete())
}

func TestAverager(t *testing.T) {
	avg := NewAverager(3)

	s := Sample{Env: Environment{Temperature: 100}, Gas: Gas{Analog: 100}, Wind: 10}
	got := avg.Add(s)
	assert.Equal(t, uint16(100), got.Gas.Analog)

	s.Gas.Analog, s.Wind, s.Env.Temperature = 200, 11, 200
	got = avg.Add(s)
	assert.Equal(t, uint16(150), got.Gas.Analog)
	assert.Equal(t, uint16(11), got.Wind, "10.5 rounds up")
	assert.Equal(t, int16(200), got.Env.Temperature, "environment comes from the latest sample")

	s.Gas.Analog, s.Wind = 300, 12
	got = avg.Add(s)
	assert.Equal(t, uint16(200), got.Gas.Analog)
	assert.Equal(t, uint16(11), got.Wind)

	s.Gas.Analog, s.Wind = 400, 13
	got = avg.Add(s)
	assert.Equal(t, uint16(300), got.Gas.Analog, "oldest reading left the window")
	assert.Equal(t, uint16(12), got.Wind)

	avg.Reset()
	s.Gas.Analog = 7
	assert.Equal(t, uint16(7), avg.Add(s).Gas.Analog)
}

func TestAverager_Disabled(t *testing.T) {
	for _, window := range []int{-1, 0, 1} {
		avg := NewAverager(window)
		avg.Add(Sample{Gas: Gas{Analog: 1000}})
		got := avg.Add(Sample{Gas: Gas{Analog: 2000}})
		assert.Equal(t, uint16(2000), got.Gas.Analog)
	}
}

func TestNewSerial_Defaults(t *testing.T) {
	s := NewSerial("/dev/ttyACM0", 0, 0, nil)
	assert.Equal(t, DefaultBaudRate, s.baudRate)
	assert.False(t, s.IsConnected())
	assert.False(t, s.HasNewSample())
	require.NoError(t, s.Close())
}

func TestSerial_Reconnect(t *testing.T) {
	s := NewSerial("", 0, 0, nil)

	s.mu.Lock()
	first := s.attach(io.NopCloser(nil))
	s.mu.Unlock()
	assert.True(t, s.IsConnected())
	require.NoError(t, s.Close())
	assert.False(t, s.IsConnected())
	assert.Error(t, first.Err())

	s.mu.Lock()
	second := s.attach(io.NopCloser(nil))
	s.mu.Unlock()
	assert.True(t, s.IsConnected())
	assert.NoError(t, second.Err())

	// the reader of the new connection keeps publishing
	s.readLines(second, strings.NewReader("20.50,45.00,101325,50,3,55,450,1.20,10,1,1,2048,0,1024\n"))
	assert.True(t, s.HasNewSample())
	require.NoError(t, s.Close())
}

func TestSerial_ReadLines(t *testing.T) {
	s := NewSerial("", 0, 2, nil)

	input := strings.Join([]string{
		"20.50,45.00,101325,50,3,55,450,1.20,10,1,1,2000,0,1000",
		"",
		"garbage",
		"20.60,45.00,101325,50,3,55,450,1.20,10,1,1,2100,0,1001",
	}, "\n")
	s.readLines(context.Background(), strings.NewReader(input))

	require.True(t, s.HasNewSample())
	got := s.Sample()
	assert.False(t, s.HasNewSample())
	assert.Equal(t, int16(2060), got.Env.Temperature)
	assert.Equal(t, uint16(2050), got.Gas.Analog)
	assert.Equal(t, uint16(1001), got.Wind, "1000.5 rounds up")
}

func TestMock(t *testing.T) {
	m := NewMock(MockConfig{SampleRate: 100 * time.Millisecond, NoiseLevel: 0.5})
	require.NoError(t, m.Setup())
	assert.False(t, m.HasNewSample())

	m.Run(50 * time.Millisecond)
	assert.False(t, m.HasNewSample())

	m.Run(50 * time.Millisecond)
	require.True(t, m.HasNewSample())
	s := m.Sample()
	assert.False(t, m.HasNewSample())

	assert.InDelta(t, 21, s.Env.Celsius(), 4)
	assert.LessOrEqual(t, s.Gas.Analog, uint16(AnalogMax))
	assert.LessOrEqual(t, s.Wind, uint16(AnalogMax))
	assert.Equal(t, 1, m.Generated())

	// catching up produces every missed sample
	m.Run(time.Second)
	assert.Equal(t, 11, m.Generated())

	require.NoError(t, m.Setup())
	assert.Equal(t, 0, m.Generated())
}

func TestMock_Deterministic(t *testing.T) {
	a := NewMock(MockConfig{})
	b := NewMock(MockConfig{})
	for range 120 {
		a.Run(time.Second)
		b.Run(time.Second)
		require.Equal(t, a.Sample(), b.Sample())
	}
	assert.Equal(t, uint8(1), a.Sample().Env.Accuracy)
}
