package sensor

import (
	"time"

	"github.com/chewxy/math32"
)

// MockConfig parameterizes the simulated sensor.
type MockConfig struct {
	SampleRate      time.Duration // time between samples
	NoiseLevel      float32       // relative amplitude of the deterministic ripple
	BaseTemperature float32       // °C
}

// Mock simulates the acquisition subsystem for tests and bench runs.
// It is driven by Run like every other polled component and produces
// slowly drifting, fully deterministic readings.
type Mock struct {
	cfg MockConfig

	elapsed time.Duration
	acc     time.Duration
	latest  Sample
	fresh   bool
	count   int
}

// NewMock creates a mocked sensor source.
func NewMock(cfg MockConfig) *Mock {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = time.Second
	}
	if cfg.BaseTemperature == 0 {
		cfg.BaseTemperature = 21
	}
	return &Mock{cfg: cfg}
}

// Setup resets the simulation.
func (m *Mock) Setup() error {
	m.elapsed = 0
	m.acc = 0
	m.fresh = false
	m.count = 0
	return nil
}

// Run advances simulated time and produces a new sample when due.
func (m *Mock) Run(dt time.Duration) {
	m.elapsed += dt
	m.acc += dt
	for m.acc >= m.cfg.SampleRate {
		m.acc -= m.cfg.SampleRate
		m.latest = m.generate()
		m.fresh = true
		m.count++
	}
}

// HasNewSample implements Source.
func (m *Mock) HasNewSample() bool { return m.fresh }

// Sample implements Source.
func (m *Mock) Sample() Sample {
	m.fresh = false
	return m.latest
}

// Generated returns how many samples have been produced.
func (m *Mock) Generated() int { return m.count }

func (m *Mock) generate() Sample {
	t := float32(m.elapsed.Seconds())

	// Slow diurnal-like drift plus a small ripple.
	drift := math32.Sin(t / 600)
	ripple := (math32.Sin(t*1.3) + math32.Cos(t*0.7)) * 0.5 * m.cfg.NoiseLevel

	temp := m.cfg.BaseTemperature + 3*drift + ripple
	hum := 45 + 10*drift - ripple
	iaq := 50 + 25*(drift+1) + 10*ripple
	staticIAQ := iaq + 5
	co2 := 450 + 150*(drift+1)
	bvoc := 0.5 + 0.7*(drift+1)

	gas := 2048 + 800*math32.Sin(t/90) + 40*ripple
	wind := 1024 + 600*math32.Sin(t/45)

	accuracy := uint8(0)
	switch {
	case t > 1800:
		accuracy = 3
	case t > 600:
		accuracy = 2
	case t > 60:
		accuracy = 1
	}

	var stab, runIn uint8
	if t > 300 {
		stab = 1
	}
	if t > 1800 {
		runIn = 1
	}

	return Sample{
		Env: Environment{
			Temperature: int16(math32.Round(temp * 100)),
			Humidity:    uint16(math32.Round(hum * 100)),
			Pressure:    uint32(101325 + int32(math32.Round(150*drift))),
			IAQ:         uint16(math32.Round(iaq)),
			Accuracy:    accuracy,
			StaticIAQ:   uint16(math32.Round(staticIAQ)),
			CO2:         uint16(math32.Round(co2)),
			BreathVOC:   uint16(math32.Round(bvoc * 100)),
			GasPercent:  uint8(math32.Round(50 + 40*drift)),
			StabStatus:  stab,
			RunInStatus: runIn,
		},
		Gas: Gas{
			Analog:  clampAnalog(gas),
			Digital: boolToUint8(gas > 2600),
		},
		Wind: clampAnalog(wind),
	}
}

func clampAnalog(v float32) uint16 {
	if v < 0 {
		return 0
	}
	if v > AnalogMax {
		return AnalogMax
	}
	return uint16(math32.Round(v))
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
