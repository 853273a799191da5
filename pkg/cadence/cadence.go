// Package cadence gates sampling and transmission with two independent
// phase-preserving accumulators.
package cadence

import "time"

const (
	DefaultSampleInterval   = time.Second
	DefaultTransmitInterval = 10 * time.Second
)

// Cadence accumulates elapsed time. When an accumulator reaches its
// interval the interval is subtracted, not reset, so late polls catch up
// without drifting.
type Cadence struct {
	sampleInterval   time.Duration
	transmitInterval time.Duration
	sampleAcc        time.Duration
	transmitAcc      time.Duration
}

// New returns a cadence with default intervals.
func New() *Cadence {
	c := &Cadence{}
	_ = c.Setup()
	return c
}

// Setup restores the default intervals and clears both accumulators.
func (c *Cadence) Setup() error {
	c.sampleInterval = DefaultSampleInterval
	c.transmitInterval = DefaultTransmitInterval
	c.Reset()
	return nil
}

// Run adds dt to both accumulators.
func (c *Cadence) Run(dt time.Duration) {
	if dt <= 0 {
		return
	}
	c.sampleAcc += dt
	c.transmitAcc += dt
}

// SetSampleInterval changes the sampling interval. Non-positive values are ignored.
func (c *Cadence) SetSampleInterval(d time.Duration) {
	if d > 0 {
		c.sampleInterval = d
	}
}

// SetTransmitInterval changes the transmit interval. Non-positive values are ignored.
func (c *Cadence) SetTransmitInterval(d time.Duration) {
	if d > 0 {
		c.transmitInterval = d
	}
}

// SampleInterval returns the current sampling interval.
func (c *Cadence) SampleInterval() time.Duration { return c.sampleInterval }

// TransmitInterval returns the current transmit interval.
func (c *Cadence) TransmitInterval() time.Duration { return c.transmitInterval }

// ShouldSample reports whether a sample is due and consumes one interval.
func (c *Cadence) ShouldSample() bool {
	return consume(&c.sampleAcc, c.sampleInterval)
}

// ShouldTransmit reports whether a transmission is due and consumes one interval.
func (c *Cadence) ShouldTransmit() bool {
	return consume(&c.transmitAcc, c.transmitInterval)
}

// Reset clears both accumulators.
func (c *Cadence) Reset() {
	c.sampleAcc = 0
	c.transmitAcc = 0
}

func consume(acc *time.Duration, interval time.Duration) bool {
	if *acc >= interval {
		*acc -= interval
		return true
	}
	return false
}
