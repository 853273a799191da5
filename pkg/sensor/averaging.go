package sensor

// Averager smooths the 12-bit analog readings of consecutive samples with a
// moving average over the last N readings. Environmental fields pass through
// from the most recent sample.
type Averager struct {
	window int
	buffer []Sample
}

// NewAverager creates an averager over windowSize samples. A window of one
// or less disables averaging.
func NewAverager(windowSize int) *Averager {
	if windowSize <= 0 {
		windowSize = 1
	}
	return &Averager{
		window: windowSize,
		buffer: make([]Sample, 0, windowSize),
	}
}

// Add pushes a sample into the window and returns the averaged snapshot.
func (a *Averager) Add(s Sample) Sample {
	if a.window == 1 {
		return s
	}

	a.buffer = append(a.buffer, s)
	if len(a.buffer) > a.window {
		a.buffer = a.buffer[1:] // Remove oldest
	}
	return averageSamples(a.buffer)
}

// Reset drops all buffered readings.
func (a *Averager) Reset() {
	a.buffer = a.buffer[:0]
}

// averageSamples averages the analog channels and keeps the rest of the
// most recent sample.
func averageSamples(samples []Sample) Sample {
	if len(samples) == 0 {
		return Sample{}
	}

	var sumGas, sumWind uint32
	last := samples[len(samples)-1]

	for _, s := range samples {
		sumGas += uint32(s.Gas.Analog)
		sumWind += uint32(s.Wind)
	}

	n := uint32(len(samples))
	out := last
	out.Gas.Analog = uint16((sumGas + n/2) / n) // Round to nearest
	out.Wind = uint16((sumWind + n/2) / n)
	return out
}
