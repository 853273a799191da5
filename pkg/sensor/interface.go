package sensor

// Source produces one Sample per acquisition cycle.
type Source interface {
	// HasNewSample reports whether a sample arrived since the last call to Sample.
	HasNewSample() bool
	// Sample returns the latest sample and clears the new-sample flag.
	Sample() Sample
}

var _ Source = (*Serial)(nil)

var _ Source = (*Mock)(nil)
