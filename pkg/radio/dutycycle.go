package radio

import (
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/itohio/telenode/pkg/framing"
	"github.com/itohio/telenode/pkg/subsystem"
)

const (
	// DefaultDutyCycleBurst is used when no burst is configured.
	DefaultDutyCycleBurst = 256
	// MinDutyCycleBurst is the largest escaped frame. A smaller bucket
	// could never admit a worst-case frame.
	MinDutyCycleBurst = framing.MaxFrameLen
)

// DutyCycle limits the airtime a Sink may use with a byte-rate token bucket.
// A frame that does not fit the current budget is refused with ErrDutyCycle
// and may be retried on a later poll.
type DutyCycle struct {
	Sink

	limiter  *rate.Limiter
	now      func() time.Time
	allowed  atomic.Int64
	rejected atomic.Int64
}

// NewDutyCycle wraps sink. bytesPerSecond <= 0 disables limiting. A burst
// below MinDutyCycleBurst is raised to it.
func NewDutyCycle(sink Sink, bytesPerSecond, burst int) *DutyCycle {
	limit := rate.Inf
	if bytesPerSecond > 0 {
		limit = rate.Limit(bytesPerSecond)
	}
	switch {
	case burst <= 0:
		burst = DefaultDutyCycleBurst
	case burst < MinDutyCycleBurst:
		burst = MinDutyCycleBurst
	}
	return &DutyCycle{
		Sink:    sink,
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
}

// Transmit forwards data when the budget allows it.
func (d *DutyCycle) Transmit(data []byte) error {
	now := d.now()
	r := d.limiter.ReserveN(now, len(data))
	if !r.OK() || r.DelayFrom(now) > 0 {
		r.CancelAt(now)
		d.rejected.Add(1)
		return fmt.Errorf("%w: %d bytes", ErrDutyCycle, len(data))
	}
	if err := d.Sink.Transmit(data); err != nil {
		r.CancelAt(now)
		return err
	}
	d.allowed.Add(1)
	return nil
}

// Setup forwards to the wrapped sink when it is a subsystem.
func (d *DutyCycle) Setup() error {
	if s, ok := d.Sink.(subsystem.Subsystem); ok {
		return s.Setup()
	}
	return nil
}

// Run forwards to the wrapped sink when it is a subsystem.
func (d *DutyCycle) Run(dt time.Duration) {
	if s, ok := d.Sink.(subsystem.Subsystem); ok {
		s.Run(dt)
	}
}

// Allowed returns the number of frames passed to the wrapped sink.
func (d *DutyCycle) Allowed() int64 { return d.allowed.Load() }

// Rejected returns the number of frames refused for lack of budget.
func (d *DutyCycle) Rejected() int64 { return d.rejected.Load() }
