package radio

import (
	"sync"

	"github.com/itohio/telenode/pkg/subsystem"
)

// Stub is an in-memory radio for host-side tests. With AutoComplete set
// every Transmit is acknowledged immediately; otherwise the test drives
// completion with Complete or Timeout.
type Stub struct {
	subsystem.NoRun

	AutoComplete bool

	mu     sync.Mutex
	events Events
	busy   bool
	sent   [][]byte
}

// NewStub returns a stub radio.
func NewStub(autoComplete bool) *Stub {
	return &Stub{AutoComplete: autoComplete}
}

// Setup clears the transmit log.
func (s *Stub) Setup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.sent = nil
	return nil
}

// SetEvents implements Sink.
func (s *Stub) SetEvents(ev Events) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = ev
}

// Transmit records a copy of data.
func (s *Stub) Transmit(data []byte) error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	s.sent = append(s.sent, frame)
	s.busy = true
	ev := s.events
	auto := s.AutoComplete
	if auto {
		s.busy = false
	}
	s.mu.Unlock()

	if auto {
		ev.txDone()
	}
	return nil
}

// Complete finishes the pending transmission.
func (s *Stub) Complete() { s.finish(Events.txDone) }

// Timeout fails the pending transmission.
func (s *Stub) Timeout() { s.finish(Events.txTimeout) }

func (s *Stub) finish(fire func(Events)) {
	s.mu.Lock()
	if !s.busy {
		s.mu.Unlock()
		return
	}
	s.busy = false
	ev := s.events
	s.mu.Unlock()
	fire(ev)
}

// Receive simulates an incoming packet.
func (s *Stub) Receive(payload []byte, rssi int16, snr int8) {
	s.mu.Lock()
	ev := s.events
	s.mu.Unlock()
	ev.rxDone(payload, rssi, snr)
}

// ReceiveTimeout simulates an empty receive window.
func (s *Stub) ReceiveTimeout() {
	s.mu.Lock()
	ev := s.events
	s.mu.Unlock()
	ev.rxTimeout()
}

// Busy reports whether a transmission is pending.
func (s *Stub) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Sent returns copies of every transmitted frame in order.
func (s *Stub) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	for i, f := range s.sent {
		out[i] = append([]byte(nil), f...)
	}
	return out
}
