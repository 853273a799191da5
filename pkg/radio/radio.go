// Package radio defines the transmit side the node hands finished frames to,
// together with a UART modem, a stub for host tests and a duty-cycle gate.
package radio

import "errors"

var (
	ErrNotConnected = errors.New("radio not connected")
	ErrBusy         = errors.New("radio busy")
	ErrDutyCycle    = errors.New("duty cycle budget exhausted")
)

// Events are invoked from the radio's own context, possibly concurrently
// with the polling loop. Handlers must only record state; protocol work
// belongs to the next poll. Nil handlers are skipped.
type Events struct {
	TxDone    func()
	TxTimeout func()
	RxDone    func(payload []byte, rssi int16, snr int8)
	RxTimeout func()
}

func (e Events) txDone() {
	if e.TxDone != nil {
		e.TxDone()
	}
}

func (e Events) txTimeout() {
	if e.TxTimeout != nil {
		e.TxTimeout()
	}
}

func (e Events) rxDone(payload []byte, rssi int16, snr int8) {
	if e.RxDone != nil {
		e.RxDone(payload, rssi, snr)
	}
}

func (e Events) rxTimeout() {
	if e.RxTimeout != nil {
		e.RxTimeout()
	}
}

// Sink accepts one frame at a time. Transmit must not block on airtime:
// completion is reported through Events.
type Sink interface {
	Transmit(data []byte) error
	SetEvents(ev Events)
}

var (
	_ Sink = (*Stub)(nil)
	_ Sink = (*Serial)(nil)
	_ Sink = (*DutyCycle)(nil)
)
