package node

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/itohio/telenode/pkg/metrics"
	"github.com/itohio/telenode/pkg/radio"
)

// LinkQuality summarizes radio events seen so far.
type LinkQuality struct {
	RSSI       int16
	SNR        int8
	TxDone     uint64
	TxTimeouts uint64
	RxDone     uint64
	RxTimeouts uint64
}

// link is the only node state written from radio callbacks. Handlers store
// atomics and nothing else; collect folds them into logs and metrics on the
// polling goroutine.
type link struct {
	busy      atomic.Bool
	rssi      atomic.Int32
	snr       atomic.Int32
	txDone    atomic.Uint64
	txTimeout atomic.Uint64
	rxDone    atomic.Uint64
	rxTimeout atomic.Uint64

	seen    LinkQuality
	metrics *metrics.Node
}

func newLink(m *metrics.Node) *link {
	return &link{metrics: m}
}

func (l *link) events() radio.Events {
	return radio.Events{
		TxDone: func() {
			l.txDone.Add(1)
			l.busy.Store(false)
		},
		TxTimeout: func() {
			l.txTimeout.Add(1)
			l.busy.Store(false)
		},
		RxDone: func(_ []byte, rssi int16, snr int8) {
			l.rssi.Store(int32(rssi))
			l.snr.Store(int32(snr))
			l.rxDone.Add(1)
		},
		RxTimeout: func() {
			l.rxTimeout.Add(1)
		},
	}
}

func (l *link) reset() {
	l.busy.Store(false)
	l.rssi.Store(0)
	l.snr.Store(0)
	l.txDone.Store(0)
	l.txTimeout.Store(0)
	l.rxDone.Store(0)
	l.rxTimeout.Store(0)
	l.seen = LinkQuality{}
}

func (l *link) snapshot() LinkQuality {
	return LinkQuality{
		RSSI:       int16(l.rssi.Load()),
		SNR:        int8(l.snr.Load()),
		TxDone:     l.txDone.Load(),
		TxTimeouts: l.txTimeout.Load(),
		RxDone:     l.rxDone.Load(),
		RxTimeouts: l.rxTimeout.Load(),
	}
}

func (l *link) collect(log *zap.Logger) {
	cur := l.snapshot()
	prev := l.seen
	l.seen = cur

	if d := cur.TxTimeouts - prev.TxTimeouts; d > 0 {
		log.Warn("transmit timed out", zap.Uint64("count", d), zap.Uint64("total", cur.TxTimeouts))
	}
	if cur.RxDone != prev.RxDone {
		log.Debug("link quality", zap.Int16("rssi", cur.RSSI), zap.Int8("snr", cur.SNR))
	}

	if l.metrics == nil {
		return
	}
	l.metrics.TxEvents.WithLabelValues("tx_done").Add(float64(cur.TxDone - prev.TxDone))
	l.metrics.TxEvents.WithLabelValues("tx_timeout").Add(float64(cur.TxTimeouts - prev.TxTimeouts))
	l.metrics.TxEvents.WithLabelValues("rx_done").Add(float64(cur.RxDone - prev.RxDone))
	l.metrics.TxEvents.WithLabelValues("rx_timeout").Add(float64(cur.RxTimeouts - prev.RxTimeouts))
	if cur.RxDone > 0 {
		l.metrics.RSSI.Set(float64(cur.RSSI))
		l.metrics.SNR.Set(float64(cur.SNR))
	}
}
