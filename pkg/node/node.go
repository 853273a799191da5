// Package node runs the sensor node's cooperative polling loop: sample,
// encode, queue, frame and hand frames to the radio.
package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/itohio/telenode/pkg/cadence"
	"github.com/itohio/telenode/pkg/delta"
	"github.com/itohio/telenode/pkg/framing"
	"github.com/itohio/telenode/pkg/metrics"
	"github.com/itohio/telenode/pkg/queue"
	"github.com/itohio/telenode/pkg/radio"
	"github.com/itohio/telenode/pkg/sensor"
	"github.com/itohio/telenode/pkg/subsystem"
)

// Protocol selects what the node puts on air.
type Protocol int

const (
	// ProtocolFrame sends delta encoded frames.
	ProtocolFrame Protocol = iota
	// ProtocolLegacyV1 sends untyped fixed-width environment packets.
	ProtocolLegacyV1
	// ProtocolLegacyV2 sends typed environment packets on the transmit tick
	// and analog packets on every sample tick.
	ProtocolLegacyV2
)

// ParseProtocol maps a config value to a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	switch s {
	case "", "frame":
		return ProtocolFrame, nil
	case "v1":
		return ProtocolLegacyV1, nil
	case "v2":
		return ProtocolLegacyV2, nil
	}
	return 0, fmt.Errorf("unknown protocol %q", s)
}

const DefaultPollInterval = 10 * time.Millisecond

// Config parameterizes a node.
type Config struct {
	DeviceID         uint8
	LegacyDeviceID   uint16
	Protocol         Protocol
	SampleInterval   time.Duration
	TransmitInterval time.Duration
	PollInterval     time.Duration
	// KeyframeInterval forces a full encode after that many delta encodes.
	// Zero only sends full frames at start and after evictions.
	KeyframeInterval int
	QueueCapacity    int
}

// Entry is one queued encoded sample. The sequence number is assigned at
// encode time so evictions show up as gaps at the receiver.
type Entry struct {
	Sequence uint16
	Result   delta.Result
}

// Stats is a snapshot of the node counters.
type Stats struct {
	Samples    uint64
	Keyframes  uint64
	Evictions  uint64
	Frames     uint64
	TxErrors   uint64
	QueueDepth int
	Link       LinkQuality
}

// Node owns every transmit-side component. It is driven by Poll from a
// single goroutine; only radio events touch it concurrently, through link.
type Node struct {
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Node

	source  sensor.Source
	sink    radio.Sink
	cadence *cadence.Cadence
	encoder *delta.Encoder
	framer  *framing.Framer
	queue   *queue.Ring[Entry]
	subs    subsystem.Group
	link    *link

	buf      framing.Buffer
	legacy   [64]byte
	seq      uint16
	keyframe bool
	draining bool
	uptime   time.Duration
	last     sensor.Sample
	haveLast bool

	samples, keyframes, frames, txErrors uint64
}

// New wires a node. log and m may be nil.
func New(cfg Config, source sensor.Source, sink radio.Sink, log *zap.Logger, m *metrics.Node) *Node {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	n := &Node{
		cfg:     cfg,
		log:     log,
		metrics: m,
		source:  source,
		sink:    sink,
		cadence: cadence.New(),
		encoder: delta.NewEncoder(),
		framer:  framing.NewFramer(cfg.DeviceID),
		queue:   queue.New[Entry](cfg.QueueCapacity),
		link:    newLink(m),
	}

	n.subs = subsystem.Group{n.cadence, n.encoder, n.framer}
	if s, ok := source.(subsystem.Subsystem); ok {
		n.subs = append(n.subs, s)
	}
	if s, ok := sink.(subsystem.Subsystem); ok {
		n.subs = append(n.subs, s)
	}
	return n
}

// Setup prepares every subsystem, applies the configured intervals and
// registers the radio event handlers.
func (n *Node) Setup() error {
	if err := n.subs.Setup(); err != nil {
		return err
	}
	n.cadence.SetSampleInterval(n.cfg.SampleInterval)
	n.cadence.SetTransmitInterval(n.cfg.TransmitInterval)
	n.queue.Clear()
	n.seq = 0
	n.keyframe = true
	n.draining = false
	n.uptime = 0
	n.haveLast = false
	n.link.reset()
	n.sink.SetEvents(n.link.events())

	n.log.Info("node ready",
		zap.Uint8("device_id", n.cfg.DeviceID),
		zap.Duration("sample_interval", n.cadence.SampleInterval()),
		zap.Duration("transmit_interval", n.cadence.TransmitInterval()),
		zap.Int("queue_capacity", n.queue.Cap()),
	)
	return nil
}

// Run polls the node every PollInterval until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.PollInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			n.Poll(now.Sub(last))
			last = now
		}
	}
}

// Poll advances every subsystem by dt and performs at most one sample and
// one transmit.
func (n *Node) Poll(dt time.Duration) {
	n.uptime += dt
	n.subs.Run(dt)
	n.link.collect(n.log)

	if n.cadence.ShouldSample() && n.source.HasNewSample() {
		s := n.source.Sample()
		n.last, n.haveLast = s, true
		n.samples++
		if n.metrics != nil {
			n.metrics.Samples.Inc()
		}
		switch n.cfg.Protocol {
		case ProtocolFrame:
			n.enqueue(s)
		case ProtocolLegacyV2:
			n.sendAnalog(s)
		}
	}

	if n.cadence.ShouldTransmit() {
		n.draining = true
	}
	if !n.draining || n.link.busy.Load() {
		return
	}

	switch n.cfg.Protocol {
	case ProtocolFrame:
		n.transmitNext()
	default:
		n.sendEnvironment()
		n.draining = false
	}
}

func (n *Node) enqueue(s sensor.Sample) {
	var mode delta.Mode
	if n.keyframe || (n.cfg.KeyframeInterval > 0 && int(n.encoder.Streak()) >= n.cfg.KeyframeInterval) {
		mode = delta.Full
	}

	res := n.encoder.Encode(s, mode)
	if mode&delta.Full != 0 {
		n.keyframe = false
		n.keyframes++
		if n.metrics != nil {
			n.metrics.Keyframes.Inc()
		}
	}

	evicted := n.queue.Push(Entry{Sequence: n.seq, Result: res})
	n.seq++
	if evicted {
		// the receiver cannot rebuild the next delta without the dropped one
		n.keyframe = true
		n.log.Warn("queue full, dropped oldest sample", zap.Uint64("evicted", n.queue.Evicted()))
		if n.metrics != nil {
			n.metrics.Evictions.Inc()
		}
	}
	if n.metrics != nil {
		n.metrics.QueueDepth.Set(float64(n.queue.Len()))
	}
}

func (n *Node) transmitNext() {
	e, ok := n.queue.Peek()
	if !ok {
		n.draining = false
		return
	}

	size, err := n.framer.Frame(&e.Result, e.Sequence, &n.buf)
	if err != nil {
		// cannot happen for encoder output; drop rather than stall the queue
		n.log.Error("failed to frame sample", zap.Uint16("seq", e.Sequence), zap.Error(err))
		n.queue.Pop()
		return
	}
	if !n.send(n.buf[:size]) {
		return
	}

	n.queue.Pop()
	n.frames++
	if n.metrics != nil {
		n.metrics.Frames.Inc()
		n.metrics.FrameBytes.Add(float64(size))
		n.metrics.QueueDepth.Set(float64(n.queue.Len()))
	}
	n.log.Debug("frame sent",
		zap.Uint16("seq", e.Sequence),
		zap.Stringer("flags", e.Result.Flags),
		zap.Uint8("payload", e.Result.Len),
		zap.Int("size", size),
	)
}

// send hands data to the radio and reports whether it was accepted.
func (n *Node) send(data []byte) bool {
	n.link.busy.Store(true)
	err := n.sink.Transmit(data)
	if err == nil {
		return true
	}
	n.link.busy.Store(false)
	n.txErrors++

	reason := "other"
	switch {
	case errors.Is(err, radio.ErrDutyCycle):
		reason = "duty_cycle"
	case errors.Is(err, radio.ErrBusy):
		reason = "busy"
	case errors.Is(err, radio.ErrNotConnected):
		reason = "not_connected"
	}
	if n.metrics != nil {
		n.metrics.TxErrors.WithLabelValues(reason).Inc()
	}
	n.log.Debug("transmit refused", zap.String("reason", reason), zap.Error(err))
	return false
}

// Stats returns a snapshot of the node counters.
func (n *Node) Stats() Stats {
	return Stats{
		Samples:    n.samples,
		Keyframes:  n.keyframes,
		Evictions:  n.queue.Evicted(),
		Frames:     n.frames,
		TxErrors:   n.txErrors,
		QueueDepth: n.queue.Len(),
		Link:       n.link.snapshot(),
	}
}

// Uptime returns the time accumulated by Poll.
func (n *Node) Uptime() time.Duration { return n.uptime }

// uptimeSeconds is the wrapped uptime carried by legacy packets.
func (n *Node) uptimeSeconds() uint32 {
	return uint32(n.uptime / time.Second)
}
