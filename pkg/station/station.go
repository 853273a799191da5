// Package station is the receive side: it turns radio datagrams back into
// samples, keeping one decoder per transmitting device.
package station

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/itohio/telenode/pkg/delta"
	"github.com/itohio/telenode/pkg/framing"
	"github.com/itohio/telenode/pkg/metrics"
	"github.com/itohio/telenode/pkg/packet"
	"github.com/itohio/telenode/pkg/sensor"
)

// restartThreshold separates forward gaps from sequence restarts.
const restartThreshold = 0x8000

// ErrEmpty is returned for a zero-length datagram.
var ErrEmpty = errors.New("empty datagram")

// Kind tells which wire format a reading arrived in.
type Kind int

const (
	KindFrame Kind = iota
	KindLegacyEnv
	KindLegacyAnalog
)

func (k Kind) String() string {
	switch k {
	case KindFrame:
		return "frame"
	case KindLegacyEnv:
		return "legacy-env"
	case KindLegacyAnalog:
		return "legacy-analog"
	}
	return "unknown"
}

// Reading is one decoded sample.
type Reading struct {
	Kind     Kind
	DeviceID uint16
	Sequence uint16
	Flags    delta.Flag // frames only
	Uptime   uint32     // legacy packets only, seconds
	Sample   sensor.Sample
	// Full is set for frames carrying a full encode.
	Full bool
	// Suspect is set when the decoder reference may be stale: a frame was
	// missed or failed to decode since the last full frame.
	Suspect bool
}

// HasEnv reports whether the environmental block is meaningful.
func (r Reading) HasEnv() bool { return r.Kind != KindLegacyAnalog }

// HasAnalog reports whether gas and wind readings are meaningful.
func (r Reading) HasAnalog() bool { return r.Kind != KindLegacyEnv }

// DeviceState is a snapshot of one device's receive state.
type DeviceState struct {
	DeviceID uint8
	Next     uint16
	Synced   bool
	Frames   uint64
	Lost     uint64
}

type device struct {
	dec    *delta.Decoder
	next   uint16
	seen   bool
	synced bool
	frames uint64
	lost   uint64
	label  string
}

// Station decodes datagrams. It is safe for concurrent use.
type Station struct {
	log     *zap.Logger
	metrics *metrics.Station

	mu      sync.Mutex
	devices map[uint8]*device
}

// New creates a station. log and m may be nil.
func New(log *zap.Logger, m *metrics.Station) *Station {
	if log == nil {
		log = zap.NewNop()
	}
	return &Station{
		log:     log,
		metrics: m,
		devices: make(map[uint8]*device),
	}
}

// Handle decodes one datagram. Datagrams starting with the frame marker are
// parsed as frames; anything else is tried as a legacy packet.
func (s *Station) Handle(datagram []byte) (Reading, error) {
	if len(datagram) == 0 {
		return Reading{}, ErrEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		r   Reading
		err error
	)
	if datagram[0] == framing.Marker {
		r, err = s.handleFrame(datagram)
	} else {
		r, err = s.handleLegacy(datagram)
	}
	if err != nil {
		return Reading{}, err
	}
	s.observe(r)
	return r, nil
}

func (s *Station) handleFrame(raw []byte) (Reading, error) {
	f, err := framing.Parse(raw)
	if err != nil {
		s.decodeError("frame", err)
		return Reading{}, fmt.Errorf("parse frame: %w", err)
	}

	dev := s.device(f.DeviceID)
	if dev.seen && f.Sequence != dev.next {
		dev.synced = false
		if s.metrics != nil {
			s.metrics.Gaps.WithLabelValues(dev.label).Inc()
		}

		// a jump backwards is a restarted node, not half the sequence space lost
		if lost := f.Sequence - dev.next; lost < restartThreshold {
			dev.lost += uint64(lost)
			s.log.Warn("sequence gap",
				zap.Uint8("device_id", f.DeviceID),
				zap.Uint16("expected", dev.next),
				zap.Uint16("got", f.Sequence),
				zap.Uint16("lost", lost),
			)
			if s.metrics != nil {
				s.metrics.Lost.WithLabelValues(dev.label).Add(float64(lost))
			}
		} else {
			s.log.Info("sequence restarted",
				zap.Uint8("device_id", f.DeviceID),
				zap.Uint16("expected", dev.next),
				zap.Uint16("got", f.Sequence),
			)
		}
	}
	dev.seen = true
	dev.next = f.Sequence + 1

	sample, err := dev.dec.Decode(f.Flags, f.Payload)
	if err != nil {
		dev.synced = false
		s.decodeError("payload", err)
		return Reading{}, fmt.Errorf("device %d seq %d: %w", f.DeviceID, f.Sequence, err)
	}

	full := f.Flags.Full()
	if full {
		dev.synced = true
	}
	dev.frames++

	r := Reading{
		Kind:     KindFrame,
		DeviceID: uint16(f.DeviceID),
		Sequence: f.Sequence,
		Flags:    f.Flags,
		Sample:   sample,
		Full:     full,
		Suspect:  !dev.synced,
	}
	if s.metrics != nil {
		s.metrics.Frames.WithLabelValues(dev.label).Inc()
		if r.Suspect {
			s.metrics.Suspect.WithLabelValues(dev.label).Inc()
		}
	}
	return r, nil
}

func (s *Station) handleLegacy(raw []byte) (Reading, error) {
	kind, err := packet.Detect(raw)
	if err != nil {
		s.decodeError("legacy", err)
		return Reading{}, fmt.Errorf("detect packet: %w", err)
	}

	var r Reading
	switch kind {
	case packet.KindEnvV1, packet.KindEnvV2:
		format := packet.FormatV1
		if kind == packet.KindEnvV2 {
			format = packet.FormatV2
		}
		var p packet.Packet
		p.Init(0, format)
		if err := p.Decode(raw); err != nil {
			s.decodeError("legacy", err)
			return Reading{}, fmt.Errorf("decode %s packet: %w", kind, err)
		}
		r = Reading{
			Kind:     KindLegacyEnv,
			DeviceID: p.DeviceID,
			Sequence: p.Sequence,
			Uptime:   p.Uptime,
			Sample:   sensor.Sample{Env: p.Env},
		}
	case packet.KindAnalog:
		var p packet.AnalogPacket
		if err := p.Decode(raw); err != nil {
			s.decodeError("legacy", err)
			return Reading{}, fmt.Errorf("decode %s packet: %w", kind, err)
		}
		r = Reading{
			Kind:     KindLegacyAnalog,
			DeviceID: p.DeviceID,
			Sequence: p.Sequence,
			Uptime:   p.Uptime,
			Sample:   sensor.Sample{Gas: sensor.Gas{Analog: p.Gas}, Wind: p.Wind},
		}
	}

	if s.metrics != nil {
		s.metrics.Legacy.WithLabelValues(kind.String()).Inc()
	}
	return r, nil
}

func (s *Station) device(id uint8) *device {
	dev, ok := s.devices[id]
	if !ok {
		dev = &device{dec: delta.NewDecoder(), label: strconv.Itoa(int(id))}
		s.devices[id] = dev
		s.log.Info("new device", zap.Uint8("device_id", id))
	}
	return dev
}

func (s *Station) decodeError(stage string, err error) {
	s.log.Debug("dropping datagram", zap.String("stage", stage), zap.Error(err))
	if s.metrics != nil {
		s.metrics.DecodeErrors.WithLabelValues(stage).Inc()
	}
}

func (s *Station) observe(r Reading) {
	fields := []zap.Field{
		zap.Stringer("kind", r.Kind),
		zap.Uint16("device_id", r.DeviceID),
		zap.Uint16("seq", r.Sequence),
	}
	if r.HasEnv() {
		fields = append(fields,
			zap.Float32("temperature", r.Sample.Env.Celsius()),
			zap.Float32("humidity", r.Sample.Env.RelativeHumidity()),
			zap.Uint32("pressure", r.Sample.Env.Pressure),
		)
	}
	if r.HasAnalog() {
		fields = append(fields, zap.Uint16("gas", r.Sample.Gas.Analog), zap.Uint16("wind", r.Sample.Wind))
	}
	if r.Suspect {
		fields = append(fields, zap.Bool("suspect", true))
	}
	s.log.Debug("reading", fields...)

	if s.metrics == nil {
		return
	}
	label := strconv.Itoa(int(r.DeviceID))
	if r.HasEnv() {
		s.metrics.Temperature.WithLabelValues(label).Set(float64(r.Sample.Env.Celsius()))
		s.metrics.Humidity.WithLabelValues(label).Set(float64(r.Sample.Env.RelativeHumidity()))
		s.metrics.Pressure.WithLabelValues(label).Set(float64(r.Sample.Env.Pressure))
		s.metrics.IAQ.WithLabelValues(label).Set(float64(r.Sample.Env.IAQ))
		s.metrics.CO2.WithLabelValues(label).Set(float64(r.Sample.Env.CO2))
	}
	if r.HasAnalog() {
		s.metrics.GasAnalog.WithLabelValues(label).Set(float64(r.Sample.Gas.Analog))
		s.metrics.WindAnalog.WithLabelValues(label).Set(float64(r.Sample.Wind))
	}
}

// Devices returns the receive state of every device seen so far.
func (s *Station) Devices() []DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]DeviceState, 0, len(s.devices))
	for id, dev := range s.devices {
		out = append(out, DeviceState{
			DeviceID: id,
			Next:     dev.next,
			Synced:   dev.synced,
			Frames:   dev.frames,
			Lost:     dev.lost,
		})
	}
	return out
}

// Run decodes every datagram from in and emits the readings. Datagrams that
// fail to decode are logged and skipped. The output is closed when in is.
func (s *Station) Run(in <-chan []byte, bufSize int) <-chan Reading {
	if bufSize <= 0 {
		bufSize = 100
	}
	out := make(chan Reading, bufSize)

	go func() {
		defer close(out)

		for datagram := range in {
			r, err := s.Handle(datagram)
			if err != nil {
				s.log.Warn("failed to decode datagram", zap.Int("len", len(datagram)), zap.Error(err))
				continue
			}

			select {
			case out <- r:
			case <-time.After(time.Second):
				s.log.Warn("reading channel full, dropping reading", zap.Uint16("device_id", r.DeviceID))
			}
		}
	}()

	return out
}
