package node

import (
	"go.uber.org/zap"

	"github.com/itohio/telenode/pkg/packet"
	"github.com/itohio/telenode/pkg/sensor"
)

// sendEnvironment transmits the latest sample as a fixed-width packet.
func (n *Node) sendEnvironment() {
	if !n.haveLast {
		return
	}

	format := packet.FormatV1
	if n.cfg.Protocol == ProtocolLegacyV2 {
		format = packet.FormatV2
	}
	p := packet.New(n.cfg.LegacyDeviceID, format)
	p.Populate(n.seq, n.uptimeSeconds(), n.last.Env)

	size, err := p.Encode(n.legacy[:])
	if err != nil {
		n.log.Error("failed to encode packet", zap.Error(err))
		return
	}
	n.sendLegacy(size, "environment")
}

// sendAnalog transmits the analog readings of s when the radio is idle.
func (n *Node) sendAnalog(s sensor.Sample) {
	if n.link.busy.Load() {
		return
	}

	p := packet.NewAnalog(n.cfg.LegacyDeviceID)
	p.Populate(n.seq, n.uptimeSeconds(), s.Gas.Analog, s.Wind)

	size, err := p.Encode(n.legacy[:])
	if err != nil {
		n.log.Error("failed to encode analog packet", zap.Error(err))
		return
	}
	n.sendLegacy(size, "analog")
}

func (n *Node) sendLegacy(size int, kind string) {
	if !n.send(n.legacy[:size]) {
		return
	}
	n.frames++
	if n.metrics != nil {
		n.metrics.Frames.Inc()
		n.metrics.FrameBytes.Add(float64(size))
	}
	n.log.Debug("packet sent", zap.String("kind", kind), zap.Uint16("seq", n.seq), zap.Int("size", size))
	n.seq++
}
