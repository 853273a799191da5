package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/telenode/pkg/delta"
	"github.com/itohio/telenode/pkg/framing"
	"github.com/itohio/telenode/pkg/metrics"
	"github.com/itohio/telenode/pkg/packet"
	"github.com/itohio/telenode/pkg/radio"
	"github.com/itohio/telenode/pkg/sensor"
)

type scripted struct {
	next  sensor.Sample
	fresh bool
}

func (s *scripted) push(v sensor.Sample) { s.next, s.fresh = v, true }
func (s *scripted) HasNewSample() bool   { return s.fresh }
func (s *scripted) Sample() sensor.Sample {
	s.fresh = false
	return s.next
}

func sampleN(i int) sensor.Sample {
	return sensor.Sample{
		Env: sensor.Environment{
			Temperature: int16(2050 + 7*i),
			Humidity:    uint16(4500 - 30*i),
			Pressure:    uint32(101325 + 400*i),
			IAQ:         50,
			Accuracy:    3,
			StaticIAQ:   55,
			CO2:         uint16(450 + i),
			BreathVOC:   120,
			GasPercent:  10,
			StabStatus:  1,
			RunInStatus: 1,
		},
		Gas:  sensor.Gas{Analog: uint16(2048 + 3*i)},
		Wind: uint16(1024 + 100*i),
	}
}

func newTestNode(t *testing.T, cfg Config, sink radio.Sink) (*Node, *scripted) {
	t.Helper()
	src := &scripted{}
	if cfg.SampleInterval == 0 {
		cfg.SampleInterval = time.Second
	}
	n := New(cfg, src, sink, nil, nil)
	require.NoError(t, n.Setup())
	return n, src
}

func parseAll(t *testing.T, frames [][]byte) []framing.Frame {
	t.Helper()
	out := make([]framing.Frame, 0, len(frames))
	for _, raw := range frames {
		f, err := framing.Parse(raw)
		require.NoError(t, err)
		out = append(out, f)
	}
	return out
}

func TestNodeKeyframeThenDeltas(t *testing.T) {
	stub := radio.NewStub(true)
	n, src := newTestNode(t, Config{DeviceID: 4, TransmitInterval: 3 * time.Second}, stub)

	for i := range 10 {
		src.push(sampleN(i))
		n.Poll(time.Second)
	}

	frames := parseAll(t, stub.Sent())
	require.Len(t, frames, 8)

	dec := delta.NewDecoder()
	for i, f := range frames {
		assert.Equal(t, uint8(4), f.DeviceID)
		assert.Equal(t, uint16(i), f.Sequence)
		assert.Equal(t, i == 0, f.Flags.Full(), "frame %d", i)

		got, err := dec.Decode(f.Flags, f.Payload)
		require.NoError(t, err)
		assert.Equal(t, sampleN(i), got, "frame %d", i)
	}

	st := n.Stats()
	assert.Equal(t, uint64(10), st.Samples)
	assert.Equal(t, uint64(1), st.Keyframes)
	assert.Equal(t, uint64(8), st.Frames)
	assert.Equal(t, 2, st.QueueDepth)
	assert.Equal(t, uint64(8), st.Link.TxDone)
}

func TestNodeSkipsPollWithoutNewSample(t *testing.T) {
	stub := radio.NewStub(true)
	n, src := newTestNode(t, Config{TransmitInterval: time.Hour}, stub)

	src.push(sampleN(0))
	n.Poll(time.Second)
	n.Poll(time.Second)
	n.Poll(time.Second)
	assert.Equal(t, uint64(1), n.Stats().Samples)
	assert.Equal(t, 1, n.Stats().QueueDepth)
}

func TestNodeEvictionForcesKeyframe(t *testing.T) {
	stub := radio.NewStub(true)
	n, src := newTestNode(t, Config{QueueCapacity: 4, TransmitInterval: time.Hour}, stub)

	for i := range 6 {
		src.push(sampleN(i))
		n.Poll(time.Second)
	}
	st := n.Stats()
	assert.Equal(t, uint64(2), st.Evictions)
	assert.Equal(t, uint64(2), st.Keyframes)
	assert.Equal(t, 4, st.QueueDepth)

	n.Poll(time.Hour)
	for range 5 {
		n.Poll(0)
	}

	frames := parseAll(t, stub.Sent())
	require.Len(t, frames, 4)
	for i, f := range frames {
		assert.Equal(t, uint16(i+2), f.Sequence)
	}

	last := frames[3]
	require.True(t, last.Flags.Full())
	got, err := delta.NewDecoder().Decode(last.Flags, last.Payload)
	require.NoError(t, err)
	assert.Equal(t, sampleN(5), got)
}

func TestNodeKeyframeInterval(t *testing.T) {
	n, src := newTestNode(t, Config{KeyframeInterval: 3, TransmitInterval: time.Hour, QueueCapacity: 32}, radio.NewStub(true))
	for i := range 9 {
		src.push(sampleN(i))
		n.Poll(time.Second)
	}
	assert.Equal(t, uint64(3), n.Stats().Keyframes)
}

func TestNodeWaitsForBusyRadio(t *testing.T) {
	stub := radio.NewStub(false)
	n, src := newTestNode(t, Config{TransmitInterval: time.Second}, stub)

	for i := range 3 {
		src.push(sampleN(i))
		n.Poll(time.Second)
	}
	assert.Len(t, stub.Sent(), 1)

	stub.Complete()
	n.Poll(0)
	assert.Len(t, stub.Sent(), 2)

	stub.Timeout()
	n.Poll(0)
	assert.Len(t, stub.Sent(), 3)
	assert.Equal(t, uint64(1), n.Stats().Link.TxTimeouts)
	assert.Equal(t, uint64(0), n.Stats().TxErrors)
}

func TestNodeDutyCycleKeepsFramesQueued(t *testing.T) {
	stub := radio.NewStub(true)
	dc := radio.NewDutyCycle(stub, 1, radio.MinDutyCycleBurst)
	// leave room for the keyframe only
	require.NoError(t, dc.Transmit(make([]byte, radio.MinDutyCycleBurst-48)))
	n, src := newTestNode(t, Config{TransmitInterval: time.Second}, dc)

	src.push(sampleN(0))
	n.Poll(time.Second)
	src.push(sampleN(1))
	n.Poll(time.Second)

	assert.Len(t, stub.Sent(), 1)
	st := n.Stats()
	assert.Equal(t, uint64(1), st.Frames)
	assert.GreaterOrEqual(t, st.TxErrors, uint64(1))
	assert.Equal(t, 1, st.QueueDepth)
}

func TestNodeLinkQuality(t *testing.T) {
	stub := radio.NewStub(true)
	n, _ := newTestNode(t, Config{}, stub)

	stub.Receive([]byte{1, 2}, -97, -3)
	stub.ReceiveTimeout()
	stub.ReceiveTimeout()
	n.Poll(time.Millisecond)

	link := n.Stats().Link
	assert.Equal(t, int16(-97), link.RSSI)
	assert.Equal(t, int8(-3), link.SNR)
	assert.Equal(t, uint64(1), link.RxDone)
	assert.Equal(t, uint64(2), link.RxTimeouts)
}

func TestNodeLegacyV1(t *testing.T) {
	stub := radio.NewStub(true)
	n, src := newTestNode(t, Config{
		Protocol:         ProtocolLegacyV1,
		LegacyDeviceID:   0xBEEF,
		TransmitInterval: 2 * time.Second,
	}, stub)

	for i := range 4 {
		src.push(sampleN(i))
		n.Poll(time.Second)
	}

	sent := stub.Sent()
	require.Len(t, sent, 2)
	for i, raw := range sent {
		var p packet.Packet
		p.Init(0, packet.FormatV1)
		require.NoError(t, p.Decode(raw))
		assert.Equal(t, uint16(0xBEEF), p.DeviceID)
		assert.Equal(t, uint16(i), p.Sequence)
		assert.Equal(t, sampleN(2*i+1).Env, p.Env)
	}
}

func TestNodeLegacyV2(t *testing.T) {
	stub := radio.NewStub(true)
	n, src := newTestNode(t, Config{
		Protocol:         ProtocolLegacyV2,
		LegacyDeviceID:   7,
		TransmitInterval: 2 * time.Second,
	}, stub)

	for i := range 4 {
		src.push(sampleN(i))
		n.Poll(time.Second)
	}

	var kinds []packet.Kind
	for _, raw := range stub.Sent() {
		k, err := packet.Detect(raw)
		require.NoError(t, err)
		kinds = append(kinds, k)
	}
	assert.Equal(t, []packet.Kind{
		packet.KindAnalog,
		packet.KindAnalog, packet.KindEnvV2,
		packet.KindAnalog,
		packet.KindAnalog, packet.KindEnvV2,
	}, kinds)
}

func TestParseProtocol(t *testing.T) {
	tests := []struct {
		in      string
		want    Protocol
		wantErr bool
	}{
		{in: "", want: ProtocolFrame},
		{in: "frame", want: ProtocolFrame},
		{in: "v1", want: ProtocolLegacyV1},
		{in: "v2", want: ProtocolLegacyV2},
		{in: "v3", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProtocol(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNodeWithMockSensorAndMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	stub := radio.NewStub(true)
	mock := sensor.NewMock(sensor.MockConfig{SampleRate: time.Second, NoiseLevel: 0.2})
	n := New(Config{DeviceID: 1, TransmitInterval: 5 * time.Second}, mock, stub, nil, metrics.NewNode(reg))
	require.NoError(t, n.Setup())

	for range 300 {
		n.Poll(100 * time.Millisecond)
	}
	assert.Equal(t, 30*time.Second, n.Uptime())
	assert.Equal(t, 30, mock.Generated())

	dec := delta.NewDecoder()
	frames := parseAll(t, stub.Sent())
	require.NotEmpty(t, frames)
	for _, f := range frames {
		_, err := dec.Decode(f.Flags, f.Payload)
		require.NoError(t, err)
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() == "telenode_node_frames_sent_total" {
			found = true
			assert.Equal(t, float64(len(frames)), f.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)
}

func TestNodeRunStopsOnCancel(t *testing.T) {
	mock := sensor.NewMock(sensor.MockConfig{SampleRate: time.Millisecond})
	n := New(Config{PollInterval: time.Millisecond, SampleInterval: time.Millisecond}, mock, radio.NewStub(true), nil, nil)
	require.NoError(t, n.Setup())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, n.Run(ctx))
	assert.Positive(t, n.Stats().Samples)
}
