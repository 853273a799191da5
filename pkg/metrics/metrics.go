// Package metrics holds the prometheus collectors of the node and the
// base station.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "telenode"

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Node are the transmit-side metrics.
type Node struct {
	Samples    prometheus.Counter
	Keyframes  prometheus.Counter
	Evictions  prometheus.Counter
	Frames     prometheus.Counter
	FrameBytes prometheus.Counter
	TxErrors   *prometheus.CounterVec // labels: reason
	TxEvents   *prometheus.CounterVec // labels: event=tx_done|tx_timeout|rx_done|rx_timeout
	QueueDepth prometheus.Gauge
	RSSI       prometheus.Gauge
	SNR        prometheus.Gauge
}

// NewNode registers and returns the node metrics.
func NewNode(reg prometheus.Registerer) *Node {
	m := &Node{
		Samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "node",
			Name: "samples_total",
			Help: "Samples taken from the sensor source.",
		}),
		Keyframes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "node",
			Name: "keyframes_total",
			Help: "Samples encoded in full.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "node",
			Name: "queue_evictions_total",
			Help: "Encoded samples dropped because the queue was full.",
		}),
		Frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "node",
			Name: "frames_sent_total",
			Help: "Frames handed to the radio.",
		}),
		FrameBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "node",
			Name: "frame_bytes_sent_total",
			Help: "Escaped bytes handed to the radio.",
		}),
		TxErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "node",
			Name: "transmit_errors_total",
			Help: "Transmit attempts refused by the radio.",
		}, []string{"reason"}),
		TxEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "node",
			Name: "radio_events_total",
			Help: "Radio completion events.",
		}, []string{"event"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "node",
			Name: "queue_depth",
			Help: "Encoded samples waiting for transmission.",
		}),
		RSSI: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "node",
			Name: "rssi_dbm",
			Help: "Signal strength of the last received packet.",
		}),
		SNR: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "node",
			Name: "snr_db",
			Help: "Signal to noise ratio of the last received packet.",
		}),
	}
	reg.MustRegister(m.Samples, m.Keyframes, m.Evictions, m.Frames, m.FrameBytes,
		m.TxErrors, m.TxEvents, m.QueueDepth, m.RSSI, m.SNR)
	return m
}

// Station are the receive-side metrics.
type Station struct {
	Frames       *prometheus.CounterVec // labels: device
	Legacy       *prometheus.CounterVec // labels: kind
	DecodeErrors *prometheus.CounterVec // labels: stage=frame|payload|legacy
	Gaps         *prometheus.CounterVec // labels: device
	Lost         *prometheus.CounterVec // labels: device
	Suspect      *prometheus.CounterVec // labels: device
	Temperature  *prometheus.GaugeVec   // labels: device
	Humidity     *prometheus.GaugeVec   // labels: device
	Pressure     *prometheus.GaugeVec   // labels: device
	IAQ          *prometheus.GaugeVec   // labels: device
	CO2          *prometheus.GaugeVec   // labels: device
	GasAnalog    *prometheus.GaugeVec   // labels: device
	WindAnalog   *prometheus.GaugeVec   // labels: device
}

// NewStation registers and returns the station metrics.
func NewStation(reg prometheus.Registerer) *Station {
	counter := func(name, help string, label string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "station",
			Name: name, Help: help,
		}, []string{label})
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "station",
			Name: name, Help: help,
		}, []string{"device"})
	}

	m := &Station{
		Frames:       counter("frames_total", "Frames decoded per device.", "device"),
		Legacy:       counter("legacy_packets_total", "Legacy packets decoded by kind.", "kind"),
		DecodeErrors: counter("decode_errors_total", "Datagrams dropped by failing stage.", "stage"),
		Gaps:         counter("sequence_gaps_total", "Sequence discontinuities per device.", "device"),
		Lost:         counter("frames_lost_total", "Frames missing from sequence gaps.", "device"),
		Suspect:      counter("suspect_readings_total", "Readings decoded against a possibly stale reference.", "device"),
		Temperature:  gauge("temperature_celsius", "Last temperature reading."),
		Humidity:     gauge("humidity_percent", "Last relative humidity reading."),
		Pressure:     gauge("pressure_pascals", "Last pressure reading."),
		IAQ:          gauge("iaq", "Last indoor air quality index."),
		CO2:          gauge("co2_ppm", "Last CO2 equivalent reading."),
		GasAnalog:    gauge("gas_analog", "Last raw gas sensor reading."),
		WindAnalog:   gauge("wind_analog", "Last raw anemometer reading."),
	}
	reg.MustRegister(m.Frames, m.Legacy, m.DecodeErrors, m.Gaps, m.Lost, m.Suspect,
		m.Temperature, m.Humidity, m.Pressure, m.IAQ, m.CO2, m.GasAnalog, m.WindAnalog)
	return m
}
