package sensor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/chewxy/math32"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/itohio/telenode/pkg/subsystem"
)

const (
	// DefaultBaudRate is the UART rate of the acquisition MCU.
	DefaultBaudRate = 115200

	lineFields = 14
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial reads samples from the acquisition MCU over a serial line.
// The reader goroutine only replaces the latest snapshot; consumers poll it.
type Serial struct {
	subsystem.NoRun

	port     string
	baudRate int
	log      *zap.Logger

	conn      io.Closer
	avg       *Averager
	mu        sync.RWMutex
	cancel    context.CancelFunc
	connected bool

	latest Sample
	fresh  bool
}

// NewSerial creates a serial source. averageSamples > 1 enables a moving
// average over the analog readings.
func NewSerial(port string, baudRate int, averageSamples int, log *zap.Logger) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Serial{
		port:     port,
		baudRate: baudRate,
		log:      log,
		avg:      NewAverager(averageSamples),
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Setup opens the port and starts reading lines.
func (s *Serial) Setup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return fmt.Errorf("already connected")
	}

	conn, err := serial.Open(s.port, &serial.Mode{BaudRate: s.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.port, err)
	}

	go s.readLines(s.attach(conn), conn)

	return nil
}

// attach makes conn the active port and returns the context its reader
// runs under. Callers hold mu.
func (s *Serial) attach(conn io.Closer) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	s.conn = conn
	s.cancel = cancel
	s.connected = true
	return ctx
}

// Close stops the reader and closes the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}

	s.cancel()
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.log.Warn("error closing sensor port", zap.Error(err))
		}
		s.conn = nil
	}
	s.connected = false

	return nil
}

// IsConnected returns whether the port is open.
func (s *Serial) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// HasNewSample implements Source.
func (s *Serial) HasNewSample() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fresh
}

// Sample implements Source.
func (s *Serial) Sample() Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fresh = false
	return s.latest
}

func (s *Serial) publish(sample Sample) {
	s.mu.Lock()
	s.latest = s.avg.Add(sample)
	s.fresh = true
	s.mu.Unlock()
}

func (s *Serial) readLines(ctx context.Context, r io.Reader) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in sensor reader", zap.Any("panic", r))
		}
	}()

	scanner := bufio.NewScanner(r)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && err != io.EOF {
				s.log.Warn("error reading sensor port", zap.Error(err))
			}
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		sample, err := ParseLine(line)
		if err != nil {
			s.log.Debug("failed to parse sensor line", zap.String("line", line), zap.Error(err))
			continue
		}
		s.publish(sample)
	}
}

// ParseLine parses one line emitted by the acquisition MCU.
// Format: temp_c,humidity_pct,pressure_pa,iaq,accuracy,static_iaq,co2_ppm,
// bvoc_ppm,gas_pct,stab,run_in,gas_analog,gas_digital,wind_analog
// Example: 20.50,45.00,101325,50,3,55,450,1.20,10,1,1,2048,0,1024
func ParseLine(line string) (Sample, error) {
	parts := strings.Split(line, ",")
	if len(parts) != lineFields {
		return Sample{}, fmt.Errorf("invalid line format: expected %d comma-separated values, got %d", lineFields, len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	var (
		s   Sample
		err error
	)

	temp, err := parseCentis(parts[0], math.MinInt16, math.MaxInt16)
	if err != nil {
		return Sample{}, fmt.Errorf("invalid temperature: %w", err)
	}
	s.Env.Temperature = int16(temp)

	hum, err := parseCentis(parts[1], 0, math.MaxUint16)
	if err != nil {
		return Sample{}, fmt.Errorf("invalid humidity: %w", err)
	}
	s.Env.Humidity = uint16(hum)

	pressure, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return Sample{}, fmt.Errorf("invalid pressure: %w", err)
	}
	s.Env.Pressure = uint32(pressure)

	if s.Env.IAQ, err = parseUint16(parts[3]); err != nil {
		return Sample{}, fmt.Errorf("invalid iaq: %w", err)
	}
	if s.Env.Accuracy, err = parseUint8(parts[4]); err != nil {
		return Sample{}, fmt.Errorf("invalid accuracy: %w", err)
	}
	if s.Env.StaticIAQ, err = parseUint16(parts[5]); err != nil {
		return Sample{}, fmt.Errorf("invalid static iaq: %w", err)
	}
	if s.Env.CO2, err = parseUint16(parts[6]); err != nil {
		return Sample{}, fmt.Errorf("invalid co2: %w", err)
	}

	bvoc, err := parseCentis(parts[7], 0, math.MaxUint16)
	if err != nil {
		return Sample{}, fmt.Errorf("invalid breath voc: %w", err)
	}
	s.Env.BreathVOC = uint16(bvoc)

	if s.Env.GasPercent, err = parseUint8(parts[8]); err != nil {
		return Sample{}, fmt.Errorf("invalid gas percentage: %w", err)
	}
	if s.Env.StabStatus, err = parseUint8(parts[9]); err != nil {
		return Sample{}, fmt.Errorf("invalid stabilization status: %w", err)
	}
	if s.Env.RunInStatus, err = parseUint8(parts[10]); err != nil {
		return Sample{}, fmt.Errorf("invalid run-in status: %w", err)
	}

	if s.Gas.Analog, err = parseAnalog(parts[11]); err != nil {
		return Sample{}, fmt.Errorf("invalid gas analog: %w", err)
	}
	if s.Gas.Digital, err = parseUint8(parts[12]); err != nil {
		return Sample{}, fmt.Errorf("invalid gas digital: %w", err)
	}
	if s.Wind, err = parseAnalog(parts[13]); err != nil {
		return Sample{}, fmt.Errorf("invalid wind analog: %w", err)
	}

	return s, nil
}

// parseCentis converts a decimal reading into hundredths, rounding to nearest.
func parseCentis(field string, min, max float32) (int32, error) {
	v, err := strconv.ParseFloat(field, 32)
	if err != nil {
		return 0, err
	}
	c := math32.Round(float32(v) * 100)
	if math32.IsNaN(c) || c < min || c > max {
		return 0, fmt.Errorf("value out of range: %s", field)
	}
	return int32(c), nil
}

func parseUint16(field string) (uint16, error) {
	v, err := strconv.ParseUint(field, 10, 16)
	return uint16(v), err
}

func parseUint8(field string) (uint8, error) {
	v, err := strconv.ParseUint(field, 10, 8)
	return uint8(v), err
}

func parseAnalog(field string) (uint16, error) {
	v, err := strconv.ParseUint(field, 10, 16)
	if err != nil {
		return 0, err
	}
	if v > AnalogMax {
		return 0, fmt.Errorf("reading out of range: %d (max %d)", v, AnalogMax)
	}
	return uint16(v), nil
}
