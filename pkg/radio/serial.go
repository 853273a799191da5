package radio

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	// DefaultBaudRate of the UART modem.
	DefaultBaudRate = 115200
	// DefaultTxTimeout bounds how long a transmit may wait for +OK or +ERR.
	DefaultTxTimeout = 2 * time.Second
)

// Serial drives a UART LoRa modem with a line-oriented AT command set:
//
//	AT+SEND=<addr>,<len>,<hex data>   transmit
//	+OK                               transmit finished
//	+ERR=<code>                       transmit failed
//	+RCV=<addr>,<len>,<hex data>,<rssi>,<snr>
//
// Payloads travel hex encoded so binary frames survive the line protocol.
// A transmit that gets no answer within the tx timeout is reported as a
// TxTimeout by Run.
type Serial struct {
	port      string
	baudRate  int
	address   uint16
	txTimeout time.Duration
	log       *zap.Logger

	mu        sync.Mutex
	conn      io.ReadWriteCloser
	events    Events
	busy      bool
	pending   time.Duration
	connected bool
	cancel    context.CancelFunc
}

// NewSerial creates a modem on port. Frames are addressed to address.
func NewSerial(port string, baudRate int, address uint16, log *zap.Logger) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Serial{
		port:      port,
		baudRate:  baudRate,
		address:   address,
		txTimeout: DefaultTxTimeout,
		log:       log,
	}
}

// SetTxTimeout changes the transmit timeout. Non-positive values are ignored.
func (s *Serial) SetTxTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txTimeout = d
}

// Setup opens the port and starts the response reader.
func (s *Serial) Setup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return fmt.Errorf("already connected")
	}

	conn, err := serial.Open(s.port, &serial.Mode{BaudRate: s.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open radio port %s: %w", s.port, err)
	}

	go s.readLines(s.attach(conn), conn)
	return nil
}

// attach makes conn the active port. Callers hold mu.
func (s *Serial) attach(conn io.ReadWriteCloser) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	s.conn = conn
	s.cancel = cancel
	s.connected = true
	s.busy = false
	s.pending = 0
	return ctx
}

// Run ages a pending transmit and fires TxTimeout once it expires.
func (s *Serial) Run(dt time.Duration) {
	s.mu.Lock()
	if !s.busy {
		s.mu.Unlock()
		return
	}
	s.pending += dt
	if s.pending < s.txTimeout {
		s.mu.Unlock()
		return
	}
	s.busy = false
	s.pending = 0
	ev, timeout := s.events, s.txTimeout
	s.mu.Unlock()

	s.log.Warn("radio did not confirm transmit", zap.Duration("timeout", timeout))
	ev.txTimeout()
}

// Close stops the reader and closes the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}
	s.cancel()
	if err := s.conn.Close(); err != nil {
		s.log.Warn("error closing radio port", zap.Error(err))
	}
	s.conn = nil
	s.connected = false
	return nil
}

// SetEvents implements Sink.
func (s *Serial) SetEvents(ev Events) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = ev
}

// Transmit sends data as one modem packet.
func (s *Serial) Transmit(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return ErrNotConnected
	}
	if s.busy {
		return ErrBusy
	}
	if err := writeSend(s.conn, s.address, data); err != nil {
		return fmt.Errorf("failed to write to radio: %w", err)
	}
	s.busy = true
	s.pending = 0
	return nil
}

// Listen delivers every received payload on the returned channel and
// replaces the RxDone handler. Payloads arriving after ctx is done, or while
// the channel is full, are dropped. The channel is never closed.
func (s *Serial) Listen(ctx context.Context) <-chan []byte {
	out := make(chan []byte, 16)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events.RxDone = func(payload []byte, rssi int16, snr int8) {
		select {
		case <-ctx.Done():
		case out <- payload:
		default:
			s.log.Warn("dropping received packet, consumer is slow", zap.Int("len", len(payload)))
		}
	}
	return out
}

func writeSend(w io.Writer, address uint16, data []byte) error {
	_, err := fmt.Fprintf(w, "AT+SEND=%d,%d,%s\r\n", address, 2*len(data), hex.EncodeToString(data))
	return err
}

func (s *Serial) readLines(ctx context.Context, r io.Reader) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in radio reader", zap.Any("panic", r))
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
			if err := scanner.Err(); err != nil {
				s.log.Warn("error reading radio port", zap.Error(err))
			}
			return
		}
		s.handleLine(strings.TrimSpace(scanner.Text()))
	}
}

func (s *Serial) handleLine(line string) {
	switch {
	case line == "":
		return
	case line == "+OK":
		s.finish(Events.txDone)
	case strings.HasPrefix(line, "+ERR="):
		s.log.Debug("radio reported error", zap.String("code", strings.TrimPrefix(line, "+ERR=")))
		s.finish(Events.txTimeout)
	case strings.HasPrefix(line, "+RCV="):
		payload, rssi, snr, err := parseReceive(strings.TrimPrefix(line, "+RCV="))
		if err != nil {
			s.log.Debug("failed to parse radio line", zap.String("line", line), zap.Error(err))
			return
		}
		s.mu.Lock()
		ev := s.events
		s.mu.Unlock()
		ev.rxDone(payload, rssi, snr)
	default:
		s.log.Debug("unexpected radio line", zap.String("line", line))
	}
}

func (s *Serial) finish(fire func(Events)) {
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

// parseReceive parses "<addr>,<len>,<hex data>,<rssi>,<snr>".
func parseReceive(body string) (payload []byte, rssi int16, snr int8, err error) {
	parts := strings.Split(body, ",")
	if len(parts) != 5 {
		return nil, 0, 0, fmt.Errorf("expected 5 fields, got %d", len(parts))
	}

	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, 0, 0, fmt.Errorf("invalid length: %w", err)
	}
	if n != len(parts[2]) {
		return nil, 0, 0, fmt.Errorf("length %d does not match data of %d characters", n, len(parts[2]))
	}
	payload, err = hex.DecodeString(parts[2])
	if err != nil {
		return nil, 0, 0, fmt.Errorf("invalid data: %w", err)
	}

	r, err := strconv.ParseInt(parts[3], 10, 16)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("invalid rssi: %w", err)
	}
	sn, err := strconv.ParseInt(parts[4], 10, 8)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("invalid snr: %w", err)
	}
	return payload, int16(r), int8(sn), nil
}
