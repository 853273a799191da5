package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/itohio/telenode/pkg/config"
	"github.com/itohio/telenode/pkg/framing"
	"github.com/itohio/telenode/pkg/logging"
	"github.com/itohio/telenode/pkg/metrics"
	"github.com/itohio/telenode/pkg/radio"
	"github.com/itohio/telenode/pkg/station"
)

func main() {
	var (
		configFlag  = flag.String("config", "config.yaml", "Configuration file path")
		portFlag    = flag.String("p", "", "Receiver serial port override (e.g., /dev/ttyUSB0)")
		modeFlag    = flag.String("mode", "", "Receiver mode override: modem or stream")
		metricsFlag = flag.String("metrics", "", "Metrics listen address override")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *portFlag != "" {
		cfg.Station.Port = *portFlag
	}
	if *modeFlag != "" {
		cfg.Station.Mode = *modeFlag
	}
	if *metricsFlag != "" {
		cfg.Station.MetricsAddr = *metricsFlag
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("station stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	st := station.New(logger.Named("station"), metrics.NewStation(reg))

	var (
		in  <-chan []byte
		err error
	)
	switch cfg.Station.Mode {
	case "modem":
		modem := radio.NewSerial(cfg.Station.Port, cfg.Station.BaudRate, 0, logger.Named("radio"))
		if err := modem.Setup(); err != nil {
			return err
		}
		defer modem.Close()
		in = modem.Listen(ctx)
	case "stream":
		in, err = readStream(ctx, cfg.Station.Port, cfg.Station.BaudRate, logger)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown station mode %q", cfg.Station.Mode)
	}

	if cfg.Station.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.Station.MetricsAddr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", zap.String("addr", cfg.Station.MetricsAddr))
	}

	readings := st.Run(in, 0)
	for {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-readings:
			if !ok {
				return nil
			}
			logger.Info("reading",
				zap.Stringer("kind", r.Kind),
				zap.Uint16("device_id", r.DeviceID),
				zap.Uint16("seq", r.Sequence),
				zap.Float32("temperature", r.Sample.Env.Celsius()),
				zap.Float32("humidity", r.Sample.Env.RelativeHumidity()),
				zap.Uint16("gas", r.Sample.Gas.Analog),
				zap.Uint16("wind", r.Sample.Wind),
				zap.Bool("suspect", r.Suspect),
			)
		}
	}
}

// readStream splits a raw serial byte stream into escaped frames.
func readStream(ctx context.Context, port string, baudRate int, logger *zap.Logger) (<-chan []byte, error) {
	conn, err := serial.Open(port, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", port, err)
	}

	out := make(chan []byte, 16)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(out)

		scanner := bufio.NewScanner(conn)
		scanner.Buffer(make([]byte, 0, 4*framing.MaxFrameLen), 4*framing.MaxFrameLen)
		scanner.Split(framing.SplitFrames)
		for scanner.Scan() {
			frame := append([]byte(nil), scanner.Bytes()...)
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			logger.Warn("error reading serial port", zap.Error(err))
		}
	}()
	return out, nil
}
