package main

import (
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

	"go.uber.org/zap"

	"github.com/itohio/telenode/pkg/config"
	"github.com/itohio/telenode/pkg/logging"
	"github.com/itohio/telenode/pkg/metrics"
	"github.com/itohio/telenode/pkg/node"
	"github.com/itohio/telenode/pkg/radio"
	"github.com/itohio/telenode/pkg/sensor"
)

func main() {
	var (
		configFlag     = flag.String("config", "config.yaml", "Configuration file path")
		radioPortFlag  = flag.String("p", "", "Radio serial port override (e.g., /dev/ttyUSB1)")
		sensorPortFlag = flag.String("sensor", "", "Sensor serial port override (e.g., /dev/ttyACM0)")
		mockFlag       = flag.Bool("mock", false, "Use mocked sensor instead of serial port")
		stubFlag       = flag.Bool("stub", false, "Use in-memory radio, nothing goes on air")
		protocolFlag   = flag.String("protocol", "", "Wire protocol override: frame, v1 or v2")
		metricsFlag    = flag.String("metrics", "", "Serve prometheus metrics on this address")
		listPortsFlag  = flag.Bool("list-ports", false, "List available serial ports and exit")
	)
	flag.Parse()

	if *listPortsFlag {
		ports, err := sensor.Ports()
		if err != nil {
			log.Fatalf("Failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p.Name)
		}
		return
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *radioPortFlag != "" {
		cfg.Radio.Port = *radioPortFlag
	}
	if *sensorPortFlag != "" {
		cfg.Sensor.Port = *sensorPortFlag
	}
	if *mockFlag {
		cfg.Sensor.Mock = true
	}
	if *stubFlag {
		cfg.Radio.Stub = true
	}
	if *protocolFlag != "" {
		cfg.Node.Protocol = *protocolFlag
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, *metricsFlag, logger); err != nil {
		logger.Error("node stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, metricsAddr string, logger *zap.Logger) error {
	protocol, err := node.ParseProtocol(cfg.Node.Protocol)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var source sensor.Source
	if cfg.Sensor.Mock {
		source = sensor.NewMock(sensor.MockConfig{
			SampleRate:      cfg.Mock.SampleRate,
			NoiseLevel:      cfg.Mock.NoiseLevel,
			BaseTemperature: cfg.Mock.BaseTemperature,
		})
	} else {
		s := sensor.NewSerial(cfg.Sensor.Port, cfg.Sensor.BaudRate, cfg.Sensor.AverageSamples, logger.Named("sensor"))
		defer s.Close()
		source = s
	}

	var sink radio.Sink
	if cfg.Radio.Stub {
		sink = radio.NewStub(true)
	} else {
		r := radio.NewSerial(cfg.Radio.Port, cfg.Radio.BaudRate, cfg.Radio.Address, logger.Named("radio"))
		r.SetTxTimeout(cfg.Radio.TxTimeout)
		defer r.Close()
		sink = r
	}
	if cfg.Radio.DutyCycleBytesPerSecond > 0 {
		sink = radio.NewDutyCycle(sink, cfg.Radio.DutyCycleBytesPerSecond, cfg.Radio.DutyCycleBurst)
	}

	reg := metrics.NewRegistry()
	n := node.New(node.Config{
		DeviceID:         cfg.Node.DeviceID,
		LegacyDeviceID:   cfg.Node.LegacyDeviceID,
		Protocol:         protocol,
		SampleInterval:   cfg.Node.SampleInterval,
		TransmitInterval: cfg.Node.TransmitInterval,
		PollInterval:     cfg.Node.PollInterval,
		KeyframeInterval: cfg.Node.KeyframeInterval,
		QueueCapacity:    cfg.Node.QueueCapacity,
	}, source, sink, logger.Named("node"), metrics.NewNode(reg))

	if err := n.Setup(); err != nil {
		return err
	}

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", zap.String("addr", metricsAddr))
	}

	err = n.Run(ctx)
	st := n.Stats()
	logger.Info("node stopped",
		zap.Duration("uptime", n.Uptime()),
		zap.Uint64("samples", st.Samples),
		zap.Uint64("frames", st.Frames),
		zap.Uint64("evictions", st.Evictions),
	)
	return err
}
