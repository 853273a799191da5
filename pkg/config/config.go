package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itohio/telenode/pkg/radio"
)

// Config represents the configuration shared by the node and the station.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Radio   RadioConfig   `yaml:"radio"`
	Sensor  SensorConfig  `yaml:"sensor"`
	Mock    MockConfig    `yaml:"mock"`
	Station StationConfig `yaml:"station"`
	Logging LoggingConfig `yaml:"logging"`
}

// NodeConfig contains the transmit pipeline parameters.
type NodeConfig struct {
	DeviceID         uint8         `yaml:"device_id"`
	LegacyDeviceID   uint16        `yaml:"legacy_device_id"`
	Protocol         string        `yaml:"protocol"` // frame, v1 or v2
	SampleInterval   time.Duration `yaml:"sample_interval"`
	TransmitInterval time.Duration `yaml:"transmit_interval"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	KeyframeInterval int           `yaml:"keyframe_interval"` // delta frames between full frames (0 = only after loss)
	QueueCapacity    int           `yaml:"queue_capacity"`
}

// RadioConfig contains the UART modem configuration.
type RadioConfig struct {
	Port                    string        `yaml:"port"`
	BaudRate                int           `yaml:"baud_rate"`
	Address                 uint16        `yaml:"address"`
	Stub                    bool          `yaml:"stub"`                        // in-memory radio, nothing goes on air
	TxTimeout               time.Duration `yaml:"tx_timeout"`                  // wait for +OK/+ERR before giving up
	DutyCycleBytesPerSecond int           `yaml:"duty_cycle_bytes_per_second"` // 0 = unlimited
	DutyCycleBurst          int           `yaml:"duty_cycle_burst"`
}

// SensorConfig contains the acquisition MCU configuration.
type SensorConfig struct {
	Port           string `yaml:"port"`
	BaudRate       int    `yaml:"baud_rate"`
	AverageSamples int    `yaml:"average_samples"` // analog moving average window (0 or 1 = disabled)
	Mock           bool   `yaml:"mock"`
}

// MockConfig contains mock sensor configuration.
type MockConfig struct {
	SampleRate      time.Duration `yaml:"sample_rate"`
	NoiseLevel      float32       `yaml:"noise_level"`
	BaseTemperature float32       `yaml:"base_temperature"` // °C
}

// StationConfig contains the base station receiver configuration.
type StationConfig struct {
	Port        string `yaml:"port"`
	BaudRate    int    `yaml:"baud_rate"`
	Mode        string `yaml:"mode"` // modem: AT modem datagrams; stream: raw escaped frames
	MetricsAddr string `yaml:"metrics_addr"`
}

// LoggingConfig contains logger configuration.
type LoggingConfig struct {
	Level  string        `yaml:"level"`  // debug, info, warn, error
	Format string        `yaml:"format"` // console or json
	File   LogFileConfig `yaml:"file"`
}

// LogFileConfig enables a rotated log file when Filename is set.
type LogFileConfig struct {
	Filename   string `yaml:"filename"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			DeviceID:         1,
			LegacyDeviceID:   1,
			Protocol:         "frame",
			SampleInterval:   time.Second,
			TransmitInterval: 10 * time.Second,
			PollInterval:     10 * time.Millisecond,
			KeyframeInterval: 30,
			QueueCapacity:    16,
		},
		Radio: RadioConfig{
			Port:           "/dev/ttyUSB1",
			BaudRate:       115200,
			TxTimeout:      radio.DefaultTxTimeout,
			DutyCycleBurst: radio.DefaultDutyCycleBurst,
		},
		Sensor: SensorConfig{
			Port:           "/dev/ttyACM0",
			BaudRate:       115200,
			AverageSamples: 4,
		},
		Mock: MockConfig{
			SampleRate:      time.Second,
			NoiseLevel:      0.1,
			BaseTemperature: 21,
		},
		Station: StationConfig{
			Port:        "/dev/ttyUSB0",
			BaudRate:    115200,
			Mode:        "modem",
			MetricsAddr: ":9100",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			File: LogFileConfig{
				MaxSizeMB:  10,
				MaxBackups: 5,
				MaxAgeDays: 28,
			},
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects values no component accepts.
func (c *Config) Validate() error {
	switch c.Node.Protocol {
	case "frame", "v1", "v2":
	default:
		return fmt.Errorf("invalid node.protocol %q: want frame, v1 or v2", c.Node.Protocol)
	}
	switch c.Station.Mode {
	case "modem", "stream":
	default:
		return fmt.Errorf("invalid station.mode %q: want modem or stream", c.Station.Mode)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid logging.format %q: want console or json", c.Logging.Format)
	}
	if c.Node.KeyframeInterval < 0 {
		return fmt.Errorf("invalid node.keyframe_interval %d", c.Node.KeyframeInterval)
	}
	if c.Radio.DutyCycleBytesPerSecond < 0 {
		return fmt.Errorf("invalid radio.duty_cycle_bytes_per_second %d", c.Radio.DutyCycleBytesPerSecond)
	}
	if c.Radio.DutyCycleBytesPerSecond > 0 && c.Radio.DutyCycleBurst < radio.MinDutyCycleBurst {
		return fmt.Errorf("invalid radio.duty_cycle_burst %d: must hold a %d byte frame", c.Radio.DutyCycleBurst, radio.MinDutyCycleBurst)
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Node.Protocol == "" {
		c.Node.Protocol = def.Node.Protocol
	}
	if c.Node.SampleInterval <= 0 {
		c.Node.SampleInterval = def.Node.SampleInterval
	}
	if c.Node.TransmitInterval <= 0 {
		c.Node.TransmitInterval = def.Node.TransmitInterval
	}
	if c.Node.PollInterval <= 0 {
		c.Node.PollInterval = def.Node.PollInterval
	}
	if c.Node.QueueCapacity <= 0 {
		c.Node.QueueCapacity = def.Node.QueueCapacity
	}

	if c.Radio.BaudRate == 0 {
		c.Radio.BaudRate = def.Radio.BaudRate
	}
	if c.Radio.TxTimeout <= 0 {
		c.Radio.TxTimeout = def.Radio.TxTimeout
	}
	if c.Radio.DutyCycleBurst == 0 {
		c.Radio.DutyCycleBurst = def.Radio.DutyCycleBurst
	}

	if c.Sensor.BaudRate == 0 {
		c.Sensor.BaudRate = def.Sensor.BaudRate
	}

	if c.Mock.SampleRate == 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}
	if c.Mock.BaseTemperature == 0 {
		c.Mock.BaseTemperature = def.Mock.BaseTemperature
	}

	if c.Station.BaudRate == 0 {
		c.Station.BaudRate = def.Station.BaudRate
	}
	if c.Station.Mode == "" {
		c.Station.Mode = def.Station.Mode
	}

	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.Logging.File.MaxSizeMB == 0 {
		c.Logging.File.MaxSizeMB = def.Logging.File.MaxSizeMB
	}
}
