package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

// Sensor sources selectable with SOURCE.
const (
	SourceMQTT = "mqtt"
	SourceIMU  = "imu"
	SourceMock = "mock"
)

// Config holds all application configuration values. Every field can be set
// in the config file and overridden by the environment variable of the same
// name.
type Config struct {
	// MQTT
	MQTTBroker           string `env:"MQTT_BROKER"`
	MQTTClientIDRecorder string `env:"MQTT_CLIENT_ID_RECORDER"`
	MQTTClientIDProducer string `env:"MQTT_CLIENT_ID_PRODUCER"`
	MQTTClientIDConsole  string `env:"MQTT_CLIENT_ID_CONSOLE"`

	// Topics
	TopicMotion      string `env:"TOPIC_MOTION"`
	TopicOrientation string `env:"TOPIC_ORIENTATION"`
	TopicAnalysis    string `env:"TOPIC_ANALYSIS"`
	TopicSession     string `env:"TOPIC_SESSION"`

	// Source feeding the recorder: mqtt, imu or mock
	Source string `env:"SOURCE"`

	// IMU Hardware
	IMUSPIDevice string `env:"IMU_SPI_DEVICE"`
	IMUCSPin     string `env:"IMU_CS_PIN"`

	// IMU Sensor Ranges
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte `env:"IMU_ACCEL_RANGE"`
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange byte `env:"IMU_GYRO_RANGE"`

	// Timing
	IMUSampleInterval  int `env:"IMU_SAMPLE_INTERVAL"`   // milliseconds
	SampleIntervalMS   int `env:"SAMPLE_INTERVAL_MS"`    // recording tick, milliseconds
	LivePushIntervalMS int `env:"LIVE_PUSH_INTERVAL_MS"` // websocket push, milliseconds

	// Web Server
	WebServerPort int `env:"WEB_SERVER_PORT"`

	// Persistence
	DBPath    string `env:"DB_PATH"`
	ExportDir string `env:"EXPORT_DIR"`
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: ensures InitGlobal() only runs once.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Defaults returns the values used for keys absent from both the file and
// the environment.
func Defaults() *Config {
	return &Config{
		MQTTBroker:           "tcp://localhost:1883",
		MQTTClientIDRecorder: "balance-recorder",
		MQTTClientIDProducer: "balance-producer",
		MQTTClientIDConsole:  "balance-console",
		TopicMotion:          "balance/motion",
		TopicOrientation:     "balance/orientation",
		TopicAnalysis:        "balance/analysis",
		TopicSession:         "balance/session",
		Source:               SourceMQTT,
		IMUSPIDevice:         "/dev/spidev0.0",
		IMUCSPin:             "8",
		IMUSampleInterval:    10,
		SampleIntervalMS:     100,
		LivePushIntervalMS:   200,
		WebServerPort:        8080,
		DBPath:               "balance.db",
		ExportDir:            ".",
	}
}

// Load reads the configuration file, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath != "" {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		lineNum := 0

		for scanner.Scan() {
			lineNum++
			line := strings.TrimSpace(scanner.Text())

			// Skip empty lines and comments
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			// Parse KEY=VALUE
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
			}

			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])

			if err := cfg.setValue(key, value); err != nil {
				return nil, fmt.Errorf("config line %d: %w", lineNum, err)
			}
		}

		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseRange(key, value string, hi int, help string) (byte, error) {
	val, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if val < 0 || val > hi {
		return 0, fmt.Errorf("%s must be 0-%d (%s), got %d", key, hi, help, val)
	}
	return byte(val), nil
}

func parseInt(key, value string) (int, error) {
	val, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return val, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_RECORDER":
		c.MQTTClientIDRecorder = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value

	// Topics
	case "TOPIC_MOTION":
		c.TopicMotion = value
	case "TOPIC_ORIENTATION":
		c.TopicOrientation = value
	case "TOPIC_ANALYSIS":
		c.TopicAnalysis = value
	case "TOPIC_SESSION":
		c.TopicSession = value

	case "SOURCE":
		c.Source = strings.ToLower(value)

	// IMU Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value

	// IMU Sensor Ranges
	case "IMU_ACCEL_RANGE":
		c.IMUAccelRange, err = parseRange(key, value, 3, "0=±2g, 1=±4g, 2=±8g, 3=±16g")
	case "IMU_GYRO_RANGE":
		c.IMUGyroRange, err = parseRange(key, value, 3, "0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s")

	// Timing
	case "IMU_SAMPLE_INTERVAL":
		c.IMUSampleInterval, err = parseInt(key, value)
	case "SAMPLE_INTERVAL_MS":
		c.SampleIntervalMS, err = parseInt(key, value)
	case "LIVE_PUSH_INTERVAL_MS":
		c.LivePushIntervalMS, err = parseInt(key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)

	// Persistence
	case "DB_PATH":
		c.DBPath = value
	case "EXPORT_DIR":
		c.ExportDir = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks that all required fields are set and in range. Ranges are
// re-checked here because environment overrides bypass setValue.
func (c *Config) validate() error {
	switch c.Source {
	case SourceMQTT, SourceIMU, SourceMock:
	default:
		return fmt.Errorf("SOURCE must be one of mqtt, imu, mock, got %q", c.Source)
	}
	if c.MQTTBroker == "" {
		return errors.New("MQTT_BROKER is required")
	}
	if c.Source == SourceMQTT && (c.TopicMotion == "" || c.TopicOrientation == "") {
		return errors.New("TOPIC_MOTION and TOPIC_ORIENTATION are required for SOURCE=mqtt")
	}
	if c.Source == SourceIMU && c.IMUSPIDevice == "" {
		return errors.New("IMU_SPI_DEVICE is required for SOURCE=imu")
	}
	if c.IMUAccelRange > 3 {
		return fmt.Errorf("IMU_ACCEL_RANGE must be 0-3, got %d", c.IMUAccelRange)
	}
	if c.IMUGyroRange > 3 {
		return fmt.Errorf("IMU_GYRO_RANGE must be 0-3, got %d", c.IMUGyroRange)
	}
	if c.IMUSampleInterval <= 0 {
		return errors.New("IMU_SAMPLE_INTERVAL must be positive")
	}
	if c.SampleIntervalMS <= 0 {
		return errors.New("SAMPLE_INTERVAL_MS must be positive")
	}
	if c.LivePushIntervalMS <= 0 {
		return errors.New("LIVE_PUSH_INTERVAL_MS must be positive")
	}
	if c.WebServerPort <= 0 || c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT out of range: %d", c.WebServerPort)
	}
	return nil
}

// SampleInterval is the recording tick.
func (c *Config) SampleInterval() time.Duration {
	return time.Duration(c.SampleIntervalMS) * time.Millisecond
}

// IMUInterval is the IMU polling period.
func (c *Config) IMUInterval() time.Duration {
	return time.Duration(c.IMUSampleInterval) * time.Millisecond
}

// LivePushInterval is the websocket push period.
func (c *Config) LivePushInterval() time.Duration {
	return time.Duration(c.LivePushIntervalMS) * time.Millisecond
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
