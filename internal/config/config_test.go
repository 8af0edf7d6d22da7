package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.cfg")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
# recorder on the bench
MQTT_BROKER=tcp://pi.local:1883
TOPIC_MOTION = bench/motion
SOURCE=IMU
IMU_SPI_DEVICE=/dev/spidev0.1
IMU_ACCEL_RANGE=2
IMU_GYRO_RANGE=1
SAMPLE_INTERVAL_MS=50
WEB_SERVER_PORT=9000
DB_PATH=/var/lib/balance.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tcp://pi.local:1883", cfg.MQTTBroker)
	assert.Equal(t, "bench/motion", cfg.TopicMotion)
	assert.Equal(t, "balance/orientation", cfg.TopicOrientation, "unset keys keep defaults")
	assert.Equal(t, SourceIMU, cfg.Source)
	assert.Equal(t, "/dev/spidev0.1", cfg.IMUSPIDevice)
	assert.Equal(t, byte(2), cfg.IMUAccelRange)
	assert.Equal(t, byte(1), cfg.IMUGyroRange)
	assert.Equal(t, 50*time.Millisecond, cfg.SampleInterval())
	assert.Equal(t, 9000, cfg.WebServerPort)
	assert.Equal(t, "/var/lib/balance.db", cfg.DBPath)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
	assert.Equal(t, 100*time.Millisecond, cfg.SampleInterval())
	assert.Equal(t, 10*time.Millisecond, cfg.IMUInterval())
	assert.Equal(t, 200*time.Millisecond, cfg.LivePushInterval())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "WEB_SERVER_PORT=9000\nSOURCE=mqtt\n")
	t.Setenv("WEB_SERVER_PORT", "9100")
	t.Setenv("SOURCE", "mock")
	t.Setenv("LIVE_PUSH_INTERVAL_MS", "500")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.WebServerPort)
	assert.Equal(t, SourceMock, cfg.Source)
	assert.Equal(t, 500*time.Millisecond, cfg.LivePushInterval())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing equals", "MQTT_BROKER\n", "invalid config line 1"},
		{"unknown key", "GPS_BAUD_RATE=9600\n", "unknown config key"},
		{"accel range", "IMU_ACCEL_RANGE=4\n", "IMU_ACCEL_RANGE must be 0-3"},
		{"gyro not a number", "IMU_GYRO_RANGE=fast\n", "invalid IMU_GYRO_RANGE"},
		{"bad source", "SOURCE=bluetooth\n", "SOURCE must be one of"},
		{"zero interval", "SAMPLE_INTERVAL_MS=0\n", "SAMPLE_INTERVAL_MS must be positive"},
		{"empty broker", "MQTT_BROKER=\n", "MQTT_BROKER is required"},
		{"mqtt without topic", "TOPIC_MOTION=\n", "TOPIC_MOTION and TOPIC_ORIENTATION are required"},
		{"port", "WEB_SERVER_PORT=70000\n", "WEB_SERVER_PORT out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_EnvRangeValidated(t *testing.T) {
	t.Setenv("IMU_ACCEL_RANGE", "7")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IMU_ACCEL_RANGE must be 0-3")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.cfg"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open config file")
}
