package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("HTTP_ADDRESS", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("POSTGRES_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddress)
	require.Equal(t, 2, cfg.StreamBuffer)
	require.Equal(t, 2*time.Hour, cfg.SessionTTL)
	require.Empty(t, cfg.PostgresURL)
	require.Empty(t, cfg.KafkaBrokers)
	require.False(t, cfg.AuthDisabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")
	t.Setenv("POSE_WORKER_ARGS", "--model  heavy")
	t.Setenv("POSE_DETECTION_CONFIDENCE", "0.7")
	t.Setenv("SESSION_TTL", "15m")
	t.Setenv("AUTH_DISABLED", "true")
	t.Setenv("STREAM_BUFFER", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, []string{"--model", "heavy"}, cfg.PoseWorkerArgs)
	require.InDelta(t, 0.7, cfg.PoseDetectionConfidence, 1e-9)
	require.Equal(t, 15*time.Minute, cfg.SessionTTL)
	require.True(t, cfg.AuthDisabled)
	require.Equal(t, 2, cfg.StreamBuffer, "unparseable values fall back to the default")
}

func TestEnvironmentOverridesConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repcount.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_address: ":9090"
jpeg_quality: 60
mqtt_broker: tcp://broker:1883
session_capacity: 10
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_ADDRESS", "")
	t.Setenv("SESSION_CAPACITY", "99")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddress)
	require.Equal(t, 60, cfg.JPEGQuality)
	require.Equal(t, "tcp://broker:1883", cfg.MQTTBroker)
	require.Equal(t, 99, cfg.SessionCapacity)
}

func TestLoadRejectsBrokenConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_address: [unterminated"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	require.Error(t, err)

	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load()
	require.Error(t, err)
}
