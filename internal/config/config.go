// Package config centralises configuration parsing for the repcount service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures runtime configuration values for the repcount service.
type Config struct {
	HTTPAddress     string
	UploadDir       string
	DatasetDir      string
	StreamBuffer    int
	JPEGQuality     int
	SessionTTL      time.Duration
	SessionCapacity int

	PoseWorkerCommand       string
	PoseWorkerArgs          []string
	PoseDetectionConfidence float64
	PoseTrackingConfidence  float64
	PoseFrameTimeout        time.Duration

	PostgresURL        string // Empty disables the archive and outbox.
	KafkaBrokers       []string
	SchemaRegistryURL  string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int

	JWTSecret    string
	JWTIssuer    string
	AuthDisabled bool

	MQTTBroker      string
	MQTTTopicPrefix string

	GeminiAPIKey    string
	GeminiModel     string
	GeminiURL       string
	InsightsTimeout time.Duration
}

// Load reads environment variables into Config, applying sensible defaults for local dev.
// When CONFIG_FILE names a YAML file its keys (lower-case variable names) provide base values
// that environment variables override.
func Load() (Config, error) {
	src := source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		src.file = file
	}

	cfg := Config{
		HTTPAddress:     src.getEnv("HTTP_ADDRESS", ":8080"),
		UploadDir:       src.getEnv("UPLOAD_DIR", "uploads"),
		DatasetDir:      src.getEnv("DATASET_DIR", "datasets"),
		StreamBuffer:    src.getIntEnv("STREAM_BUFFER", 2),
		JPEGQuality:     src.getIntEnv("JPEG_QUALITY", 80),
		SessionTTL:      src.getDurationEnv("SESSION_TTL", 2*time.Hour),
		SessionCapacity: src.getIntEnv("SESSION_CAPACITY", 1024),

		PoseWorkerCommand:       src.getEnv("POSE_WORKER_COMMAND", ""),
		PoseWorkerArgs:          strings.Fields(src.getEnv("POSE_WORKER_ARGS", "")),
		PoseDetectionConfidence: src.getFloatEnv("POSE_DETECTION_CONFIDENCE", 0.5),
		PoseTrackingConfidence:  src.getFloatEnv("POSE_TRACKING_CONFIDENCE", 0.5),
		PoseFrameTimeout:        src.getDurationEnv("POSE_FRAME_TIMEOUT", 2*time.Second),

		PostgresURL:        src.getEnv("POSTGRES_URL", ""),
		KafkaBrokers:       splitAndTrim(src.getEnv("KAFKA_BROKERS", "")),
		SchemaRegistryURL:  src.getEnv("SCHEMA_REGISTRY_URL", "http://schema-registry:8081"),
		OutboxPollInterval: src.getDurationEnv("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:    src.getIntEnv("OUTBOX_BATCH_SIZE", 25),

		JWTSecret:    src.getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTIssuer:    src.getEnv("JWT_ISSUER", "repcount.identity"),
		AuthDisabled: src.getBoolEnv("AUTH_DISABLED", false),

		MQTTBroker:      src.getEnv("MQTT_BROKER", ""),
		MQTTTopicPrefix: src.getEnv("MQTT_TOPIC_PREFIX", "repcount"),

		GeminiAPIKey:    src.getEnv("GEMINI_API_KEY", ""),
		GeminiModel:     src.getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiURL:       src.getEnv("GEMINI_URL", ""),
		InsightsTimeout: src.getDurationEnv("INSIGHTS_TIMEOUT", 30*time.Second),
	}
	return cfg, nil
}

func readFile(path string) (map[string]string, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	values := map[string]string{}
	if err := yaml.Unmarshal(body, &values); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return values, nil
}

type source struct {
	file map[string]string
}

func (s source) lookup(key string) (string, bool) {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value, true
	}
	if value, ok := s.file[strings.ToLower(key)]; ok && value != "" {
		return value, true
	}
	return "", false
}

func (s source) getEnv(key, fallback string) string {
	if value, ok := s.lookup(key); ok {
		return value
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (s source) getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := s.lookup(key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func (s source) getIntEnv(key string, fallback int) int {
	if value, ok := s.lookup(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func (s source) getFloatEnv(key string, fallback float64) float64 {
	if value, ok := s.lookup(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func (s source) getBoolEnv(key string, fallback bool) bool {
	if value, ok := s.lookup(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
