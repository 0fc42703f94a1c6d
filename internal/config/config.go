// Package config provides configuration loading from the environment, with
// defaults, for the threatcore service and CLI.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnv returns the value of key from the environment, or defaultValue if unset or empty.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return defaultValue
}

// GetEnvDuration returns the duration for key, or defaultValue if unset/invalid.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return defaultValue
	}
	return d
}

// GetEnvInt returns the integer for key, or defaultValue if unset/invalid.
func GetEnvInt(key string, defaultValue int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return defaultValue
	}
	return n
}

// GetEnvFloat returns the float for key, or defaultValue if unset/invalid.
func GetEnvFloat(key string, defaultValue float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return defaultValue
	}
	return f
}

// GetEnvBool returns the boolean for key, or defaultValue if unset/invalid.
func GetEnvBool(key string, defaultValue bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return defaultValue
	}
	return b
}

// CorrelationConfig holds the correlation window and per-grouping thresholds.
type CorrelationConfig struct {
	Window                time.Duration
	Interval              time.Duration
	SourceIPMinEvents     int
	BruteForceMinFailures int
	SuspiciousMinTypes    int
	UserMinEvents         int
	UserMinSourceIPs      int
	FloodMinEvents        int
}

// ConnectorConfig selects and configures the outbound SOAR connector.
type ConnectorConfig struct {
	Kind     string
	Endpoint string
	APIKey   string
	Timeout  time.Duration

	// RateLimit caps outbound requests per second. Zero disables it.
	RateLimit float64
	RateBurst int
	// QueueSize bounds alerts and incidents waiting to be forwarded.
	QueueSize int
}

// Enabled reports whether a connector kind is configured.
func (c ConnectorConfig) Enabled() bool {
	return c.Kind != ""
}

// ServiceConfig holds configuration for the analytics service.
type ServiceConfig struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration

	WindowCapacity         int
	AnomalyHistoryCapacity int
	AnomalyContamination   float64

	ContextWindow  time.Duration
	EventRetention time.Duration
	Correlation    CorrelationConfig

	ClassifierModelPath string
	AnomalyModelPath    string
	PatternCatalogPath  string

	EventBufferSize        int
	AlertRetentionCount    int
	IncidentRetentionCount int

	Connector ConnectorConfig
}

// ClientConfig holds configuration for the threatctl client commands.
type ClientConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// DefaultServiceConfig returns service config from environment with defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		HTTPAddr:        GetEnv("HTTP_ADDR", ":8080"),
		ShutdownTimeout: GetEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		WindowCapacity:         GetEnvInt("WINDOW_CAPACITY", 100),
		AnomalyHistoryCapacity: GetEnvInt("ANOMALY_HISTORY_CAPACITY", 1000),
		AnomalyContamination:   GetEnvFloat("ANOMALY_CONTAMINATION", 0.1),

		ContextWindow:  GetEnvDuration("CONTEXT_WINDOW", time.Hour),
		EventRetention: GetEnvDuration("EVENT_RETENTION", 24*time.Hour),
		Correlation: CorrelationConfig{
			Window:                GetEnvDuration("CORRELATION_WINDOW", 60*time.Minute),
			Interval:              GetEnvDuration("CORRELATION_INTERVAL", 5*time.Minute),
			SourceIPMinEvents:     GetEnvInt("CORRELATION_SOURCE_IP_MIN_EVENTS", 5),
			BruteForceMinFailures: GetEnvInt("CORRELATION_BRUTE_FORCE_MIN_FAILURES", 3),
			SuspiciousMinTypes:    GetEnvInt("CORRELATION_SUSPICIOUS_MIN_TYPES", 3),
			UserMinEvents:         GetEnvInt("CORRELATION_USER_MIN_EVENTS", 10),
			UserMinSourceIPs:      GetEnvInt("CORRELATION_USER_MIN_SOURCE_IPS", 3),
			FloodMinEvents:        GetEnvInt("CORRELATION_FLOOD_MIN_EVENTS", 20),
		},

		ClassifierModelPath: GetEnv("CLASSIFIER_MODEL_PATH", "./models/alert_prioritizer.tcm"),
		AnomalyModelPath:    GetEnv("ANOMALY_MODEL_PATH", "./models/anomaly_detector.tcm"),
		PatternCatalogPath:  GetEnv("PATTERN_CATALOG_PATH", ""),

		EventBufferSize:        GetEnvInt("EVENT_BUFFER_SIZE", 10000),
		AlertRetentionCount:    GetEnvInt("ALERT_RETENTION_COUNT", 10000),
		IncidentRetentionCount: GetEnvInt("INCIDENT_RETENTION_COUNT", 1000),

		Connector: ConnectorConfig{
			Kind:     strings.ToLower(GetEnv("CONNECTOR_KIND", "")),
			Endpoint: GetEnv("CONNECTOR_ENDPOINT", ""),
			APIKey:   GetEnv("CONNECTOR_API_KEY", ""),
			Timeout:  GetEnvDuration("CONNECTOR_TIMEOUT", 30*time.Second),

			RateLimit: GetEnvFloat("CONNECTOR_RATE_LIMIT", 10),
			RateBurst: GetEnvInt("CONNECTOR_RATE_BURST", 20),
			QueueSize: GetEnvInt("CONNECTOR_QUEUE_SIZE", 1000),
		},
	}
}

// DefaultClientConfig returns threatctl client config from environment.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Endpoint: GetEnv("THREATCORE_ENDPOINT", "http://localhost:8080"),
		Timeout:  GetEnvDuration("THREATCORE_TIMEOUT", 10*time.Second),
	}
}
