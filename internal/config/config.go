// Package config handles configuration loading for every pulsegrid process.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration. Each process loads the whole file but
// only reads the sections relevant to it.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Broker        BrokerConfig        `yaml:"broker"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Normalization NormalizationConfig `yaml:"normalization"`
	Enricher      EnricherConfig      `yaml:"enricher"`
	Rules         RulesConfig         `yaml:"rules"`
	Registry      RegistryConfig      `yaml:"registry"`
	Scorer        ScorerConfig        `yaml:"scorer"`
	Observability ObservabilityConfig `yaml:"observability"`
	Shutdown      ShutdownConfig      `yaml:"shutdown"`
}

// ServiceConfig identifies the running process for logging/metrics/tracing.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// BrokerConfig configures the NATS JetStream connection shared by every
// producer/consumer.
type BrokerConfig struct {
	URL                      string `yaml:"url"`
	ClientID                 string `yaml:"client_id"`
	ConsumerGroup            string `yaml:"consumer_group"`
	MaxInFlight              int    `yaml:"max_in_flight"`
	ProducerRetryCount       int    `yaml:"producer_retry_count"`
	ProducerInitialBackoffMS int    `yaml:"producer_initial_backoff_ms"`
	ProducerMaxBackoffMS     int    `yaml:"producer_max_backoff_ms"`
	PoisonRetryLimit         int    `yaml:"poison_retry_limit"`
}

// InitialBackoff returns the producer's starting retry backoff, defaulting
// to 100ms.
func (b BrokerConfig) InitialBackoff() time.Duration {
	if b.ProducerInitialBackoffMS <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(b.ProducerInitialBackoffMS) * time.Millisecond
}

// MaxBackoff returns the producer's backoff cap, defaulting to 30s.
func (b BrokerConfig) MaxBackoff() time.Duration {
	if b.ProducerMaxBackoffMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.ProducerMaxBackoffMS) * time.Millisecond
}

// RetryCount returns the producer's retry attempt ceiling, defaulting to 8.
func (b BrokerConfig) RetryCount() int {
	if b.ProducerRetryCount <= 0 {
		return 8
	}
	return b.ProducerRetryCount
}

// PoisonLimit returns the consumer's redelivery ceiling before a message is
// terminated as a poison pill, defaulting to 8.
func (b BrokerConfig) PoisonLimit() int {
	if b.PoisonRetryLimit <= 0 {
		return 8
	}
	return b.PoisonRetryLimit
}

// RPCPeerConfig configures an outbound grpc dependency (Registry or Scorer).
type RPCPeerConfig struct {
	Address      string `yaml:"address"`
	TimeoutMS    int    `yaml:"timeout_ms"`
	RetryCount   int    `yaml:"retry_count"`
	RetryDelayMS int    `yaml:"retry_delay_ms"`
}

// Timeout returns the configured per-call deadline, defaulting to 5s.
func (r RPCPeerConfig) Timeout() time.Duration {
	if r.TimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

// RetryDelay returns the linear backoff unit used between retries.
func (r RPCPeerConfig) RetryDelay() time.Duration {
	if r.RetryDelayMS <= 0 {
		return 1 * time.Second
	}
	return time.Duration(r.RetryDelayMS) * time.Millisecond
}

// Retries returns the configured retry attempt count, defaulting to 3.
func (r RPCPeerConfig) Retries() int {
	if r.RetryCount <= 0 {
		return 3
	}
	return r.RetryCount
}

// GatewayConfig configures the ingest process (C3).
type GatewayConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	GRPCPort     int           `yaml:"grpc_port"`
	VerifyDevice bool          `yaml:"verify_device"`
	Registry     RPCPeerConfig `yaml:"registry"`
}

// ClampBounds is the acceptable physiological range for one metric.
type ClampBounds struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// NormalizationConfig configures the Normalizer (C4).
type NormalizationConfig struct {
	HeartRateBounds             ClampBounds `yaml:"heart_rate_bounds"`
	OxygenSaturationBounds      ClampBounds `yaml:"oxygen_saturation_bounds"`
	TemperatureCelsiusBounds    ClampBounds `yaml:"temperature_celsius_bounds"`
	TemperatureFahrenheitBounds ClampBounds `yaml:"temperature_fahrenheit_bounds"`
}

// HeartRate returns the configured clamp bounds, defaulting to [20, 240] bpm.
func (n NormalizationConfig) HeartRate() ClampBounds {
	if n.HeartRateBounds.Max == 0 {
		return ClampBounds{Min: 20, Max: 240}
	}
	return n.HeartRateBounds
}

// OxygenSaturation returns the configured clamp bounds, defaulting to [50, 100]%.
func (n NormalizationConfig) OxygenSaturation() ClampBounds {
	if n.OxygenSaturationBounds.Max == 0 {
		return ClampBounds{Min: 50, Max: 100}
	}
	return n.OxygenSaturationBounds
}

// TemperatureCelsius returns the configured clamp bounds, defaulting to [30, 45]°C.
func (n NormalizationConfig) TemperatureCelsius() ClampBounds {
	if n.TemperatureCelsiusBounds.Max == 0 {
		return ClampBounds{Min: 30, Max: 45}
	}
	return n.TemperatureCelsiusBounds
}

// TemperatureFahrenheit returns the configured clamp bounds, defaulting to
// the Fahrenheit analogue of [30, 45]°C.
func (n NormalizationConfig) TemperatureFahrenheit() ClampBounds {
	if n.TemperatureFahrenheitBounds.Max == 0 {
		return ClampBounds{Min: 86, Max: 113}
	}
	return n.TemperatureFahrenheitBounds
}

// EnricherConfig configures the Enricher (C5).
type EnricherConfig struct {
	Registry RPCPeerConfig `yaml:"registry"`
}

// RulesConfig configures the Rules Engine's fixed rule set (C6).
type RulesConfig struct {
	HRVeryHighValue float64       `yaml:"hr_very_high"`
	SpO2LowValue    float64       `yaml:"spo2_low"`
	Scorer          RPCPeerConfig `yaml:"scorer"`
}

// HRVeryHigh returns the configured R4 heart-rate threshold, defaulting to 120.
func (r RulesConfig) HRVeryHigh() float64 {
	if r.HRVeryHighValue == 0 {
		return 120
	}
	return r.HRVeryHighValue
}

// SpO2Low returns the configured R4 oxygen-saturation threshold, defaulting to 90.
func (r RulesConfig) SpO2Low() float64 {
	if r.SpO2LowValue == 0 {
		return 90
	}
	return r.SpO2LowValue
}

// RegistryConfig configures the Registry process (C1).
type RegistryConfig struct {
	GRPCPort int    `yaml:"grpc_port"`
	SeedFile string `yaml:"seed_file"`
}

// ScorerConfig configures the Anomaly Scorer process (C2).
type ScorerConfig struct {
	GRPCPort         int    `yaml:"grpc_port"`
	WindowSizeValue  int    `yaml:"window_size"`
	MinSamplesValue  int    `yaml:"min_samples"`
	BaselineTTLHours int    `yaml:"baseline_ttl_hours"`
	CacheEnabled     bool   `yaml:"cache_enabled"`
	CacheAddress     string `yaml:"cache_address"`
	DedupeByEventID  bool   `yaml:"dedupe_by_event_id"`
}

// WindowSize returns the configured ring-buffer size, defaulting to 100.
func (s ScorerConfig) WindowSize() int {
	if s.WindowSizeValue <= 0 {
		return 100
	}
	return s.WindowSizeValue
}

// MinSamples returns the configured bootstrap threshold, defaulting to 10.
func (s ScorerConfig) MinSamples() int {
	if s.MinSamplesValue <= 0 {
		return 10
	}
	return s.MinSamplesValue
}

// BaselineTTL returns the configured baseline retention, defaulting to 7 days.
func (s ScorerConfig) BaselineTTL() time.Duration {
	if s.BaselineTTLHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(s.BaselineTTLHours) * time.Hour
}

// ObservabilityConfig configures logging, metrics and tracing (ambient stack).
type ObservabilityConfig struct {
	LogLevel       string  `yaml:"log_level"`
	LogFormat      string  `yaml:"log_format"`
	MetricsPort    int     `yaml:"metrics_port"`
	TracingEnabled bool    `yaml:"tracing_enabled"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	LineageAudit   bool    `yaml:"lineage_audit"`
}

// ShutdownConfig configures graceful-shutdown deadlines.
type ShutdownConfig struct {
	DeadlineMS int `yaml:"deadline_ms"`
}

// Deadline returns the configured shutdown deadline, defaulting to 30s.
func (s ShutdownConfig) Deadline() time.Duration {
	if s.DeadlineMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.DeadlineMS) * time.Millisecond
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Service.Name == "" {
		return nil, fmt.Errorf("service.name is required")
	}
	if cfg.Broker.URL == "" {
		return nil, fmt.Errorf("broker.url is required")
	}
	if cfg.Broker.MaxInFlight <= 0 {
		cfg.Broker.MaxInFlight = 1
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.SamplingRate == 0 {
		cfg.Observability.SamplingRate = 1.0
	}

	return &cfg, nil
}
