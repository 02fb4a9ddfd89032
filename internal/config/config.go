package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DBPath          string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	SentryDSN       string

	// Aggregation settings.
	Cluster         domain.ClusterParams
	Score           domain.ScoreConfig
	ZonesFile       string
	DefaultLookback time.Duration
	RunInterval     time.Duration

	// Summary synthesis.
	SynthesisWorkers  int
	GenerationTimeout time.Duration
	GenerationRetries int
	GeminiAPIKey      string
	GeminiModel       string
	GeminiBaseURL     string
	GeminiEnabled     bool
	SummaryCacheTTL   time.Duration

	// Optional incident publishers.
	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaIncidentTopic string
	MQTTBroker         string
	MQTTTopic          string
	MQTTClientID       string
	MQTTMinRisk        domain.RiskLevel
}

// Load reads configuration from environment variables, applying defaults where unset.
// Every error wraps domain.ErrConfiguration and names the offending variable.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}

	var p parser

	cfg := &Config{
		DBPath:          sharedcfg.EnvOrDefault("DB_PATH", "./data/uavo.db"),
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		SentryDSN:       os.Getenv("SENTRY_DSN"),

		Cluster: domain.ClusterParams{
			TimeWindow:         p.duration("TIME_WINDOW", "15m"),
			SpatialThresholdKm: p.decimal("SPATIAL_THRESHOLD_KM", "5"),
		},
		Score: domain.ScoreConfig{
			Weights:              p.weights("CONFIDENCE_WEIGHTS"),
			HighSignalConfidence: p.decimal("HIGH_SIGNAL_CONFIDENCE", "0.7"),
			Thresholds:           p.thresholds("RISK_THRESHOLDS"),
		},
		ZonesFile:       os.Getenv("ZONES_FILE"),
		DefaultLookback: p.duration("DEFAULT_LOOKBACK", "24h"),
		RunInterval:     p.duration("RUN_INTERVAL", "5m"),

		SynthesisWorkers:  p.integer("SYNTHESIS_WORKERS", "4"),
		GenerationTimeout: p.duration("GENERATION_TIMEOUT", "5s"),
		GenerationRetries: p.integer("GENERATION_RETRIES", "0"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       sharedcfg.EnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL:     os.Getenv("GEMINI_BASE_URL"),
		SummaryCacheTTL:   p.duration("SUMMARY_CACHE_TTL", "24h"),

		KafkaEnabled:       os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaIncidentTopic: sharedcfg.EnvOrDefault("KAFKA_INCIDENT_TOPIC", "uavo-incidents"),
		MQTTBroker:         os.Getenv("MQTT_BROKER"),
		MQTTTopic:          sharedcfg.EnvOrDefault("MQTT_TOPIC", "uavo/alerts"),
		MQTTClientID:       sharedcfg.EnvOrDefault("MQTT_CLIENT_ID", "uavo-incident-aggregator"),
		MQTTMinRisk:        p.risk("MQTT_MIN_RISK", "high"),
	}
	if p.err != nil {
		return nil, p.err
	}

	cfg.GeminiEnabled = cfg.GeminiAPIKey != ""
	if v := os.Getenv("GEMINI_ENABLED"); v != "" {
		cfg.GeminiEnabled = v == "true"
	}

	if cfg.ZonesFile != "" {
		zones, err := LoadZones(cfg.ZonesFile)
		if err != nil {
			return nil, err
		}
		cfg.Score.Zones = zones
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints and normalizes the confidence
// weights. It is called by Load and again after CLI flags override values.
func (c *Config) Validate() error {
	if c.Cluster.TimeWindow <= 0 {
		return configErr("TIME_WINDOW must be positive")
	}
	if !(c.Cluster.SpatialThresholdKm > 0) {
		return configErr("SPATIAL_THRESHOLD_KM must be positive")
	}
	w, err := c.Score.Weights.Normalize()
	if err != nil {
		return fmt.Errorf("CONFIDENCE_WEIGHTS: %w", err)
	}
	c.Score.Weights = w
	if err := c.Score.Thresholds.Validate(); err != nil {
		return fmt.Errorf("RISK_THRESHOLDS: %w", err)
	}
	if c.Score.HighSignalConfidence < 0 || c.Score.HighSignalConfidence > 1 {
		return configErr("HIGH_SIGNAL_CONFIDENCE must be within [0,1]")
	}
	if c.DBPath == "" {
		return configErr("DB_PATH is required")
	}
	if c.DefaultLookback <= 0 {
		return configErr("DEFAULT_LOOKBACK must be positive")
	}
	if c.RunInterval <= 0 {
		return configErr("RUN_INTERVAL must be positive")
	}
	if c.SynthesisWorkers < 1 {
		return configErr("SYNTHESIS_WORKERS must be at least 1")
	}
	if c.GenerationTimeout <= 0 {
		return configErr("GENERATION_TIMEOUT must be positive")
	}
	if c.GenerationRetries < 0 || c.GenerationRetries > 1 {
		return configErr("GENERATION_RETRIES must be 0 or 1")
	}
	if c.GeminiEnabled && c.GeminiAPIKey == "" {
		return configErr("GEMINI_ENABLED is true but GEMINI_API_KEY is not set")
	}
	if c.KafkaEnabled {
		if len(c.KafkaBrokers) == 0 {
			return configErr("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if c.KafkaIncidentTopic == "" {
			return configErr("KAFKA_INCIDENT_TOPIC is required when KAFKA_ENABLED is true")
		}
	}
	if c.MQTTBroker != "" && c.MQTTTopic == "" {
		return configErr("MQTT_TOPIC is required when MQTT_BROKER is set")
	}
	return nil
}

// ParseWeights parses "a,b,c" into point-count, diversity and correlation weights.
func ParseWeights(s string) (domain.Weights, error) {
	v, err := parseTriple(s)
	if err != nil {
		return domain.Weights{}, err
	}
	return domain.Weights{PointCount: v[0], Diversity: v[1], Correlation: v[2]}, nil
}

// ParseThresholds parses "medium,high,critical" risk bucket boundaries.
func ParseThresholds(s string) (domain.RiskThresholds, error) {
	v, err := parseTriple(s)
	if err != nil {
		return domain.RiskThresholds{}, err
	}
	return domain.RiskThresholds{Medium: v[0], High: v[1], Critical: v[2]}, nil
}

func parseTriple(s string) ([3]float64, error) {
	var out [3]float64
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return out, fmt.Errorf("expected three comma-separated numbers, got %q", s)
	}
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return out, fmt.Errorf("parse %q: %w", part, err)
		}
		out[i] = v
	}
	return out, nil
}

func configErr(msg string) error {
	return fmt.Errorf("%w: %s", domain.ErrConfiguration, msg)
}

// parser accumulates the first error while reading variables so Load can
// build the struct in one literal.
type parser struct {
	err error
}

func (p *parser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: invalid %s %q: %w", domain.ErrConfiguration, key, value, err)
	}
}

func (p *parser) duration(key, def string) time.Duration {
	s := sharedcfg.EnvOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		p.fail(key, s, err)
	}
	return d
}

func (p *parser) decimal(key, def string) float64 {
	s := sharedcfg.EnvOrDefault(key, def)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.fail(key, s, err)
	}
	return v
}

func (p *parser) integer(key, def string) int {
	s := sharedcfg.EnvOrDefault(key, def)
	v, err := strconv.Atoi(s)
	if err != nil {
		p.fail(key, s, err)
	}
	return v
}

func (p *parser) weights(key string) domain.Weights {
	s := os.Getenv(key)
	if s == "" {
		return domain.DefaultWeights()
	}
	w, err := ParseWeights(s)
	if err != nil {
		p.fail(key, s, err)
	}
	return w
}

func (p *parser) thresholds(key string) domain.RiskThresholds {
	s := os.Getenv(key)
	if s == "" {
		return domain.DefaultRiskThresholds()
	}
	t, err := ParseThresholds(s)
	if err != nil {
		p.fail(key, s, err)
	}
	return t
}

func (p *parser) risk(key, def string) domain.RiskLevel {
	s := sharedcfg.EnvOrDefault(key, def)
	r, ok := domain.ParseRiskLevel(s)
	if !ok {
		p.fail(key, s, fmt.Errorf("want one of low, medium, high, critical"))
	}
	return r
}
