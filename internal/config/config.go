package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Channel types understood by the channel factory.
const (
	ChannelWebhook = "webhook"
	ChannelEmail   = "email"
	ChannelConsole = "console"
	ChannelNATS    = "nats"
	ChannelKafka   = "kafka"
)

// Config captures every setting required to boot latencyguard.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Store     StoreConfig     `yaml:"store"`
	Detector  DetectorConfig  `yaml:"detector"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Lock      LockConfig      `yaml:"lock"`
	Channels  []ChannelConfig `yaml:"channels"`
	Collector CollectorConfig `yaml:"collector"`
}

// ServerConfig controls the gRPC control API and the HTTP dashboard listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	HTTPAddress     string        `yaml:"httpAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	SummaryTTL      time.Duration `yaml:"summaryTTL"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// StoreConfig locates the SQLite sample store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// DetectorConfig tunes the isolation forest.
type DetectorConfig struct {
	Trees         int     `yaml:"trees"`
	SampleSize    int     `yaml:"sampleSize"`
	Contamination float64 `yaml:"contamination"`
	Seed          int64   `yaml:"seed"`
	Workers       int     `yaml:"workers"`
}

// PipelineConfig controls the detection schedule and dispatch.
type PipelineConfig struct {
	Interval       time.Duration `yaml:"interval"`
	ChannelTimeout time.Duration `yaml:"channelTimeout"`
	DigestTitle    string        `yaml:"digestTitle"`
}

// LockConfig enables a Valkey lease so only one replica runs a cycle at a time.
type LockConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	TLS          bool          `yaml:"tls"`
	Key          string        `yaml:"key"`
	TTL          time.Duration `yaml:"ttl"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
}

// ChannelConfig declares one notification channel. Only the fields relevant to Type are read.
type ChannelConfig struct {
	Name     string        `yaml:"name"`
	Type     string        `yaml:"type"`
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int           `yaml:"maxBytes"`

	// webhook
	URL string `yaml:"url"`

	// email
	SMTPHost string   `yaml:"smtpHost"`
	SMTPPort int      `yaml:"smtpPort"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	TLS      bool     `yaml:"tls"`

	// nats
	NATSURL string `yaml:"natsURL"`
	Subject string `yaml:"subject"`

	// kafka
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// CollectorConfig controls the optional built-in endpoint prober.
type CollectorConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	Timeout   time.Duration `yaml:"timeout"`
	Endpoints []string      `yaml:"endpoints"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("LATENCYGUARD_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the detector or channel factory cannot honour.
func (c *Config) Validate() error {
	var errs []error
	if q := c.Detector.Contamination; q <= 0 || q > 0.5 {
		errs = append(errs, fmt.Errorf("detector.contamination must be in (0, 0.5], got %v", q))
	}
	if c.Detector.Trees < 1 {
		errs = append(errs, fmt.Errorf("detector.trees must be >= 1, got %d", c.Detector.Trees))
	}
	if c.Detector.SampleSize < 2 {
		errs = append(errs, fmt.Errorf("detector.sampleSize must be >= 2, got %d", c.Detector.SampleSize))
	}
	if c.Pipeline.Interval <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.interval must be positive"))
	}
	if c.Lock.Enabled && c.Lock.Addr == "" {
		errs = append(errs, fmt.Errorf("lock.addr is required when the distributed lock is enabled"))
	}
	if c.Collector.Enabled && len(c.Collector.Endpoints) == 0 {
		errs = append(errs, fmt.Errorf("collector.endpoints is empty"))
	}

	names := make(map[string]struct{}, len(c.Channels))
	for i, ch := range c.Channels {
		label := ch.Name
		if label == "" {
			label = fmt.Sprintf("channels[%d]", i)
		}
		if _, dup := names[label]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate channel name", label))
		}
		names[label] = struct{}{}

		switch ch.Type {
		case ChannelWebhook:
			if ch.URL == "" {
				errs = append(errs, fmt.Errorf("%s: webhook url is required", label))
			}
		case ChannelEmail:
			if ch.SMTPHost == "" || ch.From == "" || len(ch.To) == 0 {
				errs = append(errs, fmt.Errorf("%s: email needs smtpHost, from and to", label))
			}
		case ChannelNATS:
			if ch.NATSURL == "" || ch.Subject == "" {
				errs = append(errs, fmt.Errorf("%s: nats needs natsURL and subject", label))
			}
		case ChannelKafka:
			if len(ch.Brokers) == 0 || ch.Topic == "" {
				errs = append(errs, fmt.Errorf("%s: kafka needs brokers and topic", label))
			}
		case ChannelConsole:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown channel type %q", label, ch.Type))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			HTTPAddress:     ":8080",
			GracefulTimeout: 10 * time.Second,
			SummaryTTL:      5 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false, MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
		Store:   StoreConfig{Path: "latencyguard.db"},
		Detector: DetectorConfig{
			Trees:         100,
			SampleSize:    256,
			Contamination: 0.05,
			Seed:          42,
		},
		Pipeline: PipelineConfig{
			Interval:       time.Minute,
			ChannelTimeout: 8 * time.Second,
		},
		Lock: LockConfig{
			Key:          "latencyguard:cycle",
			TTL:          5 * time.Minute,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Collector: CollectorConfig{
			Interval: 3 * time.Second,
			Timeout:  5 * time.Second,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LATENCYGUARD_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("LATENCYGUARD_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("LATENCYGUARD_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("LATENCYGUARD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LATENCYGUARD_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("LATENCYGUARD_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("LATENCYGUARD_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("LATENCYGUARD_DETECTOR_TREES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detector.Trees = n
		}
	}
	if v := os.Getenv("LATENCYGUARD_DETECTOR_SAMPLE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detector.SampleSize = n
		}
	}
	if v := os.Getenv("LATENCYGUARD_DETECTOR_CONTAMINATION"); v != "" {
		if q, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detector.Contamination = q
		}
	}
	if v := os.Getenv("LATENCYGUARD_DETECTOR_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Detector.Seed = seed
		}
	}
	if v := os.Getenv("LATENCYGUARD_DETECTOR_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detector.Workers = n
		}
	}
	if v := os.Getenv("LATENCYGUARD_PIPELINE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.Interval = d
		}
	}
	if v := os.Getenv("LATENCYGUARD_CHANNEL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.ChannelTimeout = d
		}
	}
	if v := os.Getenv("LATENCYGUARD_LOCK_ENABLED"); v != "" {
		cfg.Lock.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("LATENCYGUARD_LOCK_ADDR"); v != "" {
		cfg.Lock.Addr = v
	}
	if v := os.Getenv("LATENCYGUARD_LOCK_USERNAME"); v != "" {
		cfg.Lock.Username = v
	}
	if v := os.Getenv("LATENCYGUARD_LOCK_PASSWORD"); v != "" {
		cfg.Lock.Password = v
	}
	if v := os.Getenv("LATENCYGUARD_LOCK_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Lock.DB = db
		}
	}
	if v := os.Getenv("LATENCYGUARD_LOCK_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Lock.TLS = true
	}
	if v := os.Getenv("LATENCYGUARD_LOCK_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lock.TTL = d
		}
	}
	if v := os.Getenv("LATENCYGUARD_COLLECTOR_ENABLED"); v != "" {
		cfg.Collector.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("LATENCYGUARD_COLLECTOR_ENDPOINTS"); v != "" {
		cfg.Collector.Endpoints = splitList(v)
	}
	if v := os.Getenv("LATENCYGUARD_COLLECTOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Collector.Interval = d
		}
	}
	if v := os.Getenv("LATENCYGUARD_WEBHOOK_URL"); v != "" {
		cfg.Channels = append(cfg.Channels, ChannelConfig{Name: "webhook-env", Type: ChannelWebhook, URL: v})
	}
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
