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

// Config captures the settings required to boot the RCA service and CLI.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Baseline    BaselineConfig    `yaml:"baseline"`
	Grounded    GroundedConfig    `yaml:"grounded"`
	Corpus      CorpusConfig      `yaml:"corpus"`
	Store       StoreConfig       `yaml:"store"`
	Cache       CacheConfig       `yaml:"cache"`
	Auth        AuthConfig        `yaml:"auth"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CorrelationConfig holds the grouping parameters. The floor and percentile are
// calibration knobs, not constants.
type CorrelationConfig struct {
	Window          time.Duration `yaml:"window"`
	MinAlerts       int           `yaml:"minAlerts"`
	NoisePercentile float64       `yaml:"noisePercentile"`
	GroupingTag     string        `yaml:"groupingTag"`
	IgnoredTags     []string      `yaml:"ignoredTags"`
	SampleSize      int           `yaml:"sampleSize"`
}

// BaselineConfig points at an optional YAML rule catalog replacing the built-in one.
type BaselineConfig struct {
	RulesPath string `yaml:"rulesPath"`
}

// GroundedConfig configures the model-backed reasoner and its provider.
type GroundedConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"baseURL"`
	APIKey            string        `yaml:"apiKey"`
	Timeout           time.Duration `yaml:"timeout"`
	Temperature       float64       `yaml:"temperature"`
	MaxSampledAlerts  int           `yaml:"maxSampledAlerts"`
	TopK              int           `yaml:"topK"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
}

// CorpusConfig configures document retrieval.
type CorpusConfig struct {
	Dir      string         `yaml:"dir"`
	Weaviate WeaviateConfig `yaml:"weaviate"`
}

// WeaviateConfig configures the optional vector search cluster.
type WeaviateConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
	Class    string        `yaml:"class"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// CacheConfig controls Valkey-backed caching of retrieval lookups.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	RetrievalTTL time.Duration `yaml:"retrievalTTL"`
}

// AuthConfig enables reviewer identity verification on review calls.
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	Issuer    string `yaml:"issuer"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("TELEOPS_RCA_CONFIG")
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

// Default returns the built-in configuration without reading files or the environment.
func Default() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Correlation: CorrelationConfig{
			Window:          15 * time.Minute,
			MinAlerts:       10,
			NoisePercentile: 25,
			GroupingTag:     "incident",
			IgnoredTags:     []string{"noise"},
			SampleSize:      5,
		},
		Grounded: GroundedConfig{
			Enabled:           true,
			Model:             "gpt-4o-mini",
			BaseURL:           "http://localhost:8089/v1",
			Timeout:           30 * time.Second,
			Temperature:       0.2,
			MaxSampledAlerts:  20,
			TopK:              4,
			RequestsPerSecond: 2,
			Burst:             4,
		},
		Corpus: CorpusConfig{
			Dir:      "docs/rag_corpus",
			Weaviate: WeaviateConfig{Timeout: 5 * time.Second, Class: "RunbookChunk"},
		},
		Store: StoreConfig{Driver: "memory"},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			RetrievalTTL: 5 * time.Minute,
		},
	}
}

// Validate rejects parameter combinations the engine cannot run with.
func (c Config) Validate() error {
	corr := c.Correlation
	if corr.Window <= 0 {
		return fmt.Errorf("correlation.window must be positive")
	}
	if corr.MinAlerts < 1 {
		return fmt.Errorf("correlation.minAlerts must be at least 1")
	}
	if corr.NoisePercentile < 0 || corr.NoisePercentile > 100 {
		return fmt.Errorf("correlation.noisePercentile must be within [0,100]")
	}
	if strings.TrimSpace(corr.GroupingTag) == "" {
		return fmt.Errorf("correlation.groupingTag is required")
	}
	if c.Grounded.Enabled {
		if strings.TrimSpace(c.Grounded.Model) == "" {
			return fmt.Errorf("grounded.model is required when grounded reasoning is enabled")
		}
		if c.Grounded.Model == "baseline-rules" {
			return fmt.Errorf("grounded.model must not reuse the baseline reasoner identity")
		}
		if c.Grounded.Timeout <= 0 {
			return fmt.Errorf("grounded.timeout must be positive")
		}
	}
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver %q not supported", c.Store.Driver)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TELEOPS_RCA_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("TELEOPS_RCA_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("TELEOPS_RCA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TELEOPS_RCA_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("TELEOPS_RCA_CORRELATION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Correlation.Window = d
		}
	}
	if v := os.Getenv("TELEOPS_RCA_CORRELATION_MIN_ALERTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Correlation.MinAlerts = n
		}
	}
	if v := os.Getenv("TELEOPS_RCA_CORRELATION_NOISE_PERCENTILE"); v != "" {
		if p, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Correlation.NoisePercentile = p
		}
	}
	if v := os.Getenv("TELEOPS_RCA_RULES_PATH"); v != "" {
		cfg.Baseline.RulesPath = v
	}
	if v := os.Getenv("TELEOPS_RCA_GROUNDED_ENABLED"); v != "" {
		cfg.Grounded.Enabled = parseBool(v)
	}
	if v := os.Getenv("TELEOPS_RCA_LLM_MODEL"); v != "" {
		cfg.Grounded.Model = v
	}
	if v := os.Getenv("TELEOPS_RCA_LLM_BASE_URL"); v != "" {
		cfg.Grounded.BaseURL = v
	}
	if v := os.Getenv("TELEOPS_RCA_LLM_API_KEY"); v != "" {
		cfg.Grounded.APIKey = v
	}
	if v := os.Getenv("TELEOPS_RCA_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Grounded.Timeout = d
		}
	}
	if v := os.Getenv("TELEOPS_RCA_RAG_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Grounded.TopK = n
		}
	}
	if v := os.Getenv("TELEOPS_RCA_CORPUS_DIR"); v != "" {
		cfg.Corpus.Dir = v
	}
	if v := os.Getenv("TELEOPS_RCA_WEAVIATE_URL"); v != "" {
		cfg.Corpus.Weaviate.Endpoint = v
	}
	if v := os.Getenv("TELEOPS_RCA_WEAVIATE_API_KEY"); v != "" {
		cfg.Corpus.Weaviate.APIKey = v
	}
	if v := os.Getenv("TELEOPS_RCA_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("TELEOPS_RCA_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("TELEOPS_RCA_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("TELEOPS_RCA_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("TELEOPS_RCA_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("TELEOPS_RCA_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("TELEOPS_RCA_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("TELEOPS_RCA_CACHE_TLS"); parseBool(v) {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("TELEOPS_RCA_CACHE_RETRIEVAL_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.RetrievalTTL = d
		}
	}
	if v := os.Getenv("TELEOPS_RCA_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
