package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level finsight service configuration, loaded from
// config/finsight.yaml with FINSIGHT_* environment overrides.
type Config struct {
	Service         ServiceConfig         `mapstructure:"service" yaml:"service"`
	Logging         LoggingConfig         `mapstructure:"logging" yaml:"logging"`
	Redis           RedisConfig           `mapstructure:"redis" yaml:"redis"`
	Session         SessionConfig         `mapstructure:"session" yaml:"session"`
	LLM             LLMConfig             `mapstructure:"llm" yaml:"llm"`
	Embeddings      EmbeddingsConfig      `mapstructure:"embeddings" yaml:"embeddings"`
	Market          MarketConfig          `mapstructure:"market" yaml:"market"`
	News            NewsConfig            `mapstructure:"news" yaml:"news"`
	Vector          VectorConfig          `mapstructure:"vector" yaml:"vector"`
	Pipeline        PipelineConfig        `mapstructure:"pipeline" yaml:"pipeline"`
	Streaming       StreamingConfig       `mapstructure:"streaming" yaml:"streaming"`
	Tracing         TracingConfig         `mapstructure:"tracing" yaml:"tracing"`
	CircuitBreakers CircuitBreakersConfig `mapstructure:"circuit_breakers" yaml:"circuit_breakers"`
	RateLimits      RateLimitsConfig      `mapstructure:"rate_limits" yaml:"rate_limits"`
}

// ServiceConfig contains HTTP server settings.
type ServiceConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout" yaml:"graceful_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes" yaml:"max_header_bytes"`
}

// LoggingConfig contains zap logger settings.
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
	Encoding    string `mapstructure:"encoding" yaml:"encoding"` // "json" or "console"
}

// RedisConfig contains session store connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SessionConfig contains session lifecycle settings.
type SessionConfig struct {
	TTL        time.Duration `mapstructure:"ttl" yaml:"ttl"`                 // session expiry
	MaxHistory int           `mapstructure:"max_history" yaml:"max_history"` // turns kept per session
	CacheSize  int           `mapstructure:"cache_size" yaml:"cache_size"`   // local LRU capacity
}

// LLMConfig contains generation collaborator settings. The fast model serves
// query resolution, intent classification, and news query generation; the
// strong model serves final answer synthesis.
type LLMConfig struct {
	APIKey          string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL         string        `mapstructure:"base_url" yaml:"base_url"` // optional OpenAI-compatible endpoint
	FastModel       string        `mapstructure:"fast_model" yaml:"fast_model"`
	StrongModel     string        `mapstructure:"strong_model" yaml:"strong_model"`
	Temperature     float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ClassifyTimeout time.Duration `mapstructure:"classify_timeout" yaml:"classify_timeout"`
}

// EmbeddingsConfig contains embedding collaborator settings.
type EmbeddingsConfig struct {
	Model     string        `mapstructure:"model" yaml:"model"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	CacheSize int           `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// MarketConfig contains market-data collaborator settings.
type MarketConfig struct {
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"` // override for tests
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	HistoryDays int           `mapstructure:"history_days" yaml:"history_days"`
}

// NewsConfig contains news-search collaborator settings.
type NewsConfig struct {
	APIKey   string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL  string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PageSize int           `mapstructure:"page_size" yaml:"page_size"`
}

// VectorConfig contains similarity-search collaborator settings (Qdrant).
type VectorConfig struct {
	Host       string        `mapstructure:"host" yaml:"host"`
	Port       int           `mapstructure:"port" yaml:"port"`
	Collection string        `mapstructure:"collection" yaml:"collection"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	FetchK     int           `mapstructure:"fetch_k" yaml:"fetch_k"`       // candidate pool before diversity selection
	MMRLambda  float64       `mapstructure:"mmr_lambda" yaml:"mmr_lambda"` // 1.0 = pure relevance, 0.0 = pure diversity
}

// BaseURL returns the Qdrant HTTP endpoint.
func (v VectorConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", v.Host, v.Port)
}

// PipelineConfig controls router behavior.
type PipelineConfig struct {
	// Policy selects the orchestration shape: "parallel" runs every fetcher
	// concurrently (no-op when unneeded), "chain" visits needed fetchers in
	// fixed priority order.
	Policy       string        `mapstructure:"policy" yaml:"policy"`
	StageTimeout time.Duration `mapstructure:"stage_timeout" yaml:"stage_timeout"`
}

// StreamingConfig contains step-event streaming settings.
type StreamingConfig struct {
	RingCapacity int `mapstructure:"ring_capacity" yaml:"ring_capacity"`
}

// TracingConfig contains OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	ServiceName  string `mapstructure:"service_name" yaml:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
}

// CircuitBreakerConfig represents one breaker's settings.
type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled" yaml:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout" yaml:"reset_timeout"`
	HalfOpenRequests int           `mapstructure:"half_open_requests" yaml:"half_open_requests"`
}

// CircuitBreakersConfig holds per-collaborator breaker settings.
type CircuitBreakersConfig struct {
	LLM    CircuitBreakerConfig `mapstructure:"llm" yaml:"llm"`
	Market CircuitBreakerConfig `mapstructure:"market" yaml:"market"`
	News   CircuitBreakerConfig `mapstructure:"news" yaml:"news"`
	Vector CircuitBreakerConfig `mapstructure:"vector" yaml:"vector"`
}

// RateLimitConfig represents one outbound limiter's settings.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" yaml:"rps"`
	Burst int     `mapstructure:"burst" yaml:"burst"`
}

// RateLimitsConfig holds per-collaborator outbound rate limits.
type RateLimitsConfig struct {
	LLM    RateLimitConfig `mapstructure:"llm" yaml:"llm"`
	Market RateLimitConfig `mapstructure:"market" yaml:"market"`
	News   RateLimitConfig `mapstructure:"news" yaml:"news"`
}

// Default returns the configuration used when no file or override is present.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Port:            8080,
			GracefulTimeout: 30 * time.Second,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    0, // streaming responses manage their own deadlines
			MaxHeaderBytes:  1 << 20,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Session: SessionConfig{
			TTL:        30 * time.Minute,
			MaxHistory: 50,
			CacheSize:  1000,
		},
		LLM: LLMConfig{
			FastModel:       "gpt-4o-mini",
			StrongModel:     "gpt-4o",
			Temperature:     0.3,
			MaxTokens:       1500,
			RequestTimeout:  45 * time.Second,
			ClassifyTimeout: 10 * time.Second,
		},
		Embeddings: EmbeddingsConfig{
			Model:     "text-embedding-3-small",
			Timeout:   10 * time.Second,
			CacheSize: 2048,
			CacheTTL:  time.Hour,
		},
		Market: MarketConfig{
			Timeout:     15 * time.Second,
			HistoryDays: 365,
		},
		News: NewsConfig{
			BaseURL:  "https://serpapi.com/search",
			Timeout:  10 * time.Second,
			PageSize: 5,
		},
		Vector: VectorConfig{
			Host:       "localhost",
			Port:       6333,
			Collection: "filing_chunks",
			Timeout:    5 * time.Second,
			FetchK:     20,
			MMRLambda:  0.5,
		},
		Pipeline: PipelineConfig{
			Policy:       "parallel",
			StageTimeout: 60 * time.Second,
		},
		Streaming: StreamingConfig{
			RingCapacity: 256,
		},
		Tracing: TracingConfig{
			ServiceName: "finsight",
		},
		CircuitBreakers: CircuitBreakersConfig{
			LLM:    CircuitBreakerConfig{Enabled: true, FailureThreshold: 5, ResetTimeout: 60 * time.Second, HalfOpenRequests: 1},
			Market: CircuitBreakerConfig{Enabled: true, FailureThreshold: 5, ResetTimeout: 60 * time.Second, HalfOpenRequests: 1},
			News:   CircuitBreakerConfig{Enabled: true, FailureThreshold: 3, ResetTimeout: 60 * time.Second, HalfOpenRequests: 1},
			Vector: CircuitBreakerConfig{Enabled: true, FailureThreshold: 5, ResetTimeout: 30 * time.Second, HalfOpenRequests: 2},
		},
		RateLimits: RateLimitsConfig{
			LLM:    RateLimitConfig{RPS: 5, Burst: 10},
			Market: RateLimitConfig{RPS: 10, Burst: 20},
			News:   RateLimitConfig{RPS: 2, Burst: 4},
		},
	}
}

// Load reads configuration from path (or CONFIG_PATH, or config/finsight.yaml)
// layered over defaults, then applies environment overrides. A missing file is
// not an error: defaults plus environment are a valid configuration.
func Load(path string) (*Config, error) {
	v := viper.New()
	if err := bindViper(v, path); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindViper(v *viper.Viper, path string) error {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config/finsight.yaml"
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("FINSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}
	return nil
}

// applyEnvOverrides maps the conventional provider environment variables onto
// the config so deployments do not need to place secrets in YAML.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		cfg.Market.APIKey = v
	}
	if v := os.Getenv("SERPAPI_API_KEY"); v != "" {
		cfg.News.APIKey = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil && p > 0 {
			cfg.Redis.Port = p
		}
	}
	if v := os.Getenv("QDRANT_HOST"); v != "" {
		cfg.Vector.Host = v
	}
	if v := os.Getenv("QDRANT_PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil && p > 0 {
			cfg.Vector.Port = p
		}
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		return fmt.Errorf("service.port %d out of range", c.Service.Port)
	}
	switch c.Pipeline.Policy {
	case "parallel", "chain":
	default:
		return fmt.Errorf("pipeline.policy %q: must be \"parallel\" or \"chain\"", c.Pipeline.Policy)
	}
	if c.Vector.MMRLambda < 0 || c.Vector.MMRLambda > 1 {
		return fmt.Errorf("vector.mmr_lambda %.2f out of [0,1]", c.Vector.MMRLambda)
	}
	if c.Vector.FetchK < 1 {
		return fmt.Errorf("vector.fetch_k must be >= 1")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	if c.LLM.ClassifyTimeout <= 0 {
		return fmt.Errorf("llm.classify_timeout must be positive")
	}
	switch c.Logging.Encoding {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.encoding %q: must be \"json\" or \"console\"", c.Logging.Encoding)
	}
	return nil
}
