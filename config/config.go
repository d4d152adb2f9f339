package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the prospecting service
type Config struct {
	General     GeneralConfig     `mapstructure:"general"`
	Server      ServerConfig      `mapstructure:"server"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Prospecting ProspectingConfig `mapstructure:"prospecting"`
	Workers     WorkersConfig     `mapstructure:"workers"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Events      EventsConfig      `mapstructure:"events"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // json or console
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return fmt.Errorf("server.address required")
	}
	return nil
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model to use for each LLM-backed component
type LLMRoutingConfig struct {
	Planning       string `mapstructure:"planning"`
	Classification string `mapstructure:"classification"`
	Compensation   string `mapstructure:"compensation"`
	Scoring        string `mapstructure:"scoring"`
	Fallback       string `mapstructure:"fallback"`
}

// Model returns the routed model name for a component, falling back when unset.
func (r LLMRoutingConfig) Model(component string) string {
	var m string
	switch component {
	case "planning":
		m = r.Planning
	case "classification":
		m = r.Classification
	case "compensation":
		m = r.Compensation
	case "scoring":
		m = r.Scoring
	}
	if m == "" {
		return r.Fallback
	}
	return m
}

func (l LLMConfig) Validate() error {
	if len(l.Providers) == 0 {
		return fmt.Errorf("llm.providers must contain at least one provider")
	}
	for name, p := range l.Providers {
		if strings.TrimSpace(p.Type) == "" {
			return fmt.Errorf("llm.providers.%s.type required", name)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("llm.providers.%s.models must not be empty", name)
		}
	}
	if l.Routing.Fallback == "" && l.Routing.Planning == "" {
		return fmt.Errorf("llm.routing.planning or llm.routing.fallback required")
	}
	return nil
}

// ProspectingConfig tunes the supervisor loop.
type ProspectingConfig struct {
	WorkerTimeout       time.Duration `mapstructure:"worker_timeout"`
	RunBudget           time.Duration `mapstructure:"run_budget"`
	MaxCostUSD          float64       `mapstructure:"max_cost_usd"`
	MinQueryLength      int           `mapstructure:"min_query_length"`
	MinSearchTerms      int           `mapstructure:"min_search_terms"`
	MaxTargetLeads      int           `mapstructure:"max_target_leads"`
	StagnationGuard     bool          `mapstructure:"stagnation_guard"`
	ClassifierBatchSize int           `mapstructure:"classifier_batch_size"`
}

func (p ProspectingConfig) Validate() error {
	if p.WorkerTimeout <= 0 {
		return fmt.Errorf("prospecting.worker_timeout must be > 0")
	}
	if p.RunBudget <= 0 {
		return fmt.Errorf("prospecting.run_budget must be > 0")
	}
	if p.RunBudget < p.WorkerTimeout {
		return fmt.Errorf("prospecting.run_budget must be >= prospecting.worker_timeout")
	}
	if p.MaxCostUSD < 0 {
		return fmt.Errorf("prospecting.max_cost_usd cannot be negative")
	}
	if p.MinSearchTerms < 2 {
		return fmt.Errorf("prospecting.min_search_terms must be >= 2")
	}
	if p.MaxTargetLeads < 1 {
		return fmt.Errorf("prospecting.max_target_leads must be >= 1")
	}
	return nil
}

// WorkersConfig configures the data-source workers and the scraping service behind them.
type WorkersConfig struct {
	Apify      ApifyConfig      `mapstructure:"apify"`
	Reddit     RedditConfig     `mapstructure:"reddit"`
	TechCrunch TechCrunchConfig `mapstructure:"techcrunch"`
	Competitor CompetitorConfig `mapstructure:"competitor"`
}

// ApifyConfig contains scraping service credentials and HTTP settings
type ApifyConfig struct {
	Token      string        `mapstructure:"token"`
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

func (a ApifyConfig) Validate() error {
	if strings.TrimSpace(a.Token) == "" {
		return fmt.Errorf("workers.apify.token required")
	}
	if strings.TrimSpace(a.BaseURL) == "" {
		return fmt.Errorf("workers.apify.base_url required")
	}
	return nil
}

// ActorConfig identifies one scraping actor and its price.
type ActorConfig struct {
	ActorID       string  `mapstructure:"actor_id"`
	MaxItems      int     `mapstructure:"max_items"`
	CostPer1KItem float64 `mapstructure:"cost_per_1k_items"`
}

// RedditConfig drives the reddit worker
type RedditConfig struct {
	Search         ActorConfig `mapstructure:"search"`
	MinIntentScore int         `mapstructure:"min_intent_score"`
}

// TechCrunchConfig drives the funding-news worker
type TechCrunchConfig struct {
	Articles ActorConfig `mapstructure:"articles"`
	SERP     ActorConfig `mapstructure:"serp"`
	BaseURL  string      `mapstructure:"base_url"`
}

// CompetitorConfig drives the competitor post engager worker
type CompetitorConfig struct {
	Posts    ActorConfig `mapstructure:"posts"`
	Engagers ActorConfig `mapstructure:"engagers"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Backend   string         `mapstructure:"backend"` // memory, redis, postgres
	ResultTTL time.Duration  `mapstructure:"result_ttl"`
	Redis     RedisConfig    `mapstructure:"redis"`
	Postgres  PostgresConfig `mapstructure:"postgres"`
}

func (s StorageConfig) Validate() error {
	switch s.Backend {
	case "", "memory":
		return nil
	case "redis":
		return s.Redis.Validate()
	case "postgres":
		return s.Postgres.Validate()
	default:
		return fmt.Errorf("storage.backend %q not supported", s.Backend)
	}
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// EventsConfig controls where progress events are published besides the in-process hub.
type EventsConfig struct {
	RedisStreamEnabled bool   `mapstructure:"redis_stream_enabled"`
	StreamPrefix       string `mapstructure:"stream_prefix"`
	MaxLen             int64  `mapstructure:"max_len"`
}

func (e EventsConfig) Validate() error {
	if e.RedisStreamEnabled && strings.TrimSpace(e.StreamPrefix) == "" {
		return fmt.Errorf("events.stream_prefix required when redis streams are enabled")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.log_format", "json")
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("prospecting.worker_timeout", 3*time.Minute)
	v.SetDefault("prospecting.run_budget", 12*time.Minute)
	v.SetDefault("prospecting.min_query_length", 12)
	v.SetDefault("prospecting.min_search_terms", 2)
	v.SetDefault("prospecting.max_target_leads", 200)
	v.SetDefault("prospecting.classifier_batch_size", 25)
	v.SetDefault("workers.apify.base_url", "https://api.apify.com")
	v.SetDefault("workers.apify.timeout", 2*time.Minute)
	v.SetDefault("workers.apify.max_retries", 1)
	v.SetDefault("workers.reddit.min_intent_score", 50)
	v.SetDefault("workers.reddit.search.actor_id", "TwqHBuZZPHJxiQrTU")
	v.SetDefault("workers.reddit.search.max_items", 50)
	v.SetDefault("workers.techcrunch.articles.actor_id", "apify~website-content-crawler")
	v.SetDefault("workers.techcrunch.articles.max_items", 30)
	v.SetDefault("workers.techcrunch.serp.actor_id", "apify~google-search-scraper")
	v.SetDefault("workers.techcrunch.serp.max_items", 10)
	v.SetDefault("workers.competitor.posts.actor_id", "harvestapi~linkedin-company-posts")
	v.SetDefault("workers.competitor.posts.max_items", 5)
	v.SetDefault("workers.competitor.engagers.actor_id", "apimaestro~linkedin-post-comments-replies-engagements-scraper-no-cookies")
	v.SetDefault("workers.competitor.engagers.max_items", 50)
	v.SetDefault("workers.techcrunch.base_url", "https://techcrunch.com/tag/funding")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.result_ttl", 72*time.Hour)
	v.SetDefault("events.stream_prefix", "pilot:events")
	v.SetDefault("events.max_len", 1000)
	v.SetDefault("telemetry.service_name", "wrrk-pilot")
}

// Load reads config from file and environment (PILOT_*).
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("PILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs every section validator.
func (c *Config) Validate() error {
	validators := []interface{ Validate() error }{
		c.Server, c.LLM, c.Prospecting, c.Workers.Apify, c.Storage, c.Events,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoadConfig loads config from file and panics on error
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}
