package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the script generation system
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Quality   QualityConfig   `mapstructure:"quality"`
	Generate  GenerateConfig  `mapstructure:"generate"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProviderConfig `mapstructure:"providers"`
	Routing   LLMRoutingConfig             `mapstructure:"routing"`
}

// LLMProviderConfig represents a single LLM provider configuration
type LLMProviderConfig struct {
	Type           string        `mapstructure:"type"` // openai, etc.
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// LLMRoutingConfig defines which model to use for different tasks
type LLMRoutingConfig struct {
	Synthesis   string `mapstructure:"synthesis"`   // final script synthesis
	Expansion   string `mapstructure:"expansion"`   // query expansion
	Rerank      string `mapstructure:"rerank"`      // candidate rescoring
	Classify    string `mapstructure:"classify"`    // chunk classification
	Replacement string `mapstructure:"replacement"` // forbidden-word rewrite
	Fallback    string `mapstructure:"fallback"`
}

// Model returns the routed model for a task, falling back when unset.
func (r LLMRoutingConfig) Model(task string) string {
	var m string
	switch task {
	case "synthesis":
		m = r.Synthesis
	case "expansion":
		m = r.Expansion
	case "rerank":
		m = r.Rerank
	case "classify":
		m = r.Classify
	case "replacement":
		m = r.Replacement
	}
	if m == "" {
		m = r.Fallback
	}
	return m
}

// EmbeddingConfig contains embedding model settings
type EmbeddingConfig struct {
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	BatchSize  int    `mapstructure:"batch_size"`
}

func (e EmbeddingConfig) Normalize() EmbeddingConfig {
	if e.Dimensions <= 0 {
		e.Dimensions = 1024
	}
	if e.BatchSize <= 0 {
		e.BatchSize = 32
	}
	return e
}

func (e EmbeddingConfig) Validate() error {
	if strings.TrimSpace(e.Model) == "" {
		return fmt.Errorf("embedding.model is required")
	}
	return nil
}

// RetrievalConfig contains hybrid search settings
type RetrievalConfig struct {
	SemanticWeight  float64 `mapstructure:"semantic_weight"`
	KeywordWeight   float64 `mapstructure:"keyword_weight"`
	SemanticTopK    int     `mapstructure:"semantic_top_k"`
	KeywordTopK     int     `mapstructure:"keyword_top_k"`
	FinalTopK       int     `mapstructure:"final_top_k"`
	EnableReranking bool    `mapstructure:"enable_reranking"`
	EnableMMR       bool    `mapstructure:"enable_mmr"`
	MMRLambda       float64 `mapstructure:"mmr_lambda"`
	ExpansionCount  int     `mapstructure:"expansion_count"`
	EnableExpansion bool    `mapstructure:"enable_expansion"`
}

func (r RetrievalConfig) Normalize() RetrievalConfig {
	if r.SemanticWeight <= 0 {
		r.SemanticWeight = 0.7
	}
	if r.KeywordWeight <= 0 {
		r.KeywordWeight = 0.3
	}
	if r.SemanticTopK <= 0 {
		r.SemanticTopK = 20
	}
	if r.KeywordTopK <= 0 {
		r.KeywordTopK = 20
	}
	if r.FinalTopK <= 0 {
		r.FinalTopK = 5
	}
	if r.MMRLambda <= 0 {
		r.MMRLambda = 0.7
	}
	if r.ExpansionCount <= 0 {
		r.ExpansionCount = 2
	}
	return r
}

func (r RetrievalConfig) Validate() error {
	if r.SemanticWeight+r.KeywordWeight > 1.0+1e-9 {
		return fmt.Errorf("retrieval.semantic_weight + retrieval.keyword_weight must not exceed 1.0")
	}
	if r.MMRLambda < 0 || r.MMRLambda > 1 {
		return fmt.Errorf("retrieval.mmr_lambda must be within [0,1]")
	}
	return nil
}

// ChunkingConfig contains script chunking settings
type ChunkingConfig struct {
	MaxChunkTokens       int      `mapstructure:"max_chunk_tokens"`
	OverlapTokens        int      `mapstructure:"overlap_tokens"`
	OpinionPatterns      []string `mapstructure:"opinion_patterns"`
	ExamplePatterns      []string `mapstructure:"example_patterns"`
	AnalogyPatterns      []string `mapstructure:"analogy_patterns"`
	UseLLMClassification bool     `mapstructure:"use_llm_classification"`
}

func (c ChunkingConfig) Normalize() ChunkingConfig {
	if c.MaxChunkTokens <= 0 {
		c.MaxChunkTokens = 200
	}
	if c.OverlapTokens < 0 {
		c.OverlapTokens = 0
	}
	if len(c.OpinionPatterns) == 0 {
		c.OpinionPatterns = []string{`i think`, `i believe`, `in my (view|opinion)`, `personally`, `honestly`}
	}
	if len(c.ExamplePatterns) == 0 {
		c.ExamplePatterns = []string{`for example`, `for instance`, `such as`, `take .* for example`, `case in point`}
	}
	if len(c.AnalogyPatterns) == 0 {
		c.AnalogyPatterns = []string{`it'?s like`, `imagine`, `think of it as`, `similar to`, `as if`}
	}
	return c
}

// QualityConfig contains script quality gate settings
type QualityConfig struct {
	MinStyleScore     float64 `mapstructure:"min_style_score"`
	MinHookScore      float64 `mapstructure:"min_hook_score"`
	MaxForbiddenWords int     `mapstructure:"max_forbidden_words"`
	MaxDuration       int     `mapstructure:"max_duration"`
	MinDuration       int     `mapstructure:"min_duration"`
}

func (q QualityConfig) Normalize() QualityConfig {
	if q.MinStyleScore <= 0 {
		q.MinStyleScore = 0.7
	}
	if q.MinHookScore <= 0 {
		q.MinHookScore = 0.5
	}
	if q.MaxForbiddenWords <= 0 {
		q.MaxForbiddenWords = 2
	}
	if q.MaxDuration <= 0 {
		q.MaxDuration = 65
	}
	if q.MinDuration <= 0 {
		q.MinDuration = 40
	}
	return q
}

// GenerateConfig contains script generation settings
type GenerateConfig struct {
	Format         string   `mapstructure:"format"` // shorts or long
	TargetDuration int      `mapstructure:"target_duration"`
	Style          string   `mapstructure:"style"`
	MaxTokens      int      `mapstructure:"max_tokens"`
	Temperature    *float64 `mapstructure:"temperature"`
	MaxRetries     int      `mapstructure:"max_retries"`
}

func (g GenerateConfig) Normalize() GenerateConfig {
	if g.Format == "" {
		g.Format = "shorts"
	}
	if g.TargetDuration <= 0 {
		g.TargetDuration = 55
	}
	if g.MaxTokens <= 0 {
		g.MaxTokens = 4096
	}
	// Pointer so an explicit 0 stays 0; only an unset value gets the default.
	if g.Temperature == nil {
		v := 0.7
		g.Temperature = &v
	}
	if g.MaxRetries <= 0 {
		g.MaxRetries = 2
	}
	return g
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
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

// DSN builds a postgres connection string from the configured parts.
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

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("retrieval.enable_reranking", true)
	viper.SetDefault("retrieval.enable_mmr", true)
	viper.SetDefault("retrieval.enable_expansion", true)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("SCRIPTFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	config.Embedding = config.Embedding.Normalize()
	config.Retrieval = config.Retrieval.Normalize()
	config.Chunking = config.Chunking.Normalize()
	config.Quality = config.Quality.Normalize()
	config.Generate = config.Generate.Normalize()

	if err := config.Embedding.Validate(); err != nil {
		panic(err)
	}
	if err := config.Retrieval.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	return &config
}
