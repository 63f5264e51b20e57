package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DBDriver     string
	DatabaseURL  string
	SQLitePath   string
	SslCertPath  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	UploadDir    string
	MaxFileSize  int64

	EmbedProvider string
	GenProvider   string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	GeminiAPIKey  string
	EmbedModel    string
	EmbedDim      int
	GenModel      string

	Ingestion  IngestionConfig
	Retrieval  RetrievalConfig
	Generation GenerationConfig

	Port        string
	CORSOrigins []string
	LogLevel    slog.Level
}

// IngestionConfig tunes parsing, OCR, chunking and embedding.
type IngestionConfig struct {
	ChunkSize       int
	ChunkOverlap    int
	MaxPages        int
	OCRLanguage     string
	OCRDPI          int
	EmbedBatchSize  int
	EmbedBatchDelay time.Duration
	Workers         int
	QueueSize       int
}

// RetrievalConfig tunes chunk selection for chat.
type RetrievalConfig struct {
	TopK int
}

// GenerationConfig tunes the completion call.
type GenerationConfig struct {
	Temperature float32
	MaxTokens   int
}

// providerDefaults are the model settings used when EMBED_MODEL, EMBED_DIM
// or GEN_MODEL are unset.
var providerDefaults = map[string]struct {
	embedModel string
	embedDim   int
	genModel   string
}{
	"openai": {embedModel: "text-embedding-3-small", embedDim: 1536, genModel: "gpt-4o-mini"},
	"gemini": {embedModel: "text-embedding-004", embedDim: 768, genModel: "gemini-1.5-flash"},
}

// knownEmbedDims lists the fixed output size of embedding models we ship
// defaults for. Unknown models are not checked.
var knownEmbedDims = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"text-embedding-004":     768,
}

// LoadConfig loads the environment variables and return config
func LoadConfig() (*Config, error) {

	_ = godotenv.Load()

	embedProvider := getEnv("EMBED_PROVIDER", "openai")
	genProvider := getEnv("GEN_PROVIDER", "openai")
	embedDefaults, genDefaults := providerDefaults[embedProvider], providerDefaults[genProvider]

	cfg := &Config{
		DBDriver:      getEnv("DB_DRIVER", "postgres"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "./storage/autophile.db"),
		SslCertPath:   getEnv("SSL_CERT_PATH", ""),
		AwsAccessKey:  getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:  getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:     getEnv("AWS_REGION", "us-east-2"),
		BucketName:    getEnv("BUCKET_NAME", ""),
		UploadDir:     getEnv("UPLOAD_DIR", "./storage/uploads"),
		MaxFileSize:   int64(getEnvInt("MAX_FILE_SIZE_MB", 50)) << 20,
		EmbedProvider: embedProvider,
		GenProvider:   genProvider,
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		EmbedModel:    getEnv("EMBED_MODEL", embedDefaults.embedModel),
		EmbedDim:      getEnvInt("EMBED_DIM", embedDefaults.embedDim),
		GenModel:      getEnv("GEN_MODEL", genDefaults.genModel),
		Ingestion: IngestionConfig{
			ChunkSize:       getEnvInt("CHUNK_SIZE", 800),
			ChunkOverlap:    getEnvInt("CHUNK_OVERLAP", 200),
			MaxPages:        getEnvInt("MAX_PAGES", 100),
			OCRLanguage:     getEnv("OCR_LANGUAGE", "eng"),
			OCRDPI:          getEnvInt("OCR_DPI", 300),
			EmbedBatchSize:  getEnvInt("EMBED_BATCH_SIZE", 100),
			EmbedBatchDelay: getEnvDuration("EMBED_BATCH_DELAY", 100*time.Millisecond),
			Workers:         getEnvInt("INGEST_WORKERS", 4),
			QueueSize:       getEnvInt("INGEST_QUEUE_SIZE", 64),
		},
		Retrieval: RetrievalConfig{
			TopK: getEnvInt("TOP_K_RETRIEVAL", 5),
		},
		Generation: GenerationConfig{
			Temperature: float32(getEnvFloat("GEN_TEMPERATURE", 0.3)),
			MaxTokens:   getEnvInt("GEN_MAX_TOKENS", 1000),
		},
		Port:        getEnv("PORT", "8080"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		LogLevel:    parseLevel(getEnv("LOG_LEVEL", "info")),
	}

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fileOverlay mirrors the tunable sections of Config. Pointers distinguish
// "absent" from zero so a partial file only overrides what it names.
type fileOverlay struct {
	Ingestion struct {
		ChunkSize       *int           `yaml:"chunk_size"`
		ChunkOverlap    *int           `yaml:"chunk_overlap"`
		MaxPages        *int           `yaml:"max_pages"`
		OCRLanguage     *string        `yaml:"ocr_language"`
		OCRDPI          *int           `yaml:"ocr_dpi"`
		EmbedBatchSize  *int           `yaml:"embed_batch_size"`
		EmbedBatchDelay *time.Duration `yaml:"embed_batch_delay"`
		Workers         *int           `yaml:"workers"`
		QueueSize       *int           `yaml:"queue_size"`
	} `yaml:"ingestion"`
	Retrieval struct {
		TopK *int `yaml:"top_k"`
	} `yaml:"retrieval"`
	Generation struct {
		Temperature *float32 `yaml:"temperature"`
		MaxTokens   *int     `yaml:"max_tokens"`
	} `yaml:"generation"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("config file not found, using environment only", "path", path)
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	var o fileOverlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	in := &cfg.Ingestion
	set(&in.ChunkSize, o.Ingestion.ChunkSize)
	set(&in.ChunkOverlap, o.Ingestion.ChunkOverlap)
	set(&in.MaxPages, o.Ingestion.MaxPages)
	set(&in.OCRLanguage, o.Ingestion.OCRLanguage)
	set(&in.OCRDPI, o.Ingestion.OCRDPI)
	set(&in.EmbedBatchSize, o.Ingestion.EmbedBatchSize)
	set(&in.EmbedBatchDelay, o.Ingestion.EmbedBatchDelay)
	set(&in.Workers, o.Ingestion.Workers)
	set(&in.QueueSize, o.Ingestion.QueueSize)
	set(&cfg.Retrieval.TopK, o.Retrieval.TopK)
	set(&cfg.Generation.Temperature, o.Generation.Temperature)
	set(&cfg.Generation.MaxTokens, o.Generation.MaxTokens)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL not set")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH not set")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	for name, p := range map[string]string{"EMBED_PROVIDER": c.EmbedProvider, "GEN_PROVIDER": c.GenProvider} {
		if p != "openai" && p != "gemini" {
			return fmt.Errorf("unknown %s %q", name, p)
		}
	}
	if c.EmbedDim <= 0 {
		return errors.New("EMBED_DIM must be positive")
	}
	if want, ok := knownEmbedDims[c.EmbedModel]; ok && want != c.EmbedDim {
		return fmt.Errorf("EMBED_DIM %d does not match %s, which produces %d dimensions", c.EmbedDim, c.EmbedModel, want)
	}
	in := c.Ingestion
	if in.ChunkSize <= 0 {
		return errors.New("chunk size must be positive")
	}
	if in.ChunkOverlap < 0 || in.ChunkOverlap >= in.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be in [0, %d)", in.ChunkOverlap, in.ChunkSize)
	}
	if in.MaxPages <= 0 {
		return errors.New("max pages must be positive")
	}
	if c.Retrieval.TopK <= 0 {
		return errors.New("top-k must be positive")
	}
	return nil
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("env value is not an int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("env value is not a float, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("env value is not a duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
