package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultChatModel       = "gemini-1.5-flash-latest"
	DefaultEmbeddingModel  = "text-embedding-004"
	DefaultTopN            = 3
	DefaultSimilarityFloor = 0.5
	DefaultTemperature     = 0.7
	DefaultMaxOutputTokens = 1024

	DefaultPersonaInstruction = "You are a helpful assistant for this knowledge base. Answer the user's questions accurately and concisely. " +
		"When reference information is provided, prefer it over general knowledge. " +
		"If you don't know the answer, say so instead of making something up."
	DefaultPersonaAck = "Understood. I will answer accurately and concisely, using the provided information when it is relevant."
)

type Config struct {
	GeminiAPIKey       string
	HTTPPort           string
	LogLevel           string
	AllowedOrigins     []string
	CorpusDir          string
	AuditDBPath        string
	AuditRetention     time.Duration
	EmbeddingCachePath string
	WatchCorpus        bool
	TuningFile         string
	ProviderTimeout    time.Duration
	EmbedRatePerMinute int

	Tuning Tuning
}

// Tuning holds the per-deployment knobs read from the optional YAML file.
type Tuning struct {
	Models     ModelsConfig     `yaml:"models"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Generation GenerationConfig `yaml:"generation"`
	Persona    PersonaConfig    `yaml:"persona"`
	Seed       []SeedDocument   `yaml:"seed"`
}

type ModelsConfig struct {
	Chat      string `yaml:"chat"`
	Embedding string `yaml:"embedding"`
}

type RetrievalConfig struct {
	TopN            int      `yaml:"top_n"`
	SimilarityFloor *float64 `yaml:"similarity_floor"`
}

type GenerationConfig struct {
	Temperature     *float32 `yaml:"temperature"`
	MaxOutputTokens int32    `yaml:"max_output_tokens"`
}

type PersonaConfig struct {
	Instruction string `yaml:"instruction"`
	Ack         string `yaml:"ack"`
}

// SeedDocument is static knowledge compiled into the deployment config.
type SeedDocument struct {
	ID   string `yaml:"id"`
	Text string `yaml:"text"`
}

var AppConfig Config

// LoadConfig populates AppConfig and exits the process on invalid configuration.
func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg, err := Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	AppConfig = cfg
}

// Load reads configuration from the environment and the tuning file.
func Load() (Config, error) {
	cfg := Config{
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		LogLevel:           strings.ToUpper(getEnv("LOG_LEVEL", "INFO")),
		AllowedOrigins:     splitList(getEnv("ALLOWED_ORIGINS", "*")),
		CorpusDir:          getEnv("CORPUS_DIR", "data"),
		AuditDBPath:        getEnv("AUDIT_DB_PATH", "rag_audit.db"),
		AuditRetention:     time.Duration(getEnvAsInt("AUDIT_RETENTION_DAYS", 30)) * 24 * time.Hour,
		EmbeddingCachePath: getEnv("EMBEDDING_CACHE_PATH", ""),
		WatchCorpus:        getEnvAsBool("WATCH_CORPUS", false),
		TuningFile:         getEnv("RAG_CONFIG_FILE", "rag.yaml"),
		ProviderTimeout:    time.Duration(getEnvAsInt("PROVIDER_TIMEOUT_SECONDS", 30)) * time.Second,
		EmbedRatePerMinute: getEnvAsInt("EMBED_RATE_PER_MINUTE", 1500),
	}

	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	if cfg.ProviderTimeout <= 0 {
		return Config{}, fmt.Errorf("PROVIDER_TIMEOUT_SECONDS must be positive")
	}
	if cfg.EmbedRatePerMinute <= 0 {
		return Config{}, fmt.Errorf("EMBED_RATE_PER_MINUTE must be positive")
	}

	tuning, err := LoadTuning(cfg.TuningFile)
	if err != nil {
		return Config{}, err
	}
	cfg.Tuning = *tuning
	return cfg, nil
}

// LoadTuning reads the YAML tuning file. A missing file yields the defaults.
func LoadTuning(path string) (*Tuning, error) {
	var t Tuning
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &t); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}
	applyTuningDefaults(&t)
	if err := t.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &t, nil
}

func applyTuningDefaults(t *Tuning) {
	if t.Models.Chat == "" {
		t.Models.Chat = DefaultChatModel
	}
	if t.Models.Embedding == "" {
		t.Models.Embedding = DefaultEmbeddingModel
	}
	if t.Retrieval.TopN == 0 {
		t.Retrieval.TopN = DefaultTopN
	}
	if t.Retrieval.SimilarityFloor == nil {
		floor := DefaultSimilarityFloor
		t.Retrieval.SimilarityFloor = &floor
	}
	if t.Generation.Temperature == nil {
		temp := float32(DefaultTemperature)
		t.Generation.Temperature = &temp
	}
	if t.Generation.MaxOutputTokens == 0 {
		t.Generation.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if t.Persona.Instruction == "" {
		t.Persona.Instruction = DefaultPersonaInstruction
	}
	if t.Persona.Ack == "" {
		t.Persona.Ack = DefaultPersonaAck
	}
}

func (t *Tuning) validate() error {
	if t.Retrieval.TopN < 1 {
		return fmt.Errorf("retrieval.top_n must be at least 1")
	}
	if floor := *t.Retrieval.SimilarityFloor; floor < -1 || floor >= 1 {
		return fmt.Errorf("retrieval.similarity_floor must be in [-1, 1)")
	}
	if *t.Generation.Temperature < 0 {
		return fmt.Errorf("generation.temperature must not be negative")
	}
	if t.Generation.MaxOutputTokens < 1 {
		return fmt.Errorf("generation.max_output_tokens must be at least 1")
	}
	seen := make(map[string]struct{}, len(t.Seed))
	for i, doc := range t.Seed {
		if strings.TrimSpace(doc.ID) == "" {
			return fmt.Errorf("seed[%d].id is required", i)
		}
		if _, dup := seen[doc.ID]; dup {
			return fmt.Errorf("seed[%d].id %q is duplicated", i, doc.ID)
		}
		seen[doc.ID] = struct{}{}
	}
	return nil
}

func (c Config) Debug() bool {
	return c.LogLevel == "DEBUG"
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
