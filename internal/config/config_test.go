package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("RAG_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
}

func writeTuning(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rag.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write tuning file: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	setupEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.HTTPPort != "8080" || cfg.CorpusDir != "data" {
		t.Errorf("unexpected defaults: port=%s dir=%s", cfg.HTTPPort, cfg.CorpusDir)
	}
	if cfg.ProviderTimeout != 30*time.Second {
		t.Errorf("unexpected provider timeout: %v", cfg.ProviderTimeout)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Errorf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.Tuning.Retrieval.TopN != 3 || *cfg.Tuning.Retrieval.SimilarityFloor != 0.5 {
		t.Errorf("unexpected retrieval defaults: %+v", cfg.Tuning.Retrieval)
	}
	if cfg.Tuning.Models.Chat != DefaultChatModel || cfg.Tuning.Models.Embedding != DefaultEmbeddingModel {
		t.Errorf("unexpected model defaults: %+v", cfg.Tuning.Models)
	}
	if cfg.Debug() {
		t.Error("debug should be off by default")
	}
}

func TestLoad_RequiresAPIKey(t *testing.T) {
	setupEnv(t)
	t.Setenv("GEMINI_API_KEY", "")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "GEMINI_API_KEY") {
		t.Fatalf("expected GEMINI_API_KEY error, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	setupEnv(t)
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("WATCH_CORPUS", "true")
	t.Setenv("PROVIDER_TIMEOUT_SECONDS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.HTTPPort != "9090" || !cfg.Debug() || !cfg.WatchCorpus {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.ProviderTimeout != 5*time.Second {
		t.Errorf("unexpected timeout: %v", cfg.ProviderTimeout)
	}
}

func TestLoad_ValidatesProviderTimeout(t *testing.T) {
	setupEnv(t)
	t.Setenv("PROVIDER_TIMEOUT_SECONDS", "0")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "PROVIDER_TIMEOUT_SECONDS") {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestLoadTuning_File(t *testing.T) {
	path := writeTuning(t, `
models:
  chat: gemini-2.0-flash
retrieval:
  top_n: 5
  similarity_floor: 0
generation:
  temperature: 0.2
  max_output_tokens: 256
persona:
  instruction: You are the docs bot.
seed:
  - id: bio
    text: Jane is a site reliability engineer.
`)
	tuning, err := LoadTuning(path)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if tuning.Models.Chat != "gemini-2.0-flash" || tuning.Models.Embedding != DefaultEmbeddingModel {
		t.Errorf("unexpected models: %+v", tuning.Models)
	}
	if tuning.Retrieval.TopN != 5 || *tuning.Retrieval.SimilarityFloor != 0 {
		t.Errorf("explicit zero floor must be kept: %+v", tuning.Retrieval)
	}
	if *tuning.Generation.Temperature != 0.2 || tuning.Generation.MaxOutputTokens != 256 {
		t.Errorf("unexpected generation: %+v", tuning.Generation)
	}
	if tuning.Persona.Instruction != "You are the docs bot." || tuning.Persona.Ack != DefaultPersonaAck {
		t.Errorf("unexpected persona: %+v", tuning.Persona)
	}
	if len(tuning.Seed) != 1 || tuning.Seed[0].ID != "bio" {
		t.Errorf("unexpected seed: %+v", tuning.Seed)
	}
}

func TestLoadTuning_Invalid(t *testing.T) {
	cases := map[string]string{
		"retrieval.top_n":              "retrieval:\n  top_n: -1\n",
		"retrieval.similarity_floor":   "retrieval:\n  similarity_floor: 1.5\n",
		"generation.temperature":       "generation:\n  temperature: -0.1\n",
		"generation.max_output_tokens": "generation:\n  max_output_tokens: -3\n",
		"seed[1].id":                   "seed:\n  - id: a\n    text: x\n  - id: a\n    text: y\n",
	}
	for key, body := range cases {
		t.Run(key, func(t *testing.T) {
			_, err := LoadTuning(writeTuning(t, body))
			if err == nil || !strings.Contains(err.Error(), key) {
				t.Fatalf("expected error naming %s, got %v", key, err)
			}
		})
	}
}

func TestLoadTuning_MalformedYAML(t *testing.T) {
	if _, err := LoadTuning(writeTuning(t, "retrieval: [unclosed")); err == nil {
		t.Fatal("expected parse error")
	}
}
