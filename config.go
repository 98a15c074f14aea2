package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration from the environment, with an
// optional .env file loaded first.
type Config struct {
	Port string

	GeminiAPIKey     string
	GeminiModel      string
	GeminiSmartModel string
	AISendTimeout    time.Duration

	OCREngineURL  string
	OCRLanguage   string
	OCRTimeout    time.Duration
	OCRMaxBytes   int
	TagAPIURL     string
	TagTenant     string
	TagTimeout    time.Duration
	ContextDBPath string
	WatchDir      string
	AuthTokens    string
}

// LoadConfig reads configuration from the environment. Missing keys
// fall back to defaults; only the Gemini API key is required.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	cfg := &Config{
		Port:             envOr("HORIZON_PORT", "8000"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      envOr("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiSmartModel: envOr("GEMINI_SMART_MODEL", "gemini-2.5-pro"),
		AISendTimeout:    envDuration("AI_SEND_TIMEOUT_MS", 60*time.Second),
		OCREngineURL:     envOr("OCR_ENGINE_URL", "http://localhost:8884"),
		OCRLanguage:      envOr("OCR_LANGUAGE", "eng"),
		OCRTimeout:       envDuration("OCR_TIMEOUT_MS", 15*time.Second),
		OCRMaxBytes:      envInt("OCR_MAX_IMAGE_BYTES", 8<<20),
		TagAPIURL:        envOr("TAG_API_URL", "http://localhost:8889/constella_db"),
		TagTenant:        os.Getenv("TAG_TENANT"),
		TagTimeout:       envDuration("TAG_TIMEOUT_MS", 10*time.Second),
		ContextDBPath:    os.Getenv("CONTEXT_DB_PATH"),
		WatchDir:         os.Getenv("CAPTURE_WATCH_DIR"),
		AuthTokens:       os.Getenv("AUTH_TOKENS"),
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		log.Printf("Ignoring invalid %s=%q, using %d", key, v, fallback)
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
		log.Printf("Ignoring invalid %s=%q, using %v", key, v, fallback)
	}
	return fallback
}
