// Package config provides configuration for the chat orchestrator.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/linggo/orchestrator/internal/adapter/genai"
	"github.com/linggo/orchestrator/internal/domain"
)

// Config holds the orchestrator configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Generation provider
	GenerationURL    string
	GenerationAPIKey string

	// Per-channel generation settings, resolved once at load. The main
	// channel gets the longer timeout, higher creativity, and larger output
	// cap; the helper channel the opposite.
	MainGeneration   genai.Settings
	HelperGeneration genai.Settings

	// Retry schedule for retryable generation failures.
	GenerationAttempts int
	GenerationBackoff  []time.Duration

	// Scenario registry
	ScenarioFile string

	// Hard cap on scenario-channel messages; reaching it completes the
	// session.
	SessionMessageCap int

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:         getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:      getEnv("DATABASE_URL", "file:linggo.db?cache=shared&mode=rwc"),
		GenerationURL:    getEnv("GENERATION_URL", "http://localhost:4000"),
		GenerationAPIKey: getEnv("GENERATION_API_KEY", ""),
		MainGeneration: genai.Settings{
			Model:       getEnv("GENERATION_MODEL", "gpt-4o-mini"),
			Temperature: getEnvFloat("MAIN_TEMPERATURE", 0.8),
			MaxTokens:   getEnvInt("MAIN_MAX_TOKENS", 1024),
			Timeout:     time.Duration(getEnvInt("MAIN_TIMEOUT_MS", 30000)) * time.Millisecond,
		},
		HelperGeneration: genai.Settings{
			Model:       getEnv("GENERATION_MODEL", "gpt-4o-mini"),
			Temperature: getEnvFloat("HELPER_TEMPERATURE", 0.3),
			MaxTokens:   getEnvInt("HELPER_MAX_TOKENS", 512),
			Timeout:     time.Duration(getEnvInt("HELPER_TIMEOUT_MS", 15000)) * time.Millisecond,
		},
		GenerationAttempts: getEnvInt("GENERATION_ATTEMPTS", 3),
		GenerationBackoff:  []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
		ScenarioFile:       getEnv("SCENARIO_FILE", "scenarios.yaml"),
		SessionMessageCap:  getEnvInt("SESSION_MESSAGE_CAP", 30),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

// SettingsFor resolves the generation settings for a channel.
func (c *Config) SettingsFor(channel domain.Channel) genai.Settings {
	if channel == domain.ChannelHelper {
		return c.HelperGeneration
	}
	return c.MainGeneration
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}
