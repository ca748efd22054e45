package genai

import (
	"log"
	"os"
)

const (
	// EnvLinggoMode is the environment variable name for mode selection.
	EnvLinggoMode = "LINGGO_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// NewGenerator creates a generator based on the LINGGO_MODE environment
// variable. If LINGGO_MODE=MOCK, returns a MockGenerator; otherwise returns
// a real Client.
func NewGenerator(baseURL, apiKey string) Generator {
	if os.Getenv(EnvLinggoMode) == ModeMock {
		log.Println("LINGGO_MODE=MOCK detected, using mock generator")
		return NewMockGenerator()
	}
	return NewClient(baseURL, apiKey)
}
