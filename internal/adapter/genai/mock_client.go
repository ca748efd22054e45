package genai

import (
	"context"
	"fmt"
	"time"
)

// MockGenerator is a deterministic Generator for local development and
// tests. It echoes the last user turn back.
type MockGenerator struct{}

// NewMockGenerator creates a new mock generator.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

var _ Generator = (*MockGenerator)(nil)

// Generate returns a mock response based on the last user turn.
func (m *MockGenerator) Generate(ctx context.Context, req *GenerationRequest) (*GenerationResult, error) {
	var lastUser string
	for i := len(req.Turns) - 1; i >= 0; i-- {
		if req.Turns[i].Role == "user" {
			lastUser = req.Turns[i].Text
			break
		}
	}

	text := "[MOCK] This is a mock generation response."
	if lastUser != "" {
		text = fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(lastUser, 100))
	}

	input := 0
	for _, turn := range req.Turns {
		input += len(turn.Text) / 4
	}

	return &GenerationResult{
		Text:        text,
		InputUnits:  input,
		OutputUnits: len(text) / 4,
		Latency:     time.Millisecond,
	}, nil
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
