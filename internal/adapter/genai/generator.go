// Package genai provides the client for the external text-generation
// provider.
package genai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CompletionMarker is the sentinel the scenario prompt instructs the model
// to emit when the roleplay has reached a natural end. It is stripped from
// text on both channels, but only the main channel acts on it.
const CompletionMarker = "[SCENARIO_COMPLETE]"

// Turn is one prior utterance in the conversation sent to the provider.
type Turn struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// Settings are the per-channel generation parameters, resolved once per
// request from configuration.
type Settings struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// GenerationRequest is the input to one provider call.
type GenerationRequest struct {
	System   string
	Turns    []Turn
	Settings Settings
}

// GenerationResult is the output of one successful provider call. Units are
// provider token counts.
type GenerationResult struct {
	Text        string
	InputUnits  int
	OutputUnits int
	Latency     time.Duration
}

// Class classifies a provider failure for the retry policy. The retry rule
// is a total function over this classification: client failures are
// terminal, everything else is retryable.
type Class string

const (
	ClassClient      Class = "client_error"
	ClassRateLimited Class = "rate_limited"
	ClassServer      Class = "server_error"
	ClassTimeout     Class = "timeout"
)

// Retryable reports whether a failure of this class may be retried.
func (c Class) Retryable() bool {
	return c == ClassRateLimited || c == ClassServer || c == ClassTimeout
}

// GenerationError is a classified provider failure. Latency is reported on
// the failure path too.
type GenerationError struct {
	Class      Class
	StatusCode int
	Message    string
	Latency    time.Duration
}

func (e *GenerationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generation %s [%d]: %s", e.Class, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("generation %s: %s", e.Class, e.Message)
}

// Generator is the text-generation capability boundary.
type Generator interface {
	Generate(ctx context.Context, req *GenerationRequest) (*GenerationResult, error)
}

// StripMarker removes every occurrence of the completion marker from text
// and reports whether it was present.
func StripMarker(text string) (string, bool) {
	if !strings.Contains(text, CompletionMarker) {
		return text, false
	}
	stripped := strings.ReplaceAll(text, CompletionMarker, "")
	return strings.TrimSpace(stripped), true
}
