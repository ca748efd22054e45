package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/linggo/orchestrator/internal/adapter/genai"
	"github.com/linggo/orchestrator/internal/domain"
)

// generationOutcome is one successful, marker-processed generation.
type generationOutcome struct {
	Text           string
	MarkerDetected bool
	InputUnits     int
	OutputUnits    int
	Latency        time.Duration
}

// generate calls the provider with the channel's settings and the retry
// policy: retryable classes get up to the attempt budget with the fixed
// backoff schedule, client failures fail on the first attempt. Marker
// detection is channel-scoped — the sentinel is stripped everywhere but only
// the main channel reports it.
func (s *Service) generate(ctx context.Context, session *domain.Session, channel domain.Channel, history []domain.Message) (*generationOutcome, error) {
	req := &genai.GenerationRequest{
		System:   s.systemPrompt(session, channel),
		Turns:    toTurns(history),
		Settings: s.config.SettingsFor(channel),
	}

	attempts := s.config.GenerationAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr *genai.GenerationError
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := s.generator.Generate(ctx, req)
		if err == nil {
			log.Printf("generation ok: channel=%s attempt=%d latency_ms=%d input_units=%d output_units=%d",
				channel, attempt, result.Latency.Milliseconds(), result.InputUnits, result.OutputUnits)
			text, detected := genai.StripMarker(result.Text)
			return &generationOutcome{
				Text:           text,
				MarkerDetected: detected && channel == domain.ChannelMain,
				InputUnits:     result.InputUnits,
				OutputUnits:    result.OutputUnits,
				Latency:        result.Latency,
			}, nil
		}

		var genErr *genai.GenerationError
		if !errors.As(err, &genErr) {
			return nil, domain.GenerationFailed(domain.KindGenerationFailure, err)
		}
		log.Printf("WARN: generation attempt %d/%d failed: channel=%s class=%s latency_ms=%d err=%v",
			attempt, attempts, channel, genErr.Class, genErr.Latency.Milliseconds(), genErr)
		lastErr = genErr

		if !genErr.Class.Retryable() || attempt == attempts {
			break
		}
		if err := s.sleepBackoff(ctx, attempt-1); err != nil {
			return nil, domain.GenerationFailed(domain.KindGenerationTimeout, err)
		}
	}

	kind := domain.KindGenerationFailure
	if lastErr.Class == genai.ClassTimeout {
		kind = domain.KindGenerationTimeout
	}
	return nil, domain.GenerationFailed(kind, lastErr)
}

func (s *Service) sleepBackoff(ctx context.Context, index int) error {
	schedule := s.config.GenerationBackoff
	if len(schedule) == 0 {
		return nil
	}
	if index >= len(schedule) {
		index = len(schedule) - 1
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(schedule[index]):
		return nil
	}
}

// systemPrompt resolves the per-channel prompt for the session's scenario.
func (s *Service) systemPrompt(session *domain.Session, channel domain.Channel) string {
	sc := s.scenarios.Get(session.ScenarioID)
	if sc == nil {
		return ""
	}
	if channel == domain.ChannelHelper {
		return sc.PromptHelper
	}
	return sc.PromptMain
}

// toTurns maps channel history onto provider turns. Both assistant roles
// map to the provider's assistant speaker.
func toTurns(history []domain.Message) []genai.Turn {
	turns := make([]genai.Turn, 0, len(history))
	for _, msg := range history {
		role := "assistant"
		if msg.Role == domain.RoleUser {
			role = "user"
		}
		turns = append(turns, genai.Turn{Role: role, Text: msg.Content})
	}
	return turns
}
