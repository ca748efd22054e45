package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/linggo/orchestrator/internal/domain"
)

// StartSession creates a new session for a scenario and seeds both channels
// with the scenario's opening messages. The seeds go through the same store
// write path as every other message, so the counters end at 1/1.
func (s *Service) StartSession(ctx context.Context, scenarioID string) (*domain.StartSessionResponse, error) {
	sc := s.scenarios.Get(scenarioID)
	if sc == nil {
		return nil, domain.NotFoundf("scenario %s not found", scenarioID)
	}
	if !sc.Active {
		return nil, domain.Conflictf("scenario %s is not active", scenarioID)
	}

	now := time.Now()
	session := &domain.Session{
		ID:             uuid.NewString(),
		ScenarioID:     sc.ID,
		StartedAt:      now,
		LastActivityAt: now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	seeds := []domain.Message{
		{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Role:      domain.RoleAssistant,
			Channel:   domain.ChannelMain,
			Content:   sc.OpeningMain,
			SentAt:    now,
		},
		{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Role:      domain.RoleHelper,
			Channel:   domain.ChannelHelper,
			Content:   sc.OpeningHelper,
			SentAt:    now,
		},
	}
	for i := range seeds {
		if err := s.store.CreateMessage(ctx, &seeds[i]); err != nil {
			return nil, err
		}
	}

	refreshed, err := s.store.GetSession(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	return &domain.StartSessionResponse{Session: refreshed, Messages: seeds}, nil
}

// GetSession retrieves a session.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.NotFoundf("session %s not found", sessionID)
	}
	return session, nil
}

// CompleteSession performs the explicit Active -> Completed transition. A
// second completion attempt is a conflict, not a silent success, so callers
// can tell "already done" from "just did it".
func (s *Service) CompleteSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.NotFoundf("session %s not found", sessionID)
	}
	if session.IsCompleted {
		return nil, domain.Conflictf("session %s is already completed", sessionID)
	}

	refreshed, did, err := s.completeSessionAt(ctx, session, time.Now())
	if err != nil {
		return nil, err
	}
	if !did {
		// Lost a race with another completion between the read and the write.
		return nil, domain.Conflictf("session %s is already completed", sessionID)
	}
	return refreshed, nil
}

// completeSessionAt flips the session to Completed. Duration is derived
// from the immutable started_at, and the store's conditional update makes
// the write exactly-once; did reports whether this call performed the
// transition.
func (s *Service) completeSessionAt(ctx context.Context, session *domain.Session, now time.Time) (*domain.Session, bool, error) {
	duration := int64(now.Sub(session.StartedAt) / time.Second)
	if duration < 0 {
		duration = 0
	}
	did, err := s.store.CompleteSession(ctx, session.ID, now, duration)
	if err != nil {
		return nil, false, err
	}
	refreshed, err := s.store.GetSession(ctx, session.ID)
	if err != nil {
		return nil, did, err
	}
	return refreshed, did, nil
}

// ListScenarios returns the active scenarios from the registry.
func (s *Service) ListScenarios() []domain.Scenario {
	return s.scenarios.ListActive()
}

// GetScenarioStats returns the aggregate session counters for a scenario.
func (s *Service) GetScenarioStats(ctx context.Context, scenarioID string) (*domain.ScenarioStats, error) {
	if s.scenarios.Get(scenarioID) == nil {
		return nil, domain.NotFoundf("scenario %s not found", scenarioID)
	}
	return s.store.GetScenarioStats(ctx, scenarioID)
}
