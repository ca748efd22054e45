// Package store provides persistence for sessions and messages.
package store

import (
	"context"
	"time"

	"github.com/linggo/orchestrator/internal/domain"
)

// Store is the persistence interface the service layer depends on. Every
// write path that can touch a session or message goes through here, which
// is what keeps the invariant layer unbypassable.
type Store interface {
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	CompleteSession(ctx context.Context, sessionID string, completedAt time.Time, durationSeconds int64) (bool, error)
	DeleteSession(ctx context.Context, sessionID string) error

	CreateMessage(ctx context.Context, message *domain.Message) error
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)
	GetMessageByClientToken(ctx context.Context, sessionID, clientToken string) (*domain.Message, error)
	GetFollowupAssistant(ctx context.Context, after *domain.Message) (*domain.Message, error)
	GetMessages(ctx context.Context, sessionID string, channel domain.Channel, limit int, before string) ([]domain.Message, error)

	GetScenarioStats(ctx context.Context, scenarioID string) (*domain.ScenarioStats, error)

	Close() error
}

var _ Store = (*SQLiteStore)(nil)
