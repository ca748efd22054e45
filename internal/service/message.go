package service

import (
	"context"

	"github.com/linggo/orchestrator/internal/domain"
)

// GetMessages retrieves one page of history for a session, ordered by
// (sent_at, id). An empty channel returns both channels interleaved.
func (s *Service) GetMessages(ctx context.Context, sessionID string, channel domain.Channel, limit int, before string) (*domain.MessagesPage, error) {
	if channel != "" && !channel.Valid() {
		return nil, domain.Validationf("chat_type", "must be %q or %q", domain.ChannelMain, domain.ChannelHelper)
	}
	if limit <= 0 {
		limit = 50
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.NotFoundf("session %s not found", sessionID)
	}

	// Fetch one extra row to know whether another page exists.
	messages, err := s.store.GetMessages(ctx, sessionID, channel, limit+1, before)
	if err != nil {
		return nil, err
	}

	hasMore := false
	if len(messages) > limit {
		hasMore = true
		messages = messages[:limit]
	}
	return &domain.MessagesPage{Messages: messages, HasMore: hasMore}, nil
}
