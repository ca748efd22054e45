package service

import (
	"context"
	"log"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/linggo/orchestrator/internal/adapter/genai"
	"github.com/linggo/orchestrator/internal/domain"
	"github.com/linggo/orchestrator/policy"
)

// SubmitMessage processes one inbound user utterance end-to-end: validate,
// dedup, persist the user message, call the generation provider, persist
// the assistant message, and complete the session when the scenario says
// so. Once the user message is persisted the call never rolls it back: a
// generation failure loses the assistant turn, never the user's input.
func (s *Service) SubmitMessage(ctx context.Context, sessionID string, req *domain.SubmitRequest) (*domain.SubmitResponse, error) {
	channel := domain.Channel(req.ChatType)
	if !channel.Valid() {
		return nil, domain.Validationf("chat_type", "must be %q or %q", domain.ChannelMain, domain.ChannelHelper)
	}
	if req.Content == "" {
		return nil, domain.Validationf("content", "must not be empty")
	}
	if utf8.RuneCountInString(req.Content) > domain.MaxContentLength {
		return nil, domain.Validationf("content", "must be at most %d characters", domain.MaxContentLength)
	}
	if req.ClientMessageID != "" {
		if _, err := uuid.Parse(req.ClientMessageID); err != nil {
			return nil, domain.Validationf("client_message_id", "must be a UUID")
		}
	}

	decision, err := s.policy.Evaluate(ctx, policy.SubmissionInput{
		Channel:       string(channel),
		Content:       req.Content,
		ContentLength: utf8.RuneCountInString(req.Content),
	})
	if err != nil {
		return nil, domain.PersistenceError("evaluate admission policy", err)
	}
	if decision != policy.DecisionAllow {
		return nil, domain.PolicyRejectedf("content rejected by policy")
	}

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

	// Idempotency check. A replayed token returns the stored pair without
	// new writes or a new generation call. A user message without its
	// assistant half is an unresolved partial state: re-attempt generation
	// against the existing user message instead of failing or duplicating.
	if req.ClientMessageID != "" {
		userMsg, err := s.store.GetMessageByClientToken(ctx, sessionID, req.ClientMessageID)
		if err != nil {
			return nil, err
		}
		if userMsg != nil {
			followup, err := s.store.GetFollowupAssistant(ctx, userMsg)
			if err != nil {
				return nil, err
			}
			if followup != nil {
				return &domain.SubmitResponse{
					UserMessage:      userMsg,
					AssistantMessage: followup,
					Replayed:         true,
				}, nil
			}
			return s.finishSubmission(ctx, session, userMsg)
		}
	}

	userMsg := &domain.Message{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Role:        domain.RoleUser,
		Channel:     channel,
		Content:     req.Content,
		SentAt:      time.Now(),
		ClientToken: req.ClientMessageID,
	}
	if err := s.store.CreateMessage(ctx, userMsg); err != nil {
		// A concurrent submission with the same token can win the insert
		// race; hand the request back through the replay path.
		if req.ClientMessageID != "" && domain.IsKind(err, domain.KindConflict) && !session.IsCompleted {
			if existing, lookupErr := s.store.GetMessageByClientToken(ctx, sessionID, req.ClientMessageID); lookupErr == nil && existing != nil {
				followup, followErr := s.store.GetFollowupAssistant(ctx, existing)
				if followErr == nil && followup != nil {
					return &domain.SubmitResponse{UserMessage: existing, AssistantMessage: followup, Replayed: true}, nil
				}
				return s.finishSubmission(ctx, session, existing)
			}
		}
		return nil, err
	}

	return s.finishSubmission(ctx, session, userMsg)
}

// finishSubmission runs the half of the pipeline after the user message is
// durable: generation, assistant persistence, and completion detection.
func (s *Service) finishSubmission(ctx context.Context, session *domain.Session, userMsg *domain.Message) (*domain.SubmitResponse, error) {
	channel := userMsg.Channel

	history, err := s.store.GetMessages(ctx, session.ID, channel, 0, "")
	if err != nil {
		return nil, err
	}

	outcome, err := s.generate(ctx, session, channel, history)
	if err != nil {
		return nil, err
	}

	text := outcome.Text
	if text == "" {
		// A marker-only reply strips to nothing; keep the raw sentinel so
		// the assistant turn is still persisted.
		text = genai.CompletionMarker
	}
	if utf8.RuneCountInString(text) > domain.MaxContentLength {
		text = string([]rune(text)[:domain.MaxContentLength])
	}

	assistantMsg := &domain.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      channel.AssistantRole(),
		Channel:   channel,
		Content:   text,
		SentAt:    time.Now(),
	}
	if err := s.store.CreateMessage(ctx, assistantMsg); err != nil {
		return nil, err
	}

	resp := &domain.SubmitResponse{
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		CompletionFlag:   outcome.MarkerDetected,
	}

	shouldComplete := outcome.MarkerDetected
	if channel == domain.ChannelMain && !shouldComplete {
		refreshed, err := s.store.GetSession(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		// The message cap forces completion when prompting alone failed to.
		if s.config.SessionMessageCap > 0 && refreshed.CountMain >= s.config.SessionMessageCap {
			shouldComplete = true
		}
	}

	if shouldComplete {
		refreshed, did, err := s.completeSessionAt(ctx, session, time.Now())
		if err != nil {
			return nil, err
		}
		if !did {
			log.Printf("WARN: session %s was completed concurrently", session.ID)
		}
		resp.Session = refreshed
		resp.SessionComplete = refreshed.IsCompleted
	}

	return resp, nil
}
