package domain

// StartSessionRequest starts a new attempt at a scenario.
type StartSessionRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// StartSessionResponse carries the new session and its two seeded opening
// messages.
type StartSessionResponse struct {
	Session  *Session  `json:"session"`
	Messages []Message `json:"messages"`
}

// SubmitRequest is one inbound user utterance. ChatType is the wire name
// for the channel. ClientMessageID, when present, deduplicates retries.
type SubmitRequest struct {
	ChatType        string `json:"chat_type"`
	Content         string `json:"content"`
	ClientMessageID string `json:"client_message_id,omitempty"`
}

// SubmitResponse is the envelope returned for one processed submission.
// Session is populated only when the session completed during this call.
type SubmitResponse struct {
	UserMessage      *Message `json:"user_message"`
	AssistantMessage *Message `json:"assistant_message"`
	SessionComplete  bool     `json:"session_complete"`
	CompletionFlag   bool     `json:"completion_flag_detected"`
	Replayed         bool     `json:"replayed,omitempty"`
	Session          *Session `json:"session,omitempty"`
}

// MessagesPage is one page of channel history ordered by (sent_at, id).
type MessagesPage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}
