package domain

import "time"

// Session is one end-to-end attempt at a scenario. It holds messages from
// both channels and is the only row concurrent submissions contend on.
type Session struct {
	ID              string     `json:"id"`
	ScenarioID      string     `json:"scenario_id"`
	IsCompleted     bool       `json:"is_completed"`
	StartedAt       time.Time  `json:"started_at"`
	LastActivityAt  time.Time  `json:"last_activity_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`
	CountMain       int        `json:"count_main"`
	CountHelper     int        `json:"count_helper"`
}

// Message is one atomic utterance in one channel. Messages are immutable
// once created; the store rejects any update.
type Message struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Role        Role      `json:"role"`
	Channel     Channel   `json:"channel"`
	Content     string    `json:"content"`
	SentAt      time.Time `json:"sent_at"`
	ClientToken string    `json:"client_token,omitempty"`
}

// MaxContentLength is the hard cap on message content, in characters.
const MaxContentLength = 8000

// Scenario is the read-only configuration a session is started from.
type Scenario struct {
	ID            string `json:"id" yaml:"id"`
	Title         string `json:"title" yaml:"title"`
	OpeningMain   string `json:"opening_main" yaml:"opening_main"`
	OpeningHelper string `json:"opening_helper" yaml:"opening_helper"`
	PromptMain    string `json:"-" yaml:"prompt_main"`
	PromptHelper  string `json:"-" yaml:"prompt_helper"`
	Active        bool   `json:"active" yaml:"active"`
}

// ScenarioStats are the per-scenario aggregate counters maintained by the
// store alongside session writes.
type ScenarioStats struct {
	ScenarioID        string `json:"scenario_id"`
	SessionsStarted   int    `json:"sessions_started"`
	SessionsCompleted int    `json:"sessions_completed"`
}
