package model

import "time"

// Event types
const (
	EventStageStarted   = "stage_started"
	EventStageThinking  = "stage_thinking"
	EventStageProgress  = "stage_progress"
	EventStageCompleted = "stage_completed"
	EventStageFailed    = "stage_failed"
	EventItemCompleted  = "item_completed"
	EventItemFailed     = "item_failed"
	EventBudgetExceeded = "budget_exceeded"
)

// StageEvent is one pipeline lifecycle event. Delivery to live subscribers
// is best-effort; the durable log keyed by (user, item) is the source of
// truth for replay after reconnect.
type StageEvent struct {
	Type      string    `json:"type"`
	UserID    string    `json:"userId"`
	ItemID    string    `json:"itemId"`
	Timestamp time.Time `json:"timestamp"`
	Stage     int       `json:"stage,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Message   string    `json:"message,omitempty"`
	Thinking  string    `json:"thinking,omitempty"`
	Progress  int       `json:"progress,omitempty"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// WebSocket control message types
const (
	WSMessageTypePing = "ping"
	WSMessageTypePong = "pong"
)

// WSMessage is a generic client control frame.
type WSMessage struct {
	Type string `json:"type"`
}
