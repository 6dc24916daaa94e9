package store

import "time"

type MessageStatus string

const (
	StatusPending    MessageStatus = "pending"
	StatusProcessing MessageStatus = "processing"
	StatusCompleted  MessageStatus = "completed"
	StatusFailed     MessageStatus = "failed"
)

// QueuedMessage is the durable form of an inbound message used by the
// queued dispatch strategy.
type QueuedMessage struct {
	MessageID  string        `json:"message_id"`
	ChatID     string        `json:"chat_id"`
	UserID     string        `json:"user_id"`
	Text       string        `json:"text"`
	CreatedAt  time.Time     `json:"created_at"`
	Status     MessageStatus `json:"status"`
	RetryCount int           `json:"retry_count"`
}

// DialogState is the per-conversation progress record. At most one exists
// per chat; it expires after dialogTTL of inactivity.
type DialogState struct {
	ChatID        string    `json:"chat_id"`
	UserID        string    `json:"user_id"`
	LastMessageID string    `json:"last_message_id,omitempty"`
	LastActivity  time.Time `json:"last_activity"`
	MessageCount  int       `json:"message_count"`
}

// WorkerStats is the single process-wide aggregate record, overwritten in
// place after every poll cycle and every processing attempt.
type WorkerStats struct {
	TotalMessages     int        `json:"total_messages"`
	CompletedMessages int        `json:"completed_messages"`
	FailedMessages    int        `json:"failed_messages"`
	ActiveDialogs     int        `json:"active_dialogs"`
	LastPollTime      *time.Time `json:"last_poll_time,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
}
