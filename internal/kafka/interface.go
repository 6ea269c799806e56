package kafka

import (
	"context"
	"time"

	"github.com/MrChampion2020/etokserver/internal/domain"
)

// CallRecordEvent is published once per finished call.
type CallRecordEvent struct {
	Type        string `json:"type"` // "call_finished"
	CallID      string `json:"call_id"`
	CallerID    string `json:"caller_id"`
	ReceiverID  string `json:"receiver_id"`
	CallType    string `json:"call_type"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	StartTime   int64  `json:"start_time"`
	EndTime     int64  `json:"end_time"`
	DurationSec int64  `json:"duration_sec"`
	Timestamp   int64  `json:"timestamp"`
}

// PresenceEvent is published when a user's visible presence flips.
type PresenceEvent struct {
	Type      string `json:"type"` // "user_online" | "user_offline"
	UserID    string `json:"user_id"`
	Online    bool   `json:"online"`
	Timestamp int64  `json:"timestamp"`
}

// Event types
const (
	EventCallFinished = "call_finished"
	EventUserOnline   = "user_online"
	EventUserOffline  = "user_offline"
)

// EventProducer defines the interface for producing call and presence events.
type EventProducer interface {
	ProduceCallRecord(ctx context.Context, rec *domain.CallRecord) error
	ProducePresenceChanged(ctx context.Context, userID string, online bool, at time.Time) error
	Close() error
}
