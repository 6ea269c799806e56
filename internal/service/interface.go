package service

import (
	"context"
	"iter"

	"github.com/MrChampion2020/etokserver/internal/domain"
)

// Notifier delivers an outbound event to every connection of a user.
// A user without connections is not an error.
type Notifier interface {
	Send(ctx context.Context, userID string, event interface{}) error
}

// OnlineChecker reports whether a user still has a live connection on any
// node of the cluster.
type OnlineChecker interface {
	Reachable(ctx context.Context, userID string) bool
}

// MessageRelay persists and delivers direct messages.
type MessageRelay interface {
	// Send stores a message and pushes it to the receiver's connections.
	Send(ctx context.Context, senderID, receiverID, body string) (*domain.ChatMessage, error)

	// History returns one page of the conversation between userA and userB.
	History(ctx context.Context, userA, userB string, q domain.HistoryQuery) (*domain.HistoryPage, error)

	// Stream walks the whole conversation oldest first, one page at a time.
	Stream(ctx context.Context, userA, userB string, pageSize int) iter.Seq2[domain.ChatMessage, error]

	// DeleteMany removes messages the requester sent or received.
	DeleteMany(ctx context.Context, requesterID string, ids []string) (int64, error)
}

// CallCoordinator drives call sessions through their state machine.
type CallCoordinator interface {
	Initiate(ctx context.Context, callerID, receiverID string, callType domain.CallType) (*domain.Call, error)
	Accept(ctx context.Context, actorID, callID string) (*domain.Call, error)
	Reject(ctx context.Context, actorID, callID string) (*domain.Call, error)
	End(ctx context.Context, actorID, callID string) (*domain.Call, error)

	// Get returns a call the user takes part in.
	Get(ctx context.Context, userID, callID string) (*domain.Call, error)

	// ListRecords pages through the user's finished calls.
	ListRecords(ctx context.Context, userID string, page, pageSize int) ([]domain.CallRecord, int, error)

	// HandleUserOnline and HandleUserOffline follow the connection
	// registry's first/last connection transitions.
	HandleUserOnline(userID string)
	HandleUserOffline(userID string)

	// Stop cancels every pending timer.
	Stop() error
}

// PresenceService answers presence queries and visibility toggles.
type PresenceService interface {
	Get(ctx context.Context, userID string) (*domain.PresenceStatus, error)
	SetVisible(ctx context.Context, userID string, visible bool) error
}
