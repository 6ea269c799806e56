package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ChatMessage is a direct message between two users.
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Body       string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewChatMessage stamps a message with a server-side ID and time. ULIDs
// sort by creation time, so ID order equals timestamp order.
func NewChatMessage(senderID, receiverID, body string) *ChatMessage {
	now := time.Now().UTC()
	return &ChatMessage{
		ID:         ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		Timestamp:  now,
	}
}

// ConversationKey identifies the unordered pair {a, b}. The length prefix
// keeps IDs that contain the separator from colliding.
func ConversationKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%s|%s", len(a), a, b)
}

// Direction is the history traversal order.
type Direction string

const (
	DirectionForward  Direction = "forward"  // oldest to newest
	DirectionBackward Direction = "backward" // newest to oldest
)

// ParseDirection defaults to forward (ascending).
func ParseDirection(s string) Direction {
	if strings.EqualFold(s, string(DirectionBackward)) {
		return DirectionBackward
	}
	return DirectionForward
}

// HistoryQuery selects one page of a conversation.
type HistoryQuery struct {
	Cursor    string
	Limit     int
	Direction Direction
}

// HistoryPage is one page of a conversation.
type HistoryPage struct {
	Messages   []ChatMessage `json:"messages"`
	NextCursor string        `json:"next_cursor,omitempty"`
	HasMore    bool          `json:"has_more"`
}
