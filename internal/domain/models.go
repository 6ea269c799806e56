package domain

import "time"

// MessageModel is the GORM row of a chat message.
type MessageModel struct {
	ID              string    `gorm:"primaryKey;size:26"`
	ConversationKey string    `gorm:"size:160;not null;index:idx_messages_conversation,priority:1"`
	SenderID        string    `gorm:"size:64;not null;index"`
	ReceiverID      string    `gorm:"size:64;not null;index"`
	Body            string    `gorm:"type:text;not null"`
	CreatedAt       time.Time `gorm:"not null;index:idx_messages_conversation,priority:2"`
}

// TableName overrides the default table name.
func (MessageModel) TableName() string {
	return "chat_messages"
}

// ToDomain converts the model to a domain object.
func (m *MessageModel) ToDomain() ChatMessage {
	return ChatMessage{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Body:       m.Body,
		Timestamp:  m.CreatedAt.UTC(),
	}
}

// MessageToModel converts a domain message to its row.
func MessageToModel(m *ChatMessage) *MessageModel {
	return &MessageModel{
		ID:              m.ID,
		ConversationKey: ConversationKey(m.SenderID, m.ReceiverID),
		SenderID:        m.SenderID,
		ReceiverID:      m.ReceiverID,
		Body:            m.Body,
		CreatedAt:       m.Timestamp,
	}
}

// CallModel is the GORM row of a call session.
type CallModel struct {
	ID         string     `gorm:"primaryKey;size:36"`
	CallerID   string     `gorm:"size:64;not null;index"`
	ReceiverID string     `gorm:"size:64;not null;index"`
	PairKey    string     `gorm:"size:160;not null;index:idx_calls_pair_status,priority:1"`
	Type       string     `gorm:"size:16;not null"`
	Status     string     `gorm:"size:16;not null;index:idx_calls_pair_status,priority:2"`
	StartTime  time.Time  `gorm:"not null"`
	AcceptedAt *time.Time
	EndTime    *time.Time
	EndReason  string `gorm:"size:32"`
	UpdatedAt  time.Time
}

// TableName overrides the default table name.
func (CallModel) TableName() string {
	return "calls"
}

// ToDomain converts the model to a domain object.
func (m *CallModel) ToDomain() *Call {
	return &Call{
		ID:         m.ID,
		CallerID:   m.CallerID,
		ReceiverID: m.ReceiverID,
		Type:       CallType(m.Type),
		Status:     CallStatus(m.Status),
		StartTime:  m.StartTime.UTC(),
		AcceptedAt: utcPtr(m.AcceptedAt),
		EndTime:    utcPtr(m.EndTime),
		EndReason:  m.EndReason,
	}
}

// CallToModel converts a domain call to its row.
func CallToModel(c *Call) *CallModel {
	return &CallModel{
		ID:         c.ID,
		CallerID:   c.CallerID,
		ReceiverID: c.ReceiverID,
		PairKey:    ConversationKey(c.CallerID, c.ReceiverID),
		Type:       string(c.Type),
		Status:     string(c.Status),
		StartTime:  c.StartTime,
		AcceptedAt: c.AcceptedAt,
		EndTime:    c.EndTime,
		EndReason:  c.EndReason,
	}
}

// CallRecordModel is the GORM row of a finished call.
type CallRecordModel struct {
	CallID      string    `gorm:"primaryKey;size:36"`
	CallerID    string    `gorm:"size:64;not null;index"`
	ReceiverID  string    `gorm:"size:64;not null;index"`
	Type        string    `gorm:"size:16;not null"`
	Status      string    `gorm:"size:16;not null"`
	StartTime   time.Time `gorm:"not null;index"`
	EndTime     time.Time `gorm:"not null"`
	AcceptedAt  *time.Time
	DurationSec int64
	EndReason   string `gorm:"size:32"`
	CreatedAt   time.Time
}

// TableName overrides the default table name.
func (CallRecordModel) TableName() string {
	return "call_records"
}

// ToDomain converts the model to a domain object.
func (m *CallRecordModel) ToDomain() CallRecord {
	return CallRecord{
		CallID:      m.CallID,
		CallerID:    m.CallerID,
		ReceiverID:  m.ReceiverID,
		Type:        CallType(m.Type),
		Status:      CallStatus(m.Status),
		StartTime:   m.StartTime.UTC(),
		EndTime:     m.EndTime.UTC(),
		AcceptedAt:  utcPtr(m.AcceptedAt),
		DurationSec: m.DurationSec,
		EndReason:   m.EndReason,
	}
}

// CallRecordToModel converts a record to its row.
func CallRecordToModel(r *CallRecord) *CallRecordModel {
	return &CallRecordModel{
		CallID:      r.CallID,
		CallerID:    r.CallerID,
		ReceiverID:  r.ReceiverID,
		Type:        string(r.Type),
		Status:      string(r.Status),
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		AcceptedAt:  r.AcceptedAt,
		DurationSec: r.DurationSec,
		EndReason:   r.EndReason,
	}
}

// PresenceModel is the durable presence flag of a user.
type PresenceModel struct {
	UserID    string `gorm:"primaryKey;size:64"`
	Online    bool   `gorm:"not null;default:false"`
	LastSeen  *time.Time
	UpdatedAt time.Time
}

// TableName overrides the default table name.
func (PresenceModel) TableName() string {
	return "user_presence"
}

// ToDomain converts the model to a domain object.
func (m *PresenceModel) ToDomain() *PresenceStatus {
	return &PresenceStatus{
		UserID:   m.UserID,
		Online:   m.Online,
		LastSeen: utcPtr(m.LastSeen),
	}
}

// PresenceNodeModel marks a node holding live connections of a user.
type PresenceNodeModel struct {
	UserID    string `gorm:"primaryKey;size:64"`
	NodeID    string `gorm:"primaryKey;size:128;index"`
	UpdatedAt time.Time
}

// TableName overrides the default table name.
func (PresenceNodeModel) TableName() string {
	return "user_presence_nodes"
}

// AllModels lists every table for AutoMigrate.
func AllModels() []interface{} {
	return []interface{}{&MessageModel{}, &CallModel{}, &CallRecordModel{}, &PresenceModel{}, &PresenceNodeModel{}}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
