package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CallStatus is the lifecycle state of a call.
type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusAccepted  CallStatus = "accepted"
	CallStatusRejected  CallStatus = "rejected"
	CallStatusEnded     CallStatus = "ended"
)

// IsTerminal reports whether no transition leaves s.
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusRejected || s == CallStatusEnded
}

// ActiveCallStatuses are the non-terminal statuses.
var ActiveCallStatuses = []CallStatus{CallStatusInitiated, CallStatusAccepted}

// CallType is the requested media kind. Media never passes through here.
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// ParseCallType validates a client-supplied call type.
func ParseCallType(s string) (CallType, error) {
	switch CallType(strings.ToLower(strings.TrimSpace(s))) {
	case CallTypeAudio:
		return CallTypeAudio, nil
	case CallTypeVideo:
		return CallTypeVideo, nil
	default:
		return "", Invalidf("unsupported call type %q", s)
	}
}

// CallEvent drives the state machine.
type CallEvent string

const (
	CallEventAccept CallEvent = "accept"
	CallEventReject CallEvent = "reject"
	CallEventEnd    CallEvent = "end"
)

// End reasons recorded on terminal calls.
const (
	ReasonHangup     = "hangup"
	ReasonCancelled  = "cancelled"
	ReasonDeclined   = "declined"
	ReasonTimeout    = "timeout"
	ReasonDisconnect = "disconnect"
)

// NextStatus is the call state machine:
//
//	initiated --accept--> accepted
//	initiated --reject--> rejected
//	initiated --end-----> ended     (caller abandoned)
//	accepted  --end-----> ended
//
// Every other combination is ErrInvalidState.
func NextStatus(from CallStatus, ev CallEvent) (CallStatus, error) {
	switch from {
	case CallStatusInitiated:
		switch ev {
		case CallEventAccept:
			return CallStatusAccepted, nil
		case CallEventReject:
			return CallStatusRejected, nil
		case CallEventEnd:
			return CallStatusEnded, nil
		}
	case CallStatusAccepted:
		if ev == CallEventEnd {
			return CallStatusEnded, nil
		}
	}
	return from, fmt.Errorf("%w: cannot %s a call that is %s", ErrInvalidState, ev, from)
}

// Call is one signaling session between a caller and a receiver.
type Call struct {
	ID         string     `json:"callId"`
	CallerID   string     `json:"callerId"`
	ReceiverID string     `json:"receiverId"`
	Type       CallType   `json:"type"`
	Status     CallStatus `json:"status"`
	StartTime  time.Time  `json:"startTime"`
	AcceptedAt *time.Time `json:"acceptedAt,omitempty"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	EndReason  string     `json:"endReason,omitempty"`
}

// NewCall creates a call in the initiated state.
func NewCall(callerID, receiverID string, callType CallType) *Call {
	return &Call{
		ID:         uuid.New().String(),
		CallerID:   callerID,
		ReceiverID: receiverID,
		Type:       callType,
		Status:     CallStatusInitiated,
		StartTime:  time.Now().UTC(),
	}
}

// HasParticipant reports whether userID is the caller or the receiver.
func (c *Call) HasParticipant(userID string) bool {
	return userID == c.CallerID || userID == c.ReceiverID
}

// Apply runs ev against the call at time now and returns the updated
// copy. The receiver is left untouched.
func (c *Call) Apply(ev CallEvent, reason string, now time.Time) (*Call, error) {
	next, err := NextStatus(c.Status, ev)
	if err != nil {
		return nil, err
	}

	out := *c
	out.Status = next
	switch next {
	case CallStatusAccepted:
		out.AcceptedAt = &now
	case CallStatusRejected, CallStatusEnded:
		out.EndTime = &now
		out.EndReason = reason
	}
	return &out, nil
}

// CallRecord is the immutable history entry of a finished call.
type CallRecord struct {
	CallID      string     `json:"callId"`
	CallerID    string     `json:"callerId"`
	ReceiverID  string     `json:"receiverId"`
	Type        CallType   `json:"type"`
	Status      CallStatus `json:"status"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     time.Time  `json:"endTime"`
	AcceptedAt  *time.Time `json:"acceptedAt,omitempty"`
	DurationSec int64      `json:"durationSec"`
	EndReason   string     `json:"endReason,omitempty"`
}

// NewCallRecord derives the history entry of a terminal call. Talk time
// counts from acceptance; unanswered calls have zero duration.
func NewCallRecord(c *Call) (*CallRecord, error) {
	if !c.Status.IsTerminal() || c.EndTime == nil {
		return nil, fmt.Errorf("%w: call %s is not finished", ErrInvalidState, c.ID)
	}

	rec := &CallRecord{
		CallID:     c.ID,
		CallerID:   c.CallerID,
		ReceiverID: c.ReceiverID,
		Type:       c.Type,
		Status:     c.Status,
		StartTime:  c.StartTime,
		EndTime:    *c.EndTime,
		AcceptedAt: c.AcceptedAt,
		EndReason:  c.EndReason,
	}
	if c.AcceptedAt != nil && c.EndTime.After(*c.AcceptedAt) {
		rec.DurationSec = int64(c.EndTime.Sub(*c.AcceptedAt) / time.Second)
	}
	return rec, nil
}
