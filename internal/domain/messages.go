package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// WebSocket event types from client.
const (
	MsgTypeSendMessage  = "sendMessage"
	MsgTypeUserOnline   = "userOnline"
	MsgTypeUserOffline  = "userOffline"
	MsgTypeInitiateCall = "initiateCall"
	MsgTypeAcceptCall   = "acceptCall"
	MsgTypeRejectCall   = "rejectCall"
	MsgTypeEndCall      = "endCall"
	MsgTypePing         = "ping"
)

// WebSocket event types to client.
const (
	MsgTypeReceiveMessage = "receiveMessage"
	MsgTypeIncomingCall   = "incomingCall"
	MsgTypeCallInitiated  = "callInitiated"
	MsgTypeCallAccepted   = "callAccepted"
	MsgTypeStartCall      = "startCall"
	MsgTypeCallRejected   = "callRejected"
	MsgTypeCallEnded      = "callEnded"
	MsgTypeError          = "error"
	MsgTypePong           = "pong"
)

// ErrUnknownEvent is returned for an event type outside the inbound set.
var ErrUnknownEvent = errors.New("unknown event type")

// BaseMessage is the envelope of every WebSocket frame.
type BaseMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InboundEvent is the closed set of client events. Only types in this
// file implement it.
type InboundEvent interface {
	EventType() string
	inbound()
}

// SendMessageEvent asks to relay a chat message.
type SendMessageEvent struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
}

// PresenceEvent toggles the user's visible presence.
type PresenceEvent struct {
	UserID  string `json:"userId"`
	Visible bool   `json:"-"`
}

// InitiateCallEvent starts a call.
type InitiateCallEvent struct {
	CallerID   string `json:"callerId"`
	ReceiverID string `json:"receiverId"`
	Type       string `json:"type"`
}

// CallActionEvent accepts, rejects or ends a call.
type CallActionEvent struct {
	CallID string    `json:"callId"`
	Action CallEvent `json:"-"`
}

// PingEvent is an application-level keepalive.
type PingEvent struct{}

func (SendMessageEvent) EventType() string { return MsgTypeSendMessage }
func (e PresenceEvent) EventType() string {
	if e.Visible {
		return MsgTypeUserOnline
	}
	return MsgTypeUserOffline
}
func (InitiateCallEvent) EventType() string { return MsgTypeInitiateCall }
func (e CallActionEvent) EventType() string {
	switch e.Action {
	case CallEventAccept:
		return MsgTypeAcceptCall
	case CallEventReject:
		return MsgTypeRejectCall
	default:
		return MsgTypeEndCall
	}
}
func (PingEvent) EventType() string { return MsgTypePing }

func (SendMessageEvent) inbound()  {}
func (PresenceEvent) inbound()     {}
func (InitiateCallEvent) inbound() {}
func (CallActionEvent) inbound()   {}
func (PingEvent) inbound()         {}

// DecodeInbound parses one client frame. Fields may sit under "payload"
// or, for older clients, next to "type".
func DecodeInbound(data []byte) (InboundEvent, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, Invalidf("malformed event")
	}
	if base.Type == "" {
		return nil, Invalidf("event type is required")
	}

	raw := []byte(base.Payload)
	if len(raw) == 0 || string(raw) == "null" {
		raw = data
	}

	switch base.Type {
	case MsgTypeSendMessage:
		var e SendMessageEvent
		if err := decodePayload(base.Type, raw, &e); err != nil {
			return nil, err
		}
		return e, nil
	case MsgTypeUserOnline, MsgTypeUserOffline:
		e := PresenceEvent{Visible: base.Type == MsgTypeUserOnline}
		if err := decodePayload(base.Type, raw, &e); err != nil {
			return nil, err
		}
		return e, nil
	case MsgTypeInitiateCall:
		var e InitiateCallEvent
		if err := decodePayload(base.Type, raw, &e); err != nil {
			return nil, err
		}
		return e, nil
	case MsgTypeAcceptCall, MsgTypeRejectCall, MsgTypeEndCall:
		e := CallActionEvent{Action: callActions[base.Type]}
		if err := decodePayload(base.Type, raw, &e); err != nil {
			return nil, err
		}
		if e.CallID == "" {
			return nil, Invalidf("%s: callId is required", base.Type)
		}
		return e, nil
	case MsgTypePing:
		return PingEvent{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, base.Type)
	}
}

var callActions = map[string]CallEvent{
	MsgTypeAcceptCall: CallEventAccept,
	MsgTypeRejectCall: CallEventReject,
	MsgTypeEndCall:    CallEventEnd,
}

func decodePayload(eventType string, raw []byte, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return Invalidf("invalid %s payload", eventType)
	}
	return nil
}

// OutboundMessage is a server → client frame.
type OutboundMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// ReceiveMessagePayload carries a relayed chat message.
type ReceiveMessagePayload struct {
	Message *ChatMessage `json:"message"`
}

// IncomingCallPayload rings the receiver.
type IncomingCallPayload struct {
	CallID   string   `json:"callId"`
	CallerID string   `json:"callerId"`
	Type     CallType `json:"type"`
}

// CallInitiatedPayload echoes the new call ID to the caller.
type CallInitiatedPayload struct {
	CallID     string   `json:"callId"`
	ReceiverID string   `json:"receiverId"`
	Type       CallType `json:"type"`
}

// CallSignalPayload is shared by callAccepted, startCall, callRejected
// and callEnded.
type CallSignalPayload struct {
	CallID string `json:"callId"`
	Reason string `json:"reason,omitempty"`
}

// ErrorPayload reports a failed client request.
type ErrorPayload struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	RequestType string `json:"requestType,omitempty"`
	CallID      string `json:"callId,omitempty"`
}

// NewReceiveMessage wraps a persisted chat message for its receiver.
func NewReceiveMessage(m *ChatMessage) *OutboundMessage {
	return &OutboundMessage{Type: MsgTypeReceiveMessage, Payload: ReceiveMessagePayload{Message: m}}
}

// NewIncomingCall builds the ring event for the receiver.
func NewIncomingCall(c *Call) *OutboundMessage {
	return &OutboundMessage{Type: MsgTypeIncomingCall, Payload: IncomingCallPayload{
		CallID: c.ID, CallerID: c.CallerID, Type: c.Type,
	}}
}

// NewCallInitiated builds the caller's confirmation.
func NewCallInitiated(c *Call) *OutboundMessage {
	return &OutboundMessage{Type: MsgTypeCallInitiated, Payload: CallInitiatedPayload{
		CallID: c.ID, ReceiverID: c.ReceiverID, Type: c.Type,
	}}
}

// NewCallSignal builds one of the call state notifications.
func NewCallSignal(msgType, callID, reason string) *OutboundMessage {
	return &OutboundMessage{Type: msgType, Payload: CallSignalPayload{CallID: callID, Reason: reason}}
}

// NewErrorMessage creates a new error message.
func NewErrorMessage(code, message string) *OutboundMessage {
	return &OutboundMessage{Type: MsgTypeError, Payload: ErrorPayload{Code: code, Message: message}}
}

// NewRequestError reports err for the request that caused it.
func NewRequestError(requestType, callID string, err error) *OutboundMessage {
	return &OutboundMessage{Type: MsgTypeError, Payload: ErrorPayload{
		Code:        ErrorCode(err),
		Message:     PublicMessage(err),
		RequestType: requestType,
		CallID:      callID,
	}}
}

// NewPong answers a ping.
func NewPong() *OutboundMessage {
	return &OutboundMessage{Type: MsgTypePong}
}
