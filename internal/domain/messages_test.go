package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"type":"sendMessage","payload":{"senderId":"a","receiverId":"b","message":"hi"}}`))
	require.NoError(t, err)
	assert.Equal(t, SendMessageEvent{SenderID: "a", ReceiverID: "b", Message: "hi"}, ev)

	ev, err = DecodeInbound([]byte(`{"type":"rejectCall","payload":{"callId":"c1"}}`))
	require.NoError(t, err)
	assert.Equal(t, CallActionEvent{CallID: "c1", Action: CallEventReject}, ev)
	assert.Equal(t, MsgTypeRejectCall, ev.EventType())

	ev, err = DecodeInbound([]byte(`{"type":"userOffline","payload":{"userId":"a"}}`))
	require.NoError(t, err)
	assert.Equal(t, PresenceEvent{UserID: "a", Visible: false}, ev)
}

func TestDecodeInboundFlatPayload(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"type":"endCall","callId":"c9"}`))
	require.NoError(t, err)
	assert.Equal(t, CallActionEvent{CallID: "c9", Action: CallEventEnd}, ev)
}

func TestDecodeInboundErrors(t *testing.T) {
	_, err := DecodeInbound([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = DecodeInbound([]byte(`{"type":"acceptCall","payload":{}}`))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = DecodeInbound([]byte(`{"type":"danceParty"}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, ErrorCode(fmt.Errorf("call x: %w", ErrNotFound)))
	assert.Equal(t, ErrCodeInvalidState, ErrorCode(ErrCallInProgress))
	assert.Equal(t, ErrCodeStorage, ErrorCode(NewStorageError("save", errors.New("disk full"))))
	assert.Equal(t, ErrCodeInternalError, ErrorCode(errors.New("boom")))
	assert.Equal(t, "storage temporarily unavailable", PublicMessage(NewStorageError("save", errors.New("disk full"))))
}
