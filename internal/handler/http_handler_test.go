package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrChampion2020/etokserver/internal/domain"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, body []byte) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(body, &env))
	return env
}

func TestHistoryRequiresIdentity(t *testing.T) {
	s := newStack(t)
	w := s.do(t, http.MethodGet, "/api/v1/messages/bob", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHistoryPages(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	for _, body := range []string{"one", "two", "three"} {
		_, err := s.relay.Send(ctx, "alice", "bob", body)
		require.NoError(t, err)
	}

	w := s.do(t, http.MethodGet, "/api/v1/messages/alice?limit=2", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)

	var page struct {
		Items      []domain.ChatMessage `json:"items"`
		NextCursor string               `json:"next_cursor"`
		HasMore    bool                 `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w.Body.Bytes()).Data, &page))
	require.Len(t, page.Items, 2)
	assert.Equal(t, "one", page.Items[0].Body)
	assert.True(t, page.HasMore)

	w = s.do(t, http.MethodGet, "/api/v1/messages/alice?limit=2&cursor="+page.NextCursor, "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(decode(t, w.Body.Bytes()).Data, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "three", page.Items[0].Body)
	assert.False(t, page.HasMore)

	w = s.do(t, http.MethodGet, "/api/v1/messages/alice?limit=abc", "bob", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteMessages(t *testing.T) {
	s := newStack(t)
	msg, err := s.relay.Send(context.Background(), "alice", "bob", "oops")
	require.NoError(t, err)

	w := s.do(t, http.MethodDelete, "/api/v1/messages", "carol", `{"ids":["`+msg.ID+`"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":0}`, string(decode(t, w.Body.Bytes()).Data))

	w = s.do(t, http.MethodDelete, "/api/v1/messages", "alice", `{"ids":["`+msg.ID+`"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":1}`, string(decode(t, w.Body.Bytes()).Data))

	w = s.do(t, http.MethodDelete, "/api/v1/messages", "alice", `{"ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodDelete, "/api/v1/messages", "alice", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCallEndpoints(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	call, err := s.calls.Initiate(ctx, "alice", "bob", domain.CallTypeAudio)
	require.NoError(t, err)

	w := s.do(t, http.MethodGet, "/api/v1/calls/"+call.ID, "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got domain.Call
	require.NoError(t, json.Unmarshal(decode(t, w.Body.Bytes()).Data, &got))
	assert.Equal(t, domain.CallStatusInitiated, got.Status)

	w = s.do(t, http.MethodGet, "/api/v1/calls/"+call.ID, "mallory", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.ErrCodeNotFound, decode(t, w.Body.Bytes()).Error.Code)

	_, err = s.calls.Reject(ctx, "bob", call.ID)
	require.NoError(t, err)

	w = s.do(t, http.MethodGet, "/api/v1/calls?page=1&page_size=10", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items []domain.CallRecord `json:"items"`
		Total int                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w.Body.Bytes()).Data, &list))
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.Items, 1)
	assert.Equal(t, call.ID, list.Items[0].CallID)
}

func TestPresenceEndpoint(t *testing.T) {
	s := newStack(t)
	s.dial(t, "alice")

	w := s.do(t, http.MethodGet, "/api/v1/presence/alice", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status domain.PresenceStatus
	require.NoError(t, json.Unmarshal(decode(t, w.Body.Bytes()).Data, &status))
	assert.True(t, status.Online)

	w = s.do(t, http.MethodGet, "/api/v1/presence/nobody", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(decode(t, w.Body.Bytes()).Data, &status))
	assert.False(t, status.Online)
}
