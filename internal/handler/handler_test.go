package handler

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/MrChampion2020/etokserver/internal/config"
	"github.com/MrChampion2020/etokserver/internal/domain"
	"github.com/MrChampion2020/etokserver/internal/hub"
	"github.com/MrChampion2020/etokserver/internal/repository"
	"github.com/MrChampion2020/etokserver/internal/service"
	"github.com/MrChampion2020/etokserver/internal/store"
	"github.com/MrChampion2020/etokserver/pkg/database"
	"github.com/MrChampion2020/etokserver/pkg/middleware"
)

// stack is the full service graph on an in-memory database.
type stack struct {
	hub      *hub.Hub
	relay    service.MessageRelay
	calls    service.CallCoordinator
	presence service.PresenceService
	auth     *middleware.Authenticator
	server   *httptest.Server
	engine   *gin.Engine
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.New(&database.Config{Driver: "sqlite", FilePath: ":memory:", LogLevel: "silent"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, domain.AllModels()...))

	presenceStore := store.NewGormPresenceStore(db)
	h := hub.NewHub(config.WebSocketConfig{
		PingInterval: time.Second,
		PongWait:     5 * time.Second,
		WriteWait:    time.Second,
		SendBuffer:   16,
	}, hub.Options{Presence: presenceStore})

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	s := &stack{hub: h, auth: middleware.NewAuthenticator(nil)}
	s.relay = service.NewMessageRelay(repository.NewGormMessageRepository(db), h, config.ChatConfig{MaxBodyLength: 1000})
	s.calls = service.NewCallCoordinator(
		repository.NewGormCallRepository(db),
		repository.NewGormCallRecordRepository(db),
		h, h, nil, config.CallConfig{},
	)
	s.presence = service.NewPresenceService(h, presenceStore)
	h.AddStatusListener(s.calls)

	router := mux.NewRouter()
	router.HandleFunc("/ws", NewWSHandler(h, s.auth, s.relay, s.calls, s.presence).HandleWebSocket)
	s.server = httptest.NewServer(router)

	s.engine = gin.New()
	NewHTTPHandler(s.relay, s.calls, s.presence, s.auth).RegisterRoutes(s.engine)

	t.Cleanup(func() {
		s.server.Close()
		s.calls.Stop()
		cancel()
		database.Close(db)
	})
	return s
}

// dial connects userID and waits until the connection is registered.
func (s *stack) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws?user_id=" + userID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	// The read loop starts after registration, so a pong proves it.
	send(t, conn, map[string]interface{}{"type": domain.MsgTypePing})
	require.Equal(t, domain.MsgTypePong, next(t, conn)["type"])
	return conn
}

func (s *stack) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func next(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var out map[string]interface{}
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func payloadOf(t *testing.T, frame map[string]interface{}) map[string]interface{} {
	t.Helper()
	p, ok := frame["payload"].(map[string]interface{})
	require.True(t, ok, "frame %v has no payload", frame)
	return p
}
