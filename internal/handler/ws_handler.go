package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MrChampion2020/etokserver/internal/audit"
	"github.com/MrChampion2020/etokserver/internal/domain"
	"github.com/MrChampion2020/etokserver/internal/hub"
	"github.com/MrChampion2020/etokserver/internal/service"
	pkglog "github.com/MrChampion2020/etokserver/pkg/log"
	"github.com/MrChampion2020/etokserver/pkg/middleware"
)

const eventTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// WSHandler upgrades connections and dispatches their events.
type WSHandler struct {
	hub      *hub.Hub
	auth     *middleware.Authenticator
	relay    service.MessageRelay
	calls    service.CallCoordinator
	presence service.PresenceService
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(
	h *hub.Hub,
	auth *middleware.Authenticator,
	relay service.MessageRelay,
	calls service.CallCoordinator,
	presence service.PresenceService,
) *WSHandler {
	return &WSHandler{
		hub:      h,
		auth:     auth,
		relay:    relay,
		calls:    calls,
		presence: presence,
	}
}

// HandleWebSocket binds the caller's identity, upgrades the connection
// and registers it.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	l := pkglog.Ctx(r.Context())

	userID, err := h.auth.Identify(r)
	if err != nil {
		l.Warn().Err(err).Msg("websocket identity rejected")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(domain.NewErrorMessage(domain.ErrCodeUnauthorized, "unauthorized"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error().Err(err).Str(pkglog.FieldUserID, userID).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(h.hub, conn, userID)
	client.SetDisconnectHandler(func(c *hub.Client) {
		ctx := pkglog.WithStr(context.Background(), pkglog.FieldConnID, c.ID)
		audit.Log(ctx, audit.ActionDisconnect, c.UserID, "connection closed")
	})

	h.hub.Register(client)
	audit.Log(pkglog.WithStr(r.Context(), pkglog.FieldConnID, client.ID), audit.ActionConnect, userID, "connection opened")

	go client.WritePump()
	go client.ReadPump(h.handleMessage)
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	ctx := pkglog.WithStr(context.Background(), pkglog.FieldUserID, client.UserID)
	ctx = pkglog.WithStr(ctx, pkglog.FieldConnID, client.ID)
	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()
	l := pkglog.Ctx(ctx)

	ev, err := domain.DecodeInbound(message)
	if errors.Is(err, domain.ErrUnknownEvent) {
		l.Warn().Err(err).Msg("ignoring unknown event")
		return
	}
	if err != nil {
		client.SendMessage(domain.NewRequestError("", "", err))
		return
	}

	if err := h.dispatch(ctx, client, ev); err != nil {
		var callID string
		if action, ok := ev.(domain.CallActionEvent); ok {
			callID = action.CallID
		}

		if errors.Is(err, domain.ErrStorage) {
			l.Error().Err(err).Str(pkglog.FieldEventType, ev.EventType()).Msg("event failed on storage")
		} else {
			l.Debug().Err(err).Str(pkglog.FieldEventType, ev.EventType()).Msg("event refused")
		}
		client.SendMessage(domain.NewRequestError(ev.EventType(), callID, err))
	}
}

func (h *WSHandler) dispatch(ctx context.Context, client *hub.Client, ev domain.InboundEvent) error {
	switch e := ev.(type) {
	case domain.SendMessageEvent:
		if err := bound(client, e.SenderID); err != nil {
			return err
		}
		_, err := h.relay.Send(ctx, client.UserID, e.ReceiverID, e.Message)
		return err

	case domain.PresenceEvent:
		if err := bound(client, e.UserID); err != nil {
			return err
		}
		return h.presence.SetVisible(ctx, client.UserID, e.Visible)

	case domain.InitiateCallEvent:
		if err := bound(client, e.CallerID); err != nil {
			return err
		}
		_, err := h.calls.Initiate(ctx, client.UserID, e.ReceiverID, domain.CallType(e.Type))
		return err

	case domain.CallActionEvent:
		var err error
		switch e.Action {
		case domain.CallEventAccept:
			_, err = h.calls.Accept(ctx, client.UserID, e.CallID)
		case domain.CallEventReject:
			_, err = h.calls.Reject(ctx, client.UserID, e.CallID)
		case domain.CallEventEnd:
			_, err = h.calls.End(ctx, client.UserID, e.CallID)
		}
		return err

	case domain.PingEvent:
		return client.SendMessage(domain.NewPong())
	}
	return nil
}

// bound rejects payload identities that differ from the connection's.
func bound(client *hub.Client, claimed string) error {
	if claimed != "" && claimed != client.UserID {
		return domain.Invalidf("payload identity does not match the connection")
	}
	return nil
}
