package audit

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/MrChampion2020/etokserver/pkg/log"
)

// Audit actions.
const (
	ActionMessageSend   = "message.send"
	ActionMessageDelete = "message.delete"
	ActionCallInitiate  = "call.initiate"
	ActionCallAccept    = "call.accept"
	ActionCallReject    = "call.reject"
	ActionCallEnd       = "call.end"
	ActionCallDrop      = "call.drop"
	ActionPresenceSet   = "presence.set"
	ActionConnect       = "connection.open"
	ActionDisconnect    = "connection.close"
)

// ActorSystem marks actions the server took on its own (timeouts,
// disconnect cleanup).
const ActorSystem = "system"

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldActor  = "actor"
	FieldDetail = "detail"
)

// Entry starts an audit event on the context logger. The caller adds
// extra fields and finishes it with Msg.
func Entry(ctx context.Context, action, actorID string) *zerolog.Event {
	if actorID == "" {
		actorID = ActorSystem
	}
	l := log.Ctx(ctx)
	return l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(FieldActor, actorID)
}

// Log emits an audit entry.
func Log(ctx context.Context, action, actorID, msg string) {
	Entry(ctx, action, actorID).Msg(msg)
}

// LogWithDetail emits an audit entry with a free-form detail field.
func LogWithDetail(ctx context.Context, action, actorID, detail, msg string) {
	Entry(ctx, action, actorID).Str(FieldDetail, detail).Msg(msg)
}
