package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/im7mortal/kmutex"

	"github.com/MrChampion2020/etokserver/internal/audit"
	"github.com/MrChampion2020/etokserver/internal/config"
	"github.com/MrChampion2020/etokserver/internal/domain"
	"github.com/MrChampion2020/etokserver/internal/kafka"
	"github.com/MrChampion2020/etokserver/internal/repository"
	"github.com/MrChampion2020/etokserver/pkg/log"
)

const systemTimeout = 5 * time.Second

type callCoordinator struct {
	calls    repository.CallRepository
	records  repository.CallRecordRepository
	notifier Notifier
	online   OnlineChecker
	producer kafka.EventProducer
	cfg      config.CallConfig

	locks *kmutex.Kmutex
	ring  *timerSet // callID -> ring timeout
	grace *timerSet // userID -> reconnect grace
}

// NewCallCoordinator creates a CallCoordinator. online and producer may
// be nil.
func NewCallCoordinator(
	calls repository.CallRepository,
	records repository.CallRecordRepository,
	notifier Notifier,
	online OnlineChecker,
	producer kafka.EventProducer,
	cfg config.CallConfig,
) CallCoordinator {
	return &callCoordinator{
		calls:    calls,
		records:  records,
		notifier: notifier,
		online:   online,
		producer: producer,
		cfg:      cfg,
		locks:    kmutex.New(),
		ring:     newTimerSet(),
		grace:    newTimerSet(),
	}
}

func (c *callCoordinator) Initiate(ctx context.Context, callerID, receiverID string, callType domain.CallType) (*domain.Call, error) {
	l := log.Ctx(ctx)

	callerID, receiverID = strings.TrimSpace(callerID), strings.TrimSpace(receiverID)
	switch {
	case callerID == "" || receiverID == "":
		return nil, domain.Invalidf("callerId and receiverId are required")
	case callerID == receiverID:
		return nil, domain.Invalidf("cannot call yourself")
	}
	callType, err := domain.ParseCallType(string(callType))
	if err != nil {
		return nil, err
	}

	pairLock := "pair:" + domain.ConversationKey(callerID, receiverID)
	c.locks.Lock(pairLock)
	defer c.locks.Unlock(pairLock)

	existing, err := c.calls.FindActiveBetween(ctx, callerID, receiverID)
	switch {
	case err == nil:
		if !c.expireStale(ctx, existing) {
			return nil, fmt.Errorf("%w (call %s)", domain.ErrCallInProgress, existing.ID)
		}
	case !errors.Is(err, repository.ErrCallNotFound):
		return nil, domain.NewStorageError("find active call", err)
	}

	call := domain.NewCall(callerID, receiverID, callType)
	if err := c.calls.Create(ctx, call); err != nil {
		return nil, domain.NewStorageError("create call", err)
	}

	c.notify(ctx, receiverID, domain.NewIncomingCall(call))
	c.notify(ctx, callerID, domain.NewCallInitiated(call))

	if c.cfg.RingTimeout > 0 {
		callID := call.ID
		c.ring.arm(callID, c.cfg.RingTimeout, func() { c.expire(callID) })
	}

	l.Info().
		Str(log.FieldCallID, call.ID).
		Str(log.FieldUserID, callerID).
		Str(log.FieldPeerID, receiverID).
		Str("type", string(callType)).
		Msg("call initiated")
	audit.LogWithDetail(ctx, audit.ActionCallInitiate, callerID, call.ID, "call initiated")
	return call, nil
}

// expireStale times out an unanswered call whose ring timer no longer
// exists, such as one left behind by a restart. It reports whether the
// pair is free afterwards.
func (c *callCoordinator) expireStale(ctx context.Context, existing *domain.Call) bool {
	if existing.Status != domain.CallStatusInitiated || c.cfg.RingTimeout <= 0 {
		return false
	}
	if c.ring.pending(existing.ID) || time.Since(existing.StartTime) < c.cfg.RingTimeout {
		return false
	}
	_, err := c.transition(ctx, "", existing.ID, domain.CallEventReject, domain.ReasonTimeout)
	return err == nil || errors.Is(err, domain.ErrInvalidState)
}

func (c *callCoordinator) Accept(ctx context.Context, actorID, callID string) (*domain.Call, error) {
	return c.transition(ctx, actorID, callID, domain.CallEventAccept, "")
}

func (c *callCoordinator) Reject(ctx context.Context, actorID, callID string) (*domain.Call, error) {
	return c.transition(ctx, actorID, callID, domain.CallEventReject, domain.ReasonDeclined)
}

func (c *callCoordinator) End(ctx context.Context, actorID, callID string) (*domain.Call, error) {
	return c.transition(ctx, actorID, callID, domain.CallEventEnd, "")
}

// transition applies ev under the call's lock. An empty actorID marks an
// event synthesized by the server, which skips participant and role checks.
func (c *callCoordinator) transition(ctx context.Context, actorID, callID string, ev domain.CallEvent, reason string) (*domain.Call, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return nil, domain.Invalidf("callId is required")
	}

	updated, from, err := c.applyLocked(ctx, actorID, callID, ev, reason)
	if err != nil {
		return nil, err
	}

	if updated.Status.IsTerminal() {
		c.finalize(ctx, updated)
	}

	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldCallID, callID).
		Str(log.FieldUserID, actorID).
		Str("from", string(from)).
		Str("to", string(updated.Status)).
		Str("reason", updated.EndReason).
		Msg("call transitioned")
	audit.LogWithDetail(ctx, auditAction(ev), actorID, callID, "call "+string(updated.Status))
	return updated, nil
}

func (c *callCoordinator) applyLocked(ctx context.Context, actorID, callID string, ev domain.CallEvent, reason string) (*domain.Call, domain.CallStatus, error) {
	c.locks.Lock(callID)
	defer c.locks.Unlock(callID)

	call, err := c.calls.GetByID(ctx, callID)
	if err != nil {
		if errors.Is(err, repository.ErrCallNotFound) {
			return nil, "", fmt.Errorf("%w: call %s", domain.ErrNotFound, callID)
		}
		return nil, "", domain.NewStorageError("get call", err)
	}
	if actorID != "" && !call.HasParticipant(actorID) {
		return nil, "", fmt.Errorf("%w: call %s", domain.ErrNotFound, callID)
	}

	if reason == "" && ev == domain.CallEventEnd {
		reason = domain.ReasonHangup
		if call.Status == domain.CallStatusInitiated {
			reason = domain.ReasonCancelled
			if actorID == call.ReceiverID {
				reason = domain.ReasonDeclined
			}
		}
	}

	updated, err := call.Apply(ev, reason, time.Now().UTC())
	if err != nil {
		return nil, "", err
	}
	if actorID != "" && ev != domain.CallEventEnd && actorID != call.ReceiverID {
		return nil, "", domain.Invalidf("only the receiver can %s a call", ev)
	}

	if err := c.calls.CompareAndUpdate(ctx, call.Status, updated); err != nil {
		switch {
		case errors.Is(err, repository.ErrCallNotFound):
			return nil, "", fmt.Errorf("%w: call %s", domain.ErrNotFound, callID)
		case errors.Is(err, repository.ErrStatusConflict):
			return nil, "", fmt.Errorf("%w: call %s changed concurrently", domain.ErrInvalidState, callID)
		default:
			return nil, "", domain.NewStorageError("update call", err)
		}
	}

	c.notifyTransition(ctx, actorID, call.Status, updated)
	if updated.Status.IsTerminal() {
		c.ring.cancel(callID)
	}
	return updated, call.Status, nil
}

func (c *callCoordinator) notifyTransition(ctx context.Context, actorID string, from domain.CallStatus, call *domain.Call) {
	switch call.Status {
	case domain.CallStatusAccepted:
		c.notify(ctx, call.CallerID, domain.NewCallSignal(domain.MsgTypeCallAccepted, call.ID, ""))
		c.notify(ctx, call.ReceiverID, domain.NewCallSignal(domain.MsgTypeStartCall, call.ID, ""))

	case domain.CallStatusRejected:
		signal := domain.NewCallSignal(domain.MsgTypeCallRejected, call.ID, call.EndReason)
		c.notify(ctx, call.CallerID, signal)
		if actorID == "" {
			// Nobody on the receiving side answered; stop the ringing there too.
			c.notify(ctx, call.ReceiverID, signal)
		}

	case domain.CallStatusEnded:
		signal := domain.NewCallSignal(domain.MsgTypeCallEnded, call.ID, call.EndReason)
		if from == domain.CallStatusAccepted {
			c.notify(ctx, call.CallerID, signal)
			c.notify(ctx, call.ReceiverID, signal)
			return
		}
		c.notify(ctx, call.ReceiverID, signal)
		if actorID == call.ReceiverID {
			c.notify(ctx, call.CallerID, signal)
		}
	}
}

// finalize writes the history entry of a terminal call. The transition
// already happened, so failures are logged only.
func (c *callCoordinator) finalize(ctx context.Context, call *domain.Call) {
	l := log.Ctx(ctx)

	rec, err := domain.NewCallRecord(call)
	if err != nil {
		l.Error().Err(err).Str(log.FieldCallID, call.ID).Msg("cannot build call record")
		return
	}
	if err := c.records.Create(ctx, rec); err != nil {
		l.Error().Err(err).Str(log.FieldCallID, call.ID).Msg("failed to store call record")
	}
	if c.producer != nil {
		if err := c.producer.ProduceCallRecord(ctx, rec); err != nil {
			l.Warn().Err(err).Str(log.FieldCallID, call.ID).Msg("failed to produce call record event")
		}
	}
}

func (c *callCoordinator) notify(ctx context.Context, userID string, event *domain.OutboundMessage) {
	if err := c.notifier.Send(ctx, userID, event); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldUserID, userID).Str(log.FieldEventType, event.Type).Msg("failed to notify")
	}
}

// expire runs when a call rang for the whole ring timeout.
func (c *callCoordinator) expire(callID string) {
	ctx, cancel := context.WithTimeout(context.Background(), systemTimeout)
	defer cancel()
	ctx = log.WithStr(ctx, log.FieldCallID, callID)

	if _, err := c.transition(ctx, "", callID, domain.CallEventReject, domain.ReasonTimeout); err != nil {
		l := log.Ctx(ctx)
		if errors.Is(err, domain.ErrInvalidState) {
			l.Debug().Err(err).Msg("ring timeout after call was answered")
			return
		}
		l.Error().Err(err).Msg("failed to time out call")
	}
}

func (c *callCoordinator) HandleUserOnline(userID string) {
	if c.grace.cancel(userID) {
		l := log.L()
		l.Info().Str(log.FieldUserID, userID).Msg("user reconnected within grace period")
	}
}

func (c *callCoordinator) HandleUserOffline(userID string) {
	grace := c.cfg.ReconnectGrace
	if grace < 0 {
		grace = 0
	}
	c.grace.arm(userID, grace, func() { c.terminateCallsOf(userID) })
}

// terminateCallsOf ends every live call of a user whose last connection
// closed and stayed closed for the grace period.
func (c *callCoordinator) terminateCallsOf(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), systemTimeout)
	defer cancel()
	ctx = log.WithStr(ctx, log.FieldUserID, userID)
	l := log.Ctx(ctx)

	if c.online != nil && c.online.Reachable(ctx, userID) {
		l.Debug().Msg("user still connected elsewhere, calls kept")
		return
	}

	calls, err := c.calls.FindActiveByUser(ctx, userID)
	if err != nil {
		l.Error().Err(err).Msg("failed to load active calls of disconnected user")
		return
	}

	for _, call := range calls {
		ev := domain.CallEventEnd
		if call.Status == domain.CallStatusInitiated && call.ReceiverID == userID {
			ev = domain.CallEventReject
		}
		if _, err := c.transition(ctx, "", call.ID, ev, domain.ReasonDisconnect); err != nil {
			if errors.Is(err, domain.ErrInvalidState) {
				continue
			}
			l.Error().Err(err).Str(log.FieldCallID, call.ID).Msg("failed to terminate call after disconnect")
		}
	}
	audit.Entry(ctx, audit.ActionCallDrop, "").Str(log.FieldPeerID, userID).Int("calls", len(calls)).Msg("calls terminated after disconnect")
}

func (c *callCoordinator) Get(ctx context.Context, userID, callID string) (*domain.Call, error) {
	call, err := c.calls.GetByID(ctx, callID)
	if err != nil {
		if errors.Is(err, repository.ErrCallNotFound) {
			return nil, fmt.Errorf("%w: call %s", domain.ErrNotFound, callID)
		}
		return nil, domain.NewStorageError("get call", err)
	}
	if !call.HasParticipant(userID) {
		return nil, fmt.Errorf("%w: call %s", domain.ErrNotFound, callID)
	}
	return call, nil
}

func (c *callCoordinator) ListRecords(ctx context.Context, userID string, page, pageSize int) ([]domain.CallRecord, int, error) {
	if pageSize > 100 {
		pageSize = 100
	}
	records, total, err := c.records.ListByUser(ctx, userID, page, pageSize)
	if err != nil {
		return nil, 0, domain.NewStorageError("list call records", err)
	}
	return records, total, nil
}

func (c *callCoordinator) Stop() error {
	c.ring.stopAll()
	c.grace.stopAll()
	return nil
}

func auditAction(ev domain.CallEvent) string {
	switch ev {
	case domain.CallEventAccept:
		return audit.ActionCallAccept
	case domain.CallEventReject:
		return audit.ActionCallReject
	default:
		return audit.ActionCallEnd
	}
}

