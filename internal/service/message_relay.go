package service

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/MrChampion2020/etokserver/internal/audit"
	"github.com/MrChampion2020/etokserver/internal/config"
	"github.com/MrChampion2020/etokserver/internal/domain"
	"github.com/MrChampion2020/etokserver/internal/repository"
	"github.com/MrChampion2020/etokserver/pkg/log"
)

const historyTimeout = 10 * time.Second

type messageRelay struct {
	repo     repository.MessageRepository
	notifier Notifier
	cfg      config.ChatConfig
	sf       singleflight.Group
}

// NewMessageRelay creates a MessageRelay.
func NewMessageRelay(repo repository.MessageRepository, notifier Notifier, cfg config.ChatConfig) MessageRelay {
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 50
	}
	if cfg.HistoryMaxPageSize < cfg.HistoryPageSize {
		cfg.HistoryMaxPageSize = cfg.HistoryPageSize
	}
	return &messageRelay{repo: repo, notifier: notifier, cfg: cfg}
}

func (r *messageRelay) Send(ctx context.Context, senderID, receiverID, body string) (*domain.ChatMessage, error) {
	l := log.Ctx(ctx)

	senderID, receiverID = strings.TrimSpace(senderID), strings.TrimSpace(receiverID)
	switch {
	case senderID == "" || receiverID == "":
		return nil, domain.Invalidf("senderId and receiverId are required")
	case senderID == receiverID:
		return nil, domain.Invalidf("cannot send a message to yourself")
	case strings.TrimSpace(body) == "":
		return nil, domain.Invalidf("message body is empty")
	case r.cfg.MaxBodyLength > 0 && utf8.RuneCountInString(body) > r.cfg.MaxBodyLength:
		return nil, domain.Invalidf("message body exceeds %d characters", r.cfg.MaxBodyLength)
	}

	msg := domain.NewChatMessage(senderID, receiverID, body)
	if err := r.repo.Save(ctx, msg); err != nil {
		l.Error().Err(err).Str(log.FieldUserID, senderID).Str(log.FieldPeerID, receiverID).Msg("failed to persist message")
		return nil, domain.NewStorageError("save message", err)
	}

	if err := r.notifier.Send(ctx, receiverID, domain.NewReceiveMessage(msg)); err != nil {
		l.Warn().Err(err).Str(log.FieldMessageID, msg.ID).Msg("failed to deliver message")
	}

	l.Debug().
		Str(log.FieldMessageID, msg.ID).
		Str(log.FieldUserID, senderID).
		Str(log.FieldPeerID, receiverID).
		Msg("message relayed")
	return msg, nil
}

func (r *messageRelay) History(ctx context.Context, userA, userB string, q domain.HistoryQuery) (*domain.HistoryPage, error) {
	if strings.TrimSpace(userA) == "" || strings.TrimSpace(userB) == "" {
		return nil, domain.Invalidf("both participants are required")
	}

	switch {
	case q.Limit <= 0:
		q.Limit = r.cfg.HistoryPageSize
	case q.Limit > r.cfg.HistoryMaxPageSize:
		q.Limit = r.cfg.HistoryMaxPageSize
	}
	if q.Direction == "" {
		q.Direction = domain.DirectionForward
	}

	key := domain.ConversationKey(userA, userB)
	sfKey := fmt.Sprintf("%q|%q|%s|%d", key, q.Cursor, q.Direction, q.Limit)

	// Use singleflight to prevent duplicate reads for the same page. The
	// shared read outlives any single caller's cancellation.
	result, err, _ := r.sf.Do(sfKey, func() (interface{}, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
		defer cancel()

		messages, nextCursor, hasMore, err := r.repo.Query(qctx, key, q)
		if err != nil {
			return nil, err
		}
		if messages == nil {
			messages = []domain.ChatMessage{}
		}
		return &domain.HistoryPage{Messages: messages, NextCursor: nextCursor, HasMore: hasMore}, nil
	})
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str("conversation", key).Msg("failed to load history")
		return nil, domain.NewStorageError("query history", err)
	}

	page := *result.(*domain.HistoryPage)
	return &page, nil
}

func (r *messageRelay) Stream(ctx context.Context, userA, userB string, pageSize int) iter.Seq2[domain.ChatMessage, error] {
	return func(yield func(domain.ChatMessage, error) bool) {
		q := domain.HistoryQuery{Limit: pageSize, Direction: domain.DirectionForward}
		for {
			if err := ctx.Err(); err != nil {
				yield(domain.ChatMessage{}, err)
				return
			}

			page, err := r.History(ctx, userA, userB, q)
			if err != nil {
				yield(domain.ChatMessage{}, err)
				return
			}
			for _, m := range page.Messages {
				if !yield(m, nil) {
					return
				}
			}
			if !page.HasMore {
				return
			}
			q.Cursor = page.NextCursor
		}
	}
}

func (r *messageRelay) DeleteMany(ctx context.Context, requesterID string, ids []string) (int64, error) {
	if strings.TrimSpace(requesterID) == "" {
		return 0, domain.Invalidf("requester is required")
	}
	if len(ids) == 0 {
		return 0, domain.Invalidf("at least one message id is required")
	}

	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return 0, domain.Invalidf("message ids must not be blank")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	deleted, err := r.repo.DeleteByIDs(ctx, requesterID, unique)
	if err != nil {
		return 0, domain.NewStorageError("delete messages", err)
	}

	audit.LogWithDetail(ctx, audit.ActionMessageDelete, requesterID,
		fmt.Sprintf("requested=%d deleted=%d", len(unique), deleted), "messages deleted")
	return deleted, nil
}
