package service

import (
	"context"
	"strings"

	"github.com/MrChampion2020/etokserver/internal/audit"
	"github.com/MrChampion2020/etokserver/internal/domain"
	"github.com/MrChampion2020/etokserver/internal/hub"
	"github.com/MrChampion2020/etokserver/internal/store"
	"github.com/MrChampion2020/etokserver/pkg/log"
)

// LocalPresence is the registry view the presence service reads.
type LocalPresence interface {
	Presence(userID string) hub.Presence
	SetVisible(userID string, visible bool) bool
}

type presenceService struct {
	local LocalPresence
	store store.PresenceStore
}

// NewPresenceService combines the live registry with the durable flag.
// The store may be nil.
func NewPresenceService(local LocalPresence, st store.PresenceStore) PresenceService {
	return &presenceService{local: local, store: st}
}

// Get answers from this node's registry when the user is connected here
// and from the durable flag otherwise.
func (s *presenceService) Get(ctx context.Context, userID string) (*domain.PresenceStatus, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.Invalidf("userId is required")
	}

	local := s.local.Presence(userID)
	status := &domain.PresenceStatus{UserID: userID, Online: local.Online()}
	if s.store == nil {
		return status, nil
	}

	stored, err := s.store.Get(ctx, userID)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldUserID, userID).Msg("durable presence unavailable, using local view")
		return status, nil
	}
	status.LastSeen = stored.LastSeen
	if !local.Connected {
		status.Online = stored.Online
	}
	return status, nil
}

func (s *presenceService) SetVisible(ctx context.Context, userID string, visible bool) error {
	if strings.TrimSpace(userID) == "" {
		return domain.Invalidf("userId is required")
	}
	if !s.local.Presence(userID).Connected {
		return domain.Invalidf("user %s has no live connection", userID)
	}
	if s.local.SetVisible(userID, visible) {
		state := "hidden"
		if visible {
			state = "visible"
		}
		audit.LogWithDetail(ctx, audit.ActionPresenceSet, userID, state, "presence visibility changed")
	}
	return nil
}
