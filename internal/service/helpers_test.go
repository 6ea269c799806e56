package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/MrChampion2020/etokserver/internal/domain"
	"github.com/MrChampion2020/etokserver/pkg/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.New(&database.Config{Driver: "sqlite", FilePath: ":memory:", LogLevel: "silent"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, domain.AllModels()...))
	t.Cleanup(func() { database.Close(db) })
	return db
}

type sentEvent struct {
	userID string
	msg    *domain.OutboundMessage
}

// fakeNotifier records every event instead of writing to sockets.
type fakeNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (f *fakeNotifier) Send(_ context.Context, userID string, event interface{}) error {
	msg, _ := event.(*domain.OutboundMessage)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentEvent{userID: userID, msg: msg})
	return nil
}

func (f *fakeNotifier) typesFor(userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		if e.userID == userID {
			out = append(out, e.msg.Type)
		}
	}
	return out
}

func (f *fakeNotifier) last(userID string) *domain.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].userID == userID {
			return f.events[i].msg
		}
	}
	return nil
}

func (f *fakeNotifier) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

type fakeOnline struct {
	mu    sync.Mutex
	users map[string]bool
}

func (f *fakeOnline) Reachable(_ context.Context, userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[userID]
}

func (f *fakeOnline) set(userID string, online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.users == nil {
		f.users = make(map[string]bool)
	}
	f.users[userID] = online
}
