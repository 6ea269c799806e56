package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrChampion2020/etokserver/internal/config"
	"github.com/MrChampion2020/etokserver/internal/domain"
	"github.com/MrChampion2020/etokserver/internal/repository"
)

type coordinatorFixture struct {
	coord    CallCoordinator
	notifier *fakeNotifier
	online   *fakeOnline
	calls    *repository.GormCallRepository
	records  *repository.GormCallRecordRepository
}

func newCoordinatorFixture(t *testing.T, cfg config.CallConfig) *coordinatorFixture {
	t.Helper()
	db := newTestDB(t)
	f := &coordinatorFixture{
		notifier: &fakeNotifier{},
		online:   &fakeOnline{},
		calls:    repository.NewGormCallRepository(db),
		records:  repository.NewGormCallRecordRepository(db),
	}
	f.coord = NewCallCoordinator(f.calls, f.records, f.notifier, f.online, nil, cfg)
	t.Cleanup(func() { f.coord.Stop() })
	return f
}

// status is safe to call from assert.Eventually conditions.
func (f *coordinatorFixture) status(t *testing.T, callID string) domain.CallStatus {
	t.Helper()
	c, err := f.calls.GetByID(context.Background(), callID)
	if !assert.NoError(t, err) {
		return ""
	}
	return c.Status
}

var noTimers = config.CallConfig{}

func TestAcceptFlow(t *testing.T) {
	f := newCoordinatorFixture(t, noTimers)
	ctx := context.Background()

	call, err := f.coord.Initiate(ctx, "alice", "bob", domain.CallTypeAudio)
	require.NoError(t, err)
	assert.Equal(t, []string{domain.MsgTypeIncomingCall}, f.notifier.typesFor("bob"))
	assert.Equal(t, []string{domain.MsgTypeCallInitiated}, f.notifier.typesFor("alice"))

	ring := f.notifier.last("bob").Payload.(domain.IncomingCallPayload)
	assert.Equal(t, call.ID, ring.CallID)
	assert.Equal(t, "alice", ring.CallerID)
	assert.Equal(t, domain.CallTypeAudio, ring.Type)

	accepted, err := f.coord.Accept(ctx, "bob", call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusAccepted, accepted.Status)
	assert.Equal(t, domain.MsgTypeCallAccepted, f.notifier.last("alice").Type)
	assert.Equal(t, domain.MsgTypeStartCall, f.notifier.last("bob").Type)
	assert.Equal(t, domain.CallStatusAccepted, f.status(t, call.ID))
}

func TestInitiateWhileReceiverOffline(t *testing.T) {
	f := newCoordinatorFixture(t, noTimers)

	call, err := f.coord.Initiate(context.Background(), "alice", "bob", domain.CallTypeVideo)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusInitiated, f.status(t, call.ID))
}

func TestRejectAfterEndFails(t *testing.T) {
	f := newCoordinatorFixture(t, noTimers)
	ctx := context.Background()

	call, err := f.coord.Initiate(ctx, "alice", "bob", domain.CallTypeAudio)
	require.NoError(t, err)
	_, err = f.coord.Accept(ctx, "bob", call.ID)
	require.NoError(t, err)
	ended, err := f.coord.End(ctx, "alice", call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonHangup, ended.EndReason)
	require.NotNil(t, ended.EndTime)

	f.notifier.reset()
	_, err = f.coord.Reject(ctx, "bob", call.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Empty(t, f.notifier.typesFor("alice"))
	assert.Empty(t, f.notifier.typesFor("bob"))

	records, total, err := f.coord.ListRecords(ctx, "alice", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, domain.CallStatusEnded, records[0].Status)
}

func TestCallerCancelsRingingCall(t *testing.T) {
	f := newCoordinatorFixture(t, noTimers)
	ctx := context.Background()

	call, err := f.coord.Initiate(ctx, "alice", "bob", domain.CallTypeAudio)
	require.NoError(t, err)
	f.notifier.reset()

	ended, err := f.coord.End(ctx, "alice", call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonCancelled, ended.EndReason)
	assert.Equal(t, []string{domain.MsgTypeCallEnded}, f.notifier.typesFor("bob"))
	assert.Empty(t, f.notifier.typesFor("alice"))
}

func TestReceiverEndingRingingCallDeclines(t *testing.T) {
	f := newCoordinatorFixture(t, noTimers)
	ctx := context.Background()

	call, err := f.coord.Initiate(ctx, "alice", "bob", domain.CallTypeAudio)
	require.NoError(t, err)
	f.notifier.reset()

	ended, err := f.coord.End(ctx, "bob", call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonDeclined, ended.EndReason)
	assert.Equal(t, []string{domain.MsgTypeCallEnded}, f.notifier.typesFor("alice"))
}

func TestTransitionGuards(t *testing.T) {
	f := newCoordinatorFixture(t, noTimers)
	ctx := context.Background()

	call, err := f.coord.Initiate(ctx, "alice", "bob", domain.CallTypeAudio)
	require.NoError(t, err)

	_, err = f.coord.Accept(ctx, "alice", call.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument, "caller cannot accept")

	_, err = f.coord.Accept(ctx, "mallory", call.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "outsiders do not learn the call exists")

	_, err = f.coord.Accept(ctx, "bob", "no-such-call")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.coord.Accept(ctx, "bob", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.coord.Initiate(ctx, "alice", "alice", domain.CallTypeAudio)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.coord.Initiate(ctx, "alice", "carol", domain.CallType("hologram"))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestDuplicateInitiateRefused(t *testing.T) {
	f := newCoordinatorFixture(t, noTimers)
	ctx := context.Background()

	call, err := f.coord.Initiate(ctx, "alice", "bob", domain.CallTypeAudio)
	require.NoError(t, err)

	_, err = f.coord.Initiate(ctx, "bob", "alice", domain.CallTypeVideo)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.coord.Reject(ctx, "bob", call.ID)
	require.NoError(t, err)

	_, err = f.coord.Initiate(ctx, "bob", "alice", domain.CallTypeVideo)
	assert.NoError(t, err, "pair is free once the first call is over")
}

func TestPairsWithSeparatorInIDsAreDistinct(t *testing.T) {
	f := newCoordinatorFixture(t, noTimers)
	ctx := context.Background()

	_, err := f.coord.Initiate(ctx, "a:b", "c", domain.CallTypeAudio)
	require.NoError(t, err)

	_, err = f.coord.Initiate(ctx, "a", "b:c", domain.CallTypeAudio)
	assert.NoError(t, err)
}

func TestConcurrentTransitionsHaveOneWinner(t *testing.T) {
	f := newCoordinatorFixture(t, noTimers)
	ctx := context.Background()

	call, err := f.coord.Initiate(ctx, "alice", "bob", domain.CallTypeAudio)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []domain.CallStatus
		conflicts int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var (
				c   *domain.Call
				err error
			)
			if i%2 == 0 {
				c, err = f.coord.Accept(ctx, "bob", call.ID)
			} else {
				c, err = f.coord.Reject(ctx, "bob", call.ID)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrInvalidState)
				conflicts++
				return
			}
			winners = append(winners, c.Status)
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, 19, conflicts)
	assert.Equal(t, winners[0], f.status(t, call.ID))
}

func TestRingTimeoutRejects(t *testing.T) {
	f := newCoordinatorFixture(t, config.CallConfig{RingTimeout: 50 * time.Millisecond})

	call, err := f.coord.Initiate(context.Background(), "alice", "bob", domain.CallTypeAudio)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(f.notifier.typesFor("bob")) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, domain.CallStatusRejected, f.status(t, call.ID))
	stored, err := f.calls.GetByID(context.Background(), call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonTimeout, stored.EndReason)
	assert.Contains(t, f.notifier.typesFor("alice"), domain.MsgTypeCallRejected)
	assert.Contains(t, f.notifier.typesFor("bob"), domain.MsgTypeCallRejected)
}

func TestAnsweredCallIgnoresRingTimeout(t *testing.T) {
	f := newCoordinatorFixture(t, config.CallConfig{RingTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	call, err := f.coord.Initiate(ctx, "alice", "bob", domain.CallTypeAudio)
	require.NoError(t, err)
	_, err = f.coord.Accept(ctx, "bob", call.ID)
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, domain.CallStatusAccepted, f.status(t, call.ID))
}

func TestDisconnectEndsAcceptedCall(t *testing.T) {
	f := newCoordinatorFixture(t, noTimers)
	ctx := context.Background()

	call, err := f.coord.Initiate(ctx, "alice", "bob", domain.CallTypeAudio)
	require.NoError(t, err)
	_, err = f.coord.Accept(ctx, "bob", call.ID)
	require.NoError(t, err)

	f.coord.HandleUserOffline("alice")

	assert.Eventually(t, func() bool {
		last := f.notifier.last("bob")
		return last != nil && last.Type == domain.MsgTypeCallEnded
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := f.calls.GetByID(ctx, call.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.EndTime)
	assert.Equal(t, domain.CallStatusEnded, stored.Status)
	assert.Equal(t, domain.ReasonDisconnect, stored.EndReason)
}

func TestDisconnectedReceiverRejectsRingingCall(t *testing.T) {
	f := newCoordinatorFixture(t, noTimers)

	call, err := f.coord.Initiate(context.Background(), "alice", "bob", domain.CallTypeAudio)
	require.NoError(t, err)

	f.coord.HandleUserOffline("bob")

	assert.Eventually(t, func() bool {
		return f.status(t, call.ID) == domain.CallStatusRejected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconnectWithinGraceKeepsCall(t *testing.T) {
	f := newCoordinatorFixture(t, config.CallConfig{ReconnectGrace: 100 * time.Millisecond})
	ctx := context.Background()

	call, err := f.coord.Initiate(ctx, "alice", "bob", domain.CallTypeAudio)
	require.NoError(t, err)
	_, err = f.coord.Accept(ctx, "bob", call.ID)
	require.NoError(t, err)

	f.coord.HandleUserOffline("alice")
	f.coord.HandleUserOnline("alice")

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, domain.CallStatusAccepted, f.status(t, call.ID))
}

func TestGraceExpiryChecksLiveConnections(t *testing.T) {
	f := newCoordinatorFixture(t, config.CallConfig{ReconnectGrace: 50 * time.Millisecond})
	ctx := context.Background()

	call, err := f.coord.Initiate(ctx, "alice", "bob", domain.CallTypeAudio)
	require.NoError(t, err)
	_, err = f.coord.Accept(ctx, "bob", call.ID)
	require.NoError(t, err)

	// Reconnected on a path that never reached HandleUserOnline.
	f.online.set("alice", true)
	f.coord.HandleUserOffline("alice")

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, domain.CallStatusAccepted, f.status(t, call.ID))
}

func TestDisconnectKeepsCallWhileConnectedOnAnotherNode(t *testing.T) {
	f := newCoordinatorFixture(t, noTimers)
	ctx := context.Background()

	call, err := f.coord.Initiate(ctx, "alice", "bob", domain.CallTypeAudio)
	require.NoError(t, err)
	_, err = f.coord.Accept(ctx, "bob", call.ID)
	require.NoError(t, err)

	// The socket closed on this node while another node still holds one.
	f.online.set("alice", true)
	f.coord.HandleUserOffline("alice")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, domain.CallStatusAccepted, f.status(t, call.ID))

	f.online.set("alice", false)
	f.coord.HandleUserOffline("alice")
	assert.Eventually(t, func() bool {
		return f.status(t, call.ID) == domain.CallStatusEnded
	}, time.Second, 10*time.Millisecond)
}

func TestGetHidesForeignCalls(t *testing.T) {
	f := newCoordinatorFixture(t, noTimers)
	ctx := context.Background()

	call, err := f.coord.Initiate(ctx, "alice", "bob", domain.CallTypeAudio)
	require.NoError(t, err)

	got, err := f.coord.Get(ctx, "bob", call.ID)
	require.NoError(t, err)
	assert.Equal(t, call.ID, got.ID)

	_, err = f.coord.Get(ctx, "mallory", call.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
