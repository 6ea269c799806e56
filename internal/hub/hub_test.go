package hub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrChampion2020/etokserver/internal/config"
	"github.com/MrChampion2020/etokserver/pkg/pubsub"
)

type recordedChange struct {
	userID string
	online bool
}

type fakePresence struct {
	mu      sync.Mutex
	changes []recordedChange
}

func (f *fakePresence) SetOnline(_ context.Context, userID string, _ time.Time) error {
	f.record(userID, true)
	return nil
}

func (f *fakePresence) SetOffline(_ context.Context, userID string, _ time.Time) error {
	f.record(userID, false)
	return nil
}

func (f *fakePresence) record(userID string, online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, recordedChange{userID, online})
}

func (f *fakePresence) snapshot() []recordedChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedChange(nil), f.changes...)
}

type countingListener struct {
	online  atomic.Int32
	offline atomic.Int32
}

func (c *countingListener) HandleUserOnline(string)  { c.online.Add(1) }
func (c *countingListener) HandleUserOffline(string) { c.offline.Add(1) }

// memoryNodes is a NodeTracker shared by several hubs.
type memoryNodes struct {
	mu    sync.Mutex
	users map[string]map[string]struct{}
}

func (m *memoryNodes) Join(_ context.Context, userID, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.users == nil {
		m.users = make(map[string]map[string]struct{})
	}
	if m.users[userID] == nil {
		m.users[userID] = make(map[string]struct{})
	}
	m.users[userID][nodeID] = struct{}{}
	return nil
}

func (m *memoryNodes) Leave(_ context.Context, userID, nodeID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users[userID], nodeID)
	return len(m.users[userID]), nil
}

func (m *memoryNodes) Nodes(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for n := range m.users[userID] {
		out = append(out, n)
	}
	return out, nil
}

func (m *memoryNodes) count(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users[userID])
}

func newTestHub(t *testing.T, presence PresenceWriter) *Hub {
	t.Helper()
	return startHub(t, Options{Presence: presence})
}

func startHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	h := NewHub(config.WebSocketConfig{SendBuffer: 4}, opts)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func drain(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case data := <-c.Send:
		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &out))
		return out
	case <-time.After(time.Second):
		t.Fatal("no message queued")
		return nil
	}
}

func TestRegisterUnregisterTracksOnline(t *testing.T) {
	presence := &fakePresence{}
	h := newTestHub(t, presence)
	listener := &countingListener{}
	h.AddStatusListener(listener)

	c1 := NewClient(h, nil, "alice")
	c2 := NewClient(h, nil, "alice")

	assert.False(t, h.IsOnline("alice"))
	h.Register(c1)
	h.Register(c2)
	h.Register(c2)
	assert.True(t, h.IsOnline("alice"))
	assert.Equal(t, 2, h.Presence("alice").Connections)

	h.Unregister(c1)
	assert.True(t, h.IsOnline("alice"), "one connection still open")

	h.Unregister(c2)
	h.Unregister(c2)
	assert.False(t, h.IsOnline("alice"))

	assert.Equal(t, int32(1), listener.online.Load())
	assert.Equal(t, int32(1), listener.offline.Load())

	assert.Eventually(t, func() bool {
		return len(presence.snapshot()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []recordedChange{{"alice", true}, {"alice", false}}, presence.snapshot())
}

func TestSendFansOutToEveryConnection(t *testing.T) {
	h := newTestHub(t, nil)
	c1 := NewClient(h, nil, "bob")
	c2 := NewClient(h, nil, "bob")
	other := NewClient(h, nil, "carol")
	h.Register(c1)
	h.Register(c2)
	h.Register(other)

	require.NoError(t, h.Send(context.Background(), "bob", map[string]string{"type": "ping"}))

	assert.Equal(t, "ping", drain(t, c1)["type"])
	assert.Equal(t, "ping", drain(t, c2)["type"])
	assert.Len(t, other.Send, 0)
}

func TestSendToOfflineUserIsNotAnError(t *testing.T) {
	h := newTestHub(t, nil)
	assert.NoError(t, h.Send(context.Background(), "ghost", map[string]string{"type": "x"}))
}

func TestSetVisibleKeepsConnection(t *testing.T) {
	presence := &fakePresence{}
	h := newTestHub(t, presence)
	c := NewClient(h, nil, "dave")
	h.Register(c)

	assert.True(t, h.SetVisible("dave", false))
	assert.False(t, h.SetVisible("dave", false), "unchanged flag")
	assert.True(t, h.IsOnline("dave"))
	assert.False(t, h.Presence("dave").Online())

	require.NoError(t, h.Send(context.Background(), "dave", map[string]string{"type": "still-delivered"}))
	assert.Equal(t, "still-delivered", drain(t, c)["type"])

	assert.False(t, h.SetVisible("nobody", true))

	assert.Eventually(t, func() bool {
		got := presence.snapshot()
		return len(got) == 2 && !got[1].online
	}, time.Second, 10*time.Millisecond)
}

func TestFullBufferDropsConnection(t *testing.T) {
	h := newTestHub(t, nil)
	slow := NewClient(h, nil, "erin")
	h.Register(slow)

	for i := 0; i < cap(slow.Send)+1; i++ {
		require.NoError(t, h.Send(context.Background(), "erin", map[string]int{"n": i}))
	}

	assert.Eventually(t, func() bool {
		return !h.IsOnline("erin")
	}, time.Second, 10*time.Millisecond)
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	h := newTestHub(t, nil)
	listener := &countingListener{}
	h.AddStatusListener(listener)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewClient(h, nil, "frank")
			h.Register(c)
			h.Unregister(c)
		}()
	}
	wg.Wait()

	assert.False(t, h.IsOnline("frank"))
	assert.Equal(t, Stats{}, h.Stats())
	assert.Equal(t, listener.online.Load(), listener.offline.Load())
}

// memoryBus is an in-process pub/sub shared by several hubs.
type memoryBus struct {
	mu   sync.Mutex
	subs []chan *pubsub.Event
}

func (m *memoryBus) Publish(_ context.Context, _ string, event *pubsub.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		ch <- event
	}
	return nil
}

func (m *memoryBus) SubscribePattern(_ context.Context, _ string) (<-chan *pubsub.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan *pubsub.Event, 16)
	m.subs = append(m.subs, ch)
	return ch, nil
}

func (m *memoryBus) Close() error { return nil }

func TestBridgeDeliversAcrossNodes(t *testing.T) {
	bus := &memoryBus{}
	nodeA := newTestHub(t, nil)
	nodeB := newTestHub(t, nil)
	require.NoError(t, NewBridge(bus, "node-a", nodeA).Start(context.Background()))
	require.NoError(t, NewBridge(bus, "node-b", nodeB).Start(context.Background()))

	local := NewClient(nodeA, nil, "gina")
	remote := NewClient(nodeB, nil, "gina")
	nodeA.Register(local)
	nodeB.Register(remote)

	require.NoError(t, nodeA.Send(context.Background(), "gina", map[string]string{"type": "hello"}))

	assert.Equal(t, "hello", drain(t, local)["type"])
	assert.Equal(t, "hello", drain(t, remote)["type"])

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, local.Send, 0, "origin node skips its own echo")
}

func TestHiddenUserDisconnectKeepsFlagOffline(t *testing.T) {
	presence := &fakePresence{}
	h := newTestHub(t, presence)
	c := NewClient(h, nil, "hank")
	h.Register(c)
	require.True(t, h.SetVisible("hank", false))
	h.Unregister(c)

	assert.Eventually(t, func() bool {
		return len(presence.snapshot()) == 2
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []recordedChange{{"hank", true}, {"hank", false}}, presence.snapshot())
}

func TestUserStaysOnlineWhileAnotherNodeHoldsConnection(t *testing.T) {
	presence := &fakePresence{}
	nodes := &memoryNodes{}
	nodeA := startHub(t, Options{Presence: presence, Nodes: nodes, NodeID: "node-a"})
	nodeB := startHub(t, Options{Presence: presence, Nodes: nodes, NodeID: "node-b"})

	onA := NewClient(nodeA, nil, "iris")
	onB := NewClient(nodeB, nil, "iris")
	nodeA.Register(onA)
	nodeB.Register(onB)
	require.Eventually(t, func() bool {
		return nodes.count("iris") == 2
	}, time.Second, 10*time.Millisecond)

	nodeB.Unregister(onB)
	require.Eventually(t, func() bool {
		return nodes.count("iris") == 1
	}, time.Second, 10*time.Millisecond)

	assert.False(t, nodeB.IsOnline("iris"))
	assert.True(t, nodeB.Reachable(context.Background(), "iris"), "still connected on node-a")
	for _, ch := range presence.snapshot() {
		assert.True(t, ch.online, "no offline write while node-a holds a connection")
	}

	nodeA.Unregister(onA)
	assert.Eventually(t, func() bool {
		got := presence.snapshot()
		return len(got) > 0 && !got[len(got)-1].online
	}, time.Second, 10*time.Millisecond)
	assert.False(t, nodeB.Reachable(context.Background(), "iris"))
}

func TestReachableIgnoresOwnStaleNode(t *testing.T) {
	nodes := &memoryNodes{}
	require.NoError(t, nodes.Join(context.Background(), "jill", "node-a"))
	h := startHub(t, Options{Nodes: nodes, NodeID: "node-a"})

	assert.False(t, h.Reachable(context.Background(), "jill"))
}
