package hub

import (
	"context"
	"time"

	pkglog "github.com/MrChampion2020/etokserver/pkg/log"
	"github.com/MrChampion2020/etokserver/pkg/pubsub"
)

const publishTimeout = 2 * time.Second

// Bridge relays deliveries between nodes that share a pub/sub bus. Each
// Send is published once; every other node delivers it to its own local
// connections of the addressed user.
type Bridge struct {
	ps     pubsub.PubSub
	nodeID string
	hub    *Hub
}

// NewBridge attaches a bridge to h. Call Start to begin consuming.
func NewBridge(ps pubsub.PubSub, nodeID string, h *Hub) *Bridge {
	b := &Bridge{ps: ps, nodeID: nodeID, hub: h}
	h.SetBridge(b)
	return b
}

// Start subscribes to every user's delivery channel. Consumption stops
// when ctx is done.
func (b *Bridge) Start(ctx context.Context) error {
	events, err := b.ps.SubscribePattern(ctx, pubsub.PatternUserDeliver)
	if err != nil {
		return err
	}

	go func() {
		l := pkglog.L()
		for ev := range events {
			if ev == nil || ev.Origin == b.nodeID || ev.Type != pubsub.EventDeliver {
				continue
			}
			n := b.hub.deliverLocal(ev.Key, ev.Payload)
			l.Debug().
				Str(pkglog.FieldUserID, ev.Key).
				Str(pkglog.FieldNodeID, ev.Origin).
				Int("delivered", n).
				Msg("relayed remote delivery")
		}
	}()
	return nil
}

func (b *Bridge) publish(ctx context.Context, userID string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return b.ps.Publish(ctx, pubsub.UserDeliverChannel(userID), pubsub.NewEvent(pubsub.EventDeliver, userID, b.nodeID, data))
}
