package store

import (
	"context"
	"time"

	"github.com/MrChampion2020/etokserver/internal/domain"
)

// PresenceStore persists the durable online flag and last-seen time of
// each user. Writes are best effort; the live connection registry stays
// authoritative for delivery.
type PresenceStore interface {
	// SetOnline marks userID online.
	SetOnline(ctx context.Context, userID string, at time.Time) error

	// SetOffline marks userID offline and records at as last seen.
	SetOffline(ctx context.Context, userID string, at time.Time) error

	// Get returns the stored flag. Unknown users are reported offline.
	Get(ctx context.Context, userID string) (*domain.PresenceStatus, error)

	NodeTracker

	// Close releases the store's resources.
	Close() error
}

// NodeTracker records which server nodes hold live connections of a user,
// so a multi-node deployment can tell whether a user is reachable anywhere.
type NodeTracker interface {
	// Join records that nodeID has at least one connection of userID.
	Join(ctx context.Context, userID, nodeID string) error

	// Leave removes nodeID from userID's nodes and returns how many nodes
	// still hold a connection.
	Leave(ctx context.Context, userID, nodeID string) (int, error)

	// Nodes lists the nodes currently holding a connection of userID.
	Nodes(ctx context.Context, userID string) ([]string, error)

	// ClearNode drops every entry of nodeID. Called at startup so a node
	// that crashed does not keep its users reachable.
	ClearNode(ctx context.Context, nodeID string) error
}
