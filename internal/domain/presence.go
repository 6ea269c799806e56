package domain

import "time"

// PresenceStatus is the durable presence flag of a user.
type PresenceStatus struct {
	UserID   string     `json:"userId"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}
