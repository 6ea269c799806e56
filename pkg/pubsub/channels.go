package pubsub

import (
	"fmt"
	"strings"
)

// Channel naming conventions for cross-node delivery.
const (
	// ChannelUserDeliver carries events for one user's connections.
	ChannelUserDeliver = "signal:user:%s:deliver"

	// PatternUserDeliver matches every user's delivery channel.
	PatternUserDeliver = "signal:user:*:deliver"
)

// EventDeliver is the only event type on the delivery channels.
const EventDeliver = "deliver"

// UserDeliverChannel returns the delivery channel for userID.
func UserDeliverChannel(userID string) string {
	return fmt.Sprintf(ChannelUserDeliver, userID)
}

// parseChannel splits "{prefix}:user:{id}:{suffix}" into its parts.
func parseChannel(channel string) (prefix, id, suffix string, err error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[1] != "user" || parts[2] == "" {
		return "", "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return parts[0], parts[2], parts[3], nil
}
