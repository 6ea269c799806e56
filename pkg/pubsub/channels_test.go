package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ PubSub = (*RedisPubSub)(nil)
	_ PubSub = (*KafkaPubSub)(nil)
)

func TestChannelToTopicAndKey(t *testing.T) {
	topic, key, err := channelToTopicAndKey(UserDeliverChannel("u-42"))
	require.NoError(t, err)
	assert.Equal(t, "signal-user-deliver", topic)
	assert.Equal(t, "u-42", key)
}

func TestPatternToTopic(t *testing.T) {
	topic, err := patternToTopic(PatternUserDeliver)
	require.NoError(t, err)
	assert.Equal(t, "signal-user-deliver", topic)
}

func TestChannelToTopicRejectsForeignFormat(t *testing.T) {
	_, _, err := channelToTopicAndKey("signal:room:r1:to_media")
	assert.Error(t, err)
}

func TestSanitizeGroupID(t *testing.T) {
	assert.Equal(t, "etok-node-1-signal-user---deliver", sanitizeGroupID("etok-node-1-signal:user:*:deliver"))
}
