package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversationKeyIsSymmetric(t *testing.T) {
	assert.Equal(t, ConversationKey("alice", "bob"), ConversationKey("bob", "alice"))
	assert.NotEqual(t, ConversationKey("alice", "bob"), ConversationKey("alice", "carol"))
}

func TestConversationKeySeparatorInIDs(t *testing.T) {
	pairs := [][2]string{
		{"a:b", "c"},
		{"a", "b:c"},
		{"a|b", "c"},
		{"a", "b|c"},
		{"1:a", "b"},
	}
	seen := make(map[string][2]string)
	for _, p := range pairs {
		key := ConversationKey(p[0], p[1])
		prev, dup := seen[key]
		assert.False(t, dup, "%v and %v share key %q", prev, p, key)
		seen[key] = p
	}
}
