package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrChampion2020/etokserver/pkg/log"
)

func capture(t *testing.T) (context.Context, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return log.WithLogger(context.Background(), log.New(log.Config{Level: "info", Output: &buf})), &buf
}

func TestLogWithDetail(t *testing.T) {
	ctx, buf := capture(t)
	LogWithDetail(ctx, ActionMessageDelete, "alice", "deleted=2", "messages deleted")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, log.LogTypeAudit, entry[log.FieldLogType])
	assert.Equal(t, ActionMessageDelete, entry[FieldAction])
	assert.Equal(t, "alice", entry[FieldActor])
	assert.Equal(t, "deleted=2", entry[FieldDetail])
}

func TestEmptyActorIsSystem(t *testing.T) {
	ctx, buf := capture(t)
	Entry(ctx, ActionCallReject, "").Str(log.FieldCallID, "c-1").Msg("ring timeout")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, ActorSystem, entry[FieldActor])
	assert.Equal(t, "c-1", entry[log.FieldCallID])
}
