package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/MrChampion2020/etokserver/internal/config"
	"github.com/MrChampion2020/etokserver/internal/domain"
	"github.com/MrChampion2020/etokserver/pkg/log"
)

// CassandraSchema creates the tables the Cassandra repository reads and
// writes. messages_by_id backs lookups and deletes by message ID.
const CassandraSchema = `
CREATE TABLE IF NOT EXISTS messages_by_conversation (
	conversation_key text,
	message_id text,
	sender_id text,
	receiver_id text,
	body text,
	created_at timestamp,
	PRIMARY KEY ((conversation_key), message_id)
) WITH CLUSTERING ORDER BY (message_id ASC);

CREATE TABLE IF NOT EXISTS messages_by_id (
	message_id text PRIMARY KEY,
	conversation_key text,
	sender_id text,
	receiver_id text,
	body text,
	created_at timestamp
);`

// CassandraMessageRepository implements MessageRepository on Cassandra.
type CassandraMessageRepository struct {
	session *gocql.Session
}

// NewCassandraMessageRepository connects to the cluster in cfg.
func NewCassandraMessageRepository(cfg config.CassandraConfig) (*CassandraMessageRepository, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = cfg.Timeout

	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	return &CassandraMessageRepository{session: session}, nil
}

// EnsureSchema runs CassandraSchema statement by statement.
func (r *CassandraMessageRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(CassandraSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if err := r.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to apply cassandra schema: %w", err)
		}
	}
	return nil
}

// Save writes the message to both tables in one logged batch.
func (r *CassandraMessageRepository) Save(ctx context.Context, msg *domain.ChatMessage) error {
	key := domain.ConversationKey(msg.SenderID, msg.ReceiverID)

	b := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(`INSERT INTO messages_by_conversation (
			conversation_key, message_id, sender_id, receiver_id, body, created_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		key, msg.ID, msg.SenderID, msg.ReceiverID, msg.Body, msg.Timestamp)
	b.Query(`INSERT INTO messages_by_id (
			message_id, conversation_key, sender_id, receiver_id, body, created_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, key, msg.SenderID, msg.ReceiverID, msg.Body, msg.Timestamp)

	if err := r.session.ExecuteBatch(b); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// Query reads one page of a conversation partition.
func (r *CassandraMessageRepository) Query(
	ctx context.Context,
	conversationKey string,
	q domain.HistoryQuery,
) ([]domain.ChatMessage, string, bool, error) {
	// Query limit + 1 to determine if there are more results
	queryLimit := q.Limit + 1

	order, cmp := "ASC", ">"
	if q.Direction == domain.DirectionBackward {
		order, cmp = "DESC", "<"
	}

	stmt := `SELECT message_id, sender_id, receiver_id, body, created_at
			 FROM messages_by_conversation
			 WHERE conversation_key = ?`
	args := []interface{}{conversationKey}
	if q.Cursor != "" {
		stmt += " AND message_id " + cmp + " ?"
		args = append(args, q.Cursor)
	}
	stmt += " ORDER BY message_id " + order + " LIMIT ?"
	args = append(args, queryLimit)

	iter := r.session.Query(stmt, args...).WithContext(ctx).Iter()

	var messages []domain.ChatMessage
	var msg domain.ChatMessage
	var createdAt time.Time

	for iter.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Body, &createdAt) {
		msg.Timestamp = createdAt.UTC()
		messages = append(messages, msg)
		msg = domain.ChatMessage{}
	}

	if err := iter.Close(); err != nil {
		return nil, "", false, fmt.Errorf("failed to iterate messages: %w", err)
	}

	hasMore := len(messages) > q.Limit
	if hasMore {
		messages = messages[:q.Limit]
	}

	var nextCursor string
	if hasMore && len(messages) > 0 {
		nextCursor = messages[len(messages)-1].ID
	}

	return messages, nextCursor, hasMore, nil
}

// DeleteByIDs looks each ID up, skips unknown or foreign messages and
// removes the rest from both tables.
func (r *CassandraMessageRepository) DeleteByIDs(ctx context.Context, participantID string, ids []string) (int64, error) {
	l := log.Ctx(ctx)

	var deleted int64
	for _, id := range ids {
		var key, senderID, receiverID string
		err := r.session.Query(
			`SELECT conversation_key, sender_id, receiver_id FROM messages_by_id WHERE message_id = ?`, id,
		).WithContext(ctx).Scan(&key, &senderID, &receiverID)
		if errors.Is(err, gocql.ErrNotFound) {
			continue
		}
		if err != nil {
			return deleted, fmt.Errorf("failed to look up message: %w", err)
		}
		if senderID != participantID && receiverID != participantID {
			l.Debug().Str(log.FieldMessageID, id).Msg("skipping message of another conversation")
			continue
		}

		b := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
		b.Query(`DELETE FROM messages_by_conversation WHERE conversation_key = ? AND message_id = ?`, key, id)
		b.Query(`DELETE FROM messages_by_id WHERE message_id = ?`, id)
		if err := r.session.ExecuteBatch(b); err != nil {
			return deleted, fmt.Errorf("failed to delete message: %w", err)
		}
		deleted++
	}
	return deleted, nil
}

// Close closes the Cassandra session.
func (r *CassandraMessageRepository) Close() error {
	r.session.Close()
	return nil
}

func parseConsistency(s string) gocql.Consistency {
	switch strings.ToUpper(s) {
	case "ONE":
		return gocql.One
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	case "LOCAL_ONE":
		return gocql.LocalOne
	case "EACH_QUORUM":
		return gocql.EachQuorum
	default:
		return gocql.LocalQuorum
	}
}
