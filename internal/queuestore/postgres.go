package queuestore

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/animus-run/animus/internal/animuserr"
	"github.com/animus-run/animus/pkg/model"
)

// PostgresAdapter persists queue messages in a queue_messages table, one row
// per message, claimed with SELECT ... FOR UPDATE SKIP LOCKED so concurrent
// readers never block on or double-claim the same message.
// Cross-process notification rides Postgres LISTEN/NOTIFY via
// github.com/lib/pq's listener: Send issues a pg_notify on the queue's
// channel for every message, and CreateQueue starts listening on it.
type PostgresAdapter struct {
	db       *sql.DB
	dsn      string
	listener *pq.Listener

	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

// NewPostgresAdapter wraps an open *sql.DB. dsn is also needed to open a
// dedicated pq.Listener connection for LISTEN/NOTIFY; pass the same DSN used
// to open db.
func NewPostgresAdapter(db *sql.DB, dsn string) *PostgresAdapter {
	a := &PostgresAdapter{db: db, dsn: dsn, subs: make(map[string]map[chan struct{}]struct{})}
	a.listener = pq.NewListener(dsn, 1*time.Second, 10*time.Second, nil)
	go a.pump()
	return a
}

func (a *PostgresAdapter) pump() {
	for notice := range a.listener.Notify {
		if notice == nil {
			continue
		}
		a.mu.Lock()
		for ch := range a.subs[notice.Channel] {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
		a.mu.Unlock()
	}
}

func channelName(queue string) string { return "animus_queue_" + queue }

func (a *PostgresAdapter) CreateQueue(ctx context.Context, name string) error {
	if err := a.listener.Listen(channelName(name)); err != nil && err != pq.ErrChannelAlreadyOpen {
		return animuserr.Transport(err, "listen on queue channel")
	}
	return nil
}

func (a *PostgresAdapter) Send(ctx context.Context, queue string, payload string, priority int, delay time.Duration) (string, error) {
	id := uuid.NewString()
	now := time.Now()
	visibleAt := now.Add(delay)
	if _, err := a.db.ExecContext(ctx, `
		INSERT INTO queue_messages (id, queue, payload, priority, read_count, enqueued_at, visible_at, archived)
		VALUES ($1, $2, $3, $4, 0, $5, $6, false)
	`, id, queue, payload, priority, now, visibleAt); err != nil {
		return "", animuserr.Transport(err, "enqueue message")
	}
	if _, err := a.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channelName(queue), id); err != nil {
		return "", animuserr.Transport(err, "notify queue channel")
	}
	return id, nil
}

func (a *PostgresAdapter) Read(ctx context.Context, queue string, visibilityTimeout time.Duration) (*model.QueueMessage, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, animuserr.Transport(err, "begin read transaction")
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	var msg model.QueueMessage
	row := tx.QueryRowContext(ctx, `
		SELECT id, queue, payload, priority, read_count, enqueued_at, visible_at
		FROM queue_messages
		WHERE queue = $1 AND archived = false AND visible_at <= $2
		ORDER BY priority DESC, enqueued_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, queue, now)
	if err := row.Scan(&msg.ID, &msg.Queue, &msg.Payload, &msg.Priority, &msg.ReadCount, &msg.EnqueuedAt, &msg.VisibleAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, animuserr.Transport(err, "scan queue message")
	}

	newVisible := now.Add(visibilityTimeout)
	if _, err := tx.ExecContext(ctx, `
		UPDATE queue_messages SET read_count = read_count + 1, visible_at = $1 WHERE id = $2
	`, newVisible, msg.ID); err != nil {
		return nil, animuserr.Transport(err, "update visibility")
	}
	if err := tx.Commit(); err != nil {
		return nil, animuserr.Transport(err, "commit read transaction")
	}

	msg.ReadCount++
	msg.VisibleAt = newVisible
	return &msg, nil
}

func (a *PostgresAdapter) Archive(ctx context.Context, queue string, messageID string) error {
	if _, err := a.db.ExecContext(ctx, `
		UPDATE queue_messages SET archived = true WHERE id = $1 AND queue = $2
	`, messageID, queue); err != nil {
		return animuserr.Transport(err, "archive message")
	}
	return nil
}

func (a *PostgresAdapter) Delete(ctx context.Context, queue string, messageID string) error {
	if _, err := a.db.ExecContext(ctx, `
		DELETE FROM queue_messages WHERE id = $1 AND queue = $2
	`, messageID, queue); err != nil {
		return animuserr.Transport(err, "delete message")
	}
	return nil
}

func (a *PostgresAdapter) Subscribe(queue string) (<-chan struct{}, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch := make(chan struct{}, 1)
	name := channelName(queue)
	if a.subs[name] == nil {
		a.subs[name] = make(map[chan struct{}]struct{})
	}
	a.subs[name][ch] = struct{}{}
	return ch, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subs[name], ch)
	}
}

// Close releases the dedicated listener connection.
func (a *PostgresAdapter) Close() error {
	return a.listener.Close()
}
