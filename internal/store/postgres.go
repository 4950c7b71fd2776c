package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/animus-run/animus/internal/animuserr"
	"github.com/animus-run/animus/internal/queuestore"
	"github.com/animus-run/animus/pkg/model"
)

// PostgresStore persists work items in a work_items table with a partial
// unique index on (faculty, dedup_key) where dedup_key is non-null and
// state is queued, claimed, running or failed (Created rows are outside
// it). Structural dedup search + merge happens inside
// one serialized transaction; a unique-violation from a concurrent submit
// is surfaced as animuserr.ErrConflict so the caller can retry once and
// observe the resulting Merged outcome.
type PostgresStore struct {
	db      *sql.DB
	queue   queuestore.Adapter
	dsnHint string
}

// NewPostgresStore wraps an open *sql.DB and the queue adapter used for
// enqueue/claim.
func NewPostgresStore(db *sql.DB, queue queuestore.Adapter) *PostgresStore {
	return &PostgresStore{db: db, queue: queue}
}

func marshalParams(params map[string]any) ([]byte, error) {
	if params == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(params)
}

func (s *PostgresStore) Submit(ctx context.Context, item *model.WorkItem) (*SubmitResult, error) {
	if item.Faculty == "" {
		return nil, animuserr.Validation("faculty is required")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.MaxAttempts <= 0 {
		item.MaxAttempts = 3
	}
	now := time.Now().UTC()
	item.State = model.StateCreated
	item.CreatedAt = now
	item.UpdatedAt = now

	params, err := marshalParams(item.Params)
	if err != nil {
		return nil, animuserr.Validation("encode params: %v", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, animuserr.Transport(err, "begin submit transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO work_items (
			id, faculty, skill, params, dedup_key, provenance_source,
			provenance_trigger, priority, state, parent_id, attempts,
			max_attempts, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, item.ID, item.Faculty, item.Skill, params, nullable(item.DedupKey),
		item.Provenance.Source, item.Provenance.Trigger, item.Priority,
		string(model.StateCreated), nullable(item.ParentID), item.Attempts,
		item.MaxAttempts, item.CreatedAt, item.UpdatedAt); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, animuserr.Conflict("concurrent submit won the dedup race for (%s, %s)", item.Faculty, item.DedupKey)
		}
		return nil, animuserr.Transport(err, "insert work item")
	}

	if item.DedupKey != "" {
		var canonicalID string
		row := tx.QueryRowContext(ctx, `
			SELECT id FROM work_items
			WHERE faculty = $1 AND dedup_key = $2 AND id <> $3
			  AND state NOT IN ($4, $5, $6)
			FOR UPDATE
			LIMIT 1
		`, item.Faculty, item.DedupKey, item.ID,
			string(model.StateCompleted), string(model.StateDead), string(model.StateMerged))
		switch err := row.Scan(&canonicalID); err {
		case nil:
			if !model.CanTransition(model.StateCreated, model.StateMerged) {
				return nil, animuserr.Transition(string(model.StateCreated), string(model.StateMerged))
			}
			resolved := time.Now().UTC()
			if _, err := tx.ExecContext(ctx, `
				UPDATE work_items SET state=$1, merged_into=$2, resolved_at=$3, updated_at=$3 WHERE id=$4
			`, string(model.StateMerged), canonicalID, resolved, item.ID); err != nil {
				return nil, animuserr.Transport(err, "merge work item")
			}
			if err := tx.Commit(); err != nil {
				return nil, animuserr.Transport(err, "commit merge")
			}
			item.State = model.StateMerged
			item.MergedInto = canonicalID
			item.ResolvedAt = &resolved
			return &SubmitResult{Outcome: SubmitMerged, Item: item, CanonicalID: canonicalID}, nil
		case sql.ErrNoRows:
			// No canonical item found; fall through to enqueue.
		default:
			return nil, animuserr.Transport(err, "dedup lookup")
		}
	}

	if !model.CanTransition(model.StateCreated, model.StateQueued) {
		return nil, animuserr.Transition(string(model.StateCreated), string(model.StateQueued))
	}

	if err := tx.Commit(); err != nil {
		return nil, animuserr.Transport(err, "commit create")
	}

	// Enqueue and finalize the Queued transition outside the row-locking
	// transaction: the queue adapter owns its own atomicity, and holding a
	// row lock across an external Send call would extend lock duration
	// unnecessarily. An enqueue failure rolls the submit back by deleting
	// the just-created row, so no orphaned Created items survive.
	if err := s.queue.CreateQueue(ctx, item.Faculty); err != nil {
		s.deleteCreated(ctx, item.ID)
		return nil, err
	}
	msgID, err := s.queue.Send(ctx, item.Faculty, item.ID, item.Priority, 0)
	if err != nil {
		s.deleteCreated(ctx, item.ID)
		return nil, err
	}
	queuedAt := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `
		UPDATE work_items SET state=$1, queue_message_id=$2, updated_at=$3 WHERE id=$4
	`, string(model.StateQueued), msgID, queuedAt, item.ID); err != nil {
		// A unique violation here means a concurrent submit queued its item
		// between our dedup search and this transition. Undo our half of the
		// race (row + queue message) and report Conflict; the caller retries
		// once and observes the Merged outcome.
		s.deleteCreated(ctx, item.ID)
		_ = s.queue.Delete(ctx, item.Faculty, msgID)
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, animuserr.Conflict("concurrent submit won the dedup race for (%s, %s)", item.Faculty, item.DedupKey)
		}
		return nil, animuserr.Transport(err, "transition to queued")
	}

	item.State = model.StateQueued
	item.QueueMessageID = msgID
	item.UpdatedAt = queuedAt
	return &SubmitResult{Outcome: SubmitCreated, Item: item}, nil
}

// deleteCreated best-effort removes a freshly inserted Created row after a
// failed enqueue; the enqueue error is what the caller surfaces.
func (s *PostgresStore) deleteCreated(ctx context.Context, id string) {
	_, _ = s.db.ExecContext(ctx, `DELETE FROM work_items WHERE id = $1 AND state = $2`,
		id, string(model.StateCreated))
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *PostgresStore) Claim(ctx context.Context, faculty string, visibilityTimeout time.Duration) (*model.WorkItem, error) {
	msg, err := s.queue.Read(ctx, faculty, visibilityTimeout)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, animuserr.Transport(err, "begin claim transaction")
	}
	defer func() { _ = tx.Rollback() }()

	item, err := scanWorkItem(tx.QueryRowContext(ctx, selectWorkItemSQL+" WHERE id = $1 FOR UPDATE", msg.Payload))
	if err != nil {
		return nil, err
	}

	// A stale message for an already-terminal item (missed archive after a
	// crash) is retired here rather than cycling through visibility
	// timeouts forever.
	if item.State.Terminal() {
		_ = tx.Rollback()
		_ = s.queue.Archive(ctx, faculty, msg.ID)
		return nil, nil
	}

	if !model.CanTransition(item.State, model.StateClaimed) {
		return nil, animuserr.Transition(string(item.State), string(model.StateClaimed))
	}
	if !model.CanTransition(model.StateClaimed, model.StateRunning) {
		return nil, animuserr.Transition(string(model.StateClaimed), string(model.StateRunning))
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE work_items SET state=$1, attempts=attempts+1, updated_at=$2 WHERE id=$3
	`, string(model.StateRunning), now, item.ID); err != nil {
		return nil, animuserr.Transport(err, "transition to running")
	}
	if err := tx.Commit(); err != nil {
		return nil, animuserr.Transport(err, "commit claim")
	}

	item.State = model.StateRunning
	item.Attempts++
	item.UpdatedAt = now
	return item, nil
}

const selectWorkItemSQL = `
	SELECT id, faculty, skill, params, coalesce(dedup_key,''), provenance_source,
		   provenance_trigger, priority, state, coalesce(parent_id,''),
		   coalesce(merged_into,''), attempts, max_attempts,
		   coalesce(outcome_data,''), coalesce(outcome_error,''), outcome_ms,
		   coalesce(queue_message_id,''), created_at, updated_at, resolved_at
	FROM work_items`

func scanWorkItem(row *sql.Row) (*model.WorkItem, error) {
	var it model.WorkItem
	var params []byte
	var state string
	var resolvedAt sql.NullTime
	if err := row.Scan(&it.ID, &it.Faculty, &it.Skill, &params, &it.DedupKey,
		&it.Provenance.Source, &it.Provenance.Trigger, &it.Priority, &state,
		&it.ParentID, &it.MergedInto, &it.Attempts, &it.MaxAttempts,
		&it.OutcomeData, &it.OutcomeError, &it.OutcomeMs, &it.QueueMessageID,
		&it.CreatedAt, &it.UpdatedAt, &resolvedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, animuserr.NotFound("work item")
		}
		return nil, animuserr.Transport(err, "scan work item")
	}
	it.State = model.State(state)
	if resolvedAt.Valid {
		it.ResolvedAt = &resolvedAt.Time
	}
	if len(params) > 0 {
		_ = json.Unmarshal(params, &it.Params)
	}
	return &it, nil
}

func (s *PostgresStore) Complete(ctx context.Context, id string, outcome model.Outcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return animuserr.Transport(err, "begin complete transaction")
	}
	defer func() { _ = tx.Rollback() }()

	item, err := scanWorkItem(tx.QueryRowContext(ctx, selectWorkItemSQL+" WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return err
	}
	if !model.CanTransition(item.State, model.StateCompleted) {
		return animuserr.Transition(string(item.State), string(model.StateCompleted))
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE work_items SET state=$1, outcome_data=$2, outcome_error=$3,
			outcome_ms=$4, resolved_at=$5, updated_at=$5 WHERE id=$6
	`, string(model.StateCompleted), outcome.Data, outcome.Error,
		outcome.Duration.Milliseconds(), now, id); err != nil {
		return animuserr.Transport(err, "complete work item")
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, id); err != nil {
		return animuserr.Transport(err, "notify completion")
	}
	if err := tx.Commit(); err != nil {
		return animuserr.Transport(err, "commit complete")
	}
	s.archiveMessage(ctx, item)
	return nil
}

// archiveMessage retires the queue message backing a work item that just
// went terminal (or was re-enqueued under a fresh message). Best-effort:
// an unarchived message self-heals at its next claim, which observes the
// terminal state and archives it then.
func (s *PostgresStore) archiveMessage(ctx context.Context, item *model.WorkItem) {
	if item.QueueMessageID == "" {
		return
	}
	_ = s.queue.Archive(ctx, item.Faculty, item.QueueMessageID)
}

func (s *PostgresStore) Fail(ctx context.Context, id string, errMsg string, retryable bool, retryDelay time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return animuserr.Transport(err, "begin fail transaction")
	}
	defer func() { _ = tx.Rollback() }()

	item, err := scanWorkItem(tx.QueryRowContext(ctx, selectWorkItemSQL+" WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return err
	}
	if !model.CanTransition(item.State, model.StateFailed) {
		return animuserr.Transition(string(item.State), string(model.StateFailed))
	}

	now := time.Now().UTC()
	deadLetter := !retryable || item.Attempts >= item.MaxAttempts
	finalState := model.StateQueued
	if deadLetter {
		finalState = model.StateDead
	}
	if !model.CanTransition(model.StateFailed, finalState) {
		return animuserr.Transition(string(model.StateFailed), string(finalState))
	}

	if deadLetter {
		if _, err := tx.ExecContext(ctx, `
			UPDATE work_items SET state=$1, outcome_error=$2, resolved_at=$3, updated_at=$3 WHERE id=$4
		`, string(model.StateDead), errMsg, now, id); err != nil {
			return animuserr.Transport(err, "dead-letter work item")
		}
		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, id); err != nil {
			return animuserr.Transport(err, "notify dead-letter")
		}
		if err := tx.Commit(); err != nil {
			return animuserr.Transport(err, "commit dead-letter")
		}
		s.archiveMessage(ctx, item)
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE work_items SET state=$1, outcome_error=$2, updated_at=$3 WHERE id=$4
	`, string(model.StateQueued), errMsg, now, id); err != nil {
		return animuserr.Transport(err, "mark failed-for-retry")
	}
	if err := tx.Commit(); err != nil {
		return animuserr.Transport(err, "commit fail")
	}

	// The claim-era message is superseded by the re-enqueue below.
	s.archiveMessage(ctx, item)

	if err := s.queue.CreateQueue(ctx, item.Faculty); err != nil {
		return err
	}
	msgID, err := s.queue.Send(ctx, item.Faculty, item.ID, item.Priority, retryDelay)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE work_items SET queue_message_id=$1 WHERE id=$2`, msgID, id); err != nil {
		return animuserr.Transport(err, "record re-enqueued message id")
	}
	return nil
}

func (s *PostgresStore) Archive(ctx context.Context, id string) error {
	var faculty, msgID string
	row := s.db.QueryRowContext(ctx, `SELECT faculty, coalesce(queue_message_id,'') FROM work_items WHERE id = $1`, id)
	if err := row.Scan(&faculty, &msgID); err != nil {
		if err == sql.ErrNoRows {
			return animuserr.NotFound("work item %s", id)
		}
		return animuserr.Transport(err, "lookup work item for archive")
	}
	if msgID == "" {
		return nil
	}
	return s.queue.Archive(ctx, faculty, msgID)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.WorkItem, error) {
	return scanWorkItem(s.db.QueryRowContext(ctx, selectWorkItemSQL+" WHERE id = $1", id))
}

func (s *PostgresStore) ListState(ctx context.Context, filter ListFilter) ([]*model.WorkItem, error) {
	query := selectWorkItemSQL + " WHERE true"
	var args []any
	if filter.State != nil {
		args = append(args, string(*filter.State))
		query += " AND state = $" + strconv.Itoa(len(args))
	}
	if filter.Faculty != "" {
		args = append(args, filter.Faculty)
		query += " AND faculty = $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY priority DESC, created_at ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, animuserr.Transport(err, "list work items")
	}
	defer rows.Close()

	var out []*model.WorkItem
	for rows.Next() {
		it, err := scanWorkItemRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Children(ctx context.Context, parentID string) ([]*model.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, selectWorkItemSQL+" WHERE parent_id = $1 ORDER BY created_at ASC", parentID)
	if err != nil {
		return nil, animuserr.Transport(err, "list children")
	}
	defer rows.Close()
	var out []*model.WorkItem
	for rows.Next() {
		it, err := scanWorkItemRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func scanWorkItemRows(rows *sql.Rows) (*model.WorkItem, error) {
	var it model.WorkItem
	var params []byte
	var state string
	var resolvedAt sql.NullTime
	if err := rows.Scan(&it.ID, &it.Faculty, &it.Skill, &params, &it.DedupKey,
		&it.Provenance.Source, &it.Provenance.Trigger, &it.Priority, &state,
		&it.ParentID, &it.MergedInto, &it.Attempts, &it.MaxAttempts,
		&it.OutcomeData, &it.OutcomeError, &it.OutcomeMs, &it.QueueMessageID,
		&it.CreatedAt, &it.UpdatedAt, &resolvedAt); err != nil {
		return nil, animuserr.Transport(err, "scan work item row")
	}
	it.State = model.State(state)
	if resolvedAt.Valid {
		it.ResolvedAt = &resolvedAt.Time
	}
	if len(params) > 0 {
		_ = json.Unmarshal(params, &it.Params)
	}
	return &it, nil
}

// Subscribe opens a dedicated LISTEN connection on NotifyChannel using
// github.com/lib/pq's listener, mirroring queuestore.PostgresAdapter.
func (s *PostgresStore) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 32)
	listener := pq.NewListener(s.dsnHint, 1*time.Second, 10*time.Second, nil)
	_ = listener.Listen(NotifyChannel)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				if n == nil {
					continue
				}
				select {
				case ch <- n.Extra:
				default:
				}
			}
		}
	}()
	return ch, func() {
		close(stop)
		_ = listener.Close()
	}
}

// dsnHint must be set via SetDSN before Subscribe is used; the work item
// store's own *sql.DB doesn't expose its DSN, and a dedicated connection is
// required for LISTEN/NOTIFY.
func (s *PostgresStore) SetDSN(dsn string) { s.dsnHint = dsn }

