package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/google/uuid"

	"github.com/animus-run/animus/internal/animuserr"
	"github.com/animus-run/animus/pkg/model"
)

// PostgresStore persists ledger entries in the work_ledger table, with a
// unique (work_item_id, seq) index enforcing the monotone, contiguous
// sequence per work item. Seq assignment is computed inside the same
// transaction as the insert: SELECT ... FOR UPDATE against the work item's
// existing rows, then INSERT, so concurrent appenders serialize on the row
// lock instead of racing to the same seq.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-opened *sql.DB. The schema (including
// the cascade-delete foreign key to work_items and the unique index on
// (work_item_id, seq)) is created by the store package's migration, since
// both tables are part of the same durable-store surface.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, workItemID string, entryType model.EntryType, content string) (*model.LedgerEntry, error) {
	if !model.ValidEntryType(entryType) {
		return nil, animuserr.Validation("invalid ledger entry type %q", entryType)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, animuserr.Transport(err, "begin ledger append transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var maxSeq sql.NullInt64
	// Row-level lock on the work item's existing ledger rows prevents a
	// concurrent append in the same work item from computing the same seq.
	if err := tx.QueryRowContext(ctx, `
		SELECT max(seq) FROM (SELECT seq FROM work_ledger WHERE work_item_id = $1 FOR UPDATE) AS locked
	`, workItemID).Scan(&maxSeq); err != nil {
		return nil, animuserr.Transport(err, "select max seq")
	}

	seq := 1
	if maxSeq.Valid {
		seq = int(maxSeq.Int64) + 1
	}

	entry := &model.LedgerEntry{
		ID:         uuid.NewString(),
		WorkItemID: workItemID,
		Seq:        seq,
		EntryType:  entryType,
		Content:    content,
		CreatedAt:  defaultNow(),
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO work_ledger (id, work_item_id, seq, entry_type, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.WorkItemID, entry.Seq, string(entry.EntryType), entry.Content, entry.CreatedAt); err != nil {
		return nil, animuserr.Transport(err, "insert ledger entry")
	}

	if err := tx.Commit(); err != nil {
		return nil, animuserr.Transport(err, "commit ledger append")
	}
	return entry, nil
}

func (s *PostgresStore) Read(ctx context.Context, workItemID string, filter *model.EntryType, lastN *int) ([]*model.LedgerEntry, error) {
	query := `SELECT id, work_item_id, seq, entry_type, content, created_at FROM work_ledger WHERE work_item_id = $1`
	args := []any{workItemID}
	if filter != nil {
		query += fmt.Sprintf(" AND entry_type = $%d", len(args)+1)
		args = append(args, string(*filter))
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, animuserr.Transport(err, "query ledger entries")
	}
	defer rows.Close()

	var out []*model.LedgerEntry
	for rows.Next() {
		e := &model.LedgerEntry{}
		var entryType string
		if err := rows.Scan(&e.ID, &e.WorkItemID, &e.Seq, &entryType, &e.Content, &e.CreatedAt); err != nil {
			return nil, animuserr.Transport(err, "scan ledger entry")
		}
		e.EntryType = model.EntryType(entryType)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, animuserr.Transport(err, "iterate ledger entries")
	}

	if lastN != nil && *lastN >= 0 && *lastN < len(out) {
		out = out[len(out)-*lastN:]
	}
	return out, nil
}

func (s *PostgresStore) ReadFormatted(ctx context.Context, workItemID string) (string, error) {
	entries, err := s.Read(ctx, workItemID, nil, nil)
	if err != nil {
		return "", err
	}
	return FormatEntries(entries), nil
}

func (s *PostgresStore) DeleteForWorkItem(ctx context.Context, workItemID string) error {
	// Cascade is also enforced by the FK's ON DELETE CASCADE; this explicit
	// delete covers the case callers only want ledger history cleared.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM work_ledger WHERE work_item_id = $1`, workItemID); err != nil {
		return animuserr.Transport(err, "delete ledger entries")
	}
	return nil
}

func (s *PostgresStore) RecentByType(ctx context.Context, entryType model.EntryType, since time.Time, limit int) ([]*model.LedgerEntry, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, work_item_id, seq, entry_type, content, created_at
		FROM work_ledger
		WHERE entry_type = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`, string(entryType), since, limitArg)
	if err != nil {
		return nil, animuserr.Transport(err, "query recent ledger entries")
	}
	defer rows.Close()

	var out []*model.LedgerEntry
	for rows.Next() {
		e := &model.LedgerEntry{}
		var et string
		if err := rows.Scan(&e.ID, &e.WorkItemID, &e.Seq, &et, &e.Content, &e.CreatedAt); err != nil {
			return nil, animuserr.Transport(err, "scan recent ledger entry")
		}
		e.EntryType = model.EntryType(et)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, animuserr.Transport(err, "iterate recent ledger entries")
	}
	return out, nil
}
