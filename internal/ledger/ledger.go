// Package ledger implements the append-only work ledger: one monotonically
// sequenced stream of typed entries per work item, serving as both working
// memory for the engage loop and the audit trail consolidate/awareness read.
package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/animus-run/animus/internal/animuserr"
	"github.com/animus-run/animus/pkg/model"
)

// Store is the durable interface the engage loop, CLI, and awareness digest
// consume. Implementations must assign Seq as max(seq)+1 within the same
// transaction as the insert so the sequence has no gaps under concurrency.
type Store interface {
	// Append assigns seq and persists one entry. Fails with a Validation
	// error if entryType is outside the closed set. It does not look the
	// work item up: the in-memory store accepts any id, and the Postgres
	// store surfaces the work_items foreign-key rejection as a Transport
	// error.
	Append(ctx context.Context, workItemID string, entryType model.EntryType, content string) (*model.LedgerEntry, error)

	// Read returns entries in seq order. If both filter and lastN are
	// supplied, filter is applied first, then lastN trims the tail.
	Read(ctx context.Context, workItemID string, filter *model.EntryType, lastN *int) ([]*model.LedgerEntry, error)

	// ReadFormatted groups entries into PLAN/FINDINGS/DECISIONS/STEPS/
	// ERRORS/NOTES sections; PLAN keeps only the highest-seq entry.
	ReadFormatted(ctx context.Context, workItemID string) (string, error)

	// DeleteForWorkItem cascades a work item's deletion to its ledger stream.
	DeleteForWorkItem(ctx context.Context, workItemID string) error

	// RecentByType returns entries of entryType across every work item,
	// created at or after since, newest first, capped at limit. Used by
	// the awareness digest to surface recent findings across the whole
	// system rather than one work item's stream.
	RecentByType(ctx context.Context, entryType model.EntryType, since time.Time, limit int) ([]*model.LedgerEntry, error)
}

// sectionOrder fixes the formatted-output section order and headings.
var sectionOrder = []struct {
	Type    model.EntryType
	Heading string
}{
	{model.EntryPlan, "PLAN"},
	{model.EntryFinding, "FINDINGS"},
	{model.EntryDecision, "DECISIONS"},
	{model.EntryStep, "STEPS"},
	{model.EntryError, "ERRORS"},
	{model.EntryNote, "NOTES"},
}

// FormatEntries renders a flat, seq-ordered entry list into the standard
// six-section layout. Shared by every Store implementation so the formatted
// view is identical regardless of backend.
func FormatEntries(entries []*model.LedgerEntry) string {
	byType := make(map[model.EntryType][]*model.LedgerEntry, len(sectionOrder))
	for _, e := range entries {
		byType[e.EntryType] = append(byType[e.EntryType], e)
	}

	var b strings.Builder
	for _, sec := range sectionOrder {
		items := byType[sec.Type]
		if len(items) == 0 {
			continue
		}
		if sec.Type == model.EntryPlan {
			// Only the latest plan entry (highest seq) is shown.
			latest := items[len(items)-1]
			for _, it := range items {
				if it.Seq > latest.Seq {
					latest = it
				}
			}
			items = []*model.LedgerEntry{latest}
		}
		b.WriteString(sec.Heading)
		b.WriteString(":\n")
		for _, it := range items {
			b.WriteString("- ")
			b.WriteString(it.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// MemoryStore is an in-memory ledger used for tests and the reference
// implementation. Reads return clones so callers can never mutate stored
// state through a returned pointer.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]*model.LedgerEntry // workItemID -> entries in seq order
}

// NewMemoryStore returns an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]*model.LedgerEntry)}
}

func cloneEntry(e *model.LedgerEntry) *model.LedgerEntry {
	cp := *e
	return &cp
}

func (s *MemoryStore) Append(ctx context.Context, workItemID string, entryType model.EntryType, content string) (*model.LedgerEntry, error) {
	if !model.ValidEntryType(entryType) {
		return nil, animuserr.Validation("invalid ledger entry type %q", entryType)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.entries[workItemID]
	seq := 1
	if len(existing) > 0 {
		seq = existing[len(existing)-1].Seq + 1
	}
	entry := &model.LedgerEntry{
		ID:         uuid.NewString(),
		WorkItemID: workItemID,
		Seq:        seq,
		EntryType:  entryType,
		Content:    content,
		CreatedAt:  nowFunc(),
	}
	s.entries[workItemID] = append(existing, entry)
	return cloneEntry(entry), nil
}

func (s *MemoryStore) Read(ctx context.Context, workItemID string, filter *model.EntryType, lastN *int) ([]*model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.entries[workItemID]
	out := make([]*model.LedgerEntry, 0, len(src))
	for _, e := range src {
		if filter != nil && e.EntryType != *filter {
			continue
		}
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if lastN != nil && *lastN >= 0 && *lastN < len(out) {
		out = out[len(out)-*lastN:]
	}
	return out, nil
}

func (s *MemoryStore) ReadFormatted(ctx context.Context, workItemID string) (string, error) {
	entries, err := s.Read(ctx, workItemID, nil, nil)
	if err != nil {
		return "", err
	}
	return FormatEntries(entries), nil
}

func (s *MemoryStore) DeleteForWorkItem(ctx context.Context, workItemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, workItemID)
	return nil
}

func (s *MemoryStore) RecentByType(ctx context.Context, entryType model.EntryType, since time.Time, limit int) ([]*model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.LedgerEntry
	for _, stream := range s.entries {
		for _, e := range stream {
			if e.EntryType != entryType || e.CreatedAt.Before(since) {
				continue
			}
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// nowFunc is overridable in tests that need deterministic timestamps.
var nowFunc = defaultNow
