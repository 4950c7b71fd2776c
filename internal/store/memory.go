package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/animus-run/animus/internal/animuserr"
	"github.com/animus-run/animus/internal/queuestore"
	"github.com/animus-run/animus/pkg/model"
)

// MemoryStore is an in-memory work item store backed by a queuestore.Adapter,
// used for tests and single-process deployments. Reads return clones so
// callers can never mutate stored state through a returned pointer.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*model.WorkItem
	queue queuestore.Adapter

	subsMu sync.Mutex
	subs   map[chan string]struct{}
}

// NewMemoryStore returns a work item store over the given queue adapter.
func NewMemoryStore(queue queuestore.Adapter) *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*model.WorkItem),
		queue: queue,
		subs:  make(map[chan string]struct{}),
	}
}

func (s *MemoryStore) Submit(ctx context.Context, item *model.WorkItem) (*SubmitResult, error) {
	if item.Faculty == "" {
		return nil, animuserr.Validation("faculty is required")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	item.State = model.StateCreated
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.MaxAttempts <= 0 {
		item.MaxAttempts = 3
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[item.ID] = item.Clone()

	if item.DedupKey != "" {
		if canonical := s.findNonTerminalDup(item.Faculty, item.DedupKey, item.ID); canonical != nil {
			if !model.CanTransition(item.State, model.StateMerged) {
				return nil, animuserr.Transition(string(item.State), string(model.StateMerged))
			}
			item.State = model.StateMerged
			item.MergedInto = canonical.ID
			resolved := time.Now().UTC()
			item.ResolvedAt = &resolved
			item.UpdatedAt = resolved
			s.items[item.ID] = item.Clone()
			return &SubmitResult{Outcome: SubmitMerged, Item: item.Clone(), CanonicalID: canonical.ID}, nil
		}
	}

	if !model.CanTransition(item.State, model.StateQueued) {
		return nil, animuserr.Transition(string(item.State), string(model.StateQueued))
	}

	if err := s.queue.CreateQueue(ctx, item.Faculty); err != nil {
		delete(s.items, item.ID)
		return nil, err
	}
	msgID, err := s.queue.Send(ctx, item.Faculty, item.ID, item.Priority, 0)
	if err != nil {
		delete(s.items, item.ID)
		return nil, err
	}

	item.QueueMessageID = msgID
	item.State = model.StateQueued
	item.UpdatedAt = time.Now().UTC()
	s.items[item.ID] = item.Clone()

	return &SubmitResult{Outcome: SubmitCreated, Item: item.Clone()}, nil
}

// findNonTerminalDup scans for another non-terminal item sharing
// (faculty, dedupKey), excluding excludeID. The in-memory store enforces the
// uniqueness invariant by holding s.mu across the whole Submit call, which is
// the reference-implementation equivalent of the partial unique index's
// atomicity under concurrent submits.
func (s *MemoryStore) findNonTerminalDup(faculty, dedupKey, excludeID string) *model.WorkItem {
	for id, it := range s.items {
		if id == excludeID || it.Faculty != faculty || it.DedupKey != dedupKey {
			continue
		}
		if !it.State.Terminal() {
			return it
		}
	}
	return nil
}

func (s *MemoryStore) Claim(ctx context.Context, faculty string, visibilityTimeout time.Duration) (*model.WorkItem, error) {
	msg, err := s.queue.Read(ctx, faculty, visibilityTimeout)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[msg.Payload]
	if !ok {
		return nil, animuserr.NotFound("work item %s for claimed message", msg.Payload)
	}
	// A stale message for an already-terminal item (missed archive after a
	// crash) is retired here rather than cycling through visibility
	// timeouts forever.
	if item.State.Terminal() {
		_ = s.queue.Archive(ctx, faculty, msg.ID)
		return nil, nil
	}
	if !model.CanTransition(item.State, model.StateClaimed) {
		return nil, animuserr.Transition(string(item.State), string(model.StateClaimed))
	}
	item.State = model.StateClaimed
	item.Attempts++
	item.UpdatedAt = time.Now().UTC()

	if !model.CanTransition(item.State, model.StateRunning) {
		return nil, animuserr.Transition(string(item.State), string(model.StateRunning))
	}
	item.State = model.StateRunning
	item.UpdatedAt = time.Now().UTC()

	s.items[item.ID] = item.Clone()
	return item.Clone(), nil
}

func (s *MemoryStore) Complete(ctx context.Context, id string, outcome model.Outcome) error {
	s.mu.Lock()
	item, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return animuserr.NotFound("work item %s", id)
	}
	if !model.CanTransition(item.State, model.StateCompleted) {
		s.mu.Unlock()
		return animuserr.Transition(string(item.State), string(model.StateCompleted))
	}
	now := time.Now().UTC()
	item.State = model.StateCompleted
	item.OutcomeData = outcome.Data
	item.OutcomeError = outcome.Error
	item.OutcomeMs = outcome.Duration.Milliseconds()
	item.ResolvedAt = &now
	item.UpdatedAt = now
	s.items[id] = item.Clone()
	s.mu.Unlock()

	s.archiveMessage(ctx, item)
	s.publishTerminal(id)
	return nil
}

// archiveMessage retires the queue message backing a work item that just
// went terminal (or was re-enqueued under a fresh message). Best-effort:
// an unarchived message self-heals at its next claim, which observes the
// terminal state and archives it then.
func (s *MemoryStore) archiveMessage(ctx context.Context, item *model.WorkItem) {
	if item.QueueMessageID == "" {
		return
	}
	_ = s.queue.Archive(ctx, item.Faculty, item.QueueMessageID)
}

func (s *MemoryStore) Fail(ctx context.Context, id string, errMsg string, retryable bool, retryDelay time.Duration) error {
	s.mu.Lock()
	item, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return animuserr.NotFound("work item %s", id)
	}
	if !model.CanTransition(item.State, model.StateFailed) {
		s.mu.Unlock()
		return animuserr.Transition(string(item.State), string(model.StateFailed))
	}
	now := time.Now().UTC()
	item.State = model.StateFailed
	item.OutcomeError = errMsg
	item.UpdatedAt = now

	deadLetter := !retryable || item.Attempts >= item.MaxAttempts
	if deadLetter {
		item.State = model.StateDead
		item.ResolvedAt = &now
		s.items[id] = item.Clone()
		s.mu.Unlock()
		s.archiveMessage(ctx, item)
		s.publishTerminal(id)
		return nil
	}

	// Failed -> Queued: re-enqueue a fresh message for another claim; the
	// claim-era message is superseded.
	item.State = model.StateQueued
	s.items[id] = item.Clone()
	s.mu.Unlock()

	s.archiveMessage(ctx, item)
	if err := s.queue.CreateQueue(ctx, item.Faculty); err != nil {
		return err
	}
	msgID, err := s.queue.Send(ctx, item.Faculty, item.ID, item.Priority, retryDelay)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if cur, ok := s.items[id]; ok {
		cur.QueueMessageID = msgID
		s.items[id] = cur.Clone()
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Archive(ctx context.Context, id string) error {
	s.mu.Lock()
	item, ok := s.items[id]
	s.mu.Unlock()
	if !ok {
		return animuserr.NotFound("work item %s", id)
	}
	if item.QueueMessageID == "" {
		return nil
	}
	return s.queue.Archive(ctx, item.Faculty, item.QueueMessageID)
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, animuserr.NotFound("work item %s", id)
	}
	return item.Clone(), nil
}

func (s *MemoryStore) ListState(ctx context.Context, filter ListFilter) ([]*model.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.WorkItem
	for _, it := range s.items {
		if filter.State != nil && it.State != *filter.State {
			continue
		}
		if filter.Faculty != "" && it.Faculty != filter.Faculty {
			continue
		}
		out = append(out, it.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Offset > 0 && filter.Offset < len(out) {
		out = out[filter.Offset:]
	} else if filter.Offset >= len(out) {
		return nil, nil
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Children(ctx context.Context, parentID string) ([]*model.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.WorkItem
	for _, it := range s.items {
		if it.ParentID == parentID {
			out = append(out, it.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) Subscribe() (<-chan string, func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	ch := make(chan string, 32)
	s.subs[ch] = struct{}{}
	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		delete(s.subs, ch)
	}
}

func (s *MemoryStore) publishTerminal(id string) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- id:
		default:
		}
	}
}
