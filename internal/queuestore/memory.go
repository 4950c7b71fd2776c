package queuestore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/animus-run/animus/pkg/model"
)

// MemoryAdapter is an in-memory queue used for tests and single-process
// deployments. Every read returns a clone so callers never alias the
// adapter's internal state.
type MemoryAdapter struct {
	mu     sync.Mutex
	queues map[string]*memQueue
}

type memQueue struct {
	// messages holds every message not yet deleted, keyed by id. Archived
	// messages stay here (read-only history) but are excluded from Read.
	messages map[string]*memMessage
	order    []string // insertion order, used as the FIFO fallback within a priority tier
	subs     map[chan struct{}]struct{}
}

type memMessage struct {
	msg       model.QueueMessage
	archived  bool
	visibleAt time.Time
}

// NewMemoryAdapter returns an empty in-memory queue adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{queues: make(map[string]*memQueue)}
}

func (a *MemoryAdapter) queueFor(name string) *memQueue {
	q, ok := a.queues[name]
	if !ok {
		q = &memQueue{messages: make(map[string]*memMessage), subs: make(map[chan struct{}]struct{})}
		a.queues[name] = q
	}
	return q
}

func (a *MemoryAdapter) CreateQueue(ctx context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queueFor(name)
	return nil
}

func (a *MemoryAdapter) Send(ctx context.Context, queue string, payload string, priority int, delay time.Duration) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	q := a.queueFor(queue)
	now := time.Now()
	id := uuid.NewString()
	q.messages[id] = &memMessage{
		msg: model.QueueMessage{
			ID:         id,
			Queue:      queue,
			Payload:    payload,
			Priority:   priority,
			ReadCount:  0,
			EnqueuedAt: now,
			VisibleAt:  now.Add(delay),
		},
		visibleAt: now.Add(delay),
	}
	q.order = append(q.order, id)
	a.notify(q)
	return id, nil
}

func (a *MemoryAdapter) Read(ctx context.Context, queue string, visibilityTimeout time.Duration) (*model.QueueMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	q, ok := a.queues[queue]
	if !ok {
		return nil, nil
	}
	now := time.Now()

	// Highest priority first, then oldest enqueued; the insertion-order
	// scan makes the enqueue-time tiebreak deterministic even when two
	// messages share a timestamp.
	var best *memMessage
	for _, id := range q.order {
		m, ok := q.messages[id]
		if !ok || m.archived {
			continue
		}
		if m.visibleAt.After(now) {
			continue
		}
		if best == nil ||
			m.msg.Priority > best.msg.Priority ||
			(m.msg.Priority == best.msg.Priority && m.msg.EnqueuedAt.Before(best.msg.EnqueuedAt)) {
			best = m
		}
	}
	if best == nil {
		return nil, nil
	}
	best.msg.ReadCount++
	best.visibleAt = now.Add(visibilityTimeout)
	best.msg.VisibleAt = best.visibleAt
	out := best.msg
	return &out, nil
}

func (a *MemoryAdapter) Archive(ctx context.Context, queue string, messageID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	q, ok := a.queues[queue]
	if !ok {
		return nil
	}
	if m, ok := q.messages[messageID]; ok {
		m.archived = true
	}
	return nil
}

func (a *MemoryAdapter) Delete(ctx context.Context, queue string, messageID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	q, ok := a.queues[queue]
	if !ok {
		return nil
	}
	delete(q.messages, messageID)
	return nil
}

func (a *MemoryAdapter) Subscribe(queue string) (<-chan struct{}, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	q := a.queueFor(queue)
	ch := make(chan struct{}, 1)
	q.subs[ch] = struct{}{}
	return ch, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(q.subs, ch)
	}
}

// notify signals every subscriber of q, collapsing bursts into one pending
// signal per channel (non-blocking send).
func (a *MemoryAdapter) notify(q *memQueue) {
	for ch := range q.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
