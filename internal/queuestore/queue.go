// Package queuestore abstracts the durable queue over a message-per-work-item
// model: create_queue, send, read (visibility-timeout claim), archive,
// delete, and a subscription mechanism that signals on every send. Two
// implementations: Postgres (SELECT FOR UPDATE
// SKIP LOCKED claims, LISTEN/NOTIFY wakes) and an in-memory reference used
// by tests and single-process deployments.
package queuestore

import (
	"context"
	"time"

	"github.com/animus-run/animus/pkg/model"
)

// Adapter is the durable queue contract the work store's submit path writes
// through and the control plane's claim path reads through.
type Adapter interface {
	// CreateQueue is idempotent; calling it for an existing queue is a no-op.
	CreateQueue(ctx context.Context, name string) error

	// Send enqueues payload (the work item id) at the given priority, with
	// an optional delay before it becomes visible, returning the assigned
	// message id.
	Send(ctx context.Context, queue string, payload string, priority int, delay time.Duration) (string, error)

	// Read claims at most one visible message, hiding it for
	// visibilityTimeout: highest priority first, then oldest enqueued.
	// Returns nil, nil if nothing is visible. Concurrent Read calls never
	// return the same message before the timeout expires.
	Read(ctx context.Context, queue string, visibilityTimeout time.Duration) (*model.QueueMessage, error)

	// Archive marks a message as durably handled (terminal transition
	// driven). Exactly-once per message id; later calls are no-ops.
	Archive(ctx context.Context, queue string, messageID string) error

	// Delete removes a message outright. Exactly-once per message id; later
	// calls are no-ops.
	Delete(ctx context.Context, queue string, messageID string) error

	// Subscribe returns a channel that receives a signal on every Send to
	// queue, whether or not the queue was empty, and an unsubscribe func.
	// A delayed message is signalled at Send time; its later becoming
	// visible sends no signal. The channel is buffered size 1 and signals
	// are collapsed (a burst of sends produces at most one pending signal
	// between reads).
	Subscribe(queue string) (ch <-chan struct{}, unsubscribe func())
}
