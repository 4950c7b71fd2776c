// Package store implements durable persistence of work items: transactional
// submit with structural dedup, visibility-timeout claim via queuestore,
// the state-machine-enforced terminal transitions, and terminal-transition
// notification for awaiting parents. A Postgres implementation and an
// in-memory reference share the same contract.
package store

import (
	"context"
	"time"

	"github.com/animus-run/animus/pkg/model"
)

// NotifyChannel is the well-known channel name terminal transitions publish
// to, carrying the work item id as payload.
const NotifyChannel = "work_item_completed"

// SubmitOutcome discriminates Submit's result: either a freshly queued item
// or a dedup merge into an existing canonical item.
type SubmitOutcome string

const (
	SubmitCreated SubmitOutcome = "created"
	SubmitMerged  SubmitOutcome = "merged"
)

// SubmitResult is returned by Submit.
type SubmitResult struct {
	Outcome      SubmitOutcome
	Item         *model.WorkItem // the submitted item, in its resulting state
	CanonicalID  string          // set iff Outcome == SubmitMerged
}

// ListFilter narrows ListState queries.
type ListFilter struct {
	State   *model.State
	Faculty string
	Limit   int
	Offset  int
}

// Store is the durable work item contract. Every mutating method validates
// model.CanTransition before writing; no method bypasses the state machine.
type Store interface {
	// Submit inserts the item as Created and dedup-searches by
	// (faculty, dedup_key) among non-terminal items in one transaction,
	// merging into the canonical item there. Otherwise it enqueues and
	// transitions to Queued; the Postgres store does this after the insert
	// transaction commits and deletes the Created row if enqueueing fails.
	Submit(ctx context.Context, item *model.WorkItem) (*SubmitResult, error)

	// Claim reads at most one visible queue message for faculty (highest
	// priority first, then earliest enqueued; Fail re-enqueues a retried
	// item, so it queues behind items of its priority enqueued before the
	// retry, whatever their created_at), and transitions the backing
	// work item Queued->Claimed->Running in the same logical operation.
	// Returns nil, nil if nothing is claimable.
	Claim(ctx context.Context, faculty string, visibilityTimeout time.Duration) (*model.WorkItem, error)

	// Complete transitions Running->Completed, writing the outcome and
	// emitting a terminal-transition notification.
	Complete(ctx context.Context, id string, outcome model.Outcome) error

	// Fail transitions Running->Failed, then immediately resolves
	// Failed->Queued (re-enqueue, visible again after retryDelay) or
	// Failed->Dead based on attempts vs max_attempts. retryable=false
	// forces Dead regardless of attempts.
	Fail(ctx context.Context, id string, errMsg string, retryable bool, retryDelay time.Duration) error

	// Archive is called once a terminal work item's queue message no
	// longer needs to be retained as claimable history; it archives the
	// backing queue message (not the work item row).
	Archive(ctx context.Context, id string) error

	Get(ctx context.Context, id string) (*model.WorkItem, error)
	ListState(ctx context.Context, filter ListFilter) ([]*model.WorkItem, error)
	Children(ctx context.Context, parentID string) ([]*model.WorkItem, error)

	// Subscribe returns a channel receiving work item ids as Complete or a
	// dead-lettering Fail moves them to a terminal state, and an
	// unsubscribe func; an item merged at Submit is not published. Used by
	// await_child_work.
	Subscribe() (ch <-chan string, unsubscribe func())
}
