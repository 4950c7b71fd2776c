package model

import "time"

// QueueMessage is a durable queue entry carrying a work item id as payload.
// Priority mirrors the work item's priority so reads can order claims
// without joining back to the work item table.
type QueueMessage struct {
	ID         string
	Queue      string
	Payload    string
	Priority   int
	ReadCount  int
	EnqueuedAt time.Time
	VisibleAt  time.Time
}
