package domain

import "context"

// DelegationJob is a unit of background work handed to the delegation queue.
// The queue owns it from Enqueue until completion; it is never persisted.
type DelegationJob struct {
	ID  string
	Run func(ctx context.Context) error
}
