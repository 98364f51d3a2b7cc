package memory

import (
	"context"
	"sync"
)

type ctxKey string

const journalKey ctxKey = "journal"

// journal collects inverse operations of the mutations made inside one
// transaction. Undo functions run with the store lock held.
type journal struct {
	mu   sync.Mutex
	undo []func()
}

func record(ctx context.Context, fn func()) {
	j, ok := ctx.Value(journalKey).(*journal)
	if !ok {
		return
	}
	j.mu.Lock()
	j.undo = append(j.undo, fn)
	j.mu.Unlock()
}

// WithTransaction runs fn and reverts every mutation it made when it returns
// an error. Other readers may observe the changes before fn returns. A call
// made with a context that already holds a transaction joins it.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(journalKey).(*journal); ok {
		return fn(ctx)
	}

	j := &journal{}
	if err := fn(context.WithValue(ctx, journalKey, j)); err != nil {
		s.rollback(j)
		return err
	}
	return nil
}

func (s *Store) rollback(j *journal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j.mu.Lock()
	defer j.mu.Unlock()

	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}
