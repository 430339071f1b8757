package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrAllocation means the counter transaction did not commit. The caller
// must retry the whole creation attempt; a number is never fabricated.
var ErrAllocation = errors.New("order number allocation failed")

// CounterStore is the atomic increment-and-read primitive.
// Satisfied by *database.Queries (and its WithTx variant).
type CounterStore interface {
	NextOrderNumber(ctx context.Context, restaurantID uuid.UUID) (int64, error)
}

// Allocator issues strictly increasing, collision-free order numbers per
// restaurant. Concurrent calls for the same restaurant serialize on the
// counter row, so two callers can never see the same value.
type Allocator struct {
	store CounterStore
}

func NewAllocator(store CounterStore) *Allocator {
	return &Allocator{store: store}
}

func (a *Allocator) Next(ctx context.Context, restaurantID uuid.UUID) (int64, error) {
	n, err := a.store.NextOrderNumber(ctx, restaurantID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	return n, nil
}
