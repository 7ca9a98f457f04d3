package registry

import (
	"context"
	"sync"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
)

// Cell is a named, shared slot holding a value of type T. Every Lookup of
// the same name returns the same *Cell, so all holders observe the same
// state. Access goes through a Borrow, which is exclusive.
type Cell[T any] struct {
	name  string
	value T
	// A token in slot means the cell is free.
	slot chan struct{}
}

func newCell[T any](name string, value T) *Cell[T] {
	c := &Cell[T]{
		name:  name,
		value: value,
		slot:  make(chan struct{}, 1),
	}
	c.slot <- struct{}{}
	return c
}

func (c *Cell[T]) Name() string {
	return c.name
}

// TryBorrow takes the cell without waiting. It fails with a conflict error
// if another borrow is outstanding.
func (c *Cell[T]) TryBorrow() (*Borrow[T], error) {
	select {
	case <-c.slot:
		return &Borrow[T]{cell: c}, nil
	default:
		return nil, errors.NewBorrowError("resource is already borrowed", nil).WithContext("resource", c.name)
	}
}

// Borrow waits until the cell is free or ctx is done.
func (c *Cell[T]) Borrow(ctx context.Context) (*Borrow[T], error) {
	select {
	case <-c.slot:
		return &Borrow[T]{cell: c}, nil
	case <-ctx.Done():
		return nil, errors.NewCancelledError("waiting for resource", ctx.Err()).WithContext("resource", c.name)
	}
}

// With borrows the cell for the duration of fn.
func (c *Cell[T]) With(ctx context.Context, fn func(value *T) error) error {
	borrow, err := c.Borrow(ctx)
	if err != nil {
		return err
	}
	defer borrow.Release()
	return fn(borrow.Value())
}

// Borrow is exclusive access to a Cell until Release.
type Borrow[T any] struct {
	cell *Cell[T]
	once sync.Once
}

// Value points at the cell's value. It must not be used after Release.
func (b *Borrow[T]) Value() *T {
	return &b.cell.value
}

// Release returns the cell. Extra calls are ignored.
func (b *Borrow[T]) Release() {
	b.once.Do(func() {
		b.cell.slot <- struct{}{}
	})
}
