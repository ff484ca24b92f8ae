package plant

import (
	"time"

	"go.uber.org/atomic"
)

// Entry is one immutable value held by a Cell, together with the time it was stored.
type Entry[T any] struct {
	Value T
	Time  time.Time
	// Seq counts the stores into the cell, starting at 1. Zero means the cell was empty.
	Seq uint64
}

// Empty reports whether the entry came from a cell that was never written.
func (e Entry[T]) Empty() bool {
	return e.Seq == 0
}

// Age returns how long before now the entry was stored.
func (e Entry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.Time)
}

// Cell holds the latest value written to it. Readers always see a value and its time together.
// Stored times never go backwards: a store stamped before the current entry keeps the current time.
type Cell[T any] struct {
	entry atomic.Pointer[Entry[T]]
}

// Store replaces the held value.
func (c *Cell[T]) Store(v T, t time.Time) Entry[T] {
	for {
		prev := c.entry.Load()
		next := &Entry[T]{Value: v, Time: t, Seq: 1}
		if prev != nil {
			next.Seq = prev.Seq + 1
			if t.Before(prev.Time) {
				next.Time = prev.Time
			}
		}
		if c.entry.CompareAndSwap(prev, next) {
			return *next
		}
	}
}

// Load returns the held entry, or the zero entry if nothing was stored yet.
func (c *Cell[T]) Load() Entry[T] {
	if e := c.entry.Load(); e != nil {
		return *e
	}
	return Entry[T]{}
}

// Empty reports whether nothing was stored yet.
func (c *Cell[T]) Empty() bool {
	return c.entry.Load() == nil
}
