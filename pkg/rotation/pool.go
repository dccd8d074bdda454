// Package rotation implements a shuffled draw order that never repeats an
// item until every item has been drawn once, then starts over with a fresh
// shuffle.
package rotation

import (
	"errors"
	"math/rand/v2"
)

// ErrEmpty is returned when a pool has nothing to draw from
var ErrEmpty = errors.New("rotation: empty pool")

// Pool draws items in shuffled passes. It is not safe for concurrent use;
// callers own one Pool per operation.
type Pool[T any] struct {
	items  []T
	order  []T
	cursor int
	passes int
	rng    *rand.Rand
}

// New creates a pool over a copy of items. A nil rng uses a randomly seeded
// source.
func New[T any](items []T, rng *rand.Rand) *Pool[T] {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	p := &Pool[T]{
		items: append([]T(nil), items...),
		rng:   rng,
	}
	p.reshuffle()
	return p
}

// Next returns the item at the cursor and advances it, reshuffling a fresh
// copy of the items once the current order is exhausted.
func (p *Pool[T]) Next() (T, error) {
	var zero T
	if len(p.items) == 0 {
		return zero, ErrEmpty
	}
	if p.cursor >= len(p.order) {
		p.reshuffle()
	}
	item := p.order[p.cursor]
	p.cursor++
	return item, nil
}

// Len returns the number of distinct items in one pass
func (p *Pool[T]) Len() int {
	return len(p.items)
}

// Passes returns how many shuffled passes have been started
func (p *Pool[T]) Passes() int {
	return p.passes
}

func (p *Pool[T]) reshuffle() {
	p.order = append(p.order[:0], p.items...)
	p.rng.Shuffle(len(p.order), func(i, j int) {
		p.order[i], p.order[j] = p.order[j], p.order[i]
	})
	p.cursor = 0
	p.passes++
}
