// Package book maintains one sequence-verified live order book per
// instrument: two price-sorted ladders of resting liquidity rebuilt
// from depth snapshots and kept current by the sequenced diff stream.
package book

import (
	"sort"

	"github.com/shopspring/decimal"

	"main/internal/model"
)

// restingOrder is one exchange order sitting in the book. Identity is
// the exchange order id; only size mutates after insertion.
type restingOrder struct {
	id    model.ExchangeOrderID
	side  model.Side
	price decimal.Decimal
	size  decimal.Decimal
}

// priceLevel accumulates the resting orders at one price, kept in
// arrival order (time priority). Invariant: accumulated equals the sum
// of the constituent order sizes.
type priceLevel struct {
	price       decimal.Decimal
	accumulated decimal.Decimal
	orders      []*restingOrder
}

func (l *priceLevel) add(o *restingOrder) {
	l.orders = append(l.orders, o)
	l.accumulated = l.accumulated.Add(o.size)
}

func (l *priceLevel) remove(o *restingOrder) bool {
	for i, cur := range l.orders {
		if cur.id == o.id {
			l.orders = append(l.orders[:i], l.orders[i+1:]...)
			l.accumulated = l.accumulated.Sub(o.size)
			return true
		}
	}
	return false
}

func (l *priceLevel) empty() bool { return len(l.orders) == 0 }

// ladder is one side of the book: levels sorted best-first, meaning
// descending prices for bids and ascending for asks.
type ladder struct {
	side   model.Side
	levels []*priceLevel
}

func newLadder(side model.Side) *ladder {
	return &ladder{side: side}
}

// search returns the slice index where price belongs and whether a
// level already exists there.
func (ld *ladder) search(price decimal.Decimal) (int, bool) {
	idx := sort.Search(len(ld.levels), func(i int) bool {
		cmp := ld.levels[i].price.Cmp(price)
		if ld.side == model.SideBuy {
			return cmp <= 0
		}
		return cmp >= 0
	})
	if idx < len(ld.levels) && ld.levels[idx].price.Equal(price) {
		return idx, true
	}
	return idx, false
}

func (ld *ladder) level(price decimal.Decimal) *priceLevel {
	if idx, ok := ld.search(price); ok {
		return ld.levels[idx]
	}
	return nil
}

func (ld *ladder) addOrder(o *restingOrder) {
	idx, ok := ld.search(o.price)
	if !ok {
		lvl := &priceLevel{price: o.price}
		ld.levels = append(ld.levels, nil)
		copy(ld.levels[idx+1:], ld.levels[idx:])
		ld.levels[idx] = lvl
	}
	ld.levels[idx].add(o)
}

// removeOrder drops an order from its level and prunes the level as
// soon as it holds no orders.
func (ld *ladder) removeOrder(o *restingOrder) bool {
	idx, ok := ld.search(o.price)
	if !ok {
		return false
	}
	lvl := ld.levels[idx]
	if !lvl.remove(o) {
		return false
	}
	if lvl.empty() {
		ld.levels = append(ld.levels[:idx], ld.levels[idx+1:]...)
	}
	return true
}

// best returns the inside quote for this side; the zero Quote when the
// side is empty.
func (ld *ladder) best() model.Quote {
	if len(ld.levels) == 0 {
		return model.Quote{}
	}
	head := ld.levels[0]
	return model.Quote{Price: head.price, Size: head.accumulated}
}

func (ld *ladder) clear() { ld.levels = nil }

func (ld *ladder) depth() int { return len(ld.levels) }
