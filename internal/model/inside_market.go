package model

import "github.com/shopspring/decimal"

// Quote is one side of the inside market. The zero value means the
// side is empty (no resting liquidity).
type Quote struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

func (q Quote) IsZero() bool {
	return q.Price.IsZero() && q.Size.IsZero()
}

func (q Quote) Equal(other Quote) bool {
	return q.Price.Equal(other.Price) && q.Size.Equal(other.Size)
}

// InsideMarket is the best bid and best ask of one instrument at a
// point in time. Compared by value for change detection.
type InsideMarket struct {
	Bid Quote
	Ask Quote
}

func (m InsideMarket) Equal(other InsideMarket) bool {
	return m.Bid.Equal(other.Bid) && m.Ask.Equal(other.Ask)
}

// InsideMarketChange is published whenever an instrument's inside
// market differs by value from the previously published one.
type InsideMarketChange struct {
	Instrument Instrument
	Old        InsideMarket
	New        InsideMarket
}
