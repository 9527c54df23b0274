package model

// Instrument identifies a tradable product, e.g. "BTC-USD".
// It compares by value and is safe to use as a map key.
type Instrument string

func (i Instrument) String() string {
	return string(i)
}

// Side describes order direction.
type Side uint8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseSide converts the exchange's wire representation of a side.
func ParseSide(s string) (Side, bool) {
	switch s {
	case "buy", "bid":
		return SideBuy, true
	case "sell", "ask":
		return SideSell, true
	default:
		return SideUnknown, false
	}
}

// OrderType describes order type.
type OrderType uint8

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
	OrderTypeStop
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "limit"
	case OrderTypeMarket:
		return "market"
	case OrderTypeStop:
		return "stop"
	default:
		return "unknown"
	}
}
