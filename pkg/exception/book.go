package exception

import "errors"

// Book desync errors. Any of these indicates the live book no longer
// matches the exchange and forces an unconditional rebuild.
var (
	ErrBookLevelMissing     = errors.New("book: price level missing for resting order")
	ErrBookPriceMismatch    = errors.New("book: match price differs from maker's resting price")
	ErrBookPriorityViolated = errors.New("book: matched maker is not the earliest order at its level")
	ErrBookDuplicateOrder   = errors.New("book: order id already resting")
	ErrBookNegativeSize     = errors.New("book: match size exceeds resting size")
)
