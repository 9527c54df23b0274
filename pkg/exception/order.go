package exception

import "errors"

var (
	ErrOrderMissingClientID   = errors.New("order: missing client order id")
	ErrOrderMissingSize       = errors.New("order: missing size")
	ErrOrderAlreadyPlaced     = errors.New("order: already placed")
	ErrOrderDuplicateWatch    = errors.New("order: client order id already watched")
	ErrOrderUnsupportedType   = errors.New("order: unsupported order type")
	ErrOrderMissingLimitPrice = errors.New("order: limit order requires a price")
)
