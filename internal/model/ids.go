package model

import (
	"crypto/rand"
	"encoding/hex"
)

// ClientOrderID is the locally generated identifier assigned to an
// order before submission.
type ClientOrderID string

// ExchangeOrderID is the exchange-assigned identifier, opaque to us,
// unknown until the order is acknowledged.
type ExchangeOrderID string

func (id ClientOrderID) String() string   { return string(id) }
func (id ExchangeOrderID) String() string { return string(id) }

// NewClientOrderID returns a fresh random identifier. It panics when
// the platform's entropy source fails, since continuing without unique
// order identifiers is not an option.
func NewClientOrderID() ClientOrderID {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("model: generate client order id: " + err.Error())
	}
	return ClientOrderID(hex.EncodeToString(b))
}
