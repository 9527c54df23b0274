package feed

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/model"
	"main/pkg/exception"
)

// wireMessage mirrors the exchange's JSON layout. Numeric fields are
// kept raw because the exchange quotes decimals as strings but some
// gateways relay them as bare numbers.
type wireMessage struct {
	Type          string          `json:"type"`
	ProductID     string          `json:"product_id"`
	Sequence      int64           `json:"sequence"`
	Time          string          `json:"time"`
	OrderID       string          `json:"order_id"`
	ClientOID     string          `json:"client_oid"`
	MakerOrderID  string          `json:"maker_order_id"`
	TakerOrderID  string          `json:"taker_order_id"`
	Side          string          `json:"side"`
	Reason        string          `json:"reason"`
	Message       string          `json:"message"`
	Price         json.RawMessage `json:"price"`
	Size          json.RawMessage `json:"size"`
	Funds         json.RawMessage `json:"funds"`
	RemainingSize json.RawMessage `json:"remaining_size"`
	NewSize       json.RawMessage `json:"new_size"`
	NewFunds      json.RawMessage `json:"new_funds"`
}

// Parse decodes one raw feed payload into its typed variant. Messages
// of unrecognized kind return (nil, nil): forward-compatible no-ops.
func Parse(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.Wrap(exception.ErrFeedMalformedMessage, err.Error())
	}

	h := Header{
		Instrument: model.Instrument(w.ProductID),
		Sequence:   w.Sequence,
	}
	if w.Time != "" {
		if ts, err := time.Parse(time.RFC3339Nano, w.Time); err == nil {
			h.Time = ts
		}
	}

	switch w.Type {
	case "received":
		return parseReceived(h, w)
	case "open":
		return parseOpen(h, w)
	case "match":
		return parseMatch(h, w)
	case "change":
		return parseChange(h, w)
	case "done":
		return parseDone(h, w)
	case "error":
		return StreamError{Header: h, Text: w.Message}, nil
	default:
		return nil, nil
	}
}

func parseReceived(h Header, w wireMessage) (Message, error) {
	m := Received{
		Header:        h,
		OrderID:       model.ExchangeOrderID(w.OrderID),
		ClientOrderID: model.ClientOrderID(w.ClientOID),
	}
	var err error
	if m.Price, m.HasPrice, err = parseDecimal(w.Price); err != nil {
		return nil, err
	}
	if m.Size, _, err = parseDecimal(w.Size); err != nil {
		return nil, err
	}
	if m.Funds, m.HasFunds, err = parseDecimal(w.Funds); err != nil {
		return nil, err
	}
	return m, nil
}

func parseOpen(h Header, w wireMessage) (Message, error) {
	side, ok := model.ParseSide(w.Side)
	if !ok {
		return nil, errors.Wrap(exception.ErrFeedUnknownSide, w.Side)
	}
	m := Open{
		Header:  h,
		OrderID: model.ExchangeOrderID(w.OrderID),
		Side:    side,
	}
	var err error
	if m.Price, _, err = parseDecimal(w.Price); err != nil {
		return nil, err
	}
	// The explicit size field wins; remaining_size is the fallback.
	if m.Size, m.HasSize, err = parseDecimal(w.Size); err != nil {
		return nil, err
	}
	if !m.HasSize {
		if m.Size, m.HasSize, err = parseDecimal(w.RemainingSize); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func parseMatch(h Header, w wireMessage) (Message, error) {
	side, _ := model.ParseSide(w.Side)
	m := Match{
		Header:       h,
		MakerOrderID: model.ExchangeOrderID(w.MakerOrderID),
		TakerOrderID: model.ExchangeOrderID(w.TakerOrderID),
		Side:         side,
	}
	var err error
	if m.Price, _, err = parseDecimal(w.Price); err != nil {
		return nil, err
	}
	if m.Size, _, err = parseDecimal(w.Size); err != nil {
		return nil, err
	}
	return m, nil
}

func parseChange(h Header, w wireMessage) (Message, error) {
	side, _ := model.ParseSide(w.Side)
	m := Change{
		Header:  h,
		OrderID: model.ExchangeOrderID(w.OrderID),
		Side:    side,
	}
	var err error
	if m.Price, _, err = parseDecimal(w.Price); err != nil {
		return nil, err
	}
	if m.NewSize, m.HasNewSize, err = parseDecimal(w.NewSize); err != nil {
		return nil, err
	}
	if !m.HasNewSize {
		if m.NewSize, m.HasNewSize, err = parseDecimal(w.NewFunds); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func parseDone(h Header, w wireMessage) (Message, error) {
	m := Done{
		Header:  h,
		OrderID: model.ExchangeOrderID(w.OrderID),
		Reason:  w.Reason,
	}
	var err error
	if m.Price, m.HasPrice, err = parseDecimal(w.Price); err != nil {
		return nil, err
	}
	if m.RemainingSize, _, err = parseDecimal(w.RemainingSize); err != nil {
		return nil, err
	}
	return m, nil
}

func parseDecimal(raw json.RawMessage) (decimal.Decimal, bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Decimal{}, false, nil
	}
	s := string(raw)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false, errors.Wrap(exception.ErrFeedMalformedMessage, err.Error())
	}
	return d, true, nil
}
