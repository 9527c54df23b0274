package gdax

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/feed"
	"main/internal/model"
	"main/pkg/exception"
)

// Credentials holds the API key material. Secret is the base64-encoded
// signing key as issued by the exchange.
type Credentials struct {
	Key        string
	Secret     string
	Passphrase string
}

// RestClient is the signed REST transport. It satisfies
// feed.OrderEntry and feed.SnapshotSource.
type RestClient struct {
	endpoint   string
	key        string
	secret     []byte
	passphrase string
	httpClient *http.Client
}

func NewRestClient(endpoint string, creds Credentials) (*RestClient, error) {
	secret, err := base64.StdEncoding.DecodeString(creds.Secret)
	if err != nil {
		return nil, errors.Wrap(err, "decode api secret")
	}
	return &RestClient{
		endpoint:   endpoint,
		key:        creds.Key,
		secret:     secret,
		passphrase: creds.Passphrase,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// sign computes the request signature over
// timestamp + method + path + body with the decoded secret.
func (c *RestClient) sign(timestamp, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *RestClient) do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, 0, errors.Wrap(err, "build request")
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("CB-ACCESS-KEY", c.key)
	req.Header.Set("CB-ACCESS-SIGN", c.sign(timestamp, method, path, body))
	req.Header.Set("CB-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("CB-ACCESS-PASSPHRASE", c.passphrase)
	req.Header.Set("User-Agent", "gdax-trader")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errors.Wrap(err, "read response")
	}
	return payload, resp.StatusCode, nil
}

type orderRequest struct {
	ClientOID string `json:"client_oid"`
	ProductID string `json:"product_id"`
	Type      string `json:"type"`
	Side      string `json:"side"`
	Size      string `json:"size"`
	Price     string `json:"price,omitempty"`
	STP       string `json:"stp,omitempty"`
	PostOnly  bool   `json:"post_only,omitempty"`
}

type orderResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// PlaceOrder posts a new order. A response carrying a message field is
// a rejection; it is returned in the result, not as an error, since
// the request itself succeeded.
func (c *RestClient) PlaceOrder(ctx context.Context, order feed.NewOrder) (feed.PlaceResult, error) {
	req := orderRequest{
		ClientOID: string(order.ClientOrderID),
		ProductID: string(order.Instrument),
		Type:      order.Type.String(),
		Side:      order.Side.String(),
		Size:      order.Size.String(),
	}
	switch order.Type {
	case model.OrderTypeLimit:
		if !order.HasPrice {
			return feed.PlaceResult{}, exception.ErrOrderMissingLimitPrice
		}
		// Self-trade prevention cancels the newest order.
		req.STP = "cn"
		req.PostOnly = order.PostOnly
		req.Price = order.Price.String()
	case model.OrderTypeStop:
		if !order.HasPrice {
			return feed.PlaceResult{}, exception.ErrOrderMissingLimitPrice
		}
		req.Price = order.Price.String()
	case model.OrderTypeMarket:
	default:
		return feed.PlaceResult{}, exception.ErrOrderUnsupportedType
	}

	body, err := json.Marshal(req)
	if err != nil {
		return feed.PlaceResult{}, errors.Wrap(err, "marshal order")
	}

	payload, _, err := c.do(ctx, http.MethodPost, "/orders", body)
	if err != nil {
		return feed.PlaceResult{}, err
	}

	var resp orderResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return feed.PlaceResult{}, errors.Wrap(exception.ErrFeedMalformedMessage, "decode order response")
	}
	return feed.PlaceResult{RejectReason: resp.Message}, nil
}

// CancelOrder cancels a working order by exchange order id.
func (c *RestClient) CancelOrder(ctx context.Context, id model.ExchangeOrderID) error {
	payload, status, err := c.do(ctx, http.MethodDelete, "/orders/"+string(id), nil)
	if err != nil {
		return err
	}
	if status >= http.StatusBadRequest {
		return errors.Wrapf(exception.ErrFeedRequestFailed, "cancel %s: %d %s", id, status, payload)
	}
	return nil
}

type depthSnapshot struct {
	Sequence int64             `json:"sequence"`
	Bids     []json.RawMessage `json:"bids"`
	Asks     []json.RawMessage `json:"asks"`
}

// FetchDepthSnapshot pulls the full order-by-order book image. Each
// level-3 entry is a [price, size, order_id] triple.
func (c *RestClient) FetchDepthSnapshot(ctx context.Context, instrument model.Instrument) (feed.Snapshot, error) {
	path := fmt.Sprintf("/products/%s/book?level=3", instrument)
	payload, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return feed.Snapshot{}, err
	}
	if status >= http.StatusBadRequest {
		return feed.Snapshot{}, errors.Wrapf(exception.ErrFeedRequestFailed, "snapshot %s: %d", instrument, status)
	}

	var raw depthSnapshot
	if err := json.Unmarshal(payload, &raw); err != nil {
		return feed.Snapshot{}, errors.Wrap(exception.ErrFeedSnapshotMalformed, err.Error())
	}

	snap := feed.Snapshot{Sequence: raw.Sequence}
	snap.Bids, err = parseSnapshotEntries(raw.Bids)
	if err != nil {
		return feed.Snapshot{}, err
	}
	snap.Asks, err = parseSnapshotEntries(raw.Asks)
	if err != nil {
		return feed.Snapshot{}, err
	}
	return snap, nil
}

func parseSnapshotEntries(rows []json.RawMessage) ([]feed.SnapshotEntry, error) {
	entries := make([]feed.SnapshotEntry, 0, len(rows))
	for _, row := range rows {
		var triple [3]string
		if err := json.Unmarshal(row, &triple); err != nil {
			return nil, errors.Wrap(exception.ErrFeedSnapshotMalformed, err.Error())
		}
		price, err := decimal.NewFromString(triple[0])
		if err != nil {
			return nil, errors.Wrap(exception.ErrFeedSnapshotMalformed, err.Error())
		}
		size, err := decimal.NewFromString(triple[1])
		if err != nil {
			return nil, errors.Wrap(exception.ErrFeedSnapshotMalformed, err.Error())
		}
		entries = append(entries, feed.SnapshotEntry{
			OrderID: model.ExchangeOrderID(triple[2]),
			Price:   price,
			Size:    size,
		})
	}
	return entries, nil
}

// Fill is one settled or pending execution reported by the fills
// endpoint.
type Fill struct {
	TradeID    int64                 `json:"trade_id"`
	Instrument model.Instrument      `json:"product_id"`
	Price      decimal.Decimal       `json:"price"`
	Size       decimal.Decimal       `json:"size"`
	OrderID    model.ExchangeOrderID `json:"order_id"`
	CreatedAt  time.Time             `json:"created_at"`
	Fee        decimal.Decimal       `json:"fee"`
	Settled    bool                  `json:"settled"`
	Side       string                `json:"side"`
	Liquidity  string                `json:"liquidity"`
}

// Maker reports whether the fill added liquidity.
func (f Fill) Maker() bool { return f.Liquidity == "M" }

// Fills lists recent executions, optionally filtered by instrument.
func (c *RestClient) Fills(ctx context.Context, instrument model.Instrument) ([]Fill, error) {
	path := "/fills"
	if instrument != "" {
		path += "?product_id=" + string(instrument)
	}
	payload, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusBadRequest {
		return nil, errors.Wrapf(exception.ErrFeedRequestFailed, "fills: %d", status)
	}

	var fills []Fill
	if err := json.Unmarshal(payload, &fills); err != nil {
		return nil, errors.Wrap(exception.ErrFeedMalformedMessage, err.Error())
	}
	return fills, nil
}
