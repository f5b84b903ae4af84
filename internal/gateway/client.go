package gateway

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pm-updown-bot/internal/config"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

type Creds struct {
	Key        string
	Secret     string
	Passphrase string
}

// Client is the HTTP order gateway client. Transport failures surface
// as ErrNoResponse and venue rejections as ErrRejected so callers can
// back off differently for each.
type Client struct {
	baseURL string
	http    *http.Client
	creds   Creds
	key     *ecdsa.PrivateKey
	address string
	backoff *Backoff
	log     *zap.Logger
}

func NewClient(cfg config.GatewayConfig, creds Creds, privateKeyHex string, log *zap.Logger) (*Client, error) {
	if creds.Key == "" || creds.Secret == "" {
		return nil, errors.New("gateway api credentials are required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid gateway private key: %w", err)
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		creds:   creds,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		backoff: NewBackoff(cfg.BackoffFloor, cfg.BackoffCeiling),
		log:     log,
	}, nil
}

func (c *Client) Address() string {
	return c.address
}

type placeOrderPayload struct {
	TokenID   string `json:"token_id"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	OrderType string `json:"order_type"`
	Owner     string `json:"owner"`
}

type placeOrderResponse struct {
	Success    bool   `json:"success"`
	OrderID    string `json:"orderID"`
	Status     string `json:"status"`
	AvgPrice   string `json:"avgPrice"`
	FilledSize string `json:"filledSize"`
	ErrorMsg   string `json:"errorMsg"`
}

// PlaceOrder handles its own backoff accounting rather than relying on
// the shared do path: a 2xx response that carries no order id still
// counts as a transient failure.
func (c *Client) PlaceOrder(ctx context.Context, req PlaceRequest) (PlaceResult, error) {
	if err := c.backoff.Wait(ctx); err != nil {
		return PlaceResult{}, err
	}
	result, err := c.placeOrder(ctx, req)
	c.note(err)
	return result, err
}

func (c *Client) placeOrder(ctx context.Context, req PlaceRequest) (PlaceResult, error) {
	payload := placeOrderPayload{
		TokenID:   req.TokenID,
		Side:      string(req.Side),
		Price:     formatDecimal(req.Price),
		Size:      formatDecimal(req.Size),
		OrderType: string(req.Type),
		Owner:     c.creds.Key,
	}
	var resp placeOrderResponse
	if err := c.roundTrip(ctx, http.MethodPost, "/order", payload, &resp); err != nil {
		return PlaceResult{}, err
	}
	result := PlaceResult{
		Success:    resp.Success,
		OrderID:    resp.OrderID,
		Status:     resp.Status,
		AvgPrice:   parseDecimal(resp.AvgPrice),
		FilledSize: parseDecimal(resp.FilledSize),
		ErrorMsg:   resp.ErrorMsg,
	}
	if !resp.Success {
		return result, fmt.Errorf("%w: %s", ErrRejected, resp.ErrorMsg)
	}
	if resp.OrderID == "" {
		return result, fmt.Errorf("%w: missing order id", ErrNoResponse)
	}
	return result, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	var resp struct {
		Canceled []string `json:"canceled"`
	}
	body := map[string]string{"orderID": orderID}
	if err := c.do(ctx, http.MethodDelete, "/order", body, &resp); err != nil {
		return false, err
	}
	for _, id := range resp.Canceled {
		if id == orderID {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) OrderStatus(ctx context.Context, orderID string) (OrderState, error) {
	var resp struct {
		Status       string `json:"status"`
		SizeMatched  string `json:"size_matched"`
		OriginalSize string `json:"original_size"`
	}
	path := "/data/order/" + url.PathEscape(orderID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return OrderState{}, err
	}
	matched := parseDecimal(resp.SizeMatched)
	original := parseDecimal(resp.OriginalSize)
	return OrderState{
		Filled:     original > 0 && matched >= original,
		FilledSize: matched,
		Status:     resp.Status,
	}, nil
}

func (c *Client) Balance(ctx context.Context) (float64, error) {
	var resp struct {
		Balance string `json:"balance"`
	}
	if err := c.do(ctx, http.MethodGet, "/balance-allowance?asset_type=COLLATERAL", nil, &resp); err != nil {
		return 0, err
	}
	// Collateral balances are reported in USDC base units.
	return parseDecimal(resp.Balance) / 1e6, nil
}

func (c *Client) BookDepth(ctx context.Context, tokenID string) (Depth, error) {
	var resp struct {
		Asks []struct {
			Price string `json:"price"`
			Size  string `json:"size"`
		} `json:"asks"`
	}
	path := "/book?token_id=" + url.QueryEscape(tokenID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return Depth{}, err
	}
	var depth Depth
	bestAsk := 0.0
	for _, level := range resp.Asks {
		price := parseDecimal(level.Price)
		size := parseDecimal(level.Size)
		if size <= 0 {
			continue
		}
		depth.AskVolume += size
		if bestAsk == 0 || price < bestAsk {
			bestAsk = price
		}
	}
	depth.BestAsk = bestAsk
	depth.HasLiquidity = depth.AskVolume > 0
	return depth, nil
}

// do wraps roundTrip with the transient-failure backoff: the wait grows
// with the streak of no-response / invalid-payload / missing-order-id
// errors and resets on the first clean call.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.backoff.Wait(ctx); err != nil {
		return err
	}
	err := c.roundTrip(ctx, method, path, body, out)
	c.note(err)
	return err
}

func (c *Client) note(err error) {
	if err == nil {
		c.backoff.RecordSuccess()
		return
	}
	if kind, ok := ClassifyError(err); ok {
		c.backoff.RecordFailure(kind)
	}
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	timestamp := time.Now().Unix()
	sigPath := path
	if i := strings.IndexByte(sigPath, '?'); i >= 0 {
		sigPath = sigPath[:i]
	}
	sig, err := signRequest(c.creds.Secret, timestamp, method, sigPath, payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POLY_ADDRESS", c.address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_API_KEY", c.creds.Key)
	req.Header.Set("POLY_PASSPHRASE", c.creds.Passphrase)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoResponse, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoResponse, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: http %d: %s", ErrRejected, resp.StatusCode, truncate(data, 512))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: empty payload", ErrNoResponse)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: invalid payload: %v", ErrNoResponse, err)
	}
	return nil
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}

func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseDecimal(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
