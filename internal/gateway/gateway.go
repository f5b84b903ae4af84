package gateway

import (
	"context"
	"errors"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderType string

const (
	OrderTypeGTC OrderType = "GTC"
	OrderTypeFOK OrderType = "FOK"
	OrderTypeFAK OrderType = "FAK"
)

// The two failure kinds feed different backoff paths: no response means
// the endpoint may be down, an explicit rejection means it is up and
// said no.
var (
	ErrNoResponse = errors.New("gateway: no response")
	ErrRejected   = errors.New("gateway: order rejected")
)

type PlaceRequest struct {
	TokenID string
	Side    Side
	Price   float64
	Size    float64
	Type    OrderType
}

type PlaceResult struct {
	Success    bool
	OrderID    string
	AvgPrice   float64
	FilledSize float64
	Status     string
	ErrorMsg   string
}

type OrderState struct {
	Filled     bool
	FilledSize float64
	Status     string
}

type Depth struct {
	HasLiquidity bool
	AskVolume    float64
	BestAsk      float64
}

// Gateway is the execution venue surface the control plane consumes.
// Every call may fail or time out.
type Gateway interface {
	PlaceOrder(ctx context.Context, req PlaceRequest) (PlaceResult, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	OrderStatus(ctx context.Context, orderID string) (OrderState, error)
	Balance(ctx context.Context) (float64, error)
	BookDepth(ctx context.Context, tokenID string) (Depth, error)
}
