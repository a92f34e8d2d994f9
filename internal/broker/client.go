// Package broker transforms an abstract order into the broker's wire
// format, places/queries/modifies/cancels it over HTTP, and surfaces
// typed errors so the dispatcher can branch on retry policy without
// inspecting status codes itself.
//
// The HTTP-client mechanics (typed request/response wrapper, per-call
// child logger, context-bound requests, session invalidation on 401 with
// the retry left to the dispatcher) follow the style already used for this
// broker's wire format in wire.go.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/replerr"
	"github.com/aristath/sentinel/internal/utils"
)

// SessionInvalidator is implemented by the Credential Vault; the adapter
// calls it on HTTP 401 and then returns AuthTransientError without retrying.
type SessionInvalidator interface {
	Invalidate(account string)
}

// Identity carries the caller-identity fields attached to every wire
// request.
type Identity struct {
	APIKey      string
	AppVersion  string
	AppName     string
	ChannelName string
	PublicIP    string
}

// Adapter implements domain.BrokerAdapter over the broker's HTTP API.
type Adapter struct {
	baseURL    string
	httpClient *http.Client
	identity   Identity
	invalidate SessionInvalidator
	log        zerolog.Logger
}

// New builds a Broker Adapter. baseURL is the broker_base_url config value
// (sandbox or production). The adapter does not own retries and its HTTP
// client sets no timeout of its own — the caller's context bounds each
// attempt; the dispatcher decides whether to retry.
func New(baseURL string, identity Identity, invalidate SessionInvalidator, log zerolog.Logger) *Adapter {
	return &Adapter{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 100,
				ForceAttemptHTTP2:   true,
			},
		},
		identity:   identity,
		invalidate: invalidate,
		log:        log.With().Str("component", "broker_adapter").Logger(),
	}
}

// Place submits spec as a new order under session, returning the broker's
// order id and mapped status. The adapter MUST NOT retry internally —
// retries are the dispatcher's decision.
func (a *Adapter) Place(ctx context.Context, session *domain.Session, spec domain.OrderSpec) (*domain.PlaceResult, error) {
	now := time.Now()
	body := placeOrderBody{
		ClientCode:       session.Account,
		OrderFor:         "NEW",
		ExchangeCode:     exchangeCode(spec.Exchange),
		ExchangeSegment:  spec.Exchange,
		Price:            priceString(spec.LimitPrice),
		InternalOrderSeq: "0",
		SideCode:         sideCode(spec.Side == domain.SideBuy),
		Quantity:         fmt.Sprintf("%d", spec.Quantity),
		OrderTimestamp:   epochBracket(now.UnixMilli()),
		InstrumentCode:   fmt.Sprintf("%d", spec.InstrumentCode),
		AtMarket:         yn(spec.Type == domain.OrderTypeMarket),
		IdempotencyToken: spec.IdempotencyToken,
		ExchangeOrderID:  "0",
		DisclosedQty:     "0",
		StopLoss:         yn(spec.Type == domain.OrderTypeStop || spec.Type == domain.OrderTypeStopMarket),
		StopLossPrice:    priceString(spec.TriggerPrice),
		GoodTillDate:     yn(spec.TimeInForce == domain.TIFGTD),
		IOC:              yn(spec.TimeInForce == domain.TIFIOC),
		Intraday:         productCode(spec.ProductType == domain.ProductIntraday),
		PublicIP:         a.identity.PublicIP,
		AfterHours:       "N",
		ValidTillDate:    epochBracket(now.AddDate(0, 0, 1).UnixMilli()),
		OrderValidity:    "0",
		OrderRequester:   session.Account,
		TradedQuantity:   "0",
	}

	req := placeOrderRequest{Head: a.header(session), Body: body}

	var resp placeOrderResponse
	if err := a.call(ctx, session, http.MethodPost, "/orders/place", req, &resp); err != nil {
		return nil, err
	}

	return &domain.PlaceResult{
		BrokerOrderID: resp.Body.BrokerOrderID,
		Status:        mapStatus(resp.Body.Status),
		Message:       resp.Body.Message,
	}, nil
}

// Status queries the current state of a previously placed order.
func (a *Adapter) Status(ctx context.Context, session *domain.Session, brokerOrderID string) (*domain.StatusResult, error) {
	var resp placeOrderResponseBody
	path := fmt.Sprintf("/orders/%s/status", brokerOrderID)
	if err := a.call(ctx, session, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &domain.StatusResult{
		Status:           mapStatus(resp.Status),
		BrokerExchangeID: resp.ExchangeOrderID,
		Message:          resp.Message,
	}, nil
}

// Modify changes quantity/price/trigger on a working order.
func (a *Adapter) Modify(ctx context.Context, session *domain.Session, brokerOrderID string, diff domain.ModifyDiff) (*domain.StatusResult, error) {
	payload := map[string]string{}
	if diff.Quantity != nil {
		payload["qty"] = fmt.Sprintf("%d", *diff.Quantity)
	}
	if diff.LimitPrice != nil {
		payload["prc"] = priceString(diff.LimitPrice)
	}
	if diff.TriggerPrice != nil {
		payload["trgprc"] = priceString(diff.TriggerPrice)
	}

	var resp placeOrderResponseBody
	path := fmt.Sprintf("/orders/%s/modify", brokerOrderID)
	if err := a.call(ctx, session, http.MethodPost, path, payload, &resp); err != nil {
		return nil, err
	}
	return &domain.StatusResult{Status: mapStatus(resp.Status), BrokerExchangeID: resp.ExchangeOrderID, Message: resp.Message}, nil
}

// Cancel withdraws a working order.
func (a *Adapter) Cancel(ctx context.Context, session *domain.Session, brokerOrderID string) (*domain.StatusResult, error) {
	var resp placeOrderResponseBody
	path := fmt.Sprintf("/orders/%s/cancel", brokerOrderID)
	if err := a.call(ctx, session, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return &domain.StatusResult{Status: mapStatus(resp.Status), BrokerExchangeID: resp.ExchangeOrderID, Message: resp.Message}, nil
}

// Positions returns the account's open positions.
func (a *Adapter) Positions(ctx context.Context, session *domain.Session, account string) ([]domain.PositionSnapshot, error) {
	var resp []domain.PositionSnapshot
	path := fmt.Sprintf("/accounts/%s/positions", account)
	if err := a.call(ctx, session, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Balance returns the account's available balance.
func (a *Adapter) Balance(ctx context.Context, session *domain.Session, account string) (*domain.BalanceSnapshot, error) {
	var resp domain.BalanceSnapshot
	path := fmt.Sprintf("/accounts/%s/balance", account)
	if err := a.call(ctx, session, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ping measures round-trip latency to the broker, unauthenticated.
func (a *Adapter) Ping(ctx context.Context) (*domain.PingResult, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/ping", nil)
	if err != nil {
		return nil, fmt.Errorf("build ping request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, a.classifyTransportError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return &domain.PingResult{Latency: time.Since(start)}, nil
}

func (a *Adapter) header(session *domain.Session) requestHeader {
	return requestHeader{
		RequestCode:  "PLACE_ORDER",
		APIKey:       a.identity.APIKey,
		AppVersion:   a.identity.AppVersion,
		AppName:      a.identity.AppName,
		ChannelName:  a.identity.ChannelName,
		BrokerUserID: session.Account,
		BrokerPasswd: session.Token,
	}
}

// call performs one HTTP round-trip and classifies the outcome into the
// adapter's error taxonomy: 401 invalidates the session and is surfaced
// as AuthTransientError so the dispatcher's session-retry path can
// re-authenticate and retry once; 429/5xx become TransientBrokerError;
// other 4xx become PermanentBrokerError; context deadline/I-O timeout
// become TimeoutError.
func (a *Adapter) call(ctx context.Context, session *domain.Session, method, path string, body, out interface{}) error {
	defer utils.OperationTimer(fmt.Sprintf("broker_call:%s", path), a.log)()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+session.Token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return a.classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		a.invalidate.Invalidate(session.Account)
		return &replerr.AuthTransientError{Cause: fmt.Errorf("broker session rejected (401)")}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &replerr.TransientBrokerError{StatusCode: resp.StatusCode, Message: string(raw)}
	case resp.StatusCode >= 400:
		return &replerr.PermanentBrokerError{StatusCode: resp.StatusCode, Message: string(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// classifyTransportError distinguishes a context-deadline/I-O timeout from
// any other transport failure, which is treated as transient (the broker
// endpoint is unreachable, not rejecting the request).
func (a *Adapter) classifyTransportError(err error) error {
	if isTimeout(err) {
		return &replerr.TimeoutError{Cause: err}
	}
	return &replerr.TransientBrokerError{StatusCode: 0, Message: err.Error()}
}

func isTimeout(err error) bool {
	type timeoutError interface{ Timeout() bool }
	var te timeoutError
	for u := err; u != nil; {
		if t, ok := u.(timeoutError); ok {
			te = t
			break
		}
		unwrapper, ok := u.(interface{ Unwrap() error })
		if !ok {
			break
		}
		u = unwrapper.Unwrap()
	}
	return te != nil && te.Timeout()
}

// mapStatus maps the broker's free-text status field to the canonical
// status set. Unrecognized values map to Unknown rather than failing the
// call, letting the reconciler resolve them later.
func mapStatus(raw string) domain.OrderStatus {
	switch raw {
	case "COMPLETE", "FILLED":
		return domain.StatusFilled
	case "PARTIAL", "PARTIALLY_FILLED":
		return domain.StatusPartiallyFilled
	case "OPEN", "PENDING", "TRIGGER_PENDING", "SUBMITTED":
		return domain.StatusSubmitted
	case "REJECTED":
		return domain.StatusRejected
	case "CANCELLED", "CANCELED":
		return domain.StatusCancelled
	default:
		return domain.StatusUnknown
	}
}

func priceString(p *float64) string {
	if p == nil {
		return "0"
	}
	return fmt.Sprintf("%.2f", *p)
}
