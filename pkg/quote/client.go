// Package quote fetches routed paths from the external routing service and
// normalizes them into the internal quote model, so the pipeline never
// depends on vendor-specific fields.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stablepay/pkg/types"
)

// Client talks to the routing service's quote endpoint.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	timeout     time.Duration
	slippageBps int
	log         *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-attempt quote timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithSlippageBps sets the slippage tolerance in basis points.
func WithSlippageBps(bps int) Option {
	return func(c *Client) { c.slippageBps = bps }
}

// NewClient creates a routing-service client.
func NewClient(baseURL, apiKey string, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		httpClient:  &http.Client{},
		timeout:     5 * time.Second,
		slippageBps: 100,
		log:         log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Wire shapes of the routing service. Only the best-ranked route's
// normalized fields are consumed.
type routesResponse struct {
	Routes []route `json:"routes"`
}

type route struct {
	FromAmount string      `json:"fromAmount"`
	ToAmount   string      `json:"toAmount"`
	GasCostUSD string      `json:"gasCostUSD"`
	Steps      []routeStep `json:"steps"`
}

type routeStep struct {
	Type     string `json:"type"`
	Estimate struct {
		ExecutionDuration float64 `json:"executionDuration"`
	} `json:"estimate"`
	TransactionRequest struct {
		To      string `json:"to"`
		Data    string `json:"data"`
		Value   string `json:"value"`
		ChainID int    `json:"chainId"`
	} `json:"transactionRequest"`
}

// GetQuote requests a routed path for the intent and returns the normalized
// quote. One transparent retry is applied before a transport or 5xx failure
// surfaces as ErrQuoteServiceUnavailable; an empty route list is
// ErrNoRouteFound. The sender is the connected wallet address.
func (c *Client) GetQuote(ctx context.Context, intent *types.PaymentIntent, sender string) (*types.Quote, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		quote, err := c.fetchQuote(ctx, intent, sender)
		if err == nil {
			return quote, nil
		}
		lastErr = err

		// Only transport-level failures get the retry; a routing verdict
		// (no route, rejected request) is final.
		if !isRetryable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, lastErr
		}
		c.log.Warn("quote attempt failed, retrying once", zap.Error(err))
	}
	return nil, lastErr
}

func isRetryable(err error) bool {
	return err != nil && strings.Contains(err.Error(), types.ErrQuoteServiceUnavailable.Error())
}

func (c *Client) fetchQuote(ctx context.Context, intent *types.PaymentIntent, sender string) (*types.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("fromChainId", strconv.Itoa(intent.SourceChain))
	params.Set("toChainId", strconv.Itoa(intent.DestinationChain))
	params.Set("fromTokenAddress", intent.SourceToken)
	params.Set("toTokenAddress", intent.DestinationToken)
	params.Set("fromAmount", intent.SourceAmount.String())
	params.Set("fromAddress", sender)
	params.Set("toAddress", intent.Recipient)
	params.Set("slippage", strconv.Itoa(c.slippageBps))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/quote?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A caller cancel mid-flight is not a service failure; surface it
		// unwrapped so it is never retried or misclassified.
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, context.Canceled
		}
		return nil, fmt.Errorf("%w: %v", types.ErrQuoteServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: service returned status %d", types.ErrQuoteServiceUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		// Try to extract the actual error message from the response
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr == nil && len(bodyBytes) > 0 {
			var errorResp map[string]interface{}
			if jsonErr := json.Unmarshal(bodyBytes, &errorResp); jsonErr == nil {
				if message, ok := errorResp["message"].(string); ok {
					return nil, fmt.Errorf("quote request rejected (status %d): %s", resp.StatusCode, message)
				}
			}
			return nil, fmt.Errorf("quote request rejected (status %d): %s", resp.StatusCode, string(bodyBytes))
		}
		return nil, fmt.Errorf("quote request rejected (status %d)", resp.StatusCode)
	}

	var routes routesResponse
	if err := json.NewDecoder(resp.Body).Decode(&routes); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", types.ErrQuoteServiceUnavailable, err)
	}

	if len(routes.Routes) == 0 {
		return nil, types.ErrNoRouteFound
	}

	return normalize(intent, routes.Routes[0])
}

// normalize converts the best-ranked vendor route into the internal model.
func normalize(intent *types.PaymentIntent, r route) (*types.Quote, error) {
	output, err := decimal.NewFromString(r.ToAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed output amount %q", types.ErrQuoteServiceUnavailable, r.ToAmount)
	}

	fee := decimal.Zero
	if r.GasCostUSD != "" {
		fee, err = decimal.NewFromString(r.GasCostUSD)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed fee estimate %q", types.ErrQuoteServiceUnavailable, r.GasCostUSD)
		}
	}

	var eta float64
	steps := make([]types.ExecutionStep, 0, len(r.Steps))
	for _, s := range r.Steps {
		steps = append(steps, types.ExecutionStep{
			Kind:     stepKind(s.Type),
			ChainID:  s.TransactionRequest.ChainID,
			To:       s.TransactionRequest.To,
			CallData: s.TransactionRequest.Data,
			Value:    normalizeValue(s.TransactionRequest.Value),
		})
		eta += s.Estimate.ExecutionDuration
	}

	if len(steps) == 0 {
		return nil, types.ErrNoRouteFound
	}

	return &types.Quote{
		IntentID:       intent.ID,
		ExpectedOutput: output,
		FeeUSD:         fee,
		ETA:            time.Duration(eta * float64(time.Second)),
		Steps:          steps,
		FetchedAt:      time.Now(),
	}, nil
}

func stepKind(vendorType string) types.StepKind {
	switch strings.ToLower(vendorType) {
	case "cross", "bridge":
		return types.StepBridge
	case "swap":
		return types.StepSwap
	default:
		return types.StepNativeTransfer
	}
}

// normalizeValue accepts both decimal and 0x-hex value encodings.
func normalizeValue(v string) string {
	if v == "" {
		return "0"
	}
	if strings.HasPrefix(v, "0x") {
		n, ok := new(big.Int).SetString(strings.TrimPrefix(v, "0x"), 16)
		if !ok {
			return "0"
		}
		return n.String()
	}
	return v
}
