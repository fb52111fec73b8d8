// Package bridge tracks same-asset cross-chain transfers through the
// external burn/attest/mint settlement service. The protocol only exposes
// query endpoints, so tracking is poll-based; the pipeline owns the polling
// loop and its ceiling.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"stablepay/pkg/types"
)

const defaultTimeout = 10 * time.Second

// Leg is one side of a transfer: the burn on the source chain or the mint on
// the destination chain.
type Leg struct {
	TxHash string `json:"txHash"`
	Amount string `json:"amount"`
}

// Transfer is a snapshot of a cross-chain transfer's progress.
type Transfer struct {
	Status    types.TransferStatus `json:"status"`
	Sending   Leg                  `json:"sending"`
	Receiving Leg                  `json:"receiving"`
}

// Client queries the settlement service's status endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient creates a settlement-bridge client.
func NewClient(baseURL string, log *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        log,
	}
}

type statusResponse struct {
	Status    string `json:"status"`
	Sending   Leg    `json:"sending"`
	Receiving Leg    `json:"receiving"`
}

// TrackTransfer returns the current status of the transfer identified by its
// source-chain transaction hash. Transport failures surface as
// ErrNetworkError so the caller can keep polling.
func (c *Client) TrackTransfer(ctx context.Context, fromChain, toChain int, txHash string) (Transfer, error) {
	params := url.Values{}
	params.Set("fromChainId", strconv.Itoa(fromChain))
	params.Set("toChainId", strconv.Itoa(toChain))
	params.Set("txHash", txHash)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/transfers/status?"+params.Encode(), nil)
	if err != nil {
		return Transfer{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transfer{}, fmt.Errorf("%w: %v", types.ErrNetworkError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Transfer{}, fmt.Errorf("%w: bridge service returned status %d", types.ErrNetworkError, resp.StatusCode)
	}

	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Transfer{}, fmt.Errorf("%w: malformed bridge response: %v", types.ErrNetworkError, err)
	}

	return Transfer{
		Status:    c.mapStatus(sr.Status),
		Sending:   sr.Sending,
		Receiving: sr.Receiving,
	}, nil
}

// mapStatus normalizes the service's status strings. Unknown values are
// treated as still pending rather than failing the transfer.
func (c *Client) mapStatus(s string) types.TransferStatus {
	switch strings.ToUpper(s) {
	case "PENDING", "SENDING", "ATTESTING", "MINTING":
		return types.TransferPending
	case "DONE", "COMPLETED", "SUCCESS":
		return types.TransferDone
	case "FAILED", "REFUNDED":
		return types.TransferFailed
	case "PARTIAL":
		return types.TransferPartial
	default:
		c.log.Warn("unknown bridge transfer status", zap.String("status", s))
		return types.TransferPending
	}
}
