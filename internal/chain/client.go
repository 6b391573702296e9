package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// DefaultMaxBlockAge is how old the latest block may be before the node
// is considered stale even when it reports catching_up false.
const DefaultMaxBlockAge = 60 * time.Second

type Config struct {
	StatusURL        string
	TestnetStatusURL string
	ChainID          string
	Timeout          time.Duration
}

// UpstreamUnavailable marks a network-level failure reaching the chain
// RPC endpoint. The orchestrator decides whether to retry.
type UpstreamUnavailable struct {
	Endpoint string
	Err      error
}

func (e *UpstreamUnavailable) Error() string {
	return fmt.Sprintf("chain: endpoint %s unavailable: %v", e.Endpoint, e.Err)
}

func (e *UpstreamUnavailable) Unwrap() error { return e.Err }

// InvalidResponse marks a malformed status payload. Retrying cannot fix
// it, so it is never classified transient.
type InvalidResponse struct {
	Endpoint string
	Reason   string
}

func (e *InvalidResponse) Error() string {
	return fmt.Sprintf("chain: invalid response from %s: %s", e.Endpoint, e.Reason)
}

// Status is a point-in-time view of the chain node. Replaced per poll,
// never mutated in place.
type Status struct {
	SyncHeight      int64     `json:"sync_height"`
	CatchingUp      bool      `json:"catching_up"`
	LatestBlockTime time.Time `json:"latest_block_time"`
	CheckedAt       time.Time `json:"checked_at"`
}

// Stale reports whether the node's latest block is older than maxAge at
// the time the status was taken.
func (s Status) Stale(maxAge time.Duration) bool {
	return s.CheckedAt.Sub(s.LatestBlockTime) > maxAge
}

// Synced reports whether the node can serve the provider: caught up and
// producing blocks within maxAge.
func (s Status) Synced(maxAge time.Duration) bool {
	return !s.CatchingUp && !s.Stale(maxAge)
}

type Client struct {
	config     Config
	httpClient *http.Client
}

func NewClient(config Config) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// EndpointFor returns the status URL for the given chain id, falling
// back to the testnet endpoint for anything but the configured mainnet.
func (c *Client) EndpointFor(chainID string) string {
	if chainID == "" || chainID == c.config.ChainID {
		return c.config.StatusURL
	}
	return c.config.TestnetStatusURL
}

// statusResponse mirrors the Tendermint RPC /status payload. Heights
// come back as decimal strings.
type statusResponse struct {
	Result struct {
		SyncInfo struct {
			LatestBlockHeight string    `json:"latest_block_height"`
			LatestBlockTime   time.Time `json:"latest_block_time"`
			CatchingUp        bool      `json:"catching_up"`
		} `json:"sync_info"`
	} `json:"result"`
}

// Fetch produces a fresh Status from the endpoint. It never caches; each
// call is an independent probe.
func (c *Client) Fetch(ctx context.Context, endpoint string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Status{}, &UpstreamUnavailable{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{}, &UpstreamUnavailable{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Status{}, &UpstreamUnavailable{Endpoint: endpoint, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return Status{}, &UpstreamUnavailable{
			Endpoint: endpoint,
			Err:      fmt.Errorf("unexpected status code %d", resp.StatusCode),
		}
	}

	var payload statusResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Status{}, &InvalidResponse{Endpoint: endpoint, Reason: err.Error()}
	}

	if payload.Result.SyncInfo.LatestBlockHeight == "" {
		return Status{}, &InvalidResponse{Endpoint: endpoint, Reason: "missing sync_info.latest_block_height"}
	}
	height, err := strconv.ParseInt(payload.Result.SyncInfo.LatestBlockHeight, 10, 64)
	if err != nil {
		return Status{}, &InvalidResponse{
			Endpoint: endpoint,
			Reason:   fmt.Sprintf("non-numeric block height %q", payload.Result.SyncInfo.LatestBlockHeight),
		}
	}

	return Status{
		SyncHeight:      height,
		CatchingUp:      payload.Result.SyncInfo.CatchingUp,
		LatestBlockTime: payload.Result.SyncInfo.LatestBlockTime,
		CheckedAt:       time.Now().UTC(),
	}, nil
}
