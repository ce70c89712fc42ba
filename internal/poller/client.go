package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/devblac/stackfeed/internal/config"
)

// Client talks to the block-explorer API. Every call is wrapped by the
// retry policy; an API key header is attached when configured.
type Client struct {
	base  string
	key   string
	http  *http.Client
	retry Retrier
}

func NewClient(cfg config.APIConfig, retry Retrier) *Client {
	return &Client{
		base:  cfg.BaseURL,
		key:   cfg.Key,
		http:  &http.Client{Timeout: 15 * time.Second},
		retry: retry,
	}
}

// TxSummary is one entry of the contract transaction list. The list
// endpoint does not embed full event detail.
type TxSummary struct {
	TxID        string `json:"tx_id"`
	BlockHeight uint64 `json:"block_height"`
	TxIndex     uint32 `json:"tx_index"`
	Status      string `json:"tx_status"`
}

type txListResponse struct {
	Results []TxSummary `json:"results"`
}

// TxEvent is one entry of a transaction's event log.
type TxEvent struct {
	EventIndex  int          `json:"event_index"`
	Type        string       `json:"event_type"`
	ContractLog *ContractLog `json:"contract_log,omitempty"`
}

// ContractLog carries the textual value representation the pull path
// must re-parse; the explorer does not pre-decode it.
type ContractLog struct {
	ContractID string `json:"contract_id"`
	Topic      string `json:"topic"`
	Value      struct {
		Repr string `json:"repr"`
	} `json:"value"`
}

// TxDetail is the full event log of one transaction.
type TxDetail struct {
	TxID        string    `json:"tx_id"`
	BlockHeight uint64    `json:"block_height"`
	TxIndex     uint32    `json:"tx_index"`
	Status      string    `json:"tx_status"`
	Events      []TxEvent `json:"events"`
}

type blockListResponse struct {
	Results []struct {
		Height uint64 `json:"height"`
	} `json:"results"`
}

// EventSmartContractLog is the pull-path category the poller understands.
const EventSmartContractLog = "smart_contract_log"

// ListTransactions fetches the contract's recent transactions.
func (c *Client) ListTransactions(ctx context.Context, contractID string, limit int) ([]TxSummary, error) {
	q := url.Values{}
	q.Set("contract", contractID)
	q.Set("limit", strconv.Itoa(limit))
	var out txListResponse
	if err := c.getJSON(ctx, "/transactions?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// GetTransaction fetches one transaction with its full event log.
func (c *Client) GetTransaction(ctx context.Context, txID string) (*TxDetail, error) {
	var out TxDetail
	if err := c.getJSON(ctx, "/tx/"+url.PathEscape(txID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CurrentHeight fetches the chain tip.
func (c *Client) CurrentHeight(ctx context.Context) (uint64, error) {
	var out blockListResponse
	if err := c.getJSON(ctx, "/blocks?limit=1", &out); err != nil {
		return 0, err
	}
	if len(out.Results) == 0 {
		return 0, fmt.Errorf("empty block list from %s", c.base)
	}
	return out.Results[0].Height, nil
}

// Ping checks upstream reachability for health reporting.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.CurrentHeight(ctx)
	return err
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	return c.retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.key != "" {
			req.Header.Set("x-api-key", c.key)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("get %s: %w", path, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &StatusError{Code: resp.StatusCode, URL: c.base + path}
		}
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	})
}
