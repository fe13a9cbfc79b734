// Package verify looks up on-chain facts about a pool address for the
// operator-facing "verify in blockchain" view. Lookups are read-only and
// never write back to pool state.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/coinharbor/addrpool/internal/config"
)

// AddressSummary is the display-side view of an address's chain activity.
type AddressSummary struct {
	Address        string `json:"address"`
	TxCount        int64  `json:"tx_count"`
	FundedSats     int64  `json:"funded_sats"`
	SpentSats      int64  `json:"spent_sats"`
	BalanceSats    int64  `json:"balance_sats"`
	UnconfirmedTxs int64  `json:"unconfirmed_txs"`
}

// Client fetches address summaries from the configured chain index.
type Client interface {
	GetAddressSummary(ctx context.Context, address string) (*AddressSummary, error)
}

// EsploraClient implements Client against an esplora-compatible HTTP API.
type EsploraClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewEsploraClient creates a new esplora-backed verification client
func NewEsploraClient(cfg config.VerifyConfig, logger *zap.Logger) *EsploraClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EsploraClient{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// esploraAddress mirrors the esplora /address/:addr response shape.
type esploraAddress struct {
	Address    string `json:"address"`
	ChainStats struct {
		FundedTxoSum int64 `json:"funded_txo_sum"`
		SpentTxoSum  int64 `json:"spent_txo_sum"`
		TxCount      int64 `json:"tx_count"`
	} `json:"chain_stats"`
	MempoolStats struct {
		TxCount int64 `json:"tx_count"`
	} `json:"mempool_stats"`
}

// GetAddressSummary fetches the confirmed and mempool activity of an address.
func (c *EsploraClient) GetAddressSummary(ctx context.Context, address string) (*AddressSummary, error) {
	endpoint := fmt.Sprintf("%s/address/%s", c.baseURL, url.PathEscape(address))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build verification request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verification lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verification lookup returned status %d", resp.StatusCode)
	}

	var payload esploraAddress
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode verification response: %w", err)
	}

	c.logger.Debug("fetched address summary",
		zap.String("address", address),
		zap.Int64("tx_count", payload.ChainStats.TxCount),
	)

	return &AddressSummary{
		Address:        address,
		TxCount:        payload.ChainStats.TxCount,
		FundedSats:     payload.ChainStats.FundedTxoSum,
		SpentSats:      payload.ChainStats.SpentTxoSum,
		BalanceSats:    payload.ChainStats.FundedTxoSum - payload.ChainStats.SpentTxoSum,
		UnconfirmedTxs: payload.MempoolStats.TxCount,
	}, nil
}
