package solanatracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"solwatch/config"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// ErrNoResolver is returned by ResolveEndpoint when no resolver URL is
// configured; callers fall back to the static WS URL.
var ErrNoResolver = errors.New("solanatracker: no resolver url configured")

// Client talks to the Solana Tracker data API: historical wallet trades,
// per-wallet PnL, and resolution of the streaming endpoint.
type Client struct {
	logger      *zap.Logger
	httpClient  *http.Client
	baseURL     string
	resolverURL string
	apiKey      string
}

func NewClient(logger *zap.Logger, cfg *config.Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:     cfg.Tracker.DataAPIURL,
		resolverURL: cfg.Tracker.ResolverURL,
		apiKey:      cfg.Tracker.APIKey,
	}
}

// TokenInfo describes one side's token in a trade.
type TokenInfo struct {
	Name     string  `json:"name"`
	Symbol   string  `json:"symbol"`
	Image    string  `json:"image"`
	Decimals int     `json:"decimals"`
	Address  string  `json:"address,omitempty"`
	Amount   float64 `json:"amount,omitempty"`
}

// TradeLeg is one side (from/to) of a historical trade.
type TradeLeg struct {
	Address string    `json:"address"`
	Amount  float64   `json:"amount"`
	Token   TokenInfo `json:"token"`
}

// WalletTrade is one historical trade as returned by the trades endpoint.
type WalletTrade struct {
	Tx   string   `json:"tx"`
	From TradeLeg `json:"from"`
	To   TradeLeg `json:"to"`

	Price struct {
		USD float64 `json:"usd"`
		Sol string  `json:"sol"`
	} `json:"price"`

	Volume struct {
		USD float64 `json:"usd"`
		Sol float64 `json:"sol"`
	} `json:"volume"`

	Wallet  string `json:"wallet"`
	Program string `json:"program"`
	Time    int64  `json:"time"` // unix millis
}

// WalletTradesResponse is one page of a wallet's trade history.
type WalletTradesResponse struct {
	Trades      []WalletTrade `json:"trades"`
	NextCursor  int64         `json:"nextCursor"`
	HasNextPage bool          `json:"hasNextPage"`
}

// GetWalletTrades fetches one page of historical trades for a wallet.
// Pass cursor 0 for the first page.
func (c *Client) GetWalletTrades(ctx context.Context, address string, cursor int64) (*WalletTradesResponse, error) {
	u := fmt.Sprintf("%s/wallet/%s/trades", c.baseURL, url.PathEscape(address))
	if cursor > 0 {
		u += "?cursor=" + strconv.FormatInt(cursor, 10)
	}

	var resp WalletTradesResponse
	if err := c.doGet(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("wallet trades: %w", err)
	}

	c.logger.Debug("fetched wallet trades",
		zap.String("wallet", address),
		zap.Int("count", len(resp.Trades)),
		zap.Bool("hasNextPage", resp.HasNextPage),
	)
	return &resp, nil
}

// TokenPnL is the realized/unrealized breakdown for one token held by a wallet.
type TokenPnL struct {
	Holding          float64 `json:"holding"`
	Held             float64 `json:"held"`
	Sold             float64 `json:"sold"`
	Realized         float64 `json:"realized"`
	Unrealized       float64 `json:"unrealized"`
	Total            float64 `json:"total"`
	TotalSold        float64 `json:"total_sold"`
	TotalInvested    float64 `json:"total_invested"`
	AverageBuyAmount float64 `json:"average_buy_amount"`
	CurrentValue     float64 `json:"current_value"`
	CostBasis        float64 `json:"cost_basis"`
}

// PnLSummary aggregates a wallet's PnL across all tokens.
type PnLSummary struct {
	Realized         float64 `json:"realized"`
	Unrealized       float64 `json:"unrealized"`
	Total            float64 `json:"total"`
	TotalInvested    float64 `json:"totalInvested"`
	AverageBuyAmount float64 `json:"averageBuyAmount"`
	TotalWins        int     `json:"totalWins"`
	TotalLosses      int     `json:"totalLosses"`
	WinPercentage    float64 `json:"winPercentage"`
	LossPercentage   float64 `json:"lossPercentage"`
}

// WalletPnL is the PnL endpoint response.
type WalletPnL struct {
	Tokens  map[string]TokenPnL `json:"tokens"`
	Summary PnLSummary          `json:"summary"`
}

// GetWalletPnL fetches the profit/loss report for a wallet.
func (c *Client) GetWalletPnL(ctx context.Context, address string) (*WalletPnL, error) {
	u := fmt.Sprintf("%s/pnl/%s", c.baseURL, url.PathEscape(address))

	var resp WalletPnL
	if err := c.doGet(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("wallet pnl: %w", err)
	}
	return &resp, nil
}

// endpointResponse is what the resolver proxy returns for {"getWsUrl":true}.
type endpointResponse struct {
	WSURL string `json:"wsUrl"`
	Error string `json:"error"`
}

// ResolveEndpoint asks the resolver proxy for the authenticated streaming
// URL. Returns ErrNoResolver when no resolver is configured so the caller
// can fall back to the static URL.
func (c *Client) ResolveEndpoint(ctx context.Context) (string, error) {
	if c.resolverURL == "" {
		return "", ErrNoResolver
	}

	body, err := json.Marshal(map[string]bool{"getWsUrl": true})
	if err != nil {
		return "", fmt.Errorf("marshal resolver request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolverURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create resolver request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolver request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read resolver response: %w", err)
	}

	var ep endpointResponse
	if err := json.Unmarshal(raw, &ep); err != nil {
		return "", fmt.Errorf("decode resolver response: %w", err)
	}
	if ep.Error != "" {
		return "", fmt.Errorf("resolver error: %s", ep.Error)
	}
	if ep.WSURL == "" {
		return "", fmt.Errorf("resolver returned no wsUrl (status=%d)", resp.StatusCode)
	}

	c.logger.Info("resolved streaming endpoint", zap.String("wsUrl", ep.WSURL))
	return ep.WSURL, nil
}

func (c *Client) doGet(ctx context.Context, url string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}

	return nil
}
