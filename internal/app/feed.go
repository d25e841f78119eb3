package app

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"solwatch/clients/solanatracker"

	"go.uber.org/zap"
)

const defaultFeedSize = 100

// FeedEntry is one normalized trade in the live feed.
type FeedEntry struct {
	Tx          string    `json:"tx"`
	Wallet      string    `json:"wallet"`
	WalletLabel string    `json:"walletLabel,omitempty"`
	Side        string    `json:"side"` // BUY or SELL
	TokenSymbol string    `json:"tokenSymbol"`
	TokenName   string    `json:"tokenName,omitempty"`
	TokenMint   string    `json:"tokenMint,omitempty"`
	Amount      float64   `json:"amount"`
	PriceUSD    float64   `json:"priceUsd"`
	VolumeUSD   float64   `json:"volumeUsd"`
	VolumeSol   float64   `json:"volumeSol,omitempty"`
	Program     string    `json:"program,omitempty"`
	Time        time.Time `json:"time"`
	Historic    bool      `json:"historic,omitempty"`
}

// Feed keeps the most recent trades, newest first, capped at maxEntries.
type Feed struct {
	logger     *zap.Logger
	maxEntries int
	labelFor   func(address string) string

	mu      sync.RWMutex
	entries []FeedEntry
}

func NewFeed(logger *zap.Logger, maxEntries int) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxEntries <= 0 {
		maxEntries = defaultFeedSize
	}

	return &Feed{
		logger:     logger,
		maxEntries: maxEntries,
	}
}

// feedToken mirrors the token metadata shapes seen on the stream.
type feedToken struct {
	Name    string  `json:"name"`
	Symbol  string  `json:"symbol"`
	Address string  `json:"address"`
	Amount  float64 `json:"amount"`
}

// liveTrade covers both live frame shapes: tokens nested under "token"
// with amounts in top-level from/to legs, or full from/to legs carrying
// their own token objects. Volume may be a bare number or {usd, sol}.
type liveTrade struct {
	Tx      string   `json:"tx"`
	Type    string   `json:"type"`
	Wallet  string   `json:"wallet"`
	Wallets []string `json:"wallets"`
	Program string   `json:"program"`
	Time    int64    `json:"time"` // unix millis

	Token struct {
		From feedToken `json:"from"`
		To   feedToken `json:"to"`
	} `json:"token"`

	From struct {
		Amount float64   `json:"amount"`
		Token  feedToken `json:"token"`
	} `json:"from"`
	To struct {
		Amount float64   `json:"amount"`
		Token  feedToken `json:"token"`
	} `json:"to"`

	Price struct {
		USD float64 `json:"usd"`
	} `json:"price"`

	Volume json.RawMessage `json:"volume"`
}

// SetLabelResolver installs a lookup used to attach a display name to each
// entry's wallet. Set once at startup, before trades flow.
func (f *Feed) SetLabelResolver(fn func(address string) string) {
	f.labelFor = fn
}

// AddRaw parses a live trade payload and prepends it to the feed.
// Payloads missing a transaction id are dropped.
func (f *Feed) AddRaw(raw json.RawMessage) (FeedEntry, bool) {
	var lt liveTrade
	if err := json.Unmarshal(raw, &lt); err != nil {
		f.logger.Debug("unparseable trade payload", zap.Error(err))
		return FeedEntry{}, false
	}
	if lt.Tx == "" {
		return FeedEntry{}, false
	}

	entry := normalizeLiveTrade(lt)
	entry.WalletLabel = f.resolveLabel(entry.Wallet)
	f.push(entry)
	return entry, true
}

func (f *Feed) resolveLabel(address string) string {
	if f.labelFor == nil || address == "" {
		return ""
	}
	return f.labelFor(address)
}

// AddTrade converts a historical trade from the data API and prepends it.
func (f *Feed) AddTrade(t solanatracker.WalletTrade, historic bool) FeedEntry {
	side := "BUY"
	traded := t.To
	if isBaseCurrency(t.To.Token.Symbol) {
		// Selling a token for SOL/stables
		side = "SELL"
		traded = t.From
	}

	entry := FeedEntry{
		Tx:          t.Tx,
		Wallet:      t.Wallet,
		WalletLabel: f.resolveLabel(t.Wallet),
		Side:        side,
		TokenSymbol: traded.Token.Symbol,
		TokenName:   traded.Token.Name,
		TokenMint:   traded.Address,
		Amount:      traded.Amount,
		PriceUSD:    t.Price.USD,
		VolumeUSD:   t.Volume.USD,
		VolumeSol:   t.Volume.Sol,
		Program:     t.Program,
		Time:        time.UnixMilli(t.Time),
		Historic:    historic,
	}
	f.push(entry)
	return entry
}

// Entries returns a copy of the feed, newest first.
func (f *Feed) Entries() []FeedEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]FeedEntry, len(f.entries))
	copy(out, f.entries)
	return out
}

// Len returns the current number of feed entries.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

func (f *Feed) push(entry FeedEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries = append([]FeedEntry{entry}, f.entries...)
	if len(f.entries) > f.maxEntries {
		f.entries = f.entries[:f.maxEntries]
	}
}

func normalizeLiveTrade(lt liveTrade) FeedEntry {
	wallet := lt.Wallet
	if wallet == "" && len(lt.Wallets) > 0 {
		wallet = lt.Wallets[0]
	}

	side := strings.ToUpper(nz(lt.Type, "buy"))

	// Prefer the full from/to legs; fall back to the nested token object.
	fromTok := lt.From.Token
	toTok := lt.To.Token
	if fromTok.Symbol == "" && toTok.Symbol == "" {
		fromTok = lt.Token.From
		toTok = lt.Token.To
	}

	traded := toTok
	amount := lt.To.Amount
	if side == "SELL" || isBaseCurrency(toTok.Symbol) {
		traded = fromTok
		amount = lt.From.Amount
	}
	if amount == 0 {
		amount = traded.Amount
	}

	volUSD, volSol := parseVolume(lt.Volume)

	ts := time.Now()
	if lt.Time > 0 {
		ts = time.UnixMilli(lt.Time)
	}

	return FeedEntry{
		Tx:          lt.Tx,
		Wallet:      wallet,
		Side:        side,
		TokenSymbol: traded.Symbol,
		TokenName:   traded.Name,
		TokenMint:   traded.Address,
		Amount:      amount,
		PriceUSD:    lt.Price.USD,
		VolumeUSD:   volUSD,
		VolumeSol:   volSol,
		Program:     lt.Program,
		Time:        ts,
	}
}

// parseVolume handles both volume encodings: a bare USD number or an
// object with usd/sol fields.
func parseVolume(raw json.RawMessage) (usd, sol float64) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, 0
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, 0
	}

	var obj struct {
		USD float64 `json:"usd"`
		Sol float64 `json:"sol"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.USD, obj.Sol
	}

	return 0, 0
}

func isBaseCurrency(symbol string) bool {
	switch strings.ToUpper(symbol) {
	case "SOL", "WSOL", "USDC", "USDT":
		return true
	}
	return false
}
