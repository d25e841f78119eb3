package notifier

import (
	"time"
)

// AlertReason indicates why an alert was triggered.
type AlertReason string

const (
	AlertReasonLargeTrade   AlertReason = "large_trade"   // Notional above the configured threshold
	AlertReasonFirstTrade   AlertReason = "first_trade"   // First live trade seen for a watched wallet
	AlertReasonWalletAdded  AlertReason = "wallet_added"  // Wallet added to the watchlist
	AlertReasonWalletPruned AlertReason = "wallet_pruned" // Wallet removed from the watchlist
)

// TradeAlert contains all the data needed for a trade alert notification.
type TradeAlert struct {
	// Wallet info
	Wallet    string
	WalletURL string

	// Trade info
	Tx          string
	Side        string // BUY or SELL
	TokenSymbol string
	TokenName   string
	TokenMint   string
	Amount      float64
	PriceUSD    float64
	VolumeUSD   float64
	VolumeSol   float64
	Program     string

	// Alert metadata
	Reasons   []AlertReason
	Timestamp time.Time
}

// Notifier is the interface for sending trade alerts to various channels.
type Notifier interface {
	// SendTradeAlert sends a trade alert notification.
	SendTradeAlert(alert TradeAlert)

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier with the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	// Filter out nil notifiers
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

// SendTradeAlert sends the alert to all registered notifiers.
func (m *MultiNotifier) SendTradeAlert(alert TradeAlert) {
	for _, n := range m.notifiers {
		n.SendTradeAlert(alert)
	}
}

// Close closes all registered notifiers.
func (m *MultiNotifier) Close() error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}
