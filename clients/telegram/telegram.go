package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"solwatch/clients/notifier"
	"solwatch/config"
	"strings"
	"time"

	"go.uber.org/zap"
)

const telegramAPIURL = "https://api.telegram.org/bot%s/%s"

// TelegramClient sends alerts to Telegram.
// Implements notifier.Notifier interface.
type TelegramClient struct {
	logger   *zap.Logger
	botToken string
	chatID   string
	isProd   bool
	client   *http.Client
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	chatID := cfg.Telegram.BetaChatID
	if cfg.IsProd {
		chatID = cfg.Telegram.ProdChatID
	}

	token := cfg.Telegram.BotToken
	if token == "" {
		logger.Warn("TELEGRAM_BOT_KEY not set, Telegram alerts disabled")
		return &TelegramClient{
			logger: logger,
			chatID: chatID,
			isProd: cfg.IsProd,
		}
	}

	logger.Info("telegram bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("chatID", chatID),
	)

	return &TelegramClient{
		logger:   logger,
		botToken: token,
		chatID:   chatID,
		isProd:   cfg.IsProd,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// SendTradeAlert sends a trade alert notification.
// Implements notifier.Notifier interface.
func (tc *TelegramClient) SendTradeAlert(alert notifier.TradeAlert) {
	if tc.botToken == "" || tc.chatID == "" {
		tc.logger.Warn("telegram not configured, skipping alert")
		return
	}

	message := tc.buildAlertMessage(alert)

	if err := tc.sendMessage(message); err != nil {
		tc.logger.Error("failed to send telegram message", zap.Error(err))
		return
	}

	tc.logger.Info("sent telegram trade alert",
		zap.String("wallet", alert.Wallet),
		zap.String("token", alert.TokenSymbol),
	)
}

func (tc *TelegramClient) buildAlertMessage(alert notifier.TradeAlert) string {
	var sb strings.Builder

	title := tc.buildAlertTitle(alert.Reasons)
	sb.WriteString(fmt.Sprintf("*%s*\n\n", escapeMarkdown(title)))

	// Token info
	tokenDisplay := alert.TokenSymbol
	if tokenDisplay == "" {
		tokenDisplay = shortAddress(alert.TokenMint)
	}
	if alert.TokenName != "" {
		tokenDisplay = fmt.Sprintf("%s (%s)", tokenDisplay, alert.TokenName)
	}
	sb.WriteString(fmt.Sprintf("*Token:* %s\n\n", escapeMarkdown(tokenDisplay)))

	// Wallet info
	walletDisplay := shortAddress(alert.Wallet)
	if alert.WalletURL != "" {
		sb.WriteString(fmt.Sprintf("*Wallet:* [%s](%s)\n", escapeMarkdown(walletDisplay), alert.WalletURL))
	} else {
		sb.WriteString(fmt.Sprintf("*Wallet:* %s\n", escapeMarkdown(walletDisplay)))
	}

	// Trade details
	sideEmoji := "🟢"
	if strings.ToUpper(alert.Side) == "SELL" {
		sideEmoji = "🔴"
	}
	sb.WriteString(fmt.Sprintf("*Side:* %s %s\n", sideEmoji, alert.Side))
	sb.WriteString(fmt.Sprintf("*Trade:* %.4f @ $%.6f\n", alert.Amount, alert.PriceUSD))
	if alert.VolumeSol > 0 {
		sb.WriteString(fmt.Sprintf("*Volume:* $%.2f (%.3f SOL)\n", alert.VolumeUSD, alert.VolumeSol))
	} else {
		sb.WriteString(fmt.Sprintf("*Volume:* $%.2f\n", alert.VolumeUSD))
	}
	if alert.Program != "" {
		sb.WriteString(fmt.Sprintf("*Program:* %s\n", escapeMarkdown(alert.Program)))
	}
	if alert.Tx != "" {
		sb.WriteString(fmt.Sprintf("*Signature:* [%s](https://solscan.io/tx/%s)\n",
			escapeMarkdown(shortAddress(alert.Tx)), alert.Tx))
	}

	// Timestamp
	pst, _ := time.LoadLocation("America/Los_Angeles")
	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	sb.WriteString(fmt.Sprintf("\n_solwatch • %s_", ts.In(pst).Format("1/2/2006, 3:04:05PM (MST)")))

	return sb.String()
}

func (tc *TelegramClient) buildAlertTitle(reasons []notifier.AlertReason) string {
	hasLargeTrade := false
	hasFirstTrade := false
	hasWalletAdded := false
	hasWalletPruned := false

	for _, r := range reasons {
		switch r {
		case notifier.AlertReasonLargeTrade:
			hasLargeTrade = true
		case notifier.AlertReasonFirstTrade:
			hasFirstTrade = true
		case notifier.AlertReasonWalletAdded:
			hasWalletAdded = true
		case notifier.AlertReasonWalletPruned:
			hasWalletPruned = true
		}
	}

	if hasLargeTrade && hasFirstTrade {
		return "🐋 Large First Trade From Watched Wallet"
	}
	if hasLargeTrade {
		return "🐋 Large Trade"
	}
	if hasFirstTrade {
		return "🆕 First Live Trade"
	}
	if hasWalletAdded {
		return "👀 Wallet Added To Watchlist"
	}
	if hasWalletPruned {
		return "🗑️ Wallet Removed From Watchlist"
	}
	return "🚨 Trade Alert"
}

func (tc *TelegramClient) sendMessage(text string) error {
	url := fmt.Sprintf(telegramAPIURL, tc.botToken, "sendMessage")

	payload := map[string]interface{}{
		"chat_id":    tc.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := tc.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// Close cleans up resources. Implements notifier.Notifier interface.
func (tc *TelegramClient) Close() error {
	return nil
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}

// escapeMarkdown escapes special characters for Telegram Markdown.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
