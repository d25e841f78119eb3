package discord

import (
	"fmt"
	"solwatch/clients/notifier"
	"solwatch/config"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordClient sends alerts to Discord.
// Implements notifier.Notifier interface.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
	isProd    bool
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	channelID := cfg.Discord.BetaChannelID
	if cfg.IsProd {
		channelID = cfg.Discord.ProdChannelID
	}

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord alerts disabled")
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	logger.Info("discord bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("channelID", channelID),
	)

	return &DiscordClient{
		logger:    logger,
		session:   session,
		channelID: channelID,
		isProd:    cfg.IsProd,
	}
}

// SendMessage sends a plain text message.
func (dc *DiscordClient) SendMessage(message string) {
	if dc.session == nil {
		dc.logger.Warn("discord session not initialized, skipping message")
		return
	}

	_, err := dc.session.ChannelMessageSend(dc.channelID, message)
	if err != nil {
		dc.logger.Error("failed to send discord message", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord message")
}

// SendTradeAlert sends a rich embedded trade alert.
// Implements notifier.Notifier interface.
func (dc *DiscordClient) SendTradeAlert(alert notifier.TradeAlert) {
	if dc.session == nil {
		dc.logger.Warn("discord session not initialized, skipping alert")
		return
	}

	embed := dc.buildTradeEmbed(alert)

	_, err := dc.session.ChannelMessageSendEmbed(dc.channelID, embed)
	if err != nil {
		dc.logger.Error("failed to send discord embed", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord trade alert",
		zap.String("wallet", alert.Wallet),
		zap.String("token", alert.TokenSymbol),
	)
}

func (dc *DiscordClient) buildTradeEmbed(alert notifier.TradeAlert) *discordgo.MessageEmbed {
	// Choose color based on side
	color := 0x2ECC71 // Green for BUY
	sideEmoji := "🟢"
	if strings.ToUpper(alert.Side) == "SELL" {
		color = 0xE74C3C // Red for SELL
		sideEmoji = "🔴"
	}

	title := dc.buildAlertTitle(alert.Reasons)

	// Make wallet a clickable link when a URL is available
	walletDisplay := shortAddress(alert.Wallet)
	if alert.WalletURL != "" {
		walletDisplay = fmt.Sprintf("[%s](%s)", walletDisplay, alert.WalletURL)
	}

	tokenDisplay := alert.TokenSymbol
	if tokenDisplay == "" {
		tokenDisplay = shortAddress(alert.TokenMint)
	}
	if alert.TokenName != "" {
		tokenDisplay = fmt.Sprintf("%s (%s)", tokenDisplay, alert.TokenName)
	}

	tradeInfo := fmt.Sprintf("%.4f %s @ $%.6f", alert.Amount, alert.TokenSymbol, alert.PriceUSD)

	volumeStr := fmt.Sprintf("$%.2f", alert.VolumeUSD)
	if alert.VolumeSol > 0 {
		volumeStr = fmt.Sprintf("$%.2f (%.3f SOL)", alert.VolumeUSD, alert.VolumeSol)
	}

	fields := []*discordgo.MessageEmbedField{
		{
			Name:   "Wallet",
			Value:  walletDisplay,
			Inline: true,
		},
		{
			Name:   "Side",
			Value:  fmt.Sprintf("%s %s", sideEmoji, alert.Side),
			Inline: true,
		},
		{
			Name:   "Trade",
			Value:  tradeInfo,
			Inline: true,
		},
		{
			Name:   "Volume",
			Value:  volumeStr,
			Inline: true,
		},
	}
	if alert.Program != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Program",
			Value:  alert.Program,
			Inline: true,
		})
	}
	if alert.Tx != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Signature",
			Value:  fmt.Sprintf("[%s](https://solscan.io/tx/%s)", shortAddress(alert.Tx), alert.Tx),
			Inline: true,
		})
	}

	description := fmt.Sprintf("**%s**", tokenDisplay)

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	pst, _ := time.LoadLocation("America/Los_Angeles")
	footerText := fmt.Sprintf("solwatch * %s", ts.In(pst).Format("1/2/2006, 3:04:05PM (MST)"))

	return &discordgo.MessageEmbed{
		Title:       title,
		URL:         alert.WalletURL, // Makes title clickable
		Description: description,
		Color:       color,
		Fields:      fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: footerText,
		},
		Timestamp: ts.Format(time.RFC3339),
	}
}

func (dc *DiscordClient) buildAlertTitle(reasons []notifier.AlertReason) string {
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

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}

// Close closes the Discord session.
func (dc *DiscordClient) Close() error {
	if dc.session != nil {
		return dc.session.Close()
	}
	return nil
}
