package clients

import (
	"solwatch/clients/discord"
	"solwatch/clients/gist"
	"solwatch/clients/notifier"
	"solwatch/clients/solanatracker"
	"solwatch/clients/telegram"
	"solwatch/config"

	"go.uber.org/zap"
)

type Clients struct {
	Logger *zap.Logger

	Discord  *discord.DiscordClient
	Telegram *telegram.TelegramClient
	Notifier notifier.Notifier // Combined notifier for all channels
	Tracker  *solanatracker.Client
	Gist     *gist.Client
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	discordClient := discord.NewDiscordClient(logger, cfg)
	telegramClient := telegram.NewTelegramClient(logger, cfg)

	// Create combined notifier for all channels
	multiNotifier := notifier.NewMultiNotifier(discordClient, telegramClient)

	return &Clients{
		Logger:   logger,
		Discord:  discordClient,
		Telegram: telegramClient,
		Notifier: multiNotifier,
		Tracker:  solanatracker.NewClient(logger, cfg),
		Gist:     gist.NewClient(logger, cfg),
	}
}
