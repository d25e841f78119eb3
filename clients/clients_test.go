package clients

import (
	"solwatch/config"
	"testing"

	"go.uber.org/zap"
)

func TestNewClients(t *testing.T) {
	cfg := &config.Config{
		Discord: config.DiscordConfig{
			BotToken:      "",
			ProdChannelID: "prod",
			BetaChannelID: "beta",
		},
		Tracker: config.TrackerConfig{
			DataAPIURL: "https://data.example.com",
		},
		Gist: config.GistConfig{
			Token:  "",
			GistID: "",
		},
	}

	logger := zap.NewNop()
	clients := NewClients(logger, cfg)

	if clients.Logger != logger {
		t.Error("unexpected logger")
	}
	if clients.Discord == nil {
		t.Error("expected Discord client to be set")
	}
	if clients.Telegram == nil {
		t.Error("expected Telegram client to be set")
	}
	if clients.Notifier == nil {
		t.Error("expected combined notifier to be set")
	}
	if clients.Tracker == nil {
		t.Error("expected Tracker client to be set")
	}
	if clients.Gist == nil {
		t.Error("expected Gist client to be set")
	}
}

func TestNewClients_NilLogger(t *testing.T) {
	cfg := &config.Config{
		Discord: config.DiscordConfig{},
		Tracker: config.TrackerConfig{
			DataAPIURL: "https://data.example.com",
		},
		Gist: config.GistConfig{},
	}

	clients := NewClients(nil, cfg)

	if clients.Logger != nil {
		t.Error("expected nil logger to remain nil")
	}
	// Other clients should still be initialized
	if clients.Discord == nil {
		t.Error("expected Discord client to be set")
	}
}
