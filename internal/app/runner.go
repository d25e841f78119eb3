package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	clts "solwatch/clients"
	"solwatch/clients/notifier"
	"solwatch/clients/solanatracker"
	"solwatch/clients/trackerstream"
	"solwatch/config"

	"go.uber.org/zap"
)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

type Runner struct {
	clients      *clts.Clients
	cfg          *config.Config
	store        *WalletStore
	feed         *Feed
	stream       *trackerstream.Client
	statusServer *http.Server
	startTime    time.Time

	tradeCount atomic.Uint64
	alertCount atomic.Uint64

	liveMu   sync.Mutex
	seenLive map[string]struct{} // wallets with at least one live trade this run
}

// ServiceStatus is the /status payload.
type ServiceStatus struct {
	Build struct {
		Commit    string `json:"commit"`
		Time      string `json:"time,omitempty"`
		GoVersion string `json:"go_version"`
	} `json:"build"`

	StartTime string `json:"start_time"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`

	Stream struct {
		Connected              bool     `json:"connected"`
		MainSocketState        string   `json:"mainSocketState"`
		TransactionSocketState string   `json:"transactionSocketState"`
		SubscribedRooms        []string `json:"subscribedRooms"`
		Authenticated          bool     `json:"authenticated"`
		MessageCount           uint64   `json:"message_count"`
		LastMessageAt          string   `json:"last_message_at,omitempty"`
		LastMessageAgo         string   `json:"last_message_ago,omitempty"`
		SeenTransactions       int      `json:"seen_transactions"`
	} `json:"stream"`

	Wallets    int    `json:"wallets"`
	FeedSize   int    `json:"feed_size"`
	TradeCount uint64 `json:"trade_count"`
	AlertCount uint64 `json:"alert_count"`

	Notifications struct {
		DiscordEnabled  bool `json:"discord_enabled"`
		TelegramEnabled bool `json:"telegram_enabled"`
	} `json:"notifications"`

	Runtime struct {
		Goroutines int    `json:"goroutines"`
		HeapAlloc  uint64 `json:"heap_alloc"`
		NumGC      uint32 `json:"num_gc"`
		GoVersion  string `json:"go_version"`
	} `json:"runtime"`
}

func NewRunner(clients *clts.Clients, cfg *config.Config) *Runner {
	return &Runner{
		clients:  clients,
		cfg:      cfg,
		seenLive: make(map[string]struct{}),
	}
}

func (r *Runner) Run(ctx context.Context) error {
	r.startTime = time.Now()
	logger := r.clients.Logger
	cfg := r.cfg

	logger.Info("starting wallet watcher",
		zap.Int("feedMaxEntries", cfg.Feed.MaxEntries),
		zap.Bool("backfillOnAdd", cfg.Feed.BackfillOnAdd),
		zap.Float64("alertMinNotional", cfg.Alerts.MinNotional),
	)

	// Restore the watchlist from gist storage
	r.store = NewWalletStore(logger, r.clients.Gist, cfg.Wallets.FileName)
	loadCtx, loadCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := r.store.Load(loadCtx); err != nil {
		logger.Warn("failed to load watchlist from gist", zap.Error(err))
	}
	loadCancel()

	r.feed = NewFeed(logger, cfg.Feed.MaxEntries)
	r.feed.SetLabelResolver(r.store.Label)

	// Resolve the streaming endpoint, falling back to the static URL
	wsURL := cfg.Tracker.WSURL
	resolveCtx, resolveCancel := context.WithTimeout(ctx, 15*time.Second)
	if resolved, err := r.clients.Tracker.ResolveEndpoint(resolveCtx); err == nil {
		wsURL = resolved
	} else if !errors.Is(err, solanatracker.ErrNoResolver) {
		logger.Warn("endpoint resolution failed, using static url", zap.Error(err))
	}
	resolveCancel()

	r.stream = trackerstream.New(logger, trackerstream.Config{
		WSURL:               wsURL,
		APIKey:              cfg.Tracker.APIKey,
		ClientID:            cfg.Stream.ClientID,
		PingInterval:        cfg.Stream.PingInterval,
		BaseDelay:           cfg.Stream.ReconnectBaseDelay,
		MaxDelay:            cfg.Stream.ReconnectMaxDelay,
		RandomizationFactor: cfg.Stream.RandomizationFactor,
	})

	r.stream.SetFrameObserver(func(dir trackerstream.Direction, channel string, payload []byte) {
		logger.Debug("ws frame",
			zap.String("dir", string(dir)),
			zap.String("channel", channel),
			zap.Int("bytes", len(payload)),
		)
	})

	r.stream.On(trackerstream.AllTransactions, r.handleTrade)
	r.stream.On(trackerstream.RoomSubscribed, func(data json.RawMessage) {
		var room string
		if err := json.Unmarshal(data, &room); err == nil {
			logger.Debug("room subscribed", zap.String("room", room))
		}
	})

	if err := r.stream.Connect(); err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}

	// Subscribe to the rooms for every tracked wallet. Join intent is
	// recorded immediately; actual sends happen whenever sockets open.
	for _, addr := range r.store.Addresses() {
		r.stream.JoinRoom(walletRoom(addr))
	}

	// Seed the feed with recent history for each wallet
	if cfg.Feed.BackfillOnAdd {
		for _, addr := range r.store.Addresses() {
			r.backfillWallet(ctx, addr)
		}
	}

	if cfg.StatusServer.Enabled {
		r.startStatusServer(cfg.StatusServer.Port)
		logger.Info("status server started", zap.Int("port", cfg.StatusServer.Port))
	}

	logger.Info("wallet watcher started",
		zap.Int("wallets", r.store.Count()),
		zap.String("endpoint", wsURL),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	r.stream.Disconnect()

	if r.statusServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.statusServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown", zap.Error(err))
		}
		cancel()
	}

	return ctx.Err()
}

// AddWallet adds an address to the watchlist, joins its room, and seeds
// the feed with its recent history.
func (r *Runner) AddWallet(ctx context.Context, address, label string) (WatchedWallet, error) {
	entry, err := r.store.Add(ctx, address, label)
	if err != nil {
		return WatchedWallet{}, err
	}

	r.stream.JoinRoom(walletRoom(entry.Address))

	if r.cfg.Feed.BackfillOnAdd {
		r.backfillWallet(ctx, entry.Address)
	}

	r.clients.Logger.Info("wallet added",
		zap.String("wallet", shortID(entry.Address)),
		zap.String("label", entry.Label),
	)
	return entry, nil
}

// RemoveWallet drops an address from the watchlist and leaves its room.
func (r *Runner) RemoveWallet(ctx context.Context, address string) error {
	if err := r.store.Remove(ctx, address); err != nil {
		return err
	}

	r.stream.LeaveRoom(walletRoom(address))

	r.clients.Logger.Info("wallet removed", zap.String("wallet", shortID(address)))
	return nil
}

// handleTrade receives every live trade from any watched wallet room.
func (r *Runner) handleTrade(data json.RawMessage) {
	entry, ok := r.feed.AddRaw(data)
	if !ok {
		return
	}
	r.tradeCount.Add(1)

	reasons := []notifier.AlertReason{}
	if r.cfg.Alerts.MinNotional > 0 && entry.VolumeUSD >= r.cfg.Alerts.MinNotional {
		reasons = append(reasons, notifier.AlertReasonLargeTrade)
	}
	if r.markFirstLive(entry.Wallet) {
		reasons = append(reasons, notifier.AlertReasonFirstTrade)
	}

	r.clients.Logger.Debug("live trade",
		zap.String("tx", shortID(entry.Tx)),
		zap.String("wallet", shortID(entry.Wallet)),
		zap.String("side", entry.Side),
		zap.Float64("volumeUsd", entry.VolumeUSD),
	)

	// Only notify on large trades; first-trade is a decoration on those.
	if len(reasons) == 0 || reasons[0] != notifier.AlertReasonLargeTrade {
		return
	}

	r.alertCount.Add(1)
	r.clients.Notifier.SendTradeAlert(notifier.TradeAlert{
		Wallet:      entry.Wallet,
		WalletURL:   "https://solscan.io/account/" + entry.Wallet,
		Tx:          entry.Tx,
		Side:        entry.Side,
		TokenSymbol: entry.TokenSymbol,
		TokenName:   entry.TokenName,
		TokenMint:   entry.TokenMint,
		Amount:      entry.Amount,
		PriceUSD:    entry.PriceUSD,
		VolumeUSD:   entry.VolumeUSD,
		VolumeSol:   entry.VolumeSol,
		Program:     entry.Program,
		Reasons:     reasons,
		Timestamp:   entry.Time,
	})
}

// backfillWallet loads one page of historical trades so the feed is not
// empty while waiting for live activity.
func (r *Runner) backfillWallet(ctx context.Context, address string) {
	fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	page, err := r.clients.Tracker.GetWalletTrades(fetchCtx, address, 0)
	if err != nil {
		r.clients.Logger.Warn("backfill failed",
			zap.String("wallet", shortID(address)),
			zap.Error(err),
		)
		return
	}

	// Pages arrive newest first; push oldest first so the feed stays ordered.
	for i := len(page.Trades) - 1; i >= 0; i-- {
		r.feed.AddTrade(page.Trades[i], true)
	}

	r.clients.Logger.Info("backfilled wallet history",
		zap.String("wallet", shortID(address)),
		zap.Int("trades", len(page.Trades)),
	)
}

// markFirstLive records a live trade for the wallet and reports whether it
// was the first one this process has seen.
func (r *Runner) markFirstLive(wallet string) bool {
	if wallet == "" {
		return false
	}
	r.liveMu.Lock()
	defer r.liveMu.Unlock()
	if _, ok := r.seenLive[wallet]; ok {
		return false
	}
	r.seenLive[wallet] = struct{}{}
	return true
}

// GetStatus builds the /status payload.
func (r *Runner) GetStatus() ServiceStatus {
	var status ServiceStatus

	status.Build.Commit = BuildCommit
	status.Build.Time = BuildTime
	status.Build.GoVersion = runtime.Version()

	uptime := time.Since(r.startTime)
	status.StartTime = r.startTime.UTC().Format(time.RFC3339)
	status.Uptime = uptime.Round(time.Second).String()
	status.UptimeSec = int64(uptime.Seconds())

	if r.stream != nil {
		conn := r.stream.ConnectionStatus()
		stats := r.stream.Stats()
		status.Stream.Connected = conn.Connected
		status.Stream.MainSocketState = string(conn.MainSocketState)
		status.Stream.TransactionSocketState = string(conn.TransactionSocketState)
		status.Stream.SubscribedRooms = conn.SubscribedRooms
		status.Stream.Authenticated = conn.Authenticated
		status.Stream.MessageCount = stats.MessageCount
		status.Stream.SeenTransactions = r.stream.SeenTransactions()
		if !stats.LastMessageAt.IsZero() {
			status.Stream.LastMessageAt = stats.LastMessageAt.UTC().Format(time.RFC3339)
			status.Stream.LastMessageAgo = time.Since(stats.LastMessageAt).Round(time.Second).String()
		}
	}

	if r.store != nil {
		status.Wallets = r.store.Count()
	}
	if r.feed != nil {
		status.FeedSize = r.feed.Len()
	}
	status.TradeCount = r.tradeCount.Load()
	status.AlertCount = r.alertCount.Load()

	status.Notifications.DiscordEnabled = r.cfg.Discord.BotToken != ""
	status.Notifications.TelegramEnabled = r.cfg.Telegram.BotToken != ""

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	status.Runtime.Goroutines = runtime.NumGoroutine()
	status.Runtime.HeapAlloc = mem.HeapAlloc
	status.Runtime.NumGC = mem.NumGC
	status.Runtime.GoVersion = runtime.Version()

	return status
}

func walletRoom(address string) string {
	return "wallet:" + address
}
