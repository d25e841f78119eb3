package app

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"solwatch/clients/gist"

	"go.uber.org/zap"
)

var (
	// ErrWalletExists is returned by Add when the address is already tracked.
	ErrWalletExists = errors.New("wallet already tracked")

	// ErrWalletNotFound is returned by Remove for an unknown address.
	ErrWalletNotFound = errors.New("wallet not found")
)

// WatchedWallet is one entry in the watchlist.
type WatchedWallet struct {
	Address string    `json:"address"`
	Label   string    `json:"label,omitempty"`
	AddedAt time.Time `json:"addedAt"`
}

// WalletStore holds the set of watched wallet addresses and persists it
// to gist storage when available. Address uniqueness is case-insensitive
// but the original casing is preserved for display and room names.
type WalletStore struct {
	logger   *zap.Logger
	storage  gist.Storage
	fileName string

	mu      sync.RWMutex
	wallets map[string]WatchedWallet // keyed by lowercased address
}

func NewWalletStore(logger *zap.Logger, storage gist.Storage, fileName string) *WalletStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fileName == "" {
		fileName = "wallets.json"
	}

	return &WalletStore{
		logger:   logger,
		storage:  storage,
		fileName: fileName,
		wallets:  make(map[string]WatchedWallet),
	}
}

// Load restores the watchlist from gist storage. A disabled storage backend
// is not an error; the store simply starts empty.
func (ws *WalletStore) Load(ctx context.Context) error {
	if ws.storage == nil || !ws.storage.IsEnabled() {
		ws.logger.Info("wallet store persistence disabled, starting empty")
		return nil
	}

	var entries []WatchedWallet
	if err := ws.storage.LoadJSON(ctx, ws.fileName, &entries); err != nil {
		return err
	}

	ws.mu.Lock()
	ws.wallets = make(map[string]WatchedWallet, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Address) == "" {
			continue
		}
		ws.wallets[strings.ToLower(e.Address)] = e
	}
	count := len(ws.wallets)
	ws.mu.Unlock()

	ws.logger.Info("loaded wallet watchlist", zap.Int("wallets", count))
	return nil
}

// Add inserts a new wallet and persists the list. Returns ErrWalletExists
// when the address is already tracked (case-insensitive).
func (ws *WalletStore) Add(ctx context.Context, address, label string) (WatchedWallet, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return WatchedWallet{}, errors.New("empty wallet address")
	}

	key := strings.ToLower(address)

	ws.mu.Lock()
	if _, exists := ws.wallets[key]; exists {
		ws.mu.Unlock()
		return WatchedWallet{}, ErrWalletExists
	}
	entry := WatchedWallet{
		Address: address,
		Label:   label,
		AddedAt: time.Now().UTC(),
	}
	ws.wallets[key] = entry
	ws.mu.Unlock()

	if err := ws.persist(ctx); err != nil {
		ws.logger.Error("failed to persist watchlist after add",
			zap.String("wallet", shortID(address)),
			zap.Error(err),
		)
	}

	return entry, nil
}

// Remove deletes a wallet and persists the list.
func (ws *WalletStore) Remove(ctx context.Context, address string) error {
	key := strings.ToLower(strings.TrimSpace(address))

	ws.mu.Lock()
	if _, exists := ws.wallets[key]; !exists {
		ws.mu.Unlock()
		return ErrWalletNotFound
	}
	delete(ws.wallets, key)
	ws.mu.Unlock()

	if err := ws.persist(ctx); err != nil {
		ws.logger.Error("failed to persist watchlist after remove",
			zap.String("wallet", shortID(address)),
			zap.Error(err),
		)
	}

	return nil
}

// Contains reports whether the address is tracked (case-insensitive).
func (ws *WalletStore) Contains(address string) bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	_, exists := ws.wallets[strings.ToLower(strings.TrimSpace(address))]
	return exists
}

// Label returns the display name for an address, or "" when the address is
// unlabeled or not tracked.
func (ws *WalletStore) Label(address string) string {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.wallets[strings.ToLower(strings.TrimSpace(address))].Label
}

// List returns all entries, newest first.
func (ws *WalletStore) List() []WatchedWallet {
	ws.mu.RLock()
	entries := make([]WatchedWallet, 0, len(ws.wallets))
	for _, e := range ws.wallets {
		entries = append(entries, e)
	}
	ws.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].AddedAt.After(entries[j].AddedAt)
	})
	return entries
}

// Addresses returns the tracked addresses, newest first.
func (ws *WalletStore) Addresses() []string {
	entries := ws.List()
	addrs := make([]string, 0, len(entries))
	for _, e := range entries {
		addrs = append(addrs, e.Address)
	}
	return addrs
}

// Count returns the number of tracked wallets.
func (ws *WalletStore) Count() int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return len(ws.wallets)
}

func (ws *WalletStore) persist(ctx context.Context) error {
	if ws.storage == nil || !ws.storage.IsEnabled() {
		return nil
	}
	return ws.storage.SaveJSON(ctx, ws.fileName, ws.List())
}
