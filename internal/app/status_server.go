package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket upgrader for real-time status
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// statusMux builds the HTTP routes for the status server. Split out from
// startStatusServer so tests can drive it through httptest.
func (r *Runner) statusMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// JSON status endpoint
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(r.GetStatus())
	})

	// Live feed, newest first
	mux.HandleFunc("/feed", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(r.feed.Entries())
	})

	// Watchlist management
	mux.HandleFunc("/wallets", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(r.store.List())

		case http.MethodPost:
			var body struct {
				Address string `json:"address"`
				Label   string `json:"label"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
			entry, err := r.AddWallet(req.Context(), body.Address, body.Label)
			if err != nil {
				if errors.Is(err, ErrWalletExists) {
					http.Error(w, err.Error(), http.StatusConflict)
					return
				}
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(entry)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/wallets/", func(w http.ResponseWriter, req *http.Request) {
		rest := strings.TrimPrefix(req.URL.Path, "/wallets/")

		switch {
		case req.Method == http.MethodGet && strings.HasSuffix(rest, "/pnl"):
			address := strings.TrimSuffix(rest, "/pnl")
			if address == "" {
				http.Error(w, "missing wallet address", http.StatusBadRequest)
				return
			}
			pnl, err := r.clients.Tracker.GetWalletPnL(req.Context(), address)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(pnl)

		case req.Method == http.MethodDelete:
			if rest == "" {
				http.Error(w, "missing wallet address", http.StatusBadRequest)
				return
			}
			if err := r.RemoveWallet(req.Context(), rest); err != nil {
				if errors.Is(err, ErrWalletNotFound) {
					http.Error(w, err.Error(), http.StatusNotFound)
					return
				}
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// WebSocket endpoint for real-time status
	mux.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, req, nil)
		if err != nil {
			r.clients.Logger.Error("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			if err := conn.WriteJSON(r.GetStatus()); err != nil {
				return // Client disconnected
			}
		}
	})

	// HTML dashboard
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(dashboardHTML))
	})

	return mux
}

// startStatusServer starts the HTTP server for health checks and status.
func (r *Runner) startStatusServer(port int) {
	r.statusServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r.statusMux(),
	}

	go func() {
		if err := r.statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.clients.Logger.Error("status server error", zap.Error(err))
		}
	}()
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>solwatch</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', monospace; background: #0d1117; color: #c9d1d9; padding: 20px; }
        h1 { color: #58a6ff; font-size: 22px; }
        h2 { color: #8b949e; font-size: 13px; text-transform: uppercase; margin: 18px 0 8px; }
        table { border-collapse: collapse; width: 100%; }
        td, th { border-bottom: 1px solid #21262d; padding: 6px 8px; text-align: left; font-size: 13px; }
        .buy { color: #3fb950; }
        .sell { color: #f85149; }
        .dot { display: inline-block; width: 10px; height: 10px; border-radius: 50%; margin-right: 6px; }
        .on { background: #3fb950; }
        .off { background: #f85149; }
    </style>
</head>
<body>
    <h1>solwatch</h1>
    <p><span id="conn" class="dot off"></span><span id="connText">connecting…</span></p>
    <h2>Live Feed</h2>
    <table id="feed"><tr><th>Time</th><th>Wallet</th><th>Side</th><th>Token</th><th>Volume</th></tr></table>
    <script>
        const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
        const ws = new WebSocket(proto + '//' + location.host + '/ws');
        ws.onmessage = () => refresh();
        async function refresh() {
            const status = await (await fetch('/status')).json();
            const dot = document.getElementById('conn');
            dot.className = 'dot ' + (status.stream.connected ? 'on' : 'off');
            document.getElementById('connText').textContent = status.stream.connected
                ? 'connected (' + status.wallets + ' wallets, ' + status.stream.message_count + ' messages)'
                : 'disconnected';
            const feed = await (await fetch('/feed')).json();
            const table = document.getElementById('feed');
            while (table.rows.length > 1) table.deleteRow(1);
            for (const e of feed.slice(0, 50)) {
                const row = table.insertRow();
                row.insertCell().textContent = new Date(e.time).toLocaleTimeString();
                row.insertCell().textContent = e.walletLabel || e.wallet.slice(0, 8) + '…';
                const side = row.insertCell();
                side.textContent = e.side;
                side.className = e.side === 'BUY' ? 'buy' : 'sell';
                row.insertCell().textContent = e.tokenSymbol || e.tokenMint;
                row.insertCell().textContent = '$' + (e.volumeUsd || 0).toFixed(2);
            }
        }
        refresh();
        setInterval(refresh, 5000);
    </script>
</body>
</html>`
