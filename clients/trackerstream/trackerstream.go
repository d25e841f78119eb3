package trackerstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrNoEndpoint is returned by Connect when no WebSocket URL is configured.
var ErrNoEndpoint = errors.New("trackerstream: no websocket url configured")

// Config holds connection tuning for the stream client.
type Config struct {
	WSURL  string
	APIKey string

	// ClientID is sent in heartbeat frames. Defaults to "solana-tracker".
	ClientID string

	// PingInterval is the heartbeat period once both sockets are open.
	PingInterval time.Duration

	// Reconnect backoff shape: delay doubles from BaseDelay up to MaxDelay,
	// with RandomizationFactor jitter on top. Retries never stop.
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	RandomizationFactor float64
}

func (c *Config) applyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "solana-tracker"
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 4500 * time.Millisecond
	}
	if c.RandomizationFactor < 0 {
		c.RandomizationFactor = 0
	}
}

// Status is a point-in-time snapshot of the connection. Field names mirror
// what the status endpoint serves to the dashboard.
type Status struct {
	Connected              bool        `json:"connected"`
	MainSocketState        SocketState `json:"mainSocketState"`
	TransactionSocketState SocketState `json:"transactionSocketState"`
	SubscribedRooms        []string    `json:"subscribedRooms"`
	Authenticated          bool        `json:"authenticated"`
}

// Stats holds lightweight traffic counters.
type Stats struct {
	MessageCount  uint64
	LastMessageAt time.Time
}

type socket struct {
	label   string
	conn    *websocket.Conn
	writeMu sync.Mutex
	state   SocketState // guarded by Client.mu
}

// Client maintains two parallel WebSocket connections to the Solana Tracker
// stream, a main channel for price and token rooms and a transaction channel
// for wallet rooms, and multiplexes room subscriptions across them.
//
// All public operations are non-blocking with respect to network I/O; send
// failures are logged and absorbed, and the subscription registry keeps the
// caller's intent so it can be replayed after a reconnect.
type Client struct {
	logger *zap.Logger
	cfg    Config
	dialer *websocket.Dialer

	mu           sync.Mutex
	main         *socket
	transaction  *socket
	connected    bool
	wanted       bool // reconnect attempts still desired; cleared by Disconnect
	reconnecting bool
	dialing      bool
	pingStop     chan struct{}

	// Desired rooms in join order. Survives disconnects; cleared only by
	// Disconnect so reconnection restores exactly this set.
	roomOrder []string
	roomSet   map[string]struct{}

	bo *backoff.ExponentialBackOff

	dedup   *dedupCache
	emitter *emitter

	observer FrameObserver

	msgCount        uint64
	lastMsgUnixNano int64
}

// New creates a stream client. It does not connect; call Connect.
func New(logger *zap.Logger, cfg Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	return &Client{
		logger:  logger,
		cfg:     cfg,
		dialer:  websocket.DefaultDialer,
		roomSet: make(map[string]struct{}),
		bo:      newBackOff(cfg),
		dedup:   newDedupCache(),
		emitter: newEmitter(),
	}
}

// newBackOff builds the reconnect delay generator: doubling from BaseDelay
// up to MaxDelay with proportional jitter, and no attempt limit.
func newBackOff(cfg Config) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BaseDelay
	bo.MaxInterval = cfg.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = cfg.RandomizationFactor
	return bo
}

// SetFrameObserver registers a callback invoked for every frame sent or
// received on either socket. Replaces the debug panel's socket snooping;
// set before Connect.
func (c *Client) SetFrameObserver(fn FrameObserver) {
	c.mu.Lock()
	c.observer = fn
	c.mu.Unlock()
}

// Connect opens both sockets. It is a no-op when both are already live.
// Transport failures do not propagate: they hand off to the reconnect
// supervisor. The only error returned is a missing endpoint configuration.
func (c *Client) Connect() error {
	if c.cfg.WSURL == "" {
		return ErrNoEndpoint
	}

	c.mu.Lock()
	if c.main != nil && c.transaction != nil {
		c.mu.Unlock()
		c.logger.Debug("sockets already connected, skipping connect")
		return nil
	}
	c.wanted = true
	c.mu.Unlock()

	go c.dialPair()
	return nil
}

// Disconnect closes both sockets, cancels the heartbeat and any pending
// reconnect, and clears the subscription set and dedup cache. The client
// may be reused by calling Connect again.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.wanted = false
	c.connected = false
	main, tx := c.main, c.transaction
	c.main, c.transaction = nil, nil
	c.roomOrder = nil
	c.roomSet = make(map[string]struct{})
	stop := c.pingStop
	c.pingStop = nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	closeSocket(main)
	closeSocket(tx)
	c.dedup.clear()
	c.logger.Info("disconnected")
}

// JoinRoom records the room as desired and, when the owning socket is open,
// sends a join frame. The room is recorded regardless of socket state so the
// subscription is replayed on the next reconnect.
func (c *Client) JoinRoom(room string) {
	c.mu.Lock()
	if _, ok := c.roomSet[room]; !ok {
		c.roomSet[room] = struct{}{}
		c.roomOrder = append(c.roomOrder, room)
	}
	s := c.socketFor(room)
	open := s != nil && s.state == StateOpen
	c.mu.Unlock()

	if !open {
		c.logger.Info("socket not ready, room queued for reconnect",
			zap.String("room", room),
			zap.String("channel", channelFor(room)),
		)
		return
	}

	if err := c.sendJSON(s, controlFrame{Type: "join", Room: room}); err != nil {
		c.logger.Warn("join send failed, room stays queued",
			zap.String("room", room),
			zap.Error(err),
		)
		return
	}
	c.logger.Info("joined room",
		zap.String("room", room),
		zap.String("channel", s.label),
	)
}

// LeaveRoom removes the room from the desired set unconditionally and sends
// a leave frame if the owning socket is open.
func (c *Client) LeaveRoom(room string) {
	c.mu.Lock()
	if _, ok := c.roomSet[room]; ok {
		delete(c.roomSet, room)
		for i, r := range c.roomOrder {
			if r == room {
				c.roomOrder = append(c.roomOrder[:i:i], c.roomOrder[i+1:]...)
				break
			}
		}
	}
	s := c.socketFor(room)
	open := s != nil && s.state == StateOpen
	c.mu.Unlock()

	if open {
		if err := c.sendJSON(s, controlFrame{Type: "leave", Room: room}); err != nil {
			c.logger.Warn("leave send failed", zap.String("room", room), zap.Error(err))
		}
	}
	c.logger.Info("left room", zap.String("room", room))
}

// On registers a listener for a room (or one of the reserved rooms) and
// returns an id for removal. Listeners on one room fire in insertion order.
func (c *Client) On(room string, fn Handler) ListenerID {
	return c.emitter.on(room, fn)
}

// Off removes exactly the registration identified by id; other listeners on
// the same room are unaffected.
func (c *Client) Off(room string, id ListenerID) {
	c.emitter.off(room, id)
}

// RemoveAllListeners drops every registration, used when a caller rewires
// its subscriptions from scratch.
func (c *Client) RemoveAllListeners() {
	c.emitter.removeAll()
}

// ConnectionStatus returns a snapshot of the connection without blocking or
// mutating state.
func (c *Client) ConnectionStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	rooms := make([]string, len(c.roomOrder))
	copy(rooms, c.roomOrder)

	return Status{
		Connected:              c.connected,
		MainSocketState:        socketState(c.main),
		TransactionSocketState: socketState(c.transaction),
		SubscribedRooms:        rooms,
		Authenticated:          c.cfg.APIKey != "",
	}
}

// Stats returns traffic counters for the status endpoint.
func (c *Client) Stats() Stats {
	n := atomic.LoadUint64(&c.msgCount)
	ns := atomic.LoadInt64(&c.lastMsgUnixNano)

	var t time.Time
	if ns > 0 {
		t = time.Unix(0, ns)
	}
	return Stats{MessageCount: n, LastMessageAt: t}
}

// SeenTransactions reports the current dedup cache size.
func (c *Client) SeenTransactions() int {
	return c.dedup.size()
}

// channelFor selects the physical socket for a room purely from its name, so
// routing is identical at join time and at resubscription after a reconnect.
func channelFor(room string) string {
	if strings.HasPrefix(room, "wallet:") || strings.Contains(room, "transaction") {
		return ChannelTransaction
	}
	return ChannelMain
}

// socketFor must be called with c.mu held.
func (c *Client) socketFor(room string) *socket {
	if channelFor(room) == ChannelTransaction {
		return c.transaction
	}
	return c.main
}

func socketState(s *socket) SocketState {
	if s == nil {
		return StateClosed
	}
	return s.state
}

func closeSocket(s *socket) {
	if s == nil || s.conn == nil {
		return
	}
	_ = s.conn.Close()
}

func (c *Client) authenticatedURL() string {
	if c.cfg.APIKey == "" {
		return c.cfg.WSURL
	}
	return fmt.Sprintf("%s?api_key=%s", c.cfg.WSURL, c.cfg.APIKey)
}

// dialPair opens both sockets together. The pair is all-or-nothing: if the
// second dial fails the first is closed and the supervisor schedules a retry.
// Concurrent invocations (Connect racing the backoff timer) collapse to one.
func (c *Client) dialPair() {
	c.mu.Lock()
	if c.dialing {
		c.mu.Unlock()
		return
	}
	c.dialing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.dialing = false
		c.mu.Unlock()
	}()

	u := c.authenticatedURL()

	mainConn, _, err := c.dialer.Dial(u, nil)
	if err != nil {
		c.logger.Warn("main socket dial failed", zap.Error(err))
		c.scheduleReconnect()
		return
	}

	txConn, _, err := c.dialer.Dial(u, nil)
	if err != nil {
		_ = mainConn.Close()
		c.logger.Warn("transaction socket dial failed", zap.Error(err))
		c.scheduleReconnect()
		return
	}

	mainSock := &socket{label: ChannelMain, conn: mainConn, state: StateOpen}
	txSock := &socket{label: ChannelTransaction, conn: txConn, state: StateOpen}

	c.mu.Lock()
	if !c.wanted {
		// Disconnect raced the dial; drop the fresh pair.
		c.mu.Unlock()
		_ = mainConn.Close()
		_ = txConn.Close()
		return
	}
	c.main = mainSock
	c.transaction = txSock
	c.connected = true
	c.bo = newBackOff(c.cfg) // attempt counter resets on a successful open
	c.mu.Unlock()

	c.logger.Info("both sockets connected", zap.String("url", c.cfg.WSURL))

	// The server expects a heartbeat right after open.
	c.sendHeartbeat(mainSock, "ping")
	c.sendHeartbeat(txSock, "ping")

	go c.readLoop(mainSock)
	go c.readLoop(txSock)

	c.resubscribe()
}

// resubscribe replays every desired room on its channel, then (re)starts the
// heartbeat. It only proceeds once both sockets are open; re-joining an
// already-joined room is safe upstream.
func (c *Client) resubscribe() {
	c.mu.Lock()
	main, tx := c.main, c.transaction
	bothOpen := main != nil && main.state == StateOpen &&
		tx != nil && tx.state == StateOpen
	rooms := make([]string, len(c.roomOrder))
	copy(rooms, c.roomOrder)
	c.mu.Unlock()

	if !bothOpen {
		c.logger.Warn("cannot resubscribe, sockets not ready",
			zap.String("mainState", string(socketState(main))),
			zap.String("transactionState", string(socketState(tx))),
		)
		return
	}

	c.logger.Info("resubscribing to rooms", zap.Int("count", len(rooms)))
	for _, room := range rooms {
		s := main
		if channelFor(room) == ChannelTransaction {
			s = tx
		}
		if err := c.sendJSON(s, controlFrame{Type: "join", Room: room}); err != nil {
			c.logger.Warn("resubscribe send failed", zap.String("room", room), zap.Error(err))
		}
	}

	c.startHeartbeat()
}

func (c *Client) startHeartbeat() {
	c.mu.Lock()
	if c.pingStop != nil {
		close(c.pingStop)
	}
	stop := make(chan struct{})
	c.pingStop = stop
	interval := c.cfg.PingInterval
	c.mu.Unlock()

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				c.mu.Lock()
				main, tx := c.main, c.transaction
				c.mu.Unlock()
				if main != nil && main.state == StateOpen {
					c.sendHeartbeat(main, "ping")
				}
				if tx != nil && tx.state == StateOpen {
					c.sendHeartbeat(tx, "ping")
				}
			}
		}
	}()
}

func (c *Client) sendHeartbeat(s *socket, kind string) {
	if err := c.sendJSON(s, newHeartbeat(kind, c.cfg.ClientID)); err != nil {
		c.logger.Warn("heartbeat send failed",
			zap.String("channel", s.label),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}

func (c *Client) sendJSON(s *socket, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	c.observe(DirectionOutbound, s.label, payload)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) observe(dir Direction, channel string, payload []byte) {
	c.mu.Lock()
	fn := c.observer
	c.mu.Unlock()
	if fn != nil {
		fn(dir, channel, payload)
	}
}

func (c *Client) readLoop(s *socket) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			c.handleSocketDown(s, err)
			return
		}

		atomic.AddUint64(&c.msgCount, 1)
		atomic.StoreInt64(&c.lastMsgUnixNano, time.Now().UnixNano())

		c.observe(DirectionInbound, s.label, data)
		c.handleFrame(s, data)
	}
}

// handleSocketDown marks the failed socket closed and hands the pair to the
// reconnect supervisor. Stale sockets from a previous generation are ignored.
func (c *Client) handleSocketDown(s *socket, err error) {
	c.mu.Lock()
	current := (s.label == ChannelMain && c.main == s) ||
		(s.label == ChannelTransaction && c.transaction == s)
	if !current {
		c.mu.Unlock()
		return
	}

	s.state = StateClosed
	if s.label == ChannelMain {
		c.main = nil
	} else {
		c.transaction = nil
	}
	c.connected = false
	bothDown := c.main == nil && c.transaction == nil
	var stop chan struct{}
	if bothDown && c.pingStop != nil {
		stop = c.pingStop
		c.pingStop = nil
	}
	wanted := c.wanted
	c.mu.Unlock()

	_ = s.conn.Close()
	if stop != nil {
		close(stop)
	}

	if !wanted {
		return
	}
	c.logger.Warn("socket disconnected",
		zap.String("channel", s.label),
		zap.Error(err),
	)
	c.scheduleReconnect()
}

// scheduleReconnect arms a single backoff timer. The delay doubles per
// attempt up to the cap, plus jitter; the counter resets when a dial pair
// succeeds. Retries continue until Disconnect; the stream never gives up.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if !c.wanted || c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	delay := c.bo.NextBackOff()
	c.mu.Unlock()

	c.logger.Info("scheduling reconnect", zap.Duration("delay", delay))

	time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnecting = false
		if !c.wanted {
			c.mu.Unlock()
			return
		}
		// Drop any surviving half of the old pair; the pair reconnects
		// together so resubscription sees both sockets open at once.
		main, tx := c.main, c.transaction
		c.main, c.transaction = nil, nil
		c.connected = false
		c.mu.Unlock()

		closeSocket(main)
		closeSocket(tx)
		c.dialPair()
	})
}

// handleFrame classifies one inbound frame. Unparseable or unrecognized
// payloads are logged and dropped; the upstream protocol is loose enough
// that crashing on a surprise shape is never the right move.
func (c *Client) handleFrame(s *socket, data []byte) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Warn("dropping unparseable frame",
			zap.String("channel", s.label),
			zap.Error(err),
		)
		return
	}

	switch {
	case f.Type == "system" || f.Event == "subscribed" || f.Type == "joined":
		room := f.dataRoom()
		c.logger.Debug("subscription acknowledged",
			zap.String("channel", s.label),
			zap.String("room", room),
		)
		if room != "" {
			quoted, _ := json.Marshal(room)
			c.emitter.emit(RoomSubscribed, quoted)
		}

	case f.Type == "ping":
		c.sendHeartbeat(s, "pong")

	case f.Type == "pong":
		// Implicit liveness signal.

	case f.Type == "message" || f.Room != "":
		c.dispatchData(f.Room, f.Data)

	default:
		c.logger.Debug("dropping unrecognized frame",
			zap.String("channel", s.label),
			zap.String("type", f.Type),
		)
	}
}

// dispatchData runs the dedup filter and fans the payload out: the literal
// room, the all-transactions catch-all for wallet rooms, and a per-token
// price room for price feeds.
func (c *Client) dispatchData(room string, data json.RawMessage) {
	var meta tradeMeta
	_ = json.Unmarshal(data, &meta)

	if meta.Tx != "" && !c.dedup.add(meta.Tx) {
		c.logger.Debug("skipping duplicate transaction", zap.String("tx", meta.Tx))
		return
	}

	if room == "" {
		return
	}

	c.emitter.emit(room, data)

	if strings.HasPrefix(room, "wallet:") {
		c.emitter.emit(AllTransactions, data)
	}
	if strings.Contains(room, "price:") && meta.Token != "" {
		c.emitter.emit("price-by-token:"+meta.Token, data)
	}
}
