package trackerstream

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsServer is a mock stream endpoint. The client dials it twice, once per
// channel, so conns[0] is the main socket and conns[1] the transaction
// socket (dials are sequential).
type wsServer struct {
	t   *testing.T
	srv *httptest.Server

	mu    sync.Mutex
	conns []*serverConn
}

type serverConn struct {
	conn  *websocket.Conn
	query url.Values

	mu     sync.Mutex
	frames []map[string]any
}

func newWSServer(t *testing.T) *wsServer {
	s := &wsServer{t: t}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		sc := &serverConn{conn: conn, query: r.URL.Query()}
		s.mu.Lock()
		s.conns = append(s.conns, sc)
		s.mu.Unlock()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			if json.Unmarshal(msg, &m) == nil {
				sc.mu.Lock()
				sc.frames = append(sc.frames, m)
				sc.mu.Unlock()
			}
		}
	}))

	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) close() {
	s.srv.Close()
}

func (s *wsServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *wsServer) conn(i int) *serverConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[i]
}

func (sc *serverConn) countType(typ string) int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	n := 0
	for _, f := range sc.frames {
		if f["type"] == typ {
			n++
		}
	}
	return n
}

func (sc *serverConn) joinsFor(room string) int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	n := 0
	for _, f := range sc.frames {
		if f["type"] == "join" && f["room"] == room {
			n++
		}
	}
	return n
}

func (sc *serverConn) send(v any) error {
	return sc.conn.WriteJSON(v)
}

func waitUntil(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func testConfig(url string) Config {
	return Config{
		WSURL:        url,
		BaseDelay:    20 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		PingInterval: time.Hour, // keep the heartbeat ticker out of the way
	}
}

func TestConnect_NoEndpoint(t *testing.T) {
	client := New(nil, Config{})

	if err := client.Connect(); !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("expected ErrNoEndpoint, got %v", err)
	}
}

func TestConnect_OpensBothSockets(t *testing.T) {
	server := newWSServer(t)
	defer server.close()

	client := New(nil, testConfig(server.url()))
	defer client.Disconnect()

	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if !waitUntil(2*time.Second, func() bool { return server.connCount() == 2 }) {
		t.Fatalf("expected 2 connections, got %d", server.connCount())
	}
	if !waitUntil(2*time.Second, func() bool { return client.ConnectionStatus().Connected }) {
		t.Fatal("expected client to report connected")
	}

	status := client.ConnectionStatus()
	if status.MainSocketState != StateOpen {
		t.Errorf("unexpected main state: %s", status.MainSocketState)
	}
	if status.TransactionSocketState != StateOpen {
		t.Errorf("unexpected transaction state: %s", status.TransactionSocketState)
	}

	// Each socket gets a heartbeat right after open.
	for i := 0; i < 2; i++ {
		conn := server.conn(i)
		if !waitUntil(2*time.Second, func() bool { return conn.countType("ping") >= 1 }) {
			t.Errorf("expected initial ping on conn %d", i)
		}
	}
}

func TestConnect_AuthenticatedURL(t *testing.T) {
	server := newWSServer(t)
	defer server.close()

	cfg := testConfig(server.url())
	cfg.APIKey = "secret-key"

	client := New(nil, cfg)
	defer client.Disconnect()

	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !waitUntil(2*time.Second, func() bool { return server.connCount() == 2 }) {
		t.Fatalf("expected 2 connections, got %d", server.connCount())
	}

	for i := 0; i < 2; i++ {
		if got := server.conn(i).query.Get("api_key"); got != "secret-key" {
			t.Errorf("conn %d: unexpected api_key %q", i, got)
		}
	}
	if !client.ConnectionStatus().Authenticated {
		t.Error("expected authenticated status")
	}
}

func TestJoinRoom_BeforeConnect(t *testing.T) {
	server := newWSServer(t)
	defer server.close()

	client := New(nil, testConfig(server.url()))
	defer client.Disconnect()

	client.JoinRoom("wallet:WalletABC")
	client.JoinRoom("price:MintXYZ")

	status := client.ConnectionStatus()
	if len(status.SubscribedRooms) != 2 {
		t.Fatalf("expected 2 queued rooms, got %v", status.SubscribedRooms)
	}

	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !waitUntil(2*time.Second, func() bool { return server.connCount() == 2 }) {
		t.Fatalf("expected 2 connections, got %d", server.connCount())
	}

	mainConn := server.conn(0)
	txConn := server.conn(1)

	// Wallet rooms land on the transaction socket, price rooms on main.
	if !waitUntil(2*time.Second, func() bool { return txConn.joinsFor("wallet:WalletABC") == 1 }) {
		t.Error("expected wallet join on transaction socket")
	}
	if !waitUntil(2*time.Second, func() bool { return mainConn.joinsFor("price:MintXYZ") == 1 }) {
		t.Error("expected price join on main socket")
	}
	if n := mainConn.joinsFor("wallet:WalletABC"); n != 0 {
		t.Errorf("wallet join leaked to main socket: %d", n)
	}
	if n := txConn.joinsFor("price:MintXYZ"); n != 0 {
		t.Errorf("price join leaked to transaction socket: %d", n)
	}
}

func TestJoinRoom_Duplicate(t *testing.T) {
	client := New(nil, Config{WSURL: "ws://unused"})

	client.JoinRoom("wallet:WalletABC")
	client.JoinRoom("wallet:WalletABC")

	if rooms := client.ConnectionStatus().SubscribedRooms; len(rooms) != 1 {
		t.Errorf("expected 1 room, got %v", rooms)
	}
}

func TestLeaveRoom_RemovesIntent(t *testing.T) {
	client := New(nil, Config{WSURL: "ws://unused"})

	client.JoinRoom("wallet:A")
	client.JoinRoom("wallet:B")
	client.LeaveRoom("wallet:A")
	client.LeaveRoom("wallet:never-joined") // no-op

	rooms := client.ConnectionStatus().SubscribedRooms
	if len(rooms) != 1 || rooms[0] != "wallet:B" {
		t.Errorf("unexpected rooms: %v", rooms)
	}
}

func TestChannelFor(t *testing.T) {
	tests := []struct {
		room     string
		expected string
	}{
		{"wallet:WalletABC", ChannelTransaction},
		{"transaction:latest", ChannelTransaction},
		{"big-transactions", ChannelTransaction},
		{"price:MintXYZ", ChannelMain},
		{"price-by-token:MintXYZ", ChannelMain},
		{"latest", ChannelMain},
		{"graduating", ChannelMain},
		{"", ChannelMain},
	}

	for _, tt := range tests {
		if got := channelFor(tt.room); got != tt.expected {
			t.Errorf("channelFor(%q) = %q, want %q", tt.room, got, tt.expected)
		}
	}
}

func TestDispatch_FanOutAndDedup(t *testing.T) {
	server := newWSServer(t)
	defer server.close()

	client := New(nil, testConfig(server.url()))
	defer client.Disconnect()

	roomEvents := make(chan json.RawMessage, 8)
	allEvents := make(chan json.RawMessage, 8)
	client.On("wallet:WalletABC", func(data json.RawMessage) { roomEvents <- data })
	client.On(AllTransactions, func(data json.RawMessage) { allEvents <- data })

	client.JoinRoom("wallet:WalletABC")
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !waitUntil(2*time.Second, func() bool { return server.connCount() == 2 }) {
		t.Fatalf("expected 2 connections, got %d", server.connCount())
	}

	trade := map[string]any{
		"type": "message",
		"room": "wallet:WalletABC",
		"data": map[string]any{"tx": "sig1", "wallet": "WalletABC"},
	}
	if err := server.conn(1).send(trade); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	select {
	case data := <-roomEvents:
		var payload struct {
			Tx string `json:"tx"`
		}
		if err := json.Unmarshal(data, &payload); err != nil || payload.Tx != "sig1" {
			t.Errorf("unexpected payload: %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("room listener never fired")
	}
	select {
	case <-allEvents:
	case <-time.After(2 * time.Second):
		t.Fatal("all-transactions listener never fired")
	}

	// The same transaction arriving on the other socket is suppressed.
	if err := server.conn(0).send(trade); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	// And a fresh transaction still flows.
	trade2 := map[string]any{
		"type": "message",
		"room": "wallet:WalletABC",
		"data": map[string]any{"tx": "sig2", "wallet": "WalletABC"},
	}
	if err := server.conn(1).send(trade2); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	select {
	case data := <-roomEvents:
		var payload struct {
			Tx string `json:"tx"`
		}
		json.Unmarshal(data, &payload)
		if payload.Tx != "sig2" {
			t.Errorf("expected sig2 after dedup, got %s", payload.Tx)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second trade never arrived")
	}

	if n := client.SeenTransactions(); n != 2 {
		t.Errorf("expected 2 seen transactions, got %d", n)
	}
}

func TestPingFrame_RepliesPongOnSameSocket(t *testing.T) {
	server := newWSServer(t)
	defer server.close()

	client := New(nil, testConfig(server.url()))
	defer client.Disconnect()

	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !waitUntil(2*time.Second, func() bool { return server.connCount() == 2 }) {
		t.Fatalf("expected 2 connections, got %d", server.connCount())
	}

	mainConn := server.conn(0)
	if err := mainConn.send(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if !waitUntil(2*time.Second, func() bool { return mainConn.countType("pong") == 1 }) {
		t.Error("expected pong reply on main socket")
	}
	if n := server.conn(1).countType("pong"); n != 0 {
		t.Errorf("pong leaked to transaction socket: %d", n)
	}
}

func TestPongFrame_Ignored(t *testing.T) {
	server := newWSServer(t)
	defer server.close()

	client := New(nil, testConfig(server.url()))
	defer client.Disconnect()

	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !waitUntil(2*time.Second, func() bool { return server.connCount() == 2 }) {
		t.Fatal("expected 2 connections")
	}

	before := server.conn(0).countType("pong")
	if err := server.conn(0).send(map[string]any{"type": "pong"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if after := server.conn(0).countType("pong"); after != before {
		t.Error("pong frame should not trigger a reply")
	}
}

func TestSubscriptionAck_EmitsRoomSubscribed(t *testing.T) {
	server := newWSServer(t)
	defer server.close()

	client := New(nil, testConfig(server.url()))
	defer client.Disconnect()

	acks := make(chan string, 8)
	client.On(RoomSubscribed, func(data json.RawMessage) {
		var room string
		if json.Unmarshal(data, &room) == nil {
			acks <- room
		}
	})

	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !waitUntil(2*time.Second, func() bool { return server.connCount() == 2 }) {
		t.Fatal("expected 2 connections")
	}

	// Acks come in several shapes: top-level room, or nested in data.
	server.conn(0).send(map[string]any{"type": "joined", "room": "wallet:A"})
	server.conn(0).send(map[string]any{"type": "system", "data": map[string]any{"room": "wallet:B"}})
	server.conn(0).send(map[string]any{"event": "subscribed", "room": "price:X"})

	expected := map[string]bool{"wallet:A": true, "wallet:B": true, "price:X": true}
	for i := 0; i < len(expected); i++ {
		select {
		case room := <-acks:
			if !expected[room] {
				t.Errorf("unexpected ack room: %s", room)
			}
			delete(expected, room)
		case <-time.After(2 * time.Second):
			t.Fatalf("missing acks: %v", expected)
		}
	}
}

func TestReconnect_ReplaysSubscriptions(t *testing.T) {
	server := newWSServer(t)
	defer server.close()

	client := New(nil, testConfig(server.url()))
	defer client.Disconnect()

	client.JoinRoom("wallet:WalletABC")
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !waitUntil(2*time.Second, func() bool { return server.connCount() == 2 }) {
		t.Fatal("expected 2 connections")
	}
	if !waitUntil(2*time.Second, func() bool { return server.conn(1).joinsFor("wallet:WalletABC") == 1 }) {
		t.Fatal("expected initial join")
	}

	// Kill both sockets server-side; the client should dial a fresh pair.
	server.conn(0).conn.Close()
	server.conn(1).conn.Close()

	if !waitUntil(5*time.Second, func() bool { return server.connCount() == 4 }) {
		t.Fatalf("expected reconnect pair, got %d connections", server.connCount())
	}
	if !waitUntil(2*time.Second, func() bool { return client.ConnectionStatus().Connected }) {
		t.Fatal("expected client to reconnect")
	}

	// The subscription is replayed exactly once on the new transaction socket.
	if !waitUntil(2*time.Second, func() bool { return server.conn(3).joinsFor("wallet:WalletABC") == 1 }) {
		t.Errorf("expected replayed join, got %d", server.conn(3).joinsFor("wallet:WalletABC"))
	}
	if n := server.conn(2).joinsFor("wallet:WalletABC"); n != 0 {
		t.Errorf("join replayed on wrong socket: %d", n)
	}

	rooms := client.ConnectionStatus().SubscribedRooms
	if len(rooms) != 1 || rooms[0] != "wallet:WalletABC" {
		t.Errorf("subscription intent lost across reconnect: %v", rooms)
	}
}

func TestReconnect_LeftRoomStaysGone(t *testing.T) {
	server := newWSServer(t)
	defer server.close()

	client := New(nil, testConfig(server.url()))
	defer client.Disconnect()

	client.JoinRoom("wallet:Keep")
	client.JoinRoom("wallet:Drop")
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !waitUntil(2*time.Second, func() bool { return server.connCount() == 2 }) {
		t.Fatal("expected 2 connections")
	}
	if !waitUntil(2*time.Second, func() bool { return server.conn(1).joinsFor("wallet:Drop") == 1 }) {
		t.Fatal("expected initial joins")
	}

	client.LeaveRoom("wallet:Drop")

	server.conn(0).conn.Close()
	server.conn(1).conn.Close()

	if !waitUntil(5*time.Second, func() bool { return server.connCount() == 4 }) {
		t.Fatal("expected reconnect pair")
	}
	if !waitUntil(2*time.Second, func() bool { return server.conn(3).joinsFor("wallet:Keep") == 1 }) {
		t.Fatal("expected kept room to be replayed")
	}
	if n := server.conn(3).joinsFor("wallet:Drop"); n != 0 {
		t.Errorf("left room was replayed %d times", n)
	}
}

func TestDisconnect_ClearsState(t *testing.T) {
	server := newWSServer(t)
	defer server.close()

	client := New(nil, testConfig(server.url()))

	client.JoinRoom("wallet:WalletABC")
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !waitUntil(2*time.Second, func() bool { return client.ConnectionStatus().Connected }) {
		t.Fatal("expected connected")
	}

	server.conn(1).send(map[string]any{
		"type": "message",
		"room": "wallet:WalletABC",
		"data": map[string]any{"tx": "sig1"},
	})
	if !waitUntil(2*time.Second, func() bool { return client.SeenTransactions() == 1 }) {
		t.Fatal("expected trade to be recorded")
	}

	client.Disconnect()

	status := client.ConnectionStatus()
	if status.Connected {
		t.Error("expected disconnected status")
	}
	if len(status.SubscribedRooms) != 0 {
		t.Errorf("expected rooms cleared, got %v", status.SubscribedRooms)
	}
	if n := client.SeenTransactions(); n != 0 {
		t.Errorf("expected dedup cache cleared, got %d", n)
	}

	// No reconnect pair should appear after a deliberate disconnect.
	time.Sleep(150 * time.Millisecond)
	if n := server.connCount(); n != 2 {
		t.Errorf("unexpected reconnect after Disconnect: %d connections", n)
	}
}

func TestFrameObserver_SeesBothDirections(t *testing.T) {
	server := newWSServer(t)
	defer server.close()

	client := New(nil, testConfig(server.url()))
	defer client.Disconnect()

	var mu sync.Mutex
	dirs := make(map[Direction]int)
	client.SetFrameObserver(func(dir Direction, channel string, payload []byte) {
		mu.Lock()
		dirs[dir]++
		mu.Unlock()
	})

	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !waitUntil(2*time.Second, func() bool { return server.connCount() == 2 }) {
		t.Fatal("expected 2 connections")
	}

	server.conn(0).send(map[string]any{"type": "pong"})

	if !waitUntil(2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dirs[DirectionOutbound] >= 2 && dirs[DirectionInbound] >= 1
	}) {
		mu.Lock()
		t.Errorf("observer missed frames: %v", dirs)
		mu.Unlock()
	}
}

func TestStats_CountsMessages(t *testing.T) {
	server := newWSServer(t)
	defer server.close()

	client := New(nil, testConfig(server.url()))
	defer client.Disconnect()

	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !waitUntil(2*time.Second, func() bool { return server.connCount() == 2 }) {
		t.Fatal("expected 2 connections")
	}

	if got := client.Stats(); got.MessageCount != 0 || !got.LastMessageAt.IsZero() {
		t.Errorf("unexpected initial stats: %+v", got)
	}

	server.conn(0).send(map[string]any{"type": "pong"})
	server.conn(1).send(map[string]any{"type": "pong"})

	if !waitUntil(2*time.Second, func() bool { return client.Stats().MessageCount == 2 }) {
		t.Errorf("expected 2 messages, got %d", client.Stats().MessageCount)
	}
	if client.Stats().LastMessageAt.IsZero() {
		t.Error("expected last message time to be set")
	}
}

func TestOff_RemovesSingleListener(t *testing.T) {
	client := New(nil, Config{WSURL: "ws://unused"})

	var first, second int
	id1 := client.On("wallet:A", func(json.RawMessage) { first++ })
	client.On("wallet:A", func(json.RawMessage) { second++ })

	client.Off("wallet:A", id1)
	client.emitter.emit("wallet:A", json.RawMessage(`{}`))

	if first != 0 {
		t.Errorf("removed listener fired %d times", first)
	}
	if second != 1 {
		t.Errorf("surviving listener fired %d times", second)
	}
}

func TestBackoff_Shape(t *testing.T) {
	cfg := Config{
		BaseDelay:           100 * time.Millisecond,
		MaxDelay:            400 * time.Millisecond,
		RandomizationFactor: 0,
	}
	bo := newBackOff(cfg)

	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
	}
	for i, want := range expected {
		if got := bo.NextBackOff(); got != want {
			t.Errorf("attempt %d: expected %v, got %v", i, want, got)
		}
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	cfg := Config{
		BaseDelay:           100 * time.Millisecond,
		MaxDelay:            400 * time.Millisecond,
		RandomizationFactor: 0.5,
	}

	for i := 0; i < 50; i++ {
		bo := newBackOff(cfg)
		first := bo.NextBackOff()
		if first < 50*time.Millisecond || first > 150*time.Millisecond {
			t.Fatalf("first delay %v outside jitter bounds", first)
		}
	}
}

func TestDataRoom_Nested(t *testing.T) {
	tests := []struct {
		name     string
		frame    inboundFrame
		expected string
	}{
		{"top level", inboundFrame{Room: "wallet:A"}, "wallet:A"},
		{"nested", inboundFrame{Data: json.RawMessage(`{"room":"wallet:B"}`)}, "wallet:B"},
		{"top level wins", inboundFrame{Room: "wallet:A", Data: json.RawMessage(`{"room":"wallet:B"}`)}, "wallet:A"},
		{"absent", inboundFrame{Data: json.RawMessage(`{}`)}, ""},
		{"no data", inboundFrame{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.frame.dataRoom(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}
