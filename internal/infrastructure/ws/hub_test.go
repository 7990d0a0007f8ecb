package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/fanout"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
	"github.com/hilthontt/parley/internal/presence"
	"github.com/hilthontt/parley/internal/router"
)

type fakeRouter struct {
	mu     sync.Mutex
	routed []router.Command
	caller []string
	swept  []string
}

func (f *fakeRouter) Route(_ context.Context, caller string, cmd router.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routed = append(f.routed, cmd)
	f.caller = append(f.caller, caller)
	return nil
}

func (f *fakeRouter) SweepDisconnect(_ context.Context, identity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swept = append(f.swept, identity)
	return nil
}

func (f *fakeRouter) sweptIdentities() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.swept...)
}

type harness struct {
	hub      *Hub
	registry *presence.Registry
	router   *fakeRouter
	server   *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	registry := presence.NewRegistry(logging.NewNopLogger())
	hub := NewHub(registry, logging.NewNopLogger(), DefaultConfig())
	rt := &fakeRouter{}
	hub.Bind(rt, fanout.NewLocal(hub))

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Attach(r.Context(), conn, r.URL.Query().Get("as"))
	}))
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return &harness{hub: hub, registry: registry, router: rt, server: server}
}

func (h *harness) dial(t *testing.T, identity string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/?as=" + identity
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial as %s: %v", identity, err)
	}
	t.Cleanup(func() { conn.Close() })

	if f := read(t, conn); f.Type != FrameConnected || f.Identity != identity {
		t.Fatalf("first frame = %+v, want CONNECTED for %s", f, identity)
	}
	return conn
}

func read(t *testing.T, conn *websocket.Conn) OutboundFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f OutboundFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

// readEvent skips frames until an event of type typ arrives.
func readEvent(t *testing.T, conn *websocket.Conn, typ domain.EventType) OutboundFrame {
	t.Helper()
	for i := 0; i < 10; i++ {
		f := read(t, conn)
		if f.Type == FrameMessage && f.Event != nil && f.Event.Type == typ {
			return f
		}
	}
	t.Fatalf("no %s event received", typ)
	return OutboundFrame{}
}

func write(t *testing.T, conn *websocket.Conn, f InboundFrame) {
	t.Helper()
	if err := conn.WriteJSON(f); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPresenceEventsAndSweep(t *testing.T) {
	h := newHarness(t)

	alice := h.dial(t, "alice")
	write(t, alice, InboundFrame{Type: FrameSubscribe, ID: "sub-0", Destination: fanout.PublicDestination})
	eventually(t, func() bool { return len(h.registry.Subscriptions("alice")) == 1 })

	bob := h.dial(t, "bob")
	f := readEvent(t, alice, domain.EventConnect)
	if f.Event.Actor != "bob" || f.Subscription != "sub-0" || f.Destination != fanout.PublicDestination {
		t.Errorf("CONNECT frame = %+v", f)
	}
	if !h.registry.IsConnected("bob") {
		t.Error("bob not in the registry")
	}

	bob.Close()
	f = readEvent(t, alice, domain.EventDisconnect)
	if f.Event.Actor != "bob" {
		t.Errorf("DISCONNECT actor = %q", f.Event.Actor)
	}
	eventually(t, func() bool {
		swept := h.router.sweptIdentities()
		return len(swept) == 1 && swept[0] == "bob"
	})
	if h.registry.IsConnected("bob") {
		t.Error("bob still in the registry")
	}
}

func TestRoomDeliveryFollowsSubscriptions(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "alice")

	write(t, alice, InboundFrame{Type: FrameSubscribe, ID: "r1-sub", Destination: fanout.RoomDestination("r1")})
	eventually(t, func() bool { return len(h.registry.Subscriptions("alice")) == 1 })

	h.hub.Deliver(fanout.RoomDestination("r1"), domain.NewEvent(domain.EventChat, "bob", "r1", time.Now()))
	f := readEvent(t, alice, domain.EventChat)
	if f.Subscription != "r1-sub" || f.Event.RoomID != "r1" {
		t.Errorf("frame = %+v", f)
	}

	write(t, alice, InboundFrame{Type: FrameUnsubscribe, ID: "r1-sub"})
	eventually(t, func() bool { return len(h.registry.Subscriptions("alice")) == 0 })

	h.hub.Deliver(fanout.RoomDestination("r1"), domain.NewEvent(domain.EventChat, "bob", "r1", time.Now()))
	h.hub.Deliver(fanout.RoomDestination("r2"), domain.NewEvent(domain.EventChat, "bob", "r2", time.Now()))

	// A bad frame is answered directly, proving nothing else is queued.
	write(t, alice, InboundFrame{Type: "PING"})
	if f := read(t, alice); f.Type != FrameError {
		t.Errorf("frame after unsubscribe = %+v, want the ERROR reply", f)
	}
}

func TestSendFramesAreRoutedAsCaller(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "alice")

	payload, _ := json.Marshal(domain.SendPayload{Sender: "alice", Type: domain.MessageChat, Content: "hi"})
	write(t, alice, InboundFrame{Type: FrameSend, Command: &router.Command{
		CommandType: domain.CommandSend,
		RoomID:      "r1",
		Payload:     payload,
	}})

	eventually(t, func() bool {
		h.router.mu.Lock()
		defer h.router.mu.Unlock()
		return len(h.router.routed) == 1
	})
	h.router.mu.Lock()
	defer h.router.mu.Unlock()
	if h.router.caller[0] != "alice" || h.router.routed[0].RoomID != "r1" {
		t.Errorf("routed %+v as %q", h.router.routed[0], h.router.caller[0])
	}
}

func TestMalformedFramesGetErrors(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "alice")

	frames := []string{
		`{not json`,
		`{"type":"SUBSCRIBE","id":"x","destination":"/topic/other"}`,
		`{"type":"UNSUBSCRIBE"}`,
		`{"type":"SEND"}`,
	}
	for _, raw := range frames {
		if err := alice.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatal(err)
		}
		if f := read(t, alice); f.Type != FrameError || f.Message == "" {
			t.Errorf("reply to %s = %+v, want ERROR", raw, f)
		}
	}
}

func TestSecondTabKeepsUserConnected(t *testing.T) {
	h := newHarness(t)
	watcher := h.dial(t, "carol")
	write(t, watcher, InboundFrame{Type: FrameSubscribe, ID: "p", Destination: fanout.PublicDestination})
	eventually(t, func() bool { return len(h.registry.Subscriptions("carol")) == 1 })

	first := h.dial(t, "alice")
	readEvent(t, watcher, domain.EventConnect)
	second := h.dial(t, "alice")
	eventually(t, func() bool { return h.hub.Connections() == 3 })

	first.Close()
	eventually(t, func() bool { return h.hub.Connections() == 2 })
	if !h.registry.IsConnected("alice") {
		t.Fatal("alice dropped from presence while a tab is open")
	}
	if swept := h.router.sweptIdentities(); len(swept) != 0 {
		t.Fatalf("swept %v while a tab is open", swept)
	}

	second.Close()
	readEvent(t, watcher, domain.EventDisconnect)
	if h.registry.IsConnected("alice") {
		t.Error("alice still connected after the last tab closed")
	}
}

func TestValidDestination(t *testing.T) {
	tests := map[string]bool{
		fanout.PublicDestination:     true,
		fanout.RoomDestination("r1"): true,
		fanout.RoomDestination(""):   false,
		"/topic/r1":                  false,
		"":                           false,
	}
	for d, want := range tests {
		if got := validDestination(d); got != want {
			t.Errorf("validDestination(%q) = %v, want %v", d, got, want)
		}
	}
}
