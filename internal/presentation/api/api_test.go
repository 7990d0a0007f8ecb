package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/infrastructure/auth"
	"github.com/hilthontt/parley/internal/infrastructure/configs"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
	"github.com/hilthontt/parley/internal/persistence/memory"
	"github.com/hilthontt/parley/internal/presence"
	healthHandler "github.com/hilthontt/parley/internal/presentation/handler/health"
	messagesHandler "github.com/hilthontt/parley/internal/presentation/handler/messages"
	presenceHandler "github.com/hilthontt/parley/internal/presentation/handler/presence"
	roomHandler "github.com/hilthontt/parley/internal/presentation/handler/rooms"
	"github.com/hilthontt/parley/internal/router"
)

type fakeQueries struct {
	members map[string][]domain.Participant
}

func (f *fakeQueries) member(roomID, identity string) error {
	participants, ok := f.members[roomID]
	if !ok {
		return domain.NewCommandError(domain.NotFoundTransient, "history", roomID, domain.ErrRoomNotFound)
	}
	for _, p := range participants {
		if p.Identity == identity {
			return nil
		}
	}
	return domain.NewCommandError(domain.DomainViolation, "history", roomID, domain.ErrNotMember)
}

func (f *fakeQueries) History(_ context.Context, roomID, identity string) ([]domain.HistoryEntry, error) {
	if err := f.member(roomID, identity); err != nil {
		return nil, err
	}
	return []domain.HistoryEntry{{Message: domain.Message{Seq: 1, RoomID: roomID, Sender: identity, Type: domain.MessageJoin}}}, nil
}

func (f *fakeQueries) Participations(_ context.Context, identity string) ([]domain.Participation, error) {
	var out []domain.Participation
	for roomID, participants := range f.members {
		for _, p := range participants {
			if p.Identity == identity {
				out = append(out, domain.Participation{Room: domain.Room{ID: roomID, Valid: true}, Unread: p.Unread})
			}
		}
	}
	return out, nil
}

func (f *fakeQueries) Participants(_ context.Context, roomID, identity string) ([]domain.Participant, error) {
	if err := f.member(roomID, identity); err != nil {
		return nil, err
	}
	return f.members[roomID], nil
}

type fakeRouter struct {
	mu     sync.Mutex
	calls  []router.Command
	caller []string
	err    error
}

func (f *fakeRouter) Route(_ context.Context, caller string, cmd router.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, cmd)
	f.caller = append(f.caller, caller)
	return nil
}

type fakeAttacher struct {
	attached chan string
}

func (f *fakeAttacher) Attach(_ context.Context, conn *websocket.Conn, identity string) {
	f.attached <- identity
	conn.Close()
}

type limitAfter struct {
	mu    sync.Mutex
	n     int
	limit int
}

func (l *limitAfter) Allow(context.Context, string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.n++
	return l.n <= l.limit, 2 * time.Second
}

type harness struct {
	server   *httptest.Server
	router   *fakeRouter
	attacher *fakeAttacher
	registry *presence.Registry
	audit    *memory.AuditLog
	auth     *auth.Authenticator
}

func newHarness(t *testing.T, limit int) *harness {
	t.Helper()

	logger := logging.NewNopLogger()
	registry := presence.NewRegistry(logger)
	authenticator := auth.NewAuthenticator("test-secret", "parley")
	queries := &fakeQueries{members: map[string][]domain.Participant{
		"r1": {{RoomID: "r1", Identity: "alice"}, {RoomID: "r1", Identity: "bob", Unread: 2}},
	}}
	h := &harness{
		router:   &fakeRouter{},
		attacher: &fakeAttacher{attached: make(chan string, 1)},
		registry: registry,
		audit:    memory.NewAuditLog(),
		auth:     authenticator,
	}

	app := NewApplication(
		configs.HTTPConfig{AllowedOrigins: []string{"*"}, AllowedHeaders: []string{"Authorization", "Content-Type"}},
		configs.RateLimiterConfig{MaxBurst: limit, SourceHeaderKey: "X-Forwarded-For"},
		roomHandler.NewHandler(queries, h.router, registry, h.audit, logger),
		healthHandler.NewHandler(nil),
		messagesHandler.NewHandler(h.router, logger),
		presenceHandler.NewHandler(registry, h.attacher, []string{"*"}, logger),
		authenticator,
		logger,
		&limitAfter{limit: limit},
	)
	h.server = httptest.NewServer(app.Mount())
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) token(t *testing.T, identity string) string {
	t.Helper()
	token, err := h.auth.Issue(identity, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (h *harness) do(t *testing.T, method, path, identity, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if identity != "" {
		req.Header.Set("Authorization", "Bearer "+h.token(t, identity))
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthIsPublic(t *testing.T) {
	h := newHarness(t, 100)
	if resp := h.do(t, http.MethodGet, "/health", "", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp := h.do(t, http.MethodGet, "/metrics", "", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	h := newHarness(t, 100)
	if resp := h.do(t, http.MethodGet, "/api/rooms", "", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHistoryStatuses(t *testing.T) {
	h := newHarness(t, 100)

	tests := []struct {
		path     string
		identity string
		want     int
	}{
		{"/api/rooms/r1/history", "alice", http.StatusOK},
		{"/api/rooms/r1/history", "carol", http.StatusForbidden},
		{"/api/rooms/nope/history", "alice", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.identity+tt.path, func(t *testing.T) {
			if resp := h.do(t, http.MethodGet, tt.path, tt.identity, ""); resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestParticipantsCarryPresence(t *testing.T) {
	h := newHarness(t, 100)
	h.registry.RegisterUser("bob", "c1")

	resp := h.do(t, http.MethodGet, "/api/rooms/r1/participants", "alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var participants []struct {
		Identity string `json:"identity"`
		Unread   int    `json:"unread"`
		Online   bool   `json:"online"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&participants); err != nil {
		t.Fatalf("decode: %v", err)
	}
	online := map[string]bool{}
	for _, p := range participants {
		online[p.Identity] = p.Online
	}
	if online["alice"] || !online["bob"] {
		t.Fatalf("online = %v", online)
	}
}

func TestCommandsAreRoutedAsCaller(t *testing.T) {
	h := newHarness(t, 100)

	resp := h.do(t, http.MethodPost, "/api/rooms/", "alice", `{"roomId":"r2","kind":"GROUP","participants":["bob"]}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	resp = h.do(t, http.MethodPost, "/api/rooms/r1/messages", "bob", `{"content":"hi"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("send status = %d", resp.StatusCode)
	}
	resp = h.do(t, http.MethodPost, "/api/rooms/r1/leave", "bob", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("leave status = %d", resp.StatusCode)
	}

	h.router.mu.Lock()
	defer h.router.mu.Unlock()
	if len(h.router.calls) != 3 {
		t.Fatalf("routed %d commands", len(h.router.calls))
	}

	create := h.router.calls[0]
	var payload domain.CreateRoomPayload
	if err := json.Unmarshal(create.Payload, &payload); err != nil {
		t.Fatalf("decode create payload: %v", err)
	}
	if create.CommandType != domain.CommandCreate || create.RoomID != "r2" || payload.Creator != "alice" || h.router.caller[0] != "alice" {
		t.Fatalf("create = %+v payload %+v caller %s", create, payload, h.router.caller[0])
	}

	var send domain.SendPayload
	if err := json.Unmarshal(h.router.calls[1].Payload, &send); err != nil {
		t.Fatalf("decode send payload: %v", err)
	}
	if send.Type != domain.MessageChat || send.Sender != "bob" {
		t.Fatalf("send payload = %+v", send)
	}
	if h.router.calls[2].CommandType != domain.CommandLeave {
		t.Fatalf("third command = %s", h.router.calls[2].CommandType)
	}
}

func TestRouterRefusalMapsToStatus(t *testing.T) {
	h := newHarness(t, 100)
	h.router.err = fmt.Errorf("%w: retry in 1s", domain.ErrRateLimited)

	resp := h.do(t, http.MethodPost, "/api/rooms/r1/join", "carol", "")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestEmptyMessageIsRejected(t *testing.T) {
	h := newHarness(t, 100)
	if resp := h.do(t, http.MethodPost, "/api/rooms/r1/messages", "bob", `{"content":"  "}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestInvalidRequestsAreRejected(t *testing.T) {
	h := newHarness(t, 100)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"unknown kind", "/api/rooms/", `{"roomId":"r2","kind":"CHANNEL","participants":["bob"]}`},
		{"room id with spaces", "/api/rooms/", `{"roomId":"my room","kind":"GROUP","participants":["bob"]}`},
		{"blank participant", "/api/rooms/", `{"roomId":"r2","kind":"GROUP","participants":["bob",""]}`},
		{"no invite targets", "/api/rooms/r1/invite", `{"targets":[]}`},
		{"system message type", "/api/rooms/r1/messages", `{"type":"JOIN","content":"hi"}`},
		{"image without data", "/api/rooms/r1/messages", `{"type":"IMAGE"}`},
		{"oversized content", "/api/rooms/r1/messages", `{"content":"` + strings.Repeat("x", messagesHandler.MaxContentLength+1) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := h.do(t, http.MethodPost, tt.path, "bob", tt.body); resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}

	h.router.mu.Lock()
	defer h.router.mu.Unlock()
	if len(h.router.calls) != 0 {
		t.Fatalf("routed %d invalid commands", len(h.router.calls))
	}
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, 1)

	if resp := h.do(t, http.MethodGet, "/api/presence", "alice", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d", resp.StatusCode)
	}
	resp := h.do(t, http.MethodGet, "/api/presence", "alice", "")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After = %q", got)
	}
}

func TestAuditIsMembersOnly(t *testing.T) {
	h := newHarness(t, 100)
	h.audit.Log(context.Background(), &domain.AuditLog{ID: "a1", RoomID: "r1", EventType: domain.AuditRoomCreated, Actor: "alice", Timestamp: time.Now()})

	resp := h.do(t, http.MethodGet, "/api/rooms/r1/audit", "alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var logs []domain.AuditLog
	if err := json.NewDecoder(resp.Body).Decode(&logs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(logs) != 1 || logs[0].Actor != "alice" {
		t.Fatalf("logs = %+v", logs)
	}

	if resp := h.do(t, http.MethodGet, "/api/rooms/r1/audit", "carol", ""); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider status = %d", resp.StatusCode)
	}
}

func TestWebsocketUpgradeAuthenticates(t *testing.T) {
	h := newHarness(t, 100)
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"

	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("dial without token succeeded")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial without token: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+h.token(t, "alice"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case identity := <-h.attacher.attached:
		if identity != "alice" {
			t.Fatalf("attached %q", identity)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not attached")
	}
}
