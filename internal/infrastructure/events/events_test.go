package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/fanout"
	"github.com/hilthontt/parley/internal/infrastructure/contracts"
	"github.com/hilthontt/parley/internal/infrastructure/logging"
	"github.com/hilthontt/parley/internal/infrastructure/metrics"
	"github.com/hilthontt/parley/internal/infrastructure/storage"
	"github.com/hilthontt/parley/internal/persistence/memory"
	"github.com/hilthontt/parley/internal/processor"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"
)

type published struct {
	key  string
	body []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) PublishMessage(_ context.Context, key string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{key: key, body: body})
	return nil
}

type failingRepo struct {
	*memory.AuditLog
}

func (failingRepo) Log(context.Context, *domain.AuditLog) error {
	return errors.New("mongo down")
}

func TestLifecyclePublisherQueuesLifecycleEvents(t *testing.T) {
	rec := fanout.NewRecorder()
	pub := &fakePublisher{}
	p := NewLifecyclePublisher(rec, pub, logging.NewNopLogger())
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	p.PublishToRoom(ctx, "r1", domain.NewEvent(domain.EventCreate, "alice", "r1", now))
	p.PublishPublic(ctx, domain.NewEvent(domain.EventActive, "alice", "r1", now))
	p.PublishToRoom(ctx, "r1", domain.NewEvent(domain.EventJoin, "bob", "r1", now))
	p.PublishToRoom(ctx, "r1", domain.NewEvent(domain.EventChat, "bob", "r1", now))
	// public copies of room events are not audited twice
	p.PublishPublic(ctx, domain.NewEvent(domain.EventJoin, "bob", "r1", now))

	if got := len(rec.Events()); got != 5 {
		t.Fatalf("forwarded %d events, want 5", got)
	}
	if len(pub.msgs) != 2 {
		t.Fatalf("queued %d audit messages, want 2", len(pub.msgs))
	}
	for _, m := range pub.msgs {
		if m.key != contracts.AuditQueue {
			t.Errorf("routing key = %q", m.key)
		}
	}

	var msg contracts.AmqpMessage
	if err := json.Unmarshal(pub.msgs[0].body, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.ActorID != "alice" {
		t.Errorf("ActorID = %q", msg.ActorID)
	}
}

func TestLifecyclePublisherStillDeliversWhenQueueFails(t *testing.T) {
	rec := fanout.NewRecorder()
	p := NewLifecyclePublisher(rec, &fakePublisher{err: errors.New("channel closed")}, logging.NewNopLogger())

	p.PublishToRoom(context.Background(), "r1", domain.NewEvent(domain.EventCreate, "alice", "r1", time.Now()))

	if got := len(rec.Of(domain.EventCreate)); got != 1 {
		t.Fatalf("delivered %d CREATE events, want 1", got)
	}
}

func TestAuditConsumerWritesLifecycleLog(t *testing.T) {
	repo := memory.NewAuditLog()
	pub := &fakePublisher{}
	p := NewLifecyclePublisher(fanout.NewRecorder(), pub, logging.NewNopLogger())
	c := NewAuditConsumer(nil, repo, logging.NewNopLogger())
	ctx := context.Background()

	p.PublishToRoom(ctx, "r1", domain.NewEvent(domain.EventJoin, "bob", "r1", time.Now()))
	if err := c.Handle(ctx, pub.msgs[0].body); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	logs, _ := repo.GetByRoomID(ctx, "r1", 10)
	if len(logs) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(logs))
	}
	if logs[0].EventType != domain.AuditMemberJoined || logs[0].Actor != "bob" {
		t.Errorf("entry = %+v", logs[0])
	}
}

func TestEveryJoinReachesTheAuditLog(t *testing.T) {
	ctx := context.Background()
	blobs, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	dir := memory.NewDirectory().
		Add("admin", domain.RoleAdmin, "acme").
		Add("alice", domain.RoleMember, "acme").
		Add("carol", domain.RoleMember, "elsewhere")
	pub := &fakePublisher{}
	lifecycle := NewLifecyclePublisher(fanout.NewRecorder(), pub, logging.NewNopLogger())
	proc := processor.New(memory.NewStore(), dir, blobs, lifecycle, logging.NewNopLogger(), processor.Config{HistoryLimit: 100})

	run := func(sender string, typ domain.CommandType, roomID string, payload any) {
		t.Helper()
		env, err := domain.NewEnvelope(sender, typ, roomID, payload)
		if err != nil {
			t.Fatal(err)
		}
		if err := proc.Handle(ctx, env); err != nil {
			t.Fatalf("%s %s: %v", typ, roomID, err)
		}
	}
	run("alice", domain.CommandCreate, "r1", domain.CreateRoomPayload{Kind: domain.RoomGroup, Creator: "alice", Participants: []string{"bob"}})
	run("admin", domain.CommandCreate, "all", domain.CreateRoomPayload{Kind: domain.RoomAll, Creator: "admin"})
	run("carol", domain.CommandJoin, "all", nil)

	repo := memory.NewAuditLog()
	consumer := NewAuditConsumer(nil, repo, logging.NewNopLogger())
	for _, m := range pub.msgs {
		if err := consumer.Handle(ctx, m.body); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}

	tests := []struct {
		room   string
		joined []string
	}{
		{"r1", []string{"alice", "bob"}},
		{"all", []string{"admin", "alice", "carol"}},
	}
	for _, tt := range tests {
		logs, err := repo.GetByRoomID(ctx, tt.room, 50)
		if err != nil {
			t.Fatal(err)
		}
		joined := map[string]int{}
		created := 0
		for _, l := range logs {
			switch l.EventType {
			case domain.AuditMemberJoined:
				joined[l.Actor]++
			case domain.AuditRoomCreated:
				created++
			}
		}
		if created != 1 {
			t.Errorf("%s: %d room_created entries, want 1", tt.room, created)
		}
		if len(joined) != len(tt.joined) {
			t.Errorf("%s: joined = %v, want %v", tt.room, joined, tt.joined)
		}
		for _, id := range tt.joined {
			if joined[id] != 1 {
				t.Errorf("%s: %d member_joined entries for %s, want 1", tt.room, joined[id], id)
			}
		}
	}
}

func TestAuditConsumerRejectsGarbage(t *testing.T) {
	c := NewAuditConsumer(nil, memory.NewAuditLog(), logging.NewNopLogger())

	err := c.Handle(context.Background(), []byte("{not json"))
	if !domain.IsFatal(err) {
		t.Fatalf("Handle(garbage) = %v, want a fatal error", err)
	}
}

func TestAuditConsumerRepositoryFailureIsRetryable(t *testing.T) {
	c := NewAuditConsumer(nil, failingRepo{memory.NewAuditLog()}, logging.NewNopLogger())
	data, _ := json.Marshal(domain.NewEvent(domain.EventCreate, "alice", "r1", time.Now()))
	body, _ := json.Marshal(contracts.AmqpMessage{ActorID: "alice", Data: data})

	err := c.Handle(context.Background(), body)
	if err == nil || domain.IsFatal(err) {
		t.Fatalf("Handle = %v, want a retryable error", err)
	}
}

func TestDeadLetterConsumerAudits(t *testing.T) {
	repo := memory.NewAuditLog()
	c := NewDeadLetterConsumer(nil, repo, logging.NewNopLogger())
	ctx := context.Background()

	env, err := domain.NewEnvelope("mallory", domain.CommandSend, "r9", domain.SendPayload{Sender: "alice", Type: domain.MessageChat, Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	body, _ := json.Marshal(env)
	headers := amqp.Table{
		"x-death": []interface{}{
			amqp.Table{"queue": contracts.SendQueue, "reason": "rejected", "count": int64(1)},
		},
	}

	before := testutil.ToFloat64(metrics.DeadLetters.WithLabelValues(string(domain.CommandSend)))
	c.Handle(ctx, body, headers)
	after := testutil.ToFloat64(metrics.DeadLetters.WithLabelValues(string(domain.CommandSend)))
	if after-before != 1 {
		t.Errorf("dead letter counter moved by %v, want 1", after-before)
	}

	logs, _ := repo.GetByRoomID(ctx, "r9", 10)
	if len(logs) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(logs))
	}
	entry := logs[0]
	if entry.EventType != domain.AuditDeadLetter || entry.Actor != "mallory" {
		t.Errorf("entry = %+v", entry)
	}
	if entry.Metadata["queue"] != contracts.SendQueue || entry.Metadata["reason"] != "rejected" {
		t.Errorf("metadata = %v", entry.Metadata)
	}
}

func TestDeadLetterConsumerKeepsUndecodableBody(t *testing.T) {
	repo := memory.NewAuditLog()
	c := NewDeadLetterConsumer(nil, repo, logging.NewNopLogger())
	ctx := context.Background()

	c.Handle(ctx, []byte("garbage"), nil)

	logs, _ := repo.GetByEventType(ctx, domain.AuditDeadLetter, time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	if len(logs) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(logs))
	}
	if logs[0].Metadata["payload"] != "garbage" {
		t.Errorf("payload = %v", logs[0].Metadata["payload"])
	}
}
