package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestProjectStatus(t *testing.T) {
	p := &Participant{RoomID: "r1", Identity: "bob"}
	tests := []struct {
		name        string
		participant *Participant
		latest      *Message
		want        Status
	}{
		{"no participant row", nil, nil, StatusNotMember},
		{"no participant row with stale inactive", nil, &Message{Type: MessageInactive}, StatusNotMember},
		{"participant without messages", p, nil, StatusActive},
		{"latest join", p, &Message{Type: MessageJoin}, StatusActive},
		{"latest chat", p, &Message{Type: MessageChat}, StatusActive},
		{"latest inactive", p, &Message{Type: MessageInactive}, StatusInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ProjectStatus(tt.participant, tt.latest); got != tt.want {
				t.Errorf("ProjectStatus = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		fatal     bool
		retryable bool
	}{
		{"auth mismatch", NewCommandError(AuthMismatch, "send", "r1", ErrAuthMismatch), true, false},
		{"malformed", NewCommandError(Malformed, "decode", "r1", ErrMalformedCommand), true, false},
		{"domain violation", NewCommandError(DomainViolation, "send", "r1", ErrInactive), false, false},
		{"not found", NewCommandError(NotFoundTransient, "join", "r1", ErrRoomNotFound), false, true},
		{"store", NewCommandError(StoreUnavailable, "join", "r1", ErrStoreUnavailable), false, true},
		{"wrapped fatal", fmt.Errorf("consume: %w", NewCommandError(AuthMismatch, "send", "r1", ErrAuthMismatch)), true, false},
		{"unclassified", errors.New("connection reset"), false, true},
		{"nil", nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal = %v, want %v", got, tt.fatal)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestCommandErrorUnwraps(t *testing.T) {
	err := NewCommandError(DomainViolation, "leave", "r1", ErrNotMember)
	if !errors.Is(err, ErrNotMember) {
		t.Fatal("errors.Is(ErrNotMember) = false")
	}
	if got := err.Error(); got != "leave room r1: not a participant of the room" {
		t.Errorf("Error() = %q", got)
	}
}

func TestEnvelopeValidate(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
		ok   bool
	}{
		{"ok", Envelope{SenderIdentity: "alice", CommandType: CommandSend, RoomID: "r1"}, true},
		{"missing sender", Envelope{CommandType: CommandSend, RoomID: "r1"}, false},
		{"unknown type", Envelope{SenderIdentity: "alice", CommandType: "DANCE", RoomID: "r1"}, false},
		{"missing room", Envelope{SenderIdentity: "alice", CommandType: CommandSend}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("Validate() = %v", err)
			}
			if err != nil && !IsFatal(err) {
				t.Errorf("validation error should be fatal: %v", err)
			}
		})
	}
}

func TestEnvelopeDecodeAndCheckSender(t *testing.T) {
	env, err := NewEnvelope("alice", CommandSend, "r1", SendPayload{Sender: "mallory", Type: MessageChat, Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}

	var p SendPayload
	if err := env.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Content != "hi" {
		t.Errorf("Content = %q", p.Content)
	}

	err = env.CheckSender(p.Sender)
	if kind, _ := KindOf(err); kind != AuthMismatch {
		t.Fatalf("CheckSender kind = %v, want AuthMismatch", kind)
	}
	if env.CheckSender("") != nil || env.CheckSender("alice") != nil {
		t.Error("CheckSender should accept empty and matching senders")
	}

	bad := Envelope{SenderIdentity: "alice", CommandType: CommandSend, RoomID: "r1", Payload: []byte("{")}
	if err := bad.Decode(&p); !IsFatal(err) {
		t.Errorf("Decode(bad) = %v, want fatal", err)
	}
}

func TestRoomJoinRules(t *testing.T) {
	now := time.Now()
	all := NewRoom("a", "", "admin", RoomAll, "", now)
	group := NewRoom("g", "team", "alice", RoomGroup, "bob", now)
	private := NewRoom("p", "", "alice", RoomPrivate, "bob", now)

	if all.Title != DefaultRoomTitle {
		t.Errorf("Title = %q, want default", all.Title)
	}
	if group.Peer != "" {
		t.Errorf("group Peer = %q, want empty", group.Peer)
	}
	if !all.SelfJoinAllowed("anyone") {
		t.Error("ALL room should allow self join")
	}
	if group.SelfJoinAllowed("carol") || group.SelfJoinAllowed("alice") {
		t.Error("GROUP room should require an invitation")
	}
	if !private.SelfJoinAllowed("bob") || private.SelfJoinAllowed("carol") {
		t.Error("PRIVATE room join rule broken")
	}
	if !private.Between("bob", "alice") || private.Between("alice", "carol") {
		t.Error("Between broken")
	}
}

func TestEventFromMessage(t *testing.T) {
	m := &Message{RoomID: "r1", Sender: "alice", Type: MessageImage, ImageRef: "abc.png"}
	e := EventFromMessage(m)
	if e.Type != EventImage || e.Image != "abc.png" || e.Actor != "alice" {
		t.Errorf("EventFromMessage = %+v", e)
	}
}
