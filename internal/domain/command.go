package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type CommandType string

const (
	CommandCreate CommandType = "CREATE"
	CommandJoin   CommandType = "JOIN"
	CommandLeave  CommandType = "LEAVE"
	CommandInvite CommandType = "INVITE"
	CommandSend   CommandType = "SEND"
	CommandOut    CommandType = "OUT"
)

var CommandTypes = []CommandType{
	CommandCreate,
	CommandJoin,
	CommandLeave,
	CommandInvite,
	CommandSend,
	CommandOut,
}

func (t CommandType) Valid() bool {
	for _, c := range CommandTypes {
		if c == t {
			return true
		}
	}
	return false
}

// Envelope is the unit carried by the command queues.
type Envelope struct {
	SenderIdentity string          `json:"senderIdentity"`
	CommandType    CommandType     `json:"commandType"`
	RoomID         string          `json:"roomId"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

func (e Envelope) Validate() error {
	op := "validate " + string(e.CommandType)
	switch {
	case strings.TrimSpace(e.SenderIdentity) == "":
		return NewCommandError(Malformed, op, e.RoomID, fmt.Errorf("%w: missing sender", ErrMalformedCommand))
	case !e.CommandType.Valid():
		return NewCommandError(Malformed, op, e.RoomID, fmt.Errorf("%w: unknown command type %q", ErrMalformedCommand, e.CommandType))
	case strings.TrimSpace(e.RoomID) == "":
		return NewCommandError(Malformed, op, "", fmt.Errorf("%w: missing room id", ErrMalformedCommand))
	}
	return nil
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (e Envelope) Decode(v any) error {
	if len(bytes.TrimSpace(e.Payload)) == 0 || bytes.Equal(bytes.TrimSpace(e.Payload), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return NewCommandError(Malformed, "decode "+string(e.CommandType), e.RoomID, fmt.Errorf("%w: %v", ErrMalformedCommand, err))
	}
	return nil
}

// CheckSender verifies that the identity declared inside the payload, when
// present, matches the envelope sender.
func (e Envelope) CheckSender(declared string) error {
	if declared == "" || declared == e.SenderIdentity {
		return nil
	}
	return NewCommandError(AuthMismatch, string(e.CommandType), e.RoomID,
		fmt.Errorf("%w: envelope %q payload %q", ErrAuthMismatch, e.SenderIdentity, declared))
}

func NewEnvelope(sender string, typ CommandType, roomID string, payload any) (Envelope, error) {
	env := Envelope{SenderIdentity: sender, CommandType: typ, RoomID: roomID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		env.Payload = raw
	}
	return env, nil
}

type CreateRoomPayload struct {
	Title        string   `json:"title"`
	Kind         RoomKind `json:"kind"`
	Creator      string   `json:"creator"`
	Participants []string `json:"participants"`
}

type InvitePayload struct {
	Inviter string   `json:"inviter"`
	Targets []string `json:"targets"`
}

type SendPayload struct {
	Sender  string       `json:"sender"`
	Type    MessageType  `json:"type"`
	Content string       `json:"content,omitempty"`
	Image   *ImageUpload `json:"image,omitempty"`
}

// ImageUpload carries base64 encoded bytes and the client's file name.
type ImageUpload struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// MemberPayload is shared by JOIN, LEAVE and OUT.
type MemberPayload struct {
	Sender string `json:"sender"`
}

// DeclaredSender returns the identity the payload claims to act for: the
// creator of a CREATE, the inviter of an INVITE, the sender otherwise.
func (e Envelope) DeclaredSender() (string, error) {
	var claims struct {
		Creator string `json:"creator"`
		Inviter string `json:"inviter"`
		Sender  string `json:"sender"`
	}
	if err := e.Decode(&claims); err != nil {
		return "", err
	}
	switch e.CommandType {
	case CommandCreate:
		return claims.Creator, nil
	case CommandInvite:
		return claims.Inviter, nil
	}
	return claims.Sender, nil
}
