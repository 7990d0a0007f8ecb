package ws

import (
	"github.com/hilthontt/parley/internal/domain"
	"github.com/hilthontt/parley/internal/router"
)

// Client frame types.
const (
	FrameSubscribe   = "SUBSCRIBE"
	FrameUnsubscribe = "UNSUBSCRIBE"
	FrameSend        = "SEND"
)

// Server frame types.
const (
	FrameConnected = "CONNECTED"
	FrameMessage   = "MESSAGE"
	FrameError     = "ERROR"
)

// InboundFrame is what a client writes. SUBSCRIBE carries ID and
// Destination, UNSUBSCRIBE carries ID, SEND carries Command.
type InboundFrame struct {
	Type        string          `json:"type"`
	ID          string          `json:"id,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Command     *router.Command `json:"command,omitempty"`
}

type OutboundFrame struct {
	Type         string        `json:"type"`
	Subscription string        `json:"subscription,omitempty"`
	Destination  string        `json:"destination,omitempty"`
	Event        *domain.Event `json:"event,omitempty"`
	Message      string        `json:"message,omitempty"`
	Identity     string        `json:"identity,omitempty"`
}

func connectedFrame(identity string) OutboundFrame {
	return OutboundFrame{Type: FrameConnected, Identity: identity}
}

func messageFrame(subID, destination string, e domain.Event) OutboundFrame {
	return OutboundFrame{Type: FrameMessage, Subscription: subID, Destination: destination, Event: &e}
}

func errorFrame(message string) OutboundFrame {
	return OutboundFrame{Type: FrameError, Message: message}
}
