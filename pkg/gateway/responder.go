package gateway

import (
	"context"
	"strconv"
	"sync"

	"vocebridge/pkg/bus"
)

// Responder produces the reply for one inbound message. Implementations are
// called concurrently, one goroutine per message.
type Responder interface {
	Respond(ctx context.Context, inbound bus.InboundMessage) (bus.OutboundMessage, error)
}

// EchoResponder is the built-in responder: it greets joining users and echoes
// everything else back into the originating session. It stands in for a real
// host bot until one is wired up.
type EchoResponder struct {
	mu       sync.Mutex
	sessions map[string]int
}

func NewEchoResponder() *EchoResponder {
	return &EchoResponder{sessions: make(map[string]int)}
}

func (e *EchoResponder) Respond(_ context.Context, inbound bus.InboundMessage) (bus.OutboundMessage, error) {
	seq := e.nextSeq(inbound.SessionKey)

	out := bus.OutboundMessage{
		Channel:    inbound.Channel,
		ChatID:     inbound.ChatID,
		SessionKey: inbound.SessionKey,
		Metadata:   map[string]string{"session_seq": strconv.Itoa(seq)},
	}

	if inbound.Metadata["kind"] == "system_event" {
		out.Content = "Welcome, " + inbound.SenderName + "!"
		return out, nil
	}

	out.Content = inbound.Content
	out.Media = inbound.Media
	return out, nil
}

func (e *EchoResponder) nextSeq(sessionKey string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[sessionKey]++
	return e.sessions[sessionKey]
}
