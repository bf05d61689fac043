package bus

import "context"

// InboundMessage is the host-framework event shape committed by channel
// adapters after normalization.
type InboundMessage struct {
	Channel    string            `json:"channel"`
	SenderID   string            `json:"sender_id"`
	SenderName string            `json:"sender_name,omitempty"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	Media      []string          `json:"media,omitempty"`
	SessionKey string            `json:"session_key"`
	MessageID  string            `json:"message_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is one reply routed back through its originating channel.
// Media entries are image references: http(s) URLs, data: URLs, or
// base64:// payloads.
type OutboundMessage struct {
	Channel    string            `json:"channel"`
	ChatID     string            `json:"chat_id"`
	SessionKey string            `json:"session_key,omitempty"`
	Content    string            `json:"content"`
	Media      []string          `json:"media,omitempty"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SendFunc delivers one outbound message through its originating channel.
type SendFunc func(context.Context, OutboundMessage) error
