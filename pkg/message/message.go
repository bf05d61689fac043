package message

import (
	"errors"
	"strings"
)

// Kind classifies a normalized inbound message.
type Kind int

const (
	KindSystemEvent Kind = iota
	KindGroupMessage
	KindDirectMessage
)

func (k Kind) String() string {
	switch k {
	case KindSystemEvent:
		return "system_event"
	case KindGroupMessage:
		return "group_message"
	case KindDirectMessage:
		return "direct_message"
	default:
		return "unknown"
	}
}

// Segment is one unit of inbound message content. Segment order is
// user-visible and must be preserved.
type Segment interface {
	segment()
}

// TextSegment carries plain message text.
type TextSegment struct {
	Text string
}

// ImageSegment carries downloaded image bytes with their declared mime type.
type ImageSegment struct {
	Data     []byte
	MimeType string
}

// FileNoticeSegment is a placeholder for a non-image file whose binary is
// never fetched.
type FileNoticeSegment struct {
	Filename string
}

func (TextSegment) segment()       {}
func (ImageSegment) segment()      {}
func (FileNoticeSegment) segment() {}

// Normalized is the canonical platform-neutral inbound message.
type Normalized struct {
	Kind      Kind
	SenderID  string
	Nickname  string
	Segments  []Segment
	SessionID string
	GroupID   string
	MessageID string
	SelfID    string

	// Raw retains the original webhook payload for diagnostics only.
	Raw []byte
}

// PlainText flattens segments into a single display string, one line per
// segment.
func PlainText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, segment := range segments {
		switch s := segment.(type) {
		case TextSegment:
			parts = append(parts, s.Text)
		case ImageSegment:
			parts = append(parts, "[image]")
		case FileNoticeSegment:
			parts = append(parts, "Received file: "+s.Filename)
		}
	}

	return strings.Join(parts, "\n")
}

// OutboundSegment mirrors Segment for the send direction.
type OutboundSegment interface {
	outbound()
}

// OutboundText is message text sent either as plain text or markdown.
type OutboundText struct {
	Text     string
	Markdown bool
}

// OutboundImage carries either an inline base64 payload with a filename used
// for mime guessing, or a remote URL.
type OutboundImage struct {
	Base64   string
	Filename string
	URL      string
}

func (OutboundText) outbound()  {}
func (OutboundImage) outbound() {}

// TargetKind distinguishes direct and group send targets.
type TargetKind int

const (
	TargetDirect TargetKind = iota
	TargetGroup
)

// SendTarget identifies where one reply is delivered. Targets are constructed
// per reply and never cached.
type SendTarget struct {
	Kind TargetKind
	ID   string
}

// ChatID renders the bus chat identifier, "user:42" or "group:7".
func (t SendTarget) ChatID() string {
	if t.Kind == TargetGroup {
		return "group:" + t.ID
	}
	return "user:" + t.ID
}

// ParseTarget parses a bus chat identifier into a send target. A bare id is
// treated as a direct target.
func ParseTarget(chatID string) (SendTarget, error) {
	trimmed := strings.TrimSpace(chatID)
	if trimmed == "" {
		return SendTarget{}, errors.New("empty chat id")
	}

	kind, id, found := strings.Cut(trimmed, ":")
	if !found {
		return SendTarget{Kind: TargetDirect, ID: trimmed}, nil
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return SendTarget{}, errors.New("chat id has no target id: " + trimmed)
	}

	switch kind {
	case "user":
		return SendTarget{Kind: TargetDirect, ID: id}, nil
	case "group":
		return SendTarget{Kind: TargetGroup, ID: id}, nil
	default:
		return SendTarget{}, errors.New("unknown chat id prefix: " + kind)
	}
}
