package vocechat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"vocebridge/pkg/config"
	"vocebridge/pkg/message"
)

const (
	contentTypePlain    = "text/plain"
	contentTypeMarkdown = "text/markdown"
	contentTypeFile     = "vocechat/file"
)

// webhookEvent mirrors the loosely-typed VoceChat webhook payload. Id-like
// fields arrive as numbers or strings depending on the event, so they stay
// raw until coerced.
type webhookEvent struct {
	Detail struct {
		Content     json.RawMessage `json:"content"`
		ContentType string          `json:"content_type"`
		Properties  json.RawMessage `json:"properties"`
	} `json:"detail"`
	FromUID json.RawMessage `json:"from_uid"`
	MID     json.RawMessage `json:"mid"`
	Target  struct {
		GID json.RawMessage `json:"gid"`
		UID json.RawMessage `json:"uid"`
	} `json:"target"`
	CreatedAt json.RawMessage `json:"created_at"`
}

type fileMeta struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Path        string `json:"path"`
}

// eventProperties covers the two observed shapes of detail.properties: file
// metadata either under files[0] or inlined, plus the new-user block.
type eventProperties struct {
	Name        string     `json:"name"`
	ContentType string     `json:"content_type"`
	Files       []fileMeta `json:"files"`
	User        *struct {
		UID  json.RawMessage `json:"uid"`
		Name string          `json:"name"`
	} `json:"user"`
}

// converter turns webhook payloads into normalized messages.
type converter struct {
	cfg      config.VoceChatConfig
	client   *client
	resolver *nicknameResolver
	log      *slog.Logger
}

// Convert returns (nil, nil) when the payload should be silently ignored.
// The returned error is non-nil only when the payload is not valid JSON, so
// the webhook can answer 400.
func (cv *converter) Convert(ctx context.Context, payload []byte) (*message.Normalized, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("parse webhook payload: %w", err)
	}

	content := rawString(event.Detail.Content)
	contentType := event.Detail.ContentType
	if contentType == "" {
		contentType = contentTypePlain
	}
	fromUID := rawString(event.FromUID)

	var props eventProperties
	if len(event.Detail.Properties) > 0 {
		// Best effort: malformed properties degrade to defaults below.
		_ = json.Unmarshal(event.Detail.Properties, &props)
	}

	if strings.EqualFold(strings.TrimSpace(content), "newuser") {
		return cv.convertNewUser(event, props, fromUID, payload), nil
	}

	if fromUID == "" || fromUID == "None" || fromUID == "0" {
		cv.log.Warn("Discarding message without a valid sender", "from_uid", fromUID)
		return nil, nil
	}

	msg := &message.Normalized{
		SenderID:  fromUID,
		Nickname:  cv.resolver.Resolve(ctx, fromUID),
		MessageID: messageID(event.MID, event.CreatedAt),
		SelfID:    cv.cfg.BotUID,
		Raw:       payload,
	}

	switch contentType {
	case contentTypePlain, contentTypeMarkdown:
		msg.Segments = append(msg.Segments, message.TextSegment{Text: content})
	case contentTypeFile:
		msg.Segments = append(msg.Segments, cv.fileSegment(ctx, content, props))
	default:
		text := content
		if text == "" {
			text = "[unknown type]"
		}
		cv.log.Warn("Unknown content type", "content_type", contentType)
		msg.Segments = append(msg.Segments, message.TextSegment{Text: text})
	}

	cv.route(msg, event)

	if len(msg.Segments) == 0 {
		cv.log.Debug("Final segment list is empty, discarding", "message_id", msg.MessageID)
		return nil, nil
	}

	return msg, nil
}

// convertNewUser handles the member-joined system event. The joining user's
// id usually arrives under properties.user when from_uid is the system "0".
func (cv *converter) convertNewUser(event webhookEvent, props eventProperties, fromUID string, payload []byte) *message.Normalized {
	newUserID := fromUID
	nickname := "NewUser_" + fromUID
	if fromUID == "0" && props.User != nil {
		if uid := rawString(props.User.UID); uid != "" {
			newUserID = uid
			nickname = strings.TrimSpace(props.User.Name)
			if nickname == "" {
				nickname = "NewUser_" + uid
			}
		}
	}

	if newUserID == "" || newUserID == "0" || newUserID == "None" {
		cv.log.Warn("Discarding newuser event without a resolvable user id")
		return nil
	}

	msg := &message.Normalized{
		Kind:      message.KindSystemEvent,
		SenderID:  newUserID,
		Nickname:  nickname,
		Segments:  []message.Segment{message.TextSegment{Text: "new_user_event:" + newUserID}},
		MessageID: messageID(event.MID, event.CreatedAt),
		SelfID:    cv.cfg.BotUID,
		Raw:       payload,
	}

	if gid := rawString(event.Target.GID); gid != "" {
		msg.GroupID = gid
		msg.SessionID = gid
	} else {
		msg.SessionID = newUserID
	}

	return msg
}

// fileSegment resolves file metadata and, for images, downloads the binary.
// Exactly one segment comes back; every failure mode has a distinct text
// placeholder.
func (cv *converter) fileSegment(ctx context.Context, content string, props eventProperties) message.Segment {
	fileName := "file"
	mimeType := "application/octet-stream"
	filePath := content

	if len(props.Files) > 0 {
		meta := props.Files[0]
		if meta.Name != "" {
			fileName = meta.Name
		}
		if meta.ContentType != "" {
			mimeType = meta.ContentType
		}
		if filePath == "" {
			filePath = meta.Path
		}
	} else {
		if props.Name != "" {
			fileName = props.Name
		}
		if props.ContentType != "" {
			mimeType = props.ContentType
		}
	}

	if strings.TrimSpace(filePath) == "" {
		cv.log.Warn("File message without a usable path", "file_name", fileName)
		return message.TextSegment{Text: "[invalid file path: " + fileName + "]"}
	}

	if !strings.HasPrefix(mimeType, "image/") {
		cv.log.Info("Received non-image file", "file_name", fileName, "mime_type", mimeType)
		return message.FileNoticeSegment{Filename: fileName}
	}

	data, err := cv.client.downloadFile(ctx, filePath)
	if err == nil {
		return message.ImageSegment{Data: data, MimeType: mimeType}
	}

	var statusErr *statusError
	switch {
	case errors.As(err, &statusErr):
		cv.log.Error("Image download failed", "file_name", fileName, "status", statusErr.Code)
		return message.TextSegment{Text: "[image download failed: " + fileName + "]"}
	case errors.Is(err, context.DeadlineExceeded):
		cv.log.Warn("Image download timed out", "file_name", fileName)
		return message.TextSegment{Text: "[image download timeout: " + fileName + "]"}
	default:
		cv.log.Error("Image processing failed", "file_name", fileName, "error", err)
		return message.TextSegment{Text: "[image processing error: " + fileName + "]"}
	}
}

// route sets message kind and session per the webhook target: a group id
// wins, a direct uid routes by sender, anything else defaults to direct.
func (cv *converter) route(msg *message.Normalized, event webhookEvent) {
	if gid := rawString(event.Target.GID); gid != "" {
		msg.Kind = message.KindGroupMessage
		msg.GroupID = gid
		msg.SessionID = gid
		return
	}

	if uid := rawString(event.Target.UID); uid != "" {
		msg.Kind = message.KindDirectMessage
		msg.SessionID = msg.SenderID
		return
	}

	cv.log.Warn("Ambiguous message target, assuming direct message", "sender_id", msg.SenderID)
	msg.Kind = message.KindDirectMessage
	msg.SessionID = msg.SenderID
}

// messageID falls back to created_at, then a generated id, when the payload
// omits or nulls mid.
func messageID(mid, createdAt json.RawMessage) string {
	if id := rawString(mid); id != "" && id != "None" {
		return id
	}
	if ts := rawString(createdAt); ts != "" {
		return ts
	}
	return uuid.NewString()
}

// rawString coerces a raw JSON scalar into its string form. Absent and null
// both come back empty; numbers keep their literal text.
func rawString(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	return trimmed
}
