package vocechat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"vocebridge/pkg/message"
)

// dispatcher delivers outbound segments to the VoceChat send endpoints, one
// HTTP request per segment.
type dispatcher struct {
	client   *client
	markdown bool
	log      *slog.Logger
}

// Dispatch sends each segment independently and in order. A failed segment
// is logged and never stops the segments after it.
func (d *dispatcher) Dispatch(ctx context.Context, target message.SendTarget, segments []message.OutboundSegment) {
	if strings.TrimSpace(target.ID) == "" {
		d.log.Error("Dropping outbound message without a target id")
		return
	}

	sendURL := d.sendURL(target)
	for i, segment := range segments {
		contentType, body, ok := d.encode(segment)
		if !ok {
			d.log.Warn("Skipping unsendable segment", "segment", i+1, "target", target.ChatID())
			continue
		}

		if err := d.client.post(ctx, sendURL, contentType, body); err != nil {
			d.log.Error("Failed to send segment", "segment", i+1, "target", target.ChatID(), "error", err)
			continue
		}
		d.log.Info("Sent segment", "segment", i+1, "target", target.ChatID(), "content_type", contentType)
	}
}

func (d *dispatcher) sendURL(target message.SendTarget) string {
	if target.Kind == message.TargetGroup {
		return d.client.baseURL + "/api/bot/send_to_group/" + target.ID
	}
	return d.client.baseURL + "/api/bot/send_to_user/" + target.ID
}

// encode picks body bytes and content type per segment shape. ok=false means
// the segment has no sendable representation.
func (d *dispatcher) encode(segment message.OutboundSegment) (contentType string, body []byte, ok bool) {
	switch s := segment.(type) {
	case message.OutboundText:
		contentType = contentTypePlain
		if s.Markdown || d.markdown {
			contentType = contentTypeMarkdown
		}
		return contentType, []byte(s.Text), true

	case message.OutboundImage:
		if s.Base64 != "" {
			if _, err := base64.StdEncoding.DecodeString(s.Base64); err != nil {
				d.log.Warn("Image segment has an invalid base64 payload", "error", err)
				return "", nil, false
			}
			dataURL := "data:" + imageMime(s.Filename) + ";base64," + s.Base64
			body, err := json.Marshal(map[string]string{"archive_id": dataURL})
			if err != nil {
				return "", nil, false
			}
			return contentTypeFile, body, true
		}
		if strings.HasPrefix(s.URL, "http") {
			return contentTypeMarkdown, []byte("![](" + s.URL + ")"), true
		}
		d.log.Warn("Image segment has neither inline data nor a URL")
		return "", nil, false
	}

	return "", nil, false
}

// imageMime guesses an image mime type from the filename extension.
func imageMime(filename string) string {
	if ext := filepath.Ext(filename); ext != "" {
		if guessed := mime.TypeByExtension(ext); strings.HasPrefix(guessed, "image/") {
			return guessed
		}
	}
	return "image/png"
}
