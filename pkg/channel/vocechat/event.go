package vocechat

import (
	"context"
	"encoding/base64"
	"strings"

	"vocebridge/pkg/bus"
	"vocebridge/pkg/message"
)

const sessionPrefix = "vocechat:"

// sessionFor derives the conversation key from a normalized message. Group
// traffic shares one session per group; everything else is keyed by sender.
func sessionFor(msg *message.Normalized) string {
	if msg.SessionID != "" {
		return msg.SessionID
	}
	if msg.Kind == message.KindGroupMessage && msg.GroupID != "" {
		return msg.GroupID
	}
	return msg.SenderID
}

// replyTarget picks where a reply to msg should go: the group it arrived in,
// or the sender directly.
func replyTarget(msg *message.Normalized) message.SendTarget {
	if msg.Kind == message.KindGroupMessage && msg.GroupID != "" {
		return message.SendTarget{Kind: message.TargetGroup, ID: msg.GroupID}
	}
	return message.SendTarget{Kind: message.TargetDirect, ID: msg.SenderID}
}

// wrapEvent translates a normalized message into the bus event shape the host
// framework consumes. Image segments cross the bus as data: URLs.
func (a *Adapter) wrapEvent(msg *message.Normalized) bus.InboundMessage {
	var media []string
	for _, segment := range msg.Segments {
		if img, ok := segment.(message.ImageSegment); ok {
			mimeType := img.MimeType
			if mimeType == "" {
				mimeType = "image/png"
			}
			media = append(media, "data:"+mimeType+";base64,"+base64.StdEncoding.EncodeToString(img.Data))
		}
	}

	return bus.InboundMessage{
		Channel:    channelName,
		SenderID:   msg.SenderID,
		SenderName: msg.Nickname,
		ChatID:     replyTarget(msg).ChatID(),
		Content:    message.PlainText(msg.Segments),
		Media:      media,
		SessionKey: sessionPrefix + sessionFor(msg),
		MessageID:  msg.MessageID,
		Metadata: map[string]string{
			"kind":    msg.Kind.String(),
			"self_id": msg.SelfID,
		},
	}
}

// Send delivers one outbound bus message to the platform.
func (a *Adapter) Send(ctx context.Context, out bus.OutboundMessage) error {
	target, err := message.ParseTarget(out.ChatID)
	if err != nil {
		return err
	}

	a.dispatcher.Dispatch(ctx, target, a.outboundSegments(out))
	return nil
}

// outboundSegments converts the bus reply shape into send segments. Error
// text replaces missing content; unrecognized media entries are dropped with
// a warning.
func (a *Adapter) outboundSegments(out bus.OutboundMessage) []message.OutboundSegment {
	var segments []message.OutboundSegment

	text := out.Content
	if text == "" && out.Error != "" {
		text = out.Error
	}
	if text != "" {
		segments = append(segments, message.OutboundText{Text: text})
	}

	for _, entry := range out.Media {
		segment, ok := a.imageSegment(entry)
		if !ok {
			a.log.Warn("Dropping unrecognized media entry", "chat_id", out.ChatID)
			continue
		}
		segments = append(segments, segment)
	}

	return segments
}

// imageSegment decodes one media reference: an http(s) URL, a data: URL, or
// a bare base64:// payload.
func (a *Adapter) imageSegment(entry string) (message.OutboundImage, bool) {
	switch {
	case strings.HasPrefix(entry, "http://"), strings.HasPrefix(entry, "https://"):
		return message.OutboundImage{URL: entry}, true

	case strings.HasPrefix(entry, "data:"):
		meta, payload, found := strings.Cut(strings.TrimPrefix(entry, "data:"), ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return message.OutboundImage{}, false
		}
		mimeType := strings.TrimSuffix(meta, ";base64")
		return message.OutboundImage{
			Base64:   payload,
			Filename: "image" + extForMime(mimeType),
		}, true

	case strings.HasPrefix(entry, "base64://"):
		return message.OutboundImage{
			Base64:   strings.TrimPrefix(entry, "base64://"),
			Filename: "image.png",
		}, true
	}

	return message.OutboundImage{}, false
}

func extForMime(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
