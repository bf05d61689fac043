package vocechat

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vocebridge/pkg/config"
	"vocebridge/pkg/message"
)

func newTestConverter(serverURL string, nicknameFromAPI bool) *converter {
	log := slog.Default()
	cl := newClient(serverURL, "test-key", log)
	return &converter{
		cfg:      config.VoceChatConfig{ServerURL: serverURL, APIKey: "test-key", BotUID: "5"},
		client:   cl,
		resolver: newNicknameResolver(cl, nicknameFromAPI, log),
		log:      log,
	}
}

func TestConvertGroupMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"Alice"}`))
	}))
	t.Cleanup(server.Close)

	cv := newTestConverter(server.URL, true)
	payload := []byte(`{"detail":{"content":"hi","content_type":"text/plain"},"from_uid":"42","mid":"m1","target":{"gid":7}}`)

	msg, err := cv.Convert(context.Background(), payload)
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if msg == nil {
		t.Fatal("expected a message")
	}

	if msg.Kind != message.KindGroupMessage {
		t.Fatalf("kind = %v, want group", msg.Kind)
	}
	if msg.SessionID != "7" {
		t.Fatalf("session id = %q, want %q", msg.SessionID, "7")
	}
	if msg.GroupID != "7" {
		t.Fatalf("group id = %q, want %q", msg.GroupID, "7")
	}
	if msg.SenderID != "42" {
		t.Fatalf("sender id = %q, want %q", msg.SenderID, "42")
	}
	if msg.Nickname != "Alice" {
		t.Fatalf("nickname = %q, want %q", msg.Nickname, "Alice")
	}
	if msg.MessageID != "m1" {
		t.Fatalf("message id = %q, want %q", msg.MessageID, "m1")
	}
	if msg.SelfID != "5" {
		t.Fatalf("self id = %q, want %q", msg.SelfID, "5")
	}
	if got := message.PlainText(msg.Segments); got != "hi" {
		t.Fatalf("plain text = %q, want %q", got, "hi")
	}
}

func TestConvertDirectMessageRoutesBySender(t *testing.T) {
	cv := newTestConverter("http://invalid.localhost", false)
	payload := []byte(`{"detail":{"content":"hello","content_type":"text/markdown"},"from_uid":42,"mid":99,"target":{"uid":5}}`)

	msg, err := cv.Convert(context.Background(), payload)
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if msg == nil {
		t.Fatal("expected a message")
	}

	if msg.Kind != message.KindDirectMessage {
		t.Fatalf("kind = %v, want direct", msg.Kind)
	}
	if msg.SessionID != "42" {
		t.Fatalf("session id = %q, want sender id", msg.SessionID)
	}
	if msg.Nickname != "User_42" {
		t.Fatalf("nickname = %q, want fallback", msg.Nickname)
	}
	if msg.MessageID != "99" {
		t.Fatalf("message id = %q, want %q", msg.MessageID, "99")
	}
}

func TestConvertAmbiguousTargetDefaultsToDirect(t *testing.T) {
	cv := newTestConverter("http://invalid.localhost", false)
	payload := []byte(`{"detail":{"content":"hi"},"from_uid":42,"mid":1,"target":{}}`)

	msg, err := cv.Convert(context.Background(), payload)
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if msg == nil {
		t.Fatal("expected a message")
	}
	if msg.Kind != message.KindDirectMessage {
		t.Fatalf("kind = %v, want direct", msg.Kind)
	}
	if msg.SessionID != "42" {
		t.Fatalf("session id = %q, want %q", msg.SessionID, "42")
	}
}

func TestConvertRejectsInvalidSender(t *testing.T) {
	cv := newTestConverter("http://invalid.localhost", false)

	cases := map[string]string{
		"missing":     `{"detail":{"content":"hi"},"target":{"uid":5}}`,
		"null":        `{"detail":{"content":"hi"},"from_uid":null,"target":{"uid":5}}`,
		"zero":        `{"detail":{"content":"hi"},"from_uid":0,"target":{"uid":5}}`,
		"none string": `{"detail":{"content":"hi"},"from_uid":"None","target":{"uid":5}}`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			msg, err := cv.Convert(context.Background(), []byte(payload))
			if err != nil {
				t.Fatalf("Convert error: %v", err)
			}
			if msg != nil {
				t.Fatalf("expected discard, got %+v", msg)
			}
		})
	}
}

func TestConvertMalformedPayload(t *testing.T) {
	cv := newTestConverter("http://invalid.localhost", false)

	if _, err := cv.Convert(context.Background(), []byte("{not json")); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestConvertNewUserFromProperties(t *testing.T) {
	cv := newTestConverter("http://invalid.localhost", false)
	payload := []byte(`{"detail":{"content":"newuser","properties":{"user":{"uid":99,"name":"Bob"}}},"from_uid":0,"created_at":1700000000}`)

	msg, err := cv.Convert(context.Background(), payload)
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if msg == nil {
		t.Fatal("expected a message")
	}

	if msg.Kind != message.KindSystemEvent {
		t.Fatalf("kind = %v, want system event", msg.Kind)
	}
	if msg.SenderID != "99" {
		t.Fatalf("sender id = %q, want %q", msg.SenderID, "99")
	}
	if msg.Nickname != "Bob" {
		t.Fatalf("nickname = %q, want %q", msg.Nickname, "Bob")
	}
	if got := message.PlainText(msg.Segments); got != "new_user_event:99" {
		t.Fatalf("plain text = %q, want %q", got, "new_user_event:99")
	}
	if msg.MessageID != "1700000000" {
		t.Fatalf("message id = %q, want created_at fallback", msg.MessageID)
	}
	if msg.SessionID != "99" {
		t.Fatalf("session id = %q, want %q", msg.SessionID, "99")
	}
}

func TestConvertNewUserWithoutUsableIDIsDiscarded(t *testing.T) {
	cv := newTestConverter("http://invalid.localhost", false)
	payload := []byte(`{"detail":{"content":"newuser"},"from_uid":0}`)

	msg, err := cv.Convert(context.Background(), payload)
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if msg != nil {
		t.Fatalf("expected discard, got %+v", msg)
	}
}

func TestConvertImageDownload(t *testing.T) {
	imageBytes := []byte{0x89, 0x50, 0x4e, 0x47}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/resource/file") {
			_, _ = w.Write(imageBytes)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	cv := newTestConverter(server.URL, false)
	payload := []byte(`{"detail":{"content":"path/to/pic","content_type":"vocechat/file","properties":{"files":[{"name":"pic.png","content_type":"image/png","path":"path/to/pic"}]}},"from_uid":42,"mid":1,"target":{"uid":5}}`)

	msg, err := cv.Convert(context.Background(), payload)
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if msg == nil {
		t.Fatal("expected a message")
	}
	if len(msg.Segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(msg.Segments))
	}

	img, ok := msg.Segments[0].(message.ImageSegment)
	if !ok {
		t.Fatalf("segment = %T, want image", msg.Segments[0])
	}
	if string(img.Data) != string(imageBytes) {
		t.Fatal("image bytes do not match")
	}
	if img.MimeType != "image/png" {
		t.Fatalf("mime type = %q, want %q", img.MimeType, "image/png")
	}
}

func TestConvertImageDownloadFailedPlaceholder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	cv := newTestConverter(server.URL, false)
	payload := []byte(`{"detail":{"content":"path/to/pic","content_type":"vocechat/file","properties":{"files":[{"name":"pic.png","content_type":"image/png","path":"path/to/pic"}]}},"from_uid":42,"mid":1,"target":{"uid":5}}`)

	msg, err := cv.Convert(context.Background(), payload)
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if got := message.PlainText(msg.Segments); got != "[image download failed: pic.png]" {
		t.Fatalf("plain text = %q, want download-failed placeholder", got)
	}
}

func TestConvertImageDownloadTimeoutPlaceholder(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	cv := newTestConverter(server.URL, false)
	payload := []byte(`{"detail":{"content":"path/to/pic","content_type":"vocechat/file","properties":{"files":[{"name":"pic.png","content_type":"image/png","path":"path/to/pic"}]}},"from_uid":42,"mid":1,"target":{"uid":5}}`)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	msg, err := cv.Convert(ctx, payload)
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}

	select {
	case <-started:
	default:
		t.Fatal("expected the download request to reach the server")
	}
	if got := message.PlainText(msg.Segments); got != "[image download timeout: pic.png]" {
		t.Fatalf("plain text = %q, want timeout placeholder", got)
	}
}

func TestConvertImageProcessingErrorPlaceholder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serverURL := server.URL
	server.Close()

	cv := newTestConverter(serverURL, false)
	payload := []byte(`{"detail":{"content":"path/to/pic","content_type":"vocechat/file","properties":{"files":[{"name":"pic.png","content_type":"image/png","path":"path/to/pic"}]}},"from_uid":42,"mid":1,"target":{"uid":5}}`)

	msg, err := cv.Convert(context.Background(), payload)
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if got := message.PlainText(msg.Segments); got != "[image processing error: pic.png]" {
		t.Fatalf("plain text = %q, want processing-error placeholder", got)
	}
}

func TestConvertNonImageFileBecomesNotice(t *testing.T) {
	cv := newTestConverter("http://invalid.localhost", false)
	payload := []byte(`{"detail":{"content":"path/to/doc","content_type":"vocechat/file","properties":{"files":[{"name":"report.pdf","content_type":"application/pdf","path":"path/to/doc"}]}},"from_uid":42,"mid":1,"target":{"uid":5}}`)

	msg, err := cv.Convert(context.Background(), payload)
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}

	notice, ok := msg.Segments[0].(message.FileNoticeSegment)
	if !ok {
		t.Fatalf("segment = %T, want file notice", msg.Segments[0])
	}
	if notice.Filename != "report.pdf" {
		t.Fatalf("filename = %q, want %q", notice.Filename, "report.pdf")
	}
}

func TestConvertFileWithoutPathPlaceholder(t *testing.T) {
	cv := newTestConverter("http://invalid.localhost", false)
	payload := []byte(`{"detail":{"content":"","content_type":"vocechat/file","properties":{"name":"mystery.bin","content_type":"image/png"}},"from_uid":42,"mid":1,"target":{"uid":5}}`)

	msg, err := cv.Convert(context.Background(), payload)
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if got := message.PlainText(msg.Segments); got != "[invalid file path: mystery.bin]" {
		t.Fatalf("plain text = %q, want invalid-path placeholder", got)
	}
}

func TestConvertUnknownContentTypeFallsBackToText(t *testing.T) {
	cv := newTestConverter("http://invalid.localhost", false)
	payload := []byte(`{"detail":{"content":"something","content_type":"application/x-custom"},"from_uid":42,"mid":1,"target":{"uid":5}}`)

	msg, err := cv.Convert(context.Background(), payload)
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if got := message.PlainText(msg.Segments); got != "something" {
		t.Fatalf("plain text = %q, want raw content", got)
	}
}

func TestRawString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want string
	}{
		{name: "absent", raw: "", want: ""},
		{name: "null", raw: "null", want: ""},
		{name: "number", raw: "42", want: "42"},
		{name: "string", raw: `"42"`, want: "42"},
		{name: "quoted text", raw: `"hello"`, want: "hello"},
		{name: "float", raw: "3.5", want: "3.5"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := rawString([]byte(tc.raw)); got != tc.want {
				t.Fatalf("rawString(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestMessageIDGeneratedWhenMissing(t *testing.T) {
	t.Parallel()

	if got := messageID([]byte("null"), nil); got == "" {
		t.Fatal("expected generated message id")
	}
	if got := messageID(nil, []byte("123")); got != "123" {
		t.Fatalf("message id = %q, want created_at fallback", got)
	}
	if got := messageID([]byte(`"m1"`), []byte("123")); got != "m1" {
		t.Fatalf("message id = %q, want mid", got)
	}
}
