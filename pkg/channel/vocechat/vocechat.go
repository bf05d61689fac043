// Package vocechat bridges a VoceChat server into VoceBridge: it receives
// platform webhooks, normalizes them onto the message bus, and delivers
// replies through the bot REST API.
package vocechat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"vocebridge/pkg/channel"
	"vocebridge/pkg/config"
)

const channelName = "vocechat"

const (
	defaultWebhookPath = "/vocechat_webhook"
	defaultWebhookHost = "0.0.0.0"
	defaultWebhookPort = 8080

	maxWebhookBody  = 10 << 20
	shutdownTimeout = 5 * time.Second
)

// Adapter is the VoceChat channel implementation.
type Adapter struct {
	cfg config.VoceChatConfig
	log *slog.Logger

	client     *client
	resolver   *nicknameResolver
	converter  *converter
	dispatcher *dispatcher
}

var _ channel.Adapter = (*Adapter)(nil)

// NewAdapter builds the adapter from config. Missing credentials are logged
// rather than fatal, so the webhook can still come up for diagnostics.
func NewAdapter(cfg config.VoceChatConfig, log *slog.Logger) *Adapter {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = defaultWebhookPath
	}
	if cfg.WebhookHost == "" {
		cfg.WebhookHost = defaultWebhookHost
	}
	if cfg.WebhookPort == 0 {
		cfg.WebhookPort = defaultWebhookPort
	}

	if cfg.ServerURL == "" {
		log.Error("VoceChat server_url is not configured, API calls will fail")
	}
	if cfg.APIKey == "" {
		log.Error("VoceChat api_key is not configured, API calls will fail")
	}
	if cfg.BotUID == "" || cfg.BotUID == "0" {
		log.Warn("VoceChat bot_uid is not configured, self_id will be empty")
	}

	cl := newClient(cfg.ServerURL, cfg.APIKey, log)
	resolver := newNicknameResolver(cl, cfg.NicknameFromAPI, log)

	return &Adapter{
		cfg:      cfg,
		log:      log,
		client:   cl,
		resolver: resolver,
		converter: &converter{
			cfg:      cfg,
			client:   cl,
			resolver: resolver,
			log:      log,
		},
		dispatcher: &dispatcher{
			client:   cl,
			markdown: cfg.SendPlainAsMarkdown,
			log:      log,
		},
	}
}

func (a *Adapter) Name() string {
	return channelName
}

// Run serves the webhook listener until ctx is canceled or the listener
// fails. Teardown order is fixed: the listener drains first, the API client
// closes last.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	mux := http.NewServeMux()
	mux.HandleFunc(a.cfg.WebhookPath, a.webhookHandler(handler))

	addr := fmt.Sprintf("%s:%d", a.cfg.WebhookHost, a.cfg.WebhookPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErrors := make(chan error, 1)
	go func() {
		a.log.Info("VoceChat webhook listening", "addr", addr, "path", a.cfg.WebhookPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrors <- err
		}
		close(serveErrors)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err, ok := <-serveErrors:
		if ok && err != nil {
			runErr = fmt.Errorf("webhook listener: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("Webhook listener shutdown error", "error", err)
	}
	a.client.close()

	a.log.Info("VoceChat adapter stopped")
	return runErr
}

// webhookHandler answers the platform's verification GET and processes event
// POSTs. A panic anywhere in processing becomes a 500, never a crash.
func (a *Adapter) webhookHandler(handler channel.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.log.Error("Panic while handling webhook", "panic", rec)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, "OK")
		case http.MethodPost:
			a.handleEvent(w, r, handler)
		default:
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		}
	}
}

func (a *Adapter) handleEvent(w http.ResponseWriter, r *http.Request, handler channel.Handler) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		a.log.Warn("Failed to read webhook body", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	msg, err := a.converter.Convert(r.Context(), payload)
	if err != nil {
		a.log.Warn("Rejecting malformed webhook payload", "error", err)
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if msg == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "OK")
		return
	}

	event := a.wrapEvent(msg)
	a.log.Info("Received message",
		"kind", msg.Kind.String(),
		"sender", msg.Nickname,
		"session", event.SessionKey,
		"preview", previewText(event.Content, 80),
	)

	if err := handler(r.Context(), event); err != nil {
		a.log.Error("Failed to commit inbound message", "error", err, "message_id", msg.MessageID)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

func previewText(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
