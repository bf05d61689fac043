// Package gateway runs the bridge: channel adapters feed the message bus,
// a responder produces replies, and the outbound loop routes them back to
// their originating channel.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"vocebridge/pkg/bus"
	"vocebridge/pkg/channel"
	"vocebridge/pkg/config"
)

const (
	defaultStatusHost = "0.0.0.0"
	defaultStatusPort = 18790
)

type Service struct {
	cfg       *config.Config
	log       *slog.Logger
	bus       *bus.MessageBus
	responder Responder
	channels  []channel.Adapter

	mu            sync.RWMutex
	startedAt     time.Time
	channelStates map[string]channelState
	counters      eventCounters
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type eventCounters struct {
	Received      int64     `json:"received"`
	RepliesSent   int64     `json:"replies_sent"`
	RepliesFailed int64     `json:"replies_failed"`
	LastEventAt   time.Time `json:"-"`
}

type statusResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Channels      map[string]channelState `json:"channels"`
	Events        eventCounters           `json:"events"`
	LastEventAt   string                  `json:"last_event_at,omitempty"`
}

func NewService(cfg *config.Config, adapters []channel.Adapter, responder Responder, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if responder == nil {
		responder = NewEchoResponder()
	}
	if log == nil {
		log = slog.Default()
	}

	mb := bus.NewMessageBus()
	channelStates := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		channelStates[adapter.Name()] = channelState{}
		mb.RegisterSender(adapter.Name(), adapter.Send)
	}

	return &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		bus:           mb,
		responder:     responder,
		channels:      adapters,
		channelStates: channelStates,
	}, nil
}

// Bus exposes the service's message bus, mainly for tests and embedding.
func (s *Service) Bus() *bus.MessageBus {
	return s.bus
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.bus.Close()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	serverErrors := make(chan error, 1)
	go s.runStatusServer(ctx, serverErrors)

	go s.watchEvents(ctx)
	go s.dispatchLoop(ctx)
	go s.sendLoop(ctx)

	errCh := make(chan error, len(s.channels))
	for _, adapter := range s.channels {
		adapter := adapter
		s.setChannelState(adapter.Name(), channelState{Running: true})

		go func() {
			err := adapter.Run(ctx, s.commitInbound)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErrors:
		return err
	case err := <-errCh:
		return err
	}
}

// commitInbound is the channel.Handler handed to every adapter: queue the
// message and record the receipt event.
func (s *Service) commitInbound(ctx context.Context, inbound bus.InboundMessage) error {
	if !s.bus.PublishInbound(ctx, inbound) {
		return errors.New("message bus is closed")
	}

	s.bus.PublishEvent(ctx, bus.Event{
		Type:       bus.EventMessageReceived,
		Channel:    inbound.Channel,
		ChatID:     inbound.ChatID,
		SessionKey: inbound.SessionKey,
		MessageID:  inbound.MessageID,
		Payload:    map[string]string{"sender": inbound.SenderName},
	})

	return nil
}

// dispatchLoop drains inbound messages and responds to each in its own
// goroutine, so a slow reply never blocks the queue.
func (s *Service) dispatchLoop(ctx context.Context) {
	for {
		inbound, ok := s.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		go s.respond(ctx, inbound)
	}
}

func (s *Service) respond(ctx context.Context, inbound bus.InboundMessage) {
	out, err := s.responder.Respond(ctx, inbound)
	if err != nil {
		s.log.Error("Responder failed", "session", inbound.SessionKey, "error", err)
		out = bus.OutboundMessage{Error: "Failed to produce a reply."}
	}

	if out.Channel == "" {
		out.Channel = inbound.Channel
	}
	if out.ChatID == "" {
		out.ChatID = inbound.ChatID
	}
	if out.SessionKey == "" {
		out.SessionKey = inbound.SessionKey
	}

	if out.Content == "" && out.Error == "" && len(out.Media) == 0 {
		s.log.Debug("Responder produced an empty reply, skipping", "session", inbound.SessionKey)
		return
	}

	s.bus.PublishOutbound(ctx, out)
}

// sendLoop drains outbound messages and delivers each through the sender
// registered for its channel.
func (s *Service) sendLoop(ctx context.Context) {
	for {
		out, ok := s.bus.ConsumeOutbound(ctx)
		if !ok {
			return
		}
		go s.deliver(ctx, out)
	}
}

func (s *Service) deliver(ctx context.Context, out bus.OutboundMessage) {
	send, ok := s.bus.Sender(out.Channel)
	if !ok {
		s.log.Error("No sender registered for channel", "channel", out.Channel, "chat_id", out.ChatID)
		s.bus.PublishEvent(ctx, bus.Event{
			Type:       bus.EventReplyFailed,
			Channel:    out.Channel,
			ChatID:     out.ChatID,
			SessionKey: out.SessionKey,
			Error:      "no sender registered",
		})
		return
	}

	if err := send(ctx, out); err != nil {
		s.log.Error("Failed to deliver reply", "channel", out.Channel, "chat_id", out.ChatID, "error", err)
		s.bus.PublishEvent(ctx, bus.Event{
			Type:       bus.EventReplyFailed,
			Channel:    out.Channel,
			ChatID:     out.ChatID,
			SessionKey: out.SessionKey,
			Error:      err.Error(),
		})
		return
	}

	s.bus.PublishEvent(ctx, bus.Event{
		Type:       bus.EventReplySent,
		Channel:    out.Channel,
		ChatID:     out.ChatID,
		SessionKey: out.SessionKey,
	})
}

// watchEvents keeps the status counters current from the bus event stream.
func (s *Service) watchEvents(ctx context.Context) {
	events, unsubscribe := s.bus.SubscribeEvents(ctx, 0)
	defer unsubscribe()

	for event := range events {
		s.mu.Lock()
		switch event.Type {
		case bus.EventMessageReceived:
			s.counters.Received++
		case bus.EventReplySent:
			s.counters.RepliesSent++
		case bus.EventReplyFailed:
			s.counters.RepliesFailed++
		}
		s.counters.LastEventAt = event.At
		s.mu.Unlock()
	}
}

func (s *Service) runStatusServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultStatusHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultStatusPort
	}

	addr := host + ":" + strconv.Itoa(port)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	lastEvent := ""
	if !s.counters.LastEventAt.IsZero() {
		lastEvent = s.counters.LastEventAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		Channels:      channels,
		Events:        s.counters,
		LastEventAt:   lastEvent,
	}
}

func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, state := range s.channelStates {
		if state.Running {
			return true
		}
	}

	return false
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
