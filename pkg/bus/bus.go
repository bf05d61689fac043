package bus

import (
	"context"
	"sync"
)

const defaultBufferSize = 100

// MessageBus is the in-process event queue between channel adapters and the
// host gateway. Inbound and outbound legs are independent buffered queues;
// Close unblocks every pending operation.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	senders  map[string]SendFunc

	eventSubscribers      map[uint64]chan Event
	nextEventSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:          make(chan InboundMessage, defaultBufferSize),
		outbound:         make(chan OutboundMessage, defaultBufferSize),
		senders:          make(map[string]SendFunc),
		eventSubscribers: make(map[uint64]chan Event),
		done:             make(chan struct{}),
	}
}

func (mb *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	case mb.inbound <- msg:
		return true
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case <-mb.done:
		return InboundMessage{}, false
	case msg := <-mb.inbound:
		return msg, true
	}
}

func (mb *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	case mb.outbound <- msg:
		return true
	}
}

func (mb *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case <-mb.done:
		return OutboundMessage{}, false
	case msg := <-mb.outbound:
		return msg, true
	}
}

// RegisterSender binds a channel name to its outbound delivery function.
func (mb *MessageBus) RegisterSender(channel string, send SendFunc) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.senders[channel] = send
}

// Sender returns the delivery function registered for a channel.
func (mb *MessageBus) Sender(channel string) (SendFunc, bool) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	send, ok := mb.senders[channel]
	return send, ok
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.mu.Lock()
		for id, ch := range mb.eventSubscribers {
			close(ch)
			delete(mb.eventSubscribers, id)
		}
		mb.mu.Unlock()
	})
}
