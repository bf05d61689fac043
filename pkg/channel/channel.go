package channel

import (
	"context"

	"vocebridge/pkg/bus"
)

// Handler commits one converted inbound message onto the host event queue.
type Handler func(context.Context, bus.InboundMessage) error

// Adapter bridges one external chat platform (for example VoceChat) into
// VoceBridge. Run blocks until the adapter stops; Send delivers one outbound
// reply to the platform.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
	Send(context.Context, bus.OutboundMessage) error
}
