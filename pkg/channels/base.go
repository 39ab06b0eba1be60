package channels

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/hxnam/affibot/pkg/bus"
	"github.com/hxnam/affibot/pkg/logger"
)

// Channel is a platform adapter: it turns platform events into bus inbound
// messages and delivers bus outbound messages back to the platform.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// BaseChannel carries the behavior every adapter shares: allowlisting, the
// running flag, and publication into the bounded inbound queue.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]bool
	running   atomic.Bool
}

func NewBaseChannel(name string, msgBus *bus.MessageBus, allowFrom []string) *BaseChannel {
	allowed := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		allowed[id] = true
	}
	return &BaseChannel{
		name:      name,
		bus:       msgBus,
		allowFrom: allowed,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

// IsAllowed reports whether a sender passes the allowlist. An empty allowlist
// admits everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	return c.allowFrom[senderID]
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) setRunning(v bool) {
	c.running.Store(v)
}

// HandleMessage publishes a platform event onto the bus. A saturated queue
// drops the event with a warning; the adapter callback must never block.
func (c *BaseChannel) HandleMessage(messageID, senderID, chatID, content string) {
	msg := bus.InboundMessage{
		Channel:       c.name,
		MessageID:     messageID,
		SenderID:      senderID,
		ChatID:        chatID,
		Content:       content,
		CorrelationID: uuid.NewString(),
	}
	if !c.bus.PublishInbound(msg) {
		logger.WarnCF(c.name, "Inbound queue saturated, event dropped", map[string]interface{}{
			"message_id": messageID,
			"chat_id":    chatID,
		})
	}
}
