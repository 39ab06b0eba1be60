package bus

// InboundMessage is a chat event as delivered by a platform adapter.
type InboundMessage struct {
	Channel       string            `json:"channel"`
	MessageID     string            `json:"message_id"`
	SenderID      string            `json:"sender_id"`
	ChatID        string            `json:"chat_id"`
	Content       string            `json:"content"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// OutboundMessage is a reply routed back to the adapter named by Channel.
type OutboundMessage struct {
	Channel string   `json:"channel"`
	ChatID  string   `json:"chat_id"`
	Content string   `json:"content"`
	Media   []string `json:"media,omitempty"` // local file paths to send
}

// MessageBus routes messages between platform adapters and the pipeline.
// The inbound queue is bounded; publishing into a full queue fails instead of
// blocking the adapter's event callback.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

func NewMessageBus(queueSize int) *MessageBus {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, queueSize),
		outbound: make(chan OutboundMessage, queueSize),
	}
}

// PublishInbound enqueues an inbound event. Returns false when the queue is
// saturated; the caller decides how to report the drop.
func (b *MessageBus) PublishInbound(msg InboundMessage) bool {
	select {
	case b.inbound <- msg:
		return true
	default:
		return false
	}
}

func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

func (b *MessageBus) Inbound() <-chan InboundMessage {
	return b.inbound
}

func (b *MessageBus) Outbound() <-chan OutboundMessage {
	return b.outbound
}
