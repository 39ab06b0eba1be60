package channels

import (
	"context"
	"fmt"

	"github.com/hxnam/affibot/pkg/bus"
	"github.com/hxnam/affibot/pkg/config"
	"github.com/hxnam/affibot/pkg/logger"
)

// Manager owns the enabled adapters and pumps bus outbound messages to the
// adapter each one names.
type Manager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
}

func NewManager(cfg *config.Config, msgBus *bus.MessageBus) (*Manager, error) {
	m := &Manager{
		channels: make(map[string]Channel),
		bus:      msgBus,
	}

	if cfg.Channels.Discord.Enabled {
		ch, err := NewDiscordChannel(cfg.Channels.Discord, msgBus)
		if err != nil {
			return nil, fmt.Errorf("discord channel: %w", err)
		}
		m.channels[ch.Name()] = ch
	}
	if cfg.Channels.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Channels.Telegram, msgBus)
		if err != nil {
			return nil, fmt.Errorf("telegram channel: %w", err)
		}
		m.channels[ch.Name()] = ch
	}

	if len(m.channels) == 0 {
		return nil, fmt.Errorf("no channels enabled")
	}
	return m, nil
}

func (m *Manager) StartAll(ctx context.Context) error {
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", name, err)
		}
	}
	go m.dispatchOutbound(ctx)
	return nil
}

func (m *Manager) StopAll(ctx context.Context) {
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to stop channel", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}
}

func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.bus.Outbound():
			ch, ok := m.channels[msg.Channel]
			if !ok {
				logger.WarnCF("channels", "Outbound message for unknown channel", map[string]interface{}{
					"channel": msg.Channel,
				})
				continue
			}
			if err := ch.Send(ctx, msg); err != nil {
				logger.ErrorCF("channels", "Failed to send reply", map[string]interface{}{
					"channel": msg.Channel,
					"chat_id": msg.ChatID,
					"error":   err.Error(),
				})
			}
		}
	}
}
