package channels

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bwmarrin/discordgo"

	"github.com/hxnam/affibot/pkg/bus"
	"github.com/hxnam/affibot/pkg/config"
	"github.com/hxnam/affibot/pkg/logger"
	"github.com/hxnam/affibot/pkg/utils"
)

type DiscordChannel struct {
	*BaseChannel
	session *discordgo.Session
	config  config.DiscordConfig
}

func NewDiscordChannel(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", msgBus, cfg.AllowFrom),
		session:     session,
		config:      cfg,
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord bot (gateway mode)...")

	c.session.AddHandler(c.onMessageCreate)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}

	c.setRunning(true)
	username := ""
	if c.session.State != nil && c.session.State.User != nil {
		username = c.session.State.User.Username
	}
	logger.InfoCF("discord", "Discord bot connected", map[string]interface{}{
		"username": username,
	})
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot...")
	c.setRunning(false)
	return c.session.Close()
}

func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}

	if len(msg.Media) == 0 {
		_, err := c.session.ChannelMessageSend(msg.ChatID, msg.Content)
		return err
	}

	send := &discordgo.MessageSend{Content: msg.Content}
	var open []*os.File
	defer func() {
		for _, f := range open {
			f.Close()
		}
	}()
	for _, path := range msg.Media {
		f, err := os.Open(path)
		if err != nil {
			logger.ErrorCF("discord", "Failed to open media file", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		open = append(open, f)
		send.Files = append(send.Files, &discordgo.File{
			Name:   filepath.Base(path),
			Reader: f,
		})
	}

	_, err := c.session.ChannelMessageSendComplex(msg.ChatID, send)
	return err
}

func (c *DiscordChannel) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	if !c.IsAllowed(m.Author.ID) {
		logger.DebugCF("discord", "Message rejected by allowlist", map[string]interface{}{
			"user_id": m.Author.ID,
		})
		return
	}

	logger.DebugCF("discord", "Received message", map[string]interface{}{
		"message_id": m.ID,
		"sender_id":  m.Author.ID,
		"channel_id": m.ChannelID,
		"preview":    utils.Truncate(m.Content, 50),
	})

	c.HandleMessage(m.ID, m.Author.ID, m.ChannelID, m.Content)
}
