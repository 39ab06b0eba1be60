package channels

import (
	"context"
	"fmt"
	"os"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/hxnam/affibot/pkg/bus"
	"github.com/hxnam/affibot/pkg/config"
	"github.com/hxnam/affibot/pkg/logger"
	"github.com/hxnam/affibot/pkg/utils"
)

type TelegramChannel struct {
	*BaseChannel
	bot    *telego.Bot
	config config.TelegramConfig
}

func NewTelegramChannel(cfg config.TelegramConfig, msgBus *bus.MessageBus) (*TelegramChannel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramChannel{
		BaseChannel: NewBaseChannel("telegram", msgBus, cfg.AllowFrom),
		bot:         bot,
		config:      cfg,
	}, nil
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	logger.InfoC("telegram", "Starting Telegram bot (polling mode)...")

	updates, err := c.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: 30,
	})
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	c.setRunning(true)
	logger.InfoCF("telegram", "Telegram bot connected", map[string]interface{}{
		"username": c.bot.Username(),
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					logger.InfoC("telegram", "Updates channel closed")
					c.setRunning(false)
					return
				}
				if update.Message != nil {
					c.handleMessage(update.Message)
				}
			}
		}
	}()

	return nil
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	logger.InfoC("telegram", "Stopping Telegram bot...")
	c.setRunning(false)
	return nil
}

func (c *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram bot not running")
	}

	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}

	if len(msg.Media) == 0 {
		_, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), msg.Content))
		return err
	}

	// Caption goes on the first image only, matching how the platform
	// renders grouped sends.
	for i, path := range msg.Media {
		f, err := os.Open(path)
		if err != nil {
			logger.ErrorCF("telegram", "Failed to open media file", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		params := tu.Photo(tu.ID(chatID), tu.File(f))
		if i == 0 {
			params.Caption = msg.Content
		}
		_, err = c.bot.SendPhoto(ctx, params)
		f.Close()
		if err != nil {
			return fmt.Errorf("send photo: %w", err)
		}
	}
	return nil
}

func (c *TelegramChannel) handleMessage(message *telego.Message) {
	user := message.From
	if user == nil {
		return
	}

	senderID := fmt.Sprintf("%d", user.ID)
	if !c.IsAllowed(senderID) {
		logger.DebugCF("telegram", "Message rejected by allowlist", map[string]interface{}{
			"user_id": senderID,
		})
		return
	}

	content := message.Text
	if content == "" {
		content = message.Caption
	}
	if content == "" {
		return
	}

	chatID := fmt.Sprintf("%d", message.Chat.ID)
	// Telegram message IDs are only unique per chat.
	messageID := fmt.Sprintf("%s:%d", chatID, message.MessageID)

	logger.DebugCF("telegram", "Received message", map[string]interface{}{
		"message_id": messageID,
		"sender_id":  senderID,
		"preview":    utils.Truncate(content, 50),
	})

	c.HandleMessage(messageID, senderID, chatID, content)
}

func parseChatID(chatIDStr string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(chatIDStr, "%d", &id)
	return id, err
}
