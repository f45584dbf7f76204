package channels

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/omnibridge/omnibridge/pkg/bus"
	"github.com/omnibridge/omnibridge/pkg/logger"
)

// TelegramChannel implements the Telegram bot via long polling.
type TelegramChannel struct {
	*BaseChannel
	botToken string

	mu     sync.Mutex
	bot    *tgbotapi.BotAPI
	cancel context.CancelFunc
}

func NewTelegramChannel(botToken string) *TelegramChannel {
	return &TelegramChannel{
		BaseChannel: NewBaseChannel(bus.PlatformTelegram),
		botToken:    botToken,
	}
}

// Initialize authenticates the bot token and starts consuming updates.
func (t *TelegramChannel) Initialize(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.botToken)
	if err != nil {
		return fmt.Errorf("telegram: create bot: %w", err)
	}

	t.mu.Lock()
	t.bot = bot
	t.mu.Unlock()

	logger.InfoCF("telegram", "Telegram bot connected", map[string]interface{}{
		"username": bot.Self.UserName,
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	pollCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	go func() {
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(update)
			}
		}
	}()

	t.setRunning(true)
	return nil
}

func (t *TelegramChannel) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Text == "" {
		return
	}

	userName := msg.From.UserName
	if userName == "" {
		userName = msg.From.FirstName
	}

	logger.InfoCF("telegram", "Message received", map[string]interface{}{
		"chat":    msg.Chat.ID,
		"preview": truncateString(msg.Text, 50),
	})

	t.dispatch(bus.Message{
		ID:        strconv.Itoa(msg.MessageID),
		Platform:  bus.PlatformTelegram,
		UserID:    strconv.FormatInt(msg.From.ID, 10),
		UserName:  userName,
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		Text:      msg.Text,
		Timestamp: time.Unix(int64(msg.Date), 0),
		Metadata: map[string]string{
			"chat_type":  msg.Chat.Type,
			"first_name": msg.From.FirstName,
			"last_name":  msg.From.LastName,
		},
	})
}

// SendMessage delivers text to the given Telegram chat. Messages are sent
// with HTML parse mode unless metadata overrides it.
func (t *TelegramChannel) SendMessage(ctx context.Context, chatID, text string, metadata map[string]string) error {
	t.mu.Lock()
	bot := t.bot
	t.mu.Unlock()

	if bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat ID %q: %w", chatID, err)
	}

	out := tgbotapi.NewMessage(id, text)
	out.ParseMode = tgbotapi.ModeHTML
	if mode, ok := metadata["parse_mode"]; ok {
		out.ParseMode = mode
	}

	if _, err := bot.Send(out); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	logger.DebugCF("telegram", "Message sent", map[string]interface{}{
		"chat": chatID,
	})
	return nil
}

// Disconnect stops the update loop. Idempotent.
func (t *TelegramChannel) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
		t.bot = nil
		logger.InfoC("telegram", "Telegram channel stopped")
	}
	t.setRunning(false)
	return nil
}
