package channels

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"github.com/omnibridge/omnibridge/pkg/bus"
	"github.com/omnibridge/omnibridge/pkg/logger"
)

// WhatsAppChannel implements native WhatsApp Web communication via
// whatsmeow. The device session lives in a local SQLite store; first run
// requires scanning a QR code, which is printed to the terminal and
// streamed to the dashboard.
type WhatsAppChannel struct {
	*BaseChannel
	storePath  string
	events     *bus.EventStream
	client     *whatsmeow.Client
	container  *sqlstore.Container
	mu         sync.Mutex
	cancelFunc context.CancelFunc
}

func NewWhatsAppChannel(storePath string, events *bus.EventStream) *WhatsAppChannel {
	return &WhatsAppChannel{
		BaseChannel: NewBaseChannel(bus.PlatformWhatsApp),
		storePath:   storePath,
		events:      events,
	}
}

// Initialize opens the SQLite session store, creates the whatsmeow client,
// and connects. A new device triggers the QR pairing flow.
func (c *WhatsAppChannel) Initialize(ctx context.Context) error {
	logger.InfoC("whatsapp", "Starting WhatsApp channel")

	if err := os.MkdirAll(filepath.Dir(c.storePath), 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	dbLog := waLog.Stdout("WhatsApp-DB", "WARN", true)
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", c.storePath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open whatsmeow database: %w", err)
	}
	// Serialize all database access through a single connection to prevent SQLITE_BUSY
	db.SetMaxOpenConns(1)

	container := sqlstore.NewWithDB(db, "sqlite", dbLog)
	if err := container.Upgrade(ctx); err != nil {
		return fmt.Errorf("upgrade whatsmeow database: %w", err)
	}
	c.container = container

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("get device from store: %w", err)
	}

	clientLog := waLog.Stdout("WhatsApp", "WARN", true)
	c.client = whatsmeow.NewClient(deviceStore, clientLog)
	c.client.AddEventHandler(c.eventHandler)

	if c.client.Store.ID == nil {
		logger.InfoC("whatsapp", "No existing session found, starting QR code login")
		if err := c.loginWithQR(ctx); err != nil {
			return fmt.Errorf("QR login failed: %w", err)
		}
	} else {
		logger.InfoCF("whatsapp", "Resuming existing session", map[string]interface{}{
			"device_id": c.client.Store.ID.String(),
		})
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
	}

	c.setRunning(true)

	reconnCtx, cancel := context.WithCancel(context.Background())
	c.cancelFunc = cancel
	go c.reconnectLoop(reconnCtx)

	logger.InfoC("whatsapp", "WhatsApp channel started")
	return nil
}

// loginWithQR performs the interactive QR-code pairing flow, mirroring
// each pairing event to the dashboard stream.
func (c *WhatsAppChannel) loginWithQR(ctx context.Context) error {
	qrChan, err := c.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("get QR channel: %w", err)
	}

	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect for QR: %w", err)
	}

	for evt := range qrChan {
		switch evt.Event {
		case "code":
			fmt.Println("\n--- Scan this QR code with WhatsApp (Linked Devices) ---")
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			fmt.Println("--- Waiting for scan... ---")
			c.publishQREvent("code", evt.Code)

		case "login", "success":
			devID := "unknown"
			if c.client.Store.ID != nil {
				devID = c.client.Store.ID.String()
			}
			logger.InfoCF("whatsapp", "WhatsApp login successful", map[string]interface{}{
				"device_id": devID,
			})
			c.publishQREvent("success", "")
			return nil

		case "timeout":
			logger.WarnC("whatsapp", "QR code timed out")
			c.publishQREvent("timeout", "")
			return fmt.Errorf("QR code login timed out")

		case "error":
			logger.ErrorC("whatsapp", "QR login error")
			c.publishQREvent("error", "")
			return fmt.Errorf("QR login error")
		}
	}

	// Channel closed: check if we're actually connected (race with event handler)
	if c.client.IsConnected() || c.client.Store.ID != nil {
		logger.InfoC("whatsapp", "QR channel closed but client is connected")
		return nil
	}
	return fmt.Errorf("QR channel closed unexpectedly")
}

func (c *WhatsAppChannel) publishQREvent(event, code string) {
	if c.events == nil {
		return
	}
	qr := bus.QRCodeEvent{Platform: bus.PlatformWhatsApp, Event: event, Code: code}
	if event == "code" && code != "" {
		if svg, err := generateQRSVG(code, 256); err == nil {
			qr.SVG = svg
		}
	}
	c.events.PublishQRCode(qr)
}

func (c *WhatsAppChannel) eventHandler(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		c.handleIncomingMessage(v)
	case *events.Connected:
		logger.InfoC("whatsapp", "WhatsApp connected")
	case *events.Disconnected:
		logger.WarnC("whatsapp", "WhatsApp disconnected")
	case *events.LoggedOut:
		logger.ErrorCF("whatsapp", "WhatsApp logged out", map[string]interface{}{
			"reason": fmt.Sprintf("%v", v.Reason),
		})
		c.setRunning(false)
	case *events.HistorySync:
		// Ignore history syncs: only real-time messages are routed
	}
}

func (c *WhatsAppChannel) handleIncomingMessage(evt *events.Message) {
	if evt.Info.IsFromMe {
		return
	}
	if evt.Info.Chat.Server == "broadcast" {
		return
	}

	text := extractTextContent(evt.Message)
	if text == "" {
		return
	}

	senderID := evt.Info.Sender.User
	chatID := evt.Info.Chat.String()

	logger.InfoCF("whatsapp", "Message received", map[string]interface{}{
		"sender":  senderID,
		"chat":    chatID,
		"preview": truncateString(text, 50),
	})

	metadata := map[string]string{
		"sender_jid": evt.Info.Sender.String(),
		"is_group":   fmt.Sprintf("%t", evt.Info.Chat.Server == types.GroupServer),
	}

	c.dispatch(bus.Message{
		ID:        evt.Info.ID,
		Platform:  bus.PlatformWhatsApp,
		UserID:    senderID,
		UserName:  evt.Info.PushName,
		ChatID:    chatID,
		Text:      text,
		Timestamp: evt.Info.Timestamp,
		Metadata:  metadata,
	})
}

// extractTextContent returns the plain-text body from a WhatsApp message,
// including captions on media messages.
func extractTextContent(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if t := msg.GetConversation(); t != "" {
		return t
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetCaption()
	}
	return ""
}

// SendMessage delivers text to the given WhatsApp chat, with a typing
// indicator around the send.
func (c *WhatsAppChannel) SendMessage(ctx context.Context, chatID, text string, metadata map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil || !c.client.IsConnected() {
		return fmt.Errorf("whatsapp client not connected")
	}

	targetJID, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", chatID, err)
	}

	_ = c.client.SendChatPresence(ctx, targetJID, types.ChatPresenceComposing, "")

	waMsg := &waE2E.Message{
		Conversation: proto.String(text),
	}
	resp, err := c.client.SendMessage(ctx, targetJID, waMsg)
	if err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}

	_ = c.client.SendChatPresence(ctx, targetJID, types.ChatPresencePaused, "")

	logger.DebugCF("whatsapp", "Message sent", map[string]interface{}{
		"to":         targetJID.String(),
		"message_id": resp.ID,
	})
	return nil
}

// Disconnect releases the client and session store. Idempotent.
func (c *WhatsAppChannel) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelFunc != nil {
		c.cancelFunc()
		c.cancelFunc = nil
	}
	if c.client != nil {
		c.client.Disconnect()
		c.client = nil
		logger.InfoC("whatsapp", "WhatsApp channel stopped")
	}
	c.container = nil
	c.setRunning(false)
	return nil
}

// reconnectLoop monitors the connection and retries with exponential
// backoff when the session is still logged in but the socket dropped.
func (c *WhatsAppChannel) reconnectLoop(ctx context.Context) {
	backoff := 5 * time.Second
	maxBackoff := 5 * time.Minute

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Second):
			c.mu.Lock()
			client := c.client
			c.mu.Unlock()
			if client == nil {
				return
			}
			if client.IsConnected() || !client.IsLoggedIn() {
				continue
			}

			logger.WarnCF("whatsapp", "Connection lost, attempting reconnect", map[string]interface{}{
				"backoff": backoff.String(),
			})

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := client.Connect(); err != nil {
				logger.ErrorCF("whatsapp", "Reconnection failed", map[string]interface{}{
					"error": err.Error(),
				})
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			} else {
				logger.InfoC("whatsapp", "Reconnected successfully")
				backoff = 5 * time.Second
			}
		}
	}
}
