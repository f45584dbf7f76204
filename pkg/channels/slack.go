package channels

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	slackgo "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/omnibridge/omnibridge/pkg/bus"
	"github.com/omnibridge/omnibridge/pkg/logger"
)

// SlackChannel implements Slack via Socket Mode, so no public webhook URL
// is needed for inbound events.
type SlackChannel struct {
	*BaseChannel
	botToken string
	appToken string

	mu        sync.Mutex
	webClient *slackgo.Client
	smClient  *socketmode.Client
	botUserID string
	cancel    context.CancelFunc
}

func NewSlackChannel(botToken, appToken string) *SlackChannel {
	return &SlackChannel{
		BaseChannel: NewBaseChannel(bus.PlatformSlack),
		botToken:    botToken,
		appToken:    appToken,
	}
}

// Initialize validates the tokens and starts the Socket Mode event loop.
func (s *SlackChannel) Initialize(ctx context.Context) error {
	webClient := slackgo.New(s.botToken, slackgo.OptionAppLevelToken(s.appToken))

	resp, err := webClient.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}

	smClient := socketmode.New(webClient)
	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.webClient = webClient
	s.botUserID = resp.UserID
	s.smClient = smClient
	s.cancel = cancel
	s.mu.Unlock()

	logger.InfoCF("slack", "Slack connected", map[string]interface{}{
		"bot_user_id": resp.UserID,
	})

	go smClient.RunContext(runCtx) //nolint:errcheck
	go s.eventLoop(runCtx, smClient)

	s.setRunning(true)
	return nil
}

// eventLoop consumes Socket Mode events. It holds its own reference to the
// client: Disconnect may nil the struct field while an event is in flight.
func (s *SlackChannel) eventLoop(ctx context.Context, smClient *socketmode.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-smClient.Events:
			if !ok {
				return
			}
			s.handleEvent(smClient, evt)
		}
	}
}

func (s *SlackChannel) handleEvent(smClient *socketmode.Client, evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	if evt.Request != nil {
		smClient.Ack(*evt.Request)
	}

	cb, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	if cb.InnerEvent.Type != "message" {
		return
	}

	// Inner event data arrives as map[string]interface{}; parse manually.
	data, ok := cb.InnerEvent.Data.(map[string]interface{})
	if !ok {
		return
	}

	userID, _ := data["user"].(string)
	channel, _ := data["channel"].(string)
	text, _ := data["text"].(string)
	subtype, _ := data["subtype"].(string)
	channelType, _ := data["channel_type"].(string)
	ts, _ := data["ts"].(string)
	threadTS, _ := data["thread_ts"].(string)

	// Skip edits, joins, bot echoes and our own messages.
	if subtype != "" || userID == "" || channel == "" || text == "" {
		return
	}
	if userID == s.botUserID {
		return
	}

	logger.InfoCF("slack", "Message received", map[string]interface{}{
		"channel": channel,
		"preview": truncateString(text, 50),
	})

	s.dispatch(bus.Message{
		ID:        ts,
		Platform:  bus.PlatformSlack,
		UserID:    userID,
		ChatID:    channel,
		Text:      text,
		Timestamp: slackTimestamp(ts),
		Metadata: map[string]string{
			"channel_type": channelType,
			"thread_ts":    threadTS,
		},
	})
}

// slackTimestamp converts a Slack "seconds.micros" ts into a time.Time,
// falling back to now when it does not parse.
func slackTimestamp(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Now()
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// SendMessage posts text to the given Slack channel, threading the reply
// when the inbound message carried a thread timestamp.
func (s *SlackChannel) SendMessage(ctx context.Context, chatID, text string, metadata map[string]string) error {
	s.mu.Lock()
	webClient := s.webClient
	s.mu.Unlock()

	if webClient == nil {
		return fmt.Errorf("slack client not initialized")
	}

	opts := []slackgo.MsgOption{slackgo.MsgOptionText(text, false)}
	if threadTS := metadata["thread_ts"]; threadTS != "" {
		opts = append(opts, slackgo.MsgOptionTS(threadTS))
	}

	if _, _, err := webClient.PostMessageContext(ctx, chatID, opts...); err != nil {
		return fmt.Errorf("send slack message: %w", err)
	}

	logger.DebugCF("slack", "Message sent", map[string]interface{}{
		"channel": chatID,
	})
	return nil
}

// Disconnect stops the Socket Mode loop. Idempotent.
func (s *SlackChannel) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.webClient != nil {
		s.webClient = nil
		s.smClient = nil
		logger.InfoC("slack", "Slack channel stopped")
	}
	s.setRunning(false)
	return nil
}
