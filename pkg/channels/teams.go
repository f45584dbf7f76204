package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/omnibridge/omnibridge/pkg/bus"
	"github.com/omnibridge/omnibridge/pkg/logger"
)

const (
	teamsTokenURL = "https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token"
	teamsScope    = "https://api.botframework.com/.default"
)

// channelAccount identifies a user or bot inside a Bot Framework activity.
type channelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type conversationAccount struct {
	ID               string `json:"id"`
	ConversationType string `json:"conversationType,omitempty"`
}

// activity is the Bot Framework wire shape, reduced to the fields the
// bridge reads and writes.
type activity struct {
	Type         string              `json:"type"`
	ID           string              `json:"id,omitempty"`
	Timestamp    string              `json:"timestamp,omitempty"`
	ServiceURL   string              `json:"serviceUrl,omitempty"`
	ChannelID    string              `json:"channelId,omitempty"`
	From         channelAccount      `json:"from"`
	Recipient    channelAccount      `json:"recipient,omitempty"`
	Conversation conversationAccount `json:"conversation"`
	Text         string              `json:"text,omitempty"`
	ReplyToID    string              `json:"replyToId,omitempty"`
}

// conversationReference is the opaque addressing data needed to deliver a
// proactive message back into a previously-seen Teams chat.
type conversationReference struct {
	ServiceURL   string
	Conversation conversationAccount
	Bot          channelAccount
	User         channelAccount
	ActivityID   string
}

// TeamsChannel implements Microsoft Teams through the Bot Framework
// connector REST API: inbound activities arrive on a webhook mounted on
// the API server, outbound sends go to the service URL captured from the
// conversation. Replying to a chat requires a stored conversation
// reference, populated on the first inbound message from that chat.
//
// References are never evicted, matching the Bot Framework proactive
// messaging model: memory grows with the number of distinct chats seen.
type TeamsChannel struct {
	*BaseChannel
	appID       string
	appPassword string

	mu          sync.RWMutex
	tokenSource oauth2.TokenSource
	http        *resty.Client
	refs        map[string]conversationReference
}

func NewTeamsChannel(appID, appPassword string) *TeamsChannel {
	return &TeamsChannel{
		BaseChannel: NewBaseChannel(bus.PlatformTeams),
		appID:       appID,
		appPassword: appPassword,
		refs:        make(map[string]conversationReference),
	}
}

// Initialize acquires a Bot Framework token eagerly so invalid credentials
// fail startup instead of the first outbound send.
func (t *TeamsChannel) Initialize(ctx context.Context) error {
	creds := &clientcredentials.Config{
		ClientID:     t.appID,
		ClientSecret: t.appPassword,
		TokenURL:     teamsTokenURL,
		Scopes:       []string{teamsScope},
	}

	if _, err := creds.Token(ctx); err != nil {
		return fmt.Errorf("teams: acquire bot token: %w", err)
	}

	t.mu.Lock()
	t.tokenSource = creds.TokenSource(context.Background())
	t.http = resty.New().SetTimeout(15 * time.Second)
	t.mu.Unlock()

	t.setRunning(true)
	logger.InfoC("teams", "Teams channel initialized")
	return nil
}

// WebhookHandler processes inbound Bot Framework activities. Mount it at
// the bot's configured messaging endpoint (/api/teams/messages). The Bot
// Framework authenticates its own requests, so the route is auth-exempt
// on the API server.
func (t *TeamsChannel) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var act activity
		if err := json.NewDecoder(r.Body).Decode(&act); err != nil {
			http.Error(w, "invalid activity", http.StatusBadRequest)
			return
		}

		if act.Type != "message" || act.Text == "" {
			w.WriteHeader(http.StatusOK)
			return
		}

		t.storeReference(act)

		ts := time.Now()
		if act.Timestamp != "" {
			if parsed, err := time.Parse(time.RFC3339, act.Timestamp); err == nil {
				ts = parsed
			}
		}

		logger.InfoCF("teams", "Message received", map[string]interface{}{
			"chat":    act.Conversation.ID,
			"preview": truncateString(act.Text, 50),
		})

		t.dispatch(bus.Message{
			ID:        act.ID,
			Platform:  bus.PlatformTeams,
			UserID:    act.From.ID,
			UserName:  act.From.Name,
			ChatID:    act.Conversation.ID,
			Text:      act.Text,
			Timestamp: ts,
			Metadata: map[string]string{
				"conversation_type": act.Conversation.ConversationType,
				"channel_id":        act.ChannelID,
			},
		})

		w.WriteHeader(http.StatusOK)
	}
}

// storeReference captures the addressing data needed to reply to this
// conversation later. Writes race reads from concurrent handler tasks, so
// the map is lock-guarded.
func (t *TeamsChannel) storeReference(act activity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refs[act.Conversation.ID] = conversationReference{
		ServiceURL:   act.ServiceURL,
		Conversation: act.Conversation,
		Bot:          act.Recipient,
		User:         act.From,
		ActivityID:   act.ID,
	}
}

func (t *TeamsChannel) reference(chatID string) (conversationReference, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ref, ok := t.refs[chatID]
	return ref, ok
}

// SendMessage delivers text into a previously-seen conversation via the
// connector's activities endpoint. It fails when no conversation
// reference exists for chatID: Teams cannot be messaged cold.
func (t *TeamsChannel) SendMessage(ctx context.Context, chatID, text string, metadata map[string]string) error {
	t.mu.RLock()
	httpc := t.http
	tokens := t.tokenSource
	t.mu.RUnlock()

	if httpc == nil || tokens == nil {
		return fmt.Errorf("teams channel not initialized")
	}

	ref, ok := t.reference(chatID)
	if !ok {
		return fmt.Errorf("no conversation reference for chat %q: cannot send message", chatID)
	}

	token, err := tokens.Token()
	if err != nil {
		return fmt.Errorf("teams: refresh bot token: %w", err)
	}

	reply := activity{
		Type:         "message",
		From:         ref.Bot,
		Recipient:    ref.User,
		Conversation: conversationAccount{ID: ref.Conversation.ID},
		Text:         text,
		ReplyToID:    ref.ActivityID,
	}

	url := fmt.Sprintf("%s/v3/conversations/%s/activities", ref.ServiceURL, ref.Conversation.ID)
	resp, err := httpc.R().
		SetContext(ctx).
		SetAuthToken(token.AccessToken).
		SetHeader("Content-Type", "application/json").
		SetBody(reply).
		Post(url)
	if err != nil {
		return fmt.Errorf("send teams message: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("send teams message: connector returned status %d", resp.StatusCode())
	}

	logger.DebugCF("teams", "Message sent", map[string]interface{}{
		"chat": chatID,
	})
	return nil
}

// Disconnect drops the token source and HTTP client. The conversation
// reference map is kept so a reconnect within the same process can still
// reply to known chats. Idempotent.
func (t *TeamsChannel) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.http != nil {
		t.http = nil
		t.tokenSource = nil
		logger.InfoC("teams", "Teams channel stopped")
	}
	t.setRunning(false)
	return nil
}
