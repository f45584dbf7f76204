package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"

	"github.com/omnibridge/omnibridge/pkg/bus"
)

// newConnectedTeamsChannel builds a channel wired as if Initialize had
// succeeded, with a static token instead of a live Bot Framework grant.
func newConnectedTeamsChannel() *TeamsChannel {
	t := NewTeamsChannel("app-id", "app-password")
	t.tokenSource = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
	t.http = resty.New().SetTimeout(2 * time.Second)
	t.setRunning(true)
	return t
}

func inboundActivity(serviceURL string) activity {
	return activity{
		Type:         "message",
		ID:           "act-1",
		ServiceURL:   serviceURL,
		ChannelID:    "msteams",
		From:         channelAccount{ID: "user-1", Name: "Dana"},
		Recipient:    channelAccount{ID: "bot-1", Name: "bridge"},
		Conversation: conversationAccount{ID: "conv-1", ConversationType: "personal"},
		Text:         "hello there",
	}
}

func postActivity(t *testing.T, handler http.HandlerFunc, act activity) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(act)
	req := httptest.NewRequest(http.MethodPost, "/api/teams/messages", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestTeamsWebhookStoresReferenceAndDispatches(t *testing.T) {
	ch := newConnectedTeamsChannel()

	var mu sync.Mutex
	var received []bus.Message
	done := make(chan struct{})
	ch.OnMessage(func(msg bus.Message) {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
		close(done)
	})

	rec := postActivity(t, ch.WebhookHandler(), inboundActivity("https://smba.example.com"))
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status = %d, want 200", rec.Code)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 dispatched message, got %d", len(received))
	}
	msg := received[0]
	if msg.Platform != bus.PlatformTeams || msg.ChatID != "conv-1" || msg.Text != "hello there" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.UserName != "Dana" {
		t.Errorf("user name = %q, want Dana", msg.UserName)
	}

	ref, ok := ch.reference("conv-1")
	if !ok {
		t.Fatal("expected stored conversation reference")
	}
	if ref.ServiceURL != "https://smba.example.com" || ref.Bot.ID != "bot-1" || ref.User.ID != "user-1" {
		t.Errorf("unexpected reference: %+v", ref)
	}
}

func TestTeamsWebhookIgnoresNonMessageActivities(t *testing.T) {
	ch := newConnectedTeamsChannel()
	ch.OnMessage(func(msg bus.Message) {
		t.Errorf("handler must not run for non-message activities, got %+v", msg)
	})

	act := inboundActivity("https://smba.example.com")
	act.Type = "conversationUpdate"
	act.Text = ""

	rec := postActivity(t, ch.WebhookHandler(), act)
	if rec.Code != http.StatusOK {
		t.Errorf("webhook status = %d, want 200", rec.Code)
	}
	if _, ok := ch.reference("conv-1"); ok {
		t.Error("non-message activity must not store a reference")
	}
}

func TestTeamsSendMessageUsesStoredReference(t *testing.T) {
	var got activity
	var auth string
	connector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/conversations/conv-1/activities" {
			t.Errorf("unexpected connector path %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode reply activity: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"reply-1"}`))
	}))
	defer connector.Close()

	ch := newConnectedTeamsChannel()
	postActivity(t, ch.WebhookHandler(), inboundActivity(connector.URL))

	if err := ch.SendMessage(context.Background(), "conv-1", "done!", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if auth != "Bearer test-token" {
		t.Errorf("authorization = %q, want bearer token", auth)
	}
	if got.Type != "message" || got.Text != "done!" {
		t.Errorf("unexpected reply activity: %+v", got)
	}
	if got.From.ID != "bot-1" || got.Recipient.ID != "user-1" {
		t.Errorf("reply must swap bot/user accounts: %+v", got)
	}
	if got.ReplyToID != "act-1" {
		t.Errorf("replyToId = %q, want act-1", got.ReplyToID)
	}
}

func TestTeamsSendMessageWithoutReference(t *testing.T) {
	ch := newConnectedTeamsChannel()

	err := ch.SendMessage(context.Background(), "never-seen", "hi", nil)
	if err == nil {
		t.Fatal("expected delivery error for unknown chat")
	}
	if !strings.Contains(err.Error(), "no conversation reference") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestTeamsDisconnectIdempotent(t *testing.T) {
	ch := newConnectedTeamsChannel()
	postActivity(t, ch.WebhookHandler(), inboundActivity("https://smba.example.com"))

	if err := ch.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := ch.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}

	if err := ch.SendMessage(context.Background(), "conv-1", "hi", nil); err == nil {
		t.Error("expected error sending after disconnect")
	}
}
