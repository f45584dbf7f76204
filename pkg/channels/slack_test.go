package channels

import (
	"context"
	"testing"
	"time"

	slackgo "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/omnibridge/omnibridge/pkg/bus"
)

func slackMessageEvent(user, channel, text string) socketmode.Event {
	return socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Type: "message",
				Data: map[string]interface{}{
					"user":    user,
					"channel": channel,
					"text":    text,
					"ts":      "1700000000.000100",
				},
			},
		},
	}
}

// The event loop must keep its own client reference: Disconnect nils the
// struct field, and an event arriving mid-shutdown must not dereference it.
func TestSlackEventLoopSurvivesDisconnect(t *testing.T) {
	webClient := slackgo.New("xoxb-test", slackgo.OptionAppLevelToken("xapp-test"))
	smClient := socketmode.New(webClient)

	ch := NewSlackChannel("xoxb-test", "xapp-test")
	ctx, cancel := context.WithCancel(context.Background())
	ch.mu.Lock()
	ch.webClient = webClient
	ch.smClient = smClient
	ch.cancel = cancel
	ch.mu.Unlock()

	got := make(chan bus.Message, 2)
	ch.OnMessage(func(msg bus.Message) { got <- msg })

	done := make(chan struct{})
	go func() {
		ch.eventLoop(ctx, smClient)
		close(done)
	}()

	smClient.Events <- slackMessageEvent("U1", "C1", "before disconnect")

	select {
	case msg := <-got:
		if msg.ChatID != "C1" || msg.Text != "before disconnect" {
			t.Errorf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("first event not dispatched")
	}

	if err := ch.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	// The loop's context was cancelled by Disconnect; a racing event must
	// not panic the loop on the way out.
	select {
	case smClient.Events <- slackMessageEvent("U1", "C1", "after disconnect"):
	default:
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event loop did not stop after disconnect")
	}
}

func TestSlackHandleEventSkipsOwnAndSubtypedMessages(t *testing.T) {
	webClient := slackgo.New("xoxb-test", slackgo.OptionAppLevelToken("xapp-test"))
	smClient := socketmode.New(webClient)

	ch := NewSlackChannel("xoxb-test", "xapp-test")
	ch.botUserID = "UBOT"
	ch.OnMessage(func(msg bus.Message) {
		t.Errorf("handler must not run, got %+v", msg)
	})

	own := slackMessageEvent("UBOT", "C1", "echo")
	ch.handleEvent(smClient, own)

	edited := slackMessageEvent("U1", "C1", "edited")
	data := edited.Data.(slackevents.EventsAPIEvent)
	inner := data.InnerEvent.Data.(map[string]interface{})
	inner["subtype"] = "message_changed"
	ch.handleEvent(smClient, edited)

	// Give an erroneous dispatch goroutine a moment to fire.
	time.Sleep(50 * time.Millisecond)
}
