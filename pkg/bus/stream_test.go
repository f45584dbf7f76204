package bus

import (
	"testing"
	"time"
)

func TestEventStreamSubscribeReceivesEvents(t *testing.T) {
	stream := NewEventStream()
	ch := stream.Subscribe()
	defer stream.Unsubscribe(ch)

	msg := Message{
		ID:       "m1",
		Platform: PlatformTelegram,
		ChatID:   "42",
		Text:     "hello",
	}
	stream.PublishInbound(msg)

	select {
	case evt := <-ch:
		if evt.Type != "inbound" {
			t.Errorf("expected inbound event, got %q", evt.Type)
		}
		if evt.Inbound == nil || evt.Inbound.ID != "m1" {
			t.Errorf("expected inbound message m1, got %+v", evt.Inbound)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventStreamSlowObserverDoesNotBlock(t *testing.T) {
	stream := NewEventStream()
	ch := stream.Subscribe()
	defer stream.Unsubscribe(ch)

	// Fill the observer buffer and keep publishing; publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			stream.PublishOutbound(Outbound{Platform: PlatformSlack, ChatID: "c", Text: "t"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow observer")
	}
}

func TestEventStreamUnsubscribeClosesChannel(t *testing.T) {
	stream := NewEventStream()
	ch := stream.Subscribe()
	stream.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	stream.PublishQRCode(QRCodeEvent{Platform: PlatformWhatsApp, Event: "code", Code: "x"})
}

func TestPlatformValid(t *testing.T) {
	for _, p := range Platforms() {
		if !p.Valid() {
			t.Errorf("expected %q to be valid", p)
		}
	}
	if Platform("discord").Valid() {
		t.Error("expected unknown platform to be invalid")
	}
}
