package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/omnibridge/omnibridge/pkg/ai"
	"github.com/omnibridge/omnibridge/pkg/bus"
	"github.com/omnibridge/omnibridge/pkg/channels"
	"github.com/omnibridge/omnibridge/pkg/mcp"
)

// fakeAdapter records outbound sends for one platform.
type fakeAdapter struct {
	platform bus.Platform

	mu      sync.Mutex
	handler channels.Handler
	sent    []string
	sendErr error

	disconnects int
}

func newFakeAdapter(p bus.Platform) *fakeAdapter {
	return &fakeAdapter{platform: p}
}

func (f *fakeAdapter) Platform() bus.Platform               { return f.platform }
func (f *fakeAdapter) Initialize(ctx context.Context) error { return nil }

func (f *fakeAdapter) OnMessage(h channels.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeAdapter) SendMessage(ctx context.Context, chatID, text string, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeAdapter) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeAdapter) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// fakeProvider returns a fixed intent and phrases results by echoing the
// message or error carried in the action data.
type fakeProvider struct {
	intent ai.Intent
	panics bool

	mu       sync.Mutex
	lastData interface{}
}

func (p *fakeProvider) ProcessNaturalLanguage(ctx context.Context, text string, msgCtx map[string]string) ai.Intent {
	if p.panics {
		panic("provider blew up")
	}
	return p.intent
}

func (p *fakeProvider) GenerateResponse(ctx context.Context, intent ai.Intent, data interface{}, msgCtx map[string]string) string {
	p.mu.Lock()
	p.lastData = data
	p.mu.Unlock()

	if m, ok := data.(map[string]interface{}); ok {
		if msg, ok := m["message"].(string); ok {
			return msg
		}
		if errMsg, ok := m["error"].(string); ok {
			return "Something went wrong: " + errMsg
		}
	}
	return "Done."
}

func (p *fakeProvider) seenData() interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastData
}

type fakeClient struct {
	resp mcp.Response
	err  error

	mu   sync.Mutex
	reqs []mcp.Request
}

func (c *fakeClient) Request(ctx context.Context, req mcp.Request) (mcp.Response, error) {
	c.mu.Lock()
	c.reqs = append(c.reqs, req)
	c.mu.Unlock()
	return c.resp, c.err
}

func (c *fakeClient) Disconnect() {}

func inbound(p bus.Platform) bus.Message {
	return bus.Message{
		ID:        "m1",
		Platform:  p,
		UserID:    "u1",
		UserName:  "Ada",
		ChatID:    "chat-1",
		Text:      "create a user named Ada",
		Timestamp: time.Now(),
	}
}

func TestHandleMessageSimulatedCreate(t *testing.T) {
	provider := &fakeProvider{intent: ai.Intent{
		Action:     "create",
		Entities:   map[string]interface{}{"type": "user", "name": "Ada"},
		Confidence: 0.9,
	}}
	adapter := newFakeAdapter(bus.PlatformTelegram)

	r := New(provider, nil, nil)
	if err := r.RegisterAdapter(adapter); err != nil {
		t.Fatalf("RegisterAdapter: %v", err)
	}

	r.HandleMessage(context.Background(), inbound(bus.PlatformTelegram))

	sent := adapter.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("expected exactly 1 outbound message, got %d", len(sent))
	}
	if !strings.Contains(sent[0], "Created user successfully") {
		t.Errorf("reply = %q, want simulated create confirmation", sent[0])
	}
}

func TestHandleMessageRemoteActionFailure(t *testing.T) {
	provider := &fakeProvider{intent: ai.Intent{
		Action:   "create",
		Entities: map[string]interface{}{"type": "user"},
	}}
	client := &fakeClient{resp: mcp.Response{Success: false, Error: "db down"}}
	adapter := newFakeAdapter(bus.PlatformSlack)

	r := New(provider, client, nil)
	if err := r.RegisterAdapter(adapter); err != nil {
		t.Fatalf("RegisterAdapter: %v", err)
	}

	r.HandleMessage(context.Background(), inbound(bus.PlatformSlack))

	data, ok := provider.seenData().(map[string]interface{})
	if !ok {
		t.Fatalf("response stage data = %T, want map", provider.seenData())
	}
	if data["error"] != "db down" {
		t.Errorf("response stage saw error %v, want db down", data["error"])
	}

	sent := adapter.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("expected exactly 1 outbound message, got %d", len(sent))
	}
	if !strings.Contains(sent[0], "db down") {
		t.Errorf("reply = %q, want phrased failure", sent[0])
	}
}

func TestHandleMessagePanicSendsApology(t *testing.T) {
	provider := &fakeProvider{panics: true}
	adapter := newFakeAdapter(bus.PlatformWhatsApp)

	r := New(provider, nil, nil)
	if err := r.RegisterAdapter(adapter); err != nil {
		t.Fatalf("RegisterAdapter: %v", err)
	}

	r.HandleMessage(context.Background(), inbound(bus.PlatformWhatsApp))

	sent := adapter.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("expected exactly 1 outbound message, got %d", len(sent))
	}
	if sent[0] != errorApology {
		t.Errorf("reply = %q, want the fixed apology", sent[0])
	}
}

func TestHandleMessageNoAdapterDropsMessage(t *testing.T) {
	provider := &fakeProvider{intent: ai.Intent{Action: "unknown"}}
	adapter := newFakeAdapter(bus.PlatformTelegram)

	r := New(provider, nil, nil)
	if err := r.RegisterAdapter(adapter); err != nil {
		t.Fatalf("RegisterAdapter: %v", err)
	}

	// Teams has no adapter registered; the message must be dropped
	// without panicking or touching the telegram adapter.
	r.HandleMessage(context.Background(), inbound(bus.PlatformTeams))

	if got := adapter.sentMessages(); len(got) != 0 {
		t.Errorf("unrelated adapter received %d messages, want 0", len(got))
	}
}

func TestHandleMessageSendFailureIsTerminal(t *testing.T) {
	provider := &fakeProvider{intent: ai.Intent{Action: "unknown"}}
	adapter := newFakeAdapter(bus.PlatformSlack)
	adapter.sendErr = fmt.Errorf("socket closed")

	events := bus.NewEventStream()
	ch := events.Subscribe()
	defer events.Unsubscribe(ch)

	r := New(provider, nil, events)
	if err := r.RegisterAdapter(adapter); err != nil {
		t.Fatalf("RegisterAdapter: %v", err)
	}

	r.HandleMessage(context.Background(), inbound(bus.PlatformSlack))

	// The inbound event is published, but no outbound event may follow a
	// failed send.
	for {
		select {
		case evt := <-ch:
			if evt.Type == "outbound" {
				t.Fatal("outbound event published for a failed send")
			}
		case <-time.After(100 * time.Millisecond):
			return
		}
	}
}

func TestRegisterAdapterRejectsDuplicate(t *testing.T) {
	r := New(&fakeProvider{}, nil, nil)

	if err := r.RegisterAdapter(newFakeAdapter(bus.PlatformSlack)); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := r.RegisterAdapter(newFakeAdapter(bus.PlatformSlack)); err == nil {
		t.Fatal("expected error registering slack twice")
	}
}

func TestRegisterAdapterRejectsUnknownPlatform(t *testing.T) {
	r := New(&fakeProvider{}, nil, nil)
	if err := r.RegisterAdapter(newFakeAdapter(bus.Platform("irc"))); err == nil {
		t.Fatal("expected error for unknown platform")
	}
}

func TestInjectMessageRoundTrip(t *testing.T) {
	provider := &fakeProvider{intent: ai.Intent{
		Action:   "create",
		Entities: map[string]interface{}{"type": "note"},
	}}
	adapter := newFakeAdapter(bus.PlatformTelegram)

	r := New(provider, nil, nil)
	if err := r.RegisterAdapter(adapter); err != nil {
		t.Fatalf("RegisterAdapter: %v", err)
	}

	if err := r.InjectMessage(bus.PlatformTelegram, "chat-9", "note this down"); err != nil {
		t.Fatalf("InjectMessage: %v", err)
	}

	deadline := time.After(time.Second)
	for len(adapter.sentMessages()) == 0 {
		select {
		case <-deadline:
			t.Fatal("injected message never produced a reply")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := r.InjectMessage(bus.PlatformTeams, "chat-9", "hi"); err == nil {
		t.Error("expected error injecting into unregistered platform")
	}
}

func TestShutdownDisconnectsAllAdapters(t *testing.T) {
	a := newFakeAdapter(bus.PlatformSlack)
	b := newFakeAdapter(bus.PlatformTelegram)

	r := New(&fakeProvider{}, nil, nil)
	if err := r.RegisterAdapter(a); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterAdapter(b); err != nil {
		t.Fatal(err)
	}

	r.Shutdown(context.Background())

	if a.disconnects != 1 || b.disconnects != 1 {
		t.Errorf("disconnect counts = %d, %d, want 1, 1", a.disconnects, b.disconnects)
	}
}

func TestSimulateActionShapes(t *testing.T) {
	tests := []struct {
		name    string
		intent  ai.Intent
		success bool
		message string
	}{
		{
			name:    "create",
			intent:  ai.Intent{Action: "create", Entities: map[string]interface{}{"type": "user"}},
			success: true,
			message: "Created user successfully",
		},
		{
			name:    "update",
			intent:  ai.Intent{Action: "update", Entities: map[string]interface{}{"type": "task"}},
			success: true,
			message: "Updated task successfully",
		},
		{
			name:    "delete without type",
			intent:  ai.Intent{Action: "delete", Entities: map[string]interface{}{}},
			success: true,
			message: "Deleted item successfully",
		},
		{
			name:    "unknown verb",
			intent:  ai.Intent{Action: "teleport", Entities: map[string]interface{}{}},
			success: false,
			message: "I understand you want to teleport, but I'm not sure how to help with that yet.",
		},
		{
			name:    "substring of a known verb is not a match",
			intent:  ai.Intent{Action: "forget", Entities: map[string]interface{}{}},
			success: false,
			message: "I understand you want to forget, but I'm not sure how to help with that yet.",
		},
		{
			name:    "synonym outside the vocabulary is not a match",
			intent:  ai.Intent{Action: "add", Entities: map[string]interface{}{}},
			success: false,
			message: "I understand you want to add, but I'm not sure how to help with that yet.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := simulateAction(tt.intent)
			if result["success"] != tt.success {
				t.Errorf("success = %v, want %v", result["success"], tt.success)
			}
			if result["message"] != tt.message {
				t.Errorf("message = %q, want %q", result["message"], tt.message)
			}
		})
	}
}

func TestSimulateQueryEchoesEntities(t *testing.T) {
	for _, action := range []string{"read", "query", "search"} {
		t.Run(action, func(t *testing.T) {
			result := simulateAction(ai.Intent{
				Action:   action,
				Entities: map[string]interface{}{"type": "orders", "timeframe": "last week"},
			})
			if result["success"] != true {
				t.Fatalf("success = %v, want true", result["success"])
			}
			results, ok := result["results"].([]map[string]interface{})
			if !ok || len(results) == 0 {
				t.Fatalf("expected non-empty results slice, got %v", result["results"])
			}
			for _, row := range results {
				if row["type"] != "orders" || row["timeframe"] != "last week" {
					t.Errorf("result row missing echoed entities: %v", row)
				}
				if row["id"] == nil || row["name"] == nil {
					t.Errorf("result row missing id/name: %v", row)
				}
			}
		})
	}
}
