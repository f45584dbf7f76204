package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omnibridge/omnibridge/pkg/ai"
	"github.com/omnibridge/omnibridge/pkg/bus"
	"github.com/omnibridge/omnibridge/pkg/channels"
	"github.com/omnibridge/omnibridge/pkg/logger"
	"github.com/omnibridge/omnibridge/pkg/mcp"
)

// errorApology is the only text a chat user sees when the pipeline fails
// unexpectedly. Raw error content never reaches a chat.
const errorApology = "Sorry, I encountered an error processing your request. Please try again."

// ActionClient is the remote action capability the router consumes. One
// outbound call per Request; failures come back as degraded Responses.
type ActionClient interface {
	Request(ctx context.Context, req mcp.Request) (mcp.Response, error)
	Disconnect()
}

// Router owns the adapter registry and drives every inbound message
// through the interpret, act, respond, deliver pipeline. Messages are
// handled concurrently and independently; the registry is populated at
// startup and read-mostly afterwards.
type Router struct {
	mu       sync.RWMutex
	adapters map[bus.Platform]channels.Adapter

	provider ai.Provider
	client   ActionClient
	events   *bus.EventStream
}

// New creates a router. client may be nil, in which case intents are
// served by the local simulation fallback.
func New(provider ai.Provider, client ActionClient, events *bus.EventStream) *Router {
	return &Router{
		adapters: make(map[bus.Platform]channels.Adapter),
		provider: provider,
		client:   client,
		events:   events,
	}
}

// RegisterAdapter stores the adapter under its platform key and wires the
// router's handler. Call before the adapter's Initialize so no inbound
// message races the registration. Registering a platform twice is a
// configuration error.
func (r *Router) RegisterAdapter(adapter channels.Adapter) error {
	platform := adapter.Platform()
	if !platform.Valid() {
		return fmt.Errorf("unknown platform %q", platform)
	}

	r.mu.Lock()
	if _, exists := r.adapters[platform]; exists {
		r.mu.Unlock()
		return fmt.Errorf("adapter already registered for platform %q", platform)
	}
	r.adapters[platform] = adapter
	r.mu.Unlock()

	adapter.OnMessage(func(msg bus.Message) {
		r.HandleMessage(context.Background(), msg)
	})

	logger.InfoCF("router", "Registered adapter", map[string]interface{}{
		"platform": platform,
	})
	return nil
}

func (r *Router) adapter(platform bus.Platform) (channels.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[platform]
	return a, ok
}

// RegisteredPlatforms lists the platforms with a live adapter.
func (r *Router) RegisteredPlatforms() []bus.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]bus.Platform, 0, len(r.adapters))
	for _, p := range bus.Platforms() {
		if _, ok := r.adapters[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// HandleMessage runs the pipeline for one inbound message. Every message
// produces exactly one outbound send attempt: if any stage fails
// unexpectedly, the user gets the fixed apology instead of the computed
// reply.
func (r *Router) HandleMessage(ctx context.Context, msg bus.Message) {
	if r.events != nil {
		r.events.PublishInbound(msg)
	}

	logger.InfoCF("router", "Received message", map[string]interface{}{
		"platform": msg.Platform,
		"chat_id":  msg.ChatID,
	})

	reply, ok := r.process(ctx, msg)
	if !ok {
		reply = errorApology
	}

	r.deliver(ctx, msg, reply)
}

// process runs the interpret, act and respond stages. The stage contracts promise not
// to fail, but a contract violation must not take the delivery attempt
// down with it, so panics are contained here.
func (r *Router) process(ctx context.Context, msg bus.Message) (reply string, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorCF("router", "Pipeline stage panicked", map[string]interface{}{
				"platform": msg.Platform,
				"chat_id":  msg.ChatID,
				"panic":    fmt.Sprintf("%v", rec),
			})
			ok = false
		}
	}()

	// Step 1: extract intent. The provider contract guarantees a value.
	intent := r.provider.ProcessNaturalLanguage(ctx, msg.Text, map[string]string{
		"platform": string(msg.Platform),
		"userId":   msg.UserID,
		"userName": msg.UserName,
	})

	logger.DebugCF("router", "Extracted intent", map[string]interface{}{
		"action":     intent.Action,
		"confidence": intent.Confidence,
	})

	// Step 2: execute the action, remotely when a client is configured.
	result := r.act(ctx, msg, intent)

	// Step 3: phrase the outcome.
	reply = r.provider.GenerateResponse(ctx, intent, result, map[string]string{
		"platform": string(msg.Platform),
	})
	return reply, true
}

func (r *Router) act(ctx context.Context, msg bus.Message, intent ai.Intent) interface{} {
	if r.client == nil || intent.Action == "error" {
		return simulateAction(intent)
	}

	resp, err := r.client.Request(ctx, mcp.Request{
		Method: intent.Action,
		Params: intent.Entities,
		Context: map[string]string{
			"platform": string(msg.Platform),
			"userId":   msg.UserID,
			"userName": msg.UserName,
			"chatId":   msg.ChatID,
		},
	})
	if err != nil {
		// Use-before-connect is a configuration fault; the response
		// stage phrases it like any other failed action.
		logger.ErrorCF("router", "Action client misconfigured", map[string]interface{}{
			"error": err.Error(),
		})
		return map[string]interface{}{"error": err.Error()}
	}
	if !resp.Success {
		return map[string]interface{}{"error": resp.Error}
	}
	return resp.Data
}

// deliver performs the single outbound send attempt. A missing adapter is
// a configuration-consistency fault: logged, message dropped. A send
// failure is logged and the message is considered lost; there is no retry
// queue.
func (r *Router) deliver(ctx context.Context, msg bus.Message, text string) {
	adapter, ok := r.adapter(msg.Platform)
	if !ok {
		logger.ErrorCF("router", "No adapter registered for platform", map[string]interface{}{
			"platform": msg.Platform,
		})
		return
	}

	if err := adapter.SendMessage(ctx, msg.ChatID, text, msg.Metadata); err != nil {
		logger.ErrorCF("router", "Failed to deliver reply, message lost", map[string]interface{}{
			"platform": msg.Platform,
			"chat_id":  msg.ChatID,
			"error":    err.Error(),
		})
		return
	}

	if r.events != nil {
		r.events.PublishOutbound(bus.Outbound{
			Platform: msg.Platform,
			ChatID:   msg.ChatID,
			Text:     text,
		})
	}

	logger.InfoCF("router", "Sent response", map[string]interface{}{
		"platform": msg.Platform,
		"chat_id":  msg.ChatID,
	})
}

// InjectMessage synthesizes an inbound message and runs it through the
// same pipeline, backing the REST facade's /api/message endpoint. It
// fails fast when no adapter can deliver the eventual reply.
func (r *Router) InjectMessage(platform bus.Platform, chatID, text string) error {
	if _, ok := r.adapter(platform); !ok {
		return fmt.Errorf("no adapter registered for platform %q", platform)
	}

	msg := bus.Message{
		ID:        uuid.NewString(),
		Platform:  platform,
		UserID:    "api",
		UserName:  "API",
		ChatID:    chatID,
		Text:      text,
		Timestamp: time.Now(),
		Metadata:  map[string]string{"source": "api"},
	}

	go r.HandleMessage(context.Background(), msg)
	return nil
}

// Shutdown disconnects every adapter and the action client, best-effort:
// one failing disconnect never stops the rest.
func (r *Router) Shutdown(ctx context.Context) {
	logger.InfoC("router", "Shutting down message router")

	r.mu.RLock()
	adapters := make([]channels.Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	r.mu.RUnlock()

	for _, a := range adapters {
		if err := a.Disconnect(); err != nil {
			logger.WarnCF("router", "Adapter disconnect failed", map[string]interface{}{
				"platform": a.Platform(),
				"error":    err.Error(),
			})
		}
	}

	if r.client != nil {
		r.client.Disconnect()
	}
}
