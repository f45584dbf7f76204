package channels

import (
	"sync"

	"github.com/google/uuid"

	"github.com/omnibridge/omnibridge/pkg/bus"
	"github.com/omnibridge/omnibridge/pkg/logger"
)

// BaseChannel carries the state every adapter shares: the platform key,
// the single inbound handler, and a running flag. Concrete channels embed
// it and call dispatch once per normalized inbound message.
type BaseChannel struct {
	platform bus.Platform

	mu      sync.RWMutex
	handler Handler
	running bool
}

func NewBaseChannel(platform bus.Platform) *BaseChannel {
	return &BaseChannel{platform: platform}
}

func (b *BaseChannel) Platform() bus.Platform {
	return b.platform
}

// OnMessage registers the inbound handler. At most one handler is active:
// a later registration replaces the earlier one.
func (b *BaseChannel) OnMessage(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handler != nil {
		logger.WarnC(string(b.platform), "Replacing existing message handler")
	}
	b.handler = handler
}

// dispatch hands a message to the registered handler on a fresh goroutine,
// so each inbound message is an independently scheduled task and a slow
// pipeline never blocks the platform's event loop.
func (b *BaseChannel) dispatch(msg bus.Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Platform == "" {
		msg.Platform = b.platform
	}

	b.mu.RLock()
	handler := b.handler
	b.mu.RUnlock()

	if handler == nil {
		logger.WarnCF(string(b.platform), "Inbound message dropped: no handler registered", map[string]interface{}{
			"chat_id": msg.ChatID,
		})
		return
	}

	go handler(msg)
}

func (b *BaseChannel) setRunning(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = v
}

// IsRunning reports whether the channel currently holds a live connection.
func (b *BaseChannel) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// truncateString shortens s for log previews.
func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
