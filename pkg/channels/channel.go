package channels

import (
	"context"

	"github.com/omnibridge/omnibridge/pkg/bus"
)

// Handler receives one inbound message. It is invoked asynchronously, once
// per message, independently of any other adapter's handler.
type Handler func(msg bus.Message)

// Adapter translates between a platform's native protocol and the
// canonical Message/send-text interface. Each platform implements this
// once; the router never sees platform-native types.
//
// Lifecycle contract: OnMessage must be wired before Initialize so no
// inbound message races the registration. Disconnect is idempotent.
type Adapter interface {
	// Platform returns the key this adapter is registered under.
	Platform() bus.Platform

	// Initialize establishes the platform connection. It may require
	// out-of-band steps (e.g. scanning a pairing code). On failure the
	// adapter must not be treated as usable.
	Initialize(ctx context.Context) error

	// OnMessage registers the single inbound handler. A second call
	// replaces the previous handler.
	OnMessage(handler Handler)

	// SendMessage delivers text to chatID. It returns an error when the
	// adapter lacks the addressing information to reach chatID or the
	// transport rejects the send; it resolves only once the transport
	// has accepted delivery.
	SendMessage(ctx context.Context, chatID, text string, metadata map[string]string) error

	// Disconnect releases transport resources. Safe to call when not
	// connected.
	Disconnect() error
}
