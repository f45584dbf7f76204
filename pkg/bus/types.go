package bus

import "time"

// Platform identifies a chat platform. The set is closed: an adapter may
// only ever be registered under one of these keys.
type Platform string

const (
	PlatformWhatsApp Platform = "whatsapp"
	PlatformTelegram Platform = "telegram"
	PlatformSlack    Platform = "slack"
	PlatformTeams    Platform = "teams"
)

// Platforms lists every supported platform in a stable order.
func Platforms() []Platform {
	return []Platform{PlatformWhatsApp, PlatformTelegram, PlatformSlack, PlatformTeams}
}

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformWhatsApp, PlatformTelegram, PlatformSlack, PlatformTeams:
		return true
	}
	return false
}

// Message is one inbound chat turn, normalized by a platform adapter.
// Immutable once constructed.
type Message struct {
	ID        string            `json:"id"`
	Platform  Platform          `json:"platform"`
	UserID    string            `json:"user_id"`
	UserName  string            `json:"user_name,omitempty"`
	ChatID    string            `json:"chat_id"`
	Text      string            `json:"text"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Outbound is a reply on its way back to the originating chat.
type Outbound struct {
	Platform Platform `json:"platform"`
	ChatID   string   `json:"chat_id"`
	Text     string   `json:"text"`
}

// QRCodeEvent reports pairing progress for channels that authenticate by
// QR code (WhatsApp).
type QRCodeEvent struct {
	Platform Platform `json:"platform"`
	Event    string   `json:"event"`          // "code", "success", "timeout", "error"
	Code     string   `json:"code,omitempty"` // raw QR payload (only for "code")
	SVG      string   `json:"svg,omitempty"`  // server-rendered SVG of the QR code
}

// Event is one observed pipeline event, streamed to dashboard clients.
type Event struct {
	Type     string       `json:"type"` // "inbound", "outbound", or "qr_code"
	Inbound  *Message     `json:"inbound,omitempty"`
	Outbound *Outbound    `json:"outbound,omitempty"`
	QRCode   *QRCodeEvent `json:"qr_code,omitempty"`
	Time     time.Time    `json:"time"`
}
