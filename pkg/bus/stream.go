package bus

import (
	"sync"
	"time"
)

// EventStream fans pipeline events out to observers (dashboard websocket
// clients). Publishing never blocks: observers that fall behind miss
// events rather than stalling message handling.
type EventStream struct {
	mu        sync.RWMutex
	observers []chan Event
}

func NewEventStream() *EventStream {
	return &EventStream{observers: make([]chan Event, 0)}
}

// Subscribe returns a channel that receives copies of all events.
func (s *EventStream) Subscribe() chan Event {
	ch := make(chan Event, 50)
	s.mu.Lock()
	s.observers = append(s.observers, ch)
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes an observer channel and closes it.
func (s *EventStream) Unsubscribe(ch chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, obs := range s.observers {
		if obs == ch {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			close(ch)
			return
		}
	}
}

func (s *EventStream) publish(event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, obs := range s.observers {
		select {
		case obs <- event:
		default:
			// Non-blocking: skip slow observers
		}
	}
}

// PublishInbound records a message entering the pipeline.
func (s *EventStream) PublishInbound(msg Message) {
	s.publish(Event{Type: "inbound", Inbound: &msg, Time: time.Now()})
}

// PublishOutbound records a reply leaving the pipeline.
func (s *EventStream) PublishOutbound(out Outbound) {
	s.publish(Event{Type: "outbound", Outbound: &out, Time: time.Now()})
}

// PublishQRCode records a pairing event from a channel.
func (s *EventStream) PublishQRCode(event QRCodeEvent) {
	s.publish(Event{Type: "qr_code", QRCode: &event, Time: time.Now()})
}
