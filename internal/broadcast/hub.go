// Package broadcast fans named events out to the subscribers of a room.
//
// Delivery is best effort. A subscriber whose buffer is full is dropped; the
// publisher is never blocked and other subscribers are unaffected.
package broadcast

import (
	"encoding/json"
	"sync"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 16

// Message is a named event with a pre-encoded JSON payload.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewMessage encodes payload into a Message.
func NewMessage(event string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Event: event, Data: data}, nil
}

// Subscription is one connected client of a room. Read messages from C
// until Done is closed, then drain whatever is still buffered.
type Subscription struct {
	Code   string
	UserID string

	c    chan Message
	done chan struct{}
	once sync.Once
}

func (s *Subscription) C() <-chan Message {
	return s.c
}

func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.done) })
}

type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Subscription]struct{}
	buffer int
	logf   func(format string, args ...any)
}

func NewHub(buffer int, logf func(format string, args ...any)) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Hub{
		rooms:  make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		logf:   logf,
	}
}

func (h *Hub) Subscribe(code, userID string) *Subscription {
	s := &Subscription{
		Code:   code,
		UserID: userID,
		c:      make(chan Message, h.buffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.rooms[code]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.rooms[code] = subs
	}
	subs[s] = struct{}{}

	return s
}

// Unsubscribe removes s. It is safe to call more than once.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	h.removeLocked(s)
	h.mu.Unlock()

	s.close()
}

func (h *Hub) removeLocked(s *Subscription) {
	subs, ok := h.rooms[s.Code]
	if !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.rooms, s.Code)
	}
}

// Publish sends msg to every subscriber of code and returns how many
// accepted it.
func (h *Hub) Publish(code string, msg Message) int {
	return h.send(h.snapshot(code, ""), msg)
}

// PublishTo sends msg only to the subscriptions held by userID.
func (h *Hub) PublishTo(code, userID string, msg Message) int {
	return h.send(h.snapshot(code, userID), msg)
}

func (h *Hub) snapshot(code, userID string) []*Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := make([]*Subscription, 0, len(h.rooms[code]))
	for s := range h.rooms[code] {
		if userID == "" || s.UserID == userID {
			subs = append(subs, s)
		}
	}
	return subs
}

func (h *Hub) send(subs []*Subscription, msg Message) int {
	delivered := 0
	for _, s := range subs {
		select {
		case s.c <- msg:
			delivered++
		default:
			h.logf("SERVE: Dropping slow subscriber %s in %s", s.UserID, s.Code)
			h.Unsubscribe(s)
		}
	}
	return delivered
}

// Disconnect closes every subscription held by userID in code.
func (h *Hub) Disconnect(code, userID string) {
	for _, s := range h.snapshot(code, userID) {
		h.Unsubscribe(s)
	}
}

// CloseRoom closes every subscription of code.
func (h *Hub) CloseRoom(code string) {
	h.mu.Lock()
	subs := h.rooms[code]
	delete(h.rooms, code)
	h.mu.Unlock()

	for s := range subs {
		s.close()
	}
}

// Connected reports whether userID holds at least one subscription in code.
func (h *Hub) Connected(code, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.rooms[code] {
		if s.UserID == userID {
			return true
		}
	}
	return false
}

// Count returns the number of subscriptions of code.
func (h *Hub) Count(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[code])
}
