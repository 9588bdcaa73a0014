package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Observer receives events from an attached Hub subscription.
type Observer interface {
	Name() string
	Notify(ctx context.Context, ev Event) error
}

// notifyTimeout bounds a single Observer.Notify call.
const notifyTimeout = 10 * time.Second

type subscription struct {
	id      string
	session string // empty: all sessions
	ch      chan Event
}

// Hub fans events out to every attached subscriber. Publishing never blocks:
// a subscriber whose buffer is full misses the event. There is no replay.
type Hub struct {
	subs   map[string]*subscription
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]*subscription),
		logger: logger,
	}
}

// Subscribe registers a channel subscriber. An empty sessionID receives
// events of every session. The channel is closed by Unsubscribe.
func (h *Hub) Subscribe(sessionID string, buffer int) (string, <-chan Event) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscription{
		id:      uuid.New().String(),
		session: sessionID,
		ch:      make(chan Event, buffer),
	}
	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()

	h.logger.Debug("observer subscribed",
		zap.String("subscription", sub.id),
		zap.String("session", sessionID))
	return sub.id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(sub.ch)
	}
	h.mu.Unlock()
}

// Publish delivers ev to every matching subscriber without waiting.
func (h *Hub) Publish(_ context.Context, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.session != "" && sub.session != ev.Session() {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.logger.Debug("observer buffer full, dropping event",
				zap.String("subscription", sub.id),
				zap.String("type", string(ev.Kind())))
		}
	}
}

// Attach forwards every event to o on its own goroutine until Detach is
// called or ctx is cancelled. Notify errors are logged and do not stop
// delivery.
func (h *Hub) Attach(ctx context.Context, o Observer, buffer int) string {
	id, ch := h.Subscribe("", buffer)
	go func() {
		for {
			select {
			case <-ctx.Done():
				h.Unsubscribe(id)
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
				if err := o.Notify(nctx, ev); err != nil {
					h.logger.Warn("observer notify failed",
						zap.String("observer", o.Name()),
						zap.String("type", string(ev.Kind())),
						zap.Error(err))
				}
				cancel()
			}
		}
	}()
	h.logger.Info("attached observer", zap.String("observer", o.Name()))
	return id
}

// Detach stops an observer attached with Attach.
func (h *Hub) Detach(id string) { h.Unsubscribe(id) }

// Subscribers returns the number of attached subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close detaches every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}
