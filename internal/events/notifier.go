// Package events рассылает события мутаций записей подключённым подписчикам (SSE).
// Доставка at-most-once: без буфера прошлых событий и без повторов.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Event struct {
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	Timestamp  time.Time `json:"timestamp"`
}

// Observer получает счётчики нотификатора (prometheus в проде, nil в тестах).
type Observer interface {
	EventPublished()
	EventDropped()
	SubscribersChanged(n int)
}

type Subscription struct {
	ID string
	ch chan Event
}

// Events закрывается после Unsubscribe или Close нотификатора.
func (s *Subscription) Events() <-chan Event { return s.ch }

type Notifier struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	buffer int
	closed bool
	log    *slog.Logger
	obs    Observer
}

func NewNotifier(buffer int, log *slog.Logger, obs Observer) *Notifier {
	if buffer <= 0 {
		buffer = 64
	}
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
		log:    log,
		obs:    obs,
	}
}

// Subscribe регистрирует слушателя; он получит только события, опубликованные после вызова.
func (n *Notifier) Subscribe() *Subscription {
	s := &Subscription{ID: uuid.NewString(), ch: make(chan Event, n.buffer)}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		close(s.ch)
		return s
	}
	n.subs[s.ID] = s
	n.observeCount()
	return s
}

func (n *Notifier) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[s.ID]; !ok {
		return
	}
	delete(n.subs, s.ID)
	close(s.ch)
	n.observeCount()
}

// Publish никогда не блокирует: если очередь подписчика полна, событие для
// него теряется и пишется в лог.
func (n *Notifier) Publish(e Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.obs != nil {
		n.obs.EventPublished()
	}
	for id, s := range n.subs {
		select {
		case s.ch <- e:
		default:
			n.log.Warn("event dropped for slow subscriber",
				"subscriber", id, "entity_type", e.EntityType, "entity_id", e.EntityID, "action", e.Action)
			if n.obs != nil {
				n.obs.EventDropped()
			}
		}
	}
}

// Close отписывает всех (SSE-потоки завершаются) и игнорирует новые подписки.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, s := range n.subs {
		close(s.ch)
		delete(n.subs, id)
	}
	n.observeCount()
}

func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// вызывается под n.mu
func (n *Notifier) observeCount() {
	if n.obs != nil {
		n.obs.SubscribersChanged(len(n.subs))
	}
}
