package bus

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/stellarlinkco/taskhub/internal/store"
)

// Event types published after a task save.
const (
	TaskCreated   = "task.created"
	TaskUpdated   = "task.updated"
	TaskCompleted = "task.completed"
	TaskDeleted   = "task.deleted"
	TaskReminder  = "task.reminder"
)

// Event is one task change. Task is a snapshot taken after the save.
type Event struct {
	Type      string      `json:"type"`
	SpaceID   int64       `json:"space"`
	Task      *store.Task `json:"task"`
	ActorID   *int64      `json:"actor,omitempty"`
	Timestamp time.Time   `json:"timestamp"`

	// Method is set for reminders: the delivery method of the due entry.
	Method string `json:"method,omitempty"`
}

// Handler receives events on the dispatch goroutine.
type Handler func(Event)

type EventBus struct {
	Events chan Event

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewEventBus(bufSize int) *EventBus {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &EventBus{
		Events:   make(chan Event, bufSize),
		handlers: make(map[string]Handler),
	}
}

// Publish queues ev without blocking the caller and reports whether it was
// accepted. A full buffer drops the event and logs it.
func (b *EventBus) Publish(ev Event) bool {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case b.Events <- ev:
		return true
	default:
		log.Printf("[bus] buffer full, dropping %s for task %d", ev.Type, taskID(ev))
		return false
	}
}

// Subscribe registers fn under name, replacing any handler of that name.
func (b *EventBus) Subscribe(name string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = fn
}

func (b *EventBus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, name)
}

// Dispatch delivers queued events to every subscriber until ctx is done.
func (b *EventBus) Dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.Events:
			b.deliver(ev)
		}
	}
}

func (b *EventBus) deliver(ev Event) {
	b.mu.RLock()
	names := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	handlers := make([]Handler, 0, len(names))
	for _, name := range names {
		handlers = append(handlers, b.handlers[name])
	}
	b.mu.RUnlock()

	for i, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[bus] handler %s panicked on %s: %v", names[i], ev.Type, r)
				}
			}()
			fn(ev)
		}()
	}
}

func taskID(ev Event) int64 {
	if ev.Task == nil {
		return 0
	}
	return ev.Task.ID
}
