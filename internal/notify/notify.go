package notify

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/stellarlinkco/taskhub/internal/bus"
	"github.com/stellarlinkco/taskhub/internal/config"
)

const (
	logMethod      = "log"
	subscriberName = "notify"
)

// Notification is one rendered message for one delivery method.
type Notification struct {
	Method string
	Text   string
	Event  bus.Event
}

// Sender delivers notifications of a single method.
type Sender interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(n Notification) error
}

// LogSender writes notifications to the process log.
type LogSender struct{}

func (LogSender) Name() string { return logMethod }
func (LogSender) Start(ctx context.Context) error { return nil }
func (LogSender) Stop() error { return nil }

func (LogSender) Send(n Notification) error {
	log.Printf("[notify] %s", n.Text)
	return nil
}

// Notifier routes task events to senders according to each task's
// notifications map. Reminders carry their method on the event.
type Notifier struct {
	senders map[string]Sender
}

func NewNotifier(cfg config.NotifyConfig) (*Notifier, error) {
	n := &Notifier{senders: make(map[string]Sender)}
	n.Register(LogSender{})

	if cfg.Telegram.Enabled {
		s, err := NewTelegramSender(cfg.Telegram)
		if err != nil {
			return nil, fmt.Errorf("init telegram sender: %w", err)
		}
		n.Register(s)
	}
	return n, nil
}

// Register adds s, replacing any sender of the same method.
func (n *Notifier) Register(s Sender) {
	n.senders[s.Name()] = s
}

// Methods lists the configured delivery methods.
func (n *Notifier) Methods() []string {
	names := make([]string, 0, len(n.senders))
	for name := range n.senders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (n *Notifier) Attach(b *bus.EventBus) {
	b.Subscribe(subscriberName, n.Handle)
}

func (n *Notifier) StartAll(ctx context.Context) error {
	for _, name := range n.Methods() {
		if err := n.senders[name].Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", name, err)
		}
	}
	return nil
}

func (n *Notifier) StopAll() error {
	var firstErr error
	for _, name := range n.Methods() {
		if err := n.senders[name].Stop(); err != nil {
			log.Printf("[notify] stop %s: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Handle delivers ev through every method the task asks for.
func (n *Notifier) Handle(ev bus.Event) {
	if ev.Task == nil {
		return
	}
	text := Render(ev)
	for _, method := range methodsFor(ev) {
		s, ok := n.senders[method]
		if !ok {
			log.Printf("[notify] no sender for method %q (task %d, %s)", method, ev.Task.ID, ev.Type)
			continue
		}
		if err := s.Send(Notification{Method: method, Text: text, Event: ev}); err != nil {
			log.Printf("[notify] send via %s failed: %v", method, err)
		}
	}
}

// triggers maps event types to notification keys. A completion is also an
// update.
var triggers = map[string][]string{
	bus.TaskCreated:   {"on_create"},
	bus.TaskUpdated:   {"on_update"},
	bus.TaskCompleted: {"on_complete", "on_update"},
	bus.TaskDeleted:   {"on_delete"},
	bus.TaskReminder:  {"on_reminder"},
}

// methodsFor lists the delivery methods of ev. A reminder goes out through
// its own method first, then through the task's on_reminder methods.
func methodsFor(ev bus.Event) []string {
	seen := make(map[string]bool)
	var methods []string
	if ev.Type == bus.TaskReminder && ev.Method != "" {
		seen[ev.Method] = true
		methods = append(methods, ev.Method)
	}

	doc := gjson.ParseBytes(ev.Task.Notifications)
	for _, key := range triggers[ev.Type] {
		for _, m := range doc.Get(key).Array() {
			method := strings.TrimSpace(m.String())
			if method == "" || seen[method] {
				continue
			}
			seen[method] = true
			methods = append(methods, method)
		}
	}
	return methods
}

// Render formats ev as a short human-readable line.
func Render(ev bus.Event) string {
	t := ev.Task
	var verb string
	switch ev.Type {
	case bus.TaskCreated:
		verb = "created"
	case bus.TaskUpdated:
		verb = "updated"
	case bus.TaskCompleted:
		verb = "completed"
	case bus.TaskDeleted:
		verb = "deleted"
	case bus.TaskReminder:
		verb = "reminder"
	default:
		verb = ev.Type
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task #%d **%s** %s", t.ID, t.Name, verb)
	if ev.Type != bus.TaskDeleted {
		fmt.Fprintf(&b, "\nprogress %d%%, dependencies %d%%", t.Progress, t.ProgressDependencies)
		if !t.IsReady {
			b.WriteString(", blocked")
		}
	}
	if t.Deadline != nil {
		fmt.Fprintf(&b, "\ndeadline %s", t.Deadline.UTC().Format("2006-01-02 15:04 MST"))
	}
	return b.String()
}
