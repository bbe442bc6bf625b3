// Package notify pushes newly created recommendations to chat platforms
// (Slack, Discord). It listens on the bus and forwards anything at or above
// a configured priority to every configured Sender.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/zulandar/switchboard/internal/bus"
	"github.com/zulandar/switchboard/internal/logging"
	"github.com/zulandar/switchboard/internal/recommend"
	"go.uber.org/zap"
)

// maxBody caps the notice body; chat platforms truncate long attachments
// badly.
const maxBody = 1500

// Sender is the interface platform-specific implementations satisfy.
type Sender interface {
	// Name identifies the platform in logs ("slack", "discord").
	Name() string
	// Send delivers one notice.
	Send(ctx context.Context, n Notice) error
}

// Notice is a recommendation formatted for display in chat.
type Notice struct {
	Title    string
	Body     string
	Priority string
	Color    string // sidebar color hint, e.g. "#e01e5a"
	Fields   []Field
}

// Field is a key-value pair shown alongside a notice.
type Field struct {
	Name  string
	Value string
	Short bool
}

var priorityColors = map[string]string{
	recommend.PriorityUrgent: "#e01e5a",
	recommend.PriorityHigh:   "#ecb22e",
	recommend.PriorityNormal: "#2eb67d",
	recommend.PriorityLow:    "#9e9e9e",
}

// Notifier forwards recommendation.created events to its senders.
type Notifier struct {
	bus         *bus.Bus
	senders     []Sender
	minPriority string
	logger      *zap.Logger

	mu  sync.Mutex
	sub *bus.Subscription
}

// Opts holds parameters for creating a Notifier.
type Opts struct {
	Bus         *bus.Bus
	Senders     []Sender
	MinPriority string // defaults to high
	Logger      *zap.Logger
}

// New creates a Notifier. It does nothing until Start.
func New(opts Opts) (*Notifier, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("notify: bus is required")
	}
	floor := opts.MinPriority
	if floor == "" {
		floor = recommend.PriorityHigh
	}
	if !recommend.ValidPriority(floor) {
		return nil, fmt.Errorf("notify: unknown min priority %q", floor)
	}
	return &Notifier{
		bus:         opts.Bus,
		senders:     opts.Senders,
		minPriority: floor,
		logger:      logging.OrNop(opts.Logger).Named("notify"),
	}, nil
}

// Start subscribes to recommendation.created. With no senders it is a no-op.
func (n *Notifier) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sub != nil || len(n.senders) == 0 {
		return
	}
	n.sub = n.bus.Subscribe(bus.TopicRecommendationCreated, n.handle)

	names := make([]string, len(n.senders))
	for i, s := range n.senders {
		names[i] = s.Name()
	}
	n.logger.Info("notifications enabled",
		zap.Strings("senders", names), zap.String("min_priority", n.minPriority))
}

// Stop unsubscribes. Safe to call repeatedly.
func (n *Notifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sub != nil {
		n.sub.Unsubscribe()
		n.sub = nil
	}
}

func (n *Notifier) handle(ctx context.Context, msg bus.Message) error {
	created, ok := msg.Payload.(recommend.Created)
	if !ok {
		return fmt.Errorf("notify: unexpected payload %T", msg.Payload)
	}
	rec := created.Recommendation
	if !recommend.PriorityAtLeast(rec.Priority, n.minPriority) {
		return nil
	}
	return n.Deliver(ctx, Format(created))
}

// Deliver sends notice to every sender. One sender failing does not stop
// the others; the failures are joined.
func (n *Notifier) Deliver(ctx context.Context, notice Notice) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, notice); err != nil {
			n.logger.Warn("notification failed",
				zap.String("sender", s.Name()), zap.String("title", notice.Title), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.Debug("notification sent",
			zap.String("sender", s.Name()), zap.String("title", notice.Title))
	}
	return errors.Join(errs...)
}

// Format renders a created recommendation as a Notice.
func Format(c recommend.Created) Notice {
	rec := c.Recommendation
	body := strings.TrimSpace(rec.Body)
	if r := []rune(body); len(r) > maxBody {
		body = string(r[:maxBody]) + "..."
	}
	return Notice{
		Title:    rec.Title,
		Body:     body,
		Priority: rec.Priority,
		Color:    priorityColors[rec.Priority],
		Fields: []Field{
			{Name: "Priority", Value: rec.Priority, Short: true},
			{Name: "From", Value: rec.AgentName, Short: true},
			{Name: "ID", Value: fmt.Sprintf("%d", rec.ID), Short: true},
		},
	}
}

// Text is the plain-text fallback for a notice.
func (n Notice) Text() string {
	return fmt.Sprintf("[%s] %s", strings.ToUpper(n.Priority), n.Title)
}
