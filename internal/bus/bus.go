// Package bus is the in-process publish/subscribe channel agents use to
// notify one another. Delivery is at-most-once: messages go to the
// subscribers present at publish time and are dropped when a subscriber's
// queue is full.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/logging"
	"go.uber.org/zap"
)

// Well-known topics.
const (
	TopicRecommendationCreated = "recommendation.created"
	TopicConversationComplete  = "conversation.complete"
	TopicRunCompleted          = "agent.run.completed"
	TopicRunFailed             = "agent.run.failed"
	TopicAnomalyDetected       = "anomaly.detected"
)

// ConversationComplete is the payload of TopicConversationComplete.
type ConversationComplete struct {
	ThreadID  string `json:"thread_id"`
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Anomaly is the payload of TopicAnomalyDetected.
type Anomaly struct {
	Kind     string `json:"kind"`
	Subject  string `json:"subject"`
	Priority string `json:"priority"`
	Detail   string `json:"detail"`
}

// RunFinished is the payload of TopicRunCompleted and TopicRunFailed.
type RunFinished struct {
	RunID     uint   `json:"run_id"`
	AgentName string `json:"agent_name"`
	Status    string `json:"status"`
	Summary   string `json:"summary,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DefaultQueueSize is the per-subscriber buffer length.
const DefaultQueueSize = 64

// Message is one published event. Payloads are agent-defined.
type Message struct {
	Topic       string
	From        string
	Payload     any
	PublishedAt time.Time
}

// Handler consumes messages for one subscription. A returned error or a
// panic is logged and otherwise ignored.
type Handler func(ctx context.Context, msg Message) error

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	bus     *Bus
	topic   string
	handler Handler
	queue   chan Message
	once    sync.Once
	done    chan struct{}
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Unsubscribe stops delivery to this subscription. Safe to call repeatedly.
func (s *Subscription) Unsubscribe() { s.bus.Unsubscribe(s) }

// Bus fans published messages out to per-subscriber queues, each drained by
// its own worker goroutine.
type Bus struct {
	logger    *zap.Logger
	queueSize int
	ctx       context.Context
	cancel    context.CancelFunc

	mu     sync.RWMutex
	subs   map[string][]*Subscription
	closed bool
	wg     sync.WaitGroup
}

// Opts holds parameters for creating a Bus.
type Opts struct {
	Logger    *zap.Logger
	QueueSize int // defaults to DefaultQueueSize
}

// New creates a Bus.
func New(opts Opts) *Bus {
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		logger:    logging.OrNop(opts.Logger).Named("bus"),
		queueSize: size,
		ctx:       ctx,
		cancel:    cancel,
		subs:      make(map[string][]*Subscription),
	}
}

// Publish enqueues payload for every current subscriber of topic and
// returns immediately. It never blocks on a subscriber and never fails.
func (b *Bus) Publish(topic, from string, payload any) {
	msg := Message{Topic: topic, From: from, Payload: payload, PublishedAt: time.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs[topic] {
		select {
		case <-sub.done:
		case sub.queue <- msg:
		default:
			b.logger.Warn("subscriber queue full, message dropped",
				zap.String("topic", topic), zap.String("from", from))
		}
	}
}

// Subscribe registers h for every future message on topic.
func (b *Bus) Subscribe(topic string, h Handler) *Subscription {
	sub := &Subscription{
		bus:     b,
		topic:   topic,
		handler: h,
		queue:   make(chan Message, b.queueSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.once.Do(func() { close(sub.done) })
		return sub
	}
	b.subs[topic] = append(b.subs[topic], sub)
	b.wg.Add(1)
	go b.work(sub)
	return sub
}

// Unsubscribe removes sub. The message in flight, if any, finishes; queued
// messages are discarded. It does not wait for the worker, so a handler may
// unsubscribe itself.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	list := b.subs[sub.topic]
	for i, s := range list {
		if s == sub {
			b.subs[sub.topic] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.topic]) == 0 {
		delete(b.subs, sub.topic)
	}
	b.mu.Unlock()

	sub.once.Do(func() { close(sub.done) })
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close unsubscribes everyone and waits for all workers to exit.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	for _, list := range b.subs {
		all = append(all, list...)
	}
	b.subs = make(map[string][]*Subscription)
	b.mu.Unlock()

	b.cancel()
	for _, sub := range all {
		sub.once.Do(func() { close(sub.done) })
	}
	b.wg.Wait()
}

func (b *Bus) work(sub *Subscription) {
	defer b.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case msg := <-sub.queue:
			b.deliver(sub, msg)
		}
	}
}

func (b *Bus) deliver(sub *Subscription, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				zap.String("topic", msg.Topic), zap.Any("panic", r))
		}
	}()
	if err := sub.handler(b.ctx, msg); err != nil {
		b.logger.Warn("subscriber failed",
			zap.String("topic", msg.Topic), zap.String("from", msg.From), zap.Error(err))
	}
}
