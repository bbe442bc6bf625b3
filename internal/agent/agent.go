// Package agent defines the unit of autonomous work the scheduler runs and
// the built-in agents of the assistant.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/bus"
	"github.com/zulandar/switchboard/internal/integration"
	"github.com/zulandar/switchboard/internal/knowledge"
	"github.com/zulandar/switchboard/internal/llm"
	"github.com/zulandar/switchboard/internal/logging"
	"github.com/zulandar/switchboard/internal/memory"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/recommend"
	"go.uber.org/zap"
)

// ScheduleManual marks an agent that only runs on demand.
const ScheduleManual = "manual"

// Descriptor identifies an agent and when it runs.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Schedule    string `json:"schedule"` // 5-field cron, "" or "manual" for on-demand
}

// Scheduled reports whether the agent has a timer.
func (d Descriptor) Scheduled() bool {
	return d.Schedule != "" && d.Schedule != ScheduleManual
}

// Result is what a completed run reports.
type Result struct {
	Summary        string
	ItemsProcessed int
}

// Agent is a named unit of work.
type Agent interface {
	Descriptor() Descriptor
	Run(ctx context.Context, env *Env) (Result, error)
}

// Listener is implemented by agents that also react to bus events. Listen
// is called once, at registration.
type Listener interface {
	Listen(env *Env) []*bus.Subscription
}

// Knowledge is the knowledge-store surface agents use.
type Knowledge interface {
	Search(ctx context.Context, query, category string, limit int) ([]knowledge.Result, error)
	List(ctx context.Context, category string, limit int) ([]models.KnowledgeEntry, error)
}

// Memory is the memory-store surface agents use.
type Memory interface {
	Search(ctx context.Context, query string, limit int) ([]memory.Result, error)
	AddFact(ctx context.Context, content string) (*models.MemoryFact, error)
	Count(ctx context.Context) (int64, error)
	Dedupe(ctx context.Context) (int, error)
}

// Recommender persists recommendations.
type Recommender interface {
	Create(ctx context.Context, d recommend.Draft) (*models.Recommendation, error)
}

// Threads counts conversation activity.
type Threads interface {
	CountActiveSince(ctx context.Context, t time.Time) (int64, error)
}

// Env is everything a run may touch. Any collaborator may be nil, in which
// case agents skip the work that needs it.
type Env struct {
	Name         string
	Knowledge    Knowledge
	Memory       Memory
	Threads      Threads
	Integrations *integration.Suite
	Reasoner     llm.Completer
	MaxTokens    int
	Location     *time.Location
	Logger       *zap.Logger

	bus  *bus.Bus
	recs Recommender
	now  func() time.Time
}

// EnvOpts holds parameters for creating the base Env.
type EnvOpts struct {
	Knowledge       Knowledge
	Memory          Memory
	Threads         Threads
	Integrations    *integration.Suite
	Reasoner        llm.Completer
	Recommendations Recommender
	Bus             *bus.Bus
	MaxTokens       int
	Location        *time.Location
	Logger          *zap.Logger
	Now             func() time.Time
}

// NewEnv creates the base Env shared by all agents. Use For to derive a
// per-agent copy.
func NewEnv(opts EnvOpts) *Env {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Env{
		Knowledge:    opts.Knowledge,
		Memory:       opts.Memory,
		Threads:      opts.Threads,
		Integrations: opts.Integrations,
		Reasoner:     opts.Reasoner,
		MaxTokens:    maxTokens,
		Location:     loc,
		Logger:       logging.OrNop(opts.Logger).Named("agent"),
		bus:          opts.Bus,
		recs:         opts.Recommendations,
		now:          now,
	}
}

// For returns a copy of e bound to the named agent.
func (e *Env) For(name string) *Env {
	c := *e
	c.Name = name
	c.Logger = e.Logger.Named(name)
	return &c
}

// Now returns the current time in the configured location.
func (e *Env) Now() time.Time {
	return e.now().In(e.Location)
}

// Recommend stores a recommendation attributed to this agent.
func (e *Env) Recommend(ctx context.Context, d recommend.Draft) (*models.Recommendation, error) {
	if e.recs == nil {
		return nil, fmt.Errorf("agent %s: no recommendation store", e.Name)
	}
	d.AgentName = e.Name
	return e.recs.Create(ctx, d)
}

// Publish announces payload on topic from this agent. It is a no-op
// without a bus.
func (e *Env) Publish(topic string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(topic, e.Name, payload)
}

// Subscribe registers h on topic. It returns nil without a bus.
func (e *Env) Subscribe(topic string, h bus.Handler) *bus.Subscription {
	if e.bus == nil {
		return nil
	}
	return e.bus.Subscribe(topic, h)
}

// complete asks the reasoner for a single text answer.
func (e *Env) complete(ctx context.Context, system, prompt string) (string, error) {
	if e.Reasoner == nil {
		return "", fmt.Errorf("no reasoner configured")
	}
	resp, err := e.Reasoner.Complete(ctx, llm.Text(system, prompt, e.MaxTokens))
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
