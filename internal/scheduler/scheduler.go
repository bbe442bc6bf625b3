// Package scheduler runs agents on their cron schedules and on demand,
// records every execution as an AgentRun and guarantees at most one
// in-flight run per agent.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/switchboard/internal/agent"
	"github.com/zulandar/switchboard/internal/bus"
	"github.com/zulandar/switchboard/internal/fault"
	"github.com/zulandar/switchboard/internal/logging"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/runs"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultRunTimeout is the wall-clock limit of a single run.
const DefaultRunTimeout = 10 * time.Minute

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ErrStopped is returned for runs requested after Stop.
var ErrStopped = errors.New("scheduler stopped")

// AgentStatus is the scheduling view of one agent.
type AgentStatus struct {
	agent.Descriptor
	LastRun   *models.AgentRun `json:"last_run,omitempty"`
	NextRun   *time.Time       `json:"next_run,omitempty"`
	Scheduled bool             `json:"scheduled"`
	Running   bool             `json:"running"`
}

type entry struct {
	agent    agent.Agent
	desc     agent.Descriptor
	schedule cron.Schedule // nil when on-demand
	env      *agent.Env
	subs     []*bus.Subscription

	guard   sync.Mutex // held from admission until the agent goroutine returns
	running atomic.Bool
	armed   bool
}

// Scheduler owns the registered agents and their timers.
type Scheduler struct {
	runs    *runs.Store
	bus     *bus.Bus
	env     *agent.Env
	logger  *zap.Logger
	loc     *time.Location
	timeout time.Duration
	now     func() time.Time

	ctx    context.Context // lifetime of background runs
	cancel context.CancelFunc

	mu          sync.Mutex
	entries     map[string]*entry
	started     bool
	stopped     bool
	timerCtx    context.Context
	timerCancel context.CancelFunc
	wg          sync.WaitGroup
}

// Opts holds parameters for creating a Scheduler.
type Opts struct {
	DB         *gorm.DB
	Bus        *bus.Bus
	Env        *agent.Env // base env; each agent gets Env.For(name)
	Logger     *zap.Logger
	Location   *time.Location
	RunTimeout time.Duration
	Now        func() time.Time
}

// New creates a Scheduler.
func New(opts Opts) (*Scheduler, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("scheduler: db is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	store, err := runs.NewStore(opts.DB, now)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	timeout := opts.RunTimeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	env := opts.Env
	if env == nil {
		env = agent.NewEnv(agent.EnvOpts{Bus: opts.Bus, Location: loc, Logger: opts.Logger, Now: now})
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runs:    store,
		bus:     opts.Bus,
		env:     env,
		logger:  logging.OrNop(opts.Logger).Named("scheduler"),
		loc:     loc,
		timeout: timeout,
		now:     now,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}, nil
}

// Register adds an agent. Registering a name twice is a no-op. Agents that
// implement agent.Listener get their bus subscriptions attached here.
func (s *Scheduler) Register(a agent.Agent) error {
	desc := a.Descriptor()
	if desc.Name == "" {
		return fmt.Errorf("scheduler: register: %w: agent name is required", fault.ErrInvalidArgument)
	}
	var sched cron.Schedule
	if desc.Scheduled() {
		parsed, err := cronParser.Parse(desc.Schedule)
		if err != nil {
			return fmt.Errorf("scheduler: register %q: schedule %q: %w: %w", desc.Name, desc.Schedule, fault.ErrInvalidArgument, err)
		}
		sched = parsed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[desc.Name]; ok {
		return nil
	}
	e := &entry{agent: a, desc: desc, schedule: sched, env: s.env.For(desc.Name)}
	if l, ok := a.(agent.Listener); ok {
		e.subs = l.Listen(e.env)
	}
	s.entries[desc.Name] = e
	if s.started && !s.stopped {
		s.arm(e)
	}
	s.logger.Info("agent registered", zap.String("agent", desc.Name), zap.String("schedule", desc.Schedule))
	return nil
}

// Agents returns the registered descriptors sorted by name.
func (s *Scheduler) Agents() []agent.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]agent.Descriptor, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) lookup(name string) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	return e, ok
}

// Trigger runs an agent now and waits for the outcome. It fails with
// fault.ErrBusy, creating no run record, while another run of the same agent
// is in flight.
func (s *Scheduler) Trigger(ctx context.Context, name string) (*models.AgentRun, error) {
	e, ok := s.lookup(name)
	if !ok {
		return nil, fmt.Errorf("scheduler: trigger %q: %w", name, fault.ErrNotFound)
	}
	run, done, err := s.admit(ctx, e, runs.TriggerManual)
	if err != nil {
		return nil, fmt.Errorf("scheduler: trigger %q: %w", name, err)
	}
	s.execute(ctx, e, run, done)
	return s.runs.Get(context.WithoutCancel(ctx), run.ID)
}

// Dispatch admits a run like Trigger but returns the running record at once;
// the run completes in the background under the scheduler's lifetime.
func (s *Scheduler) Dispatch(ctx context.Context, name string) (*models.AgentRun, error) {
	e, ok := s.lookup(name)
	if !ok {
		return nil, fmt.Errorf("scheduler: dispatch %q: %w", name, fault.ErrNotFound)
	}
	run, done, err := s.admit(ctx, e, runs.TriggerManual)
	if err != nil {
		return nil, fmt.Errorf("scheduler: dispatch %q: %w", name, err)
	}
	snapshot := *run
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(s.ctx, e, run, done)
	}()
	return &snapshot, nil
}

// admit takes the agent's guard and records the start. On success the guard
// belongs to the run; release is called when the agent goroutine returns.
// The returned func must be called exactly once by execute.
func (s *Scheduler) admit(ctx context.Context, e *entry, trigger string) (*models.AgentRun, func(), error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, nil, ErrStopped
	}
	if !e.guard.TryLock() {
		s.mu.Unlock()
		return nil, nil, fault.ErrBusy
	}
	e.running.Store(true)
	s.wg.Add(1) // the agent goroutine
	s.mu.Unlock()

	release := func() {
		e.running.Store(false)
		e.guard.Unlock()
		s.wg.Done()
	}
	run, err := s.runs.Start(ctx, e.desc.Name, trigger)
	if err != nil {
		release()
		return nil, nil, err
	}
	return run, release, nil
}

type outcome struct {
	res agent.Result
	err error
}

// execute runs the agent in its own goroutine under the wall-clock guard
// and finalizes the run record once. A result that arrives after the
// deadline is discarded.
func (s *Scheduler) execute(parent context.Context, e *entry, run *models.AgentRun, release func()) {
	runCtx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()
	results := make(chan outcome, 1)
	go func() {
		defer release()
		results <- s.invoke(runCtx, e)
	}()

	var out outcome
	select {
	case out = <-results:
	case <-runCtx.Done():
		// The agent may have finished as the deadline passed.
		select {
		case out = <-results:
		default:
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				out.err = fmt.Errorf("timed out after %s", s.timeout)
			} else {
				out.err = fmt.Errorf("cancelled: %w", runCtx.Err())
			}
		}
	}
	s.finish(context.WithoutCancel(parent), e, run, out)
}

func (s *Scheduler) invoke(ctx context.Context, e *entry) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: fmt.Errorf("panic: %v", r)}
		}
	}()
	res, err := e.agent.Run(ctx, e.env)
	return outcome{res: res, err: err}
}

func (s *Scheduler) finish(ctx context.Context, e *entry, run *models.AgentRun, out outcome) {
	log := s.logger.With(zap.String("agent", e.desc.Name), zap.Uint("run_id", run.ID))
	payload := bus.RunFinished{RunID: run.ID, AgentName: e.desc.Name}

	if out.err != nil {
		ok, err := s.runs.Fail(ctx, run.ID, out.err.Error())
		if err != nil || !ok {
			log.Error("record run failure", zap.Bool("updated", ok), zap.Error(err))
			return
		}
		log.Warn("run failed", zap.Error(out.err))
		payload.Status, payload.Error = models.RunFailed, out.err.Error()
		s.publish(bus.TopicRunFailed, payload)
		return
	}

	ok, err := s.runs.Complete(ctx, run.ID, out.res.Summary, out.res.ItemsProcessed)
	if err != nil || !ok {
		log.Error("record run completion", zap.Bool("updated", ok), zap.Error(err))
		return
	}
	log.Info("run completed", zap.String("summary", out.res.Summary), zap.Int("items", out.res.ItemsProcessed))
	payload.Status, payload.Summary = models.RunCompleted, out.res.Summary
	s.publish(bus.TopicRunCompleted, payload)
}

func (s *Scheduler) publish(topic string, payload bus.RunFinished) {
	if s.bus != nil {
		s.bus.Publish(topic, "scheduler", payload)
	}
}

// ListRuns returns an agent's runs, newest first.
func (s *Scheduler) ListRuns(ctx context.Context, name string, limit int) ([]models.AgentRun, error) {
	if _, ok := s.lookup(name); !ok {
		return nil, fmt.Errorf("scheduler: runs %q: %w", name, fault.ErrNotFound)
	}
	return s.runs.List(ctx, name, limit)
}

// ListRecentRuns returns runs across all agents, newest first.
func (s *Scheduler) ListRecentRuns(ctx context.Context, limit int) ([]models.AgentRun, error) {
	return s.runs.Recent(ctx, limit)
}

// Run returns one run record.
func (s *Scheduler) Run(ctx context.Context, id uint) (*models.AgentRun, error) {
	return s.runs.Get(ctx, id)
}

// Status reports an agent's last run, next fire time and whether it is
// running now.
func (s *Scheduler) Status(ctx context.Context, name string) (AgentStatus, error) {
	e, ok := s.lookup(name)
	if !ok {
		return AgentStatus{}, fmt.Errorf("scheduler: status %q: %w", name, fault.ErrNotFound)
	}
	last, err := s.runs.Last(ctx, name)
	if err != nil {
		return AgentStatus{}, fmt.Errorf("scheduler: status %q: %w", name, err)
	}
	st := AgentStatus{
		Descriptor: e.desc,
		LastRun:    last,
		Scheduled:  e.schedule != nil,
		Running:    e.running.Load(),
	}
	if e.schedule != nil {
		next := e.schedule.Next(s.now().In(s.loc))
		st.NextRun = &next
	}
	return st, nil
}

// Reconcile fails runs left running by a previous process.
func (s *Scheduler) Reconcile(ctx context.Context) (int64, error) {
	n, err := s.runs.ReconcileInterrupted(ctx)
	if err != nil {
		return 0, fmt.Errorf("scheduler: %w", err)
	}
	if n > 0 {
		s.logger.Warn("marked interrupted runs as failed", zap.Int64("runs", n))
	}
	return n, nil
}

// Start reconciles interrupted runs and arms a timer for every scheduled
// agent. Timers stop when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.Reconcile(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}
	s.started = true
	s.timerCtx, s.timerCancel = context.WithCancel(ctx)
	for _, e := range s.entries {
		s.arm(e)
	}
	s.logger.Info("scheduler started", zap.Int("agents", len(s.entries)), zap.String("timezone", s.loc.String()))
	return nil
}

// arm starts e's timer loop. Caller holds s.mu.
func (s *Scheduler) arm(e *entry) {
	if e.schedule == nil || e.armed {
		return
	}
	e.armed = true
	s.wg.Add(1)
	go s.loop(s.timerCtx, e)
}

// Stop cancels timers, listeners and in-flight runs and waits for them to
// return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.timerCancel != nil {
		s.timerCancel()
	}
	var subs []*bus.Subscription
	for _, e := range s.entries {
		subs = append(subs, e.subs...)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}

	s.cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// loop fires e on its schedule. The next fire time is recomputed after
// every fire.
func (s *Scheduler) loop(ctx context.Context, e *entry) {
	defer s.wg.Done()
	timer := time.NewTimer(s.nextDelay(e.schedule))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.fire(e)
			timer.Reset(s.nextDelay(e.schedule))
		}
	}
}

func (s *Scheduler) nextDelay(sched cron.Schedule) time.Duration {
	now := s.now().In(s.loc)
	d := sched.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (s *Scheduler) fire(e *entry) {
	run, done, err := s.admit(s.ctx, e, runs.TriggerSchedule)
	switch {
	case errors.Is(err, fault.ErrBusy):
		s.logger.Info("scheduled run skipped: already running", zap.String("agent", e.desc.Name))
		return
	case err != nil:
		s.logger.Error("scheduled run not started", zap.String("agent", e.desc.Name), zap.Error(err))
		return
	}
	s.execute(s.ctx, e, run, done)
}
