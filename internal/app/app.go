// Package app wires switchboard's components together from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/agent"
	"github.com/zulandar/switchboard/internal/api"
	"github.com/zulandar/switchboard/internal/bus"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/conversation"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/integration"
	"github.com/zulandar/switchboard/internal/integration/graph"
	"github.com/zulandar/switchboard/internal/integration/harvest"
	"github.com/zulandar/switchboard/internal/knowledge"
	"github.com/zulandar/switchboard/internal/llm"
	"github.com/zulandar/switchboard/internal/logging"
	"github.com/zulandar/switchboard/internal/memory"
	"github.com/zulandar/switchboard/internal/notify"
	"github.com/zulandar/switchboard/internal/notify/discord"
	"github.com/zulandar/switchboard/internal/notify/slack"
	"github.com/zulandar/switchboard/internal/orchestrator"
	"github.com/zulandar/switchboard/internal/recommend"
	"github.com/zulandar/switchboard/internal/scheduler"
	"github.com/zulandar/switchboard/internal/tools"
	"github.com/zulandar/switchboard/internal/vector"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds every wired component.
type App struct {
	Config          *config.Config
	Logger          *zap.Logger
	DB              *gorm.DB
	Bus             *bus.Bus
	Location        *time.Location
	Integrations    *integration.Suite
	Knowledge       *knowledge.Manager
	Memory          *memory.Store
	Recommendations *recommend.Store
	Conversations   *conversation.Store
	Tools           *tools.Registry
	Scheduler       *scheduler.Scheduler
	Orchestrator    *orchestrator.Orchestrator
	Notifier        *notify.Notifier
	API             *api.Server

	closers []func() error
}

// Opts holds parameters for New. DB and Reasoner override what Config would
// build, for tests and --ephemeral runs.
type Opts struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *gorm.DB
	Reasoner llm.Provider
}

// New builds the App. Nothing runs until Serve.
func New(ctx context.Context, opts Opts) (_ *App, err error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	a := &App{Config: cfg, Logger: logging.OrNop(opts.Logger)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Location, err = time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("app: timezone: %w", err)
	}

	a.DB = opts.DB
	if a.DB == nil {
		if a.DB, err = db.Connect(cfg.Database); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.closeDB)
		if err := db.AutoMigrate(a.DB); err != nil {
			return nil, err
		}
	}
	a.Bus = bus.New(bus.Opts{Logger: a.Logger})
	a.closers = append(a.closers, func() error { a.Bus.Close(); return nil })

	reasoner, embedder, err := a.reasoning(ctx, opts.Reasoner)
	if err != nil {
		return nil, err
	}
	if err := a.stores(ctx, embedder); err != nil {
		return nil, err
	}
	if a.Integrations, err = a.integrations(ctx); err != nil {
		return nil, err
	}

	a.Tools = tools.NewRegistry(a.Integrations, a.Logger)
	for _, t := range tools.Builtin(tools.Deps{
		Suite:           a.Integrations,
		Knowledge:       a.Knowledge,
		Memory:          a.Memory,
		Recommendations: a.Recommendations,
		Location:        a.Location,
	}) {
		if err := a.Tools.Register(t); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}

	if err := a.agents(reasoner); err != nil {
		return nil, err
	}

	chatReasoner := llm.Completer(llm.Disabled{})
	if reasoner != nil {
		chatReasoner = reasoner
	}
	a.Orchestrator, err = orchestrator.New(orchestrator.Opts{
		Conversations: a.Conversations,
		Memory:        a.Memory,
		Knowledge:     a.Knowledge,
		Reasoner:      chatReasoner,
		Tools:         a.Tools,
		Statuses:      a.Integrations.Statuses,
		Bus:           a.Bus,
		Logger:        a.Logger,
		Location:      a.Location,
		MaxTokens:     cfg.Reasoning.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	if a.Notifier, err = a.notifier(); err != nil {
		return nil, err
	}

	a.API, err = api.New(api.Opts{
		Scheduler:       a.Scheduler,
		Recommendations: a.Recommendations,
		Orchestrator:    a.Orchestrator,
		Knowledge:       a.Knowledge,
		Memory:          a.Memory,
		Integrations:    a.Integrations,
		Bus:             a.Bus,
		Logger:          a.Logger,
		Port:            cfg.API.Port,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// reasoning returns the completion provider and embedder. Both are nil when
// reasoning.provider is "none".
func (a *App) reasoning(ctx context.Context, override llm.Provider) (llm.Completer, llm.Embedder, error) {
	if override != nil {
		return override, override, nil
	}
	rc := a.Config.Reasoning
	if rc.Provider != "genai" {
		a.Logger.Warn("no reasoning provider configured; chat is unavailable and agents use plain digests")
		return nil, nil, nil
	}
	g, err := llm.NewGenAI(ctx, llm.GenAIOpts{
		APIKey:         rc.APIKey,
		Model:          rc.Model,
		EmbeddingModel: rc.EmbeddingModel,
		MaxTokens:      rc.MaxTokens,
		Dimensions:     int(a.Config.Vector.Dims),
	})
	if err != nil {
		return nil, nil, err
	}
	return g, g, nil
}

func (a *App) stores(ctx context.Context, embedder llm.Embedder) error {
	var kIndex, mIndex vector.Index
	vc := a.Config.Vector
	switch {
	case vc.Enabled && embedder == nil:
		a.Logger.Warn("vector search needs a reasoning provider for embeddings; using keyword search")
	case vc.Enabled:
		kq, err := a.qdrant(ctx, vc.KnowledgeCollection, "kind", "category")
		if err != nil {
			return err
		}
		mq, err := a.qdrant(ctx, vc.MemoryCollection, "kind")
		if err != nil {
			return err
		}
		kIndex, mIndex = kq, mq
	}
	if kIndex == nil {
		embedder = nil
	}

	var err error
	if a.Knowledge, err = knowledge.NewManager(knowledge.ManagerOpts{
		DB: a.DB, Index: kIndex, Embedder: embedder, Logger: a.Logger,
	}); err != nil {
		return err
	}
	if a.Memory, err = memory.NewStore(memory.StoreOpts{
		DB: a.DB, Index: mIndex, Embedder: embedder, Logger: a.Logger,
	}); err != nil {
		return err
	}
	if a.Recommendations, err = recommend.NewStore(recommend.StoreOpts{
		DB: a.DB, Bus: a.Bus, Knowledge: a.Knowledge, Logger: a.Logger,
	}); err != nil {
		return err
	}
	if a.Conversations, err = conversation.NewStore(conversation.StoreOpts{DB: a.DB}); err != nil {
		return err
	}
	return nil
}

func (a *App) qdrant(ctx context.Context, collection string, fields ...string) (*vector.Qdrant, error) {
	vc := a.Config.Vector
	q, err := vector.NewQdrant(vector.QdrantConfig{
		URL:          vc.URL,
		APIKey:       vc.APIKey,
		Collection:   collection,
		Dims:         vc.Dims,
		FilterFields: fields,
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, q.Close)
	if err := q.EnsureCollection(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (a *App) integrations(ctx context.Context) (*integration.Suite, error) {
	suite := &integration.Suite{}
	ic := a.Config.Integrations
	if ic.Microsoft.Configured() {
		g, err := graph.New(ctx, graph.Config{
			ClientID:     ic.Microsoft.ClientID,
			ClientSecret: ic.Microsoft.ClientSecret,
			TenantID:     ic.Microsoft.TenantID,
			RefreshToken: ic.Microsoft.RefreshToken,
		})
		if err != nil {
			return nil, err
		}
		suite.Calendar, suite.Mail, suite.Chats, suite.Files = g, g, g, g
	}
	if ic.Harvest.Configured() {
		h, err := harvest.New(harvest.Config{AccountID: ic.Harvest.AccountID, Token: ic.Harvest.Token})
		if err != nil {
			return nil, err
		}
		suite.TimeTracking = h
	}
	a.Logger.Info("integrations configured", zap.Strings("connected", suite.ConnectedNames()))
	return suite, nil
}

func (a *App) agents(reasoner llm.Completer) error {
	env := agent.NewEnv(agent.EnvOpts{
		Knowledge:       a.Knowledge,
		Memory:          a.Memory,
		Threads:         a.Conversations,
		Integrations:    a.Integrations,
		Reasoner:        reasoner,
		Recommendations: a.Recommendations,
		Bus:             a.Bus,
		MaxTokens:       a.Config.Reasoning.MaxTokens,
		Location:        a.Location,
		Logger:          a.Logger,
	})
	var err error
	a.Scheduler, err = scheduler.New(scheduler.Opts{
		DB:         a.DB,
		Bus:        a.Bus,
		Env:        env,
		Logger:     a.Logger,
		Location:   a.Location,
		RunTimeout: a.Config.Scheduler.RunTimeout,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { a.Scheduler.Stop(); return nil })

	for _, ag := range agent.Builtin(a.Config.Schedule) {
		if err := a.Scheduler.Register(ag); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) notifier() (*notify.Notifier, error) {
	nc := a.Config.Notify
	var senders []notify.Sender
	if nc.Slack.BotToken != "" {
		s, err := slack.New(slack.Opts{BotToken: nc.Slack.BotToken, ChannelID: nc.Slack.ChannelID})
		if err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}
	if nc.Discord.BotToken != "" {
		d, err := discord.New(discord.Opts{BotToken: nc.Discord.BotToken, ChannelID: nc.Discord.ChannelID})
		if err != nil {
			return nil, err
		}
		senders = append(senders, d)
	}
	return notify.New(notify.Opts{
		Bus:         a.Bus,
		Senders:     senders,
		MinPriority: nc.MinPriority,
		Logger:      a.Logger,
	})
}

// Start begins background work: the scheduler timers (or, when the
// scheduler is disabled, only the reconciliation of interrupted runs) and
// the notifier.
func (a *App) Start(ctx context.Context) error {
	if a.Config.SchedulerEnabled() {
		if err := a.Scheduler.Start(ctx); err != nil {
			return err
		}
	} else {
		n, err := a.Scheduler.Reconcile(ctx)
		if err != nil {
			return err
		}
		a.Logger.Info("scheduler disabled", zap.Int64("reconciled_runs", n))
	}
	a.Notifier.Start()
	return nil
}

// Serve starts background work and serves the API until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	return a.API.Run(ctx)
}

// Close stops background work and releases what New opened, newest first.
// A DB passed in Opts is left open.
func (a *App) Close() error {
	if a.Notifier != nil {
		a.Notifier.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) closeDB() error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
