// Package orchestrator drives one chat exchange: it builds context from
// memory and knowledge, runs the bounded tool-calling loop against the
// reasoner and persists both sides of the exchange.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/bus"
	"github.com/zulandar/switchboard/internal/conversation"
	"github.com/zulandar/switchboard/internal/integration"
	"github.com/zulandar/switchboard/internal/knowledge"
	"github.com/zulandar/switchboard/internal/llm"
	"github.com/zulandar/switchboard/internal/logging"
	"github.com/zulandar/switchboard/internal/memory"
	"github.com/zulandar/switchboard/internal/models"
	"go.uber.org/zap"
)

// Default configuration values for Orchestrator.
const (
	DefaultMaxRounds      = 5
	DefaultHistoryLimit   = 20
	DefaultMemoryLimit    = 5
	DefaultKnowledgeLimit = 3
	DefaultTitleLength    = 50
	DefaultMaxPromptChars = 24000
	DefaultMaxTokens      = 4096

	knowledgeSnippet = 300
)

// FallbackAnswer is used when the model produced no text at all.
const FallbackAnswer = "I apologize, but I couldn't generate a response."

// Conversations is the thread store.
type Conversations interface {
	CreateThread(ctx context.Context, title string) (*models.Thread, error)
	Thread(ctx context.Context, id string) (*models.Thread, error)
	ThreadWithHistory(ctx context.Context, id string) (*conversation.ThreadWithMessages, error)
	Threads(ctx context.Context, limit, offset int) ([]models.Thread, error)
	SetTitle(ctx context.Context, id, title string) error
	SetTitleIfEmpty(ctx context.Context, id, title string) (bool, error)
	DeleteThread(ctx context.Context, id string) error
	Append(ctx context.Context, threadID, role, content string) (*models.ChatMessage, error)
	Recent(ctx context.Context, threadID string, beforeID uint, limit int) ([]models.ChatMessage, error)
}

// Memory is the memory-store surface the orchestrator uses.
type Memory interface {
	Search(ctx context.Context, query string, limit int) ([]memory.Result, error)
	Add(ctx context.Context, t memory.Turn) (*models.MemoryFact, error)
}

// Knowledge is the knowledge-store surface the orchestrator uses.
type Knowledge interface {
	Search(ctx context.Context, query, category string, limit int) ([]knowledge.Result, error)
}

// Tools offers and executes tool calls.
type Tools interface {
	Catalog() []llm.Tool
	Execute(ctx context.Context, call llm.ToolCall) (map[string]any, error)
}

// Orchestrator runs chat turns. Turns on different threads may run
// concurrently.
type Orchestrator struct {
	convs     Conversations
	memory    Memory
	knowledge Knowledge
	reasoner  llm.Completer
	tools     Tools
	statuses  func(context.Context) []integration.Status
	bus       *bus.Bus
	logger    *zap.Logger
	loc       *time.Location
	now       func() time.Time

	maxRounds      int
	historyLimit   int
	memoryLimit    int
	knowledgeLimit int
	titleLength    int
	maxPromptChars int
	maxTokens      int
}

// Opts holds parameters for creating an Orchestrator. Memory, Knowledge,
// Tools, Statuses and Bus are optional.
type Opts struct {
	Conversations Conversations
	Memory        Memory
	Knowledge     Knowledge
	Reasoner      llm.Completer
	Tools         Tools
	Statuses      func(context.Context) []integration.Status
	Bus           *bus.Bus
	Logger        *zap.Logger
	Location      *time.Location
	Now           func() time.Time

	MaxRounds      int
	HistoryLimit   int
	MemoryLimit    int
	KnowledgeLimit int
	TitleLength    int
	MaxPromptChars int
	MaxTokens      int
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// New creates an Orchestrator.
func New(opts Opts) (*Orchestrator, error) {
	if opts.Conversations == nil {
		return nil, fmt.Errorf("orchestrator: conversations store is required")
	}
	if opts.Reasoner == nil {
		return nil, fmt.Errorf("orchestrator: reasoner is required")
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		convs:          opts.Conversations,
		memory:         opts.Memory,
		knowledge:      opts.Knowledge,
		reasoner:       opts.Reasoner,
		tools:          opts.Tools,
		statuses:       opts.Statuses,
		bus:            opts.Bus,
		logger:         logging.OrNop(opts.Logger).Named("orchestrator"),
		loc:            loc,
		now:            now,
		maxRounds:      orDefault(opts.MaxRounds, DefaultMaxRounds),
		historyLimit:   orDefault(opts.HistoryLimit, DefaultHistoryLimit),
		memoryLimit:    orDefault(opts.MemoryLimit, DefaultMemoryLimit),
		knowledgeLimit: orDefault(opts.KnowledgeLimit, DefaultKnowledgeLimit),
		titleLength:    orDefault(opts.TitleLength, DefaultTitleLength),
		maxPromptChars: orDefault(opts.MaxPromptChars, DefaultMaxPromptChars),
		maxTokens:      orDefault(opts.MaxTokens, DefaultMaxTokens),
	}, nil
}

// Threads lists threads, most recently active first.
func (o *Orchestrator) Threads(ctx context.Context, limit, offset int) ([]models.Thread, error) {
	return o.convs.Threads(ctx, limit, offset)
}

// Thread returns a thread with its messages.
func (o *Orchestrator) Thread(ctx context.Context, id string) (*conversation.ThreadWithMessages, error) {
	return o.convs.ThreadWithHistory(ctx, id)
}

// CreateThread starts an empty thread. A blank title is filled in by the
// first exchange.
func (o *Orchestrator) CreateThread(ctx context.Context, title string) (*models.Thread, error) {
	return o.convs.CreateThread(ctx, title)
}

// RenameThread replaces a thread's title.
func (o *Orchestrator) RenameThread(ctx context.Context, id, title string) (*models.Thread, error) {
	if err := o.convs.SetTitle(ctx, id, title); err != nil {
		return nil, err
	}
	return o.convs.Thread(ctx, id)
}

// DeleteThread removes a thread and its messages.
func (o *Orchestrator) DeleteThread(ctx context.Context, id string) error {
	return o.convs.DeleteThread(ctx, id)
}

// titleFor returns the first n runes of text, with "..." appended when it
// was cut.
func titleFor(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
