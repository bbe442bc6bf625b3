package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/switchboard/internal/bus"
	"github.com/zulandar/switchboard/internal/conversation"
	"github.com/zulandar/switchboard/internal/fault"
	"github.com/zulandar/switchboard/internal/llm"
	"github.com/zulandar/switchboard/internal/memory"
	"github.com/zulandar/switchboard/internal/models"
	"go.uber.org/zap"
)

// State is a step of a chat turn.
type State int

// Turn states, in the order a successful turn visits them.
const (
	StateStart State = iota
	StateContextBuilt
	StateAwaitingModel
	StateToolExecuting
	StateFinalized
)

var stateNames = [...]string{"start", "context_built", "awaiting_model", "tool_executing", "finalized"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// TurnRequest is one user message. An empty ThreadID starts a new thread.
type TurnRequest struct {
	ThreadID string `json:"thread_id"`
	Text     string `json:"message"`
}

// ToolTrace records one tool call made during a turn.
type ToolTrace struct {
	Round     int            `json:"round"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	Thread           *models.Thread      `json:"thread"`
	UserMessage      *models.ChatMessage `json:"user_message"`
	AssistantMessage *models.ChatMessage `json:"assistant_message"`
	Rounds           int                 `json:"rounds"`
	ToolCalls        []ToolTrace         `json:"tool_calls,omitempty"`
	// Degraded is set when the answer was not a normal final model reply.
	Degraded bool `json:"degraded"`
	// Limit is fault.ErrRoundLimit when the loop was cut short.
	Limit error `json:"-"`
}

// turn carries the working state of one Turn call.
type turn struct {
	state    State
	req      TurnRequest
	thread   *models.Thread
	user     *models.ChatMessage
	system   string
	messages []llm.Message
	catalog  []llm.Tool
	last     *llm.Response
	rounds   int
	traces   []ToolTrace
	answer   string
	degraded bool
	limit    error
}

// Turn runs one exchange through Start, ContextBuilt, AwaitingModel,
// ToolExecuting and Finalized. The user message is persisted before the
// reasoner is called; on any failure after that no assistant message is
// written.
func (o *Orchestrator) Turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	t := &turn{state: StateStart, req: req}
	for {
		var err error
		switch t.state {
		case StateStart:
			err = o.start(ctx, t)
		case StateContextBuilt:
			o.buildContext(ctx, t)
		case StateAwaitingModel:
			err = o.awaitModel(ctx, t)
		case StateToolExecuting:
			err = o.executeTools(ctx, t)
		case StateFinalized:
			return o.finalize(ctx, t)
		}
		if err != nil {
			o.logger.Warn("turn failed", zap.Stringer("state", t.state), zap.Int("rounds", t.rounds), zap.Error(err))
			return nil, err
		}
	}
}

func (o *Orchestrator) start(ctx context.Context, t *turn) error {
	text := strings.TrimSpace(t.req.Text)
	if text == "" {
		return fmt.Errorf("orchestrator: turn: empty message: %w", fault.ErrInvalidArgument)
	}
	t.req.Text = text

	var err error
	if t.req.ThreadID == "" {
		t.thread, err = o.convs.CreateThread(ctx, "")
	} else {
		t.thread, err = o.convs.Thread(ctx, t.req.ThreadID)
	}
	if err != nil {
		return fmt.Errorf("orchestrator: turn: %w", err)
	}
	t.user, err = o.convs.Append(ctx, t.thread.ID, conversation.RoleUser, text)
	if err != nil {
		return fmt.Errorf("orchestrator: turn: %w", err)
	}
	t.state = StateContextBuilt
	return nil
}

// buildContext assembles the system prompt and bounded history. Every
// lookup is best-effort.
func (o *Orchestrator) buildContext(ctx context.Context, t *turn) {
	log := o.logger.With(zap.String("thread", t.thread.ID))

	var memories []memory.Result
	if o.memory != nil {
		res, err := o.memory.Search(ctx, t.req.Text, o.memoryLimit)
		if err != nil {
			log.Warn("memory search failed", zap.Error(err))
		}
		memories = res
	}
	var kb []string
	if o.knowledge != nil {
		res, err := o.knowledge.Search(ctx, t.req.Text, "", o.knowledgeLimit)
		if err != nil {
			log.Warn("knowledge search failed", zap.Error(err))
		}
		for _, r := range res {
			kb = append(kb, fmt.Sprintf("[%s] %s: %s", r.Entry.Category, r.Entry.Title, truncate(r.Entry.Content, knowledgeSnippet)))
		}
	}
	history, err := o.convs.Recent(ctx, t.thread.ID, t.user.ID, o.historyLimit)
	if err != nil {
		log.Warn("history unavailable", zap.Error(err))
	}

	var statusLines []string
	if o.statuses != nil {
		for _, st := range o.statuses(ctx) {
			state := "connected"
			if !st.Connected {
				state = "not connected"
			}
			statusLines = append(statusLines, fmt.Sprintf("- %s: %s", st.Name, state))
		}
	}
	if o.tools != nil {
		t.catalog = o.tools.Catalog()
	}

	t.system = systemPrompt(o.now().In(o.loc), statusLines, memories, kb)
	t.messages = boundHistory(t.system, history, t.req.Text, o.maxPromptChars)
	t.state = StateAwaitingModel
}

func (o *Orchestrator) awaitModel(ctx context.Context, t *turn) error {
	resp, err := o.reasoner.Complete(ctx, llm.Request{
		System:    t.system,
		Messages:  t.messages,
		Tools:     t.catalog,
		MaxTokens: o.maxTokens,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("orchestrator: turn cancelled: %w: %w", fault.ErrUpstream, ctxErr)
		}
		return fmt.Errorf("orchestrator: complete: %w: %w", fault.ErrUpstream, err)
	}
	if resp == nil {
		resp = &llm.Response{}
	}
	t.last = resp

	switch {
	case !resp.WantsTools():
		t.answer = resp.Text
		if strings.TrimSpace(t.answer) == "" {
			t.answer, t.degraded = FallbackAnswer, true
		}
		t.state = StateFinalized
	case t.rounds >= o.maxRounds:
		// Still asking for tools after the last allowed round.
		t.answer = resp.Text
		if strings.TrimSpace(t.answer) == "" {
			t.answer = FallbackAnswer
		}
		t.degraded, t.limit = true, fault.ErrRoundLimit
		o.logger.Warn("tool round limit reached", zap.String("thread", t.thread.ID), zap.Int("rounds", t.rounds))
		t.state = StateFinalized
	default:
		t.state = StateToolExecuting
	}
	return nil
}

func (o *Orchestrator) executeTools(ctx context.Context, t *turn) error {
	t.rounds++
	calls := t.last.ToolCalls
	t.messages = append(t.messages, llm.Message{Role: llm.RoleAssistant, Content: t.last.Text, ToolCalls: calls})

	results := make([]llm.ToolResult, 0, len(calls))
	var failed []string
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("orchestrator: turn cancelled: %w: %w", fault.ErrUpstream, err)
		}
		trace := ToolTrace{Round: t.rounds, Name: call.Name, Arguments: call.Arguments}
		res, err := o.execute(ctx, call)
		if err != nil {
			trace.Error = err.Error()
			failed = append(failed, fmt.Sprintf("%s: %s", call.Name, toolErrorText(err)))
			res = map[string]any{"error": toolErrorText(err)}
			o.logger.Warn("tool failed", zap.String("tool", call.Name), zap.Int("round", t.rounds), zap.Error(err))
		}
		t.traces = append(t.traces, trace)
		results = append(results, llm.ToolResult{CallID: call.ID, Name: call.Name, Content: res, IsError: err != nil})
	}

	if len(failed) > 0 && t.rounds >= o.maxRounds {
		t.answer = "I couldn't complete that request because a tool failed: " + strings.Join(failed, "; ")
		t.degraded = true
		t.state = StateFinalized
		return nil
	}
	t.messages = append(t.messages, llm.Message{Role: llm.RoleTool, ToolResults: results})
	t.state = StateAwaitingModel
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, call llm.ToolCall) (map[string]any, error) {
	if o.tools == nil {
		return nil, fmt.Errorf("orchestrator: %w: no tools configured", fault.ErrToolExecution)
	}
	return o.tools.Execute(ctx, call)
}

// toolErrorText strips the package prefixes so the model sees only the
// cause.
func toolErrorText(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, fault.ErrToolExecution.Error()+": "); i >= 0 {
		return msg[i+len(fault.ErrToolExecution.Error())+2:]
	}
	return msg
}

func (o *Orchestrator) finalize(ctx context.Context, t *turn) (*TurnResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("orchestrator: turn cancelled: %w: %w", fault.ErrUpstream, err)
	}
	log := o.logger.With(zap.String("thread", t.thread.ID))

	reply, err := o.convs.Append(ctx, t.thread.ID, conversation.RoleAssistant, t.answer)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: turn: %w", err)
	}

	if t.thread.Title == nil || *t.thread.Title == "" {
		if _, err := o.convs.SetTitleIfEmpty(ctx, t.thread.ID, titleFor(t.req.Text, o.titleLength)); err != nil {
			log.Warn("set title failed", zap.Error(err))
		}
	}
	if th, err := o.convs.Thread(ctx, t.thread.ID); err == nil {
		t.thread = th
	}

	if o.memory != nil {
		if _, err := o.memory.Add(ctx, memory.Turn{ThreadID: t.thread.ID, User: t.req.Text, Assistant: t.answer}); err != nil {
			log.Warn("memory add failed", zap.Error(err))
		}
	}
	if o.bus != nil {
		o.bus.Publish(bus.TopicConversationComplete, "chat", bus.ConversationComplete{
			ThreadID: t.thread.ID, User: t.req.Text, Assistant: t.answer,
		})
	}

	log.Info("turn complete", zap.Int("rounds", t.rounds), zap.Int("tool_calls", len(t.traces)), zap.Bool("degraded", t.degraded))
	return &TurnResult{
		Thread:           t.thread,
		UserMessage:      t.user,
		AssistantMessage: reply,
		Rounds:           t.rounds,
		ToolCalls:        t.traces,
		Degraded:         t.degraded,
		Limit:            t.limit,
	}, nil
}

// IsRoundLimit reports whether r was cut short by the round limit.
func (r *TurnResult) IsRoundLimit() bool {
	return r != nil && errors.Is(r.Limit, fault.ErrRoundLimit)
}
