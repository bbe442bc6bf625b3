package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/switchboard/internal/bus"
	"github.com/zulandar/switchboard/internal/conversation"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/fault"
	"github.com/zulandar/switchboard/internal/integration"
	"github.com/zulandar/switchboard/internal/knowledge"
	"github.com/zulandar/switchboard/internal/llm"
	"github.com/zulandar/switchboard/internal/memory"
	"github.com/zulandar/switchboard/internal/tools"
)

var testNow = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

type fakeCalendar struct{}

func (fakeCalendar) Events(_ context.Context, from, _ time.Time, _ int) ([]integration.Event, error) {
	return []integration.Event{{ID: "e1", Subject: "Standup", Start: from.Add(9 * time.Hour), End: from.Add(9*time.Hour + 15*time.Minute)}}, nil
}

type fixture struct {
	orch   *Orchestrator
	convs  *conversation.Store
	memory *memory.Store
	kb     *knowledge.Manager
	mock   *llm.Mock
	suite  *integration.Suite
}

func newFixture(t *testing.T, opts Opts) *fixture {
	t.Helper()
	gdb, err := db.OpenMemory()
	require.NoError(t, err)
	clock := func() time.Time { return testNow }

	convs, err := conversation.NewStore(conversation.StoreOpts{DB: gdb, Now: clock})
	require.NoError(t, err)
	mem, err := memory.NewStore(memory.StoreOpts{DB: gdb})
	require.NoError(t, err)
	kb, err := knowledge.NewManager(knowledge.ManagerOpts{DB: gdb})
	require.NoError(t, err)

	suite := &integration.Suite{Calendar: fakeCalendar{}}
	reg := tools.NewRegistry(suite, nil)
	reg.MustRegister(tools.Builtin(tools.Deps{Suite: suite, Knowledge: kb, Now: clock})...)

	mock := llm.NewMock()
	opts.Conversations = convs
	opts.Memory = mem
	opts.Knowledge = kb
	opts.Reasoner = mock
	opts.Tools = reg
	opts.Statuses = suite.Statuses
	opts.Now = clock
	orch, err := New(opts)
	require.NoError(t, err)

	return &fixture{orch: orch, convs: convs, memory: mem, kb: kb, mock: mock, suite: suite}
}

func (f *fixture) messages(t *testing.T, threadID string) []string {
	t.Helper()
	msgs, err := f.convs.Messages(context.Background(), threadID)
	require.NoError(t, err)
	var out []string
	for _, m := range msgs {
		out = append(out, m.Role+": "+m.Content)
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Opts{Reasoner: llm.NewMock()})
	assert.Error(t, err)
	_, err = New(Opts{Conversations: &conversation.Store{}})
	assert.Error(t, err)
}

func TestTurn_CalendarScenario(t *testing.T) {
	f := newFixture(t, Opts{})
	f.mock.Push(
		llm.Call("c1", "get_today_events", nil),
		llm.Reply("You have Standup at 09:00."),
	)

	res, err := f.orch.Turn(context.Background(), TurnRequest{Text: "What's on my calendar today?"})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Rounds)
	assert.False(t, res.Degraded)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "get_today_events", res.ToolCalls[0].Name)
	assert.Empty(t, res.ToolCalls[0].Error)

	require.NotNil(t, res.Thread.Title)
	assert.Equal(t, "What's on my calendar today?", *res.Thread.Title)
	assert.Equal(t, []string{
		"user: What's on my calendar today?",
		"assistant: You have Standup at 09:00.",
	}, f.messages(t, res.Thread.ID))

	reqs := f.mock.Requests()
	require.Len(t, reqs, 2)
	var offered []string
	for _, tool := range reqs[0].Tools {
		offered = append(offered, tool.Name)
	}
	assert.Contains(t, offered, "get_today_events")
	assert.NotContains(t, offered, "get_emails")
	assert.Contains(t, reqs[0].System, "- calendar: connected")
	assert.Contains(t, reqs[0].System, "- mail: not connected")
	assert.Contains(t, reqs[0].System, "Monday, 05 January 2026")

	followUp := reqs[1].Messages
	require.Len(t, followUp, 3)
	assert.Equal(t, llm.RoleAssistant, followUp[1].Role)
	assert.Equal(t, llm.RoleTool, followUp[2].Role)
	require.Len(t, followUp[2].ToolResults, 1)
	assert.Equal(t, "c1", followUp[2].ToolResults[0].CallID)
	assert.Equal(t, 1, followUp[2].ToolResults[0].Content["count"])
}

func TestTurn_UserMessagePersistedBeforeReasoning(t *testing.T) {
	f := newFixture(t, Opts{})
	thread, err := f.orch.CreateThread(context.Background(), "")
	require.NoError(t, err)

	f.mock.Fallback = func(context.Context, llm.Request) (*llm.Response, error) {
		assert.Equal(t, []string{"user: hello"}, f.messages(t, thread.ID))
		return &llm.Response{Text: "hi"}, nil
	}
	_, err = f.orch.Turn(context.Background(), TurnRequest{ThreadID: thread.ID, Text: "hello"})
	require.NoError(t, err)
}

func TestTurn_UpstreamFailureLeavesOnlyUserMessage(t *testing.T) {
	f := newFixture(t, Opts{})
	thread, err := f.orch.CreateThread(context.Background(), "")
	require.NoError(t, err)
	f.mock.Push(llm.Fail(errors.New("503 service unavailable")))

	_, err = f.orch.Turn(context.Background(), TurnRequest{ThreadID: thread.ID, Text: "summarize my week"})
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrUpstream)
	assert.Equal(t, []string{"user: summarize my week"}, f.messages(t, thread.ID))

	th, err := f.convs.Thread(context.Background(), thread.ID)
	require.NoError(t, err)
	assert.Nil(t, th.Title, "title is only set by a completed exchange")
}

func TestTurn_CancellationAbortsWithoutAssistantMessage(t *testing.T) {
	f := newFixture(t, Opts{})
	thread, err := f.orch.CreateThread(context.Background(), "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	f.mock.Fallback = func(ctx context.Context, _ llm.Request) (*llm.Response, error) {
		cancel() // client disconnects mid-call
		return nil, ctx.Err()
	}
	_, err = f.orch.Turn(ctx, TurnRequest{ThreadID: thread.ID, Text: "hello?"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"user: hello?"}, f.messages(t, thread.ID))
}

func TestTurn_RoundLimit(t *testing.T) {
	for _, tt := range []struct {
		name, text, want string
	}{
		{"last text verbatim", "Still checking your calendar", "Still checking your calendar"},
		{"empty text falls back", "", FallbackAnswer},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Opts{})
			f.mock.Fallback = func(context.Context, llm.Request) (*llm.Response, error) {
				return &llm.Response{
					Text:      tt.text,
					ToolCalls: []llm.ToolCall{{ID: "loop", Name: "get_today_events"}},
				}, nil
			}

			res, err := f.orch.Turn(context.Background(), TurnRequest{Text: "loop forever"})
			require.NoError(t, err)
			assert.Equal(t, DefaultMaxRounds, res.Rounds)
			assert.Len(t, res.ToolCalls, DefaultMaxRounds)
			assert.Equal(t, DefaultMaxRounds+1, f.mock.Calls())
			assert.True(t, res.Degraded)
			assert.True(t, res.IsRoundLimit())
			assert.Equal(t, tt.want, res.AssistantMessage.Content)
		})
	}
}

func TestTurn_ToolErrorFedBack(t *testing.T) {
	f := newFixture(t, Opts{})
	f.mock.Push(
		llm.Call("c1", "get_emails", map[string]any{"limit": 5}),
		llm.Reply("Your mailbox isn't connected yet."),
	)

	res, err := f.orch.Turn(context.Background(), TurnRequest{Text: "any new email?"})
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	require.Len(t, res.ToolCalls, 1)
	assert.Contains(t, res.ToolCalls[0].Error, "not connected")

	result := f.mock.Requests()[1].Messages[2].ToolResults[0]
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content["error"], "not connected")
	assert.Equal(t, "Your mailbox isn't connected yet.", res.AssistantMessage.Content)
}

func TestTurn_ToolFailureInLastRoundFinalizes(t *testing.T) {
	f := newFixture(t, Opts{MaxRounds: 2})
	f.mock.Fallback = func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{ToolCalls: []llm.ToolCall{{ID: "x", Name: "no_such_tool"}}}, nil
	}

	res, err := f.orch.Turn(context.Background(), TurnRequest{Text: "do the thing"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, 2, f.mock.Calls())
	assert.True(t, res.Degraded)
	assert.False(t, res.IsRoundLimit())
	assert.True(t, strings.HasPrefix(res.AssistantMessage.Content, "I couldn't complete that request"))
	assert.Contains(t, res.AssistantMessage.Content, "unknown tool")
}

func TestTurn_Validation(t *testing.T) {
	f := newFixture(t, Opts{})
	_, err := f.orch.Turn(context.Background(), TurnRequest{Text: "   "})
	assert.ErrorIs(t, err, fault.ErrInvalidArgument)

	_, err = f.orch.Turn(context.Background(), TurnRequest{ThreadID: "missing", Text: "hi"})
	assert.ErrorIs(t, err, fault.ErrNotFound)
	assert.Zero(t, f.mock.Calls())
}

func TestTurn_Title(t *testing.T) {
	f := newFixture(t, Opts{})
	f.mock.Fallback = func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: "ok"}, nil
	}

	long := strings.Repeat("é", 45) + " and then some more words"
	res, err := f.orch.Turn(context.Background(), TurnRequest{Text: long})
	require.NoError(t, err)
	require.NotNil(t, res.Thread.Title)
	assert.Equal(t, string([]rune(long)[:50])+"...", *res.Thread.Title)

	res, err = f.orch.Turn(context.Background(), TurnRequest{ThreadID: res.Thread.ID, Text: "second question"})
	require.NoError(t, err)
	assert.Equal(t, string([]rune(long)[:50])+"...", *res.Thread.Title, "title is set once")

	named, err := f.orch.CreateThread(context.Background(), "Planning")
	require.NoError(t, err)
	res, err = f.orch.Turn(context.Background(), TurnRequest{ThreadID: named.ID, Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "Planning", *res.Thread.Title)
}

func TestTurn_HistoryAndContext(t *testing.T) {
	f := newFixture(t, Opts{})
	ctx := context.Background()
	_, err := f.kb.Insert(ctx, knowledge.Entry{Category: "team", Title: "Dana", Content: "Dana runs the ops team"})
	require.NoError(t, err)
	f.mock.Fallback = func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: "noted"}, nil
	}

	first, err := f.orch.Turn(ctx, TurnRequest{Text: "Dana prefers morning meetings"})
	require.NoError(t, err)
	_, err = f.orch.Turn(ctx, TurnRequest{ThreadID: first.Thread.ID, Text: "When should I meet Dana?"})
	require.NoError(t, err)

	req := f.mock.Requests()[1]
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "Dana prefers morning meetings", req.Messages[0].Content)
	assert.Equal(t, "noted", req.Messages[1].Content)
	assert.Equal(t, "When should I meet Dana?", req.Messages[2].Content)
	assert.Contains(t, req.System, "Dana prefers morning meetings", "memory of the first exchange")
	assert.Contains(t, req.System, "[team] Dana: Dana runs the ops team")
}

func TestTurn_PromptBounded(t *testing.T) {
	f := newFixture(t, Opts{MaxPromptChars: 3000})
	f.orch.memory = nil // keep the system prompt a fixed size
	ctx := context.Background()
	f.mock.Fallback = func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: strings.Repeat("r", 400)}, nil
	}

	var threadID string
	for i := 0; i < 6; i++ {
		res, err := f.orch.Turn(ctx, TurnRequest{ThreadID: threadID, Text: strings.Repeat("q", 400)})
		require.NoError(t, err)
		threadID = res.Thread.ID
	}

	last := f.mock.Requests()[5]
	total := len(last.System)
	for _, m := range last.Messages {
		total += len(m.Content)
	}
	assert.LessOrEqual(t, total, 3000)
	assert.Less(t, len(last.Messages), 11, "oldest history dropped")
	assert.Equal(t, strings.Repeat("q", 400), last.Messages[len(last.Messages)-1].Content)
}

func TestTurn_PublishesConversationComplete(t *testing.T) {
	b := bus.New(bus.Opts{})
	defer b.Close()
	got := make(chan bus.ConversationComplete, 1)
	b.Subscribe(bus.TopicConversationComplete, func(_ context.Context, m bus.Message) error {
		got <- m.Payload.(bus.ConversationComplete)
		return nil
	})

	f := newFixture(t, Opts{Bus: b})
	f.mock.Push(llm.Reply("Sure."))
	res, err := f.orch.Turn(context.Background(), TurnRequest{Text: "remember I like tea"})
	require.NoError(t, err)

	select {
	case ev := <-got:
		assert.Equal(t, res.Thread.ID, ev.ThreadID)
		assert.Equal(t, "remember I like tea", ev.User)
		assert.Equal(t, "Sure.", ev.Assistant)
	case <-time.After(2 * time.Second):
		t.Fatal("no conversation.complete event")
	}

	n, err := f.memory.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestThreadOperations(t *testing.T) {
	f := newFixture(t, Opts{})
	ctx := context.Background()

	th, err := f.orch.CreateThread(ctx, "")
	require.NoError(t, err)
	renamed, err := f.orch.RenameThread(ctx, th.ID, "Budget review")
	require.NoError(t, err)
	assert.Equal(t, "Budget review", *renamed.Title)

	list, err := f.orch.Threads(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	full, err := f.orch.Thread(ctx, th.ID)
	require.NoError(t, err)
	assert.Empty(t, full.Messages)

	require.NoError(t, f.orch.DeleteThread(ctx, th.ID))
	_, err = f.orch.Thread(ctx, th.ID)
	assert.ErrorIs(t, err, fault.ErrNotFound)
	_, err = f.orch.RenameThread(ctx, th.ID, "x")
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestTitleFor(t *testing.T) {
	assert.Equal(t, "short", titleFor("  short  ", 50))
	assert.Equal(t, "line one line two", titleFor("line one\nline two", 50))
	assert.Equal(t, "abc...", titleFor("abcdef", 3))
}
