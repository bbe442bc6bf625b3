package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/bus"
	"github.com/zulandar/switchboard/internal/integration"
	"github.com/zulandar/switchboard/internal/llm"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/recommend"
)

type envOpt func(*EnvOpts)

func newEnv(name string, rec *recorder, opts ...envOpt) *Env {
	o := EnvOpts{
		Recommendations: rec,
		Integrations:    &integration.Suite{},
		Now:             func() time.Time { return testNow },
	}
	for _, fn := range opts {
		fn(&o)
	}
	return NewEnv(o).For(name)
}

func withReasoner(m llm.Completer) envOpt   { return func(o *EnvOpts) { o.Reasoner = m } }
func withSuite(s *integration.Suite) envOpt { return func(o *EnvOpts) { o.Integrations = s } }

func TestDescriptor_Scheduled(t *testing.T) {
	for _, tt := range []struct {
		schedule string
		want     bool
	}{
		{"0 7 * * *", true},
		{"", false},
		{ScheduleManual, false},
	} {
		if got := (Descriptor{Schedule: tt.schedule}).Scheduled(); got != tt.want {
			t.Errorf("Scheduled(%q) = %v, want %v", tt.schedule, got, tt.want)
		}
	}
}

func TestBuiltin(t *testing.T) {
	agents := Builtin(func(name string) string {
		if name == "briefing" {
			return "0 7 * * *"
		}
		return ""
	})
	want := []string{"chat", "briefing", "action_item", "memory", "anomaly"}
	if len(agents) != len(want) {
		t.Fatalf("len(Builtin) = %d, want %d", len(agents), len(want))
	}
	for i, a := range agents {
		if a.Descriptor().Name != want[i] {
			t.Errorf("agents[%d] = %q, want %q", i, a.Descriptor().Name, want[i])
		}
	}
	if !agents[1].Descriptor().Scheduled() || agents[2].Descriptor().Scheduled() {
		t.Error("schedule function not applied")
	}
	if _, ok := agents[3].(Listener); !ok {
		t.Error("memory agent should listen on the bus")
	}
}

func TestEnv_RecommendAttributesAgent(t *testing.T) {
	rec := &recorder{}
	env := newEnv("anomaly", rec)
	if _, err := env.Recommend(context.Background(), recommend.Draft{Title: "x", AgentName: "spoofed"}); err != nil {
		t.Fatal(err)
	}
	if got := rec.all()[0].AgentName; got != "anomaly" {
		t.Errorf("AgentName = %q, want anomaly", got)
	}

	bare := NewEnv(EnvOpts{}).For("x")
	if _, err := bare.Recommend(context.Background(), recommend.Draft{Title: "x"}); err == nil {
		t.Error("expected error without a recommendation store")
	}
	bare.Publish("topic", nil)
	if bare.Subscribe("topic", nil) != nil {
		t.Error("Subscribe without a bus should return nil")
	}
}

func TestChat_ReportsCounts(t *testing.T) {
	env := newEnv("chat", &recorder{}, func(o *EnvOpts) {
		o.Threads = fakeThreads{n: 3}
		o.Memory = &fakeMemory{count: 12}
	})
	res, err := NewChat().Run(context.Background(), env)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary != "3 active threads in the last day, 12 memories" || res.ItemsProcessed != 3 {
		t.Errorf("res = %+v", res)
	}
	if NewChat().Descriptor().Scheduled() {
		t.Error("chat must not be scheduled")
	}
}

func TestBriefing_NothingConnected(t *testing.T) {
	rec := &recorder{}
	env := newEnv("briefing", rec)

	res, err := NewBriefing("0 7 * * *").Run(context.Background(), env)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary == "" {
		t.Error("summary should not be empty")
	}
	drafts := rec.all()
	if len(drafts) != 2 {
		t.Fatalf("recommendations = %v, want briefing and connect prompt", rec.titles())
	}
	if drafts[0].Title != "Morning Briefing - 05 January 2026" || drafts[0].Priority != recommend.PriorityHigh {
		t.Errorf("briefing = %q/%q", drafts[0].Title, drafts[0].Priority)
	}
	if !strings.Contains(drafts[0].Body, "Calendar not connected") {
		t.Errorf("fallback body = %q", drafts[0].Body)
	}
	if drafts[1].Title != "Connect Microsoft 365" || drafts[1].Priority != recommend.PriorityNormal {
		t.Errorf("connect = %q/%q", drafts[1].Title, drafts[1].Priority)
	}
}

func TestBriefing_UsesReasoner(t *testing.T) {
	rec := &recorder{}
	mock := llm.NewMock(llm.Reply("## Schedule\n- 09:00 Standup"))
	suite := &integration.Suite{
		Calendar: &fakeCalendar{events: []integration.Event{
			{ID: "e1", Subject: "Standup", Start: at(5, 9, 0), End: at(5, 9, 15)},
			{ID: "e2", Subject: "Last week", Start: at(1, 9, 0), End: at(1, 10, 0)},
		}},
		Mail: &fakeMail{mails: []integration.Mail{{ID: "m1", Subject: "Invoice", From: "ap@example.com"}}},
	}
	env := newEnv("briefing", rec, withReasoner(mock), withSuite(suite), func(o *EnvOpts) {
		o.Knowledge = &fakeKnowledge{entries: map[string][]models.KnowledgeEntry{
			"team": {{Title: "Dana", Content: "Engineering manager"}},
		}}
	})

	res, err := NewBriefing("").Run(context.Background(), env)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ItemsProcessed != 2 {
		t.Errorf("ItemsProcessed = %d, want 2 (one event, one mail)", res.ItemsProcessed)
	}
	drafts := rec.all()
	if len(drafts) != 1 {
		t.Fatalf("recommendations = %v, want only the briefing", rec.titles())
	}
	if drafts[0].Body != "## Schedule\n- 09:00 Standup" {
		t.Errorf("Body = %q, want reasoner output", drafts[0].Body)
	}
	prompt := mock.Requests()[0].Messages[0].Content
	for _, want := range []string{"Standup", "Invoice", "Dana: Engineering manager"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "Last week") {
		t.Error("prompt should only include today and tomorrow")
	}
}

func TestBriefing_ReasonerFailureFallsBack(t *testing.T) {
	rec := &recorder{}
	suite := &integration.Suite{Calendar: &fakeCalendar{events: []integration.Event{
		{ID: "e1", Subject: "Board review", Start: at(5, 14, 0), End: at(5, 15, 0)},
	}}}
	env := newEnv("briefing", rec, withReasoner(llm.NewMock(llm.Fail(errors.New("503")))), withSuite(suite))

	if _, err := NewBriefing("").Run(context.Background(), env); err != nil {
		t.Fatalf("Run: %v", err)
	}
	body := rec.all()[0].Body
	if !strings.HasPrefix(body, "# Morning Briefing") || !strings.Contains(body, "Board review") {
		t.Errorf("fallback body = %q", body)
	}
}

func TestBriefing_StoreFailureFailsRun(t *testing.T) {
	env := newEnv("briefing", &recorder{err: errors.New("disk full")})
	if _, err := NewBriefing("").Run(context.Background(), env); err == nil {
		t.Fatal("expected error when the briefing cannot be stored")
	}
}

func TestActionItems_ExtractsOnce(t *testing.T) {
	rec := &recorder{}
	mock := llm.NewMock(llm.Reply(`Here you go:
[{"title":"Send contract","description":"Legal needs the signed copy","deadline":"2026-01-06","priority":"normal"},
 {"title":"Book venue","description":"Offsite","deadline":null,"priority":"bogus"}]`))
	suite := &integration.Suite{Mail: &fakeMail{mails: []integration.Mail{
		{ID: "m1", Subject: "Contract", From: "legal@example.com"},
		{ID: "m2", Subject: "Offsite", From: "ops@example.com"},
	}}}
	env := newEnv("action_item", rec, withReasoner(mock), withSuite(suite))
	agent := NewActionItems("0 */2 * * *")

	res, err := agent.Run(context.Background(), env)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ItemsProcessed != 2 {
		t.Fatalf("ItemsProcessed = %d, want 2", res.ItemsProcessed)
	}
	drafts := rec.all()
	if drafts[0].Title != "Action: Send contract" || drafts[0].Priority != recommend.PriorityUrgent {
		t.Errorf("first = %q/%q, want urgent (due tomorrow)", drafts[0].Title, drafts[0].Priority)
	}
	if drafts[1].Priority != recommend.PriorityNormal {
		t.Errorf("unknown priority mapped to %q, want normal", drafts[1].Priority)
	}

	res, err = agent.Run(context.Background(), env)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res.ItemsProcessed != 0 || mock.Calls() != 1 {
		t.Errorf("second run items=%d calls=%d, want no reprocessing", res.ItemsProcessed, mock.Calls())
	}
}

func TestActionItems_RetriesAfterReasonerFailure(t *testing.T) {
	rec := &recorder{}
	mock := llm.NewMock(llm.Fail(errors.New("timeout")), llm.Reply(`[{"title":"Reply to Ana"}]`))
	suite := &integration.Suite{Mail: &fakeMail{mails: []integration.Mail{{ID: "m1", Subject: "Question"}}}}
	env := newEnv("action_item", rec, withReasoner(mock), withSuite(suite))
	agent := NewActionItems("")

	if _, err := agent.Run(context.Background(), env); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rec.all()) != 0 {
		t.Fatal("no items expected from failed extraction")
	}
	res, _ := agent.Run(context.Background(), env)
	if res.ItemsProcessed != 1 {
		t.Errorf("retry ItemsProcessed = %d, want 1", res.ItemsProcessed)
	}
}

func TestActionItems_NotConnected(t *testing.T) {
	res, err := NewActionItems("").Run(context.Background(), newEnv("action_item", &recorder{}))
	if err != nil || res.Summary != "Microsoft not connected" {
		t.Errorf("res = %+v, err = %v", res, err)
	}
}

func TestDeadlinePriority(t *testing.T) {
	today := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	for _, tt := range []struct {
		priority, deadline, want string
	}{
		{"low", "2026-01-05", "urgent"},
		{"low", "2026-01-06", "urgent"},
		{"low", "2026-01-08", "high"},
		{"urgent", "2026-01-08", "urgent"},
		{"low", "2026-01-20", "low"},
		{"", "", "normal"},
		{"high", "next week", "high"},
	} {
		if got := deadlinePriority(tt.priority, tt.deadline, today); got != tt.want {
			t.Errorf("deadlinePriority(%q, %q) = %q, want %q", tt.priority, tt.deadline, got, tt.want)
		}
	}
}

func TestConsolidator_DedupesAndProposes(t *testing.T) {
	rec := &recorder{}
	mem := &fakeMemory{deduped: 2}
	mock := llm.NewMock(llm.Reply(`[
		{"category":"processes","title":"Release cadence","content":"Releases ship every other Tuesday"},
		{"category":"gossip","title":"ignored","content":"x"}]`))
	suite := &integration.Suite{Calendar: &fakeCalendar{events: []integration.Event{
		{ID: "e1", Subject: "Release retro", Start: at(4, 15, 0), End: at(4, 16, 0), Description: "We agreed on biweekly releases"},
		{ID: "e2", Subject: "Later today", Start: at(5, 6, 30), End: at(5, 8, 0)},
	}}}
	env := newEnv("memory", rec, withReasoner(mock), withSuite(suite), func(o *EnvOpts) { o.Memory = mem })
	c := NewConsolidator("0 * * * *")

	res, err := c.Run(context.Background(), env)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ItemsProcessed != 3 {
		t.Errorf("ItemsProcessed = %d, want 2 removed + 1 proposed", res.ItemsProcessed)
	}
	drafts := rec.all()
	if len(drafts) != 1 {
		t.Fatalf("recommendations = %v", rec.titles())
	}
	d := drafts[0]
	if d.Priority != recommend.PriorityLow || d.Metadata["type"] != recommend.MetaTypeKnowledgeProposal {
		t.Errorf("proposal = %+v", d)
	}
	if d.Metadata["proposed_category"] != "processes" || d.Metadata["proposed_title"] != "Release cadence" {
		t.Errorf("metadata = %v", d.Metadata)
	}
	if mock.Calls() != 1 {
		t.Errorf("reasoner calls = %d, want 1 (meeting still running is skipped)", mock.Calls())
	}

	c.Run(context.Background(), env)
	if mock.Calls() != 1 {
		t.Error("meeting processed twice")
	}
}

func TestConsolidator_LearnsFromConversationEvents(t *testing.T) {
	b := bus.New(bus.Opts{})
	defer b.Close()
	rec := &recorder{}
	mock := llm.NewMock(llm.Reply(`[{"category":"team","title":"Manager","content":"The user's manager is Dana"}]`))
	env := newEnv("memory", rec, withReasoner(mock), func(o *EnvOpts) { o.Bus = b })

	subs := NewConsolidator("").Listen(env)
	if len(subs) != 1 {
		t.Fatalf("Listen returned %d subscriptions", len(subs))
	}
	b.Publish(bus.TopicConversationComplete, "chat", bus.ConversationComplete{
		ThreadID: "t1", User: "My manager Dana wants the report", Assistant: "I'll remember that.",
	})

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	drafts := rec.all()
	if len(drafts) != 1 || drafts[0].Metadata["source"] != "conversation" {
		t.Fatalf("drafts = %+v", drafts)
	}
	if !strings.Contains(mock.Requests()[0].Messages[0].Content, "User: My manager Dana") {
		t.Error("conversation not passed to reasoner")
	}
}

func TestAnomalies(t *testing.T) {
	b := bus.New(bus.Opts{})
	defer b.Close()
	events := make(chan bus.Anomaly, 32)
	b.Subscribe(bus.TopicAnomalyDetected, func(_ context.Context, m bus.Message) error {
		events <- m.Payload.(bus.Anomaly)
		return nil
	})

	pendingEvent := func(id string, h int) integration.Event {
		return integration.Event{ID: id, Subject: "Invite " + id, Start: at(5, h, 0), End: at(5, h, 30),
			Attendees: []integration.Attendee{{Name: "x", Response: "notResponded"}}}
	}
	suite := &integration.Suite{
		TimeTracking: &fakeTime{
			projects: []integration.Project{
				{ID: 1, Name: "Apollo", Budget: 100, Spent: 120},
				{ID: 2, Name: "Hermes", Budget: 100, Spent: 85},
				{ID: 3, Name: "Zeus", Budget: 100, Spent: 40},
				{ID: 4, Name: "Unbudgeted", Spent: 500},
			},
			people: []integration.PersonHours{
				{Name: "Ana", Hours: 50, Capacity: 40},
				{Name: "Bo", Hours: 8, Capacity: 40},
				{Name: "Cy", Hours: 36, Capacity: 40},
			},
		},
		Calendar: &fakeCalendar{events: []integration.Event{
			{ID: "a", Subject: "Design", Start: at(5, 9, 0), End: at(5, 10, 0)},
			{ID: "b", Subject: "Hiring", Start: at(5, 9, 30), End: at(5, 10, 30)},
			pendingEvent("p1", 11), pendingEvent("p2", 12), pendingEvent("p3", 13), pendingEvent("p4", 14),
		}},
	}
	rec := &recorder{}
	env := newEnv("anomaly", rec, withSuite(suite), func(o *EnvOpts) { o.Bus = b })

	res, err := NewAnomalies("0 */4 * * *").Run(context.Background(), env)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ItemsProcessed != 3 {
		t.Errorf("checks = %d, want 3", res.ItemsProcessed)
	}

	want := map[string]string{
		"Budget Exceeded: Apollo":   recommend.PriorityUrgent,
		"Budget Warning: Hermes":    recommend.PriorityHigh,
		"Overtime Alert: Ana":       recommend.PriorityHigh,
		"Low Utilization: Bo":       recommend.PriorityNormal,
		"Meeting Conflict Detected": recommend.PriorityHigh,
		"Pending Meeting Responses": recommend.PriorityNormal,
	}
	drafts := rec.all()
	if len(drafts) != len(want) {
		t.Fatalf("recommendations = %v", rec.titles())
	}
	for _, d := range drafts {
		if p, ok := want[d.Title]; !ok || p != d.Priority {
			t.Errorf("unexpected %q/%q", d.Title, d.Priority)
		}
	}

	for i := 0; i < len(want); i++ {
		select {
		case <-events:
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d anomaly events, want %d", i, len(want))
		}
	}
}

func TestAnomalies_FailedCheckDoesNotStopOthers(t *testing.T) {
	suite := &integration.Suite{
		TimeTracking: &fakeTime{err: errors.New("harvest down")},
		Calendar: &fakeCalendar{events: []integration.Event{
			{ID: "a", Subject: "A", Start: at(5, 9, 0), End: at(5, 10, 0)},
			{ID: "b", Subject: "B", Start: at(5, 9, 0), End: at(5, 9, 45)},
		}},
	}
	rec := &recorder{}
	res, err := NewAnomalies("").Run(context.Background(), newEnv("anomaly", rec, withSuite(suite)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary != "Found 1 anomalies from 1 checks" {
		t.Errorf("Summary = %q", res.Summary)
	}
}

func TestExtractJSONArray(t *testing.T) {
	var items []map[string]string
	if err := extractJSONArray("Sure!\n```json\n[{\"a\":\"b\"}]\n```", &items); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(items) != 1 || items[0]["a"] != "b" {
		t.Errorf("items = %v", items)
	}
	if err := extractJSONArray("no array here", &items); err == nil {
		t.Error("expected error without an array")
	}
}
