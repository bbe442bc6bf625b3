package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/integration"
	"github.com/zulandar/switchboard/internal/knowledge"
	"github.com/zulandar/switchboard/internal/memory"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/recommend"
)

var testNow = time.Date(2026, 1, 5, 7, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	drafts []recommend.Draft
	err    error
}

func (r *recorder) Create(_ context.Context, d recommend.Draft) (*models.Recommendation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if d.Priority == "" {
		d.Priority = recommend.PriorityNormal
	}
	r.drafts = append(r.drafts, d)
	return &models.Recommendation{ID: uint(len(r.drafts)), AgentName: d.AgentName, Title: d.Title, Priority: d.Priority}, nil
}

func (r *recorder) all() []recommend.Draft {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recommend.Draft(nil), r.drafts...)
}

func (r *recorder) titles() []string {
	var out []string
	for _, d := range r.all() {
		out = append(out, d.Title)
	}
	return out
}

type fakeCalendar struct {
	events []integration.Event
	err    error
}

func (f *fakeCalendar) Events(_ context.Context, from, to time.Time, _ int) ([]integration.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []integration.Event
	for _, e := range f.events {
		if e.Start.Before(to) && e.End.After(from) {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeMail struct {
	mails []integration.Mail
}

func (f *fakeMail) Messages(_ context.Context, limit int, _ string) ([]integration.Mail, error) {
	if limit < len(f.mails) {
		return f.mails[:limit], nil
	}
	return f.mails, nil
}

func (f *fakeMail) Message(_ context.Context, id string) (*integration.MailDetail, error) {
	for _, m := range f.mails {
		if m.ID == id {
			return &integration.MailDetail{Mail: m}, nil
		}
	}
	return nil, errors.New("not found")
}

type fakeTime struct {
	projects []integration.Project
	people   []integration.PersonHours
	err      error
}

func (f *fakeTime) Projects(context.Context, bool) ([]integration.Project, error) {
	return f.projects, f.err
}

func (f *fakeTime) TeamHours(context.Context, time.Time, time.Time) ([]integration.PersonHours, error) {
	return f.people, f.err
}

type fakeKnowledge struct {
	entries map[string][]models.KnowledgeEntry
}

func (f *fakeKnowledge) Search(context.Context, string, string, int) ([]knowledge.Result, error) {
	return nil, nil
}

func (f *fakeKnowledge) List(_ context.Context, category string, _ int) ([]models.KnowledgeEntry, error) {
	return f.entries[category], nil
}

type fakeMemory struct {
	mu      sync.Mutex
	count   int64
	deduped int
	facts   []string
}

func (f *fakeMemory) Search(context.Context, string, int) ([]memory.Result, error) { return nil, nil }

func (f *fakeMemory) AddFact(_ context.Context, content string) (*models.MemoryFact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.facts = append(f.facts, content)
	return &models.MemoryFact{Content: content}, nil
}

func (f *fakeMemory) Count(context.Context) (int64, error) { return f.count, nil }

func (f *fakeMemory) Dedupe(context.Context) (int, error) { return f.deduped, nil }

type fakeThreads struct{ n int64 }

func (f fakeThreads) CountActiveSince(context.Context, time.Time) (int64, error) { return f.n, nil }

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 1, day, hour, minute, 0, 0, time.UTC)
}
