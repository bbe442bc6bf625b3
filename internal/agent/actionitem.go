package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/integration"
	"github.com/zulandar/switchboard/internal/recommend"
	"go.uber.org/zap"
)

const actionItemPrompt = `You extract action items from the content provided.

Return a JSON array, and nothing else:
[
  {
    "title": "Brief description of the action",
    "description": "Full context and details",
    "deadline": "YYYY-MM-DD or null",
    "priority": "low|normal|high|urgent"
  }
]

Only extract genuine action items for the user or their team. Skip FYI
information, completed items and vague suggestions. If there are none,
return [].`

// ActionItems extracts follow-ups from recent mail and meetings.
type ActionItems struct {
	schedule string

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewActionItems creates the action item agent.
func NewActionItems(schedule string) *ActionItems {
	return &ActionItems{schedule: schedule, seen: make(map[string]struct{})}
}

func (a *ActionItems) Descriptor() Descriptor {
	return Descriptor{Name: "action_item", Description: "Extracts action items from meetings and emails", Schedule: a.schedule}
}

type actionItem struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Details     string  `json:"details"`
	Deadline    *string `json:"deadline"`
	Priority    string  `json:"priority"`
}

// Run processes mail and meetings it has not seen before in this process.
// Source items are only marked seen once the reasoner has handled them, so
// a reasoner outage retries them on the next run.
func (a *ActionItems) Run(ctx context.Context, env *Env) (Result, error) {
	suite := env.Integrations
	if !suite.Connected(integration.NameMail) && !suite.Connected(integration.NameCalendar) {
		return Result{Summary: "Microsoft not connected"}, nil
	}
	if env.Reasoner == nil {
		return Result{Summary: "No reasoner configured"}, nil
	}

	found, sources := 0, 0
	if suite.Connected(integration.NameMail) {
		n, err := a.fromMail(ctx, env)
		if err != nil {
			env.Logger.Warn("action_item: mail", zap.Error(err))
		} else {
			sources++
		}
		found += n
	}
	if suite.Connected(integration.NameCalendar) {
		n, err := a.fromMeetings(ctx, env)
		if err != nil {
			env.Logger.Warn("action_item: meetings", zap.Error(err))
		} else {
			sources++
		}
		found += n
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{
		Summary:        fmt.Sprintf("Extracted %d action items from %d sources", found, sources),
		ItemsProcessed: found,
	}, nil
}

func (a *ActionItems) unseen(ids ...string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, id := range ids {
		if _, ok := a.seen[id]; !ok && id != "" {
			out = append(out, id)
		}
	}
	return out
}

func (a *ActionItems) markSeen(ids ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		a.seen[id] = struct{}{}
	}
}

func (a *ActionItems) fromMail(ctx context.Context, env *Env) (int, error) {
	mails, err := env.Integrations.Mail.Messages(ctx, 20, "")
	if err != nil {
		return 0, err
	}
	byID := make(map[string]integration.Mail, len(mails))
	ids := make([]string, 0, len(mails))
	for _, m := range mails {
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}
	fresh := a.unseen(ids...)
	if len(fresh) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	for _, id := range fresh {
		m := byID[id]
		fmt.Fprintf(&sb, "Email from: %s\nSubject: %s\nReceived: %s\nContent: %s\n---\n",
			m.From, m.Subject, m.Received.Format(time.RFC3339), m.Preview)
	}
	items, err := a.extract(ctx, env, "emails", sb.String())
	if err != nil {
		return 0, err
	}
	a.markSeen(fresh...)
	return a.emit(ctx, env, items, "email", ""), nil
}

func (a *ActionItems) fromMeetings(ctx context.Context, env *Env) (int, error) {
	now := env.Now()
	events, err := env.Integrations.Calendar.Events(ctx, now.Add(-24*time.Hour), now, 10)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, e := range events {
		if e.End.After(now) || len(a.unseen(e.ID)) == 0 {
			continue
		}
		content := meetingContent(e)
		items, err := a.extract(ctx, env, "meeting: "+e.Subject, content)
		if err != nil {
			if ctx.Err() != nil {
				return total, err
			}
			env.Logger.Warn("action_item: meeting", zap.String("subject", e.Subject), zap.Error(err))
			continue
		}
		a.markSeen(e.ID)
		total += a.emit(ctx, env, items, "meeting: "+e.Subject, e.ID)
	}
	return total, nil
}

func meetingContent(e integration.Event) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Meeting: %s\nOrganizer: %s\nDate: %s\n", e.Subject, e.Organizer, e.Start.Format(time.RFC3339))
	if len(e.Attendees) > 0 {
		names := make([]string, 0, len(e.Attendees))
		for i, at := range e.Attendees {
			if i == 10 {
				break
			}
			names = append(names, at.Name)
		}
		fmt.Fprintf(&sb, "Attendees: %s\n", strings.Join(names, ", "))
	}
	if e.Description != "" {
		fmt.Fprintf(&sb, "Notes:\n%s\n", truncate(e.Description, 2000))
	}
	return sb.String()
}

func (a *ActionItems) extract(ctx context.Context, env *Env, source, content string) ([]actionItem, error) {
	reply, err := env.complete(ctx, actionItemPrompt,
		fmt.Sprintf("Extract action items from the following %s:\n\n%s", source, content))
	if err != nil {
		return nil, err
	}
	var items []actionItem
	if err := extractJSONArray(reply, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (a *ActionItems) emit(ctx context.Context, env *Env, items []actionItem, source, sourceID string) int {
	n := 0
	today := startOfDay(env.Now())
	for _, it := range items {
		title := strings.TrimSpace(it.Title)
		if title == "" {
			continue
		}
		deadline := ""
		if it.Deadline != nil {
			deadline = strings.TrimSpace(*it.Deadline)
		}
		details := it.Description
		if details == "" {
			details = it.Details
		}

		body := details
		if deadline != "" {
			body += "\n\nDeadline: " + deadline
		}
		body += "\nSource: " + source

		_, err := env.Recommend(ctx, recommend.Draft{
			Title:    "Action: " + title,
			Body:     strings.TrimSpace(body),
			Priority: deadlinePriority(it.Priority, deadline, today),
			Metadata: map[string]any{
				"type":      "action_item",
				"deadline":  deadline,
				"source":    source,
				"source_id": sourceID,
			},
		})
		if err != nil {
			env.Logger.Warn("action_item: store recommendation", zap.String("title", title), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

// deadlinePriority raises the model's priority for close deadlines: due
// within a day is urgent, within three days high.
func deadlinePriority(priority, deadline string, today time.Time) string {
	if !recommend.ValidPriority(priority) {
		priority = recommend.PriorityNormal
	}
	if deadline == "" {
		return priority
	}
	due, err := time.ParseInLocation("2006-01-02", deadline, today.Location())
	if err != nil {
		return priority
	}
	days := int(due.Sub(today).Hours() / 24)
	switch {
	case days <= 1:
		return recommend.PriorityUrgent
	case days <= 3 && !recommend.PriorityAtLeast(priority, recommend.PriorityHigh):
		return recommend.PriorityHigh
	}
	return priority
}
