package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/integration"
	"github.com/zulandar/switchboard/internal/knowledge"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/recommend"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const briefingPrompt = `Generate a morning briefing based ONLY on the data provided. Do not invent anything.

Rules:
- If no events are listed, say "No scheduled events".
- If no emails are listed, say "No recent emails".
- Do not create action items unless the data states them.

Structure the briefing as:

## Schedule
The calendar events with times and locations.

## Emails
The emails, highlighting unread or important ones.

## Organization Context
Team, project and strategy points relevant to today.

Keep it brief and factual.`

// Briefing produces the daily morning summary.
type Briefing struct {
	schedule string
}

// NewBriefing creates the briefing agent with the given cron schedule.
func NewBriefing(schedule string) *Briefing { return &Briefing{schedule: schedule} }

func (b *Briefing) Descriptor() Descriptor {
	return Descriptor{Name: "briefing", Description: "Generates daily morning briefings", Schedule: b.schedule}
}

// Run gathers calendar, mail and knowledge concurrently, asks the reasoner
// to summarize them and stores the briefing as a high-priority
// recommendation. Every source is optional.
func (b *Briefing) Run(ctx context.Context, env *Env) (Result, error) {
	now := env.Now()
	suite := env.Integrations

	var (
		events []integration.Event
		mails  []integration.Mail
		kb     = map[string][]models.KnowledgeEntry{}
		kbMu   sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	if suite.Connected(integration.NameCalendar) {
		g.Go(func() error {
			from := startOfDay(now)
			list, err := suite.Calendar.Events(gctx, from, from.Add(48*time.Hour), 50)
			if err != nil {
				env.Logger.Warn("briefing: calendar unavailable", zap.Error(err))
				return nil
			}
			events = list
			return nil
		})
	}
	if suite.Connected(integration.NameMail) {
		g.Go(func() error {
			list, err := suite.Mail.Messages(gctx, 10, "")
			if err != nil {
				env.Logger.Warn("briefing: mail unavailable", zap.Error(err))
				return nil
			}
			mails = list
			return nil
		})
	}
	if env.Knowledge != nil {
		for _, cat := range []string{knowledge.CategoryTeam, knowledge.CategoryStrategy, knowledge.CategoryProjects} {
			g.Go(func() error {
				list, err := env.Knowledge.List(gctx, cat, 5)
				if err != nil {
					env.Logger.Warn("briefing: knowledge unavailable", zap.String("category", cat), zap.Error(err))
					return nil
				}
				kbMu.Lock()
				kb[cat] = list
				kbMu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	microsoft := suite.Connected(integration.NameCalendar) || suite.Connected(integration.NameMail)
	digest := briefingDigest(events, mails, kb, microsoft)
	items := len(events) + len(mails)

	title := "Morning Briefing - " + now.Format("02 January 2006")
	body, err := env.complete(ctx, briefingPrompt,
		fmt.Sprintf("Today is %s. Here is the information for the briefing:\n\n%s", now.Format("Monday, 02 January 2006"), digest))
	if err != nil || strings.TrimSpace(body) == "" {
		if err != nil {
			env.Logger.Warn("briefing: reasoner unavailable, using plain digest", zap.Error(err))
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		body = "# " + title + "\n\n" + digest
	}

	if _, err := env.Recommend(ctx, recommend.Draft{
		Title:    title,
		Body:     body,
		Priority: recommend.PriorityHigh,
		Metadata: map[string]any{"type": "briefing", "items": items},
	}); err != nil {
		return Result{}, fmt.Errorf("briefing: %w", err)
	}

	if !microsoft {
		if _, err := env.Recommend(ctx, recommend.Draft{
			Title:    "Connect Microsoft 365",
			Body:     "Connect your Microsoft 365 account to include your calendar and email in morning briefings.",
			Priority: recommend.PriorityNormal,
			Metadata: map[string]any{"type": "setup"},
		}); err != nil {
			return Result{}, fmt.Errorf("briefing: %w", err)
		}
	}

	return Result{
		Summary:        fmt.Sprintf("Generated briefing with %d items", items),
		ItemsProcessed: items,
	}, nil
}

// briefingDigest renders the gathered data as plain text. It is both the
// reasoner's input and the fallback briefing.
func briefingDigest(events []integration.Event, mails []integration.Mail, kb map[string][]models.KnowledgeEntry, microsoft bool) string {
	var sb strings.Builder

	sb.WriteString("## Upcoming Calendar Events\n")
	switch {
	case !microsoft:
		sb.WriteString("Calendar not connected.\n")
	case len(events) == 0:
		sb.WriteString("No events scheduled for today or tomorrow.\n")
	default:
		for _, e := range events {
			loc := ""
			if e.Location != "" {
				loc = " @ " + e.Location
			}
			fmt.Fprintf(&sb, "- %s: %s%s\n", e.Start.Format("Mon 02 Jan 15:04"), e.Subject, loc)
		}
	}

	sb.WriteString("\n## Recent Emails\n")
	switch {
	case !microsoft:
		sb.WriteString("Mail not connected.\n")
	case len(mails) == 0:
		sb.WriteString("No recent emails.\n")
	default:
		for _, m := range mails {
			var flags []string
			if !m.IsRead {
				flags = append(flags, "UNREAD")
			}
			if m.Importance == "high" {
				flags = append(flags, "IMPORTANT")
			}
			tag := ""
			if len(flags) > 0 {
				tag = " [" + strings.Join(flags, ", ") + "]"
			}
			sender := m.FromName
			if sender == "" {
				sender = m.From
			}
			fmt.Fprintf(&sb, "- %s: %s%s\n  %s\n", sender, m.Subject, tag, truncate(m.Preview, 80))
		}
	}

	headings := []struct{ cat, title string }{
		{knowledge.CategoryTeam, "Team"},
		{knowledge.CategoryStrategy, "Strategy/Priorities"},
		{knowledge.CategoryProjects, "Active Projects"},
	}
	var org strings.Builder
	for _, h := range headings {
		if len(kb[h.cat]) == 0 {
			continue
		}
		fmt.Fprintf(&org, "**%s:**\n", h.title)
		for _, e := range kb[h.cat] {
			fmt.Fprintf(&org, "- %s: %s\n", e.Title, truncate(e.Content, 100))
		}
	}
	if org.Len() > 0 {
		sb.WriteString("\n## Organization Context\n")
		sb.WriteString(org.String())
	}
	return sb.String()
}
