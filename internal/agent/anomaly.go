package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/bus"
	"github.com/zulandar/switchboard/internal/integration"
	"github.com/zulandar/switchboard/internal/recommend"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Thresholds used by the anomaly agent.
const (
	BudgetWarnRatio     = 0.8
	LowUtilization      = 0.3
	HighUtilization     = 1.2
	MaxPendingResponses = 3
)

// Anomalies flags budget overruns, utilization outliers and calendar
// problems.
type Anomalies struct {
	schedule string
}

// NewAnomalies creates the anomaly agent.
func NewAnomalies(schedule string) *Anomalies { return &Anomalies{schedule: schedule} }

func (a *Anomalies) Descriptor() Descriptor {
	return Descriptor{Name: "anomaly", Description: "Detects anomalies in budgets, schedules, and patterns", Schedule: a.schedule}
}

type finding struct {
	bus.Anomaly
	title    string
	body     string
	metadata map[string]any
}

// Run executes every applicable check concurrently, then stores one
// recommendation per finding and publishes it on the bus. Checks are
// independent; one failing does not stop the others.
func (a *Anomalies) Run(ctx context.Context, env *Env) (Result, error) {
	suite := env.Integrations
	now := env.Now()

	type check struct {
		name string
		run  func(context.Context) ([]finding, error)
	}
	var checks []check
	if suite.Connected(integration.NameTimeTracking) {
		checks = append(checks,
			check{"budgets", func(ctx context.Context) ([]finding, error) { return budgetFindings(ctx, suite.TimeTracking) }},
			check{"utilization", func(ctx context.Context) ([]finding, error) {
				return utilizationFindings(ctx, suite.TimeTracking, now)
			}},
		)
	}
	if suite.Connected(integration.NameCalendar) {
		checks = append(checks, check{"calendar", func(ctx context.Context) ([]finding, error) {
			return calendarFindings(ctx, suite.Calendar, now)
		}})
	}

	results := make([][]finding, len(checks))
	ok := make([]bool, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range checks {
		g.Go(func() error {
			list, err := c.run(gctx)
			if err != nil {
				env.Logger.Warn("anomaly: check failed", zap.String("check", c.name), zap.Error(err))
				return nil
			}
			results[i], ok[i] = list, true
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	performed, found := 0, 0
	for i := range checks {
		if ok[i] {
			performed++
		}
		for _, f := range results[i] {
			if _, err := env.Recommend(ctx, recommend.Draft{
				Title:    f.title,
				Body:     f.body,
				Priority: f.Priority,
				Metadata: f.metadata,
			}); err != nil {
				env.Logger.Warn("anomaly: store recommendation", zap.String("title", f.title), zap.Error(err))
				continue
			}
			env.Publish(bus.TopicAnomalyDetected, f.Anomaly)
			found++
		}
	}
	return Result{
		Summary:        fmt.Sprintf("Found %d anomalies from %d checks", found, performed),
		ItemsProcessed: performed,
	}, nil
}

func budgetFindings(ctx context.Context, tt integration.TimeTracking) ([]finding, error) {
	projects, err := tt.Projects(ctx, true)
	if err != nil {
		return nil, err
	}
	var out []finding
	for _, p := range projects {
		if p.Budget <= 0 {
			continue
		}
		ratio := p.SpentRatio()
		meta := map[string]any{"project_id": p.ID, "project_name": p.Name, "budget_spent_pct": ratio * 100}
		switch {
		case p.Spent > p.Budget:
			meta["type"] = "budget_alert"
			out = append(out, finding{
				Anomaly: bus.Anomaly{Kind: "budget_exceeded", Subject: p.Name, Priority: recommend.PriorityUrgent},
				title:   "Budget Exceeded: " + p.Name,
				body: fmt.Sprintf("Project '%s' has exceeded its budget.\n\nBudget spent: %.1f%%\nOver by: %.1f",
					p.Name, ratio*100, p.Spent-p.Budget),
				metadata: meta,
			})
		case ratio > BudgetWarnRatio:
			meta["type"] = "budget_warning"
			out = append(out, finding{
				Anomaly: bus.Anomaly{Kind: "budget_warning", Subject: p.Name, Priority: recommend.PriorityHigh},
				title:   "Budget Warning: " + p.Name,
				body: fmt.Sprintf("Project '%s' is approaching its budget.\n\nBudget spent: %.1f%%\nRemaining: %.1f",
					p.Name, ratio*100, p.Budget-p.Spent),
				metadata: meta,
			})
		}
	}
	return out, nil
}

func utilizationFindings(ctx context.Context, tt integration.TimeTracking, now time.Time) ([]finding, error) {
	people, err := tt.TeamHours(ctx, now.AddDate(0, 0, -7), now)
	if err != nil {
		return nil, err
	}
	var out []finding
	for _, p := range people {
		if p.Capacity <= 0 {
			continue
		}
		u := p.Utilization()
		meta := map[string]any{"member_name": p.Name, "hours": p.Hours, "utilization": u * 100}
		switch {
		case u < LowUtilization:
			meta["type"] = "utilization_low"
			out = append(out, finding{
				Anomaly: bus.Anomaly{Kind: "utilization_low", Subject: p.Name, Priority: recommend.PriorityNormal},
				title:   "Low Utilization: " + p.Name,
				body: fmt.Sprintf("%s has low tracked time this week.\n\nHours logged: %.1f\nCapacity: %.0f hours\nUtilization: %.1f%%\n\nThis could mean missing time entries or availability for new work.",
					p.Name, p.Hours, p.Capacity, u*100),
				metadata: meta,
			})
		case u > HighUtilization:
			meta["type"] = "utilization_high"
			out = append(out, finding{
				Anomaly: bus.Anomaly{Kind: "utilization_high", Subject: p.Name, Priority: recommend.PriorityHigh},
				title:   "Overtime Alert: " + p.Name,
				body: fmt.Sprintf("%s is significantly over capacity this week.\n\nHours logged: %.1f\nCapacity: %.0f hours\nUtilization: %.1f%%\n\nConsider workload balancing.",
					p.Name, p.Hours, p.Capacity, u*100),
				metadata: meta,
			})
		}
	}
	return out, nil
}

func calendarFindings(ctx context.Context, cal integration.Calendar, now time.Time) ([]finding, error) {
	from := startOfDay(now)
	events, err := cal.Events(ctx, from, from.Add(24*time.Hour), 100)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })

	var out []finding
	for i := range events {
		for j := i + 1; j < len(events); j++ {
			a, b := events[i], events[j]
			if !a.Overlaps(b) {
				continue
			}
			out = append(out, finding{
				Anomaly: bus.Anomaly{Kind: "calendar_conflict", Subject: a.Subject + " / " + b.Subject, Priority: recommend.PriorityHigh},
				title:   "Meeting Conflict Detected",
				body: fmt.Sprintf("Overlapping meetings found:\n\n1. %s (%s)\n2. %s (%s)",
					a.Subject, a.Start.Format("15:04"), b.Subject, b.Start.Format("15:04")),
				metadata: map[string]any{"type": "calendar_conflict", "events": []string{a.ID, b.ID}},
			})
		}
	}

	var pending []string
	for _, e := range events {
		if e.Start.After(now) && e.AwaitingResponse() {
			pending = append(pending, e.Subject)
		}
	}
	if len(pending) > MaxPendingResponses {
		shown := pending
		if len(shown) > 5 {
			shown = shown[:5]
		}
		out = append(out, finding{
			Anomaly: bus.Anomaly{Kind: "pending_responses", Subject: fmt.Sprintf("%d meetings", len(pending)), Priority: recommend.PriorityNormal},
			title:   "Pending Meeting Responses",
			body: fmt.Sprintf("You have %d meeting invitations without responses.\n\nMeetings:\n- %s",
				len(pending), strings.Join(shown, "\n- ")),
			metadata: map[string]any{"type": "pending_responses", "count": len(pending)},
		})
	}
	return out, nil
}
