// Package runs records agent executions. A run row is inserted when an
// agent starts and finalized exactly once.
package runs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/fault"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// Trigger kinds.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// InterruptedMessage is recorded on runs found running at startup.
const InterruptedMessage = "interrupted: process restarted"

// DefaultLimit bounds listings when the caller passes no limit.
const DefaultLimit = 20

// Store persists AgentRun rows.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore creates a Store. now defaults to time.Now.
func NewStore(db *gorm.DB, now func() time.Time) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("runs: db is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Store{db: db, now: now}, nil
}

// Start inserts a running record.
func (s *Store) Start(ctx context.Context, agentName, trigger string) (*models.AgentRun, error) {
	if trigger == "" {
		trigger = TriggerSchedule
	}
	run := &models.AgentRun{
		AgentName: agentName,
		Trigger:   trigger,
		Status:    models.RunRunning,
		StartedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("runs: start %s: %w: %w", agentName, fault.ErrPersistence, err)
	}
	return run, nil
}

// Complete finalizes a running record as completed. It returns false when
// the run was already finalized.
func (s *Store) Complete(ctx context.Context, id uint, summary string, items int) (bool, error) {
	return s.finish(ctx, id, map[string]interface{}{
		"status":          models.RunCompleted,
		"summary":         summary,
		"items_processed": items,
	})
}

// Fail finalizes a running record as failed.
func (s *Store) Fail(ctx context.Context, id uint, msg string) (bool, error) {
	return s.finish(ctx, id, map[string]interface{}{
		"status":        models.RunFailed,
		"error_message": msg,
	})
}

func (s *Store) finish(ctx context.Context, id uint, updates map[string]interface{}) (bool, error) {
	updates["completed_at"] = s.now()
	res := s.db.WithContext(ctx).Model(&models.AgentRun{}).
		Where("id = ? AND status = ?", id, models.RunRunning).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("runs: finish %d: %w: %w", id, fault.ErrPersistence, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Get returns one run.
func (s *Store) Get(ctx context.Context, id uint) (*models.AgentRun, error) {
	var run models.AgentRun
	if err := s.db.WithContext(ctx).First(&run, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("runs: %d: %w", id, fault.ErrNotFound)
		}
		return nil, fmt.Errorf("runs: get %d: %w", id, err)
	}
	return &run, nil
}

// List returns runs of one agent, newest first.
func (s *Store) List(ctx context.Context, agentName string, limit int) ([]models.AgentRun, error) {
	return s.list(ctx, s.db.WithContext(ctx).Where("agent_name = ?", agentName), limit)
}

// Recent returns runs across all agents, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]models.AgentRun, error) {
	return s.list(ctx, s.db.WithContext(ctx), limit)
}

func (s *Store) list(_ context.Context, q *gorm.DB, limit int) ([]models.AgentRun, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	var out []models.AgentRun
	if err := q.Order("started_at DESC").Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("runs: list: %w", err)
	}
	return out, nil
}

// Last returns the newest run of an agent, or nil if it never ran.
func (s *Store) Last(ctx context.Context, agentName string) (*models.AgentRun, error) {
	list, err := s.List(ctx, agentName, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// ReconcileInterrupted fails every run still marked running. It is meant to
// be called once at startup, before any run is admitted.
func (s *Store) ReconcileInterrupted(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.AgentRun{}).
		Where("status = ?", models.RunRunning).
		Updates(map[string]interface{}{
			"status":        models.RunFailed,
			"error_message": InterruptedMessage,
			"completed_at":  s.now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("runs: reconcile: %w: %w", fault.ErrPersistence, res.Error)
	}
	return res.RowsAffected, nil
}
