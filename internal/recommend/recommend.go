// Package recommend is the durable queue of agent-produced, user-facing
// suggestions and their status lifecycle.
package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/bus"
	"github.com/zulandar/switchboard/internal/fault"
	"github.com/zulandar/switchboard/internal/knowledge"
	"github.com/zulandar/switchboard/internal/logging"
	"github.com/zulandar/switchboard/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Priorities, lowest first.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Statuses.
const (
	StatusPending   = "pending"
	StatusViewed    = "viewed"
	StatusActioned  = "actioned"
	StatusDismissed = "dismissed"
)

// MetaTypeKnowledgeProposal marks a recommendation whose approval writes a
// knowledge entry.
const MetaTypeKnowledgeProposal = "knowledge_proposal"

var priorityRank = map[string]int{PriorityLow: 0, PriorityNormal: 1, PriorityHigh: 2, PriorityUrgent: 3}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p string) bool {
	_, ok := priorityRank[p]
	return ok
}

// PriorityAtLeast reports whether p ranks at or above min.
func PriorityAtLeast(p, min string) bool {
	return priorityRank[p] >= priorityRank[min]
}

// ValidStatus reports whether s is a known status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusViewed, StatusActioned, StatusDismissed:
		return true
	}
	return false
}

// Draft is the input for Create.
type Draft struct {
	AgentName string
	Title     string
	Body      string
	Priority  string
	Metadata  map[string]any
}

// Created is the payload published on bus.TopicRecommendationCreated.
type Created struct {
	Recommendation models.Recommendation `json:"recommendation"`
}

// Filter narrows List.
type Filter struct {
	Status    string
	Priority  string
	AgentName string
	Limit     int
	Offset    int
}

// Stats summarizes the queue.
type Stats struct {
	ByStatus          map[string]int64 `json:"by_status"`
	PendingByPriority map[string]int64 `json:"pending_by_priority"`
	Total             int64            `json:"total"`
}

// ApproveResult is the outcome of ApproveKnowledge.
type ApproveResult struct {
	Recommendation *models.Recommendation `json:"recommendation"`
	Entry          *models.KnowledgeEntry `json:"entry,omitempty"` // nil when the approval was a no-op
	Applied        bool                   `json:"applied"`
}

// Store is the recommendation sink.
type Store struct {
	db        *gorm.DB
	bus       *bus.Bus
	knowledge *knowledge.Manager
	logger    *zap.Logger
	now       func() time.Time
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB        *gorm.DB
	Bus       *bus.Bus           // optional; announces new recommendations
	Knowledge *knowledge.Manager // required for ApproveKnowledge
	Logger    *zap.Logger
	Now       func() time.Time
}

// NewStore creates a Store.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("recommend: db is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		db:        opts.DB,
		bus:       opts.Bus,
		knowledge: opts.Knowledge,
		logger:    logging.OrNop(opts.Logger).Named("recommend"),
		now:       now,
	}, nil
}

// Create stores a new pending recommendation. An empty priority means normal.
func (s *Store) Create(ctx context.Context, d Draft) (*models.Recommendation, error) {
	if d.Priority == "" {
		d.Priority = PriorityNormal
	}
	if !ValidPriority(d.Priority) {
		return nil, fmt.Errorf("recommend: create: priority %q: %w", d.Priority, fault.ErrInvalidArgument)
	}
	if strings.TrimSpace(d.Title) == "" {
		return nil, fmt.Errorf("recommend: create: title is required: %w", fault.ErrInvalidArgument)
	}
	if d.AgentName == "" {
		return nil, fmt.Errorf("recommend: create: agent name is required: %w", fault.ErrInvalidArgument)
	}
	var meta string
	if len(d.Metadata) > 0 {
		data, err := json.Marshal(d.Metadata)
		if err != nil {
			return nil, fmt.Errorf("recommend: create: metadata: %w", fault.ErrInvalidArgument)
		}
		meta = string(data)
	}

	rec := &models.Recommendation{
		AgentName: d.AgentName,
		Title:     d.Title,
		Body:      d.Body,
		Priority:  d.Priority,
		Status:    StatusPending,
		Metadata:  meta,
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("recommend: create: %w: %w", fault.ErrPersistence, err)
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicRecommendationCreated, d.AgentName, Created{Recommendation: *rec})
	}
	return rec, nil
}

// Get returns one recommendation.
func (s *Store) Get(ctx context.Context, id uint) (*models.Recommendation, error) {
	return s.get(s.db.WithContext(ctx), id)
}

func (s *Store) get(tx *gorm.DB, id uint) (*models.Recommendation, error) {
	var rec models.Recommendation
	if err := tx.First(&rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("recommend: %d: %w", id, fault.ErrNotFound)
		}
		return nil, fmt.Errorf("recommend: get %d: %w", id, err)
	}
	return &rec, nil
}

// Metadata decodes a recommendation's metadata. Missing or malformed
// metadata yields an empty map.
func Metadata(rec *models.Recommendation) map[string]any {
	out := map[string]any{}
	if rec == nil || rec.Metadata == "" {
		return out
	}
	_ = json.Unmarshal([]byte(rec.Metadata), &out)
	return out
}

// MarkViewed moves a recommendation to viewed.
func (s *Store) MarkViewed(ctx context.Context, id uint) (*models.Recommendation, error) {
	return s.transition(s.db.WithContext(ctx), id, StatusViewed)
}

// MarkActioned moves a recommendation to actioned.
func (s *Store) MarkActioned(ctx context.Context, id uint) (*models.Recommendation, error) {
	return s.transition(s.db.WithContext(ctx), id, StatusActioned)
}

// Dismiss moves a recommendation to dismissed.
func (s *Store) Dismiss(ctx context.Context, id uint) (*models.Recommendation, error) {
	return s.transition(s.db.WithContext(ctx), id, StatusDismissed)
}

// UpdateStatus applies a transition named by status.
func (s *Store) UpdateStatus(ctx context.Context, id uint, status string) (*models.Recommendation, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("recommend: status %q: %w", status, fault.ErrInvalidArgument)
	}
	return s.transition(s.db.WithContext(ctx), id, status)
}

// decide reports whether moving from cur to target writes anything. A nil
// error with apply=false is an idempotent no-op.
func decide(cur, target string) (apply bool, err error) {
	if cur == target {
		return false, nil
	}
	switch cur {
	case StatusPending:
		return target != StatusPending, nil
	case StatusViewed:
		switch target {
		case StatusActioned, StatusDismissed:
			return true, nil
		}
	case StatusActioned:
		if target == StatusViewed {
			return false, nil
		}
	}
	return false, fmt.Errorf("%s -> %s: %w", cur, target, fault.ErrInvalidTransition)
}

func (s *Store) transition(tx *gorm.DB, id uint, target string) (*models.Recommendation, error) {
	rec, _, err := s.apply(tx, id, target)
	return rec, err
}

// apply moves cur -> target with a compare-and-set on the current status,
// so concurrent transitions cannot interleave. applied is false when the
// row was already at or past target. viewed_at and acted_at are written at
// most once each.
func (s *Store) apply(tx *gorm.DB, id uint, target string) (*models.Recommendation, bool, error) {
	for attempt := 0; attempt < 3; attempt++ {
		rec, err := s.get(tx, id)
		if err != nil {
			return nil, false, err
		}
		write, err := decide(rec.Status, target)
		if err != nil {
			return nil, false, fmt.Errorf("recommend: %d: %w", id, err)
		}
		if !write {
			return rec, false, nil
		}

		now := s.now()
		updates := map[string]interface{}{"status": target}
		switch target {
		case StatusViewed:
			if rec.ViewedAt == nil {
				updates["viewed_at"] = now
			}
		case StatusActioned:
			if rec.ViewedAt == nil {
				updates["viewed_at"] = now
			}
			if rec.ActedAt == nil {
				updates["acted_at"] = now
			}
		}
		res := tx.Model(&models.Recommendation{}).
			Where("id = ? AND status = ?", id, rec.Status).
			Updates(updates)
		if res.Error != nil {
			return nil, false, fmt.Errorf("recommend: %d -> %s: %w: %w", id, target, fault.ErrPersistence, res.Error)
		}
		if res.RowsAffected == 1 {
			rec, err := s.get(tx, id)
			return rec, err == nil, err
		}
		// Lost a race with another transition; re-read and decide again.
	}
	return nil, false, fmt.Errorf("recommend: %d -> %s: concurrent updates: %w", id, target, fault.ErrInvalidTransition)
}

// ListPending returns pending recommendations, most urgent first and newest
// first within a priority.
func (s *Store) ListPending(ctx context.Context, limit int) ([]models.Recommendation, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []models.Recommendation
	err := s.db.WithContext(ctx).Where("status = ?", StatusPending).
		Order("CASE priority WHEN 'urgent' THEN 3 WHEN 'high' THEN 2 WHEN 'normal' THEN 1 ELSE 0 END DESC").
		Order("created_at DESC").Order("id DESC").
		Limit(limit).Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("recommend: list pending: %w", err)
	}
	return recs, nil
}

// List returns recommendations matching f, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]models.Recommendation, error) {
	if f.Status != "" && !ValidStatus(f.Status) {
		return nil, fmt.Errorf("recommend: list: status %q: %w", f.Status, fault.ErrInvalidArgument)
	}
	if f.Priority != "" && !ValidPriority(f.Priority) {
		return nil, fmt.Errorf("recommend: list: priority %q: %w", f.Priority, fault.ErrInvalidArgument)
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(f.Limit).Offset(f.Offset)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Priority != "" {
		q = q.Where("priority = ?", f.Priority)
	}
	if f.AgentName != "" {
		q = q.Where("agent_name = ?", f.AgentName)
	}
	var recs []models.Recommendation
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("recommend: list: %w", err)
	}
	return recs, nil
}

// Delete removes a recommendation.
func (s *Store) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Recommendation{}, id)
	if res.Error != nil {
		return fmt.Errorf("recommend: delete %d: %w: %w", id, fault.ErrPersistence, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("recommend: %d: %w", id, fault.ErrNotFound)
	}
	return nil
}

// Stats counts recommendations by status and pending ones by priority.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByStatus:          map[string]int64{StatusPending: 0, StatusViewed: 0, StatusActioned: 0, StatusDismissed: 0},
		PendingByPriority: map[string]int64{PriorityLow: 0, PriorityNormal: 0, PriorityHigh: 0, PriorityUrgent: 0},
	}
	var rows []struct {
		Status   string
		Priority string
		N        int64
	}
	if err := s.db.WithContext(ctx).Model(&models.Recommendation{}).
		Select("status, priority, COUNT(*) AS n").Group("status, priority").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("recommend: stats: %w", err)
	}
	for _, r := range rows {
		st.ByStatus[r.Status] += r.N
		st.Total += r.N
		if r.Status == StatusPending {
			st.PendingByPriority[r.Priority] += r.N
		}
	}
	return st, nil
}

// Proposal is the knowledge a proposal recommendation carries.
type Proposal struct {
	Category string
	Title    string
	Content  string
}

// ProposalMetadata builds the metadata for a knowledge proposal.
func ProposalMetadata(p Proposal) map[string]any {
	return map[string]any{
		"type":              MetaTypeKnowledgeProposal,
		"proposed_category": p.Category,
		"proposed_title":    p.Title,
		"proposed_content":  p.Content,
	}
}

// ParseProposal extracts a knowledge proposal from a recommendation's
// metadata.
func ParseProposal(rec *models.Recommendation) (Proposal, error) {
	meta := Metadata(rec)
	if t, _ := meta["type"].(string); t != MetaTypeKnowledgeProposal {
		return Proposal{}, fmt.Errorf("not a knowledge proposal: %w", fault.ErrInvalidArgument)
	}
	p := Proposal{}
	p.Category, _ = meta["proposed_category"].(string)
	p.Title, _ = meta["proposed_title"].(string)
	p.Content, _ = meta["proposed_content"].(string)
	if p.Category == "" || p.Title == "" || p.Content == "" {
		return Proposal{}, fmt.Errorf("incomplete knowledge proposal: %w", fault.ErrInvalidArgument)
	}
	return p, nil
}

// ApproveKnowledge writes the proposed knowledge entry and marks the
// recommendation actioned, atomically. Approving an already-actioned
// proposal is a no-op.
func (s *Store) ApproveKnowledge(ctx context.Context, id uint) (*ApproveResult, error) {
	if s.knowledge == nil {
		return nil, fmt.Errorf("recommend: approve %d: knowledge store not configured", id)
	}
	result := &ApproveResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := s.get(tx, id)
		if err != nil {
			return err
		}
		proposal, err := ParseProposal(rec)
		if err != nil {
			return fmt.Errorf("recommend: approve %d: %w", id, err)
		}
		if rec.Status == StatusActioned {
			result.Recommendation = rec
			return nil
		}
		if rec.Status == StatusDismissed {
			return fmt.Errorf("recommend: approve %d: dismissed: %w", id, fault.ErrInvalidTransition)
		}

		updated, applied, err := s.apply(tx, id, StatusActioned)
		if err != nil {
			return err
		}
		if !applied {
			// Another approval actioned it between the read and the update.
			result.Recommendation = updated
			return nil
		}
		entry, err := s.knowledge.InsertTx(tx, knowledge.Entry{
			Category: proposal.Category,
			Title:    proposal.Title,
			Content:  proposal.Content,
			Source:   knowledge.SourceAgentProposal,
		})
		if err != nil {
			return err
		}
		result.Recommendation = updated
		result.Entry = entry
		result.Applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Applied {
		s.knowledge.Index(ctx, result.Entry)
		s.logger.Info("knowledge proposal approved",
			zap.Uint("recommendation", id), zap.Uint("entry", result.Entry.ID))
	}
	return result, nil
}
