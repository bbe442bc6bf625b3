// Package memory stores conversation-derived memories: raw exchanges written
// after each chat turn and consolidated facts. Search is semantic when a
// vector index is configured and keyword-ranked otherwise.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/zulandar/switchboard/internal/fault"
	"github.com/zulandar/switchboard/internal/knowledge"
	"github.com/zulandar/switchboard/internal/llm"
	"github.com/zulandar/switchboard/internal/logging"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/vector"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Memory kinds.
const (
	KindExchange = "exchange"
	KindFact     = "fact"
)

// DefaultSearchLimit is used when Search is called with limit <= 0.
const DefaultSearchLimit = 5

// Turn is one completed chat exchange.
type Turn struct {
	ThreadID  string
	User      string
	Assistant string
}

// Result is a search hit.
type Result struct {
	Fact  models.MemoryFact `json:"fact"`
	Score float32           `json:"score"`
}

// Store is the memory store.
type Store struct {
	db       *gorm.DB
	index    vector.Index
	embedder llm.Embedder
	logger   *zap.Logger
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB       *gorm.DB
	Index    vector.Index
	Embedder llm.Embedder
	Logger   *zap.Logger
}

// NewStore creates a Store.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("memory: db is required")
	}
	if opts.Index != nil && opts.Embedder == nil {
		return nil, fmt.Errorf("memory: embedder is required with a vector index")
	}
	return &Store{
		db:       opts.DB,
		index:    opts.Index,
		embedder: opts.Embedder,
		logger:   logging.OrNop(opts.Logger).Named("memory"),
	}, nil
}

func pointKey(id uint) string { return "memory:" + strconv.FormatUint(uint64(id), 10) }

// Add records a completed exchange.
func (s *Store) Add(ctx context.Context, t Turn) (*models.MemoryFact, error) {
	content := fmt.Sprintf("User: %s\nAssistant: %s", t.User, t.Assistant)
	return s.insert(ctx, KindExchange, t.ThreadID, content)
}

// AddFact records a standalone fact.
func (s *Store) AddFact(ctx context.Context, content string) (*models.MemoryFact, error) {
	return s.insert(ctx, KindFact, "", content)
}

func (s *Store) insert(ctx context.Context, kind, threadID, content string) (*models.MemoryFact, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("memory: add: empty content: %w", fault.ErrInvalidArgument)
	}
	row := &models.MemoryFact{Kind: kind, ThreadID: threadID, Content: content}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("memory: add: %w: %w", fault.ErrPersistence, err)
	}
	if s.index != nil {
		vec, err := s.embedder.Embed(ctx, content)
		if err == nil {
			err = s.index.Upsert(ctx, vector.Point{
				Key:     pointKey(row.ID),
				Vector:  vec,
				Payload: map[string]string{"kind": "memory"},
			})
		}
		if err != nil {
			s.logger.Warn("index memory", zap.Uint("id", row.ID), zap.Error(err))
		}
	}
	return row, nil
}

// Search returns memories relevant to query, best match first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if s.index != nil {
		results, err := s.semanticSearch(ctx, query, limit)
		if err == nil {
			return results, nil
		}
		s.logger.Warn("semantic search failed, using keyword search", zap.Error(err))
	}
	return s.keywordSearch(ctx, query, limit)
}

func (s *Store) semanticSearch(ctx context.Context, query string, limit int) ([]Result, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := s.index.Query(ctx, vec, map[string]string{"kind": "memory"}, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(hits))
	scores := make(map[uint]float32, len(hits))
	for _, h := range hits {
		id, err := strconv.ParseUint(strings.TrimPrefix(h.Key, "memory:"), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, uint(id))
		scores[uint(id)] = h.Score
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.MemoryFact
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(rows))
	for _, r := range rows {
		results = append(results, Result{Fact: r, Score: scores[r.ID]})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

func (s *Store) keywordSearch(ctx context.Context, query string, limit int) ([]Result, error) {
	words := knowledge.Keywords(query)
	if len(words) == 0 {
		return nil, nil
	}
	clauses := make([]string, 0, len(words))
	args := make([]any, 0, len(words))
	for _, w := range words {
		clauses = append(clauses, "LOWER(content) LIKE ?")
		args = append(args, "%"+w+"%")
	}
	var rows []models.MemoryFact
	if err := s.db.WithContext(ctx).Where("("+strings.Join(clauses, " OR ")+")", args...).
		Order("id DESC").Limit(limit * 4).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}
	results := make([]Result, 0, len(rows))
	for _, r := range rows {
		results = append(results, Result{Fact: r, Score: knowledge.KeywordScore(words, r.Content)})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// List returns memories newest first.
func (s *Store) List(ctx context.Context, limit int) ([]models.MemoryFact, error) {
	q := s.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.MemoryFact
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("memory: list: %w", err)
	}
	return rows, nil
}

// Count returns the number of stored memories.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.MemoryFact{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("memory: count: %w", err)
	}
	return n, nil
}

// Delete removes one memory.
func (s *Store) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.MemoryFact{}, id)
	if res.Error != nil {
		return fmt.Errorf("memory: delete %d: %w: %w", id, fault.ErrPersistence, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("memory: %d: %w", id, fault.ErrNotFound)
	}
	s.unindex(ctx, id)
	return nil
}

// Clear removes every memory and returns how many were deleted.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	var ids []uint
	if s.index != nil {
		s.db.WithContext(ctx).Model(&models.MemoryFact{}).Pluck("id", &ids)
	}
	res := s.db.WithContext(ctx).Where("1 = 1").Delete(&models.MemoryFact{})
	if res.Error != nil {
		return 0, fmt.Errorf("memory: clear: %w: %w", fault.ErrPersistence, res.Error)
	}
	s.unindex(ctx, ids...)
	return res.RowsAffected, nil
}

// Dedupe deletes memories whose normalized content repeats an older one and
// returns how many were removed.
func (s *Store) Dedupe(ctx context.Context) (int, error) {
	var rows []models.MemoryFact
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return 0, fmt.Errorf("memory: dedupe: %w", err)
	}
	seen := make(map[string]bool, len(rows))
	var dup []uint
	for _, r := range rows {
		key := normalize(r.Content)
		if seen[key] {
			dup = append(dup, r.ID)
			continue
		}
		seen[key] = true
	}
	if len(dup) == 0 {
		return 0, nil
	}
	if err := s.db.WithContext(ctx).Delete(&models.MemoryFact{}, dup).Error; err != nil {
		return 0, fmt.Errorf("memory: dedupe: %w: %w", fault.ErrPersistence, err)
	}
	s.unindex(ctx, dup...)
	return len(dup), nil
}

func (s *Store) unindex(ctx context.Context, ids ...uint) {
	if s.index == nil || len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = pointKey(id)
	}
	if err := s.index.Delete(ctx, keys...); err != nil {
		s.logger.Warn("delete vectors", zap.Int("count", len(keys)), zap.Error(err))
	}
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
