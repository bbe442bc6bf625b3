// Package knowledge manages the curated, category-tagged fact store. Entries
// live in the relational database; when a vector index and embedder are
// configured, search is semantic, otherwise it falls back to keyword match.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/zulandar/switchboard/internal/fault"
	"github.com/zulandar/switchboard/internal/llm"
	"github.com/zulandar/switchboard/internal/logging"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/vector"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Knowledge categories.
const (
	CategoryStrategy  = "strategy"
	CategoryTeam      = "team"
	CategoryProcesses = "processes"
	CategoryClients   = "clients"
	CategoryProjects  = "projects"
)

// Categories are the allowed knowledge categories, in display order.
var Categories = []string{CategoryStrategy, CategoryTeam, CategoryProcesses, CategoryClients, CategoryProjects}

// Entry sources.
const (
	SourceManual        = "manual"
	SourceAgentProposal = "agent_proposal"
	SourceMeeting       = "meeting"
	SourceConversation  = "conversation"
)

// DefaultSearchLimit is used when Search is called with limit <= 0.
const DefaultSearchLimit = 5

// ValidCategory reports whether c is a known category.
func ValidCategory(c string) bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// Entry is the input for Insert.
type Entry struct {
	Category string
	Title    string
	Content  string
	Source   string
}

// Result is a search hit.
type Result struct {
	Entry models.KnowledgeEntry `json:"entry"`
	Score float32               `json:"score"`
}

// Manager is the knowledge store.
type Manager struct {
	db       *gorm.DB
	index    vector.Index
	embedder llm.Embedder
	logger   *zap.Logger
}

// ManagerOpts holds parameters for creating a Manager.
type ManagerOpts struct {
	DB       *gorm.DB
	Index    vector.Index // optional; enables semantic search
	Embedder llm.Embedder // required when Index is set
	Logger   *zap.Logger
}

// NewManager creates a Manager.
func NewManager(opts ManagerOpts) (*Manager, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("knowledge: db is required")
	}
	if opts.Index != nil && opts.Embedder == nil {
		return nil, fmt.Errorf("knowledge: embedder is required with a vector index")
	}
	return &Manager{
		db:       opts.DB,
		index:    opts.Index,
		embedder: opts.Embedder,
		logger:   logging.OrNop(opts.Logger).Named("knowledge"),
	}, nil
}

func pointKey(id uint) string { return "knowledge:" + strconv.FormatUint(uint64(id), 10) }

func (e Entry) validate() error {
	if !ValidCategory(e.Category) {
		return fmt.Errorf("category %q must be one of %s: %w", e.Category, strings.Join(Categories, ", "), fault.ErrInvalidArgument)
	}
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("title is required: %w", fault.ErrInvalidArgument)
	}
	return nil
}

// Insert validates and stores a new entry, then indexes it.
func (m *Manager) Insert(ctx context.Context, e Entry) (*models.KnowledgeEntry, error) {
	row, err := m.InsertTx(m.db.WithContext(ctx), e)
	if err != nil {
		return nil, err
	}
	m.Index(ctx, row)
	return row, nil
}

// InsertTx stores a new entry using tx, without indexing it. Callers that
// insert inside a transaction call Index after commit.
func (m *Manager) InsertTx(tx *gorm.DB, e Entry) (*models.KnowledgeEntry, error) {
	if err := e.validate(); err != nil {
		return nil, fmt.Errorf("knowledge: insert: %w", err)
	}
	if e.Source == "" {
		e.Source = SourceManual
	}
	row := &models.KnowledgeEntry{
		Category: e.Category,
		Title:    strings.TrimSpace(e.Title),
		Content:  e.Content,
		Source:   e.Source,
	}
	if err := tx.Create(row).Error; err != nil {
		return nil, fmt.Errorf("knowledge: insert: %w: %w", fault.ErrPersistence, err)
	}
	return row, nil
}

// Index embeds row into the vector index. Failures are logged: the row is
// still reachable by keyword search.
func (m *Manager) Index(ctx context.Context, row *models.KnowledgeEntry) {
	if m.index == nil || row == nil {
		return
	}
	vec, err := m.embedder.Embed(ctx, row.Title+"\n"+row.Content)
	if err != nil {
		m.logger.Warn("embed entry", zap.Uint("id", row.ID), zap.Error(err))
		return
	}
	if err := m.index.Upsert(ctx, vector.Point{
		Key:     pointKey(row.ID),
		Vector:  vec,
		Payload: map[string]string{"category": row.Category, "kind": "knowledge"},
	}); err != nil {
		m.logger.Warn("index entry", zap.Uint("id", row.ID), zap.Error(err))
	}
}

// Get returns one entry.
func (m *Manager) Get(ctx context.Context, id uint) (*models.KnowledgeEntry, error) {
	var row models.KnowledgeEntry
	if err := m.db.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("knowledge: entry %d: %w", id, fault.ErrNotFound)
		}
		return nil, fmt.Errorf("knowledge: get %d: %w", id, err)
	}
	return &row, nil
}

// Delete removes an entry and its vector.
func (m *Manager) Delete(ctx context.Context, id uint) error {
	res := m.db.WithContext(ctx).Delete(&models.KnowledgeEntry{}, id)
	if res.Error != nil {
		return fmt.Errorf("knowledge: delete %d: %w: %w", id, fault.ErrPersistence, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("knowledge: entry %d: %w", id, fault.ErrNotFound)
	}
	if m.index != nil {
		if err := m.index.Delete(ctx, pointKey(id)); err != nil {
			m.logger.Warn("delete vector", zap.Uint("id", id), zap.Error(err))
		}
	}
	return nil
}

// Search returns entries relevant to query, optionally restricted to one
// category, best match first.
func (m *Manager) Search(ctx context.Context, query, category string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if category != "" && !ValidCategory(category) {
		return nil, fmt.Errorf("knowledge: search: unknown category %q: %w", category, fault.ErrInvalidArgument)
	}
	if m.index != nil && strings.TrimSpace(query) != "" {
		results, err := m.semanticSearch(ctx, query, category, limit)
		if err == nil {
			return results, nil
		}
		m.logger.Warn("semantic search failed, using keyword search", zap.Error(err))
	}
	return m.keywordSearch(ctx, query, category, limit)
}

func (m *Manager) semanticSearch(ctx context.Context, query, category string, limit int) ([]Result, error) {
	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	filter := map[string]string{"kind": "knowledge"}
	if category != "" {
		filter["category"] = category
	}
	hits, err := m.index.Query(ctx, vec, filter, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(hits))
	scores := make(map[uint]float32, len(hits))
	for _, h := range hits {
		id, err := strconv.ParseUint(strings.TrimPrefix(h.Key, "knowledge:"), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, uint(id))
		scores[uint(id)] = h.Score
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.KnowledgeEntry
	if err := m.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[uint]models.KnowledgeEntry, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	results := make([]Result, 0, len(rows))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			results = append(results, Result{Entry: r, Score: scores[id]})
		}
	}
	return results, nil
}

// keywordSearch ranks entries by how many query words they contain.
func (m *Manager) keywordSearch(ctx context.Context, query, category string, limit int) ([]Result, error) {
	q := m.db.WithContext(ctx).Model(&models.KnowledgeEntry{})
	if category != "" {
		q = q.Where("category = ?", category)
	}
	words := Keywords(query)
	if len(words) > 0 {
		clauses := make([]string, 0, len(words))
		args := make([]any, 0, 2*len(words))
		for _, w := range words {
			like := "%" + w + "%"
			clauses = append(clauses, "LOWER(title) LIKE ? OR LOWER(content) LIKE ?")
			args = append(args, like, like)
		}
		q = q.Where("("+strings.Join(clauses, " OR ")+")", args...)
	}
	var rows []models.KnowledgeEntry
	if err := q.Order("updated_at DESC").Limit(limit * 4).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("knowledge: search: %w", err)
	}

	results := make([]Result, 0, len(rows))
	for _, r := range rows {
		results = append(results, Result{Entry: r, Score: KeywordScore(words, r.Title+" "+r.Content)})
	}
	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// List returns entries, optionally by category, newest first.
func (m *Manager) List(ctx context.Context, category string, limit int) ([]models.KnowledgeEntry, error) {
	q := m.db.WithContext(ctx).Order("updated_at DESC, id DESC")
	if category != "" {
		q = q.Where("category = ?", category)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.KnowledgeEntry
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("knowledge: list: %w", err)
	}
	return rows, nil
}

// Stats returns entry counts for every category, including empty ones.
func (m *Manager) Stats(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Category string
		N        int64
	}
	if err := m.db.WithContext(ctx).Model(&models.KnowledgeEntry{}).
		Select("category, COUNT(*) AS n").Group("category").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("knowledge: stats: %w", err)
	}
	stats := make(map[string]int64, len(Categories))
	for _, c := range Categories {
		stats[c] = 0
	}
	for _, r := range rows {
		stats[r.Category] = r.N
	}
	return stats, nil
}
