// Package vector provides similarity search over embedded entries. Qdrant is
// the production backend; Memory is an exact in-process index for tests and
// single-node setups without Qdrant.
package vector

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Point is one embedded entry. Key is the caller's identifier (for example
// "knowledge:42"); Payload fields can be used as exact-match filters.
type Point struct {
	Key     string
	Vector  []float32
	Payload map[string]string
}

// Hit is one query result.
type Hit struct {
	Key     string
	Score   float32
	Payload map[string]string
}

// Index stores points and answers nearest-neighbour queries.
type Index interface {
	Upsert(ctx context.Context, points ...Point) error
	Query(ctx context.Context, vec []float32, filter map[string]string, limit int) ([]Hit, error)
	Delete(ctx context.Context, keys ...string) error
}

// Memory is an exact cosine-similarity index held in process memory.
type Memory struct {
	mu     sync.RWMutex
	points map[string]Point
}

// NewMemory creates an empty Memory index.
func NewMemory() *Memory {
	return &Memory{points: make(map[string]Point)}
}

// Upsert implements Index.
func (m *Memory) Upsert(_ context.Context, points ...Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		m.points[p.Key] = p
	}
	return nil
}

// Query implements Index.
func (m *Memory) Query(ctx context.Context, vec []float32, filter map[string]string, limit int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	hits := make([]Hit, 0, len(m.points))
	for _, p := range m.points {
		if !matches(p.Payload, filter) {
			continue
		}
		hits = append(hits, Hit{Key: p.Key, Score: cosine(vec, p.Vector), Payload: p.Payload})
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Key < hits[j].Key
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Delete implements Index.
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.points, k)
	}
	return nil
}

// Len returns the number of stored points.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

func matches(payload, filter map[string]string) bool {
	for k, v := range filter {
		if payload[k] != v {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
