package vector

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestMemory_QueryRanksAndFilters(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()
	if err := idx.Upsert(ctx,
		Point{Key: "k:1", Vector: []float32{1, 0, 0}, Payload: map[string]string{"category": "team"}},
		Point{Key: "k:2", Vector: []float32{0.9, 0.1, 0}, Payload: map[string]string{"category": "strategy"}},
		Point{Key: "k:3", Vector: []float32{0, 1, 0}, Payload: map[string]string{"category": "team"}},
	); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := idx.Query(ctx, []float32{1, 0, 0}, nil, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 2 || hits[0].Key != "k:1" || hits[1].Key != "k:2" {
		t.Errorf("hits = %+v, want k:1 then k:2", hits)
	}

	hits, err = idx.Query(ctx, []float32{1, 0, 0}, map[string]string{"category": "team"}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 2 || hits[0].Key != "k:1" || hits[1].Key != "k:3" {
		t.Errorf("filtered hits = %+v", hits)
	}
}

func TestMemory_UpsertReplacesAndDelete(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()
	idx.Upsert(ctx, Point{Key: "a", Vector: []float32{1, 0}})
	idx.Upsert(ctx, Point{Key: "a", Vector: []float32{0, 1}})
	if idx.Len() != 1 {
		t.Fatalf("Len = %d, want 1", idx.Len())
	}
	hits, _ := idx.Query(ctx, []float32{0, 1}, nil, 1)
	if hits[0].Score < 0.99 {
		t.Errorf("score = %v, want replaced vector to match", hits[0].Score)
	}
	idx.Delete(ctx, "a", "missing")
	if idx.Len() != 0 {
		t.Errorf("Len after delete = %d", idx.Len())
	}
}

func TestCosine_Degenerate(t *testing.T) {
	if got := cosine([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Errorf("cosine with zero vector = %v", got)
	}
	if got := cosine([]float32{1}, []float32{1, 0}); got != 0 {
		t.Errorf("cosine with length mismatch = %v", got)
	}
}

func TestPointID_Deterministic(t *testing.T) {
	a, b := PointID("knowledge:42"), PointID("knowledge:42")
	if a != b {
		t.Errorf("PointID not stable: %s vs %s", a, b)
	}
	if PointID("knowledge:43") == a {
		t.Error("distinct keys produced the same id")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("PointID %q is not a uuid: %v", a, err)
	}
}

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		url     string
		host    string
		port    int
		tls     bool
		wantErr bool
	}{
		{"http://localhost:6333", "localhost", 6334, false, false},
		{"https://xyz.cloud.qdrant.io", "xyz.cloud.qdrant.io", 6334, true, false},
		{"http://qdrant:7000", "qdrant", 7000, false, false},
		{"not a url", "", 0, false, true},
	}
	for _, tt := range tests {
		host, port, tls, err := parseQdrantURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseQdrantURL(%q) err = %v", tt.url, err)
			continue
		}
		if tt.wantErr {
			continue
		}
		if host != tt.host || port != tt.port || tls != tt.tls {
			t.Errorf("parseQdrantURL(%q) = %s,%d,%v", tt.url, host, port, tls)
		}
	}
}

func TestNewQdrant_RequiresCollection(t *testing.T) {
	if _, err := NewQdrant(QdrantConfig{URL: "http://localhost:6333"}, nil); err == nil {
		t.Fatal("expected error without collection")
	}
}
