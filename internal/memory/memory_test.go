package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/fault"
	"github.com/zulandar/switchboard/internal/llm"
	"github.com/zulandar/switchboard/internal/vector"
)

func newStore(t *testing.T, semantic bool) (*Store, *vector.Memory) {
	t.Helper()
	gdb, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	opts := StoreOpts{DB: gdb}
	var idx *vector.Memory
	if semantic {
		idx = vector.NewMemory()
		opts.Index = idx
		opts.Embedder = llm.NewMock()
	}
	s, err := NewStore(opts)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, idx
}

func TestAdd_FormatsExchange(t *testing.T) {
	s, _ := newStore(t, false)
	row, err := s.Add(context.Background(), Turn{ThreadID: "t1", User: "I prefer morning meetings", Assistant: "Noted."})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if row.Kind != KindExchange || row.ThreadID != "t1" {
		t.Errorf("row = %+v", row)
	}
	if !strings.HasPrefix(row.Content, "User: I prefer morning meetings\nAssistant: Noted.") {
		t.Errorf("Content = %q", row.Content)
	}
	if _, err := s.AddFact(context.Background(), "  "); !errors.Is(err, fault.ErrInvalidArgument) {
		t.Errorf("empty fact err = %v", err)
	}
}

func TestSearch_KeywordAndSemantic(t *testing.T) {
	for _, semantic := range []bool{false, true} {
		s, _ := newStore(t, semantic)
		ctx := context.Background()
		s.AddFact(ctx, "The user prefers morning meetings before 10am")
		s.AddFact(ctx, "The user's manager is Priya")
		s.AddFact(ctx, "Quarterly planning happens in January")

		results, err := s.Search(ctx, "when does the user like meetings", 2)
		if err != nil {
			t.Fatalf("Search(semantic=%v): %v", semantic, err)
		}
		if len(results) == 0 || !strings.Contains(results[0].Fact.Content, "morning meetings") {
			t.Errorf("semantic=%v results = %+v, want morning meetings first", semantic, results)
		}
		if got, _ := s.Search(ctx, "", 5); got != nil {
			t.Errorf("empty query returned %v", got)
		}
	}
}

func TestDeleteClearCount(t *testing.T) {
	s, idx := newStore(t, true)
	ctx := context.Background()
	a, _ := s.AddFact(ctx, "fact a")
	s.AddFact(ctx, "fact b")
	s.AddFact(ctx, "fact c")

	if err := s.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, a.ID); !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("second Delete err = %v, want ErrNotFound", err)
	}
	if n, _ := s.Count(ctx); n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}

	n, err := s.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n != 2 {
		t.Errorf("Clear removed %d, want 2", n)
	}
	if idx.Len() != 0 {
		t.Errorf("index Len = %d after clear", idx.Len())
	}
	rows, _ := s.List(ctx, 0)
	if len(rows) != 0 {
		t.Errorf("List after clear = %d rows", len(rows))
	}
}

func TestDedupe(t *testing.T) {
	s, _ := newStore(t, false)
	ctx := context.Background()
	first, _ := s.AddFact(ctx, "Dana is the manager")
	s.AddFact(ctx, "dana   is the MANAGER")
	s.AddFact(ctx, "Standup is at 9")

	removed, err := s.Dedupe(ctx)
	if err != nil {
		t.Fatalf("Dedupe: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	rows, _ := s.List(ctx, 0)
	if len(rows) != 2 {
		t.Fatalf("List = %d rows, want 2", len(rows))
	}
	if rows[1].ID != first.ID {
		t.Errorf("oldest copy should survive; got ids %d,%d", rows[0].ID, rows[1].ID)
	}
	if removed, _ := s.Dedupe(ctx); removed != 0 {
		t.Errorf("second Dedupe removed %d", removed)
	}
}
