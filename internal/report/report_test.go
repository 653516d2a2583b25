package report

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/deixis/actionrunner/internal/action"
)

func sampleResult(id string) *action.Result {
	return &action.Result{
		ExecutionID: id,
		Action:      "examples.pascal_row",
		Status:      action.StatusSucceeded,
		Result:      []any{1.0, 4.0, 6.0, 4.0, 1.0},
		ExitCode:    0,
		Stdout:      "computing\n",
		StartedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration:    1500 * time.Millisecond,
	}
}

func TestDiskStore_SaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "executions")
	s := NewDiskStore(dir)

	if err := s.Save(sampleResult("exec-1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "exec-1.json")); err != nil {
		t.Fatalf("result file missing: %v", err)
	}

	got, err := s.Load("exec-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Status != action.StatusSucceeded {
		t.Errorf("Status = %q, want %q", got.Status, action.StatusSucceeded)
	}
	if got.Action != "examples.pascal_row" {
		t.Errorf("Action = %q, want examples.pascal_row", got.Action)
	}
	if got.Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v, want 1.5s", got.Duration)
	}
	row, ok := got.Result.([]any)
	if !ok || len(row) != 5 {
		t.Errorf("Result = %#v, want 5-element row", got.Result)
	}
}

func TestDiskStore_LazyTempDir(t *testing.T) {
	s := NewDiskStore("")
	if err := s.Save(sampleResult("exec-1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	dir, err := s.Dir()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	if _, err := s.Load("exec-1"); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestDiskStore_NotFound(t *testing.T) {
	s := NewDiskStore(t.TempDir())
	_, err := s.Load("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestDiskStore_RejectsPathIDs(t *testing.T) {
	s := NewDiskStore(t.TempDir())
	for _, id := range []string{"", "..", "../escape", `a\b`} {
		if _, err := s.Load(id); err == nil {
			t.Errorf("Load(%q) succeeded, want error", id)
		}
		if err := s.Save(sampleResult(id)); err == nil {
			t.Errorf("Save(%q) succeeded, want error", id)
		}
	}
}

type countingStore struct {
	results map[string]*action.Result
	loads   int
}

func (c *countingStore) Save(r *action.Result) error {
	c.results[r.ExecutionID] = r
	return nil
}

func (c *countingStore) Load(id string) (*action.Result, error) {
	c.loads++
	r, ok := c.results[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func TestLRUStore_HitAndEviction(t *testing.T) {
	back := &countingStore{results: map[string]*action.Result{}}
	s := NewLRUStore(2, back)

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Save(sampleResult(id)); err != nil {
			t.Fatalf("Save(%s): %v", id, err)
		}
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}

	if _, err := s.Load("c"); err != nil {
		t.Fatal(err)
	}
	if back.loads != 0 {
		t.Errorf("backing loads = %d, want 0 for a cached result", back.loads)
	}

	// "a" was evicted and comes from the backing store.
	if _, err := s.Load("a"); err != nil {
		t.Fatal(err)
	}
	if back.loads != 1 {
		t.Errorf("backing loads = %d, want 1", back.loads)
	}
	if _, err := s.Load("a"); err != nil {
		t.Fatal(err)
	}
	if back.loads != 1 {
		t.Errorf("backing loads = %d, want promoted result served from cache", back.loads)
	}
}

func TestLRUStore_MissPropagatesError(t *testing.T) {
	s := NewLRUStore(0, &countingStore{results: map[string]*action.Result{}})
	if _, err := s.Load("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}
