package report

import (
	"github.com/deixis/actionrunner/internal/action"
	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUStore caches recent results in memory and delegates to a backing
// Store on miss.
type LRUStore struct {
	cache *lru.Cache[string, *action.Result]
	back  Store
}

// NewLRUStore creates a cache holding up to size results in front of
// back. Size is raised to 1 when smaller.
func NewLRUStore(size int, back Store) *LRUStore {
	if size < 1 {
		size = 1
	}
	cache, _ := lru.New[string, *action.Result](size)
	return &LRUStore{cache: cache, back: back}
}

// Save caches the result and writes it through to the backing store.
func (s *LRUStore) Save(result *action.Result) error {
	if err := s.back.Save(result); err != nil {
		return err
	}
	s.cache.Add(result.ExecutionID, result)
	return nil
}

// Load serves from the cache, promoting backing-store hits into it.
func (s *LRUStore) Load(executionID string) (*action.Result, error) {
	if r, ok := s.cache.Get(executionID); ok {
		return r, nil
	}
	r, err := s.back.Load(executionID)
	if err != nil {
		return nil, err
	}
	s.cache.Add(executionID, r)
	return r, nil
}

// Len returns the number of cached results.
func (s *LRUStore) Len() int {
	return s.cache.Len()
}
