package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/deixis/actionrunner/internal/action"
)

// DiskStore writes each result as <dir>/<execution-id>.json. With an empty
// Dir a temp directory is created lazily on first use.
type DiskStore struct {
	mu  sync.Mutex
	dir string
}

// NewDiskStore returns a store rooted at dir.
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

// Save writes result to disk, replacing any earlier copy.
func (s *DiskStore) Save(result *action.Result) error {
	if err := checkID(result.ExecutionID); err != nil {
		return err
	}
	dir, err := s.ensureDir()
	if err != nil {
		return err
	}
	data, err := sonic.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshalling result %s: %w", result.ExecutionID, err)
	}
	path := filepath.Join(dir, result.ExecutionID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing result %s: %w", result.ExecutionID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("writing result %s: %w", result.ExecutionID, err)
	}
	return nil
}

// Load reads the result of executionID.
func (s *DiskStore) Load(executionID string) (*action.Result, error) {
	if err := checkID(executionID); err != nil {
		return nil, err
	}
	dir, err := s.ensureDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, executionID+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, executionID)
		}
		return nil, fmt.Errorf("reading result %s: %w", executionID, err)
	}
	var result action.Result
	if err := sonic.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshalling result %s: %w", executionID, err)
	}
	return &result, nil
}

// Dir returns the directory results are written to, creating it if
// needed.
func (s *DiskStore) Dir() (string, error) {
	return s.ensureDir()
}

func (s *DiskStore) ensureDir() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir == "" {
		dir, err := os.MkdirTemp("", "actionrunner-executions-*")
		if err != nil {
			return "", fmt.Errorf("creating result directory: %w", err)
		}
		s.dir = dir
		return dir, nil
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", fmt.Errorf("creating result directory: %w", err)
	}
	return s.dir, nil
}
