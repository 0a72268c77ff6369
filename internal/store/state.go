package store

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"
)

// RunState is the small piece of CLI state that survives between
// invocations, written atomically so a crash never leaves it truncated.
type RunState struct {
	CurrentSpace string `json:"current_space"`
}

type StateFile struct {
	path  string
	state RunState
	mu    sync.Mutex
}

func NewStateFile(dataDir string) (*StateFile, error) {
	s := &StateFile{path: filepath.Join(dataDir, "state.json")}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *StateFile) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &s.state)
}

func (s *StateFile) save() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.path, bytes.NewReader(data))
}

func (s *StateFile) CurrentSpace() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentSpace
}

func (s *StateFile) SetCurrentSpace(tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CurrentSpace = tenantID
	return s.save()
}
