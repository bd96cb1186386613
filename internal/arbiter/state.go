package arbiter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// State persists the participant roster for each logical identity. A Load
// error is surfaced to the arbiter, which fails open.
type State interface {
	// Load returns the roster for a logical id. A missing roster is empty,
	// not an error.
	Load(logicalID string) ([]Participant, error)

	// Save replaces the roster for a logical id.
	Save(logicalID string, roster []Participant) error

	// Remove deletes one participant from a roster.
	Remove(logicalID, participantID string) error
}

// MemState is an in-process State for tests and single-process setups.
type MemState struct {
	mu      sync.Mutex
	rosters map[string][]Participant
}

// NewMemState returns an empty in-memory state.
func NewMemState() *MemState {
	return &MemState{rosters: make(map[string][]Participant)}
}

func (s *MemState) Load(logicalID string) ([]Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster := s.rosters[logicalID]
	out := make([]Participant, len(roster))
	copy(out, roster)
	return out, nil
}

func (s *MemState) Save(logicalID string, roster []Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]Participant, len(roster))
	copy(cp, roster)
	s.rosters[logicalID] = cp
	return nil
}

func (s *MemState) Remove(logicalID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster := s.rosters[logicalID]
	kept := roster[:0]
	for _, p := range roster {
		if p.ID != participantID {
			kept = append(kept, p)
		}
	}
	s.rosters[logicalID] = kept
	return nil
}

// FileState persists rosters as one JSON file per logical identity, so
// separate processes on the same machine arbitrate against each other.
type FileState struct {
	dir string
	mu  sync.Mutex
}

// NewFileState creates the state directory if needed.
func NewFileState(dir string) (*FileState, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create arbiter state directory: %w", err)
	}
	return &FileState{dir: dir}, nil
}

func (s *FileState) path(logicalID string) string {
	// Logical ids are user supplied; flatten anything path-like.
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(logicalID)
	return filepath.Join(s.dir, safe+".json")
}

func (s *FileState) Load(logicalID string) ([]Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(logicalID)
}

func (s *FileState) loadLocked(logicalID string) ([]Participant, error) {
	data, err := os.ReadFile(s.path(logicalID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var roster []Participant
	if err := json.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	return roster, nil
}

func (s *FileState) Save(logicalID string, roster []Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(logicalID, roster)
}

func (s *FileState) saveLocked(logicalID string, roster []Participant) error {
	data, err := json.MarshalIndent(roster, "", "  ")
	if err != nil {
		return fmt.Errorf("encode roster: %w", err)
	}
	path := s.path(logicalID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write roster: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace roster: %w", err)
	}
	return nil
}

func (s *FileState) Remove(logicalID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	roster, err := s.loadLocked(logicalID)
	if err != nil {
		return err
	}
	kept := roster[:0]
	for _, p := range roster {
		if p.ID != participantID {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		if err := os.Remove(s.path(logicalID)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove roster: %w", err)
		}
		return nil
	}
	return s.saveLocked(logicalID, kept)
}
