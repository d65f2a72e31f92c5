package record

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// State is the structured run state persisted to state.yaml. The base keys
// always exist; operations hang their own entries (like source_alias) off
// the map as they execute.
type State struct {
	mu   sync.Mutex
	path string
	data map[string]any
}

// baseState is merged over whatever a prior run left behind, so reused
// working directories always carry the expected keys.
func baseState() map[string]any {
	return map[string]any{
		"status": "incomplete",
	}
}

// LoadState reads state.yaml from path if present, overlaying the base
// template keys.
func LoadState(path string) (*State, error) {
	s := &State{path: path, data: baseState()}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	prior := map[string]any{}
	if err := yaml.Unmarshal(raw, &prior); err != nil {
		return nil, fmt.Errorf("invalid state file %s: %w", path, err)
	}
	for k, v := range prior {
		s.data[k] = v
	}
	for k, v := range baseState() {
		s.data[k] = v
	}
	return s, nil
}

// Set stores a top-level key.
func (s *State) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Get returns a top-level key.
func (s *State) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// SetNested stores value under section[key], creating the section map as
// needed.
func (s *State) SetNested(section, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.data[section].(map[string]any)
	if !ok {
		sub = map[string]any{}
		s.data[section] = sub
	}
	sub[key] = value
}

// Save writes the state back to disk.
func (s *State) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := yaml.Marshal(s.data)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o644)
}
