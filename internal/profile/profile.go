// Package profile tracks which installed extensions are enabled in
// which user profile. Each profile is a directory holding a yaml
// descriptor and an extensions.json membership list; the same physical
// extension install can be attached to any number of profiles.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/extmarket-labs/extmarket/internal/extension"
	"go.yaml.in/yaml/v3"
)

// DefaultProfile is always present; other profiles derive from it.
const DefaultProfile = "default"

const (
	descriptorFile = "profile.yaml"
	membershipFile = "extensions.json"
)

// Descriptor is the yaml document describing a profile.
type Descriptor struct {
	Name string `yaml:"name"`

	// Extras holds arbitrary user-defined fields.
	Extras map[string]interface{} `yaml:",inline"`
}

// Membership is one entry of a profile's extension list.
type Membership struct {
	Identifier extension.Identifier `json:"identifier"`
	Version    string               `json:"version"`

	// Location is the extension folder name under the extensions root.
	Location string `json:"location"`

	Metadata extension.Metadata `json:"metadata,omitempty"`
}

// ChangeFunc observes membership changes of a profile.
type ChangeFunc func(profile string, m Membership)

// Store reads and writes profile membership under a profiles root.
type Store struct {
	root string

	mu      sync.Mutex
	added   []ChangeFunc
	removed []ChangeFunc
}

// NewStore builds a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the profiles root directory.
func (s *Store) Root() string { return s.root }

// Dir returns the directory of a profile.
func (s *Store) Dir(profile string) string {
	return filepath.Join(s.root, profile)
}

// EnsureDefault creates the default profile if it does not exist.
func (s *Store) EnsureDefault() error {
	return s.Create(DefaultProfile)
}

// Create creates a profile directory and descriptor. Creating an
// existing profile is a no-op.
func (s *Store) Create(profile string) error {
	dir := s.Dir(profile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating profile directory: %w", err)
	}

	descriptor := filepath.Join(dir, descriptorFile)
	if _, err := os.Stat(descriptor); err == nil {
		return nil
	}

	data, err := yaml.Marshal(Descriptor{Name: profile})
	if err != nil {
		return fmt.Errorf("encoding profile descriptor: %w", err)
	}
	if err := os.WriteFile(descriptor, data, 0644); err != nil {
		return fmt.Errorf("writing profile descriptor: %w", err)
	}
	return nil
}

// Profiles lists all profile names.
func (s *Store) Profiles() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading profiles directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Extensions returns the membership list of a profile. A missing list
// is empty, not an error.
func (s *Store) Extensions(profile string) ([]Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(profile)
}

// Add attaches an extension to a profile, replacing any existing entry
// with the same identifier.
func (s *Store) Add(profile string, m Membership) error {
	s.mu.Lock()
	members, err := s.readLocked(profile)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	out := members[:0]
	for _, existing := range members {
		if !existing.Identifier.Same(m.Identifier) {
			out = append(out, existing)
		}
	}
	out = append(out, m)

	if err := s.writeLocked(profile, out); err != nil {
		s.mu.Unlock()
		return err
	}
	handlers := append([]ChangeFunc{}, s.added...)
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(profile, m)
	}
	return nil
}

// Remove detaches an extension from a profile and returns the removed
// entry.
func (s *Store) Remove(profile string, id extension.Identifier) (*Membership, error) {
	s.mu.Lock()
	members, err := s.readLocked(profile)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	// The removed entry is copied out before the list is compacted;
	// compacting in place would overwrite the slot it lives in.
	var removed *Membership
	out := make([]Membership, 0, len(members))
	for _, existing := range members {
		if removed == nil && existing.Identifier.Same(id) {
			m := existing
			removed = &m
			continue
		}
		out = append(out, existing)
	}
	if removed == nil {
		s.mu.Unlock()
		return nil, nil
	}

	if err := s.writeLocked(profile, out); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	handlers := append([]ChangeFunc{}, s.removed...)
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(profile, *removed)
	}
	return removed, nil
}

// Referenced reports whether any profile references the given extension
// folder name.
func (s *Store) Referenced(location string) (bool, error) {
	profiles, err := s.Profiles()
	if err != nil {
		return false, err
	}
	for _, p := range profiles {
		members, err := s.Extensions(p)
		if err != nil {
			return false, err
		}
		for _, m := range members {
			if m.Location == location {
				return true, nil
			}
		}
	}
	return false, nil
}

// OnAdded registers an observer for membership additions.
func (s *Store) OnAdded(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, fn)
}

// OnRemoved registers an observer for membership removals.
func (s *Store) OnRemoved(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, fn)
}

func (s *Store) readLocked(profile string) ([]Membership, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(profile), membershipFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading profile extensions: %w", err)
	}

	var members []Membership
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, fmt.Errorf("parsing profile extensions: %w", err)
	}
	return members, nil
}

func (s *Store) writeLocked(profile string, members []Membership) error {
	if err := os.MkdirAll(s.Dir(profile), 0755); err != nil {
		return fmt.Errorf("creating profile directory: %w", err)
	}

	data, err := json.MarshalIndent(members, "", "\t")
	if err != nil {
		return fmt.Errorf("encoding profile extensions: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(profile), membershipFile), data, 0644); err != nil {
		return fmt.Errorf("writing profile extensions: %w", err)
	}
	return nil
}
