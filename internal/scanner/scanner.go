// Package scanner enumerates extensions installed under the extensions
// root, merging each folder's package manifest with its metadata
// sidecar, and maintains the removal ledger that defers folder deletion
// until nothing references an install anymore.
package scanner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/extmarket-labs/extmarket/internal/extension"
	"golang.org/x/sync/singleflight"
)

// MetadataFileName is the install-record sidecar written into every
// extension folder after extraction.
const MetadataFileName = ".metadata.json"

// TempSuffix marks folders that are mid-rename or mid-delete. Anything
// carrying it is invisible to scans and swept on the next cleanup.
const TempSuffix = ".vsctmp"

// Scanner reads installed extensions from an extensions root.
type Scanner struct {
	root   string
	ledger *Ledger
	group  singleflight.Group

	mu           sync.Mutex
	beforeRemove []RemovalHook
}

// RemovalHook runs before a swept folder is renamed away for deletion.
// An error keeps the folder on disk and in the ledger for a later sweep.
type RemovalHook func(dir string) error

// New builds a scanner over the given extensions root.
func New(root string) *Scanner {
	return &Scanner{root: root, ledger: NewLedger(root)}
}

// Root returns the extensions root directory.
func (s *Scanner) Root() string { return s.root }

// Ledger exposes the removal ledger of this root.
func (s *Scanner) Ledger() *Ledger { return s.ledger }

// OnBeforeRemove registers a hook consulted before the cleanup sweep
// deletes a folder.
func (s *Scanner) OnBeforeRemove(fn RemovalHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeRemove = append(s.beforeRemove, fn)
}

func (s *Scanner) removalHooks() []RemovalHook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RemovalHook{}, s.beforeRemove...)
}

// Scan lists every readable extension under the root, excluding
// dotfiles, temp folders, and folders marked for removal. Concurrent
// calls share a single directory walk.
func (s *Scanner) Scan() ([]*extension.Local, error) {
	v, err, _ := s.group.Do("scan", func() (interface{}, error) {
		return s.scan()
	})
	if err != nil {
		return nil, err
	}
	return v.([]*extension.Local), nil
}

func (s *Scanner) scan() ([]*extension.Local, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading extensions root: %w", err)
	}

	marked, err := s.ledger.Marked()
	if err != nil {
		return nil, err
	}

	var locals []*extension.Local
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, TempSuffix) {
			continue
		}
		if marked[name] {
			continue
		}

		local, err := s.ScanLocation(filepath.Join(s.root, name))
		if err != nil {
			// Folders with unreadable manifests are skipped, not fatal:
			// one broken extension must not hide the rest.
			continue
		}
		locals = append(locals, local)
	}
	return locals, nil
}

// ScanLocation reads a single extension folder: manifest plus metadata
// sidecar.
func (s *Scanner) ScanLocation(dir string) (*extension.Local, error) {
	manifest, err := extension.ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	metadata, err := ReadMetadata(dir)
	if err != nil {
		return nil, err
	}

	id := manifest.Identifier()
	id.UUID = metadata.ID

	return &extension.Local{
		Identifier: id,
		Type:       extension.TypeUser,
		Manifest:   manifest,
		Location:   dir,
		Metadata:   metadata,
	}, nil
}

// ReadMetadata loads the metadata sidecar of an extension folder. A
// missing sidecar is a zero record, not an error.
func ReadMetadata(dir string) (extension.Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFileName))
	if os.IsNotExist(err) {
		return extension.Metadata{}, nil
	}
	if err != nil {
		return extension.Metadata{}, fmt.Errorf("reading extension metadata: %w", err)
	}

	var m extension.Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return extension.Metadata{}, fmt.Errorf("parsing extension metadata: %w", err)
	}
	return m, nil
}

// SaveMetadata writes the metadata sidecar of an extension folder.
// False booleans marshal as absent, which normalizes records written by
// older builds that spelled them out.
func SaveMetadata(dir string, m extension.Metadata) error {
	data, err := json.MarshalIndent(m, "", "\t")
	if err != nil {
		return fmt.Errorf("encoding extension metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetadataFileName), data, 0644); err != nil {
		return fmt.Errorf("writing extension metadata: %w", err)
	}
	return nil
}
