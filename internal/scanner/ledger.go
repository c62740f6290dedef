package scanner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// LedgerFileName is the removal ledger kept at the extensions root. It
// maps extension folder names to true while their deletion is pending.
const LedgerFileName = ".obsolete"

// Ledger records extension folders scheduled for removal. Writes are
// serialized so concurrent uninstalls never clobber each other.
type Ledger struct {
	root string
	mu   sync.Mutex
}

// NewLedger builds a ledger for the given extensions root.
func NewLedger(root string) *Ledger {
	return &Ledger{root: root}
}

func (l *Ledger) path() string {
	return filepath.Join(l.root, LedgerFileName)
}

// Marked returns the set of folder names currently scheduled for
// removal. A missing ledger file is an empty set.
func (l *Ledger) Marked() (map[string]bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readLocked()
}

// Mark schedules folders for removal. Names that do not exist on disk
// are ignored so the ledger never accumulates phantom entries.
func (l *Ledger) Mark(names ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	marked, err := l.readLocked()
	if err != nil {
		return err
	}

	changed := false
	for _, name := range names {
		if marked[name] {
			continue
		}
		if _, err := os.Stat(filepath.Join(l.root, name)); err != nil {
			continue
		}
		marked[name] = true
		changed = true
	}
	if !changed {
		return nil
	}
	return l.writeLocked(marked)
}

// Unmark removes folders from the ledger. The ledger file itself is
// deleted once the last entry goes.
func (l *Ledger) Unmark(names ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	marked, err := l.readLocked()
	if err != nil {
		return err
	}

	changed := false
	for _, name := range names {
		if marked[name] {
			delete(marked, name)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return l.writeLocked(marked)
}

func (l *Ledger) readLocked() (map[string]bool, error) {
	data, err := os.ReadFile(l.path())
	if os.IsNotExist(err) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading removal ledger: %w", err)
	}

	marked := map[string]bool{}
	if err := json.Unmarshal(data, &marked); err != nil {
		// A corrupt ledger is discarded rather than wedging every
		// uninstall behind it.
		return map[string]bool{}, nil
	}
	for name, v := range marked {
		if !v {
			delete(marked, name)
		}
	}
	return marked, nil
}

func (l *Ledger) writeLocked(marked map[string]bool) error {
	if len(marked) == 0 {
		if err := os.Remove(l.path()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing removal ledger: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(marked)
	if err != nil {
		return fmt.Errorf("encoding removal ledger: %w", err)
	}
	if err := os.WriteFile(l.path(), data, 0644); err != nil {
		return fmt.Errorf("writing removal ledger: %w", err)
	}
	return nil
}
