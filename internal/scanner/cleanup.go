package scanner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/extmarket-labs/extmarket/internal/extension"
)

// ReferenceFunc reports whether any profile still references an
// extension folder name.
type ReferenceFunc func(location string) (bool, error)

// Cleanup runs the startup sweep: discard temp folders left by crashed
// renames, delete ledger entries nothing references anymore, and
// backfill sizes for installs recorded before sizes were tracked.
func (s *Scanner) Cleanup(referenced ReferenceFunc) error {
	if err := s.sweepTemp(); err != nil {
		return err
	}
	if err := s.sweepLedger(referenced); err != nil {
		return err
	}
	return s.backfillSizes()
}

// sweepTemp removes folders carrying the temp suffix and orphaned
// extraction directories.
func (s *Scanner) sweepTemp() error {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading extensions root: %w", err)
	}

	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, TempSuffix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, name)); err != nil {
			return fmt.Errorf("removing temp folder %s: %w", name, err)
		}
	}
	return nil
}

// sweepLedger deletes marked folders that no profile references. The
// folder is renamed out of the way first so a crash mid-delete leaves a
// temp folder for the next sweep instead of a half-deleted extension.
func (s *Scanner) sweepLedger(referenced ReferenceFunc) error {
	marked, err := s.ledger.Marked()
	if err != nil {
		return err
	}

	hooks := s.removalHooks()

	var swept []string
	for name := range marked {
		if referenced != nil {
			inUse, err := referenced(name)
			if err != nil {
				return err
			}
			if inUse {
				continue
			}
		}

		dir := filepath.Join(s.root, name)
		if _, err := os.Stat(dir); err == nil {
			if !runRemovalHooks(hooks, dir) {
				continue
			}
			doomed := filepath.Join(s.root, name+"."+shortHash(name)+TempSuffix)
			if err := os.Rename(dir, doomed); err != nil {
				return extension.NewError(extension.ErrDelete, fmt.Errorf("renaming %s for removal: %w", name, err))
			}
			if err := os.RemoveAll(doomed); err != nil {
				return extension.NewError(extension.ErrDelete, fmt.Errorf("removing %s: %w", name, err))
			}
		}
		swept = append(swept, name)
	}
	if len(swept) == 0 {
		return nil
	}
	return s.ledger.Unmark(swept...)
}

// runRemovalHooks reports whether every hook agreed to the removal. A
// refusing folder stays marked and is retried on the next sweep.
func runRemovalHooks(hooks []RemovalHook, dir string) bool {
	for _, fn := range hooks {
		if err := fn(dir); err != nil {
			return false
		}
	}
	return true
}

// backfillSizes computes and persists the on-disk size of installs
// whose metadata predates size tracking.
func (s *Scanner) backfillSizes() error {
	locals, err := s.Scan()
	if err != nil {
		return err
	}
	for _, local := range locals {
		if local.Metadata.Size != 0 || local.Metadata.InstalledTimestamp == 0 {
			continue
		}
		size, err := DirSize(local.Location)
		if err != nil {
			continue
		}
		local.Metadata.Size = size
		if err := SaveMetadata(local.Location, local.Metadata); err != nil {
			return err
		}
	}
	return nil
}

// DirSize sums the sizes of all regular files under dir.
func DirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sizing %s: %w", dir, err)
	}
	return total, nil
}

func shortHash(name string) string {
	sum := sha256.Sum256([]byte(name + strconv.FormatInt(time.Now().UnixNano(), 10)))
	return hex.EncodeToString(sum[:4])
}
