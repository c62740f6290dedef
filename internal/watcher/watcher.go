// Package watcher reconciles the extensions root with profile
// membership. Folders that appear without going through the installer
// (dropped in by another process or by hand) are adopted into the
// default profile; membership removals made elsewhere surface as local
// uninstall events.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/extmarket-labs/extmarket/internal/extension"
	"github.com/extmarket-labs/extmarket/internal/profile"
	"github.com/extmarket-labs/extmarket/internal/scanner"
	"github.com/fsnotify/fsnotify"
)

// EventKind says what a reconciliation event reports.
type EventKind string

const (
	// Added: a newcomer folder was adopted into the default profile.
	Added EventKind = "added"

	// Removed: a profile membership entry went away.
	Removed EventKind = "removed"
)

// Event is one reconciliation observation.
type Event struct {
	Kind    EventKind
	Profile string

	// Local is set for Added events.
	Local *extension.Local

	// Membership is set for Removed events.
	Membership profile.Membership
}

// Watcher observes the extensions root.
type Watcher struct {
	scanner  *scanner.Scanner
	profiles *profile.Store
	fs       *fsnotify.Watcher
	events   chan Event

	mu     sync.Mutex
	known  map[string]bool
	closed bool
}

// New builds a watcher over the scanner's extensions root.
func New(sc *scanner.Scanner, profiles *profile.Store) *Watcher {
	return &Watcher{
		scanner:  sc,
		profiles: profiles,
		events:   make(chan Event, 16),
		known:    make(map[string]bool),
	}
}

// Events delivers reconciliation observations. The channel is closed
// when the watcher stops.
func (w *Watcher) Events() <-chan Event { return w.events }

// MarkKnown pre-acknowledges a folder this process is about to create,
// so its appearance is not treated as an external install. Wired to the
// coordinator's promote notification.
func (w *Watcher) MarkKnown(folder string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.known[folder] = true
}

func (w *Watcher) isKnown(folder string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.known[folder]
}

// Start seeds the known set from the current directory listing, begins
// watching, and runs until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	root := w.scanner.Root()
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("creating extensions root: %w", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("reading extensions root: %w", err)
	}
	w.mu.Lock()
	for _, e := range entries {
		if e.IsDir() {
			w.known[e.Name()] = true
		}
	}
	w.mu.Unlock()

	w.fs, err = fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	if err := w.fs.Add(root); err != nil {
		w.fs.Close()
		return fmt.Errorf("watching extensions root: %w", err)
	}

	w.profiles.OnRemoved(func(profileName string, m profile.Membership) {
		w.emit(Event{Kind: Removed, Profile: profileName, Membership: m})
	})

	go w.loop(ctx)
	return nil
}

// emit delivers an event without ever blocking: a stalled consumer
// drops observations instead of wedging event processing. Scans
// reconcile whatever was dropped.
func (w *Watcher) emit(e Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.events <- e:
	default:
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.fs.Close()
	defer func() {
		w.mu.Lock()
		w.closed = true
		close(w.events)
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == 0 {
				continue
			}
			w.handleCreate(ctx, event.Name)
		case _, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			// Watch errors are transient; the next scan reconciles.
		}
	}
}

// handleCreate filters a create event down to a genuine newcomer and
// adopts it.
func (w *Watcher) handleCreate(ctx context.Context, path string) {
	root := w.scanner.Root()
	if filepath.Dir(path) != filepath.Clean(root) {
		return
	}
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || name == scanner.LedgerFileName || strings.HasSuffix(name, scanner.TempSuffix) {
		return
	}
	if w.isKnown(name) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}

	local, err := w.scanFolder(ctx, path)
	if err != nil {
		return
	}
	w.MarkKnown(name)

	// Folders written by an installer carry an installedTimestamp; only
	// timestampless newcomers are adopted.
	if local.Metadata.InstalledTimestamp != 0 {
		return
	}

	if err := w.adopt(local, name); err != nil {
		return
	}
	w.emit(Event{Kind: Added, Profile: profile.DefaultProfile, Local: local})
}

// scanFolder reads the newcomer, retrying briefly: the create event for
// the folder usually arrives before its manifest has been written.
func (w *Watcher) scanFolder(ctx context.Context, path string) (*extension.Local, error) {
	var local *extension.Local
	var err error
	for attempt := 0; attempt < 20; attempt++ {
		local, err = w.scanner.ScanLocation(path)
		if err == nil {
			return local, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil, err
}

func (w *Watcher) adopt(local *extension.Local, folder string) error {
	local.Metadata.InstalledTimestamp = time.Now().UnixMilli()
	local.Metadata.Source = extension.SourceResource
	if err := scanner.SaveMetadata(local.Location, local.Metadata); err != nil {
		return err
	}
	if err := w.profiles.EnsureDefault(); err != nil {
		return err
	}
	return w.profiles.Add(profile.DefaultProfile, profile.Membership{
		Identifier: local.Identifier,
		Version:    local.Version(),
		Location:   folder,
		Metadata:   local.Metadata,
	})
}
