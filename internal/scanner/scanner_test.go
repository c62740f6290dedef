package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/extmarket-labs/extmarket/internal/extension"
)

func writeExtension(t *testing.T, root, folder, publisher, name, version string) string {
	t.Helper()
	dir := filepath.Join(root, folder)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	manifest := `{"name": "` + name + `", "publisher": "` + publisher + `", "version": "` + version + `"}`
	if err := os.WriteFile(filepath.Join(dir, extension.ManifestFileName), []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestScanMergesMetadataSidecar(t *testing.T) {
	root := t.TempDir()
	dir := writeExtension(t, root, "acme.tooling-1.0.0", "acme", "tooling", "1.0.0")

	if err := SaveMetadata(dir, extension.Metadata{
		ID:                 "uuid-1",
		InstalledTimestamp: 42,
		PreRelease:         true,
	}); err != nil {
		t.Fatal(err)
	}

	locals, err := New(root).Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(locals) != 1 {
		t.Fatalf("Scan = %d extensions, want 1", len(locals))
	}

	got := locals[0]
	if got.Identifier.ID != "acme.tooling" || got.Identifier.UUID != "uuid-1" {
		t.Errorf("identifier = %+v", got.Identifier)
	}
	if !got.Metadata.PreRelease || got.Metadata.InstalledTimestamp != 42 {
		t.Errorf("metadata = %+v", got.Metadata)
	}
	if got.Version() != "1.0.0" {
		t.Errorf("version = %q", got.Version())
	}
}

func TestScanSkipsMarkedTempAndBrokenFolders(t *testing.T) {
	root := t.TempDir()
	writeExtension(t, root, "acme.keep-1.0.0", "acme", "keep", "1.0.0")
	writeExtension(t, root, "acme.gone-1.0.0", "acme", "gone", "1.0.0")

	// Temp folder and a folder without a manifest.
	if err := os.MkdirAll(filepath.Join(root, "acme.mid-1.0.0"+TempSuffix), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "broken"), 0755); err != nil {
		t.Fatal(err)
	}

	s := New(root)
	if err := s.Ledger().Mark("acme.gone-1.0.0"); err != nil {
		t.Fatal(err)
	}

	locals, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(locals) != 1 || locals[0].Identifier.ID != "acme.keep" {
		t.Fatalf("Scan = %+v, want only acme.keep", locals)
	}
}

func TestLedgerMarkRequiresFolderOnDisk(t *testing.T) {
	root := t.TempDir()
	writeExtension(t, root, "acme.real-1.0.0", "acme", "real", "1.0.0")

	l := NewLedger(root)
	if err := l.Mark("acme.real-1.0.0", "acme.phantom-1.0.0"); err != nil {
		t.Fatal(err)
	}

	marked, err := l.Marked()
	if err != nil {
		t.Fatal(err)
	}
	if !marked["acme.real-1.0.0"] {
		t.Error("on-disk folder was not marked")
	}
	if marked["acme.phantom-1.0.0"] {
		t.Error("phantom folder was marked")
	}
}

func TestLedgerFileRemovedWhenEmpty(t *testing.T) {
	root := t.TempDir()
	writeExtension(t, root, "acme.tooling-1.0.0", "acme", "tooling", "1.0.0")

	l := NewLedger(root)
	if err := l.Mark("acme.tooling-1.0.0"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, LedgerFileName)); err != nil {
		t.Fatalf("ledger file missing after mark: %v", err)
	}

	if err := l.Unmark("acme.tooling-1.0.0"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, LedgerFileName)); !os.IsNotExist(err) {
		t.Error("ledger file should be removed once empty")
	}
}

func TestCleanupSweepsTempAndUnreferencedMarks(t *testing.T) {
	root := t.TempDir()
	writeExtension(t, root, "acme.doomed-1.0.0", "acme", "doomed", "1.0.0")
	writeExtension(t, root, "acme.shared-1.0.0", "acme", "shared", "1.0.0")

	// Leftover from a crashed rename.
	crashed := filepath.Join(root, "acme.crashed-1.0.0"+TempSuffix)
	if err := os.MkdirAll(crashed, 0755); err != nil {
		t.Fatal(err)
	}

	s := New(root)
	if err := s.Ledger().Mark("acme.doomed-1.0.0", "acme.shared-1.0.0"); err != nil {
		t.Fatal(err)
	}

	err := s.Cleanup(func(location string) (bool, error) {
		return location == "acme.shared-1.0.0", nil
	})
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if _, err := os.Stat(crashed); !os.IsNotExist(err) {
		t.Error("temp folder survived the sweep")
	}
	if _, err := os.Stat(filepath.Join(root, "acme.doomed-1.0.0")); !os.IsNotExist(err) {
		t.Error("unreferenced marked folder survived the sweep")
	}
	if _, err := os.Stat(filepath.Join(root, "acme.shared-1.0.0")); err != nil {
		t.Error("referenced folder was deleted")
	}

	marked, err := s.Ledger().Marked()
	if err != nil {
		t.Fatal(err)
	}
	if marked["acme.doomed-1.0.0"] {
		t.Error("swept folder still marked")
	}
	if !marked["acme.shared-1.0.0"] {
		t.Error("referenced folder lost its mark")
	}
}

func TestCleanupRunsRemovalHooksBeforeDeleting(t *testing.T) {
	root := t.TempDir()
	writeExtension(t, root, "acme.doomed-1.0.0", "acme", "doomed", "1.0.0")
	writeExtension(t, root, "acme.held-1.0.0", "acme", "held", "1.0.0")

	s := New(root)
	if err := s.Ledger().Mark("acme.doomed-1.0.0", "acme.held-1.0.0"); err != nil {
		t.Fatal(err)
	}

	var seen []string
	s.OnBeforeRemove(func(dir string) error {
		seen = append(seen, filepath.Base(dir))
		if filepath.Base(dir) == "acme.held-1.0.0" {
			return os.ErrPermission
		}
		return nil
	})

	if err := s.Cleanup(nil); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if len(seen) != 2 {
		t.Fatalf("hook ran for %v, want both marked folders", seen)
	}
	if _, err := os.Stat(filepath.Join(root, "acme.doomed-1.0.0")); !os.IsNotExist(err) {
		t.Error("approved folder survived the sweep")
	}
	if _, err := os.Stat(filepath.Join(root, "acme.held-1.0.0")); err != nil {
		t.Errorf("refused folder was deleted: %v", err)
	}

	marked, err := s.Ledger().Marked()
	if err != nil {
		t.Fatal(err)
	}
	if !marked["acme.held-1.0.0"] {
		t.Error("refused folder lost its mark")
	}
	if marked["acme.doomed-1.0.0"] {
		t.Error("swept folder still marked")
	}
}

func TestCleanupBackfillsSizes(t *testing.T) {
	root := t.TempDir()
	dir := writeExtension(t, root, "acme.tooling-1.0.0", "acme", "tooling", "1.0.0")
	if err := os.WriteFile(filepath.Join(dir, "extension.js"), []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := SaveMetadata(dir, extension.Metadata{InstalledTimestamp: 42}); err != nil {
		t.Fatal(err)
	}

	s := New(root)
	if err := s.Cleanup(nil); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	md, err := ReadMetadata(dir)
	if err != nil {
		t.Fatal(err)
	}
	if md.Size == 0 {
		t.Error("size was not backfilled")
	}
}
