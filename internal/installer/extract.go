// Package installer turns resolved gallery extensions and local VSIX
// archives into extracted, metadata-carrying folders under the
// extensions root, and orchestrates install and uninstall tasks over
// the profile membership store.
package installer

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/extmarket-labs/extmarket/internal/extension"
	"github.com/extmarket-labs/extmarket/internal/gallery"
	"github.com/extmarket-labs/extmarket/internal/scanner"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// archivePrefix is the folder inside a VSIX that holds the extension
// payload; everything else in the archive is packaging metadata.
const archivePrefix = "extension/"

// renameRetryWindow bounds how long a promote rename keeps retrying
// transient failures. Shortened in tests.
var renameRetryWindow = 2 * time.Minute

// Hooks observe the phases of one extraction.
type Hooks struct {
	State    func(State)
	Progress gallery.ProgressFunc
}

func (h Hooks) state(s State) {
	if h.State != nil {
		h.State(s)
	}
}

// Coordinator serializes extraction per on-disk key: concurrent
// requests for the same key share one download and one extraction.
type Coordinator struct {
	scanner *scanner.Scanner
	gallery *gallery.Service
	sig     SignatureOptions
	group   singleflight.Group

	mu       sync.Mutex
	promoted []func(folder string)
}

// NewCoordinator builds a coordinator over the given extensions root.
func NewCoordinator(sc *scanner.Scanner, g *gallery.Service, sig SignatureOptions) *Coordinator {
	return &Coordinator{scanner: sc, gallery: g, sig: sig}
}

// OnPromoted registers an observer called with the folder name of every
// extraction that reaches the extensions root. The watcher uses it to
// pre-acknowledge folders this process creates.
func (c *Coordinator) OnPromoted(fn func(folder string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.promoted = append(c.promoted, fn)
}

func (c *Coordinator) notifyPromoted(folder string) {
	c.mu.Lock()
	handlers := append([]func(string){}, c.promoted...)
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(folder)
	}
}

// Extract downloads, verifies, and extracts a resolved gallery
// extension. The result is the scanned local extension at its final
// location.
func (c *Coordinator) Extract(ctx context.Context, ext *gallery.Extension, hooks Hooks) (*extension.Local, error) {
	key := ext.Key()
	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		return c.extract(ctx, ext, key, hooks)
	})
	if err != nil {
		return nil, err
	}
	return v.(*extension.Local), nil
}

func (c *Coordinator) extract(ctx context.Context, ext *gallery.Extension, key extension.Key, hooks Hooks) (*extension.Local, error) {
	root := c.scanner.Root()
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating extensions root: %w", err)
	}

	target := filepath.Join(root, key.String())
	if local, err := c.scanner.ScanLocation(target); err == nil {
		return local, nil
	}

	hooks.state(StateDownloading)
	archive := filepath.Join(root, "."+uuid.NewString()+".vsix")
	if err := c.gallery.DownloadAssetToFile(ctx, ext.Assets.Download, archive, hooks.Progress); err != nil {
		return nil, err
	}
	defer os.Remove(archive)

	hooks.state(StateVerifying)
	if err := c.verify(ctx, ext, archive); err != nil {
		os.Remove(archive)
		return nil, err
	}

	hooks.state(StateExtracting)
	sidecar := extension.Metadata{
		ID:                   ext.Identifier.UUID,
		PublisherID:          ext.PublisherID,
		PublisherDisplayName: ext.PublisherDisplayName,
		TargetPlatform:       key.TargetPlatform,
		Source:               extension.SourceGallery,
	}
	return c.extractArchive(ctx, archive, target, sidecar)
}

// ExtractLocal extracts a VSIX archive already on disk. No download, no
// signature gate.
func (c *Coordinator) ExtractLocal(ctx context.Context, archive string, key extension.Key, hooks Hooks) (*extension.Local, error) {
	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		root := c.scanner.Root()
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, fmt.Errorf("creating extensions root: %w", err)
		}

		hooks.state(StateExtracting)
		target := filepath.Join(root, key.String())
		sidecar := extension.Metadata{
			TargetPlatform: key.TargetPlatform,
			Source:         extension.SourceVSIX,
		}
		return c.extractArchive(ctx, archive, target, sidecar)
	})
	if err != nil {
		return nil, err
	}
	return v.(*extension.Local), nil
}

// verify runs the signature gate over a downloaded archive.
func (c *Coordinator) verify(ctx context.Context, ext *gallery.Extension, archive string) error {
	if !ext.IsSigned {
		if c.sig.Required && !c.sig.AllowUnsigned {
			return extension.Errorf(extension.ErrSignatureVerificationFailed,
				"%s %s is unsigned and unsigned installs are disabled", ext.Identifier.ID, ext.Version)
		}
		return nil
	}

	signature := filepath.Join(c.scanner.Root(), "."+uuid.NewString()+".sigzip")
	if err := c.gallery.DownloadAssetToFile(ctx, ext.Assets.Signature, signature, nil); err != nil {
		return extension.NewError(extension.ErrSignatureVerificationInternal, err)
	}
	defer os.Remove(signature)

	return VerifySignature(archive, signature)
}

// extractArchive unpacks an archive into a dot-prefixed temp directory,
// writes the metadata sidecar, and promotes the result to target. The
// unpacked manifest must pass schema validation before anything is
// promoted.
func (c *Coordinator) extractArchive(ctx context.Context, archive, target string, sidecar extension.Metadata) (*extension.Local, error) {
	root := c.scanner.Root()
	tmp := filepath.Join(root, "."+uuid.NewString())
	if err := unpackVSIX(archive, tmp); err != nil {
		os.RemoveAll(tmp)
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(tmp, extension.ManifestFileName))
	if err != nil {
		os.RemoveAll(tmp)
		return nil, extension.Errorf(extension.ErrInvalid, "archive payload has no %s", extension.ManifestFileName)
	}
	if err := validateManifest(data); err != nil {
		os.RemoveAll(tmp)
		return nil, err
	}

	size, err := scanner.DirSize(tmp)
	if err != nil {
		os.RemoveAll(tmp)
		return nil, err
	}
	sidecar.Size = size
	sidecar.InstalledTimestamp = time.Now().UnixMilli()
	if err := scanner.SaveMetadata(tmp, sidecar); err != nil {
		os.RemoveAll(tmp)
		return nil, extension.NewError(extension.ErrUpdateMetadata, err)
	}

	if err := promote(ctx, tmp, target); err != nil {
		os.RemoveAll(tmp)
		return nil, extension.NewError(extension.ErrRename, err)
	}
	c.notifyPromoted(filepath.Base(target))

	local, err := c.scanner.ScanLocation(target)
	if err != nil {
		return nil, extension.NewError(extension.ErrScanning, err)
	}
	return local, nil
}

// promote renames the temp extraction to its final folder, retrying
// transient failures. A target that already exists means another writer
// finished first; the temp copy is discarded and the promote succeeds.
func promote(ctx context.Context, tmp, target string) error {
	deadline := time.Now().Add(renameRetryWindow)
	for {
		err := os.Rename(tmp, target)
		if err == nil {
			return nil
		}
		if errors.Is(err, fs.ErrExist) || errors.Is(err, syscall.ENOTEMPTY) {
			os.RemoveAll(tmp)
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// unpackVSIX extracts the extension payload of a VSIX into dest.
func unpackVSIX(archive, dest string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return extension.Errorf(extension.ErrInvalid, "opening archive: %v", err)
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("creating extraction directory: %w", err)
	}

	for _, f := range r.File {
		if !strings.HasPrefix(f.Name, archivePrefix) || f.Name == archivePrefix {
			continue
		}
		rel := filepath.FromSlash(strings.TrimPrefix(f.Name, archivePrefix))

		// Reject entries that escape the destination.
		path := filepath.Join(dest, rel)
		if !strings.HasPrefix(path, filepath.Clean(dest)+string(os.PathSeparator)) {
			return extension.Errorf(extension.ErrInvalid, "archive entry %q escapes the extraction directory", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0755); err != nil {
				return fmt.Errorf("creating directory: %w", err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
		if err := writeZipEntry(f, path); err != nil {
			return err
		}
	}
	return nil
}

func writeZipEntry(f *zip.File, path string) error {
	rc, err := f.Open()
	if err != nil {
		return extension.Errorf(extension.ErrInvalid, "opening archive entry: %v", err)
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating extracted file: %w", err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extracting file: %w", err)
	}
	return out.Close()
}

// validateManifest checks manifest bytes against the embedded schema.
// Schema violations reject the archive before anything is attached.
func validateManifest(data []byte) error {
	issues, err := extension.ValidateManifest(data)
	if err != nil {
		return extension.Errorf(extension.ErrInvalid, "validating manifest: %v", err)
	}
	if len(issues) > 0 {
		issue := issues[0]
		return extension.Errorf(extension.ErrInvalid, "manifest rejected by schema at %q: %s", issue.Path, issue.Message)
	}
	return nil
}

// ReadVSIXManifest parses the package manifest out of a VSIX archive
// without extracting it. The manifest must pass schema validation.
func ReadVSIXManifest(archive string) (*extension.Manifest, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return nil, extension.Errorf(extension.ErrInvalid, "opening archive: %v", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != archivePrefix+extension.ManifestFileName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, extension.Errorf(extension.ErrInvalid, "opening archive manifest: %v", err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, extension.Errorf(extension.ErrInvalid, "reading archive manifest: %v", err)
		}
		if err := validateManifest(data); err != nil {
			return nil, err
		}
		return extension.ParseManifest(data)
	}
	return nil, extension.Errorf(extension.ErrInvalid, "archive has no %s", archivePrefix+extension.ManifestFileName)
}
