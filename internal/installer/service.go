package installer

import (
	"context"
	"path/filepath"
	"time"

	"github.com/extmarket-labs/extmarket/internal/extension"
	"github.com/extmarket-labs/extmarket/internal/gallery"
	"github.com/extmarket-labs/extmarket/internal/profile"
	"github.com/extmarket-labs/extmarket/internal/scanner"
)

// State is the phase an install task is in.
type State string

const (
	StatePending       State = "pending"
	StateDownloading   State = "downloading"
	StateVerifying     State = "verifying"
	StateExtracting    State = "extracting"
	StateMetadataMerge State = "merging-metadata"
	StateProfileAttach State = "attaching-to-profile"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// Operation classifies what an install task turned out to be.
type Operation string

const (
	OperationInstall Operation = "install"
	OperationUpdate  Operation = "update"
)

// Options tunes one install task.
type Options struct {
	// Profile receives the extension; empty means the default profile.
	Profile string

	// Version pins an exact version. Pinning implies the pre-release
	// channel is acceptable and marks the install pinned.
	Version string

	// PreRelease asks for the pre-release channel.
	PreRelease bool

	// Pinned marks the install excluded from automatic updates.
	Pinned bool

	// State observes task phase transitions.
	State func(State)

	// Progress observes the download.
	Progress gallery.ProgressFunc
}

func (o Options) state(s State) {
	if o.State != nil {
		o.State(s)
	}
}

// Result describes a finished install task.
type Result struct {
	Local     *extension.Local
	Operation Operation
}

// Service runs install and uninstall tasks.
type Service struct {
	scanner  *scanner.Scanner
	profiles *profile.Store
	gallery  *gallery.Service
	coord    *Coordinator
}

// New wires an install service.
func New(sc *scanner.Scanner, profiles *profile.Store, g *gallery.Service, coord *Coordinator) *Service {
	return &Service{scanner: sc, profiles: profiles, gallery: g, coord: coord}
}

// Install resolves, extracts, and attaches an extension to a profile.
func (s *Service) Install(ctx context.Context, id extension.Identifier, opts Options) (*Result, error) {
	opts.state(StatePending)
	res, err := s.install(ctx, id, opts)
	if err != nil {
		opts.state(StateFailed)
		return nil, err
	}
	opts.state(StateDone)
	return res, nil
}

func (s *Service) install(ctx context.Context, id extension.Identifier, opts Options) (*Result, error) {
	profileName := opts.Profile
	if profileName == "" {
		profileName = profile.DefaultProfile
	}
	if err := s.profiles.EnsureDefault(); err != nil {
		return nil, err
	}

	existing, err := s.membership(profileName, id)
	if err != nil {
		return nil, err
	}
	operation := OperationInstall
	if existing != nil {
		operation = OperationUpdate
	}

	// A pinned version implies the pre-release channel is acceptable;
	// otherwise the channel is inherited from the previous install.
	preRelease := opts.PreRelease || opts.Version != ""
	if !preRelease && existing != nil {
		preRelease = existing.Metadata.PreRelease
	}

	ext, err := s.gallery.GetCompatibleVersion(ctx, id, preRelease, opts.Version)
	if err != nil {
		return nil, err
	}
	if ext == nil {
		return nil, extension.Errorf(extension.ErrInvalid,
			"no version of %s is compatible with this product", id.ID)
	}

	// Reinstalling the version already attached is a metadata-only
	// update.
	if existing != nil && existing.Version == ext.Version {
		if local, err := s.scanner.ScanLocation(filepath.Join(s.scanner.Root(), existing.Location)); err == nil {
			return s.finish(ctx, local, ext, existing, profileName, operation, opts)
		}
	}

	local, err := s.materialize(ctx, ext, opts)
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, local, ext, existing, profileName, operation, opts)
}

// materialize puts the resolved version on disk: a ledger-marked copy
// is revived in place, anything else goes through the coordinator.
func (s *Service) materialize(ctx context.Context, ext *gallery.Extension, opts Options) (*extension.Local, error) {
	folder := ext.Key().String()

	marked, err := s.scanner.Ledger().Marked()
	if err != nil {
		return nil, extension.NewError(extension.ErrReadRemoved, err)
	}
	if marked[folder] {
		if err := s.scanner.Ledger().Unmark(folder); err != nil {
			return nil, extension.NewError(extension.ErrUnsetRemoved, err)
		}
		local, err := s.scanner.ScanLocation(filepath.Join(s.scanner.Root(), folder))
		if err == nil {
			return local, nil
		}
		// The marked copy is gone or unreadable; fall through to a
		// fresh extraction.
	}

	return s.coord.Extract(ctx, ext, Hooks{State: opts.State, Progress: opts.Progress})
}

// finish merges metadata, attaches the extension to the profile, and
// schedules the superseded copy for removal.
func (s *Service) finish(ctx context.Context, local *extension.Local, ext *gallery.Extension, existing *profile.Membership, profileName string, operation Operation, opts Options) (*Result, error) {
	opts.state(StateMetadataMerge)
	merged := local.Metadata.Merge(extension.Metadata{
		ID:                   ext.Identifier.UUID,
		PublisherID:          ext.PublisherID,
		PublisherDisplayName: ext.PublisherDisplayName,
		Source:               extension.SourceGallery,
		PreRelease:           ext.Properties.PreRelease,
		HasPreReleaseVersion: ext.HasPreReleaseVersion,
		Pinned:               opts.Pinned || opts.Version != "",
	})
	if existing != nil {
		merged = existing.Metadata.Merge(merged)
	}
	if merged.InstalledTimestamp == 0 {
		merged.InstalledTimestamp = time.Now().UnixMilli()
	}
	if err := scanner.SaveMetadata(local.Location, merged); err != nil {
		return nil, extension.NewError(extension.ErrUpdateMetadata, err)
	}
	local.Metadata = merged
	local.Identifier.UUID = merged.ID

	opts.state(StateProfileAttach)
	folder := filepath.Base(local.Location)
	err := s.profiles.Add(profileName, profile.Membership{
		Identifier: local.Identifier,
		Version:    local.Version(),
		Location:   folder,
		Metadata:   merged,
	})
	if err != nil {
		// Roll back: the fresh folder must not linger as an orphan.
		if existing == nil || existing.Location != folder {
			_ = s.scanner.Ledger().Mark(folder)
		}
		return nil, extension.NewError(extension.ErrAddToProfile, err)
	}

	// The superseded version is only scheduled; the sweep deletes it
	// once no profile references it.
	if existing != nil && existing.Location != folder {
		_ = s.scanner.Ledger().Mark(existing.Location)
	}

	s.gallery.ReportStatistic(ctx, local.Identifier, local.Version(), "install")
	return &Result{Local: local, Operation: operation}, nil
}

// InstallFromVSIX installs a local archive. The signature gate is
// skipped; the archive's own manifest provides the identity.
func (s *Service) InstallFromVSIX(ctx context.Context, archive string, opts Options) (*Result, error) {
	opts.state(StatePending)

	manifest, err := ReadVSIXManifest(archive)
	if err != nil {
		opts.state(StateFailed)
		return nil, err
	}

	profileName := opts.Profile
	if profileName == "" {
		profileName = profile.DefaultProfile
	}
	if err := s.profiles.EnsureDefault(); err != nil {
		opts.state(StateFailed)
		return nil, err
	}

	id := manifest.Identifier()
	key := extension.NewKey(id, manifest.Version, extension.PlatformUndefined)
	folder := key.String()

	// Reinstalling a version whose folder is pending deletion cannot be
	// completed until the sweep has run.
	marked, err := s.scanner.Ledger().Marked()
	if err != nil {
		opts.state(StateFailed)
		return nil, extension.NewError(extension.ErrReadRemoved, err)
	}
	if marked[folder] {
		opts.state(StateFailed)
		return nil, extension.Errorf(extension.ErrInvalid,
			"%s %s is scheduled for removal; restart to finish the pending uninstall, then retry", id.ID, manifest.Version)
	}

	existing, err := s.membership(profileName, id)
	if err != nil {
		opts.state(StateFailed)
		return nil, err
	}
	operation := OperationInstall
	if existing != nil {
		operation = OperationUpdate
	}

	local, err := s.coord.ExtractLocal(ctx, archive, key, Hooks{State: opts.State, Progress: opts.Progress})
	if err != nil {
		opts.state(StateFailed)
		return nil, err
	}

	opts.state(StateProfileAttach)
	err = s.profiles.Add(profileName, profile.Membership{
		Identifier: local.Identifier,
		Version:    local.Version(),
		Location:   filepath.Base(local.Location),
		Metadata:   local.Metadata,
	})
	if err != nil {
		opts.state(StateFailed)
		return nil, extension.NewError(extension.ErrAddToProfile, err)
	}
	if existing != nil && existing.Location != filepath.Base(local.Location) {
		_ = s.scanner.Ledger().Mark(existing.Location)
	}

	opts.state(StateDone)
	return &Result{Local: local, Operation: operation}, nil
}

// Uninstall detaches an extension from a profile and schedules its
// folder for removal. The physical delete happens on the next sweep,
// and only if no other profile still references the folder.
func (s *Service) Uninstall(ctx context.Context, id extension.Identifier, profileName string) error {
	if profileName == "" {
		profileName = profile.DefaultProfile
	}

	removed, err := s.profiles.Remove(profileName, id)
	if err != nil {
		return err
	}
	if removed == nil {
		return extension.Errorf(extension.ErrInstalledExtensionNotFound,
			"%s is not installed in profile %s", id.ID, profileName)
	}

	if err := s.scanner.Ledger().Mark(removed.Location); err != nil {
		return err
	}
	s.gallery.ReportStatistic(ctx, id, removed.Version, "uninstall")
	return nil
}

// Update reinstalls an extension on its current channel. It fails when
// the extension is not installed.
func (s *Service) Update(ctx context.Context, id extension.Identifier, opts Options) (*Result, error) {
	profileName := opts.Profile
	if profileName == "" {
		profileName = profile.DefaultProfile
	}
	existing, err := s.membership(profileName, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, extension.Errorf(extension.ErrInstalledExtensionNotFound,
			"%s is not installed in profile %s", id.ID, profileName)
	}
	if existing.Metadata.Pinned && opts.Version == "" {
		return nil, extension.Errorf(extension.ErrInvalid,
			"%s is pinned to %s; pass an explicit version to move it", id.ID, existing.Version)
	}
	return s.Install(ctx, id, opts)
}

func (s *Service) membership(profileName string, id extension.Identifier) (*profile.Membership, error) {
	members, err := s.profiles.Extensions(profileName)
	if err != nil {
		return nil, err
	}
	for i := range members {
		if members[i].Identifier.Same(id) {
			return &members[i], nil
		}
	}
	return nil, nil
}
