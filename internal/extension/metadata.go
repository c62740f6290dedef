package extension

// Source records how an extension arrived on disk.
type Source string

const (
	SourceGallery  Source = "gallery"
	SourceVSIX     Source = "vsix"
	SourceResource Source = "resource"
)

// Metadata is the per-profile install record kept beside an extension.
// Boolean fields that are false marshal as absent, so "unset" and
// "explicitly false" are indistinguishable on disk.
type Metadata struct {
	ID                   string         `json:"id,omitempty"`
	PublisherID          string         `json:"publisherId,omitempty"`
	PublisherDisplayName string         `json:"publisherDisplayName,omitempty"`
	InstalledTimestamp   int64          `json:"installedTimestamp,omitempty"`
	Size                 int64          `json:"size,omitempty"`
	TargetPlatform       TargetPlatform `json:"targetPlatform,omitempty"`
	Source               Source         `json:"source,omitempty"`
	Pinned               bool           `json:"pinned,omitempty"`
	PreRelease           bool           `json:"preRelease,omitempty"`
	HasPreReleaseVersion bool           `json:"hasPreReleaseVersion,omitempty"`
	IsMachineScoped      bool           `json:"isMachineScoped,omitempty"`
	IsApplicationScoped  bool           `json:"isApplicationScoped,omitempty"`
	Private              bool           `json:"private,omitempty"`
}

// Merge overlays update onto m, field by field. Zero values in update
// leave the existing value in place; booleans accumulate and are never
// cleared by a merge.
func (m Metadata) Merge(update Metadata) Metadata {
	out := m
	if update.ID != "" {
		out.ID = update.ID
	}
	if update.PublisherID != "" {
		out.PublisherID = update.PublisherID
	}
	if update.PublisherDisplayName != "" {
		out.PublisherDisplayName = update.PublisherDisplayName
	}
	if update.InstalledTimestamp != 0 {
		out.InstalledTimestamp = update.InstalledTimestamp
	}
	if update.Size != 0 {
		out.Size = update.Size
	}
	if update.TargetPlatform != "" {
		out.TargetPlatform = update.TargetPlatform
	}
	if update.Source != "" {
		out.Source = update.Source
	}
	out.Pinned = out.Pinned || update.Pinned
	out.PreRelease = out.PreRelease || update.PreRelease
	out.HasPreReleaseVersion = out.HasPreReleaseVersion || update.HasPreReleaseVersion
	out.IsMachineScoped = out.IsMachineScoped || update.IsMachineScoped
	out.IsApplicationScoped = out.IsApplicationScoped || update.IsApplicationScoped
	out.Private = out.Private || update.Private
	return out
}

// Type distinguishes bundled system extensions from user installs.
type Type string

const (
	TypeSystem Type = "system"
	TypeUser   Type = "user"
)

// Local is an extension present on disk.
type Local struct {
	Identifier Identifier
	Type       Type
	Manifest   *Manifest
	Location   string
	Metadata   Metadata
}

// Key derives the on-disk identity of a local extension.
func (l *Local) Key() Key {
	return NewKey(l.Identifier, l.Manifest.Version, l.Metadata.TargetPlatform)
}

// Version is a convenience accessor for the manifest version.
func (l *Local) Version() string { return l.Manifest.Version }
