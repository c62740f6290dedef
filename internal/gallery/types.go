package gallery

import (
	"strings"

	"github.com/extmarket-labs/extmarket/internal/extension"
)

// Asset types served per version record.
const (
	AssetManifest   = "Microsoft.VisualStudio.Code.Manifest"
	AssetPackage    = "Microsoft.VisualStudio.Services.VSIXPackage"
	AssetSignature  = "Microsoft.VisualStudio.Services.VsixSignature"
	AssetIcon       = "Microsoft.VisualStudio.Services.Icons.Default"
	AssetReadme     = "Microsoft.VisualStudio.Services.Content.Details"
	AssetChangelog  = "Microsoft.VisualStudio.Services.Content.Changelog"
	AssetLicense    = "Microsoft.VisualStudio.Services.Content.License"
	AssetRepository = "Microsoft.VisualStudio.Services.Links.Source"
)

// Property keys of the per-version property bag.
const (
	PropertyEngine             = "Microsoft.VisualStudio.Code.Engine"
	PropertyDependencies       = "Microsoft.VisualStudio.Code.ExtensionDependencies"
	PropertyPack               = "Microsoft.VisualStudio.Code.ExtensionPack"
	PropertyPreRelease         = "Microsoft.VisualStudio.Code.PreRelease"
	PropertyAPIProposals       = "Microsoft.VisualStudio.Code.EnabledApiProposals"
	PropertyLocalizedLanguages = "Microsoft.VisualStudio.Code.LocalizedLanguages"
	PropertyExecutesCode       = "Microsoft.VisualStudio.Code.ExecutesCode"
	PropertyPrivate            = "Microsoft.VisualStudio.Services.Private"
	PropertySupportsPreRelease = "Microsoft.VisualStudio.Code.SupportsPreRelease"
)

// RawPublisher is the publisher block of a raw extension record.
type RawPublisher struct {
	PublisherID      string `json:"publisherId"`
	PublisherName    string `json:"publisherName"`
	DisplayName      string `json:"displayName"`
	Domain           string `json:"domain,omitempty"`
	IsDomainVerified bool   `json:"isDomainVerified,omitempty"`
}

// RawAsset is one downloadable file of a version record.
type RawAsset struct {
	AssetType string `json:"assetType"`
	Source    string `json:"source"`
}

// RawProperty is one entry of a version's property bag.
type RawProperty struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RawStatistic is one named counter of an extension record.
type RawStatistic struct {
	Name  string  `json:"statisticName"`
	Value float64 `json:"value"`
}

// RawVersion is a single version record as returned by the server.
type RawVersion struct {
	Version          string                   `json:"version"`
	TargetPlatform   extension.TargetPlatform `json:"targetPlatform,omitempty"`
	LastUpdated      string                   `json:"lastUpdated,omitempty"`
	AssetURI         string                   `json:"assetUri"`
	FallbackAssetURI string                   `json:"fallbackAssetUri"`
	Files            []RawAsset               `json:"files"`
	Properties       []RawProperty            `json:"properties"`
}

// Property returns the value of the given property key, or "".
func (v *RawVersion) Property(key string) string {
	for _, p := range v.Properties {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

// Engine returns the declared engine range, or "".
func (v *RawVersion) Engine() string { return v.Property(PropertyEngine) }

// IsPreRelease reports whether the version is flagged pre-release.
func (v *RawVersion) IsPreRelease() bool {
	return v.Property(PropertyPreRelease) == "true"
}

// APIProposals returns the enabled API proposals of the version.
func (v *RawVersion) APIProposals() []string {
	return splitList(v.Property(PropertyAPIProposals))
}

// Dependencies returns the extension dependencies of the version.
func (v *RawVersion) Dependencies() []string {
	return splitList(v.Property(PropertyDependencies))
}

// Pack returns the extension-pack members of the version.
func (v *RawVersion) Pack() []string {
	return splitList(v.Property(PropertyPack))
}

// IsSigned reports whether the version ships a signature asset.
func (v *RawVersion) IsSigned() bool {
	return v.Asset(AssetSignature) != ""
}

// Asset returns the source URI of the given asset type, or "".
func (v *RawVersion) Asset(assetType string) string {
	for _, f := range v.Files {
		if f.AssetType == assetType {
			return f.Source
		}
	}
	return ""
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RawExtension is an extension record as returned by the server, with
// versions sorted newest-first.
type RawExtension struct {
	ExtensionID      string         `json:"extensionId"`
	ExtensionName    string         `json:"extensionName"`
	DisplayName      string         `json:"displayName"`
	ShortDescription string         `json:"shortDescription,omitempty"`
	Publisher        RawPublisher   `json:"publisher"`
	Versions         []RawVersion   `json:"versions"`
	Statistics       []RawStatistic `json:"statistics,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	Categories       []string       `json:"categories,omitempty"`
	Flags            string         `json:"flags,omitempty"`
	ReleaseDate      string         `json:"releaseDate,omitempty"`
	LastUpdated      string         `json:"lastUpdated,omitempty"`
}

// Identifier derives the extension identifier from the raw record.
func (e *RawExtension) Identifier() extension.Identifier {
	return extension.Identifier{
		ID:   e.Publisher.PublisherName + "." + e.ExtensionName,
		UUID: e.ExtensionID,
	}
}

// HasPreReleaseVersion reports whether any returned version is a
// pre-release build.
func (e *RawExtension) HasPreReleaseVersion() bool {
	for i := range e.Versions {
		if e.Versions[i].IsPreRelease() {
			return true
		}
	}
	return false
}

// HasReleaseVersion reports whether any returned version is a release
// build.
func (e *RawExtension) HasReleaseVersion() bool {
	for i := range e.Versions {
		if !e.Versions[i].IsPreRelease() {
			return true
		}
	}
	return false
}

// AllTargetPlatforms returns the distinct target platforms of the
// newest version number's run of records. Older versions may ship for
// platforms the extension no longer supports.
func (e *RawExtension) AllTargetPlatforms() []extension.TargetPlatform {
	if len(e.Versions) == 0 {
		return nil
	}
	newest := e.Versions[0].Version
	seen := make(map[extension.TargetPlatform]bool)
	var all []extension.TargetPlatform
	for i := range e.Versions {
		if e.Versions[i].Version != newest {
			break
		}
		p := e.Versions[i].TargetPlatform
		if p == "" {
			p = extension.PlatformUndefined
		}
		if !seen[p] {
			seen[p] = true
			all = append(all, p)
		}
	}
	return all
}

// Statistic returns the named statistic, or 0.
func (e *RawExtension) Statistic(name string) float64 {
	for _, s := range e.Statistics {
		if s.Name == name {
			return s.Value
		}
	}
	return 0
}

// Assets is the flattened asset table of a resolved extension. Each
// entry carries a primary URI and a CDN fallback.
type Assets struct {
	Manifest   *Asset
	Readme     *Asset
	Changelog  *Asset
	License    *Asset
	Repository *Asset
	Download   *Asset
	Icon       *Asset
	Signature  *Asset
}

// Asset is a primary/fallback URI pair.
type Asset struct {
	URI      string
	Fallback string
}

// Properties is the flattened property view of a resolved version.
type Properties struct {
	Dependencies       []string
	ExtensionPack      []string
	Engine             string
	PreRelease         bool
	EnabledAPIProposals []string
	LocalizedLanguages []string
	Private            bool
	ExecutesCode       bool
}

// Extension is a raw extension flattened onto one chosen version.
type Extension struct {
	Identifier           extension.Identifier
	Name                 string
	DisplayName          string
	PublisherID          string
	PublisherName        string
	PublisherDisplayName string
	Description          string
	Version              string
	TargetPlatform       extension.TargetPlatform
	Assets               Assets
	Properties           Properties
	AllTargetPlatforms   []extension.TargetPlatform
	HasPreReleaseVersion bool
	HasReleaseVersion    bool
	IsSigned             bool
	InstallCount         float64
	Categories           []string
	Tags                 []string

	// QueryContext correlates results with the originating query for
	// telemetry. Never used for logic.
	QueryContext string
}

// Key derives the on-disk identity of the resolved version.
func (e *Extension) Key() extension.Key {
	return extension.NewKey(e.Identifier, e.Version, e.TargetPlatform)
}

// assetPair resolves an asset type to its primary/fallback URI pair,
// or nil when the version does not ship it.
func assetPair(version *RawVersion, assetType string) *Asset {
	path := version.Asset(assetType)
	if path == "" {
		return nil
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return &Asset{URI: path, Fallback: path}
	}
	return &Asset{
		URI:      version.AssetURI + "/" + path,
		Fallback: version.FallbackAssetURI + "/" + path,
	}
}

// newExtension flattens a raw record onto the chosen version.
func newExtension(raw *RawExtension, version *RawVersion, queryContext string) *Extension {
	asset := func(assetType string) *Asset {
		return assetPair(version, assetType)
	}

	platform := version.TargetPlatform
	if platform == "" {
		platform = extension.PlatformUndefined
	}

	return &Extension{
		Identifier:           raw.Identifier(),
		Name:                 raw.ExtensionName,
		DisplayName:          raw.DisplayName,
		PublisherID:          raw.Publisher.PublisherID,
		PublisherName:        raw.Publisher.PublisherName,
		PublisherDisplayName: raw.Publisher.DisplayName,
		Description:          raw.ShortDescription,
		Version:              version.Version,
		TargetPlatform:       platform,
		Assets: Assets{
			Manifest:   asset(AssetManifest),
			Readme:     asset(AssetReadme),
			Changelog:  asset(AssetChangelog),
			License:    asset(AssetLicense),
			Repository: asset(AssetRepository),
			Download:   asset(AssetPackage),
			Icon:       asset(AssetIcon),
			Signature:  asset(AssetSignature),
		},
		Properties: Properties{
			Dependencies:        version.Dependencies(),
			ExtensionPack:       version.Pack(),
			Engine:              version.Engine(),
			PreRelease:          version.IsPreRelease(),
			EnabledAPIProposals: version.APIProposals(),
			LocalizedLanguages:  splitList(version.Property(PropertyLocalizedLanguages)),
			Private:             version.Property(PropertyPrivate) == "true",
			ExecutesCode:        version.Property(PropertyExecutesCode) == "true",
		},
		AllTargetPlatforms:   raw.AllTargetPlatforms(),
		HasPreReleaseVersion: raw.HasPreReleaseVersion(),
		HasReleaseVersion:    raw.HasReleaseVersion(),
		IsSigned:             version.IsSigned(),
		InstallCount:         raw.Statistic("install"),
		Categories:           raw.Categories,
		Tags:                 raw.Tags,
		QueryContext:         queryContext,
	}
}
