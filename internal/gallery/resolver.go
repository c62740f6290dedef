package gallery

import (
	"context"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/extmarket-labs/extmarket/internal/config"
	"github.com/extmarket-labs/extmarket/internal/extension"
)

// VersionKind distinguishes "newest stable" from "newest including
// pre-release" resolution.
type VersionKind int

const (
	KindRelease VersionKind = iota
	KindPrerelease
	KindLatest
)

// Criteria describes what the caller considers an acceptable version.
type Criteria struct {
	TargetPlatform extension.TargetPlatform
	Kind           VersionKind

	// Version, when set, requires that exact version string.
	Version string

	// Compatible additionally gates on publisher policy, API-proposal
	// support, and engine validity against the product version.
	Compatible bool

	// APIProposals lists the proposals the product supports. Empty
	// means unrestricted.
	APIProposals []string
}

// ManifestFetcher downloads a version's manifest asset. The resolver
// needs it only when a version record carries no engine property.
type ManifestFetcher func(ctx context.Context, raw *RawExtension, version *RawVersion) (*extension.Manifest, error)

// Resolver selects a version record satisfying a compatibility
// criteria.
type Resolver struct {
	policy         *config.Policy
	productVersion string
	fetchManifest  ManifestFetcher
}

// NewResolver builds a resolver. policy may be nil; fetchManifest may
// be nil when callers never resolve engine-less records compatibly.
func NewResolver(policy *config.Policy, productVersion string, fetchManifest ManifestFetcher) *Resolver {
	if policy == nil {
		policy = &config.Policy{}
	}
	return &Resolver{
		policy:         policy,
		productVersion: productVersion,
		fetchManifest:  fetchManifest,
	}
}

// SelectVersion walks the server-ordered version list and returns the
// first record satisfying the criteria, or nil when nothing does. When
// neither an exact version nor compatibility was demanded, the newest
// version is returned unconditionally as a discovery fallback — even
// though it may be incompatible with the caller's platform.
func (r *Resolver) SelectVersion(ctx context.Context, raw *RawExtension, c Criteria) (*RawVersion, error) {
	if len(raw.Versions) == 0 {
		return nil, nil
	}

	versions := sortByPreferredPlatform(raw.Versions, c.TargetPlatform)
	all := raw.AllTargetPlatforms()

	// A caller on the web can only ever run a web build.
	if c.Compatible && c.TargetPlatform == extension.PlatformWeb && !hasWebBuild(versions) {
		return nil, nil
	}

	for i := range versions {
		ok, err := r.isValidVersion(ctx, raw, &versions[i], c, all)
		if err != nil {
			return nil, err
		}
		if ok {
			return &versions[i], nil
		}
	}

	if c.Version != "" || c.Compatible {
		return nil, nil
	}

	// Nothing matched and the caller asked for no guarantees: show the
	// newest version rather than nothing.
	return &versions[0], nil
}

func (r *Resolver) isValidVersion(ctx context.Context, raw *RawExtension, v *RawVersion, c Criteria, all []extension.TargetPlatform) (bool, error) {
	if c.Kind == KindPrerelease && !supportsPreRelease(raw) {
		return false, nil
	}

	if r.policy.Excluded(raw.Identifier().ID, v.Version) {
		return false, nil
	}

	if c.Version != "" {
		if v.Version != c.Version {
			return false, nil
		}
	} else if c.Kind != KindLatest && v.IsPreRelease() != (c.Kind == KindPrerelease) {
		return false, nil
	}

	if c.TargetPlatform != extension.PlatformUnknown && c.TargetPlatform != "" {
		platform := v.TargetPlatform
		if platform == "" {
			platform = extension.PlatformUndefined
		}
		if !extension.PlatformCompatible(platform, all, c.TargetPlatform) {
			return false, nil
		}
	}

	if c.Compatible {
		if !r.policy.PublisherAllowed(raw.Publisher.PublisherName) {
			return false, nil
		}
		if !proposalsCompatible(v.APIProposals(), c.APIProposals) {
			return false, nil
		}
		valid, err := r.isEngineValid(ctx, raw, v)
		if err != nil {
			return false, err
		}
		if !valid {
			return false, nil
		}
	}

	return true, nil
}

// isEngineValid checks the version's declared engine range against the
// product version. Records without an engine property require fetching
// the manifest asset.
func (r *Resolver) isEngineValid(ctx context.Context, raw *RawExtension, v *RawVersion) (bool, error) {
	engine := v.Engine()
	if engine == "" {
		if r.fetchManifest == nil {
			return false, nil
		}
		manifest, err := r.fetchManifest(ctx, raw, v)
		if err != nil {
			return false, err
		}
		engine = manifest.Engine()
	}
	return engineMatches(engine, r.productVersion), nil
}

// engineMatches reports whether a product version satisfies an engine
// range expression. Unparseable expressions never match.
func engineMatches(engine, productVersion string) bool {
	engine = strings.TrimSpace(engine)
	if engine == "" || engine == "*" {
		return true
	}
	constraint, err := semver.NewConstraint(engine)
	if err != nil {
		return false
	}
	product, err := semver.NewVersion(strings.TrimPrefix(productVersion, "v"))
	if err != nil {
		return false
	}
	return constraint.Check(product)
}

// proposalsCompatible reports whether every proposal the version needs
// is supported by the product. An empty supported list is unrestricted.
func proposalsCompatible(needed, supported []string) bool {
	if len(needed) == 0 || len(supported) == 0 {
		return true
	}
	set := make(map[string]bool, len(supported))
	for _, p := range supported {
		set[p] = true
	}
	for _, p := range needed {
		if !set[p] {
			return false
		}
	}
	return true
}

// supportsPreRelease reports whether the publisher ships pre-release
// builds of this extension at all.
func supportsPreRelease(raw *RawExtension) bool {
	for i := range raw.Versions {
		if raw.Versions[i].Property(PropertySupportsPreRelease) == "true" {
			return true
		}
	}
	return raw.HasPreReleaseVersion()
}

func hasWebBuild(versions []RawVersion) bool {
	for i := range versions {
		if versions[i].TargetPlatform == extension.PlatformWeb {
			return true
		}
	}
	return false
}

// sortByPreferredPlatform floats the record matching the preferred
// platform to the front of its run of equal version numbers. The order
// across distinct version numbers — and among the other records of each
// run — is untouched.
func sortByPreferredPlatform(versions []RawVersion, preferred extension.TargetPlatform) []RawVersion {
	out := make([]RawVersion, 0, len(versions))
	if preferred == "" || preferred == extension.PlatformUnknown {
		return append(out, versions...)
	}

	for i := 0; i < len(versions); {
		j := i
		for j < len(versions) && versions[j].Version == versions[i].Version {
			j++
		}
		run := versions[i:j]

		found := -1
		for k := range run {
			if run[k].TargetPlatform == preferred {
				found = k
				break
			}
		}
		if found > 0 {
			out = append(out, run[found])
			out = append(out, run[:found]...)
			out = append(out, run[found+1:]...)
		} else {
			out = append(out, run...)
		}
		i = j
	}
	return out
}
