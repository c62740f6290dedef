package gallery

import (
	"context"
	"testing"

	"github.com/extmarket-labs/extmarket/internal/config"
	"github.com/extmarket-labs/extmarket/internal/extension"
)

func version(v string, platform extension.TargetPlatform, props ...RawProperty) RawVersion {
	return RawVersion{
		Version:        v,
		TargetPlatform: platform,
		Properties:     props,
	}
}

func engineProp(engine string) RawProperty {
	return RawProperty{Key: PropertyEngine, Value: engine}
}

func preReleaseProp() RawProperty {
	return RawProperty{Key: PropertyPreRelease, Value: "true"}
}

func rawExtension(versions ...RawVersion) *RawExtension {
	return &RawExtension{
		ExtensionID:   "uuid-1",
		ExtensionName: "tooling",
		Publisher:     RawPublisher{PublisherName: "acme", DisplayName: "Acme"},
		Versions:      versions,
	}
}

func newTestResolver() *Resolver {
	return NewResolver(nil, "1.90.0", nil)
}

func TestSortByPreferredPlatformStableReorder(t *testing.T) {
	versions := []RawVersion{
		version("2.0.0", extension.PlatformWin32X64),
		version("2.0.0", extension.PlatformLinuxX64),
		version("2.0.0", extension.PlatformDarwinARM64),
		version("1.0.0", extension.PlatformWin32X64),
		version("1.0.0", extension.PlatformLinuxX64),
	}

	sorted := sortByPreferredPlatform(versions, extension.PlatformLinuxX64)

	wantPlatforms := []extension.TargetPlatform{
		extension.PlatformLinuxX64, extension.PlatformWin32X64, extension.PlatformDarwinARM64,
		extension.PlatformLinuxX64, extension.PlatformWin32X64,
	}
	wantVersions := []string{"2.0.0", "2.0.0", "2.0.0", "1.0.0", "1.0.0"}
	for i := range sorted {
		if sorted[i].Version != wantVersions[i] || sorted[i].TargetPlatform != wantPlatforms[i] {
			t.Errorf("sorted[%d] = %s/%s, want %s/%s",
				i, sorted[i].Version, sorted[i].TargetPlatform, wantVersions[i], wantPlatforms[i])
		}
	}

	// Original slice untouched.
	if versions[0].TargetPlatform != extension.PlatformWin32X64 {
		t.Error("input slice was mutated")
	}
}

func TestSelectVersionExactOrNil(t *testing.T) {
	raw := rawExtension(
		version("2.0.0", "", engineProp("*")),
		version("1.5.0", "", engineProp("*")),
	)
	r := newTestResolver()

	got, err := r.SelectVersion(context.Background(), raw, Criteria{Version: "1.5.0"})
	if err != nil {
		t.Fatalf("SelectVersion: %v", err)
	}
	if got == nil || got.Version != "1.5.0" {
		t.Fatalf("SelectVersion = %+v, want 1.5.0", got)
	}

	got, err = r.SelectVersion(context.Background(), raw, Criteria{Version: "1.4.0"})
	if err != nil {
		t.Fatalf("SelectVersion: %v", err)
	}
	if got != nil {
		t.Errorf("SelectVersion for absent version = %q, want nil", got.Version)
	}
}

func TestSelectVersionRejectsPreReleaseWhenReleaseWanted(t *testing.T) {
	// Scenario: the only available version is a pre-release, the caller
	// wants a compatible release. The resolver must return nothing, not
	// the pre-release.
	raw := rawExtension(
		version("1.1.0", "", engineProp("^1.0.0"), preReleaseProp()),
	)
	r := newTestResolver()

	got, err := r.SelectVersion(context.Background(), raw, Criteria{
		Kind:       KindRelease,
		Compatible: true,
	})
	if err != nil {
		t.Fatalf("SelectVersion: %v", err)
	}
	if got != nil {
		t.Errorf("SelectVersion = %q, want nil", got.Version)
	}
}

func TestSelectVersionDiscoveryFallbackReturnsNewest(t *testing.T) {
	// Observed behavior, deliberately preserved: with no compatibility
	// and no exact version requested, a list where nothing matches the
	// wanted channel still yields the newest version — even an
	// incompatible one.
	raw := rawExtension(
		version("1.1.0", "", preReleaseProp()),
	)
	r := newTestResolver()

	got, err := r.SelectVersion(context.Background(), raw, Criteria{Kind: KindRelease})
	if err != nil {
		t.Fatalf("SelectVersion: %v", err)
	}
	if got == nil || got.Version != "1.1.0" {
		t.Errorf("SelectVersion = %+v, want fallback to 1.1.0", got)
	}
}

func TestSelectVersionWebRequiresWebBuild(t *testing.T) {
	raw := rawExtension(
		version("1.0.0", extension.PlatformLinuxX64, engineProp("*")),
	)
	r := newTestResolver()

	got, err := r.SelectVersion(context.Background(), raw, Criteria{
		TargetPlatform: extension.PlatformWeb,
		Compatible:     true,
	})
	if err != nil {
		t.Fatalf("SelectVersion: %v", err)
	}
	if got != nil {
		t.Errorf("SelectVersion = %q, want nil for web on native-only extension", got.Version)
	}
}

func TestSelectVersionHonorsEngineRange(t *testing.T) {
	raw := rawExtension(
		version("2.0.0", "", engineProp("^2.0.0")),
		version("1.0.0", "", engineProp("^1.0.0")),
	)
	r := newTestResolver() // product version 1.90.0

	got, err := r.SelectVersion(context.Background(), raw, Criteria{Compatible: true})
	if err != nil {
		t.Fatalf("SelectVersion: %v", err)
	}
	if got == nil || got.Version != "1.0.0" {
		t.Errorf("SelectVersion = %+v, want 1.0.0 (engine-compatible)", got)
	}
}

func TestSelectVersionExcludedRange(t *testing.T) {
	policy, err := config.NewPolicy(map[string][]string{"acme.tooling": {"<= 1.2.0"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	r := NewResolver(policy, "1.90.0", nil)

	raw := rawExtension(
		version("1.2.0", "", engineProp("*")),
		version("1.1.0", "", engineProp("*")),
	)
	got, err := r.SelectVersion(context.Background(), raw, Criteria{Compatible: true})
	if err != nil {
		t.Fatalf("SelectVersion: %v", err)
	}
	if got != nil {
		t.Errorf("SelectVersion = %q, want nil (all versions excluded)", got.Version)
	}
}

func TestSelectVersionPlatformPreference(t *testing.T) {
	raw := rawExtension(
		version("2.0.0", extension.PlatformWin32X64, engineProp("*")),
		version("2.0.0", extension.PlatformLinuxX64, engineProp("*")),
	)
	r := newTestResolver()

	got, err := r.SelectVersion(context.Background(), raw, Criteria{
		TargetPlatform: extension.PlatformLinuxX64,
		Compatible:     true,
	})
	if err != nil {
		t.Fatalf("SelectVersion: %v", err)
	}
	if got == nil || got.TargetPlatform != extension.PlatformLinuxX64 {
		t.Errorf("SelectVersion = %+v, want the linux-x64 build", got)
	}
}
