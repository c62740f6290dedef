package extension

import (
	"regexp"
	"strings"
)

// Key is the unit of on-disk identity: identifier + version + target
// platform. Its string form doubles as the extension folder name.
type Key struct {
	Identifier     Identifier
	Version        string
	TargetPlatform TargetPlatform
}

// NewKey builds a key. Universal and undefined platforms collapse to
// undefined so that the same build never yields two folder names.
func NewKey(id Identifier, version string, platform TargetPlatform) Key {
	if platform == PlatformUniversal || platform == "" {
		platform = PlatformUndefined
	}
	return Key{Identifier: id, Version: version, TargetPlatform: platform}
}

// String renders "publisher.name-version" or
// "publisher.name-version-platform" for platform-specific builds.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(k.Identifier.ID))
	b.WriteByte('-')
	b.WriteString(k.Version)
	if k.TargetPlatform != PlatformUndefined && k.TargetPlatform != PlatformUnknown {
		b.WriteByte('-')
		b.WriteString(string(k.TargetPlatform))
	}
	return b.String()
}

// Same reports whether two keys identify the same on-disk folder.
func (k Key) Same(other Key) bool {
	return k.Identifier.Same(other.Identifier) &&
		k.Version == other.Version &&
		k.TargetPlatform == other.TargetPlatform
}

// Marketplace versions are plain x.y.z; pre-release builds are published
// under ordinary version numbers, so the folder grammar stays unambiguous.
var keyPattern = regexp.MustCompile(`^([^.]+\..+?)-(\d+\.\d+\.\d+)(?:-(` + platformAlternatives() + `))?$`)

func platformAlternatives() string {
	platforms := []TargetPlatform{
		PlatformWin32X64, PlatformWin32ARM64,
		PlatformLinuxX64, PlatformLinuxARM64, PlatformLinuxARMHF,
		PlatformAlpineX64, PlatformAlpineARM64,
		PlatformDarwinX64, PlatformDarwinARM64,
		PlatformWeb,
	}
	quoted := make([]string, len(platforms))
	for i, p := range platforms {
		quoted[i] = regexp.QuoteMeta(string(p))
	}
	return strings.Join(quoted, "|")
}

// ParseKey parses a folder name produced by Key.String.
func ParseKey(s string) (Key, bool) {
	m := keyPattern.FindStringSubmatch(s)
	if m == nil {
		return Key{}, false
	}
	platform := PlatformUndefined
	if m[3] != "" {
		platform = TargetPlatform(m[3])
	}
	if _, _, err := ParseID(m[1]); err != nil {
		return Key{}, false
	}
	return Key{
		Identifier:     Identifier{ID: m[1]},
		Version:        m[2],
		TargetPlatform: platform,
	}, true
}
