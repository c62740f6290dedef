package extension

import "runtime"

// TargetPlatform is an OS+architecture tag used to pick the right build
// of an extension, or one of the special values below.
type TargetPlatform string

const (
	PlatformWin32X64   TargetPlatform = "win32-x64"
	PlatformWin32ARM64 TargetPlatform = "win32-arm64"
	PlatformLinuxX64   TargetPlatform = "linux-x64"
	PlatformLinuxARM64 TargetPlatform = "linux-arm64"
	PlatformLinuxARMHF TargetPlatform = "linux-armhf"
	PlatformAlpineX64  TargetPlatform = "alpine-x64"
	PlatformAlpineARM64 TargetPlatform = "alpine-arm64"
	PlatformDarwinX64  TargetPlatform = "darwin-x64"
	PlatformDarwinARM64 TargetPlatform = "darwin-arm64"

	// PlatformWeb is the browser build of an extension.
	PlatformWeb TargetPlatform = "web"

	// PlatformUniversal marks a build that runs on every platform.
	PlatformUniversal TargetPlatform = "universal"

	// PlatformUndefined is reported by version records published before
	// platform-specific builds existed.
	PlatformUndefined TargetPlatform = "undefined"

	// PlatformUnknown is used for criteria that do not constrain the platform.
	PlatformUnknown TargetPlatform = "unknown"
)

// CurrentTargetPlatform derives the platform tag of the running process.
func CurrentTargetPlatform() TargetPlatform {
	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "arm64" {
			return PlatformWin32ARM64
		}
		return PlatformWin32X64
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return PlatformDarwinARM64
		}
		return PlatformDarwinX64
	case "linux":
		switch runtime.GOARCH {
		case "arm64":
			return PlatformLinuxARM64
		case "arm":
			return PlatformLinuxARMHF
		default:
			return PlatformLinuxX64
		}
	default:
		return PlatformUnknown
	}
}

// PlatformCompatible reports whether a version built for ext can run on
// the wanted platform, given the set of platforms the extension ships for.
//
// Versions published as "undefined" predate platform-specific builds:
// they are assumed compatible with everything on the side of the fence
// (web vs native) their sibling builds live on.
func PlatformCompatible(ext TargetPlatform, all []TargetPlatform, wanted TargetPlatform) bool {
	if wanted == PlatformUnknown {
		return true
	}
	switch ext {
	case PlatformUndefined:
		if len(all) == 0 {
			return true
		}
		for _, p := range all {
			if p == PlatformWeb {
				return wanted == PlatformWeb
			}
		}
		return wanted != PlatformWeb
	case PlatformUniversal:
		return true
	case PlatformUnknown:
		return false
	default:
		return ext == wanted
	}
}
