// Package platform covers the one filesystem operation that differs
// per OS: the symlink marking the active profile. On Unix it is a real
// symlink; on Windows without developer mode it degrades to a .target
// sidecar file that records the link destination.
package platform

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// CreateSymlink points link at target. Targets are usually relative
// (a sibling directory name), so the link survives moving the parent.
func CreateSymlink(target, link string) error {
	if err := os.Symlink(target, link); err == nil {
		return nil
	} else if runtime.GOOS != "windows" {
		return err
	}

	// Windows without developer mode: record the target in a sidecar.
	if err := os.WriteFile(link+".target", []byte(target), 0644); err != nil {
		return fmt.Errorf("writing link sidecar: %w", err)
	}
	return nil
}

// RemoveSymlink removes a link and its sidecar, if any. A link that
// does not exist is not an error.
func RemoveSymlink(link string) error {
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(link + ".target"); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReadSymlinkTarget returns where a link points, consulting the sidecar
// when the platform could not create a real symlink.
func ReadSymlinkTarget(link string) (string, error) {
	target, err := os.Readlink(link)
	if err == nil {
		return target, nil
	}

	data, sidecarErr := os.ReadFile(link + ".target")
	if sidecarErr != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
