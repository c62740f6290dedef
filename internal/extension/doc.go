// Package extension defines the shared data model of the marketplace
// pipeline: extension identifiers and keys, target platforms, package
// manifests, install metadata, and the error taxonomy used across the
// gallery client, installer, and scanner.
package extension
