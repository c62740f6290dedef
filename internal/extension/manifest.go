package extension

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ManifestFileName is the package manifest at the root of every
// extension folder.
const ManifestFileName = "package.json"

// Manifest is the extension package manifest.
type Manifest struct {
	Name                 string            `json:"name"`
	Publisher            string            `json:"publisher"`
	Version              string            `json:"version"`
	DisplayName          string            `json:"displayName,omitempty"`
	Description          string            `json:"description,omitempty"`
	Engines              map[string]string `json:"engines,omitempty"`
	Categories           []string          `json:"categories,omitempty"`
	ActivationEvents     []string          `json:"activationEvents,omitempty"`
	ExtensionDependencies []string         `json:"extensionDependencies,omitempty"`
	ExtensionPack        []string          `json:"extensionPack,omitempty"`
	EnabledAPIProposals  []string          `json:"enabledApiProposals,omitempty"`
	Main                 string            `json:"main,omitempty"`
	Browser              string            `json:"browser,omitempty"`
}

// Identifier derives the extension identifier from the manifest.
func (m *Manifest) Identifier() Identifier {
	return NewIdentifier(m.Publisher, m.Name)
}

// Engine returns the product engine range the manifest declares, or ""
// when absent.
func (m *Manifest) Engine() string {
	return m.Engines["vscode"]
}

// IsWeb reports whether the manifest declares a browser entry point.
func (m *Manifest) IsWeb() bool { return m.Browser != "" }

// ReadManifest loads and parses the package manifest of an extension
// folder.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses raw manifest bytes and checks the fields the
// pipeline cannot work without.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if m.Name == "" || m.Publisher == "" || m.Version == "" {
		return nil, Errorf(ErrInvalid, "manifest is missing name, publisher, or version")
	}
	return &m, nil
}
