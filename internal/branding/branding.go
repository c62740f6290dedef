// Package branding provides compile-time identity values for the CLI.
//
// Forkers edit branding.yaml in this package before building; Go's
// //go:embed bakes it into the binary.
package branding

import (
	_ "embed"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"
)

//go:embed branding.yaml
var rawBranding []byte

var (
	once     sync.Once
	defaults brand
)

type brand struct {
	CLIName           string `yaml:"cli_name"`
	DisplayName       string `yaml:"display_name"`
	Description       string `yaml:"description"`
	HomeDir           string `yaml:"home_dir"`
	EnvPrefix         string `yaml:"env_prefix"`
	GoModule          string `yaml:"go_module"`
	ProductIdentifier string `yaml:"product_identifier"`
	GalleryServiceURL string `yaml:"gallery_service_url"`
	GalleryItemURL    string `yaml:"gallery_item_url"`
}

func load() {
	once.Do(func() {
		// Hard defaults in case the embedded file is missing/empty.
		defaults = brand{
			CLIName:           "extmarket",
			DisplayName:       "ExtMarket",
			Description:       "Marketplace resolver and installer for editor extensions",
			HomeDir:           ".extmarket",
			EnvPrefix:         "EXTMARKET",
			GoModule:          "github.com/extmarket-labs/extmarket",
			ProductIdentifier: "ExtMarket.Client",
			GalleryServiceURL: "https://marketplace.extmarket.dev/_apis/public/gallery",
			GalleryItemURL:    "https://marketplace.extmarket.dev/items",
		}
		_ = yaml.Unmarshal(rawBranding, &defaults)
	})
}

// CLIName returns the root command name (e.g., "extmarket").
func CLIName() string { load(); return defaults.CLIName }

// DisplayName returns the human-readable product name.
func DisplayName() string { load(); return defaults.DisplayName }

// Description returns the short product description.
func Description() string { load(); return defaults.Description }

// HomeDir returns the dot-directory name under $HOME (e.g., ".extmarket").
func HomeDir() string { load(); return defaults.HomeDir }

// EnvPrefix returns the environment variable prefix (e.g., "EXTMARKET").
func EnvPrefix() string { load(); return defaults.EnvPrefix }

// GoModule returns the Go module path. Used by scripts, not at runtime.
func GoModule() string { load(); return defaults.GoModule }

// ProductIdentifier is the installation-target id sent with every
// marketplace query.
func ProductIdentifier() string { load(); return defaults.ProductIdentifier }

// GalleryServiceURL is the default marketplace query endpoint.
func GalleryServiceURL() string { load(); return defaults.GalleryServiceURL }

// GalleryItemURL is the default marketplace item page base.
func GalleryItemURL() string { load(); return defaults.GalleryItemURL }

// EnvVar returns a fully qualified env var name, e.g.,
// EnvVar("HOME") → "EXTMARKET_HOME".
func EnvVar(suffix string) string {
	load()
	return defaults.EnvPrefix + "_" + strings.ToUpper(suffix)
}
