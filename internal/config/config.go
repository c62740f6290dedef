package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/extmarket-labs/extmarket/internal/branding"
	"github.com/spf13/viper"
)

const (
	fileName = "config"
	fileType = "yaml"
)

// Keys understood in config.yaml and the environment.
const (
	KeyGalleryServiceURL       = "gallery.service_url"
	KeyGalleryItemURL          = "gallery.item_url"
	KeyGalleryResourceTemplate = "gallery.resource_url_template"
	KeyGalleryResourceFallback = "gallery.fallback_resource_url_template"
	KeyGalleryUseLatestFlag    = "gallery.use_latest_flag"
	KeyGalleryTimeout          = "gallery.timeout"
	KeySignatureRequired       = "signature.required"
	KeySignatureAllowUnsigned  = "signature.allow_unsigned"
	KeyProductVersion          = "product.version"
	KeyProductDate             = "product.date"
	KeyExtensionsRoot          = "paths.extensions_root"
	KeyProfilesRoot            = "paths.profiles_root"
	KeyPolicyFile              = "paths.policy_file"
)

// DefaultTimeout bounds every gallery request unless overridden.
const DefaultTimeout = 10 * time.Second

// Dir returns the path to the config directory (~/.extmarket/).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", branding.HomeDir())
	}
	return filepath.Join(home, branding.HomeDir())
}

// FilePath returns the full path to the config file.
func FilePath() string {
	return filepath.Join(Dir(), fileName+"."+fileType)
}

// EnsureDir creates the config directory if it does not exist.
func EnsureDir() error {
	dir := Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	return nil
}

// Load initializes Viper to read from the config file and environment
// and installs defaults.
func Load() {
	viper.SetConfigFile(FilePath())
	viper.SetConfigType(fileType)
	viper.SetEnvPrefix(branding.EnvPrefix())
	viper.AutomaticEnv()

	viper.SetDefault(KeyGalleryServiceURL, branding.GalleryServiceURL())
	viper.SetDefault(KeyGalleryItemURL, branding.GalleryItemURL())
	viper.SetDefault(KeyGalleryTimeout, DefaultTimeout)
	viper.SetDefault(KeySignatureRequired, true)
	viper.SetDefault(KeySignatureAllowUnsigned, true)
	viper.SetDefault(KeyProductVersion, "1.0.0")
	viper.SetDefault(KeyExtensionsRoot, filepath.Join(Dir(), "extensions"))
	viper.SetDefault(KeyProfilesRoot, filepath.Join(Dir(), "profiles"))
	viper.SetDefault(KeyPolicyFile, filepath.Join(Dir(), "policy.yaml"))

	// Ignore error if config file doesn't exist yet.
	_ = viper.ReadInConfig()
}

// Get returns a config value by key. Returns empty string if not set.
func Get(key string) string {
	return viper.GetString(key)
}

// GetBool returns a boolean config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// Set writes a config key-value pair and saves the config file.
func Set(key, value string) error {
	if err := EnsureDir(); err != nil {
		return err
	}

	viper.Set(key, value)

	configFile := FilePath()

	// Create the file if it doesn't exist.
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("creating config file %s: %w", configFile, err)
		}
		f.Close()
	}

	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
