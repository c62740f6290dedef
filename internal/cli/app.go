package cli

import (
	"fmt"

	"github.com/extmarket-labs/extmarket/internal/branding"
	"github.com/extmarket-labs/extmarket/internal/config"
	"github.com/extmarket-labs/extmarket/internal/gallery"
	"github.com/extmarket-labs/extmarket/internal/installer"
	"github.com/extmarket-labs/extmarket/internal/profile"
	"github.com/extmarket-labs/extmarket/internal/scanner"
)

// app is the wired object graph every command runs against. Commands
// stay thin; all control flow lives in the library packages.
type app struct {
	scanner     *scanner.Scanner
	profiles    *profile.Store
	gallery     *gallery.Service
	coordinator *installer.Coordinator
	installer   *installer.Service
}

func newApp() (*app, error) {
	if err := config.EnsureDir(); err != nil {
		return nil, err
	}

	policy, err := config.LoadPolicy(config.Get(config.KeyPolicyFile))
	if err != nil {
		return nil, fmt.Errorf("loading policy: %w", err)
	}

	productVersion := config.Get(config.KeyProductVersion)
	if buildVersion != "" && buildVersion != "dev" {
		productVersion = buildVersion
	}

	client := gallery.NewClient(
		config.Get(config.KeyGalleryServiceURL),
		branding.ProductIdentifier(),
		config.GetDuration(config.KeyGalleryTimeout),
	)
	galleryService := gallery.NewService(client, policy, gallery.ServiceOptions{
		ProductVersion:              productVersion,
		ResourceURLTemplate:         config.Get(config.KeyGalleryResourceTemplate),
		FallbackResourceURLTemplate: config.Get(config.KeyGalleryResourceFallback),
		UseLatestFlag:               config.GetBool(config.KeyGalleryUseLatestFlag),
	})

	sc := scanner.New(config.Get(config.KeyExtensionsRoot))
	profiles := profile.NewStore(config.Get(config.KeyProfilesRoot))
	if err := profiles.EnsureDefault(); err != nil {
		return nil, err
	}

	coord := installer.NewCoordinator(sc, galleryService, installer.SignatureOptions{
		Required:      config.GetBool(config.KeySignatureRequired),
		AllowUnsigned: config.GetBool(config.KeySignatureAllowUnsigned),
	})

	return &app{
		scanner:     sc,
		profiles:    profiles,
		gallery:     galleryService,
		coordinator: coord,
		installer:   installer.New(sc, profiles, galleryService, coord),
	}, nil
}

// cleanup runs the startup sweep: leftover temp folders and ledger
// entries nothing references anymore.
func (a *app) cleanup() error {
	return a.scanner.Cleanup(a.profiles.Referenced)
}
