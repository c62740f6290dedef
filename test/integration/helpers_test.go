package integration

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/extmarket-labs/extmarket/internal/extension"
	"github.com/extmarket-labs/extmarket/internal/gallery"
	"github.com/extmarket-labs/extmarket/internal/installer"
	"github.com/extmarket-labs/extmarket/internal/profile"
	"github.com/extmarket-labs/extmarket/internal/scanner"
)

// marketplace is a fake gallery: a capability manifest, a query
// endpoint answering with configured extension records, and VSIX
// payloads addressable by version.
type marketplace struct {
	server   *httptest.Server
	versions map[string][]byte

	// records is what /extensionquery answers with, regardless of the
	// requested filters.
	records []map[string]any
}

func newMarketplace(t *testing.T) *marketplace {
	t.Helper()
	m := &marketplace{versions: map[string][]byte{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/capabilities", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"filterTypes": map[string]int{
				gallery.FilterExtensionID:      4,
				gallery.FilterExtensionName:    7,
				gallery.FilterTarget:           8,
				gallery.FilterSearchText:       10,
				gallery.FilterExcludeWithFlags: 12,
			},
			"flags": map[string]int{
				gallery.FlagIncludeVersions:            0x1,
				gallery.FlagIncludeFiles:               0x2,
				gallery.FlagIncludeCategoryAndTags:     0x4,
				gallery.FlagIncludeVersionProperties:   0x10,
				gallery.FlagIncludeInstallationTargets: 0x40,
				gallery.FlagIncludeAssetURI:            0x80,
				gallery.FlagIncludeStatistics:          0x100,
				gallery.FlagIncludeLatestVersionOnly:   0x200,
				gallery.FlagUnpublished:                0x1000,
			},
			"sortBy": map[string]int{gallery.SortByRelevance: 0},
		})
	})
	mux.HandleFunc("/extensionquery", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{
				"extensions": m.records,
				"resultMetadata": []map[string]any{{
					"metadataType": "ResultCount",
					"metadataItems": []map[string]any{{
						"name": "TotalCount", "count": len(m.records),
					}},
				}},
			}},
		})
	})
	mux.HandleFunc("/vsix/", func(w http.ResponseWriter, r *http.Request) {
		version := r.URL.Path[len("/vsix/"):]
		payload, ok := m.versions[version]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(payload)
	})
	// Statistics are fire-and-forget; acknowledge them silently.
	mux.HandleFunc("/publishers/", func(w http.ResponseWriter, r *http.Request) {})

	m.server = httptest.NewServer(mux)
	t.Cleanup(m.server.Close)
	return m
}

// publish registers a version record and its downloadable payload.
func (m *marketplace) publish(t *testing.T, publisher, name, version string, preRelease bool) {
	t.Helper()
	m.versions[version] = buildVSIX(t, publisher, name, version)

	properties := []map[string]string{
		{"key": gallery.PropertyEngine, "value": "*"},
	}
	if preRelease {
		properties = append(properties, map[string]string{
			"key": gallery.PropertyPreRelease, "value": "true",
		})
	}
	versionRecord := map[string]any{
		"version": version,
		"files": []map[string]string{{
			"assetType": gallery.AssetPackage,
			"source":    m.server.URL + "/vsix/" + version,
		}},
		"properties": properties,
	}

	// One record per extension; new versions go in front, matching the
	// server's newest-first ordering.
	for _, record := range m.records {
		if record["extensionName"] == name && record["publisherName"] == publisher {
			record["versions"] = append([]map[string]any{versionRecord}, record["versions"].([]map[string]any)...)
			return
		}
	}
	m.records = append(m.records, map[string]any{
		"extensionId":   publisher + "." + name + "-uuid",
		"extensionName": name,
		"publisherName": publisher,
		"publisher": map[string]string{
			"publisherId":   publisher + "-uuid",
			"publisherName": publisher,
			"displayName":   publisher,
		},
		"versions": []map[string]any{versionRecord},
	})
}

// env is the wired pipeline under test.
type env struct {
	scanner   *scanner.Scanner
	profiles  *profile.Store
	gallery   *gallery.Service
	installer *installer.Service
}

func newEnv(t *testing.T, m *marketplace) *env {
	t.Helper()
	client := gallery.NewClient(m.server.URL, "ExtMarket.Client", time.Second)
	galleryService := gallery.NewService(client, nil, gallery.ServiceOptions{
		ProductVersion: "1.90.0",
		TargetPlatform: extension.PlatformLinuxX64,
	})

	sc := scanner.New(t.TempDir())
	profiles := profile.NewStore(t.TempDir())
	coord := installer.NewCoordinator(sc, galleryService, installer.SignatureOptions{})
	return &env{
		scanner:   sc,
		profiles:  profiles,
		gallery:   galleryService,
		installer: installer.New(sc, profiles, galleryService, coord),
	}
}

func buildVSIX(t *testing.T, publisher, name, version string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	manifest, err := w.Create("extension/package.json")
	if err != nil {
		t.Fatal(err)
	}
	payload := `{"name": "` + name + `", "publisher": "` + publisher + `", "version": "` + version + `", "engines": {"vscode": "*"}}`
	if _, err := manifest.Write([]byte(payload)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
