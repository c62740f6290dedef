package gallery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/extmarket-labs/extmarket/internal/extension"
)

// testManifest is the capability document the fake server advertises.
var testManifest = ServiceManifest{
	FilterTypes: map[string]int{
		FilterTag:              1,
		FilterExtensionID:      4,
		FilterCategory:         5,
		FilterExtensionName:    7,
		FilterTarget:           8,
		FilterFeatured:         9,
		FilterSearchText:       10,
		FilterExcludeWithFlags: 12,
	},
	Flags: map[string]int{
		FlagIncludeVersions:          0x1,
		FlagIncludeFiles:             0x2,
		FlagIncludeCategoryAndTags:   0x4,
		FlagIncludeVersionProperties: 0x10,
		FlagIncludeInstallationTargets: 0x40,
		FlagIncludeAssetURI:          0x80,
		FlagIncludeStatistics:        0x100,
		FlagIncludeLatestVersionOnly: 0x200,
		FlagUnpublished:              0x1000,
	},
	SortBy: map[string]int{
		SortByRelevance:    0,
		SortByInstallCount: 4,
	},
}

type capturedFilter struct {
	Criteria []struct {
		FilterType int    `json:"filterType"`
		Value      string `json:"value"`
	} `json:"criteria"`
	PageNumber int `json:"pageNumber"`
	PageSize   int `json:"pageSize"`
	SortBy     int `json:"sortBy"`
	SortOrder  int `json:"sortOrder"`
}

type capturedQuery struct {
	Filters []capturedFilter `json:"filters"`
	Flags   int              `json:"flags"`
}

// newGalleryServer serves the capability manifest and delegates
// extension queries to handle.
func newGalleryServer(t *testing.T, handle func(q capturedQuery, w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/capabilities", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(testManifest)
	})
	mux.HandleFunc("/extensionquery", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("reading query body: %v", err)
		}
		var q capturedQuery
		if err := json.Unmarshal(body, &q); err != nil {
			t.Errorf("parsing query body: %v", err)
		}
		handle(q, w)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func emptyResult(w http.ResponseWriter) {
	json.NewEncoder(w).Encode(map[string]any{
		"results": []map[string]any{{"extensions": []any{}}},
	})
}

func TestQueryRawTranslatesNamesAndAppendsTarget(t *testing.T) {
	var got capturedQuery
	server := newGalleryServer(t, func(q capturedQuery, w http.ResponseWriter) {
		got = q
		emptyResult(w)
	})

	c := NewClient(server.URL, "ExtMarket.Client", time.Second)
	query := NewQuery().
		WithFilter(FilterSearchText, "linter").
		WithFilter("NotAdvertised", "dropped").
		WithFlags(FlagIncludeVersions, FlagIncludeFiles, "UnknownFlag")

	if _, err := c.QueryRaw(context.Background(), query); err != nil {
		t.Fatalf("QueryRaw: %v", err)
	}

	if len(got.Filters) != 1 {
		t.Fatalf("filters = %d, want 1", len(got.Filters))
	}
	criteria := got.Filters[0].Criteria

	var sawSearch, sawTarget, sawExcludeUnpublished, sawDropped bool
	for _, crit := range criteria {
		switch crit.FilterType {
		case 10:
			sawSearch = crit.Value == "linter"
		case 8:
			sawTarget = crit.Value == "ExtMarket.Client"
		case 12:
			sawExcludeUnpublished = crit.Value == "4096"
		case 0:
			sawDropped = true
		}
	}
	if !sawSearch {
		t.Error("search text criterion missing")
	}
	if !sawTarget {
		t.Error("product target criterion not appended")
	}
	if !sawExcludeUnpublished {
		t.Error("exclude-unpublished criterion not appended")
	}
	if sawDropped {
		t.Error("unknown filter name was sent instead of dropped")
	}

	if got.Flags != 0x1|0x2 {
		t.Errorf("flags = %#x, want %#x (unknown flag dropped)", got.Flags, 0x1|0x2)
	}
}

func TestQueryRawSoftFailsOn4xx(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/capabilities", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(testManifest)
	})
	mux.HandleFunc("/extensionquery", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := NewClient(server.URL, "ExtMarket.Client", time.Second)
	res, err := c.QueryRaw(context.Background(), NewQuery())
	if err != nil {
		t.Fatalf("QueryRaw on 4xx: %v, want soft failure", err)
	}
	if len(res.Extensions) != 0 || res.Total != 0 {
		t.Errorf("QueryRaw on 4xx = %+v, want empty result", res)
	}
}

func TestQueryRawClassifies5xx(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/capabilities", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(testManifest)
	})
	mux.HandleFunc("/extensionquery", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := NewClient(server.URL, "ExtMarket.Client", time.Second)
	_, err := c.QueryRaw(context.Background(), NewQuery())
	if err == nil {
		t.Fatal("QueryRaw on 5xx succeeded, want error")
	}
	if code := extension.CodeOf(err); code != extension.ErrFailed {
		t.Errorf("CodeOf = %q, want Failed", code)
	}
}

func TestLatestRawReturnsNilOn404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	c := NewClient(server.URL, "ExtMarket.Client", time.Second)
	raw, err := c.LatestRaw(context.Background(), extension.Identifier{ID: "acme.tooling"},
		server.URL+"/extensions/{publisher}/{name}/latest")
	if err != nil {
		t.Fatalf("LatestRaw: %v", err)
	}
	if raw != nil {
		t.Errorf("LatestRaw = %+v, want nil", raw)
	}
}

func TestLatestRawSubstitutesTemplate(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(RawExtension{
			ExtensionName: "tooling",
			Publisher:     RawPublisher{PublisherName: "acme"},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, "ExtMarket.Client", time.Second)
	raw, err := c.LatestRaw(context.Background(), extension.Identifier{ID: "acme.tooling"},
		server.URL+"/extensions/{publisher}/{name}/latest")
	if err != nil {
		t.Fatalf("LatestRaw: %v", err)
	}
	if raw == nil || raw.ExtensionName != "tooling" {
		t.Fatalf("LatestRaw = %+v", raw)
	}
	if gotPath != "/extensions/acme/tooling/latest" {
		t.Errorf("request path = %q, want /extensions/acme/tooling/latest", gotPath)
	}
}

func TestSearchStripsTokensIntoCriteria(t *testing.T) {
	var got capturedQuery
	server := newGalleryServer(t, func(q capturedQuery, w http.ResponseWriter) {
		got = q
		emptyResult(w)
	})

	c := NewClient(server.URL, "ExtMarket.Client", time.Second)
	s := NewService(c, nil, ServiceOptions{ProductVersion: "1.90.0", TargetPlatform: extension.PlatformLinuxX64})

	if _, err := s.Search(context.Background(), "category:themes featured", SearchOptions{}); err != nil {
		t.Fatalf("Search: %v", err)
	}

	var sawCategory, sawFeatured, sawSearchText bool
	for _, crit := range got.Filters[0].Criteria {
		switch crit.FilterType {
		case 5:
			sawCategory = crit.Value == "themes"
		case 9:
			sawFeatured = true
		case 10:
			sawSearchText = true
		}
	}
	if !sawCategory {
		t.Error("Category=themes criterion missing")
	}
	if !sawFeatured {
		t.Error("Featured criterion missing")
	}
	if sawSearchText {
		t.Error("free-text criterion sent for a fully tokenized query")
	}
}
