package gallery

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/extmarket-labs/extmarket/internal/config"
	"github.com/extmarket-labs/extmarket/internal/extension"
	"golang.org/x/sync/errgroup"
)

// queryFlags are the fields every batch query asks the server to
// include.
var queryFlags = []string{
	FlagIncludeAssetURI,
	FlagIncludeFiles,
	FlagIncludeCategoryAndTags,
	FlagIncludeVersionProperties,
	FlagIncludeStatistics,
	FlagIncludeInstallationTargets,
}

// ExtensionInfo identifies one extension a caller wants resolved.
type ExtensionInfo struct {
	Identifier extension.Identifier

	// Version pins an exact version; empty means newest acceptable.
	Version string

	// PreRelease asks for the pre-release channel when the extension
	// ships one.
	PreRelease bool

	// HasPreRelease tells the facade the extension is known to ship
	// pre-release builds; it forces the all-versions strategy when a
	// release build is wanted.
	HasPreRelease bool
}

// GetOptions applies to a whole GetExtensions batch.
type GetOptions struct {
	TargetPlatform extension.TargetPlatform
	CompatibleOnly bool
	Source         string
}

// ServiceOptions wires a facade.
type ServiceOptions struct {
	ProductVersion              string
	TargetPlatform              extension.TargetPlatform
	ResourceURLTemplate         string
	FallbackResourceURLTemplate string

	// UseLatestFlag selects the single-call latest/prerelease-and-stable
	// server strategy instead of the all-versions escalation strategy.
	UseLatestFlag bool
}

// Service orchestrates the query builder, raw client, and version
// resolver.
type Service struct {
	client     *Client
	resolver   *Resolver
	httpClient *http.Client
	opts       ServiceOptions
}

// NewService builds the gallery facade.
func NewService(client *Client, policy *config.Policy, opts ServiceOptions) *Service {
	if opts.TargetPlatform == "" {
		opts.TargetPlatform = extension.CurrentTargetPlatform()
	}
	s := &Service{
		client:     client,
		httpClient: &http.Client{},
		opts:       opts,
	}
	s.resolver = NewResolver(policy, opts.ProductVersion, s.fetchManifestAsset)
	return s
}

// Resolver exposes the facade's version resolver.
func (s *Service) Resolver() *Resolver { return s.resolver }

type indexedInfo struct {
	idx  int
	info ExtensionInfo
}

// GetExtensions resolves a batch of identifiers to concrete versions.
// Result ordering matches the input ordering; unresolvable entries are
// nil.
func (s *Service) GetExtensions(ctx context.Context, infos []ExtensionInfo, opts GetOptions) ([]*Extension, error) {
	if opts.TargetPlatform == "" {
		opts.TargetPlatform = s.opts.TargetPlatform
	}

	results := make([]*Extension, len(infos))
	pending := make([]indexedInfo, 0, len(infos))

	template, fallbackTemplate := s.resourceTemplates(ctx)
	if template == "" {
		for i, info := range infos {
			pending = append(pending, indexedInfo{idx: i, info: info})
		}
	} else {
		// Lightweight per-identifier resource lookups, in parallel.
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		for i, info := range infos {
			if info.Version != "" {
				// Exact versions always go through the query API.
				pending = append(pending, indexedInfo{idx: i, info: info})
				continue
			}
			i, info := i, info
			g.Go(func() error {
				ext, err := s.resolveViaResource(gctx, info, template, fallbackTemplate, opts)
				mu.Lock()
				defer mu.Unlock()
				if err != nil || ext == nil {
					// Not found (possibly renamed) or the resource API
					// failed: demote to the batch query.
					pending = append(pending, indexedInfo{idx: i, info: info})
					return nil
				}
				results[i] = ext
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	if len(pending) > 0 {
		if err := s.queryByInfos(ctx, pending, results, opts); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// resourceTemplates picks the configured resource-API templates,
// falling back to the server's capability manifest.
func (s *Service) resourceTemplates(ctx context.Context) (string, string) {
	template := s.opts.ResourceURLTemplate
	fallback := s.opts.FallbackResourceURLTemplate
	if template != "" {
		return template, fallback
	}
	manifest, err := s.client.Capabilities(ctx)
	if err != nil {
		return "", ""
	}
	return manifest.ResourceURLTemplate, manifest.FallbackResourceURLTemplate
}

// resolveViaResource answers one identifier through the resource API.
// A nil result means the caller must fall back to the query API.
func (s *Service) resolveViaResource(ctx context.Context, info ExtensionInfo, template, fallbackTemplate string, opts GetOptions) (*Extension, error) {
	raw, err := s.client.LatestRaw(ctx, info.Identifier, template)
	if err != nil {
		if extension.CodeOf(err) == extension.ErrCancelled || fallbackTemplate == "" {
			return nil, err
		}
		raw, err = s.client.LatestRaw(ctx, info.Identifier, fallbackTemplate)
		if err != nil {
			return nil, err
		}
	}
	if raw == nil {
		return nil, nil
	}

	// A uuid mismatch means the name now belongs to a different
	// extension; the original was renamed and only the query API can
	// find it.
	if info.Identifier.UUID != "" && raw.ExtensionID != info.Identifier.UUID {
		return nil, nil
	}

	version, err := s.resolver.SelectVersion(ctx, raw, s.criteriaFor(info, raw, opts))
	if err != nil || version == nil {
		return nil, err
	}
	return newExtension(raw, version, ""), nil
}

// criteriaFor derives resolution criteria for one identifier. Asking
// for pre-release degrades to the release channel when the extension
// ships none.
func (s *Service) criteriaFor(info ExtensionInfo, raw *RawExtension, opts GetOptions) Criteria {
	kind := KindRelease
	if info.PreRelease && (raw == nil || supportsPreRelease(raw)) {
		kind = KindPrerelease
	}
	return Criteria{
		TargetPlatform: opts.TargetPlatform,
		Kind:           kind,
		Version:        info.Version,
		Compatible:     opts.CompatibleOnly,
	}
}

// queryByInfos resolves the remaining identifiers through the batch
// query API, picking between the latest-only and all-versions
// strategies up front.
func (s *Service) queryByInfos(ctx context.Context, pending []indexedInfo, results []*Extension, opts GetOptions) error {
	needAllVersions := false
	for _, p := range pending {
		if p.info.Version != "" {
			needAllVersions = true
			break
		}
		if !p.info.PreRelease && p.info.HasPreRelease {
			// A release build is wanted from an extension that also
			// ships pre-releases; the latest record may be the wrong
			// channel.
			needAllVersions = true
			break
		}
	}

	flags := append([]string{}, queryFlags...)
	switch {
	case needAllVersions:
		flags = append(flags, FlagIncludeVersions)
	case s.opts.UseLatestFlag:
		flags = append(flags, FlagIncludeLatestPrereleaseAndStable)
	default:
		flags = append(flags, FlagIncludeLatestVersionOnly)
	}

	matched, unresolved, err := s.runBatch(ctx, pending, flags, opts)
	if err != nil {
		return err
	}
	for idx, ext := range matched {
		results[idx] = ext
	}

	// Candidates that failed validation against the latest-only page
	// escalate to a second all-versions batch, keyed by id so ordering
	// can be restored afterward.
	if len(unresolved) > 0 && !needAllVersions {
		escalated := append([]string{}, queryFlags...)
		escalated = append(escalated, FlagIncludeVersions)
		matched, _, err := s.runBatch(ctx, unresolved, escalated, opts)
		if err != nil {
			return err
		}
		for idx, ext := range matched {
			results[idx] = ext
		}
	}
	return nil
}

// runBatch performs one query page over the pending identifiers and
// validates each candidate. It returns resolved extensions by input
// index plus the entries that still need escalation.
func (s *Service) runBatch(ctx context.Context, pending []indexedInfo, flags []string, opts GetOptions) (map[int]*Extension, []indexedInfo, error) {
	var uuids, names []string
	for _, p := range pending {
		if p.info.Identifier.UUID != "" {
			uuids = append(uuids, p.info.Identifier.UUID)
		} else {
			names = append(names, p.info.Identifier.ID)
		}
	}

	query := NewQuery().
		WithPage(1, len(pending)).
		WithFlags(flags...).
		WithSource(opts.Source)
	if len(uuids) > 0 {
		query = query.WithFilter(FilterExtensionID, uuids...)
	}
	if len(names) > 0 {
		query = query.WithFilter(FilterExtensionName, names...)
	}

	res, err := s.client.QueryRaw(ctx, query)
	if err != nil {
		return nil, nil, err
	}

	matched := make(map[int]*Extension)
	var unresolved []indexedInfo
	for _, p := range pending {
		raw := findRaw(res.Extensions, p.info.Identifier)
		if raw == nil {
			continue
		}
		version, err := s.resolver.SelectVersion(ctx, raw, s.criteriaFor(p.info, raw, opts))
		if err != nil {
			return nil, nil, err
		}
		if version == nil {
			unresolved = append(unresolved, p)
			continue
		}
		matched[p.idx] = newExtension(raw, version, res.Context)
	}
	return matched, unresolved, nil
}

func findRaw(extensions []RawExtension, id extension.Identifier) *RawExtension {
	for i := range extensions {
		if extensions[i].Identifier().Same(id) {
			return &extensions[i]
		}
	}
	return nil
}

// SearchResult is one page of search hits.
type SearchResult struct {
	Extensions []*Extension
	Total      int64
}

// SearchOptions tunes a free-text search.
type SearchOptions struct {
	PageNumber int
	PageSize   int
	SortBy     string
	SortOrder  int
	Source     string
}

// Search runs a free-text marketplace search. "category:x" and
// "featured" tokens are stripped from the text and turned into
// criteria.
func (s *Service) Search(ctx context.Context, text string, opts SearchOptions) (*SearchResult, error) {
	if opts.PageNumber <= 0 {
		opts.PageNumber = 1
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.SortBy == "" {
		opts.SortBy = SortByRelevance
	}

	query := NewQuery().
		WithPage(opts.PageNumber, opts.PageSize).
		WithSortBy(opts.SortBy).
		WithSortOrder(opts.SortOrder).
		WithFlags(append(append([]string{}, queryFlags...), FlagIncludeLatestVersionOnly)...).
		WithSource(opts.Source)

	text, categories, featured := parseSearchText(text)
	for _, c := range categories {
		query = query.WithFilter(FilterCategory, c)
	}
	if featured {
		query = query.WithFilter(FilterFeatured, "")
	}
	if text != "" {
		query = query.WithFilter(FilterSearchText, text)
	}

	res, err := s.client.QueryRaw(ctx, query)
	if err != nil {
		return nil, err
	}

	result := &SearchResult{Total: res.Total}
	for i := range res.Extensions {
		raw := &res.Extensions[i]
		version, err := s.resolver.SelectVersion(ctx, raw, Criteria{
			TargetPlatform: s.opts.TargetPlatform,
			Kind:           KindLatest,
		})
		if err != nil {
			return nil, err
		}
		if version == nil {
			continue
		}
		result.Extensions = append(result.Extensions, newExtension(raw, version, res.Context))
	}
	return result, nil
}

// parseSearchText strips "category:<value>" (optionally quoted) and
// "featured" tokens out of a free-text query.
func parseSearchText(text string) (remainder string, categories []string, featured bool) {
	var rest []string
	for _, token := range strings.Fields(text) {
		lowered := strings.ToLower(token)
		switch {
		case strings.HasPrefix(lowered, "category:"):
			value := strings.Trim(token[len("category:"):], `"`)
			if value != "" {
				categories = append(categories, value)
			}
		case lowered == "featured":
			featured = true
		default:
			rest = append(rest, token)
		}
	}
	return strings.Join(rest, " "), categories, featured
}

// GetAllVersions returns every version record of an extension, in
// server order.
func (s *Service) GetAllVersions(ctx context.Context, id extension.Identifier) ([]RawVersion, error) {
	raw, err := s.rawByID(ctx, id, FlagIncludeVersions)
	if err != nil || raw == nil {
		return nil, err
	}
	return raw.Versions, nil
}

// GetCompatibleVersion resolves the newest version of an extension that
// is compatible with this product, platform, and channel. It returns
// nil when none exists.
func (s *Service) GetCompatibleVersion(ctx context.Context, id extension.Identifier, preRelease bool, version string) (*Extension, error) {
	raw, err := s.rawByID(ctx, id, FlagIncludeVersions)
	if err != nil || raw == nil {
		return nil, err
	}

	kind := KindRelease
	if preRelease && supportsPreRelease(raw) {
		kind = KindPrerelease
	}
	selected, err := s.resolver.SelectVersion(ctx, raw, Criteria{
		TargetPlatform: s.opts.TargetPlatform,
		Kind:           kind,
		Version:        version,
		Compatible:     true,
	})
	if err != nil || selected == nil {
		return nil, err
	}
	return newExtension(raw, selected, ""), nil
}

func (s *Service) rawByID(ctx context.Context, id extension.Identifier, extraFlags ...string) (*RawExtension, error) {
	flags := append(append([]string{}, queryFlags...), extraFlags...)
	query := NewQuery().WithPage(1, 1).WithFlags(flags...)
	if id.UUID != "" {
		query = query.WithFilter(FilterExtensionID, id.UUID)
	} else {
		query = query.WithFilter(FilterExtensionName, id.ID)
	}

	res, err := s.client.QueryRaw(ctx, query)
	if err != nil {
		return nil, err
	}
	return findRaw(res.Extensions, id), nil
}

// ReportStatistic records an install or uninstall event. Errors are
// swallowed; statistics are fire-and-forget.
func (s *Service) ReportStatistic(ctx context.Context, id extension.Identifier, version, statistic string) {
	_ = s.client.ReportStatistic(ctx, id, version, statistic)
}
