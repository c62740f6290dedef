package gallery

// Abstract filter-type names. The raw client resolves them to the
// server's numeric codes through the capability manifest; names the
// server does not advertise are dropped.
const (
	FilterTag              = "Tag"
	FilterExtensionID      = "ExtensionId"
	FilterCategory         = "Category"
	FilterExtensionName    = "ExtensionName"
	FilterTarget           = "Target"
	FilterFeatured         = "Featured"
	FilterSearchText       = "SearchText"
	FilterExcludeWithFlags = "ExcludeWithFlags"
)

// Abstract flag names, resolved to bit values the same way.
const (
	FlagIncludeVersions                    = "IncludeVersions"
	FlagIncludeFiles                       = "IncludeFiles"
	FlagIncludeCategoryAndTags             = "IncludeCategoryAndTags"
	FlagIncludeVersionProperties           = "IncludeVersionProperties"
	FlagExcludeNonValidated                = "ExcludeNonValidated"
	FlagIncludeInstallationTargets         = "IncludeInstallationTargets"
	FlagIncludeAssetURI                    = "IncludeAssetUri"
	FlagIncludeStatistics                  = "IncludeStatistics"
	FlagIncludeLatestVersionOnly           = "IncludeLatestVersionOnly"
	FlagIncludeLatestPrereleaseAndStable   = "IncludeLatestPrereleaseAndStableVersionOnly"
	FlagUnpublished                        = "Unpublished"
)

// Sort orders. These are plain protocol values, not manifest-resolved.
const (
	SortOrderDefault    = 0
	SortOrderAscending  = 1
	SortOrderDescending = 2
)

// Abstract sort-by names.
const (
	SortByRelevance     = "NoneOrRelevance"
	SortByTitle         = "Title"
	SortByPublisher     = "PublisherName"
	SortByInstallCount  = "InstallCount"
	SortByPublishedDate = "PublishedDate"
	SortByUpdatedDate   = "LastUpdatedDate"
	SortByRating        = "WeightedRating"
)

// DefaultPageSize is the page size used when the caller does not page
// explicitly.
const DefaultPageSize = 10

// Criterion is one filter term of a query.
type Criterion struct {
	FilterType string
	Value      string
}

// Query is an immutable description of one paginated marketplace query.
// The zero value is not useful; start from NewQuery.
type Query struct {
	pageNumber int
	pageSize   int
	sortBy     string
	sortOrder  int
	flags      []string
	criteria   []Criterion
	assetTypes []string
	source     string
}

// NewQuery returns the default query: first page, default page size,
// relevance order, no flags, no criteria.
func NewQuery() Query {
	return Query{
		pageNumber: 1,
		pageSize:   DefaultPageSize,
		sortBy:     SortByRelevance,
		sortOrder:  SortOrderDefault,
	}
}

// WithPage returns a copy with the given page number and size.
func (q Query) WithPage(number, size int) Query {
	q.pageNumber = number
	q.pageSize = size
	return q
}

// WithFilter returns a copy with one criterion appended per value.
func (q Query) WithFilter(filterType string, values ...string) Query {
	criteria := make([]Criterion, 0, len(q.criteria)+len(values))
	criteria = append(criteria, q.criteria...)
	for _, v := range values {
		criteria = append(criteria, Criterion{FilterType: filterType, Value: v})
	}
	q.criteria = criteria
	return q
}

// WithSortBy returns a copy sorted by the given abstract name.
func (q Query) WithSortBy(sortBy string) Query {
	q.sortBy = sortBy
	return q
}

// WithSortOrder returns a copy with the given sort order.
func (q Query) WithSortOrder(order int) Query {
	q.sortOrder = order
	return q
}

// WithFlags returns a copy with the given flag names added. Duplicates
// are dropped.
func (q Query) WithFlags(flags ...string) Query {
	seen := make(map[string]bool, len(q.flags)+len(flags))
	merged := make([]string, 0, len(q.flags)+len(flags))
	for _, f := range append(append([]string{}, q.flags...), flags...) {
		if !seen[f] {
			seen[f] = true
			merged = append(merged, f)
		}
	}
	q.flags = merged
	return q
}

// WithAssetTypes returns a copy restricted to the given asset types.
func (q Query) WithAssetTypes(assetTypes ...string) Query {
	q.assetTypes = append(append([]string{}, q.assetTypes...), assetTypes...)
	return q
}

// WithSource returns a copy tagged with a telemetry source.
func (q Query) WithSource(source string) Query {
	q.source = source
	return q
}

// PageNumber returns the page number.
func (q Query) PageNumber() int { return q.pageNumber }

// PageSize returns the page size.
func (q Query) PageSize() int { return q.pageSize }

// SortBy returns the abstract sort name.
func (q Query) SortBy() string { return q.sortBy }

// SortOrder returns the sort order.
func (q Query) SortOrder() int { return q.sortOrder }

// Flags returns the flag names. The slice must not be mutated.
func (q Query) Flags() []string { return q.flags }

// HasFlag reports whether the query carries the named flag.
func (q Query) HasFlag(name string) bool {
	for _, f := range q.flags {
		if f == name {
			return true
		}
	}
	return false
}

// Criteria returns the filter criteria. The slice must not be mutated.
func (q Query) Criteria() []Criterion { return q.criteria }

// CriteriaValues returns the values of all criteria with the given
// filter type.
func (q Query) CriteriaValues(filterType string) []string {
	var values []string
	for _, c := range q.criteria {
		if c.FilterType == filterType {
			values = append(values, c.Value)
		}
	}
	return values
}

// AssetTypes returns the requested asset types.
func (q Query) AssetTypes() []string { return q.assetTypes }

// Source returns the telemetry source tag.
func (q Query) Source() string { return q.source }
