package gallery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/extmarket-labs/extmarket/internal/extension"
	"github.com/google/uuid"
)

// ServiceManifest is the server's capability document: the mapping from
// abstract filter/flag/sort names to the codes its query protocol
// accepts, plus the resource-API URI templates.
type ServiceManifest struct {
	FilterTypes map[string]int `json:"filterTypes"`
	Flags       map[string]int `json:"flags"`
	SortBy      map[string]int `json:"sortBy"`

	// ResourceURLTemplate, when present, serves direct single-extension
	// lookups; {publisher} and {name} are substituted.
	ResourceURLTemplate         string `json:"resourceUrlTemplate,omitempty"`
	FallbackResourceURLTemplate string `json:"fallbackResourceUrlTemplate,omitempty"`
}

// QueryResult is the first result page of a raw query.
type QueryResult struct {
	Extensions []RawExtension
	Total      int64
	Context    string
}

// rawQueryResponse mirrors the wire shape of a query response.
type rawQueryResponse struct {
	Results []struct {
		Extensions     []RawExtension `json:"extensions"`
		ResultMetadata []struct {
			MetadataType  string `json:"metadataType"`
			MetadataItems []struct {
				Name  string `json:"name"`
				Count int64  `json:"count"`
			} `json:"metadataItems"`
		} `json:"resultMetadata"`
	} `json:"results"`
}

// Client executes raw queries and direct lookups against the
// marketplace service.
type Client struct {
	httpClient        *http.Client
	serviceURL        string
	productIdentifier string
	timeout           time.Duration

	manifestMu sync.Mutex
	manifest   *ServiceManifest
}

// NewClient builds a raw client for the given service endpoint.
func NewClient(serviceURL, productIdentifier string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient:        &http.Client{},
		serviceURL:        strings.TrimRight(serviceURL, "/"),
		productIdentifier: productIdentifier,
		timeout:           timeout,
	}
}

// Capabilities fetches and caches the server's capability manifest.
func (c *Client) Capabilities(ctx context.Context) (*ServiceManifest, error) {
	c.manifestMu.Lock()
	defer c.manifestMu.Unlock()
	if c.manifest != nil {
		return c.manifest, nil
	}

	body, _, err := c.get(ctx, c.serviceURL+"/capabilities")
	if err != nil {
		return nil, err
	}

	var m ServiceManifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, extension.Errorf(extension.ErrFailed, "parsing capability manifest: %v", err)
	}
	c.manifest = &m
	return c.manifest, nil
}

// QueryRaw executes one query page as a single POST. Flag and filter
// names unknown to the server are dropped, not errors. A 4xx response
// is a soft failure yielding an empty result; 5xx and transport errors
// are classified into the error taxonomy and raised.
func (c *Client) QueryRaw(ctx context.Context, q Query) (*QueryResult, error) {
	manifest, err := c.Capabilities(ctx)
	if err != nil {
		return nil, err
	}

	type wireCriterion struct {
		FilterType int    `json:"filterType"`
		Value      string `json:"value"`
	}
	var criteria []wireCriterion

	for _, crit := range q.Criteria() {
		code, ok := manifest.FilterTypes[crit.FilterType]
		if !ok {
			continue
		}
		criteria = append(criteria, wireCriterion{FilterType: code, Value: crit.Value})
	}

	// Every query targets this product.
	if code, ok := manifest.FilterTypes[FilterTarget]; ok {
		criteria = append(criteria, wireCriterion{FilterType: code, Value: c.productIdentifier})
	}

	// Exclude unpublished extensions when the server can.
	if unpublished, ok := manifest.Flags[FlagUnpublished]; ok {
		if code, ok := manifest.FilterTypes[FilterExcludeWithFlags]; ok {
			criteria = append(criteria, wireCriterion{FilterType: code, Value: strconv.Itoa(unpublished)})
		}
	}

	flags := 0
	for _, name := range q.Flags() {
		if bit, ok := manifest.Flags[name]; ok {
			flags |= bit
		}
	}

	sortBy := manifest.SortBy[q.SortBy()]

	payload := map[string]any{
		"filters": []map[string]any{{
			"criteria":   criteria,
			"pageNumber": q.PageNumber(),
			"pageSize":   q.PageSize(),
			"sortBy":     sortBy,
			"sortOrder":  q.SortOrder(),
		}},
		"assetTypes": q.AssetTypes(),
		"flags":      flags,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.serviceURL+"/extensionquery", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json;api-version=3.0-preview.1")
	if src := q.Source(); src != "" {
		req.Header.Set("X-Market-Search-Source", src)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	queryContext := resp.Header.Get("activityid")
	if queryContext == "" {
		queryContext = uuid.NewString()
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		// Soft fail: no extensions match.
		return &QueryResult{Context: queryContext}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, extension.Errorf(extension.ErrFailed, "query returned status %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}

	var parsed rawQueryResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, extension.Errorf(extension.ErrFailed, "parsing query response: %v", err)
	}
	if len(parsed.Results) == 0 {
		return &QueryResult{Context: queryContext}, nil
	}

	first := parsed.Results[0]
	result := &QueryResult{
		Extensions: first.Extensions,
		Context:    queryContext,
	}
	for _, md := range first.ResultMetadata {
		if md.MetadataType != "ResultCount" {
			continue
		}
		for _, item := range md.MetadataItems {
			if item.Name == "TotalCount" {
				result.Total = item.Count
			}
		}
	}
	return result, nil
}

// LatestRaw looks a single extension up through a URI template. It
// returns nil with no error on 404.
func (c *Client) LatestRaw(ctx context.Context, id extension.Identifier, template string) (*RawExtension, error) {
	publisher, name, err := extension.ParseID(id.ID)
	if err != nil {
		return nil, extension.NewError(extension.ErrInvalid, err)
	}

	uri := strings.NewReplacer("{publisher}", publisher, "{name}", name).Replace(template)
	body, status, err := c.get(ctx, uri)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}

	var raw RawExtension
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, extension.Errorf(extension.ErrFailed, "parsing extension record: %v", err)
	}
	return &raw, nil
}

// ReportStatistic records an install or uninstall against the server.
// Failures are returned but callers treat this as fire-and-forget.
func (c *Client) ReportStatistic(ctx context.Context, id extension.Identifier, version, statistic string) error {
	publisher, name, err := extension.ParseID(id.ID)
	if err != nil {
		return extension.NewError(extension.ErrInvalid, err)
	}

	uri := fmt.Sprintf("%s/publishers/%s/extensions/%s/%s/stats?statType=%s",
		c.serviceURL, publisher, name, version, statistic)

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, uri, nil)
	if err != nil {
		return fmt.Errorf("creating statistic request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(ctx, err)
	}
	resp.Body.Close()
	return nil
}

// get fetches a URL with the client timeout. Non-200/404 statuses are
// errors; the caller distinguishes 404 through the returned status.
func (c *Client) get(ctx context.Context, url string) ([]byte, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, http.StatusNotFound, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, extension.Errorf(extension.ErrFailed, "GET %s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, classifyTransport(ctx, err)
	}
	return body, resp.StatusCode, nil
}

// classifyTransport folds a transport failure into the error taxonomy.
// The caller's context distinguishes cancellation from a timed-out
// request deadline.
func classifyTransport(ctx context.Context, err error) error {
	if ctx.Err() == context.Canceled {
		return extension.NewError(extension.ErrCancelled, err)
	}
	return extension.NewError(extension.CodeOf(err), err)
}
