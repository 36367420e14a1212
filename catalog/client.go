package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultPageSize bounds a single listing request. Large reference types are
// fetched page by page so one refresh never depends on an unbounded response.
const DefaultPageSize = 500

// RESTClient implements Client against the catalog's REST surface.
// Authentication is a bearer token on every request; transport-level retry
// belongs to the http.Client (or a proxy), not here.
type RESTClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	PageSize   int
}

// NewRESTClient creates a catalog client with sane defaults. timeout bounds
// each individual request; zero means 30s.
func NewRESTClient(baseURL, token string, timeout time.Duration) *RESTClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RESTClient{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: timeout},
		PageSize:   DefaultPageSize,
	}
}

type listPage struct {
	Entities   []EntityHeader `json:"entities"`
	TotalCount int            `json:"totalCount"`
}

// ListEntities fetches the complete identity set for typeName, paging with
// the configured page size until the catalog returns a short page.
//
// Complexity: O(n/pageSize) round-trips for n entities of the type.
func (c *RESTClient) ListEntities(ctx context.Context, typeName string) ([]EntityHeader, error) {
	pageSize := c.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var all []EntityHeader
	for offset := 0; ; offset += pageSize {
		u := fmt.Sprintf("%s/api/catalog/types/%s/headers?limit=%d&offset=%d",
			c.BaseURL, url.PathEscape(typeName), pageSize, offset)

		var page listPage
		if err := c.getJSON(ctx, typeName, u, &page); err != nil {
			return nil, err
		}

		all = append(all, page.Entities...)
		if len(page.Entities) < pageSize {
			return all, nil
		}
	}
}

// ApplyMutation submits one mutation. The HTTP status maps onto the error
// taxonomy; callers never see raw status codes.
func (c *RESTClient) ApplyMutation(ctx context.Context, m Mutation) error {
	body, err := json.Marshal(m)
	if err != nil {
		return &PermanentError{Op: "applyMutation", Err: err}
	}

	u := c.BaseURL + "/api/catalog/mutations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Op: "applyMutation", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &TransientError{Op: "applyMutation", Err: err}
	}
	defer drainAndClose(resp.Body)

	return classifyStatus(resp.StatusCode, "applyMutation", m.TypeName, m.QualifiedName)
}

func (c *RESTClient) getJSON(ctx context.Context, typeName, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &PermanentError{Op: "listEntities", Err: err}
	}
	c.authorize(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &TransientError{Op: "listEntities", Err: err}
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, "listEntities", typeName, typeName)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransientError{Op: "listEntities", Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *RESTClient) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

// classifyStatus maps an HTTP status onto the error taxonomy:
// 2xx ok, 404 not-found, 408/409/429/5xx transient, remaining 4xx permanent.
func classifyStatus(status int, op, typeName, ref string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return &NotFoundError{TypeName: typeName, Ref: ref}
	case status == http.StatusRequestTimeout,
		status == http.StatusConflict,
		status == http.StatusTooManyRequests,
		status >= 500:
		return &TransientError{Op: op, Err: fmt.Errorf("status %d for %s %q", status, typeName, ref)}
	default:
		return &PermanentError{Op: op, Err: fmt.Errorf("status %d for %s %q", status, typeName, ref)}
	}
}

// drainAndClose keeps the underlying connection reusable.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}

var _ Client = (*RESTClient)(nil)
