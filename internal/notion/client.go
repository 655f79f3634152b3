// Package notion reads databases and pages from the Notion REST API and
// runs the OAuth flow that grants the bot access to a workspace.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/hay-kot/pagewatch/internal/core/logging"
	"github.com/hay-kot/pagewatch/internal/core/page"
	"github.com/hay-kot/pagewatch/internal/core/source"
)

const (
	DefaultBaseURL = "https://api.notion.com"
	DefaultVersion = "2022-06-28"

	pageSize     = 100
	maxErrorBody = 4 << 10
)

// Client implements source.Source against the Notion API.
type Client struct {
	baseURL string
	version string
	base    http.RoundTripper
	timeout time.Duration
	log     zerolog.Logger
}

var _ source.Source = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTransport sets the transport requests are sent through before the
// bearer token is attached.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) { c.base = rt }
}

// WithTimeout bounds every HTTP request.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// NewClient creates a client for baseURL speaking the given API version.
func NewClient(baseURL, version string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if version == "" {
		version = DefaultVersion
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		version: version,
		base:    http.DefaultTransport,
		log:     logging.Component("notion"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is an error response from the API.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	kind    error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notion: %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the response to the source error taxonomy.
func (e *APIError) Unwrap() error { return e.kind }

type listResponse struct {
	Results    []json.RawMessage `json:"results"`
	HasMore    bool              `json:"has_more"`
	NextCursor *string           `json:"next_cursor"`
}

type richText struct {
	PlainText string `json:"plain_text"`
}

type databaseObject struct {
	Object     string          `json:"object"`
	ID         string          `json:"id"`
	Title      []richText      `json:"title"`
	Archived   bool            `json:"archived"`
	InTrash    bool            `json:"in_trash"`
	Properties json.RawMessage `json:"properties"`
}

func (d databaseObject) title() string {
	var b strings.Builder
	for _, t := range d.Title {
		b.WriteString(t.PlainText)
	}
	if b.Len() == 0 {
		return "Untitled"
	}
	return b.String()
}

// ListDatabases returns every database shared with the integration.
func (c *Client) ListDatabases(ctx context.Context, credential string) ([]source.Database, error) {
	var out []source.Database

	err := c.paginate(ctx, credential, "/v1/search", map[string]any{
		"filter": map[string]string{"property": "object", "value": "database"},
	}, func(raw json.RawMessage) error {
		var db databaseObject
		if err := json.Unmarshal(raw, &db); err != nil {
			return fmt.Errorf("decode database: %w", err)
		}
		if db.Object != "database" || db.Archived || db.InTrash {
			return nil
		}
		out = append(out, source.Database{ID: db.ID, Title: db.title()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// FetchListing reads every live page of a database. Pages that cannot be
// decoded are logged and left out of the snapshot.
func (c *Client) FetchListing(ctx context.Context, credential, databaseID string) (page.Snapshot, error) {
	snap := page.Snapshot{DatabaseID: databaseID, TakenAt: time.Now().UTC(), Pages: []page.Page{}}

	path := "/v1/databases/" + url.PathEscape(databaseID) + "/query"
	skipped := 0
	err := c.paginate(ctx, credential, path, map[string]any{}, func(raw json.RawMessage) error {
		p, err := page.DecodeNotionPage(raw)
		if err != nil {
			skipped++
			c.log.Warn().Ctx(ctx).Str("database_id", databaseID).Err(err).Msg("skipping undecodable page")
			return nil
		}
		if !p.Archived {
			snap.Pages = append(snap.Pages, p)
		}
		return nil
	})
	if err != nil {
		return page.Snapshot{}, err
	}

	c.log.Debug().Ctx(ctx).
		Str("database_id", databaseID).
		Int("pages", len(snap.Pages)).
		Int("skipped", skipped).
		Msg("listing fetched")
	return snap, nil
}

// FetchSchema returns the properties of a database in declared order.
func (c *Client) FetchSchema(ctx context.Context, credential, databaseID string) (source.Schema, error) {
	var db databaseObject
	if err := c.do(ctx, credential, http.MethodGet, "/v1/databases/"+url.PathEscape(databaseID), nil, &db); err != nil {
		return nil, err
	}

	props, err := page.DecodeNotionProperties(db.Properties, false)
	if err != nil {
		return nil, fmt.Errorf("database %s: %w", databaseID, err)
	}

	schema := make(source.Schema, 0, len(props))
	for _, p := range props {
		schema = append(schema, source.Field{Name: p.Name, Type: p.Type})
	}
	return schema, nil
}

func (c *Client) paginate(ctx context.Context, credential, path string, body map[string]any, each func(json.RawMessage) error) error {
	body["page_size"] = pageSize

	for {
		var resp listResponse
		if err := c.do(ctx, credential, http.MethodPost, path, body, &resp); err != nil {
			return err
		}

		for _, raw := range resp.Results {
			if err := each(raw); err != nil {
				return err
			}
		}

		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			return nil
		}
		body["start_cursor"] = *resp.NextCursor
	}
}

func (c *Client) httpClient(credential string) *http.Client {
	return &http.Client{
		Timeout: c.timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: credential, TokenType: "Bearer"}),
			Base:   c.base,
		},
	}
}

func (c *Client) do(ctx context.Context, credential, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Notion-Version", c.version)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient(credential).Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", source.ErrTransient, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	apiErr.Status = resp.StatusCode

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		apiErr.kind = source.ErrAuth
	case resp.StatusCode == http.StatusNotFound:
		apiErr.kind = source.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		apiErr.kind = source.ErrTransient
	default:
		apiErr.kind = errors.New("request rejected")
	}

	return apiErr
}
