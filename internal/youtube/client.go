// Package youtube is the external broadcast adapter: it turns "start a
// broadcast titled X at time Y" into the YouTube Data API v3 calls that do
// it, and turns API responses back into Broadcast values.
package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"livesync/internal/platform/metrics"
	"livesync/internal/tokenstore"
)

const (
	// DefaultBaseURL is the Data API v3 root.
	DefaultBaseURL = "https://www.googleapis.com/youtube/v3"

	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 4 << 20
	maxListPages     = 10
	listPageSize     = "50"
	cleanupTimeout   = 15 * time.Second
)

// Options configures a Client. Zero values pick defaults.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	// Privacy is the privacyStatus for new broadcasts, "unlisted" by default.
	Privacy string
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Client talks to the YouTube Data API with bearer tokens from a token source.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  tokenstore.Source
	privacy string
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewClient returns a Client. Metrics and Logger in opts may be nil.
func NewClient(tokens tokenstore.Source, opts Options) *Client {
	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    opts.HTTPClient,
		tokens:  tokens,
		privacy: opts.Privacy,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: defaultTimeout}
	}
	if c.privacy == "" {
		c.privacy = "unlisted"
	}
	if c.log == nil {
		c.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

// do performs one authenticated API call. A nil body sends no payload; a nil
// out discards the response body.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode "+op)
		}
		payload = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, payload)
	if err != nil {
		return errors.Wrap(err, "build "+op)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.IncExternalError(op)
		return errors.Wrap(err, op)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.metrics.IncExternalError(op)
		return errors.Wrap(err, "read "+op)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.IncExternalError(op)
		return &ExternalAPIError{Operation: op, StatusCode: resp.StatusCode, RawBody: string(data)}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "decode "+op)
	}
	return nil
}
