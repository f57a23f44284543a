package xtream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"golang.org/x/time/rate"
)

const DefaultTimeout = 10 * time.Second

var (
	schemePattern  = regexp.MustCompile(`(?i)^https?://`)
	apiFilePattern = regexp.MustCompile(`(?i)/(player_api\.php|get\.php)$`)
)

// NormalizeHost reduces a user-entered portal address to scheme://host[:port][/path]
// with no API file, query, fragment or trailing slash.
func NormalizeHost(host string) string {
	trimmed := strings.TrimSpace(host)
	if trimmed == "" {
		return ""
	}

	withScheme := trimmed
	if !schemePattern.MatchString(trimmed) {
		withScheme = "http://" + trimmed
	}

	u, err := url.Parse(withScheme)
	if err != nil || u.Host == "" {
		return strings.TrimRight(trimmed, "/")
	}

	hostname := strings.ToLower(u.Host)
	if (u.Scheme == "http" && strings.HasSuffix(hostname, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(hostname, ":443")) {
		hostname = hostname[:strings.LastIndex(hostname, ":")]
	}

	// Strip until stable so a second pass finds nothing left to remove.
	path := strings.TrimRight(u.EscapedPath(), "/")
	for {
		next := strings.TrimRight(apiFilePattern.ReplaceAllString(path, ""), "/")
		if next == path {
			break
		}
		path = next
	}

	return strings.TrimRight(u.Scheme+"://"+hostname+path, "/")
}

// StatusError is returned for non-2xx portal responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d %s", e.Code, http.StatusText(e.Code))
}

// RequestObserver is notified after every portal request. status is 0 when
// the request failed before a response arrived.
type RequestObserver func(action string, status int, duration time.Duration)

type ClientOptions struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	UserAgent  string
	// RateLimit is the maximum number of requests per second; 0 disables pacing.
	RateLimit float64
	Observer  RequestObserver
}

// Client talks to Xtream-Codes compatible portals.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
	limiter    *rate.Limiter
	observer   RequestObserver
}

func NewClient(opts ClientOptions) *Client {
	c := &Client{
		httpClient: opts.HTTPClient,
		timeout:    opts.Timeout,
		userAgent:  opts.UserAgent,
		observer:   opts.Observer,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return c
}

func buildAPIURL(creds Credentials, params url.Values) string {
	query := url.Values{}
	query.Set("username", creds.Username)
	query.Set("password", creds.Password)
	for key, values := range params {
		for _, v := range values {
			query.Set(key, v)
		}
	}
	return NormalizeHost(creds.Host) + "/player_api.php?" + query.Encode()
}

func (c *Client) requestTimeout(creds Credentials) time.Duration {
	if creds.Timeout > 0 {
		return creds.Timeout
	}
	return c.timeout
}

// open performs a paced GET and returns the response for a 2xx status.
func (c *Client) open(ctx context.Context, action, rawURL string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("failed to wait for rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(action, 0, time.Since(start))
		return nil, fmt.Errorf("failed to fetch %s: %w", action, err)
	}
	c.observe(action, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return resp, nil
}

func (c *Client) observe(action string, status int, d time.Duration) {
	if c.observer != nil {
		c.observer(action, status, d)
	}
}

func (c *Client) getBody(ctx context.Context, creds Credentials, action string, params url.Values) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.requestTimeout(creds))
	defer cancel()

	resp, err := c.open(timeoutCtx, action, buildAPIURL(creds, params))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", action, err)
	}
	return body, nil
}

func actionParams(action string, extra ...string) url.Values {
	params := url.Values{}
	if action != "" {
		params.Set("action", action)
	}
	for i := 0; i+1 < len(extra); i += 2 {
		params.Set(extra[i], extra[i+1])
	}
	return params
}

// fetchList decodes a JSON array response. Portals answer an empty section
// with null, {} or an empty body, which all yield an empty list.
func fetchList[T any](ctx context.Context, c *Client, creds Credentials, action string, params url.Values) ([]T, error) {
	body, err := c.getBody(ctx, creds, action, params)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) && trimmed[0] != '{' {
			return nil, fmt.Errorf("failed to decode %s response: unexpected payload", action)
		}
		slog.Debug("Portal returned no list", "action", action)
		return []T{}, nil
	}

	var items []T
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", action, err)
	}
	return items, nil
}

// VerifyCredentials reports whether the portal accepts the account. A 2xx
// answer that is not JSON counts as a rejection.
func (c *Client) VerifyCredentials(ctx context.Context, creds Credentials) (bool, error) {
	body, err := c.getBody(ctx, creds, "authenticate", nil)
	if err != nil {
		return false, err
	}
	return isAuthenticated(body), nil
}

func isAuthenticated(body []byte) bool {
	auth, dataType, _, err := jsonparser.Get(body, "user_info", "auth")
	if err == nil && dataType != jsonparser.Null {
		switch dataType {
		case jsonparser.Boolean:
			return string(auth) == "true"
		case jsonparser.Number, jsonparser.String:
			return string(auth) == "1"
		}
		return false
	}

	if status, err := jsonparser.GetString(body, "user_info", "status"); err == nil && status != "" {
		return strings.EqualFold(status, "active")
	}

	username, dataType, _, err := jsonparser.Get(body, "user_info", "username")
	if err != nil {
		return false
	}
	switch dataType {
	case jsonparser.String:
		return len(username) > 0
	case jsonparser.Number:
		return string(username) != "0"
	case jsonparser.Boolean:
		return string(username) == "true"
	}
	return false
}

func (c *Client) FetchAccountInfo(ctx context.Context, creds Credentials) (*AuthResponse, error) {
	body, err := c.getBody(ctx, creds, "authenticate", nil)
	if err != nil {
		return nil, err
	}

	var info AuthResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to decode account info: %w", err)
	}
	return &info, nil
}

func (c *Client) FetchLiveCategories(ctx context.Context, creds Credentials) ([]Category, error) {
	return fetchList[Category](ctx, c, creds, "get_live_categories", actionParams("get_live_categories"))
}

// FetchLiveStreams returns all channels when categoryID is "" or "all".
func (c *Client) FetchLiveStreams(ctx context.Context, creds Credentials, categoryID string) ([]LiveStream, error) {
	params := actionParams("get_live_streams")
	if categoryID != "" && categoryID != "all" {
		params.Set("category_id", categoryID)
	}
	return fetchList[LiveStream](ctx, c, creds, "get_live_streams", params)
}

func (c *Client) FetchVodCategories(ctx context.Context, creds Credentials) ([]Category, error) {
	return fetchList[Category](ctx, c, creds, "get_vod_categories", actionParams("get_vod_categories"))
}

func (c *Client) FetchVodStreams(ctx context.Context, creds Credentials) ([]VodStream, error) {
	return fetchList[VodStream](ctx, c, creds, "get_vod_streams", actionParams("get_vod_streams"))
}

func (c *Client) FetchSeriesCategories(ctx context.Context, creds Credentials) ([]Category, error) {
	return fetchList[Category](ctx, c, creds, "get_series_categories", actionParams("get_series_categories"))
}

func (c *Client) FetchSeries(ctx context.Context, creds Credentials) ([]SeriesItem, error) {
	return fetchList[SeriesItem](ctx, c, creds, "get_series", actionParams("get_series"))
}

// FetchVodInfo returns the detail payload as sent by the portal.
func (c *Client) FetchVodInfo(ctx context.Context, creds Credentials, vodID string) (json.RawMessage, error) {
	return c.fetchObject(ctx, creds, "get_vod_info", actionParams("get_vod_info", "vod_id", vodID))
}

func (c *Client) FetchSeriesInfo(ctx context.Context, creds Credentials, seriesID string) (json.RawMessage, error) {
	return c.fetchObject(ctx, creds, "get_series_info", actionParams("get_series_info", "series_id", seriesID))
}

func (c *Client) fetchObject(ctx context.Context, creds Credentials, action string, params url.Values) (json.RawMessage, error) {
	body, err := c.getBody(ctx, creds, action, params)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("failed to decode %s response: invalid JSON", action)
	}
	return json.RawMessage(trimmed), nil
}
