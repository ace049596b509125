// Package reddit is a small OAuth client for the Reddit search and comment
// listing endpoints.
package reddit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadwatch/internal/resilience"
)

const (
	defaultBaseURL = "https://oauth.reddit.com"
	defaultAuthURL = "https://www.reddit.com/api/v1/access_token"
	defaultWindow  = "week"
	pageLimit      = 100
)

// Client searches Reddit for posts and comments.
type Client interface {
	SearchSubmissions(ctx context.Context, terms, subreddits []string) ([]Post, error)
	SearchComments(ctx context.Context, terms, subreddits []string) ([]Post, error)
	GlobalSearch(ctx context.Context, keywords []string) ([]Post, error)
}

// Credentials authenticate a script app through a refresh token.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	UserAgent    string
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithAuthURL overrides the token endpoint.
func WithAuthURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.authURL = u
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the default request rate (1 req/s). Zero disables throttling.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// WithWindow sets the search time window (hour, day, week, month, year, all).
func WithWindow(w string) Option {
	return func(c *httpClient) {
		if w != "" {
			c.window = w
		}
	}
}

// WithRetry overrides the retry policy for transient API failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	creds   Credentials
	baseURL string
	authURL string
	window  string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

// NewClient creates a Reddit API client.
func NewClient(creds Credentials, opts ...Option) Client {
	c := &httpClient{
		creds:   creds,
		baseURL: defaultBaseURL,
		authURL: defaultAuthURL,
		window:  defaultWindow,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(1, 1),
		retry:   resilience.DefaultRetryConfig(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("reddit", "request")
	}
	return c
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// accessToken returns a cached bearer token, refreshing it a minute before expiry.
func (c *httpClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {c.creds.RefreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", eris.Wrap(err, "reddit: create token request")
	}
	req.SetBasicAuth(c.creds.ClientID, c.creds.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.creds.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "reddit: token request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return "", resilience.StatusError("reddit: token", resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", eris.Wrap(err, "reddit: decode token")
	}
	if tok.AccessToken == "" {
		return "", eris.New("reddit: empty access token")
	}

	c.token = tok.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return c.token, nil
}

func (c *httpClient) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// getListing fetches one listing page with rate limiting and retries on
// transient failures.
func (c *httpClient) getListing(ctx context.Context, path string, query url.Values) (*listing, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*listing, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "reddit: rate limit")
			}
		}

		token, err := c.accessToken(ctx)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
		if err != nil {
			return nil, eris.Wrap(err, "reddit: create request")
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("User-Agent", c.creds.UserAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "reddit: get %s", path)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized {
			c.invalidateToken()
			return nil, resilience.NewTransientError(eris.Errorf("reddit: get %s: unauthorized", path), resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body) //nolint:errcheck
			return nil, &StatusError{Path: path, Err: resilience.StatusError("reddit: get "+path, resp.StatusCode), StatusCode: resp.StatusCode}
		}

		var l listing
		if err := json.NewDecoder(resp.Body).Decode(&l); err != nil {
			return nil, eris.Wrapf(err, "reddit: decode %s", path)
		}
		return &l, nil
	})
}

// StatusError is a non-2xx response from a listing endpoint.
type StatusError struct {
	Path       string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string { return e.Err.Error() }

func (e *StatusError) Unwrap() error { return e.Err }

// Inaccessible reports whether the subreddit is private, banned or missing.
func (e *StatusError) Inaccessible() bool {
	return e.StatusCode == http.StatusForbidden || e.StatusCode == http.StatusNotFound
}
