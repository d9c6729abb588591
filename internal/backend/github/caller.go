// Package github is the GitHub adapter. The caller is responsible for the
// raw API requests: authentication headers, pagination and rate limit
// handling; mapping to core attribute sets lives in github.go.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/reposhub/reposhub/cfg"
	"github.com/reposhub/reposhub/internal/backend"
	"github.com/reposhub/reposhub/internal/limiter"
	"github.com/reposhub/reposhub/internal/token"
	"github.com/reposhub/reposhub/pkg/log"
)

const perPage = 100

// maxListPages bounds relation listings; beyond this the provider data is
// truncated rather than walked forever.
const maxListPages = 10

type Caller struct {
	Logger      log.Logger
	Config      *cfg.Config
	rateLimiter *limiter.RateLimiter
	client      *http.Client
}

func NewCaller(logger log.Logger, config *cfg.Config) *Caller {
	rps := config.GithubApi.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	return &Caller{
		Logger:      logger,
		Config:      config,
		rateLimiter: limiter.NewRateLimiter(rps),
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

// rateLimitError maps a rate-limited response to a typed 403 with the reset
// time in the message.
func (c *Caller) rateLimitError(ctx context.Context, resp *http.Response, what string) error {
	resetTimeStr := resp.Header.Get("X-RateLimit-Reset")
	resetTimeInt, err := strconv.ParseInt(resetTimeStr, 10, 64)
	if err != nil {
		c.Logger.Warn(ctx, "Rate limit hit, reset time unknown")
		return backend.MakeError(Name, http.StatusForbidden, what, "API rate limit reached")
	}

	resetTime := time.Unix(resetTimeInt, 0)
	c.Logger.Warn(ctx, "Rate limit hit, reset at %v", resetTime.Format(time.RFC3339))
	return backend.MakeError(Name, http.StatusForbidden, what,
		fmt.Sprintf("API rate limit reached, reset at %s", resetTime.Format(time.RFC3339)))
}

// Get performs an authenticated GET on path (relative to the configured API
// url) and decodes the JSON response into out.
func (c *Caller) Get(ctx context.Context, path, what string, tok *token.Token, out interface{}) error {
	body, err := c.getRaw(ctx, path, what, tok, "application/vnd.github.v3+json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response for %s: %w", path, err)
	}
	return nil
}

// GetRawText performs a GET asking for the raw media type, returning the
// body as-is. Used for readme content.
func (c *Caller) GetRawText(ctx context.Context, path, what string, tok *token.Token) (string, error) {
	body, err := c.getRaw(ctx, path, what, tok, "application/vnd.github.v3.raw")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Caller) getRaw(ctx context.Context, path, what string, tok *token.Token, accept string) ([]byte, error) {
	c.rateLimiter.Wait()

	fullUrl := c.Config.GithubApi.ApiUrl + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullUrl, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot build request: %w", err)
	}

	req.Header.Set("Accept", accept)
	if tok != nil && tok.Secret != "" {
		req.Header.Set("Authorization", fmt.Sprintf("token %s", tok.Secret))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0" {
		return nil, c.rateLimitError(ctx, resp, what)
	}

	if resp.StatusCode != http.StatusOK {
		message := ""
		var apiErr struct {
			Message string `json:"message"`
		}
		if body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096)); readErr == nil {
			if json.Unmarshal(body, &apiErr) == nil {
				message = apiErr.Message
			}
		}
		return nil, backend.MakeError(Name, resp.StatusCode, what, message)
	}

	return io.ReadAll(resp.Body)
}

// GetPaged fetches all pages of a list endpoint, up to maxListPages.
// collect is called once per page with the page body.
func (c *Caller) GetPaged(ctx context.Context, path, what string, tok *token.Token, collect func(body []byte) (int, error)) error {
	sep := "?"
	for i := 0; i < len(path); i++ {
		if path[i] == '?' {
			sep = "&"
			break
		}
	}

	for page := 1; page <= maxListPages; page++ {
		pagedPath := fmt.Sprintf("%s%sper_page=%d&page=%d", path, sep, perPage, page)
		body, err := c.getRaw(ctx, pagedPath, what, tok, "application/vnd.github.v3+json")
		if err != nil {
			return err
		}

		n, err := collect(body)
		if err != nil {
			return fmt.Errorf("failed to decode page %d of %s: %w", page, path, err)
		}
		if n < perPage {
			return nil
		}
	}

	c.Logger.Warn(ctx, "Truncating listing of %s after %d pages", path, maxListPages)
	return nil
}
