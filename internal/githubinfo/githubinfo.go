// Package githubinfo fetches repository metadata shown on a project page.
package githubinfo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v66/github"
)

var (
	// ErrNotGitHub is returned for URLs that do not name a GitHub repository.
	ErrNotGitHub = errors.New("not a github repository url")
	// ErrRepoNotFound is returned when GitHub reports the repository missing.
	ErrRepoNotFound = errors.New("repository not found")
)

// RepoInfo is the subset of repository metadata TrackIt displays.
type RepoInfo struct {
	FullName      string     `json:"full_name"`
	Description   string     `json:"description"`
	HTMLURL       string     `json:"html_url"`
	Stars         int        `json:"stars"`
	Forks         int        `json:"forks"`
	OpenIssues    int        `json:"open_issues"`
	DefaultBranch string     `json:"default_branch"`
	Language      string     `json:"language,omitempty"`
	PushedAt      *time.Time `json:"pushed_at,omitempty"`
	Archived      bool       `json:"archived"`
	FetchedAt     time.Time  `json:"fetched_at"`
}

// ParseRepoURL extracts owner and repo from a GitHub repository URL such as
// https://github.com/owner/repo, tolerating a trailing ".git", a trailing
// slash and extra path segments (e.g. /tree/main).
func ParseRepoURL(raw string) (owner, repo string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		return "", "", ErrNotGitHub
	}
	host := strings.ToLower(u.Host)
	if host != "github.com" && host != "www.github.com" {
		return "", "", ErrNotGitHub
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrNotGitHub
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

// Options configure a Client.
type Options struct {
	Token    string        // optional; raises the rate limit
	BaseURL  string        // API base URL; empty means api.github.com
	CacheTTL time.Duration // zero disables caching
	Timeout  time.Duration
}

// Client fetches repository metadata with a small in-memory TTL cache.
type Client struct {
	gh  *github.Client
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	cache map[string]*RepoInfo
}

// New returns a Client.
func New(opts Options) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	gh := github.NewClient(&http.Client{Timeout: timeout})
	if opts.Token != "" {
		gh = gh.WithAuthToken(opts.Token)
	}
	if opts.BaseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("github base url: %w", err)
		}
		gh.BaseURL = base
	}
	return &Client{gh: gh, ttl: opts.CacheTTL, now: time.Now, cache: make(map[string]*RepoInfo)}, nil
}

// Repo returns metadata for owner/repo, from cache when fresh.
func (c *Client) Repo(ctx context.Context, owner, repo string) (*RepoInfo, error) {
	key := strings.ToLower(owner + "/" + repo)
	if info := c.cached(key); info != nil {
		return info, nil
	}

	r, _, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s/%s: %w", owner, repo, ErrRepoNotFound)
		}
		return nil, fmt.Errorf("fetch %s/%s: %w", owner, repo, err)
	}

	info := &RepoInfo{
		FullName:      r.GetFullName(),
		Description:   r.GetDescription(),
		HTMLURL:       r.GetHTMLURL(),
		Stars:         r.GetStargazersCount(),
		Forks:         r.GetForksCount(),
		OpenIssues:    r.GetOpenIssuesCount(),
		DefaultBranch: r.GetDefaultBranch(),
		Language:      r.GetLanguage(),
		Archived:      r.GetArchived(),
		FetchedAt:     c.now().UTC(),
	}
	if r.PushedAt != nil {
		t := r.PushedAt.Time.UTC()
		info.PushedAt = &t
	}

	if c.ttl > 0 {
		c.mu.Lock()
		c.cache[key] = info
		c.mu.Unlock()
	}
	return info, nil
}

// RepoForURL parses a repository URL and fetches its metadata.
func (c *Client) RepoForURL(ctx context.Context, raw string) (*RepoInfo, error) {
	owner, repo, err := ParseRepoURL(raw)
	if err != nil {
		return nil, err
	}
	return c.Repo(ctx, owner, repo)
}

func (c *Client) cached(key string) *RepoInfo {
	if c.ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.cache[key]
	if !ok {
		return nil
	}
	if c.now().Sub(info.FetchedAt) >= c.ttl {
		delete(c.cache, key)
		return nil
	}
	return info
}
