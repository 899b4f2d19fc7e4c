// Package github is a thin client for the repository-metadata API.
package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tollgate-ai/tollgate/internal/config"
	identitydomain "github.com/tollgate-ai/tollgate/internal/identity/domain"
)

type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(cfg config.Config) identitydomain.GitHubClient {
	timeout := cfg.GitHub.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &client{
		baseURL: strings.TrimRight(cfg.GitHub.APIBaseURL, "/"),
		token:   cfg.GitHub.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

// GetRepo fetches /repos/{owner}/{repo}. Every failure mode maps to
// ErrRepoNotFound so the resolver fails closed instead of provisioning an
// application for a repo it could not verify.
func (c *client) GetRepo(ctx context.Context, owner, repo string) (*identitydomain.GitHubRepo, error) {
	endpoint := c.baseURL + "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, identitydomain.ErrRepoNotFound
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, identitydomain.ErrRepoNotFound
	}

	var repoResp identitydomain.GitHubRepo
	if err := json.NewDecoder(resp.Body).Decode(&repoResp); err != nil {
		return nil, identitydomain.ErrRepoNotFound
	}
	return &repoResp, nil
}
