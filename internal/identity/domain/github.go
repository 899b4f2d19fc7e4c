package domain

import "context"

// GitHubRepo is the subset of the repository-metadata response the
// resolver needs.
type GitHubRepo struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	HTMLURL     string `json:"html_url"`
	Private     bool   `json:"private"`
	Owner       struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// GitHubClient fetches repository metadata for slug validation. Missing,
// private, or inaccessible repositories must surface ErrRepoNotFound.
type GitHubClient interface {
	GetRepo(ctx context.Context, owner, repo string) (*GitHubRepo, error)
}
