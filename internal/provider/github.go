// internal/provider/github.go
package provider

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	apperrors "workspace-engine/internal/errors"
	"workspace-engine/internal/model"
)

// GitHubClient is a wrapper around the go-github client.
type GitHubClient struct {
	gh     *github.Client
	logger *slog.Logger
}

// NewGitHubClient creates and configures a new GitHubClient. The provided
// token is used to create an authenticated http.Client; an empty token yields
// an unauthenticated client.
func NewGitHubClient(token string, logger *slog.Logger) *GitHubClient {
	var tc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		tc = oauth2.NewClient(context.Background(), ts)
	}
	return &GitHubClient{
		gh:     github.NewClient(tc),
		logger: logger,
	}
}

// GetRepository fetches repository details and translates them to the shared
// repository model. A 404 from the provider surfaces as NotFound.
func (c *GitHubClient) GetRepository(ctx context.Context, owner, name string) (*model.Repository, error) {
	repo, resp, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, &apperrors.NotFoundError{Kind: "repository", Key: owner + "/" + name}
		}
		return nil, err
	}
	return toSharedRepository(repo), nil
}

// ListInstallationRepositories enumerates every repository currently visible
// to the installation the client is authenticated as. It handles API
// pagination transparently.
func (c *GitHubClient) ListInstallationRepositories(ctx context.Context) ([]model.InstallationRepositorySnapshot, error) {
	var all []model.InstallationRepositorySnapshot

	opts := &github.ListOptions{PerPage: 100}
	for {
		c.logger.Debug("fetching installation repositories page", "page", opts.Page)
		repos, resp, err := c.gh.Apps.ListRepos(ctx, opts)
		if err != nil {
			return nil, err
		}
		for _, r := range repos.Repositories {
			all = append(all, model.InstallationRepositorySnapshot{
				ID:            r.GetID(),
				NameWithOwner: r.GetFullName(),
				Name:          r.GetName(),
				Private:       r.GetPrivate(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// HighestIssueNumber returns the highest issue or pull request number on the
// repository, or zero when it has none. Issue and PR numbers share one
// sequence, so the most recently created issue carries the high-water mark.
func (c *GitHubClient) HighestIssueNumber(ctx context.Context, owner, name string) (int, error) {
	issues, _, err := c.gh.Issues.ListByRepo(ctx, owner, name, &github.IssueListByRepoOptions{
		State:       "all",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return 0, err
	}
	if len(issues) == 0 {
		return 0, nil
	}
	return issues[0].GetNumber(), nil
}

// CountIssueUpdatesSince returns how many issues/PRs were updated since the
// given time and the latest update timestamp observed, paginating as needed.
func (c *GitHubClient) CountIssueUpdatesSince(ctx context.Context, owner, name string, since time.Time) (int, time.Time, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "all",
		Since:       since,
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	count := 0
	var latest time.Time
	for {
		issues, resp, err := c.gh.Issues.ListByRepo(ctx, owner, name, opts)
		if err != nil {
			return 0, time.Time{}, err
		}
		for _, issue := range issues {
			count++
			if updated := issue.GetUpdatedAt().Time; updated.After(latest) {
				latest = updated
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return count, latest, nil
}

func toSharedRepository(r *github.Repository) *model.Repository {
	return &model.Repository{
		ProviderRepoID:  r.GetID(),
		FullName:        r.GetFullName(),
		Name:            r.GetName(),
		Private:         r.GetPrivate(),
		Description:     r.Description,
		StarsCount:      r.GetStargazersCount(),
		ForksCount:      r.GetForksCount(),
		OpenIssuesCount: r.GetOpenIssuesCount(),
	}
}
