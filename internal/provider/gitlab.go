// internal/provider/gitlab.go
package provider

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	apperrors "workspace-engine/internal/errors"
	"workspace-engine/internal/model"
)

// GitLabClient wraps the GitLab API client for GITLAB_PAT workspaces.
type GitLabClient struct {
	gl     *gitlab.Client
	logger *slog.Logger
}

// NewGitLabClient builds a client for the given PAT. baseURL may be empty for
// gitlab.com.
func NewGitLabClient(token, baseURL string, logger *slog.Logger) (*GitLabClient, error) {
	var opts []gitlab.ClientOptionFunc
	if baseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(baseURL))
	}
	gl, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, err
	}
	return &GitLabClient{gl: gl, logger: logger}, nil
}

// HighestIssueNumber returns zero for GitLab projects: issue and merge
// request IIDs live in separate sequences there, so number-driven backfill
// does not apply and the repository counts as backfill-complete.
func (c *GitLabClient) HighestIssueNumber(ctx context.Context, owner, name string) (int, error) {
	return 0, nil
}

// CountIssueUpdatesSince returns how many project issues were updated since
// the given time and the latest update timestamp observed.
func (c *GitLabClient) CountIssueUpdatesSince(ctx context.Context, owner, name string, since time.Time) (int, time.Time, error) {
	path := owner + "/" + name
	opts := &gitlab.ListProjectIssuesOptions{
		UpdatedAfter: &since,
		ListOptions:  gitlab.ListOptions{PerPage: 100},
	}

	count := 0
	var latest time.Time
	for {
		issues, resp, err := c.gl.Issues.ListProjectIssues(path, opts, gitlab.WithContext(ctx))
		if err != nil {
			return 0, time.Time{}, err
		}
		for _, issue := range issues {
			count++
			if issue.UpdatedAt != nil && issue.UpdatedAt.After(latest) {
				latest = *issue.UpdatedAt
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return count, latest, nil
}

// GetRepository resolves a project by its path-with-namespace and maps it to
// the shared repository model.
func (c *GitLabClient) GetRepository(ctx context.Context, owner, name string) (*model.Repository, error) {
	path := owner + "/" + name
	project, resp, err := c.gl.Projects.GetProject(path, nil, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, &apperrors.NotFoundError{Kind: "repository", Key: path}
		}
		return nil, err
	}

	var description *string
	if project.Description != "" {
		description = &project.Description
	}
	return &model.Repository{
		ProviderRepoID:  int64(project.ID),
		FullName:        project.PathWithNamespace,
		Name:            project.Path,
		Private:         project.Visibility != gitlab.PublicVisibility,
		Description:     description,
		StarsCount:      project.StarCount,
		ForksCount:      project.ForksCount,
		OpenIssuesCount: project.OpenIssuesCount,
	}, nil
}
