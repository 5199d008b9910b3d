// internal/provider/credentials.go
package provider

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "workspace-engine/internal/errors"
	"workspace-engine/internal/model"
	"workspace-engine/internal/secret"
)

// InstallationTokenSource mints an API token scoped to a GitHub App
// installation. The default implementation hands back the configured
// app-level token; a real App deployment substitutes one that exchanges the
// app JWT for short-lived installation tokens.
type InstallationTokenSource interface {
	InstallationToken(ctx context.Context, installationID int64) (string, error)
}

// StaticInstallationTokenSource satisfies InstallationTokenSource with one
// fixed token.
type StaticInstallationTokenSource struct {
	Token string
}

func (s *StaticInstallationTokenSource) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	if s.Token == "" {
		return "", &apperrors.IllegalStateError{Reason: "no installation token configured"}
	}
	return s.Token, nil
}

// Credentials resolves a usable token for a workspace from its provider mode:
// stored PATs are unsealed, installation mode goes through the token source.
type Credentials struct {
	sealer        *secret.Sealer
	installations InstallationTokenSource
}

func NewCredentials(sealer *secret.Sealer, installations InstallationTokenSource) *Credentials {
	return &Credentials{sealer: sealer, installations: installations}
}

// TokenFor returns the API token for the workspace. A PAT-mode workspace
// without a stored token gets an IllegalState error; activation skips such
// workspaces before ever asking.
func (c *Credentials) TokenFor(ctx context.Context, w *model.Workspace) (string, error) {
	switch w.ProviderMode {
	case model.ModePATOrg, model.ModeGitlabPAT:
		if !w.HasStoredToken() {
			return "", &apperrors.IllegalStateError{
				Reason: fmt.Sprintf("workspace %q has no stored token", w.Slug),
			}
		}
		return c.sealer.Open(w.SealedPAT)
	case model.ModeGithubAppInstallation:
		if w.InstallationID == nil {
			return "", &apperrors.IllegalStateError{
				Reason: fmt.Sprintf("workspace %q is in installation mode without an installation id", w.Slug),
			}
		}
		return c.installations.InstallationToken(ctx, *w.InstallationID)
	default:
		return "", fmt.Errorf("unknown provider mode %q", w.ProviderMode)
	}
}

// Resolver resolves repositories against the right provider for a workspace.
type Resolver struct {
	credentials *Credentials
	gitlabURL   string
	logger      *slog.Logger
}

func NewResolver(credentials *Credentials, gitlabURL string, logger *slog.Logger) *Resolver {
	return &Resolver{credentials: credentials, gitlabURL: gitlabURL, logger: logger}
}

// Resolve checks that owner/name exists on the workspace's provider and
// returns its snapshot. The switch over provider modes is exhaustive.
func (r *Resolver) Resolve(ctx context.Context, w *model.Workspace, owner, name string) (*model.Repository, error) {
	token, err := r.credentials.TokenFor(ctx, w)
	if err != nil {
		return nil, err
	}
	switch w.ProviderMode {
	case model.ModePATOrg, model.ModeGithubAppInstallation:
		return NewGitHubClient(token, r.logger).GetRepository(ctx, owner, name)
	case model.ModeGitlabPAT:
		gl, err := NewGitLabClient(token, r.gitlabURL, r.logger)
		if err != nil {
			return nil, err
		}
		return gl.GetRepository(ctx, owner, name)
	default:
		return nil, fmt.Errorf("unknown provider mode %q", w.ProviderMode)
	}
}

// Enumerator lists the repositories visible to a GitHub App installation.
type Enumerator struct {
	installations InstallationTokenSource
	logger        *slog.Logger
}

func NewEnumerator(installations InstallationTokenSource, logger *slog.Logger) *Enumerator {
	return &Enumerator{installations: installations, logger: logger}
}

func (e *Enumerator) ListInstallationRepositories(ctx context.Context, installationID int64) ([]model.InstallationRepositorySnapshot, error) {
	token, err := e.installations.InstallationToken(ctx, installationID)
	if err != nil {
		return nil, err
	}
	return NewGitHubClient(token, e.logger).ListInstallationRepositories(ctx)
}
