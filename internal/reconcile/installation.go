// internal/reconcile/installation.go
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "workspace-engine/internal/errors"
	"workspace-engine/internal/model"
)

// Installation is the externally observed state of one git-provider app
// installation, as delivered by webhooks or periodic listings. AccountID is
// nil when the provider no longer reports the owning account, which marks a
// stale installation.
type Installation struct {
	ID                  int64
	AccountID           *int64
	AccountLogin        string
	AccountType         model.AccountType
	AvatarURL           string
	RepositorySelection string
}

// WorkspaceStore is the workspace persistence surface the reconciler needs.
type WorkspaceStore interface {
	GetByInstallationID(ctx context.Context, installationID int64) (*model.Workspace, error)
	GetByAccountLogin(ctx context.Context, login string) (*model.Workspace, error)
	Create(ctx context.Context, w *model.Workspace) error
	Update(ctx context.Context, w *model.Workspace) error
	AddOwner(ctx context.Context, workspaceID, userID int64) error
}

// UserStore resolves the owner record for newly created workspaces.
type UserStore interface {
	FindOrCreateByExternalID(ctx context.Context, externalID int64, login, avatarURL string) (*model.User, error)
}

// SlugAllocator allocates the slug for newly created workspaces.
type SlugAllocator interface {
	Allocate(ctx context.Context, desired, seed string) (string, error)
}

// MonitorRetargeter rewrites monitor owner prefixes on account rename.
type MonitorRetargeter interface {
	RetargetOwner(ctx context.Context, workspaceID int64, oldOwner, newOwner string) (int64, error)
}

// RepositoryRenamer rewrites shared repository records on account rename.
type RepositoryRenamer interface {
	RenameOwner(ctx context.Context, oldOwner, newOwner string) (int64, error)
}

// ConsumerController refreshes a workspace's consumer subjects after renames.
type ConsumerController interface {
	UpdateScopeConsumer(ctx context.Context, workspaceID int64) error
}

// TxRunner scopes a set of writes to one atomic unit.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Reconciler merges external installation listings into local workspace
// records.
type Reconciler struct {
	tx         TxRunner
	workspaces WorkspaceStore
	users      UserStore
	slugs      SlugAllocator
	monitors   MonitorRetargeter
	repos      RepositoryRenamer
	consumers  ConsumerController
	logger     *slog.Logger
	now        func() time.Time
}

func NewReconciler(tx TxRunner, workspaces WorkspaceStore, users UserStore, slugs SlugAllocator,
	monitors MonitorRetargeter, repos RepositoryRenamer, consumers ConsumerController, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		tx:         tx,
		workspaces: workspaces,
		users:      users,
		slugs:      slugs,
		monitors:   monitors,
		repos:      repos,
		consumers:  consumers,
		logger:     logger,
		now:        time.Now,
	}
}

// Reconcile merges one installation into local state. The decision order
// protects hand-configured PAT credentials from being clobbered by an
// unrelated installation while still promoting placeholder PAT workspaces.
// Returns nil (no error) for a stale installation with no account id.
func (r *Reconciler) Reconcile(ctx context.Context, inst Installation) (*model.Workspace, error) {
	// 1. Already linked to this installation: update in place.
	w, err := r.workspaces.GetByInstallationID(ctx, inst.ID)
	if err == nil {
		return r.relink(ctx, w, inst)
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}

	// 2. A workspace already claims the account login.
	w, err = r.workspaces.GetByAccountLogin(ctx, inst.AccountLogin)
	if err == nil {
		if w.ProviderMode.UsesPAT() && w.HasStoredToken() {
			// Manual PAT configuration takes precedence over auto-linking.
			r.logger.Info("leaving PAT-configured workspace untouched",
				"workspace", w.Slug, "installation_id", inst.ID)
			return w, nil
		}
		return r.relink(ctx, w, inst)
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}

	// 3. No workspace for this login: create one.
	return r.create(ctx, inst)
}

// relink points an existing workspace at the installation: installation mode,
// any stored PAT cleared, login refreshed, linked timestamp set once.
func (r *Reconciler) relink(ctx context.Context, w *model.Workspace, inst Installation) (*model.Workspace, error) {
	w.ProviderMode = model.ModeGithubAppInstallation
	w.InstallationID = &inst.ID
	w.SealedPAT = ""
	if inst.AccountLogin != "" {
		w.AccountLogin = inst.AccountLogin
	}
	if inst.AccountType != "" {
		w.AccountType = inst.AccountType
	}
	if w.InstallationLinkedAt == nil {
		linked := r.now()
		w.InstallationLinkedAt = &linked
	}
	if err := r.workspaces.Update(ctx, w); err != nil {
		return nil, err
	}
	r.logger.Info("linked workspace to installation",
		"workspace", w.Slug, "installation_id", inst.ID, "account", inst.AccountLogin)
	return w, nil
}

func (r *Reconciler) create(ctx context.Context, inst Installation) (*model.Workspace, error) {
	if inst.AccountID == nil {
		// No account data means the installation is stale or its account was
		// deleted; the caller skips it.
		r.logger.Warn("skipping installation without account id", "installation_id", inst.ID)
		return nil, nil
	}

	seed := fmt.Sprintf("install-%d-%s", inst.ID, inst.AccountLogin)
	allocated, err := r.slugs.Allocate(ctx, inst.AccountLogin, seed)
	if err != nil {
		return nil, err
	}

	linked := r.now()
	w := &model.Workspace{
		Slug:                 allocated,
		DisplayName:          inst.AccountLogin,
		AccountLogin:         inst.AccountLogin,
		AccountType:          inst.AccountType,
		ProviderMode:         model.ModeGithubAppInstallation,
		InstallationID:       &inst.ID,
		Status:               model.StatusActive,
		InstallationLinkedAt: &linked,
	}
	err = r.tx.InTx(ctx, func(ctx context.Context) error {
		owner, err := r.users.FindOrCreateByExternalID(ctx, *inst.AccountID, inst.AccountLogin, inst.AvatarURL)
		if err != nil {
			return err
		}
		if err := r.workspaces.Create(ctx, w); err != nil {
			return err
		}
		return r.workspaces.AddOwner(ctx, w.ID, owner.ID)
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("created workspace for installation",
		"workspace", w.Slug, "installation_id", inst.ID, "account", inst.AccountLogin)
	return w, nil
}

// ReconcileAll runs Reconcile over a listing, isolating per-item failures.
func (r *Reconciler) ReconcileAll(ctx context.Context, installations []Installation) {
	for _, inst := range installations {
		if _, err := r.Reconcile(ctx, inst); err != nil {
			r.logger.Error("installation reconciliation failed",
				"installation_id", inst.ID, "account", inst.AccountLogin, "error", err)
		}
	}
}

// HandleAccountRename reacts to the provider renaming an account: the
// workspace login, every monitor under the old owner prefix and the matching
// shared repository records are all rewritten in one transaction, then the
// consumer subjects are refreshed. Atomicity keeps the consumer from
// listening on stale subjects.
func (r *Reconciler) HandleAccountRename(ctx context.Context, installationID int64, previousLogin, newLogin string) error {
	if previousLogin == "" || newLogin == "" {
		return &apperrors.InvalidInputError{Reason: "account rename requires both logins"}
	}
	w, err := r.workspaces.GetByInstallationID(ctx, installationID)
	if err != nil {
		return err
	}

	var monitorsMoved, reposMoved int64
	err = r.tx.InTx(ctx, func(ctx context.Context) error {
		w.AccountLogin = newLogin
		if w.DisplayName == previousLogin {
			w.DisplayName = newLogin
		}
		if err := r.workspaces.Update(ctx, w); err != nil {
			return err
		}
		if monitorsMoved, err = r.monitors.RetargetOwner(ctx, w.ID, previousLogin, newLogin); err != nil {
			return err
		}
		if reposMoved, err = r.repos.RenameOwner(ctx, previousLogin, newLogin); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info("handled account rename",
		"workspace", w.Slug, "previous", previousLogin, "new", newLogin,
		"monitors", monitorsMoved, "repositories", reposMoved)
	return r.consumers.UpdateScopeConsumer(ctx, w.ID)
}
