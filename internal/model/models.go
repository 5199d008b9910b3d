// internal/model/models.go
package model

import (
	"strings"
	"time"
)

// ProviderMode selects how a workspace authenticates against its git host.
// Exactly one mode is active per workspace; every switch over a ProviderMode
// must handle all three values and treat anything else as a programming error.
type ProviderMode string

const (
	ModePATOrg                ProviderMode = "PAT_ORG"
	ModeGithubAppInstallation ProviderMode = "GITHUB_APP_INSTALLATION"
	ModeGitlabPAT             ProviderMode = "GITLAB_PAT"
)

// UsesPAT reports whether the mode authenticates with a stored personal
// access token rather than an app installation.
func (m ProviderMode) UsesPAT() bool {
	switch m {
	case ModePATOrg, ModeGitlabPAT:
		return true
	case ModeGithubAppInstallation:
		return false
	default:
		return false
	}
}

// WorkspaceStatus is the lifecycle state of a workspace. PURGED is terminal.
type WorkspaceStatus string

const (
	StatusActive    WorkspaceStatus = "ACTIVE"
	StatusSuspended WorkspaceStatus = "SUSPENDED"
	StatusPurged    WorkspaceStatus = "PURGED"
)

// AccountType distinguishes organization accounts from user accounts on the
// git host.
type AccountType string

const (
	AccountOrganization AccountType = "organization"
	AccountUser         AccountType = "user"
)

// Workspace is the tenant root: one sandboxed binding between local state and
// one external git-hosting account.
type Workspace struct {
	ID                    int64
	Slug                  string
	DisplayName           string
	AccountLogin          string
	AccountType           AccountType
	ProviderMode          ProviderMode
	InstallationID        *int64 // set iff ProviderMode == ModeGithubAppInstallation
	SealedPAT             string // AES-GCM sealed token, empty in installation mode
	Status                WorkspaceStatus
	Public                bool
	InstallationLinkedAt  *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// HasStoredToken reports whether the workspace carries a usable PAT.
func (w *Workspace) HasStoredToken() bool { return w.SealedPAT != "" }

// InstallationManaged reports whether the monitor set is driven by an app
// installation, which forbids manual repository management.
func (w *Workspace) InstallationManaged() bool {
	return w.ProviderMode == ModeGithubAppInstallation
}

// RepositoryMonitor tracks one repository inside exactly one workspace,
// including incremental sync watermarks and backwards-backfill progress.
type RepositoryMonitor struct {
	ID            int64
	WorkspaceID   int64
	NameWithOwner string // "owner/name"

	RepoSyncedAt          *time.Time
	LabelsSyncedAt        *time.Time
	MilestonesSyncedAt    *time.Time
	CollaboratorsSyncedAt *time.Time
	IssuesPRsSyncedAt     *time.Time

	IssueCursor *string
	PRCursor    *string

	// Backfill proceeds strictly downward from the high-water mark toward 1.
	// The mark is set once when backfill starts and never reset by this core.
	BackfillHighWaterMark *int
	BackfillCheckpoint    *int
	BackfillLastRunAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Owner returns the "owner" half of NameWithOwner, or "" when malformed.
func (m *RepositoryMonitor) Owner() string {
	owner, _, ok := strings.Cut(m.NameWithOwner, "/")
	if !ok {
		return ""
	}
	return owner
}

// BackfillInitialized reports whether backfill has started for this monitor.
func (m *RepositoryMonitor) BackfillInitialized() bool {
	return m.BackfillHighWaterMark != nil
}

// BackfillComplete reports whether there is nothing left to backfill. A
// high-water mark of zero means the repository had no issues or PRs at all,
// which counts as complete regardless of the checkpoint.
func (m *RepositoryMonitor) BackfillComplete() bool {
	if !m.BackfillInitialized() {
		return false
	}
	if *m.BackfillHighWaterMark == 0 {
		return true
	}
	return m.BackfillCheckpoint != nil && *m.BackfillCheckpoint <= 0
}

// BackfillRemaining returns how many issue/PR numbers remain to process. The
// checkpoint counts down, so before the first batch it equals the high-water
// mark.
func (m *RepositoryMonitor) BackfillRemaining() int {
	if !m.BackfillInitialized() || *m.BackfillHighWaterMark == 0 {
		return 0
	}
	if m.BackfillCheckpoint == nil {
		return *m.BackfillHighWaterMark
	}
	if *m.BackfillCheckpoint < 0 {
		return 0
	}
	return *m.BackfillCheckpoint
}

// SlugHistory is an immutable rename record kept for redirect support. A nil
// RedirectExpiresAt means the redirect never expires.
type SlugHistory struct {
	ID                int64
	WorkspaceID       int64
	OldSlug           string
	NewSlug           string
	ChangedAt         time.Time
	RedirectExpiresAt *time.Time
}

// RedirectActive reports whether the redirect still applies at time now.
func (h *SlugHistory) RedirectActive(now time.Time) bool {
	return h.RedirectExpiresAt == nil || h.RedirectExpiresAt.After(now)
}

// Repository is the shared (cross-workspace) record of a git repository.
type Repository struct {
	ID              int64
	ProviderRepoID  int64
	FullName        string // "owner/name"
	Name            string
	Private         bool
	Description     *string
	StarsCount      int
	ForksCount      int
	OpenIssuesCount int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// User is an account record usable as a workspace owner.
type User struct {
	ID                int64
	ExternalAccountID int64
	Login             string
	AvatarURL         string
	CreatedAt         time.Time
}

// InstallationRepositorySnapshot is one entry of an installation's repository
// enumeration as observed from the provider.
type InstallationRepositorySnapshot struct {
	ID            int64
	NameWithOwner string
	Name          string
	Private       bool
}

// SyncTarget is the projection handed to the sync engine for one monitored
// repository: everything it needs to resume incremental sync.
type SyncTarget struct {
	WorkspaceID    int64
	InstallationID *int64
	Token          string
	Mode           ProviderMode
	NameWithOwner  string

	RepoSyncedAt          *time.Time
	LabelsSyncedAt        *time.Time
	MilestonesSyncedAt    *time.Time
	CollaboratorsSyncedAt *time.Time
	IssuesPRsSyncedAt     *time.Time
	IssueCursor           *string
	PRCursor              *string
	BackfillHighWaterMark *int
	BackfillCheckpoint    *int
	BackfillLastRunAt     *time.Time
}
