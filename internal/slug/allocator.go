// internal/slug/allocator.go
package slug

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"

	apperrors "workspace-engine/internal/errors"
	"workspace-engine/internal/model"
)

const (
	// MaxLen is the longest slug the validation pattern admits.
	MaxLen = 51

	suffixLen   = 10
	maxAttempts = 50

	// DefaultRedirectTTL is how long a rename redirect stays live.
	DefaultRedirectTTL = 30 * 24 * time.Hour

	// DefaultHistoryKeep is how many rename records are retained per workspace.
	DefaultHistoryKeep = 5
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{2,50}$`)

// WorkspaceIndex answers whether a live workspace claims a slug.
type WorkspaceIndex interface {
	SlugTaken(ctx context.Context, slug string) (bool, error)
}

// HistoryStore persists rename records.
type HistoryStore interface {
	Record(ctx context.Context, h *model.SlugHistory) error
	Prune(ctx context.Context, workspaceID int64, keep int) error
	ActiveRedirect(ctx context.Context, oldSlug string, now time.Time) (*model.SlugHistory, error)
}

// Allocator hands out collision-free workspace slugs and tracks rename
// history for redirects. Allocation is deterministic for a fixed seed so a
// replayed reconciliation run lands on the same slug.
type Allocator struct {
	workspaces  WorkspaceIndex
	history     HistoryStore
	redirectTTL time.Duration
	historyKeep int
	logger      *slog.Logger
	now         func() time.Time
}

// NewAllocator builds an Allocator. A redirectTTL <= 0 makes redirects
// permanent; a historyKeep <= 0 falls back to the default.
func NewAllocator(workspaces WorkspaceIndex, history HistoryStore, redirectTTL time.Duration, historyKeep int, logger *slog.Logger) *Allocator {
	if historyKeep <= 0 {
		historyKeep = DefaultHistoryKeep
	}
	return &Allocator{
		workspaces:  workspaces,
		history:     history,
		redirectTTL: redirectTTL,
		historyKeep: historyKeep,
		logger:      logger,
		now:         time.Now,
	}
}

// Normalize lower-cases the input, collapses whitespace, underscore and
// hyphen runs into single hyphens, drops everything else that is not
// alphanumeric, and strips leading/trailing hyphens. It is total and
// idempotent.
func Normalize(raw string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(raw) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '_' || r == '-':
			pendingHyphen = true
		}
	}
	return b.String()
}

// Validate checks the canonical slug shape: 3 to 51 chars, lowercase
// alphanumerics and hyphens, starting with an alphanumeric.
func Validate(s string) error {
	if !slugPattern.MatchString(s) {
		return &apperrors.InvalidInputError{Reason: fmt.Sprintf("invalid slug %q", s)}
	}
	return nil
}

// IsAvailable reports whether no live workspace claims the slug and no active
// redirect still points away from it.
func (a *Allocator) IsAvailable(ctx context.Context, s string) (bool, error) {
	taken, err := a.workspaces.SlugTaken(ctx, s)
	if err != nil {
		return false, err
	}
	if taken {
		return false, nil
	}
	redirect, err := a.history.ActiveRedirect(ctx, s, a.now())
	if err != nil {
		return false, err
	}
	return redirect == nil, nil
}

// Allocate returns the normalized desired slug when free. On collision it
// appends a stable ten-hex-char suffix derived from
// SHA-256(seed + "-" + desired), truncating the base to fit, and as a last
// resort numbered variants of that. Fails with a conflict once attempts are
// exhausted.
func (a *Allocator) Allocate(ctx context.Context, desired, seed string) (string, error) {
	base := Normalize(desired)
	if err := Validate(base); err != nil {
		return "", err
	}

	free, err := a.IsAvailable(ctx, base)
	if err != nil {
		return "", err
	}
	if free {
		return base, nil
	}

	sum := sha256.Sum256([]byte(seed + "-" + desired))
	suffix := hex.EncodeToString(sum[:])[:suffixLen]

	candidate := withTail(base, suffix)
	free, err = a.IsAvailable(ctx, candidate)
	if err != nil {
		return "", err
	}
	if free {
		a.logger.Debug("slug collision resolved with hash suffix", "desired", base, "slug", candidate)
		return candidate, nil
	}

	for i := 1; i <= maxAttempts; i++ {
		numbered := withTail(candidate, fmt.Sprintf("%d", i))
		free, err = a.IsAvailable(ctx, numbered)
		if err != nil {
			return "", err
		}
		if free {
			return numbered, nil
		}
	}
	return "", &apperrors.ConflictError{Reason: fmt.Sprintf("could not allocate a slug for %q", desired)}
}

// withTail appends "-tail", truncating base so the result stays within
// MaxLen. Truncation never leaves a trailing hyphen on the base.
func withTail(base, tail string) string {
	max := MaxLen - len(tail) - 1
	if len(base) > max {
		base = strings.TrimRight(base[:max], "-")
	}
	return base + "-" + tail
}

// RecordRename appends a history entry for the rename and prunes the
// workspace's history to the retention limit.
func (a *Allocator) RecordRename(ctx context.Context, workspaceID int64, oldSlug, newSlug string) error {
	entry := &model.SlugHistory{
		WorkspaceID: workspaceID,
		OldSlug:     oldSlug,
		NewSlug:     newSlug,
		ChangedAt:   a.now(),
	}
	if a.redirectTTL > 0 {
		expires := entry.ChangedAt.Add(a.redirectTTL)
		entry.RedirectExpiresAt = &expires
	}
	if err := a.history.Record(ctx, entry); err != nil {
		return err
	}
	a.logger.Info("recorded slug rename", "workspace_id", workspaceID, "old", oldSlug, "new", newSlug)
	return a.history.Prune(ctx, workspaceID, a.historyKeep)
}

// ResolveRedirect returns the current target for a historical slug, or ""
// when no live redirect exists.
func (a *Allocator) ResolveRedirect(ctx context.Context, oldSlug string) (string, error) {
	h, err := a.history.ActiveRedirect(ctx, oldSlug, a.now())
	if err != nil {
		return "", err
	}
	if h == nil {
		return "", nil
	}
	return h.NewSlug, nil
}
