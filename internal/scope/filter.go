// internal/scope/filter.go
package scope

import (
	"strings"

	"workspace-engine/internal/model"
)

// Filter is the operator-configured allow-list restricting which accounts and
// repositories are actively synced. An empty list allows everything. Entries
// are either an account login ("acme") or a full repository name
// ("acme/widgets"); matching is case-insensitive.
type Filter struct {
	accounts     map[string]struct{}
	repositories map[string]struct{}
}

// NewFilter parses the configured allow-list entries.
func NewFilter(allowed []string) *Filter {
	f := &Filter{
		accounts:     make(map[string]struct{}),
		repositories: make(map[string]struct{}),
	}
	for _, entry := range allowed {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			f.repositories[entry] = struct{}{}
		} else {
			f.accounts[entry] = struct{}{}
		}
	}
	return f
}

// Open reports whether the filter admits everything.
func (f *Filter) Open() bool {
	return len(f.accounts) == 0 && len(f.repositories) == 0
}

// WorkspaceAllowed reports whether the workspace's account is in scope.
func (f *Filter) WorkspaceAllowed(w *model.Workspace) bool {
	if f.Open() {
		return true
	}
	if _, ok := f.accounts[strings.ToLower(w.AccountLogin)]; ok {
		return true
	}
	// A workspace is also in scope when any explicitly allowed repository
	// belongs to its account.
	prefix := strings.ToLower(w.AccountLogin) + "/"
	for repo := range f.repositories {
		if strings.HasPrefix(repo, prefix) {
			return true
		}
	}
	return false
}

// RepositoryAllowed reports whether a repository may be synced, either via
// its owning account or an explicit repository entry.
func (f *Filter) RepositoryAllowed(nameWithOwner string) bool {
	if f.Open() {
		return true
	}
	lowered := strings.ToLower(nameWithOwner)
	if _, ok := f.repositories[lowered]; ok {
		return true
	}
	owner, _, found := strings.Cut(lowered, "/")
	if !found {
		return false
	}
	_, ok := f.accounts[owner]
	return ok
}
