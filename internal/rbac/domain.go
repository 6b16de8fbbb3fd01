package rbac

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/venuedesk/venuedesk/internal/shared"
)

// Role represents a high-level permission grouping.
type Role struct {
	ID              uuid.UUID
	Name            string
	Description     string
	IsSystem        bool
	PermissionCount int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Permission represents an atomic capability on a module.
type Permission struct {
	ID          uuid.UUID
	Module      string
	Action      string
	Description string
}

// Key returns the dotted module.action form.
func (p Permission) Key() string {
	return shared.Perm(p.Module, p.Action)
}

// Grant is one module/action pair returned by the permission lookup.
type Grant struct {
	Module string
	Action string
}

// PermissionMap maps a module name to the set of actions granted on it.
type PermissionMap map[string]map[string]struct{}

var recognized = func() map[string]struct{} {
	set := make(map[string]struct{})
	for _, a := range shared.RecognizedActions() {
		set[a] = struct{}{}
	}
	return set
}()

// NewPermissionMap builds a map from raw grants, normalising case and
// whitespace and skipping incomplete rows.
func NewPermissionMap(grants []Grant) PermissionMap {
	m := make(PermissionMap)
	for _, g := range grants {
		module := strings.ToLower(strings.TrimSpace(g.Module))
		action := strings.ToLower(strings.TrimSpace(g.Action))
		if module == "" || action == "" {
			continue
		}
		actions, ok := m[module]
		if !ok {
			actions = make(map[string]struct{})
			m[module] = actions
		}
		actions[action] = struct{}{}
	}
	return m
}

// Has reports whether action is granted on module.
func (m PermissionMap) Has(module, action string) bool {
	actions, ok := m[strings.ToLower(module)]
	if !ok {
		return false
	}
	_, ok = actions[strings.ToLower(action)]
	return ok
}

// CanView is true when any recognized action is granted on module.
func (m PermissionMap) CanView(module string) bool {
	for action := range m[strings.ToLower(module)] {
		if _, ok := recognized[action]; ok {
			return true
		}
	}
	return false
}

// Strings flattens the map into sorted module.action entries.
func (m PermissionMap) Strings() []string {
	out := make([]string, 0, len(m))
	for module, actions := range m {
		for action := range actions {
			out = append(out, shared.Perm(module, action))
		}
	}
	sort.Strings(out)
	return out
}
