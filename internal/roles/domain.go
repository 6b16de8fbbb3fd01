package roles

import (
	"sort"

	"github.com/google/uuid"

	"github.com/venuedesk/venuedesk/internal/rbac"
	"github.com/venuedesk/venuedesk/internal/shared"
)

// Cell is one module/action checkbox in the permission matrix.
type Cell struct {
	PermissionID uuid.UUID
	Granted      bool
	Exists       bool
}

// MatrixRow holds one module's cells ordered like Matrix.Actions.
type MatrixRow struct {
	Module string
	Cells  []Cell
}

// Matrix is the editable grid of a role's permissions.
type Matrix struct {
	Role    rbac.Role
	Actions []string
	Rows    []MatrixRow
}

// buildMatrix lays out perms with modules in dashboard order followed by any
// unknown modules alphabetically.
func buildMatrix(role rbac.Role, perms []rbac.Permission, granted map[uuid.UUID]bool) Matrix {
	actions := shared.RecognizedActions()
	actionIndex := make(map[string]int, len(actions))
	for i, a := range actions {
		actionIndex[a] = i
	}

	byModule := make(map[string][]Cell)
	for _, p := range perms {
		i, ok := actionIndex[p.Action]
		if !ok {
			continue
		}
		cells, ok := byModule[p.Module]
		if !ok {
			cells = make([]Cell, len(actions))
			byModule[p.Module] = cells
		}
		cells[i] = Cell{PermissionID: p.ID, Granted: granted[p.ID], Exists: true}
	}

	known := make(map[string]bool)
	m := Matrix{Role: role, Actions: actions}
	for _, module := range shared.Modules() {
		known[module] = true
		if cells, ok := byModule[module]; ok {
			m.Rows = append(m.Rows, MatrixRow{Module: module, Cells: cells})
		}
	}
	var extra []string
	for module := range byModule {
		if !known[module] {
			extra = append(extra, module)
		}
	}
	sort.Strings(extra)
	for _, module := range extra {
		m.Rows = append(m.Rows, MatrixRow{Module: module, Cells: byModule[module]})
	}
	return m
}
