package tasks

import (
	"fmt"

	"github.com/desertthunder/ncx/internal/models"
	"github.com/desertthunder/ncx/internal/services"
)

const (
	unknownRoleName   = "Unknown Role"
	defaultRoleDetail = "Migrated role"
)

// migrateRoles matches roles by name at the service org level and creates the missing ones with
// their permissions translated to destination permission ids.
func (m *migration) migrateRoles() error {
	perms := m.permissions()

	m.progress(phaseUpdate(PhaseRoles, rolesFrom, "Fetching source roles..."))
	sourceRoles, err := m.engine.source.UserRoles(m.ctx, m.sourceSO)
	if err != nil {
		return required("source roles", err)
	}

	m.progress(phaseUpdate(PhaseRoles, rolesFrom, "Fetching destination roles..."))
	destRoles, err := m.engine.dest.UserRoles(m.ctx, m.destSO)
	if err != nil {
		return required("destination roles", err)
	}

	existing := make(map[string]int64, len(destRoles))
	for _, r := range destRoles {
		if r.RoleName != "" {
			existing[nameKey(r.RoleName)] = r.RoleID.Int64()
		}
	}

	total := len(sourceRoles)
	for i, role := range sourceRoles {
		if m.stopped() {
			return nil
		}
		name := role.RoleName
		if name == "" {
			name = unknownRoleName
		}
		m.progress(entityUpdate(PhaseRoles, rolesFrom, rolesTo, i+1, total, fmt.Sprintf("Migrating role: %s", name)))

		if id, ok := existing[nameKey(name)]; ok {
			m.mapping.addRole(role.RoleID.Int64(), name, id)
			m.outcome(PhaseRoles, "role", role.RoleID.Int64(), name, id, models.ActionMatched, nil)
			continue
		}

		permissionIDs := perms.IDs(role.Permissions)
		description := role.RoleDescription
		if description == "" {
			description = defaultRoleDetail
		}

		id, err := m.createRole(name, description, permissionIDs)
		if err != nil {
			m.createFailed("failed to create role", err, "role", name)
			m.outcome(PhaseRoles, "role", role.RoleID.Int64(), name, 0, models.ActionFailed, err)
			continue
		}

		existing[nameKey(name)] = id
		m.mapping.addRole(role.RoleID.Int64(), name, id)
		m.info("created role", "role", name, "id", id, "permissions", len(permissionIDs))
		m.outcome(PhaseRoles, "role", role.RoleID.Int64(), name, id, models.ActionCreated, nil)
	}
	return nil
}

func (m *migration) createRole(name, description string, permissionIDs []int64) (int64, error) {
	payload := map[string]any{
		"roleName":      name,
		"description":   description,
		"permissionIds": permissionIDs,
		"userIds":       []int64{},
	}
	return Attempt(func() (int64, error) {
		return m.engine.dest.CreateUserRole(m.ctx, m.destSO, payload)
	}).OrElse(soapOrElse(m.engine.soap, func(soap services.Legacy) (int64, error) {
		return positiveID(soap.UserRoleAdd(m.ctx, services.UserRoleAddInfo{
			CustomerID:    m.destSO,
			Name:          name,
			Description:   description,
			PermissionIDs: permissionIDs,
		}))
	}))
}

// permissions returns the configured table, the embedded one, or an empty table that always
// yields the fallback permission.
func (m *migration) permissions() PermissionTable {
	if m.engine.opts.Permissions != nil {
		return m.engine.opts.Permissions
	}
	table, err := DefaultPermissions()
	if err != nil {
		m.warn("permission table unavailable; roles get the fallback permission only", "error", err)
		return PermissionTable{}
	}
	return table
}
