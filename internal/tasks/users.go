package tasks

import (
	"errors"
	"fmt"

	"github.com/desertthunder/ncx/internal/models"
	"github.com/desertthunder/ncx/internal/services"
)

// errUserNeedsSoap is recorded per user when no SOAP client is configured. The REST API cannot create users.
var errUserNeedsSoap = errors.New("user creation requires the SOAP API; create the user manually and re-run")

// migrateUsers creates source users missing from the destination through SOAP. Role ids are
// bridged by role name since ids differ across servers.
func (m *migration) migrateUsers() error {
	m.progress(phaseUpdate(PhaseUsers, usersFrom, "Fetching source users and roles..."))
	sourceUsers, err := m.engine.source.UsersByOrgUnit(m.ctx, m.sourceSO)
	if err != nil {
		return required("source users", err)
	}

	sourceRoles, err := m.engine.source.UserRoles(m.ctx, m.sourceSO)
	if err != nil {
		m.warn("failed to fetch source roles; user roles will not be mapped", "error", err)
	}
	roleNames := make(map[int64]string, len(sourceRoles))
	for _, r := range sourceRoles {
		if r.RoleName != "" {
			roleNames[r.RoleID.Int64()] = nameKey(r.RoleName)
		}
	}

	if len(m.mapping.RoleNames) == 0 {
		m.logger.Info("role name map is empty, loading destination roles")
		destRoles, err := m.engine.dest.UserRoles(m.ctx, m.destSO)
		if err != nil {
			m.warn("failed to fetch destination roles", "error", err)
		}
		for _, r := range destRoles {
			if r.RoleName != "" {
				m.mapping.RoleNames[nameKey(r.RoleName)] = r.RoleID.Int64()
			}
		}
	}

	m.progress(phaseUpdate(PhaseUsers, usersFrom, "Fetching destination users..."))
	destUsers, err := m.engine.dest.UsersByOrgUnit(m.ctx, m.destSO)
	if err != nil {
		return required("destination users", err)
	}
	logins := make(map[string]int64, len(destUsers))
	for _, u := range destUsers {
		logins[nameKey(u.Login())] = u.UserID.Int64()
	}

	total := len(sourceUsers)
	for i, u := range sourceUsers {
		if m.stopped() {
			return nil
		}
		login := u.Login()
		m.progress(entityUpdate(PhaseUsers, usersFrom, usersTo, i+1, total, fmt.Sprintf("Migrating user: %s", login)))

		if id, ok := logins[nameKey(login)]; ok {
			m.logger.Debug("user already exists on destination", "login", login, "id", id)
			m.mapping.UserLogins[nameKey(login)] = id
			m.outcome(PhaseUsers, "user", u.UserID.Int64(), login, id, models.ActionSkipped, nil)
			continue
		}

		info := services.UserAddInfo{
			Email:      u.Email,
			FirstName:  u.FirstName,
			LastName:   u.LastName,
			CustomerID: m.userParent(u),
			IsEnabled:  u.Enabled(),
			Phone:      u.Phone,
			Department: u.Department,
			Location:   u.Location,
			RoleIDs:    m.userRoles(u, roleNames),
		}
		if info.Email == "" {
			info.Email = login
		}

		id, err := m.createUser(login, info)
		if err != nil {
			m.createFailed("failed to create user", err, "login", login)
			m.outcome(PhaseUsers, "user", u.UserID.Int64(), login, 0, models.ActionFailed, err)
			continue
		}

		logins[nameKey(login)] = id
		m.mapping.UserLogins[nameKey(login)] = id
		m.info("created user", "login", login, "id", id, "customer", info.CustomerID, "roles", len(info.RoleIDs))
		m.outcome(PhaseUsers, "user", u.UserID.Int64(), login, id, models.ActionCreated, nil)
	}
	return nil
}

func (m *migration) createUser(login string, info services.UserAddInfo) (int64, error) {
	if m.engine.soap == nil {
		return 0, errUserNeedsSoap
	}
	return positiveID(m.engine.soap.UserAdd(m.ctx, login, info))
}

// userParent resolves the destination org unit for a user, defaulting to the destination service org.
func (m *migration) userParent(u models.User) int64 {
	if src, ok := u.ParentID(); ok {
		if dst, ok := m.mapping.OrgUnit(src); ok {
			return dst
		}
	}
	return m.destSO
}

// userRoles maps source role ids through their names. Unmapped roles are dropped with a warning.
func (m *migration) userRoles(u models.User, roleNames map[int64]string) []int64 {
	var ids []int64
	for _, src := range u.RoleIDs {
		if name, ok := roleNames[src]; ok {
			if dst, ok := m.mapping.RoleNames[name]; ok {
				ids = append(ids, dst)
				continue
			}
		}
		m.warn("could not map role to destination", "role_id", src, "login", u.Login())
	}
	return ids
}
