package tasks

import (
	"fmt"
	"strconv"

	"github.com/desertthunder/ncx/internal/models"
	"github.com/desertthunder/ncx/internal/services"
)

const unknownGroupName = "Unknown Group"

// groupMembers holds the destination org units and users a new access group is granted.
type groupMembers struct {
	orgUnitIDs []int64
	userIDs    []int64
}

// migrateAccessGroups matches groups by name and creates the missing ones over every destination
// customer and user.
func (m *migration) migrateAccessGroups() error {
	m.progress(phaseUpdate(PhaseAccessGroups, groupsFrom, "Fetching source access groups..."))
	sourceGroups, err := m.engine.source.AccessGroups(m.ctx, m.sourceSO)
	if err != nil {
		return required("source access groups", err)
	}

	m.progress(phaseUpdate(PhaseAccessGroups, groupsFrom, "Fetching destination access groups..."))
	destGroups, err := m.engine.dest.AccessGroups(m.ctx, m.destSO)
	if err != nil {
		return required("destination access groups", err)
	}

	members := m.destinationMembers()

	existing := make(map[string]int64, len(destGroups))
	for _, g := range destGroups {
		if g.GroupName != "" {
			existing[nameKey(g.GroupName)] = g.GroupID.Int64()
		}
	}

	total := len(sourceGroups)
	for i, g := range sourceGroups {
		if m.stopped() {
			return nil
		}
		name := g.GroupName
		if name == "" {
			name = unknownGroupName
		}
		m.progress(entityUpdate(PhaseAccessGroups, groupsFrom, groupsTo, i+1, total, fmt.Sprintf("Migrating access group: %s", name)))

		if id, ok := existing[nameKey(name)]; ok {
			m.mapping.AccessGroups[g.GroupID.Int64()] = id
			m.outcome(PhaseAccessGroups, "access_group", g.GroupID.Int64(), name, id, models.ActionMatched, nil)
			continue
		}

		if len(members.orgUnitIDs) == 0 {
			m.warn("cannot create access group, no customers exist on destination", "group", name)
			m.outcome(PhaseAccessGroups, "access_group", g.GroupID.Int64(), name, 0, models.ActionSkipped, nil)
			continue
		}

		id, err := m.createAccessGroup(g, name, members)
		if err != nil {
			m.createFailed("failed to create access group", err, "group", name)
			m.outcome(PhaseAccessGroups, "access_group", g.GroupID.Int64(), name, 0, models.ActionFailed, err)
			continue
		}

		existing[nameKey(name)] = id
		m.mapping.AccessGroups[g.GroupID.Int64()] = id
		m.info("created access group", "group", name, "type", groupType(g), "id", id,
			"org_units", len(members.orgUnitIDs), "users", len(members.userIDs))
		m.outcome(PhaseAccessGroups, "access_group", g.GroupID.Int64(), name, id, models.ActionCreated, nil)
	}
	return nil
}

// destinationMembers reads the current destination customers and users. Both lists are optional.
func (m *migration) destinationMembers() groupMembers {
	var members groupMembers

	m.progress(phaseUpdate(PhaseAccessGroups, groupsFrom, "Fetching destination customer IDs..."))
	customers, err := m.engine.dest.CustomersBySO(m.ctx, m.destSO)
	if err != nil {
		m.warn("failed to fetch destination customers for access groups", "error", err)
	}
	for _, c := range customers {
		members.orgUnitIDs = append(members.orgUnitIDs, c.UnitID())
	}

	m.progress(phaseUpdate(PhaseAccessGroups, groupsFrom, "Fetching destination user IDs..."))
	users, err := m.engine.dest.UsersByOrgUnit(m.ctx, m.destSO)
	if err != nil {
		m.warn("failed to fetch destination users for access groups", "error", err)
	}
	for _, u := range users {
		members.userIDs = append(members.userIDs, u.UserID.Int64())
	}

	m.logger.Debug("access group members", "customers", len(members.orgUnitIDs), "users", len(members.userIDs))
	return members
}

func (m *migration) createAccessGroup(g models.AccessGroup, name string, members groupMembers) (int64, error) {
	payload := map[string]any{
		"groupName":              name,
		"groupDescription":       g.GroupDescription,
		"orgUnitIds":             idStrings(members.orgUnitIDs),
		"userIds":                idStrings(members.userIDs),
		"autoIncludeNewOrgUnits": "true",
	}
	kind := groupType(g)

	return Attempt(func() (int64, error) {
		if kind == models.AccessGroupDevice {
			return m.engine.dest.CreateDeviceAccessGroup(m.ctx, m.destSO, payload)
		}
		return m.engine.dest.CreateOrgUnitAccessGroup(m.ctx, m.destSO, payload)
	}).OrElse(soapOrElse(m.engine.soap, func(soap services.Legacy) (int64, error) {
		return positiveID(soap.AccessGroupAdd(m.ctx, services.AccessGroupAddInfo{
			CustomerID:  m.destSO,
			Name:        name,
			Description: g.GroupDescription,
			GroupType:   kind,
			OrgUnitIDs:  members.orgUnitIDs,
			UserIDs:     members.userIDs,
		}))
	}))
}

// groupType defaults an empty type to ORG_UNIT.
func groupType(g models.AccessGroup) string {
	if g.IsDeviceGroup() {
		return models.AccessGroupDevice
	}
	return models.AccessGroupOrgUnit
}

// idStrings renders ids as strings, the form the access group endpoints expect.
func idStrings(ids []int64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatInt(id, 10)
	}
	return out
}
