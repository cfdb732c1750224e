package tasks

import "github.com/desertthunder/ncx/internal/shared"

// IDMapping accumulates source to destination identifiers as phases complete.
//
// Every later phase reads what earlier phases wrote. Entries are only added from completed calls.
type IDMapping struct {
	Customers    map[int64]int64
	Sites        map[int64]int64
	Roles        map[int64]int64
	AccessGroups map[int64]int64
	// RoleNames maps lowercase role name to destination role id. Role ids differ across servers.
	RoleNames map[string]int64
	// UserLogins maps lowercase login to destination user id.
	UserLogins map[string]int64
	// OrgUnits maps any source org unit (service org, customer, site) to its destination counterpart.
	OrgUnits map[int64]int64
}

// NewIDMapping returns an empty mapping.
func NewIDMapping() *IDMapping {
	return &IDMapping{
		Customers:    map[int64]int64{},
		Sites:        map[int64]int64{},
		Roles:        map[int64]int64{},
		AccessGroups: map[int64]int64{},
		RoleNames:    map[string]int64{},
		UserLogins:   map[string]int64{},
		OrgUnits:     map[int64]int64{},
	}
}

func (m *IDMapping) addCustomer(src, dst int64) {
	m.Customers[src] = dst
	m.OrgUnits[src] = dst
}

func (m *IDMapping) addSite(src, dst int64) {
	m.Sites[src] = dst
	m.OrgUnits[src] = dst
}

func (m *IDMapping) addRole(src int64, name string, dst int64) {
	m.Roles[src] = dst
	m.RoleNames[nameKey(name)] = dst
}

// OrgUnit resolves a source org unit to the destination.
func (m *IDMapping) OrgUnit(src int64) (int64, bool) {
	dst, ok := m.OrgUnits[src]
	return dst, ok
}

// Sizes reports the number of entries per map, keyed by map name.
func (m *IDMapping) Sizes() map[string]int {
	return map[string]int{
		"customers":     len(m.Customers),
		"sites":         len(m.Sites),
		"roles":         len(m.Roles),
		"access_groups": len(m.AccessGroups),
		"role_names":    len(m.RoleNames),
		"user_logins":   len(m.UserLogins),
		"org_units":     len(m.OrgUnits),
	}
}

// nameKey is the case-insensitive match key for entity names.
func nameKey(name string) string {
	return shared.NormalizeName(name)
}
