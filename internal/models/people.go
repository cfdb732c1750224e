package models

import (
	"encoding/json"
	"strings"
)

// User is a login account scoped to an org unit.
type User struct {
	UserID         ID     `json:"userId"`
	UserName       string `json:"userName"`
	FirstName      string `json:"firstName,omitempty"`
	LastName       string `json:"lastName,omitempty"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Department     string `json:"department,omitempty"`
	Location       string `json:"location,omitempty"`
	IsEnabled      *bool  `json:"isEnabled,omitempty"`
	RoleIDs        IDList `json:"roleIds,omitempty"`
	AccessGroupIDs IDList `json:"accessGroupIds,omitempty"`
	OrgUnitID      NullID `json:"orgUnitId"`
	ServiceOrgID   NullID `json:"serviceOrgId"`
}

// Login is the natural key used to match users across servers.
func (u User) Login() string {
	if u.UserName != "" {
		return u.UserName
	}
	return u.Email
}

// Enabled treats a missing flag as enabled.
func (u User) Enabled() bool {
	return u.IsEnabled == nil || *u.IsEnabled
}

// ParentID returns the org unit that owns the user: serviceOrgId first, then orgUnitId.
func (u User) ParentID() (int64, bool) {
	return firstValid(u.ServiceOrgID, u.OrgUnitID)
}

func (User) CSVHeader() []string {
	return []string{
		"userId", "userName", "firstName", "lastName", "email", "isEnabled",
		"roleIds", "accessGroupIds", "orgUnitId", "serviceOrgId",
	}
}

func (u User) CSVRow() []string {
	return []string{
		u.UserID.String(), u.UserName, u.FirstName, u.LastName, u.Email, boolString(u.IsEnabled),
		u.RoleIDs.Join("; "), u.AccessGroupIDs.Join("; "), u.OrgUnitID.String(), u.ServiceOrgID.String(),
	}
}

// UserRole is a named permission set.
type UserRole struct {
	RoleID          ID       `json:"roleId"`
	OrgUnitID       NullID   `json:"orgUnitId"`
	RoleName        string   `json:"roleName"`
	RoleDescription string   `json:"roleDescription,omitempty"`
	Permissions     []string `json:"permissions,omitempty"`
}

// UnmarshalJSON accepts userRoleId as an alias for roleId and description for roleDescription.
// Permissions may be plain strings or objects carrying a name.
func (r *UserRole) UnmarshalJSON(data []byte) error {
	var raw struct {
		RoleID          *ID               `json:"roleId"`
		UserRoleID      *ID               `json:"userRoleId"`
		OrgUnitID       NullID            `json:"orgUnitId"`
		RoleName        string            `json:"roleName"`
		RoleDescription string            `json:"roleDescription"`
		Description     string            `json:"description"`
		Permissions     []json.RawMessage `json:"permissions"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = UserRole{OrgUnitID: raw.OrgUnitID, RoleName: raw.RoleName, RoleDescription: raw.RoleDescription}
	switch {
	case raw.RoleID != nil:
		r.RoleID = *raw.RoleID
	case raw.UserRoleID != nil:
		r.RoleID = *raw.UserRoleID
	}
	if r.RoleDescription == "" {
		r.RoleDescription = raw.Description
	}

	for _, p := range raw.Permissions {
		var name string
		if err := json.Unmarshal(p, &name); err == nil {
			r.Permissions = append(r.Permissions, name)
			continue
		}
		var obj struct {
			Name           string `json:"name"`
			PermissionName string `json:"permissionName"`
		}
		if err := json.Unmarshal(p, &obj); err != nil {
			continue
		}
		if obj.Name == "" {
			obj.Name = obj.PermissionName
		}
		if obj.Name != "" {
			r.Permissions = append(r.Permissions, obj.Name)
		}
	}
	return nil
}

func (UserRole) CSVHeader() []string {
	return []string{"roleId", "orgUnitId", "roleName", "roleDescription", "permissions"}
}

func (r UserRole) CSVRow() []string {
	return []string{
		r.RoleID.String(), r.OrgUnitID.String(), r.RoleName, r.RoleDescription, strings.Join(r.Permissions, "; "),
	}
}

// AccessGroup types.
const (
	AccessGroupDevice  = "DEVICE"
	AccessGroupOrgUnit = "ORG_UNIT"
)

// AccessGroup restricts which org units or devices a set of users can see.
type AccessGroup struct {
	GroupID          ID     `json:"groupId"`
	OrgUnitID        NullID `json:"orgUnitId"`
	GroupName        string `json:"groupName"`
	GroupType        string `json:"groupType,omitempty"`
	GroupDescription string `json:"groupDescription,omitempty"`
}

// UnmarshalJSON accepts accessGroupId as an alias for groupId.
func (g *AccessGroup) UnmarshalJSON(data []byte) error {
	type plain AccessGroup
	var raw struct {
		plain
		AccessGroupID *ID `json:"accessGroupId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*g = AccessGroup(raw.plain)
	if g.GroupID == 0 && raw.AccessGroupID != nil {
		g.GroupID = *raw.AccessGroupID
	}
	return nil
}

// IsDeviceGroup reports whether the group restricts devices rather than org units.
func (g AccessGroup) IsDeviceGroup() bool {
	return strings.EqualFold(g.GroupType, AccessGroupDevice)
}

func (AccessGroup) CSVHeader() []string {
	return []string{"groupId", "orgUnitId", "groupName", "groupType", "groupDescription"}
}

func (g AccessGroup) CSVRow() []string {
	return []string{g.GroupID.String(), g.OrgUnitID.String(), g.GroupName, g.GroupType, g.GroupDescription}
}
