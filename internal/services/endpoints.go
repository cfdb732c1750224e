package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/desertthunder/ncx/internal/models"
	"github.com/desertthunder/ncx/internal/shared"
)

// REST paths
const (
	PathServerInfo     = "/api/server-info"
	PathHealth         = "/api/health"
	PathServiceOrgs    = "/api/service-orgs"
	PathCustomers      = "/api/customers"
	PathSites          = "/api/sites"
	PathDevices        = "/api/devices"
	PathUsers          = "/api/users"
	PathPropertyValues = "/api/custom-properties/values"
)

func serviceOrgPath(id int64) string          { return fmt.Sprintf("/api/service-orgs/%d", id) }
func serviceOrgCustomersPath(id int64) string { return fmt.Sprintf("/api/service-orgs/%d/customers", id) }
func customerSitesPath(id int64) string       { return fmt.Sprintf("/api/customers/%d/sites", id) }
func devicePath(id int64) string              { return fmt.Sprintf("/api/devices/%d", id) }

func orgUnitPath(id int64, sub string) string {
	return fmt.Sprintf("/api/org-units/%d/%s", id, sub)
}

// ServerInfo reads version details.
func (c *Client) ServerInfo(ctx context.Context) (*models.ServerInfo, error) {
	var info models.ServerInfo
	if err := c.Get(ctx, PathServerInfo, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Health returns nil when the server reports healthy.
func (c *Client) Health(ctx context.Context) error {
	if err := c.Get(ctx, PathHealth, nil, nil); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrServiceUnavailable, err)
	}
	return nil
}

// ServiceOrgs lists the service orgs visible to the API user.
func (c *Client) ServiceOrgs(ctx context.Context) ([]models.ServiceOrg, error) {
	return getList[models.ServiceOrg](ctx, c, PathServiceOrgs)
}

// ServiceOrg reads one service org.
func (c *Client) ServiceOrg(ctx context.Context, id int64) (*models.ServiceOrg, error) {
	var so models.ServiceOrg
	if err := c.Get(ctx, serviceOrgPath(id), nil, &so); err != nil {
		return nil, err
	}
	return &so, nil
}

// Customers lists every customer.
func (c *Client) Customers(ctx context.Context) ([]models.Customer, error) {
	return GetAllPages[models.Customer](ctx, c, PathCustomers, c.pageSize, nil)
}

// CustomersBySO lists the customers under a service org.
func (c *Client) CustomersBySO(ctx context.Context, soID int64) ([]models.Customer, error) {
	return GetAllPages[models.Customer](ctx, c, serviceOrgCustomersPath(soID), c.pageSize, nil)
}

// Sites lists every site.
func (c *Client) Sites(ctx context.Context) ([]models.Site, error) {
	return GetAllPages[models.Site](ctx, c, PathSites, c.pageSize, nil)
}

// SitesBySO lists sites whose parent is the service org or one of its customers.
// The sites endpoint has no service org filter, so the full list is filtered locally.
func (c *Client) SitesBySO(ctx context.Context, soID int64) ([]models.Site, error) {
	customers, err := c.CustomersBySO(ctx, soID)
	if err != nil {
		return nil, err
	}
	sites, err := c.Sites(ctx)
	if err != nil {
		return nil, err
	}
	return FilterSites(sites, soID, customers), nil
}

// FilterSites keeps sites parented by soID or by one of customers.
func FilterSites(sites []models.Site, soID int64, customers []models.Customer) []models.Site {
	parents := map[int64]bool{soID: true}
	for _, cust := range customers {
		parents[cust.UnitID()] = true
	}
	out := make([]models.Site, 0, len(sites))
	for _, s := range sites {
		if parent, ok := s.ParentID(); ok && parents[parent] {
			out = append(out, s)
		}
	}
	return out
}

// Devices lists every device.
func (c *Client) Devices(ctx context.Context) ([]models.Device, error) {
	return GetAllPages[models.Device](ctx, c, PathDevices, c.pageSize, nil)
}

// DevicesByOrgUnit lists devices under an org unit.
func (c *Client) DevicesByOrgUnit(ctx context.Context, orgUnitID int64) ([]models.Device, error) {
	return GetAllPages[models.Device](ctx, c, orgUnitPath(orgUnitID, "devices"), c.pageSize, nil)
}

// Device reads one device.
func (c *Client) Device(ctx context.Context, id int64) (*models.Device, error) {
	var d models.Device
	if err := c.Get(ctx, devicePath(id), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// DeviceProperties lists custom property values on a device.
func (c *Client) DeviceProperties(ctx context.Context, deviceID int64) ([]models.DeviceProperty, error) {
	return getList[models.DeviceProperty](ctx, c, devicePath(deviceID)+"/custom-properties")
}

// Users lists every user visible to the API user.
func (c *Client) Users(ctx context.Context) ([]models.User, error) {
	return GetAllPages[models.User](ctx, c, PathUsers, c.pageSize, nil)
}

// UsersByOrgUnit lists the users of an org unit.
func (c *Client) UsersByOrgUnit(ctx context.Context, orgUnitID int64) ([]models.User, error) {
	return GetAllPages[models.User](ctx, c, orgUnitPath(orgUnitID, "users"), c.pageSize, nil)
}

// AccessGroups lists the access groups of an org unit.
func (c *Client) AccessGroups(ctx context.Context, orgUnitID int64) ([]models.AccessGroup, error) {
	return getList[models.AccessGroup](ctx, c, orgUnitPath(orgUnitID, "access-groups"))
}

// UserRoles lists the user roles of an org unit.
func (c *Client) UserRoles(ctx context.Context, orgUnitID int64) ([]models.UserRole, error) {
	return getList[models.UserRole](ctx, c, orgUnitPath(orgUnitID, "user-roles"))
}

// OrgProperties lists custom property values of an org unit.
func (c *Client) OrgProperties(ctx context.Context, orgUnitID int64) ([]models.OrgProperty, error) {
	return getList[models.OrgProperty](ctx, c, orgUnitPath(orgUnitID, "custom-properties"))
}

// CreateCustomer creates a customer under soID and returns its id.
func (c *Client) CreateCustomer(ctx context.Context, soID int64, body any) (int64, error) {
	return c.create(ctx, serviceOrgCustomersPath(soID), body, "customerId")
}

// CreateSite creates a site under customerID and returns its id.
func (c *Client) CreateSite(ctx context.Context, customerID int64, body any) (int64, error) {
	return c.create(ctx, customerSitesPath(customerID), body, "siteId")
}

// CreateUserRole creates a role under orgUnitID and returns its id.
func (c *Client) CreateUserRole(ctx context.Context, orgUnitID int64, body any) (int64, error) {
	return c.create(ctx, orgUnitPath(orgUnitID, "user-roles"), body, "roleId")
}

// CreateOrgUnitAccessGroup creates an org-unit type access group and returns its id.
func (c *Client) CreateOrgUnitAccessGroup(ctx context.Context, orgUnitID int64, body any) (int64, error) {
	return c.create(ctx, orgUnitPath(orgUnitID, "org-unit-access-groups"), body, "groupId")
}

// CreateDeviceAccessGroup creates a device type access group and returns its id.
func (c *Client) CreateDeviceAccessGroup(ctx context.Context, orgUnitID int64, body any) (int64, error) {
	return c.create(ctx, orgUnitPath(orgUnitID, "device-access-groups"), body, "groupId")
}

// SetOrgPropertyValue writes a custom property value.
func (c *Client) SetOrgPropertyValue(ctx context.Context, body any) error {
	return c.Post(ctx, PathPropertyValues, body, nil)
}

// create posts body and extracts the new id from key, falling back to "id". The id may be
// top-level or nested under "data". An accepted POST without an id yields [shared.ErrCreatedWithoutID].
func (c *Client) create(ctx context.Context, path string, body any, key string) (int64, error) {
	var raw map[string]json.RawMessage
	if err := c.Post(ctx, path, body, &raw); err != nil {
		return 0, err
	}
	if id, ok := extractID(raw, key); ok {
		return id, nil
	}
	if nested, ok := raw["data"]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(nested, &inner); err == nil {
			if id, ok := extractID(inner, key); ok {
				return id, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: response for %s has no %s", shared.ErrCreatedWithoutID, path, key)
}

func extractID(raw map[string]json.RawMessage, key string) (int64, bool) {
	for _, k := range []string{key, "id"} {
		v, ok := raw[k]
		if !ok {
			continue
		}
		var id models.NullID
		if err := json.Unmarshal(v, &id); err == nil && id.Valid {
			return id.Int64, true
		}
	}
	return 0, false
}
