package services

import (
	"context"

	"github.com/desertthunder/ncx/internal/models"
)

// Reader is the read side of the REST API used by the export and migration engines.
type Reader interface {
	// BaseURL identifies the server.
	BaseURL() string

	// ServerInfo reads version details.
	ServerInfo(ctx context.Context) (*models.ServerInfo, error)

	// ServiceOrgs lists the service orgs visible to the API user.
	ServiceOrgs(ctx context.Context) ([]models.ServiceOrg, error)

	// ServiceOrg reads one service org.
	ServiceOrg(ctx context.Context, id int64) (*models.ServiceOrg, error)

	// CustomersBySO lists the customers under a service org.
	CustomersBySO(ctx context.Context, soID int64) ([]models.Customer, error)

	// Sites lists every site; callers filter by parent.
	Sites(ctx context.Context) ([]models.Site, error)

	// Devices lists every device.
	Devices(ctx context.Context) ([]models.Device, error)

	// DeviceProperties lists custom property values on a device.
	DeviceProperties(ctx context.Context, deviceID int64) ([]models.DeviceProperty, error)

	// Users lists every user; callers filter by org unit.
	Users(ctx context.Context) ([]models.User, error)

	// UsersByOrgUnit lists the users of an org unit.
	UsersByOrgUnit(ctx context.Context, orgUnitID int64) ([]models.User, error)

	// AccessGroups lists the access groups of an org unit.
	AccessGroups(ctx context.Context, orgUnitID int64) ([]models.AccessGroup, error)

	// UserRoles lists the user roles of an org unit.
	UserRoles(ctx context.Context, orgUnitID int64) ([]models.UserRole, error)

	// OrgProperties lists custom property values of an org unit.
	OrgProperties(ctx context.Context, orgUnitID int64) ([]models.OrgProperty, error)
}

// Writer is the create side of the REST API used on the migration destination.
type Writer interface {
	Reader

	CreateCustomer(ctx context.Context, soID int64, body any) (int64, error)
	CreateSite(ctx context.Context, customerID int64, body any) (int64, error)
	CreateUserRole(ctx context.Context, orgUnitID int64, body any) (int64, error)
	CreateOrgUnitAccessGroup(ctx context.Context, orgUnitID int64, body any) (int64, error)
	CreateDeviceAccessGroup(ctx context.Context, orgUnitID int64, body any) (int64, error)
	SetOrgPropertyValue(ctx context.Context, body any) error
}

// Legacy is the SOAP fallback surface.
type Legacy interface {
	UserAdd(ctx context.Context, login string, info UserAddInfo) (int64, error)
	CustomerAdd(ctx context.Context, info CustomerAddInfo) (int64, error)
	UserRoleAdd(ctx context.Context, info UserRoleAddInfo) (int64, error)
	AccessGroupAdd(ctx context.Context, info AccessGroupAddInfo) (int64, error)
	OrganizationPropertyModify(ctx context.Context, info PropertyModifyInfo) error
}

var (
	_ Writer = (*Client)(nil)
	_ Legacy = (*SoapClient)(nil)
)
