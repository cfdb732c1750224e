package models

// OrgUnit is the common view of service orgs, customers and sites.
type OrgUnit interface {
	UnitID() int64
	UnitName() string
	ParentID() (int64, bool)
}

// ServiceOrg is the top of a tenant hierarchy.
type ServiceOrg struct {
	SOID             ID     `json:"soId"`
	SOName           string `json:"soName"`
	OrgUnitType      string `json:"orgUnitType,omitempty"`
	ExternalID       string `json:"externalId,omitempty"`
	ContactFirstName string `json:"contactFirstName,omitempty"`
	ContactLastName  string `json:"contactLastName,omitempty"`
	ContactEmail     string `json:"contactEmail,omitempty"`
	Parent           NullID `json:"parentId"`
}

func (s ServiceOrg) UnitID() int64           { return s.SOID.Int64() }
func (s ServiceOrg) UnitName() string        { return s.SOName }
func (s ServiceOrg) ParentID() (int64, bool) { return firstValid(s.Parent) }

func (ServiceOrg) CSVHeader() []string {
	return []string{"soId", "soName", "parentId", "externalId", "contactEmail"}
}

func (s ServiceOrg) CSVRow() []string {
	return []string{s.SOID.String(), s.SOName, s.Parent.String(), s.ExternalID, s.ContactEmail}
}

// Address holds the postal and contact fields shared by customers and sites.
type Address struct {
	ContactFirstName string `json:"contactFirstName,omitempty"`
	ContactLastName  string `json:"contactLastName,omitempty"`
	ContactEmail     string `json:"contactEmail,omitempty"`
	ContactPhone     string `json:"contactPhone,omitempty"`
	Street1          string `json:"street1,omitempty"`
	Street2          string `json:"street2,omitempty"`
	City             string `json:"city,omitempty"`
	StateProv        string `json:"stateProv,omitempty"`
	Country          string `json:"country,omitempty"`
	PostalCode       string `json:"postalCode,omitempty"`
}

// Customer is an org unit directly under a service org.
type Customer struct {
	CustomerID   ID     `json:"customerId"`
	CustomerName string `json:"customerName"`
	ExternalID   string `json:"externalId,omitempty"`
	Parent       NullID `json:"parentId"`
	SOIDAlias    NullID `json:"soId"`
	ServiceOrg   NullID `json:"serviceOrgId"`
	Address
}

func (c Customer) UnitID() int64    { return c.CustomerID.Int64() }
func (c Customer) UnitName() string { return c.CustomerName }

// ParentID resolves the owning service org from parentId, serviceOrgId or soId.
func (c Customer) ParentID() (int64, bool) {
	return firstValid(c.Parent, c.ServiceOrg, c.SOIDAlias)
}

func (Customer) CSVHeader() []string {
	return []string{
		"customerId", "customerName", "parentId", "externalId",
		"contactFirstName", "contactLastName", "contactEmail", "contactPhone",
		"street1", "street2", "city", "stateProv", "country", "postalCode",
	}
}

func (c Customer) CSVRow() []string {
	parent := ""
	if id, ok := c.ParentID(); ok {
		parent = SomeID(id).String()
	}
	return []string{
		c.CustomerID.String(), c.CustomerName, parent, c.ExternalID,
		c.ContactFirstName, c.ContactLastName, c.ContactEmail, c.ContactPhone,
		c.Street1, c.Street2, c.City, c.StateProv, c.Country, c.PostalCode,
	}
}

// Site is an org unit under a customer, or occasionally directly under a service org.
type Site struct {
	SiteID         ID     `json:"siteId"`
	SiteName       string `json:"siteName"`
	ExternalID     string `json:"externalId,omitempty"`
	Parent         NullID `json:"parentId"`
	CustomerIDKey  NullID `json:"customerId"`
	CustomerIDLow  NullID `json:"customerid"`
	ServiceOrgKey  NullID `json:"serviceOrgId"`
	ServiceOrgLow  NullID `json:"serviceOrgid"`
	OrgUnitIDAlias NullID `json:"orgUnitId"`
	Address
}

func (s Site) UnitID() int64    { return s.SiteID.Int64() }
func (s Site) UnitName() string { return s.SiteName }

// ParentID tries parentId, customerId, customerid, serviceOrgId and serviceOrgid in that order.
// orgUnitId is only a parent reference when it differs from the site's own id.
func (s Site) ParentID() (int64, bool) {
	if id, ok := firstValid(s.Parent, s.CustomerIDKey, s.CustomerIDLow, s.ServiceOrgKey, s.ServiceOrgLow); ok {
		return id, true
	}
	if s.OrgUnitIDAlias.Valid && s.OrgUnitIDAlias.Int64 != s.SiteID.Int64() {
		return s.OrgUnitIDAlias.Int64, true
	}
	return 0, false
}

func (Site) CSVHeader() []string {
	return []string{
		"siteId", "siteName", "parentId", "externalId",
		"contactFirstName", "contactLastName", "contactEmail", "contactPhone",
		"street1", "street2", "city", "stateProv", "country", "postalCode",
	}
}

func (s Site) CSVRow() []string {
	parent := ""
	if id, ok := s.ParentID(); ok {
		parent = SomeID(id).String()
	}
	return []string{
		s.SiteID.String(), s.SiteName, parent, s.ExternalID,
		s.ContactFirstName, s.ContactLastName, s.ContactEmail, s.ContactPhone,
		s.Street1, s.Street2, s.City, s.StateProv, s.Country, s.PostalCode,
	}
}
