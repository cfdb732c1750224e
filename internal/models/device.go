package models

// OrgProperty is a custom property value attached to an org unit.
type OrgProperty struct {
	PropertyID   ID     `json:"propertyId"`
	OrgUnitID    NullID `json:"orgUnitId"`
	Label        string `json:"label"`
	Value        string `json:"value,omitempty"`
	DefaultValue string `json:"defaultValue,omitempty"`
	PropertyType string `json:"propertyType,omitempty"`
}

func (OrgProperty) CSVHeader() []string {
	return []string{"propertyId", "orgUnitId", "label", "value", "defaultValue", "propertyType"}
}

func (p OrgProperty) CSVRow() []string {
	return []string{p.PropertyID.String(), p.OrgUnitID.String(), p.Label, p.Value, p.DefaultValue, p.PropertyType}
}

// Device is a monitored endpoint.
type Device struct {
	DeviceID                 ID     `json:"deviceId"`
	LongName                 string `json:"longName"`
	DeviceClass              string `json:"deviceClass,omitempty"`
	Description              string `json:"description,omitempty"`
	OSID                     string `json:"osId,omitempty"`
	SupportedOS              string `json:"supportedOs,omitempty"`
	OrgUnitID                NullID `json:"orgUnitId"`
	SOID                     NullID `json:"soId"`
	CustomerID               NullID `json:"customerId"`
	SiteID                   NullID `json:"siteId"`
	LastApplianceCheckinTime string `json:"lastApplianceCheckinTime,omitempty"`
}

// OwnerID returns the most specific org unit the device belongs to.
func (d Device) OwnerID() (int64, bool) {
	return firstValid(d.OrgUnitID, d.SiteID, d.CustomerID, d.SOID)
}

func (Device) CSVHeader() []string {
	return []string{
		"deviceId", "longName", "deviceClass", "description", "osId", "supportedOs",
		"orgUnitId", "soId", "customerId", "siteId", "lastApplianceCheckinTime",
	}
}

func (d Device) CSVRow() []string {
	return []string{
		d.DeviceID.String(), d.LongName, d.DeviceClass, d.Description, d.OSID, d.SupportedOS,
		d.OrgUnitID.String(), d.SOID.String(), d.CustomerID.String(), d.SiteID.String(), d.LastApplianceCheckinTime,
	}
}

// DeviceProperty is a custom property value attached to a device.
type DeviceProperty struct {
	PropertyID   ID     `json:"propertyId"`
	DeviceID     ID     `json:"deviceId"`
	DeviceName   string `json:"deviceName,omitempty"`
	Label        string `json:"label"`
	Value        string `json:"value,omitempty"`
	PropertyType string `json:"propertyType,omitempty"`
}

func (DeviceProperty) CSVHeader() []string {
	return []string{"propertyId", "deviceId", "deviceName", "label", "value", "propertyType"}
}

func (p DeviceProperty) CSVRow() []string {
	return []string{p.PropertyID.String(), p.DeviceID.String(), p.DeviceName, p.Label, p.Value, p.PropertyType}
}
