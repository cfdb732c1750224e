package tasks

import (
	"fmt"
	"slices"

	"github.com/desertthunder/ncx/internal/models"
	"github.com/desertthunder/ncx/internal/services"
)

// migrateProperties copies org unit custom property values onto the mapped destination org units.
//
// Values at the service org itself are not copied. Property ids differ across servers, so values
// are addressed by label.
func (m *migration) migrateProperties() error {
	m.progress(phaseUpdate(PhaseProperties, propsFrom, "Fetching source org properties..."))
	props, err := m.engine.source.OrgProperties(m.ctx, m.sourceSO)
	if err != nil {
		return required("source properties", err)
	}

	// Customers and sites carry their own values.
	for _, src := range m.propertyUnits() {
		if m.stopped() {
			return nil
		}
		unitProps, err := m.engine.source.OrgProperties(m.ctx, src)
		if err != nil {
			m.warn("failed to fetch org unit properties", "org_unit", src, "error", err)
			continue
		}
		props = append(props, unitProps...)
	}

	type propKey struct {
		orgUnit int64
		label   string
	}
	seen := map[propKey]bool{}

	total := len(props)
	for i, p := range props {
		if m.stopped() {
			return nil
		}
		m.progress(entityUpdate(PhaseProperties, propsFrom, propsTo, i+1, total, fmt.Sprintf("Syncing property: %s", p.Label)))

		if !p.OrgUnitID.Valid || p.OrgUnitID.Int64 == m.sourceSO {
			m.outcome(PhaseProperties, "property", p.PropertyID.Int64(), p.Label, 0, models.ActionSkipped, nil)
			continue
		}
		key := propKey{p.OrgUnitID.Int64, nameKey(p.Label)}
		if seen[key] {
			m.logger.Debug("duplicate property label", "label", p.Label, "org_unit", p.OrgUnitID.Int64)
			m.outcome(PhaseProperties, "property", p.PropertyID.Int64(), p.Label, 0, models.ActionSkipped, nil)
			continue
		}
		seen[key] = true

		dst, ok := m.mapping.OrgUnit(p.OrgUnitID.Int64)
		if !ok {
			m.logger.Debug("property org unit not mapped", "label", p.Label, "org_unit", p.OrgUnitID.Int64)
			m.outcome(PhaseProperties, "property", p.PropertyID.Int64(), p.Label, 0, models.ActionSkipped, nil)
			continue
		}

		if err := m.setProperty(p, dst); err != nil {
			m.failed("failed to set property", "label", p.Label, "org_unit", dst, "error", err)
			m.outcome(PhaseProperties, "property", p.PropertyID.Int64(), p.Label, dst, models.ActionFailed, err)
			continue
		}
		m.logger.Info("synced property", "label", p.Label, "org_unit", dst)
		m.outcome(PhaseProperties, "property", p.PropertyID.Int64(), p.Label, dst, models.ActionCreated, nil)
	}
	return nil
}

func (m *migration) setProperty(p models.OrgProperty, orgUnit int64) error {
	value := p.Value
	if value == "" {
		value = p.DefaultValue
	}
	payload := map[string]any{
		"orgUnitId": orgUnit,
		"label":     p.Label,
		"value":     value,
	}
	_, err := Attempt(func() (struct{}, error) {
		return struct{}{}, m.engine.dest.SetOrgPropertyValue(m.ctx, payload)
	}).OrElse(soapOrElse(m.engine.soap, func(soap services.Legacy) (struct{}, error) {
		return struct{}{}, soap.OrganizationPropertyModify(m.ctx, services.PropertyModifyInfo{
			CustomerID: orgUnit,
			Label:      p.Label,
			Value:      value,
		})
	}))
	return err
}

// propertyUnits lists every source customer and site, mapped or not, so values on unmapped units are
// counted as skipped. Without the customers phase the units are matched to the destination by name
// here, read-only.
func (m *migration) propertyUnits() []int64 {
	customers, err := m.engine.source.CustomersBySO(m.ctx, m.sourceSO)
	if err != nil {
		m.warn("failed to fetch source customers; syncing mapped org units only", "error", err)
		return m.mappedUnits()
	}
	sites, err := m.sitesUnder(m.engine.source, m.sourceSO, customers)
	if err != nil {
		m.warn("failed to fetch source sites; syncing customer properties only", "error", err)
		sites = nil
	}
	if !m.options.Customers {
		m.matchOrgUnits(customers, sites)
	}

	units := make([]int64, 0, len(customers)+len(sites))
	for _, c := range customers {
		units = append(units, c.UnitID())
	}
	for _, s := range sites {
		units = append(units, s.UnitID())
	}
	units = slices.DeleteFunc(units, func(id int64) bool { return id == m.sourceSO })
	slices.Sort(units)
	return slices.Compact(units)
}

func (m *migration) mappedUnits() []int64 {
	units := make([]int64, 0, len(m.mapping.OrgUnits))
	for src := range m.mapping.OrgUnits {
		if src != m.sourceSO {
			units = append(units, src)
		}
	}
	slices.Sort(units)
	return units
}

// matchOrgUnits maps source customers and sites onto existing destination ones using the customers
// phase's match keys. Nothing is created.
func (m *migration) matchOrgUnits(sourceCustomers []models.Customer, sourceSites []models.Site) {
	m.mapping.OrgUnits[m.sourceSO] = m.destSO

	destCustomers, err := m.engine.dest.CustomersBySO(m.ctx, m.destSO)
	if err != nil {
		m.warn("failed to fetch destination customers; customer properties will be skipped", "error", err)
		return
	}
	byName := make(map[string]int64, len(destCustomers))
	for _, c := range destCustomers {
		byName[nameKey(c.CustomerName)] = c.UnitID()
	}
	for _, c := range sourceCustomers {
		if id, ok := byName[nameKey(c.CustomerName)]; ok {
			m.mapping.addCustomer(c.UnitID(), id)
		}
	}

	destSites, err := m.sitesUnder(m.engine.dest, m.destSO, destCustomers)
	if err != nil {
		m.warn("failed to fetch destination sites; site properties will be skipped", "error", err)
		return
	}
	lookup := siteLookup(destSites, destCustomers)
	names := customerNames(sourceCustomers)
	for _, s := range sourceSites {
		parent, _ := s.ParentID()
		name, ok := names[parent]
		if !ok {
			continue
		}
		if id, ok := lookup[siteKey{nameKey(name), nameKey(s.SiteName)}]; ok {
			m.mapping.addSite(s.UnitID(), id)
		}
	}
	m.logger.Debug("matched existing org units", "customers", len(m.mapping.Customers), "sites", len(m.mapping.Sites))
}
