package tasks

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/desertthunder/ncx/internal/models"
	"github.com/desertthunder/ncx/internal/services"
	"github.com/desertthunder/ncx/internal/shared"
	"golang.org/x/time/rate"
)

// Progress bands (percent) per phase.
const (
	customersFrom, customersTo = 5.0, 25.0
	sitesFrom, sitesTo         = 25.0, 35.0
	rolesFrom, rolesTo         = 35.0, 50.0
	groupsFrom, groupsTo       = 50.0, 65.0
	usersFrom, usersTo         = 65.0, 85.0
	propsFrom, propsTo         = 85.0, 98.0
)

// customerResult is produced by a customer worker.
type customerResult struct {
	source models.Customer
	destID int64
	action string
	err    error
}

// migrateCustomers matches customers by name, creates the missing ones with a paced worker pool,
// then migrates their sites.
func (m *migration) migrateCustomers() error {
	m.progress(phaseUpdate(PhaseCustomers, customersFrom, "Fetching source customers..."))
	sourceCustomers, err := m.engine.source.CustomersBySO(m.ctx, m.sourceSO)
	if err != nil {
		return required("source customers", err)
	}

	m.progress(phaseUpdate(PhaseCustomers, customersFrom, "Fetching destination customers..."))
	destCustomers, err := m.engine.dest.CustomersBySO(m.ctx, m.destSO)
	if err != nil {
		return required("destination customers", err)
	}

	existing := make(map[string]int64, len(destCustomers))
	for _, c := range destCustomers {
		existing[nameKey(c.CustomerName)] = c.UnitID()
	}

	unique, dupes := splitDuplicateNames(sourceCustomers)
	results := m.runCustomerWorkers(unique, existing)
	resolved := make(map[string]int64, len(results))
	for _, r := range results {
		if errors.Is(r.err, shared.ErrCreatedWithoutID) {
			m.createFailed("failed to create customer", r.err, "customer", r.source.CustomerName)
		}
		if r.destID != 0 {
			m.mapping.addCustomer(r.source.UnitID(), r.destID)
			resolved[nameKey(r.source.CustomerName)] = r.destID
		}
		m.outcome(PhaseCustomers, "customer", r.source.UnitID(), r.source.CustomerName, r.destID, r.action, r.err)
	}
	// Same-name customers share the destination customer of the first one.
	for _, c := range dupes {
		id, ok := resolved[nameKey(c.CustomerName)]
		if !ok {
			m.warn("customer skipped, same-name customer was not migrated", "customer", c.CustomerName)
			m.outcome(PhaseCustomers, "customer", c.UnitID(), c.CustomerName, 0, models.ActionSkipped, nil)
			continue
		}
		m.mapping.addCustomer(c.UnitID(), id)
		m.outcome(PhaseCustomers, "customer", c.UnitID(), c.CustomerName, id, models.ActionMatched, nil)
	}
	m.mapping.OrgUnits[m.sourceSO] = m.destSO

	if m.stopped() {
		return nil
	}
	return m.migrateSites(sourceCustomers, destCustomers)
}

// splitDuplicateNames keeps the first customer per case-insensitive name and returns the rest separately.
func splitDuplicateNames(customers []models.Customer) (unique, dupes []models.Customer) {
	seen := make(map[string]bool, len(customers))
	for _, c := range customers {
		key := nameKey(c.CustomerName)
		if seen[key] {
			dupes = append(dupes, c)
			continue
		}
		seen[key] = true
		unique = append(unique, c)
	}
	return unique, dupes
}

// runCustomerWorkers fans source customers out to a bounded pool. Results are returned only after
// the pool drains, so the mapping is built from completed calls alone.
func (m *migration) runCustomerWorkers(customers []models.Customer, existing map[string]int64) []customerResult {
	total := len(customers)
	if total == 0 {
		return nil
	}

	limit := rate.Inf
	if m.engine.opts.CustomerRate > 0 {
		limit = rate.Limit(m.engine.opts.CustomerRate)
	}
	limiter := rate.NewLimiter(limit, 1)

	jobs := make(chan models.Customer, total)
	results := make(chan customerResult, total)
	var completed atomic.Int64
	// Held while publishing so percentages go out in counter order.
	var progressMu sync.Mutex

	var wg sync.WaitGroup
	for range m.engine.opts.CustomerWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				if m.stopped() {
					continue
				}
				r := m.migrateCustomer(limiter, c, existing)
				results <- r

				progressMu.Lock()
				n := int(completed.Add(1))
				m.progress(entityUpdate(PhaseCustomers, customersFrom, customersTo, n, total,
					fmt.Sprintf("Processed customer: %s", c.CustomerName)))
				progressMu.Unlock()
			}
		}()
	}

	for _, c := range customers {
		jobs <- c
	}
	close(jobs)

	wg.Wait()
	close(results)

	out := make([]customerResult, 0, total)
	for r := range results {
		out = append(out, r)
	}
	return out
}

// migrateCustomer runs on a worker goroutine. It reads existing but never writes shared state.
func (m *migration) migrateCustomer(limiter *rate.Limiter, c models.Customer, existing map[string]int64) customerResult {
	if id, ok := existing[nameKey(c.CustomerName)]; ok {
		m.logger.Debug("customer already exists on destination", "customer", c.CustomerName, "id", id)
		return customerResult{source: c, destID: id, action: models.ActionMatched}
	}

	if err := limiter.Wait(m.ctx); err != nil {
		return customerResult{source: c, action: models.ActionFailed, err: err}
	}

	payload := map[string]any{
		"customerName":     c.CustomerName,
		"parentId":         m.destSO,
		"externalId":       c.ExternalID,
		"contactFirstName": c.ContactFirstName,
		"contactLastName":  c.ContactLastName,
		"contactEmail":     c.ContactEmail,
	}
	id, err := Attempt(func() (int64, error) {
		return m.engine.dest.CreateCustomer(m.ctx, m.destSO, payload)
	}).OrElse(soapOrElse(m.engine.soap, func(soap services.Legacy) (int64, error) {
		return positiveID(soap.CustomerAdd(m.ctx, services.CustomerAddInfo{
			Name:       c.CustomerName,
			ParentID:   m.destSO,
			ExternalID: c.ExternalID,
			Address:    c.Address,
		}))
	}))
	if err != nil {
		if !errors.Is(err, shared.ErrCreatedWithoutID) {
			m.failed("failed to create customer", "customer", c.CustomerName, "error", err)
		}
		return customerResult{source: c, action: models.ActionFailed, err: err}
	}

	m.info("created customer", "customer", c.CustomerName, "id", id)
	return customerResult{source: c, destID: id, action: models.ActionCreated}
}

// siteKey is the (customer name, site name) composite match key.
type siteKey struct {
	customer string
	site     string
}

// migrateSites matches sites by parent customer name and site name, creating missing sites under
// the mapped destination customer. Source sites sharing a key merge into one destination site.
func (m *migration) migrateSites(sourceCustomers, destCustomers []models.Customer) error {
	m.progress(phaseUpdate(PhaseSites, sitesFrom, "Fetching sites..."))

	sourceSites, err := m.sitesUnder(m.engine.source, m.sourceSO, sourceCustomers)
	if err != nil {
		m.warn("failed to fetch source sites; continuing without sites", "error", err)
		return nil
	}
	destSites, err := m.sitesUnder(m.engine.dest, m.destSO, destCustomers)
	if err != nil {
		m.warn("failed to fetch destination sites; treating as empty", "error", err)
		destSites = nil
	}

	lookup := siteLookup(destSites, destCustomers)
	sourceCustomerNames := customerNames(sourceCustomers)

	total := len(sourceSites)
	for i, s := range sourceSites {
		if m.stopped() {
			return nil
		}
		m.progress(entityUpdate(PhaseSites, sitesFrom, sitesTo, i+1, total, fmt.Sprintf("Migrating site: %s", s.SiteName)))

		parent, _ := s.ParentID()
		customerName, ok := sourceCustomerNames[parent]
		if !ok {
			m.outcome(PhaseSites, "site", s.UnitID(), s.SiteName, 0, models.ActionSkipped, nil)
			m.logger.Debug("site is not under a customer", "site", s.SiteName, "parent", parent)
			continue
		}

		key := siteKey{nameKey(customerName), nameKey(s.SiteName)}
		if id, ok := lookup[key]; ok {
			m.mapping.addSite(s.UnitID(), id)
			m.outcome(PhaseSites, "site", s.UnitID(), s.SiteName, id, models.ActionMatched, nil)
			continue
		}

		destCustomer, ok := m.mapping.Customers[parent]
		if !ok {
			m.warn("site skipped, parent customer not mapped to destination", "site", s.SiteName, "customer", customerName)
			m.outcome(PhaseSites, "site", s.UnitID(), s.SiteName, 0, models.ActionSkipped, nil)
			continue
		}

		id, err := m.createSite(s, destCustomer)
		if err != nil {
			m.createFailed("failed to create site", err, "site", s.SiteName)
			m.outcome(PhaseSites, "site", s.UnitID(), s.SiteName, 0, models.ActionFailed, err)
			continue
		}
		lookup[key] = id
		m.mapping.addSite(s.UnitID(), id)
		m.info("created site", "site", s.SiteName, "customer", customerName, "id", id)
		m.outcome(PhaseSites, "site", s.UnitID(), s.SiteName, id, models.ActionCreated, nil)
	}

	m.info("org unit mapping built",
		"customers", len(m.mapping.Customers),
		"sites", len(m.mapping.Sites),
		"org_units", len(m.mapping.OrgUnits),
	)
	return nil
}

func (m *migration) createSite(s models.Site, destCustomer int64) (int64, error) {
	payload := map[string]any{
		"siteName":         s.SiteName,
		"externalId":       s.ExternalID,
		"contactFirstName": s.ContactFirstName,
		"contactLastName":  s.ContactLastName,
		"contactEmail":     s.ContactEmail,
		"contactPhone":     s.ContactPhone,
		"street1":          s.Street1,
		"street2":          s.Street2,
		"city":             s.City,
		"stateProv":        s.StateProv,
		"country":          s.Country,
		"postalCode":       s.PostalCode,
	}
	return Attempt(func() (int64, error) {
		return m.engine.dest.CreateSite(m.ctx, destCustomer, payload)
	}).OrElse(soapOrElse(m.engine.soap, func(soap services.Legacy) (int64, error) {
		return positiveID(soap.CustomerAdd(m.ctx, services.CustomerAddInfo{
			Name:       s.SiteName,
			ParentID:   destCustomer,
			ExternalID: s.ExternalID,
			Address:    s.Address,
		}))
	}))
}

// siteLookup indexes sites by (parent customer name, site name). Sites outside customers are left out.
func siteLookup(sites []models.Site, customers []models.Customer) map[siteKey]int64 {
	names := customerNames(customers)
	lookup := make(map[siteKey]int64, len(sites))
	for _, s := range sites {
		if parent, ok := s.ParentID(); ok {
			if name, ok := names[parent]; ok {
				lookup[siteKey{nameKey(name), nameKey(s.SiteName)}] = s.UnitID()
			}
		}
	}
	return lookup
}

func customerNames(customers []models.Customer) map[int64]string {
	names := make(map[int64]string, len(customers))
	for _, c := range customers {
		names[c.UnitID()] = c.CustomerName
	}
	return names
}

// sitesUnder lists sites whose parent is soID or one of customers.
func (m *migration) sitesUnder(r services.Reader, soID int64, customers []models.Customer) ([]models.Site, error) {
	sites, err := r.Sites(m.ctx)
	if err != nil {
		return nil, err
	}
	return services.FilterSites(sites, soID, customers), nil
}

// positiveID turns a non-positive SOAP return into an error.
func positiveID(id int64, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("%w (returned %d)", errNoID, id)
	}
	return id, nil
}
