package testing

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/ncx/internal/models"
)

// FakeNCentral is an in-memory N-central server covering the REST and SOAP endpoints the tool uses.
//
// Seed the exported slices before issuing requests. Everything is guarded by the embedded mutex, which
// tests should hold when reading state while requests may still be in flight.
type FakeNCentral struct {
	sync.Mutex

	Server *httptest.Server

	ServiceOrgs  []models.ServiceOrg
	Customers    []models.Customer
	Sites        []models.Site
	Users        []models.User
	Roles        []models.UserRole
	Groups       []models.AccessGroup
	Properties   []models.OrgProperty
	Devices      []models.Device
	DeviceProps  []models.DeviceProperty
	Version      string
	AccessTTL    int64
	PropertySets []map[string]any

	// Fail maps a route pattern such as "POST /api/service-orgs/{id}/customers" to a status to return.
	Fail map[string]int
	// Blank maps a route pattern to true to have it succeed with an empty JSON object body, as a
	// server that accepts a create without returning the new id.
	Blank map[string]bool
	// SoapFault, when set, is returned as the faultstring of every SOAP call.
	SoapFault string
	// CreateDelay slows customer creation so tests can observe concurrency.
	CreateDelay time.Duration

	Requests     []string
	SoapOps      []string
	AuthCalls    int
	RefreshCalls int

	nextID      int64
	inflight    atomic.Int32
	peakCreates atomic.Int32
}

// NewFakeNCentral starts a fake server that is closed when the test ends.
func NewFakeNCentral(t *testing.T, soID int64, soName string) *FakeNCentral {
	t.Helper()
	f := &FakeNCentral{
		ServiceOrgs: []models.ServiceOrg{{SOID: models.ID(soID), SOName: soName}},
		Version:     "2024.6.0.1",
		AccessTTL:   3600,
		Fail:        map[string]int{},
		Blank:       map[string]bool{},
		nextID:      1000,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/authenticate", f.authenticate)
	mux.HandleFunc("POST /api/auth/refresh", f.refresh)
	mux.HandleFunc("GET /api/server-info", f.serverInfo)
	mux.HandleFunc("GET /api/health", f.health)
	mux.HandleFunc("GET /api/service-orgs", f.listServiceOrgs)
	mux.HandleFunc("GET /api/service-orgs/{id}", f.getServiceOrg)
	mux.HandleFunc("GET /api/service-orgs/{id}/customers", f.listCustomers)
	mux.HandleFunc("POST /api/service-orgs/{id}/customers", f.createCustomer)
	mux.HandleFunc("GET /api/sites", f.listSites)
	mux.HandleFunc("POST /api/customers/{id}/sites", f.createSite)
	mux.HandleFunc("GET /api/devices", f.listDevices)
	mux.HandleFunc("GET /api/devices/{id}/custom-properties", f.listDeviceProps)
	mux.HandleFunc("GET /api/users", f.listAllUsers)
	mux.HandleFunc("GET /api/org-units/{id}/users", f.listUsers)
	mux.HandleFunc("GET /api/org-units/{id}/user-roles", f.listRoles)
	mux.HandleFunc("POST /api/org-units/{id}/user-roles", f.createRole)
	mux.HandleFunc("GET /api/org-units/{id}/access-groups", f.listGroups)
	mux.HandleFunc("POST /api/org-units/{id}/org-unit-access-groups", f.createGroup(models.AccessGroupOrgUnit))
	mux.HandleFunc("POST /api/org-units/{id}/device-access-groups", f.createGroup(models.AccessGroupDevice))
	mux.HandleFunc("GET /api/org-units/{id}/custom-properties", f.listProperties)
	mux.HandleFunc("POST /api/custom-properties/values", f.setProperty)
	mux.HandleFunc("POST /dms2/services2/ServerEI2", f.soap)

	f.Server = httptest.NewServer(f.middleware(mux))
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the server base URL.
func (f *FakeNCentral) URL() string { return f.Server.URL }

// Seed mutates server state under the lock.
func (f *FakeNCentral) Seed(fn func(f *FakeNCentral)) {
	f.Lock()
	defer f.Unlock()
	fn(f)
}

// SetFail makes route pattern respond with status. Zero clears the failure.
func (f *FakeNCentral) SetFail(pattern string, status int) {
	f.Lock()
	defer f.Unlock()
	if status == 0 {
		delete(f.Fail, pattern)
		return
	}
	f.Fail[pattern] = status
}

// AuthCount returns the number of authenticate and refresh calls.
func (f *FakeNCentral) AuthCount() (authenticate, refresh int) {
	f.Lock()
	defer f.Unlock()
	return f.AuthCalls, f.RefreshCalls
}

// PeakCreates returns the highest number of concurrent customer creations observed.
func (f *FakeNCentral) PeakCreates() int { return int(f.peakCreates.Load()) }

// Count returns how many requests started with prefix, e.g. "POST /api/service-orgs".
func (f *FakeNCentral) Count(prefix string) int {
	f.Lock()
	defer f.Unlock()
	n := 0
	for _, r := range f.Requests {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

// CustomerByName finds a customer by exact name.
func (f *FakeNCentral) CustomerByName(name string) (models.Customer, bool) {
	f.Lock()
	defer f.Unlock()
	for _, c := range f.Customers {
		if c.CustomerName == name {
			return c, true
		}
	}
	return models.Customer{}, false
}

// SiteByName finds a site by exact name.
func (f *FakeNCentral) SiteByName(name string) (models.Site, bool) {
	f.Lock()
	defer f.Unlock()
	for _, s := range f.Sites {
		if s.SiteName == name {
			return s, true
		}
	}
	return models.Site{}, false
}

// UserByLogin finds a user by login.
func (f *FakeNCentral) UserByLogin(login string) (models.User, bool) {
	f.Lock()
	defer f.Unlock()
	for _, u := range f.Users {
		if u.UserName == login {
			return u, true
		}
	}
	return models.User{}, false
}

func (f *FakeNCentral) middleware(next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pattern := next.Handler(r)

		f.Lock()
		f.Requests = append(f.Requests, r.Method+" "+r.URL.Path)
		status := f.Fail[pattern]
		blank := f.Blank[pattern]
		f.Unlock()

		if status != 0 {
			http.Error(w, "injected failure", status)
			return
		}
		if blank {
			rec := httptest.NewRecorder()
			next.ServeHTTP(rec, r)
			w.WriteHeader(rec.Code)
			w.Write([]byte("{}"))
			return
		}
		if !strings.HasPrefix(r.URL.Path, "/api/auth/") && !strings.HasPrefix(r.URL.Path, "/dms2/") &&
			!strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeNCentral) id() models.ID {
	f.nextID++
	return models.ID(f.nextID)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id
}

func readBody(r *http.Request) map[string]any {
	var body map[string]any
	data, _ := io.ReadAll(r.Body)
	json.Unmarshal(data, &body)
	if body == nil {
		body = map[string]any{}
	}
	return body
}

func str(body map[string]any, key string) string {
	s, _ := body[key].(string)
	return s
}

// paginate serves items using pageNumber/pageSize, mirroring the server's envelope.
func paginate[T any](w http.ResponseWriter, r *http.Request, items []T) {
	page, _ := strconv.Atoi(r.URL.Query().Get("pageNumber"))
	size, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = len(items)
		if size == 0 {
			size = 1
		}
	}
	start := min((page-1)*size, len(items))
	end := min(start+size, len(items))
	total := (len(items) + size - 1) / size

	writeJSON(w, models.Page[T]{
		Data:       append([]T{}, items[start:end]...),
		PageNumber: page,
		PageSize:   size,
		TotalPages: total,
		TotalItems: len(items),
	})
}

func (f *FakeNCentral) authenticate(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	f.AuthCalls++
	ttl := f.AccessTTL
	f.Unlock()

	if r.Header.Get("Authorization") != "Bearer valid-jwt" {
		http.Error(w, "bad jwt", http.StatusUnauthorized)
		return
	}
	fmt.Fprintf(w, `{"tokens":{"access":{"token":"access-1","expiresInSeconds":%d,"type":"Bearer"},"refresh":{"token":"refresh-1","expiresInSeconds":90000,"type":"Bearer"}}}`, ttl)
}

func (f *FakeNCentral) refresh(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	f.RefreshCalls++
	n := f.RefreshCalls
	f.Unlock()
	fmt.Fprintf(w, `{"tokens":{"access":{"token":"access-r%d","expiresInSeconds":3600,"type":"Bearer"}}}`, n)
}

func (f *FakeNCentral) serverInfo(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	writeJSON(w, models.ServerInfo{ProductVersion: f.Version, ProductName: "N-central"})
}

func (f *FakeNCentral) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (f *FakeNCentral) listServiceOrgs(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	paginate(w, r, f.ServiceOrgs)
}

func (f *FakeNCentral) getServiceOrg(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	for _, so := range f.ServiceOrgs {
		if so.UnitID() == pathID(r) {
			writeJSON(w, so)
			return
		}
	}
	http.NotFound(w, r)
}

func (f *FakeNCentral) listCustomers(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	soID := pathID(r)
	var out []models.Customer
	for _, c := range f.Customers {
		if p, ok := c.ParentID(); ok && p == soID {
			out = append(out, c)
		}
	}
	paginate(w, r, out)
}

func (f *FakeNCentral) createCustomer(w http.ResponseWriter, r *http.Request) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		peak := f.peakCreates.Load()
		if n <= peak || f.peakCreates.CompareAndSwap(peak, n) {
			break
		}
	}
	f.Lock()
	delay := f.CreateDelay
	f.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	body := readBody(r)
	f.Lock()
	defer f.Unlock()
	c := models.Customer{CustomerID: f.id(), CustomerName: str(body, "customerName"), ExternalID: str(body, "externalId"), Parent: models.SomeID(pathID(r))}
	f.Customers = append(f.Customers, c)
	writeJSON(w, map[string]any{"customerId": c.CustomerID})
}

func (f *FakeNCentral) listSites(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	paginate(w, r, f.Sites)
}

func (f *FakeNCentral) createSite(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	f.Lock()
	defer f.Unlock()
	s := models.Site{SiteID: f.id(), SiteName: str(body, "siteName"), Parent: models.SomeID(pathID(r))}
	f.Sites = append(f.Sites, s)
	writeJSON(w, map[string]any{"data": map[string]any{"siteId": s.SiteID}})
}

func (f *FakeNCentral) listDevices(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	paginate(w, r, f.Devices)
}

func (f *FakeNCentral) listDeviceProps(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	var out []models.DeviceProperty
	for _, p := range f.DeviceProps {
		if p.DeviceID.Int64() == pathID(r) {
			out = append(out, p)
		}
	}
	paginate(w, r, out)
}

// descendants returns id plus every customer and site below it.
func (f *FakeNCentral) descendants(id int64) map[int64]bool {
	set := map[int64]bool{id: true}
	for _, c := range f.Customers {
		if p, ok := c.ParentID(); ok && set[p] {
			set[c.UnitID()] = true
		}
	}
	for _, s := range f.Sites {
		if p, ok := s.ParentID(); ok && set[p] {
			set[s.UnitID()] = true
		}
	}
	return set
}

func (f *FakeNCentral) listAllUsers(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	paginate(w, r, f.Users)
}

func (f *FakeNCentral) listUsers(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	scope := f.descendants(pathID(r))
	var out []models.User
	for _, u := range f.Users {
		if p, ok := u.ParentID(); ok && scope[p] {
			out = append(out, u)
		}
	}
	paginate(w, r, out)
}

func (f *FakeNCentral) listRoles(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	var out []models.UserRole
	for _, role := range f.Roles {
		if role.OrgUnitID.Int64 == pathID(r) {
			out = append(out, role)
		}
	}
	paginate(w, r, out)
}

func (f *FakeNCentral) createRole(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	f.Lock()
	defer f.Unlock()
	role := models.UserRole{RoleID: f.id(), OrgUnitID: models.SomeID(pathID(r)), RoleName: str(body, "roleName"), RoleDescription: str(body, "description")}
	f.Roles = append(f.Roles, role)
	writeJSON(w, map[string]any{"roleId": role.RoleID})
}

func (f *FakeNCentral) listGroups(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	var out []models.AccessGroup
	for _, g := range f.Groups {
		if g.OrgUnitID.Int64 == pathID(r) {
			out = append(out, g)
		}
	}
	paginate(w, r, out)
}

func (f *FakeNCentral) createGroup(groupType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := readBody(r)
		f.Lock()
		defer f.Unlock()
		g := models.AccessGroup{GroupID: f.id(), OrgUnitID: models.SomeID(pathID(r)), GroupName: str(body, "groupName"), GroupType: groupType}
		f.Groups = append(f.Groups, g)
		writeJSON(w, map[string]any{"id": g.GroupID})
	}
}

func (f *FakeNCentral) listProperties(w http.ResponseWriter, r *http.Request) {
	f.Lock()
	defer f.Unlock()
	var out []models.OrgProperty
	for _, p := range f.Properties {
		if p.OrgUnitID.Int64 == pathID(r) {
			out = append(out, p)
		}
	}
	paginate(w, r, out)
}

func (f *FakeNCentral) setProperty(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	f.Lock()
	defer f.Unlock()
	f.PropertySets = append(f.PropertySets, body)
	w.WriteHeader(http.StatusNoContent)
}

var (
	soapOpPattern      = regexp.MustCompile(`<soapenv:Body>\s*<ei2:(\w+)>`)
	soapSettingPattern = regexp.MustCompile(`(?s)<ei2:key>(.*?)</ei2:key>\s*<ei2:value>(.*?)</ei2:value>`)
)

func (f *FakeNCentral) soap(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	body := string(data)

	op := ""
	if m := soapOpPattern.FindStringSubmatch(body); m != nil {
		op = m[1]
	}
	settings := map[string]string{}
	for _, m := range soapSettingPattern.FindAllStringSubmatch(body, -1) {
		settings[m[1]] = m[2]
	}

	f.Lock()
	defer f.Unlock()
	f.SoapOps = append(f.SoapOps, op)

	if f.SoapFault != "" {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, `<soap:Envelope><soap:Body><soap:Fault><faultcode>soap:Server</faultcode><faultstring>%s</faultstring></soap:Fault></soap:Body></soap:Envelope>`, f.SoapFault)
		return
	}

	customerID, _ := strconv.ParseInt(settings["customerID"], 10, 64)
	var id models.ID
	switch op {
	case "userAdd":
		id = f.id()
		var roles models.IDList
		json.Unmarshal([]byte(strconv.Quote(settings["userroleID"])), &roles)
		enabled := settings["status"] != "disabled"
		f.Users = append(f.Users, models.User{
			UserID:    id,
			UserName:  settings["username"],
			Email:     settings["email"],
			FirstName: settings["firstname"],
			LastName:  settings["lastname"],
			RoleIDs:   roles,
			IsEnabled: &enabled,
			OrgUnitID: models.SomeID(customerID),
		})
	case "customerAdd":
		id = f.id()
		parent, _ := strconv.ParseInt(settings["parentid"], 10, 64)
		f.Customers = append(f.Customers, models.Customer{CustomerID: id, CustomerName: settings["customername"], Parent: models.SomeID(parent)})
	case "userRoleAdd":
		id = f.id()
		f.Roles = append(f.Roles, models.UserRole{RoleID: id, OrgUnitID: models.SomeID(customerID), RoleName: settings["rolename"]})
	case "accessGroupAdd":
		id = f.id()
		f.Groups = append(f.Groups, models.AccessGroup{GroupID: id, OrgUnitID: models.SomeID(customerID), GroupName: settings["groupname"]})
	case "organizationPropertyModify":
		f.PropertySets = append(f.PropertySets, map[string]any{"soap": true, "customerID": settings["customerID"], "value": settings["propertyvalue"]})
	}

	fmt.Fprintf(w, `<soapenv:Envelope><soapenv:Body><ns1:%sResponse><ns1:return>%d</ns1:return></ns1:%sResponse></soapenv:Body></soapenv:Envelope>`, op, id, op)
}
