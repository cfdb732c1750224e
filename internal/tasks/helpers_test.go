package tasks

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/desertthunder/ncx/internal/models"
	"github.com/desertthunder/ncx/internal/services"
	"github.com/desertthunder/ncx/internal/shared"
	tu "github.com/desertthunder/ncx/internal/testing"
)

const (
	sourceSO int64 = 50
	destSO   int64 = 60
)

// quietLogger discards output so test logs stay readable.
var quietLogger = shared.NewLogger(io.Discard)

func connectFake(t *testing.T, f *tu.FakeNCentral) *services.Client {
	t.Helper()
	c := services.NewClient(f.URL(), services.ClientOptions{Logger: quietLogger})
	if err := c.Authenticate(context.Background(), "valid-jwt"); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	return c
}

func soapFor(f *tu.FakeNCentral) *services.SoapClient {
	return services.NewSoapClient(f.URL(), "valid-jwt", nil, quietLogger)
}

// seedSource builds a small tenant:
//
//	SO 50
//	├── Acme (100)
//	│   └── HQ (101)
//	└── Globex (200)
//	    └── Lab (201)
func seedSource(f *tu.FakeNCentral) {
	f.Seed(func(f *tu.FakeNCentral) {
		f.Customers = []models.Customer{
			{CustomerID: 100, CustomerName: "Acme", ExternalID: "ext-acme", Parent: models.SomeID(sourceSO)},
			{CustomerID: 200, CustomerName: "Globex", Parent: models.SomeID(sourceSO)},
		}
		f.Sites = []models.Site{
			{SiteID: 101, SiteName: "HQ", Parent: models.SomeID(100)},
			{SiteID: 201, SiteName: "Lab", CustomerIDKey: models.SomeID(200)},
		}
		f.Roles = []models.UserRole{
			{RoleID: 301, OrgUnitID: models.SomeID(sourceSO), RoleName: "Technician", Permissions: []string{"Active Issues - View", "ACTIVE_ISSUES_MANAGE"}},
			{RoleID: 302, OrgUnitID: models.SomeID(sourceSO), RoleName: "Auditor"},
		}
		f.Groups = []models.AccessGroup{
			{GroupID: 401, OrgUnitID: models.SomeID(sourceSO), GroupName: "All Customers", GroupType: models.AccessGroupOrgUnit},
			{GroupID: 402, OrgUnitID: models.SomeID(sourceSO), GroupName: "Servers", GroupType: models.AccessGroupDevice},
		}
		f.Users = []models.User{
			{UserID: 501, UserName: "jane@acme.com", FirstName: "Jane", RoleIDs: models.IDList{301}, OrgUnitID: models.SomeID(100)},
			{UserID: 502, UserName: "bob@globex.com", RoleIDs: models.IDList{302, 399}, OrgUnitID: models.SomeID(200)},
		}
		f.Properties = []models.OrgProperty{
			{PropertyID: 601, OrgUnitID: models.SomeID(sourceSO), Label: "Region", Value: "EU"},
			{PropertyID: 602, OrgUnitID: models.SomeID(100), Label: "Contract", Value: "Gold"},
		}
		f.Devices = []models.Device{
			{DeviceID: 701, LongName: "acme-dc01", CustomerID: models.SomeID(100)},
			{DeviceID: 702, LongName: "elsewhere", CustomerID: models.SomeID(999)},
		}
		f.DeviceProps = []models.DeviceProperty{
			{PropertyID: 801, DeviceID: 701, Label: "Rack", Value: "A1"},
		}
	})
}

type fixture struct {
	source *tu.FakeNCentral
	dest   *tu.FakeNCentral
	engine *MigrationEngine
}

func newFixture(t *testing.T, withSoap bool, opts EngineOptions) fixture {
	t.Helper()
	source := tu.NewFakeNCentral(t, sourceSO, "Source SO")
	dest := tu.NewFakeNCentral(t, destSO, "Destination SO")
	seedSource(source)

	if opts.Logger == nil {
		opts.Logger = quietLogger
	}
	if opts.CustomerRate == 0 {
		opts.CustomerRate = -1
	}

	var soap services.Legacy
	if withSoap {
		soap = soapFor(dest)
	}
	engine := NewMigrationEngine(connectFake(t, source), connectFake(t, dest), soap, opts)
	return fixture{source: source, dest: dest, engine: engine}
}

// memRecorder keeps run history in memory.
type memRecorder struct {
	mu       sync.Mutex
	started  []string
	outcomes []models.EntityOutcome
	finished []*models.MigrationRun
	failWith error
}

func (r *memRecorder) StartRun(_ context.Context, run *models.MigrationRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, run.ID())
	return r.failWith
}

func (r *memRecorder) RecordOutcome(_ context.Context, _ string, o models.EntityOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	return r.failWith
}

func (r *memRecorder) FinishRun(_ context.Context, run *models.MigrationRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, run)
	return r.failWith
}
