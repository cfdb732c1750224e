package tasks

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ncx/internal/formatter"
	"github.com/desertthunder/ncx/internal/models"
	"github.com/desertthunder/ncx/internal/services"
	"github.com/desertthunder/ncx/internal/shared"
	"golang.org/x/sync/errgroup"
)

// DefaultExportConcurrency bounds the per org unit fan-out.
const DefaultExportConcurrency = 4

// Export kinds double as output file base names.
const (
	KindServiceOrgs      = "service_orgs"
	KindCustomers        = "customers"
	KindSites            = "sites"
	KindUsers            = "users"
	KindDevices          = "devices"
	KindAccessGroups     = "access_groups"
	KindUserRoles        = "user_roles"
	KindOrgProperties    = "org_properties"
	KindDeviceProperties = "device_properties"
)

// ExportOptions selects the entity kinds to export.
type ExportOptions struct {
	ServiceOrgs      bool `json:"serviceOrgs"`
	Customers        bool `json:"customers"`
	Sites            bool `json:"sites"`
	Users            bool `json:"users"`
	Devices          bool `json:"devices"`
	AccessGroups     bool `json:"accessGroups"`
	UserRoles        bool `json:"userRoles"`
	OrgProperties    bool `json:"orgProperties"`
	DeviceProperties bool `json:"deviceProperties"`
}

// AllExports enables every kind.
func AllExports() ExportOptions {
	return ExportOptions{
		ServiceOrgs: true, Customers: true, Sites: true, Users: true, Devices: true,
		AccessGroups: true, UserRoles: true, OrgProperties: true, DeviceProperties: true,
	}
}

// ExportOptionsFromKinds enables the named kinds. Unknown names are an error.
func ExportOptionsFromKinds(kinds []string) (ExportOptions, error) {
	var o ExportOptions
	for _, k := range kinds {
		switch nameKey(k) {
		case KindServiceOrgs:
			o.ServiceOrgs = true
		case KindCustomers:
			o.Customers = true
		case KindSites:
			o.Sites = true
		case KindUsers:
			o.Users = true
		case KindDevices:
			o.Devices = true
		case KindAccessGroups:
			o.AccessGroups = true
		case KindUserRoles:
			o.UserRoles = true
		case KindOrgProperties:
			o.OrgProperties = true
		case KindDeviceProperties:
			o.DeviceProperties = true
		case "all":
			return AllExports(), nil
		default:
			return o, fmt.Errorf("%w: unknown export kind %q", shared.ErrInvalidArgument, k)
		}
	}
	return o, nil
}

func (o ExportOptions) perOrgUnit() bool { return o.AccessGroups || o.UserRoles || o.OrgProperties }

// needsHierarchy reports whether customers and sites must be scanned to scope the export.
func (o ExportOptions) needsHierarchy() bool {
	return o.Customers || o.Sites || o.Users || o.Devices || o.DeviceProperties || o.perOrgUnit()
}

// ExportResult summarizes an export.
type ExportResult struct {
	RunID        string   `json:"runId"`
	Success      bool     `json:"success"`
	Message      string   `json:"message"`
	FilesCreated []string `json:"filesCreated"`
	// TotalRecords is summed over every file written.
	TotalRecords int      `json:"totalRecords"`
	Warnings     []string `json:"warnings"`
}

// ExportEngineOptions wires optional collaborators into an [ExportEngine].
type ExportEngineOptions struct {
	Concurrency int
	Logger      *log.Logger
	Events      *Broadcaster
	Recorder    Recorder
}

// ExportEngine writes a service org's hierarchy and related entities to files.
type ExportEngine struct {
	client services.Reader
	opts   ExportEngineOptions
}

// NewExportEngine creates an export engine reading from client.
func NewExportEngine(client services.Reader, opts ExportEngineOptions) *ExportEngine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultExportConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Events == nil {
		opts.Events = NewBroadcaster()
	}
	return &ExportEngine{client: client, opts: opts}
}

// Events returns the engine's broadcaster.
func (e *ExportEngine) Events() *Broadcaster { return e.opts.Events }

// export is the state of one export run.
type export struct {
	engine  *ExportEngine
	ctx     context.Context
	logger  *log.Logger
	events  *Broadcaster
	options ExportOptions
	soID    int64
	writers []formatter.Writer
	dir     string

	result *ExportResult
	mu     sync.Mutex

	serviceOrgs []models.ServiceOrg
	customers   []models.Customer
	sites       []models.Site
	validUnits  map[int64]bool
}

// Export writes the selected kinds for soID to outputDir in each format.
//
// Fetch failures are warnings and never abort the export. Errors are returned only for unusable
// formats, a cancelled context, or when no file could be written at all.
func (e *ExportEngine) Export(ctx context.Context, outputDir string, options ExportOptions, formats []string, soID int64) (*ExportResult, error) {
	if e.client == nil {
		return nil, shared.ErrNotConnected
	}
	writers, err := formatter.ForFormats(formats)
	if err != nil {
		return nil, err
	}
	if len(writers) == 0 {
		return nil, fmt.Errorf("%w: no export format selected", shared.ErrInvalidArgument)
	}

	run := models.NewMigrationRun(models.RunExport, e.client.BaseURL(), "", soID, 0)
	run.SetID(shared.GenerateID())
	if data, err := shared.MarshalJSON(options, false); err == nil {
		run.SetOptions(string(data))
	}
	run.Start()
	if rec := e.opts.Recorder; rec != nil {
		if err := rec.StartRun(ctx, run); err != nil {
			e.opts.Logger.Warn("failed to record export start", "error", err)
		}
	}

	x := &export{
		engine:     e,
		ctx:        ctx,
		logger:     shared.WithLogger(e.opts.Logger, "run", run.ID()),
		events:     e.opts.Events,
		options:    options,
		soID:       soID,
		writers:    writers,
		dir:        outputDir,
		result:     &ExportResult{RunID: run.ID(), FilesCreated: []string{}, Warnings: []string{}},
		validUnits: map[int64]bool{soID: true},
	}

	started := time.Now()
	err = x.run()

	switch {
	case err != nil:
		x.result.Message = err.Error()
		run.Finish(models.StatusFailed, err.Error())
	default:
		x.result.Success = true
		x.result.Message = fmt.Sprintf("Exported %d records to %d files", x.result.TotalRecords, len(x.result.FilesCreated))
		run.SetCounts(x.result.TotalRecords, 0, 0, len(x.result.Warnings))
		run.Finish(models.StatusCompleted, "")
		x.events.Progress(phaseUpdate(PhaseComplete, 100, "Export finished"))
	}
	x.logger.Info("export finished",
		"files", len(x.result.FilesCreated),
		"records", x.result.TotalRecords,
		"warnings", len(x.result.Warnings),
		"duration", time.Since(started).Round(time.Millisecond),
	)

	if rec := e.opts.Recorder; rec != nil {
		if rerr := rec.FinishRun(context.WithoutCancel(ctx), run); rerr != nil {
			x.logger.Warn("failed to record export finish", "error", rerr)
		}
	}
	return x.result, err
}

func (x *export) run() error {
	x.events.Progress(phaseUpdate(PhaseDiscovery, 0, "Scanning hierarchy..."))
	x.discover()
	if err := x.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrCancelled, err)
	}

	if x.options.ServiceOrgs && len(x.serviceOrgs) > 0 {
		x.write(KindServiceOrgs, models.Records(x.serviceOrgs))
	}
	if x.options.Customers && len(x.customers) > 0 {
		x.write(KindCustomers, models.Records(x.customers))
	}
	if x.options.Sites && len(x.sites) > 0 {
		x.write(KindSites, models.Records(x.sites))
	}

	var devices []models.Device
	if x.options.Users {
		x.exportUsers()
	}
	if x.options.Devices || x.options.DeviceProperties {
		devices = x.exportDevices()
	}

	units := make([]int64, 0, len(x.validUnits))
	for id := range x.validUnits {
		units = append(units, id)
	}
	slices.Sort(units)

	if x.options.AccessGroups {
		groups := perUnit(x, PhaseExport, "access groups", 60, 70, units, x.engine.client.AccessGroups)
		x.write(KindAccessGroups, models.Records(groups))
	}
	if x.options.UserRoles {
		roles := perUnit(x, PhaseExport, "user roles", 70, 80, units, x.engine.client.UserRoles)
		x.write(KindUserRoles, models.Records(roles))
	}
	if x.options.OrgProperties {
		props := perUnit(x, PhaseExport, "org properties", 80, 90, units, x.engine.client.OrgProperties)
		x.write(KindOrgProperties, models.Records(props))
	}
	if x.options.DeviceProperties {
		ids := make([]int64, len(devices))
		for i, d := range devices {
			ids[i] = d.DeviceID.Int64()
		}
		props := perUnit(x, PhaseExport, "device properties", 90, 98, ids, x.engine.client.DeviceProperties)
		x.write(KindDeviceProperties, models.Records(props))
	}

	if err := x.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrCancelled, err)
	}
	if len(x.result.FilesCreated) == 0 && len(x.result.Warnings) > 0 {
		return fmt.Errorf("%w: no files were written", shared.ErrExport)
	}
	return nil
}

// discover loads the service org, its customers, and the sites beneath them.
func (x *export) discover() {
	so, err := x.engine.client.ServiceOrg(x.ctx, x.soID)
	if err != nil {
		x.warn("failed to fetch service org", "so_id", x.soID, "error", err)
	} else {
		x.serviceOrgs = append(x.serviceOrgs, *so)
	}

	if !x.options.needsHierarchy() {
		return
	}

	x.events.Progress(phaseUpdate(PhaseDiscovery, 5, "Scanning customers..."))
	customers, err := x.engine.client.CustomersBySO(x.ctx, x.soID)
	if err != nil {
		x.warn("failed to fetch customers", "error", err)
	}
	x.customers = customers
	for _, c := range customers {
		x.validUnits[c.UnitID()] = true
	}

	x.events.Progress(phaseUpdate(PhaseDiscovery, 10, "Scanning sites..."))
	sites, err := x.engine.client.Sites(x.ctx)
	if err != nil {
		x.warn("failed to fetch sites", "error", err)
	}
	x.sites = services.FilterSites(sites, x.soID, customers)
	for _, s := range x.sites {
		x.validUnits[s.UnitID()] = true
	}

	x.logger.Info("hierarchy scan complete", "org_units", len(x.validUnits))
}

func (x *export) exportUsers() {
	x.events.Progress(phaseUpdate(PhaseExport, 20, "Fetching system-wide users..."))
	all, err := x.engine.client.Users(x.ctx)
	if err != nil {
		x.warn("failed to fetch users", "error", err)
		return
	}
	var users []models.User
	for _, u := range all {
		if x.inScope(u.OrgUnitID, u.ServiceOrgID) {
			users = append(users, u)
		}
	}
	x.logger.Info("users filtered", "fetched", len(all), "kept", len(users))
	x.write(KindUsers, models.Records(users))
}

func (x *export) exportDevices() []models.Device {
	x.events.Progress(phaseUpdate(PhaseExport, 40, "Fetching system-wide devices..."))
	all, err := x.engine.client.Devices(x.ctx)
	if err != nil {
		x.warn("failed to fetch devices", "error", err)
		return nil
	}
	var devices []models.Device
	for _, d := range all {
		if x.inScope(d.OrgUnitID, d.CustomerID, d.SiteID, d.SOID) {
			devices = append(devices, d)
		}
	}
	x.logger.Info("devices filtered", "fetched", len(all), "kept", len(devices))
	if x.options.Devices {
		x.write(KindDevices, models.Records(devices))
	}
	return devices
}

// inScope reports whether any of ids is one of the exported org units.
func (x *export) inScope(ids ...models.NullID) bool {
	for _, id := range ids {
		if id.Valid && x.validUnits[id.Int64] {
			return true
		}
	}
	return false
}

// perUnit calls fetch for every id with bounded concurrency and concatenates the results in id order.
// A failed id is a warning. Progress is published every 10 ids.
func perUnit[T any](x *export, phase Phase, what string, from, to float64, ids []int64, fetch func(context.Context, int64) ([]T, error)) []T {
	total := len(ids)
	x.events.Progress(phaseUpdate(phase, from, "Fetching %s (%d lookups)...", what, total))

	parts := make([][]T, total)
	var done atomic.Int64

	g, ctx := errgroup.WithContext(x.ctx)
	g.SetLimit(x.engine.opts.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			items, err := fetch(ctx, id)
			if err != nil {
				x.warn("failed to fetch "+what, "id", id, "error", err)
			} else {
				parts[i] = items
			}
			if n := int(done.Add(1)); n%10 == 0 || n == total {
				x.events.Progress(entityUpdate(phase, from, to, n, total, fmt.Sprintf("Fetching %s %d/%d", what, n, total)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		x.warn("stopped fetching "+what, "error", err)
	}

	var out []T
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// write emits records in every format. Write failures are warnings.
func (x *export) write(kind string, records []models.Record) {
	for _, w := range x.writers {
		n, err := w.Write(records, x.dir, kind)
		if err != nil {
			x.warn("failed to write export file", "kind", kind, "format", w.Extension(), "error", err)
			continue
		}
		path := formatter.Path(w, x.dir, kind)
		x.mu.Lock()
		x.result.FilesCreated = append(x.result.FilesCreated, path)
		x.result.TotalRecords += n
		x.mu.Unlock()
		x.logger.Debug("wrote export file", "path", path, "records", n)
	}
}

func (x *export) warn(msg string, keyvals ...any) {
	x.logger.Warn(msg, keyvals...)
	text := formatEvent(msg, keyvals)
	x.mu.Lock()
	x.result.Warnings = append(x.result.Warnings, text)
	x.mu.Unlock()
	x.events.Log(log.WarnLevel, text)
}
