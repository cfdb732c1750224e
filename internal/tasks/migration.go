package tasks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ncx/internal/models"
	"github.com/desertthunder/ncx/internal/services"
	"github.com/desertthunder/ncx/internal/shared"
)

// Engine defaults
const (
	DefaultCustomerWorkers = 2
	DefaultCustomerRate    = 5.0
	MaxCustomerWorkers     = 10
)

// MigrationOptions toggles the migration phases.
type MigrationOptions struct {
	Customers        bool `json:"customers"`
	UserRoles        bool `json:"userRoles"`
	AccessGroups     bool `json:"accessGroups"`
	Users            bool `json:"users"`
	OrgProperties    bool `json:"orgProperties"`
	DeviceProperties bool `json:"deviceProperties"`
}

// AllPhases enables every supported phase.
func AllPhases() MigrationOptions {
	return MigrationOptions{Customers: true, UserRoles: true, AccessGroups: true, Users: true, OrgProperties: true}
}

// Any reports whether at least one phase is enabled.
func (o MigrationOptions) Any() bool {
	return o.Customers || o.UserRoles || o.AccessGroups || o.Users || o.OrgProperties || o.DeviceProperties
}

// Recorder persists run history. Failures are logged and never fail a run.
type Recorder interface {
	StartRun(ctx context.Context, run *models.MigrationRun) error
	RecordOutcome(ctx context.Context, runID string, outcome models.EntityOutcome) error
	FinishRun(ctx context.Context, run *models.MigrationRun) error
}

// PhaseTally counts entity outcomes for one phase.
type PhaseTally struct {
	Matched int `json:"matched"`
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (t *PhaseTally) add(action string) {
	switch action {
	case models.ActionMatched:
		t.Matched++
	case models.ActionCreated:
		t.Created++
	case models.ActionSkipped:
		t.Skipped++
	case models.ActionFailed:
		t.Failed++
	}
}

// MigrationResult summarizes a migration run.
type MigrationResult struct {
	RunID     string                `json:"runId"`
	Phases    map[Phase]*PhaseTally `json:"phases"`
	Warnings  []string              `json:"warnings"`
	Errors    []string              `json:"errors"`
	Mapping   map[string]int        `json:"mapping"`
	Cancelled bool                  `json:"cancelled"`
	Duration  time.Duration         `json:"duration"`
}

// Tally returns the counts for phase, creating an empty tally when the phase has not run.
func (r *MigrationResult) Tally(phase Phase) *PhaseTally {
	if r.Phases == nil {
		r.Phases = map[Phase]*PhaseTally{}
	}
	t, ok := r.Phases[phase]
	if !ok {
		t = &PhaseTally{}
		r.Phases[phase] = t
	}
	return t
}

// Totals sums every phase.
func (r *MigrationResult) Totals() PhaseTally {
	var total PhaseTally
	for _, t := range r.Phases {
		total.Matched += t.Matched
		total.Created += t.Created
		total.Skipped += t.Skipped
		total.Failed += t.Failed
	}
	return total
}

// EngineOptions wires optional collaborators and tuning into an engine.
type EngineOptions struct {
	CustomerWorkers int
	// CustomerRate caps customer creations per second. Negative disables pacing.
	CustomerRate float64
	Logger       *log.Logger
	Events       *Broadcaster
	Recorder     Recorder
	Permissions  PermissionTable
}

// EngineOptionsFromConfig maps the [migration] config section onto [EngineOptions].
func EngineOptionsFromConfig(cfg shared.MigrationConfig) EngineOptions {
	return EngineOptions{CustomerWorkers: cfg.CustomerWorkers, CustomerRate: cfg.CustomerRate}
}

// MigrationEngine copies the org hierarchy, roles, access groups, users and org properties of one
// service org into another.
type MigrationEngine struct {
	source services.Reader
	dest   services.Writer
	soap   services.Legacy
	opts   EngineOptions

	cancelled atomic.Bool
	mu        sync.Mutex
	running   bool
}

// NewMigrationEngine creates an engine. soap may be nil, in which case user creation fails per user
// and no REST failure has a fallback.
func NewMigrationEngine(source services.Reader, dest services.Writer, soap services.Legacy, opts EngineOptions) *MigrationEngine {
	if opts.CustomerWorkers <= 0 {
		opts.CustomerWorkers = DefaultCustomerWorkers
	}
	if opts.CustomerWorkers > MaxCustomerWorkers {
		opts.CustomerWorkers = MaxCustomerWorkers
	}
	if opts.CustomerRate == 0 {
		opts.CustomerRate = DefaultCustomerRate
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Events == nil {
		opts.Events = NewBroadcaster()
	}
	return &MigrationEngine{source: source, dest: dest, soap: soap, opts: opts}
}

// Events returns the engine's broadcaster.
func (e *MigrationEngine) Events() *Broadcaster { return e.opts.Events }

// Cancel asks the running migration to stop. Phases stop between entities; in-flight calls finish.
func (e *MigrationEngine) Cancel() { e.cancelled.Store(true) }

// Cancelled reports whether [MigrationEngine.Cancel] was called.
func (e *MigrationEngine) Cancelled() bool { return e.cancelled.Load() }

// Run migrates sourceSO into destSO, running the enabled phases in order.
//
// Cancelling ctx has the same effect as [MigrationEngine.Cancel]. A failed fetch of a required list
// aborts the run with [shared.ErrRequiredList]; per-entity failures are tallied and recorded.
func (e *MigrationEngine) Run(ctx context.Context, options MigrationOptions, sourceSO, destSO int64) (*MigrationResult, error) {
	if e.source == nil || e.dest == nil {
		return nil, shared.ErrNotConnected
	}
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: a migration is already running", shared.ErrInvalidInput)
	}
	e.running = true
	e.cancelled.Store(false)
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, e.Cancel)
	defer stop()
	if ctx.Err() != nil {
		e.Cancel()
	}

	m := e.newMigration(ctx, options, sourceSO, destSO)
	return m.run()
}

// migration is the state of one run.
type migration struct {
	engine  *MigrationEngine
	ctx     context.Context
	logger  *log.Logger
	events  *Broadcaster
	options MigrationOptions

	sourceSO int64
	destSO   int64

	mapping *IDMapping
	result  *MigrationResult
	record  *models.MigrationRun
	started time.Time
}

func (e *MigrationEngine) newMigration(ctx context.Context, options MigrationOptions, sourceSO, destSO int64) *migration {
	run := models.NewMigrationRun(models.RunMigration, e.source.BaseURL(), e.dest.BaseURL(), sourceSO, destSO)
	run.SetID(shared.GenerateID())
	if data, err := shared.MarshalJSON(options, false); err == nil {
		run.SetOptions(string(data))
	}

	return &migration{
		engine: e,
		// In-flight calls are allowed to finish after cancellation.
		ctx:      context.WithoutCancel(ctx),
		logger:   shared.WithLogger(e.opts.Logger, "run", run.ID()),
		events:   e.opts.Events,
		options:  options,
		sourceSO: sourceSO,
		destSO:   destSO,
		mapping:  NewIDMapping(),
		result:   &MigrationResult{RunID: run.ID(), Phases: map[Phase]*PhaseTally{}, Warnings: []string{}, Errors: []string{}},
		record:   run,
		started:  time.Now(),
	}
}

func (m *migration) run() (*MigrationResult, error) {
	m.record.Start()
	if rec := m.engine.opts.Recorder; rec != nil {
		if err := rec.StartRun(m.ctx, m.record); err != nil {
			m.logger.Warn("failed to record run start", "error", err)
		}
	}

	m.progress(phaseUpdate(PhaseStart, 0, "Starting migration engine..."))
	m.info("migration started", "source_so", m.sourceSO, "dest_so", m.destSO)

	phases := []struct {
		enabled bool
		fn      func() error
	}{
		{m.options.Customers, m.migrateCustomers},
		{m.options.UserRoles, m.migrateRoles},
		{m.options.AccessGroups, m.migrateAccessGroups},
		{m.options.Users, m.migrateUsers},
		{m.options.OrgProperties, m.migrateProperties},
	}

	var err error
	for _, phase := range phases {
		if !phase.enabled {
			continue
		}
		if m.stopped() {
			break
		}
		if err = phase.fn(); err != nil {
			break
		}
	}
	if err == nil && m.options.DeviceProperties {
		m.warn("device property migration is not supported; skipping")
	}

	return m.finish(err)
}

func (m *migration) finish(err error) (*MigrationResult, error) {
	m.result.Mapping = m.mapping.Sizes()
	m.result.Duration = time.Since(m.started)
	m.result.Cancelled = m.stopped()

	totals := m.result.Totals()
	m.record.SetCounts(totals.Created, totals.Matched, totals.Skipped, totals.Failed)

	switch {
	case err != nil:
		m.result.Errors = append(m.result.Errors, err.Error())
		m.record.Finish(models.StatusFailed, err.Error())
		m.logger.Error("migration failed", "error", err)
		m.events.Log(log.ErrorLevel, "Migration failed: "+err.Error())
	case m.result.Cancelled:
		m.record.Finish(models.StatusCancelled, shared.ErrCancelled.Error())
		m.warn("migration cancelled")
		m.progress(phaseUpdate(PhaseComplete, 100, "Migration cancelled"))
	default:
		m.record.Finish(models.StatusCompleted, "")
		m.progress(phaseUpdate(PhaseComplete, 100, "Migration finished successfully"))
	}

	m.info("migration finished",
		"status", m.record.Status(),
		"created", totals.Created,
		"matched", totals.Matched,
		"skipped", totals.Skipped,
		"failed", totals.Failed,
		"duration", m.result.Duration.Round(time.Millisecond),
	)

	if rec := m.engine.opts.Recorder; rec != nil {
		if rerr := rec.FinishRun(m.ctx, m.record); rerr != nil {
			m.logger.Warn("failed to record run finish", "error", rerr)
		}
	}
	return m.result, err
}

func (m *migration) stopped() bool { return m.engine.cancelled.Load() }

// outcome tallies and records one entity.
func (m *migration) outcome(phase Phase, kind string, sourceID int64, name string, destID int64, action string, err error) {
	m.result.Tally(phase).add(action)

	o := models.EntityOutcome{
		RunID:    m.record.ID(),
		Phase:    strings.ToLower(phase.String()),
		Kind:     kind,
		SourceID: strconv.FormatInt(sourceID, 10),
		Name:     name,
		Action:   action,
	}
	if destID != 0 {
		o.DestID = strconv.FormatInt(destID, 10)
	}
	if err != nil {
		o.ErrorMessage = err.Error()
		m.result.Errors = append(m.result.Errors, fmt.Sprintf("%s %q: %v", kind, name, err))
	}

	if rec := m.engine.opts.Recorder; rec != nil {
		if rerr := rec.RecordOutcome(m.ctx, m.record.ID(), o); rerr != nil {
			m.logger.Warn("failed to record outcome", "kind", kind, "name", name, "error", rerr)
		}
	}
}

// required wraps a failed fetch of a list the phase cannot run without.
func required(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", shared.ErrRequiredList, what, err)
}

func (m *migration) progress(u ProgressUpdate) {
	m.events.Progress(u)
}

func (m *migration) info(msg string, keyvals ...any) {
	m.logger.Info(msg, keyvals...)
	m.events.Log(log.InfoLevel, formatEvent(msg, keyvals))
}

func (m *migration) warn(msg string, keyvals ...any) {
	m.logger.Warn(msg, keyvals...)
	text := formatEvent(msg, keyvals)
	m.result.Warnings = append(m.result.Warnings, text)
	m.events.Log(log.WarnLevel, text)
}

func (m *migration) failed(msg string, keyvals ...any) {
	m.logger.Error(msg, keyvals...)
	m.events.Log(log.ErrorLevel, formatEvent(msg, keyvals))
}

// createFailed reports a failed create. A create the server accepted without an id is only a
// warning since the entity probably exists on the destination.
func (m *migration) createFailed(msg string, err error, keyvals ...any) {
	keyvals = append(keyvals, "error", err)
	if errors.Is(err, shared.ErrCreatedWithoutID) {
		m.warn(msg+": created but no ID returned", keyvals...)
		return
	}
	m.failed(msg, keyvals...)
}

// formatEvent renders a message and key/value pairs as a single line.
func formatEvent(msg string, keyvals []any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(keyvals); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keyvals[i], keyvals[i+1])
	}
	return b.String()
}

// soapOrElse returns a fallback func, or nil when no SOAP client is configured.
func soapOrElse[T any](soap services.Legacy, fn func(services.Legacy) (T, error)) func() (T, error) {
	if soap == nil {
		return nil
	}
	return func() (T, error) { return fn(soap) }
}

// errNoID is reported when a create call succeeds without yielding a usable id.
var errNoID = errors.New("server returned no id")
