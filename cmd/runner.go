package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ncx/internal/credentials"
	"github.com/desertthunder/ncx/internal/repositories"
	"github.com/desertthunder/ncx/internal/services"
	"github.com/desertthunder/ncx/internal/shared"
	"github.com/desertthunder/ncx/internal/tasks"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	store      credentials.Store
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	input      io.Reader
	registry   *prometheus.Registry
	metrics    *services.Metrics
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Store      credentials.Store
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	Input      io.Reader
	Registry   *prometheus.Registry
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Store == nil {
		opts.Store = credentials.NewKeyringStore()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Config.API.Timeout()}
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		store:      opts.Store,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		input:      opts.Input,
		registry:   opts.Registry,
		metrics:    services.NewMetrics(opts.Registry),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		exportCommand, migrateCommand, testCommand, profileCommand, historyCommand, setupCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Configure loads the config file named by --config and applies the log level.
//
// A missing file is not an error: defaults are used and profile edits create it.
func (r *Runner) Configure(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := cmd.String("config")
	if path == "" {
		path = "config.toml"
	}
	r.configPath = path

	if _, err := os.Stat(path); err == nil {
		config, err := shared.LoadConfig(path)
		if err != nil {
			return ctx, err
		}
		r.config = config
	} else {
		r.logger.Debug("config file not found, using defaults", "path", path)
	}

	level := shared.ParseLogLevel(r.config.Log.Level)
	if cmd.Bool("verbose") {
		level = log.DebugLevel
	}
	shared.SetLogLevel(r.logger, level)
	return ctx, nil
}

// SetLogger replaces the runner's logger.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

func (r *Runner) saveConfig() error {
	if err := shared.SaveConfig(r.configPath, r.config); err != nil {
		return err
	}
	r.logger.Debug("config saved", "path", r.configPath)
	return nil
}

// profile resolves --profile, falling back to the active profile.
func (r *Runner) profile(cmd *cli.Command) (*shared.Profile, error) {
	return r.config.ResolveProfile(cmd.String("profile"))
}

// markUsed stamps the profile's last use and saves the config. Failures only warn.
func (r *Runner) markUsed(p *shared.Profile) {
	p.LastUsed = time.Now().UTC().Format(time.RFC3339)
	if err := r.saveConfig(); err != nil {
		r.logger.Warn("failed to record profile use", "error", err)
	}
}

// connection is an authenticated client for one server of a profile.
type connection struct {
	client     *services.Client
	result     tasks.ConnectionResult
	server     shared.ConnectionConfig
	credential string
}

// serviceOrg picks the service org id: an explicit flag, then the profile, then the first org the server reported.
func (c *connection) serviceOrg(flag int64) int64 {
	switch {
	case flag > 0:
		return flag
	case c.server.ServiceOrgID > 0:
		return c.server.ServiceOrgID
	default:
		return c.result.ServiceOrgID
	}
}

func (r *Runner) clientOptions(name string) services.ClientOptions {
	opts := services.ClientOptionsFromConfig(r.config.API)
	opts.HTTPClient = r.httpClient
	opts.Metrics = r.metrics
	opts.Logger = r.logger
	opts.Name = name
	return opts
}

// connect authenticates against server with the credential stored under key.
func (r *Runner) connect(ctx context.Context, name string, server shared.ConnectionConfig, key string) (*connection, error) {
	credential, err := credentials.Require(r.store, key)
	if err != nil {
		return nil, err
	}

	client, result := tasks.TestConnection(ctx, server.FQDN, credential, r.clientOptions(name))
	if !result.Success {
		return nil, fmt.Errorf("%w: %s server: %s", shared.ErrAuthentication, name, result.Message)
	}
	return &connection{client: client, result: result, server: server, credential: credential}, nil
}

// openHistory opens the run history database. Failures are logged and history is disabled.
func (r *Runner) openHistory(cmd *cli.Command) (*repositories.History, func()) {
	if cmd.Bool("no-history") {
		return nil, func() {}
	}
	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		r.logger.Warn("run history disabled", "error", err)
		return nil, func() {}
	}
	return repositories.NewHistory(db), func() { closeDB(r.logger, db) }
}

func closeDB(logger *log.Logger, db *sql.DB) {
	if err := db.Close(); err != nil {
		logger.Warn("failed to close database", "error", err)
	}
}

// followEvents prints progress lines from events until ctx ends.
func (r *Runner) followEvents(ctx context.Context, events *tasks.Broadcaster) <-chan struct{} {
	done := make(chan struct{})
	ch := events.Subscribe(ctx)
	go func() {
		defer close(done)
		last := tasks.PhaseStart
		for evt := range ch {
			switch {
			case evt.Progress != nil:
				u := evt.Progress
				if u.Phase != last {
					r.writePlain("\n▸ %s\n", u.Phase)
					last = u.Phase
				}
				if u.Message != "" {
					r.writePlain("  [%3.0f%%] %s\n", u.Percent, u.Message)
				}
			case evt.Log != nil && evt.Log.Level >= log.WarnLevel:
				r.writePlain("  %s %s\n", strings.ToUpper(evt.Log.Level.String()), evt.Log.Message)
			}
		}
	}()
	return done
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
