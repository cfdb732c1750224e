package shared

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Profile types
const (
	ProfileExport    = "export"
	ProfileMigration = "migration"
)

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	ActiveProfile string          `toml:"active_profile"`
	API           APIConfig       `toml:"api"`
	Migration     MigrationConfig `toml:"migration"`
	Export        ExportConfig    `toml:"export"`
	Database      DatabaseConfig  `toml:"database"`
	Server        ServerConfig    `toml:"server"`
	Log           LogConfig       `toml:"log"`
	Profiles      []Profile       `toml:"profiles"`
}

// APIConfig tunes the REST client.
type APIConfig struct {
	TimeoutSeconds int            `toml:"timeout_seconds"`
	MaxRetries     int            `toml:"max_retries"`
	PageSize       int            `toml:"page_size"`
	DefaultLimit   int            `toml:"default_limit"`
	Limits         map[string]int `toml:"limits"`
}

// Timeout returns the HTTP timeout as a [time.Duration].
func (a APIConfig) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// MigrationConfig contains orchestrator tuning.
type MigrationConfig struct {
	CustomerWorkers int     `toml:"customer_workers"`
	CustomerRate    float64 `toml:"customer_rate"`
}

// ExportConfig contains export defaults.
type ExportConfig struct {
	Directory   string   `toml:"directory"`
	Formats     []string `toml:"formats"`
	Concurrency int      `toml:"concurrency"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains status server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr joins host and port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// ConnectionConfig describes one N-central server.
type ConnectionConfig struct {
	FQDN         string `toml:"fqdn"`
	Username     string `toml:"username,omitempty"`
	ServiceOrgID int64  `toml:"service_org_id,omitempty"`
}

// BaseURL returns the https base URL for the server.
func (c ConnectionConfig) BaseURL() string {
	return NormalizeBaseURL(c.FQDN)
}

// Profile is a named connection setup: export profiles have one server, migration profiles have two.
type Profile struct {
	Name        string            `toml:"name"`
	Type        string            `toml:"type"`
	Source      ConnectionConfig  `toml:"source"`
	Destination *ConnectionConfig `toml:"destination,omitempty"`
	LastUsed    string            `toml:"last_used,omitempty"`
}

// NewExportProfile creates a single-server profile.
func NewExportProfile(name, fqdn string) Profile {
	return Profile{Name: name, Type: ProfileExport, Source: ConnectionConfig{FQDN: fqdn}}
}

// NewMigrationProfile creates a source/destination profile.
func NewMigrationProfile(name, sourceFQDN, destFQDN string) Profile {
	return Profile{
		Name:        name,
		Type:        ProfileMigration,
		Source:      ConnectionConfig{FQDN: sourceFQDN},
		Destination: &ConnectionConfig{FQDN: destFQDN},
	}
}

// CredentialKey is the credential store key for the source server.
func (p Profile) CredentialKey() string {
	return p.Name
}

// DestCredentialKey is the credential store key for the destination server.
func (p Profile) DestCredentialKey() string {
	return p.Name + "_dest"
}

// FindProfile returns the named profile.
func (c *Config) FindProfile(name string) (*Profile, error) {
	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			return &c.Profiles[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
}

// ResolveProfile returns the named profile, or the active one when name is empty.
func (c *Config) ResolveProfile(name string) (*Profile, error) {
	if name == "" {
		name = c.ActiveProfile
	}
	if name == "" {
		return nil, fmt.Errorf("%w: no profile specified and no active profile set", ErrProfileNotFound)
	}
	return c.FindProfile(name)
}

// AddProfile inserts or replaces a profile by name.
//
// The first profile added becomes active.
func (c *Config) AddProfile(p Profile) {
	kept := c.Profiles[:0]
	for _, existing := range c.Profiles {
		if existing.Name != p.Name {
			kept = append(kept, existing)
		}
	}
	c.Profiles = append(kept, p)
	if c.ActiveProfile == "" {
		c.ActiveProfile = p.Name
	}
}

// DeleteProfile removes a profile. If it was active, the first remaining profile becomes active.
func (c *Config) DeleteProfile(name string) {
	kept := c.Profiles[:0]
	for _, existing := range c.Profiles {
		if existing.Name != name {
			kept = append(kept, existing)
		}
	}
	c.Profiles = kept

	if c.ActiveProfile == name {
		c.ActiveProfile = ""
		if len(c.Profiles) > 0 {
			c.ActiveProfile = c.Profiles[0].Name
		}
	}
}

// SetActiveProfile marks an existing profile as active.
func (c *Config) SetActiveProfile(name string) error {
	if _, err := c.FindProfile(name); err != nil {
		return err
	}
	c.ActiveProfile = name
	return nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig encodes the configuration to path, creating parent directories as needed.
func SaveConfig(path string, config *Config) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
