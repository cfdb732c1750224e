package tasks

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ncx/internal/services"
	"github.com/desertthunder/ncx/internal/shared"
)

// UnknownVersion is reported when the server does not expose a version.
const UnknownVersion = "Unknown"

// ConnectionResult describes a connection attempt.
type ConnectionResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ServerURL      string `json:"serverUrl,omitempty"`
	ServerVersion  string `json:"serverVersion,omitempty"`
	ServiceOrgID   int64  `json:"serviceOrgId,omitempty"`
	ServiceOrgName string `json:"serviceOrgName,omitempty"`
}

// TestConnection authenticates against fqdn and reads the server version and first service org.
//
// Failures are reported through an unsuccessful result. The authenticated client is returned on
// success so callers can keep using it.
func TestConnection(ctx context.Context, fqdn, credential string, opts services.ClientOptions) (*services.Client, ConnectionResult) {
	baseURL := shared.NormalizeBaseURL(fqdn)
	if baseURL == "" {
		return nil, ConnectionResult{Message: fmt.Sprintf("%v: server address is empty", shared.ErrMissingArgument)}
	}

	client := services.NewClient(baseURL, opts)
	logger := shared.WithLogger(loggerOrDefault(opts), "server", baseURL)

	if err := client.Authenticate(ctx, credential); err != nil {
		logger.Warn("authentication failed", "error", err)
		return nil, ConnectionResult{Message: fmt.Sprintf("Authentication failed: %v", err), ServerURL: baseURL}
	}

	result := ConnectionResult{
		Success:       true,
		Message:       "Connection successful",
		ServerURL:     baseURL,
		ServerVersion: UnknownVersion,
	}

	if info, err := client.ServerInfo(ctx); err != nil {
		logger.Warn("could not read server version", "error", err)
	} else if v := info.DisplayVersion(); v != "" {
		result.ServerVersion = v
	}

	if orgs, err := client.ServiceOrgs(ctx); err != nil {
		logger.Warn("could not list service orgs", "error", err)
	} else if len(orgs) > 0 {
		result.ServiceOrgID = orgs[0].UnitID()
		result.ServiceOrgName = orgs[0].SOName
	}

	logger.Info("connected", "version", result.ServerVersion, "so_id", result.ServiceOrgID)
	return client, result
}

func loggerOrDefault(opts services.ClientOptions) *log.Logger {
	if opts.Logger != nil {
		return opts.Logger
	}
	return shared.NewLogger(nil)
}
