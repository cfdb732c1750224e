package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ncx/internal/credentials"
	"github.com/desertthunder/ncx/internal/shared"
)

type profileView struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Active         bool   `json:"active"`
	Source         string `json:"source"`
	Destination    string `json:"destination,omitempty"`
	HasCredential  bool   `json:"hasCredential"`
	HasDestination bool   `json:"hasDestinationCredential,omitempty"`
	LastUsed       string `json:"lastUsed,omitempty"`
}

// ProfileList prints every profile and whether its credentials are stored.
func (r *Runner) ProfileList(ctx context.Context, cmd *cli.Command) error {
	views := make([]profileView, 0, len(r.config.Profiles))
	for _, p := range r.config.Profiles {
		v := profileView{
			Name:          p.Name,
			Type:          p.Type,
			Active:        p.Name == r.config.ActiveProfile,
			Source:        p.Source.FQDN,
			HasCredential: credentials.HasCredential(r.store, p.CredentialKey()),
			LastUsed:      p.LastUsed,
		}
		if p.Destination != nil {
			v.Destination = p.Destination.FQDN
			v.HasDestination = credentials.HasCredential(r.store, p.DestCredentialKey())
		}
		views = append(views, v)
	}

	if cmd.Bool("json") {
		return r.writeJSON(views, true)
	}
	if len(views) == 0 {
		return r.writePlain("No profiles. Add one with 'ncx profile add <name> --source <fqdn>'.\n")
	}

	for _, v := range views {
		marker := " "
		if v.Active {
			marker = "*"
		}
		servers := v.Source
		if v.Destination != "" {
			servers += " → " + v.Destination
		}
		creds := "no credentials"
		switch {
		case v.HasCredential && (v.Destination == "" || v.HasDestination):
			creds = "credentials stored"
		case v.HasCredential || v.HasDestination:
			creds = "credentials incomplete"
		}
		r.writePlain("%s %-20s %-9s %s (%s)\n", marker, v.Name, v.Type, servers, creds)
	}
	return nil
}

// ProfileAdd creates or replaces a profile and saves the config.
func (r *Runner) ProfileAdd(ctx context.Context, cmd *cli.Command) error {
	name := strings.TrimSpace(cmd.StringArg("name"))
	if name == "" {
		return fmt.Errorf("%w: profile name", shared.ErrMissingArgument)
	}

	var p shared.Profile
	if dest := cmd.String("dest"); dest != "" {
		p = shared.NewMigrationProfile(name, cmd.String("source"), dest)
		p.Destination.ServiceOrgID = cmd.Int64("dest-so-id")
		p.Destination.Username = cmd.String("dest-username")
	} else {
		p = shared.NewExportProfile(name, cmd.String("source"))
	}
	p.Source.ServiceOrgID = cmd.Int64("source-so-id")

	r.config.AddProfile(p)
	if err := r.saveConfig(); err != nil {
		return err
	}

	r.logger.Info("profile saved", "name", name, "type", p.Type)
	r.writePlain("✓ Profile %q saved (%s)\n", name, p.Type)
	r.writePlain("Next: ncx profile set-credentials %s\n", name)
	if p.Destination != nil {
		r.writePlain("      ncx profile set-credentials %s --dest\n", name)
	}
	return nil
}

// ProfileDelete removes a profile and any stored credentials.
func (r *Runner) ProfileDelete(ctx context.Context, cmd *cli.Command) error {
	p, err := r.config.FindProfile(cmd.StringArg("name"))
	if err != nil {
		return err
	}
	name := p.Name
	keys := []string{p.CredentialKey(), p.DestCredentialKey()}

	r.config.DeleteProfile(name)
	if err := r.saveConfig(); err != nil {
		return err
	}
	for _, key := range keys {
		if err := r.store.Delete(key); err != nil {
			r.logger.Warn("failed to delete credential", "key", key, "error", err)
		}
	}

	return r.writePlain("✓ Profile %q deleted\n", name)
}

// ProfileUse marks a profile as active.
func (r *Runner) ProfileUse(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("name")
	if err := r.config.SetActiveProfile(name); err != nil {
		return err
	}
	if err := r.saveConfig(); err != nil {
		return err
	}
	return r.writePlain("✓ Active profile: %s\n", name)
}

// ProfileSetCredentials stores the API-user JWT for the profile's source or destination server.
func (r *Runner) ProfileSetCredentials(ctx context.Context, cmd *cli.Command) error {
	p, err := r.config.FindProfile(cmd.StringArg("name"))
	if err != nil {
		return err
	}

	key := p.CredentialKey()
	if cmd.Bool("dest") {
		if p.Destination == nil {
			return fmt.Errorf("%w: profile %q has no destination server", shared.ErrInvalidArgument, p.Name)
		}
		key = p.DestCredentialKey()
	}

	secret := strings.TrimSpace(cmd.String("jwt"))
	if secret == "" {
		if secret, err = r.readSecret(); err != nil {
			return err
		}
	}

	if err := credentials.SaveAndVerify(ctx, r.store, key, secret); err != nil {
		return err
	}
	return r.writePlain("✓ Credential stored for %s\n", key)
}

// readSecret reads the first line of input.
func (r *Runner) readSecret() (string, error) {
	sc := bufio.NewScanner(r.input)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", fmt.Errorf("failed to read credential: %w", err)
		}
		return "", fmt.Errorf("%w: no JWT on stdin", shared.ErrMissingCredentials)
	}
	return strings.TrimSpace(sc.Text()), nil
}
