package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/da8ter/todosync/internal/backend"
	"github.com/da8ter/todosync/internal/backend/caldav"
	"github.com/da8ter/todosync/internal/backend/google"
	"github.com/da8ter/todosync/internal/backend/microsoft"
	"github.com/da8ter/todosync/internal/model"
	"github.com/da8ter/todosync/internal/oauth"
	"github.com/da8ter/todosync/internal/store"
)

// app bundles the wiring every command needs.
type app struct {
	cfg   *model.AppConfig
	store *store.SQLiteStore
	log   *slog.Logger
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var verbose bool

	root := &cobra.Command{
		Use:           "todosync",
		Short:         "Keep a local task list in sync with CalDAV, Google Tasks or Microsoft To Do",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", model.DefaultConfigPath(), "path to the configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	open := func() (*app, error) {
		return openApp(configPath, verbose)
	}

	root.AddCommand(
		newDaemonCmd(open),
		newSyncCmd(open),
		newAddCmd(open),
		newListCmd(open),
		newDoneCmd(open),
		newRemoveCmd(open),
		newTestConnectionCmd(open),
		newDiscoverCmd(open),
		newResetSyncCmd(open),
		newAuthCmd(open),
	)
	return root
}

func openApp(configPath string, verbose bool) (*app, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	s, err := store.NewSQLiteStore(cfg.DatabasePath, cfg.NotificationLeadTime)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, store: s, log: log}, nil
}

// resolveBackend picks the backend from an optional positional argument,
// falling back to the configured active backend.
func resolveBackend(a *app, args []string) (model.Backend, error) {
	raw := a.cfg.Backend
	if len(args) > 0 {
		raw = args[0]
	}
	if raw == "" {
		return "", fmt.Errorf("no backend selected, set 'backend' in the config or pass one of caldav, google, microsoft")
	}
	b := model.ParseBackend(raw)
	if b == "" {
		return "", fmt.Errorf("unknown backend %q", raw)
	}
	return b, nil
}

func buildAdapter(a *app, b model.Backend) (backend.Adapter, error) {
	switch b {
	case model.BackendCalDAV:
		if a.cfg.CalDAV.ServerURL == "" {
			return nil, fmt.Errorf("caldav.server_url is not configured")
		}
		return caldav.New(a.cfg.CalDAV), nil

	case model.BackendGoogle:
		ts, err := tokenSource(a, b)
		if err != nil {
			return nil, err
		}
		return google.New(a.cfg.Google, ts), nil

	case model.BackendMicrosoft:
		ts, err := tokenSource(a, b)
		if err != nil {
			return nil, err
		}
		return microsoft.New(a.cfg.Microsoft, ts, a.cfg.NotificationLeadTime), nil
	}
	return nil, fmt.Errorf("unknown backend %q", b)
}

func tokenSource(a *app, b model.Backend) (*oauth.TokenSource, error) {
	switch b {
	case model.BackendGoogle:
		if a.cfg.Google.ClientID == "" {
			return nil, fmt.Errorf("google.client_id is not configured")
		}
		return oauth.NewTokenSource(oauth.GoogleEndpoint(), a.cfg.Google.ClientID, a.cfg.Google.ClientSecret), nil
	case model.BackendMicrosoft:
		if a.cfg.Microsoft.ClientID == "" {
			return nil, fmt.Errorf("microsoft.client_id is not configured")
		}
		ep := oauth.MicrosoftEndpoint(a.cfg.Microsoft.Tenant)
		return oauth.NewTokenSource(ep, a.cfg.Microsoft.ClientID, a.cfg.Microsoft.ClientSecret), nil
	}
	return nil, fmt.Errorf("backend %s does not use OAuth", b)
}
