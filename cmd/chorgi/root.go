package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dukerupert/chorgi/internal/config"
	"github.com/dukerupert/chorgi/internal/credential"
	"github.com/dukerupert/chorgi/internal/logging"
)

type App struct {
	ConfigPath string

	cfg    *config.Config
	logger *slog.Logger
}

func NewRootCmd() *cobra.Command {
	app := &App{}

	cmd := &cobra.Command{
		Use:          "chorgi",
		Short:        "Family chore kiosk backed by Google Calendar",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Run the kiosk server
  chorgi serve --config /etc/chorgi.yaml

  # Store the OAuth client secret in the OS keyring
  chorgi secret set google-client-secret

  # List signed-in children
  chorgi children list
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(app.ConfigPath)
		if err != nil {
			return err
		}
		app.cfg = cfg
		app.logger = logging.Setup(cfg.LogLevel, cfg.LogFormat)
		return nil
	}

	cmd.PersistentFlags().StringVar(&app.ConfigPath, "config", "", "Path to a YAML config file (env CHORGI_* always applies)")

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newChildrenCmd(app))
	cmd.AddCommand(newSecretCmd(app))
	cmd.AddCommand(newAdminCmd(app))

	return cmd
}

func (app *App) openVault() (*credential.Vault, error) {
	v, err := credential.Open(credential.Config{Dir: app.cfg.Keyring.Dir})
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return v, nil
}
