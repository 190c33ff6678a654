package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/nexusvault/internal/client"
	"github.com/agentworkforce/nexusvault/internal/config"
	"github.com/agentworkforce/nexusvault/internal/logging"
)

// Set via ldflags at build time
var version = "dev"

type app struct {
	configPath string
	logLevel   string
	baseURL    string

	cfg config.Config
	log *logging.Logger

	in  io.Reader
	out io.Writer
}

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{in: in, out: out}
	rootCmd := &cobra.Command{
		Use:           "nexusvault",
		Short:         "Nexus Vault media catalog server and sync client",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Close()
			}
		},
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default ~/.config/nexusvault/config.toml)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override the configured log level")
	rootCmd.PersistentFlags().StringVar(&a.baseURL, "base-url", "", "Server URL for client commands")

	rootCmd.AddGroup(
		&cobra.Group{ID: "server", Title: "Server Commands:"},
		&cobra.Group{ID: "client", Title: "Client Commands:"},
	)
	serveC := serveCmd(a)
	serveC.GroupID = "server"
	rootCmd.AddCommand(serveC)
	for _, c := range []*cobra.Command{sessionCmd(a), exportCmd(a), importCmd(a), versionsCmd(a), settingsCmd(a)} {
		c.GroupID = "client"
		rootCmd.AddCommand(c)
	}
	return rootCmd
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.baseURL != "" {
		cfg.Session.BaseURL = a.baseURL
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return err
	}
	for _, warning := range cfg.Warnings {
		logger.Warn().Msg(warning)
	}
	a.cfg = cfg
	a.log = logger
	return nil
}

func (a *app) client() *client.HTTPClient {
	logger := a.log.Logger
	return client.NewHTTPClient(client.Options{
		BaseURL:    a.cfg.Session.BaseURL,
		Token:      a.cfg.Session.Token,
		HTTPClient: &http.Client{Timeout: a.cfg.Session.Timeout},
		Logger:     &logger,
	})
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
