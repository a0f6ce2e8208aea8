package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Joseda-hg/imon/internal/client"
	"github.com/Joseda-hg/imon/internal/config"
	"github.com/Joseda-hg/imon/internal/logger"
)

var Version = "dev"

var errNoKey = errors.New("no user key configured, run `imon auth <name>` first or pass --key")

// app is the state shared by every subcommand, filled in before each runs.
type app struct {
	configPath string
	key        string
	serviceURL string

	cfg    config.Config
	client *client.Client
	cache  *client.Cache
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "imon",
		Short:         "Track work sessions against an imon service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Client.UserKey == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Welcome to imon. Run `imon auth <name>` to get started.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s. Run `imon --help` for commands.\n", a.cfg.Client.UserKey)
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file path")
	flags.StringVar(&a.key, "key", "", "user key (overrides the configured one)")
	flags.StringVar(&a.serviceURL, "url", "", "service URL (overrides the configured one)")

	rootCmd.AddCommand(
		a.authCmd(),
		a.onCmd(),
		a.breakCmd(),
		a.backCmd(),
		a.doneCmd(),
		a.checkCmd(),
		a.logCmd(),
		a.watchCmd(),
		a.resetCmd(),
		a.recordsCmd(),
	)

	return rootCmd
}

func (a *app) setup() error {
	if a.configPath == "" {
		path, err := config.DefaultConfigPath()
		if err != nil {
			return err
		}
		a.configPath = path
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.key != "" {
		cfg.Client.UserKey = a.key
	}
	if a.serviceURL != "" {
		cfg.Client.ServiceURL = a.serviceURL
	}
	a.cfg = cfg

	logger.Init(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	a.client = client.New(cfg.Client.ServiceURL, cfg.Client.Timeout)
	a.cache = client.NewCache(cfg.Client.CachePath)
	return nil
}

func (a *app) userKey() (string, error) {
	if a.cfg.Client.UserKey == "" {
		return "", errNoKey
	}
	return a.cfg.Client.UserKey, nil
}

// saveKey persists key as the configured user key. A --key override given
// on this invocation is not written back.
func (a *app) saveKey(key string) error {
	stored, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	stored.Client.UserKey = key
	return config.Save(a.configPath, stored)
}

func withContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
