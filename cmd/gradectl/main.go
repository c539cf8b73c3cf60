package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"gradeline/internal/cli/command"
	"gradeline/internal/cli/config"
	"gradeline/internal/cli/repl"
	httpclient "gradeline/internal/common/http/client"
	"gradeline/internal/common/http/middleware"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/gradectl.yaml"

type options struct {
	configPath string
	baseURL    string
	secret     string
	timeout    time.Duration
	raw        bool
}

func main() {
	_ = godotenv.Load()
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "gradectl",
		Short:        "Operate a gradeline server: stuck jobs, executor machines, assignments",
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", defaultConfigPath, "path to config file")
	flags.StringVar(&opts.baseURL, "base", "", "override server base URL")
	flags.StringVar(&opts.secret, "secret", "", "override operator secret")
	flags.DurationVar(&opts.timeout, "timeout", 0, "override HTTP timeout (e.g. 10s)")
	flags.BoolVar(&opts.raw, "raw", false, "print responses without indentation")

	root.AddCommand(newShellCommand(opts))
	registry := command.Registry()
	services := map[string]*cobra.Command{}
	for _, cmd := range command.Sorted(registry) {
		parent, ok := services[cmd.Service]
		if !ok {
			parent = &cobra.Command{Use: cmd.Service, Short: cmd.Service + " commands"}
			services[cmd.Service] = parent
			root.AddCommand(parent)
		}
		parent.AddCommand(newActionCommand(opts, registry, cmd))
	}
	return root
}

func newShellCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start the interactive shell",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, client, err := setup(opts)
			if err != nil {
				return err
			}
			session, err := repl.New(client, command.Registry(), cfg.HistoryFile, *cfg.PrettyJSON)
			if err != nil {
				return err
			}
			return session.Run(contextOf(c))
		},
	}
}

func newActionCommand(opts *options, registry map[string]command.Command, cmd command.Command) *cobra.Command {
	use := cmd.Action
	for _, field := range cmd.Fields {
		if field.Required {
			use += " " + field.Name + "=<value>"
		}
	}
	return &cobra.Command{
		Use:   use,
		Short: cmd.Summary,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, client, err := setup(opts)
			if err != nil {
				return err
			}
			runner := repl.NewRunner(client, registry, c.OutOrStdout(), *cfg.PrettyJSON)
			return runner.Exec(contextOf(c), append([]string{cmd.Service, cmd.Action}, args...))
		},
	}
}

func setup(opts *options) (config.Config, *httpclient.Client, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, nil, fmt.Errorf("load config failed: %w", err)
	}
	if opts.baseURL != "" {
		cfg.BaseURL = opts.baseURL
	}
	if opts.secret != "" {
		cfg.OpsSecret = opts.secret
	}
	if opts.timeout > 0 {
		cfg.Timeout = opts.timeout
	}
	if opts.raw {
		pretty := false
		cfg.PrettyJSON = &pretty
	}
	secret := cfg.OpsSecret
	client := httpclient.New(cfg.BaseURL, cfg.Timeout, func() map[string]string {
		return map[string]string{middleware.OpsSecretHeader: secret}
	})
	return cfg, client, nil
}

func contextOf(c *cobra.Command) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
