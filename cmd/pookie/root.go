package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pookie/internal/app"
	"pookie/internal/config"
	logx "pookie/pkg/logx"
)

type rootFlags struct {
	configPath string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "pookie",
		Short:         "Reminder and feedback daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.LoadDotEnv(f.envFiles...)
		},
	}
	cmd.PersistentFlags().StringVarP(&f.configPath, "config", "c", "./config.yaml", "path to config (json or yaml)")
	cmd.PersistentFlags().StringSliceVar(&f.envFiles, "env-file", []string{".env"}, ".env files to load (missing files are skipped)")

	cmd.AddCommand(
		newServeCmd(f),
		newValidateCmd(f),
		newFeedbackCmd(f),
		newRemindCmd(f),
		newEventCmd(f),
		newPendingCmd(f),
		newCancelCmd(f),
	)
	return cmd
}

func loadConfig(f *rootFlags) (*config.Manager, error) {
	m := config.NewManager(f.configPath, logx.Nop())
	if _, err := m.Load(); err != nil {
		return nil, fmt.Errorf("%s: %w", f.configPath, err)
	}
	return m, nil
}

// withApp builds the app for a one-shot command: warnings go to stderr,
// nothing is started and fired notifications are left to the daemon.
func withApp(cmd *cobra.Command, f *rootFlags, fn func(ctx context.Context, a *app.App) error) error {
	cfgm, err := loadConfig(f)
	if err != nil {
		return err
	}
	a, err := app.New(cfgm,
		app.WithLogger(logx.NewWriter(cmd.ErrOrStderr(), "warn")),
		app.WithSinks(),
	)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(cmd.Context(), a)
}
