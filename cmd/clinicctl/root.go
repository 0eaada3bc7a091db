package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/clinic-sync/internal/config"
	"github.com/jwalitptl/clinic-sync/internal/repository"
	"github.com/jwalitptl/clinic-sync/internal/repository/postgres"
	"github.com/jwalitptl/clinic-sync/pkg/logger"
)

// env is what every subcommand needs once flags are parsed.
type env struct {
	cfg    *config.Config
	log    *logger.Logger
	db     *sqlx.DB
	repos  repository.Repositories
	out    io.Writer
	closer func() error
}

type rootOptions struct {
	configFile string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "clinicctl",
		Short:         "Operate the clinical sync service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to config.yaml")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	open := func(cmd *cobra.Command) (*env, error) {
		return openEnv(cmd, opts)
	}
	cmd.AddCommand(
		newMigrateCmd(open),
		newApplyStatusCmd(open),
		newCreateAppointmentCmd(open),
		newWatchCmd(opts),
	)
	return cmd
}

func loadConfig(opts *rootOptions, errOut io.Writer) (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadConfig(opts.configFile)
	if err != nil {
		return nil, nil, err
	}
	log := logger.Nop()
	if opts.verbose {
		log = logger.NewLogger(&logger.Config{
			Level:      logger.ParseLevel(cfg.Log.Level),
			TimeFormat: time.RFC3339,
			Output:     errOut,
			Console:    true,
		})
	}
	return cfg, log, nil
}

func openEnv(cmd *cobra.Command, opts *rootOptions) (*env, error) {
	cfg, log, err := loadConfig(opts, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &env{
		cfg:    cfg,
		log:    log,
		db:     db,
		repos:  postgres.NewRepositories(db),
		out:    cmd.OutOrStdout(),
		closer: db.Close,
	}, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
