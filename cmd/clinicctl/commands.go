package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/clinic-sync/internal/model"
	"github.com/jwalitptl/clinic-sync/internal/repository/postgres"
	"github.com/jwalitptl/clinic-sync/internal/service/appointment"
	"github.com/jwalitptl/clinic-sync/internal/service/event"
	"github.com/jwalitptl/clinic-sync/internal/service/lifecycle"
	"github.com/jwalitptl/clinic-sync/pkg/messaging"
	"github.com/jwalitptl/clinic-sync/pkg/messaging/redis"
	"github.com/jwalitptl/clinic-sync/pkg/validator"
)

type opener func(cmd *cobra.Command) (*env, error)

func newMigrateCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.closer()

			if err := postgres.Migrate(cmd.Context(), e.db); err != nil {
				return err
			}
			version, err := postgres.MigrationVersion(cmd.Context(), e.db)
			if err != nil {
				return err
			}
			fmt.Fprintf(e.out, "database at version %d\n", version)
			return nil
		},
	}
}

func newApplyStatusCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "apply-status APPOINTMENT_ID STATUS",
		Short: "Move an appointment to a new status and propagate it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid appointment id %q: %w", args[0], err)
			}
			status := model.AppointmentStatus(args[1])
			if !status.Valid() {
				return fmt.Errorf("unknown status %q", args[1])
			}

			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.closer()

			svc := lifecycle.NewService(e.repos, event.NewService(e.repos.Outbox), nil, e.log)
			result, err := svc.ApplyStatus(cmd.Context(), id, status)
			if err != nil {
				return err
			}
			return printJSON(e.out, result)
		},
	}
}

func newCreateAppointmentCmd(open opener) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create-appointment",
		Short: "Create an appointment from a JSON request",
		Long:  "Reads a create-appointment request body (camelCase JSON) from --file, or stdin when the file is -.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := cmd.InOrStdin()
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			var req model.ContextualAppointmentInput
			if err := json.NewDecoder(in).Decode(&req); err != nil {
				return fmt.Errorf("invalid request: %w", err)
			}

			e, err := open(cmd)
			if err != nil {
				return err
			}
			defer e.closer()

			svc := appointment.NewService(e.repos, validator.New(), event.NewService(e.repos.Outbox), nil, e.log, appointment.Config{
				DefaultTotalVisits: e.cfg.Sync.DefaultTotalVisits,
				Location:           e.cfg.Sync.Location(),
			})
			result, err := svc.CreateAppointment(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(e.out, result)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "request file")
	return cmd
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch EVENT_TYPE",
		Short: "Print clinical events relayed to Redis, e.g. treatment.completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			broker, err := redis.NewRedisBroker(cmd.Context(), cfg.Redis.ToBrokerConfig(), log)
			if err != nil {
				return err
			}
			defer broker.Close()

			return messaging.Consume(cmd.Context(), broker, messaging.Channel(args[0]),
				func(msg messaging.Message) error {
					return printJSON(cmd.OutOrStdout(), msg)
				},
				func(err error) {
					log.Warn(err.Error())
				})
		},
	}
}
