package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/insightzen/internal/authorization"
	"github.com/smallbiznis/insightzen/internal/cache"
	"github.com/smallbiznis/insightzen/internal/clock"
	"github.com/smallbiznis/insightzen/internal/config"
	"github.com/smallbiznis/insightzen/internal/dialer"
	"github.com/smallbiznis/insightzen/internal/membership"
	membershipdomain "github.com/smallbiznis/insightzen/internal/membership/domain"
	"github.com/smallbiznis/insightzen/internal/migration"
	"github.com/smallbiznis/insightzen/internal/observability"
	"github.com/smallbiznis/insightzen/internal/quota"
	"github.com/smallbiznis/insightzen/internal/ratelimit"
	"github.com/smallbiznis/insightzen/internal/sample"
	"github.com/smallbiznis/insightzen/internal/scheduler"
	"github.com/smallbiznis/insightzen/internal/server"
	"github.com/smallbiznis/insightzen/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "insightzen",
		Short:         "Quota-based sample dialer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), expireCmd(), grantCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the expiry scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
					return &fxevent.ZapLogger{Logger: log.Named("fx")}
				}),
				infrastructure(),
				migration.Module,
				domains(),
				scheduler.Module,
				server.Module,
			)
			app.Run()
			return app.Err()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			// migration.Module applies the schema while the graph is built.
			return runApp(cmd.Context(),
				fx.Options(
					config.Module,
					observability.Module,
					db.Module,
					migration.Module,
				),
				func(context.Context) error { return nil },
			)
		},
	}
}

func expireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Expire overdue reservations once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			var sched *scheduler.Scheduler
			return runApp(cmd.Context(),
				fx.Options(
					infrastructure(),
					domains(),
					fx.Provide(scheduler.ProvideConfig, scheduler.New),
				),
				func(ctx context.Context) error {
					return sched.RunOnce(ctx)
				},
				&sched,
			)
		},
	}
}

func grantCmd() *cobra.Command {
	var projectID, userID, role string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a user a role on a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				members membershipdomain.Service
				log     *zap.Logger
			)
			return runApp(cmd.Context(),
				fx.Options(
					config.Module,
					observability.Module,
					db.Module,
					clock.Module,
					membership.Module,
				),
				func(ctx context.Context) error {
					resp, err := members.Grant(ctx, membershipdomain.GrantRequest{
						ProjectID: projectID,
						UserID:    userID,
						Role:      role,
					})
					if err != nil {
						return err
					}
					log.Info("membership granted",
						zap.String("project_id", resp.ProjectID),
						zap.String("user_id", resp.UserID),
						zap.String("role", string(resp.Role)),
					)
					return nil
				},
				&members, &log,
			)
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", string(membershipdomain.RoleAdmin), "admin, manager, supervisor or agent")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,
		ratelimit.Module,
	)
}

func domains() fx.Option {
	return fx.Options(
		membership.Module,
		authorization.Module,
		quota.Module,
		sample.Module,
		dialer.Module,
	)
}

// runApp starts a short-lived app, fills targets from its graph, runs fn and
// stops the app again.
func runApp(parent context.Context, opts fx.Option, fn func(ctx context.Context) error, targets ...any) error {
	if parent == nil {
		parent = context.Background()
	}
	app := fx.New(fx.NopLogger, opts, fx.Populate(targets...))
	if err := app.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(parent, 5*time.Minute)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return err
	}
	runErr := fn(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	return errors.Join(runErr, app.Stop(stopCtx))
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
