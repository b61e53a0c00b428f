// Package main is the operator CLI: inspect pending activities and drive pipeline stages by hand.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/session-migrator/config"
	"github.com/aura-webinar/session-migrator/internal/app"
	"github.com/aura-webinar/session-migrator/internal/auth"
	"github.com/aura-webinar/session-migrator/pkg/database"
	"github.com/aura-webinar/session-migrator/pkg/queue"
)

type cli struct {
	verbose bool
	cfg     *config.Config
	logger  *zap.Logger
	out     io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand(&cli{out: os.Stdout})
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "migratectl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migratectl",
		Short: "Session recording migrator CLI",
		Long: `migratectl inspects activities waiting for migration and runs the download and upload
stages against the configured database, recording source and Bunny Stream library.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			c.cfg = cfg
			c.logger = newLogger(c.verbose)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Log at debug level")
	cmd.AddCommand(
		newPendingCmd(c),
		newDownloadCmd(c),
		newUploadCmd(c),
		newProcessNextCmd(c),
		newProcessCmd(c),
		newRunCmd(c),
		newMigrateCmd(c),
		newTokenCmd(c),
	)
	return cmd
}

func newPendingCmd(c *cli) *cobra.Command {
	var countOnly bool
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List activities eligible for migration, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				if countOnly {
					n, err := a.Pipeline.Count(ctx)
					if err != nil {
						return err
					}
					return c.print(map[string]int{"count": n})
				}
				list, err := a.Pipeline.ListEligible(ctx)
				if err != nil {
					return err
				}
				return c.print(map[string]any{"count": len(list), "activities": list})
			})
		},
	}
	cmd.Flags().BoolVar(&countOnly, "count", false, "Print only the number of eligible activities")
	return cmd
}

func newDownloadCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "download <activity-id>",
		Short: "Download every recording of an activity into the staging directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseActivityID(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				res, err := a.Pipeline.Download(ctx, id)
				if err != nil {
					return err
				}
				return c.print(res)
			})
		},
	}
}

func newUploadCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <activity-id>",
		Short: "Upload an activity's downloaded videos to Bunny Stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseActivityID(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				res, err := a.Pipeline.Upload(ctx, id)
				if err != nil {
					return err
				}
				return c.print(res)
			})
		},
	}
}

func newProcessNextCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "process-next",
		Short: "Download and upload the oldest eligible activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				res, err := a.Pipeline.ProcessNext(ctx)
				if res != nil {
					if perr := c.print(res); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
}

func newProcessCmd(c *cli) *cobra.Command {
	var enqueue bool
	cmd := &cobra.Command{
		Use:   "process <activity-id>",
		Short: "Run both stages for one activity, skipping download when videos are recorded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseActivityID(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), app.Options{RequireRedis: enqueue}, func(ctx context.Context, a *app.App) error {
				if enqueue {
					if err := a.Dispatcher().Dispatch(ctx, id, queue.TriggerCLI); err != nil {
						return err
					}
					return c.print(map[string]any{"activity_id": id, "queued": true})
				}
				res, err := a.Pipeline.ProcessActivity(ctx, id)
				if err != nil {
					return err
				}
				return c.print(res)
			})
		},
	}
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "Hand the activity to the worker queue instead of running it here")
	return cmd
}

func newRunCmd(c *cli) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the auto-processor in the foreground until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				interval = c.cfg.Scheduler.Interval
			}
			return c.withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				go func() { _ = a.Hub.Run(ctx) }()
				err := a.Pipeline.Scheduler().Run(ctx, interval)
				if ctx.Err() != nil {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "Time between runs (defaults to PROCESS_INTERVAL_SEC)")
	return cmd
}

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := database.NewPostgresPool(ctx, c.cfg.Database.DSN(), database.PoolOptions{MaxConns: 2}, c.logger)
			if err != nil {
				return err
			}
			defer pool.Close()
			return database.Migrate(ctx, pool, c.logger)
		},
	}
}

func newTokenCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "token <service>",
		Short: "Issue a service bearer token signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, expires, err := auth.NewJWTService(c.cfg.Auth.JWTSecret, c.cfg.Auth.ExpireHours).Generate(args[0])
			if err != nil {
				return err
			}
			return c.print(auth.TokenResponse{Token: token, ExpiresAt: expires})
		},
	}
}

func (c *cli) withApp(ctx context.Context, opts app.Options, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.New(ctx, c.cfg, c.logger, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseActivityID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid activity id %q", s)
	}
	return id, nil
}

func newLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stderr"}
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, _ := config.Build()
	return logger
}
