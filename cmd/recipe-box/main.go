package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"recipe-box/internal/app"
	"recipe-box/internal/config"
	"recipe-box/internal/database"
	"recipe-box/internal/logging"
	"recipe-box/internal/metrics"
	"recipe-box/internal/telegram"
)

var Version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:           "recipe-box",
		Short:         "Recipe box API server and maintenance commands",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(nudgeCmd())
	rootCmd.AddCommand(importZipCmd())
	rootCmd.AddCommand(exportZipCmd())
	rootCmd.AddCommand(metricsCleanupCmd())
	rootCmd.AddCommand(usageCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and builds the logger every command uses.
func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.NewFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, logging.New(cfg.LogLevel, cfg.LogFormat), nil
}

type appFunc func(ctx context.Context, a *app.App, log *logrus.Logger) error

// withApp runs fn against a fully provisioned app and closes it afterwards.
func withApp(cmd *cobra.Command, fn appFunc) error {
	return runApp(cmd, app.New, fn)
}

// withOfflineApp is withApp for one-shot commands: the bot webhook and the
// photo bucket are left as they are.
func withOfflineApp(cmd *cobra.Command, fn appFunc) error {
	return runApp(cmd, app.NewOffline, fn)
}

func runApp(cmd *cobra.Command, open func(context.Context, *config.Config, *logrus.Logger) (*app.App, error), fn appFunc) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer a.Close()
	return fn(ctx, a, log)
}

// withMetrics runs fn against the metrics store alone, without connecting
// any integration.
func withMetrics(cmd *cobra.Command, fn func(ctx context.Context, store *metrics.Store, cfg *config.Config) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := database.NewDB(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(cmd.Context(), metrics.NewStore(db), cfg)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, log *logrus.Logger) error {
				return serve(ctx, a, log)
			})
		},
	}
}

func serve(ctx context.Context, a *app.App, log *logrus.Logger) error {
	port := a.Config().Port
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("port", port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.RunBackground(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server exited")
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if err := database.RunMigrations(cfg.DatabaseDriver, cfg.DatabaseURL); err != nil {
				return err
			}
			log.WithField("driver", cfg.DatabaseDriver).Info("migrations applied")
			return nil
		},
	}
}

func nudgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nudge",
		Short: "Send cook nudges for stale recipes once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOfflineApp(cmd, func(ctx context.Context, a *app.App, log *logrus.Logger) error {
				res, err := a.Nudge.Run(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "candidates=%d sent=%d failed=%d\n", res.Candidates, res.Sent, res.Failed)
				return nil
			})
		},
	}
}

func importZipCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "import-zip [file]",
		Short: "Import a recipe archive into a user's library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}
			return withOfflineApp(cmd, func(ctx context.Context, a *app.App, log *logrus.Logger) error {
				report, err := a.ImportZip(ctx, userID, f, info.Size())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Imported %d recipes.\n", report.Imported)
				for _, e := range report.Errors {
					fmt.Fprintf(out, "  skipped %s: %s\n", e.File, e.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "ID of the user that owns the imported recipes")
	cmd.MarkFlagRequired("user")
	return cmd
}

func exportZipCmd() *cobra.Command {
	var userID, output string
	cmd := &cobra.Command{
		Use:   "export-zip",
		Short: "Export a user's recipes as a zip archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = "recipes-" + time.Now().UTC().Format("2006-01-02") + ".zip"
			}
			return withOfflineApp(cmd, func(ctx context.Context, a *app.App, log *logrus.Logger) error {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				if err := a.ExportZip(ctx, userID, f); err != nil {
					f.Close()
					os.Remove(output)
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				log.WithField("file", output).Info("recipes exported")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "ID of the user whose recipes are exported")
	cmd.Flags().StringVarP(&output, "output", "o", "", "archive path (default recipes-<date>.zip)")
	cmd.MarkFlagRequired("user")
	return cmd
}

func metricsCleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "metrics-cleanup",
		Short: "Remove old metric records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMetrics(cmd, func(ctx context.Context, store *metrics.Store, cfg *config.Config) error {
				affected, err := store.Cleanup(ctx, days)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Successfully removed %d old metric records.\n", affected)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 90, "keep records for the last N days")
	return cmd
}

func usageCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Print daily LLM token usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMetrics(cmd, func(ctx context.Context, store *metrics.Store, cfg *config.Config) error {
				usage, err := store.GetDailyUsage(ctx, days)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), telegram.FormatUsageReport(usage, metrics.GetSysHealth(app.DataDir(cfg))))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "number of days to report")
	return cmd
}
