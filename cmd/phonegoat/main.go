package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/IshaanNene/phonegoat/internal/api"
	"github.com/IshaanNene/phonegoat/internal/app"
	"github.com/IshaanNene/phonegoat/internal/config"
	"github.com/IshaanNene/phonegoat/internal/session"
	"github.com/IshaanNene/phonegoat/internal/types"
)

var (
	cfgFile   string
	verbose   bool
	maxPhones int
	fresh     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "phonegoat",
		Short: "PhoneGoat: listing phone harvester",
		Long: `PhoneGoat collects real-estate listings for a region and resolves the
contact phone of each one.

Developer listings are resolved through the call-tracking API with a
headless browser as the last resort; other listings use the phone shown
on the page. Progress is kept in a ledger so interrupted runs resume.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(acquireCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(shellCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runCmd creates the "run" subcommand.
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Acquire listings if needed, then resolve phones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App, logger *slog.Logger) error {
				rep, err := a.Run(ctx, session.Options{MaxPhones: maxPhones, Fresh: fresh})
				return printReport(rep, err)
			})
		},
	}
	sessionFlags(cmd)
	return cmd
}

// resolveCmd creates the "resolve" subcommand.
func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve phones for the stored dataset without acquiring",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App, logger *slog.Logger) error {
				rep, err := a.Resolve(ctx, session.Options{MaxPhones: maxPhones, Fresh: fresh})
				return printReport(rep, err)
			})
		},
	}
	sessionFlags(cmd)
	return cmd
}

// acquireCmd creates the "acquire" subcommand.
func acquireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "acquire",
		Short: "Search listings and write the dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App, logger *slog.Logger) error {
				listings, err := a.Acquire(ctx)
				if errors.Is(err, types.ErrLocked) {
					return fmt.Errorf("another acquisition is running (%s)", a.Config().Acquisition.LockPath)
				}
				if err != nil {
					return err
				}
				fmt.Printf("\n✅ %d listings written to %s\n", len(listings), a.Config().Acquisition.DatasetPath)
				return nil
			})
		},
	}
}

// serveCmd creates the "serve" subcommand.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP control API and the run scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App, logger *slog.Logger) error {
				srv := api.NewServer(a.Config().API, a, a.Settings(), a.Metrics(), logger)
				return srv.Serve(ctx)
			})
		},
	}
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("PhoneGoat %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func sessionFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&maxPhones, "max", "m", 0, "maximum listings to process (0 = session.max_phones)")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "clear the ledger before resolving")
}

// withApp loads the config, builds the App and runs fn under a context
// cancelled by SIGINT or SIGTERM.
func withApp(fn func(ctx context.Context, a *app.App, logger *slog.Logger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Metrics.Enabled {
		srv := a.Metrics().StartServer(cfg.Metrics.Port, cfg.Metrics.Path)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	return fn(ctx, a, logger)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func printReport(rep *session.Report, err error) error {
	if errors.Is(err, types.ErrNoListings) {
		fmt.Println("\n⚠️  No listings match the selected author types.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("\n✅ Session complete in %s\n", rep.Elapsed.Round(time.Millisecond))
	fmt.Printf("   Processed: %d (%d resolved, %d skipped)\n", rep.Processed, rep.Resolved, rep.Skipped)
	fmt.Printf("   API calls: %d\n", rep.APICalls)
	fmt.Printf("   Ledger:    %d/%d with phone\n", rep.Success, rep.Total)
	fmt.Printf("   Report:    %s\n", rep.Path)
	return nil
}

// setupLogger creates a structured logger from the logging section.
func setupLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	if cfg.Logging.Output == "stdout" {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}
