package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/phonegoat/internal/app"
	"github.com/IshaanNene/phonegoat/internal/repl"
	"github.com/IshaanNene/phonegoat/internal/settings"
	"github.com/IshaanNene/phonegoat/internal/types"
)

// settingsCmd creates the "settings" command group.
func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and change the search criteria",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current settings",
		Args:  cobra.NoArgs,
		RunE: withSettings(func(ctx context.Context, p *settings.Provider, args []string) error {
			return printSettings(ctx, p)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-region <name> <id>",
		Short: "Set the search region and its numeric site id",
		Args:  cobra.ExactArgs(2),
		RunE: withSettings(func(ctx context.Context, p *settings.Provider, args []string) error {
			return p.SetRegion(ctx, types.Region{Name: args[0], ID: args[1]})
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-rooms <list>",
		Short: "Set room counts, e.g. 1,2,3",
		Args:  cobra.ExactArgs(1),
		RunE: withSettings(func(ctx context.Context, p *settings.Provider, args []string) error {
			rooms, err := settings.ParseIntList(args[0])
			if err != nil {
				return err
			}
			return p.SetRooms(ctx, rooms)
		}),
	})

	var minFloor, maxFloor string
	floors := &cobra.Command{
		Use:   "set-floors",
		Short: "Set minimum and maximum floors; omit a flag to clear it",
		Args:  cobra.NoArgs,
		RunE: withSettings(func(ctx context.Context, p *settings.Provider, args []string) error {
			lo, err := settings.ParseIntList(minFloor)
			if err != nil {
				return err
			}
			hi, err := settings.ParseIntList(maxFloor)
			if err != nil {
				return err
			}
			return p.SetFloors(ctx, lo, hi)
		}),
	}
	floors.Flags().StringVar(&minFloor, "min", "", "comma-separated minimum floors")
	floors.Flags().StringVar(&maxFloor, "max", "", "comma-separated maximum floors")
	cmd.AddCommand(floors)

	var minPrice, maxPrice string
	prices := &cobra.Command{
		Use:   "set-prices",
		Short: "Set the price range in rubles; omit a flag to clear it",
		Args:  cobra.NoArgs,
		RunE: withSettings(func(ctx context.Context, p *settings.Provider, args []string) error {
			lo, err := repl.ParsePrice(minPrice)
			if err != nil {
				return err
			}
			hi, err := repl.ParsePrice(maxPrice)
			if err != nil {
				return err
			}
			return p.SetPrices(ctx, lo, hi)
		}),
	}
	prices.Flags().StringVar(&minPrice, "min", "", "minimum price")
	prices.Flags().StringVar(&maxPrice, "max", "", "maximum price")
	cmd.AddCommand(prices)

	cmd.AddCommand(&cobra.Command{
		Use:   "set-authors <list>",
		Short: "Set author types, e.g. developer,homeowner",
		Args:  cobra.ExactArgs(1),
		RunE: withSettings(func(ctx context.Context, p *settings.Provider, args []string) error {
			cats, err := repl.ParseCategories(args[0])
			if err != nil {
				return err
			}
			return p.SetAuthorTypes(ctx, cats)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:       "set-autoparse <on|off>",
		Short:     "Switch scheduled runs on or off",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: withSettings(func(ctx context.Context, p *settings.Provider, args []string) error {
			switch args[0] {
			case "on":
				return p.SetAutoParse(ctx, true)
			case "off":
				return p.SetAutoParse(ctx, false)
			}
			return fmt.Errorf("expected on or off, got %q", args[0])
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Restore every setting to its default",
		Args:  cobra.NoArgs,
		RunE: withSettings(func(ctx context.Context, p *settings.Provider, args []string) error {
			return p.Reset(ctx)
		}),
	})

	return cmd
}

// withSettings opens only the settings store; changes are echoed back.
func withSettings(fn func(ctx context.Context, p *settings.Provider, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := setupLogger(cfg)
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		store, err := settings.Open(ctx, &cfg.Settings, logger)
		if err != nil {
			return fmt.Errorf("open settings: %w", err)
		}
		defer store.Close()

		p := settings.NewProvider(store)
		if err := fn(ctx, p, args); err != nil {
			return err
		}
		if cmd.Name() != "show" {
			return printSettings(ctx, p)
		}
		return nil
	}
}

func printSettings(ctx context.Context, p *settings.Provider) error {
	v, err := p.Current(ctx)
	if err != nil {
		return err
	}
	repl.WriteSettings(os.Stdout, v)
	return nil
}

// shellCmd creates the "shell" subcommand.
func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive shell for settings and runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App, logger *slog.Logger) error {
				repl.New(a, a.Settings(), a.Metrics(), os.Stdin, os.Stdout, logger).Start(ctx)
				return nil
			})
		},
	}
}
