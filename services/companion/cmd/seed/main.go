package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"companionai/internal/util"
	"companionai/pkg/store"
	"companionai/services/companion/internal/app"
	"companionai/services/companion/internal/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		categories []string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert the companion categories",
		Long: `Seed inserts the companion categories into the database. Names that
already exist are left alone, so running it again is safe.

Categories come from --category flags, then seedCategories in the config
file, then the built-in list.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, categories)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.Path(), "Config file path (YAML, optional)")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "Category name to seed (repeatable)")
	return cmd
}

func run(ctx context.Context, configPath string, categories []string) error {
	cfg, err := config.LoadSeed(configPath)
	if err != nil {
		return err
	}
	logger := util.InitLogger(cfg.LogLevel, cfg.LogFormat)
	ctx = util.ContextWithLogger(ctx, logger)

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	appCore, err := app.New(app.Config{Store: db})
	if err != nil {
		_ = db.Close()
		return err
	}
	defer appCore.Close()

	names := categories
	if len(names) == 0 {
		names = cfg.SeedCategories
	}
	if _, err := appCore.SeedCategories(ctx, names); err != nil {
		logger.Error("error seeding default categories", "err", err)
		return err
	}
	return nil
}
