package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Limetric/storeferry/migrator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "storeferry [config.toml]",
	Short:         "Schema migration for SQLite application stores",
	Args:          cobra.MaximumNArgs(1),
	RunE:          runMigration,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to storeferry TOML config file")
	rootCmd.Version = currentBuild().String()
	rootCmd.SetVersionTemplate(versionTemplate())
	rootCmd.AddCommand(statusCmd, hashCmd, verifyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveConfigPath picks the positional argument over the --config flag.
func resolveConfigPath(args []string) (string, error) {
	cfgPath := configPath
	if len(args) > 0 {
		cfgPath = args[0]
	}
	if cfgPath == "" {
		return "", fmt.Errorf("config file required: storeferry <config.toml> or storeferry --config <config.toml>")
	}
	return cfgPath, nil
}

func runMigration(cmd *cobra.Command, args []string) error {
	cfgPath, err := resolveConfigPath(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	start := time.Now()

	log.Printf("storeferry %s", currentBuild())
	log.Printf(
		"config: catalog=%s stores=%d workers=%d target=%s on_missing_store=%s keep_backup=%t fail_fast=%t",
		cfg.Catalog,
		len(cfg.Stores),
		cfg.Workers,
		cfg.targetLabel(),
		cfg.OnMissingStore,
		cfg.KeepBackup,
		cfg.FailFast,
	)

	hooks, err := loadHookStatements(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := migrator.New(migrator.Options{
		ScratchDir:   cfg.ScratchDir,
		Logger:       log.New(log.Writer(), "[migrator] ", log.Flags()),
		Metrics:      migrator.NewMetrics(reg),
		FailFast:     cfg.FailFast,
		KeepBackup:   cfg.KeepBackup,
		AfterMigrate: hooks,
	})

	outcomes := migrateStores(ctx, m, cfg)
	printReport(cmd.OutOrStdout(), outcomes)

	if cfg.MetricsTextfile != "" {
		if err := prometheus.WriteToTextfile(cfg.MetricsTextfile, reg); err != nil {
			return fmt.Errorf("write metrics textfile: %w", err)
		}
		log.Printf("metrics written to %s", cfg.MetricsTextfile)
	}

	if failed := countFailed(outcomes); failed > 0 {
		return fmt.Errorf("%d of %d stores failed", failed, len(outcomes))
	}
	log.Printf("done in %s", time.Since(start).Round(time.Millisecond))
	return nil
}
