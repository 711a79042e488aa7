package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adaptsched/internal/config"
	"adaptsched/internal/logging"
	"adaptsched/internal/scheduler"
	"adaptsched/internal/stats"
	"adaptsched/internal/workload"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	logger := logging.GetLogger()

	// Optional .env for database credentials referenced from the config.
	if err := godotenv.Load(); err == nil {
		logger.Debug("Loaded environment from .env")
	}

	var configPath string

	rootCmd := &cobra.Command{
		Use:   "adaptsched",
		Short: "Adaptive multi-class task scheduler",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulated workload from a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	runCmd.Flags().StringVarP(&configPath, "config", "c", "scheduler.yaml", "path to scheduler config")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the scheduler version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(scheduler.Version)
		},
	}

	rootCmd.AddCommand(runCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	logger := logging.GetLogger()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Scheduler.LogLevel != "" {
		if err := logging.SetLogLevel(cfg.Scheduler.LogLevel); err != nil {
			return err
		}
	}

	model := workload.NewModel()
	sched, err := scheduler.New(cfg, scheduler.Options{Exec: model})
	if err != nil {
		return err
	}

	var exporter *stats.Exporter
	if db := cfg.Scheduler.Data.DB; db.Host != "" {
		exporter, err = stats.NewExporter(stats.ExporterConfig{
			Host:   db.Host,
			Bucket: db.Bucket,
			Org:    db.Org,
			Token:  db.Token,
		})
		if err != nil {
			return fmt.Errorf("failed to set up statistics export: %w", err)
		}
		defer exporter.Close()
	}

	ids, err := model.Populate(sched, cfg)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"tasks":    len(ids),
		"cores":    cfg.Scheduler.Cores,
		"duration": cfg.Scheduler.MaxDuration(),
	}).Info("Starting simulation")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.MaxDuration())
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	sched.Start(ctx)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case <-ticker.C:
			if exporter != nil {
				if err := exporter.Export(context.Background(), sched.StatsSnapshot()); err != nil {
					logger.WithError(err).Warn("Snapshot export failed")
				}
			}
		}
	}

	sched.Shutdown()
	finished := time.Now()

	snap := sched.StatsSnapshot()
	if exporter != nil {
		if err := exporter.Export(context.Background(), snap); err != nil {
			logger.WithError(err).Warn("Final snapshot export failed")
		}
		if err := exporter.WriteRunMetadata(context.Background(), scheduler.Version, cfg.Scheduler.Cores, started, finished); err != nil {
			logger.WithError(err).Warn("Run metadata export failed")
		}
	}

	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
