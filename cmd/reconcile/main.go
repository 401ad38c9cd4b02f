// Command reconcile scans stored users for friend data left inconsistent by
// partially applied operations and optionally repairs it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Dias221467/when2meet/internal/config"
	"github.com/Dias221467/when2meet/internal/database"
	"github.com/Dias221467/when2meet/internal/repository"
	"github.com/Dias221467/when2meet/internal/services"
	"github.com/Dias221467/when2meet/pkg/logger"
	flag "github.com/spf13/pflag"
)

func main() {
	var (
		repair  bool
		timeout time.Duration
		envFile string
	)
	flag.BoolVar(&repair, "repair", false, "remove inconsistent entries instead of only reporting them")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "overall time limit for the scan")
	flag.StringVar(&envFile, "env-file", ".env", "environment file to load")
	flag.Parse()

	if err := run(repair, timeout, envFile); err != nil {
		fmt.Fprintf(os.Stderr, "reconcile: %v\n", err)
		os.Exit(1)
	}
}

func run(repair bool, timeout time.Duration, envFile string) error {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return err
	}
	logger.InitLogger(cfg.LogLevel)

	if cfg.StoreBackend != config.BackendMongo {
		return fmt.Errorf("reconcile needs the %s backend, STORE_BACKEND is %q", config.BackendMongo, cfg.StoreBackend)
	}

	db, err := database.ConnectDB(cfg)
	if err != nil {
		return err
	}
	defer database.Disconnect(db)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	reconciler := services.NewReconciler(repository.NewUserRepository(db, false), nil, cfg.StoreTimeout)
	report, err := reconciler.Scan(ctx, repair)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d users could not be repaired", report.Failed)
	}
	return nil
}
