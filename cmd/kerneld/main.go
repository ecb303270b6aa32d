package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/R3E-Network/kernel/internal/kernel/bootstrap"
	"github.com/R3E-Network/kernel/internal/kernel/container"
	"github.com/R3E-Network/kernel/internal/kernel/descriptor"
	"github.com/R3E-Network/kernel/internal/kernel/httpapi"
	"github.com/R3E-Network/kernel/internal/kernel/loader"
	"github.com/R3E-Network/kernel/internal/kernel/orchestrator"
	"github.com/R3E-Network/kernel/internal/kernel/settings"
	"github.com/R3E-Network/kernel/internal/kernel/shutdown"
	"github.com/R3E-Network/kernel/internal/scheduler"
	"github.com/R3E-Network/kernel/internal/scheduler/housekeeper"
	"github.com/R3E-Network/kernel/modules/sample/corestore"
	"github.com/R3E-Network/kernel/modules/sample/corewatch"
	"github.com/R3E-Network/kernel/pkg/config"
	"github.com/R3E-Network/kernel/pkg/logging"
	"github.com/R3E-Network/kernel/pkg/version"
	"github.com/tidwall/gjson"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (falls back to CONFIG_FILE env or built-in defaults)")
	dataDirFlag := flag.String("data-dir", "", "override the bootstrap data directory")
	addrFlag := flag.String("addr", "", "override the HTTP listen address (host:port)")
	listModules := flag.Bool("list-modules", false, "print registered module IDs and their dependencies, then exit")
	dryRunBootstrap := flag.Bool("dry-run-bootstrap", false, "run only the bootstrap stage (directories + database schemas), then exit")
	schemaOnly := flag.Bool("schema-only", false, "run bootstrap and Phase 1 only, print each module's settings baseline, then exit without starting Phase 2 or serving")
	versionFlag := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.FullVersion())
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *dataDirFlag != "" {
		cfg.Database.DataDir = *dataDirFlag
	}

	appLog := logging.New("kerneld", cfg.Logging.Level, cfg.Logging.Format)

	reg := descriptor.NewRegistry()
	c := container.New()

	corestoreDescriptor, err := corestore.New()
	if err != nil {
		log.Fatalf("build corestore descriptor: %v", err)
	}
	corewatchDescriptor, err := corewatch.New(c)
	if err != nil {
		log.Fatalf("build corewatch descriptor: %v", err)
	}
	if err := reg.Add(corestoreDescriptor); err != nil {
		log.Fatalf("register corestore: %v", err)
	}
	if err := reg.Add(corewatchDescriptor); err != nil {
		log.Fatalf("register corewatch: %v", err)
	}

	if *listModules {
		for _, d := range reg.Descriptors() {
			fmt.Printf("%s depends_on=%v requires=%v\n", d.ModuleID, d.Dependencies, d.ServicesRequired)
		}
		return
	}

	stage := bootstrap.New(cfg.Database.DataDir, appLog)

	schemas := []descriptor.DatabaseSchema{scheduler.Schema, housekeeper.Schema}
	schemas = append(schemas, descriptor.DatabaseSchema{
		DatabaseName: "framework",
		Tables: []descriptor.TableSpec{{
			Name:      settings.UserPreferencesSchema.TableName,
			CreateSQL: settings.UserPreferencesSchema.CreateSQL,
		}},
	})
	for _, d := range reg.Descriptors() {
		schemas = append(schemas, d.DatabaseSchemas...)
	}
	stage.RegisterDatabaseHandler(schemas)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := stage.Run(ctx); err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	if *dryRunBootstrap {
		appLog.WithContext(ctx).Infof("bootstrap completed, exiting (--dry-run-bootstrap)")
		_ = stage.Close()
		return
	}

	settingsStore := settings.NewStore(stage.Database)
	resolver := settings.New(settingsStore)

	proc := loader.New(c, resolver, appLog)
	if err := proc.Process(ctx, reg, nil); err != nil {
		log.Fatalf("phase 1: %v", err)
	}
	resolver.BuildBaseline()

	if *schemaOnly {
		for _, moduleID := range resolver.ModuleIDs() {
			fmt.Printf("%s baseline=%v\n", moduleID, resolver.Baseline(moduleID))
		}
		_ = stage.Close()
		return
	}

	orch := orchestrator.New(c, appLog)
	summary, _, err := orch.Run(ctx, reg)
	if err != nil {
		log.Fatalf("phase 2: %v", err)
	}
	appLog.WithContext(ctx).
		WithField("ready", summary.Ready).
		WithField("degraded", summary.Degraded).
		WithField("failed", summary.Failed).
		Infof("phase 2 complete")

	functions := scheduler.NewFunctionRegistry()
	hk := housekeeper.New(stage.Database("framework"), nil, nil)
	functions.Register("kernel.housekeeper.sweep", func(ctx context.Context, params json.RawMessage) (map[string]interface{}, error) {
		dryRun := gjson.GetBytes(params, "dry_run").Bool()
		reports, err := hk.Sweep(ctx, dryRun)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"reports": reports}, nil
	})

	sched := scheduler.New(scheduler.NewStore(stage.Database("framework")), functions, appLog, scheduler.Options{
		TickInterval:   time.Duration(cfg.Scheduler.TickIntervalSeconds) * time.Second,
		MaxInFlight:    cfg.Scheduler.MaxInFlight,
		DefaultTimeout: time.Duration(cfg.Scheduler.DefaultTimeoutSeconds) * time.Second,
	})
	if err := ensureHousekeeperEvent(ctx, sched); err != nil {
		log.Fatalf("schedule housekeeper sweep: %v", err)
	}
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}

	coordinator := shutdown.New(c, sched, stage, appLog, time.Duration(cfg.Shutdown.DeadlineSeconds)*time.Second)

	addr := cfg.Server.Host + ":" + fmt.Sprint(cfg.Server.Port)
	if *addrFlag != "" {
		addr = *addrFlag
	}
	router := httpapi.NewRouter(&httpapi.Server{
		Scheduler:   sched,
		Housekeeper: hk,
		Settings:    resolver,
		Loader:      proc,
		Registry:    reg,
		Log:         appLog,
		StartedAt:   time.Now().UTC(),
	})
	httpServer := &http.Server{Addr: addr, Handler: router}

	go func() {
		appLog.WithContext(ctx).WithField("addr", addr).Infof("kerneld listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.WithContext(ctx).WithField("error", err.Error()).Errorf("http server stopped unexpectedly")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Shutdown.DeadlineSeconds)*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	summaryOut := coordinator.Run(context.Background())
	appLog.WithContext(ctx).
		WithField("handlers_run", summaryOut.HandlersRun).
		WithField("timeouts", summaryOut.Timeouts).
		WithField("errors", summaryOut.Errors).
		Infof("kerneld shutdown complete")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// ensureHousekeeperEvent schedules the default "03:00 daily" cleanup
// sweep exactly once: if an event for the housekeeper function already
// exists in any status (e.g. from a prior run against the same database),
// it is left untouched rather than duplicated.
func ensureHousekeeperEvent(ctx context.Context, sched *scheduler.Scheduler) error {
	existing, err := sched.List(ctx, scheduler.Filters{FunctionName: "kernel.housekeeper.sweep"}, 1)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	_, err = sched.Schedule(ctx, scheduler.EventSpec{
		Name:           "default-housekeeper-sweep",
		Description:    "daily cleanup sweep over registered directories",
		FunctionName:   "kernel.housekeeper.sweep",
		ModuleID:       "kernel",
		TriggerKind:    scheduler.TriggerCron,
		CronExpression: "0 3 * * *",
		Recurring:      true,
	})
	return err
}
