package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fincontrol/internal/allocation"
	"fincontrol/internal/budget"
	"fincontrol/internal/bus"
	"fincontrol/internal/emergency"
	"fincontrol/internal/health"
	"fincontrol/internal/ledger"
	"fincontrol/internal/obs"
	"fincontrol/internal/ops"
	"fincontrol/internal/risk"
	"fincontrol/internal/sched"
	"fincontrol/pkg/conn"

	"github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
)

const source = "finance-control"

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	configReload := flag.Duration("config-reload-interval", 0, "Config reload interval (0=disable)")
	dev := flag.Bool("dev", false, "Run with the in-memory ledger, no postgres required")
	udsPath := flag.String("uds-path", "", "Unix socket path for the module gateway (empty=disable)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if addr := os.Getenv("PYROSCOPE_SERVER"); addr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: source,
			ServerAddress:   addr,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	store, closeStore, err := openStore(*dev, loaded)
	if err != nil {
		log.Fatalf("ledger open failed: %v", err)
	}
	defer closeStore()

	metrics := obs.NewMetrics()
	b := bus.New(bus.Option{QueueCapacity: loaded.BusQueueCapacity})
	defer b.Close()

	accounts := allocation.NewAccounts(store)
	if err := accounts.EnsureDefaults(ctx, loaded.MasterBalance, loaded.ReserveBalance); err != nil {
		log.Fatalf("account provisioning failed: %v", err)
	}

	risks := risk.NewRegistry(loaded.DefaultRiskLevel)
	allocEngine := allocation.NewEngine(store, b, metrics, loaded.Allocation, source)
	budgetEngine := budget.NewEngine(store, b, allocEngine, risks, metrics, loaded.Budget, source)
	coordinator := emergency.NewCoordinator(store, b, allocEngine, metrics, loaded.Emergency, source)
	if err := coordinator.Restore(ctx); err != nil {
		log.Fatalf("emergency state restore failed: %v", err)
	}
	monitor := health.NewMonitor(store, b, metrics, coordinator, coordinator, loaded.Health, source)

	subscriptions := []struct {
		msgType bus.MessageType
		name    string
		handler bus.Handler
	}{
		{bus.TypeBudgetRequest, "budget-engine", budgetEngine.HandleRequest},
		{bus.TypeFundAllocationRequest, "allocation-engine", allocEngine.HandleRequest},
		{bus.TypeRiskAssessmentResult, "risk-registry", risk.Handler(risks, metrics)},
		{bus.TypeEmergencyStop, "emergency-coordinator", coordinator.HandleCommand},
		{bus.TypeSystemRecovery, "emergency-coordinator", coordinator.HandleCommand},
		{bus.TypeSystemStatus, "health-monitor", monitor.HandleStatus},
	}
	for _, sub := range subscriptions {
		if err := b.Subscribe(ctx, sub.msgType, sub.name, sub.handler); err != nil {
			log.Fatalf("subscribe %s for %s failed: %v", sub.msgType, sub.name, err)
		}
	}

	scheduler := sched.New()
	tasks := []struct {
		interval time.Duration
		name     string
		task     sched.Task
	}{
		{loaded.Intervals.HealthCheck, "heartbeat-scan", func() error {
			_, err := monitor.ScanHeartbeats(ctx)
			return err
		}},
		{loaded.Intervals.AlertDrain, "alert-drain", func() error {
			_, err := monitor.Drain(ctx)
			return err
		}},
		{loaded.Intervals.ResourceSample, "resource-sample", func() error {
			monitor.SampleResources(ctx)
			return nil
		}},
		{loaded.Intervals.BudgetSweep, "budget-expiry-sweep", func() error {
			_, err := budgetEngine.SweepExpired(ctx)
			return err
		}},
		{loaded.Intervals.BudgetSweep, "budget-auto-approve-sweep", func() error {
			_, err := budgetEngine.SweepAutoApprove(ctx)
			return err
		}},
		{loaded.Intervals.BudgetSweep, "allocation-expiry-sweep", func() error {
			_, err := allocEngine.SweepExpired(ctx)
			return err
		}},
		{loaded.Intervals.MetricSnapshot, "metric-snapshot", func() error {
			metrics.LogSnapshot()
			return nil
		}},
	}
	for _, t := range tasks {
		if err := scheduler.Every(t.interval, t.name, t.task); err != nil {
			log.Fatalf("schedule %s failed: %v", t.name, err)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	if *udsPath != "" {
		forward := []bus.MessageType{
			bus.TypeSystemStatus,
			bus.TypeEmergencyStop,
			bus.TypeSystemRecovery,
		}
		gateway, err := bus.NewGateway(b, *udsPath, forward)
		if err != nil {
			log.Fatalf("gateway setup failed: %v", err)
		}
		go func() {
			if err := gateway.Run(ctx); err != nil {
				logs.Errorf("gateway stopped: %v", err)
			}
		}()
		logs.Infof("module gateway listening on %s", *udsPath)
	}

	if *configPath != "" && *configReload > 0 {
		go watchConfig(ctx, *configPath, *configReload)
	}

	logs.Infof("%s started (dev=%v)", source, *dev)
	<-ctx.Done()
	logs.Infof("%s shutting down", source)
}

func openStore(dev bool, loaded ops.Loaded) (*ledger.Store, func(), error) {
	if dev {
		logs.Warnf("running with in-memory ledger, nothing will be persisted")
		return ledger.NewMemoryStore(), func() {}, nil
	}
	client, err := conn.New(loaded.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := client.Migrate(ledger.Models()...); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return ledger.NewGormStore(client.DB()), func() { _ = client.Close() }, nil
}

// watchConfig revalidates the file on mtime change so a bad edit is caught
// while an operator is still looking at it. Values apply on the next restart.
func watchConfig(ctx context.Context, path string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				logs.Warnf("config stat failed: %v", err)
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			if _, err := ops.Load(path); err != nil {
				logs.Errorf("config reload failed: %v", err)
				continue
			}
			lastMod = info.ModTime()
			logs.Infof("config reloaded: %s", path)
		}
	}
}
