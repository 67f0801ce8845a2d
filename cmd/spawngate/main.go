// Command spawngate runs the spawn scheduler against synthetic
// collaborators: a formation layout, a simulated work executor, and either
// the host's real load or a configured synthetic load. It exists to
// exercise and observe the scheduling core; embedding applications use
// pkg/spawn/scheduler directly.
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

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tacticsim/spawngate/internal/config"
	"github.com/tacticsim/spawngate/internal/formation"
	"github.com/tacticsim/spawngate/internal/loadsource"
	"github.com/tacticsim/spawngate/internal/logging"
	"github.com/tacticsim/spawngate/internal/metrics"
	"github.com/tacticsim/spawngate/internal/sim"
	"github.com/tacticsim/spawngate/pkg/spawn/contracts"
	"github.com/tacticsim/spawngate/pkg/spawn/scheduler"
)

const drainTimeout = 10 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "spawngate",
		Short:        "Admission-controlled spawn scheduler",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	return root
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewLogger(cfg.Verbosity)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	layout, err := loadLayout(cfg)
	if err != nil {
		return err
	}
	provider := formation.NewProvider(layout)

	load, startLoad := buildLoadSignal(cfg, logger)
	executor := sim.NewExecutor(cfg.Sim.ExecLatency, cfg.Sim.FailureRate, time.Now().UnixNano())

	reg := prometheus.NewRegistry()
	sched, err := scheduler.New(cfg.Scheduler, scheduler.Dependencies{
		Load:     load,
		Slots:    provider,
		Executor: executor,
		Logger:   logger,
		Metrics:  metrics.New(reg),
	})
	if err != nil {
		return err
	}

	if startLoad != nil {
		go startLoad(ctx)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "metrics server failed")
		}
	}()

	groups := make([]string, 0, len(layout.Groups))
	for _, g := range layout.Groups {
		groups = append(groups, g.ID)
	}
	driver := sim.NewDriver(sched, groups, cfg.Sim.SubmitRate, logger)
	go driver.Run(ctx)

	runErr := make(chan error, 1)
	go func() { runErr <- sched.Run(ctx) }()

	<-ctx.Done()
	logger.V(logging.DEFAULT).Info("shutdown signal received, draining")
	sched.Shutdown(drainTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return <-runErr
}

func loadLayout(cfg *config.Config) (*formation.Layout, error) {
	if cfg.FormationFile != "" {
		return formation.LoadLayout(cfg.FormationFile)
	}
	// Default two-sided layout when no file is given.
	return &formation.Layout{
		Groups: []formation.GroupSpec{
			{ID: "attacker", SlotCount: 64, OriginX: 0, OriginY: 0, Spacing: 1.5, RankWidth: 16},
			{ID: "defender", SlotCount: 64, OriginX: 0, OriginY: 100, Spacing: 1.5, RankWidth: 16},
		},
	}, nil
}

// buildLoadSignal returns the configured load signal and, for sources that
// sample in the background, the goroutine to start it with.
func buildLoadSignal(cfg *config.Config, logger logr.Logger) (contracts.LoadSignal, func(context.Context)) {
	if cfg.LoadSource == config.LoadSourceSynthetic {
		return loadsource.NewStaticSignal(cfg.SyntheticLoadRatio), nil
	}
	host := loadsource.NewHostSignal(0, 0, logger)
	return host, host.Run
}
