package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	readout "github.com/ehrlich-b/go-readout"
	"github.com/ehrlich-b/go-readout/hardware"
	"github.com/ehrlich-b/go-readout/internal/config"
	"github.com/ehrlich-b/go-readout/internal/logging"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to a YAML config file")
		verbose    = flag.Bool("v", false, "Verbose output")
		runNumber  = flag.Int("run", 0, "First run number (overrides run.number)")
		events     = flag.Uint("events", 0, "Triggers per run (overrides run.events)")
		cycles     = flag.Int("cycles", -1, "Runs to take, 0 until interrupted (overrides run.cycles)")
		rate       = flag.Float64("rate", 0, "Pulser rate in Hz (overrides pulser.rate)")
	)
	flag.Parse()

	loader := config.NewLoader()
	if *verbose {
		loader.Set("logging.level", "debug")
	}
	if *runNumber > 0 {
		loader.Set("run.number", *runNumber)
	}
	if *events > 0 {
		loader.Set("run.events", *events)
	}
	if *cycles >= 0 {
		loader.Set("run.cycles", *cycles)
	}
	if *rate > 0 {
		loader.Set("pulser.rate", *rate)
	}

	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "readout-sim: %v\n", err)
		os.Exit(2)
	}

	logger := logging.NewLogger(cfg.LoggingConfig(os.Stderr))
	logging.SetDefault(logger)
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("readout-sim failed", "error", err)
		logger.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observer := readout.NewPrometheusObserver(reg, cfg.Metrics.Namespace)

	if cfg.Metrics.Enabled {
		srv := serveMetrics(cfg.Metrics.Listen, cfg.Metrics.Path, reg, logger)
		defer stopMetrics(srv, logger)
	}

	out, err := openSink(cfg, logger)
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}

	// The readout outlives ctx so End can still drain after a signal
	hw := hardware.NewSim(cfg.SimConfig())
	r, err := readout.New(context.Background(), cfg.Params(hw, out), &readout.Options{
		Logger:   logger,
		Observer: observer,
		Packager: cfg.BankPackager(),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Close(); err != nil {
			logger.Error("error closing readout", "error", err)
		}
	}()

	pulser, err := hardware.NewPulser(cfg.PulserConfig(logger), r.Trigger)
	if err != nil {
		return err
	}

	// SIGUSR1 dumps occupancy, SIGUSR2 toggles pause
	ctlCh := make(chan os.Signal, 1)
	signal.Notify(ctlCh, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(ctlCh)
	go operatorSignals(ctx, ctlCh, r, logger)

	logger.Info("simulated readout ready",
		"sink", cfg.Sink.Type,
		"pulser", cfg.Pulser.Mode,
		"rate", cfg.Pulser.Rate,
		"pid", os.Getpid())

	if err := r.Download(); err != nil {
		return err
	}

	runNum := cfg.Run.Number
	for cycle := 0; cfg.Run.Cycles == 0 || cycle < cfg.Run.Cycles; cycle++ {
		report, err := takeRun(ctx, r, pulser, runNum, cfg.Run.Duration)
		if err != nil {
			return err
		}
		logger.Info("run complete",
			"run", runNum,
			"events", report.Events,
			"lost", report.Lost,
			"drained", report.Drained,
			"drain_incomplete", report.DrainIncomplete,
			"duration", report.Duration.String())

		if ctx.Err() != nil {
			break
		}
		runNum++
	}

	logger.Info("received shutdown signal or finished run cycle")
	return nil
}

// takeRun drives one Prestart/Go/End cycle. The run ends when the pulser
// reaches its trigger limit, the duration elapses or ctx is cancelled.
func takeRun(ctx context.Context, r *readout.Readout, pulser *hardware.Pulser, runNum int, duration time.Duration) (readout.EndReport, error) {
	if err := r.Prestart(runNum); err != nil {
		return readout.EndReport{}, err
	}
	if err := r.Go(); err != nil {
		return readout.EndReport{}, err
	}

	pulser.ResetCount()
	pulser.Start(ctx)

	var timeout <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-pulser.Done():
	case <-timeout:
	case <-ctx.Done():
	}

	// Paused by the operator: the pulser may be blocked on an empty pool,
	// and Stop would wait on it forever until dispatching resumes
	if r.State() == readout.StatePaused {
		if err := r.Resume(); err != nil {
			return readout.EndReport{}, err
		}
	}
	pulser.Stop()
	return r.End()
}

func operatorSignals(ctx context.Context, ch <-chan os.Signal, r *readout.Readout, logger *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			switch sig {
			case syscall.SIGUSR1:
				info := r.Info()
				snap := r.MetricsSnapshot()
				logger.Info("readout status",
					"state", info.State.String(),
					"run", info.Run,
					"free", info.FreeBuffers,
					"ready", info.ReadyEvents,
					"in_flight", info.InFlight,
					"triggers", snap.Triggers,
					"emitted", snap.Emitted,
					"lost", snap.Lost,
					"emit_p99_ns", snap.LatencyP99Ns)
			case syscall.SIGUSR2:
				var err error
				if r.State() == readout.StatePaused {
					err = r.Resume()
				} else {
					err = r.Pause()
				}
				if err != nil {
					logger.Warn("pause toggle rejected", "error", err)
				}
			}
		}
	}
}

func serveMetrics(addr, path string, reg *prometheus.Registry, logger *logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving metrics", "addr", addr, "path", path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

// stopMetrics shuts the metrics server down, waiting up to a second for
// in-flight scrapes
func stopMetrics(srv *http.Server, logger *logging.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("error shutting down metrics server", "error", err)
		return err
	}
	return nil
}
