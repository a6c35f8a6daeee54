package cmd

import (
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/urgencias-sim/urgencias-sim/bus"
	"github.com/urgencias-sim/urgencias-sim/config"
	"github.com/urgencias-sim/urgencias-sim/sim"
	"github.com/urgencias-sim/urgencias-sim/sim/network"
)

var (
	seed          int64   // Seed for the deterministic simulation RNG
	speed         float64 // Wall-to-sim ratio: 1 means one real second per simulated minute
	duration      float64 // Simulated minutes to run, 0 for unbounded
	hospitalsFile string  // Optional YAML catalogue override
	metricsAddr   string  // Prometheus listen address, empty to disable
)

// runCmd hosts the simulator process: all hospital engines, their
// runners and the control-topic consumers.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the hospital network simulator",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		// Flags mirror the environment; an explicitly set flag wins.
		if cmd.Flags().Changed("speed") {
			cfg.SimulationSpeed = speed
		}
		if cmd.Flags().Changed("duration") {
			cfg.SimulationDuration = duration
		}

		catalog, err := loadCatalog()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client, err := bus.New(bus.Config{Addr: cfg.BusBootstrap, GroupID: cfg.BusGroupID})
		if err != nil {
			return err
		}
		defer client.Close()
		if err := client.EnsureTopics(ctx, bus.Topics()); err != nil {
			return err
		}

		if metricsAddr != "" {
			go serveMetrics(metricsAddr)
		}

		s, err := network.NewSimulator(network.SimulatorOpts{
			Catalog:         catalog,
			Client:          client,
			Seed:            sim.NewSimulationKey(seed),
			Speed:           cfg.SimulationSpeed,
			DurationMinutes: cfg.SimulationDuration,
		})
		if err != nil {
			return err
		}
		logrus.Infof("simulator: seed=%d speed=%.2f duration=%.0fmin broker=%s",
			seed, cfg.SimulationSpeed, cfg.SimulationDuration, cfg.BusBootstrap)
		return s.Run(ctx)
	},
}

func loadCatalog() (*sim.Catalog, error) {
	if hospitalsFile == "" {
		return sim.DefaultCatalog(), nil
	}
	return sim.LoadCatalog(hospitalsFile)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logrus.Infof("metrics: listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logrus.Errorf("metrics: %v", err)
	}
}

func init() {
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for deterministic arrival and stage randomness")
	runCmd.Flags().Float64Var(&speed, "speed", 1.0, "Simulation speed (1 = one real second per simulated minute)")
	runCmd.Flags().Float64Var(&duration, "duration", 0, "Simulated minutes to run (0 = unbounded)")
	runCmd.Flags().StringVar(&hospitalsFile, "hospitals", "", "YAML catalogue overriding the built-in hospital network")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus listen address (empty = disabled)")

	rootCmd.AddCommand(runCmd)
}
