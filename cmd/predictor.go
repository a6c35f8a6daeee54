package cmd

import (
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/urgencias-sim/urgencias-sim/bus"
	"github.com/urgencias-sim/urgencias-sim/config"
	"github.com/urgencias-sim/urgencias-sim/predictor"
)

// predictorCmd hosts the demand predictor: per-hospital forecasts,
// periodic retraining and arrival anomaly alerts.
var predictorCmd = &cobra.Command{
	Use:   "predictor",
	Short: "Run the demand predictor",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
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

		p := predictor.New(catalog, client, cfg.RetrainInterval())
		// Warm the models so forecasts and anomaly checks are live from
		// the first consumed arrival.
		go p.Retrain()

		logrus.Infof("predictor: retrain every %s, broker=%s", cfg.RetrainInterval(), cfg.BusBootstrap)
		return p.Run(ctx, client)
	},
}

func init() {
	predictorCmd.Flags().StringVar(&hospitalsFile, "hospitals", "", "YAML catalogue overriding the built-in hospital network")
	rootCmd.AddCommand(predictorCmd)
}
