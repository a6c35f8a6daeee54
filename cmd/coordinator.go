package cmd

import (
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/urgencias-sim/urgencias-sim/bus"
	"github.com/urgencias-sim/urgencias-sim/config"
	"github.com/urgencias-sim/urgencias-sim/coordinator"
)

// coordinatorCmd hosts the cross-hospital coordinator: saturation
// monitoring, diversion decisions and reference-center autoscaling.
var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run the cross-hospital coordinator",
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

		svc, err := coordinator.NewService(client, catalog, cfg.StatusInterval)
		if err != nil {
			return err
		}
		logrus.Infof("coordinator: status every %s, broker=%s", cfg.StatusInterval, cfg.BusBootstrap)
		return svc.Run(ctx)
	},
}

func init() {
	coordinatorCmd.Flags().StringVar(&hospitalsFile, "hospitals", "", "YAML catalogue overriding the built-in hospital network")
	rootCmd.AddCommand(coordinatorCmd)
}
