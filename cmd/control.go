package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/urgencias-sim/urgencias-sim/bus"
	"github.com/urgencias-sim/urgencias-sim/config"
	"github.com/urgencias-sim/urgencias-sim/sim/network"
)

// controlCmd sends one command over simulation-control. Publishing is
// strict: a broker failure is reported, never buffered.
var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Send a control command to a running simulator",
}

var controlStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Resume the simulation clocks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendControl(network.ControlCommand{Command: "start"})
	},
}

var controlStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Freeze the simulation clocks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendControl(network.ControlCommand{Command: "stop"})
	},
}

var controlSpeedCmd = &cobra.Command{
	Use:   "speed <factor>",
	Short: "Set the wall-to-sim speed factor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		factor, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("parsing speed %q: %w", args[0], err)
		}
		return sendControl(network.ControlCommand{Command: "set_speed", Speed: factor})
	},
}

var controlIncidentCmd = &cobra.Command{
	Use:   "inject-incident <kind> [lat lon] <count>",
	Short: "Inject a mass-casualty incident",
	Long: `Inject a mass-casualty incident into the running simulation.

Kinds: accident, fire, collapse, intoxication. With lat/lon the
distributor weighs hospital distance; without, distance is neutral.`,
	Args: cobra.RangeArgs(2, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctl := network.ControlCommand{Command: "inject_incident", Tipo: args[0]}

		countArg := args[len(args)-1]
		count, err := strconv.Atoi(countArg)
		if err != nil {
			return fmt.Errorf("parsing patient count %q: %w", countArg, err)
		}
		ctl.TotalPacientes = count

		if len(args) == 4 {
			lat, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("parsing lat %q: %w", args[1], err)
			}
			lon, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("parsing lon %q: %w", args[2], err)
			}
			ctl.Lat, ctl.Lon = &lat, &lon
		} else if len(args) != 2 {
			return fmt.Errorf("expected <kind> <count> or <kind> <lat> <lon> <count>")
		}
		return sendControl(ctl)
	},
}

func sendControl(ctl network.ControlCommand) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	client, err := bus.New(bus.Config{Addr: cfg.BusBootstrap, GroupID: cfg.BusGroupID})
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.EnsureTopics(ctx, []string{bus.TopicSimulationControl}); err != nil {
		return err
	}
	if err := client.ProduceStrict(ctx, bus.TopicSimulationControl, "", ctl); err != nil {
		return err
	}
	logrus.Infof("control: sent %s", ctl.Command)
	return nil
}

func init() {
	controlCmd.AddCommand(controlStartCmd, controlStopCmd, controlSpeedCmd, controlIncidentCmd)
	rootCmd.AddCommand(controlCmd)
}
