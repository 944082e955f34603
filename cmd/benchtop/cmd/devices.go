/*
Copyright © 2024 Jonathan Taylor <jonrtaylor12@gmail.com>
*/

package cmd

import (
	"context"
	"fmt"
	"github.com/jt05610/benchtop"
	"github.com/spf13/cobra"
	"strconv"
	"time"
)

var (
	volume   float64
	duration time.Duration
	rate     float64
	wait     bool
)

var pumpCmd = &cobra.Command{
	Use:   "pump",
	Short: "Pump a --volume or for a --duration",
	Args:  cobra.NoArgs,
	RunE: withRig(nil, func(ctx context.Context, cmd *cobra.Command, rig *benchtop.Rig, _ []string) error {
		byVolume, byDuration := cmd.Flags().Changed("volume"), cmd.Flags().Changed("duration")
		switch {
		case byVolume && !byDuration:
			return rig.Pump.Volume(ctx, volume, rate)
		case byDuration && !byVolume:
			return rig.Pump.Duration(ctx, duration, rate)
		}
		return fmt.Errorf("set exactly one of --volume or --duration")
	}),
}

var sonicateCmd = &cobra.Command{
	Use:   "sonicate DURATION",
	Short: "Run the sonicator, e.g. sonicate 90s",
	Args:  cobra.ExactArgs(1),
	RunE: withRig(nil, func(ctx context.Context, cmd *cobra.Command, rig *benchtop.Rig, args []string) error {
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return err
		}
		return rig.Sonicator.Sonicate(ctx, d)
	}),
}

var heatCmd = &cobra.Command{
	Use:   "heat CELSIUS",
	Short: "Set the hotplate target, 0 turns it off",
	Args:  cobra.ExactArgs(1),
	RunE: withRig(nil, func(ctx context.Context, cmd *cobra.Command, rig *benchtop.Rig, args []string) error {
		c, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return err
		}
		switch {
		case c == 0:
			return rig.Hotplate.TurnOff(ctx)
		case wait:
			return rig.Hotplate.HeatAndWait(ctx, c)
		}
		return rig.Hotplate.SetTemperature(ctx, c)
	}),
}

var tempCmd = &cobra.Command{
	Use:   "temp",
	Short: "Read the hotplate temperature",
	Args:  cobra.NoArgs,
	RunE: withRig(nil, func(ctx context.Context, cmd *cobra.Command, rig *benchtop.Rig, _ []string) error {
		r, err := rig.Hotplate.Temperature(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "bed %.1f°C target %.1f°C\n", r.Current, r.Target)
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(pumpCmd)
	rootCmd.AddCommand(sonicateCmd)
	rootCmd.AddCommand(heatCmd)
	rootCmd.AddCommand(tempCmd)

	pumpCmd.Flags().Float64Var(&volume, "volume", 0, "volume in mL, negative reverses")
	pumpCmd.Flags().DurationVar(&duration, "duration", 0, "how long to pump")
	pumpCmd.Flags().Float64VarP(&rate, "rate", "r", 0, "flow rate in mL/min (default PUMP_DEFAULT_RATE)")
	heatCmd.Flags().BoolVarP(&wait, "wait", "w", false, "block until the target is reached")
}
