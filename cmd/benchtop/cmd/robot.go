/*
Copyright © 2024 Jonathan Taylor <jonrtaylor12@gmail.com>
*/

package cmd

import (
	"context"
	"fmt"
	"github.com/jt05610/benchtop"
	"github.com/jt05610/benchtop/gcode"
	"github.com/jt05610/benchtop/marlin"
	"github.com/spf13/cobra"
	"io"
	"os"
	"strconv"
	"strings"
)

var (
	speed   float64
	zOffset float64
	axes    = map[string]*float64{"x": new(float64), "y": new(float64), "z": new(float64)}
	offsets = map[string]*float64{"dx": new(float64), "dy": new(float64), "dz": new(float64)}
	here    bool
)

func printPosition(w io.Writer, p marlin.Position) {
	_, _ = fmt.Fprintf(w, "X:%.3f Y:%.3f Z:%.3f E:%.3f\n", p.X, p.Y, p.Z, p.E)
}

var homeCmd = &cobra.Command{
	Use:   "home",
	Short: "Home all axes",
	Args:  cobra.NoArgs,
	RunE: withRig(nil, func(ctx context.Context, cmd *cobra.Command, rig *benchtop.Rig, _ []string) error {
		if err := rig.Robot.Home(ctx); err != nil {
			return err
		}
		if est, ok := rig.Dispatcher.Estimate(); ok {
			printPosition(cmd.OutOrStdout(), est.Position)
		}
		return nil
	}),
}

var positionCmd = &cobra.Command{
	Use:   "position",
	Short: "Query the current position",
	Args:  cobra.NoArgs,
	RunE: withRig(nil, func(ctx context.Context, cmd *cobra.Command, rig *benchtop.Rig, _ []string) error {
		pos, err := rig.Robot.Position(ctx)
		if err != nil {
			return err
		}
		printPosition(cmd.OutOrStdout(), pos)
		return nil
	}),
}

var moveCmd = &cobra.Command{
	Use:   "move",
	Short: "Linear move of the given axes, no safe-height travel",
	Args:  cobra.NoArgs,
	RunE: withRig(nil, func(ctx context.Context, cmd *cobra.Command, rig *benchtop.Rig, _ []string) error {
		params := gcode.Params{}
		for name, v := range axes {
			if cmd.Flags().Changed(name) {
				params[strings.ToUpper(name)] = *v
			}
		}
		if len(params) == 0 {
			return fmt.Errorf("nothing to move, set --x, --y or --z")
		}
		if speed > 0 {
			params["F"] = speed
		} else {
			params["F"] = rig.Env.DefaultSpeed
		}
		return rig.Dispatcher.Send(ctx, "move", params)
	}),
}

var jogCmd = &cobra.Command{
	Use:   "jog",
	Short: "Relative move by --dx, --dy, --dz",
	Args:  cobra.NoArgs,
	RunE: withRig(nil, func(ctx context.Context, cmd *cobra.Command, rig *benchtop.Rig, _ []string) error {
		if err := rig.Dispatcher.Open(ctx); err != nil {
			return err
		}
		return rig.Robot.MoveRelative(ctx, *offsets["dx"], *offsets["dy"], *offsets["dz"], speed)
	}),
}

var gotoCmd = &cobra.Command{
	Use:   "goto NAME",
	Short: "Travel to a saved location at safe height",
	Args:  cobra.ExactArgs(1),
	RunE: withRig(nil, func(ctx context.Context, cmd *cobra.Command, rig *benchtop.Rig, args []string) error {
		return rig.Robot.MoveToLocation(ctx, args[0], zOffset, speed)
	}),
}

var locationCmd = &cobra.Command{
	Use:   "location",
	Short: "Manage saved locations",
}

var locationAddCmd = &cobra.Command{
	Use:   "add NAME [X Y Z]",
	Short: "Save a location, or the current position with --here",
	Args:  cobra.RangeArgs(1, 4),
	RunE: withRig(nil, func(ctx context.Context, cmd *cobra.Command, rig *benchtop.Rig, args []string) error {
		var x, y, z float64
		switch {
		case here && len(args) == 1:
			pos, err := rig.Robot.Position(ctx)
			if err != nil {
				return err
			}
			x, y, z = pos.X, pos.Y, pos.Z
		case !here && len(args) == 4:
			var err error
			for i, dst := range []*float64{&x, &y, &z} {
				if *dst, err = strconv.ParseFloat(args[i+1], 64); err != nil {
					return fmt.Errorf("coordinate %q: %w", args[i+1], err)
				}
			}
		default:
			return fmt.Errorf("give either X Y Z or --here")
		}
		loc, err := rig.Robot.AddLocation(ctx, args[0], x, y, z)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s X:%.3f Y:%.3f Z:%.3f\n", loc.Name, loc.X, loc.Y, loc.Z)
		return nil
	}),
}

var locationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved locations",
	Args:  cobra.NoArgs,
	RunE: withRig(nil, func(ctx context.Context, cmd *cobra.Command, rig *benchtop.Rig, _ []string) error {
		locs, err := rig.Robot.Locations(ctx)
		if err != nil {
			return err
		}
		for _, l := range locs {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%-16s X:%.3f Y:%.3f Z:%.3f\n", l.Name, l.X, l.Y, l.Z)
		}
		return nil
	}),
}

var locationRmCmd = &cobra.Command{
	Use:   "rm NAME",
	Short: "Delete a saved location",
	Args:  cobra.ExactArgs(1),
	RunE: withRig(nil, func(ctx context.Context, _ *cobra.Command, rig *benchtop.Rig, args []string) error {
		return rig.Store.DeleteLocation(ctx, args[0])
	}),
}

var initCmd = &cobra.Command{
	Use:   "init [FILE]",
	Short: "Send an init G-code file (default INIT_GCODE)",
	Args:  cobra.MaximumNArgs(1),
	RunE: withRig(nil, func(ctx context.Context, cmd *cobra.Command, rig *benchtop.Rig, args []string) error {
		if len(args) == 0 {
			if rig.Env.InitGCode == "" {
				return fmt.Errorf("no file given and INIT_GCODE not set")
			}
			return rig.ApplyInit(ctx)
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer func() {
			_ = f.Close()
		}()
		if err := rig.Dispatcher.Open(ctx); err != nil {
			return err
		}
		return rig.Robot.ApplyInit(ctx, f)
	}),
}

func init() {
	rootCmd.AddCommand(homeCmd)
	rootCmd.AddCommand(positionCmd)
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(jogCmd)
	rootCmd.AddCommand(gotoCmd)
	rootCmd.AddCommand(locationCmd)
	rootCmd.AddCommand(initCmd)
	locationCmd.AddCommand(locationAddCmd)
	locationCmd.AddCommand(locationListCmd)
	locationCmd.AddCommand(locationRmCmd)

	for name, v := range axes {
		moveCmd.Flags().Float64Var(v, name, 0, name+" target (mm)")
	}
	for name, v := range offsets {
		jogCmd.Flags().Float64Var(v, name, 0, name[1:]+" offset (mm)")
	}
	for _, c := range []*cobra.Command{moveCmd, jogCmd, gotoCmd} {
		c.Flags().Float64VarP(&speed, "speed", "s", 0, "feedrate in mm/min (default ROBOT_DEFAULT_SPEED)")
	}
	gotoCmd.Flags().Float64Var(&zOffset, "z-offset", 0, "added to the location's Z")
	locationAddCmd.Flags().BoolVar(&here, "here", false, "save the current position")
}
