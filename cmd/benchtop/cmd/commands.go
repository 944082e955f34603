/*
Copyright © 2024 Jonathan Taylor <jonrtaylor12@gmail.com>
*/

package cmd

import (
	"context"
	"fmt"
	"github.com/jt05610/benchtop"
	"github.com/jt05610/benchtop/comm/serial"
	"github.com/jt05610/benchtop/gcode"
	"github.com/spf13/cobra"
	"strconv"
	"strings"
)

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List the command table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		environ, err := loadEnv(logger)
		if err != nil {
			return err
		}
		reg, err := benchtop.Registry(environ)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, name := range reg.Names() {
			spec, _ := reg.Lookup(name)
			g := spec.Template
			if g == "" {
				g = spec.Base + " [" + strings.Join(spec.Params, " ") + "]"
			}
			_, _ = fmt.Fprintf(out, "%-24s %-20s %s\n", name, g, spec.Desc)
		}
		return nil
	},
}

// parseParams turns KEY=VALUE arguments into command parameters. Numeric
// values become floats, anything else stays a string.
func parseParams(args []string) (gcode.Params, error) {
	ret := make(gcode.Params, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("parameter %q is not KEY=VALUE", a)
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			ret[k] = f
			continue
		}
		ret[k] = v
	}
	return ret, nil
}

var sendCmd = &cobra.Command{
	Use:   "send NAME [KEY=VALUE...]",
	Short: "Send a named command and wait for it to finish",
	Args:  cobra.MinimumNArgs(1),
	RunE: withRig(nil, func(ctx context.Context, cmd *cobra.Command, rig *benchtop.Rig, args []string) error {
		params, err := parseParams(args[1:])
		if err != nil {
			return err
		}
		return rig.Dispatcher.Send(ctx, args[0], params)
	}),
}

var rawCmd = &cobra.Command{
	Use:   "raw LINE...",
	Short: "Send G-code lines as-is without waiting",
	Args:  cobra.MinimumNArgs(1),
	RunE: withRig(nil, func(ctx context.Context, cmd *cobra.Command, rig *benchtop.Rig, args []string) error {
		if err := rig.Dispatcher.Open(ctx); err != nil {
			return err
		}
		for _, line := range args {
			if err := rig.Dispatcher.SendRaw(ctx, line); err != nil {
				return err
			}
		}
		return nil
	}),
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ports, err := serial.ListPorts()
		if err != nil {
			return err
		}
		for _, p := range ports {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commandsCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(rawCmd)
	rootCmd.AddCommand(portsCmd)
}
