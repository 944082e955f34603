/*
Copyright © 2024 Jonathan Taylor <jonrtaylor12@gmail.com>
*/

package cmd

import (
	"context"
	"fmt"
	"github.com/jt05610/benchtop"
	"github.com/jt05610/benchtop/store"
	"github.com/spf13/cobra"
	"io"
)

var (
	tail       int
	dispatchID string
)

func printEntries(w io.Writer, entries []store.Entry) {
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s %s %-16s %-6s %s\n", e.At.Format("15:04:05.000"), e.DispatchID[:min(8, len(e.DispatchID))],
			e.Command, e.Direction, e.Text)
	}
}

// journalCmd prints recorded dispatch traffic
var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show the dispatch journal",
	Args:  cobra.NoArgs,
	RunE: withRig(nil, func(ctx context.Context, cmd *cobra.Command, rig *benchtop.Rig, _ []string) error {
		var (
			entries []store.Entry
			err     error
		)
		if dispatchID != "" {
			entries, err = rig.Store.Entries(ctx, dispatchID)
		} else {
			entries, err = rig.Store.Tail(ctx, tail)
		}
		if err != nil {
			return err
		}
		printEntries(cmd.OutOrStdout(), entries)
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.Flags().IntVarP(&tail, "lines", "n", 20, "number of most recent entries")
	journalCmd.Flags().StringVar(&dispatchID, "id", "", "show a single dispatch")
}
