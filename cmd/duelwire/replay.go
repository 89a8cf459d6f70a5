package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/danmuck/duelwire/internal/capture"
	"github.com/danmuck/duelwire/internal/config"
	"github.com/danmuck/duelwire/internal/definitions"
	"github.com/danmuck/duelwire/internal/protocol/dispatch"
	"github.com/danmuck/duelwire/internal/protocol/proto"
	"github.com/spf13/cobra"
)

var (
	replayLimit      int
	replayPreconnect []string
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture>",
	Short: "Run a capture file through the dispatcher and count the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&checkDefinitions, "definitions", "", "definitions directory")
	replayCmd.Flags().IntVar(&replayLimit, "limit", dispatch.DefaultLimit, "dispatch iteration ceiling")
	replayCmd.Flags().StringSliceVar(&replayPreconnect, "preconnect", config.Default().PreconnectAllow, "commands accepted before the first CTOS frame")
}

func runReplay(cmd *cobra.Command, args []string) error {
	dir, err := definitionsDir()
	if err != nil {
		return err
	}
	catalog, err := definitions.Catalog(dir)
	if err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	d := dispatch.New(catalog, nil, dispatch.WithLimit(replayLimit))
	report, err := capture.Replay(f, d, capture.ReplayOptions{Preconnect: replayPreconnect})
	if err != nil {
		return err
	}

	out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(out, "sessions\t%d\n\n", report.Sessions)
	fmt.Fprintln(out, "DIRECTION\tRECORDS\tBYTES\tFRAMES\tCLOSED\tFEEDBACK")
	for _, dir := range proto.Directions() {
		dr := report.Directions[dir]
		fmt.Fprintf(out, "%s\t%d\t%d\t%d\t%d\t%s\n", dir, dr.Records, dr.Bytes, dr.Frames, dr.Closed, feedbackSummary(dr.Feedback))
	}
	return out.Flush()
}

func feedbackSummary(counts map[dispatch.FeedbackKind]int) string {
	if len(counts) == 0 {
		return "-"
	}
	kinds := make([]string, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	out := ""
	for i, kind := range kinds {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%d", kind, counts[dispatch.FeedbackKind(kind)])
	}
	return out
}
