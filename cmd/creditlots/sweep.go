package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/goliatone/go-creditlots/core"
	"github.com/spf13/cobra"
)

func newSweepCommand(flags *rootFlags) *cobra.Command {
	var dispatch bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry sweep and print its report",
		Long: `Run one expiry sweep under the leader lock. Expired holds and timed out
orders release their capacity. With --dispatch the pending outbox is drained
afterwards.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var opts []runtimeOption
			if !dispatch {
				opts = append(opts, withoutSinks())
			}
			rt, err := buildRuntime(cmd.Context(), flags, opts...)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			report, err := rt.svc.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			var stats *core.DispatchStats
			if dispatch {
				dispatched, err := rt.dispatcher.DispatchPending(cmd.Context(), 0)
				if err != nil {
					return err
				}
				stats = &dispatched
			}
			return printSweep(cmd.OutOrStdout(), report, stats)
		},
	}
	cmd.Flags().BoolVar(&dispatch, "dispatch", false, "dispatch pending outbox events after sweeping")
	return cmd
}

type sweepOutput struct {
	Skipped         bool                `json:"skipped"`
	HoldsExpired    int                 `json:"holds_expired"`
	OrdersCancelled int                 `json:"orders_cancelled"`
	ReservedExpired int                 `json:"reserved_expired"`
	ReleasedUSD     int64               `json:"released_usd"`
	Errors          int                 `json:"errors"`
	Dispatch        *core.DispatchStats `json:"dispatch,omitempty"`
}

func printSweep(w io.Writer, report core.SweepReport, stats *core.DispatchStats) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(sweepOutput{
		Skipped:         report.Skipped,
		HoldsExpired:    report.HoldsExpired,
		OrdersCancelled: report.OrdersCancelled,
		ReservedExpired: report.ReservedExpired,
		ReleasedUSD:     report.Released,
		Errors:          report.Errors,
		Dispatch:        stats,
	}); err != nil {
		return fmt.Errorf("write sweep report: %w", err)
	}
	return nil
}
