package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/aminsaedi/navaar/internal/ui"
)

// Stats prints aggregate sync statistics and per-direction cycle info.
func (r *Runner) Stats(ctx context.Context, cmd *cli.Command) error {
	config := r.loadConfig(cmd)
	st, err := r.buildStack(ctx, config)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.tracks.GetStats()
	if err != nil {
		return err
	}
	counts, err := st.tracks.Counts()
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(map[string]any{"tracks": stats, "by_status": counts}, true)
	}

	r.writePlain("%s\n", ui.Title("Sync Statistics"))
	r.writePlain("  total:      %d\n", stats.Total)
	r.writePlain("  synced:     %s\n", ui.OK(fmt.Sprintf("%d", stats.Synced)))
	r.writePlain("  pending:    %s\n", ui.Warn(fmt.Sprintf("%d", stats.Pending)))
	r.writePlain("  failed:     %s\n", ui.Err(fmt.Sprintf("%d", stats.Failed)))
	r.writePlain("  duplicates: %s\n", ui.Help(fmt.Sprintf("%d", stats.Duplicates)))
	if stats.Total > 0 {
		r.writePlain("  success:    %.1f%%\n", stats.SuccessRate)
	}

	if len(counts) > 0 {
		r.writePlain("\n%s\n", ui.Title("By Direction"))
		for direction, statuses := range counts {
			r.writePlain("  %s\n", direction)
			for status, count := range statuses {
				r.writePlain("    %-12s %d\n", ui.Status(status), count)
			}
		}
	}

	for _, d := range st.engine.Directions() {
		info, err := st.state.LastCycle(d)
		if err != nil || info == nil {
			continue
		}
		r.writePlain("\n  %s last cycle %s (%d processed, %s)\n",
			d, info.At.Format("2006-01-02 15:04:05"), info.Processed, info.Duration)
	}

	return nil
}
