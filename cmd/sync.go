package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/aminsaedi/navaar/internal/models"
	"github.com/aminsaedi/navaar/internal/shared"
	"github.com/aminsaedi/navaar/internal/ui"
)

// SyncOnce runs a single cycle for one direction and exits.
func (r *Runner) SyncOnce(ctx context.Context, cmd *cli.Command) error {
	direction, err := models.ParseDirection(cmd.StringArg("direction"))
	if err != nil {
		return err
	}

	config := r.loadConfig(cmd)
	st, err := r.buildStack(ctx, config)
	if err != nil {
		return err
	}
	defer st.Close()

	procedure, ok := st.engine.Procedure(direction)
	if !ok {
		return fmt.Errorf("%w: %s is not configured (is spotify set up?)", shared.ErrUnknownDirection, direction)
	}

	r.logger.Info("running sync cycle", "direction", direction)
	processed, err := procedure.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("sync cycle failed after %d records: %w", processed, err)
	}

	r.writePlain("%s %s: processed %d record(s)\n", ui.OK("✓"), direction, processed)
	return nil
}

// Retry requeues failed records, one by id or in bulk per direction.
func (r *Runner) Retry(ctx context.Context, cmd *cli.Command) error {
	config := r.loadConfig(cmd)
	st, err := r.buildStack(ctx, config)
	if err != nil {
		return err
	}
	defer st.Close()

	if id := cmd.String("id"); id != "" {
		t, err := st.tracks.ResetForRetry(id, cmd.Bool("clear-retries"))
		if err != nil {
			return err
		}
		r.writePlain("%s requeued %s (%s - %s)\n", ui.OK("✓"), t.ID, t.Artist, t.Title)
		return nil
	}

	var direction models.Direction
	if raw := cmd.String("direction"); raw != "" {
		if direction, err = models.ParseDirection(raw); err != nil {
			return err
		}
	}

	reset, err := st.tracks.ResetAllFailed(direction)
	if err != nil {
		return err
	}
	r.writePlain("%s requeued %d failed record(s)\n", ui.OK("✓"), reset)
	return nil
}
