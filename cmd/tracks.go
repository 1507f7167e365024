package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/aminsaedi/navaar/internal/models"
	"github.com/aminsaedi/navaar/internal/repositories"
	"github.com/aminsaedi/navaar/internal/ui"
)

// TracksList prints recent track records.
func (r *Runner) TracksList(ctx context.Context, cmd *cli.Command) error {
	return r.listTracks(ctx, cmd, models.Status(cmd.String("status")))
}

// TracksFailed prints recent failed records.
func (r *Runner) TracksFailed(ctx context.Context, cmd *cli.Command) error {
	return r.listTracks(ctx, cmd, models.StatusFailed)
}

func (r *Runner) listTracks(ctx context.Context, cmd *cli.Command, status models.Status) error {
	var direction models.Direction
	if raw := cmd.String("direction"); raw != "" {
		var err error
		if direction, err = models.ParseDirection(raw); err != nil {
			return err
		}
	}

	config := r.loadConfig(cmd)
	st, err := r.buildStack(ctx, config)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.tracks.ListRecent(direction, status, cmd.Int("limit"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(records, true)
	}

	if len(records) == 0 {
		r.writePlain("%s\n", ui.Help("no matching records"))
		return nil
	}

	r.writePlain("%s\n", ui.Title("Tracks"))
	for _, t := range records {
		title := t.Title
		if title == "" {
			title = "(unidentified)"
		}
		r.writePlain("%s  %-9s  %s - %s", ui.Status(t.Status), t.Direction, t.Artist, title)
		if t.FailureReason != "" {
			r.writePlain("  %s", ui.Err(t.FailureReason))
		}
		r.writePlain("\n    %s\n", ui.Help(t.ID))
	}
	return nil
}

// Logs prints audit log entries, newest first.
func (r *Runner) Logs(ctx context.Context, cmd *cli.Command) error {
	config := r.loadConfig(cmd)
	st, err := r.buildStack(ctx, config)
	if err != nil {
		return err
	}
	defer st.Close()

	var entries []repositories.LogEntry
	if trackID := cmd.String("track"); trackID != "" {
		entries, err = st.logbook.ListForTrack(trackID, cmd.Int("limit"))
	} else {
		entries, err = st.logbook.ListRecent(cmd.Int("limit"))
	}
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(entries, true)
	}

	for _, e := range entries {
		r.writePlain("%s  %-16s  %-9s  %s\n",
			ui.Help(e.CreatedAt.Format("2006-01-02 15:04:05")), e.Event, e.Direction, e.TrackID)
	}
	return nil
}
