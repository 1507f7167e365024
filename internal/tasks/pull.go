package tasks

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/aminsaedi/navaar/internal/metrics"
	"github.com/aminsaedi/navaar/internal/models"
	"github.com/aminsaedi/navaar/internal/repositories"
	"github.com/aminsaedi/navaar/internal/services"
	"github.com/aminsaedi/navaar/internal/shared"
)

// PullProcedure mirrors newly appeared items of a remote collection into the
// target service. Each cycle re-attempts failed records that still have
// retries left, drains records queued by fan-out, then diffs the remote
// listing against the stored snapshot and transfers whatever is new.
// The snapshot is overwritten wholesale
// only after the listing has been fully enumerated, so an interrupted cycle
// re-derives the same diff next time and the dedup guard absorbs the overlap.
type PullProcedure struct {
	direction  models.Direction
	tracks     *repositories.TrackRepository
	state      *repositories.SyncStateRepository
	logbook    *repositories.SyncLogRepository
	source     services.Lister
	resolver   services.PayloadResolver
	target     services.Uploader
	fanout     *FanOut
	sink       *metrics.Sink
	logger     *log.Logger
	maxRetries int
}

// PullOpts configures a pull-shaped direction.
type PullOpts struct {
	Direction  models.Direction
	Tracks     *repositories.TrackRepository
	State      *repositories.SyncStateRepository
	Logbook    *repositories.SyncLogRepository
	Source     services.Lister
	Resolver   services.PayloadResolver
	Target     services.Uploader
	FanOut     *FanOut
	Sink       *metrics.Sink
	Logger     *log.Logger
	MaxRetries int
}

// NewPullProcedure builds the procedure.
func NewPullProcedure(opts PullOpts) *PullProcedure {
	return &PullProcedure{
		direction:  opts.Direction,
		tracks:     opts.Tracks,
		state:      opts.State,
		logbook:    opts.Logbook,
		source:     opts.Source,
		resolver:   opts.Resolver,
		target:     opts.Target,
		fanout:     opts.FanOut,
		sink:       opts.Sink,
		logger:     opts.Logger.With("direction", opts.Direction),
		maxRetries: opts.MaxRetries,
	}
}

// Direction returns the direction this procedure serves.
func (p *PullProcedure) Direction() models.Direction {
	return p.direction
}

// RunCycle runs the retry sweep, drains queued records, then runs the
// discovery pass.
func (p *PullProcedure) RunCycle(ctx context.Context) (int, error) {
	processed, err := p.retrySweep(ctx)
	if err != nil {
		return processed, err
	}

	queued, err := p.drainPending(ctx)
	processed += queued
	if err != nil {
		return processed, err
	}

	discovered, err := p.discover(ctx)
	return processed + discovered, err
}

// retrySweep re-attempts failed records that still have retries left, oldest
// first. Each attempt counts toward the ceiling whether or not it succeeds.
func (p *PullProcedure) retrySweep(ctx context.Context) (int, error) {
	retryable, err := p.tracks.ListFailedRetryable(p.direction)
	if err != nil {
		return 0, fmt.Errorf("failed to list retryable tracks: %w", err)
	}

	processed := 0
	for _, t := range retryable {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		p.logger.Info("retrying failed track",
			"track", t.ID, "title", t.Title, "attempt", t.RetryCount+1)
		t, err := p.tracks.ResetForRetry(t.ID, false)
		if err != nil {
			return processed, err
		}
		if err := p.transfer(ctx, t, true); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

// drainPending transfers records queued on this direction from outside the
// discovery pass, which is how fan-out hands content to a pull direction.
func (p *PullProcedure) drainPending(ctx context.Context) (int, error) {
	pending, err := p.tracks.ListByStatus(p.direction, models.StatusPending, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending tracks: %w", err)
	}

	processed := 0
	for _, t := range pending {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if err := p.transfer(ctx, t, false); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

// discover lists the remote collection, transfers items absent from the
// snapshot, and commits the new snapshot after the full enumeration.
func (p *PullProcedure) discover(ctx context.Context) (int, error) {
	items, err := p.source.ListCollection(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s collection: %w", p.direction.Source(), err)
	}

	snapshot, err := p.state.Snapshot(p.direction)
	if err != nil {
		return 0, err
	}

	currentIDs := make([]string, 0, len(items))
	processed := 0
	for _, item := range items {
		currentIDs = append(currentIDs, item.ExternalID)
		if snapshot[item.ExternalID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if err := p.handleNewItem(ctx, item); err != nil {
			return processed, err
		}
		processed++
	}

	if err := p.state.SetSnapshot(p.direction, currentIDs); err != nil {
		return processed, err
	}
	return processed, nil
}

func (p *PullProcedure) handleNewItem(ctx context.Context, item services.Item) error {
	sourceSvc := p.direction.Source()

	// Re-discovery of something this direction already tracks, in any state.
	// Happens when the previous cycle was interrupted before the snapshot
	// commit; the existing record (or the retry sweep) owns it.
	existing, err := p.tracks.ListByCorrelation(p.direction, map[models.Service]string{sourceSvc: item.ExternalID})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		p.logger.Debug("item already tracked", "external_id", item.ExternalID, "track", existing[0].ID)
		return nil
	}

	t := &models.Track{
		Direction:            p.direction,
		Status:               models.StatusPending,
		Artist:               item.Artist,
		Title:                item.Title,
		DurationSeconds:      item.DurationSeconds,
		IdentificationMethod: "catalog",
		MaxRetries:           p.maxRetries,
	}
	switch sourceSvc {
	case models.ServiceYTMusic:
		t.YTVideoID = item.ExternalID
	case models.ServiceSpotify:
		t.SPTrackID = item.ExternalID
	case models.ServiceTelegram:
		t.TGFileUniqueID = item.ExternalID
	}

	// The same content confirmed on another direction means it already lives
	// on both ends of this one; record it as a duplicate for the audit trail
	// instead of transferring it back and forth forever.
	known, err := p.tracks.GetByExternalID(sourceSvc, item.ExternalID)
	if err != nil && !errors.Is(err, shared.ErrTrackNotFound) {
		return err
	}
	if known != nil && known.Status != models.StatusFailed {
		if err := p.tracks.Create(t); err != nil {
			return err
		}
		if _, err := p.tracks.MarkDuplicate(t.ID); err != nil {
			return err
		}
		p.sink.DuplicatesSkipped.WithLabelValues(string(p.direction)).Inc()
		p.logger.Info("item already synced via another direction",
			"external_id", item.ExternalID, "origin", known.Direction)
		if err := p.logbook.Append("track_duplicate", t.ID, p.direction, map[string]string{
			"origin_track": known.ID,
		}); err != nil {
			p.logger.Error("failed to log duplicate", "track", t.ID, "error", err)
		}
		return nil
	}

	if err := p.tracks.Create(t); err != nil {
		return err
	}
	p.sink.TracksDiscovered.WithLabelValues(string(p.direction)).Inc()
	p.logger.Info("new item discovered",
		"track", t.ID, "external_id", item.ExternalID, "title", t.Title, "artist", t.Artist)
	if err := p.logbook.Append("track_discovered", t.ID, p.direction, map[string]string{
		"external_id": item.ExternalID,
	}); err != nil {
		p.logger.Error("failed to log discovery", "track", t.ID, "error", err)
	}

	return p.transfer(ctx, t, false)
}

// transfer resolves the audio payload and uploads it to the target. counting
// selects whether a failure consumes a retry; the first attempt of a freshly
// discovered item does not.
func (p *PullProcedure) transfer(ctx context.Context, t *models.Track, counting bool) error {
	t, err := p.tracks.UpdateStatus(t.ID, models.StatusSyncing)
	if err != nil {
		return err
	}

	payload, resolvedKeys, err := p.resolver.Resolve(ctx, t)
	if err != nil {
		return p.failTransfer(t, "download", err, counting)
	}
	for svc, key := range resolvedKeys {
		if t.ExternalID(svc) != "" {
			continue
		}
		if err := p.tracks.SetExternalID(t.ID, svc, key); err != nil {
			return err
		}
	}

	descriptors := services.Descriptors{
		Artist:          t.Artist,
		Title:           t.Title,
		DurationSeconds: t.DurationSeconds,
	}
	uploadRef, err := p.target.Upload(ctx, payload, descriptors)
	if err != nil {
		if errors.Is(err, shared.ErrAlreadyPresent) {
			return p.finishDuplicate(t)
		}
		return p.failTransfer(t, "upload", err, counting)
	}

	if err := p.recordUploadRef(t.ID, uploadRef); err != nil {
		return err
	}
	t, err = p.tracks.MarkSynced(t.ID)
	if err != nil {
		return err
	}

	p.sink.TracksSynced.WithLabelValues(string(p.direction)).Inc()
	p.logger.Info("track synced", "track", t.ID, "title", t.Title, "artist", t.Artist)
	if err := p.logbook.Append("track_synced", t.ID, p.direction, map[string]string{
		"target_ref": uploadRef,
	}); err != nil {
		p.logger.Error("failed to log sync", "track", t.ID, "error", err)
	}

	if _, err := p.fanout.Propagate(t, p.direction.Target()); err != nil {
		p.logger.Error("fan-out failed", "track", t.ID, "error", err)
	}
	return nil
}

// recordUploadRef stores whatever handle the target returned for the upload.
// Telegram hands back a message id; catalog targets hand back an item id.
func (p *PullProcedure) recordUploadRef(trackID, ref string) error {
	if ref == "" {
		return nil
	}
	if p.direction.Target() == models.ServiceTelegram {
		messageID, err := strconv.ParseInt(ref, 10, 64)
		if err != nil {
			return fmt.Errorf("unparseable telegram message id %q: %w", ref, err)
		}
		return p.tracks.SetTGMessageID(trackID, messageID)
	}
	return p.tracks.SetExternalID(trackID, p.direction.Target(), ref)
}

func (p *PullProcedure) failTransfer(t *models.Track, stage string, cause error, counting bool) error {
	reason := fmt.Sprintf("%s failed: %v", stage, cause)

	var updated *models.Track
	var err error
	switch {
	case !services.IsTransient(cause):
		updated, err = p.tracks.FailPermanently(t.ID, reason)
	case counting:
		updated, err = p.tracks.FailAttempt(t.ID, reason)
	default:
		updated, err = p.tracks.MarkFailed(t.ID, reason)
	}
	if err != nil {
		return err
	}

	p.sink.TracksFailed.WithLabelValues(string(p.direction)).Inc()
	details := map[string]string{"stage": stage, "error": cause.Error()}
	if updated.RetriesExhausted() {
		details["reason"] = "max_retries_exceeded"
		p.logger.Error("track failed after exhausting retries",
			"track", t.ID, "title", t.Title, "error", cause)
	} else {
		p.logger.Warn("transfer failed, will retry",
			"track", t.ID, "title", t.Title, "stage", stage,
			"attempt", updated.RetryCount, "error", cause)
	}
	if err := p.logbook.Append("track_failed", t.ID, p.direction, details); err != nil {
		p.logger.Error("failed to log failure", "track", t.ID, "error", err)
	}
	return nil
}

func (p *PullProcedure) finishDuplicate(t *models.Track) error {
	if _, err := p.tracks.MarkDuplicate(t.ID); err != nil {
		return err
	}
	p.sink.DuplicatesSkipped.WithLabelValues(string(p.direction)).Inc()
	p.logger.Info("track already present on target", "track", t.ID, "title", t.Title)
	if err := p.logbook.Append("track_duplicate", t.ID, p.direction, nil); err != nil {
		p.logger.Error("failed to log duplicate", "track", t.ID, "error", err)
	}
	return nil
}
