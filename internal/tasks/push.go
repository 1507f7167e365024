package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/aminsaedi/navaar/internal/identify"
	"github.com/aminsaedi/navaar/internal/metrics"
	"github.com/aminsaedi/navaar/internal/models"
	"github.com/aminsaedi/navaar/internal/repositories"
	"github.com/aminsaedi/navaar/internal/services"
	"github.com/aminsaedi/navaar/internal/shared"
)

// PushProcedure drains pending records for one direction into the target
// service's catalog: identify if needed, search the target, add the match.
type PushProcedure struct {
	direction models.Direction
	tracks    *repositories.TrackRepository
	logbook   *repositories.SyncLogRepository
	source    services.Downloader // audio for identification; nil when the source needs none
	target    services.Adapter
	fanout    *FanOut
	sink      *metrics.Sink
	logger    *log.Logger
	batchSize int
}

// PushOpts configures a push-shaped direction.
type PushOpts struct {
	Direction models.Direction
	Tracks    *repositories.TrackRepository
	Logbook   *repositories.SyncLogRepository
	Source    services.Downloader
	Target    services.Adapter
	FanOut    *FanOut
	Sink      *metrics.Sink
	Logger    *log.Logger
	BatchSize int
}

// NewPushProcedure builds the procedure.
func NewPushProcedure(opts PushOpts) *PushProcedure {
	return &PushProcedure{
		direction: opts.Direction,
		tracks:    opts.Tracks,
		logbook:   opts.Logbook,
		source:    opts.Source,
		target:    opts.Target,
		fanout:    opts.FanOut,
		sink:      opts.Sink,
		logger:    opts.Logger.With("direction", opts.Direction),
		batchSize: opts.BatchSize,
	}
}

// Direction returns the direction this procedure serves.
func (p *PushProcedure) Direction() models.Direction {
	return p.direction
}

// RunCycle drains the pending queue, oldest first. A record whose processing
// fails is marked on the record and the cycle moves on; only storage errors
// and state-machine violations abort the cycle.
func (p *PushProcedure) RunCycle(ctx context.Context) (int, error) {
	pending, err := p.tracks.ListByStatus(p.direction, models.StatusPending, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending tracks: %w", err)
	}

	processed := 0
	for _, t := range pending {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if err := p.processTrack(ctx, t); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

func (p *PushProcedure) processTrack(ctx context.Context, t *models.Track) error {
	t, err := p.tracks.UpdateStatus(t.ID, models.StatusIdentifying)
	if err != nil {
		return err
	}

	if !t.Identified() {
		done, err := p.identifyTrack(ctx, t)
		if err != nil || done {
			return err
		}
		if t, err = p.tracks.Get(t.ID); err != nil {
			return err
		}
	}

	t, err = p.tracks.UpdateStatus(t.ID, models.StatusSearching)
	if err != nil {
		return err
	}

	descriptors := services.Descriptors{
		Artist:          t.Artist,
		Title:           t.Title,
		DurationSeconds: t.DurationSeconds,
	}
	match, err := p.target.Search(ctx, descriptors)
	if err != nil {
		if errors.Is(err, shared.ErrNoMatch) {
			return p.finishFailed(t, "no_match", err)
		}
		return p.retryOrFail(t, "search", err)
	}

	t, err = p.tracks.UpdateStatus(t.ID, models.StatusSyncing)
	if err != nil {
		return err
	}

	addedID, err := p.target.Add(ctx, match)
	if err != nil {
		if errors.Is(err, shared.ErrAlreadyPresent) {
			return p.finishDuplicate(t, match.ExternalID)
		}
		return p.retryOrFail(t, "add", err)
	}
	if addedID == "" {
		addedID = match.ExternalID
	}

	if err := p.tracks.SetExternalID(t.ID, p.target.Service(), addedID); err != nil {
		return err
	}
	t, err = p.tracks.MarkSynced(t.ID)
	if err != nil {
		return err
	}

	p.sink.TracksSynced.WithLabelValues(string(p.direction)).Inc()
	p.logger.Info("track synced", "track", t.ID, "title", t.Title, "artist", t.Artist)
	if err := p.logbook.Append("track_synced", t.ID, p.direction, map[string]string{
		"target_id": addedID,
	}); err != nil {
		p.logger.Error("failed to log sync", "track", t.ID, "error", err)
	}

	if _, err := p.fanout.Propagate(t, p.target.Service()); err != nil {
		p.logger.Error("fan-out failed", "track", t.ID, "error", err)
	}
	return nil
}

// identifyTrack fills descriptors from the audio payload and carrier hints.
// done=true means the record was finished here (identification failed) and
// processing should not continue.
func (p *PushProcedure) identifyTrack(ctx context.Context, t *models.Track) (done bool, err error) {
	var payload *services.Payload
	if p.source != nil {
		if key := p.downloadKey(t); key != "" {
			payload, err = p.source.FetchPayload(ctx, key)
			if err != nil {
				// Carrier hints and the filename may still be enough.
				p.logger.Warn("payload fetch for identification failed", "track", t.ID, "error", err)
				payload = nil
			}
		}
	}

	in := identify.Input{
		Performer: t.Artist,
		Title:     t.Title,
	}
	if payload != nil {
		in.Payload = payload.Data
		in.FileName = payload.FileName
	}

	info := identify.Identify(in)
	if info == nil {
		if err := p.finishFailed(t, "identification_failed", nil); err != nil {
			return false, err
		}
		return true, nil
	}

	if err := p.tracks.SetDescriptors(t.ID, info.Artist, info.Title, t.DurationSeconds, info.Method); err != nil {
		return false, err
	}
	p.sink.Identifications.WithLabelValues(info.Method).Inc()
	p.logger.Debug("track identified",
		"track", t.ID, "method", info.Method, "artist", info.Artist, "title", info.Title)
	return false, nil
}

// downloadKey picks the source-side key the audio can be fetched by. Telegram
// downloads go by file id; catalog services go by the correlation key.
func (p *PushProcedure) downloadKey(t *models.Track) string {
	if p.direction.Source() == models.ServiceTelegram {
		return t.TGFileID
	}
	return t.ExternalID(p.direction.Source())
}

// retryOrFail applies the retry policy for a transfer failure: transient
// causes requeue the record and count the attempt, permanent causes finish it.
// A record whose attempt count reaches the ceiling is finished as failed.
func (p *PushProcedure) retryOrFail(t *models.Track, stage string, cause error) error {
	if !services.IsTransient(cause) {
		return p.finishFailed(t, stage+"_failed", cause)
	}

	reason := fmt.Sprintf("%s failed: %v", stage, cause)
	updated, err := p.tracks.Requeue(t.ID, reason)
	if err != nil {
		return err
	}

	if updated.RetriesExhausted() {
		if _, err := p.tracks.MarkFailed(updated.ID, "max_retries_exceeded"); err != nil {
			return err
		}
		p.sink.TracksFailed.WithLabelValues(string(p.direction)).Inc()
		p.logger.Error("track failed after exhausting retries",
			"track", t.ID, "title", t.Title, "last_error", reason)
		return p.logbook.Append("track_failed", t.ID, p.direction, map[string]string{
			"reason":     "max_retries_exceeded",
			"last_error": reason,
		})
	}

	p.logger.Warn("track requeued",
		"track", t.ID, "attempt", updated.RetryCount, "stage", stage, "error", cause)
	if err := p.logbook.Append("track_requeued", t.ID, p.direction, map[string]string{
		"stage": stage,
		"error": cause.Error(),
	}); err != nil {
		p.logger.Error("failed to log requeue", "track", t.ID, "error", err)
	}
	return nil
}

func (p *PushProcedure) finishFailed(t *models.Track, reason string, cause error) error {
	full := reason
	if cause != nil {
		full = fmt.Sprintf("%s: %v", reason, cause)
	}
	if _, err := p.tracks.MarkFailed(t.ID, full); err != nil {
		return err
	}

	p.sink.TracksFailed.WithLabelValues(string(p.direction)).Inc()
	p.logger.Warn("track failed", "track", t.ID, "title", t.Title, "reason", full)
	if err := p.logbook.Append("track_failed", t.ID, p.direction, map[string]string{
		"reason": full,
	}); err != nil {
		p.logger.Error("failed to log failure", "track", t.ID, "error", err)
	}
	return nil
}

func (p *PushProcedure) finishDuplicate(t *models.Track, matchID string) error {
	if matchID != "" {
		if err := p.tracks.SetExternalID(t.ID, p.target.Service(), matchID); err != nil {
			return err
		}
	}
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
