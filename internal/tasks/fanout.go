package tasks

import (
	"github.com/charmbracelet/log"

	"github.com/aminsaedi/navaar/internal/metrics"
	"github.com/aminsaedi/navaar/internal/models"
	"github.com/aminsaedi/navaar/internal/repositories"
)

// FanOut propagates a freshly confirmed track onto the other configured
// directions that start from the service it was just confirmed on, so content
// entering anywhere eventually reaches everywhere.
type FanOut struct {
	directions []models.Direction
	tracks     *repositories.TrackRepository
	logbook    *repositories.SyncLogRepository
	sink       *metrics.Sink
	logger     *log.Logger
	maxRetries int
}

// NewFanOut builds the propagation step over the full set of configured
// directions.
func NewFanOut(directions []models.Direction, tracks *repositories.TrackRepository, logbook *repositories.SyncLogRepository, sink *metrics.Sink, logger *log.Logger, maxRetries int) *FanOut {
	return &FanOut{
		directions: directions,
		tracks:     tracks,
		logbook:    logbook,
		sink:       sink,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// Propagate creates pending records on every configured direction whose
// source is the service the track was just confirmed on, skipping directions
// that already carry a record correlated with the same content. Returns how
// many records were created.
func (f *FanOut) Propagate(t *models.Track, confirmed models.Service) (int, error) {
	keys := t.Keys()
	if len(keys) == 0 {
		return 0, nil
	}

	created := 0
	for _, d := range f.directions {
		if d == t.Direction || d.Source() != confirmed {
			continue
		}
		// A key for the candidate's target means the content is already on
		// that service; propagating would bounce it back where it came from.
		if t.ExternalID(d.Target()) != "" {
			continue
		}

		existing, err := f.tracks.ListByCorrelation(d, keys)
		if err != nil {
			return created, err
		}
		if live := liveRecord(existing); live != nil {
			// The content is already tracked on that direction. Logged so the
			// audit trail shows the propagation was considered.
			if err := f.logbook.Append("fanout_skipped", live.ID, d, map[string]string{
				"origin_track": t.ID,
				"status":       string(live.Status),
			}); err != nil {
				f.logger.Error("failed to log fan-out skip", "direction", d, "error", err)
			}
			continue
		}

		next := &models.Track{
			Direction:            d,
			Status:               models.StatusPending,
			Artist:               t.Artist,
			Title:                t.Title,
			DurationSeconds:      t.DurationSeconds,
			IdentificationMethod: t.IdentificationMethod,
			TGMessageID:          t.TGMessageID,
			TGFileID:             t.TGFileID,
			TGFileUniqueID:       t.TGFileUniqueID,
			YTVideoID:            t.YTVideoID,
			SPTrackID:            t.SPTrackID,
			MaxRetries:           f.maxRetries,
		}
		if err := f.tracks.Create(next); err != nil {
			return created, err
		}

		f.sink.FanOutCreated.WithLabelValues(string(d)).Inc()
		f.logger.Info("fan-out record created",
			"direction", d, "track", next.ID, "origin", t.ID, "title", t.Title)
		if err := f.logbook.Append("fanout_created", next.ID, d, map[string]string{
			"origin_track": t.ID,
		}); err != nil {
			f.logger.Error("failed to log fan-out", "direction", d, "error", err)
		}
		created++
	}
	return created, nil
}

// liveRecord returns the first record that still blocks a new fan-out: any
// state except failed with retries exhausted.
func liveRecord(records []*models.Track) *models.Track {
	for _, r := range records {
		if r.Status == models.StatusFailed && r.RetriesExhausted() {
			continue
		}
		return r
	}
	return nil
}
