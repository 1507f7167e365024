package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/aminsaedi/navaar/internal/metrics"
	"github.com/aminsaedi/navaar/internal/models"
	"github.com/aminsaedi/navaar/internal/repositories"
	"github.com/aminsaedi/navaar/internal/services"
	"github.com/aminsaedi/navaar/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

var allDirections = []models.Direction{
	models.TgToYt, models.YtToTg, models.TgToSp,
	models.SpToTg, models.YtToSp, models.SpToYt,
}

type mockAdapter struct {
	service    models.Service
	searchFunc func(d services.Descriptors) (*services.Match, error)
	addFunc    func(m *services.Match) (string, error)
}

func (m *mockAdapter) Service() models.Service { return m.service }

func (m *mockAdapter) Search(_ context.Context, d services.Descriptors) (*services.Match, error) {
	if m.searchFunc == nil {
		return &services.Match{ExternalID: "match-1", Descriptors: d}, nil
	}
	return m.searchFunc(d)
}

func (m *mockAdapter) Add(_ context.Context, match *services.Match) (string, error) {
	if m.addFunc == nil {
		return match.ExternalID, nil
	}
	return m.addFunc(match)
}

type mockLister struct {
	items []services.Item
	err   error
}

func (m *mockLister) ListCollection(context.Context) ([]services.Item, error) {
	return m.items, m.err
}

type mockUploader struct {
	uploads    int
	uploadFunc func(p *services.Payload, d services.Descriptors) (string, error)
}

func (m *mockUploader) Upload(_ context.Context, p *services.Payload, d services.Descriptors) (string, error) {
	m.uploads++
	if m.uploadFunc == nil {
		return fmt.Sprintf("%d", 100+m.uploads), nil
	}
	return m.uploadFunc(p, d)
}

type mockResolver struct {
	resolveFunc func(t *models.Track) (*services.Payload, map[models.Service]string, error)
}

func (m *mockResolver) Resolve(_ context.Context, t *models.Track) (*services.Payload, map[models.Service]string, error) {
	if m.resolveFunc == nil {
		return &services.Payload{Data: []byte("audio"), FileName: "a.mp3"}, nil, nil
	}
	return m.resolveFunc(t)
}

type fixture struct {
	db      *sql.DB
	tracks  *repositories.TrackRepository
	state   *repositories.SyncStateRepository
	logbook *repositories.SyncLogRepository
	sink    *metrics.Sink
	fanout  *FanOut
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	t.Cleanup(func() { db.Close() })

	tracks := repositories.NewTrackRepository(db)
	logbook := repositories.NewSyncLogRepository(db)
	sink := metrics.NewSink()
	logger := shared.NewLogger(io.Discard)

	return &fixture{
		db:      db,
		tracks:  tracks,
		state:   repositories.NewSyncStateRepository(db),
		logbook: logbook,
		sink:    sink,
		fanout:  NewFanOut(allDirections, tracks, logbook, sink, logger, 3),
	}
}

func (f *fixture) pushProcedure(t *testing.T, direction models.Direction, target *mockAdapter) *PushProcedure {
	t.Helper()
	return NewPushProcedure(PushOpts{
		Direction: direction,
		Tracks:    f.tracks,
		Logbook:   f.logbook,
		Target:    target,
		FanOut:    f.fanout,
		Sink:      f.sink,
		Logger:    shared.NewLogger(io.Discard),
		BatchSize: 50,
	})
}

func (f *fixture) pullProcedure(t *testing.T, direction models.Direction, source *mockLister, resolver *mockResolver, target *mockUploader, maxRetries int) *PullProcedure {
	t.Helper()
	return NewPullProcedure(PullOpts{
		Direction:  direction,
		Tracks:     f.tracks,
		State:      f.state,
		Logbook:    f.logbook,
		Source:     source,
		Resolver:   resolver,
		Target:     target,
		FanOut:     f.fanout,
		Sink:       f.sink,
		Logger:     shared.NewLogger(io.Discard),
		MaxRetries: maxRetries,
	})
}

func createPending(t *testing.T, f *fixture, direction models.Direction, mutate func(*models.Track)) *models.Track {
	t.Helper()

	track := &models.Track{
		Direction:  direction,
		Artist:     "Artist Name",
		Title:      "Song Title",
		MaxRetries: 3,
	}
	if mutate != nil {
		mutate(track)
	}
	if err := f.tracks.Create(track); err != nil {
		t.Fatalf("failed to create track: %v", err)
	}
	return track
}

func TestPushProcedure(t *testing.T) {
	ctx := context.Background()

	t.Run("syncs a pending record and fans out", func(t *testing.T) {
		f := newFixture(t)
		target := &mockAdapter{service: models.ServiceYTMusic}
		procedure := f.pushProcedure(t, models.TgToYt, target)

		track := createPending(t, f, models.TgToYt, func(tr *models.Track) {
			tr.TGFileUniqueID = "fu1"
			tr.TGFileID = "file1"
		})

		processed, err := procedure.RunCycle(ctx)
		if err != nil {
			t.Fatalf("cycle failed: %v", err)
		}
		if processed != 1 {
			t.Errorf("expected 1 processed, got %d", processed)
		}

		synced, err := f.tracks.Get(track.ID)
		if err != nil {
			t.Fatalf("failed to reload: %v", err)
		}
		if synced.Status != models.StatusSynced {
			t.Errorf("expected synced, got %s (%s)", synced.Status, synced.FailureReason)
		}
		if synced.YTVideoID != "match-1" {
			t.Errorf("expected target key match-1, got %q", synced.YTVideoID)
		}
		if synced.SyncedAt == nil {
			t.Error("synced_at should be set")
		}

		// Fan-out reaches yt_to_sp (spotify has no key yet) but must skip
		// yt_to_tg, whose target the content came from.
		created, err := f.tracks.ListByStatus(models.YtToSp, models.StatusPending, 0)
		if err != nil {
			t.Fatalf("failed to list fan-out records: %v", err)
		}
		if len(created) != 1 {
			t.Fatalf("expected 1 yt_to_sp record, got %d", len(created))
		}
		if created[0].YTVideoID != "match-1" || created[0].TGFileUniqueID != "fu1" {
			t.Errorf("fan-out record should carry correlation keys: %+v", created[0])
		}

		back, err := f.tracks.ListByStatus(models.YtToTg, models.StatusPending, 0)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(back) != 0 {
			t.Error("fan-out must not bounce content back toward telegram")
		}
	})

	t.Run("no match is a terminal failure", func(t *testing.T) {
		f := newFixture(t)
		target := &mockAdapter{
			service:    models.ServiceYTMusic,
			searchFunc: func(services.Descriptors) (*services.Match, error) { return nil, shared.ErrNoMatch },
		}
		procedure := f.pushProcedure(t, models.TgToYt, target)
		track := createPending(t, f, models.TgToYt, nil)

		if _, err := procedure.RunCycle(ctx); err != nil {
			t.Fatalf("cycle failed: %v", err)
		}

		failed, _ := f.tracks.Get(track.ID)
		if failed.Status != models.StatusFailed {
			t.Errorf("expected failed, got %s", failed.Status)
		}
		if failed.RetryCount != 0 {
			t.Errorf("no-match must not consume retries, got %d", failed.RetryCount)
		}
	})

	t.Run("already present finishes as duplicate", func(t *testing.T) {
		f := newFixture(t)
		target := &mockAdapter{
			service: models.ServiceYTMusic,
			addFunc: func(*services.Match) (string, error) { return "", shared.ErrAlreadyPresent },
		}
		procedure := f.pushProcedure(t, models.TgToYt, target)
		track := createPending(t, f, models.TgToYt, nil)

		if _, err := procedure.RunCycle(ctx); err != nil {
			t.Fatalf("cycle failed: %v", err)
		}

		dup, _ := f.tracks.Get(track.ID)
		if dup.Status != models.StatusDuplicate {
			t.Errorf("expected duplicate, got %s", dup.Status)
		}
		if dup.YTVideoID != "match-1" {
			t.Errorf("duplicate should record the match key, got %q", dup.YTVideoID)
		}
	})

	t.Run("two transient failures then success leaves retry count at two", func(t *testing.T) {
		f := newFixture(t)
		attempts := 0
		target := &mockAdapter{
			service: models.ServiceYTMusic,
			searchFunc: func(d services.Descriptors) (*services.Match, error) {
				attempts++
				if attempts <= 2 {
					return nil, fmt.Errorf("%w: 503", shared.ErrAPIRequest)
				}
				return &services.Match{ExternalID: "match-1", Descriptors: d}, nil
			},
		}
		procedure := f.pushProcedure(t, models.TgToYt, target)
		track := createPending(t, f, models.TgToYt, nil)

		for i := 0; i < 3; i++ {
			if _, err := procedure.RunCycle(ctx); err != nil {
				t.Fatalf("cycle %d failed: %v", i, err)
			}
		}

		final, _ := f.tracks.Get(track.ID)
		if final.Status != models.StatusSynced {
			t.Errorf("expected synced, got %s (%s)", final.Status, final.FailureReason)
		}
		if final.RetryCount != 2 {
			t.Errorf("expected retry count 2, got %d", final.RetryCount)
		}
	})

	t.Run("retry ceiling finishes the record", func(t *testing.T) {
		f := newFixture(t)
		target := &mockAdapter{
			service: models.ServiceYTMusic,
			searchFunc: func(services.Descriptors) (*services.Match, error) {
				return nil, fmt.Errorf("%w: timeout", shared.ErrAPIRequest)
			},
		}
		procedure := f.pushProcedure(t, models.TgToYt, target)
		track := createPending(t, f, models.TgToYt, func(tr *models.Track) { tr.MaxRetries = 2 })

		for i := 0; i < 2; i++ {
			if _, err := procedure.RunCycle(ctx); err != nil {
				t.Fatalf("cycle %d failed: %v", i, err)
			}
		}

		final, _ := f.tracks.Get(track.ID)
		if final.Status != models.StatusFailed {
			t.Errorf("expected failed, got %s", final.Status)
		}
		if final.FailureReason != "max_retries_exceeded" {
			t.Errorf("expected max_retries_exceeded, got %q", final.FailureReason)
		}
		if final.RetryCount != 2 {
			t.Errorf("retry count must stop at the ceiling, got %d", final.RetryCount)
		}

		// Nothing left to process.
		processed, err := procedure.RunCycle(ctx)
		if err != nil {
			t.Fatalf("cycle failed: %v", err)
		}
		if processed != 0 {
			t.Errorf("expected empty cycle, got %d", processed)
		}
	})

	t.Run("permanent failure does not retry", func(t *testing.T) {
		f := newFixture(t)
		target := &mockAdapter{
			service: models.ServiceYTMusic,
			addFunc: func(*services.Match) (string, error) {
				return "", fmt.Errorf("%w: playlist gone", shared.ErrPermanent)
			},
		}
		procedure := f.pushProcedure(t, models.TgToYt, target)
		track := createPending(t, f, models.TgToYt, nil)

		if _, err := procedure.RunCycle(ctx); err != nil {
			t.Fatalf("cycle failed: %v", err)
		}

		final, _ := f.tracks.Get(track.ID)
		if final.Status != models.StatusFailed {
			t.Errorf("expected failed, got %s", final.Status)
		}
		if final.RetryCount != 0 {
			t.Errorf("permanent failures must not requeue, got retry count %d", final.RetryCount)
		}
	})

	t.Run("unidentifiable record fails without reaching the target", func(t *testing.T) {
		f := newFixture(t)
		searched := false
		target := &mockAdapter{
			service: models.ServiceYTMusic,
			searchFunc: func(services.Descriptors) (*services.Match, error) {
				searched = true
				return nil, shared.ErrNoMatch
			},
		}
		procedure := f.pushProcedure(t, models.TgToYt, target)
		track := createPending(t, f, models.TgToYt, func(tr *models.Track) {
			tr.Artist = ""
			tr.Title = ""
		})

		if _, err := procedure.RunCycle(ctx); err != nil {
			t.Fatalf("cycle failed: %v", err)
		}

		final, _ := f.tracks.Get(track.ID)
		if final.Status != models.StatusFailed {
			t.Errorf("expected failed, got %s", final.Status)
		}
		if searched {
			t.Error("an unidentified record must not be searched")
		}
	})
}

func TestPullProcedure(t *testing.T) {
	ctx := context.Background()

	t.Run("first run treats the whole listing as new", func(t *testing.T) {
		f := newFixture(t)
		source := &mockLister{items: []services.Item{
			{ExternalID: "vid1", Descriptors: services.Descriptors{Artist: "A", Title: "One"}},
			{ExternalID: "vid2", Descriptors: services.Descriptors{Artist: "B", Title: "Two"}},
		}}
		uploader := &mockUploader{}
		procedure := f.pullProcedure(t, models.YtToTg, source, &mockResolver{}, uploader, 3)

		processed, err := procedure.RunCycle(ctx)
		if err != nil {
			t.Fatalf("cycle failed: %v", err)
		}
		if processed != 2 {
			t.Errorf("expected 2 processed, got %d", processed)
		}
		if uploader.uploads != 2 {
			t.Errorf("expected 2 uploads, got %d", uploader.uploads)
		}

		records, err := f.tracks.ListByStatus(models.YtToTg, models.StatusSynced, 0)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("expected 2 synced records, got %d", len(records))
		}
		if records[0].TGMessageID == 0 {
			t.Error("upload reference should be recorded as the message id")
		}

		snapshot, err := f.state.Snapshot(models.YtToTg)
		if err != nil {
			t.Fatalf("failed to load snapshot: %v", err)
		}
		if !snapshot["vid1"] || !snapshot["vid2"] {
			t.Errorf("snapshot should hold the full listing, got %v", snapshot)
		}
	})

	t.Run("unchanged listing is a no-op", func(t *testing.T) {
		f := newFixture(t)
		source := &mockLister{items: []services.Item{
			{ExternalID: "vid1", Descriptors: services.Descriptors{Artist: "A", Title: "One"}},
		}}
		uploader := &mockUploader{}
		procedure := f.pullProcedure(t, models.YtToTg, source, &mockResolver{}, uploader, 3)

		if _, err := procedure.RunCycle(ctx); err != nil {
			t.Fatalf("first cycle failed: %v", err)
		}
		processed, err := procedure.RunCycle(ctx)
		if err != nil {
			t.Fatalf("second cycle failed: %v", err)
		}
		if processed != 0 {
			t.Errorf("expected idempotent second cycle, got %d processed", processed)
		}
		if uploader.uploads != 1 {
			t.Errorf("expected no re-upload, got %d uploads", uploader.uploads)
		}
	})

	t.Run("lost snapshot is absorbed by the dedup guard", func(t *testing.T) {
		f := newFixture(t)
		source := &mockLister{items: []services.Item{
			{ExternalID: "vid1", Descriptors: services.Descriptors{Artist: "A", Title: "One"}},
		}}
		uploader := &mockUploader{}
		procedure := f.pullProcedure(t, models.YtToTg, source, &mockResolver{}, uploader, 3)

		if _, err := procedure.RunCycle(ctx); err != nil {
			t.Fatalf("first cycle failed: %v", err)
		}

		// Simulate an interruption before the snapshot commit.
		if err := f.state.SetSnapshot(models.YtToTg, nil); err != nil {
			t.Fatalf("failed to clear snapshot: %v", err)
		}
		if _, err := procedure.RunCycle(ctx); err != nil {
			t.Fatalf("re-run failed: %v", err)
		}

		records, err := f.tracks.ListRecent(models.YtToTg, "", 10)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(records) != 1 {
			t.Errorf("re-discovery must not duplicate records, got %d", len(records))
		}
		if uploader.uploads != 1 {
			t.Errorf("re-discovery must not re-upload, got %d uploads", uploader.uploads)
		}
	})

	t.Run("first failure does not count, sweep attempts do", func(t *testing.T) {
		f := newFixture(t)
		source := &mockLister{items: []services.Item{
			{ExternalID: "vid1", Descriptors: services.Descriptors{Artist: "A", Title: "One"}},
		}}
		failures := 2
		uploader := &mockUploader{
			uploadFunc: func(*services.Payload, services.Descriptors) (string, error) {
				if failures > 0 {
					failures--
					return "", fmt.Errorf("%w: 502", shared.ErrAPIRequest)
				}
				return "111", nil
			},
		}
		procedure := f.pullProcedure(t, models.YtToTg, source, &mockResolver{}, uploader, 3)

		// Discovery attempt fails; the record parks in failed with no retries
		// consumed.
		if _, err := procedure.RunCycle(ctx); err != nil {
			t.Fatalf("first cycle failed: %v", err)
		}
		records, _ := f.tracks.ListRecent(models.YtToTg, models.StatusFailed, 10)
		if len(records) != 1 || records[0].RetryCount != 0 {
			t.Fatalf("expected one failed record with retry count 0, got %+v", records)
		}

		// Sweep attempt fails and counts.
		if _, err := procedure.RunCycle(ctx); err != nil {
			t.Fatalf("second cycle failed: %v", err)
		}
		records, _ = f.tracks.ListRecent(models.YtToTg, models.StatusFailed, 10)
		if len(records) != 1 || records[0].RetryCount != 1 {
			t.Fatalf("expected retry count 1 after sweep, got %+v", records)
		}

		// Sweep attempt succeeds.
		if _, err := procedure.RunCycle(ctx); err != nil {
			t.Fatalf("third cycle failed: %v", err)
		}
		final, _ := f.tracks.ListRecent(models.YtToTg, models.StatusSynced, 10)
		if len(final) != 1 {
			t.Fatalf("expected a synced record, got %d", len(final))
		}
		if final[0].RetryCount != 1 {
			t.Errorf("expected retry count 1 on success, got %d", final[0].RetryCount)
		}
	})

	t.Run("exhausted records leave the sweep", func(t *testing.T) {
		f := newFixture(t)
		source := &mockLister{items: []services.Item{
			{ExternalID: "vid1", Descriptors: services.Descriptors{Artist: "A", Title: "One"}},
		}}
		uploader := &mockUploader{
			uploadFunc: func(*services.Payload, services.Descriptors) (string, error) {
				return "", fmt.Errorf("%w: 502", shared.ErrAPIRequest)
			},
		}
		procedure := f.pullProcedure(t, models.YtToTg, source, &mockResolver{}, uploader, 1)

		for i := 0; i < 3; i++ {
			if _, err := procedure.RunCycle(ctx); err != nil {
				t.Fatalf("cycle %d failed: %v", i, err)
			}
		}

		// Discovery upload plus exactly one sweep retry.
		if uploader.uploads != 2 {
			t.Errorf("expected 2 attempts total, got %d", uploader.uploads)
		}
		final, _ := f.tracks.ListRecent(models.YtToTg, models.StatusFailed, 10)
		if len(final) != 1 || !final[0].RetriesExhausted() {
			t.Fatalf("expected an exhausted failed record, got %+v", final)
		}
	})

	t.Run("content confirmed on another direction becomes a duplicate", func(t *testing.T) {
		f := newFixture(t)

		// A tg_to_yt push already delivered this video.
		origin := &models.Track{
			Direction:      models.TgToYt,
			Status:         models.StatusSynced,
			Artist:         "A",
			Title:          "One",
			TGFileUniqueID: "fu1",
			YTVideoID:      "vid1",
			MaxRetries:     3,
		}
		if err := f.tracks.Create(origin); err != nil {
			t.Fatalf("failed to create origin: %v", err)
		}

		source := &mockLister{items: []services.Item{
			{ExternalID: "vid1", Descriptors: services.Descriptors{Artist: "A", Title: "One"}},
		}}
		uploader := &mockUploader{}
		procedure := f.pullProcedure(t, models.YtToTg, source, &mockResolver{}, uploader, 3)

		if _, err := procedure.RunCycle(ctx); err != nil {
			t.Fatalf("cycle failed: %v", err)
		}

		if uploader.uploads != 0 {
			t.Errorf("duplicate content must not be uploaded, got %d uploads", uploader.uploads)
		}
		records, err := f.tracks.ListRecent(models.YtToTg, "", 10)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(records) != 1 || records[0].Status != models.StatusDuplicate {
			t.Fatalf("expected a duplicate record for the audit trail, got %+v", records)
		}
	})

	t.Run("drains records queued by fan-out", func(t *testing.T) {
		f := newFixture(t)
		queued := createPending(t, f, models.YtToTg, func(tr *models.Track) {
			tr.YTVideoID = "vid7"
		})

		uploader := &mockUploader{}
		procedure := f.pullProcedure(t, models.YtToTg, &mockLister{}, &mockResolver{}, uploader, 3)

		processed, err := procedure.RunCycle(ctx)
		if err != nil {
			t.Fatalf("cycle failed: %v", err)
		}
		if processed != 1 {
			t.Errorf("expected 1 processed, got %d", processed)
		}

		final, _ := f.tracks.Get(queued.ID)
		if final.Status != models.StatusSynced {
			t.Errorf("expected synced, got %s (%s)", final.Status, final.FailureReason)
		}
	})

	t.Run("listing failure aborts the cycle and keeps the snapshot", func(t *testing.T) {
		f := newFixture(t)
		if err := f.state.SetSnapshot(models.YtToTg, []string{"vid1"}); err != nil {
			t.Fatalf("failed to seed snapshot: %v", err)
		}

		source := &mockLister{err: fmt.Errorf("%w: proxy down", shared.ErrServiceUnavailable)}
		procedure := f.pullProcedure(t, models.YtToTg, source, &mockResolver{}, &mockUploader{}, 3)

		if _, err := procedure.RunCycle(ctx); err == nil {
			t.Fatal("expected a cycle error")
		}

		snapshot, err := f.state.Snapshot(models.YtToTg)
		if err != nil {
			t.Fatalf("failed to load snapshot: %v", err)
		}
		if !snapshot["vid1"] {
			t.Errorf("snapshot must survive a failed listing, got %v", snapshot)
		}
	})

	t.Run("resolved catalog keys are merged onto the record", func(t *testing.T) {
		f := newFixture(t)
		source := &mockLister{items: []services.Item{
			{ExternalID: "sp1", Descriptors: services.Descriptors{Artist: "A", Title: "One"}},
		}}
		resolver := &mockResolver{
			resolveFunc: func(*models.Track) (*services.Payload, map[models.Service]string, error) {
				return &services.Payload{Data: []byte("audio"), FileName: "a.mp3"},
					map[models.Service]string{models.ServiceYTMusic: "vid-resolved"}, nil
			},
		}
		procedure := f.pullProcedure(t, models.SpToTg, source, resolver, &mockUploader{}, 3)

		if _, err := procedure.RunCycle(ctx); err != nil {
			t.Fatalf("cycle failed: %v", err)
		}

		records, _ := f.tracks.ListRecent(models.SpToTg, models.StatusSynced, 10)
		if len(records) != 1 {
			t.Fatalf("expected a synced record, got %d", len(records))
		}
		if records[0].SPTrackID != "sp1" || records[0].YTVideoID != "vid-resolved" {
			t.Errorf("expected both correlation keys, got %+v", records[0])
		}
	})
}

func TestFanOut(t *testing.T) {
	t.Run("skips directions that already track the content", func(t *testing.T) {
		f := newFixture(t)

		origin := &models.Track{
			Direction:      models.TgToYt,
			Status:         models.StatusSynced,
			Artist:         "A",
			Title:          "One",
			TGFileUniqueID: "fu1",
			YTVideoID:      "vid1",
			MaxRetries:     3,
		}
		if err := f.tracks.Create(origin); err != nil {
			t.Fatalf("failed to create origin: %v", err)
		}

		created, err := f.fanout.Propagate(origin, models.ServiceYTMusic)
		if err != nil {
			t.Fatalf("fan-out failed: %v", err)
		}
		if created != 1 {
			t.Errorf("expected 1 record (yt_to_sp), got %d", created)
		}

		// Propagating again finds the live record and creates nothing.
		created, err = f.fanout.Propagate(origin, models.ServiceYTMusic)
		if err != nil {
			t.Fatalf("second fan-out failed: %v", err)
		}
		if created != 0 {
			t.Errorf("expected dedup to skip, got %d created", created)
		}

		entries, err := f.logbook.ListRecent(10)
		if err != nil {
			t.Fatalf("failed to read log: %v", err)
		}
		var skipped bool
		for _, e := range entries {
			if e.Event == "fanout_skipped" {
				skipped = true
			}
		}
		if !skipped {
			t.Error("the skipped propagation should appear in the audit trail")
		}
	})

	t.Run("exhausted failures do not block re-propagation", func(t *testing.T) {
		f := newFixture(t)

		dead := &models.Track{
			Direction:  models.YtToSp,
			Status:     models.StatusFailed,
			Artist:     "A",
			Title:      "One",
			YTVideoID:  "vid1",
			RetryCount: 3,
			MaxRetries: 3,
		}
		if err := f.tracks.Create(dead); err != nil {
			t.Fatalf("failed to create dead record: %v", err)
		}

		origin := &models.Track{
			Direction:      models.TgToYt,
			Status:         models.StatusSynced,
			TGFileUniqueID: "fu1",
			YTVideoID:      "vid1",
			MaxRetries:     3,
		}
		if err := f.tracks.Create(origin); err != nil {
			t.Fatalf("failed to create origin: %v", err)
		}

		created, err := f.fanout.Propagate(origin, models.ServiceYTMusic)
		if err != nil {
			t.Fatalf("fan-out failed: %v", err)
		}
		if created != 1 {
			t.Errorf("an exhausted record should not block a fresh attempt, got %d created", created)
		}
	})
}

type stubProcedure struct {
	direction models.Direction
	runs      chan struct{}
	err       error
}

func (s *stubProcedure) Direction() models.Direction { return s.direction }

func (s *stubProcedure) RunCycle(ctx context.Context) (int, error) {
	select {
	case s.runs <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return 0, s.err
}

func TestEngine(t *testing.T) {
	logger := shared.NewLogger(io.Discard)

	newStateRepo := func(t *testing.T) *repositories.SyncStateRepository {
		db := setupTestDB(t)
		t.Cleanup(func() { db.Close() })
		return repositories.NewSyncStateRepository(db)
	}

	t.Run("rejects bad configurations", func(t *testing.T) {
		state := newStateRepo(t)
		sink := metrics.NewSink()
		proc := &stubProcedure{direction: models.TgToYt, runs: make(chan struct{}, 16)}

		cases := []struct {
			name    string
			configs []DirectionConfig
		}{
			{"empty", nil},
			{"unknown direction", []DirectionConfig{
				{Direction: "tg_to_tg", Shape: ShapePush, Interval: time.Minute, Procedure: proc},
			}},
			{"bad shape", []DirectionConfig{
				{Direction: models.TgToYt, Shape: "drift", Interval: time.Minute, Procedure: proc},
			}},
			{"nil procedure", []DirectionConfig{
				{Direction: models.TgToYt, Shape: ShapePush, Interval: time.Minute},
			}},
			{"non-positive interval", []DirectionConfig{
				{Direction: models.TgToYt, Shape: ShapePush, Procedure: proc},
			}},
			{"duplicate direction", []DirectionConfig{
				{Direction: models.TgToYt, Shape: ShapePush, Interval: time.Minute, Procedure: proc},
				{Direction: models.TgToYt, Shape: ShapePush, Interval: time.Minute, Procedure: proc},
			}},
		}
		for _, c := range cases {
			if _, err := NewEngine(c.configs, state, sink, logger); err == nil {
				t.Errorf("%s: expected a configuration error", c.name)
			}
		}
	})

	t.Run("runs a cycle at start and on trigger, stops on shutdown", func(t *testing.T) {
		state := newStateRepo(t)
		proc := &stubProcedure{direction: models.TgToYt, runs: make(chan struct{})}

		engine, err := NewEngine([]DirectionConfig{
			{Direction: models.TgToYt, Shape: ShapePush, Interval: time.Hour, Procedure: proc},
		}, state, metrics.NewSink(), logger)
		if err != nil {
			t.Fatalf("failed to build engine: %v", err)
		}

		done := make(chan error, 1)
		go func() { done <- engine.Run(context.Background()) }()

		waitRun := func(what string) {
			t.Helper()
			select {
			case <-proc.runs:
			case <-time.After(5 * time.Second):
				t.Fatalf("timed out waiting for %s", what)
			}
		}

		waitRun("initial cycle")

		if err := engine.Trigger(models.TgToYt); err != nil {
			t.Fatalf("trigger failed: %v", err)
		}
		waitRun("triggered cycle")

		if err := engine.Trigger("sp_to_sp"); err == nil {
			t.Error("triggering an unknown direction should fail")
		}

		engine.Shutdown()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("run returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("engine did not stop")
		}

		stats, ok := engine.Stats(models.TgToYt)
		if !ok {
			t.Fatal("missing stats for configured direction")
		}
		if stats.Cycles < 2 {
			t.Errorf("expected at least 2 cycles, got %d", stats.Cycles)
		}
	})

	t.Run("a trigger wakes only its own direction", func(t *testing.T) {
		state := newStateRepo(t)
		pushProc := &stubProcedure{direction: models.TgToYt, runs: make(chan struct{})}
		pullProc := &stubProcedure{direction: models.YtToTg, runs: make(chan struct{})}

		engine, err := NewEngine([]DirectionConfig{
			{Direction: models.TgToYt, Shape: ShapePush, Interval: time.Hour, Procedure: pushProc},
			{Direction: models.YtToTg, Shape: ShapePull, Interval: time.Hour, Procedure: pullProc},
		}, state, metrics.NewSink(), logger)
		if err != nil {
			t.Fatalf("failed to build engine: %v", err)
		}

		done := make(chan error, 1)
		go func() { done <- engine.Run(context.Background()) }()

		waitRun := func(runs chan struct{}, what string) {
			t.Helper()
			select {
			case <-runs:
			case <-time.After(5 * time.Second):
				t.Fatalf("timed out waiting for %s", what)
			}
		}

		waitRun(pushProc.runs, "tg_to_yt startup cycle")
		waitRun(pullProc.runs, "yt_to_tg startup cycle")

		for range 3 {
			if err := engine.Trigger(models.TgToYt); err != nil {
				t.Fatalf("trigger failed: %v", err)
			}
			waitRun(pushProc.runs, "triggered tg_to_yt cycle")
		}

		select {
		case <-pullProc.runs:
			t.Error("yt_to_tg ran a cycle it was never triggered for")
		case <-time.After(300 * time.Millisecond):
		}

		engine.Shutdown()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("engine did not stop")
		}

		stats, _ := engine.Stats(models.YtToTg)
		if stats.Cycles != 1 {
			t.Errorf("expected yt_to_tg to run only its startup cycle, got %d", stats.Cycles)
		}
	})

	t.Run("a failing cycle does not stop the loop", func(t *testing.T) {
		state := newStateRepo(t)
		proc := &stubProcedure{
			direction: models.TgToYt,
			runs:      make(chan struct{}),
			err:       errors.New("listing exploded"),
		}

		engine, err := NewEngine([]DirectionConfig{
			{Direction: models.TgToYt, Shape: ShapePull, Interval: time.Hour, Procedure: proc},
		}, state, metrics.NewSink(), logger)
		if err != nil {
			t.Fatalf("failed to build engine: %v", err)
		}

		done := make(chan error, 1)
		go func() { done <- engine.Run(context.Background()) }()

		for _, phase := range []string{"initial cycle", "cycle after failure"} {
			select {
			case <-proc.runs:
			case <-time.After(5 * time.Second):
				t.Fatalf("timed out waiting for %s", phase)
			}
			engine.Trigger(models.TgToYt)
		}

		engine.Shutdown()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("engine did not stop")
		}

		stats, _ := engine.Stats(models.TgToYt)
		if stats.LastError == "" {
			t.Error("the failure should be visible in the loop stats")
		}
	})
}
