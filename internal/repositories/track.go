package repositories

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/aminsaedi/navaar/internal/models"
	"github.com/aminsaedi/navaar/internal/shared"
)

const trackColumns = `id, direction, status, artist, title, duration_seconds, identification_method,
	tg_message_id, tg_file_id, tg_file_unique_id, yt_video_id, sp_track_id,
	failure_reason, retry_count, max_retries, created_at, updated_at, synced_at`

// TrackRepository owns the tracks table. Every status mutation is validated
// against the record's state machine; an invalid transition surfaces
// [shared.ErrInvalidTransition] instead of silently rewriting state.
type TrackRepository struct {
	db *sql.DB
}

// NewTrackRepository creates a new TrackRepository with the given database connection.
func NewTrackRepository(db *sql.DB) *TrackRepository {
	return &TrackRepository{db: db}
}

// Create inserts a new track record with a generated id and timestamps.
// Status defaults to pending when unset.
func (r *TrackRepository) Create(t *models.Track) error {
	if !t.Direction.Known() {
		return fmt.Errorf("%w: %q", shared.ErrUnknownDirection, t.Direction)
	}
	if t.Status == "" {
		t.Status = models.StatusPending
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", shared.ErrInvalidInput, t.Status)
	}

	t.ID = shared.GenerateID()
	ts := now().UTC()
	t.CreatedAt = ts
	t.UpdatedAt = ts

	query := `
		INSERT INTO tracks (` + trackColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		t.ID, t.Direction, t.Status, t.Artist, t.Title, t.DurationSeconds, t.IdentificationMethod,
		t.TGMessageID, t.TGFileID, t.TGFileUniqueID, t.YTVideoID, t.SPTrackID,
		t.FailureReason, t.RetryCount, t.MaxRetries, t.CreatedAt, t.UpdatedAt, nullableTime(t.SyncedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert track: %w", err)
	}

	return nil
}

// Get retrieves a track by id.
func (r *TrackRepository) Get(id string) (*models.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE id = ?`
	return r.scanOne(r.db.QueryRow(query, id))
}

// ListByStatus retrieves up to limit records for a direction in the given
// status, oldest first. limit <= 0 means no bound.
func (r *TrackRepository) ListByStatus(direction models.Direction, status models.Status, limit int) ([]*models.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE direction = ? AND status = ? ORDER BY created_at ASC, id ASC`
	args := []any{direction, status}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return r.list(query, args...)
}

// ListFailedRetryable retrieves failed records for a direction that still have
// retries left, oldest first.
func (r *TrackRepository) ListFailedRetryable(direction models.Direction) ([]*models.Track, error) {
	query := `
		SELECT ` + trackColumns + ` FROM tracks
		WHERE direction = ? AND status = ? AND retry_count < max_retries
		ORDER BY created_at ASC, id ASC
	`
	return r.list(query, direction, models.StatusFailed)
}

// ListByCorrelation retrieves every record on a direction whose correlation
// keys overlap the given set. Used by the fan-out dedup guard.
func (r *TrackRepository) ListByCorrelation(direction models.Direction, keys map[models.Service]string) ([]*models.Track, error) {
	columns := map[models.Service]string{
		models.ServiceTelegram: "tg_file_unique_id",
		models.ServiceYTMusic:  "yt_video_id",
		models.ServiceSpotify:  "sp_track_id",
	}

	var clauses []string
	args := []any{direction}
	for svc, key := range keys {
		if key == "" {
			continue
		}
		clauses = append(clauses, columns[svc]+" = ?")
		args = append(args, key)
	}
	if len(clauses) == 0 {
		return nil, nil
	}

	query := `SELECT ` + trackColumns + ` FROM tracks WHERE direction = ? AND (` +
		strings.Join(clauses, " OR ") + `) ORDER BY created_at DESC, id DESC`
	return r.list(query, args...)
}

// GetByExternalID retrieves the most recent record carrying the given key for
// a service, across directions. Several records may share the key; the newest
// is the relevant one for dedup decisions.
func (r *TrackRepository) GetByExternalID(svc models.Service, key string) (*models.Track, error) {
	column := map[models.Service]string{
		models.ServiceTelegram: "tg_file_unique_id",
		models.ServiceYTMusic:  "yt_video_id",
		models.ServiceSpotify:  "sp_track_id",
	}[svc]
	if column == "" {
		return nil, fmt.Errorf("%w: unknown service %q", shared.ErrInvalidInput, svc)
	}

	query := `SELECT ` + trackColumns + ` FROM tracks WHERE ` + column + ` = ? ORDER BY created_at DESC, id DESC LIMIT 1`
	return r.scanOne(r.db.QueryRow(query, key))
}

// ListRecent retrieves the newest records, optionally filtered by direction
// and status ("" matches all).
func (r *TrackRepository) ListRecent(direction models.Direction, status models.Status, limit int) ([]*models.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE 1=1`
	args := []any{}
	if direction != "" {
		query += " AND direction = ?"
		args = append(args, direction)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)
	return r.list(query, args...)
}

// UpdateStatus moves a record to the next lifecycle stage, enforcing the state machine.
func (r *TrackRepository) UpdateStatus(id string, next models.Status) (*models.Track, error) {
	return r.transition(id, next, nil)
}

// SetDescriptors stores identification output on a record.
func (r *TrackRepository) SetDescriptors(id, artist, title string, duration int, method string) error {
	query := `
		UPDATE tracks SET artist = ?, title = ?, duration_seconds = ?, identification_method = ?, updated_at = ?
		WHERE id = ?
	`
	return r.exec(query, artist, title, duration, method, now().UTC(), id)
}

// SetExternalID records a correlation key learned for a service.
func (r *TrackRepository) SetExternalID(id string, svc models.Service, key string) error {
	column := map[models.Service]string{
		models.ServiceTelegram: "tg_file_unique_id",
		models.ServiceYTMusic:  "yt_video_id",
		models.ServiceSpotify:  "sp_track_id",
	}[svc]
	if column == "" {
		return fmt.Errorf("%w: unknown service %q", shared.ErrInvalidInput, svc)
	}
	return r.exec("UPDATE tracks SET "+column+" = ?, updated_at = ? WHERE id = ?", key, now().UTC(), id)
}

// SetTGMessageID records the Telegram message id assigned on upload.
func (r *TrackRepository) SetTGMessageID(id string, messageID int64) error {
	return r.exec("UPDATE tracks SET tg_message_id = ?, updated_at = ? WHERE id = ?", messageID, now().UTC(), id)
}

// MarkSynced finishes a record successfully and stamps synced_at.
func (r *TrackRepository) MarkSynced(id string) (*models.Track, error) {
	ts := now().UTC()
	return r.transition(id, models.StatusSynced, map[string]any{"synced_at": ts, "failure_reason": ""})
}

// MarkDuplicate finishes a record as a detected duplicate.
func (r *TrackRepository) MarkDuplicate(id string) (*models.Track, error) {
	return r.transition(id, models.StatusDuplicate, nil)
}

// MarkFailed finishes a record with a reason, leaving retry accounting untouched.
// Used for terminal outcomes (identification failure, no match) and for fresh
// pull-side records whose first transfer attempt failed.
func (r *TrackRepository) MarkFailed(id, reason string) (*models.Track, error) {
	return r.transition(id, models.StatusFailed, map[string]any{"failure_reason": reason})
}

// FailAttempt finishes a record with a reason and counts the attempt.
// Used by the pull retry sweep, whose records wait in failed between attempts.
func (r *TrackRepository) FailAttempt(id, reason string) (*models.Track, error) {
	return r.transition(id, models.StatusFailed, map[string]any{
		"failure_reason": reason,
		"retry_count":    sqlIncrement{},
	})
}

// FailPermanently finishes a record with a reason and exhausts its retries so
// no automatic sweep picks it up again. Used for adapter failures the service
// reported as unrecoverable.
func (r *TrackRepository) FailPermanently(id, reason string) (*models.Track, error) {
	current, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return r.transition(id, models.StatusFailed, map[string]any{
		"failure_reason": reason,
		"retry_count":    current.MaxRetries,
	})
}

// Requeue returns a record to pending and counts the attempt. This is the
// failed -> pending retry edge collapsed into one call for push-shaped
// directions, whose records wait in pending between attempts.
func (r *TrackRepository) Requeue(id, reason string) (*models.Track, error) {
	current, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	// The record passes through failed on its way back to pending.
	if current.Status != models.StatusFailed {
		if err := current.Status.ValidateTransition(models.StatusFailed); err != nil {
			return nil, err
		}
	}

	query := `UPDATE tracks SET status = ?, failure_reason = ?, retry_count = retry_count + 1, updated_at = ? WHERE id = ?`
	if err := r.exec(query, models.StatusPending, reason, now().UTC(), id); err != nil {
		return nil, err
	}
	return r.Get(id)
}

// ResetForRetry is the operator-facing retry: failed -> pending with the
// reason cleared. The retry count is kept; resetting it is the operator's
// explicit override of the ceiling.
func (r *TrackRepository) ResetForRetry(id string, clearRetries bool) (*models.Track, error) {
	extra := map[string]any{"failure_reason": ""}
	if clearRetries {
		extra["retry_count"] = 0
	}
	return r.transition(id, models.StatusPending, extra)
}

// ResetAllFailed requeues every failed record, optionally scoped to one
// direction, and returns how many were reset.
func (r *TrackRepository) ResetAllFailed(direction models.Direction) (int, error) {
	query := `UPDATE tracks SET status = ?, failure_reason = '', retry_count = 0, updated_at = ? WHERE status = ?`
	args := []any{models.StatusPending, now().UTC(), models.StatusFailed}
	if direction != "" {
		query += " AND direction = ?"
		args = append(args, direction)
	}

	result, err := r.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed tracks: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(rows), nil
}

// Counts returns per-direction, per-status record counts.
func (r *TrackRepository) Counts() (map[models.Direction]map[models.Status]int, error) {
	rows, err := r.db.Query("SELECT direction, status, COUNT(*) FROM tracks GROUP BY direction, status")
	if err != nil {
		return nil, fmt.Errorf("failed to query counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Direction]map[models.Status]int)
	for rows.Next() {
		var direction models.Direction
		var status models.Status
		var count int
		if err := rows.Scan(&direction, &status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		if counts[direction] == nil {
			counts[direction] = make(map[models.Status]int)
		}
		counts[direction][status] = count
	}
	return counts, rows.Err()
}

// Stats is an aggregate snapshot used by the status surface.
type Stats struct {
	Total       int     `json:"total"`
	Synced      int     `json:"synced"`
	Failed      int     `json:"failed"`
	Duplicates  int     `json:"duplicates"`
	Pending     int     `json:"pending"`
	SuccessRate float64 `json:"success_rate"`
}

// GetStats aggregates record counts across all directions.
func (r *TrackRepository) GetStats() (*Stats, error) {
	counts, err := r.Counts()
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	for _, statuses := range counts {
		for status, count := range statuses {
			stats.Total += count
			switch status {
			case models.StatusSynced:
				stats.Synced += count
			case models.StatusFailed:
				stats.Failed += count
			case models.StatusDuplicate:
				stats.Duplicates += count
			case models.StatusPending:
				stats.Pending += count
			}
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Synced) / float64(stats.Total) * 100
	}
	return stats, nil
}

// sqlIncrement marks a column for a relative "+ 1" update in transition extras.
type sqlIncrement struct{}

// transition validates and applies a status change plus any extra column updates.
func (r *TrackRepository) transition(id string, next models.Status, extra map[string]any) (*models.Track, error) {
	current, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	if err := current.Status.ValidateTransition(next); err != nil {
		return nil, fmt.Errorf("track %s: %w", id, err)
	}

	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{next, now().UTC()}
	for column, value := range extra {
		if _, ok := value.(sqlIncrement); ok {
			sets = append(sets, column+" = "+column+" + 1")
			continue
		}
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	args = append(args, id)

	query := "UPDATE tracks SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	if err := r.exec(query, args...); err != nil {
		return nil, err
	}

	return r.Get(id)
}

func (r *TrackRepository) exec(query string, args ...any) error {
	result, err := r.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update track: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return shared.ErrTrackNotFound
	}
	return nil
}

func (r *TrackRepository) list(query string, args ...any) ([]*models.Track, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	var tracks []*models.Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tracks, nil
}

func (r *TrackRepository) scanOne(row *sql.Row) (*models.Track, error) {
	t, err := scanTrack(row)
	if err == sql.ErrNoRows {
		return nil, shared.ErrTrackNotFound
	}
	return t, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrack(s scanner) (*models.Track, error) {
	var t models.Track
	var syncedAt sql.NullTime

	err := s.Scan(
		&t.ID, &t.Direction, &t.Status, &t.Artist, &t.Title, &t.DurationSeconds, &t.IdentificationMethod,
		&t.TGMessageID, &t.TGFileID, &t.TGFileUniqueID, &t.YTVideoID, &t.SPTrackID,
		&t.FailureReason, &t.RetryCount, &t.MaxRetries, &t.CreatedAt, &t.UpdatedAt, &syncedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan track: %w", err)
	}

	t.SyncedAt = scanNullableTime(syncedAt)
	return &t, nil
}
