package repositories

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aminsaedi/navaar/internal/models"
)

// LogEntry is one row of the append-only audit trail.
type LogEntry struct {
	ID        int64             `json:"id"`
	TrackID   string            `json:"track_id,omitempty"`
	Event     string            `json:"event"`
	Direction models.Direction  `json:"direction,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// SyncLogRepository owns the sync_log table. Entries are only ever appended;
// the core never updates or deletes them.
type SyncLogRepository struct {
	db *sql.DB
}

// NewSyncLogRepository creates a new SyncLogRepository with the given database connection.
func NewSyncLogRepository(db *sql.DB) *SyncLogRepository {
	return &SyncLogRepository{db: db}
}

// Append records an audit event. trackID may be empty for direction-level events.
func (r *SyncLogRepository) Append(event string, trackID string, direction models.Direction, details map[string]string) error {
	encoded := ""
	if len(details) > 0 {
		data, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to encode log details: %w", err)
		}
		encoded = string(data)
	}

	query := `INSERT INTO sync_log (track_id, event, direction, details, created_at) VALUES (?, ?, ?, ?, ?)`
	var tid any
	if trackID != "" {
		tid = trackID
	}
	if _, err := r.db.Exec(query, tid, event, direction, encoded, now().UTC()); err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	return nil
}

// ListForTrack returns the newest entries for one track.
func (r *SyncLogRepository) ListForTrack(trackID string, limit int) ([]LogEntry, error) {
	query := `
		SELECT id, COALESCE(track_id, ''), event, direction, details, created_at
		FROM sync_log WHERE track_id = ? ORDER BY id DESC LIMIT ?
	`
	return r.list(query, trackID, limit)
}

// ListRecent returns the newest entries across all tracks.
func (r *SyncLogRepository) ListRecent(limit int) ([]LogEntry, error) {
	query := `
		SELECT id, COALESCE(track_id, ''), event, direction, details, created_at
		FROM sync_log ORDER BY id DESC LIMIT ?
	`
	return r.list(query, limit)
}

func (r *SyncLogRepository) list(query string, args ...any) ([]LogEntry, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync log: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var entry LogEntry
		var details string
		if err := rows.Scan(&entry.ID, &entry.TrackID, &entry.Event, &entry.Direction, &details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		if details != "" {
			if err := json.Unmarshal([]byte(details), &entry.Details); err != nil {
				return nil, fmt.Errorf("failed to decode log details: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
