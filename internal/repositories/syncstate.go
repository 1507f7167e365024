package repositories

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aminsaedi/navaar/internal/models"
)

// SyncStateRepository owns the sync_state key-value table: remote collection
// snapshots for pull-shaped directions and last-cycle bookkeeping for all of
// them. Values are JSON.
type SyncStateRepository struct {
	db *sql.DB
}

// NewSyncStateRepository creates a new SyncStateRepository with the given database connection.
func NewSyncStateRepository(db *sql.DB) *SyncStateRepository {
	return &SyncStateRepository{db: db}
}

// Get returns the raw value for a key, with found=false when the key has never been written.
func (r *SyncStateRepository) Get(key string) (string, bool, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM sync_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read sync state: %w", err)
	}
	return value, true, nil
}

// Set upserts the value for a key.
func (r *SyncStateRepository) Set(key, value string) error {
	query := `
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := r.db.Exec(query, key, value, now().UTC()); err != nil {
		return fmt.Errorf("failed to write sync state: %w", err)
	}
	return nil
}

func snapshotKey(d models.Direction) string {
	return "snapshot:" + string(d)
}

func lastCycleKey(d models.Direction) string {
	return "last_cycle:" + string(d)
}

// Snapshot loads the remote-collection snapshot for a pull direction. A
// direction that has never completed a cycle gets an empty set, which callers
// must treat as "everything currently present is new".
func (r *SyncStateRepository) Snapshot(d models.Direction) (map[string]bool, error) {
	raw, found, err := r.Get(snapshotKey(d))
	if err != nil {
		return nil, err
	}

	snapshot := make(map[string]bool)
	if !found {
		return snapshot, nil
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for %s: %w", d, err)
	}
	for _, id := range ids {
		snapshot[id] = true
	}
	return snapshot, nil
}

// SetSnapshot overwrites the snapshot wholesale with the full current listing.
func (r *SyncStateRepository) SetSnapshot(d models.Direction, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return r.Set(snapshotKey(d), string(data))
}

// CycleInfo is the persisted record of a direction's last completed cycle.
type CycleInfo struct {
	At        time.Time     `json:"at"`
	Duration  time.Duration `json:"duration"`
	Processed int           `json:"processed"`
}

// LastCycle loads the last-cycle record for a direction.
func (r *SyncStateRepository) LastCycle(d models.Direction) (*CycleInfo, error) {
	raw, found, err := r.Get(lastCycleKey(d))
	if err != nil || !found {
		return nil, err
	}

	var info CycleInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("failed to decode cycle info for %s: %w", d, err)
	}
	return &info, nil
}

// SetLastCycle stores the last-cycle record for a direction.
func (r *SyncStateRepository) SetLastCycle(d models.Direction, info CycleInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode cycle info: %w", err)
	}
	return r.Set(lastCycleKey(d), string(data))
}
