package server

import (
	"time"

	"github.com/aminsaedi/navaar/internal/models"
)

// TrackView is the JSON shape a track record takes on the wire.
type TrackView struct {
	ID        string           `json:"id"`
	Direction models.Direction `json:"direction"`
	Status    models.Status    `json:"status"`

	Artist               string `json:"artist,omitempty"`
	Title                string `json:"title,omitempty"`
	DurationSeconds      int    `json:"duration_seconds,omitempty"`
	IdentificationMethod string `json:"identification_method,omitempty"`

	TGMessageID    int64  `json:"tg_message_id,omitempty"`
	TGFileUniqueID string `json:"tg_file_unique_id,omitempty"`
	YTVideoID      string `json:"yt_video_id,omitempty"`
	SPTrackID      string `json:"sp_track_id,omitempty"`

	FailureReason string `json:"failure_reason,omitempty"`
	RetryCount    int    `json:"retry_count"`
	MaxRetries    int    `json:"max_retries"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	SyncedAt  *time.Time `json:"synced_at,omitempty"`
}

func trackView(t *models.Track) TrackView {
	return TrackView{
		ID:                   t.ID,
		Direction:            t.Direction,
		Status:               t.Status,
		Artist:               t.Artist,
		Title:                t.Title,
		DurationSeconds:      t.DurationSeconds,
		IdentificationMethod: t.IdentificationMethod,
		TGMessageID:          t.TGMessageID,
		TGFileUniqueID:       t.TGFileUniqueID,
		YTVideoID:            t.YTVideoID,
		SPTrackID:            t.SPTrackID,
		FailureReason:        t.FailureReason,
		RetryCount:           t.RetryCount,
		MaxRetries:           t.MaxRetries,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
		SyncedAt:             t.SyncedAt,
	}
}

func trackViews(records []*models.Track) []TrackView {
	views := make([]TrackView, 0, len(records))
	for _, t := range records {
		views = append(views, trackView(t))
	}
	return views
}
