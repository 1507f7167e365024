package models

import "time"

// Track is one persisted sync record: a single piece of content traveling one
// direction. The same content appearing on several directions is several
// records correlated through the external-id columns.
type Track struct {
	ID        string
	Direction Direction
	Status    Status

	Artist               string
	Title                string
	DurationSeconds      int
	IdentificationMethod string

	// Correlation keys, one slot per external service the track is known to
	// touch. Not unique at the storage layer: fan-out legitimately creates
	// several records sharing a key across different directions.
	TGMessageID    int64
	TGFileID       string
	TGFileUniqueID string
	YTVideoID      string
	SPTrackID      string

	FailureReason string
	RetryCount    int
	MaxRetries    int

	CreatedAt time.Time
	UpdatedAt time.Time
	SyncedAt  *time.Time
}

// Identified reports whether the record carries enough descriptors for a
// match search. Artist alone is not enough; title alone is.
func (t *Track) Identified() bool {
	return t.Title != ""
}

// RetriesExhausted reports whether the retry ceiling has been reached.
func (t *Track) RetriesExhausted() bool {
	return t.RetryCount >= t.MaxRetries
}

// ExternalID returns the correlation key the record holds for the given
// service, or "" when the track is not yet known there. The Telegram key is
// the file unique id (stable across re-uploads), not the message id.
func (t *Track) ExternalID(svc Service) string {
	switch svc {
	case ServiceTelegram:
		return t.TGFileUniqueID
	case ServiceYTMusic:
		return t.YTVideoID
	case ServiceSpotify:
		return t.SPTrackID
	}
	return ""
}

// Keys returns every correlation key the record currently holds, keyed by service.
func (t *Track) Keys() map[Service]string {
	keys := make(map[Service]string, 3)
	for _, svc := range []Service{ServiceTelegram, ServiceYTMusic, ServiceSpotify} {
		if id := t.ExternalID(svc); id != "" {
			keys[svc] = id
		}
	}
	return keys
}
