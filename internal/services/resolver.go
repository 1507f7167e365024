package services

import (
	"context"
	"fmt"

	"github.com/aminsaedi/navaar/internal/models"
	"github.com/aminsaedi/navaar/internal/shared"
)

// PayloadResolver turns a track record into an uploadable audio payload.
//
// The second return value holds correlation keys learned during resolution
// (the catalog entry the audio was resolved through, when resolution went
// through a search); callers merge them onto the record.
type PayloadResolver interface {
	Resolve(ctx context.Context, t *models.Track) (*Payload, map[models.Service]string, error)
}

// DirectResolver downloads straight from the service the record was
// discovered on (YouTube Music audio for a yt_to_tg record).
type DirectResolver struct {
	Source  Downloader
	Service models.Service
}

// Resolve fetches the payload by the record's own correlation key.
func (r *DirectResolver) Resolve(ctx context.Context, t *models.Track) (*Payload, map[models.Service]string, error) {
	id := t.ExternalID(r.Service)
	if id == "" {
		return nil, nil, fmt.Errorf("%w: record %s has no %s id", shared.ErrPermanent, t.ID, r.Service)
	}

	payload, err := r.Source.FetchPayload(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return payload, nil, nil
}

// SearchResolver obtains audio for records whose own service exposes no
// download (Spotify): it searches a download-capable catalog for the same
// content and fetches that.
type SearchResolver struct {
	Catalog Adapter
	Source  Downloader
}

// Resolve searches the catalog by descriptors, reusing a previously resolved
// catalog id when the record already carries one.
func (r *SearchResolver) Resolve(ctx context.Context, t *models.Track) (*Payload, map[models.Service]string, error) {
	catalogSvc := r.Catalog.Service()
	catalogID := t.ExternalID(catalogSvc)

	if catalogID == "" {
		found, err := r.Catalog.Search(ctx, Descriptors{
			Artist:          t.Artist,
			Title:           t.Title,
			DurationSeconds: t.DurationSeconds,
		})
		if err != nil {
			return nil, nil, err
		}
		catalogID = found.ExternalID
	}

	payload, err := r.Source.FetchPayload(ctx, catalogID)
	if err != nil {
		return nil, nil, err
	}
	return payload, map[models.Service]string{catalogSvc: catalogID}, nil
}
