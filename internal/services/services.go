// package services defines the capability contracts the sync core depends on
// and their concrete clients
//
// Telegram (Bot API), YouTube Music (via ytmusicapi proxy), Spotify (Web API)
package services

import (
	"context"
	"errors"

	"github.com/aminsaedi/navaar/internal/models"
	"github.com/aminsaedi/navaar/internal/shared"
)

// Descriptors carries the content metadata used to find a track on another service.
type Descriptors struct {
	Artist          string
	Title           string
	DurationSeconds int
}

// Match is a track found on a service by a search.
type Match struct {
	ExternalID string
	Descriptors
}

// Item is one entry of a service collection listing.
type Item struct {
	ExternalID string
	Descriptors
}

// Payload is a downloaded audio binary with enough metadata to re-upload it.
type Payload struct {
	Data     []byte
	FileName string
	MIMEType string
}

// Adapter is the capability set a push-shaped direction needs from its target
// service: find a match for known descriptors and add it to the mirrored
// collection.
//
// Search returns [shared.ErrNoMatch] when the service has no plausible match.
// Add returns [shared.ErrAlreadyPresent] when the service reports the item is
// already in the collection.
type Adapter interface {
	Service() models.Service
	Search(ctx context.Context, d Descriptors) (*Match, error)
	Add(ctx context.Context, m *Match) (string, error)
}

// Lister is implemented by adapters whose collection can be enumerated for
// snapshot diffing (pull-capable services).
type Lister interface {
	ListCollection(ctx context.Context) ([]Item, error)
}

// Downloader is implemented by adapters that can hand over an item's audio binary.
type Downloader interface {
	FetchPayload(ctx context.Context, externalID string) (*Payload, error)
}

// Uploader is implemented by adapters whose collection is fed by uploading a
// payload rather than by referencing a catalog entry (Telegram).
type Uploader interface {
	Upload(ctx context.Context, p *Payload, d Descriptors) (string, error)
}

// IsTransient classifies an adapter failure for the retry policy. No-match and
// already-present are outcomes, not failures; anything explicitly marked
// permanent stays failed. Every other error is treated as retryable, which is
// the default when an adapter cannot tell.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, shared.ErrNoMatch) || errors.Is(err, shared.ErrAlreadyPresent) {
		return false
	}
	return !errors.Is(err, shared.ErrPermanent)
}
