// package models defines the track record, its status state machine, and the
// fixed set of sync directions between the mirrored services.
package models

import "github.com/aminsaedi/navaar/internal/shared"

// Service identifies one of the external platforms a collection lives on.
type Service string

const (
	ServiceTelegram Service = "telegram"
	ServiceYTMusic  Service = "ytmusic"
	ServiceSpotify  Service = "spotify"
)

// Direction is a fixed tag for one one-way sync path (source -> target).
type Direction string

const (
	TgToYt Direction = "tg_to_yt"
	YtToTg Direction = "yt_to_tg"
	TgToSp Direction = "tg_to_sp"
	SpToTg Direction = "sp_to_tg"
	YtToSp Direction = "yt_to_sp"
	SpToYt Direction = "sp_to_yt"
)

type endpoints struct {
	source Service
	target Service
}

var directionEndpoints = map[Direction]endpoints{
	TgToYt: {ServiceTelegram, ServiceYTMusic},
	YtToTg: {ServiceYTMusic, ServiceTelegram},
	TgToSp: {ServiceTelegram, ServiceSpotify},
	SpToTg: {ServiceSpotify, ServiceTelegram},
	YtToSp: {ServiceYTMusic, ServiceSpotify},
	SpToYt: {ServiceSpotify, ServiceYTMusic},
}

// ParseDirection validates a direction tag.
func ParseDirection(tag string) (Direction, error) {
	d := Direction(tag)
	if _, ok := directionEndpoints[d]; !ok {
		return "", shared.ErrUnknownDirection
	}
	return d, nil
}

// Known reports whether the direction is one of the configured-set tags.
func (d Direction) Known() bool {
	_, ok := directionEndpoints[d]
	return ok
}

// Source returns the service a direction reads from.
func (d Direction) Source() Service {
	return directionEndpoints[d].source
}

// Target returns the service a direction writes to.
func (d Direction) Target() Service {
	return directionEndpoints[d].target
}

func (d Direction) String() string {
	return string(d)
}
