package models

import (
	"errors"
	"testing"

	"github.com/aminsaedi/navaar/internal/shared"
)

func TestDirection(t *testing.T) {
	t.Run("ParseDirection accepts every known tag", func(t *testing.T) {
		for _, tag := range []string{"tg_to_yt", "yt_to_tg", "tg_to_sp", "sp_to_tg", "yt_to_sp", "sp_to_yt"} {
			d, err := ParseDirection(tag)
			if err != nil {
				t.Fatalf("ParseDirection(%q) failed: %v", tag, err)
			}
			if string(d) != tag {
				t.Errorf("expected %q, got %q", tag, d)
			}
		}
	})

	t.Run("ParseDirection rejects unknown tags", func(t *testing.T) {
		if _, err := ParseDirection("yt_to_yt"); !errors.Is(err, shared.ErrUnknownDirection) {
			t.Errorf("expected ErrUnknownDirection, got %v", err)
		}
		if _, err := ParseDirection(""); !errors.Is(err, shared.ErrUnknownDirection) {
			t.Errorf("expected ErrUnknownDirection, got %v", err)
		}
	})

	t.Run("endpoints", func(t *testing.T) {
		cases := []struct {
			direction Direction
			source    Service
			target    Service
		}{
			{TgToYt, ServiceTelegram, ServiceYTMusic},
			{YtToTg, ServiceYTMusic, ServiceTelegram},
			{TgToSp, ServiceTelegram, ServiceSpotify},
			{SpToTg, ServiceSpotify, ServiceTelegram},
			{YtToSp, ServiceYTMusic, ServiceSpotify},
			{SpToYt, ServiceSpotify, ServiceYTMusic},
		}
		for _, c := range cases {
			if c.direction.Source() != c.source {
				t.Errorf("%s: expected source %s, got %s", c.direction, c.source, c.direction.Source())
			}
			if c.direction.Target() != c.target {
				t.Errorf("%s: expected target %s, got %s", c.direction, c.target, c.direction.Target())
			}
		}
	})
}

func TestStatusTransitions(t *testing.T) {
	t.Run("happy path is valid end to end", func(t *testing.T) {
		path := []Status{StatusPending, StatusIdentifying, StatusSearching, StatusSyncing, StatusSynced}
		for i := 0; i < len(path)-1; i++ {
			if err := path[i].ValidateTransition(path[i+1]); err != nil {
				t.Errorf("%s -> %s should be valid: %v", path[i], path[i+1], err)
			}
		}
	})

	t.Run("identification can be skipped", func(t *testing.T) {
		if err := StatusPending.ValidateTransition(StatusSyncing); err != nil {
			t.Errorf("pending -> syncing should be valid for pre-identified records: %v", err)
		}
	})

	t.Run("failed can only go back to pending", func(t *testing.T) {
		if err := StatusFailed.ValidateTransition(StatusPending); err != nil {
			t.Errorf("failed -> pending should be valid: %v", err)
		}
		for _, next := range []Status{StatusSynced, StatusSyncing, StatusSearching, StatusDuplicate, StatusFailed} {
			if err := StatusFailed.ValidateTransition(next); !errors.Is(err, shared.ErrInvalidTransition) {
				t.Errorf("failed -> %s should be invalid, got %v", next, err)
			}
		}
	})

	t.Run("terminal success states have no exits", func(t *testing.T) {
		for _, from := range []Status{StatusSynced, StatusDuplicate} {
			if !from.Terminal() {
				t.Errorf("%s should be terminal", from)
			}
			for _, next := range []Status{StatusPending, StatusSyncing, StatusFailed, StatusSynced, StatusDuplicate} {
				if err := from.ValidateTransition(next); !errors.Is(err, shared.ErrInvalidTransition) {
					t.Errorf("%s -> %s should be invalid, got %v", from, next, err)
				}
			}
		}
	})

	t.Run("no backward movement in the forward chain", func(t *testing.T) {
		if err := StatusSearching.ValidateTransition(StatusIdentifying); !errors.Is(err, shared.ErrInvalidTransition) {
			t.Errorf("searching -> identifying should be invalid, got %v", err)
		}
		if err := StatusSyncing.ValidateTransition(StatusPending); !errors.Is(err, shared.ErrInvalidTransition) {
			t.Errorf("syncing -> pending should be invalid, got %v", err)
		}
	})
}

func TestTrack(t *testing.T) {
	t.Run("Identified requires a title", func(t *testing.T) {
		track := &Track{Artist: "Artist"}
		if track.Identified() {
			t.Error("artist alone should not count as identified")
		}
		track.Title = "Title"
		if !track.Identified() {
			t.Error("a titled track should count as identified")
		}
	})

	t.Run("Keys only reports known services", func(t *testing.T) {
		track := &Track{TGFileUniqueID: "fu1", YTVideoID: "vid1"}
		keys := track.Keys()
		if len(keys) != 2 {
			t.Fatalf("expected 2 keys, got %d", len(keys))
		}
		if keys[ServiceTelegram] != "fu1" || keys[ServiceYTMusic] != "vid1" {
			t.Errorf("unexpected keys: %v", keys)
		}
		if _, ok := keys[ServiceSpotify]; ok {
			t.Error("spotify key should be absent")
		}
	})

	t.Run("RetriesExhausted", func(t *testing.T) {
		track := &Track{RetryCount: 2, MaxRetries: 3}
		if track.RetriesExhausted() {
			t.Error("2 of 3 retries should not be exhausted")
		}
		track.RetryCount = 3
		if !track.RetriesExhausted() {
			t.Error("3 of 3 retries should be exhausted")
		}
	})
}
