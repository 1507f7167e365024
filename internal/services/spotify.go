// Spotify Web API implementation of the adapter contracts
//
// Response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aminsaedi/navaar/internal/models"
	"github.com/aminsaedi/navaar/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"
)

type spotifyExternalIDs struct {
	ISRC string `json:"isrc"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Artists     []SpotifyArtist    `json:"artists"`
	DurationMS  int                `json:"duration_ms"`
	ExternalIDs spotifyExternalIDs `json:"external_ids"`
	URI         string             `json:"uri"`
}

type spotifySearchResponse struct {
	Tracks struct {
		Items []SpotifyTrack `json:"items"`
	} `json:"tracks"`
}

type spotifyPlaylistItem struct {
	Track SpotifyTrack `json:"track"`
}

type spotifyPlaylistPage struct {
	Items []spotifyPlaylistItem `json:"items"`
	Next  *string               `json:"next"`
}

// SpotifyService implements [Adapter] and [Lister] against one configured playlist.
type SpotifyService struct {
	Opts       SpotifyOpts
	httpClient *http.Client
	limiter    *rate.Limiter
}

// SpotifyOpts contains credentials and the mirrored playlist.
type SpotifyOpts struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	RedirectURI  string
	PlaylistID   string
	RateLimit    float64 // requests per second, defaults to 5
}

// NewSpotifyService builds a client whose requests carry an auto-refreshed
// OAuth token derived from the configured refresh token.
func NewSpotifyService(ctx context.Context, opts SpotifyOpts) (*SpotifyService, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client id and secret required", shared.ErrMissingCredentials)
	}
	if opts.RefreshToken == "" {
		return nil, fmt.Errorf("%w: run the spotify auth flow first", shared.ErrNoRefreshToken)
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5.0
	}

	conf := &oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		RedirectURL:  opts.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}

	token := &oauth2.Token{RefreshToken: opts.RefreshToken}

	return &SpotifyService{
		Opts:       opts,
		httpClient: conf.Client(ctx, token),
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
	}, nil
}

// Service returns the service tag.
func (s *SpotifyService) Service() models.Service {
	return models.ServiceSpotify
}

func (s *SpotifyService) doRequest(ctx context.Context, method, endpoint string, body, result any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, spotifyBaseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 4xx responses other than rate limiting will not succeed on retry.
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("%w: spotify API status %d", shared.ErrPermanent, resp.StatusCode)
		}
		return fmt.Errorf("%w: spotify API status %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// Search finds the best catalog match for the given descriptors.
//
// Calls GET /v1/search and prefers an exact normalized title+artist match,
// falling back to the first result.
func (s *SpotifyService) Search(ctx context.Context, d Descriptors) (*Match, error) {
	query := d.Title
	if d.Artist != "" {
		query = fmt.Sprintf("track:%s artist:%s", d.Title, d.Artist)
	}

	endpoint := fmt.Sprintf("/search?q=%s&type=track&limit=5", url.QueryEscape(query))

	var result spotifySearchResponse
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &result); err != nil {
		return nil, err
	}

	if len(result.Tracks.Items) == 0 {
		return nil, fmt.Errorf("%w: %s - %s", shared.ErrNoMatch, d.Artist, d.Title)
	}

	want := shared.NormalizeTrackKey(d.Title, d.Artist)
	best := result.Tracks.Items[0]
	for _, item := range result.Tracks.Items {
		if shared.NormalizeTrackKey(item.Name, spotifyArtistNames(item)) == want {
			best = item
			break
		}
	}

	return spotifyMatch(best), nil
}

// Add appends the matched track to the configured playlist.
//
// Calls POST /v1/playlists/{id}/tracks. The Web API accepts duplicate URIs, so
// membership is checked first and [shared.ErrAlreadyPresent] returned when the
// track is already there.
func (s *SpotifyService) Add(ctx context.Context, m *Match) (string, error) {
	items, err := s.ListCollection(ctx)
	if err != nil {
		return "", err
	}
	for _, item := range items {
		if item.ExternalID == m.ExternalID {
			return "", fmt.Errorf("%w: %s", shared.ErrAlreadyPresent, m.ExternalID)
		}
	}

	body := map[string][]string{
		"uris": {"spotify:track:" + m.ExternalID},
	}

	endpoint := fmt.Sprintf("/playlists/%s/tracks", s.Opts.PlaylistID)
	if err := s.doRequest(ctx, http.MethodPost, endpoint, body, nil); err != nil {
		return "", err
	}

	return m.ExternalID, nil
}

// ListCollection enumerates the configured playlist, following pagination.
func (s *SpotifyService) ListCollection(ctx context.Context) ([]Item, error) {
	var items []Item

	endpoint := fmt.Sprintf("/playlists/%s/tracks?limit=100", s.Opts.PlaylistID)
	for endpoint != "" {
		var page spotifyPlaylistPage
		if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}

		for _, entry := range page.Items {
			if entry.Track.ID == "" {
				continue
			}
			items = append(items, Item{
				ExternalID: entry.Track.ID,
				Descriptors: Descriptors{
					Artist:          spotifyArtistNames(entry.Track),
					Title:           entry.Track.Name,
					DurationSeconds: entry.Track.DurationMS / 1000,
				},
			})
		}

		endpoint = ""
		if page.Next != nil {
			endpoint = strings.TrimPrefix(*page.Next, spotifyBaseURL)
		}
	}

	return items, nil
}

func spotifyMatch(t SpotifyTrack) *Match {
	return &Match{
		ExternalID: t.ID,
		Descriptors: Descriptors{
			Artist:          spotifyArtistNames(t),
			Title:           t.Name,
			DurationSeconds: t.DurationMS / 1000,
		},
	}
}

func spotifyArtistNames(t SpotifyTrack) string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0].Name
}
