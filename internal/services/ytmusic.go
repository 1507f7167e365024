// YouTube Music implementation of the adapter contracts
//
// Communicates with a ytmusicapi FastAPI sidecar; YouTube Music has no public
// write API, so search, playlist edits and audio downloads all go through the
// proxy.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/aminsaedi/navaar/internal/models"
	"github.com/aminsaedi/navaar/internal/shared"
)

const defaultYTBaseURL = "http://localhost:8000"

// YouTubeArtist represents an artist in YouTube Music responses.
type YouTubeArtist struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// YouTubeTrack represents a track/video in YouTube Music responses.
type YouTubeTrack struct {
	VideoID     string          `json:"videoId"`
	Title       string          `json:"title"`
	Artists     []YouTubeArtist `json:"artists"`
	DurationSec int             `json:"duration_seconds"`
	SetVideoID  string          `json:"setVideoId,omitempty"`
}

type youtubePlaylist struct {
	ID     string         `json:"id"`
	Title  string         `json:"title"`
	Tracks []YouTubeTrack `json:"tracks"`
}

// YTMusicService implements [Adapter], [Lister] and [Downloader] against one
// configured playlist on the proxy.
type YTMusicService struct {
	baseURL    string
	authFile   string
	playlistID string
	httpClient *http.Client
}

// NewYTMusicService creates a new YouTube Music service instance.
func NewYTMusicService(baseURL, authFile, playlistID string) *YTMusicService {
	if baseURL == "" {
		baseURL = defaultYTBaseURL
	}

	return &YTMusicService{
		baseURL:    baseURL,
		authFile:   authFile,
		playlistID: playlistID,
		httpClient: http.DefaultClient,
	}
}

// Service returns the service tag.
func (y *YTMusicService) Service() models.Service {
	return models.ServiceYTMusic
}

func (y *YTMusicService) doRequest(ctx context.Context, method, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, y.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if y.authFile != "" {
		req.Header.Set("X-Auth-File", y.authFile)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("%w: youtube music proxy: %w", shared.ErrAPIRequest, &statusError{code: resp.StatusCode, detail: errResp.Detail})
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// Search finds the best match for the given descriptors.
//
// Calls GET /api/search on the proxy; the proxy already ranks song results, so
// the first entry wins unless an exact normalized match appears later.
func (y *YTMusicService) Search(ctx context.Context, d Descriptors) (*Match, error) {
	query := d.Title
	if d.Artist != "" {
		query = d.Artist + " " + d.Title
	}

	var results []YouTubeTrack
	endpoint := fmt.Sprintf("/api/search?q=%s&filter=songs&limit=5", url.QueryEscape(query))
	if err := y.doRequest(ctx, http.MethodGet, endpoint, &results); err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("%w: %s - %s", shared.ErrNoMatch, d.Artist, d.Title)
	}

	want := shared.NormalizeTrackKey(d.Title, d.Artist)
	best := results[0]
	for _, track := range results {
		if shared.NormalizeTrackKey(track.Title, youtubeArtistName(track)) == want {
			best = track
			break
		}
	}

	return youtubeMatch(best), nil
}

// Add inserts the matched video into the configured playlist.
//
// Calls POST /api/playlists/{id}/tracks/{videoId}; the proxy reports an
// already-present video with HTTP 409.
func (y *YTMusicService) Add(ctx context.Context, m *Match) (string, error) {
	endpoint := fmt.Sprintf("/api/playlists/%s/tracks/%s", y.playlistID, m.ExternalID)
	err := y.doRequest(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		if httpStatusIs(err, http.StatusConflict) {
			return "", fmt.Errorf("%w: %s", shared.ErrAlreadyPresent, m.ExternalID)
		}
		return "", err
	}
	return m.ExternalID, nil
}

// ListCollection enumerates the configured playlist's current contents.
func (y *YTMusicService) ListCollection(ctx context.Context) ([]Item, error) {
	var playlist youtubePlaylist
	endpoint := fmt.Sprintf("/api/playlists/%s", y.playlistID)
	if err := y.doRequest(ctx, http.MethodGet, endpoint, &playlist); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(playlist.Tracks))
	for _, track := range playlist.Tracks {
		if track.VideoID == "" {
			continue
		}
		items = append(items, Item{
			ExternalID: track.VideoID,
			Descriptors: Descriptors{
				Artist:          youtubeArtistName(track),
				Title:           track.Title,
				DurationSeconds: track.DurationSec,
			},
		})
	}

	return items, nil
}

// FetchPayload downloads a video's audio via the proxy's yt-dlp endpoint.
func (y *YTMusicService) FetchPayload(ctx context.Context, externalID string) (*Payload, error) {
	endpoint := fmt.Sprintf("/api/download/%s", url.PathEscape(externalID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if y.authFile != "" {
		req.Header.Set("X-Auth-File", y.authFile)
	}

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: download status %d for %s", shared.ErrAPIRequest, resp.StatusCode, externalID)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio payload: %w", err)
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "audio/mp4"
	}

	return &Payload{
		Data:     data,
		FileName: externalID + ".m4a",
		MIMEType: mime,
	}, nil
}

// statusError preserves the proxy's HTTP status so callers can react to
// specific codes (409 means the playlist already holds the video).
type statusError struct {
	code   int
	detail string
}

func (e *statusError) Error() string {
	if e.detail != "" {
		return fmt.Sprintf("status %d: %s", e.code, e.detail)
	}
	return fmt.Sprintf("status %d", e.code)
}

func httpStatusIs(err error, code int) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == code
}

func youtubeMatch(t YouTubeTrack) *Match {
	return &Match{
		ExternalID: t.VideoID,
		Descriptors: Descriptors{
			Artist:          youtubeArtistName(t),
			Title:           t.Title,
			DurationSeconds: t.DurationSec,
		},
	}
}

func youtubeArtistName(t YouTubeTrack) string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0].Name
}
