package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/aminsaedi/navaar/internal/metrics"
	"github.com/aminsaedi/navaar/internal/models"
	"github.com/aminsaedi/navaar/internal/repositories"
	"github.com/aminsaedi/navaar/internal/shared"
	"github.com/aminsaedi/navaar/internal/tasks"
)

// Syncer is the slice of the sync engine the API needs: force a cycle,
// enumerate configured directions and report per-loop stats.
type Syncer interface {
	Trigger(direction models.Direction) error
	AllStats() []tasks.CycleStats
	Directions() []models.Direction
}

// API holds the handlers of the operational endpoints.
type API struct {
	tracks     *repositories.TrackRepository
	state      *repositories.SyncStateRepository
	logbook    *repositories.SyncLogRepository
	engine     Syncer
	sink       *metrics.Sink
	logger     *log.Logger
	maxRetries int
}

// NewAPI builds the API over its collaborators.
func NewAPI(tracks *repositories.TrackRepository, state *repositories.SyncStateRepository, logbook *repositories.SyncLogRepository, engine Syncer, sink *metrics.Sink, logger *log.Logger, maxRetries int) *API {
	return &API{
		tracks:     tracks,
		state:      state,
		logbook:    logbook,
		engine:     engine,
		sink:       sink,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// Register wires every endpoint into the router.
func (a *API) Register(r *Router) {
	r.HandleFunc("GET", "/healthz", a.handleHealth)
	r.Handle("GET", "/metrics", a.sink.Handler())

	r.HandleFunc("GET", "/api/stats", a.handleStats)
	r.HandleFunc("GET", "/api/sync", a.handleSyncState)
	r.HandleFunc("POST", "/api/sync/{direction}", a.handleTrigger)

	r.HandleFunc("GET", "/api/tracks", a.handleListTracks)
	r.HandleFunc("POST", "/api/tracks", a.handleIngest)
	r.HandleFunc("GET", "/api/tracks/{id}", a.handleGetTrack)
	r.HandleFunc("POST", "/api/retry", a.handleRetry)
	r.HandleFunc("GET", "/api/logs", a.handleLogs)
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := a.tracks.GetStats()
	if err != nil {
		a.serverError(w, err)
		return
	}
	counts, err := a.tracks.Counts()
	if err != nil {
		a.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tracks":     stats,
		"by_status":  counts,
		"directions": a.engine.AllStats(),
	})
}

func (a *API) handleSyncState(w http.ResponseWriter, _ *http.Request) {
	type directionState struct {
		Direction models.Direction        `json:"direction"`
		LastCycle *repositories.CycleInfo `json:"last_cycle"`
	}

	out := make([]directionState, 0, len(a.engine.Directions()))
	for _, d := range a.engine.Directions() {
		info, err := a.state.LastCycle(d)
		if err != nil {
			a.serverError(w, err)
			return
		}
		out = append(out, directionState{Direction: d, LastCycle: info})
	}
	writeJSON(w, http.StatusOK, map[string]any{"directions": out})
}

func (a *API) handleTrigger(w http.ResponseWriter, req *http.Request) {
	direction := models.Direction(req.PathValue("direction"))
	if err := a.engine.Trigger(direction); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.logger.Info("sync cycle requested", "direction", direction)
	writeJSON(w, http.StatusAccepted, map[string]any{"triggered": direction})
}

func (a *API) handleListTracks(w http.ResponseWriter, req *http.Request) {
	direction := models.Direction(req.URL.Query().Get("direction"))
	if direction != "" && !direction.Known() {
		writeError(w, http.StatusBadRequest, shared.ErrUnknownDirection)
		return
	}
	status := models.Status(req.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, shared.ErrInvalidInput)
		return
	}

	records, err := a.tracks.ListRecent(direction, status, queryLimit(req, 50))
	if err != nil {
		a.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": trackViews(records)})
}

func (a *API) handleGetTrack(w http.ResponseWriter, req *http.Request) {
	t, err := a.tracks.Get(req.PathValue("id"))
	if err != nil {
		if errors.Is(err, shared.ErrTrackNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		a.serverError(w, err)
		return
	}

	entries, err := a.logbook.ListForTrack(t.ID, 50)
	if err != nil {
		a.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"track": trackView(t),
		"log":   entries,
	})
}

// ingestRequest feeds a new record into a push direction's pending queue.
// This is how Telegram-sourced content enters the system: the channel watcher
// posts what it sees.
type ingestRequest struct {
	Direction      models.Direction `json:"direction"`
	Artist         string           `json:"artist"`
	Title          string           `json:"title"`
	Duration       int              `json:"duration_seconds"`
	TGMessageID    int64            `json:"tg_message_id"`
	TGFileID       string           `json:"tg_file_id"`
	TGFileUniqueID string           `json:"tg_file_unique_id"`
}

func (a *API) handleIngest(w http.ResponseWriter, req *http.Request) {
	var in ingestRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !in.Direction.Known() {
		writeError(w, http.StatusBadRequest, shared.ErrUnknownDirection)
		return
	}

	t := &models.Track{
		Direction:       in.Direction,
		Status:          models.StatusPending,
		Artist:          in.Artist,
		Title:           in.Title,
		DurationSeconds: in.Duration,
		TGMessageID:     in.TGMessageID,
		TGFileID:        in.TGFileID,
		TGFileUniqueID:  in.TGFileUniqueID,
		MaxRetries:      a.maxRetries,
	}

	if keys := t.Keys(); len(keys) > 0 {
		existing, err := a.tracks.ListByCorrelation(in.Direction, keys)
		if err != nil {
			a.serverError(w, err)
			return
		}
		for _, e := range existing {
			if e.Status == models.StatusFailed && e.RetriesExhausted() {
				continue
			}
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": "already tracked",
				"track": trackView(e),
			})
			return
		}
	}

	if err := a.tracks.Create(t); err != nil {
		if errors.Is(err, shared.ErrUnknownDirection) || errors.Is(err, shared.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		a.serverError(w, err)
		return
	}

	a.sink.TracksDiscovered.WithLabelValues(string(in.Direction)).Inc()
	a.logger.Info("track ingested", "track", t.ID, "direction", in.Direction, "title", in.Title)
	if err := a.logbook.Append("track_ingested", t.ID, in.Direction, map[string]string{
		"tg_file_unique_id": in.TGFileUniqueID,
	}); err != nil {
		a.logger.Error("failed to log ingest", "track", t.ID, "error", err)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"track": trackView(t)})
}

// retryRequest requeues failed records: one by id, or every failed record of a
// direction (or of all directions when neither field is set).
type retryRequest struct {
	TrackID      string           `json:"track_id"`
	Direction    models.Direction `json:"direction"`
	ClearRetries bool             `json:"clear_retries"`
}

func (a *API) handleRetry(w http.ResponseWriter, req *http.Request) {
	var in retryRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if in.TrackID != "" {
		t, err := a.tracks.ResetForRetry(in.TrackID, in.ClearRetries)
		if err != nil {
			switch {
			case errors.Is(err, shared.ErrTrackNotFound):
				writeError(w, http.StatusNotFound, err)
			case errors.Is(err, shared.ErrInvalidTransition):
				writeError(w, http.StatusConflict, err)
			default:
				a.serverError(w, err)
			}
			return
		}
		a.logger.Info("track requeued by operator", "track", t.ID)
		writeJSON(w, http.StatusOK, map[string]any{"track": trackView(t)})
		return
	}

	if in.Direction != "" && !in.Direction.Known() {
		writeError(w, http.StatusBadRequest, shared.ErrUnknownDirection)
		return
	}
	reset, err := a.tracks.ResetAllFailed(in.Direction)
	if err != nil {
		a.serverError(w, err)
		return
	}
	a.logger.Info("failed tracks requeued by operator", "direction", in.Direction, "count", reset)
	writeJSON(w, http.StatusOK, map[string]any{"reset": reset})
}

func (a *API) handleLogs(w http.ResponseWriter, req *http.Request) {
	limit := queryLimit(req, 100)
	if trackID := req.URL.Query().Get("track_id"); trackID != "" {
		entries, err := a.logbook.ListForTrack(trackID, limit)
		if err != nil {
			a.serverError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"log": entries})
		return
	}

	entries, err := a.logbook.ListRecent(limit)
	if err != nil {
		a.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"log": entries})
}

func (a *API) serverError(w http.ResponseWriter, err error) {
	a.logger.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, err)
}

func queryLimit(req *http.Request, fallback int) int {
	raw := req.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 500 {
		return fallback
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
