package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/edavis/river/internal/archive"
	"github.com/edavis/river/internal/server/storage"
)

const dayFormat = "2006-01-02"

// UpdatesHandler serves the per-day archive documents.
type UpdatesHandler struct {
	arch *archive.Archive
}

// NewUpdatesHandler creates a new handler instance.
func NewUpdatesHandler(arch *archive.Archive) *UpdatesHandler {
	return &UpdatesHandler{arch: arch}
}

// GetUpdates handles requests for one day's updates, newest first. The
// date parameter defaults to today (UTC); a day with no archive reads as
// an empty collection.
func (h *UpdatesHandler) GetUpdates(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	log.Debug().Msg("Processing updates request")

	if r.Method != http.MethodGet {
		log.Warn().Str("method", r.Method).Msg("Method not allowed")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	day := time.Now().UTC()
	if dateStr := r.URL.Query().Get("date"); dateStr != "" {
		parsed, err := time.Parse(dayFormat, dateStr)
		if err != nil {
			log.Warn().Err(err).Str("date", dateStr).Msg("Invalid 'date' parameter value")
			http.Error(w, "Invalid 'date' parameter: use YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		day = parsed
	}

	updates, err := h.arch.Read(day)
	if err != nil {
		log.Error().Err(err).Str("day", day.Format(dayFormat)).Msg("Error reading archive")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, log, updates)
}

// FeedsHandler serves the per-feed polling status table.
type FeedsHandler struct {
	repo storage.FeedStateRepository
}

// NewFeedsHandler creates a new handler instance. A nil repository
// means state tracking is disabled.
func NewFeedsHandler(repo storage.FeedStateRepository) *FeedsHandler {
	return &FeedsHandler{repo: repo}
}

// GetFeeds handles requests for the polling status of every feed.
func (h *FeedsHandler) GetFeeds(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	log.Debug().Msg("Processing feeds request")

	if r.Method != http.MethodGet {
		log.Warn().Str("method", r.Method).Msg("Method not allowed")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	if h.repo == nil {
		log.Warn().Msg("Feeds request with state tracking disabled")
		http.Error(w, "State tracking disabled", http.StatusServiceUnavailable)
		return
	}

	statuses, err := h.repo.FetchFeedStates(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Error fetching feed states from repository")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, log, statuses)
}

func writeJSON(w http.ResponseWriter, log *zerolog.Logger, payload any) {
	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling JSON response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(jsonBytes); err != nil {
		log.Error().Err(err).Msg("Error writing JSON response body to client")
		return
	}
	log.Debug().Int("bytes_written", len(jsonBytes)).Msg("Response completed")
}
