// Package server exposes the detection engine over HTTP: a WebSocket ingest
// endpoint that streams audio frames in and classification results plus
// transformed audio back out, and JSON query endpoints over the detection
// history.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/attune/internal/observe"
	"github.com/MrWong99/attune/internal/session"
	"github.com/MrWong99/attune/pkg/history"
	"github.com/MrWong99/attune/pkg/types"
)

// defaultDetectionLimit caps /api/detections responses when the client does
// not ask for a specific limit.
const defaultDetectionLimit = 50

// Config holds the server's collaborators. NewSession is required; each
// WebSocket connection gets its own detection session from it.
type Config struct {
	// NewSession builds a fresh, unstarted detection session per connection.
	NewSession func() (*session.Session, error)

	// History backs the query endpoints. Optional; when nil the endpoints
	// respond 503.
	History history.Store

	// SampleRate and Channels describe the PCM frames clients send.
	// Defaults: 44100 Hz, mono.
	SampleRate int
	Channels   int

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Server is the HTTP/WebSocket surface of the detection engine.
type Server struct {
	cfg Config
	log *slog.Logger
}

// New creates a server. Returns an error when the session factory is missing.
func New(cfg Config) (*Server, error) {
	if cfg.NewSession == nil {
		return nil, fmt.Errorf("server: session factory is required")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{cfg: cfg, log: cfg.Logger}, nil
}

// Routes registers the server's endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/detect", s.handleDetect)
	mux.HandleFunc("GET /api/detections", s.handleDetections)
	mux.HandleFunc("POST /api/similar", s.handleSimilar)
}

// Handler returns the full handler with observability middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Routes(mux)
	if s.cfg.Metrics != nil {
		return observe.Middleware(s.cfg.Metrics)(mux)
	}
	return mux
}

// --- Query endpoints ---

// handleDetections serves recent detection history. Filters: label, person,
// cluster, since (RFC 3339), limit.
func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		httpError(w, http.StatusServiceUnavailable, "detection history not configured")
		return
	}

	q := r.URL.Query()
	opts := history.QueryOpts{
		LabelName: q.Get("label"),
		PersonID:  q.Get("person"),
		ClusterID: q.Get("cluster"),
		Limit:     defaultDetectionLimit,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httpError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		opts.After = ts
	}

	events, err := s.cfg.History.Recent(r.Context(), opts)
	if err != nil {
		s.log.Error("detection history query failed", "error", err)
		httpError(w, http.StatusInternalServerError, "history query failed")
		return
	}

	out := make([]detectionJSON, len(events))
	for i, ev := range events {
		out[i] = toDetectionJSON(ev)
	}
	writeJSON(w, http.StatusOK, map[string]any{"detections": out})
}

// similarRequest is the body of POST /api/similar.
type similarRequest struct {
	Features []float64 `json:"features"`
	TopK     int       `json:"top_k"`
}

// handleSimilar finds past detections acoustically closest to a feature vector.
func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		httpError(w, http.StatusServiceUnavailable, "detection history not configured")
		return
	}

	var req similarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Features) == 0 {
		httpError(w, http.StatusBadRequest, "features are required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}

	matches, err := s.cfg.History.Similar(r.Context(), types.FeatureVector(req.Features), req.TopK)
	if err != nil {
		s.log.Error("similarity query failed", "error", err)
		httpError(w, http.StatusInternalServerError, "similarity query failed")
		return
	}

	type matchJSON struct {
		Detection detectionJSON `json:"detection"`
		Distance  float64       `json:"distance"`
	}
	out := make([]matchJSON, len(matches))
	for i, m := range matches {
		out[i] = matchJSON{Detection: toDetectionJSON(m.Event), Distance: m.Distance}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": out})
}

// detectionJSON is the wire shape of one stored detection. Raw audio and
// feature vectors stay server-side.
type detectionJSON struct {
	ID            int64   `json:"id"`
	Timestamp     string  `json:"timestamp"`
	Label         string  `json:"label,omitempty"`
	PersonID      string  `json:"person_id,omitempty"`
	Confidence    float64 `json:"confidence"`
	ClusterID     string  `json:"cluster_id,omitempty"`
	FrequencyHz   float64 `json:"frequency_hz,omitempty"`
	DurationMs    float64 `json:"duration_ms,omitempty"`
	Transcription string  `json:"transcription,omitempty"`
}

func toDetectionJSON(ev types.DetectionEvent) detectionJSON {
	return detectionJSON{
		ID:            ev.ID,
		Timestamp:     ev.Timestamp.UTC().Format(time.RFC3339Nano),
		Label:         ev.LabelName,
		PersonID:      ev.PersonID,
		Confidence:    ev.Confidence,
		ClusterID:     ev.ClusterID,
		FrequencyHz:   ev.FrequencyHz,
		DurationMs:    ev.DurationMs,
		Transcription: ev.Transcription,
	}
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		slog.Debug("response encode failed", "error", err)
	}
}
