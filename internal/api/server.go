// Package api exposes the locating pipeline over HTTP: position and stats
// queries, reader control, finding session lifecycle, and a server-sent
// event stream of live broadcast frames.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wareline-data/tagfind/internal/httputil"
	"github.com/wareline-data/tagfind/internal/rtls"
	"github.com/wareline-data/tagfind/internal/tracking"
	"github.com/wareline-data/tagfind/internal/version"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	orch *tracking.Orchestrator
	hub  *rtls.Hub
	reg  *rtls.ReaderRegistry
}

func NewServer(orch *tracking.Orchestrator, hub *rtls.Hub, reg *rtls.ReaderRegistry) *Server {
	return &Server{
		orch: orch,
		hub:  hub,
		reg:  reg,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/positions", s.listPositions)
	mux.HandleFunc("GET /api/stats", s.showStats)
	mux.HandleFunc("GET /api/readers", s.listReaders)
	mux.HandleFunc("POST /api/readers/{id}/inventory/start", s.startInventory)
	mux.HandleFunc("POST /api/readers/{id}/inventory/stop", s.stopInventory)
	mux.HandleFunc("POST /api/readers/{id}/power", s.setPower)
	mux.HandleFunc("POST /api/finding/start", s.startFinding)
	mux.HandleFunc("POST /api/finding/{id}/stop", s.stopFinding)
	mux.HandleFunc("GET /api/finding/{id}", s.showFinding)
	mux.HandleFunc("GET /api/stream", s.streamEvents)
	mux.HandleFunc("GET /api/track", s.streamTracked)
	mux.HandleFunc("GET /api/version", s.showVersion)
	return mux
}

// errorStatus maps sentinel errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, rtls.ErrTagNotFound),
		errors.Is(err, rtls.ErrReaderNotFound),
		errors.Is(err, rtls.ErrSessionNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) listPositions(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.orch.ActiveTags())
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.orch.Stats())
}

func (s *Server) listReaders(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.reg.List())
}

func (s *Server) startInventory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orch.StartInventory(id); err != nil {
		httputil.WriteJSONError(w, errorStatus(err), err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"reader_id": id, "inventory": "started"})
}

func (s *Server) stopInventory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orch.StopInventory(id); err != nil {
		httputil.WriteJSONError(w, errorStatus(err), err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"reader_id": id, "inventory": "stopped"})
}

type powerRequest struct {
	PowerDBm float64 `json:"power_dbm"`
}

func (s *Server) setPower(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req powerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("bad request body: %v", err))
		return
	}
	if err := s.orch.SetAntennaPower(id, req.PowerDBm); err != nil {
		httputil.WriteJSONError(w, errorStatus(err), err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"reader_id": id, "power_dbm": req.PowerDBm})
}

type findingRequest struct {
	TagID      string `json:"tag_id,omitempty"`
	DocketCode string `json:"docket_code,omitempty"`
}

func (s *Server) startFinding(w http.ResponseWriter, r *http.Request) {
	var req findingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("bad request body: %v", err))
		return
	}
	if req.TagID == "" && req.DocketCode == "" {
		httputil.BadRequest(w, "tag_id or docket_code required")
		return
	}
	session, err := s.orch.StartFinding(r.Context(), req.TagID, req.DocketCode)
	if err != nil {
		httputil.WriteJSONError(w, errorStatus(err), err.Error())
		return
	}
	httputil.WriteJSONOK(w, session.Status())
}

func (s *Server) stopFinding(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orch.StopFinding(id); err != nil {
		httputil.WriteJSONError(w, errorStatus(err), err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"session_id": id, "status": "stopped"})
}

func (s *Server) showFinding(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := s.orch.GetFinding(id)
	if err != nil {
		httputil.WriteJSONError(w, errorStatus(err), err.Error())
		return
	}
	httputil.WriteJSONOK(w, status)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

// streamTracked serves a filtered position feed for the tags named in the
// "tags" query parameter as server-sent events. The backing tracking
// session lives for the duration of the connection.
func (s *Server) streamTracked(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	var tagIDs []string
	for _, id := range strings.Split(r.URL.Query().Get("tags"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			tagIDs = append(tagIDs, id)
		}
	}
	if len(tagIDs) == 0 {
		httputil.BadRequest(w, "tags query parameter required")
		return
	}

	session := s.orch.StartTracking(r.RemoteAddr, tagIDs)
	defer s.orch.StopTracking(session.ID())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case snapshot, ok := <-session.Updates():
			if !ok {
				return
			}
			payload, err := json.Marshal(snapshot)
			if err != nil {
				log.Printf("api: marshal tracked snapshot: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", rtls.TopicPositions, payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// streamEvents serves the live broadcast hub as server-sent events.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)

	// Initial ping establishes the connection.
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				log.Printf("api: marshal broadcast frame: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Topic, payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
