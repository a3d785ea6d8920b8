package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/lvcoi/tubeflow/internal/extract"
	"github.com/lvcoi/tubeflow/internal/history"
	"github.com/lvcoi/tubeflow/internal/logging"
	"github.com/lvcoi/tubeflow/internal/orchestrator"
)

const (
	msgSessionNotFound = "Download session not found or expired"
	defaultHistory     = 50
)

// DownloadRequest is the body of POST /api/download. Format is the legacy
// name of Kind.
type DownloadRequest struct {
	URL       string `json:"url"`
	Kind      string `json:"kind"`
	Format    string `json:"format"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, err.status, err.message)
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if err := extract.ValidateURL(req.URL); err != nil {
		writeJSONError(w, http.StatusBadRequest, extract.UserMessage(err))
		return
	}
	rawKind := req.Kind
	if rawKind == "" {
		rawKind = req.Format
	}
	kind, err := extract.ParseKind(rawKind)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, extract.UserMessage(err))
		return
	}

	s.download(w, r, orchestrator.Request{
		SessionID: strings.TrimSpace(req.SessionID),
		URL:       req.URL,
		Kind:      kind,
		Origin:    orchestrator.OriginPrimary,
	})
}

func (s *Server) handleSecondaryDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sessionId"]
	sess, ok := s.opts.Sessions.Get(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, msgSessionNotFound)
		return
	}

	kind := sess.Kind
	q := r.URL.Query()
	rawKind := q.Get("kind")
	if rawKind == "" {
		rawKind = q.Get("format")
	}
	if rawKind != "" {
		parsed, err := extract.ParseKind(rawKind)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, extract.UserMessage(err))
			return
		}
		kind = parsed
	}

	s.download(w, r, orchestrator.Request{
		SessionID: sess.ID,
		URL:       sess.URL,
		Kind:      kind,
		Origin:    orchestrator.OriginSecondary,
	})
}

// download runs req against the response. Once headers are out a failure
// can only abort the connection.
func (s *Server) download(w http.ResponseWriter, r *http.Request, req orchestrator.Request) {
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	sink := newResponseSink(w)
	res, err := s.opts.Downloader.Run(r.Context(), req, sink)
	if err == nil {
		return
	}
	if r.Context().Err() != nil {
		// Client went away; nothing left to answer.
		return
	}
	if res.Started {
		s.logger.Warn("download failed after response started",
			logging.Session(res.SessionID), logging.Error(err))
		panic(http.ErrAbortHandler)
	}
	writeJSONError(w, statusForCategory(extract.CategoryOf(err)), extract.UserMessage(err))
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, s.opts.Progress.Get(mux.Vars(r)["sessionId"]))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.opts.Sessions.Get(mux.Vars(r)["sessionId"])
	if !ok {
		writeJSONError(w, http.StatusNotFound, msgSessionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	choice := s.opts.Locator.Locate(r.Context())
	encoder := false
	if s.opts.EncoderProbe != nil {
		encoder = s.opts.EncoderProbe.Available(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"backend":           choice.Backend,
		"backend_path":      choice.Path,
		"backend_version":   choice.Version,
		"encoder_available": encoder,
		"active_downloads":  s.opts.Sessions.ActiveCount(),
		"uptime":            time.Since(s.startedAt).Truncate(time.Second).String(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistory
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = parsed
	}
	entries, err := s.opts.History.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Warn("history query failed", logging.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func handleAPINotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error":  "API endpoint not found",
		"method": r.Method,
		"path":   r.URL.Path,
	})
}

// statusForCategory maps a failure category to an HTTP status.
func statusForCategory(cat extract.Category) int {
	switch cat {
	case extract.CategoryInvalidInput, extract.CategoryNoFormat:
		return http.StatusBadRequest
	case extract.CategoryBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
