package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/CrMo2001/intelli-vis/pkg/catalog"
	"github.com/CrMo2001/intelli-vis/pkg/pipeline"
	"github.com/go-chi/chi/v5/middleware"
)

// Envelope wraps every /api/query response.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// QueryRequest is the /api/query body. The system state is passed through
// to the classifier untouched.
type QueryRequest struct {
	Query          string             `json:"query"`
	SystemState    json.RawMessage    `json:"vast_system_state,omitempty"`
	MessageHistory []pipeline.Message `json:"message_history,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Envelope{Code: http.StatusBadRequest, Message: "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, Envelope{Code: http.StatusBadRequest, Message: "query is required"})
		return
	}

	log := s.logger.With("request_id", middleware.GetReqID(r.Context()))
	log.Info("api: query received", "query", req.Query)

	result, perr := s.processor.Process(r.Context(), pipeline.Request{
		Query:          req.Query,
		Dataset:        s.dataset,
		SystemState:    req.SystemState,
		MessageHistory: req.MessageHistory,
	})
	if perr != nil {
		log.Warn("api: query failed", "kind", perr.Kind, "error", perr.Message)
		writeJSON(w, http.StatusOK, Envelope{Code: http.StatusInternalServerError, Message: perr.Message, Data: perr})
		return
	}

	if result.ReportPath != "" {
		s.AllowDownload(result.ReportPath)
	}
	writeJSON(w, http.StatusOK, Envelope{Code: http.StatusOK, Message: "success", Data: result})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("file_name")
	if name == "" {
		http.Error(w, "file_name is required", http.StatusBadRequest)
		return
	}
	if !s.downloadAllowed(name) {
		s.logger.Warn("api: download not allowed", "file_name", name)
		http.Error(w, "file not available for download", http.StatusForbidden)
		return
	}

	f, err := os.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		s.logger.Error("api: failed to open download", "file_name", name, "error", err)
		http.Error(w, "failed to open file", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(name)}))
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	http.ServeContent(w, r, filepath.Base(name), info.ModTime(), f)
}

func (s *Server) handleCharts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Charts []catalog.ChartTemplate `json:"charts"`
	}{Charts: s.catalog.Templates()})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
