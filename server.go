package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"parusdata/agent"
	"parusdata/database"
)

// maxUploadBytes bounds dataset uploads; everything past this is rejected
// before parsing.
const maxUploadBytes = 64 << 20

// Server is the HTTP front of the service.
type Server struct {
	workflow *agent.Workflow
	ingestor *agent.Ingestor
	metadata *database.MetadataService
	logger   func(string)
}

// NewServer wires the handlers.
func NewServer(workflow *agent.Workflow, ingestor *agent.Ingestor, metadata *database.MetadataService, logger func(string)) *Server {
	if logger == nil {
		logger = func(string) {}
	}
	return &Server{workflow: workflow, ingestor: ingestor, metadata: metadata, logger: logger}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/healthz", s.handleHealth)
	r.Post("/api/ask", s.handleAsk)
	r.Post("/api/upload", s.handleUpload)
	r.Get("/api/datasets", s.handleDatasets)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type askRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	resp := s.workflow.Run(r.Context(), req.Question, req.SessionID)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	entry, err := s.ingestor.Ingest(r.Context(), header.Filename, data)
	if err != nil {
		s.logger(fmt.Sprintf("[HTTP] Upload of %s failed: %v", header.Filename, err))
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	entries, err := s.metadata.Recent(r.Context(), 50)
	if err != nil {
		s.logger(fmt.Sprintf("[HTTP] Dataset listing failed: %v", err))
		writeError(w, http.StatusInternalServerError, "failed to list datasets")
		return
	}
	if entries == nil {
		entries = []database.DatasetEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
