package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gns-pkulkarni/chatbot-saas/internal/chat"
	"github.com/gns-pkulkarni/chatbot-saas/internal/entitlement"
	"github.com/gns-pkulkarni/chatbot-saas/internal/ingest"
	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
	"github.com/gns-pkulkarni/chatbot-saas/internal/search"
	"github.com/gns-pkulkarni/chatbot-saas/internal/storage"
)

type createSourceRequest struct {
	Name      string            `json:"name"`
	Kind      models.SourceKind `json:"kind"`
	SourceURL string            `json:"source_url"`
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	req := &models.IngestRequest{TenantID: tenantFrom(r)}
	if isMultipart(r) {
		files, err := s.readUploads(w, r)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Name = r.FormValue("name")
		req.Kind = models.SourceKind(r.FormValue("kind"))
		req.SourceURL = r.FormValue("source_url")
		req.Files = files
		if req.Kind == "" {
			req.Kind = models.SourceKindDocument
		}
		if req.Name == "" && len(files) > 0 {
			req.Name = files[0].Filename
		}
	} else {
		var body createSourceRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Name, req.Kind, req.SourceURL = body.Name, body.Kind, body.SourceURL
		if req.Kind == "" {
			req.Kind = models.SourceKindURL
		}
	}

	s.logger.Debug("create source request",
		zap.String("tenant", req.TenantID), zap.String("kind", string(req.Kind)), zap.Int("files", len(req.Files)))
	resp, err := s.sources.Submit(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, "create source", err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.sources.List(r.Context(), tenantFrom(r))
	if err != nil {
		s.respondServiceError(w, "list sources", err)
		return
	}
	if sources == nil {
		sources = []*models.KnowledgeSource{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"sources": sources})
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.sources.Get(r.Context(), tenantFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondServiceError(w, "get source", err)
		return
	}
	s.respondJSON(w, http.StatusOK, src)
}

func (s *Server) handleReingestSource(w http.ResponseWriter, r *http.Request) {
	var files []models.Upload
	if isMultipart(r) {
		var err error
		if files, err = s.readUploads(w, r); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	id := chi.URLParam(r, "id")
	s.logger.Debug("reingest source request", zap.String("tenant", tenantFrom(r)), zap.String("id", id))
	resp, err := s.sources.Reingest(r.Context(), tenantFrom(r), id, files)
	if err != nil {
		s.respondServiceError(w, "reingest source", err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete source request", zap.String("tenant", tenantFrom(r)), zap.String("id", id))
	if err := s.sources.Delete(r.Context(), tenantFrom(r), id); err != nil {
		s.respondServiceError(w, "delete source", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := &models.SearchQuery{
		TenantID:     tenantFrom(r),
		Query:        q.Get("q"),
		FuzzyEnabled: q.Get("fuzzy") == "true",
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		query.Limit = n
	}
	if v := q.Get("min_score"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid min_score")
			return
		}
		query.MinScore = f
	}
	switch q.Get("mode") {
	case "", "keyword":
		query.KeywordEnabled = true
	case "semantic":
		query.SemanticEnabled = true
	case "hybrid":
		query.KeywordEnabled, query.SemanticEnabled = true, true
	default:
		s.respondError(w, http.StatusBadRequest, "mode must be keyword, semantic or hybrid")
		return
	}

	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("limit", query.Limit))
	response, err := s.engine.Search(r.Context(), query)
	if err != nil {
		s.respondServiceError(w, "search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.TenantID = tenantFrom(r)
	resp, err := s.chat.Ask(r.Context(), &req)
	if err != nil {
		s.respondServiceError(w, "chat", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	records, err := s.chat.History(r.Context(), tenantFrom(r), limit)
	if err != nil {
		s.respondServiceError(w, "chat history", err)
		return
	}
	if records == nil {
		records = []*models.QueryRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// tenantStats counts the caller's own sources. Deployment-wide numbers are only exposed through
// the direct-mode status command.
type tenantStats struct {
	Sources        int `json:"sources"`
	ActiveSources  int `json:"active_sources"`
	PendingSources int `json:"pending_sources"`
	FailedSources  int `json:"failed_sources"`
	Chunks         int `json:"chunks"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	sources, err := s.sources.List(r.Context(), tenant)
	if err != nil {
		s.respondServiceError(w, "status", err)
		return
	}
	var stats tenantStats
	for _, src := range sources {
		stats.Sources++
		switch src.Status {
		case models.StatusActive:
			stats.ActiveSources++
			stats.Chunks += src.ChunkCount
		case models.StatusPending:
			stats.PendingSources++
		case models.StatusFailed:
			stats.FailedSources++
		}
	}
	resp := map[string]interface{}{"tenant": tenant, "sources": stats}
	if s.config != nil {
		resp["config"] = map[string]interface{}{
			"embedding_model": s.config.Embedding.Model,
			"chat_model":      s.config.Generation.Model,
			"chunk_size":      s.config.Chunking.Size,
			"chunk_overlap":   s.config.Chunking.Overlap,
			"top_k":           s.config.Retrieval.TopK,
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && strings.HasPrefix(mediaType, "multipart/")
}

// readUploads parses a multipart body bounded by the configured upload limit and returns the
// "file" parts.
func (s *Server) readUploads(w http.ResponseWriter, r *http.Request) ([]models.Upload, error) {
	maxBytes := int64(32 << 20)
	if s.config != nil && s.config.Server.MaxUploadBytes > 0 {
		maxBytes = s.config.Server.MaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return nil, fmt.Errorf("invalid multipart body: %w", err)
	}
	var uploads []models.Upload
	for _, fh := range r.MultipartForm.File["file"] {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
		}
		uploads = append(uploads, models.Upload{Filename: fh.Filename, Content: content})
	}
	return uploads, nil
}

// respondServiceError maps service errors to status codes. Unexpected errors are logged and
// hidden from the caller.
func (s *Server) respondServiceError(w http.ResponseWriter, op string, err error) {
	var denied *entitlement.DeniedError
	switch {
	case errors.As(err, &denied):
		s.respondJSON(w, http.StatusForbidden, map[string]string{
			"error":   "upgrade_required",
			"reason":  string(denied.Reason),
			"message": denied.Message,
		})
	case errors.Is(err, ingest.ErrInvalidRequest),
		errors.Is(err, chat.ErrInvalidQuery),
		errors.Is(err, search.ErrInvalidQuery):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "source not found")
	case errors.Is(err, ingest.ErrIngestionInProgress):
		s.respondError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
