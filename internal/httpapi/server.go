package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/nexusvault/internal/catalog"
)

type ServerConfig struct {
	MaxBodyBytes int64
	CORSOrigin   string
	// AuthToken, when set, must be presented as a bearer token on /api routes.
	AuthToken string
	Logger    *zerolog.Logger
}

type Server struct {
	store   *catalog.Store
	cfg     ServerConfig
	log     zerolog.Logger
	router  *mux.Router
	metrics *metrics
}

func NewServer(store *catalog.Store) *Server {
	return NewServerWithConfig(store, ServerConfig{})
}

func NewServerWithConfig(store *catalog.Store, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 32 << 20
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	s := &Server{
		store:   store,
		cfg:     cfg,
		log:     logger.With().Str("component", "httpapi").Logger(),
		metrics: newMetrics(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireAuth)
	api.HandleFunc("/feed", s.handleFeed).Methods(http.MethodGet)
	api.HandleFunc("/state", s.handleGetState).Methods(http.MethodGet)
	api.HandleFunc("/state", s.handleSaveState).Methods(http.MethodPost)
	api.HandleFunc("/items", s.handleListItems).Methods(http.MethodGet)
	api.HandleFunc("/items", s.handleCreateItem).Methods(http.MethodPost)
	api.HandleFunc("/items/toggle-category", s.handleToggleCategory).Methods(http.MethodPost)
	api.HandleFunc("/items/{id}", s.handleUpdateItem).Methods(http.MethodPut)
	api.HandleFunc("/items/{id}", s.handleDeleteItem).Methods(http.MethodDelete)
	api.HandleFunc("/items/{id}/remove-category", s.handleRemoveCategoryFromItem).Methods(http.MethodPut)
	api.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/categories", s.handleCreateCategory).Methods(http.MethodPost)
	api.HandleFunc("/categories/{id}", s.handleUpdateCategory).Methods(http.MethodPut)
	api.HandleFunc("/categories/{id}", s.handleDeleteCategory).Methods(http.MethodDelete)
	api.HandleFunc("/batch/add-tags", s.handleBatchAddTags).Methods(http.MethodPost)
	api.HandleFunc("/batch/edit", s.handleBatchEdit).Methods(http.MethodPost)
	api.HandleFunc("/batch/delete", s.handleBatchDelete).Methods(http.MethodPost)
	api.HandleFunc("/batch/remove-categories", s.handleBatchRemoveCategories).Methods(http.MethodPost)
	api.HandleFunc("/versions", s.handleListVersions).Methods(http.MethodGet)
	api.HandleFunc("/versions", s.handleCreateVersion).Methods(http.MethodPost)
	api.HandleFunc("/versions/{id}", s.handleDeleteVersion).Methods(http.MethodDelete)
	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleUpdateSettings).Methods(http.MethodPut)
	api.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/import", s.handleImport).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", getCorrelationID(r))
	})
	return r
}

// ServeHTTP adds CORS headers and a correlation id to every response, answers
// preflight requests, and records the request line.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	correlationID := r.Header.Get("X-Correlation-Id")
	if correlationID == "" {
		correlationID = "corr_" + uuid.NewString()
		r.Header.Set("X-Correlation-Id", correlationID)
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", s.cfg.CORSOrigin)
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Correlation-Id")
	h.Set("X-Correlation-Id", correlationID)

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	if r.Method == http.MethodOptions {
		rec.WriteHeader(http.StatusOK)
	} else {
		s.router.ServeHTTP(rec, r)
	}

	route := "unmatched"
	var match mux.RouteMatch
	if s.router.Match(r, &match) && match.Route != nil {
		if tmpl, err := match.Route.GetPathTemplate(); err == nil {
			route = tmpl
		}
	}
	elapsed := time.Since(started)
	s.metrics.observeRequest(r.Method, route, rec.status, elapsed)
	s.log.Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", rec.status).
		Dur("duration", elapsed).
		Str("correlationId", correlationID).
		Msg("request")
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Nexus Vault API Server"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	state, err := s.store.FetchState(r.Context())
	if s.failed(w, r, "fetch-state", err) {
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleSaveState(w http.ResponseWriter, r *http.Request) {
	var state catalog.AppState
	if !s.decodeJSONBody(w, r, &state) {
		return
	}
	if s.failed(w, r, "save-state", s.store.SaveState(r.Context(), state)) {
		return
	}
	writeSuccess(w)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	query := catalog.ItemQuery{Search: r.URL.Query().Get("search")}
	for _, id := range strings.Split(r.URL.Query().Get("categories"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			query.CategoryIDs = append(query.CategoryIDs, id)
		}
	}
	items, err := s.store.FetchItems(r.Context(), query)
	if s.failed(w, r, "fetch-items", err) {
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var item catalog.Item
	if !s.decodeJSONBody(w, r, &item) {
		return
	}
	created, err := s.store.CreateItem(r.Context(), item)
	if s.failed(w, r, "create-item", err) {
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var item catalog.Item
	if !s.decodeJSONBody(w, r, &item) {
		return
	}
	created, err := s.store.UploadItem(r.Context(), item)
	if s.failed(w, r, "upload-item", err) {
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var patch catalog.ItemPatch
	if !s.decodeJSONBody(w, r, &patch) {
		return
	}
	updated, err := s.store.UpdateItem(r.Context(), mux.Vars(r)["id"], patch)
	if s.failed(w, r, "update-item", err) {
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if s.failed(w, r, "delete-item", s.store.DeleteItem(r.Context(), mux.Vars(r)["id"])) {
		return
	}
	writeSuccess(w)
}

func (s *Server) handleRemoveCategoryFromItem(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CategoryID string `json:"categoryId"`
	}
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	if body.CategoryID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing categoryId", getCorrelationID(r))
		return
	}
	updated, err := s.store.RemoveCategoryFromItem(r.Context(), mux.Vars(r)["id"], body.CategoryID)
	if s.failed(w, r, "remove-category-from-item", err) {
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleToggleCategory(w http.ResponseWriter, r *http.Request) {
	var body itemsCategoryRequest
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	if s.failed(w, r, "toggle-category", s.store.ToggleCategory(r.Context(), body.ItemIDs, body.CategoryID)) {
		return
	}
	writeSuccess(w)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var category catalog.Category
	if !s.decodeJSONBody(w, r, &category) {
		return
	}
	created, err := s.store.CreateCategory(r.Context(), category)
	if s.failed(w, r, "create-category", err) {
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	patch, err := decodeCategoryPatch(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", getCorrelationID(r))
		return
	}
	updated, err := s.store.UpdateCategory(r.Context(), mux.Vars(r)["id"], patch)
	if s.failed(w, r, "update-category", err) {
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if s.failed(w, r, "delete-category", s.store.DeleteCategory(r.Context(), mux.Vars(r)["id"])) {
		return
	}
	writeSuccess(w)
}

type itemsCategoryRequest struct {
	ItemIDs    []string `json:"itemIds"`
	CategoryID string   `json:"categoryId"`
}

func (s *Server) handleBatchAddTags(w http.ResponseWriter, r *http.Request) {
	var body itemsCategoryRequest
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	if s.failed(w, r, "batch-add-tags", s.store.BatchAddTags(r.Context(), body.ItemIDs, body.CategoryID)) {
		return
	}
	writeSuccess(w)
}

func (s *Server) handleBatchEdit(w http.ResponseWriter, r *http.Request) {
	var body catalog.BatchEditRequest
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	if s.failed(w, r, "batch-edit", s.store.BatchEdit(r.Context(), body)) {
		return
	}
	writeSuccess(w)
}

func (s *Server) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ItemIDs []string `json:"itemIds"`
	}
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	if s.failed(w, r, "batch-delete", s.store.BatchDelete(r.Context(), body.ItemIDs)) {
		return
	}
	writeSuccess(w)
}

func (s *Server) handleBatchRemoveCategories(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ItemIDs     []string `json:"itemIds"`
		CategoryIDs []string `json:"categoryIds"`
	}
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	if s.failed(w, r, "batch-remove-categories", s.store.BatchRemoveCategories(r.Context(), body.ItemIDs, body.CategoryIDs)) {
		return
	}
	writeSuccess(w)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.store.FetchVersions(r.Context())
	if s.failed(w, r, "fetch-versions", err) {
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Label string            `json:"label"`
		State *catalog.AppState `json:"state"`
	}
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	if body.State == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "missing state data", getCorrelationID(r))
		return
	}
	version, err := s.store.CreateVersion(r.Context(), body.Label, *body.State)
	if s.failed(w, r, "create-version", err) {
		return
	}
	writeJSON(w, http.StatusCreated, version)
}

func (s *Server) handleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	if s.failed(w, r, "delete-version", s.store.DeleteVersion(r.Context(), mux.Vars(r)["id"])) {
		return
	}
	writeSuccess(w)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.FetchSettings(r.Context())
	if s.failed(w, r, "fetch-settings", err) {
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handleUpdateSettings merges the fields present in the body over the
// current settings.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AutoSaveInterval *int `json:"autoSaveInterval"`
		MaxVersions      *int `json:"maxVersions"`
	}
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	settings, err := s.store.FetchSettings(r.Context())
	if s.failed(w, r, "fetch-settings", err) {
		return
	}
	if body.AutoSaveInterval != nil {
		settings.AutoSaveInterval = *body.AutoSaveInterval
	}
	if body.MaxVersions != nil {
		settings.MaxVersions = *body.MaxVersions
	}
	saved, err := s.store.UpdateSettings(r.Context(), settings)
	if s.failed(w, r, "update-settings", err) {
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	state, err := s.store.Export(r.Context())
	if s.failed(w, r, "export", err) {
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="nexus-vault-export.json"`)
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	if s.failed(w, r, "import", s.store.Import(r.Context(), body)) {
		return
	}
	writeSuccess(w)
}

// decodeCategoryPatch treats an explicit "parentId": null as a move to the root.
func decodeCategoryPatch(body []byte) (catalog.CategoryPatch, error) {
	var patch catalog.CategoryPatch
	if err := json.Unmarshal(body, &patch); err != nil {
		return patch, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return patch, err
	}
	if raw, ok := fields["parentId"]; ok && string(raw) == "null" {
		patch.DetachParent = true
	}
	return patch, nil
}

// failed writes the error response for err and records the outcome. It
// reports whether the handler should stop.
func (s *Server) failed(w http.ResponseWriter, r *http.Request, op string, err error) bool {
	s.metrics.observeOperation(op, err)
	if err == nil {
		return false
	}
	correlationID := getCorrelationID(r)
	switch {
	case errors.Is(err, catalog.ErrCorruptData):
		writeError(w, http.StatusUnprocessableEntity, "corrupt_data", err.Error(), correlationID)
	case errors.Is(err, catalog.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
	default:
		s.log.Error().Str("op", op).Err(err).Str("correlationId", correlationID).Msg("operation failed")
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
	}
	return true
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", getCorrelationID(r))
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", getCorrelationID(r))
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", getCorrelationID(r))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
