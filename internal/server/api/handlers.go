package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/systemshift/modelgraph/internal/identity"
	"github.com/systemshift/modelgraph/internal/index"
	"github.com/systemshift/modelgraph/internal/model"
	"github.com/systemshift/modelgraph/internal/persistence"
	"github.com/systemshift/modelgraph/internal/statement"
	"github.com/systemshift/modelgraph/internal/stream"
)

// ReferenceIndex stores the reference targets of indexed streams
type ReferenceIndex interface {
	Replace(ctx context.Context, modelID string, local, external []model.NodeID) error
	Referrers(ctx context.Context, nodeID model.NodeID) ([]string, error)
	Has(ctx context.Context, modelID string, nodeID model.NodeID, kind index.Kind) (bool, error)
}

// Querier runs read statements against the graph store
type Querier interface {
	Query(ctx context.Context, q statement.Cypher) ([]map[string]any, error)
}

// Server holds the HTTP server dependencies
type Server struct {
	persist *persistence.Persistence
	index   ReferenceIndex
	graph   Querier
	logger  *zap.Logger
	maxBody int64
}

// New creates a new API server. index and graph may be nil; the routes
// that need them then answer 503.
func New(persist *persistence.Persistence, index ReferenceIndex, graph Querier, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{persist: persist, index: index, graph: graph, logger: logger, maxBody: 64 << 20}
}

// SetMaxBodyBytes limits the size of uploaded streams
func (s *Server) SetMaxBodyBytes(n int64) {
	if n > 0 {
		s.maxBody = n
	}
}

// Routes mounts all handlers on r
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Route("/api", func(r chi.Router) {
		r.Post("/models", s.SaveModel)
		r.Post("/models/header", s.ReadHeader)
		r.Post("/models/index", s.IndexModel)
		r.Post("/models/digest", s.DigestModel)
		r.Get("/models/{modelId}/references/{nodeId}", s.HasReference)
		r.Get("/references/{nodeId}", s.GetReferrers)
		r.Post("/query", s.Query)
	})
}

// HeaderResponse describes a model header
type HeaderResponse struct {
	Model         string            `json:"model"`
	Module        string            `json:"module,omitempty"`
	Name          string            `json:"name"`
	DoNotGenerate bool              `json:"do_not_generate"`
	Properties    map[string]string `json:"properties"`
}

func headerResponse(h *model.Header) HeaderResponse {
	module, _ := identity.ModuleValue(h.Identity.Module)
	if module == "" {
		module = h.Identity.Module.String()
	}
	props := h.OptionalProperties
	if props == nil {
		props = map[string]string{}
	}
	return HeaderResponse{
		Model:         identity.ModelValue(h.Identity.Model),
		Module:        module,
		Name:          h.Identity.Name,
		DoNotGenerate: h.DoNotGenerate,
		Properties:    props,
	}
}

// IndexResponse lists the reference targets of one stream
type IndexResponse struct {
	Model    string   `json:"model"`
	Local    []string `json:"local"`
	External []string `json:"external"`
}

// SaveResponse reports the statements submitted for a saved model
type SaveResponse struct {
	Model           string `json:"model"`
	NodesPhase      int    `json:"nodes_phase"`
	ReferencesPhase int    `json:"references_phase"`
}

// QueryRequest is the request body for POST /api/query
type QueryRequest struct {
	Query  string         `json:"query"`
	Params map[string]any `json:"params"`
}

// HealthCheck handles GET /health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadHeader handles POST /api/models/header
func (s *Server) ReadHeader(w http.ResponseWriter, r *http.Request) {
	h, err := stream.DecodeHeader(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, headerResponse(h))
}

// idCollector gathers the targets reported by an index scan
type idCollector struct {
	local, external []model.NodeID
}

func (c *idCollector) LocalNodeRef(id model.NodeID)    { c.local = append(c.local, id) }
func (c *idCollector) ExternalNodeRef(id model.NodeID) { c.external = append(c.external, id) }

func idStrings(ids []model.NodeID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	sort.Strings(out)
	return out
}

// IndexModel handles POST /api/models/index
func (s *Server) IndexModel(w http.ResponseWriter, r *http.Request) {
	c := &idCollector{}
	h, err := s.persist.Index(http.MaxBytesReader(w, r.Body, s.maxBody), c)
	if err != nil {
		s.fail(w, err)
		return
	}

	modelID := identity.ModelValue(h.Identity.Model)
	if s.index != nil {
		if err := s.index.Replace(r.Context(), modelID, c.local, c.external); err != nil {
			s.fail(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, IndexResponse{
		Model:    modelID,
		Local:    idStrings(c.local),
		External: idStrings(c.external),
	})
}

// DigestModel handles POST /api/models/digest
func (s *Server) DigestModel(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		s.fail(w, err)
		return
	}
	digests, err := s.persist.DigestMap(stream.NewMemorySource("upload", data))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, digests)
}

// SaveModel handles POST /api/models. The graph write runs in the
// background; the response only reports what was submitted.
func (s *Server) SaveModel(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		s.fail(w, err)
		return
	}
	m, err := stream.ReadModel(bytes.NewReader(data))
	if err != nil {
		s.fail(w, err)
		return
	}

	src := stream.NewMemorySource(m.Identity().Name, nil)
	batch, err := s.persist.Save(r.Context(), m, src)
	if err != nil {
		s.fail(w, err)
		return
	}
	if batch == nil {
		http.Error(w, "graph store not configured", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, SaveResponse{
		Model:           identity.ModelValue(m.Identity().Model),
		NodesPhase:      len(batch.Nodes.Statements()),
		ReferencesPhase: len(batch.References.Statements()),
	})
}

// GetReferrers handles GET /api/references/{nodeId}
func (s *Server) GetReferrers(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		http.Error(w, "reference index not configured", http.StatusServiceUnavailable)
		return
	}
	id, err := model.ParseNodeID(chi.URLParam(r, "nodeId"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	models, err := s.index.Referrers(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	if models == nil {
		models = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node":   id.String(),
		"models": models,
	})
}

// ReferenceResponse reports whether a model's stream references a node
type ReferenceResponse struct {
	Model   string `json:"model"`
	Node    string `json:"node"`
	Kind    string `json:"kind"`
	Present bool   `json:"present"`
}

// HasReference handles GET /api/models/{modelId}/references/{nodeId}.
// The optional kind parameter is "external" (default) or "local".
func (s *Server) HasReference(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		http.Error(w, "reference index not configured", http.StatusServiceUnavailable)
		return
	}
	id, err := model.ParseNodeID(chi.URLParam(r, "nodeId"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	kind := index.KindExternal
	switch k := r.URL.Query().Get("kind"); k {
	case "", string(index.KindExternal):
	case string(index.KindLocal):
		kind = index.KindLocal
	default:
		http.Error(w, "unknown reference kind "+k, http.StatusBadRequest)
		return
	}

	modelID := chi.URLParam(r, "modelId")
	present, err := s.index.Has(r.Context(), modelID, id, kind)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReferenceResponse{
		Model:   modelID,
		Node:    id.String(),
		Kind:    string(kind),
		Present: present,
	})
}

// Query handles POST /api/query
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	if s.graph == nil {
		http.Error(w, "graph store not configured", http.StatusServiceUnavailable)
		return
	}
	var req QueryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, err)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	rows, err := s.graph.Query(r.Context(), statement.Cypher{Query: req.Query, Params: req.Params})
	if err != nil {
		s.fail(w, err)
		return
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

// fail maps domain errors to status codes
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, model.ErrMalformedStream),
		errors.Is(err, model.ErrUnsupportedVersion),
		errors.Is(err, model.ErrUnsupportedIdentityKind):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrUnsupportedCrossModelReference),
		errors.Is(err, model.ErrUnsupportedOperation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrReadOnlyTarget):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
