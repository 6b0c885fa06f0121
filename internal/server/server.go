// Package server exposes compile, validate, and catalog operations over
// HTTP for frontends that build pipelines remotely.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tracekit-labs/querygraph/internal/catalog"
	"github.com/tracekit-labs/querygraph/internal/engine"
	"github.com/tracekit-labs/querygraph/internal/node"
	"github.com/tracekit-labs/querygraph/internal/pipeline"
	"github.com/tracekit-labs/querygraph/internal/sq"
)

// Config holds server construction parameters.
type Config struct {
	Addr    string
	Engine  *engine.Engine
	Catalog *catalog.Catalog
	Logger  *slog.Logger
}

// Server is the HTTP API front.
type Server struct {
	addr    string
	engine  *engine.Engine
	catalog *catalog.Catalog
	logger  *slog.Logger
	router  chi.Router
}

// New builds the server and its routes.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		addr:    cfg.Addr,
		engine:  cfg.Engine,
		catalog: cfg.Catalog,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/compile", s.handleCompile)
		r.Post("/validate", s.handleValidate)
		r.Get("/catalog/tables", s.handleCatalogTables)
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// compileRequest is a pipeline document plus the node to compile.
type compileRequest struct {
	pipeline.Document
	// Node selects the node to compile; empty means the single leaf.
	Node string `json:"node,omitempty"`
}

type compileResponse struct {
	NodeID    string                `json:"nodeId"`
	SQL       string                `json:"sql"`
	Preambles []string              `json:"preambles,omitempty"`
	Modules   []string              `json:"modules,omitempty"`
	Warnings  []string              `json:"warnings,omitempty"`
	Root      *sq.StructuredQuery   `json:"root,omitempty"`
	Shared    []*sq.StructuredQuery `json:"shared,omitempty"`
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	var req compileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	target, err := s.buildAndSelect(&req.Document, req.Node)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	compiled, err := s.engine.Compile(target)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	includeIR := r.URL.Query().Get("ir") == "true"
	resp := compileResponse{
		NodeID:    compiled.NodeID,
		SQL:       compiled.SQL,
		Preambles: compiled.Preambles,
		Modules:   compiled.Modules,
		Warnings:  compiled.Warnings,
	}
	if includeIR {
		resp.Root = compiled.Flat.Root
		resp.Shared = compiled.Flat.Shared
	}
	writeJSON(w, http.StatusOK, resp)
}

type nodeStatus struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

type validateResponse struct {
	Pipeline string       `json:"pipeline"`
	Valid    bool         `json:"valid"`
	Nodes    []nodeStatus `json:"nodes"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var doc pipeline.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if doc.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("pipeline has no name"))
		return
	}

	g, err := pipeline.Build(&doc)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	sorted, err := g.TopologicalSort()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	resp := validateResponse{Pipeline: doc.Name, Valid: true}
	for _, n := range sorted {
		valid := n.Validate()
		if !valid {
			resp.Valid = false
		}
		resp.Nodes = append(resp.Nodes, nodeStatus{
			ID:       n.ID(),
			Kind:     string(n.Kind()),
			Valid:    valid,
			Errors:   n.Issues().Errors(),
			Warnings: n.Issues().Warnings(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCatalogTables(w http.ResponseWriter, _ *http.Request) {
	if s.catalog == nil {
		writeJSON(w, http.StatusOK, []catalog.Table{})
		return
	}
	writeJSON(w, http.StatusOK, s.catalog.Tables())
}

// buildAndSelect rebuilds a posted document's graph and picks the target
// node: the one named, or the single leaf.
func (s *Server) buildAndSelect(doc *pipeline.Document, nodeID string) (node.Node, error) {
	if doc.Name == "" {
		return nil, errors.New("pipeline has no name")
	}
	g, err := pipeline.Build(doc)
	if err != nil {
		return nil, err
	}
	if nodeID != "" {
		n, ok := g.Get(nodeID)
		if !ok {
			return nil, fmt.Errorf("node %q not found in pipeline", nodeID)
		}
		return n, nil
	}
	leaves := g.Leaves()
	switch len(leaves) {
	case 0:
		return nil, errors.New("pipeline has no nodes")
	case 1:
		n, _ := g.Get(leaves[0])
		return n, nil
	default:
		return nil, fmt.Errorf("pipeline has %d leaf nodes, specify one (%v)", len(leaves), leaves)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
