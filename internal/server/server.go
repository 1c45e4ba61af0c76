// Package server exposes the extraction pipeline over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/dan-solli/entityx/pkg/extraction"
	"github.com/dan-solli/entityx/pkg/llm"
	"github.com/dan-solli/entityx/pkg/schema"
)

// ShutdownTimeout is how long in-flight requests get to finish on shutdown.
// Generate backends can take minutes, but a stuck reply should not pin the process.
const ShutdownTimeout = 30 * time.Second

// maxBodyBytes bounds the request body
const maxBodyBytes = 4 << 20

// Pipeline is the extraction entry point, implemented by *extraction.Extractor
type Pipeline interface {
	Run(ctx context.Context, text string, s schema.Schema) (*extraction.Result, error)
}

// Server serves /entity-extraction, /health and optionally /metrics
type Server struct {
	pipeline     Pipeline
	logger       *zap.Logger
	metrics      http.Handler
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsHandler mounts h at GET /metrics
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithTimeouts sets the HTTP read and write timeouts. Zero leaves a timeout unset.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
	}
}

// New creates a server around p
func New(p Pipeline, opts ...Option) *Server {
	s := &Server{pipeline: p, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with request id, access log and panic recovery
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /entity-extraction", s.handleExtraction)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return s.withRequestID(s.withAccessLog(s.withRecover(mux)))
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests for up to ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrapf(err, "listen on %s", addr)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server", zap.Duration("timeout", ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "graceful shutdown")
	}
	return nil
}

type extractionRequest struct {
	Text     *string         `json:"text"`
	Entities json.RawMessage `json:"entities"`
}

func (s *Server) handleExtraction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := s.logger.With(zap.String("operation_id", extraction.OperationID(ctx)))

	var req extractionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		logger.Debug("undecodable request body", zap.Error(err))
		writeError(w, http.StatusBadRequest, extraction.ErrValidation.Error())
		return
	}
	if req.Text == nil || len(bytes.TrimSpace(req.Entities)) == 0 || bytes.Equal(bytes.TrimSpace(req.Entities), []byte("null")) {
		writeError(w, http.StatusBadRequest, extraction.ErrValidation.Error())
		return
	}

	entities, err := schema.Parse(req.Entities)
	if err != nil {
		_ = writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   extraction.ErrValidation.Error(),
			"details": err.Error(),
		})
		return
	}

	res, err := s.pipeline.Run(ctx, *req.Text, entities)
	if err != nil {
		s.writeFailure(w, err, logger)
		return
	}
	_ = writeJSON(w, http.StatusOK, res.Value)
}

// writeFailure maps a pipeline error to its status and payload
func (s *Server) writeFailure(w http.ResponseWriter, err error, logger *zap.Logger) {
	if payload, ok := extraction.Diagnostic(err); ok {
		_ = writeJSON(w, http.StatusOK, payload)
		return
	}

	switch extraction.Classify(err) {
	case extraction.KindValidation:
		writeError(w, http.StatusBadRequest, extraction.ErrValidation.Error())
	case extraction.KindUpstream:
		var ue *llm.UpstreamError
		payload := map[string]any{"error": err.Error()}
		if errors.As(err, &ue) {
			payload["error"] = ue.Error()
			if details := decodeDetails(ue.Body); details != nil {
				payload["details"] = details
			}
		}
		_ = writeJSON(w, http.StatusInternalServerError, payload)
	case extraction.KindTransport, extraction.KindTimeout:
		var te *llm.TransportError
		if errors.As(err, &te) {
			writeError(w, http.StatusInternalServerError, te.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "request to llm backend failed: "+err.Error())
	default:
		logger.Error("unclassified extraction failure", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error: "+err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
