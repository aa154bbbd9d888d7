// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api serves the pipeline operations as JSON over HTTP
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/grpchealth"
	"connectrpc.com/grpcreflect"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/net/netutil"
)

const (
	DefaultListenAddress   = ":8080"
	DefaultMaxBodyBytes    = 1 << 20
	DefaultMaxBlobBytes    = 32 << 20
	DefaultShutdownTimeout = 30 * time.Second

	// ServiceName is reported by the gRPC health checker
	ServiceName = "suimusic.v1.Pipeline"
)

type Config struct {
	Logger        *slog.Logger
	PromRegistry  prometheus.Registerer
	ListenAddress string
	// RateLimit is the sustained requests per second allowed per client.
	// Zero disables rate limiting
	RateLimit float64
	RateBurst int
	// MaxConnections caps concurrently accepted connections when set
	MaxConnections  int
	MaxBodyBytes    int64
	MaxBlobBytes    int64
	ShutdownTimeout time.Duration
}

// Server is the HTTP API server
type Server struct {
	config     Config
	logger     *slog.Logger
	pipeline   Pipeline
	metrics    *apiMetrics
	limiter    *clientLimiter
	httpServer *http.Server
	addr       net.Addr
	mu         sync.Mutex
}

func New(cfg Config, p Pipeline) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.MaxBlobBytes <= 0 {
		cfg.MaxBlobBytes = DefaultMaxBlobBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	s := &Server{
		config:   cfg,
		logger:   cfg.Logger.With("component", "api"),
		pipeline: p,
	}
	if cfg.RateLimit > 0 {
		s.limiter = newClientLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	if cfg.PromRegistry != nil {
		s.initMetrics(cfg.PromRegistry)
	}
	return s
}

// Handler returns the complete request handler, including the gRPC health
// and reflection services
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/blobs", s.handlePutBlob)
	api.HandleFunc("GET /api/v1/blobs/{ref}", s.handleGetBlob)
	api.HandleFunc("POST /api/v1/proofs", s.handleSubmitProof)
	api.HandleFunc("GET /api/v1/proofs", s.handleListProofs)
	api.HandleFunc("GET /api/v1/proofs/{id}", s.handleGetProof)
	api.HandleFunc("POST /api/v1/proofs/{id}/mint", s.handleMintWork)
	api.HandleFunc("GET /api/v1/works/{id}", s.handleGetWork)
	api.HandleFunc("GET /api/v1/works/{id}/audit", s.handleListAudit)
	api.HandleFunc("POST /api/v1/works/{id}/approve", s.handleApproveWork)
	api.HandleFunc("POST /api/v1/works/{id}/reject", s.handleRejectWork)
	api.HandleFunc("POST /api/v1/works/{id}/reconcile", s.handleReconcile)
	api.HandleFunc(
		"GET /api/v1/works/{id}/licenses/stats",
		s.handleLicenseStats,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("/api/", s.instrument(s.rateLimit(api)))
	mux.Handle(
		grpchealth.NewHandler(grpchealth.NewStaticChecker(ServiceName)),
	)
	mux.Handle(
		grpcreflect.NewHandlerV1(
			grpcreflect.NewStaticReflector(grpchealth.HealthV1ServiceName),
		),
	)
	mux.Handle(
		grpcreflect.NewHandlerV1Alpha(
			grpcreflect.NewStaticReflector(grpchealth.HealthV1ServiceName),
		),
	)
	// Use h2c so gRPC clients can reach the health service without TLS
	return h2c.NewHandler(mux, &http2.Server{})
}

// Start binds the listener and serves in the background until Stop is
// called or ctx is done
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return errors.New("server already started")
	}
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen for API server: %w", err)
	}
	if s.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConnections)
	}
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 60 * time.Second,
	}
	s.httpServer = server
	s.addr = ln.Addr()
	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		//nolint:contextcheck
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			s.config.ShutdownTimeout,
		)
		defer cancel()
		//nolint:contextcheck
		if err := s.Stop(shutdownCtx); err != nil {
			s.logger.Error(
				"failed to shutdown API server on context cancellation",
				"error", err,
			)
		}
	}()
	s.logger.Info("API listener started on " + s.addr.String())
	return nil
}

// Addr returns the bound listener address once started
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Debug("shutting down API server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}
	return nil
}
