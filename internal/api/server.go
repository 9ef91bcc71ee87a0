// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package api exposes the authed RPC surface over chi.
package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/PiloUnk/cross-seed/internal/api/handlers"
	"github.com/PiloUnk/cross-seed/internal/config"
	"github.com/PiloUnk/cross-seed/internal/models"
	"github.com/PiloUnk/cross-seed/internal/services/search"
)

type Server struct {
	server *http.Server
	config *config.AppConfig

	conflictRulesHandler *handlers.ConflictRulesHandler
	searcheesHandler     *handlers.SearcheesHandler
}

type Dependencies struct {
	Config              *config.AppConfig
	ConflictRuleStore   *models.ConflictRuleStore
	IndexerStore        *models.IndexerStore
	ClientSearcheeStore *models.ClientSearcheeStore
	DecisionStore       *models.DecisionStore
	CollisionStore      *models.CollisionStore
	SearchService       *search.Service
}

func NewServer(deps Dependencies) *Server {
	return &Server{
		config: deps.Config,
		conflictRulesHandler: handlers.NewConflictRulesHandler(
			deps.ConflictRuleStore, deps.IndexerStore, deps.ClientSearcheeStore),
		searcheesHandler: handlers.NewSearcheesHandler(
			deps.DecisionStore, deps.CollisionStore, deps.SearchService),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(2 * time.Minute))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Api-Key"},
	})
	r.Use(corsHandler.Handler)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.Route("/conflict-rules", s.conflictRulesHandler.Routes)
		r.Route("/searchees", s.searcheesHandler.Routes)

		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			handlers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	})

	return r
}

// requireAPIKey checks the X-Api-Key header (or apikey query parameter)
// against the configured key. An empty configured key disables auth.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expected := s.config.Config.APIKey
		if expected == "" {
			next.ServeHTTP(w, r)
			return
		}

		provided := r.Header.Get("X-Api-Key")
		if provided == "" {
			provided = r.URL.Query().Get("apikey")
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			handlers.RespondError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Config.Host, strconv.Itoa(s.config.Config.Port))

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("RPC server listening")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("rpc server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
