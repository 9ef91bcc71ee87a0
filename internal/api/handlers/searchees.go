// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/PiloUnk/cross-seed/internal/models"
	"github.com/PiloUnk/cross-seed/internal/services/search"
)

const maxBulkSearchNames = 20

// SearcheesHandler serves the searchee/candidate RPC surface.
type SearcheesHandler struct {
	decisionStore  *models.DecisionStore
	collisionStore *models.CollisionStore
	searchService  *search.Service
}

func NewSearcheesHandler(
	decisionStore *models.DecisionStore,
	collisionStore *models.CollisionStore,
	searchService *search.Service,
) *SearcheesHandler {
	return &SearcheesHandler{
		decisionStore:  decisionStore,
		collisionStore: collisionStore,
		searchService:  searchService,
	}
}

func (h *SearcheesHandler) Routes(r chi.Router) {
	r.Get("/candidates", h.Candidates)
	r.Post("/bulk-search", h.BulkSearch)
	r.Get("/collision-filters", h.CollisionFilters)
}

// Candidates lists assessed candidates. limit must be in [1,200], offset >= 0.
func (h *SearcheesHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 200 {
			RespondError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = parsed
	}

	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			RespondError(w, http.StatusBadRequest, "offset must be non-negative")
			return
		}
		offset = parsed
	}

	listings, err := h.decisionStore.ListCandidates(r.Context(), limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list candidates")
		RespondError(w, http.StatusInternalServerError, "Failed to list candidates")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{"candidates": listings})
}

type bulkSearchRequest struct {
	Names               []string `json:"names"`
	ExcludeRecentSearch bool     `json:"excludeRecentSearch"`
}

// BulkSearch launches a synchronous bulk search for up to 20 searchee names.
func (h *SearcheesHandler) BulkSearch(w http.ResponseWriter, r *http.Request) {
	var req bulkSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	names := make([]string, 0, len(req.Names))
	for _, name := range req.Names {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, trimmed)
		}
	}

	if len(names) == 0 {
		RespondError(w, http.StatusBadRequest, "names cannot be empty")
		return
	}
	if len(names) > maxBulkSearchNames {
		RespondError(w, http.StatusBadRequest,
			fmt.Sprintf("at most %d names per bulk search", maxBulkSearchNames))
		return
	}

	report, err := h.searchService.BulkSearchByNames(r.Context(), names, search.BulkSearchOptions{
		ExcludeRecentSearch: req.ExcludeRecentSearch,
	})
	if err != nil {
		log.Error().Err(err).Msg("Bulk search failed")
		RespondError(w, http.StatusInternalServerError, "Bulk search failed")
		return
	}

	RespondJSON(w, http.StatusOK, report)
}

// CollisionFilters lists recorded collisions with their tracker payloads.
func (h *SearcheesHandler) CollisionFilters(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 1 && parsed <= 200 {
			limit = parsed
		}
	}
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	listings, err := h.collisionStore.List(r.Context(), limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list collisions")
		RespondError(w, http.StatusInternalServerError, "Failed to list collisions")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{"collisions": listings})
}
