// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/PiloUnk/cross-seed/internal/models"
)

// ConflictRulesHandler serves the conflict-rule RPC surface.
type ConflictRulesHandler struct {
	ruleStore           *models.ConflictRuleStore
	indexerStore        *models.IndexerStore
	clientSearcheeStore *models.ClientSearcheeStore
}

func NewConflictRulesHandler(
	ruleStore *models.ConflictRuleStore,
	indexerStore *models.IndexerStore,
	clientSearcheeStore *models.ClientSearcheeStore,
) *ConflictRulesHandler {
	return &ConflictRulesHandler{
		ruleStore:           ruleStore,
		indexerStore:        indexerStore,
		clientSearcheeStore: clientSearcheeStore,
	}
}

func (h *ConflictRulesHandler) Routes(r chi.Router) {
	r.Get("/", h.GetRules)
	r.Put("/", h.SaveRules)
	r.Get("/tracker-options", h.GetTrackerOptions)
	r.Get("/third-party-trackers", h.GetThirdPartyTrackers)
}

// GetRules returns the active rule set, implicit tail rule included.
func (h *ConflictRulesHandler) GetRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.ruleStore.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list conflict rules")
		RespondError(w, http.StatusInternalServerError, "Failed to list conflict rules")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

type saveRulesRequest struct {
	Rules []*models.ConflictRule `json:"rules"`
}

// SaveRules atomically replaces the rule set.
func (h *ConflictRulesHandler) SaveRules(w http.ResponseWriter, r *http.Request) {
	var req saveRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rules, err := h.ruleStore.Save(r.Context(), req.Rules)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrEmptyRule), errors.Is(err, models.ErrMisplacedAllIndexers):
			RespondError(w, http.StatusBadRequest, err.Error())
		default:
			log.Error().Err(err).Msg("Failed to save conflict rules")
			RespondError(w, http.StatusInternalServerError, "Failed to save conflict rules")
		}
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// GetTrackerOptions returns the trackers a rule can name: everything known
// to the configured indexers.
func (h *ConflictRulesHandler) GetTrackerOptions(w http.ResponseWriter, r *http.Request) {
	trackers, err := h.indexerStore.AllTrackers(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list tracker options")
		RespondError(w, http.StatusInternalServerError, "Failed to list tracker options")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"trackers": trackers})
}

// GetThirdPartyTrackers returns trackers seen in clients but not backed by
// any configured indexer.
func (h *ConflictRulesHandler) GetThirdPartyTrackers(w http.ResponseWriter, r *http.Request) {
	indexerTrackers, err := h.indexerStore.AllTrackers(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list indexer trackers")
		RespondError(w, http.StatusInternalServerError, "Failed to list indexer trackers")
		return
	}

	knownTrackers, err := h.clientSearcheeStore.KnownTrackers(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list client trackers")
		RespondError(w, http.StatusInternalServerError, "Failed to list client trackers")
		return
	}

	indexerSet := make(map[string]struct{}, len(indexerTrackers))
	for _, t := range indexerTrackers {
		indexerSet[t] = struct{}{}
	}

	thirdParty := make([]string, 0, len(knownTrackers))
	for _, t := range knownTrackers {
		if _, ok := indexerSet[t]; !ok {
			thirdParty = append(thirdParty, t)
		}
	}

	RespondJSON(w, http.StatusOK, map[string]any{"trackers": thirdParty})
}
