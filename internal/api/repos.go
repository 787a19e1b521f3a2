package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/readyscore/readyscore/internal/ledger"
	"github.com/readyscore/readyscore/internal/results"
	"github.com/readyscore/readyscore/pkg/scoring"
)

type storedScoreResponse struct {
	ID                  string               `json:"id"`
	RunID               string               `json:"run_id"`
	RepositoryID        string               `json:"repository_id"`
	StackProfile        string               `json:"stack_profile"`
	ConfigVersion       string               `json:"config_version"`
	TotalScore          float64              `json:"total_score"`
	MaxScore            float64              `json:"max_score"`
	DataCoveragePercent float64              `json:"data_coverage_percent"`
	DataQualityStatus   string               `json:"data_quality_status"`
	Category            string               `json:"category"`
	Result              *scoring.ScoreResult `json:"result,omitempty"`
	CreatedAt           string               `json:"created_at"`
}

func scoreRowToResponse(sc *results.ScoreRow, full bool) storedScoreResponse {
	resp := storedScoreResponse{
		ID:                  sc.ID,
		RunID:               sc.RunID,
		RepositoryID:        sc.RepositoryID,
		StackProfile:        sc.StackProfile,
		ConfigVersion:       sc.ConfigVersion,
		TotalScore:          sc.TotalScore,
		MaxScore:            sc.MaxScore,
		DataCoveragePercent: sc.DataCoveragePercent,
		DataQualityStatus:   sc.DataQualityStatus,
		Category:            sc.Category,
		CreatedAt:           sc.CreatedAt.UTC().Format(time.RFC3339),
	}
	if full {
		if res, err := sc.Decode(); err == nil {
			resp.Result = res
		}
	}
	return resp
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func (h *Handler) handleListScores(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "score history is not configured")
		return
	}
	repoID := r.PathValue("repoID")

	scores, err := h.history.ListScoresByRepo(r.Context(), repoID, queryLimit(r, 50))
	if err != nil {
		h.logger.Error("list scores", "repository", repoID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query scores")
		return
	}

	result := make([]storedScoreResponse, 0, len(scores))
	for i := range scores {
		result = append(result, scoreRowToResponse(&scores[i], false))
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetScore(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "score history is not configured")
		return
	}
	scoreID := r.PathValue("scoreID")

	sc, err := h.history.GetScore(r.Context(), scoreID)
	if errors.Is(err, results.ErrNotFound) {
		writeError(w, http.StatusNotFound, "score not found")
		return
	}
	if err != nil {
		h.logger.Error("get score", "score", scoreID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query score")
		return
	}

	writeJSON(w, http.StatusOK, scoreRowToResponse(sc, true))
}

func (h *Handler) handleListPromotions(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "promotion ledger is not configured")
		return
	}
	profile := r.PathValue("profile")

	entries, err := h.ledger.History(r.Context(), profile, queryLimit(r, 0))
	if err != nil {
		h.logger.Error("list promotions", "profile", profile, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query ledger")
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
