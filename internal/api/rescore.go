package api

import (
	"encoding/json"
	"net/http"

	"github.com/readyscore/readyscore/pkg/scoring"
	"github.com/readyscore/readyscore/pkg/stack"
)

type rescoreRequest struct {
	RepoID string `json:"repo_id"`
	// Limit is how many of the newest stored scores to replay; default 1.
	Limit int `json:"limit"`
}

type rescoreChange struct {
	ScoreID         string  `json:"score_id"`
	PreviousVersion string  `json:"previous_version"`
	PreviousTotal   float64 `json:"previous_total"`
	Total           float64 `json:"total"`
	Category        string  `json:"category"`
}

type rescoreResponse struct {
	RunID         string          `json:"run_id,omitempty"`
	ConfigVersion string          `json:"config_version"`
	Rescored      int             `json:"rescored"`
	Errors        int             `json:"errors"`
	Changes       []rescoreChange `json:"changes"`
}

// handleRescore replays a repository's stored evidence against the active
// rubric and stores the outcome as a new run. Stored rows are never
// rewritten.
func (h *Handler) handleRescore(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "score history is not configured")
		return
	}
	var req rescoreRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.RepoID == "" {
		writeError(w, http.StatusBadRequest, "repo_id is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 1
	}

	ctx := r.Context()
	rows, err := h.history.ListScoresByRepo(ctx, req.RepoID, req.Limit)
	if err != nil {
		h.logger.Error("list scores", "repository", req.RepoID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query scores")
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "no stored scores for repository")
		return
	}

	cfg := h.active.Snapshot()
	engine, err := scoring.NewEngine(cfg, h.engineOpts...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "active rubric: "+err.Error())
		return
	}

	resp := rescoreResponse{ConfigVersion: cfg.Version, Changes: []rescoreChange{}}
	var rescored []*scoring.ScoreResult
	for i := range rows {
		sr := &rows[i]
		prev, err := sr.Decode()
		if err != nil {
			h.logger.Warn("rescore: decode stored score", "score", sr.ID, "error", err)
			resp.Errors++
			continue
		}
		res, err := engine.Score(sr.RepositoryID, stack.Profile(sr.StackProfile), scoring.EvidenceFromResult(prev))
		if err == nil {
			err = scoring.ValidateResult(res)
		}
		if err != nil {
			h.logger.Warn("rescore: score", "score", sr.ID, "error", err)
			resp.Errors++
			continue
		}
		rescored = append(rescored, res)
		resp.Changes = append(resp.Changes, rescoreChange{
			ScoreID:         sr.ID,
			PreviousVersion: sr.ConfigVersion,
			PreviousTotal:   sr.TotalScore,
			Total:           res.TotalScore,
			Category:        res.Category,
		})
	}
	resp.Rescored = len(rescored)

	if len(rescored) > 0 {
		run, err := h.history.SaveRun(ctx, "rescore", rescored)
		if err != nil {
			h.logger.Error("store rescore run", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to store run")
			return
		}
		resp.RunID = run.ID
	}
	writeJSON(w, http.StatusOK, resp)
}
