package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/readyscore/readyscore/pkg/evidence"
	"github.com/readyscore/readyscore/pkg/scoring"
	"github.com/readyscore/readyscore/pkg/stack"
)

const maxBodyBytes = 8 << 20

type scoreItem struct {
	RepositoryID string               `json:"repository_id"`
	Result       *scoring.ScoreResult `json:"result,omitempty"`
	Cached       bool                 `json:"cached,omitempty"`
	Error        string               `json:"error,omitempty"`
	Candidates   []stack.Profile      `json:"candidates,omitempty"`
}

type scoreResponse struct {
	RunID         string      `json:"run_id,omitempty"`
	ConfigVersion string      `json:"config_version"`
	Results       []scoreItem `json:"results"`
}

// handleScore handles POST /api/v1/score. The body is one repository
// hand-off object or an array of them. Every repository is scored against
// the same rubric snapshot; a failing repository only reports its own error.
// With ?strict=true an ambiguous stack is an error instead of a tie-break.
func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}
	repos, err := evidence.ParseRepositories(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(repos) == 0 {
		writeError(w, http.StatusBadRequest, "no repositories to score")
		return
	}
	strict, _ := strconv.ParseBool(r.URL.Query().Get("strict"))

	resp, err := h.score(r.Context(), repos, strict, "api")
	if err != nil {
		h.logger.Error("score repositories", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Submit scores repositories pushed by a collector and records them under
// source. It returns the stored run id, if any, and how many repositories
// scored.
func (h *Handler) Submit(ctx context.Context, source string, repos []evidence.Repository) (string, int, error) {
	resp, err := h.score(ctx, repos, false, source)
	if err != nil {
		return "", 0, err
	}
	scored := 0
	for _, item := range resp.Results {
		if item.Result != nil {
			scored++
		} else {
			h.logger.Warn("repository not scored", "repository_id", item.RepositoryID, "source", source, "error", item.Error)
		}
	}
	return resp.RunID, scored, nil
}

func (h *Handler) score(ctx context.Context, repos []evidence.Repository, strict bool, source string) (*scoreResponse, error) {
	cfg := h.active.Snapshot()
	engine, err := scoring.NewEngine(cfg, h.engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("active rubric: %w", err)
	}

	resp := &scoreResponse{ConfigVersion: cfg.Version, Results: make([]scoreItem, len(repos))}
	var (
		inputs  []scoring.BatchInput
		pending []int
		keys    []string
	)
	for i, repo := range repos {
		item := &resp.Results[i]
		item.RepositoryID = repo.ID
		if repo.ID == "" {
			item.Error = "repository_id is required"
			continue
		}
		profile, err := h.classifier.Resolve(repo.Stack, repo.Signals, strict)
		if err != nil {
			item.Error = err.Error()
			var amb *stack.AmbiguousStackError
			if errors.As(err, &amb) {
				item.Candidates = amb.Candidates
			}
			continue
		}
		key, err := CacheKey(repo.ID, profile, repo.Evidence)
		if err == nil {
			if res := h.cache.Get(key, cfg); res != nil {
				item.Result, item.Cached = res, true
				continue
			}
		}
		inputs = append(inputs, scoring.BatchInput{RepositoryID: repo.ID, Profile: profile, Records: repo.Evidence})
		pending = append(pending, i)
		keys = append(keys, key)
	}

	for j, bi := range engine.ScoreBatch(ctx, inputs, h.workers) {
		item := &resp.Results[pending[j]]
		if bi.Err != nil {
			item.Error = bi.Err.Error()
			continue
		}
		item.Result = bi.Result
		if keys[j] != "" {
			h.cache.Put(keys[j], cfg, bi.Result)
		}
	}

	var scored []*scoring.ScoreResult
	for _, item := range resp.Results {
		if item.Result != nil {
			scored = append(scored, item.Result)
		}
	}
	if h.history != nil && len(scored) > 0 {
		run, err := h.history.SaveRun(ctx, source, scored)
		if err != nil {
			return nil, fmt.Errorf("failed to store run: %w", err)
		}
		resp.RunID = run.ID
	}

	h.logger.Info("scored repositories",
		"source", source,
		"requested", len(repos),
		"scored", len(scored),
		"config_version", cfg.Version,
	)
	return resp, nil
}

type classifyRequest struct {
	Signals stack.Signals `json:"signals"`
	Strict  bool          `json:"strict"`
}

type ambiguousResponse struct {
	Error      string          `json:"error"`
	Candidates []stack.Profile `json:"candidates"`
}

func (h *Handler) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cls, err := h.classifier.Classify(req.Signals, req.Strict)
	if err != nil {
		var amb *stack.AmbiguousStackError
		if errors.As(err, &amb) {
			writeJSON(w, http.StatusConflict, ambiguousResponse{Error: err.Error(), Candidates: amb.Candidates})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cls)
}
