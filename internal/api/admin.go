package api

import (
	"io"
	"net/http"

	"github.com/readyscore/readyscore/pkg/scoring"
)

type rubricUpdateResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Previous  string `json:"previous_version"`
	Persisted bool   `json:"persisted"`
}

// handleGetRubric returns the active rubric. ?format=yaml returns the file
// form used on disk.
func (h *Handler) handleGetRubric(w http.ResponseWriter, r *http.Request) {
	cfg := h.active.Snapshot()
	if r.URL.Query().Get("format") != "yaml" {
		writeJSON(w, http.StatusOK, cfg)
		return
	}
	data, err := scoring.MarshalConfig(cfg, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode rubric: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleReplaceRubric validates an uploaded rubric (YAML or JSON) and makes
// it active. When the handler has a rubric path the file is rewritten too,
// so a restart keeps the new rubric.
func (h *Handler) handleReplaceRubric(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}
	cfg, err := scoring.ParseConfig(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	previous := h.active.Snapshot().Version
	resp := rubricUpdateResponse{Status: "active", Version: cfg.Version, Previous: previous}
	if h.rubricPath != "" {
		if err := scoring.SaveConfigAtomic(h.rubricPath, cfg); err != nil {
			writeError(w, http.StatusInternalServerError, "persist rubric: "+err.Error())
			return
		}
		resp.Persisted = true
	}
	if err := h.active.Swap(cfg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	h.logger.Info("rubric replaced", "version", cfg.Version, "previous", previous, "persisted", resp.Persisted)
	writeJSON(w, http.StatusOK, resp)
}
