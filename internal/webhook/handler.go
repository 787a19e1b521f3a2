// Package webhook receives signed evidence deliveries pushed by
// collectors and hands them to the scoring service.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/readyscore/readyscore/pkg/evidence"
)

// Scorer scores a batch of repositories. *api.Handler implements it.
type Scorer interface {
	Submit(ctx context.Context, source string, repos []evidence.Repository) (runID string, scored int, err error)
}

// Handler processes incoming collector deliveries.
type Handler struct {
	secret []byte
	scorer Scorer
	logger *slog.Logger
}

// NewHandler creates a new webhook Handler.
func NewHandler(secret []byte, scorer Scorer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{secret: secret, scorer: scorer, logger: logger}
}

type deliveryResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id,omitempty"`
	Scored int    `json:"scored"`
	Total  int    `json:"total"`
}

// ServeHTTP handles incoming delivery requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20)) // 10 MB limit
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	delivery := r.Header.Get(DeliveryHeader)
	if err := VerifySignature(body, r.Header.Get(SignatureHeader), h.secret); err != nil {
		h.logger.Warn("webhook signature verification failed", "delivery", delivery, "error", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	eventType := r.Header.Get(EventHeader)
	if eventType == "" {
		http.Error(w, "missing "+EventHeader+" header", http.StatusBadRequest)
		return
	}

	event, err := ParseEvent(eventType, body)
	if err != nil {
		h.logger.Warn("webhook parse error", "event", eventType, "delivery", delivery, "error", err)
		http.Error(w, "unsupported event", http.StatusBadRequest)
		return
	}

	switch e := event.(type) {
	case *PingEvent:
		h.logger.Info("collector ping", "collector", e.Collector, "delivery", delivery)
		writeJSON(w, deliveryResponse{Status: "pong"})

	case *EvidenceEvent:
		source := "webhook"
		if e.Collector != "" {
			source += ":" + e.Collector
		}
		runID, scored, err := h.scorer.Submit(r.Context(), source, e.Repositories)
		if err != nil {
			h.logger.Error("handle evidence event", "delivery", delivery, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, deliveryResponse{Status: "scored", RunID: runID, Scored: scored, Total: len(e.Repositories)})
	}
}

func writeJSON(w http.ResponseWriter, resp deliveryResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
