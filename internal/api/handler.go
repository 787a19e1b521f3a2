// Package api implements the hosted readiness-scoring REST API.
// It scores submitted evidence against the active rubric and, when a
// database is configured, serves per-repository score history.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/readyscore/readyscore/internal/ledger"
	"github.com/readyscore/readyscore/internal/results"
	"github.com/readyscore/readyscore/pkg/scoring"
	"github.com/readyscore/readyscore/pkg/stack"
)

// ScoreHistory persists evaluation runs. *results.Service implements it.
type ScoreHistory interface {
	SaveRun(ctx context.Context, source string, res []*scoring.ScoreResult) (*results.Run, error)
	ListScoresByRepo(ctx context.Context, repositoryID string, limit int) ([]results.ScoreRow, error)
	GetScore(ctx context.Context, id string) (*results.ScoreRow, error)
}

// PromotionLedger exposes recorded rubric promotions. *ledger.Store
// implements it.
type PromotionLedger interface {
	Active(ctx context.Context, target string) (ledger.Entry, error)
	History(ctx context.Context, profile string, limit int) ([]ledger.Entry, error)
}

// Options configure optional handler dependencies. Zero values disable the
// matching endpoints or fall back to defaults.
type Options struct {
	History    ScoreHistory
	Ledger     PromotionLedger
	Cache      *ResultCache
	Classifier *stack.Classifier
	// Workers bounds parallel scoring of multi-repository requests.
	Workers int
	// RubricPath, when set, is where admin rubric uploads are persisted.
	RubricPath    string
	EngineOptions []scoring.Option
	Logger        *slog.Logger
}

// Handler is the top-level API handler for the hosted scoring service.
type Handler struct {
	active     *scoring.ActiveConfig
	history    ScoreHistory
	ledger     PromotionLedger
	cache      *ResultCache
	classifier *stack.Classifier
	workers    int
	rubricPath string
	engineOpts []scoring.Option
	logger     *slog.Logger
}

// NewHandler creates a new API handler serving the rubric held by active.
func NewHandler(active *scoring.ActiveConfig, opts Options) *Handler {
	h := &Handler{
		active:     active,
		history:    opts.History,
		ledger:     opts.Ledger,
		cache:      opts.Cache,
		classifier: opts.Classifier,
		workers:    opts.Workers,
		rubricPath: opts.RubricPath,
		engineOpts: opts.EngineOptions,
		logger:     opts.Logger,
	}
	if h.cache == nil {
		h.cache = NewResultCacheFromEnv()
	}
	if h.classifier == nil {
		h.classifier = stack.NewClassifier(stack.DefaultOptions())
	}
	if h.workers <= 0 {
		h.workers = 4
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// RegisterRoutes registers all API routes on the given ServeMux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Write endpoints (auth-protected)
	mux.HandleFunc("POST /api/v1/score", h.handleScore)
	mux.HandleFunc("POST /api/v1/rescore", h.handleRescore)
	mux.HandleFunc("PUT /api/v1/rubric", h.handleReplaceRubric)

	// Read endpoints
	mux.HandleFunc("POST /api/v1/classify", h.handleClassify)
	mux.HandleFunc("GET /api/v1/rubric", h.handleGetRubric)
	mux.HandleFunc("GET /api/v1/repos/{repoID}/scores", h.handleListScores)
	mux.HandleFunc("GET /api/v1/scores/{scoreID}", h.handleGetScore)
	mux.HandleFunc("GET /api/v1/profiles/{profile}/promotions", h.handleListPromotions)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
