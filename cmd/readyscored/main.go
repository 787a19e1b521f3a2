// Command readyscored is the hosted readiness-scoring service.
// It serves the scoring API, Prometheus metrics, and a health check, and
// reloads the active rubric when a promotion rewrites it.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/readyscore/readyscore/internal/api"
	"github.com/readyscore/readyscore/internal/configwatch"
	"github.com/readyscore/readyscore/internal/ledger"
	"github.com/readyscore/readyscore/internal/platform"
	"github.com/readyscore/readyscore/internal/results"
	"github.com/readyscore/readyscore/internal/telemetry"
	"github.com/readyscore/readyscore/internal/webhook"
	appconfig "github.com/readyscore/readyscore/pkg/config"
	"github.com/readyscore/readyscore/pkg/scoring"
	"github.com/readyscore/readyscore/pkg/stack"
)

type config struct {
	Port        string
	DatabaseURL string
	RubricPath  string
	LedgerPath  string
	APIKey      string
	Workers     int
	Classifier  stack.Options
	// WebhookSecret enables the signed collector endpoint.
	WebhookSecret string
}

// loadConfig reads the optional config file named by READYSCORE_CONFIG and
// lets environment variables override it.
func loadConfig() (config, error) {
	file := appconfig.DefaultConfig()
	if path := os.Getenv("READYSCORE_CONFIG"); path != "" {
		var err error
		if file, err = appconfig.Load(path); err != nil {
			return config{}, err
		}
	}
	workers := file.Scoring.Workers
	if v := os.Getenv("READYSCORE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return config{}, errors.New("READYSCORE_WORKERS must be a positive integer")
		}
		workers = n
	}
	return config{
		Port:          envOrDefault("PORT", file.Server.Port),
		DatabaseURL:   envOrDefault("DATABASE_URL", file.Server.DatabaseURL),
		RubricPath:    envOrDefault("READYSCORE_RUBRIC", file.Scoring.Rubric),
		LedgerPath:    envOrDefault("READYSCORE_LEDGER", file.Profiles.Ledger),
		APIKey:        envOrDefault("READYSCORE_API_KEY", file.Server.APIKey),
		Workers:       workers,
		Classifier:    file.ClassifierOptions(),
		WebhookSecret: os.Getenv("READYSCORE_WEBHOOK_SECRET"),
	}, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("readyscored failed", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	var history api.ScoreHistory
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		if err := platform.AutoMigrate(db); err != nil {
			return err
		}
		history = results.NewService(db)
	} else {
		logger.Warn("DATABASE_URL not set, score history disabled")
	}

	var promotions api.PromotionLedger
	if cfg.LedgerPath != "" {
		led, err := ledger.Open(cfg.LedgerPath)
		if err != nil {
			return err
		}
		defer led.Close()
		promotions = led
	}

	rubric, err := scoring.LoadConfigOrDefault(cfg.RubricPath)
	if err != nil {
		return err
	}
	active, err := scoring.NewActiveConfig(rubric)
	if err != nil {
		return err
	}
	logger.Info("rubric loaded", "version", rubric.Version, "path", cfg.RubricPath)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.New(reg)

	handler := api.NewHandler(active, api.Options{
		History:       history,
		Ledger:        promotions,
		Classifier:    stack.NewClassifier(cfg.Classifier),
		Workers:       cfg.Workers,
		RubricPath:    cfg.RubricPath,
		EngineOptions: []scoring.Option{scoring.WithObserver(metrics), scoring.WithLogger(logger)},
		Logger:        logger,
	})

	// Only the scoring API sits behind the API key; collectors sign their
	// deliveries instead.
	apiMux := http.NewServeMux()
	handler.RegisterRoutes(apiMux)

	mux := http.NewServeMux()
	mux.Handle("/api/", api.APIKeyAuth(cfg.APIKey)(apiMux))
	if cfg.WebhookSecret != "" {
		mux.Handle("POST /v1/webhooks/collector", webhook.NewHandler([]byte(cfg.WebhookSecret), handler, logger))
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", healthHandler(db, active))

	root := api.CORS(api.RequestLog(logger)(mux))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.RubricPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.RubricPath), 0o755); err != nil {
			return err
		}
		w, err := configwatch.New(cfg.RubricPath, active, configwatch.WithLogger(logger))
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(gctx) })
	}
	g.Go(func() error {
		logger.Info("starting readyscored", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// healthHandler reports the active rubric version and, when a database is
// configured, whether it is reachable.
func healthHandler(db *sql.DB, active *scoring.ActiveConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "database unreachable"})
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "ok",
			"rubric": active.Snapshot().Version,
		})
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
