// Package results stores evaluation runs and their score results in
// Postgres so the daemon can serve per-repository score history.
package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/readyscore/readyscore/pkg/scoring"
)

// ErrNotFound is returned when a score does not exist.
var ErrNotFound = errors.New("score not found")

// Service provides score history backed by Postgres.
type Service struct {
	db *sql.DB
}

// NewService creates a new results Service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Run is one stored evaluation run.
type Run struct {
	ID              string
	Source          string
	ConfigVersion   string
	RepositoryCount int
	CreatedAt       time.Time
}

// ScoreRow is one stored score result.
type ScoreRow struct {
	ID                  string
	RunID               string
	RepositoryID        string
	StackProfile        string
	ConfigVersion       string
	TotalScore          float64
	MaxScore            float64
	DataCoveragePercent float64
	DataQualityStatus   string
	Category            string
	Result              json.RawMessage
	CreatedAt           time.Time
}

// Decode returns the full score result stored with the row.
func (r *ScoreRow) Decode() (*scoring.ScoreResult, error) {
	var res scoring.ScoreResult
	if err := json.Unmarshal(r.Result, &res); err != nil {
		return nil, fmt.Errorf("decode score %s: %w", r.ID, err)
	}
	return &res, nil
}

// NewRun builds the rows for one evaluation run without touching the
// database. Nil results are skipped; any result that fails the output
// contract rejects the whole run.
func NewRun(source string, results []*scoring.ScoreResult, now time.Time) (Run, []ScoreRow, error) {
	run := Run{ID: uuid.New().String(), Source: source, CreatedAt: now.UTC()}
	rows := make([]ScoreRow, 0, len(results))
	for _, res := range results {
		if res == nil {
			continue
		}
		if err := scoring.ValidateResult(res); err != nil {
			return Run{}, nil, fmt.Errorf("score %s: %w", res.RepositoryID, err)
		}
		data, err := json.Marshal(res)
		if err != nil {
			return Run{}, nil, fmt.Errorf("encode score %s: %w", res.RepositoryID, err)
		}
		if run.ConfigVersion == "" {
			run.ConfigVersion = res.ConfigVersion
		}
		rows = append(rows, ScoreRow{
			ID:                  uuid.New().String(),
			RunID:               run.ID,
			RepositoryID:        res.RepositoryID,
			StackProfile:        string(res.StackProfile),
			ConfigVersion:       res.ConfigVersion,
			TotalScore:          res.TotalScore,
			MaxScore:            res.MaxScore,
			DataCoveragePercent: res.DataCoveragePercent,
			DataQualityStatus:   res.DataQualityStatus,
			Category:            res.Category,
			Result:              data,
			CreatedAt:           run.CreatedAt,
		})
	}
	run.RepositoryCount = len(rows)
	return run, rows, nil
}

// SaveRun stores an evaluation run and its results in one transaction and
// returns the run.
func (s *Service) SaveRun(ctx context.Context, source string, results []*scoring.ScoreResult) (*Run, error) {
	run, rows, err := NewRun(source, results, time.Now())
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO evaluation_runs (id, source, config_version, repository_count, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Source, run.ConfigVersion, run.RepositoryCount, run.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	for _, r := range rows {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO scores (id, run_id, repository_id, stack_profile, config_version, total_score,
			   max_score, data_coverage_percent, data_quality_status, category, result, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			r.ID, r.RunID, r.RepositoryID, r.StackProfile, r.ConfigVersion, r.TotalScore,
			r.MaxScore, r.DataCoveragePercent, r.DataQualityStatus, r.Category, []byte(r.Result), r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("insert score %s: %w", r.RepositoryID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &run, nil
}

const scoreColumns = `id, run_id, repository_id, stack_profile, config_version, total_score,
	max_score, data_coverage_percent, data_quality_status, category, result, created_at`

// ListScoresByRepo returns a repository's scores, newest first. A limit of
// zero or less means no limit.
func (s *Service) ListScoresByRepo(ctx context.Context, repositoryID string, limit int) ([]ScoreRow, error) {
	query := `SELECT ` + scoreColumns + ` FROM scores WHERE repository_id = $1 ORDER BY created_at DESC`
	args := []any{repositoryID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}
	defer rows.Close()

	var out []ScoreRow
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// GetScore returns one stored score.
func (s *Service) GetScore(ctx context.Context, id string) (*ScoreRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scoreColumns+` FROM scores WHERE id = $1`, id)
	sc, err := scanScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get score %s: %w", id, err)
	}
	return &sc, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanScore(sc scanner) (ScoreRow, error) {
	var r ScoreRow
	var result []byte
	err := sc.Scan(&r.ID, &r.RunID, &r.RepositoryID, &r.StackProfile, &r.ConfigVersion, &r.TotalScore,
		&r.MaxScore, &r.DataCoveragePercent, &r.DataQualityStatus, &r.Category, &result, &r.CreatedAt)
	r.Result = result
	return r, err
}
