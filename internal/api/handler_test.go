package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/readyscore/readyscore/internal/ledger"
	"github.com/readyscore/readyscore/internal/results"
	"github.com/readyscore/readyscore/pkg/evidence"
	"github.com/readyscore/readyscore/pkg/scoring"
	"github.com/readyscore/readyscore/pkg/stack"
)

type memHistory struct {
	mu   sync.Mutex
	runs []results.Run
	rows []results.ScoreRow
}

func (m *memHistory) SaveRun(_ context.Context, source string, res []*scoring.ScoreResult) (*results.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, rows, err := results.NewRun(source, res, time.Now())
	if err != nil {
		return nil, err
	}
	m.runs = append(m.runs, run)
	m.rows = append(m.rows, rows...)
	return &run, nil
}

func (m *memHistory) ListScoresByRepo(_ context.Context, repositoryID string, limit int) ([]results.ScoreRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []results.ScoreRow
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].RepositoryID != repositoryID {
			continue
		}
		out = append(out, m.rows[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memHistory) GetScore(_ context.Context, id string) (*results.ScoreRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == id {
			row := m.rows[i]
			return &row, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", id, results.ErrNotFound)
}

type memLedger struct {
	entries []ledger.Entry
}

func (m *memLedger) Active(_ context.Context, target string) (ledger.Entry, error) {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].Target == target {
			return m.entries[i], nil
		}
	}
	return ledger.Entry{}, ledger.ErrNoActive
}

func (m *memLedger) History(_ context.Context, profile string, limit int) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].Profile == profile {
			out = append(out, m.entries[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newTestHandler(t *testing.T, opts Options) (*Handler, *http.ServeMux) {
	t.Helper()
	active, err := scoring.NewActiveConfig(scoring.DefaultConfig())
	if err != nil {
		t.Fatalf("NewActiveConfig: %v", err)
	}
	h := NewHandler(active, opts)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h, mux
}

func do(t *testing.T, mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

const apiRepo = `{
  "repository_id": "org/api",
  "stack": "python_backend",
  "evidence": [
    {"criterion_id": "test_coverage", "raw_value": 0.8, "method": "measured", "confidence": 0.9},
    {"criterion_id": "vulnerabilities", "raw_value": 0, "method": "measured", "confidence": 0.9}
  ]
}`

const mixedSignals = `{
  "files": ["requirements.txt", "package.json", "manage.py"],
  "dependencies": ["react"],
  "extensions": {".py": 4, ".html": 1}
}`

func TestScoreStoresRunAndCaches(t *testing.T) {
	hist := &memHistory{}
	_, mux := newTestHandler(t, Options{History: hist})

	rec := do(t, mux, http.MethodPost, "/api/v1/score", apiRepo)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[scoreResponse](t, rec)
	if resp.ConfigVersion != scoring.DefaultVersion {
		t.Errorf("config version = %q", resp.ConfigVersion)
	}
	if resp.RunID == "" {
		t.Error("expected a run id when history is configured")
	}
	if len(resp.Results) != 1 || resp.Results[0].Result == nil {
		t.Fatalf("results = %+v", resp.Results)
	}
	first := resp.Results[0]
	if first.Cached {
		t.Error("first request should not be served from cache")
	}
	if first.Result.TotalScore <= 0 || first.Result.StackProfile != stack.PythonBackend {
		t.Errorf("result total=%v stack=%s", first.Result.TotalScore, first.Result.StackProfile)
	}

	resp = decode[scoreResponse](t, do(t, mux, http.MethodPost, "/api/v1/score", apiRepo))
	if !resp.Results[0].Cached {
		t.Error("identical request should be served from cache")
	}
	if resp.Results[0].Result.TotalScore != first.Result.TotalScore {
		t.Errorf("cached total = %v, want %v", resp.Results[0].Result.TotalScore, first.Result.TotalScore)
	}
	if len(hist.runs) != 2 || len(hist.rows) != 2 {
		t.Errorf("stored %d runs and %d rows, want 2 and 2", len(hist.runs), len(hist.rows))
	}
}

func TestScoreIsolatesFailures(t *testing.T) {
	_, mux := newTestHandler(t, Options{})

	body := `[` + apiRepo + `,
	  {"repository_id": "org/odd", "stack": "cobol"},
	  {"stack": "python_backend"}
	]`
	rec := do(t, mux, http.MethodPost, "/api/v1/score", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[scoreResponse](t, rec)
	if resp.RunID != "" {
		t.Errorf("run id = %q without history", resp.RunID)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(resp.Results))
	}
	if resp.Results[0].Result == nil || resp.Results[0].Error != "" {
		t.Errorf("first repository should score: %+v", resp.Results[0])
	}
	if resp.Results[1].Result != nil || resp.Results[1].Error == "" {
		t.Errorf("unknown stack should fail alone: %+v", resp.Results[1])
	}
	if resp.Results[2].Error != "repository_id is required" {
		t.Errorf("missing id error = %q", resp.Results[2].Error)
	}
}

func TestScoreStrictAmbiguousStack(t *testing.T) {
	_, mux := newTestHandler(t, Options{})

	// Fully matches both the React and the Django template profiles.
	body := `{"repository_id": "org/mono", "signals": ` + mixedSignals + `}`
	resp := decode[scoreResponse](t, do(t, mux, http.MethodPost, "/api/v1/score?strict=true", body))
	item := resp.Results[0]
	if item.Result != nil || len(item.Candidates) < 2 {
		t.Fatalf("expected ambiguous-stack error with candidates, got %+v", item)
	}
}

func TestScoreRejectsBadBodies(t *testing.T) {
	_, mux := newTestHandler(t, Options{})
	for _, body := range []string{"", "[]", "{not json"} {
		if rec := do(t, mux, http.MethodPost, "/api/v1/score", body); rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestClassify(t *testing.T) {
	_, mux := newTestHandler(t, Options{})

	rec := do(t, mux, http.MethodPost, "/api/v1/classify",
		`{"signals": {"files": ["requirements.txt"], "extensions": {".py": 10}}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	cls := decode[stack.Classification](t, rec)
	if cls.Profile != stack.PythonBackend {
		t.Errorf("profile = %s, want %s", cls.Profile, stack.PythonBackend)
	}
	if len(cls.Candidates) == 0 {
		t.Error("expected candidates in response")
	}

	rec = do(t, mux, http.MethodPost, "/api/v1/classify", `{"strict": true, "signals": `+mixedSignals+`}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("strict ambiguous status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
	if amb := decode[ambiguousResponse](t, rec); len(amb.Candidates) < 2 {
		t.Errorf("candidates = %v", amb.Candidates)
	}
}

func TestRubricGetAndReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scoring_config.yaml")
	h, mux := newTestHandler(t, Options{RubricPath: path})

	rec := do(t, mux, http.MethodGet, "/api/v1/rubric", "")
	if got := decode[scoring.Config](t, rec); got.Version != scoring.DefaultVersion {
		t.Errorf("rubric version = %q", got.Version)
	}
	rec = do(t, mux, http.MethodGet, "/api/v1/rubric?format=yaml", "")
	if ct := rec.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "version: "+scoring.DefaultVersion) {
		t.Errorf("yaml body missing version:\n%s", rec.Body.String())
	}

	// Prime the cache under the built-in rubric.
	do(t, mux, http.MethodPost, "/api/v1/score", apiRepo)

	next := scoring.DefaultConfig()
	next.Version = "team-2"
	data, err := scoring.MarshalConfig(next, false)
	if err != nil {
		t.Fatalf("MarshalConfig: %v", err)
	}
	req := httptest.NewRequest(http.MethodPut, "/api/v1/rubric", bytes.NewReader(data))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("replace status = %d: %s", rec.Code, rec.Body.String())
	}
	upd := decode[rubricUpdateResponse](t, rec)
	if upd.Version != "team-2" || upd.Previous != scoring.DefaultVersion || !upd.Persisted {
		t.Errorf("update = %+v", upd)
	}
	if v := h.active.Snapshot().Version; v != "team-2" {
		t.Errorf("active version = %q", v)
	}
	onDisk, err := scoring.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if onDisk.Version != "team-2" {
		t.Errorf("persisted version = %q", onDisk.Version)
	}

	resp := decode[scoreResponse](t, do(t, mux, http.MethodPost, "/api/v1/score", apiRepo))
	if resp.Results[0].Cached {
		t.Error("results computed under the old rubric must not be served")
	}
	if resp.Results[0].Result.ConfigVersion != "team-2" {
		t.Errorf("scored under %q", resp.Results[0].Result.ConfigVersion)
	}

	if rec := do(t, mux, http.MethodPut, "/api/v1/rubric", "{not json"); rec.Code != http.StatusBadRequest {
		t.Errorf("garbage rubric status = %d, want 400", rec.Code)
	}
	if rec := do(t, mux, http.MethodPut, "/api/v1/rubric", `{"version": "empty", "blocks": []}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid rubric status = %d, want 422", rec.Code)
	}
	if v := h.active.Snapshot().Version; v != "team-2" {
		t.Errorf("rejected uploads changed the active rubric to %q", v)
	}
}

func TestScoreHistoryEndpoints(t *testing.T) {
	_, bare := newTestHandler(t, Options{})
	if rec := do(t, bare, http.MethodGet, "/api/v1/repos/x/scores", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("without history status = %d, want 503", rec.Code)
	}

	hist := &memHistory{}
	_, mux := newTestHandler(t, Options{History: hist})
	do(t, mux, http.MethodPost, "/api/v1/score", apiRepo)

	rec := do(t, mux, http.MethodGet, "/api/v1/repos/org%2Fapi/scores", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	list := decode[[]storedScoreResponse](t, rec)
	if len(list) != 1 || list[0].RepositoryID != "org/api" || list[0].Result != nil {
		t.Fatalf("list = %+v", list)
	}

	rec = do(t, mux, http.MethodGet, "/api/v1/scores/"+list[0].ID, "")
	full := decode[storedScoreResponse](t, rec)
	if full.Result == nil || full.Result.TotalScore != list[0].TotalScore {
		t.Errorf("full score = %+v", full)
	}

	if rec := do(t, mux, http.MethodGet, "/api/v1/scores/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing score status = %d, want 404", rec.Code)
	}
	if rec := do(t, mux, http.MethodGet, "/api/v1/repos/nobody/scores", ""); rec.Body.String() != "[]\n" {
		t.Errorf("empty list body = %q", rec.Body.String())
	}
}

func TestRescoreReplaysStoredEvidence(t *testing.T) {
	hist := &memHistory{}
	_, mux := newTestHandler(t, Options{History: hist})
	do(t, mux, http.MethodPost, "/api/v1/score", apiRepo)

	rec := do(t, mux, http.MethodPost, "/api/v1/rescore", `{"repo_id": "org/api"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[rescoreResponse](t, rec)
	if resp.Rescored != 1 || resp.Errors != 0 || resp.RunID == "" {
		t.Fatalf("rescore = %+v", resp)
	}
	ch := resp.Changes[0]
	if ch.Total != ch.PreviousTotal {
		t.Errorf("same rubric changed the total: %v -> %v", ch.PreviousTotal, ch.Total)
	}
	if hist.runs[1].Source != "rescore" {
		t.Errorf("run source = %q", hist.runs[1].Source)
	}

	if rec := do(t, mux, http.MethodPost, "/api/v1/rescore", `{"repo_id": "nobody"}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown repo status = %d, want 404", rec.Code)
	}
	if rec := do(t, mux, http.MethodPost, "/api/v1/rescore", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing repo_id status = %d, want 400", rec.Code)
	}
}

func TestListPromotions(t *testing.T) {
	led := &memLedger{entries: []ledger.Entry{
		{ID: "v1", Profile: "team", Action: ledger.ActionPromote, Target: "rubric.yaml"},
		{ID: "v2", ParentID: "v1", Profile: "team", Action: ledger.ActionRollback, Target: "rubric.yaml"},
		{ID: "v3", Profile: "other", Action: ledger.ActionPromote, Target: "rubric.yaml"},
	}}
	_, mux := newTestHandler(t, Options{Ledger: led})

	got := decode[[]ledger.Entry](t, do(t, mux, http.MethodGet, "/api/v1/profiles/team/promotions", ""))
	if len(got) != 2 || got[0].ID != "v2" || got[1].ID != "v1" {
		t.Errorf("history = %+v", got)
	}
	got = decode[[]ledger.Entry](t, do(t, mux, http.MethodGet, "/api/v1/profiles/team/promotions?limit=1", ""))
	if len(got) != 1 {
		t.Errorf("limited history has %d entries", len(got))
	}
	if body := do(t, mux, http.MethodGet, "/api/v1/profiles/none/promotions", "").Body.String(); body != "[]\n" {
		t.Errorf("empty history body = %q", body)
	}
}

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := do(t, CORS(ok), http.MethodOptions, "/api/v1/score", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight status=%d headers=%v", rec.Code, rec.Header())
	}

	if rec := do(t, APIKeyAuth("")(ok), http.MethodGet, "/", ""); rec.Code != http.StatusTeapot {
		t.Errorf("empty key should pass through, got %d", rec.Code)
	}
	guarded := APIKeyAuth("s3cret")(ok)
	if rec := do(t, guarded, http.MethodGet, "/", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key status = %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "s3cret")
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	if rec.Code != http.StatusTeapot {
		t.Errorf("valid key status = %d", rec.Code)
	}

	var buf bytes.Buffer
	logged := RequestLog(slog.New(slog.NewTextHandler(&buf, nil)))(ok)
	do(t, logged, http.MethodGet, "/healthz", "")
	if !strings.Contains(buf.String(), "path=/healthz") || !strings.Contains(buf.String(), "status=418") {
		t.Errorf("log line = %q", buf.String())
	}
}


func TestSubmitRecordsSource(t *testing.T) {
	hist := &memHistory{}
	h, _ := newTestHandler(t, Options{History: hist})

	repos, err := evidence.ParseRepositories([]byte(`[` + apiRepo + `, {"repository_id": ""}]`))
	if err != nil {
		t.Fatalf("ParseRepositories: %v", err)
	}
	runID, scored, err := h.Submit(context.Background(), "webhook:nightly", repos)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if scored != 1 || runID == "" {
		t.Errorf("scored = %d, run = %q", scored, runID)
	}
	if len(hist.runs) != 1 || hist.runs[0].Source != "webhook:nightly" {
		t.Errorf("runs = %+v", hist.runs)
	}
}
