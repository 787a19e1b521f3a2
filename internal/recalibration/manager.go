// Package recalibration manages named recalibration profiles. Each profile
// owns an isolated artifact namespace holding its label sheet, calibration
// reports, proposed patch and candidate rubric. Nothing a profile produces
// affects scoring until Promote copies its rubric over the active one.
package recalibration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/readyscore/readyscore/internal/ledger"
	"github.com/readyscore/readyscore/pkg/calibration"
	"github.com/readyscore/readyscore/pkg/tuning"
)

// State is a profile's position in its lifecycle.
type State string

const (
	StateCreated        State = "created"
	StateLabelsPrepared State = "labels_prepared"
	StateCalibrated     State = "calibrated"
	StatePromoted       State = "promoted"
)

// Profile actions reported to the Observer.
const (
	ActionCreate    = "create"
	ActionPrepare   = "prepare"
	ActionSplit     = "split"
	ActionCalibrate = "calibrate"
	ActionSuppress  = "suppress"
	ActionPromote   = "promote"
	ActionRollback  = "rollback"
)

var (
	// ErrProfileNotFound is returned for operations on a profile that was
	// never created.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrProfileExists is returned by Create for an existing profile.
	ErrProfileExists = errors.New("profile already exists")
	// ErrLabelsExist is returned by Prepare when the profile already has a
	// label sheet and Force is not set.
	ErrLabelsExist = errors.New("profile already has labels")
	// ErrNothingToRollback is returned when a profile has no live promotion.
	ErrNothingToRollback = errors.New("no promotion to roll back")
)

// TransitionError reports an operation attempted from the wrong state.
type TransitionError struct {
	Profile string
	Op      string
	State   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("profile %s: cannot %s from state %s", e.Profile, e.Op, e.State)
}

// Profile is the persisted state of one recalibration profile.
type Profile struct {
	Name        string             `json:"name"`
	Slug        string             `json:"slug"`
	State       State              `json:"state"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	LabelCount  int                `json:"label_count"`
	Calibration *CalibrationRecord `json:"calibration,omitempty"`
	Promotions  []Promotion        `json:"promotions,omitempty"`
}

// CalibrationRecord summarizes the most recent successful calibration.
type CalibrationRecord struct {
	At             time.Time `json:"at"`
	RequestedStack string    `json:"requested_stack"`
	ResolvedStack  string    `json:"resolved_stack"`
	Strict         bool      `json:"strict"`
	SampleSize     int       `json:"sample_size"`
	BaseVersion    string    `json:"base_version"`
	ProfileVersion string    `json:"profile_version"`
	Changes        int       `json:"changes"`
}

// Promotion records one copy of the profile rubric over an active rubric.
type Promotion struct {
	At         time.Time `json:"at"`
	Target     string    `json:"target"`
	Version    string    `json:"version"`
	BackupKey  string    `json:"backup_key,omitempty"`
	LedgerID   string    `json:"ledger_id,omitempty"`
	RolledBack bool      `json:"rolled_back,omitempty"`
}

// Recorder persists promotion history. *ledger.Store implements it.
type Recorder interface {
	Record(ctx context.Context, e ledger.Entry) (ledger.Entry, error)
}

// Observer is notified of completed profile actions.
type Observer interface {
	ObserveProfileAction(action string)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLedger records promotions and rollbacks in r.
func WithLedger(r Recorder) Option {
	return func(m *Manager) { m.ledger = r }
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithObserver sets the action observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithCalibrationOptions sets the evaluator options used by Calibrate.
func WithCalibrationOptions(o calibration.Options) Option {
	return func(m *Manager) { m.calOpts = o }
}

// WithTuningOptions sets the tuner options used by Calibrate.
func WithTuningOptions(o tuning.Options) Option {
	return func(m *Manager) { m.tuneOpts = o }
}

// WithWorkers bounds the parallelism of re-scoring.
func WithWorkers(n int) Option {
	return func(m *Manager) { m.workers = n }
}

// Manager runs profile operations against a Store. Operations are
// serialized; a Manager is safe for concurrent use.
type Manager struct {
	store    Store
	ledger   Recorder
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
	calOpts  calibration.Options
	tuneOpts tuning.Options
	workers  int

	mu sync.Mutex
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		logger:   slog.Default(),
		now:      time.Now,
		calOpts:  calibration.DefaultOptions(),
		tuneOpts: tuning.DefaultOptions(),
		workers:  4,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Slugify turns a profile name into its namespace key: lowercase letters,
// digits, '-' and '_', with runs of other characters collapsed to '-'.
// An empty result becomes "default".
func Slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	slug := b.String()
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-_")
	if slug == "" {
		return "default"
	}
	return slug
}

// Artifact keys, relative to a profile's namespace.
const (
	keyState         = "state.json"
	keyLabels        = "labels/golden_set.csv"
	keySplitSummary  = "labels/by_stack/split_summary.json"
	keyReportBefore  = "artifacts/calibration_report.before"
	keyReportAfter   = "artifacts/calibration_report.after"
	keyPatch         = "artifacts/scoring_config_patch.json"
	keySummary       = "artifacts/recalibration_summary.json"
	keyProfileConfig = "configs/scoring_config.profile.yaml"
	keyBackups       = "configs/active_config_backups"
)

func profileKey(slug, key string) string {
	return slug + "/" + key
}

// Locate returns where a profile artifact lives in the backing store.
func (m *Manager) Locate(name, key string) string {
	return m.store.Locate(profileKey(Slugify(name), key))
}

// Create registers a new profile in state created.
func (m *Manager) Create(ctx context.Context, name string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slug := Slugify(name)
	if _, err := m.load(ctx, slug); err == nil {
		return nil, fmt.Errorf("%s: %w", slug, ErrProfileExists)
	} else if !errors.Is(err, ErrProfileNotFound) {
		return nil, err
	}

	now := m.now().UTC()
	p := &Profile{Name: name, Slug: slug, State: StateCreated, CreatedAt: now, UpdatedAt: now}
	if err := m.save(ctx, p); err != nil {
		return nil, err
	}
	m.logger.Info("profile created", "profile", slug)
	m.observe(ActionCreate)
	return p, nil
}

// Status returns a profile's persisted state.
func (m *Manager) Status(ctx context.Context, name string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(ctx, Slugify(name))
}

// loadOrCreate returns the profile, creating it when missing. Prepare is
// allowed to start a profile implicitly.
func (m *Manager) loadOrCreate(ctx context.Context, name string) (*Profile, error) {
	slug := Slugify(name)
	p, err := m.load(ctx, slug)
	if errors.Is(err, ErrProfileNotFound) {
		now := m.now().UTC()
		p = &Profile{Name: name, Slug: slug, State: StateCreated, CreatedAt: now, UpdatedAt: now}
		m.observe(ActionCreate)
		return p, nil
	}
	return p, err
}

func (m *Manager) load(ctx context.Context, slug string) (*Profile, error) {
	data, err := m.store.Get(ctx, profileKey(slug, keyState))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", slug, ErrProfileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", slug, err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", slug, err)
	}
	return &p, nil
}

func (m *Manager) save(ctx context.Context, p *Profile) error {
	p.UpdatedAt = m.now().UTC()
	return m.putJSON(ctx, profileKey(p.Slug, keyState), p)
}

func (m *Manager) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := m.store.Put(ctx, key, append(data, '\n')); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

func (m *Manager) observe(action string) {
	if m.observer != nil {
		m.observer.ObserveProfileAction(action)
	}
}
