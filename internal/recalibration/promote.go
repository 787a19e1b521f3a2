package recalibration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/readyscore/readyscore/internal/ledger"
	"github.com/readyscore/readyscore/pkg/scoring"
)

const backupStamp = "20060102_150405.000"

// Promote copies the profile's calibrated rubric over the active rubric at
// target. The previous contents of target, if any, are first stored in the
// profile namespace so the promotion can be rolled back. This is the only
// operation that writes the active rubric.
func (m *Manager) Promote(ctx context.Context, name, target string) (*Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.load(ctx, Slugify(name))
	if err != nil {
		return nil, err
	}
	if p.State != StateCalibrated && p.State != StatePromoted {
		return nil, &TransitionError{Profile: p.Slug, Op: ActionPromote, State: p.State}
	}
	if target == "" {
		return nil, errors.New("promotion target is required")
	}

	data, err := m.store.Get(ctx, profileKey(p.Slug, keyProfileConfig))
	if err != nil {
		return nil, fmt.Errorf("reading profile rubric: %w", err)
	}
	cfg, err := scoring.ParseConfig(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("profile rubric: %w", err)
	}

	now := m.now().UTC()
	promo := Promotion{At: now, Target: target, Version: cfg.Version}

	previous, err := os.ReadFile(target)
	existed := err == nil
	switch {
	case err == nil:
		promo.BackupKey = profileKey(p.Slug, keyBackups+"/"+filepath.Base(target)+".backup."+now.Format(backupStamp))
		if err := m.store.Put(ctx, promo.BackupKey, previous); err != nil {
			return nil, fmt.Errorf("backing up active rubric: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading active rubric: %w", err)
	}

	if err := scoring.SaveConfigAtomic(target, cfg); err != nil {
		return nil, fmt.Errorf("writing active rubric: %w", err)
	}
	// From here on a failure puts the previous rubric back, so the target
	// never holds a rubric the profile has no record of.
	undo := func(cause error) error {
		if rerr := restoreTarget(target, previous, existed); rerr != nil {
			return errors.Join(cause, fmt.Errorf("restoring previous rubric: %w", rerr))
		}
		m.logger.Warn("promotion reverted", "profile", p.Slug, "target", target, "error", cause)
		return cause
	}

	written, err := os.ReadFile(target)
	if err != nil {
		return nil, undo(fmt.Errorf("reading promoted rubric: %w", err))
	}

	if m.ledger != nil {
		e, err := m.ledger.Record(ctx, ledger.Entry{
			Profile:       p.Slug,
			Action:        ledger.ActionPromote,
			RubricVersion: cfg.Version,
			Checksum:      checksum(written),
			Target:        target,
			BackupKey:     promo.BackupKey,
		})
		if err != nil {
			return nil, undo(fmt.Errorf("recording promotion: %w", err))
		}
		promo.LedgerID = e.ID
	}

	p.Promotions = append(p.Promotions, promo)
	p.State = StatePromoted
	if err := m.save(ctx, p); err != nil {
		err = undo(err)
		if m.ledger != nil {
			// the promote entry is already recorded; balance it
			if _, lerr := m.ledger.Record(ctx, ledger.Entry{
				Profile:       p.Slug,
				Action:        ledger.ActionRollback,
				RubricVersion: versionOf(previous),
				Checksum:      checksum(previous),
				Target:        target,
				BackupKey:     promo.BackupKey,
			}); lerr != nil {
				err = errors.Join(err, fmt.Errorf("recording reverted promotion: %w", lerr))
			}
		}
		return nil, err
	}
	m.logger.Info("profile promoted",
		"profile", p.Slug,
		"target", target,
		"version", cfg.Version,
		"backup", promo.BackupKey,
	)
	m.observe(ActionPromote)
	return &promo, nil
}

// Rollback undoes the profile's most recent live promotion by restoring
// the rubric it replaced. When the promotion created the target file, the
// file is removed.
func (m *Manager) Rollback(ctx context.Context, name string) (*Promotion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.load(ctx, Slugify(name))
	if err != nil {
		return nil, err
	}
	idx := -1
	for i := len(p.Promotions) - 1; i >= 0; i-- {
		if !p.Promotions[i].RolledBack {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%s: %w", p.Slug, ErrNothingToRollback)
	}
	promo := &p.Promotions[idx]

	var restored []byte
	version := ""
	if promo.BackupKey != "" {
		restored, err = m.store.Get(ctx, promo.BackupKey)
		if err != nil {
			return nil, fmt.Errorf("reading backup: %w", err)
		}
		if err := scoring.WriteFileAtomic(promo.Target, restored); err != nil {
			return nil, fmt.Errorf("restoring active rubric: %w", err)
		}
		version = versionOf(restored)
	} else if err := os.Remove(promo.Target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing promoted rubric: %w", err)
	}

	if m.ledger != nil {
		_, err := m.ledger.Record(ctx, ledger.Entry{
			Profile:       p.Slug,
			Action:        ledger.ActionRollback,
			RubricVersion: version,
			Checksum:      checksum(restored),
			Target:        promo.Target,
			BackupKey:     promo.BackupKey,
		})
		if err != nil {
			return nil, fmt.Errorf("recording rollback: %w", err)
		}
	}

	promo.RolledBack = true
	p.State = StateCalibrated
	for _, pr := range p.Promotions {
		if !pr.RolledBack {
			p.State = StatePromoted
			break
		}
	}
	if err := m.save(ctx, p); err != nil {
		return nil, err
	}
	m.logger.Info("promotion rolled back", "profile", p.Slug, "target", promo.Target, "restored_version", version)
	m.observe(ActionRollback)
	out := *promo
	return &out, nil
}

// restoreTarget puts back what target held before a promotion, or removes
// it when the promotion created it.
func restoreTarget(target string, previous []byte, existed bool) error {
	if existed {
		return scoring.WriteFileAtomic(target, previous)
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func versionOf(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	cfg, err := scoring.ParseConfig(data)
	if err != nil {
		return ""
	}
	return cfg.Version
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
