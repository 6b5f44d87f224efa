package audit

import (
	"context"
	"time"

	"clipscope/internal/util"
)

// AuditPurger deletes audit entries older than a cutoff.
type AuditPurger interface {
	DeleteAuditBefore(cutoff time.Time) (int64, error)
}

// UsagePurger deletes usage counters older than a number of months.
type UsagePurger interface {
	Purge(months int) (int64, error)
}

// RetentionConfig controls the sweeper.
type RetentionConfig struct {
	Interval    time.Duration
	AuditMaxAge time.Duration
	UsageMonths int
}

// DefaultRetention keeps 90 days of audit logs and 6 months of usage.
func DefaultRetention() RetentionConfig {
	return RetentionConfig{
		Interval:    time.Hour,
		AuditMaxAge: 90 * 24 * time.Hour,
		UsageMonths: 6,
	}
}

// Sweeper periodically removes expired audit and usage rows.
type Sweeper struct {
	audit AuditPurger
	usage UsagePurger
	cfg   RetentionConfig
	now   func() time.Time
}

func NewSweeper(audit AuditPurger, usage UsagePurger, cfg RetentionConfig) *Sweeper {
	def := DefaultRetention()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.AuditMaxAge <= 0 {
		cfg.AuditMaxAge = def.AuditMaxAge
	}
	if cfg.UsageMonths <= 0 {
		cfg.UsageMonths = def.UsageMonths
	}
	return &Sweeper{audit: audit, usage: usage, cfg: cfg, now: time.Now}
}

// SweepOnce runs one retention pass.
func (s *Sweeper) SweepOnce() (auditDeleted, usageDeleted int64, err error) {
	if s.audit != nil {
		auditDeleted, err = s.audit.DeleteAuditBefore(s.now().UTC().Add(-s.cfg.AuditMaxAge))
		if err != nil {
			return 0, 0, err
		}
	}
	if s.usage != nil {
		usageDeleted, err = s.usage.Purge(s.cfg.UsageMonths)
		if err != nil {
			return auditDeleted, 0, err
		}
	}
	return auditDeleted, usageDeleted, nil
}

// Run sweeps on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			auditDeleted, usageDeleted, err := s.SweepOnce()
			if err != nil {
				util.LoggerFromContext(ctx).Error("retention sweep failed", "err", err)
				continue
			}
			if auditDeleted > 0 || usageDeleted > 0 {
				util.LoggerFromContext(ctx).Info("retention sweep", "audit_deleted", auditDeleted, "usage_deleted", usageDeleted)
			}
		}
	}
}
