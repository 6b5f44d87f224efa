package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"clipscope/internal/util"
	"clipscope/pkg/domain"
)

// Writer persists audit entries.
type Writer interface {
	AppendAudit(domain.AuditLogEntry) error
}

// Event is one auditable action.
type Event struct {
	UserID    string
	Action    domain.AuditAction
	Platform  domain.PlatformID
	URL       string
	Success   bool
	Outcome   string // defaults to success/fail from Success
	Details   map[string]any
	IPAddress string
	UserAgent string
}

// Recorder writes audit entries and feeds the alerter. Writing is best
// effort: failures are logged and never surface to the caller.
type Recorder struct {
	writer  Writer
	alerter *Alerter
	now     func() time.Time
}

func NewRecorder(writer Writer, alerter *Alerter) *Recorder {
	return &Recorder{writer: writer, alerter: alerter, now: time.Now}
}

// Record stores e and returns the persisted entry.
func (r *Recorder) Record(ctx context.Context, e Event) domain.AuditLogEntry {
	logger := util.LoggerFromContext(ctx)
	entry := domain.AuditLogEntry{
		ID:        uuid.NewString(),
		UserID:    e.UserID,
		Action:    e.Action,
		Platform:  e.Platform,
		URL:       e.URL,
		Success:   e.Success,
		IPAddress: e.IPAddress,
		UserAgent: e.UserAgent,
		CreatedAt: r.now().UTC(),
	}
	if len(e.Details) > 0 {
		if raw, err := json.Marshal(e.Details); err == nil {
			entry.Details = raw
		} else {
			logger.Warn("audit details encode failed", "action", e.Action, "err", err)
		}
	}

	outcome := e.Outcome
	if outcome == "" {
		outcome = OutcomeFail
		if e.Success {
			outcome = OutcomeSuccess
		}
	}
	logAttrs := []any{
		"action", e.Action,
		"outcome", outcome,
		"user_id", e.UserID,
		"platform", e.Platform,
		"ip", e.IPAddress,
	}
	if e.Success {
		logger.Info("security_event", logAttrs...)
	} else {
		logger.Warn("security_event", logAttrs...)
	}

	if r.writer != nil {
		if err := r.writer.AppendAudit(entry); err != nil {
			logger.Error("audit write failed", "action", e.Action, "user_id", e.UserID, "err", err)
		}
	}
	r.observe(ctx, e.Action, outcome, e.IPAddress)
	return entry
}

// RateLimited reports a throttled request to the alerter without
// persisting an audit entry.
func (r *Recorder) RateLimited(ctx context.Context, action domain.AuditAction, userID, ip string) {
	util.LoggerFromContext(ctx).Warn("security_event", "action", action, "outcome", OutcomeRateLimited, "user_id", userID, "ip", ip)
	r.observe(ctx, action, OutcomeRateLimited, ip)
}

func (r *Recorder) observe(ctx context.Context, action domain.AuditAction, outcome, ip string) {
	if r.alerter == nil {
		return
	}
	res, err := r.alerter.Observe(ctx, action, outcome, ip)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("security alert observe failed", "action", action, "err", err)
		return
	}
	if res.Triggered {
		util.LoggerFromContext(ctx).Warn("security_alert",
			"action", action,
			"outcome", outcome,
			"ip", ip,
			"count", res.Count,
			"threshold", res.Threshold,
			"window", res.Window.String(),
		)
	}
}
