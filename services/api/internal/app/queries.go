package app

import (
	"context"

	"clipscope/pkg/audit"
	"clipscope/pkg/domain"
	"clipscope/pkg/usage"
)

const defaultHistoryLimit = 10

// UsageReport is the caller's usage snapshot plus the latest parses.
type UsageReport struct {
	usage.Snapshot
	Recent []domain.ParseRecord `json:"recent"`
}

// Usage returns current-month counters, quotas, totals and the ten most
// recent parse records.
func (a *App) Usage(ctx context.Context, c Caller) (UsageReport, error) {
	acct, err := a.lookupCaller(c)
	if err != nil {
		return UsageReport{}, err
	}
	snap, err := a.usage.Snapshot(acct.User.ID, acct.Plan)
	if err != nil {
		return UsageReport{}, a.internal(ctx, "usage snapshot", err)
	}
	recent, err := a.store.ListParseRecords(acct.User.ID, defaultHistoryLimit)
	if err != nil {
		return UsageReport{}, a.internal(ctx, "list parse records", err)
	}
	return UsageReport{Snapshot: snap, Recent: recent}, nil
}

// History lists the caller's most recent parse records.
func (a *App) History(ctx context.Context, c Caller, limit int) ([]domain.ParseRecord, error) {
	acct, err := a.lookupCaller(c)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	items, err := a.store.ListParseRecords(acct.User.ID, limit)
	if err != nil {
		return nil, a.internal(ctx, "list parse records", err)
	}
	return items, nil
}

// AuditQuery filters the caller's audit log.
type AuditQuery struct {
	Action   domain.AuditAction
	Platform domain.PlatformID
	Success  *bool
	Limit    int
	Offset   int
}

// AuditLog lists the caller's audit entries, newest first.
func (a *App) AuditLog(ctx context.Context, c Caller, q AuditQuery) ([]domain.AuditLogEntry, error) {
	acct, err := a.lookupCaller(c)
	if err != nil {
		return nil, err
	}
	switch q.Action {
	case "", domain.ActionParse, domain.ActionDownload:
	default:
		return nil, newError(KindInput, "action must be parse or download")
	}
	if q.Offset < 0 {
		return nil, newError(KindInput, "offset must be >= 0")
	}
	items, err := a.store.ListAudit(domain.AuditFilter{
		UserID:   acct.User.ID,
		Action:   q.Action,
		Platform: q.Platform,
		Success:  q.Success,
		Limit:    q.Limit,
		Offset:   q.Offset,
	})
	if err != nil {
		return nil, a.internal(ctx, "list audit", err)
	}
	return items, nil
}

// AuditReport combines aggregate counts with the abuse assessment of the
// last hour.
type AuditReport struct {
	audit.Stats
	Suspicion audit.Suspicion `json:"suspicion"`
}

// AuditStats aggregates the caller's audit log.
func (a *App) AuditStats(ctx context.Context, c Caller) (AuditReport, error) {
	acct, err := a.lookupCaller(c)
	if err != nil {
		return AuditReport{}, err
	}
	counts, err := a.store.AuditCounts(acct.User.ID)
	if err != nil {
		return AuditReport{}, a.internal(ctx, "audit counts", err)
	}
	suspicion, err := a.assess(acct.User.ID)
	if err != nil {
		return AuditReport{}, a.internal(ctx, "audit window", err)
	}
	return AuditReport{Stats: audit.Summarize(counts), Suspicion: suspicion}, nil
}

func (a *App) assess(userID string) (audit.Suspicion, error) {
	w, err := a.store.AuditWindow(userID, a.now().UTC().Add(-audit.SuspicionWindow))
	if err != nil {
		return audit.Suspicion{}, err
	}
	return audit.Assess(w), nil
}
