package usage

import (
	"fmt"
	"time"

	"clipscope/pkg/domain"
)

// Limits are the per-plan quotas.
type Limits struct {
	DailyParses      int `json:"dailyParses"`
	DailyDownloads   int `json:"dailyDownloads"`
	MonthlyParses    int `json:"monthlyParses"`
	MonthlyDownloads int `json:"monthlyDownloads"`
}

// LimitsFor returns the quotas of plan. Unknown plans get the free quotas.
func LimitsFor(plan domain.Plan) Limits {
	if plan == domain.PlanPro {
		return Limits{DailyParses: 100, DailyDownloads: 20, MonthlyParses: 3000, MonthlyDownloads: 600}
	}
	return Limits{DailyParses: 10, DailyDownloads: 0, MonthlyParses: 300, MonthlyDownloads: 0}
}

// MonthKey formats t as the YYYY-MM bucket in UTC.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// RetentionCutoff returns the first month key that is kept when usage
// older than months is purged.
func RetentionCutoff(now time.Time, months int) string {
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return MonthKey(first.AddDate(0, -months, 0))
}

// Check is the result of a quota check.
type Check struct {
	Allowed bool `json:"allowed"`
	Current int  `json:"current"`
	Limit   int  `json:"limit"`
}

// Snapshot is the caller-facing usage report.
type Snapshot struct {
	Month          string      `json:"month"`
	Plan           domain.Plan `json:"plan"`
	Parses         int         `json:"parses"`
	Downloads      int         `json:"downloads"`
	Limits         Limits      `json:"limits"`
	TotalParses    int         `json:"totalParses"`
	TotalDownloads int         `json:"totalDownloads"`
}

// Repository is the storage slice the tracker needs.
type Repository interface {
	GetUsage(userID, month string) (domain.Usage, error)
	IncrementUsage(userID, month string, kind domain.UsageKind) error
	SumUsage(userID string) (parses, downloads int, err error)
	DeleteUsageBefore(month string) (int64, error)
}

// Tracker enforces monthly quotas against stored counters.
type Tracker struct {
	repo Repository
	now  func() time.Time
}

func NewTracker(repo Repository) *Tracker {
	return &Tracker{repo: repo, now: time.Now}
}

// Check compares the current month's counter for kind with the plan quota.
func (t *Tracker) Check(userID string, kind domain.UsageKind, plan domain.Plan) (Check, error) {
	u, err := t.repo.GetUsage(userID, MonthKey(t.now()))
	if err != nil {
		return Check{}, fmt.Errorf("get usage: %w", err)
	}
	limits := LimitsFor(plan)
	res := Check{Current: u.Parses, Limit: limits.MonthlyParses}
	if kind == domain.UsageDownload {
		res = Check{Current: u.Downloads, Limit: limits.MonthlyDownloads}
	}
	res.Allowed = res.Current < res.Limit
	return res, nil
}

// Increment bumps the current month's counter for kind.
func (t *Tracker) Increment(userID string, kind domain.UsageKind) error {
	return t.repo.IncrementUsage(userID, MonthKey(t.now()), kind)
}

// Snapshot reports current-month counters, quotas and all-time totals.
func (t *Tracker) Snapshot(userID string, plan domain.Plan) (Snapshot, error) {
	month := MonthKey(t.now())
	u, err := t.repo.GetUsage(userID, month)
	if err != nil {
		return Snapshot{}, fmt.Errorf("get usage: %w", err)
	}
	parses, downloads, err := t.repo.SumUsage(userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("sum usage: %w", err)
	}
	return Snapshot{
		Month:          month,
		Plan:           plan,
		Parses:         u.Parses,
		Downloads:      u.Downloads,
		Limits:         LimitsFor(plan),
		TotalParses:    parses,
		TotalDownloads: downloads,
	}, nil
}

// Purge deletes usage rows older than months.
func (t *Tracker) Purge(months int) (int64, error) {
	return t.repo.DeleteUsageBefore(RetentionCutoff(t.now(), months))
}
