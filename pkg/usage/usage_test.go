package usage

import (
	"testing"
	"time"

	"clipscope/pkg/domain"
	"clipscope/pkg/store"
)

func TestLimitsFor(t *testing.T) {
	free := LimitsFor(domain.PlanFree)
	if free.MonthlyParses != 300 || free.MonthlyDownloads != 0 || free.DailyParses != 10 {
		t.Fatalf("unexpected free limits: %+v", free)
	}
	pro := LimitsFor(domain.PlanPro)
	if pro.MonthlyParses != 3000 || pro.MonthlyDownloads != 600 || pro.DailyDownloads != 20 {
		t.Fatalf("unexpected pro limits: %+v", pro)
	}
	if LimitsFor("") != free {
		t.Fatalf("unknown plan should fall back to free")
	}
}

func TestMonthKeyAndCutoff(t *testing.T) {
	now := time.Date(2026, 3, 15, 23, 30, 0, 0, time.UTC)
	if got := MonthKey(now); got != "2026-03" {
		t.Fatalf("month key = %q", got)
	}
	if got := RetentionCutoff(now, 6); got != "2025-09" {
		t.Fatalf("cutoff = %q", got)
	}
}

func TestRetentionCutoffAtMonthEnd(t *testing.T) {
	cases := []struct {
		now  time.Time
		want string
	}{
		{time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC), "2026-02"},
		{time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC), "2026-02"},
		{time.Date(2026, 10, 31, 23, 59, 0, 0, time.UTC), "2026-04"},
		{time.Date(2026, 3, 31, 8, 0, 0, 0, time.UTC), "2025-09"},
		{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "2025-07"},
		{time.Date(2026, 3, 1, 0, 30, 0, 0, time.FixedZone("UTC+2", 2*3600)), "2025-08"},
	}
	for _, tc := range cases {
		if got := RetentionCutoff(tc.now, 6); got != tc.want {
			t.Fatalf("RetentionCutoff(%s) = %q, want %q", tc.now.Format(time.RFC3339), got, tc.want)
		}
	}
}

func TestTrackerCheckAndIncrement(t *testing.T) {
	repo := store.NewMemoryStore()
	tr := NewTracker(repo)
	fixed := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	for i := 0; i < 299; i++ {
		_ = repo.IncrementUsage("u1", "2026-10", domain.UsageParse)
	}
	res, err := tr.Check("u1", domain.UsageParse, domain.PlanFree)
	if err != nil || !res.Allowed || res.Current != 299 || res.Limit != 300 {
		t.Fatalf("unexpected check: %+v err=%v", res, err)
	}
	if err := tr.Increment("u1", domain.UsageParse); err != nil {
		t.Fatalf("increment: %v", err)
	}
	res, _ = tr.Check("u1", domain.UsageParse, domain.PlanFree)
	if res.Allowed {
		t.Fatalf("quota should be exhausted: %+v", res)
	}

	dl, _ := tr.Check("u1", domain.UsageDownload, domain.PlanFree)
	if dl.Allowed || dl.Limit != 0 {
		t.Fatalf("free plan cannot download: %+v", dl)
	}

	snap, err := tr.Snapshot("u1", domain.PlanPro)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Month != "2026-10" || snap.Parses != 300 || snap.TotalParses != 300 || snap.Limits.MonthlyParses != 3000 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
