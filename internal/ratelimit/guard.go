package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"clipscope/internal/util"
	"clipscope/pkg/domain"
)

// GuardConfig holds the per-action quotas. User limits apply per day, IP
// limits per minute. A zero value disables that limiter.
type GuardConfig struct {
	Prefix                 string
	ParseFreePerDay        int
	ParseProPerDay         int
	ParsePerIPPerMinute    int
	DownloadProPerDay      int
	DownloadPerIPPerMinute int
}

// DefaultGuardConfig returns the production quotas.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Prefix:                 "clipscope:ratelimit",
		ParseFreePerDay:        10,
		ParseProPerDay:         100,
		ParsePerIPPerMinute:    5,
		DownloadProPerDay:      20,
		DownloadPerIPPerMinute: 2,
	}
}

type actionLimiters struct {
	byPlan map[domain.Plan]*FixedWindowLimiter
	byIP   *FixedWindowLimiter
}

// Guard applies the user limiter first, then the IP limiter, for one action.
type Guard struct {
	actions map[domain.AuditAction]actionLimiters
}

// NewGuard builds all limiters on a shared Redis client.
func NewGuard(client redis.UniversalClient, cfg GuardConfig) (*Guard, error) {
	if client == nil {
		return nil, errors.New("rate limit guard requires redis client")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "clipscope:ratelimit"
	}
	build := func(name string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
		if limit <= 0 {
			return nil, nil
		}
		return NewFixedWindowLimiter(client, prefix+":"+name, limit, window)
	}

	type spec struct {
		action domain.AuditAction
		plan   domain.Plan
		name   string
		limit  int
		window time.Duration
	}
	day := 24 * time.Hour
	userSpecs := []spec{
		{domain.ActionParse, domain.PlanFree, "parse:free", cfg.ParseFreePerDay, day},
		{domain.ActionParse, domain.PlanPro, "parse:pro", cfg.ParseProPerDay, day},
		{domain.ActionDownload, domain.PlanPro, "download:pro", cfg.DownloadProPerDay, day},
	}
	ipSpecs := []spec{
		{action: domain.ActionParse, name: "parse:ip", limit: cfg.ParsePerIPPerMinute, window: time.Minute},
		{action: domain.ActionDownload, name: "download:ip", limit: cfg.DownloadPerIPPerMinute, window: time.Minute},
	}

	g := &Guard{actions: make(map[domain.AuditAction]actionLimiters)}
	for _, s := range userSpecs {
		l, err := build(s.name, s.limit, s.window)
		if err != nil {
			return nil, err
		}
		al := g.actions[s.action]
		if al.byPlan == nil {
			al.byPlan = make(map[domain.Plan]*FixedWindowLimiter)
		}
		if l != nil {
			al.byPlan[s.plan] = l
		}
		g.actions[s.action] = al
	}
	for _, s := range ipSpecs {
		l, err := build(s.name, s.limit, s.window)
		if err != nil {
			return nil, err
		}
		al := g.actions[s.action]
		al.byIP = l
		g.actions[s.action] = al
	}
	return g, nil
}

// Check consumes quota for the action. The returned decision is the one
// that blocked, or the user decision when everything passed. With no
// limiter configured for the action the request is allowed.
func (g *Guard) Check(ctx context.Context, action domain.AuditAction, plan domain.Plan, userID, ip string) (Decision, error) {
	if g == nil {
		return Decision{Allowed: true}, nil
	}
	al := g.actions[action]
	var (
		result  Decision
		decided bool
	)
	if l := al.byPlan[plan]; l != nil && userID != "" {
		d, err := l.Take(ctx, userID)
		if err != nil || !d.Allowed {
			return d, err
		}
		result, decided = d, true
	}
	if al.byIP != nil {
		d, err := al.byIP.Take(ctx, util.IPKey(ip))
		if err != nil || !d.Allowed {
			return d, err
		}
		if !decided {
			result, decided = d, true
		}
	}
	if !decided {
		return Decision{Allowed: true}, nil
	}
	return result, nil
}
