package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clipscope/internal/ratelimit"
	"clipscope/internal/util"
	"clipscope/pkg/audit"
	"clipscope/pkg/domain"
	"clipscope/pkg/downloadtoken"
	"clipscope/pkg/permission"
	"clipscope/pkg/platform"
	"clipscope/pkg/shareurl"
	"clipscope/pkg/storage"
	"clipscope/pkg/store"
	"clipscope/pkg/usage"
)

// LinkResolver follows short-link redirects.
type LinkResolver interface {
	ResolveLink(ctx context.Context, original, extracted string) (shareurl.Resolved, error)
}

// MetadataFetcher retrieves page metadata for a classified URL.
type MetadataFetcher interface {
	Fetch(ctx context.Context, pageURL string, platform domain.PlatformID) (domain.MediaMetadata, error)
}

// RateLimiter consumes per-user and per-IP quota for an action.
type RateLimiter interface {
	Check(ctx context.Context, action domain.AuditAction, plan domain.Plan, userID, ip string) (ratelimit.Decision, error)
}

// ProfileLookup fetches the caller's email from the identity provider.
type ProfileLookup interface {
	Email(ctx context.Context, accessToken string) (string, error)
}

// Config wires the collaborators of App. Store and Tokens are required;
// everything else has a default.
type Config struct {
	Store         store.Store
	Catalog       *platform.Catalog
	AllowList     *shareurl.AllowList
	HardDeny      *permission.HardDenyList
	Resolver      LinkResolver
	Fetcher       MetadataFetcher
	Limiter       RateLimiter
	Recorder      *audit.Recorder
	Tokens        *downloadtoken.Manager
	Renditions    storage.RenditionStore
	Profiles      ProfileLookup
	PublicBaseURL string
}

// App runs the parse pipeline and the account operations around it.
type App struct {
	store      store.Store
	catalog    *platform.Catalog
	allow      shareurl.AllowList
	hardDeny   permission.HardDenyList
	resolver   LinkResolver
	fetcher    MetadataFetcher
	limiter    RateLimiter
	recorder   *audit.Recorder
	usage      *usage.Tracker
	tokens     *downloadtoken.Manager
	renditions storage.RenditionStore
	profiles   ProfileLookup
	baseURL    string
	now        func() time.Time
}

// New validates cfg and constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, ErrStoreRequired
	}
	if cfg.Tokens == nil {
		return nil, ErrTokensRequired
	}
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = platform.DefaultCatalog()
	}
	allow := shareurl.NewAllowList(shareurl.DefaultAllowedDomains)
	if cfg.AllowList != nil {
		allow = *cfg.AllowList
	}
	hardDeny := permission.NewHardDenyList(permission.DefaultHardDeny)
	if cfg.HardDeny != nil {
		hardDeny = *cfg.HardDeny
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = shareurl.NewResolver(shareurl.ResolverConfig{})
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("metadata fetcher is required")
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = audit.NewRecorder(cfg.Store, nil)
	}
	return &App{
		store:      cfg.Store,
		catalog:    catalog,
		allow:      allow,
		hardDeny:   hardDeny,
		resolver:   resolver,
		fetcher:    cfg.Fetcher,
		limiter:    cfg.Limiter,
		recorder:   recorder,
		usage:      usage.NewTracker(cfg.Store),
		tokens:     cfg.Tokens,
		renditions: cfg.Renditions,
		profiles:   cfg.Profiles,
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		now:        time.Now,
	}, nil
}

// Sweeper returns the retention sweeper over this app's store.
func (a *App) Sweeper(cfg audit.RetentionConfig) *audit.Sweeper {
	return audit.NewSweeper(a.store, a.usage, cfg)
}

// Caller identifies who is making a request and from where.
type Caller struct {
	Subject   string
	Email     string
	Token     string
	IP        string
	UserAgent string
}

func (a *App) event(c Caller, userID string, action domain.AuditAction) audit.Event {
	return audit.Event{
		UserID:    userID,
		Action:    action,
		IPAddress: c.IP,
		UserAgent: c.UserAgent,
	}
}

func (a *App) checkRate(ctx context.Context, action domain.AuditAction, plan domain.Plan, userID, ip string) (ratelimit.Decision, bool) {
	if a.limiter == nil {
		return ratelimit.Decision{Allowed: true}, true
	}
	d, err := a.limiter.Check(ctx, action, plan, userID, ip)
	if err != nil {
		// limiter fails closed
		util.LoggerFromContext(ctx).Error("rate limiter unavailable", "action", action, "user_id", userID, "err", err)
		return d, false
	}
	return d, d.Allowed
}

func (a *App) rateLimitedError(d ratelimit.Decision) *Error {
	e := newError(KindRateLimited, msgRateLimited)
	e.Reason = reasonRateLimit
	if !d.Reset.IsZero() {
		e.Details = map[string]any{"resetTime": d.Reset.UTC().Format(time.RFC3339)}
	}
	e.RateLimit = &d
	return e
}

func (a *App) internal(ctx context.Context, op string, err error) *Error {
	util.LoggerFromContext(ctx).Error(op+" failed", "err", err)
	return wrapError(KindInternal, msgInternal, fmt.Errorf("%s: %w", op, err))
}

// flagSuspicious re-evaluates the caller's last hour after a failure and
// logs when it looks like abuse.
func (a *App) flagSuspicious(ctx context.Context, userID string) {
	s, err := a.assess(userID)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("suspicious activity check failed", "user_id", userID, "err", err)
		return
	}
	if s.Suspicious {
		util.LoggerFromContext(ctx).Warn("suspicious_activity", "user_id", userID, "reasons", s.Reasons)
	}
}
