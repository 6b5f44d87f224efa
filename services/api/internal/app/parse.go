package app

import (
	"context"
	"encoding/json"
	"time"

	"clipscope/internal/ratelimit"
	"clipscope/internal/util"
	"clipscope/pkg/domain"
	"clipscope/pkg/metadata"
	"clipscope/pkg/permission"
	"clipscope/pkg/shareurl"
)

// ParseCommand is one parse request.
type ParseCommand struct {
	Caller      Caller
	Text        string
	Declaration domain.UserDeclaration
}

// ParseResult is returned to the caller after a successful parse.
type ParseResult struct {
	ID                string               `json:"id"`
	URL               string               `json:"url"`
	Platform          domain.PlatformID    `json:"platform"`
	PlatformName      string               `json:"platformName"`
	Title             string               `json:"title"`
	Author            string               `json:"author"`
	Thumbnail         string               `json:"thumbnail"`
	License           domain.LicenseStatus `json:"license"`
	Downloadable      bool                 `json:"downloadable"`
	RequiresUpgrade   bool                 `json:"requiresUpgrade"`
	ComplianceMessage string               `json:"complianceMessage"`
	EmbedHTML         string               `json:"embedHtml"`
	IsEmbeddable      bool                 `json:"isEmbeddable"`
	CreatedAt         time.Time            `json:"createdAt"`

	RateLimit ratelimit.Decision `json:"-"`
}

// Parse runs the pipeline: extract, allow-list, caller lookup, rate and
// usage limits, resolve, re-check the final host, classify, fetch metadata,
// decide, record.
// Failures before the caller lookup touch neither the store nor the audit log.
func (a *App) Parse(ctx context.Context, cmd ParseCommand) (ParseResult, error) {
	extracted, ok := shareurl.ExtractURL(cmd.Text)
	if !ok {
		return ParseResult{}, newError(KindInput, msgNoLink)
	}
	if !a.allow.Allows(extracted) {
		return ParseResult{}, newError(KindInput, msgUnsupportedHost)
	}

	acct, err := a.lookupCaller(cmd.Caller)
	if err != nil {
		return ParseResult{}, err
	}
	userID := acct.User.ID
	fail := func(platform domain.PlatformID, url, reason string, details map[string]any) {
		ev := a.event(cmd.Caller, userID, domain.ActionParse)
		ev.Platform = platform
		ev.URL = url
		if details == nil {
			details = map[string]any{}
		}
		details["reason"] = reason
		ev.Details = details
		a.recorder.Record(ctx, ev)
		a.flagSuspicious(ctx, userID)
	}

	decision, allowed := a.checkRate(ctx, domain.ActionParse, acct.Plan, userID, cmd.Caller.IP)
	if !allowed {
		fail("", extracted, reasonRateLimit, nil)
		a.recorder.RateLimited(ctx, domain.ActionParse, userID, cmd.Caller.IP)
		return ParseResult{}, a.rateLimitedError(decision)
	}

	quota, err := a.usage.Check(userID, domain.UsageParse, acct.Plan)
	if err != nil {
		fail("", extracted, reasonUsageCheckFailed, nil)
		return ParseResult{}, a.internal(ctx, "usage check", err)
	}
	if !quota.Allowed {
		fail("", extracted, reasonUsageLimit, map[string]any{"current": quota.Current, "limit": quota.Limit})
		e := newError(KindUsageExceeded, msgUsageExceeded)
		e.Reason = reasonUsageLimit
		e.Details = map[string]any{
			"current":         quota.Current,
			"limit":           quota.Limit,
			"upgradeRequired": acct.Plan == domain.PlanFree,
		}
		e.RateLimit = &decision
		return ParseResult{}, e
	}

	resolved, err := a.resolver.ResolveLink(ctx, cmd.Text, extracted)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("short link resolution failed", "url", extracted, "err", err)
		fail("", extracted, reasonResolveFailed, map[string]any{"message": err.Error()})
		return ParseResult{}, wrapError(KindUpstream, msgResolveFailed, err)
	}
	if !a.allow.AllowsHost(resolved.Host) {
		fail("", resolved.URL, reasonOffPlatform, map[string]any{"inputUrl": extracted})
		return ParseResult{}, newError(KindInput, msgOffPlatform)
	}

	class := a.catalog.Classify(resolved.Host)

	meta, err := a.fetcher.Fetch(ctx, resolved.URL, class.ID)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("metadata fetch failed", "url", resolved.URL, "platform", class.ID, "err", err)
		fail(class.ID, resolved.URL, reasonMetadataFailed, map[string]any{"message": err.Error()})
		return ParseResult{}, wrapError(KindUpstream, msgMetadataFailed, err)
	}
	meta.EmbedHTML = metadata.SandboxEmbed(meta.EmbedHTML)

	verdict := permission.Check(permission.Input{
		Policy:      class.Policy,
		License:     meta.License,
		Declaration: cmd.Declaration,
		Plan:        acct.Plan,
	})
	verdict = a.hardDeny.Apply(class.ID, class.Policy.Name, verdict)

	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return ParseResult{}, a.internal(ctx, "encode metadata", err)
	}
	record := domain.ParseRecord{
		ID:            util.NewID(),
		UserID:        userID,
		Platform:      class.ID,
		PlatformName:  class.Policy.Name,
		InputURL:      extracted,
		ResolvedURL:   resolved.URL,
		Title:         meta.Title,
		Author:        meta.Author,
		Thumbnail:     meta.Thumbnail,
		LicenseStatus: verdict.LicenseStatus,
		Downloadable:  verdict.Downloadable,
		EmbedHTML:     meta.EmbedHTML,
		Metadata:      rawMeta,
		CreatedAt:     a.now().UTC(),
	}
	if err := a.store.CreateParseRecord(record); err != nil {
		fail(class.ID, resolved.URL, reasonRecordFailed, nil)
		return ParseResult{}, a.internal(ctx, "create parse record", err)
	}

	if err := a.usage.Increment(userID, domain.UsageParse); err != nil {
		util.LoggerFromContext(ctx).Warn("usage increment failed", "user_id", userID, "err", err)
	}

	ev := a.event(cmd.Caller, userID, domain.ActionParse)
	ev.Platform = class.ID
	ev.URL = resolved.URL
	ev.Success = true
	ev.Details = map[string]any{
		"parseRecordId": record.ID,
		"downloadable":  record.Downloadable,
		"licenseStatus": record.LicenseStatus,
	}
	a.recorder.Record(ctx, ev)

	return ParseResult{
		ID:                record.ID,
		URL:               record.ResolvedURL,
		Platform:          record.Platform,
		PlatformName:      record.PlatformName,
		Title:             record.Title,
		Author:            record.Author,
		Thumbnail:         record.Thumbnail,
		License:           verdict.LicenseStatus,
		Downloadable:      verdict.Downloadable,
		RequiresUpgrade:   verdict.RequiresUpgrade,
		ComplianceMessage: verdict.ComplianceMessage,
		EmbedHTML:         record.EmbedHTML,
		IsEmbeddable:      meta.IsEmbeddable,
		CreatedAt:         record.CreatedAt,
		RateLimit:         decision,
	}, nil
}
