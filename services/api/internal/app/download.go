package app

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"clipscope/internal/ratelimit"
	"clipscope/internal/util"
	"clipscope/pkg/domain"
	"clipscope/pkg/downloadtoken"
	"clipscope/pkg/storage"
)

var (
	downloadFormats   = map[string]struct{}{"mp4": {}, "mp3": {}, "webm": {}}
	downloadQualities = map[string]struct{}{"360p": {}, "480p": {}, "720p": {}, "1080p": {}}
	filenameUnsafe    = regexp.MustCompile(`[^a-zA-Z0-9\s-]`)
)

const (
	defaultFormat  = "mp4"
	defaultQuality = "720p"
	maxTitleChars  = 50
)

// DownloadCommand asks for a download link to a parse record.
type DownloadCommand struct {
	Caller   Caller
	RecordID string
	Format   string
	Quality  string
}

// DownloadResult carries a short-lived link to the stream endpoint.
type DownloadResult struct {
	DownloadURL string    `json:"downloadUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Format      string    `json:"format"`
	Quality     string    `json:"quality"`
	Filename    string    `json:"filename"`

	RateLimit ratelimit.Decision `json:"-"`
}

func normalizeDownload(cmd *DownloadCommand) error {
	cmd.RecordID = strings.TrimSpace(cmd.RecordID)
	if _, err := uuid.Parse(cmd.RecordID); err != nil {
		return newError(KindInput, msgInvalidRecordID)
	}
	cmd.Format = strings.ToLower(strings.TrimSpace(cmd.Format))
	if cmd.Format == "" {
		cmd.Format = defaultFormat
	}
	if _, ok := downloadFormats[cmd.Format]; !ok {
		return newError(KindInput, msgInvalidFormat)
	}
	cmd.Quality = strings.ToLower(strings.TrimSpace(cmd.Quality))
	if cmd.Quality == "" {
		cmd.Quality = defaultQuality
	}
	if _, ok := downloadQualities[cmd.Quality]; !ok {
		return newError(KindInput, msgInvalidQuality)
	}
	return nil
}

// RequestDownload issues a signed stream link for a downloadable record
// owned by a PRO caller.
func (a *App) RequestDownload(ctx context.Context, cmd DownloadCommand) (DownloadResult, error) {
	if err := normalizeDownload(&cmd); err != nil {
		return DownloadResult{}, err
	}
	acct, err := a.lookupCaller(cmd.Caller)
	if err != nil {
		return DownloadResult{}, err
	}
	userID := acct.User.ID
	record := func(r *domain.ParseRecord, success bool, details map[string]any) {
		ev := a.event(cmd.Caller, userID, domain.ActionDownload)
		if r != nil {
			ev.Platform = r.Platform
			ev.URL = r.InputURL
		}
		ev.Success = success
		details["parseRecordId"] = cmd.RecordID
		ev.Details = details
		a.recorder.Record(ctx, ev)
		if !success {
			a.flagSuspicious(ctx, userID)
		}
	}

	if !acct.Plan.IsPaid() {
		record(nil, false, map[string]any{"reason": reasonSubscription})
		e := newError(KindPermissionDenied, msgProRequired)
		e.Reason = reasonSubscription
		return DownloadResult{}, e
	}

	rec, ok, err := a.store.GetParseRecordForUser(cmd.RecordID, userID)
	if err != nil {
		return DownloadResult{}, a.internal(ctx, "get parse record", err)
	}
	if !ok {
		return DownloadResult{}, newError(KindNotFound, msgRecordNotFound)
	}
	if !rec.Downloadable {
		record(&rec, false, map[string]any{"reason": reasonDownloadForbidden})
		e := newError(KindPermissionDenied, msgDownloadDenied)
		e.Reason = reasonDownloadForbidden
		return DownloadResult{}, e
	}

	decision, allowed := a.checkRate(ctx, domain.ActionDownload, acct.Plan, userID, cmd.Caller.IP)
	if !allowed {
		record(&rec, false, map[string]any{"reason": reasonRateLimit})
		a.recorder.RateLimited(ctx, domain.ActionDownload, userID, cmd.Caller.IP)
		return DownloadResult{}, a.rateLimitedError(decision)
	}

	quota, err := a.usage.Check(userID, domain.UsageDownload, acct.Plan)
	if err != nil {
		record(&rec, false, map[string]any{"reason": reasonUsageCheckFailed})
		return DownloadResult{}, a.internal(ctx, "usage check", err)
	}
	if !quota.Allowed {
		record(&rec, false, map[string]any{"reason": reasonUsageLimit, "current": quota.Current, "limit": quota.Limit})
		e := newError(KindUsageExceeded, msgDownloadExceeded)
		e.Reason = reasonUsageLimit
		e.Details = map[string]any{"current": quota.Current, "limit": quota.Limit}
		e.RateLimit = &decision
		return DownloadResult{}, e
	}

	token, expires, err := a.tokens.Issue(rec.ID, userID, cmd.Format, cmd.Quality)
	if err != nil {
		record(&rec, false, map[string]any{"reason": reasonTokenFailed})
		return DownloadResult{}, a.internal(ctx, "issue download token", err)
	}

	if err := a.usage.Increment(userID, domain.UsageDownload); err != nil {
		util.LoggerFromContext(ctx).Warn("usage increment failed", "user_id", userID, "err", err)
	}
	record(&rec, true, map[string]any{
		"format":  cmd.Format,
		"quality": cmd.Quality,
		"title":   rec.Title,
	})

	q := url.Values{}
	q.Set("token", token)
	q.Set("format", cmd.Format)
	q.Set("quality", cmd.Quality)
	return DownloadResult{
		DownloadURL: a.baseURL + "/api/download/stream?" + q.Encode(),
		ExpiresAt:   expires,
		Format:      cmd.Format,
		Quality:     cmd.Quality,
		Filename:    downloadFilename(rec.Title, cmd.Format, a.now()),
		RateLimit:   decision,
	}, nil
}

// downloadFilename keeps ASCII letters, digits, spaces and dashes of the
// title, caps it and appends the date and extension.
func downloadFilename(title, format string, now time.Time) string {
	clean := strings.TrimSpace(filenameUnsafe.ReplaceAllString(title, ""))
	if len(clean) > maxTitleChars {
		clean = strings.TrimSpace(clean[:maxTitleChars])
	}
	if clean == "" {
		clean = "video"
	}
	return clean + "-" + now.UTC().Format("2006-01-02") + "." + format
}

// StreamCommand redeems a download token.
type StreamCommand struct {
	Caller Caller
	Token  string
}

// StreamResult tells the transport either where to redirect or what to
// report while the rendition is not available yet.
type StreamResult struct {
	Ready         bool                 `json:"ready"`
	RedirectURL   string               `json:"-"`
	Message       string               `json:"message,omitempty"`
	RecordID      string               `json:"recordId"`
	Title         string               `json:"title,omitempty"`
	Platform      domain.PlatformID    `json:"platform"`
	Format        string               `json:"format"`
	Quality       string               `json:"quality"`
	LicenseStatus domain.LicenseStatus `json:"licenseStatus"`
}

const msgRenditionPending = "The requested rendition is not available yet. Only content with explicit download permission is served."

// Stream validates a download token and re-checks the record before
// handing out the artifact.
func (a *App) Stream(ctx context.Context, cmd StreamCommand) (StreamResult, error) {
	if strings.TrimSpace(cmd.Token) == "" {
		return StreamResult{}, newError(KindInput, msgTokenRequired)
	}
	claims, err := a.tokens.Verify(cmd.Token)
	switch {
	case errors.Is(err, downloadtoken.ErrExpired):
		return StreamResult{}, wrapError(KindGone, msgTokenExpired, err)
	case err != nil:
		return StreamResult{}, wrapError(KindInput, msgTokenInvalid, err)
	}

	acct, err := a.lookupCaller(cmd.Caller)
	if err != nil {
		return StreamResult{}, err
	}
	if claims.UserID != acct.User.ID {
		return StreamResult{}, newError(KindNotFound, msgStreamNotFound)
	}
	rec, ok, err := a.store.GetParseRecordForUser(claims.RecordID, acct.User.ID)
	if err != nil {
		return StreamResult{}, a.internal(ctx, "get parse record", err)
	}
	if !ok || !rec.Downloadable {
		return StreamResult{}, newError(KindNotFound, msgStreamNotFound)
	}

	res := StreamResult{
		RecordID:      rec.ID,
		Title:         rec.Title,
		Platform:      rec.Platform,
		Format:        claims.Format,
		Quality:       claims.Quality,
		LicenseStatus: rec.LicenseStatus,
		Message:       msgRenditionPending,
	}
	if a.renditions == nil {
		return res, nil
	}
	key := storage.RenditionKey(rec.ID, claims.Quality, claims.Format)
	exists, err := a.renditions.Exists(ctx, key)
	if err != nil {
		return StreamResult{}, a.internal(ctx, "stat rendition", err)
	}
	if !exists {
		return res, nil
	}
	expiry := time.Minute
	if claims.ExpiresAt != nil {
		if left := claims.ExpiresAt.Time.Sub(a.now()); left > expiry {
			expiry = left
		}
	}
	link, err := a.renditions.PresignGet(ctx, key, downloadFilename(rec.Title, claims.Format, a.now()), expiry)
	if err != nil {
		return StreamResult{}, a.internal(ctx, "presign rendition", err)
	}
	res.Ready = true
	res.RedirectURL = link
	res.Message = ""
	return res, nil
}
