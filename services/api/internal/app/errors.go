package app

import (
	"errors"
	"fmt"
	"net/http"

	"clipscope/internal/ratelimit"
)

// Kind classifies failures so the transport layer can pick a status code.
type Kind string

const (
	KindInput            Kind = "input"
	KindUnauthenticated  Kind = "unauthenticated"
	KindPermissionDenied Kind = "permission_denied"
	KindNotFound         Kind = "not_found"
	KindGone             Kind = "gone"
	KindRateLimited      Kind = "rate_limited"
	KindUsageExceeded    Kind = "usage_exceeded"
	KindUpstream         Kind = "upstream"
	KindInternal         Kind = "internal"
)

// Status maps the kind to an HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindInput:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindGone:
		return http.StatusGone
	case KindRateLimited, KindUsageExceeded:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is returned by App operations. Message is safe to show to callers;
// Err keeps the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Reason  string
	Details map[string]any
	// RateLimit is set when a limiter was consulted before the failure.
	RateLimit *ratelimit.Decision
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func wrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Caller-facing messages.
const (
	msgNoLink           = "Please paste a complete link starting with https://"
	msgUnsupportedHost  = "Unsupported platform or invalid URL"
	msgUserNotFound     = "User not found"
	msgRateLimited      = "Rate limit exceeded"
	msgUsageExceeded    = "Usage limit exceeded"
	msgDownloadExceeded = "Download limit exceeded"
	msgResolveFailed    = "Could not open this link, please try again later"
	msgOffPlatform      = "This link redirects to an unsupported site"
	msgMetadataFailed   = "Failed to parse this link (the platform may block access or the network failed)"
	msgInternal         = "Internal server error"
	msgProRequired      = "PRO subscription required for downloads"
	msgRecordNotFound   = "Parse record not found"
	msgDownloadDenied   = "Download not permitted for this content"
	msgTokenRequired    = "Download token required"
	msgTokenInvalid     = "Invalid download token"
	msgTokenExpired     = "Download token expired"
	msgStreamNotFound   = "Parse record not found or not downloadable"
	msgInvalidRecordID  = "Invalid parse record ID"
	msgInvalidFormat    = "format must be one of mp4, mp3, webm"
	msgInvalidQuality   = "quality must be one of 360p, 480p, 720p, 1080p"
	msgIdentityRequired = "Authentication required"
	msgStoreUnavailable = "Service temporarily unavailable"
)

// Audit reason tags.
const (
	reasonRateLimit         = "rate_limit_exceeded"
	reasonUsageLimit        = "usage_limit_exceeded"
	reasonUsageCheckFailed  = "usage_check_failed"
	reasonOffPlatform       = "redirect_off_platform"
	reasonResolveFailed     = "resolve_failed"
	reasonMetadataFailed    = "metadata_fetch_failed"
	reasonRecordFailed      = "record_failed"
	reasonSubscription      = "subscription_required"
	reasonDownloadForbidden = "download_not_permitted"
	reasonTokenFailed       = "download_generation_failed"
)

var (
	// ErrStoreRequired is returned by New without a store.
	ErrStoreRequired = errors.New("store is required")
	// ErrTokensRequired is returned by New without a download token manager.
	ErrTokensRequired = errors.New("download token manager is required")
)
