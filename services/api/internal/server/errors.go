package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clipscope/internal/ratelimit"
	"clipscope/internal/util"
	"clipscope/services/api/internal/app"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForStatus(status),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeAppError renders an app.Error. Details are merged into the body so
// clients can read current/limit/resetTime next to the message.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *app.Error
	if !errors.As(err, &appErr) {
		util.LoggerFromContext(r.Context()).Error("unhandled error", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	status := appErr.Kind.Status()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	}
	if appErr.RateLimit != nil {
		setRateLimitHeaders(w, *appErr.RateLimit)
		if appErr.Kind == app.KindRateLimited {
			if wait := time.Until(appErr.RateLimit.Reset); wait > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			}
		}
	}
	body := map[string]any{}
	for k, v := range appErr.Details {
		body[k] = v
	}
	body["error"] = appErr.Message
	body["code"] = errorCodeForKind(appErr.Kind)
	if appErr.Reason != "" {
		body["reason"] = appErr.Reason
	}
	if id := util.RequestIDFromContext(r.Context()); id != "" {
		body["requestId"] = id
	}
	writeJSON(w, status, body)
}

func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.Reset.IsZero() {
		reset := d.Reset.Unix()
		if d.Reset.Nanosecond() > 0 {
			reset++
		}
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
	}
}

func errorCodeForKind(k app.Kind) string {
	switch k {
	case app.KindInput:
		return "PARSE_INVALID_INPUT"
	case app.KindUnauthenticated:
		return "AUTH_INVALID_TOKEN"
	case app.KindPermissionDenied:
		return "PERMISSION_DENIED"
	case app.KindNotFound:
		return "RESOURCE_NOT_FOUND"
	case app.KindGone:
		return "DOWNLOAD_TOKEN_EXPIRED"
	case app.KindRateLimited:
		return "RATE_LIMITED"
	case app.KindUsageExceeded:
		return "USAGE_LIMIT_EXCEEDED"
	case app.KindUpstream:
		return "UPSTREAM_UNAVAILABLE"
	default:
		return "SYSTEM_INTERNAL_ERROR"
	}
}

func errorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
