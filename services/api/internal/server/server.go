package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"clipscope/internal/usertoken"
	"clipscope/internal/util"
	"clipscope/pkg/domain"
	"clipscope/services/api/internal/app"
)

const maxBodyBytes = 1 << 20

// IdentityVerifier validates bearer tokens.
type IdentityVerifier interface {
	VerifyIdentity(token string) (usertoken.Identity, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TokenVerifier  IdentityVerifier
	TrustedProxies *util.TrustedProxies
	CORSOrigins    []string
}

// Server exposes the HTTP API.
type Server struct {
	app            *app.App
	tokenVerifier  IdentityVerifier
	trustedProxies *util.TrustedProxies
	corsOrigins    []string
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server requires app")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("server requires token verifier")
	}
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		trustedProxies: cfg.TrustedProxies,
		corsOrigins:    cfg.CORSOrigins,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("api", util.WithSecurityHeaders(util.WithCORS(s.corsOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.Handle("/api/parse", s.authenticated(s.handleParse))
	s.mux.Handle("/api/download", s.authenticated(s.handleDownload))
	s.mux.Handle("/api/download/stream", s.authenticated(s.handleStream))

	s.mux.Handle("/api/me", s.authenticated(s.handleMe))
	s.mux.Handle("/api/usage", s.authenticated(s.handleUsage))
	s.mux.Handle("/api/parses", s.authenticated(s.handleParses))
	s.mux.Handle("/api/audit", s.authenticated(s.handleAudit))
	s.mux.Handle("/api/audit/stats", s.authenticated(s.handleAuditStats))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, app.Caller)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := util.LoggerFromContext(r.Context())
		token, ok := bearerToken(r)
		if !ok {
			logger.Warn("security_event", "event", "api.authorize", "outcome", "fail", "reason", "missing_token", "path", r.URL.Path)
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		id, err := s.tokenVerifier.VerifyIdentity(token)
		if err != nil {
			logger.Warn("security_event", "event", "api.authorize", "outcome", "fail", "reason", "invalid_signature_or_claims", "path", r.URL.Path)
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next(w, r, app.Caller{
			Subject:   id.Subject,
			Email:     id.Email,
			Token:     token,
			IP:        util.ClientIP(r, s.trustedProxies),
			UserAgent: r.UserAgent(),
		})
	})
}

type parseRequest struct {
	URL             string                  `json:"url"`
	UserDeclaration *domain.UserDeclaration `json:"userDeclaration"`
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request, c app.Caller) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req parseRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cmd := app.ParseCommand{Caller: c, Text: req.URL}
	if req.UserDeclaration != nil {
		cmd.Declaration = *req.UserDeclaration
	}
	res, err := s.app.Parse(r.Context(), cmd)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	setRateLimitHeaders(w, res.RateLimit)
	writeJSON(w, http.StatusOK, res)
}

type downloadRequest struct {
	ParseRecordID string `json:"parseRecordId"`
	Format        string `json:"format"`
	Quality       string `json:"quality"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, c app.Caller) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req downloadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.app.RequestDownload(r.Context(), app.DownloadCommand{
		Caller:   c,
		RecordID: req.ParseRecordID,
		Format:   req.Format,
		Quality:  req.Quality,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	setRateLimitHeaders(w, res.RateLimit)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, c app.Caller) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	res, err := s.app.Stream(r.Context(), app.StreamCommand{
		Caller: c,
		Token:  r.URL.Query().Get("token"),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	if res.Ready {
		http.Redirect(w, r, res.RedirectURL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, c app.Caller) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	acct, err := s.app.GetOrCreateUser(r.Context(), c)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request, c app.Caller) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	report, err := s.app.Usage(r.Context(), c)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleParses(w http.ResponseWriter, r *http.Request, c app.Caller) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	items, err := s.app.History(r.Context(), c, limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[domain.ParseRecord]{Items: items, Count: len(items)})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request, c app.Caller) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	offset, ok := queryInt(r, "offset")
	if !ok {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}
	query := app.AuditQuery{
		Action:   domain.AuditAction(strings.TrimSpace(q.Get("action"))),
		Platform: domain.PlatformID(strings.TrimSpace(q.Get("platform"))),
		Limit:    limit,
		Offset:   offset,
	}
	if raw := strings.TrimSpace(q.Get("success")); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "success must be true or false")
			return
		}
		query.Success = &b
	}
	items, err := s.app.AuditLog(r.Context(), c, query)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[domain.AuditLogEntry]{Items: items, Count: len(items)})
}

func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request, c app.Caller) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	report, err := s.app.AuditStats(r.Context(), c)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func queryInt(r *http.Request, key string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
