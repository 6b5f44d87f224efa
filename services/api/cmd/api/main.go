package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"clipscope/internal/ratelimit"
	"clipscope/internal/usertoken"
	"clipscope/internal/util"
	"clipscope/pkg/audit"
	"clipscope/pkg/domain"
	"clipscope/pkg/downloadtoken"
	"clipscope/pkg/metadata"
	"clipscope/pkg/permission"
	"clipscope/pkg/platform"
	"clipscope/pkg/shareurl"
	"clipscope/pkg/storage"
	"clipscope/pkg/store"
	"clipscope/services/api/internal/app"
	"clipscope/services/api/internal/config"
	"clipscope/services/api/internal/identityclient"
	"clipscope/services/api/internal/server"
)

const defaultHTTPTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	jwtLeeway, _ := config.ParseDuration(cfg.JWTLeeway, 30*time.Second)
	tokenTTL, _ := config.ParseDuration(cfg.DownloadTokenTTL, downloadtoken.DefaultTTL)
	httpTimeout, _ := config.ParseDuration(cfg.HTTPTimeout, defaultHTTPTimeout)
	retention := audit.DefaultRetention()
	if d, _ := config.ParseDuration(cfg.AuditRetention, 0); d > 0 {
		retention.AuditMaxAge = d
	}
	if d, _ := config.ParseDuration(cfg.SweepInterval, 0); d > 0 {
		retention.Interval = d
	}
	if cfg.UsageRetentionMonths > 0 {
		retention.UsageMonths = cfg.UsageRetentionMonths
	}

	catalog := platform.DefaultCatalog()
	hardDenyIDs := permission.DefaultHardDeny
	if len(cfg.HardDenyPlatforms) > 0 {
		hardDenyIDs = make([]domain.PlatformID, 0, len(cfg.HardDenyPlatforms))
		for _, raw := range cfg.HardDenyPlatforms {
			id := domain.PlatformID(raw)
			if !catalog.Has(id) {
				log.Fatalf("unknown platform in hardDenyPlatforms: %q", raw)
			}
			hardDenyIDs = append(hardDenyIDs, id)
		}
	}
	hardDeny := permission.NewHardDenyList(hardDenyIDs)
	allowed := shareurl.DefaultAllowedDomains
	if len(cfg.AllowedDomains) > 0 {
		allowed = cfg.AllowedDomains
	}
	allowList := shareurl.NewAllowList(allowed)

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()
	guardCfg := ratelimit.DefaultGuardConfig()
	overrideLimit(&guardCfg.ParseFreePerDay, cfg.RateLimits.ParseFreePerDay)
	overrideLimit(&guardCfg.ParseProPerDay, cfg.RateLimits.ParseProPerDay)
	overrideLimit(&guardCfg.ParsePerIPPerMinute, cfg.RateLimits.ParsePerIPPerMinute)
	overrideLimit(&guardCfg.DownloadProPerDay, cfg.RateLimits.DownloadProPerDay)
	overrideLimit(&guardCfg.DownloadPerIPPerMinute, cfg.RateLimits.DownloadPerIPPerMinute)
	guard, err := ratelimit.NewGuard(redisClient, guardCfg)
	if err != nil {
		log.Fatalf("failed to init rate limiter: %v", err)
	}

	tokens, err := downloadtoken.NewManager(downloadtoken.Options{
		Secret: cfg.DownloadTokenSecret,
		TTL:    tokenTTL,
		Leeway: 5 * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to init download tokens: %v", err)
	}

	var renditions storage.RenditionStore
	if cfg.Minio.Endpoint != "" {
		objects, err := storage.NewMinioStore(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Bucket, cfg.Minio.UseSSL)
		if err != nil {
			log.Fatalf("failed to init rendition store: %v", err)
		}
		renditions = objects
	}

	var profiles app.ProfileLookup
	if cfg.IdentityServiceURL != "" {
		profiles = identityclient.NewClient(cfg.IdentityServiceURL, cfg.IdentityProfilePath)
	}

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:    cfg.AuthJWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     jwtLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		log.Fatalf("failed to init jwks verifier: %v", err)
	}

	outbound := &http.Client{Timeout: httpTimeout}
	appCore, err := app.New(app.Config{
		Store:     db,
		Catalog:   catalog,
		AllowList: &allowList,
		HardDeny:  &hardDeny,
		Resolver: shareurl.NewResolver(shareurl.ResolverConfig{
			HTTPClient: outbound,
			MaxHops:    cfg.ResolverMaxHops,
		}),
		Fetcher: metadata.NewFetcher(metadata.Config{
			HTTPClient:     outbound,
			OEmbedEndpoint: cfg.OEmbedEndpoint,
		}),
		Limiter:       guard,
		Recorder:      audit.NewRecorder(db, audit.NewAlerter(redisClient, "")),
		Tokens:        tokens,
		Renditions:    renditions,
		Profiles:      profiles,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		TokenVerifier:  tokenVerifier,
		TrustedProxies: trustedProxies,
		CORSOrigins:    cfg.CORSAllowedOrigins,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("api server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return appCore.Sweeper(retention).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("api server stopped")
}

// overrideLimit applies a configured quota; zero keeps the default.
func overrideLimit(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
