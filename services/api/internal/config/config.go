package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file; CLIPSCOPE_CONFIG overrides it.
const ConfigPath = "config.yaml"

const minDownloadSecretLen = 32

// MinioConfig locates prepared download renditions.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

// RateLimitConfig holds per-action quotas.
type RateLimitConfig struct {
	ParseFreePerDay        int `yaml:"parseFreePerDay"`
	ParseProPerDay         int `yaml:"parseProPerDay"`
	ParsePerIPPerMinute    int `yaml:"parsePerIpPerMinute"`
	DownloadProPerDay      int `yaml:"downloadProPerDay"`
	DownloadPerIPPerMinute int `yaml:"downloadPerIpPerMinute"`
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                 string          `yaml:"port"`
	LogLevel             string          `yaml:"logLevel"`
	DatabaseURL          string          `yaml:"databaseURL"`
	RedisAddr            string          `yaml:"redisAddr"`
	RedisPassword        string          `yaml:"redisPassword"`
	AuthJWKSURL          string          `yaml:"authJwksURL"`
	IdentityServiceURL   string          `yaml:"identityServiceURL"`
	IdentityProfilePath  string          `yaml:"identityProfilePath"`
	JWTIssuer            string          `yaml:"jwtIssuer"`
	JWTAudience          string          `yaml:"jwtAudience"`
	JWTLeeway            string          `yaml:"jwtLeeway"`
	PublicBaseURL        string          `yaml:"publicBaseURL"`
	DownloadTokenSecret  string          `yaml:"downloadTokenSecret"`
	DownloadTokenTTL     string          `yaml:"downloadTokenTTL"`
	HTTPTimeout          string          `yaml:"httpTimeout"`
	ResolverMaxHops      int             `yaml:"resolverMaxHops"`
	OEmbedEndpoint       string          `yaml:"oembedEndpoint"`
	AllowedDomains       []string        `yaml:"allowedDomains"`
	HardDenyPlatforms    []string        `yaml:"hardDenyPlatforms"`
	TrustedProxyCIDRs    []string        `yaml:"trustedProxyCidrs"`
	CORSAllowedOrigins   []string        `yaml:"corsAllowedOrigins"`
	RateLimits           RateLimitConfig `yaml:"rateLimits"`
	AuditRetention       string          `yaml:"auditRetention"`
	UsageRetentionMonths int             `yaml:"usageRetentionMonths"`
	SweepInterval        string          `yaml:"sweepInterval"`
	Minio                MinioConfig     `yaml:"minio"`
}

// Path returns the config file to load.
func Path() string {
	if v := strings.TrimSpace(os.Getenv("CLIPSCOPE_CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads config from path (defaults to config.yaml), applies
// environment overrides and validates the result.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setList := func(key string, dst *[]string) {
		if v := os.Getenv(key); v != "" {
			*dst = splitCSV(v)
		}
	}

	setString("API_PORT", &cfg.Port)
	setString("API_LOG_LEVEL", &cfg.LogLevel)
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setString("REDIS_ADDR", &cfg.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.RedisPassword)
	setString("API_AUTH_JWKS_URL", &cfg.AuthJWKSURL)
	setString("API_IDENTITY_SERVICE_URL", &cfg.IdentityServiceURL)
	setString("JWT_ISSUER", &cfg.JWTIssuer)
	setString("JWT_AUDIENCE", &cfg.JWTAudience)
	setString("JWT_LEEWAY", &cfg.JWTLeeway)
	setString("API_PUBLIC_BASE_URL", &cfg.PublicBaseURL)
	setString("API_DOWNLOAD_TOKEN_SECRET", &cfg.DownloadTokenSecret)
	setString("API_HTTP_TIMEOUT", &cfg.HTTPTimeout)
	setList("API_ALLOWED_DOMAINS", &cfg.AllowedDomains)
	setList("API_HARD_DENY_PLATFORMS", &cfg.HardDenyPlatforms)
	setList("API_TRUSTED_PROXY_CIDRS", &cfg.TrustedProxyCIDRs)
	setList("API_CORS_ALLOWED_ORIGINS", &cfg.CORSAllowedOrigins)
	setInt("API_PARSE_FREE_PER_DAY", &cfg.RateLimits.ParseFreePerDay)
	setInt("API_PARSE_PRO_PER_DAY", &cfg.RateLimits.ParseProPerDay)
	setInt("API_PARSE_PER_IP_PER_MINUTE", &cfg.RateLimits.ParsePerIPPerMinute)
	setInt("API_DOWNLOAD_PRO_PER_DAY", &cfg.RateLimits.DownloadProPerDay)
	setInt("API_DOWNLOAD_PER_IP_PER_MINUTE", &cfg.RateLimits.DownloadPerIPPerMinute)
	setString("API_AUDIT_RETENTION", &cfg.AuditRetention)
	setString("API_MINIO_ENDPOINT", &cfg.Minio.Endpoint)
	setString("API_MINIO_ACCESS_KEY", &cfg.Minio.AccessKey)
	setString("API_MINIO_SECRET_KEY", &cfg.Minio.SecretKey)
	setString("API_MINIO_BUCKET", &cfg.Minio.Bucket)
	if v := os.Getenv("API_MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Minio.UseSSL = b
		}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or API_PORT)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for distributed rate limiting")
	}
	if strings.TrimSpace(cfg.AuthJWKSURL) == "" {
		return errors.New("config: authJwksURL is required (set in config.yaml or API_AUTH_JWKS_URL)")
	}
	if strings.TrimSpace(cfg.PublicBaseURL) == "" {
		return errors.New("config: publicBaseURL is required to build download links")
	}
	if len(strings.TrimSpace(cfg.DownloadTokenSecret)) < minDownloadSecretLen {
		return fmt.Errorf("config: downloadTokenSecret must be at least %d bytes", minDownloadSecretLen)
	}
	rl := cfg.RateLimits
	if rl.ParseFreePerDay < 0 || rl.ParseProPerDay < 0 || rl.ParsePerIPPerMinute < 0 || rl.DownloadProPerDay < 0 || rl.DownloadPerIPPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.ResolverMaxHops < 0 {
		return errors.New("config: resolverMaxHops must be >= 0")
	}
	if cfg.UsageRetentionMonths < 0 {
		return errors.New("config: usageRetentionMonths must be >= 0")
	}
	for name, raw := range map[string]string{
		"jwtLeeway":        cfg.JWTLeeway,
		"downloadTokenTTL": cfg.DownloadTokenTTL,
		"httpTimeout":      cfg.HTTPTimeout,
		"auditRetention":   cfg.AuditRetention,
		"sweepInterval":    cfg.SweepInterval,
	} {
		if _, err := ParseDuration(raw, 0); err != nil {
			return fmt.Errorf("config: invalid %s: %w", name, err)
		}
	}
	m := cfg.Minio
	if m.Endpoint != "" && (m.Bucket == "" || m.AccessKey == "" || m.SecretKey == "") {
		return errors.New("config: minio requires bucket, accessKey and secretKey when endpoint is set")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseDuration parses an optional duration string, returning fallback
// when it is empty.
func ParseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if dur < 0 {
		return 0, errors.New("duration must be >= 0")
	}
	return dur, nil
}
