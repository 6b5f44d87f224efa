package downloadtoken

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTTL is the lifetime of a download link.
	DefaultTTL = 5 * time.Minute
	// DefaultIssuer is written into every token.
	DefaultIssuer = "clipscope-api"
	minSecretLen  = 32
)

var (
	ErrInvalid = errors.New("invalid download token")
	ErrExpired = errors.New("download token expired")
)

// Claims binds a token to one parse record, its owner and the requested rendition.
type Claims struct {
	RecordID string `json:"recordId"`
	UserID   string `json:"userId"`
	Format   string `json:"format"`
	Quality  string `json:"quality"`
	jwt.RegisteredClaims
}

// Options configures a Manager.
type Options struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Leeway time.Duration
}

// Manager signs and verifies HS256 download tokens.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	leeway time.Duration
	now    func() time.Time
}

func NewManager(opts Options) (*Manager, error) {
	secret := strings.TrimSpace(opts.Secret)
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("download token secret must be at least %d bytes", minSecretLen)
	}
	issuer := strings.TrimSpace(opts.Issuer)
	if issuer == "" {
		issuer = DefaultIssuer
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		leeway: opts.Leeway,
		now:    time.Now,
	}, nil
}

// TTL reports the lifetime of issued tokens.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue signs a token for the record and returns it with its expiry.
func (m *Manager) Issue(recordID, userID, format, quality string) (string, time.Time, error) {
	if strings.TrimSpace(recordID) == "" || strings.TrimSpace(userID) == "" {
		return "", time.Time{}, errors.New("record id and user id are required")
	}
	now := m.now().UTC()
	expires := now.Add(m.ttl)
	claims := Claims{
		RecordID: recordID,
		UserID:   userID,
		Format:   format,
		Quality:  quality,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        randomHexID(12),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Verify checks signature, issuer and expiry. Expired tokens yield
// ErrExpired, everything else that fails yields ErrInvalid.
func (m *Manager) Verify(token string) (Claims, error) {
	claims := Claims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrInvalid
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(m.leeway),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return claims, ErrExpired
		}
		return claims, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !parsed.Valid || claims.RecordID == "" || claims.UserID == "" {
		return claims, ErrInvalid
	}
	return claims, nil
}

func randomHexID(nBytes int) string {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", buf)
}
