package domain

import (
	"encoding/json"
	"time"
)

type Plan string

const (
	PlanFree Plan = "FREE"
	PlanPro  Plan = "PRO"
)

// IsPaid reports whether the plan unlocks the download path.
func (p Plan) IsPaid() bool {
	return p == PlanPro
}

type PlatformID string

const (
	PlatformDouyin   PlatformID = "douyin"
	PlatformTikTok   PlatformID = "tiktok"
	PlatformYouTube  PlatformID = "youtube"
	PlatformBilibili PlatformID = "bilibili"
	PlatformUnknown  PlatformID = "unknown"
)

type LicenseStatus string

const (
	LicensePermitted  LicenseStatus = "permitted"
	LicenseUnknown    LicenseStatus = "unknown"
	LicenseProhibited LicenseStatus = "prohibited"
)

// DenyReason explains why a permission check did not allow download.
type DenyReason string

const (
	ReasonNone                  DenyReason = ""
	ReasonPlatformPolicy        DenyReason = "platform_policy"
	ReasonSubscriptionRequired  DenyReason = "subscription_required"
	ReasonAuthorizationRequired DenyReason = "authorization_required"
	ReasonCopyrightProtected    DenyReason = "copyright_protected"
	ReasonInsufficientPerm      DenyReason = "insufficient_permission"
)

type AuditAction string

const (
	ActionParse    AuditAction = "parse"
	ActionDownload AuditAction = "download"
)

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
)

type User struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"externalId"`
	Email      string    `json:"email"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Subscription struct {
	UserID           string             `json:"userId"`
	Plan             Plan               `json:"plan"`
	Status           SubscriptionStatus `json:"status"`
	CurrentPeriodEnd *time.Time         `json:"currentPeriodEnd,omitempty"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

// EffectivePlan returns the plan that governs limits; anything but an
// active paid subscription counts as FREE.
func (s Subscription) EffectivePlan() Plan {
	if s.Plan == PlanPro && s.Status == SubscriptionActive {
		return PlanPro
	}
	return PlanFree
}

// Usage holds the counters of one user for one calendar month (YYYY-MM).
type Usage struct {
	UserID    string    `json:"userId"`
	Month     string    `json:"month"`
	Parses    int       `json:"parses"`
	Downloads int       `json:"downloads"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UserDeclaration carries the caller's self-declared rights over the content.
type UserDeclaration struct {
	HasPermission  bool `json:"hasPermission"`
	IsContentOwner bool `json:"isContentOwner"`
	HasCreatorAuth bool `json:"hasCreatorAuth"`
}

type PlatformPolicy struct {
	Name          string `json:"name"`
	AllowMetadata bool   `json:"allowMetadata"`
	AllowEmbed    bool   `json:"allowEmbed"`
	AllowDownload bool   `json:"allowDownload"`
	RequiresAuth  bool   `json:"requiresAuth"`
}

type MediaMetadata struct {
	Title        string `json:"title,omitempty"`
	Author       string `json:"author,omitempty"`
	Thumbnail    string `json:"thumbnail,omitempty"`
	EmbedHTML    string `json:"embedHtml,omitempty"`
	IsEmbeddable bool   `json:"isEmbeddable"`
	License      string `json:"license,omitempty"`
	Source       string `json:"source,omitempty"`
}

type PermissionResult struct {
	Downloadable      bool          `json:"downloadable"`
	LicenseStatus     LicenseStatus `json:"licenseStatus"`
	Reason            DenyReason    `json:"reason,omitempty"`
	RequiresUpgrade   bool          `json:"requiresUpgrade"`
	ComplianceMessage string        `json:"complianceMessage"`
}

type ParseRecord struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	Platform      PlatformID      `json:"platform"`
	PlatformName  string          `json:"platformName"`
	InputURL      string          `json:"inputUrl"`
	ResolvedURL   string          `json:"resolvedUrl"`
	Title         string          `json:"title,omitempty"`
	Author        string          `json:"author,omitempty"`
	Thumbnail     string          `json:"thumbnail,omitempty"`
	LicenseStatus LicenseStatus   `json:"licenseStatus"`
	Downloadable  bool            `json:"downloadable"`
	EmbedHTML     string          `json:"embedHtml,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type AuditLogEntry struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Action    AuditAction     `json:"action"`
	Platform  PlatformID      `json:"platform,omitempty"`
	URL       string          `json:"url,omitempty"`
	Success   bool            `json:"success"`
	Details   json.RawMessage `json:"details,omitempty"`
	IPAddress string          `json:"ipAddress,omitempty"`
	UserAgent string          `json:"userAgent,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// AuditFilter narrows audit log queries. Zero values mean "any".
type AuditFilter struct {
	UserID   string
	Action   AuditAction
	Platform PlatformID
	Success  *bool
	Since    time.Time
	Limit    int
	Offset   int
}

// AuditCount is one bucket of audit stats grouped by action and outcome.
type AuditCount struct {
	Action  AuditAction `json:"action"`
	Success bool        `json:"success"`
	Count   int64       `json:"count"`
}

type UsageKind string

const (
	UsageParse    UsageKind = "parse"
	UsageDownload UsageKind = "download"
)

// AuditWindow summarizes a user's audit activity since a point in time.
type AuditWindow struct {
	Total       int64 `json:"total"`
	Failed      int64 `json:"failed"`
	DistinctIPs int64 `json:"distinctIps"`
}
