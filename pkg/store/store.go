package store

import (
	"time"

	"clipscope/pkg/domain"
)

// Store defines persistence for users, plans, usage, parse records and audit logs.
type Store interface {
	// users
	GetUserByExternalID(externalID string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	// CreateUserIfAbsent inserts u together with an empty usage row for
	// month. When a user with the same external id already exists, the
	// stored user is returned and created is false.
	CreateUserIfAbsent(u domain.User, month string) (user domain.User, created bool, err error)

	// subscriptions
	GetSubscription(userID string) (domain.Subscription, bool, error)
	SaveSubscription(domain.Subscription) error

	// usage
	GetUsage(userID, month string) (domain.Usage, error)
	IncrementUsage(userID, month string, kind domain.UsageKind) error
	SumUsage(userID string) (parses, downloads int, err error)
	DeleteUsageBefore(month string) (int64, error)

	// parse records
	CreateParseRecord(domain.ParseRecord) error
	GetParseRecordForUser(id, userID string) (domain.ParseRecord, bool, error)
	ListParseRecords(userID string, limit int) ([]domain.ParseRecord, error)

	// audit
	AppendAudit(domain.AuditLogEntry) error
	ListAudit(domain.AuditFilter) ([]domain.AuditLogEntry, error)
	AuditCounts(userID string) ([]domain.AuditCount, error)
	AuditWindow(userID string, since time.Time) (domain.AuditWindow, error)
	DeleteAuditBefore(cutoff time.Time) (int64, error)
}

const (
	defaultAuditLimit = 50
	maxListLimit      = 200
)

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
