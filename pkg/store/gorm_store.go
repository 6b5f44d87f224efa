package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"clipscope/pkg/domain"
)

const migrateLockID int64 = 51731420

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so that concurrent replicas do not race on schema changes.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &SubscriptionModel{}, &UsageModel{}, &ParseRecordModel{}, &AuditLogModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// GetUserByExternalID looks up a user by identity provider subject.
func (s *GormStore) GetUserByExternalID(externalID string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("external_id = ?", externalID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by internal ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// CreateUserIfAbsent inserts the user and seeds the month's usage row in
// one transaction. A concurrent insert of the same external id loses the
// race quietly and the winner's row is returned.
func (s *GormStore) CreateUserIfAbsent(u domain.User, month string) (domain.User, bool, error) {
	var (
		out     domain.User
		created bool
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		model := userToModel(u)
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoNothing: true,
		}).Create(&model)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var existing UserModel
			if err := tx.Where("external_id = ?", u.ExternalID).First(&existing).Error; err != nil {
				return err
			}
			out = userFromModel(existing)
			return nil
		}
		usage := UsageModel{UserID: model.ID, Month: month, UpdatedAt: model.CreatedAt}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&usage).Error; err != nil {
			return err
		}
		out = userFromModel(model)
		created = true
		return nil
	})
	if err != nil {
		return domain.User{}, false, err
	}
	return out, created, nil
}

// GetSubscription returns the user's subscription row, if any.
func (s *GormStore) GetSubscription(userID string) (domain.Subscription, bool, error) {
	var model SubscriptionModel
	if err := s.db.First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Subscription{}, false, nil
		}
		return domain.Subscription{}, false, err
	}
	return subscriptionFromModel(model), true, nil
}

// SaveSubscription upserts a subscription.
func (s *GormStore) SaveSubscription(sub domain.Subscription) error {
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = time.Now().UTC()
	}
	model := SubscriptionModel{
		UserID:           sub.UserID,
		Plan:             string(sub.Plan),
		Status:           string(sub.Status),
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		UpdatedAt:        sub.UpdatedAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"plan", "status", "current_period_end", "updated_at"}),
	}).Create(&model).Error
}

// GetUsage returns the month's counters; a missing row reads as zero.
func (s *GormStore) GetUsage(userID, month string) (domain.Usage, error) {
	var model UsageModel
	if err := s.db.First(&model, "user_id = ? AND month = ?", userID, month).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Usage{UserID: userID, Month: month}, nil
		}
		return domain.Usage{}, err
	}
	return usageFromModel(model), nil
}

// IncrementUsage bumps one counter with a single atomic upsert.
func (s *GormStore) IncrementUsage(userID, month string, kind domain.UsageKind) error {
	now := time.Now().UTC()
	model := UsageModel{UserID: userID, Month: month, UpdatedAt: now}
	var column string
	switch kind {
	case domain.UsageParse:
		column = "parses"
		model.Parses = 1
	case domain.UsageDownload:
		column = "downloads"
		model.Downloads = 1
	default:
		return fmt.Errorf("unknown usage kind %q", kind)
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "month"}},
		DoUpdates: clause.Assignments(map[string]any{
			column:       gorm.Expr("usage_models." + column + " + 1"),
			"updated_at": now,
		}),
	}).Create(&model).Error
}

// SumUsage returns all-time totals.
func (s *GormStore) SumUsage(userID string) (int, int, error) {
	var row struct {
		Parses    int
		Downloads int
	}
	err := s.db.Model(&UsageModel{}).
		Select("COALESCE(SUM(parses), 0) AS parses, COALESCE(SUM(downloads), 0) AS downloads").
		Where("user_id = ?", userID).
		Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Parses, row.Downloads, nil
}

// DeleteUsageBefore removes usage rows for months earlier than month.
func (s *GormStore) DeleteUsageBefore(month string) (int64, error) {
	res := s.db.Where("month < ?", month).Delete(&UsageModel{})
	return res.RowsAffected, res.Error
}

// CreateParseRecord persists an immutable parse record.
func (s *GormStore) CreateParseRecord(r domain.ParseRecord) error {
	model := parseRecordToModel(r)
	return s.db.Create(&model).Error
}

// GetParseRecordForUser returns the record only when owned by userID.
func (s *GormStore) GetParseRecordForUser(id, userID string) (domain.ParseRecord, bool, error) {
	var model ParseRecordModel
	if err := s.db.First(&model, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ParseRecord{}, false, nil
		}
		return domain.ParseRecord{}, false, err
	}
	return parseRecordFromModel(model), true, nil
}

// ListParseRecords returns the user's most recent records first.
func (s *GormStore) ListParseRecords(userID string, limit int) ([]domain.ParseRecord, error) {
	var models []ParseRecordModel
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(normalizeLimit(limit, 10)).
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.ParseRecord, 0, len(models))
	for _, m := range models {
		items = append(items, parseRecordFromModel(m))
	}
	return items, nil
}

// AppendAudit writes one audit entry.
func (s *GormStore) AppendAudit(e domain.AuditLogEntry) error {
	model := auditToModel(e)
	return s.db.Create(&model).Error
}

// ListAudit returns entries newest first.
func (s *GormStore) ListAudit(f domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	var models []AuditLogModel
	tx := s.auditScope(f).
		Order("created_at DESC").
		Limit(normalizeLimit(f.Limit, defaultAuditLimit))
	if f.Offset > 0 {
		tx = tx.Offset(f.Offset)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.AuditLogEntry, 0, len(models))
	for _, m := range models {
		items = append(items, auditFromModel(m))
	}
	return items, nil
}

func (s *GormStore) auditScope(f domain.AuditFilter) *gorm.DB {
	tx := s.db.Model(&AuditLogModel{})
	if f.UserID != "" {
		tx = tx.Where("user_id = ?", f.UserID)
	}
	if f.Action != "" {
		tx = tx.Where("action = ?", string(f.Action))
	}
	if f.Platform != "" {
		tx = tx.Where("platform = ?", string(f.Platform))
	}
	if f.Success != nil {
		tx = tx.Where("success = ?", *f.Success)
	}
	if !f.Since.IsZero() {
		tx = tx.Where("created_at >= ?", f.Since)
	}
	return tx
}

// AuditCounts groups the user's entries by action and outcome.
func (s *GormStore) AuditCounts(userID string) ([]domain.AuditCount, error) {
	var rows []struct {
		Action  string
		Success bool
		Count   int64
	}
	err := s.db.Model(&AuditLogModel{}).
		Select("action, success, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("action, success").
		Order("action, success").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.AuditCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.AuditCount{Action: domain.AuditAction(r.Action), Success: r.Success, Count: r.Count})
	}
	return out, nil
}

// AuditWindow counts entries, failures and distinct IPs since a cutoff.
func (s *GormStore) AuditWindow(userID string, since time.Time) (domain.AuditWindow, error) {
	var w domain.AuditWindow
	scope := domain.AuditFilter{UserID: userID, Since: since}
	if err := s.auditScope(scope).Count(&w.Total).Error; err != nil {
		return w, err
	}
	if w.Total == 0 {
		return w, nil
	}
	failed := false
	scope.Success = &failed
	if err := s.auditScope(scope).Count(&w.Failed).Error; err != nil {
		return w, err
	}
	scope.Success = nil
	if err := s.auditScope(scope).
		Where("ip_address <> ''").
		Distinct("ip_address").
		Count(&w.DistinctIPs).Error; err != nil {
		return w, err
	}
	return w, nil
}

// DeleteAuditBefore removes entries older than cutoff.
func (s *GormStore) DeleteAuditBefore(cutoff time.Time) (int64, error) {
	res := s.db.Where("created_at < ?", cutoff).Delete(&AuditLogModel{})
	return res.RowsAffected, res.Error
}
