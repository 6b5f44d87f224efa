package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"clipscope/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID         string    `gorm:"primaryKey"`
	ExternalID string    `gorm:"uniqueIndex;not null"`
	Email      string    `gorm:"not null;default:''"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time
}

type SubscriptionModel struct {
	UserID           string `gorm:"primaryKey"`
	Plan             string `gorm:"not null;default:'FREE'"`
	Status           string `gorm:"not null;default:'active'"`
	CurrentPeriodEnd *time.Time
	UpdatedAt        time.Time
}

type UsageModel struct {
	UserID    string `gorm:"primaryKey"`
	Month     string `gorm:"primaryKey;size:7;index"`
	Parses    int    `gorm:"not null;default:0"`
	Downloads int    `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

type ParseRecordModel struct {
	ID            string `gorm:"primaryKey"`
	UserID        string `gorm:"not null;index:idx_parse_user_created,priority:1"`
	Platform      string `gorm:"not null"`
	PlatformName  string `gorm:"not null"`
	InputURL      string `gorm:"type:text;not null"`
	ResolvedURL   string `gorm:"type:text"`
	Title         string
	Author        string
	Thumbnail     string         `gorm:"type:text"`
	LicenseStatus string         `gorm:"not null"`
	Downloadable  bool           `gorm:"not null"`
	EmbedHTML     string         `gorm:"type:text"`
	Metadata      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_parse_user_created,priority:2"`
}

type AuditLogModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index"`
	Action    string `gorm:"not null;index"`
	Platform  string
	URL       string         `gorm:"type:text"`
	Success   bool           `gorm:"not null"`
	Details   datatypes.JSON `gorm:"type:jsonb"`
	IPAddress string
	UserAgent string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null;index"`
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:         u.ID,
		ExternalID: u.ExternalID,
		Email:      u.Email,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:         m.ID,
		ExternalID: m.ExternalID,
		Email:      m.Email,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func subscriptionFromModel(m SubscriptionModel) domain.Subscription {
	return domain.Subscription{
		UserID:           m.UserID,
		Plan:             domain.Plan(m.Plan),
		Status:           domain.SubscriptionStatus(m.Status),
		CurrentPeriodEnd: m.CurrentPeriodEnd,
		UpdatedAt:        m.UpdatedAt,
	}
}

func usageFromModel(m UsageModel) domain.Usage {
	return domain.Usage{
		UserID:    m.UserID,
		Month:     m.Month,
		Parses:    m.Parses,
		Downloads: m.Downloads,
		UpdatedAt: m.UpdatedAt,
	}
}

func parseRecordToModel(r domain.ParseRecord) ParseRecordModel {
	return ParseRecordModel{
		ID:            r.ID,
		UserID:        r.UserID,
		Platform:      string(r.Platform),
		PlatformName:  r.PlatformName,
		InputURL:      r.InputURL,
		ResolvedURL:   r.ResolvedURL,
		Title:         r.Title,
		Author:        r.Author,
		Thumbnail:     r.Thumbnail,
		LicenseStatus: string(r.LicenseStatus),
		Downloadable:  r.Downloadable,
		EmbedHTML:     r.EmbedHTML,
		Metadata:      toJSON(r.Metadata),
		CreatedAt:     r.CreatedAt,
	}
}

func parseRecordFromModel(m ParseRecordModel) domain.ParseRecord {
	return domain.ParseRecord{
		ID:            m.ID,
		UserID:        m.UserID,
		Platform:      domain.PlatformID(m.Platform),
		PlatformName:  m.PlatformName,
		InputURL:      m.InputURL,
		ResolvedURL:   m.ResolvedURL,
		Title:         m.Title,
		Author:        m.Author,
		Thumbnail:     m.Thumbnail,
		LicenseStatus: domain.LicenseStatus(m.LicenseStatus),
		Downloadable:  m.Downloadable,
		EmbedHTML:     m.EmbedHTML,
		Metadata:      json.RawMessage(m.Metadata),
		CreatedAt:     m.CreatedAt,
	}
}

func auditToModel(e domain.AuditLogEntry) AuditLogModel {
	return AuditLogModel{
		ID:        e.ID,
		UserID:    e.UserID,
		Action:    string(e.Action),
		Platform:  string(e.Platform),
		URL:       e.URL,
		Success:   e.Success,
		Details:   toJSON(e.Details),
		IPAddress: e.IPAddress,
		UserAgent: e.UserAgent,
		CreatedAt: e.CreatedAt,
	}
}

func auditFromModel(m AuditLogModel) domain.AuditLogEntry {
	return domain.AuditLogEntry{
		ID:        m.ID,
		UserID:    m.UserID,
		Action:    domain.AuditAction(m.Action),
		Platform:  domain.PlatformID(m.Platform),
		URL:       m.URL,
		Success:   m.Success,
		Details:   json.RawMessage(m.Details),
		IPAddress: m.IPAddress,
		UserAgent: m.UserAgent,
		CreatedAt: m.CreatedAt,
	}
}

func toJSON(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return nil
	}
	return datatypes.JSON(raw)
}
