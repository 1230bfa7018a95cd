package database

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 证书状态流转：pending →（成功光栅化）issued →（可选）revoked。
const (
	CertificateStatusPending = "pending"
	CertificateStatusIssued  = "issued"
	CertificateStatusRevoked = "revoked"
)

// 活动状态流转：draft → active → completed；archived 为终态归档。
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusActive    = "active"
	CampaignStatusCompleted = "completed"
	CampaignStatusArchived  = "archived"
)

// 活动完成原因。
const (
	CompletionReasonLimitReached = "limit_reached"
	CompletionReasonDateReached  = "date_reached"
	CompletionReasonManual       = "manual"
)

const (
	DesignStatusDraft    = "draft"
	DesignStatusActive   = "active"
	DesignStatusArchived = "archived"
)

// Base 提供 UUID 主键与时间戳，所有业务表共用。
type Base struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BeforeCreate 在插入前生成 UUID 主键。
func (b *Base) BeforeCreate(_ *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// Organization 表示签发证书的机构。
type Organization struct {
	Base
	Name string `gorm:"size:255"`
}

// Design 表示一份自由画布的证书设计。
// DesignData 存编辑器导出的原始画布 JSON，Settings 存方向/默认字体等设置。
type Design struct {
	Base
	OrganizationID string         `gorm:"type:uuid;index"`
	Organization   Organization   `gorm:"constraint:OnDelete:CASCADE"`
	Name           string         `gorm:"size:255"`
	Status         string         `gorm:"size:32;default:draft"`
	DesignData     datatypes.JSON `gorm:"type:jsonb"`
	Settings       datatypes.JSON `gorm:"type:jsonb"`
}

// Campaign 表示一次批量签发活动。
type Campaign struct {
	Base
	OrganizationID     string         `gorm:"type:uuid;index"`
	Organization       Organization   `gorm:"constraint:OnDelete:CASCADE"`
	DesignID           string         `gorm:"type:uuid;index"`
	Design             Design         `gorm:"constraint:OnDelete:CASCADE"`
	Name               string         `gorm:"size:255"`
	Description        string         `gorm:"size:1024"`
	VariableMapping    datatypes.JSON `gorm:"type:jsonb"`
	Status             string         `gorm:"size:32;default:draft"`
	StartDate          *time.Time
	EndDate            *time.Time
	CertificateLimit   *int
	CertificatesIssued int    `gorm:"default:0"`
	CompletedAt        *time.Time
	CompletionReason   string `gorm:"size:32"`
}

// CanIssueMore 判断活动是否还有剩余签发额度。
func (c *Campaign) CanIssueMore() bool {
	if c.CertificateLimit == nil {
		return true
	}
	return c.CertificatesIssued < *c.CertificateLimit
}

// Certificate 表示签发给单个接收人的证书记录。
// CertificateData 为生成时固化的渲染负载（Payload），此后不可变；
// 重新生成会整体覆盖。
type Certificate struct {
	Base
	OrganizationID    string         `gorm:"type:uuid;index"`
	DesignID          string         `gorm:"type:uuid;index"`
	CampaignID        *string        `gorm:"type:uuid;index"`
	RecipientName     string         `gorm:"size:255"`
	RecipientEmail    string         `gorm:"size:255"`
	RecipientData     datatypes.JSON `gorm:"type:jsonb"`
	CertificateData   datatypes.JSON `gorm:"type:jsonb"`
	VerificationToken string         `gorm:"size:64;uniqueIndex"`
	Status            string         `gorm:"size:32;default:pending"`
	PdfObjectKey      string         `gorm:"size:512"`
	IssuedAt          *time.Time
	RevokedAt         *time.Time
	RevocationReason  string `gorm:"size:512"`
}

// BeforeCreate 补齐 UUID 主键与校验 Token。
func (c *Certificate) BeforeCreate(tx *gorm.DB) error {
	if err := c.Base.BeforeCreate(tx); err != nil {
		return err
	}
	if c.VerificationToken == "" {
		token, err := NewVerificationToken()
		if err != nil {
			return err
		}
		c.VerificationToken = token
	}
	return nil
}

// IsIssued 判断证书是否已签发。
func (c *Certificate) IsIssued() bool {
	return c.Status == CertificateStatusIssued
}

// NewVerificationToken 生成 64 字符的随机校验 Token。
func NewVerificationToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
