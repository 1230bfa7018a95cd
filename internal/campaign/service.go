// Package campaign 管理批量签发活动的生命周期与导入映射。
package campaign

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"certforge/internal/database"
)

var (
	// ErrNotDraft 活动只能从 draft 状态启动。
	ErrNotDraft = errors.New("campaign can only be executed from the draft state")
	// ErrNotActive 活动只能在 active 状态下完成。
	ErrNotActive = errors.New("campaign can only be finished when active")
	// ErrPendingCertificates 仍有待渲染证书时不允许手动完成。
	ErrPendingCertificates = errors.New("campaign cannot be finished while certificates are still pending")
)

// Service 封装活动状态流转。
type Service struct {
	db *gorm.DB
}

// NewService 构造活动服务。
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Execute 启动活动：draft → active，并记录开始日期。
func (s *Service) Execute(ctx context.Context, campaignID string) (*database.Campaign, error) {
	var campaign database.Campaign
	if err := s.db.WithContext(ctx).First(&campaign, "id = ?", campaignID).Error; err != nil {
		return nil, err
	}
	if campaign.Status != database.CampaignStatusDraft {
		return nil, ErrNotDraft
	}

	updates := map[string]any{
		"status":            database.CampaignStatusActive,
		"completed_at":      nil,
		"completion_reason": "",
	}
	if campaign.StartDate == nil {
		now := time.Now()
		updates["start_date"] = now
	}

	if err := s.db.WithContext(ctx).Model(&campaign).Updates(updates).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).First(&campaign, "id = ?", campaignID).Error; err != nil {
		return nil, err
	}
	return &campaign, nil
}

// Finish 手动完成活动；尚有 pending 证书时拒绝。
func (s *Service) Finish(ctx context.Context, campaignID string) (*database.Campaign, error) {
	var campaign database.Campaign
	if err := s.db.WithContext(ctx).First(&campaign, "id = ?", campaignID).Error; err != nil {
		return nil, err
	}
	if campaign.Status != database.CampaignStatusActive {
		return nil, ErrNotActive
	}

	var pending int64
	if err := s.db.WithContext(ctx).
		Model(&database.Certificate{}).
		Where("campaign_id = ? AND status = ?", campaignID, database.CertificateStatusPending).
		Count(&pending).Error; err != nil {
		return nil, err
	}
	if pending > 0 {
		return nil, ErrPendingCertificates
	}

	reason := s.completionReason(&campaign, time.Now())
	if reason == "" {
		reason = database.CompletionReasonManual
	}

	if err := s.markCompleted(ctx, &campaign, reason); err != nil {
		return nil, err
	}
	return &campaign, nil
}

// CheckCompletion 检查活动是否满足完成条件（额度用尽/超过结束日期）。
// 返回是否发生了状态流转。
func (s *Service) CheckCompletion(ctx context.Context, campaignID string) (bool, error) {
	var campaign database.Campaign
	if err := s.db.WithContext(ctx).First(&campaign, "id = ?", campaignID).Error; err != nil {
		return false, err
	}
	if campaign.Status != database.CampaignStatusActive {
		return false, nil
	}

	reason := s.completionReason(&campaign, time.Now())
	if reason == "" {
		return false, nil
	}

	if err := s.markCompleted(ctx, &campaign, reason); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) completionReason(campaign *database.Campaign, now time.Time) string {
	if campaign.CertificateLimit != nil && campaign.CertificatesIssued >= *campaign.CertificateLimit {
		return database.CompletionReasonLimitReached
	}
	if campaign.EndDate != nil {
		endOfDay := time.Date(
			campaign.EndDate.Year(), campaign.EndDate.Month(), campaign.EndDate.Day(),
			23, 59, 59, 0, campaign.EndDate.Location(),
		)
		if now.After(endOfDay) {
			return database.CompletionReasonDateReached
		}
	}
	return ""
}

func (s *Service) markCompleted(ctx context.Context, campaign *database.Campaign, reason string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(campaign).Updates(map[string]any{
		"status":            database.CampaignStatusCompleted,
		"completed_at":      now,
		"completion_reason": reason,
	}).Error
}
