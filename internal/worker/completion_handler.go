package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"certforge/internal/campaign"
	"certforge/internal/tasks"
)

// CompletionTaskHandler 消费活动完成检查任务。
type CompletionTaskHandler struct {
	campaigns *campaign.Service
	logger    *slog.Logger
}

// NewCompletionTaskHandler 创建完成检查处理器。
func NewCompletionTaskHandler(campaigns *campaign.Service, logger *slog.Logger) *CompletionTaskHandler {
	return &CompletionTaskHandler{campaigns: campaigns, logger: logger}
}

// ProcessTask 实现 asynq.Handler。
func (h *CompletionTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.CampaignCompletionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal completion payload failed", slog.Any("error", err))
		return err
	}

	log := h.logger.With(slog.String("campaign_id", payload.CampaignID))

	completed, err := h.campaigns.CheckCompletion(ctx, payload.CampaignID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("campaign not found, skipping completion check")
			return nil
		}
		log.Error("completion check failed", slog.Any("error", err))
		return err
	}

	if completed {
		log.Info("Campaign reached its completion condition and was closed.")
	}
	return nil
}
