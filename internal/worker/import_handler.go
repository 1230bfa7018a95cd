package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"certforge/internal/campaign"
	"certforge/internal/database"
	"certforge/internal/render"
	"certforge/internal/tasks"
)

// TaskEnqueuer 是导入处理器需要的队列生产端能力。
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ImportNotifyMessage 是批量导入结束后推送给机构的汇总消息。
type ImportNotifyMessage struct {
	Status        string `json:"status"`
	CampaignID    string `json:"campaign_id"`
	CorrelationID string `json:"correlation_id"`
	TotalRows     int    `json:"total_rows"`
	Imported      int    `json:"imported"`
	Skipped       int    `json:"skipped"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// ImportTaskHandler 消费活动批量导入任务：
// 从对象存储取回 CSV，逐行固化证书负载并入库，再为每张证书排队生成任务。
type ImportTaskHandler struct {
	db          *gorm.DB
	storage     ObjectStore
	queue       TaskEnqueuer
	notifier    Notifier
	logger      *slog.Logger
	parallelism int
	maxRetry    int
}

// NewImportTaskHandler 创建导入任务处理器。
func NewImportTaskHandler(
	db *gorm.DB,
	storage ObjectStore,
	queue TaskEnqueuer,
	notifier Notifier,
	logger *slog.Logger,
	parallelism int,
	maxRetry int,
) *ImportTaskHandler {
	if parallelism <= 0 {
		parallelism = 4
	}
	if maxRetry < 0 {
		maxRetry = 0
	}
	return &ImportTaskHandler{
		db:          db,
		storage:     storage,
		queue:       queue,
		notifier:    notifier,
		logger:      logger,
		parallelism: parallelism,
		maxRetry:    maxRetry,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *ImportTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	log := h.logger

	var payload tasks.CampaignImportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal import payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("campaign_id", payload.CampaignID),
	)
	log.Info("Starting campaign import task...")

	var camp database.Campaign
	if err := h.db.WithContext(ctx).Preload("Design").First(&camp, "id = ?", payload.CampaignID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("campaign not found, cleaning up csv and skipping")
			h.cleanupObject(ctx, payload.ObjectKey, log)
			return nil
		}
		log.Error("query campaign failed", slog.Any("error", err))
		return err
	}
	if camp.Status != database.CampaignStatusActive {
		log.Warn("campaign not active, cleaning up csv and skipping",
			slog.String("status", camp.Status))
		h.cleanupObject(ctx, payload.ObjectKey, log)
		return nil
	}

	object, err := h.storage.GetObject(ctx, payload.ObjectKey)
	if err != nil {
		log.Error("fetch csv from storage failed", slog.Any("error", err))
		return err
	}
	recipients, err := h.readRecipients(object, &camp)
	if err != nil {
		log.Error("parse csv failed", slog.Any("error", err))
		// CSV 本身损坏时重试无意义，清理后直接结束
		h.cleanupObject(ctx, payload.ObjectKey, log)
		h.publishImportNotify(ctx, camp.OrganizationID, ImportNotifyMessage{
			Status:        "error",
			CampaignID:    camp.ID,
			CorrelationID: payload.CorrelationID,
			ErrorMessage:  err.Error(),
		}, log)
		return nil
	}

	totalRows := len(recipients)
	skipped := 0
	if camp.CertificateLimit != nil {
		remaining := *camp.CertificateLimit - camp.CertificatesIssued
		if remaining < 0 {
			remaining = 0
		}
		if len(recipients) > remaining {
			skipped = len(recipients) - remaining
			recipients = recipients[:remaining]
		}
	}

	certificates, err := h.buildCertificates(ctx, &camp, recipients)
	if err != nil {
		log.Error("build certificate payloads failed", slog.Any("error", err))
		return err
	}

	if len(certificates) > 0 {
		err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.CreateInBatches(certificates, 100).Error; err != nil {
				return err
			}
			return tx.Model(&database.Campaign{}).
				Where("id = ?", camp.ID).
				UpdateColumn("certificates_issued", gorm.Expr("certificates_issued + ?", len(certificates))).
				Error
		})
		if err != nil {
			log.Error("persist certificates failed", slog.Any("error", err))
			return err
		}
	}

	for _, certificate := range certificates {
		task, err := tasks.NewCertificateGenerateTask(certificate.ID, payload.CorrelationID)
		if err != nil {
			log.Error("build generate task failed", slog.Any("error", err))
			return err
		}
		if _, err := h.queue.EnqueueContext(ctx, task, asynq.MaxRetry(h.maxRetry)); err != nil {
			log.Error("enqueue generate task failed",
				slog.String("certificate_id", certificate.ID),
				slog.Any("error", err))
			return err
		}
	}

	completionTask, err := tasks.NewCampaignCompletionTask(camp.ID)
	if err != nil {
		log.Error("build completion task failed", slog.Any("error", err))
		return err
	}
	if _, err := h.queue.EnqueueContext(ctx, completionTask); err != nil {
		log.Error("enqueue completion task failed", slog.Any("error", err))
		return err
	}

	h.cleanupObject(ctx, payload.ObjectKey, log)
	h.publishImportNotify(ctx, camp.OrganizationID, ImportNotifyMessage{
		Status:        "completed",
		CampaignID:    camp.ID,
		CorrelationID: payload.CorrelationID,
		TotalRows:     totalRows,
		Imported:      len(certificates),
		Skipped:       skipped,
	}, log)

	log.Info("Campaign import task completed.",
		slog.Int("imported", len(certificates)),
		slog.Int("skipped", skipped))
	return nil
}

func (h *ImportTaskHandler) readRecipients(object io.ReadCloser, camp *database.Campaign) ([]render.RecipientInput, error) {
	defer func() {
		_ = object.Close()
	}()
	mapping := campaign.ParseMapping(camp.VariableMapping)
	return campaign.ReadRecipientRows(object, mapping)
}

// buildCertificates 并行固化每个接收人的渲染负载。
// 单行构建失败会让整批导入失败重试，避免半截导入。
func (h *ImportTaskHandler) buildCertificates(ctx context.Context, camp *database.Campaign, recipients []render.RecipientInput) ([]*database.Certificate, error) {
	certificates := make([]*database.Certificate, len(recipients))
	now := time.Now()

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(h.parallelism)

	for index, recipient := range recipients {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			certificateID := uuid.NewString()
			payload, err := render.RenderPayload(
				render.DesignSnapshot{
					ID:       camp.Design.ID,
					Name:     camp.Design.Name,
					Data:     camp.Design.DesignData,
					Settings: camp.Design.Settings,
				},
				certificateID,
				&camp.ID,
				recipient,
				now,
			)
			if err != nil {
				return fmt.Errorf("build payload for %q: %w", recipient.Email, err)
			}

			certificate := &database.Certificate{
				Base:           database.Base{ID: certificateID},
				OrganizationID: camp.OrganizationID,
				DesignID:       camp.DesignID,
				CampaignID:     &camp.ID,
				RecipientName:  recipient.Name,
				RecipientEmail: recipient.Email,
				Status:         database.CertificateStatusPending,
			}
			if recipient.Data != nil {
				data, err := json.Marshal(recipient.Data)
				if err != nil {
					return fmt.Errorf("marshal recipient data for %q: %w", recipient.Email, err)
				}
				certificate.RecipientData = data
			}
			if payload != nil {
				data, err := json.Marshal(payload)
				if err != nil {
					return fmt.Errorf("marshal payload for %q: %w", recipient.Email, err)
				}
				certificate.CertificateData = data
			}

			certificates[index] = certificate
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return certificates, nil
}

func (h *ImportTaskHandler) cleanupObject(ctx context.Context, objectKey string, log *slog.Logger) {
	if objectKey == "" {
		return
	}
	if err := h.storage.DeleteObject(ctx, objectKey); err != nil {
		log.Warn("delete csv object failed", slog.String("object_key", objectKey), slog.Any("error", err))
	}
}

func (h *ImportTaskHandler) publishImportNotify(ctx context.Context, organizationID string, notify ImportNotifyMessage, log *slog.Logger) {
	data, err := json.Marshal(notify)
	if err != nil {
		log.Error("marshal import notification failed", slog.Any("error", err))
		return
	}
	if err := h.notifier.Publish(ctx, NotifyChannel(organizationID), data); err != nil {
		log.Error("publish import notification failed", slog.Any("error", err))
	}
}
