package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"gorm.io/gorm"

	"certforge/internal/database"
	"certforge/internal/errcode"
	"certforge/internal/render"
	"certforge/internal/tasks"
)

// ObjectStore 是任务处理器需要的对象存储能力子集。
type ObjectStore interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	GetObject(ctx context.Context, objectKey string) (io.ReadCloser, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// PDFTaskHandler 负责消费证书 PDF 生成任务。
type PDFTaskHandler struct {
	db            *gorm.DB
	storage       ObjectStore
	notifier      Notifier
	logger        *slog.Logger
	rasterizer    Rasterizer
	renderTimeout time.Duration
}

// NewPDFTaskHandler 创建任务处理器。
func NewPDFTaskHandler(
	db *gorm.DB,
	storage ObjectStore,
	notifier Notifier,
	logger *slog.Logger,
	rasterizer Rasterizer,
	renderTimeout time.Duration,
) *PDFTaskHandler {
	return &PDFTaskHandler{
		db:            db,
		storage:       storage,
		notifier:      notifier,
		logger:        logger,
		rasterizer:    rasterizer,
		renderTimeout: renderTimeout,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *PDFTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.CertificateGeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("certificate_id", payload.CertificateID),
	)
	log.Info("Starting certificate PDF generation task...")

	var certificate database.Certificate
	if err := h.db.WithContext(ctx).First(&certificate, "id = ?", payload.CertificateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("certificate not found, skipping task")
			return nil
		}
		log.Error("query certificate failed", slog.Any("error", err))
		return err
	}

	defer func() {
		if retErr == nil {
			return
		}
		if !isFinalAsynqAttempt(ctx) {
			return
		}

		// 重试耗尽：渲染失败只影响产物，证书记录保持 pending
		notify := GenerationNotifyMessage{
			Status:        "error",
			CertificateID: certificate.ID,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     errcode.RasterizerFailed,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if certificate.CampaignID != nil {
			notify.CampaignID = *certificate.CampaignID
		}
		if err := h.publishGenerationNotify(ctx, certificate.OrganizationID, notify); err != nil {
			log.Error("publish generation error notification failed", slog.Any("error", err))
		}
	}()

	renderPayload, err := h.resolveRenderPayload(ctx, &certificate)
	if err != nil {
		log.Error("resolve render payload failed", slog.Any("error", err))
		return err
	}
	if renderPayload == nil {
		// 空设计：证书暂不可渲染，不算失败
		log.Warn("certificate has no renderable payload, skipping")
		notify := GenerationNotifyMessage{
			Status:        "skipped",
			CertificateID: certificate.ID,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     errcode.PayloadEmpty,
			ErrorMessage:  "design document is empty, nothing to render",
		}
		if certificate.CampaignID != nil {
			notify.CampaignID = *certificate.CampaignID
		}
		if err := h.publishGenerationNotify(ctx, certificate.OrganizationID, notify); err != nil {
			log.Error("publish skip notification failed", slog.Any("error", err))
		}
		return nil
	}

	html, err := render.ProjectHTML(renderPayload)
	if err != nil {
		log.Error("project certificate html failed", slog.Any("error", err))
		return err
	}

	pdfBytes, err := h.rasterizer.Render(ctx, html, RenderOptions{
		Landscape: !strings.EqualFold(renderPayload.Layout.Orientation, "portrait"),
		Timeout:   h.renderTimeout,
	})
	if err != nil {
		log.Error("rasterize certificate failed", slog.Any("error", err))
		return err
	}

	objectName := fmt.Sprintf("generated-certificates/%s/%s.pdf", certificate.OrganizationID, uuid.NewString())
	pdfReader := bytes.NewReader(pdfBytes)
	if _, err := h.storage.UploadFile(ctx, objectName, pdfReader, int64(len(pdfBytes)), "application/pdf"); err != nil {
		log.Error("upload pdf to minio failed", slog.Any("error", err))
		return err
	}

	now := time.Now()
	update := map[string]any{
		"pdf_object_key": objectName,
		"status":         database.CertificateStatusIssued,
		"issued_at":      now,
	}
	if err := h.db.WithContext(ctx).Model(&certificate).Updates(update).Error; err != nil {
		log.Error("update certificate failed", slog.Any("error", err))
		return err
	}

	notify := GenerationNotifyMessage{
		Status:        "completed",
		CertificateID: certificate.ID,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
	}
	if certificate.CampaignID != nil {
		notify.CampaignID = *certificate.CampaignID
	}
	if err := h.publishGenerationNotify(ctx, certificate.OrganizationID, notify); err != nil {
		log.Error("publish redis notification failed", slog.Any("error", err))
		return err
	}

	log.Info("Certificate PDF generation task completed successfully.")
	return nil
}

// resolveRenderPayload 优先使用创建时固化的负载；缺失时按当前设计重建。
func (h *PDFTaskHandler) resolveRenderPayload(ctx context.Context, certificate *database.Certificate) (*render.Payload, error) {
	if len(certificate.CertificateData) > 0 && string(certificate.CertificateData) != "null" {
		var payload render.Payload
		if err := json.Unmarshal(certificate.CertificateData, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal certificate payload: %w", err)
		}
		return &payload, nil
	}

	var design database.Design
	if err := h.db.WithContext(ctx).First(&design, "id = ?", certificate.DesignID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query design: %w", err)
	}

	var recipientData map[string]any
	if len(certificate.RecipientData) > 0 {
		_ = json.Unmarshal(certificate.RecipientData, &recipientData)
	}

	payload, err := render.RenderPayload(
		render.DesignSnapshot{
			ID:       design.ID,
			Name:     design.Name,
			Data:     design.DesignData,
			Settings: design.Settings,
		},
		certificate.ID,
		certificate.CampaignID,
		render.RecipientInput{
			Name:  certificate.RecipientName,
			Email: certificate.RecipientEmail,
			Data:  recipientData,
		},
		time.Now(),
	)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}

	// 重建出的负载回写为证书的渲染事实源
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal rebuilt payload: %w", err)
	}
	if err := h.db.WithContext(ctx).Model(certificate).Update("certificate_data", data).Error; err != nil {
		return nil, fmt.Errorf("persist rebuilt payload: %w", err)
	}

	return payload, nil
}

func (h *PDFTaskHandler) publishGenerationNotify(ctx context.Context, organizationID string, notify GenerationNotifyMessage) error {
	data, err := json.Marshal(notify)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := NotifyChannel(organizationID)
	if err := h.notifier.Publish(ctx, channel, data); err != nil {
		return fmt.Errorf("publish notification to %q: %w", channel, err)
	}
	return nil
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
