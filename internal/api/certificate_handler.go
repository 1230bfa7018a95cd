package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"certforge/internal/api/middleware"
	"certforge/internal/database"
	"certforge/internal/render"
	"certforge/internal/tasks"
)

// CertificateHandler 负责单张证书的签发、校验与分发。
type CertificateHandler struct {
	db       *gorm.DB
	queue    TaskEnqueuer
	storage  Storage
	maxRetry int
}

// NewCertificateHandler 构造 CertificateHandler。
func NewCertificateHandler(db *gorm.DB, queue TaskEnqueuer, storage Storage, maxRetry int) *CertificateHandler {
	return &CertificateHandler{
		db:       db,
		queue:    queue,
		storage:  storage,
		maxRetry: maxRetry,
	}
}

type createCertificateRequest struct {
	RecipientName  string         `json:"recipient_name" binding:"required"`
	RecipientEmail string         `json:"recipient_email" binding:"required,email"`
	RecipientData  map[string]any `json:"recipient_data"`
}

type certificateResponse struct {
	ID                string         `json:"id"`
	OrganizationID    string         `json:"organization_id"`
	DesignID          string         `json:"design_id"`
	CampaignID        *string        `json:"campaign_id,omitempty"`
	RecipientName     string         `json:"recipient_name"`
	RecipientEmail    string         `json:"recipient_email"`
	RecipientData     datatypes.JSON `json:"recipient_data,omitempty"`
	VerificationToken string         `json:"verification_token"`
	Status            string         `json:"status"`
	IssuedAt          *time.Time     `json:"issued_at,omitempty"`
	RevokedAt         *time.Time     `json:"revoked_at,omitempty"`
	RevocationReason  string         `json:"revocation_reason,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

func newCertificateResponse(cert database.Certificate) certificateResponse {
	return certificateResponse{
		ID:                cert.ID,
		OrganizationID:    cert.OrganizationID,
		DesignID:          cert.DesignID,
		CampaignID:        cert.CampaignID,
		RecipientName:     cert.RecipientName,
		RecipientEmail:    cert.RecipientEmail,
		RecipientData:     cert.RecipientData,
		VerificationToken: cert.VerificationToken,
		Status:            cert.Status,
		IssuedAt:          cert.IssuedAt,
		RevokedAt:         cert.RevokedAt,
		RevocationReason:  cert.RevocationReason,
		CreatedAt:         cert.CreatedAt,
	}
}

// CreateCertificate 在活动内签发一张证书：
// 固化渲染负载、落库、排队生成 PDF。
func (h *CertificateHandler) CreateCertificate(c *gin.Context) {
	var req createCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	var camp database.Campaign
	if err := h.db.WithContext(ctx).Preload("Design").
		First(&camp, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "campaign not found")
			return
		}
		Internal(c, "failed to query campaign")
		return
	}
	if camp.Status != database.CampaignStatusActive {
		Conflict(c, "campaign is not active")
		return
	}
	if !camp.CanIssueMore() {
		Conflict(c, "certificate limit reached")
		return
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
		render.RecipientInput{
			Name:  req.RecipientName,
			Email: req.RecipientEmail,
			Data:  req.RecipientData,
		},
		time.Now(),
	)
	if err != nil {
		Internal(c, "failed to build certificate payload")
		return
	}

	cert := database.Certificate{
		Base:           database.Base{ID: certificateID},
		OrganizationID: camp.OrganizationID,
		DesignID:       camp.DesignID,
		CampaignID:     &camp.ID,
		RecipientName:  req.RecipientName,
		RecipientEmail: req.RecipientEmail,
		Status:         database.CertificateStatusPending,
	}
	if req.RecipientData != nil {
		data, err := json.Marshal(req.RecipientData)
		if err != nil {
			BadRequest(c, "invalid recipient data")
			return
		}
		cert.RecipientData = data
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			Internal(c, "failed to encode certificate payload")
			return
		}
		cert.CertificateData = data
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&cert).Error; err != nil {
			return err
		}
		return tx.Model(&database.Campaign{}).
			Where("id = ?", camp.ID).
			UpdateColumn("certificates_issued", gorm.Expr("certificates_issued + 1")).
			Error
	})
	if err != nil {
		Internal(c, "failed to create certificate")
		return
	}

	correlationID := middleware.GetCorrelationID(c)
	task, err := tasks.NewCertificateGenerateTask(cert.ID, correlationID)
	if err != nil {
		Internal(c, "failed to create generation task")
		return
	}
	if _, err := h.queue.EnqueueContext(ctx, task, asynq.MaxRetry(h.maxRetry)); err != nil {
		Internal(c, "failed to enqueue generation")
		return
	}
	if completionTask, err := tasks.NewCampaignCompletionTask(camp.ID); err == nil {
		_, _ = h.queue.EnqueueContext(ctx, completionTask)
	}

	c.JSON(http.StatusCreated, newCertificateResponse(cert))
}

// GetCertificate 返回证书详情。
func (h *CertificateHandler) GetCertificate(c *gin.Context) {
	var cert database.Certificate
	if err := h.db.WithContext(c.Request.Context()).
		First(&cert, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "certificate not found")
			return
		}
		Internal(c, "failed to query certificate")
		return
	}
	c.JSON(http.StatusOK, newCertificateResponse(cert))
}

type revokeCertificateRequest struct {
	Reason string `json:"reason"`
}

// RevokeCertificate 吊销已签发的证书。吊销后校验端点返回无效。
func (h *CertificateHandler) RevokeCertificate(c *gin.Context) {
	var req revokeCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	var cert database.Certificate
	if err := h.db.WithContext(ctx).First(&cert, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "certificate not found")
			return
		}
		Internal(c, "failed to query certificate")
		return
	}
	if !cert.IsIssued() {
		Conflict(c, "only issued certificates can be revoked")
		return
	}

	now := time.Now()
	if err := h.db.WithContext(ctx).Model(&cert).Updates(map[string]any{
		"status":            database.CertificateStatusRevoked,
		"revoked_at":        now,
		"revocation_reason": req.Reason,
	}).Error; err != nil {
		Internal(c, "failed to revoke certificate")
		return
	}
	if err := h.db.WithContext(ctx).First(&cert, "id = ?", cert.ID).Error; err != nil {
		Internal(c, "failed to reload certificate")
		return
	}
	c.JSON(http.StatusOK, newCertificateResponse(cert))
}

// VerifyCertificate 是公开的证书校验端点，按 Token 查询。
func (h *CertificateHandler) VerifyCertificate(c *gin.Context) {
	token := c.Param("token")
	if len(token) != 64 {
		NotFound(c, "certificate not found")
		return
	}

	ctx := c.Request.Context()
	var cert database.Certificate
	if err := h.db.WithContext(ctx).
		First(&cert, "verification_token = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "certificate not found")
			return
		}
		Internal(c, "failed to query certificate")
		return
	}

	var design database.Design
	designName := ""
	if err := h.db.WithContext(ctx).
		Select("id", "name").
		First(&design, "id = ?", cert.DesignID).Error; err == nil {
		designName = design.Name
	}

	// 公开视图只暴露核验所需的最小字段
	body := gin.H{
		"valid":          cert.IsIssued(),
		"status":         cert.Status,
		"recipient_name": cert.RecipientName,
		"design_name":    designName,
		"issued_at":      cert.IssuedAt,
	}
	if cert.Status == database.CertificateStatusRevoked {
		body["revoked_at"] = cert.RevokedAt
	}
	c.JSON(http.StatusOK, body)
}

// GetDownloadLink 返回已签发证书 PDF 的预签名链接。
func (h *CertificateHandler) GetDownloadLink(c *gin.Context) {
	ctx := c.Request.Context()
	var cert database.Certificate
	if err := h.db.WithContext(ctx).First(&cert, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "certificate not found")
			return
		}
		Internal(c, "failed to query certificate")
		return
	}
	if !cert.IsIssued() || cert.PdfObjectKey == "" {
		Conflict(c, "pdf not ready")
		return
	}

	signedURL, err := h.storage.GeneratePresignedURL(ctx, cert.PdfObjectKey, 5*time.Minute)
	if err != nil {
		middleware.LoggerFromContext(c).Error("generate download link failed", "error", err)
		Internal(c, "failed to generate download link")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": signedURL})
}

// RenderCertificateHTML 返回证书的投影 HTML，仅限内部调用（光栅化与排障）。
func (h *CertificateHandler) RenderCertificateHTML(c *gin.Context) {
	ctx := c.Request.Context()
	var cert database.Certificate
	if err := h.db.WithContext(ctx).First(&cert, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "certificate not found")
			return
		}
		Internal(c, "failed to query certificate")
		return
	}
	if len(cert.CertificateData) == 0 || string(cert.CertificateData) == "null" {
		Conflict(c, "certificate payload is empty")
		return
	}

	var payload render.Payload
	if err := json.Unmarshal(cert.CertificateData, &payload); err != nil {
		Internal(c, "failed to decode certificate payload")
		return
	}
	html, err := render.ProjectHTML(&payload)
	if err != nil {
		Internal(c, "failed to project certificate")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}
