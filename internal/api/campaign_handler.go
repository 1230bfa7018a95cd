package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"certforge/internal/api/middleware"
	"certforge/internal/campaign"
	"certforge/internal/database"
	"certforge/internal/tasks"
)

// Storage 是 API 层需要的对象存储能力子集。
type Storage interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	GeneratePresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// TaskEnqueuer 是 API 层需要的队列生产端能力。
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// CampaignHandler 负责活动生命周期与批量导入入口。
type CampaignHandler struct {
	db        *gorm.DB
	campaigns *campaign.Service
	queue     TaskEnqueuer
	storage   Storage
	clamdAddr string
}

// NewCampaignHandler 构造 CampaignHandler。
func NewCampaignHandler(db *gorm.DB, campaigns *campaign.Service, queue TaskEnqueuer, storage Storage, clamdAddr string) *CampaignHandler {
	return &CampaignHandler{
		db:        db,
		campaigns: campaigns,
		queue:     queue,
		storage:   storage,
		clamdAddr: clamdAddr,
	}
}

type createCampaignRequest struct {
	OrganizationID   string         `json:"organization_id" binding:"required,uuid"`
	DesignID         string         `json:"design_id" binding:"required,uuid"`
	Name             string         `json:"name" binding:"required"`
	Description      string         `json:"description"`
	VariableMapping  datatypes.JSON `json:"variable_mapping"`
	StartDate        *time.Time     `json:"start_date"`
	EndDate          *time.Time     `json:"end_date"`
	CertificateLimit *int           `json:"certificate_limit"`
}

type campaignResponse struct {
	ID                 string         `json:"id"`
	OrganizationID     string         `json:"organization_id"`
	DesignID           string         `json:"design_id"`
	Name               string         `json:"name"`
	Description        string         `json:"description,omitempty"`
	VariableMapping    datatypes.JSON `json:"variable_mapping,omitempty"`
	Status             string         `json:"status"`
	StartDate          *time.Time     `json:"start_date,omitempty"`
	EndDate            *time.Time     `json:"end_date,omitempty"`
	CertificateLimit   *int           `json:"certificate_limit,omitempty"`
	CertificatesIssued int            `json:"certificates_issued"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	CompletionReason   string         `json:"completion_reason,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

func newCampaignResponse(camp database.Campaign) campaignResponse {
	return campaignResponse{
		ID:                 camp.ID,
		OrganizationID:     camp.OrganizationID,
		DesignID:           camp.DesignID,
		Name:               camp.Name,
		Description:        camp.Description,
		VariableMapping:    camp.VariableMapping,
		Status:             camp.Status,
		StartDate:          camp.StartDate,
		EndDate:            camp.EndDate,
		CertificateLimit:   camp.CertificateLimit,
		CertificatesIssued: camp.CertificatesIssued,
		CompletedAt:        camp.CompletedAt,
		CompletionReason:   camp.CompletionReason,
		CreatedAt:          camp.CreatedAt,
	}
}

// CreateCampaign 创建活动，初始为 draft。
func (h *CampaignHandler) CreateCampaign(c *gin.Context) {
	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.CertificateLimit != nil && *req.CertificateLimit <= 0 {
		BadRequest(c, "certificate_limit must be positive")
		return
	}

	ctx := c.Request.Context()
	var design database.Design
	if err := h.db.WithContext(ctx).First(&design, "id = ?", req.DesignID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "design not found")
			return
		}
		Internal(c, "failed to query design")
		return
	}

	camp := database.Campaign{
		OrganizationID:   req.OrganizationID,
		DesignID:         req.DesignID,
		Name:             req.Name,
		Description:      req.Description,
		VariableMapping:  req.VariableMapping,
		Status:           database.CampaignStatusDraft,
		StartDate:        req.StartDate,
		EndDate:          req.EndDate,
		CertificateLimit: req.CertificateLimit,
	}
	if err := h.db.WithContext(ctx).Create(&camp).Error; err != nil {
		Internal(c, "failed to create campaign")
		return
	}

	c.JSON(http.StatusCreated, newCampaignResponse(camp))
}

// GetCampaign 返回活动详情。
func (h *CampaignHandler) GetCampaign(c *gin.Context) {
	var camp database.Campaign
	if err := h.db.WithContext(c.Request.Context()).
		First(&camp, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "campaign not found")
			return
		}
		Internal(c, "failed to query campaign")
		return
	}
	c.JSON(http.StatusOK, newCampaignResponse(camp))
}

// ExecuteCampaign 启动活动：draft → active。
func (h *CampaignHandler) ExecuteCampaign(c *gin.Context) {
	camp, err := h.campaigns.Execute(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			NotFound(c, "campaign not found")
		case errors.Is(err, campaign.ErrNotDraft):
			Conflict(c, err.Error())
		default:
			Internal(c, "failed to execute campaign")
		}
		return
	}
	c.JSON(http.StatusOK, newCampaignResponse(*camp))
}

// FinishCampaign 手动完成活动。
func (h *CampaignHandler) FinishCampaign(c *gin.Context) {
	camp, err := h.campaigns.Finish(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			NotFound(c, "campaign not found")
		case errors.Is(err, campaign.ErrNotActive), errors.Is(err, campaign.ErrPendingCertificates):
			Conflict(c, err.Error())
		default:
			Internal(c, "failed to finish campaign")
		}
		return
	}
	c.JSON(http.StatusOK, newCampaignResponse(*camp))
}

// ImportRecipients 接收收件人 CSV：扫描、落盘到对象存储、异步展开。
func (h *CampaignHandler) ImportRecipients(c *gin.Context) {
	log := middleware.LoggerFromContext(c)
	ctx := c.Request.Context()

	var camp database.Campaign
	if err := h.db.WithContext(ctx).First(&camp, "id = ?", c.Param("id")).Error; err != nil {
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

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}

	if h.clamdAddr != "" {
		infected, err := h.scanUpload(file)
		if err != nil {
			log.Error("scan csv failed", "error", err)
			Internal(c, "failed to scan file")
			return
		}
		if infected {
			BadRequest(c, "malicious file detected")
			return
		}
	}

	reader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}
	rows, err := campaign.CountDataRows(reader)
	reader.Close()
	if err != nil {
		BadRequest(c, "invalid csv file")
		return
	}
	if rows == 0 {
		BadRequest(c, "csv contains no data rows")
		return
	}

	reader, err = file.Open()
	if err != nil {
		Internal(c, "failed to reopen file")
		return
	}
	defer reader.Close()

	objectKey := fmt.Sprintf("campaign-imports/%s/%s.csv", camp.ID, uuid.NewString())
	if _, err := h.storage.UploadFile(ctx, objectKey, reader, file.Size, "text/csv"); err != nil {
		log.Error("upload csv failed", "error", err)
		Internal(c, "failed to store file")
		return
	}

	correlationID := middleware.GetCorrelationID(c)
	task, err := tasks.NewCampaignImportTask(camp.ID, objectKey, correlationID)
	if err != nil {
		Internal(c, "failed to create import task")
		return
	}
	info, err := h.queue.EnqueueContext(ctx, task, asynq.MaxRetry(3))
	if err != nil {
		log.Error("enqueue import task failed", "error", err)
		Internal(c, "failed to enqueue import")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "import accepted",
		"rows":    rows,
		"task_id": info.ID,
	})
}

// scanUpload 将上传流交给 clamd 扫描。
func (h *CampaignHandler) scanUpload(file *multipart.FileHeader) (bool, error) {
	reader, err := file.Open()
	if err != nil {
		return false, fmt.Errorf("open upload: %w", err)
	}
	defer reader.Close()

	clamdClient := clamd.NewClamd(h.clamdAddr)
	abortChan := make(chan bool)
	defer close(abortChan)

	scanChan, err := clamdClient.ScanStream(reader, abortChan)
	if err != nil {
		return false, fmt.Errorf("scan stream: %w", err)
	}
	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			return true, nil
		}
	}
	return false, nil
}
