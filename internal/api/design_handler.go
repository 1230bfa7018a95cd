package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"certforge/internal/database"
)

// DesignHandler 负责证书设计的增删改查。
type DesignHandler struct {
	db *gorm.DB
}

// NewDesignHandler 构造 DesignHandler。
func NewDesignHandler(db *gorm.DB) *DesignHandler {
	return &DesignHandler{db: db}
}

type createDesignRequest struct {
	OrganizationID string         `json:"organization_id" binding:"required,uuid"`
	Name           string         `json:"name" binding:"required"`
	DesignData     datatypes.JSON `json:"design_data"`
	Settings       datatypes.JSON `json:"settings"`
	Status         *string        `json:"status"`
}

type updateDesignRequest struct {
	Name       *string         `json:"name"`
	DesignData *datatypes.JSON `json:"design_data"`
	Settings   *datatypes.JSON `json:"settings"`
	Status     *string         `json:"status"`
}

type designResponse struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	Name           string         `json:"name"`
	Status         string         `json:"status"`
	DesignData     datatypes.JSON `json:"design_data,omitempty"`
	Settings       datatypes.JSON `json:"settings,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func newDesignResponse(design database.Design) designResponse {
	return designResponse{
		ID:             design.ID,
		OrganizationID: design.OrganizationID,
		Name:           design.Name,
		Status:         design.Status,
		DesignData:     design.DesignData,
		Settings:       design.Settings,
		CreatedAt:      design.CreatedAt,
		UpdatedAt:      design.UpdatedAt,
	}
}

func validDesignStatus(status string) bool {
	switch status {
	case database.DesignStatusDraft, database.DesignStatusActive, database.DesignStatusArchived:
		return true
	}
	return false
}

// CreateDesign 保存一份新的证书设计。
func (h *DesignHandler) CreateDesign(c *gin.Context) {
	var req createDesignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	status := database.DesignStatusDraft
	if req.Status != nil {
		if !validDesignStatus(*req.Status) {
			BadRequest(c, "invalid design status")
			return
		}
		status = *req.Status
	}

	design := database.Design{
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		Status:         status,
		DesignData:     req.DesignData,
		Settings:       req.Settings,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&design).Error; err != nil {
		Internal(c, "failed to create design")
		return
	}

	c.JSON(http.StatusCreated, newDesignResponse(design))
}

// ListDesigns 按机构列出设计（不含画布数据）。
func (h *DesignHandler) ListDesigns(c *gin.Context) {
	orgID := c.Query("organization_id")
	query := h.db.WithContext(c.Request.Context()).Model(&database.Design{})
	if orgID != "" {
		query = query.Where("organization_id = ?", orgID)
	}

	var designs []database.Design
	if err := query.
		Select("id", "organization_id", "name", "status", "created_at", "updated_at").
		Order("created_at DESC").
		Find(&designs).Error; err != nil {
		Internal(c, "failed to list designs")
		return
	}

	items := make([]designResponse, 0, len(designs))
	for _, design := range designs {
		item := newDesignResponse(design)
		item.DesignData = nil
		item.Settings = nil
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// GetDesign 返回完整设计，包括画布 JSON。
func (h *DesignHandler) GetDesign(c *gin.Context) {
	var design database.Design
	if err := h.db.WithContext(c.Request.Context()).
		First(&design, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "design not found")
			return
		}
		Internal(c, "failed to query design")
		return
	}
	c.JSON(http.StatusOK, newDesignResponse(design))
}

// UpdateDesign 局部更新设计。已归档的设计不可修改。
func (h *DesignHandler) UpdateDesign(c *gin.Context) {
	var req updateDesignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	var design database.Design
	if err := h.db.WithContext(ctx).First(&design, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "design not found")
			return
		}
		Internal(c, "failed to query design")
		return
	}
	if design.Status == database.DesignStatusArchived {
		Conflict(c, "design is archived")
		return
	}

	updates := map[string]any{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.DesignData != nil {
		updates["design_data"] = *req.DesignData
	}
	if req.Settings != nil {
		updates["settings"] = *req.Settings
	}
	if req.Status != nil {
		if !validDesignStatus(*req.Status) {
			BadRequest(c, "invalid design status")
			return
		}
		updates["status"] = *req.Status
	}
	if len(updates) == 0 {
		c.JSON(http.StatusOK, newDesignResponse(design))
		return
	}

	if err := h.db.WithContext(ctx).Model(&design).Updates(updates).Error; err != nil {
		Internal(c, "failed to update design")
		return
	}
	if err := h.db.WithContext(ctx).First(&design, "id = ?", design.ID).Error; err != nil {
		Internal(c, "failed to reload design")
		return
	}
	c.JSON(http.StatusOK, newDesignResponse(design))
}

// ArchiveDesign 归档设计。已签发的证书不受影响，负载在签发时已固化。
func (h *DesignHandler) ArchiveDesign(c *gin.Context) {
	ctx := c.Request.Context()
	var design database.Design
	if err := h.db.WithContext(ctx).First(&design, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "design not found")
			return
		}
		Internal(c, "failed to query design")
		return
	}

	if err := h.db.WithContext(ctx).Model(&design).
		Update("status", database.DesignStatusArchived).Error; err != nil {
		Internal(c, "failed to archive design")
		return
	}
	c.Status(http.StatusNoContent)
}
