package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"certforge/internal/api/middleware"
	"certforge/internal/campaign"
	"certforge/internal/config"
	"certforge/internal/storage"
)

// RegisterRoutes 注册 API 路由。
func RegisterRoutes(
	router *gin.Engine,
	db *gorm.DB,
	asynqClient *asynq.Client,
	redisClient *redis.Client,
	logger *slog.Logger,
	storageClient *storage.Client,
	cfg *config.Config,
) {
	campaignService := campaign.NewService(db)
	designHandler := NewDesignHandler(db)
	campaignHandler := NewCampaignHandler(db, campaignService, asynqClient, storageClient, cfg.API.ClamdAddr)
	certificateHandler := NewCertificateHandler(db, asynqClient, storageClient, cfg.Renderer.MaxRetry)
	wsHandler := NewWsHandler(redisClient, logger, nil)
	internalOnly := middleware.InternalSecretMiddleware(cfg.API.InternalSecret)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)
		v1.GET("/verify/:token", certificateHandler.VerifyCertificate)

		designGroup := v1.Group("/designs")
		{
			designGroup.POST("", designHandler.CreateDesign)
			designGroup.GET("", designHandler.ListDesigns)
			designGroup.GET("/:id", designHandler.GetDesign)
			designGroup.PATCH("/:id", designHandler.UpdateDesign)
			designGroup.DELETE("/:id", designHandler.ArchiveDesign)
		}

		campaignGroup := v1.Group("/campaigns")
		{
			campaignGroup.POST("", campaignHandler.CreateCampaign)
			campaignGroup.GET("/:id", campaignHandler.GetCampaign)
			campaignGroup.POST("/:id/execute", campaignHandler.ExecuteCampaign)
			campaignGroup.POST("/:id/finish", campaignHandler.FinishCampaign)
			campaignGroup.POST("/:id/import", campaignHandler.ImportRecipients)
			campaignGroup.POST("/:id/certificates", certificateHandler.CreateCertificate)
		}

		certificateGroup := v1.Group("/certificates")
		{
			certificateGroup.GET("/:id", certificateHandler.GetCertificate)
			certificateGroup.POST("/:id/revoke", certificateHandler.RevokeCertificate)
			certificateGroup.GET("/:id/download-link", certificateHandler.GetDownloadLink)
			certificateGroup.GET("/:id/html", internalOnly, certificateHandler.RenderCertificateHTML)
		}
	}
}
