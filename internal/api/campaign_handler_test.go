package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"certforge/internal/api/middleware"
	"certforge/internal/campaign"
	"certforge/internal/database"
	"certforge/internal/tasks"
)

func newCampaignRouter(t *testing.T, db *gorm.DB, queue *fakeQueue, storage *fakeStorage) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.CorrelationIDMiddleware())
	h := NewCampaignHandler(db, campaign.NewService(db), queue, storage, "")
	router.POST("/v1/campaigns", h.CreateCampaign)
	router.GET("/v1/campaigns/:id", h.GetCampaign)
	router.POST("/v1/campaigns/:id/execute", h.ExecuteCampaign)
	router.POST("/v1/campaigns/:id/finish", h.FinishCampaign)
	router.POST("/v1/campaigns/:id/import", h.ImportRecipients)
	return router
}

func newCSVUpload(t *testing.T, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "recipients.csv")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestCampaignLifecycle(t *testing.T) {
	db := newTestDB(t)
	queue := &fakeQueue{}
	camp := seedActiveCampaign(t, db, nil)
	if err := db.Model(camp).Update("status", database.CampaignStatusDraft).Error; err != nil {
		t.Fatalf("reset to draft: %v", err)
	}
	router := newCampaignRouter(t, db, queue, newFakeStorage())

	// draft → active
	w := performRequest(t, router, http.MethodPost, "/v1/campaigns/"+camp.ID+"/execute", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("execute: expected 200 got %d body=%s", w.Code, w.Body.String())
	}
	var resp campaignResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != database.CampaignStatusActive {
		t.Fatalf("expected active, got %q", resp.Status)
	}
	if resp.StartDate == nil {
		t.Fatalf("execute should backfill start_date")
	}

	// 重复启动冲突
	w = performRequest(t, router, http.MethodPost, "/v1/campaigns/"+camp.ID+"/execute", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("double execute should 409, got %d", w.Code)
	}

	// active → completed（manual）
	w = performRequest(t, router, http.MethodPost, "/v1/campaigns/"+camp.ID+"/finish", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("finish: expected 200 got %d body=%s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != database.CampaignStatusCompleted {
		t.Fatalf("expected completed, got %q", resp.Status)
	}
	if resp.CompletionReason != database.CompletionReasonManual {
		t.Fatalf("expected manual completion, got %q", resp.CompletionReason)
	}
}

func TestFinishCampaign_RefusesWhilePending(t *testing.T) {
	db := newTestDB(t)
	camp := seedActiveCampaign(t, db, nil)
	pending := database.Certificate{
		OrganizationID: camp.OrganizationID,
		DesignID:       camp.DesignID,
		CampaignID:     &camp.ID,
		RecipientName:  "Jane Doe",
		RecipientEmail: "jane@example.com",
		Status:         database.CertificateStatusPending,
	}
	if err := db.Create(&pending).Error; err != nil {
		t.Fatalf("seed pending certificate: %v", err)
	}
	router := newCampaignRouter(t, db, &fakeQueue{}, newFakeStorage())

	w := performRequest(t, router, http.MethodPost, "/v1/campaigns/"+camp.ID+"/finish", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestImportRecipients_StoresCSVAndEnqueues(t *testing.T) {
	db := newTestDB(t)
	queue := &fakeQueue{}
	storage := newFakeStorage()
	camp := seedActiveCampaign(t, db, nil)
	router := newCampaignRouter(t, db, queue, storage)

	csv := "recipient_name,recipient_email\nJane Doe,jane@example.com\nJohn Roe,john@example.com\n"
	body, contentType := newCSVUpload(t, csv)
	req := httptest.NewRequest(http.MethodPost, "/v1/campaigns/"+camp.ID+"/import", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d body=%s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["rows"] != float64(2) {
		t.Fatalf("expected 2 counted rows, got %v", resp["rows"])
	}

	if len(storage.uploaded) != 1 {
		t.Fatalf("expected csv stored, got %d objects", len(storage.uploaded))
	}
	for key, data := range storage.uploaded {
		if !strings.HasPrefix(key, "campaign-imports/"+camp.ID+"/") || !strings.HasSuffix(key, ".csv") {
			t.Fatalf("unexpected object key %q", key)
		}
		if string(data) != csv {
			t.Fatalf("stored csv differs from upload")
		}
	}

	if got := queue.countByType(tasks.TypeCampaignImport); got != 1 {
		t.Fatalf("expected 1 import task, got %d", got)
	}
}

func TestImportRecipients_RejectsInactiveAndEmpty(t *testing.T) {
	db := newTestDB(t)
	camp := seedActiveCampaign(t, db, nil)
	router := newCampaignRouter(t, db, &fakeQueue{}, newFakeStorage())

	// 空 CSV：只有表头
	body, contentType := newCSVUpload(t, "recipient_name,recipient_email\n")
	req := httptest.NewRequest(http.MethodPost, "/v1/campaigns/"+camp.ID+"/import", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%s", w.Code, w.Body.String())
	}

	if err := db.Model(camp).Update("status", database.CampaignStatusDraft).Error; err != nil {
		t.Fatalf("set draft: %v", err)
	}
	body, contentType = newCSVUpload(t, "recipient_name,recipient_email\nJane,jane@example.com\n")
	req = httptest.NewRequest(http.MethodPost, "/v1/campaigns/"+camp.ID+"/import", body)
	req.Header.Set("Content-Type", contentType)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("draft campaign should 409, got %d body=%s", w.Code, w.Body.String())
	}
}
