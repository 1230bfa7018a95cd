package worker

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"certforge/internal/campaign"
	"certforge/internal/database"
	"certforge/internal/tasks"
)

type fakeQueue struct {
	tasks []*asynq.Task
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func (q *fakeQueue) countByType(taskType string) int {
	count := 0
	for _, task := range q.tasks {
		if task.Type() == taskType {
			count++
		}
	}
	return count
}

func seedCampaign(t *testing.T, db *gorm.DB, limit *int) *database.Campaign {
	t.Helper()
	org := database.Organization{Name: "Acme Institute"}
	if err := db.Create(&org).Error; err != nil {
		t.Fatalf("seed organization: %v", err)
	}
	design := database.Design{
		OrganizationID: org.ID,
		Name:           "Course Completion",
		Status:         database.DesignStatusActive,
		DesignData:     []byte(sampleDesignDoc),
	}
	if err := db.Create(&design).Error; err != nil {
		t.Fatalf("seed design: %v", err)
	}
	camp := database.Campaign{
		OrganizationID:   org.ID,
		DesignID:         design.ID,
		Name:             "Spring Cohort",
		Status:           database.CampaignStatusActive,
		CertificateLimit: limit,
		VariableMapping:  []byte(`{"recipient_name": "name", "recipient_email": "email", "variables": {"course": "course"}}`),
	}
	if err := db.Create(&camp).Error; err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	return &camp
}

func importTask(t *testing.T, campaignID, objectKey string) *asynq.Task {
	t.Helper()
	task, err := tasks.NewCampaignImportTask(campaignID, objectKey, "corr-import")
	if err != nil {
		t.Fatalf("build import task: %v", err)
	}
	return task
}

const sampleImportCSV = "name,email,course\n" +
	"Jane Doe,jane@example.com,Go 101\n" +
	"John Roe,john@example.com,Go 102\n" +
	",missing-name@example.com,Go 103\n"

func TestImportHandler_CreatesCertificatesAndQueuesWork(t *testing.T) {
	db := newTestDB(t)
	storage := newFakeStorage()
	queue := &fakeQueue{}
	notifier := &fakeNotifier{}

	camp := seedCampaign(t, db, nil)
	objectKey := "campaign-imports/" + camp.ID + "/recipients.csv"
	storage.uploaded[objectKey] = []byte(sampleImportCSV)

	h := NewImportTaskHandler(db, storage, queue, notifier, testLogger(), 2, 3)
	if err := h.ProcessTask(context.Background(), importTask(t, camp.ID, objectKey)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	var certs []database.Certificate
	if err := db.Where("campaign_id = ?", camp.ID).Order("recipient_email").Find(&certs).Error; err != nil {
		t.Fatalf("load certificates: %v", err)
	}
	if len(certs) != 2 {
		t.Fatalf("expected 2 certificates (row without name dropped), got %d", len(certs))
	}
	for _, cert := range certs {
		if cert.Status != database.CertificateStatusPending {
			t.Fatalf("expected pending certificate, got %q", cert.Status)
		}
		if len(cert.CertificateData) == 0 {
			t.Fatalf("expected frozen payload for %s", cert.RecipientEmail)
		}
		if len(cert.VerificationToken) != 64 {
			t.Fatalf("expected 64 char token, got %d", len(cert.VerificationToken))
		}
	}
	if certs[0].RecipientName != "Jane Doe" || !strings.Contains(string(certs[0].CertificateData), "Awarded to Jane Doe") {
		t.Fatalf("payload not substituted for %s", certs[0].RecipientEmail)
	}
	var recipientData map[string]any
	if err := json.Unmarshal(certs[0].RecipientData, &recipientData); err != nil {
		t.Fatalf("decode recipient data: %v", err)
	}
	if recipientData["course"] != "Go 101" {
		t.Fatalf("mapped variable missing, got %v", recipientData)
	}

	var updated database.Campaign
	if err := db.First(&updated, "id = ?", camp.ID).Error; err != nil {
		t.Fatalf("reload campaign: %v", err)
	}
	if updated.CertificatesIssued != 2 {
		t.Fatalf("expected counter 2, got %d", updated.CertificatesIssued)
	}

	if got := queue.countByType(tasks.TypeCertificateGenerate); got != 2 {
		t.Fatalf("expected 2 generate tasks, got %d", got)
	}
	if got := queue.countByType(tasks.TypeCampaignCompletion); got != 1 {
		t.Fatalf("expected 1 completion task, got %d", got)
	}

	if len(storage.deleted) != 1 || storage.deleted[0] != objectKey {
		t.Fatalf("csv should be deleted after import, got %v", storage.deleted)
	}

	if len(notifier.messages) != 1 {
		t.Fatalf("expected one import notification, got %d", len(notifier.messages))
	}
	var msg ImportNotifyMessage
	if err := json.Unmarshal(notifier.messages[0], &msg); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if msg.Status != "completed" || msg.Imported != 2 || msg.Skipped != 0 {
		t.Fatalf("unexpected notification %+v", msg)
	}
}

func TestImportHandler_RespectsCertificateLimit(t *testing.T) {
	db := newTestDB(t)
	storage := newFakeStorage()
	queue := &fakeQueue{}
	notifier := &fakeNotifier{}

	limit := 1
	camp := seedCampaign(t, db, &limit)
	objectKey := "campaign-imports/" + camp.ID + "/recipients.csv"
	storage.uploaded[objectKey] = []byte(sampleImportCSV)

	h := NewImportTaskHandler(db, storage, queue, notifier, testLogger(), 2, 3)
	if err := h.ProcessTask(context.Background(), importTask(t, camp.ID, objectKey)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	var count int64
	if err := db.Model(&database.Certificate{}).Where("campaign_id = ?", camp.ID).Count(&count).Error; err != nil {
		t.Fatalf("count certificates: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected limit to cap import at 1 certificate, got %d", count)
	}

	var msg ImportNotifyMessage
	if err := json.Unmarshal(notifier.messages[0], &msg); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if msg.Imported != 1 || msg.Skipped != 1 {
		t.Fatalf("unexpected notification %+v", msg)
	}
}

func TestImportHandler_InactiveCampaignCleansUp(t *testing.T) {
	db := newTestDB(t)
	storage := newFakeStorage()
	queue := &fakeQueue{}
	notifier := &fakeNotifier{}

	camp := seedCampaign(t, db, nil)
	if err := db.Model(camp).Update("status", database.CampaignStatusDraft).Error; err != nil {
		t.Fatalf("set draft: %v", err)
	}
	objectKey := "campaign-imports/" + camp.ID + "/recipients.csv"
	storage.uploaded[objectKey] = []byte(sampleImportCSV)

	h := NewImportTaskHandler(db, storage, queue, notifier, testLogger(), 2, 3)
	if err := h.ProcessTask(context.Background(), importTask(t, camp.ID, objectKey)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	if len(queue.tasks) != 0 {
		t.Fatalf("no tasks should be enqueued for an inactive campaign")
	}
	if len(storage.deleted) != 1 {
		t.Fatalf("csv should still be cleaned up")
	}
}

func TestCompletionHandler_ClosesCampaignAtLimit(t *testing.T) {
	db := newTestDB(t)

	limit := 2
	camp := seedCampaign(t, db, &limit)
	if err := db.Model(camp).Update("certificates_issued", 2).Error; err != nil {
		t.Fatalf("set issued count: %v", err)
	}

	task, err := tasks.NewCampaignCompletionTask(camp.ID)
	if err != nil {
		t.Fatalf("build completion task: %v", err)
	}

	h := NewCompletionTaskHandler(campaign.NewService(db), testLogger())
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	var updated database.Campaign
	if err := db.First(&updated, "id = ?", camp.ID).Error; err != nil {
		t.Fatalf("reload campaign: %v", err)
	}
	if updated.Status != database.CampaignStatusCompleted {
		t.Fatalf("expected completed campaign, got %q", updated.Status)
	}
	if updated.CompletionReason != database.CompletionReasonLimitReached {
		t.Fatalf("expected limit_reached, got %q", updated.CompletionReason)
	}
	if updated.CompletedAt == nil {
		t.Fatalf("expected completed_at to be set")
	}

	done, err := campaign.NewService(db).CheckCompletion(context.Background(), camp.ID)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if done {
		t.Fatalf("completion must be idempotent")
	}
}
