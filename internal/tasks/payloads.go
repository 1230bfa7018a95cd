package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeCertificateGenerate = "certificate:generate"
	TypeCampaignImport      = "campaign:import"
	TypeCampaignCompletion  = "campaign:completion"
)

// CertificateGeneratePayload 描述光栅化一张证书所需的最小信息。
type CertificateGeneratePayload struct {
	CertificateID string `json:"certificate_id"`
	CorrelationID string `json:"correlation_id"`
}

// CampaignImportPayload 描述一次批量导入：CSV 已存入对象存储。
type CampaignImportPayload struct {
	CampaignID    string `json:"campaign_id"`
	ObjectKey     string `json:"object_key"`
	CorrelationID string `json:"correlation_id"`
}

// CampaignCompletionPayload 触发一次活动完成条件检查。
type CampaignCompletionPayload struct {
	CampaignID string `json:"campaign_id"`
}

// NewCertificateGenerateTask 构造一个证书 PDF 生成任务。
func NewCertificateGenerateTask(certificateID, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(CertificateGeneratePayload{
		CertificateID: certificateID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCertificateGenerate, payload), nil
}

// NewCampaignImportTask 构造一个批量导入任务。
func NewCampaignImportTask(campaignID, objectKey, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(CampaignImportPayload{
		CampaignID:    campaignID,
		ObjectKey:     objectKey,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCampaignImport, payload), nil
}

// NewCampaignCompletionTask 构造一个活动完成检查任务。
func NewCampaignCompletionTask(campaignID string) (*asynq.Task, error) {
	payload, err := json.Marshal(CampaignCompletionPayload{CampaignID: campaignID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCampaignCompletion, payload), nil
}
