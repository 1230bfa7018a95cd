package worker

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// 统一的 WebSocket 消息协议（通过 Redis Pub/Sub 转发给前端）。
// 注意：这里的字段名与前端解析保持一致。
type GenerationNotifyMessage struct {
	Status        string `json:"status"`
	CertificateID string `json:"certificate_id"`
	CampaignID    string `json:"campaign_id,omitempty"`
	CorrelationID string `json:"correlation_id"`
	ErrorCode     int    `json:"error_code"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// NotifyChannel 返回某机构的通知频道名。
func NotifyChannel(organizationID string) string {
	return "org_notify:" + organizationID
}

// Notifier 把任务结果推送给机构的在线订阅者。
type Notifier interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisNotifier 通过 Redis Pub/Sub 发布通知。
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier 创建 Redis 通知器。
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// Publish 实现 Notifier。
func (n *RedisNotifier) Publish(ctx context.Context, channel string, payload []byte) error {
	return n.client.Publish(ctx, channel, payload).Err()
}
