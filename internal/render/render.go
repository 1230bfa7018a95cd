// Package render 实现从画布设计到证书渲染负载的纯转换管线：
// 变量解析 → 模板替换 → 元素归一化 → 负载组装 → HTML 投影。
// 整条管线无副作用，同样的输入永远产出同样的负载
// （metadata.generated_at 由调用方注入的时间决定）。
package render

import "time"

// RecipientInput 是单个接收人的原始输入。
type RecipientInput struct {
	Name  string
	Email string
	Data  map[string]any
}

// RenderPayload 是管线的统一入口：解析变量并组装负载。
// 设计数据为空时返回 (nil, nil)，表示证书暂不可渲染。
func RenderPayload(design DesignSnapshot, certificateID string, campaignID *string, input RecipientInput, now time.Time) (*Payload, error) {
	values := BuildVariableValues(input.Name, input.Email, input.Data)
	return BuildPayload(design, certificateID, campaignID, values, now)
}
