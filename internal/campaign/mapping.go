package campaign

import (
	"encoding/json"

	"certforge/internal/render"
)

// Mapping 描述 CSV 列到接收人输入的投影关系。
// recipient_name/recipient_email 未配置时按同名列取值。
type Mapping struct {
	RecipientName  string            `json:"recipient_name"`
	RecipientEmail string            `json:"recipient_email"`
	Variables      map[string]string `json:"variables"`
}

// ParseMapping 解析活动的 variable_mapping JSON；空值返回默认映射。
func ParseMapping(raw []byte) Mapping {
	mapping := Mapping{}
	if len(raw) > 0 {
		// 非法 JSON 按未配置处理
		_ = json.Unmarshal(raw, &mapping)
	}
	if mapping.RecipientName == "" {
		mapping.RecipientName = "recipient_name"
	}
	if mapping.RecipientEmail == "" {
		mapping.RecipientEmail = "recipient_email"
	}
	return mapping
}

// MapRow 将一行 CSV 数据投影为接收人输入。
// 姓名或邮箱列缺失/为空的行返回 nil，调用方静默跳过。
func (m Mapping) MapRow(row map[string]string) *render.RecipientInput {
	name := row[m.RecipientName]
	email := row[m.RecipientEmail]
	if name == "" || email == "" {
		return nil
	}

	data := make(map[string]any, len(m.Variables))
	for variableKey, columnName := range m.Variables {
		if value, ok := row[columnName]; ok {
			data[variableKey] = value
		}
	}

	return &render.RecipientInput{
		Name:  name,
		Email: email,
		Data:  data,
	}
}
