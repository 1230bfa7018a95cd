package render

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// tokenPattern 匹配 {{ key }} 形式的占位符，键允许字母、数字、_、.、-。
var tokenPattern = regexp.MustCompile(`\{\{\s*([\w.-]+)\s*\}\}`)

// RenderTemplate 用变量值替换模板中的占位符。
// 键缺失、值为 null 或空字符串时整个占位符原样保留，
// 让缺数据在产出物里可见，而不是被悄悄抹掉。
func RenderTemplate(template string, values Values) string {
	if template == "" {
		return ""
	}

	return tokenPattern.ReplaceAllStringFunc(template, func(token string) string {
		match := tokenPattern.FindStringSubmatch(token)
		if match == nil {
			return token
		}
		value, ok := values[match[1]]
		if !ok || value == nil || *value == "" {
			return token
		}
		return *value
	})
}

// RenderDesign 返回设计文档的深拷贝，其中每个文本节点的 text 已按变量渲染。
// template 字段保持原值（缺失时从 text 回填），保证日后可重新生成；
// 输入文档不会被改动。
func RenderDesign(doc map[string]any, values Values) (map[string]any, error) {
	copied, err := deepCopyDocument(doc)
	if err != nil {
		return nil, err
	}

	objects, ok := copied["objects"].([]any)
	if !ok {
		return copied, nil
	}

	for _, entry := range objects {
		object, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if classifyType(rawString(object, "type")) != "text" {
			continue
		}

		template := rawString(object, "template")
		if template == "" {
			template = rawString(object, "text")
		}

		rendered := RenderTemplate(template, values)
		object["template"] = template
		object["text"] = rendered
		object["rendered_text"] = rendered
	}

	return copied, nil
}

// deepCopyDocument 通过 JSON 往返复制文档，避免共享引用被原地改写。
func deepCopyDocument(doc map[string]any) (map[string]any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal design document: %w", err)
	}
	var copied map[string]any
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("unmarshal design document copy: %w", err)
	}
	if copied == nil {
		copied = map[string]any{}
	}
	return copied, nil
}
