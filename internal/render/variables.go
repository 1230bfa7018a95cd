package render

import (
	"encoding/json"
	"strconv"
)

// BuildVariableValues 根据接收人信息构建变量值映射。
// recipient_name 与 recipient_email 恒定存在；附加数据只保留标量字段，
// 数组/对象静默丢弃，null 保持为 null 而非字符串 "null"。
func BuildVariableValues(name, email string, data map[string]any) Values {
	values := Values{
		"recipient_name":  stringPtr(name),
		"recipient_email": stringPtr(email),
	}

	for key, value := range data {
		if value == nil {
			values[key] = nil
			continue
		}
		if s, ok := stringifyScalar(value); ok {
			values[key] = stringPtr(s)
		}
	}

	return values
}

// stringifyScalar 将标量值转为字符串；非标量返回 false。
func stringifyScalar(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case int:
		return strconv.Itoa(v), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint:
		return strconv.FormatUint(uint64(v), 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

func stringPtr(s string) *string {
	return &s
}
