package render

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// designSettings 是设计 Settings(JSONB) 中与渲染相关的字段。
type designSettings struct {
	Orientation       string `json:"orientation"`
	DefaultFontFamily string `json:"default_font_family"`
}

// BuildPayload 把设计快照和变量值组装成证书渲染负载。
// 设计数据为空/缺失时返回 (nil, nil)：此时证书尚不可渲染，不算错误。
// 负载是 (设计, 变量) 的纯函数，now 由调用方注入以保证可重放。
func BuildPayload(design DesignSnapshot, certificateID string, campaignID *string, values Values, now time.Time) (*Payload, error) {
	doc := decodeDesignData(design.Data)
	if len(doc) == 0 {
		return nil, nil
	}

	canvasWidth := rawIntDefault(doc, "width", defaultCanvasWidth)
	canvasHeight := rawIntDefault(doc, "height", defaultCanvasHeight)

	var settings designSettings
	if len(design.Settings) > 0 {
		// Settings 解析失败按未设置处理，不阻断生成
		_ = json.Unmarshal(design.Settings, &settings)
	}

	orientation := strings.ToLower(strings.TrimSpace(settings.Orientation))
	if orientation == "" {
		if canvasWidth >= canvasHeight {
			orientation = "landscape"
		} else {
			orientation = "portrait"
		}
	}

	fontFamily := settings.DefaultFontFamily
	if fontFamily == "" {
		fontFamily = defaultFontFamily
	}

	rendered, err := RenderDesign(doc, values)
	if err != nil {
		return nil, fmt.Errorf("render design document: %w", err)
	}

	objects, _ := rendered["objects"].([]any)
	elements := TransformObjects(objects, values)

	metadata := Metadata{
		CertificateID: certificateID,
		DesignID:      design.ID,
		DesignName:    design.Name,
		GeneratedAt:   now.Format(time.RFC3339),
	}
	if campaignID != nil {
		metadata.CampaignID = *campaignID
	}

	return &Payload{
		Layout: Layout{
			Width:             canvasWidth,
			Height:            canvasHeight,
			Orientation:       orientation,
			BackgroundColor:   rawStringDefault(doc, "background", defaultBackgroundColor),
			BackgroundImage:   backgroundImageSrc(doc),
			DefaultFontFamily: fontFamily,
		},
		Elements:  elements,
		Fabric:    rendered,
		Variables: values,
		Metadata:  metadata,
	}, nil
}

// decodeDesignData 容忍非对象/非法 JSON：一律视为空设计。
func decodeDesignData(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc
}

func backgroundImageSrc(doc map[string]any) string {
	background, ok := doc["backgroundImage"].(map[string]any)
	if !ok {
		return ""
	}
	return rawString(background, "src")
}

func rawIntDefault(object map[string]any, key string, fallback int) int {
	if value, ok := rawFloat(object, key); ok && value > 0 {
		return int(value)
	}
	return fallback
}
