package render

import (
	"math"
	"strconv"
	"strings"
)

// classifyType 把编辑器的自由类型字符串归一化为 text/image/shape。
// 未识别的类型一律按 text 处理。
func classifyType(rawType string) string {
	switch strings.ToLower(rawType) {
	case "image":
		return "image"
	case "rect", "triangle", "circle", "line", "ellipse", "polygon", "path":
		return "shape"
	default:
		return "text"
	}
}

// TransformObjects 将原始画布节点序列转换为有序的 Element 列表。
// 没有 src 的图片节点不携带任何可渲染信息，被直接丢弃。
func TransformObjects(objects []any, values Values) []Element {
	elements := make([]Element, 0, len(objects))

	for index, entry := range objects {
		object, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if element, ok := transformObject(object, values, index); ok {
			elements = append(elements, element)
		}
	}

	return elements
}

func transformObject(object map[string]any, values Values, index int) (Element, bool) {
	elementType := classifyType(rawString(object, "type"))

	scaleX := rawFloatDefault(object, "scaleX", 1)
	if scaleX == 0 {
		scaleX = 1
	}
	scaleY := rawFloatDefault(object, "scaleY", 1)
	if scaleY == 0 {
		scaleY = 1
	}

	width := rawFloatDefault(object, "width", 0) * scaleX
	height := rawFloatDefault(object, "height", 0) * scaleY

	fontSize := rawFloatDefault(object, "fontSize", defaultFontSize)
	if width <= 0 {
		// 文本节点未给宽度时按字号粗估一个盒子
		textLength := float64(len(rawString(object, "text")))
		width = fontSize * math.Max(1, textLength/2)
	}
	if height <= 0 {
		height = fontSize * defaultLineHeight
	}

	element := Element{
		Type: elementType,
		Position: Point{
			X: rawFloatDefault(object, "left", 0),
			Y: rawFloatDefault(object, "top", 0),
		},
		Size: Size{
			Width:  width,
			Height: height,
		},
		ZIndex:          index + 1,
		Opacity:         rawFloatDefault(object, "opacity", 1),
		Rotation:        rawFloatDefault(object, "angle", 0),
		BackgroundColor: rawString(object, "backgroundColor"),
	}

	switch elementType {
	case "text":
		return transformTextObject(element, object, values), true
	case "image":
		return transformImageObject(element, object)
	default:
		return transformShapeObject(element, object), true
	}
}

func transformTextObject(element Element, object map[string]any, values Values) Element {
	template := rawString(object, "template")
	if template == "" {
		template = rawString(object, "text")
	}

	fontSize := rawFloatDefault(object, "fontSize", defaultFontSize)
	font := Font{
		Family:     rawString(object, "fontFamily"),
		Size:       fontSize,
		Weight:     rawFontWeight(object),
		Style:      rawString(object, "fontStyle"),
		Color:      rawStringDefault(object, "fill", defaultFontColor),
		LineHeight: rawFloatDefault(object, "lineHeight", defaultLineHeight),
	}

	// charSpacing 为千分比单位，换算为像素并保留两位小数；
	// 为 0 或缺失时整体省略该字段
	if charSpacing := rawFloatDefault(object, "charSpacing", 0); charSpacing != 0 {
		spacing := math.Round(charSpacing/1000*fontSize*100) / 100
		font.LetterSpacing = &spacing
	}

	element.Content = RenderTemplate(template, values)
	element.Template = template
	element.Font = &font
	element.TextAlign = rawStringDefault(object, "textAlign", "left")
	element.Transform = strings.ToLower(rawStringDefault(object, "textTransform", "none"))

	return element
}

func transformImageObject(element Element, object map[string]any) (Element, bool) {
	src := rawString(object, "src")
	if src == "" {
		return Element{}, false
	}
	element.ImageURL = src
	return element, true
}

func transformShapeObject(element Element, object map[string]any) Element {
	border := Border{
		Color: rawString(object, "stroke"),
	}

	if strokeWidth, ok := rawFloat(object, "strokeWidth"); ok {
		border.Width = &strokeWidth
		if strokeWidth > 0 {
			if hasDashArray(object) {
				border.Style = "dashed"
			} else {
				border.Style = "solid"
			}
		}
	}

	if radius, ok := rawFloat(object, "rx"); ok {
		border.Radius = &radius
	} else if radius, ok := rawFloat(object, "ry"); ok {
		border.Radius = &radius
	}

	element.Border = &border
	return element
}

func hasDashArray(object map[string]any) bool {
	dash, ok := object["strokeDashArray"].([]any)
	return ok && len(dash) > 0
}

// 以下访问器对编辑器产出的松散 JSON 保持宽容：
// 字段可能缺失、类型可能是字符串化的数字。

func rawString(object map[string]any, key string) string {
	if value, ok := object[key].(string); ok {
		return value
	}
	return ""
}

func rawStringDefault(object map[string]any, key, fallback string) string {
	if value, ok := object[key]; ok {
		if s, ok := value.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func rawFloat(object map[string]any, key string) (float64, bool) {
	switch value := object[key].(type) {
	case float64:
		return value, true
	case int:
		return float64(value), true
	case string:
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func rawFloatDefault(object map[string]any, key string, fallback float64) float64 {
	if value, ok := rawFloat(object, key); ok {
		return value
	}
	return fallback
}

// rawFontWeight 保留编辑器给出的原始形态：可能是数字（700）也可能是
// 关键字（bold），缺失时默认 400。
func rawFontWeight(object map[string]any) any {
	switch value := object["fontWeight"].(type) {
	case float64:
		return value
	case string:
		if value != "" {
			return value
		}
	}
	return 400
}
