package render

import (
	"errors"
	"fmt"
	"html/template"
	"math"
	"strconv"
	"strings"
)

// mmToPx 是 CSS 物理单位换算系数（96dpi）。
const mmToPx = 96.0 / 25.4

// certificatePageTemplate 是光栅化输入页的 HTML 模板。
// 画布容器以原生像素尺寸绝对定位，再用单个 scale 变换缩到物理页面，
// 这样每个元素的坐标都不需要单独换算。
const certificatePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>Certificate • {{.Title}}</title>
    <style>
        @page {
            size: {{.PageWidthMm}}mm {{.PageHeightMm}}mm;
            margin: 0;
        }

        * {
            box-sizing: border-box;
        }

        html,
        body {
            padding: 0;
            margin: 0;
            width: 100%;
            height: 100%;
            background-color: #111827;
            font-family: {{.DefaultFont}};
            -webkit-print-color-adjust: exact;
            print-color-adjust: exact;
            display: flex;
            align-items: center;
            justify-content: center;
        }

        .page {
            position: relative;
            width: {{.PageWidthMm}}mm;
            height: {{.PageHeightMm}}mm;
            overflow: hidden;
            background-color: {{.BackgroundColor}};
{{- if .BackgroundImage}}
            background-image: url('{{.BackgroundImage}}');
            background-size: cover;
            background-position: center;
{{- end}}
        }

        .canvas {
            position: absolute;
            top: 0;
            left: 0;
            width: {{.CanvasWidth}}px;
            height: {{.CanvasHeight}}px;
            transform: scale({{.ScaleX}}, {{.ScaleY}});
            transform-origin: top left;
        }

        .element {
            position: absolute;
            transform-origin: top left;
            display: flex;
            flex-direction: column;
            justify-content: center;
            word-break: break-word;
            white-space: pre-wrap;
        }

        .element img {
            width: 100%;
            height: 100%;
            object-fit: contain;
        }

        .element--text span {
            display: block;
            width: 100%;
        }
    </style>
</head>
<body>
    <div class="page">
        <div class="canvas">
{{- range .Elements}}
            <div class="element element--{{.Type}}" style="{{.Style}}">
{{- if eq .Type "text"}}
                <span>{{.Content}}</span>
{{- else if eq .Type "image"}}
                <img src="{{.ImageURL}}" alt="">
{{- end}}
            </div>
{{- end}}
        </div>
    </div>
</body>
</html>
`

var pageTemplate = template.Must(template.New("certificate").Parse(certificatePageTemplate))

type pageView struct {
	Title           string
	PageWidthMm     int
	PageHeightMm    int
	CanvasWidth     int
	CanvasHeight    int
	ScaleX          string
	ScaleY          string
	BackgroundColor template.CSS
	BackgroundImage template.URL
	DefaultFont     template.CSS
	Elements        []elementView
}

type elementView struct {
	Type     string
	Style    template.CSS
	Content  string
	ImageURL template.URL
}

// ProjectHTML 把渲染负载投影为固定尺寸的单页 HTML 文档。
func ProjectHTML(payload *Payload) (string, error) {
	if payload == nil {
		return "", errors.New("certificate payload is empty")
	}

	pageWidthMm, pageHeightMm := 297, 210
	if strings.EqualFold(payload.Layout.Orientation, "portrait") {
		pageWidthMm, pageHeightMm = 210, 297
	}

	canvasWidth := payload.Layout.Width
	if canvasWidth <= 0 {
		canvasWidth = defaultCanvasWidth
	}
	canvasHeight := payload.Layout.Height
	if canvasHeight <= 0 {
		canvasHeight = defaultCanvasHeight
	}

	scaleX := float64(pageWidthMm) * mmToPx / float64(canvasWidth)
	scaleY := float64(pageHeightMm) * mmToPx / float64(canvasHeight)

	fontFamily := payload.Layout.DefaultFontFamily
	if fontFamily == "" {
		fontFamily = defaultFontFamily
	}
	backgroundColor := payload.Layout.BackgroundColor
	if backgroundColor == "" {
		backgroundColor = defaultBackgroundColor
	}

	title := "certificate"
	if name, ok := payload.Variables["recipient_name"]; ok && name != nil && *name != "" {
		title = *name
	}

	view := pageView{
		Title:           title,
		PageWidthMm:     pageWidthMm,
		PageHeightMm:    pageHeightMm,
		CanvasWidth:     canvasWidth,
		CanvasHeight:    canvasHeight,
		ScaleX:          formatFloat(scaleX),
		ScaleY:          formatFloat(scaleY),
		BackgroundColor: template.CSS(backgroundColor),
		BackgroundImage: template.URL(payload.Layout.BackgroundImage),
		DefaultFont:     template.CSS(fontFamily),
		Elements:        make([]elementView, 0, len(payload.Elements)),
	}

	for _, element := range payload.Elements {
		view.Elements = append(view.Elements, elementView{
			Type:     element.Type,
			Style:    template.CSS(elementStyle(element, fontFamily)),
			Content:  element.Content,
			ImageURL: template.URL(element.ImageURL),
		})
	}

	var builder strings.Builder
	if err := pageTemplate.Execute(&builder, view); err != nil {
		return "", fmt.Errorf("execute certificate page template: %w", err)
	}
	return builder.String(), nil
}

// elementStyle 生成单个元素的内联样式，几何值保持画布像素单位。
func elementStyle(element Element, pageFont string) string {
	var rules []string

	add := func(property, value string) {
		rules = append(rules, property+": "+value)
	}

	add("left", formatFloat(element.Position.X)+"px")
	add("top", formatFloat(element.Position.Y)+"px")
	add("width", formatFloat(element.Size.Width)+"px")
	add("height", formatFloat(element.Size.Height)+"px")
	add("z-index", strconv.Itoa(element.ZIndex))
	add("opacity", formatFloat(clamp01(element.Opacity)))
	add("transform", "rotate("+formatFloat(element.Rotation)+"deg)")

	if element.BackgroundColor != "" {
		add("background-color", element.BackgroundColor)
	}

	if border := element.Border; border != nil {
		width := 0.0
		if border.Width != nil {
			width = *border.Width
		}
		if width > 0 && border.Style != "" {
			color := border.Color
			if color == "" {
				color = defaultFontColor
			}
			add("border", formatFloat(width)+"px "+border.Style+" "+color)
		}
		if border.Radius != nil {
			add("border-radius", formatFloat(*border.Radius)+"px")
		}
	}

	if element.Type == "text" {
		font := element.Font
		if font == nil {
			font = &Font{}
		}

		family := font.Family
		if family == "" {
			family = pageFont
		}
		size := font.Size
		if size <= 0 {
			size = defaultFontSize
		}
		color := font.Color
		if color == "" {
			color = defaultFontColor
		}
		lineHeight := font.LineHeight
		if lineHeight <= 0 {
			lineHeight = defaultLineHeight
		}
		align := element.TextAlign
		if align == "" {
			align = "left"
		}
		textTransform := element.Transform
		if textTransform == "" {
			textTransform = "none"
		}

		add("text-align", align)
		add("text-transform", textTransform)
		add("font-family", family)
		add("font-size", formatFloat(size)+"px")
		add("font-weight", formatFontWeight(font.Weight))
		add("color", color)
		add("line-height", formatFloat(lineHeight))
		if font.LetterSpacing != nil {
			add("letter-spacing", formatFloat(*font.LetterSpacing)+"px")
		}
	}

	return strings.Join(rules, "; ") + ";"
}

// formatFloat 以最多六位小数输出并去掉尾零，抹平浮点噪声。
func formatFloat(value float64) string {
	formatted := strconv.FormatFloat(value, 'f', 6, 64)
	if formatted == "0.000000" || formatted == "-0.000000" {
		return "0"
	}
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")
	return formatted
}

func formatFontWeight(weight any) string {
	switch v := weight.(type) {
	case nil:
		return "400"
	case string:
		if v == "" {
			return "400"
		}
		return v
	case float64:
		return formatFloat(v)
	case int:
		return strconv.Itoa(v)
	default:
		return "400"
	}
}

func clamp01(value float64) float64 {
	return math.Max(0, math.Min(1, value))
}
