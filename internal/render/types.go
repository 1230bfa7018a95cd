package render

// Values 是变量键到取值的扁平映射。
// nil 表示来源字段存在但值为 null，与空字符串区分。
type Values map[string]*string

// Point 表示画布坐标系中的绝对位置（像素）。
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size 表示元素的绝对尺寸（像素）。
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Font 描述文本元素的排版属性。
// LetterSpacing 在 charSpacing 为 0 或缺失时整体省略。
type Font struct {
	Family        string   `json:"family,omitempty"`
	Size          float64  `json:"size"`
	Weight        any      `json:"weight,omitempty"`
	Style         string   `json:"style,omitempty"`
	Color         string   `json:"color,omitempty"`
	LineHeight    float64  `json:"line_height,omitempty"`
	LetterSpacing *float64 `json:"letter_spacing,omitempty"`
}

// Border 描述形状元素的描边。
// Style 仅在描边宽度大于 0 时给出。
type Border struct {
	Color  string   `json:"color,omitempty"`
	Width  *float64 `json:"width,omitempty"`
	Style  string   `json:"style,omitempty"`
	Radius *float64 `json:"radius,omitempty"`
}

// Element 是从原始画布节点归一化出的可渲染单元。
// Type 取值 text/image/shape，类型专属字段只在对应类型上出现。
type Element struct {
	Type            string  `json:"type"`
	Position        Point   `json:"position"`
	Size            Size    `json:"size"`
	ZIndex          int     `json:"z_index"`
	Opacity         float64 `json:"opacity"`
	Rotation        float64 `json:"rotation"`
	BackgroundColor string  `json:"background_color,omitempty"`

	// text
	Content   string `json:"content,omitempty"`
	Template  string `json:"template,omitempty"`
	Font      *Font  `json:"font,omitempty"`
	TextAlign string `json:"text_align,omitempty"`
	Transform string `json:"transform,omitempty"`

	// image
	ImageURL string `json:"image_url,omitempty"`

	// shape
	Border *Border `json:"border,omitempty"`
}

// Layout 描述画布几何与页面级默认值。
type Layout struct {
	Width             int    `json:"width"`
	Height            int    `json:"height"`
	Orientation       string `json:"orientation"`
	BackgroundColor   string `json:"background_color,omitempty"`
	BackgroundImage   string `json:"background_image,omitempty"`
	DefaultFontFamily string `json:"default_font_family,omitempty"`
}

// Metadata 记录负载的生成来源。
type Metadata struct {
	CertificateID string `json:"certificate_id"`
	CampaignID    string `json:"campaign_id,omitempty"`
	DesignID      string `json:"design_id"`
	DesignName    string `json:"design_name,omitempty"`
	GeneratedAt   string `json:"generated_at"`
}

// Payload 是一张证书的不可变渲染事实源。
// Fabric 保留模板替换后的完整原始文档，仅用于审计，下游不再解析。
type Payload struct {
	Layout    Layout         `json:"layout"`
	Elements  []Element      `json:"elements"`
	Fabric    map[string]any `json:"fabric"`
	Variables Values         `json:"variables"`
	Metadata  Metadata       `json:"metadata"`
}

// DesignSnapshot 是生成时刻对设计的只读快照。
type DesignSnapshot struct {
	ID       string
	Name     string
	Data     []byte
	Settings []byte
}

const (
	defaultCanvasWidth  = 1684
	defaultCanvasHeight = 1191

	defaultBackgroundColor = "#ffffff"
	defaultFontFamily      = `Inter, "Helvetica Neue", Helvetica, Arial, sans-serif`
	defaultFontColor       = "#111827"
	defaultFontSize        = 16.0
	defaultLineHeight      = 1.2
)
