package render

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestBuildVariableValuesAlwaysContainsRecipientKeys(t *testing.T) {
	values := BuildVariableValues("Jane Doe", "jane@example.com", nil)

	name, ok := values["recipient_name"]
	if !ok || name == nil || *name != "Jane Doe" {
		t.Fatalf("recipient_name = %v, want Jane Doe", name)
	}
	email, ok := values["recipient_email"]
	if !ok || email == nil || *email != "jane@example.com" {
		t.Fatalf("recipient_email = %v, want jane@example.com", email)
	}
}

func TestBuildVariableValuesKeepsScalarsDropsComposites(t *testing.T) {
	values := BuildVariableValues("Jane", "jane@example.com", map[string]any{
		"course":   "Go Fundamentals",
		"score":    98.5,
		"passed":   true,
		"sessions": float64(12),
		"note":     nil,
		"tags":     []any{"a", "b"},
		"extra":    map[string]any{"nested": true},
	})

	cases := map[string]string{
		"course":   "Go Fundamentals",
		"score":    "98.5",
		"passed":   "true",
		"sessions": "12",
	}
	for key, want := range cases {
		got, ok := values[key]
		if !ok || got == nil {
			t.Fatalf("values[%q] missing, want %q", key, want)
		}
		if *got != want {
			t.Errorf("values[%q] = %q, want %q", key, *got, want)
		}
	}

	if note, ok := values["note"]; !ok || note != nil {
		t.Errorf("null field should stay null, got %v", note)
	}
	if _, ok := values["tags"]; ok {
		t.Error("array field should be dropped")
	}
	if _, ok := values["extra"]; ok {
		t.Error("object field should be dropped")
	}
}

func TestRenderTemplateReplacesKnownTokens(t *testing.T) {
	values := Values{"recipient_name": stringPtr("Jane Doe")}

	got := RenderTemplate("Certificate for {{recipient_name}}", values)
	if got != "Certificate for Jane Doe" {
		t.Fatalf("rendered = %q", got)
	}

	got = RenderTemplate("Certificate for {{ recipient_name }}", values)
	if got != "Certificate for Jane Doe" {
		t.Fatalf("whitespace-padded token rendered = %q", got)
	}
}

func TestRenderTemplateKeepsUnresolvedTokensVerbatim(t *testing.T) {
	empty := ""
	values := Values{
		"nil_value":   nil,
		"empty_value": &empty,
	}

	cases := []string{
		"Certificate for {{recipient_name}}",
		"value: {{nil_value}}",
		"value: {{empty_value}}",
		"padded: {{ missing_key }}",
	}
	for _, template := range cases {
		if got := RenderTemplate(template, values); got != template {
			t.Errorf("RenderTemplate(%q) = %q, want unchanged", template, got)
		}
	}
}

func TestRenderDesignDoesNotMutateInput(t *testing.T) {
	doc := map[string]any{
		"width":  float64(1684),
		"height": float64(1191),
		"objects": []any{
			map[string]any{"type": "textbox", "text": "Hello {{recipient_name}}"},
		},
	}
	before, _ := json.Marshal(doc)

	rendered, err := RenderDesign(doc, Values{"recipient_name": stringPtr("Jane")})
	if err != nil {
		t.Fatalf("RenderDesign: %v", err)
	}

	after, _ := json.Marshal(doc)
	if string(before) != string(after) {
		t.Fatal("input document was mutated")
	}

	objects := rendered["objects"].([]any)
	node := objects[0].(map[string]any)
	if node["text"] != "Hello Jane" {
		t.Errorf("text = %v", node["text"])
	}
	if node["template"] != "Hello {{recipient_name}}" {
		t.Errorf("template should be backfilled from text, got %v", node["template"])
	}
	if node["rendered_text"] != "Hello Jane" {
		t.Errorf("rendered_text = %v", node["rendered_text"])
	}
}

func TestClassifyType(t *testing.T) {
	cases := map[string]string{
		"image":    "image",
		"IMAGE":    "image",
		"rect":     "shape",
		"triangle": "shape",
		"circle":   "shape",
		"line":     "shape",
		"ellipse":  "shape",
		"polygon":  "shape",
		"path":     "shape",
		"textbox":  "text",
		"text":     "text",
		"i-text":   "text",
		"sticker":  "text",
		"":         "text",
	}
	for raw, want := range cases {
		if got := classifyType(raw); got != want {
			t.Errorf("classifyType(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestTransformObjectsGeometry(t *testing.T) {
	objects := []any{
		map[string]any{
			"type":   "textbox",
			"left":   float64(120),
			"top":    float64(80),
			"width":  float64(400),
			"height": float64(50),
			"scaleX": float64(2),
			"scaleY": 1.5,
			"angle":  float64(15),
			"text":   "Hi",
		},
	}

	elements := TransformObjects(objects, Values{})
	if len(elements) != 1 {
		t.Fatalf("len(elements) = %d", len(elements))
	}

	element := elements[0]
	if element.Position.X != 120 || element.Position.Y != 80 {
		t.Errorf("position = %+v", element.Position)
	}
	if element.Size.Width != 800 || element.Size.Height != 75 {
		t.Errorf("size = %+v, want 800x75", element.Size)
	}
	if element.Rotation != 15 {
		t.Errorf("rotation = %v", element.Rotation)
	}
	if element.Opacity != 1 {
		t.Errorf("opacity default = %v, want 1", element.Opacity)
	}
}

func TestTransformObjectsFallbackBox(t *testing.T) {
	objects := []any{
		map[string]any{
			"type":     "text",
			"text":     "eight ch",
			"fontSize": float64(20),
		},
	}

	elements := TransformObjects(objects, Values{})
	if len(elements) != 1 {
		t.Fatalf("len(elements) = %d", len(elements))
	}

	// width = fontSize × max(1, len/2) = 20 × 4, height = fontSize × 1.2
	if elements[0].Size.Width != 80 {
		t.Errorf("fallback width = %v, want 80", elements[0].Size.Width)
	}
	if elements[0].Size.Height != 24 {
		t.Errorf("fallback height = %v, want 24", elements[0].Size.Height)
	}
}

func TestTransformObjectsDropsSourcelessImages(t *testing.T) {
	objects := []any{
		map[string]any{"type": "textbox", "text": "keep"},
		map[string]any{"type": "image", "src": ""},
		map[string]any{"type": "image", "src": "http://x/y.png", "width": float64(10), "height": float64(10)},
		map[string]any{"type": "image"},
		map[string]any{"type": "rect", "width": float64(5), "height": float64(5)},
	}

	elements := TransformObjects(objects, Values{})
	if len(elements) != 3 {
		t.Fatalf("len(elements) = %d, want 3 (two sourceless images dropped)", len(elements))
	}

	if elements[1].Type != "image" || elements[1].ImageURL != "http://x/y.png" {
		t.Errorf("image element = %+v", elements[1])
	}

	// z_index 保留文档顺序（丢弃不重排）
	wantZ := []int{1, 3, 5}
	for i, element := range elements {
		if element.ZIndex != wantZ[i] {
			t.Errorf("elements[%d].ZIndex = %d, want %d", i, element.ZIndex, wantZ[i])
		}
	}
}

func TestTransformShapeBorderStyle(t *testing.T) {
	dashed := TransformObjects([]any{
		map[string]any{
			"type":            "rect",
			"width":           float64(100),
			"height":          float64(40),
			"stroke":          "#ff0000",
			"strokeWidth":     float64(2),
			"strokeDashArray": []any{float64(5), float64(5)},
			"rx":              float64(8),
		},
	}, Values{})
	if dashed[0].Border == nil || dashed[0].Border.Style != "dashed" {
		t.Fatalf("border = %+v, want dashed", dashed[0].Border)
	}
	if dashed[0].Border.Radius == nil || *dashed[0].Border.Radius != 8 {
		t.Errorf("radius = %v, want 8", dashed[0].Border.Radius)
	}

	solid := TransformObjects([]any{
		map[string]any{
			"type":        "circle",
			"width":       float64(50),
			"height":      float64(50),
			"stroke":      "#00ff00",
			"strokeWidth": float64(1),
		},
	}, Values{})
	if solid[0].Border == nil || solid[0].Border.Style != "solid" {
		t.Fatalf("border = %+v, want solid", solid[0].Border)
	}

	bare := TransformObjects([]any{
		map[string]any{"type": "rect", "width": float64(50), "height": float64(50)},
	}, Values{})
	if bare[0].Border.Style != "" {
		t.Errorf("border style without strokeWidth = %q, want omitted", bare[0].Border.Style)
	}
}

func TestTransformTextLetterSpacing(t *testing.T) {
	withSpacing := TransformObjects([]any{
		map[string]any{
			"type":        "textbox",
			"text":        "x",
			"width":       float64(100),
			"height":      float64(20),
			"fontSize":    float64(24),
			"charSpacing": float64(100),
		},
	}, Values{})
	font := withSpacing[0].Font
	if font.LetterSpacing == nil {
		t.Fatal("letter spacing missing")
	}
	// (100/1000) × 24 = 2.4
	if *font.LetterSpacing != 2.4 {
		t.Errorf("letter spacing = %v, want 2.4", *font.LetterSpacing)
	}

	zeroSpacing := TransformObjects([]any{
		map[string]any{
			"type":        "textbox",
			"text":        "x",
			"width":       float64(100),
			"height":      float64(20),
			"charSpacing": float64(0),
		},
	}, Values{})
	if zeroSpacing[0].Font.LetterSpacing != nil {
		t.Error("letter spacing should be omitted when charSpacing is 0")
	}
}

func testDesignSnapshot(t *testing.T, doc map[string]any, settings map[string]any) DesignSnapshot {
	t.Helper()

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal design data: %v", err)
	}
	snapshot := DesignSnapshot{
		ID:   "design-1",
		Name: "Completion Certificate",
		Data: data,
	}
	if settings != nil {
		raw, err := json.Marshal(settings)
		if err != nil {
			t.Fatalf("marshal settings: %v", err)
		}
		snapshot.Settings = raw
	}
	return snapshot
}

func TestBuildPayloadEmptyDesignYieldsNil(t *testing.T) {
	now := time.Now()

	for _, data := range [][]byte{nil, []byte("null"), []byte("{}"), []byte("not json"), []byte(`[1,2]`)} {
		payload, err := BuildPayload(DesignSnapshot{ID: "d", Data: data}, "cert-1", nil, Values{}, now)
		if err != nil {
			t.Fatalf("BuildPayload(%q): %v", data, err)
		}
		if payload != nil {
			t.Errorf("BuildPayload(%q) = %+v, want nil", data, payload)
		}
	}
}

func TestBuildPayloadScenario(t *testing.T) {
	doc := map[string]any{
		"width":      float64(1684),
		"height":     float64(1191),
		"background": "#fdf6e3",
		"objects": []any{
			map[string]any{
				"type":   "textbox",
				"text":   "Certificate for {{recipient_name}}",
				"width":  float64(800),
				"height": float64(60),
			},
		},
	}
	snapshot := testDesignSnapshot(t, doc, nil)
	campaignID := "campaign-1"
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	payload, err := BuildPayload(snapshot, "cert-1", &campaignID, Values{"recipient_name": stringPtr("Jane Doe")}, now)
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	if payload == nil {
		t.Fatal("payload is nil")
	}

	if payload.Layout.Width != 1684 || payload.Layout.Height != 1191 {
		t.Errorf("layout size = %dx%d", payload.Layout.Width, payload.Layout.Height)
	}
	if payload.Layout.Orientation != "landscape" {
		t.Errorf("orientation = %q, want landscape", payload.Layout.Orientation)
	}
	if payload.Layout.BackgroundColor != "#fdf6e3" {
		t.Errorf("background = %q", payload.Layout.BackgroundColor)
	}
	if len(payload.Elements) != 1 {
		t.Fatalf("len(elements) = %d", len(payload.Elements))
	}
	if payload.Elements[0].Content != "Certificate for Jane Doe" {
		t.Errorf("content = %q", payload.Elements[0].Content)
	}
	if payload.Metadata.CampaignID != "campaign-1" {
		t.Errorf("campaign id = %q", payload.Metadata.CampaignID)
	}
	if payload.Metadata.GeneratedAt != "2026-03-14T12:00:00Z" {
		t.Errorf("generated_at = %q", payload.Metadata.GeneratedAt)
	}
}

func TestBuildPayloadMissingVariablePassesThrough(t *testing.T) {
	doc := map[string]any{
		"width":  float64(1684),
		"height": float64(1191),
		"objects": []any{
			map[string]any{
				"type":   "textbox",
				"text":   "Certificate for {{recipient_name}}",
				"width":  float64(800),
				"height": float64(60),
			},
		},
	}
	snapshot := testDesignSnapshot(t, doc, nil)

	payload, err := BuildPayload(snapshot, "cert-1", nil, Values{}, time.Now())
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	if got := payload.Elements[0].Content; got != "Certificate for {{recipient_name}}" {
		t.Errorf("content = %q, want unresolved token preserved", got)
	}
}

func TestBuildPayloadDefaultsAndOrientation(t *testing.T) {
	doc := map[string]any{
		"objects": []any{
			map[string]any{"type": "rect", "width": float64(5), "height": float64(5)},
		},
	}

	payload, err := BuildPayload(testDesignSnapshot(t, doc, nil), "cert-1", nil, Values{}, time.Now())
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	if payload.Layout.Width != 1684 || payload.Layout.Height != 1191 {
		t.Errorf("default canvas = %dx%d, want 1684x1191", payload.Layout.Width, payload.Layout.Height)
	}
	if payload.Layout.Orientation != "landscape" {
		t.Errorf("orientation = %q", payload.Layout.Orientation)
	}

	portraitDoc := map[string]any{
		"width":  float64(800),
		"height": float64(1200),
		"objects": []any{
			map[string]any{"type": "rect", "width": float64(5), "height": float64(5)},
		},
	}
	payload, err = BuildPayload(testDesignSnapshot(t, portraitDoc, nil), "cert-1", nil, Values{}, time.Now())
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	if payload.Layout.Orientation != "portrait" {
		t.Errorf("derived orientation = %q, want portrait", payload.Layout.Orientation)
	}

	// 显式设置优先于宽高推断
	payload, err = BuildPayload(
		testDesignSnapshot(t, portraitDoc, map[string]any{"orientation": "Landscape"}),
		"cert-1", nil, Values{}, time.Now(),
	)
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	if payload.Layout.Orientation != "landscape" {
		t.Errorf("explicit orientation = %q, want landscape", payload.Layout.Orientation)
	}
}

func TestBuildPayloadDeterminism(t *testing.T) {
	doc := map[string]any{
		"width":  float64(1684),
		"height": float64(1191),
		"objects": []any{
			map[string]any{"type": "textbox", "text": "Hi {{recipient_name}}", "width": float64(100), "height": float64(20)},
			map[string]any{"type": "image", "src": "http://x/logo.png", "width": float64(64), "height": float64(64)},
			map[string]any{"type": "rect", "width": float64(10), "height": float64(10), "strokeWidth": float64(1)},
		},
	}
	snapshot := testDesignSnapshot(t, doc, nil)
	values := BuildVariableValues("Jane", "jane@example.com", map[string]any{"course": "Go"})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first, err := BuildPayload(snapshot, "cert-1", nil, values, now)
	if err != nil {
		t.Fatalf("first BuildPayload: %v", err)
	}
	second, err := BuildPayload(snapshot, "cert-1", nil, values, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second BuildPayload: %v", err)
	}

	if !reflect.DeepEqual(first.Elements, second.Elements) {
		t.Error("elements differ between identical runs")
	}
	if !reflect.DeepEqual(first.Layout, second.Layout) {
		t.Error("layout differs between identical runs")
	}
	if !reflect.DeepEqual(first.Variables, second.Variables) {
		t.Error("variables differ between identical runs")
	}
}

func TestRenderPayloadEntryPoint(t *testing.T) {
	doc := map[string]any{
		"width":  float64(1684),
		"height": float64(1191),
		"objects": []any{
			map[string]any{"type": "textbox", "text": "{{recipient_name}} / {{course}}", "width": float64(400), "height": float64(40)},
		},
	}
	snapshot := testDesignSnapshot(t, doc, nil)

	payload, err := RenderPayload(snapshot, "cert-1", nil, RecipientInput{
		Name:  "Jane",
		Email: "jane@example.com",
		Data:  map[string]any{"course": "Go Fundamentals"},
	}, time.Now())
	if err != nil {
		t.Fatalf("RenderPayload: %v", err)
	}
	if payload.Elements[0].Content != "Jane / Go Fundamentals" {
		t.Errorf("content = %q", payload.Elements[0].Content)
	}
}
