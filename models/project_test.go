package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewProjectDefaults(t *testing.T) {
	p := NewProject("p1", "雨夜奇谭", "第一幕...", 1000)
	if p.ID != "p1" || p.Title != "雨夜奇谭" || p.OriginalText != "第一幕..." {
		t.Fatalf("unexpected project fields: %+v", p)
	}
	if p.Status != ProjectStatusCreated {
		t.Fatalf("unexpected status: %q", p.Status)
	}
	if p.StylePreset != "realistic" {
		t.Fatalf("unexpected style preset: %q", p.StylePreset)
	}
	if p.CreatedAt != 1000 || p.UpdatedAt != 1000 {
		t.Fatalf("unexpected timestamps: %d / %d", p.CreatedAt, p.UpdatedAt)
	}
	// 列表字段初始化成空列表, 序列化成 [] 而不是 null
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"characters":[]`, `"scenes":[]`, `"props":[]`, `"frames":[]`, `"video_tasks":[]`} {
		if !strings.Contains(string(b), key) {
			t.Fatalf("expected %s in serialized project: %s", key, b)
		}
	}
}

func TestDefaultModelSettings(t *testing.T) {
	m := DefaultModelSettings()
	if m.T2IModel != "wan2.6-t2i" || m.I2IModel != "wan2.6-image" || m.I2VModel != "wan2.6-i2v" {
		t.Fatalf("unexpected default models: %+v", m)
	}
	if m.CharacterAspectRatio != "9:16" || m.SceneAspectRatio != "16:9" {
		t.Fatalf("unexpected default ratios: %+v", m)
	}
	if m.PropAspectRatio != "1:1" || m.StoryboardAspectRatio != "16:9" {
		t.Fatalf("unexpected default ratios: %+v", m)
	}
}

func TestReferenceBudget(t *testing.T) {
	if got := DefaultModelSettings().ReferenceBudget(); got != 4 {
		t.Fatalf("wan2.6-image should allow 4 references, got %d", got)
	}
	m := ModelSettings{I2IModel: "other-model"}
	if got := m.ReferenceBudget(); got != 3 {
		t.Fatalf("other models should allow 3 references, got %d", got)
	}
	if got := (ModelSettings{}).ReferenceBudget(); got != 3 {
		t.Fatalf("empty model should allow 3 references, got %d", got)
	}
}

func TestAspectRatioFor(t *testing.T) {
	m := ModelSettings{
		CharacterAspectRatio:  "9:16",
		SceneAspectRatio:      "16:9",
		PropAspectRatio:       "1:1",
		StoryboardAspectRatio: "16:9",
	}
	tests := []struct {
		assetType string
		want      string
	}{
		{AssetTypeCharacter, "9:16"},
		{AssetTypeScene, "16:9"},
		{AssetTypeProp, "1:1"},
		{AssetTypeFrame, "16:9"},
		{"unknown", ""},
	}
	for _, tt := range tests {
		if got := m.AspectRatioFor(tt.assetType); got != tt.want {
			t.Errorf("AspectRatioFor(%q) = %q, want %q", tt.assetType, got, tt.want)
		}
	}
}

func TestAspectRatioSize(t *testing.T) {
	tests := []struct {
		ratio    string
		fallback string
		want     string
	}{
		{"9:16", "1024*576", "576*1024"},
		{"16:9", "576*1024", "1024*576"},
		{"1:1", "1024*576", "1024*1024"},
		// 未知或缺省比例走调用方给的兜底尺寸
		{"", "1024*576", "1024*576"},
		{"4:3", "1024*1024", "1024*1024"},
	}
	for _, tt := range tests {
		if got := AspectRatioSize(tt.ratio, tt.fallback); got != tt.want {
			t.Errorf("AspectRatioSize(%q, %q) = %q, want %q", tt.ratio, tt.fallback, got, tt.want)
		}
	}
}

func TestArtDirectionPositivePrompt(t *testing.T) {
	var nilArt *ArtDirection
	if got := nilArt.PositivePrompt(); got != "" {
		t.Fatalf("nil art direction should yield empty prompt, got %q", got)
	}

	a := &ArtDirection{StyleConfig: map[string]interface{}{"positive_prompt": "cel shaded"}}
	if got := a.PositivePrompt(); got != "cel shaded" {
		t.Fatalf("got %q", got)
	}

	// 值不是字符串时当作没配置
	a = &ArtDirection{StyleConfig: map[string]interface{}{"positive_prompt": 42}}
	if got := a.PositivePrompt(); got != "" {
		t.Fatalf("non-string prompt should be ignored, got %q", got)
	}
}
