package service

import (
	"strings"
	"testing"

	"comic-studio-server/models"
)

func TestStylePromptPrecedence(t *testing.T) {
	p := &models.Project{StylePrompt: "ink wash painting"}
	if got := StylePrompt(p); got != "ink wash painting" {
		t.Fatalf("expected project style prompt, got %q", got)
	}

	// 美术风格配置优先于旧字段
	p.ArtDirection = &models.ArtDirection{
		StyleConfig: map[string]interface{}{"positive_prompt": "cel shaded anime"},
	}
	if got := StylePrompt(p); got != "cel shaded anime" {
		t.Fatalf("expected art direction prompt, got %q", got)
	}

	if got := StylePrompt(&models.Project{}); got != "" {
		t.Fatalf("expected empty style, got %q", got)
	}
}

func TestComposeFramePromptWithImagePrompt(t *testing.T) {
	f := &models.Frame{ImagePrompt: "a man walks into the tavern"}

	// 没有风格时原样返回
	if got := ComposeFramePrompt(&models.Project{}, f); got != "a man walks into the tavern" {
		t.Fatalf("unexpected prompt: %q", got)
	}

	p := &models.Project{StylePrompt: "watercolor"}
	want := "watercolor . a man walks into the tavern"
	if got := ComposeFramePrompt(p, f); got != want {
		t.Fatalf("unexpected prompt: %q", got)
	}
}

func TestComposeFramePromptFromParts(t *testing.T) {
	tests := []struct {
		name  string
		style string
		frame models.Frame
		want  string
	}{
		{
			name:  "action only",
			frame: models.Frame{ActionDescription: "A walks"},
			want:  "A walks",
		},
		{
			name:  "style and action",
			style: "oil painting",
			frame: models.Frame{ActionDescription: "A walks"},
			want:  "oil painting . A walks",
		},
		{
			name:  "action and dialogue",
			frame: models.Frame{ActionDescription: "A walks", Dialogue: "你来了"},
			want:  `A walks . Dialogue context: "你来了"`,
		},
		{
			name:  "dialogue only",
			frame: models.Frame{Dialogue: "你来了"},
			want:  `Dialogue context: "你来了"`,
		},
		{
			name:  "all empty",
			frame: models.Frame{},
			want:  "",
		},
	}
	for _, tt := range tests {
		p := &models.Project{StylePrompt: tt.style}
		if got := ComposeFramePrompt(p, &tt.frame); got != tt.want {
			t.Errorf("%s: got %q want %q", tt.name, got, tt.want)
		}
	}
}

func TestComposeVideoPromptBasePrecedence(t *testing.T) {
	f := &models.Frame{
		VideoPrompt:       "video prompt",
		ImagePrompt:       "image prompt",
		ActionDescription: "action",
	}
	if got := ComposeVideoPrompt(f, "", ""); got != "video prompt" {
		t.Fatalf("expected video prompt first, got %q", got)
	}

	f.VideoPrompt = ""
	if got := ComposeVideoPrompt(f, "", ""); got != "image prompt" {
		t.Fatalf("expected image prompt next, got %q", got)
	}

	f.ImagePrompt = ""
	if got := ComposeVideoPrompt(f, "", ""); got != "action" {
		t.Fatalf("expected action description last, got %q", got)
	}
}

func TestComposeVideoPromptAppendsMotion(t *testing.T) {
	f := &models.Frame{VideoPrompt: "a duel at dawn"}
	got := ComposeVideoPrompt(f, "pan_left_slow", "")
	want := "a duel at dawn, camera slowly pans to the left"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}

	// 基础提示词为空时运动描述单独成文
	got = ComposeVideoPrompt(&models.Frame{}, "zoom_in", "")
	if got != "camera slowly zooms in" {
		t.Fatalf("got %q", got)
	}
}

func TestMotionDescription(t *testing.T) {
	tests := []struct {
		camera  string
		subject string
		want    string
	}{
		{"pan_left_slow", "", "camera slowly pans to the left"},
		{"pan_right", "", "camera pans to the right"},
		{"dolly_out", "", "camera pulls back away from the subject"},
		{"", "walking", "subject walks through the scene"},
		{"static", "subtle", "static camera, locked shot, subject moves subtly, breathing and slight gestures"},
		// 查不到的枚举不贡献文本, 也不把原文漏进去
		{"wiggle", "", ""},
		{"wiggle", "talking", "subject is talking with natural lip movement"},
		{"", "", ""},
	}
	for _, tt := range tests {
		got := MotionDescription(tt.camera, tt.subject)
		if got != tt.want {
			t.Errorf("MotionDescription(%q, %q) = %q, want %q", tt.camera, tt.subject, got, tt.want)
		}
		if tt.camera == "wiggle" && strings.Contains(got, "wiggle") {
			t.Errorf("raw enum leaked into prompt: %q", got)
		}
	}
}

func TestApplyStyleSuffix(t *testing.T) {
	if got := ApplyStyleSuffix("a castle", "watercolor"); got != "a castle, watercolor" {
		t.Fatalf("got %q", got)
	}
	// 已含风格时不重复拼
	if got := ApplyStyleSuffix("a castle, watercolor, dusk", "watercolor"); got != "a castle, watercolor, dusk" {
		t.Fatalf("style duplicated: %q", got)
	}
	if got := ApplyStyleSuffix("a castle", ""); got != "a castle" {
		t.Fatalf("got %q", got)
	}
}

func TestAssetStyleSuffixFallsBackToPreset(t *testing.T) {
	p := &models.Project{StylePreset: "manga"}
	if got := AssetStyleSuffix(p); got != "manga style" {
		t.Fatalf("got %q", got)
	}

	p.StylePrompt = "ink wash"
	if got := AssetStyleSuffix(p); got != "ink wash" {
		t.Fatalf("style prompt should win over preset: %q", got)
	}
}

func TestAssetNegativePrompt(t *testing.T) {
	p := &models.Project{}
	if got := AssetNegativePrompt(p, "blurry"); got != "blurry" {
		t.Fatalf("got %q", got)
	}

	p.ArtDirection = &models.ArtDirection{
		StyleConfig: map[string]interface{}{"negative_prompt": "text, watermark"},
	}
	if got := AssetNegativePrompt(p, ""); got != "text, watermark" {
		t.Fatalf("got %q", got)
	}
	if got := AssetNegativePrompt(p, "blurry"); got != "blurry, text, watermark" {
		t.Fatalf("got %q", got)
	}
}

func TestDefaultCharacterPrompt(t *testing.T) {
	full := DefaultCharacterPrompt(models.GenerationTypeFullBody, "阿若", "红衣剑客")
	if !strings.Contains(full, "Full body character design of 阿若") || !strings.Contains(full, "红衣剑客") {
		t.Fatalf("unexpected full body prompt: %q", full)
	}

	three := DefaultCharacterPrompt(models.GenerationTypeThreeView, "阿若", "红衣剑客")
	if !strings.Contains(three, "Character Reference Sheet") || !strings.Contains(three, "Front view, Side view, and Back view") {
		t.Fatalf("unexpected three view prompt: %q", three)
	}

	head := DefaultCharacterPrompt(models.GenerationTypeHeadshot, "阿若", "红衣剑客")
	if !strings.Contains(head, "Close-up portrait") {
		t.Fatalf("unexpected headshot prompt: %q", head)
	}

	if got := DefaultCharacterPrompt("unknown", "x", "y"); got != "" {
		t.Fatalf("unknown slot should yield empty prompt: %q", got)
	}
}

func TestDefaultAssetVideoPrompt(t *testing.T) {
	got := DefaultAssetVideoPrompt(models.AssetTypeCharacter, "阿若", "红衣剑客")
	if !strings.Contains(got, "阿若") || !strings.Contains(got, "looking around") {
		t.Fatalf("unexpected character video prompt: %q", got)
	}
	got = DefaultAssetVideoPrompt(models.AssetTypeProp, "铜灯", "老旧的铜灯")
	if !strings.Contains(got, "rotating slowly") {
		t.Fatalf("unexpected prop video prompt: %q", got)
	}
	if got := DefaultAssetVideoPrompt("unknown", "x", "y"); got != "" {
		t.Fatalf("unknown asset type should yield empty prompt: %q", got)
	}
}

func TestDefaultSceneAndPropPromptTrimTrailingSpace(t *testing.T) {
	// 风格为空时模板末尾不留空格
	got := DefaultScenePrompt("酒馆", "烟雾缭绕", "")
	if strings.HasSuffix(got, " ") {
		t.Fatalf("trailing space left in prompt: %q", got)
	}
	if !strings.HasPrefix(got, "Scene Concept Art: 酒馆.") {
		t.Fatalf("unexpected scene prompt: %q", got)
	}

	got = DefaultPropPrompt("铜灯", "老旧的铜灯", "ink wash")
	if !strings.Contains(got, "Prop Design: 铜灯.") || !strings.HasSuffix(got, "ink wash") {
		t.Fatalf("unexpected prop prompt: %q", got)
	}
}
