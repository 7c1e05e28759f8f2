package service

import (
	"fmt"
	"strings"

	"comic-studio-server/models"
)

// StylePrompt 全局风格提示词: 美术风格配置优先, 其次旧的项目级风格提示词, 都没有返回空串
func StylePrompt(p *models.Project) string {
	if s := p.ArtDirection.PositivePrompt(); s != "" {
		return s
	}
	return p.StylePrompt
}

// AssetStyleSuffix 素材生成用的风格后缀, 比分镜链路多一层旧版风格预设兜底
func AssetStyleSuffix(p *models.Project) string {
	if s := StylePrompt(p); s != "" {
		return s
	}
	if p.StylePreset != "" {
		return p.StylePreset + " style"
	}
	return ""
}

// AssetNegativePrompt 请求带的负向提示词与全局负向配置合并
func AssetNegativePrompt(p *models.Project, negativePrompt string) string {
	global := ""
	if p.ArtDirection != nil && p.ArtDirection.StyleConfig != nil {
		if s, ok := p.ArtDirection.StyleConfig["negative_prompt"].(string); ok {
			global = s
		}
	}
	if global == "" {
		return negativePrompt
	}
	if negativePrompt == "" {
		return global
	}
	return negativePrompt + ", " + global
}

// ApplyStyleSuffix 把风格后缀拼到基础提示词后面, 基础提示词已包含该风格时不重复拼
func ApplyStyleSuffix(basePrompt, styleSuffix string) string {
	if styleSuffix == "" || strings.Contains(basePrompt, styleSuffix) {
		return basePrompt
	}
	return basePrompt + ", " + styleSuffix
}

// 三视图生成追加的负向提示词, 压住背景和画面杂物
const threeViewNegativeSuffix = ", background, scenery, landscape, shadows, complex background, text, watermark, messy, distorted, extra limbs"

// DefaultCharacterPrompt 角色各槽位的缺省提示词
func DefaultCharacterPrompt(generationType, name, description string) string {
	switch generationType {
	case models.GenerationTypeFullBody:
		return fmt.Sprintf("Full body character design of %s, concept art. %s. Standing pose, neutral expression, no emotion, looking at viewer. Clean white background, isolated, no other objects, no scenery, simple background, high quality, masterpiece.", name, description)
	case models.GenerationTypeThreeView:
		return fmt.Sprintf("Character Reference Sheet for %s. %s. Three-view character design: Front view, Side view, and Back view. Full body, standing pose, neutral expression. Consistent clothing and details across all views. Simple white background, clean lines, studio lighting, high quality.", name, description)
	case models.GenerationTypeHeadshot:
		return fmt.Sprintf("Close-up portrait of the SAME character %s. %s. Zoom in on face and shoulders, detailed facial features, neutral expression, looking at viewer, high quality, masterpiece.", name, description)
	}
	return ""
}

// DefaultScenePrompt 场景缺省提示词, 风格直接写进模板
func DefaultScenePrompt(name, description, style string) string {
	return strings.TrimSpace(fmt.Sprintf("Scene Concept Art: %s. %s. High quality, detailed. %s", name, description, style))
}

// DefaultPropPrompt 道具缺省提示词
func DefaultPropPrompt(name, description, style string) string {
	return strings.TrimSpace(fmt.Sprintf("Prop Design: %s. %s. Isolated on white background, high quality, detailed. %s", name, description, style))
}

// DefaultAssetVideoPrompt 素材动起来的缺省提示词
func DefaultAssetVideoPrompt(assetType, name, description string) string {
	switch assetType {
	case models.AssetTypeCharacter:
		return fmt.Sprintf("A cinematic shot of %s, %s, looking around, breathing, slight movement, high quality, 4k", name, description)
	case models.AssetTypeScene:
		return fmt.Sprintf("A cinematic shot of %s, %s, ambient motion, lighting change, high quality, 4k", name, description)
	case models.AssetTypeProp:
		return fmt.Sprintf("A cinematic shot of %s, %s, rotating slowly, high quality, 4k", name, description)
	}
	return ""
}

// ComposeFramePrompt 分镜渲染提示词
// 有手写/AI 优化过的提示词时直接用, 带风格时拼成 "风格 . 提示词"
// 没有时按 [风格, 动作描述, 台词语境] 取非空部分用 " . " 连接, 空字段不产生多余分隔符
func ComposeFramePrompt(p *models.Project, f *models.Frame) string {
	style := StylePrompt(p)
	if f.ImagePrompt != "" {
		if style != "" {
			return style + " . " + f.ImagePrompt
		}
		return f.ImagePrompt
	}
	parts := make([]string, 0, 3)
	if style != "" {
		parts = append(parts, style)
	}
	if f.ActionDescription != "" {
		parts = append(parts, f.ActionDescription)
	}
	if f.Dialogue != "" {
		parts = append(parts, fmt.Sprintf(`Dialogue context: "%s"`, f.Dialogue))
	}
	return strings.Join(parts, " . ")
}

// ComposeVideoPrompt 视频提示词: video_prompt > image_prompt > action_description
// 有运动描述时拼成 "提示词, 运动描述"
func ComposeVideoPrompt(f *models.Frame, cameraMovement, subjectMotion string) string {
	base := f.VideoPrompt
	if base == "" {
		base = f.ImagePrompt
	}
	if base == "" {
		base = f.ActionDescription
	}
	motion := MotionDescription(cameraMovement, subjectMotion)
	if motion == "" {
		return base
	}
	if base == "" {
		return motion
	}
	return base + ", " + motion
}

// 镜头运动枚举到自然语言的固定映射
var cameraMovementPhrases = map[string]string{
	"static":         "static camera, locked shot",
	"pan_left":       "camera pans to the left",
	"pan_left_slow":  "camera slowly pans to the left",
	"pan_right":      "camera pans to the right",
	"pan_right_slow": "camera slowly pans to the right",
	"tilt_up":        "camera tilts upward",
	"tilt_down":      "camera tilts downward",
	"zoom_in":        "camera slowly zooms in",
	"zoom_out":       "camera slowly zooms out",
	"dolly_in":       "camera dollies in toward the subject",
	"dolly_out":      "camera pulls back away from the subject",
	"tracking":       "tracking shot following the subject",
	"crane_up":       "crane shot rising upward",
	"orbit":          "camera orbits around the subject",
	"handheld":       "handheld camera with slight shake",
}

// 主体运动枚举到自然语言的固定映射
var subjectMotionPhrases = map[string]string{
	"subtle":   "subject moves subtly, breathing and slight gestures",
	"moderate": "subject moves naturally with clear gestures",
	"dynamic":  "subject moves dynamically with large energetic motion",
	"walking":  "subject walks through the scene",
	"running":  "subject runs through the scene",
	"talking":  "subject is talking with natural lip movement",
	"turning":  "subject slowly turns around",
}

// MotionDescription 两个枚举参数各自查表后合成一段运动描述
// 未配置或查不到的参数不贡献文本, 不会把枚举原文漏进提示词
func MotionDescription(cameraMovement, subjectMotion string) string {
	parts := make([]string, 0, 2)
	if phrase, ok := cameraMovementPhrases[cameraMovement]; ok {
		parts = append(parts, phrase)
	}
	if phrase, ok := subjectMotionPhrases[subjectMotion]; ok {
		parts = append(parts, phrase)
	}
	return strings.Join(parts, ", ")
}
