package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// 项目状态常量（用于在业务层统一描述项目进度）
const (
	ProjectStatusCreated   = "created"   // 项目已创建，剧本还没做拆解
	ProjectStatusAnalyzing = "analyzing" // 剧本拆解任务进行中
	ProjectStatusReady     = "ready"     // 拆解完成，素材/分镜可编辑可生成
	ProjectStatusFailed    = "failed"    // 剧本拆解失败
)

type CharacterList []Character
type SceneList []Scene
type PropList []Prop
type FrameList []Frame

// 实现 driver.Valuer 接口: Go Struct -> JSON String (存入数据库)
func (l CharacterList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// 实现 sql.Scanner 接口: JSON String -> Go Struct (从数据库读取)
func (l *CharacterList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSONB value:", value))
	}
	return json.Unmarshal(bytes, l)
}

// 实现 driver.Valuer 接口
func (l SceneList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// 实现 sql.Scanner 接口
func (l *SceneList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSONB value:", value))
	}
	return json.Unmarshal(bytes, l)
}

// 实现 driver.Valuer 接口
func (l PropList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// 实现 sql.Scanner 接口
func (l *PropList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSONB value:", value))
	}
	return json.Unmarshal(bytes, l)
}

// 实现 driver.Valuer 接口
func (l FrameList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// 实现 sql.Scanner 接口
func (l *FrameList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSONB value:", value))
	}
	return json.Unmarshal(bytes, l)
}

// ArtDirection 全局美术风格配置
type ArtDirection struct {
	SelectedStyleId   string                   `json:"selected_style_id"`
	StyleConfig       map[string]interface{}   `json:"style_config"`
	CustomStyles      []map[string]interface{} `json:"custom_styles,omitempty"`
	AiRecommendations []map[string]interface{} `json:"ai_recommendations,omitempty"`
}

// PositivePrompt 风格配置里的正向提示词, 未配置时返回空串
func (a *ArtDirection) PositivePrompt() string {
	if a == nil || a.StyleConfig == nil {
		return ""
	}
	if s, ok := a.StyleConfig["positive_prompt"].(string); ok {
		return s
	}
	return ""
}

// 实现 driver.Valuer 接口
func (a *ArtDirection) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

// 实现 sql.Scanner 接口
func (a *ArtDirection) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSONB value:", value))
	}
	return json.Unmarshal(bytes, a)
}

// ModelSettings 各生成环节使用的模型与画幅
type ModelSettings struct {
	T2IModel string `json:"t2i_model"`
	I2IModel string `json:"i2i_model"`
	I2VModel string `json:"i2v_model"`

	CharacterAspectRatio  string `json:"character_aspect_ratio"`
	SceneAspectRatio      string `json:"scene_aspect_ratio"`
	PropAspectRatio       string `json:"prop_aspect_ratio"`
	StoryboardAspectRatio string `json:"storyboard_aspect_ratio"`
}

func DefaultModelSettings() ModelSettings {
	return ModelSettings{
		T2IModel:              "wan2.6-t2i",
		I2IModel:              "wan2.6-image",
		I2VModel:              "wan2.6-i2v",
		CharacterAspectRatio:  "9:16",
		SceneAspectRatio:      "16:9",
		PropAspectRatio:       "1:1",
		StoryboardAspectRatio: "16:9",
	}
}

// ErrTooManyReferences 参考图数量超过当前图生图模型的上限
var ErrTooManyReferences = errors.New("参考图数量超出模型上限")

// ReferenceBudget 单次渲染允许下发的参考图上限, wan2.6-image 支持 4 张, 其余模型 3 张
func (m ModelSettings) ReferenceBudget() int {
	if m.I2IModel == "wan2.6-image" {
		return 4
	}
	return 3
}

// AspectRatioFor 按素材类型取对应画幅
func (m ModelSettings) AspectRatioFor(assetType string) string {
	switch assetType {
	case AssetTypeCharacter:
		return m.CharacterAspectRatio
	case AssetTypeScene:
		return m.SceneAspectRatio
	case AssetTypeProp:
		return m.PropAspectRatio
	case AssetTypeFrame:
		return m.StoryboardAspectRatio
	}
	return ""
}

// 实现 driver.Valuer 接口
func (m ModelSettings) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// 实现 sql.Scanner 接口
func (m *ModelSettings) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSONB value:", value))
	}
	return json.Unmarshal(bytes, m)
}

var aspectRatioSize = map[string]string{
	"9:16": "576*1024",
	"16:9": "1024*576",
	"1:1":  "1024*1024",
}

// AspectRatioSize 画幅比例转生图尺寸, 未知比例用 fallback
func AspectRatioSize(aspectRatio, fallback string) string {
	if size, ok := aspectRatioSize[aspectRatio]; ok {
		return size
	}
	return fallback
}

// Project 一个创作项目
// 素材与分镜作为 JSON 文档列整存整取, 视频任务单独成表, 返回前端前拼装
type Project struct {
	ID           string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Title        string `json:"title"`
	OriginalText string `json:"original_text"`

	Characters CharacterList `gorm:"type:json" json:"characters"`
	Scenes     SceneList     `gorm:"type:json" json:"scenes"`
	Props      PropList      `gorm:"type:json" json:"props"`
	Frames     FrameList     `gorm:"type:json" json:"frames"`

	// 旧的项目级风格设置, 已被 art_direction 取代但仍兼容
	StylePreset string `json:"style_preset"`
	StylePrompt string `json:"style_prompt,omitempty"`

	ArtDirection  *ArtDirection `gorm:"type:json" json:"art_direction,omitempty"`
	ModelSettings ModelSettings `gorm:"type:json" json:"model_settings"`

	MergedVideoUrl string `json:"merged_video_url,omitempty"`
	Status         string `json:"status"`

	VideoTasks []VideoTask `gorm:"-" json:"video_tasks"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// NewProject 列表字段初始化为空数组而不是 nil, 避免前端拿到 null
func NewProject(id, title, text string, now int64) *Project {
	return &Project{
		ID:            id,
		Title:         title,
		OriginalText:  text,
		Characters:    CharacterList{},
		Scenes:        SceneList{},
		Props:         PropList{},
		Frames:        FrameList{},
		StylePreset:   "realistic",
		ModelSettings: DefaultModelSettings(),
		Status:        ProjectStatusCreated,
		VideoTasks:    []VideoTask{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// 强制指定表名为 "project" (解决 Error 1146 表不存在的问题)
func (Project) TableName() string {
	return "project"
}
