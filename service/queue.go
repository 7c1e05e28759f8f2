package service

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"comic-studio-server/config"

	"github.com/hibiken/asynq"
)

const (
	TypeAssetGenerate = "generation:asset"        // 角色/场景/道具生图
	TypeFrameRender   = "generation:frame_render" // 分镜渲染
	TypeScriptAnalyze = "generation:analyze"      // 剧本解析
	TypeFrameAudio    = "generation:frame_audio"  // 台词配音
	TypeProjectMerge  = "generation:merge"        // 成片合成
)

// AssetGeneratePayload 素材生图任务参数
type AssetGeneratePayload struct {
	ProjectID      string `json:"project_id"`
	AssetID        string `json:"asset_id"`
	AssetType      string `json:"asset_type"`
	GenerationType string `json:"generation_type"`
	Prompt         string `json:"prompt"`
	ApplyStyle     bool   `json:"apply_style"`
	NegativePrompt string `json:"negative_prompt"`
	BatchSize      int    `json:"batch_size"`
	// 留空时按模型设置自动挑 t2i/i2i
	ModelName string `json:"model_name,omitempty"`
}

// FrameRenderPayload 分镜渲染任务参数
type FrameRenderPayload struct {
	ProjectID          string   `json:"project_id"`
	FrameID            string   `json:"frame_id"`
	Prompt             string   `json:"prompt"`
	ReferenceImageUrls []string `json:"reference_image_urls"`
	BatchSize          int      `json:"batch_size"`
}

// AnalyzePayload 剧本解析任务参数
type AnalyzePayload struct {
	ProjectID string `json:"project_id"`
}

// FrameAudioPayload 配音任务参数
type FrameAudioPayload struct {
	ProjectID string `json:"project_id"`
	FrameID   string `json:"frame_id"`
	Text      string `json:"text"`
	VoiceId   string `json:"voice_id"`
}

// MergePayload 成片合成任务参数
type MergePayload struct {
	ProjectID string `json:"project_id"`
}

var QueueClient *asynq.Client

// InitQueue 初始化
func InitQueue() {
	QueueClient = asynq.NewClient(asynq.RedisClientOpt{
		Addr:     config.AppConfig.Redis.Addr,
		Password: config.AppConfig.Redis.Password,
	})
}

// enqueue 通用入队, 生成类任务不做自动重试 (重复执行会往文档里追加重复变体)
func enqueue(taskType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(taskType, data,
		asynq.MaxRetry(0),
		asynq.Timeout(35*time.Minute), // 显卡生成较慢，设置较长超时
		asynq.Retention(24*time.Hour), // 任务结果在 Redis 保留时间
	)

	info, err := QueueClient.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	log.Printf("[Queue] Task Enqueued: Type=%s, ID=%s", taskType, info.ID)
	return nil
}

// EnqueueAssetGenerate 素材生图入队
func EnqueueAssetGenerate(payload AssetGeneratePayload) error {
	return enqueue(TypeAssetGenerate, payload)
}

// EnqueueFrameRender 分镜渲染入队
func EnqueueFrameRender(payload FrameRenderPayload) error {
	return enqueue(TypeFrameRender, payload)
}

// EnqueueScriptAnalyze 剧本解析入队
func EnqueueScriptAnalyze(projectID string) error {
	return enqueue(TypeScriptAnalyze, AnalyzePayload{ProjectID: projectID})
}

// EnqueueFrameAudio 配音任务入队
func EnqueueFrameAudio(payload FrameAudioPayload) error {
	return enqueue(TypeFrameAudio, payload)
}

// EnqueueProjectMerge 成片合成入队
func EnqueueProjectMerge(projectID string) error {
	return enqueue(TypeProjectMerge, MergePayload{ProjectID: projectID})
}
