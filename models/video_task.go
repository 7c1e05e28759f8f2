package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const (
	// i2v: 按首帧图生成视频; r2v: 按参考视频续写角色表演
	GenerationModeI2V = "i2v"
	GenerationModeR2V = "r2v"

	// r2v 模式最多允许的参考视频数量
	MaxReferenceVideos = 3
)

var (
	ErrInvalidTransition = errors.New("video task status cannot move backwards")
	ErrVideoTaskNotFound = errors.New("video task not found")
)

// 状态只能向前流转: pending -> processing -> completed/failed, 终态不再变化
var videoTaskStatusRank = map[string]int{
	GenerationStatusPending:    0,
	GenerationStatusProcessing: 1,
	GenerationStatusCompleted:  2,
	GenerationStatusFailed:     2,
}

func CanTransitionVideoStatus(from, to string) bool {
	return videoTaskStatusRank[to] > videoTaskStatusRank[from]
}

func IsTerminalStatus(status string) bool {
	return status == GenerationStatusCompleted || status == GenerationStatusFailed
}

// StatusFilterValues 列表筛选分栏到状态集合的映射, 进行中分栏同时包含 pending 和 processing
// 返回 nil 表示不过滤
func StatusFilterValues(filter string) []string {
	switch filter {
	case GenerationStatusProcessing:
		return []string{GenerationStatusPending, GenerationStatusProcessing}
	case GenerationStatusCompleted:
		return []string{GenerationStatusCompleted}
	case GenerationStatusFailed:
		return []string{GenerationStatusFailed}
	}
	return nil
}

type StringList []string

// 实现 driver.Valuer 接口
func (l StringList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// 实现 sql.Scanner 接口
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New(fmt.Sprint("Failed to unmarshal JSONB value:", value))
	}
	return json.Unmarshal(bytes, l)
}

// VideoTask 一次视频生成请求, 时间戳用秒级 epoch, 列表按 created_at 倒序取最新
type VideoTask struct {
	ID        string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectId string `gorm:"index" json:"project_id"`
	// 归属分镜或素材, 二者最多一个有值
	FrameId   string `json:"frame_id,omitempty"`
	AssetId   string `json:"asset_id,omitempty"`
	AssetType string `json:"asset_type,omitempty"`

	ImageUrl string `json:"image_url"`
	Prompt   string `json:"prompt"`
	Status   string `json:"status"`
	VideoUrl string `json:"video_url,omitempty"`

	Duration       int    `json:"duration"`
	Seed           *int64 `json:"seed,omitempty"`
	Resolution     string `json:"resolution"`
	GenerateAudio  bool   `json:"generate_audio"`
	AudioUrl       string `json:"audio_url,omitempty"`
	PromptExtend   bool   `json:"prompt_extend"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Model          string `json:"model"`
	// single/multi, 仅 wan2.6-i2v 生效
	ShotType           string     `json:"shot_type"`
	GenerationMode     string     `json:"generation_mode"`
	ReferenceVideoUrls StringList `gorm:"type:json" json:"reference_video_urls,omitempty"`

	// 生成后端返回的作业号, 轮询和取消都用它
	WorkerJobId string `json:"worker_job_id,omitempty"`
	Error       string `json:"error,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// UpdateStatus 推进任务状态并回写结果字段
// 只允许向前流转; 带原状态条件更新, 并发下谁先落库谁生效
func (t *VideoTask) UpdateStatus(db *gorm.DB, status string, videoUrl string, errMsg string) error {
	if status == t.Status {
		return nil
	}
	if !CanTransitionVideoStatus(t.Status, status) {
		return ErrInvalidTransition
	}
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().Unix(),
	}
	if videoUrl != "" {
		updates["video_url"] = videoUrl
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	res := db.Model(t).Where("status = ?", t.Status).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// 已被并发流转走, 以库内状态为准
		return nil
	}
	t.Status = status
	if videoUrl != "" {
		t.VideoUrl = videoUrl
	}
	if errMsg != "" {
		t.Error = errMsg
	}
	return nil
}

func CreateVideoTask(db *gorm.DB, task *VideoTask) error {
	return db.Create(task).Error
}

func GetVideoTaskByIDGorm(db *gorm.DB, taskID string) (*VideoTask, error) {
	var task VideoTask
	if err := db.First(&task, "id = ?", taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVideoTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

// ListVideoTasks 按项目查任务, 最新的排前面; statusFilter 为空串时返回全部
func ListVideoTasks(db *gorm.DB, projectID string, statusFilter string) ([]VideoTask, error) {
	tasks := []VideoTask{}
	q := db.Where("project_id = ?", projectID)
	if values := StatusFilterValues(statusFilter); values != nil {
		q = q.Where("status IN ?", values)
	}
	if err := q.Order("created_at DESC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListActiveVideoTasks 全库未到终态的任务, 轮询器据此决定是否继续跑
func ListActiveVideoTasks(db *gorm.DB) ([]VideoTask, error) {
	tasks := []VideoTask{}
	err := db.Where("status IN ?", []string{GenerationStatusPending, GenerationStatusProcessing}).
		Order("created_at ASC").Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func DeleteVideoTaskByID(db *gorm.DB, taskID string) error {
	return db.Delete(&VideoTask{}, "id = ?", taskID).Error
}

// 强制指定表名为 "video_task" (解决 Error 1146 表不存在的问题)
func (VideoTask) TableName() string {
	return "video_task"
}
