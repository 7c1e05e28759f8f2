package api

import (
	"log"
	"net/http"
	"time"

	"comic-studio-server/models"
	"comic-studio-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 创建分镜视频任务, batch_size 大于 1 时一次建多条
func CreateVideoTask(c *gin.Context) {
	projectID := c.Param("project_id")
	var req struct {
		FrameId            string   `json:"frame_id"`
		Prompt             string   `json:"prompt"`
		NegativePrompt     string   `json:"negative_prompt"`
		Model              string   `json:"model"`
		Duration           int      `json:"duration"`
		Resolution         string   `json:"resolution"`
		Seed               *int64   `json:"seed"`
		GenerateAudio      *bool    `json:"generate_audio"`
		PromptExtend       bool     `json:"prompt_extend"`
		ShotType           string   `json:"shot_type"`
		GenerationMode     string   `json:"generation_mode"`
		ImageUrl           string   `json:"image_url"`
		ReferenceVideoUrls []string `json:"reference_video_urls"`
		BatchSize          int      `json:"batch_size"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.FrameId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "frame_id 不能为空"})
		return
	}

	project, err := service.LoadProject(projectID)
	if err != nil {
		respondMutateError(c, err)
		return
	}
	frame := project.FindFrame(req.FrameId)
	if frame == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "分镜未找到"})
		return
	}
	if frame.Locked {
		c.JSON(http.StatusBadRequest, gin.H{"error": "分镜已锁定, 不能生成"})
		return
	}

	mode := req.GenerationMode
	if mode == "" {
		mode = models.GenerationModeI2V
	}
	imageURL := req.ImageUrl
	if imageURL == "" {
		if imageURL = frame.RenderedImageAsset.ReferenceURL(); imageURL == "" {
			if imageURL = frame.RenderedImageUrl; imageURL == "" {
				imageURL = frame.ImageUrl
			}
		}
	}
	if mode == models.GenerationModeR2V {
		if len(req.ReferenceVideoUrls) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "r2v 模式至少需要一条参考视频"})
			return
		}
		if len(req.ReferenceVideoUrls) > models.MaxReferenceVideos {
			c.JSON(http.StatusBadRequest, gin.H{"error": "参考视频最多 3 条"})
			return
		}
	} else if imageURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "分镜还没有渲染图, 请先渲染分镜"})
		return
	}

	prompt := req.Prompt
	if prompt == "" {
		prompt = service.ComposeVideoPrompt(frame, frame.CameraMovement, frame.SubjectMotion)
	}
	duration := req.Duration
	if duration != 5 && duration != 10 {
		duration = 5
	}
	resolution := req.Resolution
	if resolution == "" {
		resolution = "720P"
	}
	model := req.Model
	if model == "" {
		model = project.ModelSettings.I2VModel
	}
	shotType := req.ShotType
	if shotType == "" {
		if mode == models.GenerationModeR2V {
			shotType = "multi"
		} else {
			shotType = "single"
		}
	}
	generateAudio := mode == models.GenerationModeR2V
	if req.GenerateAudio != nil {
		generateAudio = *req.GenerateAudio
	}

	batch := req.BatchSize
	if batch <= 0 {
		batch = 1
	}
	if batch > 4 {
		batch = 4
	}

	now := time.Now().Unix()
	tasks := make([]*models.VideoTask, 0, batch)
	for i := 0; i < batch; i++ {
		task := &models.VideoTask{
			ID:                 uuid.NewString(),
			ProjectId:          projectID,
			FrameId:            req.FrameId,
			ImageUrl:           imageURL,
			Prompt:             prompt,
			Status:             models.GenerationStatusPending,
			Duration:           duration,
			Seed:               req.Seed,
			Resolution:         resolution,
			GenerateAudio:      generateAudio,
			PromptExtend:       req.PromptExtend,
			NegativePrompt:     req.NegativePrompt,
			Model:              model,
			ShotType:           shotType,
			GenerationMode:     mode,
			ReferenceVideoUrls: req.ReferenceVideoUrls,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := models.CreateVideoTask(models.GormDB, task); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "创建视频任务失败: " + err.Error()})
			return
		}
		tasks = append(tasks, task)
	}

	service.GenerationTracker.Add(req.FrameId, models.GenerationTypeVideo, batch)
	for _, task := range tasks {
		if err := service.DispatchVideoTask(task); err != nil {
			// 下发失败不算任务失败, 留在 pending 由轮询器补发
			log.Printf("视频任务下发失败(轮询器会补发): task=%s err=%v", task.ID, err)
		}
	}
	service.KickVideoWatcher()

	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// 项目的视频任务列表, 最新的排前面
// status=processing 同时筛出 pending 和 processing 两种
func ListVideoTasks(c *gin.Context) {
	projectID := c.Param("project_id")
	tasks, err := models.ListVideoTasks(models.GormDB, projectID, c.Query("status"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取视频任务失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// 删除视频任务, 还在跑的先通知生成后端取消
func DeleteVideoTask(c *gin.Context) {
	projectID := c.Param("project_id")
	taskID := c.Param("task_id")

	task, err := models.GetVideoTaskByIDGorm(models.GormDB, taskID)
	if err != nil {
		respondMutateError(c, err)
		return
	}
	if task.ProjectId != projectID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "任务不属于该项目"})
		return
	}

	if !models.IsTerminalStatus(task.Status) {
		if task.WorkerJobId != "" {
			if err := service.CancelWorkerJob(task.WorkerJobId); err != nil {
				log.Printf("通知生成后端取消作业失败: job=%s err=%v", task.WorkerJobId, err)
			}
		}
		owner := task.FrameId
		if owner == "" {
			owner = task.AssetId
		}
		service.GenerationTracker.Remove(owner, models.GenerationTypeVideo)
	}

	if err := models.DeleteVideoTaskByID(models.GormDB, taskID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除视频任务失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "任务已删除"})
}

// 查询单个视频任务
func GetVideoTask(c *gin.Context) {
	taskID := c.Param("task_id")
	task, err := models.GetVideoTaskByIDGorm(models.GormDB, taskID)
	if err != nil {
		respondMutateError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// 视频任务进度 WebSocket 推送
// 以数据库为来源: 先推当前状态, 之后每秒查一次, 有变化就推, 到终态收尾断开
func VideoTaskProgressWebSocket(c *gin.Context) {
	taskID := c.Param("task_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "WebSocket升级失败"})
		return
	}
	defer conn.Close()

	task, err := models.GetVideoTaskByIDGorm(models.GormDB, taskID)
	if err != nil {
		_ = conn.WriteJSON(map[string]interface{}{"error": "task not found: " + err.Error()})
		return
	}
	if err := conn.WriteJSON(task); err != nil {
		return
	}
	if models.IsTerminalStatus(task.Status) {
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	prevStatus := task.Status
	prevVideoUrl := task.VideoUrl

	for range ticker.C {
		cur, err := models.GetVideoTaskByIDGorm(models.GormDB, taskID)
		if err != nil {
			// 任务可能已被删除, 通知后断开
			_ = conn.WriteJSON(map[string]interface{}{"error": "task not found"})
			break
		}

		if cur.Status != prevStatus || cur.VideoUrl != prevVideoUrl {
			if err := conn.WriteJSON(cur); err != nil {
				break
			}
			prevStatus = cur.Status
			prevVideoUrl = cur.VideoUrl
		}

		if models.IsTerminalStatus(cur.Status) {
			break
		}
	}
}
