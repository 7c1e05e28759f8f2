package api

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"comic-studio-server/models"
	"comic-studio-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 创建分镜, after_id 指定插入位置, 不传追加到末尾
func CreateFrame(c *gin.Context) {
	projectID := c.Param("project_id")
	var req struct {
		AfterId           string   `json:"after_id"`
		SceneId           string   `json:"scene_id"`
		CharacterIds      []string `json:"character_ids"`
		PropIds           []string `json:"prop_ids"`
		ActionDescription string   `json:"action_description"`
		FacialExpression  string   `json:"facial_expression"`
		Dialogue          string   `json:"dialogue"`
		Speaker           string   `json:"speaker"`
		CameraAngle       string   `json:"camera_angle"`
		CameraMovement    string   `json:"camera_movement"`
		SubjectMotion     string   `json:"subject_motion"`
		Atmosphere        string   `json:"atmosphere"`
		ImagePrompt       string   `json:"image_prompt"`
		VideoPrompt       string   `json:"video_prompt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.CharacterIds == nil {
		req.CharacterIds = []string{}
	}
	if req.PropIds == nil {
		req.PropIds = []string{}
	}

	frameID := uuid.NewString()
	now := time.Now().Unix()
	project, err := service.ApplyProject(projectID, func(p *models.Project) error {
		p.InsertFrame(models.Frame{
			ID:                frameID,
			SceneId:           req.SceneId,
			CharacterIds:      req.CharacterIds,
			PropIds:           req.PropIds,
			ActionDescription: req.ActionDescription,
			FacialExpression:  req.FacialExpression,
			Dialogue:          req.Dialogue,
			Speaker:           req.Speaker,
			CameraAngle:       req.CameraAngle,
			CameraMovement:    req.CameraMovement,
			SubjectMotion:     req.SubjectMotion,
			Atmosphere:        req.Atmosphere,
			ImagePrompt:       req.ImagePrompt,
			VideoPrompt:       req.VideoPrompt,
			Status:            models.GenerationStatusPending,
			UpdatedAt:         now,
		}, req.AfterId)
		return nil
	})
	if err != nil {
		respondMutateError(c, err)
		return
	}
	respondProject(c, project)
}

// 更新分镜, 字段带了才改, 显式传空串可以清掉原值
func UpdateFrame(c *gin.Context) {
	projectID := c.Param("project_id")
	frameID := c.Param("frame_id")
	var req struct {
		SceneId           *string   `json:"scene_id"`
		CharacterIds      *[]string `json:"character_ids"`
		PropIds           *[]string `json:"prop_ids"`
		ActionDescription *string   `json:"action_description"`
		FacialExpression  *string   `json:"facial_expression"`
		Dialogue          *string   `json:"dialogue"`
		Speaker           *string   `json:"speaker"`
		CameraAngle       *string   `json:"camera_angle"`
		CameraMovement    *string   `json:"camera_movement"`
		SubjectMotion     *string   `json:"subject_motion"`
		Composition       *string   `json:"composition"`
		Atmosphere        *string   `json:"atmosphere"`
		ImagePrompt       *string   `json:"image_prompt"`
		VideoPrompt       *string   `json:"video_prompt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := service.ApplyProject(projectID, func(p *models.Project) error {
		f := p.FindFrame(frameID)
		if f == nil {
			return models.ErrFrameNotFound
		}
		if f.Locked {
			return models.ErrFrameLocked
		}
		if req.SceneId != nil {
			f.SceneId = *req.SceneId
		}
		if req.CharacterIds != nil {
			f.CharacterIds = *req.CharacterIds
		}
		if req.PropIds != nil {
			f.PropIds = *req.PropIds
		}
		if req.ActionDescription != nil {
			f.ActionDescription = *req.ActionDescription
		}
		if req.FacialExpression != nil {
			f.FacialExpression = *req.FacialExpression
		}
		if req.Dialogue != nil {
			f.Dialogue = *req.Dialogue
		}
		if req.Speaker != nil {
			f.Speaker = *req.Speaker
		}
		if req.CameraAngle != nil {
			f.CameraAngle = *req.CameraAngle
		}
		if req.CameraMovement != nil {
			f.CameraMovement = *req.CameraMovement
		}
		if req.SubjectMotion != nil {
			f.SubjectMotion = *req.SubjectMotion
		}
		if req.Composition != nil {
			f.Composition = *req.Composition
		}
		if req.Atmosphere != nil {
			f.Atmosphere = *req.Atmosphere
		}
		if req.ImagePrompt != nil {
			f.ImagePrompt = *req.ImagePrompt
		}
		if req.VideoPrompt != nil {
			f.VideoPrompt = *req.VideoPrompt
		}
		f.UpdatedAt = time.Now().Unix()
		return nil
	})
	if err != nil {
		respondMutateError(c, err)
		return
	}
	respondProject(c, project)
}

// 删除分镜
func DeleteFrame(c *gin.Context) {
	projectID := c.Param("project_id")
	frameID := c.Param("frame_id")

	project, err := service.ApplyProject(projectID, func(p *models.Project) error {
		f := p.FindFrame(frameID)
		if f == nil {
			return models.ErrFrameNotFound
		}
		if f.Locked {
			return models.ErrFrameLocked
		}
		return p.RemoveFrame(frameID)
	})
	if err != nil {
		respondMutateError(c, err)
		return
	}

	if n := service.CancelPollsForOwner(frameID); n > 0 {
		log.Printf("分镜删除时取消了 %d 个轮询: frame=%s", n, frameID)
	}
	for _, tb := range service.GenerationTracker.ActiveTypesFor(frameID) {
		service.GenerationTracker.Remove(frameID, tb.GenerationType)
	}
	respondProject(c, project)
}

// 复制分镜, 文案和机位带过去, 生成产物不带
func CopyFrame(c *gin.Context) {
	projectID := c.Param("project_id")
	frameID := c.Param("frame_id")

	newID := uuid.NewString()
	project, err := service.ApplyProject(projectID, func(p *models.Project) error {
		_, err := p.CopyFrame(frameID, newID, time.Now().Unix())
		return err
	})
	if err != nil {
		respondMutateError(c, err)
		return
	}

	if err := models.AttachVideoTasks(project); err != nil {
		log.Printf("拼装视频任务失败: project=%s err=%v", projectID, err)
		project.VideoTasks = []models.VideoTask{}
	}
	c.JSON(http.StatusOK, gin.H{"project": project, "frame_id": newID})
}

// 整体重排分镜顺序, id 列表必须是现有分镜的一个排列
func ReorderFrames(c *gin.Context) {
	projectID := c.Param("project_id")
	var req struct {
		FrameIds []string `json:"frame_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := service.ApplyProject(projectID, func(p *models.Project) error {
		return p.ReorderFrames(req.FrameIds)
	})
	if err != nil {
		respondMutateError(c, err)
		return
	}
	respondProject(c, project)
}

// 锁定/解锁分镜, 锁定的分镜拒绝编辑和渲染
func ToggleFrameLock(c *gin.Context) {
	projectID := c.Param("project_id")
	frameID := c.Param("frame_id")

	project, err := service.ApplyProject(projectID, func(p *models.Project) error {
		f := p.FindFrame(frameID)
		if f == nil {
			return models.ErrFrameNotFound
		}
		f.Locked = !f.Locked
		return nil
	})
	if err != nil {
		respondMutateError(c, err)
		return
	}
	respondProject(c, project)
}

// 发起分镜渲染: 解析参考图, 校验数量上限, 组装提示词后下发
func RenderFrame(c *gin.Context) {
	projectID := c.Param("project_id")
	frameID := c.Param("frame_id")
	var req struct {
		CompositionData *models.CompositionData `json:"composition_data"`
		Prompt          string                  `json:"prompt"`
		BatchSize       int                     `json:"batch_size"`
	}
	// 请求体可以整个不带, 此时复用存储的构图并自动组装提示词
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := service.LoadProject(projectID)
	if err != nil {
		respondMutateError(c, err)
		return
	}
	frame := project.FindFrame(frameID)
	if frame == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "分镜未找到"})
		return
	}
	if frame.Locked {
		c.JSON(http.StatusBadRequest, gin.H{"error": "分镜已锁定, 不能渲染"})
		return
	}

	refs := service.FrameRenderReferences(&project, frame, req.CompositionData.ReferenceURLs())
	if err := service.ValidateReferenceBudget(&project, refs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("参考图最多 %d 张, 请减少画布中的素材", project.ModelSettings.ReferenceBudget())})
		return
	}

	prompt := req.Prompt
	if prompt == "" {
		prompt = service.ComposeFramePrompt(&project, frame)
	}
	if prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "分镜没有可用的提示词, 请先填写画面描述"})
		return
	}

	batch := req.BatchSize
	if batch <= 0 {
		batch = 1
	}
	if batch > 4 {
		batch = 4
	}

	updated, err := service.ApplyProject(projectID, func(p *models.Project) error {
		f := p.FindFrame(frameID)
		if f == nil {
			return models.ErrFrameNotFound
		}
		if req.CompositionData != nil {
			f.CompositionData = req.CompositionData
		}
		f.Status = models.GenerationStatusProcessing
		f.UpdatedAt = time.Now().Unix()
		return nil
	})
	if err != nil {
		respondMutateError(c, err)
		return
	}

	service.GenerationTracker.Add(frameID, models.GenerationTypeRender, batch)
	if err := service.EnqueueFrameRender(service.FrameRenderPayload{
		ProjectID:          projectID,
		FrameID:            frameID,
		Prompt:             prompt,
		ReferenceImageUrls: refs,
		BatchSize:          batch,
	}); err != nil {
		service.GenerationTracker.Remove(frameID, models.GenerationTypeRender)
		if _, applyErr := service.ApplyProject(projectID, func(p *models.Project) error {
			if f := p.FindFrame(frameID); f != nil {
				f.Status = models.GenerationStatusFailed
			}
			return nil
		}); applyErr != nil {
			log.Printf("回滚分镜状态失败: frame=%s err=%v", frameID, applyErr)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "渲染任务入队失败: " + err.Error()})
		return
	}
	respondProject(c, updated)
}

// 生成分镜配音, 默认念台词, 音色用说话人绑定的音色
func GenerateFrameAudio(c *gin.Context) {
	projectID := c.Param("project_id")
	frameID := c.Param("frame_id")
	var req struct {
		Text    string `json:"text"`
		VoiceId string `json:"voice_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := service.LoadProject(projectID)
	if err != nil {
		respondMutateError(c, err)
		return
	}
	frame := project.FindFrame(frameID)
	if frame == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "分镜未找到"})
		return
	}

	text := req.Text
	if text == "" {
		text = frame.Dialogue
	}
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "分镜没有台词, 无法配音"})
		return
	}
	voiceID := req.VoiceId
	if voiceID == "" && frame.Speaker != "" {
		for i := range project.Characters {
			if project.Characters[i].Name == frame.Speaker {
				voiceID = project.Characters[i].VoiceId
				break
			}
		}
	}

	service.GenerationTracker.Add(frameID, "audio", 1)
	if err := service.EnqueueFrameAudio(service.FrameAudioPayload{
		ProjectID: projectID,
		FrameID:   frameID,
		Text:      text,
		VoiceId:   voiceID,
	}); err != nil {
		service.GenerationTracker.Remove(frameID, "audio")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "配音任务入队失败: " + err.Error()})
		return
	}
	respondProject(c, &project)
}

// 为分镜挑选一条已完成的视频
func SelectFrameVideo(c *gin.Context) {
	projectID := c.Param("project_id")
	frameID := c.Param("frame_id")
	var req struct {
		TaskId string `json:"task_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TaskId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_id 不能为空"})
		return
	}

	task, err := models.GetVideoTaskByIDGorm(models.GormDB, req.TaskId)
	if err != nil {
		respondMutateError(c, err)
		return
	}
	if task.ProjectId != projectID || task.FrameId != frameID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "任务不属于该分镜"})
		return
	}
	if task.Status != models.GenerationStatusCompleted {
		c.JSON(http.StatusBadRequest, gin.H{"error": "任务还没有生成完成"})
		return
	}

	project, err := service.ApplyProject(projectID, func(p *models.Project) error {
		f := p.FindFrame(frameID)
		if f == nil {
			return models.ErrFrameNotFound
		}
		f.SelectVideo(task)
		return nil
	})
	if err != nil {
		respondMutateError(c, err)
		return
	}
	respondProject(c, project)
}
