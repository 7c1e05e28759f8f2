package api

import (
	"database/sql"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"comic-studio-server/models"
	"comic-studio-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var errScriptEmpty = errors.New("剧本内容为空, 无法解析")

// respondProject 变更成功后的统一出参: 拼上视频任务, 整个项目回给前端
func respondProject(c *gin.Context, p *models.Project) {
	if err := models.AttachVideoTasks(p); err != nil {
		// 拼不上就给空列表, 不拦项目本体
		log.Printf("拼装视频任务失败: project=%s err=%v", p.ID, err)
		p.VideoTasks = []models.VideoTask{}
	}
	c.JSON(http.StatusOK, gin.H{"project": p})
}

// respondMutateError 把文档变更错误翻译成 HTTP 状态码
func respondMutateError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, sql.ErrNoRows):
		c.JSON(http.StatusNotFound, gin.H{"error": "项目未找到"})
	case errors.Is(err, models.ErrAssetNotFound),
		errors.Is(err, models.ErrFrameNotFound),
		errors.Is(err, models.ErrVariantNotFound),
		errors.Is(err, models.ErrVideoTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrAssetLocked),
		errors.Is(err, models.ErrFrameLocked),
		errors.Is(err, models.ErrFrameOrderDiff),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrTooManyReferences):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// 创建项目
func CreateProject(c *gin.Context) {
	var req struct {
		Title        string `json:"title"`
		OriginalText string `json:"original_text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Title == "" {
		req.Title = "未命名项目"
	}

	project := models.NewProject(uuid.NewString(), req.Title, req.OriginalText, time.Now().Unix())
	if err := models.CreateProject(project); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建项目失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

// 项目列表, 最近更新的排前面
func ListProjects(c *gin.Context) {
	projects, err := models.ListProjects()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取项目列表失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// 项目详情
func GetProject(c *gin.Context) {
	projectID := c.Param("project_id")
	project, err := service.LoadProject(projectID)
	if err != nil {
		respondMutateError(c, err)
		return
	}
	respondProject(c, &project)
}

// 更新项目标题与剧本原文
func UpdateProject(c *gin.Context) {
	projectID := c.Param("project_id")
	var req struct {
		Title        string `json:"title"`
		OriginalText string `json:"original_text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := models.UpdateProjectMeta(projectID, req.Title, req.OriginalText); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "更新项目失败: " + err.Error()})
		return
	}
	service.InvalidateProject(projectID)

	project, err := models.GetProjectByID(projectID)
	if err != nil {
		respondMutateError(c, err)
		return
	}
	respondProject(c, &project)
}

// 删除项目, 先把名下还在跑的生成作业都撤掉
func DeleteProject(c *gin.Context) {
	projectID := c.Param("project_id")

	if tasks, err := models.ListVideoTasks(models.GormDB, projectID, models.GenerationStatusProcessing); err == nil {
		for i := range tasks {
			if tasks[i].WorkerJobId == "" {
				continue
			}
			if err := service.CancelWorkerJob(tasks[i].WorkerJobId); err != nil {
				log.Printf("通知生成后端取消作业失败: job=%s err=%v", tasks[i].WorkerJobId, err)
			}
		}
	}
	if project, err := models.GetProjectByID(projectID); err == nil {
		owners := []string{projectID}
		for i := range project.Characters {
			owners = append(owners, project.Characters[i].ID)
		}
		for i := range project.Scenes {
			owners = append(owners, project.Scenes[i].ID)
		}
		for i := range project.Props {
			owners = append(owners, project.Props[i].ID)
		}
		for i := range project.Frames {
			owners = append(owners, project.Frames[i].ID)
		}
		cancelled := 0
		for _, id := range owners {
			cancelled += service.CancelPollsForOwner(id)
		}
		if cancelled > 0 {
			log.Printf("项目删除前取消了 %d 个轮询: project=%s", cancelled, projectID)
		}
	}

	if err := models.DeleteProjectByID(projectID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除项目失败: " + err.Error()})
		return
	}
	service.InvalidateProject(projectID)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "项目已删除"})
}

// 提交剧本拆解, 解析结果会整体替换现有素材和分镜
func AnalyzeProject(c *gin.Context) {
	projectID := c.Param("project_id")
	var req struct {
		OriginalText string `json:"original_text"`
	}
	// 请求体可以不带, 带了就先更新剧本原文
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := service.ApplyProject(projectID, func(p *models.Project) error {
		if req.OriginalText != "" {
			p.OriginalText = req.OriginalText
		}
		if strings.TrimSpace(p.OriginalText) == "" {
			return errScriptEmpty
		}
		p.Status = models.ProjectStatusAnalyzing
		return nil
	})
	if err != nil {
		if errors.Is(err, errScriptEmpty) {
			c.JSON(http.StatusBadRequest, gin.H{"error": errScriptEmpty.Error()})
			return
		}
		respondMutateError(c, err)
		return
	}

	if err := service.EnqueueScriptAnalyze(projectID); err != nil {
		if _, applyErr := service.ApplyProject(projectID, func(p *models.Project) error {
			p.Status = models.ProjectStatusFailed
			return nil
		}); applyErr != nil {
			log.Printf("回滚项目状态失败: project=%s err=%v", projectID, applyErr)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "解析任务入队失败: " + err.Error()})
		return
	}
	respondProject(c, project)
}

// 更新项目级风格设置
func UpdateProjectStyle(c *gin.Context) {
	projectID := c.Param("project_id")
	var req struct {
		StylePreset string `json:"style_preset"`
		StylePrompt string `json:"style_prompt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := service.ApplyProject(projectID, func(p *models.Project) error {
		if req.StylePreset != "" {
			p.StylePreset = req.StylePreset
		}
		p.StylePrompt = req.StylePrompt
		return nil
	})
	if err != nil {
		respondMutateError(c, err)
		return
	}
	respondProject(c, project)
}

// 整体替换美术风格配置
func UpdateArtDirection(c *gin.Context) {
	projectID := c.Param("project_id")
	var req models.ArtDirection
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := service.ApplyProject(projectID, func(p *models.Project) error {
		p.ArtDirection = &req
		return nil
	})
	if err != nil {
		respondMutateError(c, err)
		return
	}
	respondProject(c, project)
}

// 更新模型设置, 只覆盖请求里带的字段
func UpdateModelSettings(c *gin.Context) {
	projectID := c.Param("project_id")
	var req struct {
		T2IModel              string `json:"t2i_model"`
		I2IModel              string `json:"i2i_model"`
		I2VModel              string `json:"i2v_model"`
		CharacterAspectRatio  string `json:"character_aspect_ratio"`
		SceneAspectRatio      string `json:"scene_aspect_ratio"`
		PropAspectRatio       string `json:"prop_aspect_ratio"`
		StoryboardAspectRatio string `json:"storyboard_aspect_ratio"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := service.ApplyProject(projectID, func(p *models.Project) error {
		m := &p.ModelSettings
		if req.T2IModel != "" {
			m.T2IModel = req.T2IModel
		}
		if req.I2IModel != "" {
			m.I2IModel = req.I2IModel
		}
		if req.I2VModel != "" {
			m.I2VModel = req.I2VModel
		}
		if req.CharacterAspectRatio != "" {
			m.CharacterAspectRatio = req.CharacterAspectRatio
		}
		if req.SceneAspectRatio != "" {
			m.SceneAspectRatio = req.SceneAspectRatio
		}
		if req.PropAspectRatio != "" {
			m.PropAspectRatio = req.PropAspectRatio
		}
		if req.StoryboardAspectRatio != "" {
			m.StoryboardAspectRatio = req.StoryboardAspectRatio
		}
		return nil
	})
	if err != nil {
		respondMutateError(c, err)
		return
	}
	respondProject(c, project)
}

// 发起成片合成, 按分镜顺序拼接各镜头已完成的视频
func MergeProject(c *gin.Context) {
	projectID := c.Param("project_id")
	project, err := service.LoadProject(projectID)
	if err != nil {
		respondMutateError(c, err)
		return
	}
	if len(project.Frames) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "项目还没有分镜, 无法合成"})
		return
	}

	service.GenerationTracker.Add(projectID, "merge", 1)
	if err := service.EnqueueProjectMerge(projectID); err != nil {
		service.GenerationTracker.Remove(projectID, "merge")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "合成任务入队失败: " + err.Error()})
		return
	}
	respondProject(c, &project)
}
