package api

import (
	"log"
	"net/http"
	"time"

	"comic-studio-server/models"
	"comic-studio-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 角色允许的生成槽位
var characterGenerationTypes = map[string]bool{
	models.GenerationTypeFullBody:  true,
	models.GenerationTypeThreeView: true,
	models.GenerationTypeHeadshot:  true,
	models.GenerationTypeAll:       true,
}

// 创建素材
func CreateAsset(c *gin.Context) {
	projectID := c.Param("project_id")
	var req struct {
		AssetType    string `json:"asset_type"`
		Name         string `json:"name"`
		Description  string `json:"description"`
		Age          string `json:"age"`
		Gender       string `json:"gender"`
		Clothing     string `json:"clothing"`
		TimeOfDay    string `json:"time_of_day"`
		LightingMood string `json:"lighting_mood"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "素材名称不能为空"})
		return
	}

	assetID := uuid.NewString()
	project, err := service.ApplyProject(projectID, func(p *models.Project) error {
		switch req.AssetType {
		case models.AssetTypeCharacter:
			p.Characters = append(p.Characters, models.Character{
				ID:           assetID,
				Name:         req.Name,
				Description:  req.Description,
				Age:          req.Age,
				Gender:       req.Gender,
				Clothing:     req.Clothing,
				IsConsistent: true,
				Status:       models.GenerationStatusPending,
			})
		case models.AssetTypeScene:
			p.Scenes = append(p.Scenes, models.Scene{
				ID:           assetID,
				Name:         req.Name,
				Description:  req.Description,
				TimeOfDay:    req.TimeOfDay,
				LightingMood: req.LightingMood,
				Status:       models.GenerationStatusPending,
			})
		case models.AssetTypeProp:
			p.Props = append(p.Props, models.Prop{
				ID:          assetID,
				Name:        req.Name,
				Description: req.Description,
				Status:      models.GenerationStatusPending,
			})
		default:
			return models.ErrAssetNotFound
		}
		return nil
	})
	if err != nil {
		respondMutateError(c, err)
		return
	}
	respondProject(c, project)
}

// 更新素材信息, 只覆盖请求里带的字段
func UpdateAsset(c *gin.Context) {
	projectID := c.Param("project_id")
	assetID := c.Param("asset_id")
	var req struct {
		AssetType    string `json:"asset_type"`
		Name         string `json:"name"`
		Description  string `json:"description"`
		Age          string `json:"age"`
		Gender       string `json:"gender"`
		Clothing     string `json:"clothing"`
		TimeOfDay    string `json:"time_of_day"`
		LightingMood string `json:"lighting_mood"`
		VoiceId      string `json:"voice_id"`
		VoiceName    string `json:"voice_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := service.ApplyProject(projectID, func(p *models.Project) error {
		if ch := p.FindCharacter(assetID); ch != nil {
			if req.Name != "" {
				ch.Name = req.Name
			}
			if req.Description != "" {
				ch.Description = req.Description
			}
			if req.Age != "" {
				ch.Age = req.Age
			}
			if req.Gender != "" {
				ch.Gender = req.Gender
			}
			if req.Clothing != "" {
				ch.Clothing = req.Clothing
			}
			if req.VoiceId != "" {
				ch.VoiceId = req.VoiceId
			}
			if req.VoiceName != "" {
				ch.VoiceName = req.VoiceName
			}
			return nil
		}
		if s := p.FindScene(assetID); s != nil {
			if req.Name != "" {
				s.Name = req.Name
			}
			if req.Description != "" {
				s.Description = req.Description
			}
			if req.TimeOfDay != "" {
				s.TimeOfDay = req.TimeOfDay
			}
			if req.LightingMood != "" {
				s.LightingMood = req.LightingMood
			}
			return nil
		}
		if pr := p.FindProp(assetID); pr != nil {
			if req.Name != "" {
				pr.Name = req.Name
			}
			if req.Description != "" {
				pr.Description = req.Description
			}
			return nil
		}
		return models.ErrAssetNotFound
	})
	if err != nil {
		respondMutateError(c, err)
		return
	}
	respondProject(c, project)
}

// 删除素材, 分镜里指向它的引用一并摘掉
func DeleteAsset(c *gin.Context) {
	projectID := c.Param("project_id")
	assetID := c.Param("asset_id")

	project, err := service.ApplyProject(projectID, func(p *models.Project) error {
		for i := range p.Characters {
			if p.Characters[i].ID == assetID {
				p.Characters = append(p.Characters[:i], p.Characters[i+1:]...)
				p.RemoveAssetReferences(models.AssetTypeCharacter, assetID)
				return nil
			}
		}
		for i := range p.Scenes {
			if p.Scenes[i].ID == assetID {
				p.Scenes = append(p.Scenes[:i], p.Scenes[i+1:]...)
				p.RemoveAssetReferences(models.AssetTypeScene, assetID)
				return nil
			}
		}
		for i := range p.Props {
			if p.Props[i].ID == assetID {
				p.Props = append(p.Props[:i], p.Props[i+1:]...)
				p.RemoveAssetReferences(models.AssetTypeProp, assetID)
				return nil
			}
		}
		return models.ErrAssetNotFound
	})
	if err != nil {
		respondMutateError(c, err)
		return
	}

	// 在跑的生成作业一并撤掉, 否则结果回来找不到素材白跑一趟
	if n := service.CancelPollsForOwner(assetID); n > 0 {
		log.Printf("素材删除时取消了 %d 个轮询: asset=%s", n, assetID)
	}
	for _, tb := range service.GenerationTracker.ActiveTypesFor(assetID) {
		service.GenerationTracker.Remove(assetID, tb.GenerationType)
	}
	respondProject(c, project)
}

// 锁定/解锁素材, 锁定的素材拒绝生成
func ToggleAssetLock(c *gin.Context) {
	projectID := c.Param("project_id")
	assetID := c.Param("asset_id")

	project, err := service.ApplyProject(projectID, func(p *models.Project) error {
		if ch := p.FindCharacter(assetID); ch != nil {
			ch.Locked = !ch.Locked
			return nil
		}
		if s := p.FindScene(assetID); s != nil {
			s.Locked = !s.Locked
			return nil
		}
		if pr := p.FindProp(assetID); pr != nil {
			pr.Locked = !pr.Locked
			return nil
		}
		return models.ErrAssetNotFound
	})
	if err != nil {
		respondMutateError(c, err)
		return
	}
	respondProject(c, project)
}

// 发起素材图片生成, 下发是异步的, 返回乐观状态的项目
func GenerateAsset(c *gin.Context) {
	projectID := c.Param("project_id")
	assetID := c.Param("asset_id")
	var req struct {
		AssetType      string `json:"asset_type"`
		GenerationType string `json:"generation_type"`
		Prompt         string `json:"prompt"`
		ApplyStyle     bool   `json:"apply_style"`
		NegativePrompt string `json:"negative_prompt"`
		BatchSize      int    `json:"batch_size"`
		ModelName      string `json:"model_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := service.LoadProject(projectID)
	if err != nil {
		respondMutateError(c, err)
		return
	}

	generationType := req.GenerationType
	switch req.AssetType {
	case models.AssetTypeCharacter:
		ch := project.FindCharacter(assetID)
		if ch == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "素材未找到"})
			return
		}
		if ch.Locked {
			c.JSON(http.StatusBadRequest, gin.H{"error": "素材已锁定, 不能生成"})
			return
		}
		if generationType == "" {
			generationType = models.GenerationTypeFullBody
		}
		if !characterGenerationTypes[generationType] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "不支持的生成类型: " + generationType})
			return
		}
		// 派生图依赖全身主像, 没有主像时提前拦下, 不白跑一次生成
		if generationType == models.GenerationTypeThreeView || generationType == models.GenerationTypeHeadshot {
			if ch.FullBodyAsset.ReferenceURL() == "" && ch.FullBodyImageUrl == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "角色还没有全身主像, 请先生成全身像"})
				return
			}
		}
	case models.AssetTypeScene:
		s := project.FindScene(assetID)
		if s == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "素材未找到"})
			return
		}
		if s.Locked {
			c.JSON(http.StatusBadRequest, gin.H{"error": "素材已锁定, 不能生成"})
			return
		}
		generationType = models.GenerationTypeImage
	case models.AssetTypeProp:
		pr := project.FindProp(assetID)
		if pr == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "素材未找到"})
			return
		}
		if pr.Locked {
			c.JSON(http.StatusBadRequest, gin.H{"error": "素材已锁定, 不能生成"})
			return
		}
		generationType = models.GenerationTypeImage
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "不支持的素材类型: " + req.AssetType})
		return
	}

	batch := req.BatchSize
	if batch <= 0 {
		batch = 1
	}
	if batch > 4 {
		batch = 4
	}

	service.GenerationTracker.Add(assetID, generationType, batch)
	if err := service.EnqueueAssetGenerate(service.AssetGeneratePayload{
		ProjectID:      projectID,
		AssetID:        assetID,
		AssetType:      req.AssetType,
		GenerationType: generationType,
		Prompt:         req.Prompt,
		ApplyStyle:     req.ApplyStyle,
		NegativePrompt: req.NegativePrompt,
		BatchSize:      batch,
		ModelName:      req.ModelName,
	}); err != nil {
		service.GenerationTracker.Remove(assetID, generationType)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "生成任务入队失败: " + err.Error()})
		return
	}

	updated, err := service.ApplyProject(projectID, func(p *models.Project) error {
		switch req.AssetType {
		case models.AssetTypeCharacter:
			if ch := p.FindCharacter(assetID); ch != nil {
				ch.Status = models.GenerationStatusProcessing
			}
		case models.AssetTypeScene:
			if s := p.FindScene(assetID); s != nil {
				s.Status = models.GenerationStatusProcessing
			}
		case models.AssetTypeProp:
			if pr := p.FindProp(assetID); pr != nil {
				pr.Status = models.GenerationStatusProcessing
			}
		}
		return nil
	})
	if err != nil {
		respondMutateError(c, err)
		return
	}
	respondProject(c, updated)
}

// 切换素材的选中变体
func SelectAssetVariant(c *gin.Context) {
	projectID := c.Param("project_id")
	assetID := c.Param("asset_id")
	var req struct {
		AssetType      string `json:"asset_type"`
		GenerationType string `json:"generation_type"`
		VariantId      string `json:"variant_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.VariantId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "variant_id 不能为空"})
		return
	}

	project, err := service.ApplyProject(projectID, func(p *models.Project) error {
		return p.SelectAssetVariant(req.AssetType, assetID, req.VariantId, req.GenerationType)
	})
	if err != nil {
		respondMutateError(c, err)
		return
	}
	respondProject(c, project)
}

// 删除素材变体, 删到选中项时不自动顶替
func DeleteAssetVariant(c *gin.Context) {
	projectID := c.Param("project_id")
	assetID := c.Param("asset_id")
	var req struct {
		AssetType string `json:"asset_type"`
		VariantId string `json:"variant_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.VariantId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "variant_id 不能为空"})
		return
	}

	project, err := service.ApplyProject(projectID, func(p *models.Project) error {
		return p.DeleteAssetVariant(req.AssetType, assetID, req.VariantId)
	})
	if err != nil {
		respondMutateError(c, err)
		return
	}
	respondProject(c, project)
}

// 收藏/取消收藏素材变体, 收藏的变体不参与自动淘汰
func FavoriteAssetVariant(c *gin.Context) {
	projectID := c.Param("project_id")
	assetID := c.Param("asset_id")
	var req struct {
		AssetType   string `json:"asset_type"`
		VariantId   string `json:"variant_id"`
		IsFavorited bool   `json:"is_favorited"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.VariantId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "variant_id 不能为空"})
		return
	}

	project, err := service.ApplyProject(projectID, func(p *models.Project) error {
		return p.FavoriteAssetVariant(req.AssetType, assetID, req.VariantId, req.IsFavorited)
	})
	if err != nil {
		respondMutateError(c, err)
		return
	}
	respondProject(c, project)
}

// 发起素材视频生成 (让立绘动起来)
func CreateAssetVideo(c *gin.Context) {
	projectID := c.Param("project_id")
	assetID := c.Param("asset_id")
	var req struct {
		Prompt             string   `json:"prompt"`
		NegativePrompt     string   `json:"negative_prompt"`
		Model              string   `json:"model"`
		Duration           int      `json:"duration"`
		Resolution         string   `json:"resolution"`
		Seed               *int64   `json:"seed"`
		GenerateAudio      *bool    `json:"generate_audio"`
		PromptExtend       bool     `json:"prompt_extend"`
		GenerationMode     string   `json:"generation_mode"`
		ImageUrl           string   `json:"image_url"`
		ReferenceVideoUrls []string `json:"reference_video_urls"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := service.LoadProject(projectID)
	if err != nil {
		respondMutateError(c, err)
		return
	}

	var assetType, name, description string
	var locked bool
	imageURL := req.ImageUrl
	if ch := project.FindCharacter(assetID); ch != nil {
		assetType, name, description, locked = models.AssetTypeCharacter, ch.Name, ch.Description, ch.Locked
		if imageURL == "" {
			imageURL = ch.ReferenceURL()
		}
	} else if s := project.FindScene(assetID); s != nil {
		assetType, name, description, locked = models.AssetTypeScene, s.Name, s.Description, s.Locked
		if imageURL == "" {
			imageURL = s.ReferenceURL()
		}
	} else if pr := project.FindProp(assetID); pr != nil {
		assetType, name, description, locked = models.AssetTypeProp, pr.Name, pr.Description, pr.Locked
		if imageURL == "" {
			imageURL = pr.ReferenceURL()
		}
	} else {
		c.JSON(http.StatusNotFound, gin.H{"error": "素材未找到"})
		return
	}
	if locked {
		c.JSON(http.StatusBadRequest, gin.H{"error": "素材已锁定, 不能生成"})
		return
	}

	mode := req.GenerationMode
	if mode == "" {
		mode = models.GenerationModeI2V
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
		c.JSON(http.StatusBadRequest, gin.H{"error": "素材还没有可用的图片, 请先生成图片"})
		return
	}

	task := &models.VideoTask{
		ID:                 uuid.NewString(),
		ProjectId:          projectID,
		AssetId:            assetID,
		AssetType:          assetType,
		ImageUrl:           imageURL,
		Prompt:             req.Prompt,
		Status:             models.GenerationStatusPending,
		Duration:           req.Duration,
		Seed:               req.Seed,
		Resolution:         req.Resolution,
		PromptExtend:       req.PromptExtend,
		NegativePrompt:     req.NegativePrompt,
		Model:              req.Model,
		GenerationMode:     mode,
		ReferenceVideoUrls: req.ReferenceVideoUrls,
		CreatedAt:          time.Now().Unix(),
		UpdatedAt:          time.Now().Unix(),
	}
	if task.Prompt == "" {
		task.Prompt = service.DefaultAssetVideoPrompt(assetType, name, description)
	}
	if task.Duration != 5 && task.Duration != 10 {
		task.Duration = 5
	}
	if task.Resolution == "" {
		task.Resolution = "720P"
	}
	if task.Model == "" {
		task.Model = project.ModelSettings.I2VModel
	}
	if mode == models.GenerationModeR2V {
		task.ShotType = "multi"
		task.GenerateAudio = true
	} else {
		task.ShotType = "single"
	}
	if req.GenerateAudio != nil {
		task.GenerateAudio = *req.GenerateAudio
	}

	if err := models.CreateVideoTask(models.GormDB, task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建视频任务失败: " + err.Error()})
		return
	}
	service.GenerationTracker.Add(assetID, models.GenerationTypeVideo, 1)
	if err := service.DispatchVideoTask(task); err != nil {
		// 下发失败不算任务失败, 留在 pending 由轮询器补发
		log.Printf("视频任务下发失败(轮询器会补发): task=%s err=%v", task.ID, err)
	}
	service.KickVideoWatcher()

	if err := models.AttachVideoTasks(&project); err != nil {
		log.Printf("拼装视频任务失败: project=%s err=%v", projectID, err)
		project.VideoTasks = []models.VideoTask{}
	}
	c.JSON(http.StatusOK, gin.H{"project": project, "task": task})
}

// 查询素材上在跑的生成
func AssetGenerations(c *gin.Context) {
	assetID := c.Param("asset_id")
	active := service.GenerationTracker.ActiveTypesFor(assetID)
	if active == nil {
		active = []service.TypeBatch{}
	}
	c.JSON(http.StatusOK, gin.H{
		"asset_id": assetID,
		"active":   active,
	})
}
