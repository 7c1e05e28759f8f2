package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"comic-studio-server/config"
	"comic-studio-server/models"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"
)

// CancelWorkerJob 通知生成后端终止一个作业
func CancelWorkerJob(jobID string) error {
	if jobID == "" {
		return fmt.Errorf("empty job id")
	}
	url := config.AppConfig.Worker.Addr + "/v1/jobs/" + jobID
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("create delete request failed: %w", err)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("worker delete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var respData map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&respData)
		return fmt.Errorf("worker delete status: %d, body: %+v", resp.StatusCode, respData)
	}
	return nil
}

// poll 取消注册表 (素材ID:槽位 -> cancelFunc)
var pollCancelRegistry = struct {
	sync.RWMutex
	m map[string]context.CancelFunc
}{
	m: make(map[string]context.CancelFunc),
}

func pollKey(ownerID, kind string) string {
	return ownerID + ":" + kind
}

// RegisterPollCancel 开始轮询时登记 cancelFunc
func RegisterPollCancel(key string, cancel context.CancelFunc) {
	pollCancelRegistry.Lock()
	defer pollCancelRegistry.Unlock()
	pollCancelRegistry.m[key] = cancel
}

// UnregisterPollCancel 轮询结束时注销
func UnregisterPollCancel(key string) {
	pollCancelRegistry.Lock()
	defer pollCancelRegistry.Unlock()
	delete(pollCancelRegistry.m, key)
}

// CancelPollsForOwner 取消某个素材/分镜名下所有在途轮询, 返回取消的数量
// 素材或分镜被删除时调用, 让还在轮询的生成尽快退出
func CancelPollsForOwner(ownerID string) int {
	pollCancelRegistry.Lock()
	defer pollCancelRegistry.Unlock()
	n := 0
	prefix := ownerID + ":"
	for key, cancel := range pollCancelRegistry.m {
		if strings.HasPrefix(key, prefix) {
			cancel()
			delete(pollCancelRegistry.m, key)
			n++
		}
	}
	return n
}

// Processor 处理队列任务
type Processor struct {
	DB             *gorm.DB
	WorkerEndpoint string
}

func NewProcessor(db *gorm.DB) *Processor {
	// 从配置中获取 Worker 地址
	return &Processor{
		DB:             db,
		WorkerEndpoint: config.AppConfig.Worker.Addr,
	}
}

// StartProcessor 启动任务消费者
func (p *Processor) StartProcessor(concurrency int) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     config.AppConfig.Redis.Addr,
			Password: config.AppConfig.Redis.Password,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeAssetGenerate, p.HandleAssetGenerate)
	mux.HandleFunc(TypeFrameRender, p.HandleFrameRender)
	mux.HandleFunc(TypeScriptAnalyze, p.HandleScriptAnalyze)
	mux.HandleFunc(TypeFrameAudio, p.HandleFrameAudio)
	mux.HandleFunc(TypeProjectMerge, p.HandleProjectMerge)

	log.Printf("Starting Task Processor with concurrency %d...", concurrency)
	go func() {
		if err := srv.Run(mux); err != nil {
			log.Fatalf("could not run server: %v", err)
		}
	}()
}

// HandleAssetGenerate 素材生图: 调用生成后端, 产物转存 MinIO 后追加成变体
// generation_type 为 all 时依次跑全身 -> 三视图 -> 头像, 前一步产物是后一步的参考
func (p *Processor) HandleAssetGenerate(ctx context.Context, t *asynq.Task) error {
	var payload AssetGeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	// 落定时注销登记, 成败都要摘, 否则面板会一直显示生成中
	defer GenerationTracker.Remove(payload.AssetID, payload.GenerationType)

	log.Printf("Processing Asset Generation: project=%s asset=%s type=%s batch=%d",
		payload.ProjectID, payload.AssetID, payload.GenerationType, payload.BatchSize)

	slots := []string{payload.GenerationType}
	if payload.GenerationType == models.GenerationTypeAll {
		slots = []string{models.GenerationTypeFullBody, models.GenerationTypeThreeView, models.GenerationTypeHeadshot}
	}
	for _, generationType := range slots {
		if err := p.generateAssetSlot(ctx, payload, generationType); err != nil {
			log.Printf("[Error] 素材生成失败: asset=%s slot=%s err=%v", payload.AssetID, generationType, err)
			p.setAssetStatus(payload.ProjectID, payload.AssetType, payload.AssetID, models.GenerationStatusFailed)
			return nil // 业务失败，不再重试
		}
	}

	p.setAssetStatus(payload.ProjectID, payload.AssetType, payload.AssetID, models.GenerationStatusCompleted)
	log.Printf("素材生成完成: asset=%s type=%s", payload.AssetID, payload.GenerationType)
	return nil
}

// generateAssetSlot 生成单个槽位并把结果写回项目文档
// 每次重新读一遍项目, all 模式下后面的槽位才能看到前面刚生成的主像
func (p *Processor) generateAssetSlot(ctx context.Context, payload AssetGeneratePayload, generationType string) error {
	project, err := models.GetProjectByID(payload.ProjectID)
	if err != nil {
		return fmt.Errorf("project not found: %w", err)
	}

	styleSuffix := ""
	if payload.ApplyStyle {
		styleSuffix = AssetStyleSuffix(&project)
	}
	negative := AssetNegativePrompt(&project, payload.NegativePrompt)

	var basePrompt string
	var refURLs []string
	var size string

	switch payload.AssetType {
	case models.AssetTypeCharacter:
		c := project.FindCharacter(payload.AssetID)
		if c == nil {
			return models.ErrAssetNotFound
		}
		if c.Locked {
			return models.ErrAssetLocked
		}
		basePrompt = payload.Prompt
		if basePrompt == "" {
			basePrompt = DefaultCharacterPrompt(generationType, c.Name, c.Description)
		}
		basePrompt = ApplyStyleSuffix(basePrompt, styleSuffix)
		if generationType == models.GenerationTypeThreeView || generationType == models.GenerationTypeHeadshot {
			base := characterBaseImage(c)
			if base == "" {
				return errors.New("角色还没有全身主像, 请先生成全身像")
			}
			refURLs = []string{WorkerMediaURL(base)}
		}
		if generationType == models.GenerationTypeThreeView {
			if negative == "" {
				negative = strings.TrimPrefix(threeViewNegativeSuffix, ", ")
			} else {
				negative += threeViewNegativeSuffix
			}
		}
		size = models.AspectRatioSize(project.ModelSettings.AspectRatioFor(models.AssetTypeCharacter), "576*1024")

	case models.AssetTypeScene:
		s := project.FindScene(payload.AssetID)
		if s == nil {
			return models.ErrAssetNotFound
		}
		if s.Locked {
			return models.ErrAssetLocked
		}
		basePrompt = payload.Prompt
		if basePrompt == "" {
			basePrompt = DefaultScenePrompt(s.Name, s.Description, styleSuffix)
		} else {
			basePrompt = ApplyStyleSuffix(basePrompt, styleSuffix)
		}
		size = models.AspectRatioSize(project.ModelSettings.AspectRatioFor(models.AssetTypeScene), "1024*576")

	case models.AssetTypeProp:
		pr := project.FindProp(payload.AssetID)
		if pr == nil {
			return models.ErrAssetNotFound
		}
		if pr.Locked {
			return models.ErrAssetLocked
		}
		basePrompt = payload.Prompt
		if basePrompt == "" {
			basePrompt = DefaultPropPrompt(pr.Name, pr.Description, styleSuffix)
		} else {
			basePrompt = ApplyStyleSuffix(basePrompt, styleSuffix)
		}
		size = models.AspectRatioSize(project.ModelSettings.AspectRatioFor(models.AssetTypeProp), "1024*1024")

	default:
		return fmt.Errorf("unknown asset type: %s", payload.AssetType)
	}

	model := payload.ModelName
	if model == "" {
		if len(refURLs) > 0 {
			model = project.ModelSettings.I2IModel
		} else {
			model = project.ModelSettings.T2IModel
		}
	}
	batch := payload.BatchSize
	if batch <= 0 {
		batch = 1
	}

	params := map[string]interface{}{
		"project_id":      payload.ProjectID,
		"asset_id":        payload.AssetID,
		"prompt":          basePrompt,
		"negative_prompt": negative,
		"size":            size,
		"batch_size":      batch,
		"model":           model,
	}
	if len(refURLs) > 0 {
		params["reference_image_urls"] = refURLs
	}

	jobID, err := dispatchWorkerJob(p.WorkerEndpoint, "image_generate", params)
	if err != nil {
		return fmt.Errorf("worker 请求失败: %w", err)
	}
	log.Printf("作业已提交: asset=%s slot=%s job=%s, 开始轮询结果...", payload.AssetID, generationType, jobID)

	pollCtx, cancel := context.WithCancel(ctx)
	key := pollKey(payload.AssetID, generationType)
	RegisterPollCancel(key, cancel)
	defer UnregisterPollCancel(key)

	result, err := p.pollWorkerJob(pollCtx, jobID)
	if err != nil {
		return err
	}
	urls := result.URLs()
	if len(urls) == 0 {
		return errors.New("生成结果里没有图片地址")
	}

	now := time.Now().Unix()
	variants := make([]models.Variant, 0, len(urls))
	for _, u := range urls {
		objectName := fmt.Sprintf("assets/%s/%s/%s.png", payload.AssetID, generationType, uuid.NewString())
		objectKey, err := DownloadToMinIO(u, objectName)
		if err != nil {
			return fmt.Errorf("转存生成图片失败: %w", err)
		}
		variants = append(variants, models.Variant{
			ID:         uuid.NewString(),
			Url:        objectKey,
			PromptUsed: basePrompt,
			CreatedAt:  now,
		})
	}

	_, err = ApplyProject(payload.ProjectID, func(fresh *models.Project) error {
		if err := fresh.AppendAssetVariants(payload.AssetType, payload.AssetID, generationType, variants, now); err != nil {
			return err
		}
		if payload.AssetType == models.AssetTypeCharacter {
			if c := fresh.FindCharacter(payload.AssetID); c != nil {
				switch generationType {
				case models.GenerationTypeFullBody:
					c.FullBodyPrompt = basePrompt
				case models.GenerationTypeThreeView:
					c.ThreeViewPrompt = basePrompt
				case models.GenerationTypeHeadshot:
					c.HeadshotPrompt = basePrompt
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("写回变体失败: %w", err)
	}
	log.Printf("槽位生成完成: asset=%s slot=%s variants=%d", payload.AssetID, generationType, len(variants))
	return nil
}

// characterBaseImage 三视图/头像生成以全身主像为参考, 优先选中变体, 旧字段兜底
func characterBaseImage(c *models.Character) string {
	if url := c.FullBodyAsset.ReferenceURL(); url != "" {
		return url
	}
	return c.FullBodyImageUrl
}

// setAssetStatus 生成落定后刷新素材状态
func (p *Processor) setAssetStatus(projectID, assetType, assetID, status string) {
	_, err := ApplyProject(projectID, func(fresh *models.Project) error {
		switch assetType {
		case models.AssetTypeCharacter:
			if c := fresh.FindCharacter(assetID); c != nil {
				c.Status = status
			}
		case models.AssetTypeScene:
			if s := fresh.FindScene(assetID); s != nil {
				s.Status = status
			}
		case models.AssetTypeProp:
			if pr := fresh.FindProp(assetID); pr != nil {
				pr.Status = status
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("更新素材状态失败: asset=%s err=%v", assetID, err)
	}
}

// setFrameStatus 渲染落定后刷新分镜状态
func (p *Processor) setFrameStatus(projectID, frameID, status string) {
	_, err := ApplyProject(projectID, func(fresh *models.Project) error {
		if f := fresh.FindFrame(frameID); f != nil {
			f.Status = status
		}
		return nil
	})
	if err != nil {
		log.Printf("更新分镜状态失败: frame=%s err=%v", frameID, err)
	}
}

// HandleFrameRender 分镜渲染: 参考图在下发时已经定好, 这里负责生成/转存/入列
func (p *Processor) HandleFrameRender(ctx context.Context, t *asynq.Task) error {
	var payload FrameRenderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	defer GenerationTracker.Remove(payload.FrameID, models.GenerationTypeRender)

	log.Printf("Processing Frame Render: project=%s frame=%s refs=%d",
		payload.ProjectID, payload.FrameID, len(payload.ReferenceImageUrls))

	project, err := models.GetProjectByID(payload.ProjectID)
	if err != nil {
		return fmt.Errorf("project not found: %w", err)
	}
	if project.FindFrame(payload.FrameID) == nil {
		// 排队期间分镜被删了, 直接放弃
		log.Printf("分镜已不存在, 放弃渲染: frame=%s", payload.FrameID)
		return nil
	}

	refURLs := make([]string, 0, len(payload.ReferenceImageUrls))
	for _, u := range payload.ReferenceImageUrls {
		refURLs = append(refURLs, WorkerMediaURL(u))
	}

	model := project.ModelSettings.T2IModel
	if len(refURLs) > 0 {
		model = project.ModelSettings.I2IModel
	}
	batch := payload.BatchSize
	if batch <= 0 {
		batch = 1
	}

	params := map[string]interface{}{
		"project_id":      payload.ProjectID,
		"frame_id":        payload.FrameID,
		"prompt":          payload.Prompt,
		"negative_prompt": AssetNegativePrompt(&project, ""),
		"size":            models.AspectRatioSize(project.ModelSettings.AspectRatioFor(models.AssetTypeFrame), "1024*576"),
		"batch_size":      batch,
		"model":           model,
	}
	if len(refURLs) > 0 {
		params["reference_image_urls"] = refURLs
	}

	err = func() error {
		jobID, err := dispatchWorkerJob(p.WorkerEndpoint, "image_generate", params)
		if err != nil {
			return fmt.Errorf("worker 请求失败: %w", err)
		}
		log.Printf("作业已提交: frame=%s job=%s, 开始轮询结果...", payload.FrameID, jobID)

		pollCtx, cancel := context.WithCancel(ctx)
		key := pollKey(payload.FrameID, models.GenerationTypeRender)
		RegisterPollCancel(key, cancel)
		defer UnregisterPollCancel(key)

		result, err := p.pollWorkerJob(pollCtx, jobID)
		if err != nil {
			return err
		}
		urls := result.URLs()
		if len(urls) == 0 {
			return errors.New("生成结果里没有图片地址")
		}

		now := time.Now().Unix()
		variants := make([]models.Variant, 0, len(urls))
		for _, u := range urls {
			objectName := fmt.Sprintf("frames/%s/%s.png", payload.FrameID, uuid.NewString())
			objectKey, err := DownloadToMinIO(u, objectName)
			if err != nil {
				return fmt.Errorf("转存渲染图失败: %w", err)
			}
			variants = append(variants, models.Variant{
				ID:         uuid.NewString(),
				Url:        objectKey,
				PromptUsed: payload.Prompt,
				CreatedAt:  now,
			})
		}

		_, err = ApplyProject(payload.ProjectID, func(fresh *models.Project) error {
			f := fresh.FindFrame(payload.FrameID)
			if f == nil {
				return models.ErrFrameNotFound
			}
			f.ImagePrompt = payload.Prompt
			f.AppendRenders(variants, now)
			f.Status = models.GenerationStatusCompleted
			return nil
		})
		if err != nil {
			return fmt.Errorf("写回渲染结果失败: %w", err)
		}
		return nil
	}()
	if err != nil {
		log.Printf("[Error] 分镜渲染失败: frame=%s err=%v", payload.FrameID, err)
		p.setFrameStatus(payload.ProjectID, payload.FrameID, models.GenerationStatusFailed)
		return nil // 业务失败，不再重试
	}

	log.Printf("分镜渲染完成: frame=%s", payload.FrameID)
	return nil
}

// HandleScriptAnalyze 剧本解析: 生成后端产出结构化 JSON, 解析后整体替换项目的素材和分镜
func (p *Processor) HandleScriptAnalyze(ctx context.Context, t *asynq.Task) error {
	var payload AnalyzePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	log.Printf("Processing Script Analyze: project=%s", payload.ProjectID)

	err := func() error {
		project, err := models.GetProjectByID(payload.ProjectID)
		if err != nil {
			return fmt.Errorf("project not found: %w", err)
		}
		if project.OriginalText == "" {
			return errors.New("项目没有剧本原文")
		}

		params := map[string]interface{}{
			"project_id":  payload.ProjectID,
			"script_text": project.OriginalText,
		}
		jobID, err := dispatchWorkerJob(p.WorkerEndpoint, "script_analyze", params)
		if err != nil {
			return fmt.Errorf("worker 请求失败: %w", err)
		}
		log.Printf("作业已提交: project=%s job=%s, 开始轮询结果...", payload.ProjectID, jobID)

		pollCtx, cancel := context.WithCancel(ctx)
		key := pollKey(payload.ProjectID, "analyze")
		RegisterPollCancel(key, cancel)
		defer UnregisterPollCancel(key)

		result, err := p.pollWorkerJob(pollCtx, jobID)
		if err != nil {
			return err
		}
		return p.applyScriptDocument(payload.ProjectID, result)
	}()
	if err != nil {
		log.Printf("[Error] 剧本解析失败: project=%s err=%v", payload.ProjectID, err)
		_, applyErr := ApplyProject(payload.ProjectID, func(fresh *models.Project) error {
			fresh.Status = models.ProjectStatusFailed
			return nil
		})
		if applyErr != nil {
			log.Printf("更新项目状态失败: %v", applyErr)
		}
		return nil // 业务失败，不再重试
	}

	log.Printf("剧本解析完成: project=%s", payload.ProjectID)
	return nil
}

// applyScriptDocument 下载解析产物并破坏性替换项目的素材与分镜
func (p *Processor) applyScriptDocument(projectID string, result *workerJobResult) error {
	if result.ResourceUrl == "" {
		return fmt.Errorf("analyze result missing resource_url")
	}

	log.Printf("下载剧本解析 JSON: %s", result.ResourceUrl)
	resp, err := mediaClient.Get(result.ResourceUrl)
	if err != nil {
		return fmt.Errorf("下载解析 JSON 失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("下载解析 JSON 状态码: %d", resp.StatusCode)
	}

	var doc struct {
		Characters []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Age         string `json:"age"`
			Gender      string `json:"gender"`
			Clothing    string `json:"clothing"`
		} `json:"characters"`
		Scenes []struct {
			Name         string `json:"name"`
			Description  string `json:"description"`
			TimeOfDay    string `json:"time_of_day"`
			LightingMood string `json:"lighting_mood"`
		} `json:"scenes"`
		Props []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"props"`
		Frames []struct {
			SceneName         string   `json:"scene_name"`
			CharacterNames    []string `json:"character_names"`
			PropNames         []string `json:"prop_names"`
			ActionDescription string   `json:"action_description"`
			FacialExpression  string   `json:"facial_expression"`
			Dialogue          string   `json:"dialogue"`
			Speaker           string   `json:"speaker"`
			CameraAngle       string   `json:"camera_angle"`
			CameraMovement    string   `json:"camera_movement"`
			Atmosphere        string   `json:"atmosphere"`
		} `json:"frames"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("解析剧本 JSON 失败: %v", err)
	}
	if len(doc.Characters) == 0 && len(doc.Frames) == 0 {
		return fmt.Errorf("剧本解析结果为空")
	}

	now := time.Now().Unix()

	characters := models.CharacterList{}
	characterIDs := make(map[string]string, len(doc.Characters))
	for _, c := range doc.Characters {
		id := uuid.NewString()
		characterIDs[c.Name] = id
		characters = append(characters, models.Character{
			ID:          id,
			Name:        c.Name,
			Description: c.Description,
			Age:         c.Age,
			Gender:      c.Gender,
			Clothing:    c.Clothing,
			Status:      models.GenerationStatusPending,
		})
	}

	scenes := models.SceneList{}
	sceneIDs := make(map[string]string, len(doc.Scenes))
	for _, s := range doc.Scenes {
		id := uuid.NewString()
		sceneIDs[s.Name] = id
		scenes = append(scenes, models.Scene{
			ID:           id,
			Name:         s.Name,
			Description:  s.Description,
			TimeOfDay:    s.TimeOfDay,
			LightingMood: s.LightingMood,
			Status:       models.GenerationStatusPending,
		})
	}

	props := models.PropList{}
	propIDs := make(map[string]string, len(doc.Props))
	for _, pr := range doc.Props {
		id := uuid.NewString()
		propIDs[pr.Name] = id
		props = append(props, models.Prop{
			ID:          id,
			Name:        pr.Name,
			Description: pr.Description,
			Status:      models.GenerationStatusPending,
		})
	}

	frames := models.FrameList{}
	for _, fr := range doc.Frames {
		frames = append(frames, models.Frame{
			ID:                uuid.NewString(),
			SceneId:           sceneIDs[fr.SceneName],
			CharacterIds:      lookupIDs(fr.CharacterNames, characterIDs),
			PropIds:           lookupIDs(fr.PropNames, propIDs),
			ActionDescription: fr.ActionDescription,
			FacialExpression:  fr.FacialExpression,
			Dialogue:          fr.Dialogue,
			Speaker:           fr.Speaker,
			CameraAngle:       fr.CameraAngle,
			CameraMovement:    fr.CameraMovement,
			Atmosphere:        fr.Atmosphere,
			Status:            models.GenerationStatusPending,
			UpdatedAt:         now,
		})
	}

	// 解析是破坏性替换, 原有素材和分镜全部丢弃
	_, err = ApplyProject(projectID, func(fresh *models.Project) error {
		fresh.Characters = characters
		fresh.Scenes = scenes
		fresh.Props = props
		fresh.Frames = frames
		fresh.Status = models.ProjectStatusReady
		return nil
	})
	if err != nil {
		return fmt.Errorf("写回解析结果失败: %w", err)
	}
	log.Printf("Successfully analyzed script for project %s: %d characters, %d scenes, %d props, %d frames",
		projectID, len(characters), len(scenes), len(props), len(frames))
	return nil
}

// lookupIDs 解析结果按名字引用素材, 转成 ID 列表, 对不上的名字丢弃
func lookupIDs(names []string, ids map[string]string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if id, ok := ids[n]; ok {
			out = append(out, id)
		}
	}
	return out
}

// HandleFrameAudio 台词配音: 生成后端做 TTS, 音频转存 MinIO 后挂到分镜上
func (p *Processor) HandleFrameAudio(ctx context.Context, t *asynq.Task) error {
	var payload FrameAudioPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	defer GenerationTracker.Remove(payload.FrameID, "audio")

	log.Printf("Processing Frame Audio: project=%s frame=%s", payload.ProjectID, payload.FrameID)

	err := func() error {
		params := map[string]interface{}{
			"project_id": payload.ProjectID,
			"frame_id":   payload.FrameID,
			"text":       payload.Text,
			"voice_id":   payload.VoiceId,
		}
		jobID, err := dispatchWorkerJob(p.WorkerEndpoint, "tts", params)
		if err != nil {
			return fmt.Errorf("worker 请求失败: %w", err)
		}

		pollCtx, cancel := context.WithCancel(ctx)
		key := pollKey(payload.FrameID, "audio")
		RegisterPollCancel(key, cancel)
		defer UnregisterPollCancel(key)

		result, err := p.pollWorkerJob(pollCtx, jobID)
		if err != nil {
			return err
		}
		if result.ResourceUrl == "" {
			return errors.New("生成结果里没有音频地址")
		}

		objectName := fmt.Sprintf("audio/%s/%s.mp3", payload.FrameID, uuid.NewString())
		objectKey, err := DownloadToMinIO(result.ResourceUrl, objectName)
		if err != nil {
			return fmt.Errorf("转存音频失败: %w", err)
		}

		now := time.Now().Unix()
		_, err = ApplyProject(payload.ProjectID, func(fresh *models.Project) error {
			f := fresh.FindFrame(payload.FrameID)
			if f == nil {
				return models.ErrFrameNotFound
			}
			f.AudioUrl = objectKey
			f.UpdatedAt = now
			return nil
		})
		return err
	}()
	if err != nil {
		log.Printf("[Error] 配音失败: frame=%s err=%v", payload.FrameID, err)
		return nil // 业务失败，不再重试
	}

	log.Printf("配音完成: frame=%s", payload.FrameID)
	return nil
}

// HandleProjectMerge 成片合成: 按分镜顺序收集视频交给生成后端拼接
func (p *Processor) HandleProjectMerge(ctx context.Context, t *asynq.Task) error {
	var payload MergePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	defer GenerationTracker.Remove(payload.ProjectID, "merge")

	log.Printf("Processing Project Merge: project=%s", payload.ProjectID)

	err := func() error {
		project, err := models.GetProjectByID(payload.ProjectID)
		if err != nil {
			return fmt.Errorf("project not found: %w", err)
		}
		tasks, err := models.ListVideoTasks(p.DB, payload.ProjectID, models.GenerationStatusCompleted)
		if err != nil {
			return fmt.Errorf("查询视频任务失败: %w", err)
		}

		urls := collectMergeVideoURLs(&project, tasks)
		if len(urls) == 0 {
			return errors.New("没有可用的分镜视频, 无法合成")
		}

		params := map[string]interface{}{
			"project_id": payload.ProjectID,
			"video_urls": urls,
		}
		jobID, err := dispatchWorkerJob(p.WorkerEndpoint, "video_merge", params)
		if err != nil {
			return fmt.Errorf("worker 请求失败: %w", err)
		}
		log.Printf("作业已提交: project=%s job=%s clips=%d, 开始轮询结果...", payload.ProjectID, jobID, len(urls))

		pollCtx, cancel := context.WithCancel(ctx)
		key := pollKey(payload.ProjectID, "merge")
		RegisterPollCancel(key, cancel)
		defer UnregisterPollCancel(key)

		result, err := p.pollWorkerJob(pollCtx, jobID)
		if err != nil {
			return err
		}
		if result.ResourceUrl == "" {
			return errors.New("生成结果里没有视频地址")
		}

		objectName := fmt.Sprintf("projects/%s/merged_%s.mp4", payload.ProjectID, uuid.NewString())
		objectKey, err := DownloadToMinIO(result.ResourceUrl, objectName)
		if err != nil {
			return fmt.Errorf("转存成片失败: %w", err)
		}

		_, err = ApplyProject(payload.ProjectID, func(fresh *models.Project) error {
			fresh.MergedVideoUrl = objectKey
			return nil
		})
		return err
	}()
	if err != nil {
		log.Printf("[Error] 成片合成失败: project=%s err=%v", payload.ProjectID, err)
		return nil // 业务失败，不再重试
	}

	log.Printf("成片合成完成: project=%s", payload.ProjectID)
	return nil
}

// collectMergeVideoURLs 按分镜顺序挑选进片的视频
// 优先手动选中的那条, 其次该分镜最新完成的任务, 再不行用分镜上存的旧地址, 都没有就跳过
func collectMergeVideoURLs(project *models.Project, tasks []models.VideoTask) []string {
	byID := make(map[string]*models.VideoTask, len(tasks))
	newestByFrame := make(map[string]*models.VideoTask, len(tasks))
	for i := range tasks {
		task := &tasks[i]
		byID[task.ID] = task
		if task.FrameId != "" {
			// 列表按 created_at 倒序, 第一条即最新
			if _, ok := newestByFrame[task.FrameId]; !ok {
				newestByFrame[task.FrameId] = task
			}
		}
	}

	urls := make([]string, 0, len(project.Frames))
	for i := range project.Frames {
		f := &project.Frames[i]
		videoURL := ""
		if f.SelectedVideoId != "" {
			if task, ok := byID[f.SelectedVideoId]; ok && task.VideoUrl != "" {
				videoURL = task.VideoUrl
			}
		}
		if videoURL == "" {
			if task, ok := newestByFrame[f.ID]; ok {
				videoURL = task.VideoUrl
			}
		}
		if videoURL == "" {
			videoURL = f.VideoUrl
		}
		if videoURL == "" {
			continue
		}
		urls = append(urls, WorkerMediaURL(videoURL))
	}
	return urls
}

// ============================================================================
// 通信层：请求分发与轮询
// ============================================================================

var workerClient = &http.Client{Timeout: 30 * time.Second}

// workerJobStatus GET /v1/jobs/{id} 返回的作业状态
type workerJobStatus struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Error  string          `json:"error"`
	Result workerJobResult `json:"result"`
}

// workerJobResult 作业产物, 批量生图时走 resource_urls
type workerJobResult struct {
	ResourceUrl  string   `json:"resource_url"`
	ResourceUrls []string `json:"resource_urls"`
	AudioUrl     string   `json:"audio_url"`
	Duration     float64  `json:"duration"`
}

// URLs 单图/多图字段统一成列表
func (r *workerJobResult) URLs() []string {
	if len(r.ResourceUrls) > 0 {
		return r.ResourceUrls
	}
	if r.ResourceUrl != "" {
		return []string{r.ResourceUrl}
	}
	return nil
}

// 不同版本的生成后端对完成态的叫法不一致, 都认
func workerJobFinished(status string) bool {
	switch status {
	case "finished", "success", "completed", "succeeded":
		return true
	}
	return false
}

func workerJobFailed(status string) bool {
	return status == "failed" || status == "error"
}

// dispatchWorkerJob 发送 POST 请求，返回 job_id
func dispatchWorkerJob(endpoint, jobType string, params map[string]interface{}) (string, error) {
	reqBody := map[string]interface{}{
		"id":         uuid.NewString(),
		"type":       jobType,
		"parameters": params,
		"created_at": time.Now().Unix(),
	}

	fullURL := endpoint + "/v1/generate"
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request failed: %v", err)
	}
	log.Printf("POST %s (type=%s)", fullURL, jobType)

	resp, err := http.Post(fullURL, "application/json", bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("worker status code: %d", resp.StatusCode)
	}

	var respData map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("decode response failed: %v", err)
	}

	// 优先返回根节点的 id
	if id, ok := respData["id"].(string); ok && id != "" {
		return id, nil
	}
	if jobID, ok := respData["job_id"].(string); ok && jobID != "" {
		return jobID, nil
	}
	return "", fmt.Errorf("response missing 'id'")
}

// queryWorkerJob 查询一次作业状态
func queryWorkerJob(endpoint, jobID string) (*workerJobStatus, error) {
	jobURL := fmt.Sprintf("%s/v1/jobs/%s", endpoint, jobID)
	resp, err := workerClient.Get(jobURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %v", err)
	}
	var job workerJobStatus
	if err := json.Unmarshal(bodyBytes, &job); err != nil {
		bodyStr := string(bodyBytes)
		if len(bodyStr) > 2000 {
			bodyStr = bodyStr[:2000] + "..."
		}
		return nil, fmt.Errorf("解析作业状态失败: %v, body: %s", err, bodyStr)
	}
	return &job, nil
}

// pollWorkerJob 轮询作业直到完成，返回作业产物
func (p *Processor) pollWorkerJob(ctx context.Context, jobID string) (*workerJobResult, error) {
	timeoutDuration := 30 * time.Minute
	timeout := time.After(timeoutDuration)
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			return nil, fmt.Errorf("polling timeout")
		case <-ctx.Done():
			return nil, fmt.Errorf("polling canceled: %v", ctx.Err())
		case <-ticker.C:
			job, err := queryWorkerJob(p.WorkerEndpoint, jobID)
			if err != nil {
				log.Printf("轮询网络错误(重试中): %v", err)
				continue
			}
			if workerJobFinished(job.Status) {
				return &job.Result, nil
			}
			if workerJobFailed(job.Status) {
				return nil, fmt.Errorf("worker reported failure: %s", job.Error)
			}
			// 其他状态继续轮询
		}
	}
}
