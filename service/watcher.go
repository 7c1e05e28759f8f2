package service

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"comic-studio-server/config"
	"comic-studio-server/models"

	"gorm.io/gorm"
)

// 单个视频任务允许的最长生成时间, 到点直接判失败
const videoTaskDeadline = 30 * time.Minute

// VideoTaskWatcher 视频任务结果轮询器
// 有未完成任务时按固定间隔查询生成后端, 任务清零后自动停下, 新任务入场时 Kick 唤醒
type VideoTaskWatcher struct {
	db       *gorm.DB
	endpoint string
	interval time.Duration

	mu      sync.Mutex
	running bool
}

var videoWatcher *VideoTaskWatcher

// InitVideoWatcher 进程启动时构建轮询器并接管库里残留的进行中任务
func InitVideoWatcher(db *gorm.DB) {
	videoWatcher = &VideoTaskWatcher{
		db:       db,
		endpoint: config.AppConfig.Worker.Addr,
		interval: 3 * time.Second,
	}
	videoWatcher.Kick()
}

// KickVideoWatcher 新任务创建后唤醒轮询器
func KickVideoWatcher() {
	if videoWatcher != nil {
		videoWatcher.Kick()
	}
}

// Kick 轮询循环没在跑时启动它, 已经在跑则什么都不做
func (w *VideoTaskWatcher) Kick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	go w.loop()
}

func (w *VideoTaskWatcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	log.Println("视频任务轮询启动")
	for range ticker.C {
		tasks, err := models.ListActiveVideoTasks(w.db)
		if err != nil {
			log.Printf("查询进行中视频任务失败: %v", err)
			continue
		}
		if len(tasks) == 0 {
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			log.Println("没有进行中的视频任务, 轮询暂停")
			return
		}
		for i := range tasks {
			w.step(&tasks[i])
		}
	}
}

// step 推进单个任务: 先查超时, 没作业号的补发, 其余按后端状态落定
func (w *VideoTaskWatcher) step(task *models.VideoTask) {
	if time.Now().Unix()-task.CreatedAt > int64(videoTaskDeadline/time.Second) {
		w.settleFailed(task, "生成超时 (超过 30 分钟)")
		return
	}
	if task.WorkerJobId == "" {
		// 创建时下发失败或进程重启留下的悬空任务, 在这里补发
		if err := DispatchVideoTask(task); err != nil {
			log.Printf("补发视频任务失败: task=%s err=%v", task.ID, err)
		}
		return
	}

	job, err := queryWorkerJob(w.endpoint, task.WorkerJobId)
	if err != nil {
		log.Printf("查询视频作业失败(下轮重试): task=%s err=%v", task.ID, err)
		return
	}
	switch {
	case workerJobFinished(job.Status):
		w.settleCompleted(task, &job.Result)
	case workerJobFailed(job.Status):
		w.settleFailed(task, job.Error)
	default:
		if task.Status == models.GenerationStatusPending {
			if err := task.UpdateStatus(w.db, models.GenerationStatusProcessing, "", ""); err != nil {
				log.Printf("推进任务状态失败: task=%s err=%v", task.ID, err)
			}
		}
	}
}

// settleCompleted 视频转存 MinIO, 任务置完成, 再把结果同步回分镜
func (w *VideoTaskWatcher) settleCompleted(task *models.VideoTask, result *workerJobResult) {
	if result.ResourceUrl == "" {
		w.settleFailed(task, "作业完成但没有视频地址")
		return
	}

	objectName := fmt.Sprintf("videos/%s/%s.mp4", task.ProjectId, task.ID)
	videoKey, err := DownloadToMinIO(result.ResourceUrl, objectName)
	if err != nil {
		// 转存失败不落定, 下一轮重试
		log.Printf("转存视频失败(下轮重试): task=%s err=%v", task.ID, err)
		return
	}

	audioKey := ""
	if result.AudioUrl != "" {
		key, err := DownloadToMinIO(result.AudioUrl, fmt.Sprintf("videos/%s/%s.mp3", task.ProjectId, task.ID))
		if err != nil {
			log.Printf("转存配音失败(忽略): task=%s err=%v", task.ID, err)
		} else {
			audioKey = key
		}
	}

	if err := task.UpdateStatus(w.db, models.GenerationStatusCompleted, videoKey, ""); err != nil {
		log.Printf("标记视频任务完成失败: task=%s err=%v", task.ID, err)
		return
	}
	if audioKey != "" {
		if err := w.db.Model(&models.VideoTask{}).Where("id = ?", task.ID).Update("audio_url", audioKey).Error; err != nil {
			log.Printf("写入配音地址失败: task=%s err=%v", task.ID, err)
		}
	}

	w.syncFrameVideo(task)
	GenerationTracker.Remove(taskOwnerID(task), models.GenerationTypeVideo)
	log.Printf("视频任务完成: task=%s video=%s", task.ID, videoKey)
}

func (w *VideoTaskWatcher) settleFailed(task *models.VideoTask, errMsg string) {
	if errMsg == "" {
		errMsg = "生成失败"
	}
	if err := task.UpdateStatus(w.db, models.GenerationStatusFailed, "", errMsg); err != nil {
		log.Printf("标记视频任务失败出错: task=%s err=%v", task.ID, err)
		return
	}
	GenerationTracker.Remove(taskOwnerID(task), models.GenerationTypeVideo)
	log.Printf("视频任务失败: task=%s err=%s", task.ID, errMsg)
}

// syncFrameVideo 分镜还没手动选过视频时, 新完成的这条作为默认展示
// 已经选过的不动, 用户的选择优先
func (w *VideoTaskWatcher) syncFrameVideo(task *models.VideoTask) {
	if task.FrameId == "" {
		return
	}
	_, err := ApplyProject(task.ProjectId, func(fresh *models.Project) error {
		f := fresh.FindFrame(task.FrameId)
		if f == nil {
			return nil
		}
		if f.SelectedVideoId == "" {
			f.VideoUrl = task.VideoUrl
		}
		return nil
	})
	if err != nil {
		log.Printf("同步分镜视频失败: frame=%s err=%v", task.FrameId, err)
	}
}

// taskOwnerID 任务归属的分镜或素材, 登记表按它记
func taskOwnerID(task *models.VideoTask) string {
	if task.FrameId != "" {
		return task.FrameId
	}
	return task.AssetId
}

// videoResolutionSize 分辨率档位换算成像素尺寸, 认不出的档位给 720P
func videoResolutionSize(resolution string) string {
	switch strings.ToUpper(resolution) {
	case "1080P":
		return "1920*1080"
	case "480P":
		return "832*480"
	}
	return "1280*720"
}

// DispatchVideoTask 把任务提交给生成后端并记下作业号, 状态推进到 processing
// 创建接口同步调用; 失败留在 pending, 由轮询器下一轮补发
func DispatchVideoTask(task *models.VideoTask) error {
	params := map[string]interface{}{
		"project_id":      task.ProjectId,
		"task_id":         task.ID,
		"prompt":          task.Prompt,
		"negative_prompt": task.NegativePrompt,
		"model":           task.Model,
		"size":            videoResolutionSize(task.Resolution),
		"duration":        task.Duration,
		"generate_audio":  task.GenerateAudio,
		"prompt_extend":   task.PromptExtend,
		"shot_type":       task.ShotType,
		"generation_mode": task.GenerationMode,
	}
	if task.ImageUrl != "" {
		params["image_url"] = WorkerMediaURL(task.ImageUrl)
	}
	if len(task.ReferenceVideoUrls) > 0 {
		refs := make([]string, 0, len(task.ReferenceVideoUrls))
		for _, u := range task.ReferenceVideoUrls {
			refs = append(refs, WorkerMediaURL(u))
		}
		params["reference_video_urls"] = refs
	}
	if task.Seed != nil {
		params["seed"] = *task.Seed
	}

	jobID, err := dispatchWorkerJob(config.AppConfig.Worker.Addr, "video_generate", params)
	if err != nil {
		return err
	}

	res := models.GormDB.Model(&models.VideoTask{}).
		Where("id = ? AND status = ?", task.ID, models.GenerationStatusPending).
		Updates(map[string]interface{}{
			"worker_job_id": jobID,
			"status":        models.GenerationStatusProcessing,
			"updated_at":    time.Now().Unix(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		task.WorkerJobId = jobID
		task.Status = models.GenerationStatusProcessing
	}
	log.Printf("视频任务已下发: task=%s job=%s", task.ID, jobID)
	return nil
}
