package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"comic-studio-server/config"
	"comic-studio-server/models"

	"github.com/redis/go-redis/v9"
)

var cacheClient *redis.Client

// 项目文档缓存的有效期, 写入会主动作废, TTL 只是兜底
const projectCacheTTL = 30 * time.Second

const cacheOpTimeout = 300 * time.Millisecond

// InitProjectCache 连接 Redis 作为项目文档的读缓存
// 连不上只告警不中断, 缓存缺席时所有读取直连数据库
func InitProjectCache() {
	cfg := config.AppConfig.Redis
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("Redis 缓存不可用, 项目读取将直连数据库: %v", err)
		cacheClient = nil
		return
	}
	cacheClient = client
	log.Println("Redis 项目缓存就绪")
}

func projectCacheKey(id string) string {
	return "comic_studio:project:" + id
}

// LoadProject 先查缓存, 未命中读库并回填
// 缓存里不含视频任务, 需要时由调用方另行拼装
func LoadProject(id string) (models.Project, error) {
	if cacheClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
		raw, err := cacheClient.Get(ctx, projectCacheKey(id)).Bytes()
		cancel()
		if err == nil {
			var p models.Project
			if jsonErr := json.Unmarshal(raw, &p); jsonErr == nil {
				return p, nil
			}
		}
	}
	p, err := models.GetProjectByID(id)
	if err != nil {
		return p, err
	}
	storeProjectCache(&p)
	return p, nil
}

func storeProjectCache(p *models.Project) {
	if cacheClient == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	if err := cacheClient.Set(ctx, projectCacheKey(p.ID), data, projectCacheTTL).Err(); err != nil {
		log.Printf("写项目缓存失败: %v", err)
	}
}

// InvalidateProject 项目发生任何写入后作废缓存
func InvalidateProject(id string) {
	if cacheClient == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	if err := cacheClient.Del(ctx, projectCacheKey(id)).Err(); err != nil {
		log.Printf("清项目缓存失败: %v", err)
	}
}

// ApplyProject 项目文档变更的统一入口: 行锁内改写, 落库成功后作废缓存
func ApplyProject(id string, mutate func(*models.Project) error) (*models.Project, error) {
	p, err := models.MutateProject(id, mutate)
	if err != nil {
		return nil, err
	}
	InvalidateProject(id)
	return p, nil
}
