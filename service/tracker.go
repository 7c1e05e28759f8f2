package service

import (
	"sort"
	"sync"
	"time"
)

// TypeBatch 素材某个槽位上在跑的一次生成
type TypeBatch struct {
	GenerationType string `json:"generation_type"`
	BatchSize      int    `json:"batch_size"`
}

// 登记项的最长存活时间, 生成后端挂死时靠它释放占用, 不让面板永远卡在生成中
const trackerEntryTTL = 30 * time.Minute

type trackerEntry struct {
	batchSize int
	deadline  time.Time
}

// Tracker 进程级的在途生成登记表, 按 (素材, 槽位) 记录
// 同一素材不同槽位可并行; 同键重复登记按后写覆盖批量数, 不会产生重复项
type Tracker struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]map[string]trackerEntry // assetID -> generationType -> entry
}

func NewTracker(ttl time.Duration) *Tracker {
	return &Tracker{ttl: ttl, m: make(map[string]map[string]trackerEntry)}
}

// 全局登记表, 请求下发时登记, 落定 (成功或失败) 时注销
var GenerationTracker = NewTracker(trackerEntryTTL)

func (t *Tracker) Add(assetID, generationType string, batchSize int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	types, ok := t.m[assetID]
	if !ok {
		types = make(map[string]trackerEntry)
		t.m[assetID] = types
	}
	types[generationType] = trackerEntry{batchSize: batchSize, deadline: time.Now().Add(t.ttl)}
}

// Remove 注销登记, 没有对应登记时静默返回
func (t *Tracker) Remove(assetID, generationType string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	types, ok := t.m[assetID]
	if !ok {
		return
	}
	delete(types, generationType)
	if len(types) == 0 {
		delete(t.m, assetID)
	}
}

// IsActive 素材上是否还有任意槽位的生成在跑
func (t *Tracker) IsActive(assetID string) bool {
	return len(t.ActiveTypesFor(assetID)) > 0
}

// ActiveTypesFor 素材上所有在跑的 (槽位, 批量) 组合, 已过期的顺手清掉
func (t *Tracker) ActiveTypesFor(assetID string) []TypeBatch {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeTypesLocked(assetID, time.Now())
}

// Snapshot 全量导出, 任务面板用
func (t *Tracker) Snapshot() map[string][]TypeBatch {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	out := make(map[string][]TypeBatch, len(t.m))
	for assetID := range t.m {
		if active := t.activeTypesLocked(assetID, now); len(active) > 0 {
			out[assetID] = active
		}
	}
	return out
}

func (t *Tracker) activeTypesLocked(assetID string, now time.Time) []TypeBatch {
	types, ok := t.m[assetID]
	if !ok {
		return nil
	}
	out := make([]TypeBatch, 0, len(types))
	for gt, e := range types {
		if now.After(e.deadline) {
			delete(types, gt)
			continue
		}
		out = append(out, TypeBatch{GenerationType: gt, BatchSize: e.batchSize})
	}
	if len(types) == 0 {
		delete(t.m, assetID)
		return nil
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GenerationType < out[j].GenerationType })
	return out
}
