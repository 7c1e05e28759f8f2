package models

import (
	"errors"
)

// 每个生成槽位最多保留的非收藏变体数量, 超出后从最旧开始淘汰
const MaxVariantsPerAsset = 10

var (
	ErrVariantNotFound = errors.New("variant not found in group")
)

// Variant 一次生成产出的单个候选结果 (图片或视频), 只会被删除或收藏, 不会被修改
type Variant struct {
	ID          string `json:"id"`
	Url         string `json:"url"`
	PromptUsed  string `json:"prompt_used,omitempty"`
	IsFavorited bool   `json:"is_favorited"`
	CreatedAt   int64  `json:"created_at"`
}

// VariantGroup 某个生成槽位 (full_body/three_view/headshot/image) 的候选序列与选中状态
// 序列按创建顺序排列, 最新的追加在末尾
type VariantGroup struct {
	Variants   []Variant `json:"variants"`
	SelectedID string    `json:"selected_id,omitempty"`
}

func NewVariantGroup() *VariantGroup {
	return &VariantGroup{Variants: []Variant{}}
}

func (g *VariantGroup) Find(variantID string) *Variant {
	for i := range g.Variants {
		if g.Variants[i].ID == variantID {
			return &g.Variants[i]
		}
	}
	return nil
}

// Select 切换选中变体, 目标不在序列中时返回错误且不改动现有选中状态
func (g *VariantGroup) Select(variantID string) error {
	if g.Find(variantID) == nil {
		return ErrVariantNotFound
	}
	g.SelectedID = variantID
	return nil
}

// Delete 从序列中移除变体, 删除当前选中项时清空选中状态而不自动顶替
// 收藏保护只在前端生效, 这里不做拦截
func (g *VariantGroup) Delete(variantID string) error {
	for i := range g.Variants {
		if g.Variants[i].ID == variantID {
			g.Variants = append(g.Variants[:i], g.Variants[i+1:]...)
			if g.SelectedID == variantID {
				g.SelectedID = ""
			}
			return nil
		}
	}
	return ErrVariantNotFound
}

func (g *VariantGroup) SetFavorite(variantID string, favorited bool) error {
	v := g.Find(variantID)
	if v == nil {
		return ErrVariantNotFound
	}
	v.IsFavorited = favorited
	return nil
}

// Append 追加到序列末尾, 只负责入列, 是否选中由调用方决定
func (g *VariantGroup) Append(v Variant) {
	g.Variants = append(g.Variants, v)
}

// SelectedURL 当前选中变体的 URL, 未选中返回空串
func (g *VariantGroup) SelectedURL() string {
	if g == nil || g.SelectedID == "" {
		return ""
	}
	if v := g.Find(g.SelectedID); v != nil {
		return v.Url
	}
	return ""
}

// ReferenceURL 组装参考图时的取值: 优先选中项, 未选中但有变体时回退到最早一张
// 回退是为了兼容选中功能上线之前生成的旧素材
func (g *VariantGroup) ReferenceURL() string {
	if g == nil {
		return ""
	}
	if url := g.SelectedURL(); url != "" {
		return url
	}
	if len(g.Variants) > 0 {
		return g.Variants[0].Url
	}
	return ""
}

// Prune 把非收藏变体裁剪到 limit 以内, 收藏的和当前选中的永不淘汰, 从最旧开始删
// 返回被淘汰的数量
func (g *VariantGroup) Prune(limit int) int {
	nonFavorited := 0
	for i := range g.Variants {
		if !g.Variants[i].IsFavorited {
			nonFavorited++
		}
	}
	if nonFavorited <= limit {
		return 0
	}

	removed := 0
	kept := make([]Variant, 0, len(g.Variants))
	for _, v := range g.Variants {
		if nonFavorited > limit && !v.IsFavorited && v.ID != g.SelectedID {
			nonFavorited--
			removed++
			continue
		}
		kept = append(kept, v)
	}
	g.Variants = kept
	return removed
}
