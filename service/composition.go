package service

import (
	"comic-studio-server/models"
)

// ResolveFrameReferences 按分镜的关联关系收集参考图
// 顺序固定: 场景在最前, 然后按分镜里的角色顺序, 最后是道具顺序
// 找不到的素材和没有可用图的素材直接跳过, 不做去重
func ResolveFrameReferences(p *models.Project, f *models.Frame) []string {
	urls := make([]string, 0, 1+len(f.CharacterIds)+len(f.PropIds))
	if f.SceneId != "" {
		if scene := p.FindScene(f.SceneId); scene != nil {
			if url := scene.ReferenceURL(); url != "" {
				urls = append(urls, url)
			}
		}
	}
	for _, id := range f.CharacterIds {
		c := p.FindCharacter(id)
		if c == nil {
			continue
		}
		if url := c.ReferenceURL(); url != "" {
			urls = append(urls, url)
		}
	}
	for _, id := range f.PropIds {
		prop := p.FindProp(id)
		if prop == nil {
			continue
		}
		if url := prop.ReferenceURL(); url != "" {
			urls = append(urls, url)
		}
	}
	return urls
}

// FrameRenderReferences 决定一次渲染实际使用的参考图
// 请求显式给了就用请求的, 其次用分镜里存的构图参考, 都没有才按关联素材自动收集
func FrameRenderReferences(p *models.Project, f *models.Frame, explicit []string) []string {
	if len(explicit) > 0 {
		return explicit
	}
	if f.CompositionData != nil {
		if stored := f.CompositionData.ReferenceURLs(); len(stored) > 0 {
			return stored
		}
	}
	return ResolveFrameReferences(p, f)
}

// ValidateReferenceBudget 校验参考图数量没有超过模型允许的张数
func ValidateReferenceBudget(p *models.Project, urls []string) error {
	if len(urls) > p.ModelSettings.ReferenceBudget() {
		return models.ErrTooManyReferences
	}
	return nil
}
