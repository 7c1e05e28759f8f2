package models

import (
	"errors"
)

var (
	ErrFrameNotFound  = errors.New("frame not found in project")
	ErrFrameLocked    = errors.New("frame is locked")
	ErrFrameOrderDiff = errors.New("frame id list does not match existing frames")
)

// CompositionData 画布构图数据, 前端选好的参考图直接随渲染请求下发
// 为空时由服务端按素材选中状态自动收集
type CompositionData struct {
	ReferenceImageUrl  string      `json:"reference_image_url,omitempty"`
	ReferenceImageUrls []string    `json:"reference_image_urls,omitempty"`
	Canvas             interface{} `json:"canvas,omitempty"`
}

// ReferenceURLs 把单图字段和多图字段合并成一个有序列表
func (c *CompositionData) ReferenceURLs() []string {
	if c == nil {
		return nil
	}
	urls := make([]string, 0, len(c.ReferenceImageUrls)+1)
	urls = append(urls, c.ReferenceImageUrls...)
	if c.ReferenceImageUrl != "" {
		urls = append(urls, c.ReferenceImageUrl)
	}
	return urls
}

// Frame 分镜中的一个镜头
type Frame struct {
	ID           string   `json:"id"`
	SceneId      string   `json:"scene_id,omitempty"`
	CharacterIds []string `json:"character_ids"`
	PropIds      []string `json:"prop_ids"`

	ActionDescription string `json:"action_description"`
	FacialExpression  string `json:"facial_expression,omitempty"`
	Dialogue          string `json:"dialogue,omitempty"`
	Speaker           string `json:"speaker,omitempty"`

	CameraAngle    string `json:"camera_angle,omitempty"`
	CameraMovement string `json:"camera_movement,omitempty"`
	SubjectMotion  string `json:"subject_motion,omitempty"`
	Composition    string `json:"composition,omitempty"`
	Atmosphere     string `json:"atmosphere,omitempty"`

	CompositionData *CompositionData `json:"composition_data,omitempty"`

	ImagePrompt        string        `json:"image_prompt,omitempty"`
	ImageUrl           string        `json:"image_url,omitempty"`
	RenderedImageUrl   string        `json:"rendered_image_url,omitempty"`
	RenderedImageAsset *VariantGroup `json:"rendered_image_asset,omitempty"`

	VideoPrompt string `json:"video_prompt,omitempty"`
	VideoUrl    string `json:"video_url,omitempty"`
	AudioUrl    string `json:"audio_url,omitempty"`

	SelectedVideoId string `json:"selected_video_id,omitempty"`
	Locked          bool   `json:"locked"`
	Status          string `json:"status,omitempty"`
	UpdatedAt       int64  `json:"updated_at,omitempty"`
}

// Rendered 高保真渲染槽位, 不存在时就地初始化
func (f *Frame) Rendered() *VariantGroup {
	if f.RenderedImageAsset == nil {
		f.RenderedImageAsset = NewVariantGroup()
	}
	return f.RenderedImageAsset
}

// SyncLegacyURL 旧字段刷成当前选中的渲染图, 未选中时清空
func (f *Frame) SyncLegacyURL() {
	url := f.RenderedImageAsset.SelectedURL()
	f.RenderedImageUrl = url
	f.ImageUrl = url
}

// AppendRenders 渲染完成后把新变体入列并始终选中最新一张
func (f *Frame) AppendRenders(variants []Variant, now int64) {
	if len(variants) == 0 {
		return
	}
	g := f.Rendered()
	for _, v := range variants {
		g.Append(v)
	}
	g.SelectedID = variants[len(variants)-1].ID
	g.Prune(MaxVariantsPerAsset)
	f.SyncLegacyURL()
	f.UpdatedAt = now
}

// SelectVideo 为分镜挑选一条已生成的视频
func (f *Frame) SelectVideo(task *VideoTask) {
	f.SelectedVideoId = task.ID
	f.VideoUrl = task.VideoUrl
}

func (p *Project) FindFrame(id string) *Frame {
	for i := range p.Frames {
		if p.Frames[i].ID == id {
			return &p.Frames[i]
		}
	}
	return nil
}

// InsertFrame 插到 afterID 之后, afterID 为空时追加到末尾
func (p *Project) InsertFrame(frame Frame, afterID string) {
	if afterID != "" {
		for i := range p.Frames {
			if p.Frames[i].ID == afterID {
				rest := append([]Frame{frame}, p.Frames[i+1:]...)
				p.Frames = append(p.Frames[:i+1], rest...)
				return
			}
		}
	}
	p.Frames = append(p.Frames, frame)
}

func (p *Project) RemoveFrame(id string) error {
	for i := range p.Frames {
		if p.Frames[i].ID == id {
			p.Frames = append(p.Frames[:i], p.Frames[i+1:]...)
			return nil
		}
	}
	return ErrFrameNotFound
}

// CopyFrame 复制一个镜头并插到原镜头之后
// 文案/机位/提示词保留, 生成产物 (渲染图/视频/音频) 不带过去
func (p *Project) CopyFrame(sourceID, newID string, now int64) (*Frame, error) {
	src := p.FindFrame(sourceID)
	if src == nil {
		return nil, ErrFrameNotFound
	}
	dup := *src
	dup.ID = newID
	dup.CharacterIds = append([]string{}, src.CharacterIds...)
	dup.PropIds = append([]string{}, src.PropIds...)
	dup.ImageUrl = ""
	dup.RenderedImageUrl = ""
	dup.RenderedImageAsset = nil
	dup.VideoUrl = ""
	dup.AudioUrl = ""
	dup.SelectedVideoId = ""
	dup.Locked = false
	dup.Status = GenerationStatusPending
	dup.UpdatedAt = now
	p.InsertFrame(dup, sourceID)
	return p.FindFrame(newID), nil
}

// ReorderFrames 按给定顺序重排, id 列表必须正好是现有镜头的一个排列
func (p *Project) ReorderFrames(ids []string) error {
	if len(ids) != len(p.Frames) {
		return ErrFrameOrderDiff
	}
	byID := make(map[string]*Frame, len(p.Frames))
	for i := range p.Frames {
		byID[p.Frames[i].ID] = &p.Frames[i]
	}
	ordered := make([]Frame, 0, len(ids))
	for _, id := range ids {
		f, ok := byID[id]
		if !ok {
			return ErrFrameOrderDiff
		}
		ordered = append(ordered, *f)
		delete(byID, id)
	}
	if len(byID) != 0 {
		return ErrFrameOrderDiff
	}
	p.Frames = ordered
	return nil
}

// RemoveAssetReferences 删除素材后清理分镜里指向它的引用
func (p *Project) RemoveAssetReferences(assetType, assetID string) {
	for i := range p.Frames {
		f := &p.Frames[i]
		switch assetType {
		case AssetTypeScene:
			if f.SceneId == assetID {
				f.SceneId = ""
			}
		case AssetTypeCharacter:
			f.CharacterIds = removeString(f.CharacterIds, assetID)
		case AssetTypeProp:
			f.PropIds = removeString(f.PropIds, assetID)
		}
	}
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
