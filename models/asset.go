package models

import (
	"errors"
)

// 素材与分镜共用的生成状态
const (
	GenerationStatusPending    = "pending"
	GenerationStatusProcessing = "processing"
	GenerationStatusCompleted  = "completed"
	GenerationStatusFailed     = "failed"
)

// 生成槽位类型
const (
	// full_body: 角色全身主像, 三视图/头像都由它派生
	GenerationTypeFullBody  = "full_body"
	GenerationTypeThreeView = "three_view"
	GenerationTypeHeadshot  = "headshot"
	// all: 依次生成全身 -> 三视图 -> 头像
	GenerationTypeAll = "all"
	// image: 场景/道具唯一的图片槽位
	GenerationTypeImage = "image"
	// render: 分镜高保真渲染槽位
	GenerationTypeRender = "render"
	GenerationTypeVideo  = "video"
)

const (
	AssetTypeCharacter = "character"
	AssetTypeScene     = "scene"
	AssetTypeProp      = "prop"
	AssetTypeFrame     = "storyboard_frame"
)

var (
	ErrAssetNotFound = errors.New("asset not found in project")
	ErrAssetLocked   = errors.New("asset is locked")
)

// Character 角色素材, 槽位分三级: 全身像是主像, 三视图与头像由其派生
type Character struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	Age          string `json:"age,omitempty"`
	Gender       string `json:"gender,omitempty"`
	Clothing     string `json:"clothing,omitempty"`
	VisualWeight int    `json:"visual_weight,omitempty"`

	FullBodyImageUrl string        `json:"full_body_image_url,omitempty"`
	FullBodyPrompt   string        `json:"full_body_prompt,omitempty"`
	FullBodyAsset    *VariantGroup `json:"full_body_asset,omitempty"`

	ThreeViewImageUrl string        `json:"three_view_image_url,omitempty"`
	ThreeViewPrompt   string        `json:"three_view_prompt,omitempty"`
	ThreeViewAsset    *VariantGroup `json:"three_view_asset,omitempty"`

	HeadshotImageUrl string        `json:"headshot_image_url,omitempty"`
	HeadshotPrompt   string        `json:"headshot_prompt,omitempty"`
	HeadshotAsset    *VariantGroup `json:"headshot_asset,omitempty"`

	// 旧字段, 与选中变体保持同步, 供未迁移的前端页面继续消费
	ImageUrl  string `json:"image_url,omitempty"`
	AvatarUrl string `json:"avatar_url,omitempty"`

	// 派生图是否仍与当前全身主像匹配 (主像重生成后派生图过期)
	IsConsistent       bool  `json:"is_consistent"`
	FullBodyUpdatedAt  int64 `json:"full_body_updated_at,omitempty"`
	ThreeViewUpdatedAt int64 `json:"three_view_updated_at,omitempty"`
	HeadshotUpdatedAt  int64 `json:"headshot_updated_at,omitempty"`

	VoiceId   string `json:"voice_id,omitempty"`
	VoiceName string `json:"voice_name,omitempty"`
	Locked    bool   `json:"locked"`
	Status    string `json:"status,omitempty"`
}

// Group 按槽位取变体集合, 不存在时就地初始化; 未知槽位返回 nil
func (c *Character) Group(generationType string) *VariantGroup {
	switch generationType {
	case GenerationTypeFullBody:
		if c.FullBodyAsset == nil {
			c.FullBodyAsset = NewVariantGroup()
		}
		return c.FullBodyAsset
	case GenerationTypeThreeView:
		if c.ThreeViewAsset == nil {
			c.ThreeViewAsset = NewVariantGroup()
		}
		return c.ThreeViewAsset
	case GenerationTypeHeadshot:
		if c.HeadshotAsset == nil {
			c.HeadshotAsset = NewVariantGroup()
		}
		return c.HeadshotAsset
	}
	return nil
}

// ReferenceURL 组装参考图时的取值优先级: 三视图 > 全身 > 头像, 新槽位优先于旧字段
func (c *Character) ReferenceURL() string {
	if url := c.ThreeViewAsset.ReferenceURL(); url != "" {
		return url
	}
	if url := c.FullBodyAsset.ReferenceURL(); url != "" {
		return url
	}
	if url := c.HeadshotAsset.ReferenceURL(); url != "" {
		return url
	}
	if c.ThreeViewImageUrl != "" {
		return c.ThreeViewImageUrl
	}
	if c.FullBodyImageUrl != "" {
		return c.FullBodyImageUrl
	}
	if c.HeadshotImageUrl != "" {
		return c.HeadshotImageUrl
	}
	if c.AvatarUrl != "" {
		return c.AvatarUrl
	}
	return c.ImageUrl
}

// SyncLegacyURL 把槽位对应的旧字段刷成当前选中变体的 URL, 未选中时清空
func (c *Character) SyncLegacyURL(generationType string) {
	switch generationType {
	case GenerationTypeFullBody:
		url := c.FullBodyAsset.SelectedURL()
		c.FullBodyImageUrl = url
		c.ImageUrl = url
	case GenerationTypeThreeView:
		c.ThreeViewImageUrl = c.ThreeViewAsset.SelectedURL()
	case GenerationTypeHeadshot:
		url := c.HeadshotAsset.SelectedURL()
		c.HeadshotImageUrl = url
		c.AvatarUrl = url
	}
}

// MarkGenerated 记录槽位最近一次生成时间, 并重算派生图是否已过期
func (c *Character) MarkGenerated(generationType string, now int64) {
	switch generationType {
	case GenerationTypeFullBody:
		c.FullBodyUpdatedAt = now
	case GenerationTypeThreeView:
		c.ThreeViewUpdatedAt = now
	case GenerationTypeHeadshot:
		c.HeadshotUpdatedAt = now
	}
	c.IsConsistent = true
	if c.ThreeViewAsset != nil && len(c.ThreeViewAsset.Variants) > 0 && c.ThreeViewUpdatedAt < c.FullBodyUpdatedAt {
		c.IsConsistent = false
	}
	if c.HeadshotAsset != nil && len(c.HeadshotAsset.Variants) > 0 && c.HeadshotUpdatedAt < c.FullBodyUpdatedAt {
		c.IsConsistent = false
	}
}

// Scene 场景素材, 只有一个图片槽位
type Scene struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	VisualWeight int           `json:"visual_weight,omitempty"`
	TimeOfDay    string        `json:"time_of_day,omitempty"`
	LightingMood string        `json:"lighting_mood,omitempty"`
	ImageUrl     string        `json:"image_url,omitempty"`
	ImageAsset   *VariantGroup `json:"image_asset,omitempty"`
	Locked       bool          `json:"locked"`
	Status       string        `json:"status,omitempty"`
}

func (s *Scene) Group() *VariantGroup {
	if s.ImageAsset == nil {
		s.ImageAsset = NewVariantGroup()
	}
	return s.ImageAsset
}

func (s *Scene) ReferenceURL() string {
	if url := s.ImageAsset.ReferenceURL(); url != "" {
		return url
	}
	return s.ImageUrl
}

func (s *Scene) SyncLegacyURL() {
	s.ImageUrl = s.ImageAsset.SelectedURL()
}

// Prop 道具素材, 只有一个图片槽位
type Prop struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	VisualWeight int           `json:"visual_weight,omitempty"`
	ImageUrl     string        `json:"image_url,omitempty"`
	ImageAsset   *VariantGroup `json:"image_asset,omitempty"`
	Locked       bool          `json:"locked"`
	Status       string        `json:"status,omitempty"`
}

func (p *Prop) Group() *VariantGroup {
	if p.ImageAsset == nil {
		p.ImageAsset = NewVariantGroup()
	}
	return p.ImageAsset
}

func (p *Prop) ReferenceURL() string {
	if url := p.ImageAsset.ReferenceURL(); url != "" {
		return url
	}
	return p.ImageUrl
}

func (p *Prop) SyncLegacyURL() {
	p.ImageUrl = p.ImageAsset.SelectedURL()
}

func (p *Project) FindCharacter(id string) *Character {
	for i := range p.Characters {
		if p.Characters[i].ID == id {
			return &p.Characters[i]
		}
	}
	return nil
}

func (p *Project) FindScene(id string) *Scene {
	for i := range p.Scenes {
		if p.Scenes[i].ID == id {
			return &p.Scenes[i]
		}
	}
	return nil
}

func (p *Project) FindProp(id string) *Prop {
	for i := range p.Props {
		if p.Props[i].ID == id {
			return &p.Props[i]
		}
	}
	return nil
}

// characterGroupOrder 未指定槽位时在角色各槽位中查找变体的兼容顺序
var characterGroupOrder = []string{GenerationTypeFullBody, GenerationTypeThreeView, GenerationTypeHeadshot}

// characterGroupFor 在角色上定位包含 variantID 的槽位
// generationType 为空时按兼容顺序逐个槽位查找
func characterGroupFor(c *Character, generationType, variantID string) (string, *VariantGroup) {
	if generationType != "" {
		g := c.Group(generationType)
		if g != nil && g.Find(variantID) != nil {
			return generationType, g
		}
		return "", nil
	}
	for _, gt := range characterGroupOrder {
		g := c.Group(gt)
		if g.Find(variantID) != nil {
			return gt, g
		}
	}
	return "", nil
}

// SelectAssetVariant 切换素材的选中变体并同步旧字段
func (p *Project) SelectAssetVariant(assetType, assetID, variantID, generationType string) error {
	switch assetType {
	case AssetTypeCharacter:
		c := p.FindCharacter(assetID)
		if c == nil {
			return ErrAssetNotFound
		}
		gt, g := characterGroupFor(c, generationType, variantID)
		if g == nil {
			return ErrVariantNotFound
		}
		if err := g.Select(variantID); err != nil {
			return err
		}
		c.SyncLegacyURL(gt)
		return nil
	case AssetTypeScene:
		s := p.FindScene(assetID)
		if s == nil {
			return ErrAssetNotFound
		}
		if err := s.Group().Select(variantID); err != nil {
			return err
		}
		s.SyncLegacyURL()
		return nil
	case AssetTypeProp:
		pr := p.FindProp(assetID)
		if pr == nil {
			return ErrAssetNotFound
		}
		if err := pr.Group().Select(variantID); err != nil {
			return err
		}
		pr.SyncLegacyURL()
		return nil
	case AssetTypeFrame:
		f := p.FindFrame(assetID)
		if f == nil {
			return ErrAssetNotFound
		}
		if err := f.Rendered().Select(variantID); err != nil {
			return err
		}
		f.SyncLegacyURL()
		return nil
	}
	return ErrAssetNotFound
}

// DeleteAssetVariant 删除素材变体; 删到选中项时旧字段一并清空, 不自动顶替
func (p *Project) DeleteAssetVariant(assetType, assetID, variantID string) error {
	switch assetType {
	case AssetTypeCharacter:
		c := p.FindCharacter(assetID)
		if c == nil {
			return ErrAssetNotFound
		}
		gt, g := characterGroupFor(c, "", variantID)
		if g == nil {
			return ErrVariantNotFound
		}
		if err := g.Delete(variantID); err != nil {
			return err
		}
		c.SyncLegacyURL(gt)
		return nil
	case AssetTypeScene:
		s := p.FindScene(assetID)
		if s == nil {
			return ErrAssetNotFound
		}
		if err := s.Group().Delete(variantID); err != nil {
			return err
		}
		s.SyncLegacyURL()
		return nil
	case AssetTypeProp:
		pr := p.FindProp(assetID)
		if pr == nil {
			return ErrAssetNotFound
		}
		if err := pr.Group().Delete(variantID); err != nil {
			return err
		}
		pr.SyncLegacyURL()
		return nil
	case AssetTypeFrame:
		f := p.FindFrame(assetID)
		if f == nil {
			return ErrAssetNotFound
		}
		if err := f.Rendered().Delete(variantID); err != nil {
			return err
		}
		f.SyncLegacyURL()
		return nil
	}
	return ErrAssetNotFound
}

// FavoriteAssetVariant 切换变体收藏标记, 收藏的变体不参与自动淘汰
func (p *Project) FavoriteAssetVariant(assetType, assetID, variantID string, favorited bool) error {
	switch assetType {
	case AssetTypeCharacter:
		c := p.FindCharacter(assetID)
		if c == nil {
			return ErrAssetNotFound
		}
		_, g := characterGroupFor(c, "", variantID)
		if g == nil {
			return ErrVariantNotFound
		}
		return g.SetFavorite(variantID, favorited)
	case AssetTypeScene:
		s := p.FindScene(assetID)
		if s == nil {
			return ErrAssetNotFound
		}
		return s.Group().SetFavorite(variantID, favorited)
	case AssetTypeProp:
		pr := p.FindProp(assetID)
		if pr == nil {
			return ErrAssetNotFound
		}
		return pr.Group().SetFavorite(variantID, favorited)
	case AssetTypeFrame:
		f := p.FindFrame(assetID)
		if f == nil {
			return ErrAssetNotFound
		}
		return f.Rendered().SetFavorite(variantID, favorited)
	}
	return ErrAssetNotFound
}

// AppendAssetVariants 生成完成后把新变体批量入列
// 没有选中项时自动选中最新一张, 已有选中项保持不动, 最后裁剪超限的旧变体
func (p *Project) AppendAssetVariants(assetType, assetID, generationType string, variants []Variant, now int64) error {
	if len(variants) == 0 {
		return nil
	}
	switch assetType {
	case AssetTypeCharacter:
		c := p.FindCharacter(assetID)
		if c == nil {
			return ErrAssetNotFound
		}
		g := c.Group(generationType)
		if g == nil {
			return ErrVariantNotFound
		}
		for _, v := range variants {
			g.Append(v)
		}
		if g.SelectedID == "" {
			g.SelectedID = variants[len(variants)-1].ID
		}
		g.Prune(MaxVariantsPerAsset)
		c.SyncLegacyURL(generationType)
		c.MarkGenerated(generationType, now)
		return nil
	case AssetTypeScene:
		s := p.FindScene(assetID)
		if s == nil {
			return ErrAssetNotFound
		}
		g := s.Group()
		for _, v := range variants {
			g.Append(v)
		}
		if g.SelectedID == "" {
			g.SelectedID = variants[len(variants)-1].ID
		}
		g.Prune(MaxVariantsPerAsset)
		s.SyncLegacyURL()
		return nil
	case AssetTypeProp:
		pr := p.FindProp(assetID)
		if pr == nil {
			return ErrAssetNotFound
		}
		g := pr.Group()
		for _, v := range variants {
			g.Append(v)
		}
		if g.SelectedID == "" {
			g.SelectedID = variants[len(variants)-1].ID
		}
		g.Prune(MaxVariantsPerAsset)
		pr.SyncLegacyURL()
		return nil
	}
	return ErrAssetNotFound
}
