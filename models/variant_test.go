package models

import (
	"errors"
	"fmt"
	"testing"
)

func makeGroup(ids ...string) *VariantGroup {
	g := NewVariantGroup()
	for i, id := range ids {
		g.Append(Variant{ID: id, Url: id + ".png", CreatedAt: int64(i)})
	}
	return g
}

func variantIDs(g *VariantGroup) []string {
	ids := make([]string, 0, len(g.Variants))
	for _, v := range g.Variants {
		ids = append(ids, v.ID)
	}
	return ids
}

func TestSelectUnknownVariantKeepsSelection(t *testing.T) {
	g := makeGroup("a", "b")
	if err := g.Select("a"); err != nil {
		t.Fatalf("Select(a) returned error: %v", err)
	}
	if err := g.Select("missing"); !errors.Is(err, ErrVariantNotFound) {
		t.Fatalf("expected ErrVariantNotFound, got %v", err)
	}
	if g.SelectedID != "a" {
		t.Fatalf("selection changed after failed select: %q", g.SelectedID)
	}
}

func TestDeleteSelectedClearsSelectionWithoutPromotion(t *testing.T) {
	g := makeGroup("a", "b", "c")
	if err := g.Select("b"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := g.Delete("b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// 删掉选中项不自动顶替, 由用户重新挑选
	if g.SelectedID != "" {
		t.Fatalf("expected empty selection, got %q", g.SelectedID)
	}
	if got := variantIDs(g); len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("unexpected variants after delete: %v", got)
	}
	if g.SelectedURL() != "" {
		t.Fatalf("SelectedURL should be empty, got %q", g.SelectedURL())
	}
}

func TestDeleteOtherVariantKeepsSelection(t *testing.T) {
	g := makeGroup("a", "b", "c")
	if err := g.Select("c"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := g.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if g.SelectedID != "c" {
		t.Fatalf("selection lost: %q", g.SelectedID)
	}
	if g.SelectedURL() != "c.png" {
		t.Fatalf("unexpected SelectedURL: %q", g.SelectedURL())
	}
}

func TestDeleteUnknownVariant(t *testing.T) {
	g := makeGroup("a")
	if err := g.Delete("nope"); !errors.Is(err, ErrVariantNotFound) {
		t.Fatalf("expected ErrVariantNotFound, got %v", err)
	}
	if len(g.Variants) != 1 {
		t.Fatalf("variant list changed on failed delete: %v", variantIDs(g))
	}
}

func TestAppendDoesNotChangeSelection(t *testing.T) {
	g := makeGroup("a")
	if err := g.Select("a"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	g.Append(Variant{ID: "b", Url: "b.png"})
	if g.SelectedID != "a" {
		t.Fatalf("Append changed selection to %q", g.SelectedID)
	}
	if got := variantIDs(g); got[len(got)-1] != "b" {
		t.Fatalf("new variant not appended at tail: %v", got)
	}
}

func TestSetFavorite(t *testing.T) {
	g := makeGroup("a")
	if err := g.SetFavorite("a", true); err != nil {
		t.Fatalf("SetFavorite: %v", err)
	}
	if !g.Variants[0].IsFavorited {
		t.Fatal("variant not favorited")
	}
	if err := g.SetFavorite("a", false); err != nil {
		t.Fatalf("SetFavorite unset: %v", err)
	}
	if g.Variants[0].IsFavorited {
		t.Fatal("favorite flag not cleared")
	}
	if err := g.SetFavorite("missing", true); !errors.Is(err, ErrVariantNotFound) {
		t.Fatalf("expected ErrVariantNotFound, got %v", err)
	}
}

func TestReferenceURLFallsBackToOldestVariant(t *testing.T) {
	var nilGroup *VariantGroup
	if nilGroup.ReferenceURL() != "" {
		t.Fatal("nil group should yield empty URL")
	}
	if nilGroup.SelectedURL() != "" {
		t.Fatal("nil group SelectedURL should be empty")
	}

	g := makeGroup("a", "b")
	// 未选中时回退到最早一张
	if got := g.ReferenceURL(); got != "a.png" {
		t.Fatalf("expected oldest variant URL, got %q", got)
	}
	if err := g.Select("b"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got := g.ReferenceURL(); got != "b.png" {
		t.Fatalf("expected selected URL, got %q", got)
	}
}

func TestPruneKeepsFavoritedAndSelected(t *testing.T) {
	g := NewVariantGroup()
	for i := 0; i < 6; i++ {
		g.Append(Variant{ID: fmt.Sprintf("v%d", i), Url: fmt.Sprintf("v%d.png", i), CreatedAt: int64(i)})
	}
	if err := g.SetFavorite("v1", true); err != nil {
		t.Fatalf("SetFavorite: %v", err)
	}
	if err := g.Select("v0"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	removed := g.Prune(3)
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	// v1 收藏, v0 选中, 都不能被淘汰; 从最旧的非保护项开始删
	got := variantIDs(g)
	want := []string{"v0", "v1", "v4", "v5"}
	if len(got) != len(want) {
		t.Fatalf("unexpected survivors: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected survivors: got %v want %v", got, want)
		}
	}
}

func TestPruneUnderLimitIsNoop(t *testing.T) {
	g := makeGroup("a", "b")
	if removed := g.Prune(MaxVariantsPerAsset); removed != 0 {
		t.Fatalf("expected no removals, got %d", removed)
	}
	if len(g.Variants) != 2 {
		t.Fatalf("variants changed: %v", variantIDs(g))
	}
}

func TestAppendAssetVariantsSelectsOnlyWhenUnselected(t *testing.T) {
	p := &Project{Characters: []Character{{ID: "c1", Name: "阿若"}}}

	batch1 := []Variant{{ID: "v1", Url: "v1.png"}, {ID: "v2", Url: "v2.png"}}
	if err := p.AppendAssetVariants(AssetTypeCharacter, "c1", GenerationTypeFullBody, batch1, 100); err != nil {
		t.Fatalf("AppendAssetVariants: %v", err)
	}
	c := p.FindCharacter("c1")
	if c.FullBodyAsset.SelectedID != "v2" {
		t.Fatalf("expected newest auto-selected, got %q", c.FullBodyAsset.SelectedID)
	}
	if c.FullBodyImageUrl != "v2.png" || c.ImageUrl != "v2.png" {
		t.Fatalf("legacy fields not synced: %q / %q", c.FullBodyImageUrl, c.ImageUrl)
	}

	// 已有选中项时追加不改选中
	batch2 := []Variant{{ID: "v3", Url: "v3.png"}}
	if err := p.AppendAssetVariants(AssetTypeCharacter, "c1", GenerationTypeFullBody, batch2, 200); err != nil {
		t.Fatalf("AppendAssetVariants: %v", err)
	}
	if c.FullBodyAsset.SelectedID != "v2" {
		t.Fatalf("selection stolen by new batch: %q", c.FullBodyAsset.SelectedID)
	}
	if got := variantIDs(c.FullBodyAsset); got[len(got)-1] != "v3" {
		t.Fatalf("new variant not at tail: %v", got)
	}
}

func TestAppendAssetVariantsPrunesBeyondLimit(t *testing.T) {
	p := &Project{Scenes: []Scene{{ID: "s1", Name: "酒馆"}}}
	for i := 0; i < MaxVariantsPerAsset+4; i++ {
		v := []Variant{{ID: fmt.Sprintf("v%d", i), Url: fmt.Sprintf("v%d.png", i)}}
		if err := p.AppendAssetVariants(AssetTypeScene, "s1", GenerationTypeImage, v, int64(i)); err != nil {
			t.Fatalf("AppendAssetVariants #%d: %v", i, err)
		}
	}
	s := p.FindScene("s1")
	if len(s.ImageAsset.Variants) != MaxVariantsPerAsset {
		t.Fatalf("expected %d variants after pruning, got %d", MaxVariantsPerAsset, len(s.ImageAsset.Variants))
	}
	// 第一批的 v0 被自动选中, 淘汰时跳过它
	if s.ImageAsset.SelectedID != "v0" {
		t.Fatalf("unexpected selection: %q", s.ImageAsset.SelectedID)
	}
	if s.ImageAsset.Find("v0") == nil {
		t.Fatal("selected variant was pruned")
	}
}

func TestAppendAssetVariantsEmptyBatch(t *testing.T) {
	p := &Project{Props: []Prop{{ID: "p1"}}}
	if err := p.AppendAssetVariants(AssetTypeProp, "p1", GenerationTypeImage, nil, 1); err != nil {
		t.Fatalf("empty batch should be a no-op, got %v", err)
	}
	if p.Props[0].ImageAsset != nil {
		t.Fatal("empty batch should not initialize the group")
	}
}

func TestAppendAssetVariantsUnknownAsset(t *testing.T) {
	p := &Project{}
	err := p.AppendAssetVariants(AssetTypeCharacter, "ghost", GenerationTypeFullBody, []Variant{{ID: "v"}}, 1)
	if !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
}

func TestSelectAssetVariantSearchesCharacterGroups(t *testing.T) {
	p := &Project{Characters: []Character{{ID: "c1"}}}
	c := p.FindCharacter("c1")
	c.Group(GenerationTypeFullBody).Append(Variant{ID: "fb1", Url: "fb1.png"})
	c.Group(GenerationTypeHeadshot).Append(Variant{ID: "hs1", Url: "hs1.png"})

	// 不带槽位时按槽位顺序查找
	if err := p.SelectAssetVariant(AssetTypeCharacter, "c1", "hs1", ""); err != nil {
		t.Fatalf("SelectAssetVariant: %v", err)
	}
	if c.HeadshotAsset.SelectedID != "hs1" {
		t.Fatalf("headshot not selected: %q", c.HeadshotAsset.SelectedID)
	}
	if c.HeadshotImageUrl != "hs1.png" || c.AvatarUrl != "hs1.png" {
		t.Fatalf("legacy headshot fields not synced: %q / %q", c.HeadshotImageUrl, c.AvatarUrl)
	}

	// 指定槽位时只在该槽位内查找
	if err := p.SelectAssetVariant(AssetTypeCharacter, "c1", "hs1", GenerationTypeFullBody); !errors.Is(err, ErrVariantNotFound) {
		t.Fatalf("expected ErrVariantNotFound, got %v", err)
	}
}

func TestDeleteAssetVariantClearsLegacyURL(t *testing.T) {
	p := &Project{Props: []Prop{{ID: "p1"}}}
	pr := p.FindProp("p1")
	pr.Group().Append(Variant{ID: "v1", Url: "v1.png"})
	if err := p.SelectAssetVariant(AssetTypeProp, "p1", "v1", ""); err != nil {
		t.Fatalf("SelectAssetVariant: %v", err)
	}
	if pr.ImageUrl != "v1.png" {
		t.Fatalf("legacy field not synced: %q", pr.ImageUrl)
	}
	if err := p.DeleteAssetVariant(AssetTypeProp, "p1", "v1"); err != nil {
		t.Fatalf("DeleteAssetVariant: %v", err)
	}
	if pr.ImageUrl != "" {
		t.Fatalf("legacy field not cleared after delete: %q", pr.ImageUrl)
	}
}

func TestFrameVariantOpsThroughAssetAPI(t *testing.T) {
	p := &Project{Frames: []Frame{{ID: "f1"}}}
	f := p.FindFrame("f1")
	f.AppendRenders([]Variant{{ID: "r1", Url: "r1.png"}, {ID: "r2", Url: "r2.png"}}, 10)

	// 渲染完成后始终选中最新一张
	if f.RenderedImageAsset.SelectedID != "r2" {
		t.Fatalf("newest render not selected: %q", f.RenderedImageAsset.SelectedID)
	}
	if f.RenderedImageUrl != "r2.png" || f.ImageUrl != "r2.png" {
		t.Fatalf("legacy frame fields not synced: %q / %q", f.RenderedImageUrl, f.ImageUrl)
	}

	if err := p.SelectAssetVariant(AssetTypeFrame, "f1", "r1", ""); err != nil {
		t.Fatalf("SelectAssetVariant: %v", err)
	}
	if f.RenderedImageUrl != "r1.png" {
		t.Fatalf("frame legacy URL not updated: %q", f.RenderedImageUrl)
	}

	if err := p.FavoriteAssetVariant(AssetTypeFrame, "f1", "r2", true); err != nil {
		t.Fatalf("FavoriteAssetVariant: %v", err)
	}
	if !f.RenderedImageAsset.Find("r2").IsFavorited {
		t.Fatal("render variant not favorited")
	}

	if err := p.DeleteAssetVariant(AssetTypeFrame, "f1", "r1"); err != nil {
		t.Fatalf("DeleteAssetVariant: %v", err)
	}
	if f.RenderedImageUrl != "" {
		t.Fatalf("deleting selected render should clear legacy URL, got %q", f.RenderedImageUrl)
	}
}

func TestMarkGeneratedConsistency(t *testing.T) {
	c := &Character{ID: "c1"}
	c.Group(GenerationTypeFullBody).Append(Variant{ID: "fb1"})
	c.MarkGenerated(GenerationTypeFullBody, 100)
	if !c.IsConsistent {
		t.Fatal("character with only a full body image should be consistent")
	}

	c.Group(GenerationTypeThreeView).Append(Variant{ID: "tv1"})
	c.MarkGenerated(GenerationTypeThreeView, 200)
	if !c.IsConsistent {
		t.Fatal("fresh three view should keep character consistent")
	}

	// 主像重生成后, 旧的三视图过期
	c.MarkGenerated(GenerationTypeFullBody, 300)
	if c.IsConsistent {
		t.Fatal("regenerated full body should mark derived images stale")
	}
}
