package service

import (
	"errors"
	"testing"

	"comic-studio-server/models"
)

func groupWith(selected string, urls ...string) *models.VariantGroup {
	g := models.NewVariantGroup()
	for i, url := range urls {
		g.Append(models.Variant{ID: url, Url: url, CreatedAt: int64(i)})
	}
	g.SelectedID = selected
	return g
}

func referenceProject() *models.Project {
	return &models.Project{
		Characters: []models.Character{
			{ID: "c1", Name: "阿若", ThreeViewAsset: groupWith("tv.png", "tv.png")},
			{ID: "c2", Name: "老周", FullBodyAsset: groupWith("fb.png", "fb.png")},
		},
		Scenes: []models.Scene{
			{ID: "s1", Name: "酒馆", ImageAsset: groupWith("scene.png", "scene.png")},
		},
		Props: []models.Prop{
			{ID: "p1", Name: "铜灯", ImageAsset: groupWith("prop.png", "prop.png")},
		},
	}
}

func TestResolveFrameReferencesOrder(t *testing.T) {
	p := referenceProject()
	f := &models.Frame{
		SceneId:      "s1",
		CharacterIds: []string{"c2", "c1"},
		PropIds:      []string{"p1"},
	}

	got := ResolveFrameReferences(p, f)
	// 场景最前, 角色按分镜里的顺序, 道具最后
	want := []string{"scene.png", "fb.png", "tv.png", "prop.png"}
	if len(got) != len(want) {
		t.Fatalf("unexpected references: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected references: got %v want %v", got, want)
		}
	}

	// 两次调用结果一致
	again := ResolveFrameReferences(p, f)
	for i := range want {
		if again[i] != want[i] {
			t.Fatalf("resolution not deterministic: %v vs %v", got, again)
		}
	}
}

func TestResolveFrameReferencesSkipsMissingAndEmpty(t *testing.T) {
	p := referenceProject()
	// 没有任何图片的场景
	p.Scenes = append(p.Scenes, models.Scene{ID: "s2", Name: "空场景"})
	f := &models.Frame{
		SceneId:      "s2",
		CharacterIds: []string{"ghost", "c1"},
		PropIds:      []string{"missing"},
	}

	got := ResolveFrameReferences(p, f)
	if len(got) != 1 || got[0] != "tv.png" {
		t.Fatalf("expected only the character image, got %v", got)
	}
}

func TestResolveFrameReferencesDoesNotDeduplicate(t *testing.T) {
	p := referenceProject()
	f := &models.Frame{CharacterIds: []string{"c1", "c1"}}

	got := ResolveFrameReferences(p, f)
	if len(got) != 2 || got[0] != "tv.png" || got[1] != "tv.png" {
		t.Fatalf("duplicate references should be kept: %v", got)
	}
}

func TestCharacterReferencePrecedence(t *testing.T) {
	// 三视图 > 全身 > 头像 > 旧字段
	c := models.Character{
		ThreeViewAsset:   groupWith("tv.png", "tv.png"),
		FullBodyAsset:    groupWith("fb.png", "fb.png"),
		HeadshotAsset:    groupWith("hs.png", "hs.png"),
		FullBodyImageUrl: "legacy_fb.png",
		ImageUrl:         "legacy.png",
	}
	if got := c.ReferenceURL(); got != "tv.png" {
		t.Fatalf("expected three view first, got %q", got)
	}

	c.ThreeViewAsset = nil
	if got := c.ReferenceURL(); got != "fb.png" {
		t.Fatalf("expected full body next, got %q", got)
	}

	c.FullBodyAsset = nil
	if got := c.ReferenceURL(); got != "hs.png" {
		t.Fatalf("expected headshot next, got %q", got)
	}

	c.HeadshotAsset = nil
	if got := c.ReferenceURL(); got != "legacy_fb.png" {
		t.Fatalf("expected legacy field fallback, got %q", got)
	}
}

func TestGroupReferenceFallsBackWithoutSelection(t *testing.T) {
	p := referenceProject()
	// 选中 b 时用 b, 清掉选中后回退最早一张 a
	p.Characters[0].ThreeViewAsset = groupWith("b.png", "a.png", "b.png")
	f := &models.Frame{CharacterIds: []string{"c1"}}

	if got := ResolveFrameReferences(p, f); got[0] != "b.png" {
		t.Fatalf("expected selected variant, got %v", got)
	}

	p.Characters[0].ThreeViewAsset.SelectedID = ""
	if got := ResolveFrameReferences(p, f); got[0] != "a.png" {
		t.Fatalf("expected oldest variant fallback, got %v", got)
	}
}

func TestFrameRenderReferencesPrecedence(t *testing.T) {
	p := referenceProject()
	f := &models.Frame{
		SceneId: "s1",
		CompositionData: &models.CompositionData{
			ReferenceImageUrls: []string{"stored.png"},
		},
	}

	// 请求显式带的优先
	got := FrameRenderReferences(p, f, []string{"explicit.png"})
	if len(got) != 1 || got[0] != "explicit.png" {
		t.Fatalf("explicit references should win: %v", got)
	}

	// 其次用分镜存的构图参考
	got = FrameRenderReferences(p, f, nil)
	if len(got) != 1 || got[0] != "stored.png" {
		t.Fatalf("stored references should be used: %v", got)
	}

	// 构图数据存在但没有参考图时落回自动收集
	f.CompositionData = &models.CompositionData{}
	got = FrameRenderReferences(p, f, nil)
	if len(got) != 1 || got[0] != "scene.png" {
		t.Fatalf("expected resolver fallback: %v", got)
	}
}

func TestValidateReferenceBudget(t *testing.T) {
	p := &models.Project{}
	three := []string{"1.png", "2.png", "3.png"}
	four := append(append([]string{}, three...), "4.png")
	five := append(append([]string{}, four...), "5.png")

	// 缺省预算 3 张
	if err := ValidateReferenceBudget(p, three); err != nil {
		t.Fatalf("3 references should pass: %v", err)
	}
	if err := ValidateReferenceBudget(p, four); !errors.Is(err, models.ErrTooManyReferences) {
		t.Fatalf("expected ErrTooManyReferences, got %v", err)
	}

	// wan2.6-image 放宽到 4 张
	p.ModelSettings.I2IModel = "wan2.6-image"
	if err := ValidateReferenceBudget(p, four); err != nil {
		t.Fatalf("4 references should pass for wan2.6-image: %v", err)
	}
	if err := ValidateReferenceBudget(p, five); !errors.Is(err, models.ErrTooManyReferences) {
		t.Fatalf("expected ErrTooManyReferences, got %v", err)
	}
}
