package models

import (
	"errors"
	"testing"
)

func frameIDs(p *Project) []string {
	ids := make([]string, 0, len(p.Frames))
	for _, f := range p.Frames {
		ids = append(ids, f.ID)
	}
	return ids
}

func projectWithFrames(ids ...string) *Project {
	p := &Project{}
	for _, id := range ids {
		p.Frames = append(p.Frames, Frame{ID: id})
	}
	return p
}

func TestInsertFramePositions(t *testing.T) {
	p := projectWithFrames("f1", "f2")

	p.InsertFrame(Frame{ID: "f3"}, "f1")
	if got := frameIDs(p); got[0] != "f1" || got[1] != "f3" || got[2] != "f2" {
		t.Fatalf("unexpected order after insert: %v", got)
	}

	// afterID 为空或不存在时追加到末尾
	p.InsertFrame(Frame{ID: "f4"}, "")
	p.InsertFrame(Frame{ID: "f5"}, "ghost")
	got := frameIDs(p)
	if got[len(got)-2] != "f4" || got[len(got)-1] != "f5" {
		t.Fatalf("unexpected tail after insert: %v", got)
	}
}

func TestReorderFrames(t *testing.T) {
	p := projectWithFrames("a", "b", "c")
	if err := p.ReorderFrames([]string{"c", "a", "b"}); err != nil {
		t.Fatalf("ReorderFrames: %v", err)
	}
	if got := frameIDs(p); got[0] != "c" || got[1] != "a" || got[2] != "b" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestReorderFramesRejectsBadPermutations(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
	}{
		{"too short", []string{"a", "b"}},
		{"too long", []string{"a", "b", "c", "d"}},
		{"unknown id", []string{"a", "b", "x"}},
		{"duplicate id", []string{"a", "a", "b"}},
	}
	for _, tt := range tests {
		p := projectWithFrames("a", "b", "c")
		err := p.ReorderFrames(tt.ids)
		if !errors.Is(err, ErrFrameOrderDiff) {
			t.Fatalf("%s: expected ErrFrameOrderDiff, got %v", tt.name, err)
		}
		// 失败时原顺序不动
		if got := frameIDs(p); got[0] != "a" || got[1] != "b" || got[2] != "c" {
			t.Fatalf("%s: order changed on failed reorder: %v", tt.name, got)
		}
	}
}

func TestCopyFrameDropsGeneratedProducts(t *testing.T) {
	p := projectWithFrames("f1", "f2")
	src := p.FindFrame("f1")
	src.SceneId = "s1"
	src.CharacterIds = []string{"c1", "c2"}
	src.PropIds = []string{"p1"}
	src.ActionDescription = "推门而入"
	src.Dialogue = "谁在那里?"
	src.CameraMovement = "dolly_in"
	src.ImagePrompt = "a man enters"
	src.AppendRenders([]Variant{{ID: "r1", Url: "r1.png"}}, 5)
	src.VideoUrl = "videos/f1/v.mp4"
	src.AudioUrl = "audios/f1/a.mp3"
	src.SelectedVideoId = "task1"
	src.Locked = true
	src.Status = GenerationStatusCompleted

	dup, err := p.CopyFrame("f1", "f1copy", 42)
	if err != nil {
		t.Fatalf("CopyFrame: %v", err)
	}

	// 描述性字段保留
	if dup.SceneId != "s1" || dup.ActionDescription != "推门而入" || dup.Dialogue != "谁在那里?" {
		t.Fatalf("descriptive fields not copied: %+v", dup)
	}
	if dup.CameraMovement != "dolly_in" || dup.ImagePrompt != "a man enters" {
		t.Fatalf("camera/prompt fields not copied: %+v", dup)
	}
	if len(dup.CharacterIds) != 2 || dup.CharacterIds[0] != "c1" {
		t.Fatalf("character ids not copied: %v", dup.CharacterIds)
	}

	// 生成产物与锁定状态不带过去
	if dup.RenderedImageAsset != nil || dup.RenderedImageUrl != "" || dup.ImageUrl != "" {
		t.Fatalf("render products leaked into copy: %+v", dup)
	}
	if dup.VideoUrl != "" || dup.AudioUrl != "" || dup.SelectedVideoId != "" {
		t.Fatalf("video/audio products leaked into copy: %+v", dup)
	}
	if dup.Locked {
		t.Fatal("copy should start unlocked")
	}
	if dup.Status != GenerationStatusPending {
		t.Fatalf("copy status should reset to pending, got %q", dup.Status)
	}
	if dup.UpdatedAt != 42 {
		t.Fatalf("unexpected UpdatedAt: %d", dup.UpdatedAt)
	}

	// 副本插在源镜头之后
	if got := frameIDs(p); got[0] != "f1" || got[1] != "f1copy" || got[2] != "f2" {
		t.Fatalf("copy not inserted after source: %v", got)
	}

	// 引用列表是独立副本, 改动源不影响副本
	src = p.FindFrame("f1")
	src.CharacterIds[0] = "changed"
	if dup.CharacterIds[0] != "c1" {
		t.Fatalf("copy shares character id slice with source: %v", dup.CharacterIds)
	}
}

func TestCopyFrameUnknownSource(t *testing.T) {
	p := projectWithFrames("f1")
	if _, err := p.CopyFrame("ghost", "new", 1); !errors.Is(err, ErrFrameNotFound) {
		t.Fatalf("expected ErrFrameNotFound, got %v", err)
	}
}

func TestRemoveFrame(t *testing.T) {
	p := projectWithFrames("f1", "f2")
	if err := p.RemoveFrame("f1"); err != nil {
		t.Fatalf("RemoveFrame: %v", err)
	}
	if got := frameIDs(p); len(got) != 1 || got[0] != "f2" {
		t.Fatalf("unexpected frames: %v", got)
	}
	if err := p.RemoveFrame("ghost"); !errors.Is(err, ErrFrameNotFound) {
		t.Fatalf("expected ErrFrameNotFound, got %v", err)
	}
}

func TestRemoveAssetReferences(t *testing.T) {
	p := &Project{Frames: []Frame{
		{ID: "f1", SceneId: "s1", CharacterIds: []string{"c1", "c2"}, PropIds: []string{"p1"}},
		{ID: "f2", SceneId: "s2", CharacterIds: []string{"c2"}, PropIds: []string{"p1", "p2"}},
	}}

	p.RemoveAssetReferences(AssetTypeCharacter, "c2")
	if got := p.Frames[0].CharacterIds; len(got) != 1 || got[0] != "c1" {
		t.Fatalf("character reference not removed: %v", got)
	}
	if got := p.Frames[1].CharacterIds; len(got) != 0 {
		t.Fatalf("character reference not removed: %v", got)
	}

	p.RemoveAssetReferences(AssetTypeScene, "s1")
	if p.Frames[0].SceneId != "" {
		t.Fatalf("scene reference not cleared: %q", p.Frames[0].SceneId)
	}
	if p.Frames[1].SceneId != "s2" {
		t.Fatalf("unrelated scene reference touched: %q", p.Frames[1].SceneId)
	}

	p.RemoveAssetReferences(AssetTypeProp, "p1")
	if got := p.Frames[1].PropIds; len(got) != 1 || got[0] != "p2" {
		t.Fatalf("prop reference not removed: %v", got)
	}
}

func TestSelectVideo(t *testing.T) {
	f := &Frame{ID: "f1"}
	task := &VideoTask{ID: "t1", VideoUrl: "videos/p/t1.mp4"}
	f.SelectVideo(task)
	if f.SelectedVideoId != "t1" || f.VideoUrl != "videos/p/t1.mp4" {
		t.Fatalf("video selection not applied: %+v", f)
	}
}

func TestCompositionDataReferenceURLs(t *testing.T) {
	var nilData *CompositionData
	if got := nilData.ReferenceURLs(); got != nil {
		t.Fatalf("nil composition should yield nil, got %v", got)
	}

	d := &CompositionData{
		ReferenceImageUrl:  "single.png",
		ReferenceImageUrls: []string{"a.png", "b.png"},
	}
	got := d.ReferenceURLs()
	want := []string{"a.png", "b.png", "single.png"}
	if len(got) != len(want) {
		t.Fatalf("unexpected urls: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected urls: got %v want %v", got, want)
		}
	}
}
