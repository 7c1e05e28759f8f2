package service

import (
	"strings"
	"testing"
)

func TestProjectCacheKey(t *testing.T) {
	key := projectCacheKey("p1")
	if !strings.HasPrefix(key, "comic_studio:project:") || !strings.HasSuffix(key, "p1") {
		t.Fatalf("unexpected cache key: %q", key)
	}
	if projectCacheKey("a") == projectCacheKey("b") {
		t.Fatal("different projects must map to different keys")
	}
}

func TestInvalidateProjectWithoutCache(t *testing.T) {
	// Redis 缺席时缓存操作静默跳过, 不应 panic
	old := cacheClient
	cacheClient = nil
	defer func() { cacheClient = old }()

	InvalidateProject("p1")
	storeProjectCache(nil)
}
