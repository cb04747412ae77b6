package service

import (
	"context"
	"course_platform_backend/internal/config"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalStorage_UploadExistsDelete(t *testing.T) {
	root := t.TempDir()
	p := &LocalStorageProvider{Config: &config.StorageConfig{LocalPath: root}}
	ctx := context.Background()
	key := "audio/lesson-3/slide-1.mp3"

	url, err := p.Upload(ctx, key, strings.NewReader("ID3 data"), 8, "audio/mpeg")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if url != "/uploads/"+key {
		t.Fatalf("unexpected url %q", url)
	}

	exists, err := p.Exists(ctx, key)
	if err != nil || !exists {
		t.Fatalf("expected object to exist, got %v %v", exists, err)
	}

	entries, err := os.ReadDir(filepath.Join(root, "audio", "lesson-3"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temporary upload file left behind: %v", entries)
	}

	local, ok := p.LocalPath(key)
	if !ok || local != filepath.Join(root, "audio", "lesson-3", "slide-1.mp3") {
		t.Fatalf("unexpected local path %q", local)
	}

	if err := p.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if exists, _ := p.Exists(ctx, key); exists {
		t.Fatalf("object still exists after delete")
	}
}

func TestLocalStorage_RejectsEscapingKeys(t *testing.T) {
	p := &LocalStorageProvider{Config: &config.StorageConfig{LocalPath: t.TempDir()}}
	ctx := context.Background()

	for _, key := range []string{"../outside.mp3", "/etc/passwd", "audio/../../x.mp3", ""} {
		if _, err := p.Upload(ctx, key, strings.NewReader("x"), 1, "audio/mpeg"); !errors.Is(err, errInvalidObjectKey) {
			t.Fatalf("%q: expected invalid key error, got %v", key, err)
		}
		if _, err := p.Exists(ctx, key); !errors.Is(err, errInvalidObjectKey) {
			t.Fatalf("%q: Exists expected invalid key error, got %v", key, err)
		}
		if _, ok := p.LocalPath(key); ok {
			t.Fatalf("%q: LocalPath must refuse", key)
		}
	}
}

func TestStorageURLs(t *testing.T) {
	cdn := &config.StorageConfig{PublicBaseURL: "https://cdn.example.com/media/", MinioBucket: "b"}
	if got := (&LocalStorageProvider{Config: cdn}).GetURL("audio/a.mp3"); got != "https://cdn.example.com/media/audio/a.mp3" {
		t.Fatalf("local with base url: %q", got)
	}

	minioCfg := &config.StorageConfig{MinioEndpoint: "minio:9000", MinioBucket: "course-audio", MinioUseSSL: true}
	if got := (&MinioStorageProvider{Config: minioCfg}).GetURL("audio/a.mp3"); got != "https://minio:9000/course-audio/audio/a.mp3" {
		t.Fatalf("minio url: %q", got)
	}

	ossCfg := &config.StorageConfig{OSSEndpoint: "oss-cn-hangzhou.aliyuncs.com", OSSBucket: "lessons"}
	if got := (&OSSStorageProvider{Config: ossCfg}).GetURL("audio/a.mp3"); got != "https://lessons.oss-cn-hangzhou.aliyuncs.com/audio/a.mp3" {
		t.Fatalf("oss url: %q", got)
	}
}

func TestNewStorageService_DefaultsToLocal(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Type: "LOCAL", LocalPath: t.TempDir()}}
	svc := NewStorageService(cfg)
	if _, ok := svc.Provider.(*LocalStorageProvider); !ok {
		t.Fatalf("expected local provider, got %T", svc.Provider)
	}
}
