package service

import (
	"context"
	"course_platform_backend/internal/config"
	"course_platform_backend/internal/util"
	"course_platform_backend/pkg/logger"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

var errInvalidObjectKey = errors.New("storage: invalid object key")

// StorageProvider 音频对象存储，key 形如 audio/lesson-1/slide-2.mp3
type StorageProvider interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// LocalPath 返回对象在本地磁盘上的路径，远程存储返回 false
	LocalPath(key string) (string, bool)
	GetURL(key string) string
}

// cleanKey 拒绝绝对路径和 ..，防止写出存储根目录
func cleanKey(key string) (string, error) {
	cleaned := path.Clean(strings.ReplaceAll(key, "\\", "/"))
	if cleaned == "." || strings.HasPrefix(cleaned, "/") || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", errInvalidObjectKey, key)
	}
	return cleaned, nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}

// LocalStorageProvider 本地磁盘，经 /uploads 静态路由对外提供
type LocalStorageProvider struct {
	Config *config.StorageConfig
}

func (p *LocalStorageProvider) fullPath(key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(p.Config.LocalPath, filepath.FromSlash(cleaned)), nil
}

// Upload 先写临时文件再 rename，播放端不会读到写了一半的音频
func (p *LocalStorageProvider) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error) {
	dst, err := p.fullPath(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return p.GetURL(key), nil
}

func (p *LocalStorageProvider) Delete(ctx context.Context, key string) error {
	dst, err := p.fullPath(key)
	if err != nil {
		return err
	}
	return os.Remove(dst)
}

func (p *LocalStorageProvider) Exists(ctx context.Context, key string) (bool, error) {
	dst, err := p.fullPath(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dst)
	if err == nil {
		return !info.IsDir(), nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (p *LocalStorageProvider) LocalPath(key string) (string, bool) {
	dst, err := p.fullPath(key)
	if err != nil {
		return "", false
	}
	return dst, true
}

func (p *LocalStorageProvider) GetURL(key string) string {
	if p.Config.PublicBaseURL != "" {
		return joinURL(p.Config.PublicBaseURL, key)
	}
	return "/uploads/" + key
}

// MinioStorageProvider MinIO / S3 兼容存储
type MinioStorageProvider struct {
	Config *config.StorageConfig
	Client *minio.Client
}

// NewMinioStorageProvider 连接并确保 bucket 存在
func NewMinioStorageProvider(ctx context.Context, cfg *config.StorageConfig) (*MinioStorageProvider, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.MinioBucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.MinioBucket, err)
		}
		logger.Log.Info("Created audio bucket", zap.String("bucket", cfg.MinioBucket))
	}
	return &MinioStorageProvider{Config: cfg, Client: client}, nil
}

func (p *MinioStorageProvider) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	_, err = p.Client.PutObject(ctx, p.Config.MinioBucket, key, reader, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=86400",
	})
	if err != nil {
		return "", err
	}
	return p.GetURL(key), nil
}

func (p *MinioStorageProvider) Delete(ctx context.Context, key string) error {
	return p.Client.RemoveObject(ctx, p.Config.MinioBucket, key, minio.RemoveObjectOptions{})
}

func (p *MinioStorageProvider) Exists(ctx context.Context, key string) (bool, error) {
	_, err := p.Client.StatObject(ctx, p.Config.MinioBucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, err
}

func (p *MinioStorageProvider) LocalPath(key string) (string, bool) {
	return "", false
}

func (p *MinioStorageProvider) GetURL(key string) string {
	if p.Config.PublicBaseURL != "" {
		return joinURL(p.Config.PublicBaseURL, key)
	}
	scheme := "http"
	if p.Config.MinioUseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, p.Config.MinioEndpoint, p.Config.MinioBucket, key)
}

// OSSStorageProvider 阿里云 OSS
type OSSStorageProvider struct {
	Config *config.StorageConfig
	Bucket *oss.Bucket
}

func NewOSSStorageProvider(cfg *config.StorageConfig) (*OSSStorageProvider, error) {
	client, err := oss.New(cfg.OSSEndpoint, cfg.OSSAccessKey, cfg.OSSSecretKey)
	if err != nil {
		return nil, err
	}
	bucket, err := client.Bucket(cfg.OSSBucket)
	if err != nil {
		return nil, err
	}
	return &OSSStorageProvider{Config: cfg, Bucket: bucket}, nil
}

func (p *OSSStorageProvider) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	err = p.Bucket.PutObject(key, reader, oss.WithContext(ctx), oss.ContentType(contentType))
	if err != nil {
		return "", err
	}
	return p.GetURL(key), nil
}

func (p *OSSStorageProvider) Delete(ctx context.Context, key string) error {
	return p.Bucket.DeleteObject(key, oss.WithContext(ctx))
}

func (p *OSSStorageProvider) Exists(ctx context.Context, key string) (bool, error) {
	return p.Bucket.IsObjectExist(key, oss.WithContext(ctx))
}

func (p *OSSStorageProvider) LocalPath(key string) (string, bool) {
	return "", false
}

func (p *OSSStorageProvider) GetURL(key string) string {
	if p.Config.PublicBaseURL != "" {
		return joinURL(p.Config.PublicBaseURL, key)
	}
	return fmt.Sprintf("https://%s.%s/%s", p.Config.OSSBucket, p.Config.OSSEndpoint, key)
}

// StorageService 按配置选择存储，远程存储初始化失败时退回本地磁盘
type StorageService struct {
	Provider StorageProvider
}

func NewStorageService(cfg *config.Config) *StorageService {
	var (
		provider StorageProvider
		err      error
	)

	switch strings.ToLower(cfg.Storage.Type) {
	case util.StorageMinio:
		var p *MinioStorageProvider
		if p, err = NewMinioStorageProvider(context.Background(), &cfg.Storage); err == nil {
			provider = p
		}
	case util.StorageOSS:
		var p *OSSStorageProvider
		if p, err = NewOSSStorageProvider(&cfg.Storage); err == nil {
			provider = p
		}
	}

	if err != nil {
		logger.Log.Error("Storage provider unavailable, using local disk",
			zap.String("type", cfg.Storage.Type),
			zap.String("localPath", cfg.Storage.LocalPath),
			zap.Error(err),
		)
	}
	if provider == nil {
		provider = &LocalStorageProvider{Config: &cfg.Storage}
	}

	return &StorageService{Provider: provider}
}

func (s *StorageService) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error) {
	return s.Provider.Upload(ctx, key, reader, size, contentType)
}

func (s *StorageService) Delete(ctx context.Context, key string) error {
	return s.Provider.Delete(ctx, key)
}

func (s *StorageService) Exists(ctx context.Context, key string) (bool, error) {
	return s.Provider.Exists(ctx, key)
}

func (s *StorageService) LocalPath(key string) (string, bool) {
	return s.Provider.LocalPath(key)
}

func (s *StorageService) GetURL(key string) string {
	return s.Provider.GetURL(key)
}
