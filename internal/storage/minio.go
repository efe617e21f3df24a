package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"ats-workflow/internal/config"
	"ats-workflow/internal/types"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

const (
	collectionPrefix = "collections"
	snapshotPrefix   = "snapshots"
	jsonContentType  = "application/json"
)

// MinIO 把集合保存为对象，ETag 作为版本
// 版本比较只在单进程内串行化，多实例部署需配合 Redis 锁
type MinIO struct {
	client *minio.Client
	cfg    *config.MinIOConfig
	bucket string
	mu     sync.Mutex
	logger zerolog.Logger
}

var _ CollectionBackend = (*MinIO)(nil)

// NewMinIO 创建MinIO客户端
func NewMinIO(cfg *config.MinIOConfig, logger zerolog.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if cfg.Endpoint == "" || cfg.BucketName == "" {
		return nil, fmt.Errorf("MinIO endpoint 和 bucketName 不能为空")
	}
	logger.Info().Str("endpoint", cfg.Endpoint).Str("bucket", cfg.BucketName).Msg("[MinIO] Initializing client")

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{
		client: client,
		cfg:    cfg,
		bucket: cfg.BucketName,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.ensureBucketExists(ctx, cfg.BucketName, cfg.Location); err != nil {
		return nil, err
	}
	return m, nil
}

// ensureBucketExists 确保存储桶存在
func (m *MinIO) ensureBucketExists(ctx context.Context, bucketName, location string) error {
	exists, err := m.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", bucketName, err)
	}
	if exists {
		return nil
	}
	m.logger.Info().Str("bucket", bucketName).Msg("[MinIO] Bucket does not exist, creating")
	if err := m.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", bucketName, err)
	}
	return nil
}

// collectionObjectName 集合对象路径
func collectionObjectName(name string) string {
	return path.Join(collectionPrefix, name+".json")
}

// snapshotObjectName 修复前快照路径，按时间排序
func snapshotObjectName(name string, at time.Time) string {
	stamp := strings.ReplaceAll(at.UTC().Format("20060102T150405.000000000Z"), ".", "")
	return path.Join(snapshotPrefix, name, stamp+".json")
}

func isNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchObject"
}

// currentETag 返回对象当前 ETag，对象不存在时返回空
func (m *MinIO) currentETag(ctx context.Context, objectName string) (Version, error) {
	info, err := m.client.StatObject(ctx, m.bucket, objectName, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return "", nil
		}
		return "", fmt.Errorf("获取对象 %s 信息失败: %w", objectName, err)
	}
	return Version(info.ETag), nil
}

func (m *MinIO) Load(ctx context.Context, name string) ([]byte, Version, error) {
	objectName := collectionObjectName(name)
	obj, err := m.client.GetObject(ctx, m.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("获取对象 %s 失败: %w", objectName, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		if isNoSuchKey(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("获取对象 %s 信息失败: %w", objectName, err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", fmt.Errorf("读取对象 %s 失败: %w", objectName, err)
	}
	return data, Version(info.ETag), nil
}

func (m *MinIO) Save(ctx context.Context, name string, data []byte, expected Version) (Version, error) {
	objectName := collectionObjectName(name)

	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.currentETag(ctx, objectName)
	if err != nil {
		return "", err
	}
	if current != expected {
		return "", ErrVersionConflict
	}

	info, err := m.client.PutObject(ctx, m.bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: jsonContentType})
	if err != nil {
		return "", fmt.Errorf("上传对象 %s 失败: %w", objectName, err)
	}
	return Version(info.ETag), nil
}

// PutSnapshot 保存集合快照，供修复工具回滚使用
func (m *MinIO) PutSnapshot(ctx context.Context, name string, data []byte) (string, error) {
	objectName := snapshotObjectName(name, time.Now())
	_, err := m.client.PutObject(ctx, m.bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType:  jsonContentType,
			UserMetadata: map[string]string{"collection": name, "taken-at": types.FormatTimestamp(time.Now())},
		})
	if err != nil {
		return "", fmt.Errorf("上传快照 %s 失败: %w", objectName, err)
	}
	m.logger.Info().Str("object", objectName).Int("bytes", len(data)).Msg("[MinIO] snapshot stored")
	return objectName, nil
}
