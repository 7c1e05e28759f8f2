package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"comic-studio-server/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var MinioClient *minio.Client

// InitMinIO 初始化连接，在 main.go 中调用
func InitMinIO() {
	cfg := config.AppConfig.MinIO
	var err error
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatalf("MinIO 初始化失败: %v", err)
	}
	log.Println("MinIO 连接成功")
}

// UploadToMinIO 通用上传函数，从 io.Reader 上传到 MinIO
// 返回对象 Key 而不是完整 URL: 文档里只存 Key, 出口处再换成可访问地址
// 参数:
//   - reader: 文件数据流 (可以是 http.Response.Body 或其他 io.Reader)
//   - objectName: 云端存储路径，例如 "assets/123/xxx.png"
//   - size: 文件大小（字节），-1 表示未知大小
func UploadToMinIO(reader io.Reader, objectName string, size int64) (string, error) {
	ctx := context.Background()
	cfg := config.AppConfig.MinIO
	bucketName := cfg.Bucket

	// 确保 Bucket 存在
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		return "", fmt.Errorf("检查 Bucket 失败: %w", err)
	}
	if !exists {
		err = MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return "", fmt.Errorf("创建 Bucket 失败: %w", err)
		}
		log.Printf("Bucket '%s' 已创建", bucketName)
	}

	// 根据文件扩展名确定 ContentType
	contentType := "application/octet-stream"
	ext := filepath.Ext(objectName)
	switch ext {
	case ".jpg", ".jpeg":
		contentType = "image/jpeg"
	case ".png":
		contentType = "image/png"
	case ".webp":
		contentType = "image/webp"
	case ".mp4":
		contentType = "video/mp4"
	case ".mp3":
		contentType = "audio/mpeg"
	case ".wav":
		contentType = "audio/wav"
	}

	// 上传文件
	_, err = MinioClient.PutObject(ctx, bucketName, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("上传到 MinIO 失败: %w", err)
	}

	log.Printf("文件已上传: %s", objectName)
	return objectName, nil
}

// PresignObjectURL 对象 Key 换签名 URL（72小时有效期）
func PresignObjectURL(objectName string) (string, error) {
	cfg := config.AppConfig.MinIO
	expiry := time.Hour * 72
	reqParams := make(url.Values)

	presignedURL, err := MinioClient.PresignedGetObject(context.Background(), cfg.Bucket, objectName, expiry, reqParams)
	if err != nil {
		return "", fmt.Errorf("生成签名 URL 失败: %w", err)
	}
	return presignedURL.String(), nil
}

// ResolveMediaURL 相对路径拼上文件服务前缀, http 开头的原样返回
// 纯字符串操作, 路径为空时返回空串, 永不报错
func ResolveMediaURL(base, path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http") {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// WorkerMediaURL 把文档里存的对象 Key 换成生成后端能访问的地址
// 配了静态域名走域名拼接, 否则现签一个
func WorkerMediaURL(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http") {
		return path
	}
	if domain := config.AppConfig.MinIO.Domain; domain != "" {
		return ResolveMediaURL(domain, path)
	}
	signed, err := PresignObjectURL(path)
	if err != nil {
		log.Printf("签名对象地址失败, 回退原始路径: %v", err)
		return path
	}
	return signed
}

var mediaClient = &http.Client{Timeout: 120 * time.Second}

// downloadMedia 拉取生成产物, 对象存储写入可能晚于拿到 URL, 失败后重试
// 最多 10 次, 第 n 次失败等 n 秒
func downloadMedia(mediaURL string) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= 10; attempt++ {
		resp, err := mediaClient.Get(mediaURL)
		if err == nil && resp.StatusCode == http.StatusOK {
			return resp, nil
		}
		if err != nil {
			lastErr = err
		} else {
			resp.Body.Close()
			lastErr = fmt.Errorf("下载返回状态码 %d", resp.StatusCode)
		}
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	return nil, fmt.Errorf("下载资源失败 (已重试 10 次): %w", lastErr)
}

// DownloadToMinIO 从远端拉取资源并转存到 MinIO, 返回对象 Key
func DownloadToMinIO(mediaURL, objectName string) (string, error) {
	resp, err := downloadMedia(mediaURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	return UploadToMinIO(resp.Body, objectName, resp.ContentLength)
}
