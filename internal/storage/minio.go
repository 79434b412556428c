package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinioConfig holds the connection parameters of an S3-compatible store.
type MinioConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	BucketName      string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
}

// MinioTarget stores artifacts as objects in one bucket.
type MinioTarget struct {
	logger *zap.Logger
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioTarget connects to the store and creates the bucket if missing.
func NewMinioTarget(ctx context.Context, logger *zap.Logger, config MinioConfig) (*MinioTarget, error) {
	if config.Endpoint == "" || config.BucketName == "" {
		return nil, errors.New("minio endpoint and bucket are required")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, config.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", config.BucketName, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, config.BucketName, minio.MakeBucketOptions{Region: config.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", config.BucketName, err)
		}
		logger.Info("Created artifact bucket", zap.String("bucket", config.BucketName))
	}

	return &MinioTarget{
		logger: logger.Named("minio_target"),
		client: client,
		bucket: config.BucketName,
		prefix: config.Prefix,
	}, nil
}

func (m *MinioTarget) Name() string {
	return "minio"
}

func (m *MinioTarget) key(name string) string {
	return m.prefix + name
}

func (m *MinioTarget) Store(ctx context.Context, name string, r io.Reader, size int64) error {
	if err := validName(name); err != nil {
		return err
	}

	info, err := m.client.PutObject(ctx, m.bucket, m.key(name), r, size, minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}

	m.logger.Debug("Uploaded artifact",
		zap.String("key", info.Key),
		zap.Int64("bytes", info.Size),
		zap.String("etag", info.ETag),
	)
	return nil
}

func (m *MinioTarget) Retrieve(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	object, err := m.client.GetObject(ctx, m.bucket, m.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, m.translate(name, err)
	}
	// GetObject is lazy; Stat surfaces a missing key.
	if _, err := object.Stat(); err != nil {
		_ = object.Close()
		return nil, m.translate(name, err)
	}
	return object, nil
}

func (m *MinioTarget) List(ctx context.Context) ([]ArtifactInfo, error) {
	var artifacts []ArtifactInfo
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: m.prefix}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list artifacts: %w", obj.Err)
		}
		artifacts = append(artifacts, ArtifactInfo{
			Name:    obj.Key[len(m.prefix):],
			Size:    obj.Size,
			ModTime: obj.LastModified,
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].ModTime.After(artifacts[j].ModTime)
	})
	return artifacts, nil
}

func (m *MinioTarget) Delete(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := m.client.RemoveObject(ctx, m.bucket, m.key(name), minio.RemoveObjectOptions{}); err != nil {
		return m.translate(name, err)
	}
	return nil
}

func (m *MinioTarget) translate(name string, err error) error {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
		return ErrObjectNotFound
	}
	return fmt.Errorf("minio request for %s failed: %w", name, err)
}
