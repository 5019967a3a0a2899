// Package s3store implements the remote artifact mirror on an S3-compatible bucket.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bnema/zerowrap"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bnema/odoobackup/internal/boundaries/out"
	"github.com/bnema/odoobackup/internal/domain"
)

var _ out.RemoteStore = (*Store)(nil)

// Config holds the connection settings for the bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Prefix    string
	UseSSL    bool
}

// Store is a RemoteStore backed by minio-go.
type Store struct {
	client *minio.Client
	bucket string
	region string
	prefix string
	log    zerowrap.Logger
}

// New creates a store. It does not contact the server.
func New(cfg Config, log zerowrap.Logger) (*Store, error) {
	endpoint, secure := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: remote endpoint is required", domain.ErrInvalidConfig)
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: remote bucket is required", domain.ErrInvalidConfig)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		prefix: normalizePrefix(cfg.Prefix),
		log:    log,
	}, nil
}

// normalizeEndpoint strips a scheme from endpoint. An explicit https
// scheme forces TLS, http disables it.
func normalizeEndpoint(endpoint string, useSSL bool) (string, bool) {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "https://"), "/"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "http://"), "/"), false
	default:
		return strings.TrimSuffix(endpoint, "/"), useSSL
	}
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func (s *Store) objectName(key string) string {
	return s.prefix + key
}

func (s *Store) ctxLog(ctx context.Context, action string, fields map[string]any) (context.Context, zerowrap.Logger) {
	all := map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "s3store",
		zerowrap.FieldAction:  action,
		"bucket":              s.bucket,
	}
	for k, v := range fields {
		all[k] = v
	}
	ctx = zerowrap.CtxWithFields(ctx, all)
	return ctx, zerowrap.FromCtx(ctx)
}

// EnsureBucket creates the bucket if it is absent.
func (s *Store) EnsureBucket(ctx context.Context) error {
	ctx, log := s.ctxLog(ctx, "EnsureBucket", nil)

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return log.WrapErr(err, "failed to check bucket")
	}
	if exists {
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		// Another writer may have created it between the two calls.
		if isCode(err, "BucketAlreadyOwnedByYou") || isCode(err, "BucketAlreadyExists") {
			return nil
		}
		return log.WrapErr(err, "failed to create bucket")
	}

	log.Info().Msg("bucket created")
	return nil
}

// Upload stores localPath under key.
func (s *Store) Upload(ctx context.Context, localPath, key string) error {
	ctx, log := s.ctxLog(ctx, "Upload", map[string]any{zerowrap.FieldEntityID: key, zerowrap.FieldPath: localPath})

	info, err := s.client.FPutObject(ctx, s.bucket, s.objectName(key), localPath, minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return log.WrapErr(err, "failed to upload artifact")
	}

	log.Info().Int64(zerowrap.FieldSize, info.Size).Msg("artifact uploaded")
	return nil
}

// Download fetches key into localPath. A directory sitting at localPath
// is removed first so the artifact can take its place.
func (s *Store) Download(ctx context.Context, key, localPath string) error {
	ctx, log := s.ctxLog(ctx, "Download", map[string]any{zerowrap.FieldEntityID: key, zerowrap.FieldPath: localPath})

	if info, err := os.Stat(localPath); err == nil && info.IsDir() {
		log.Warn().Msg("directory found at artifact path, replacing it")
		if err := os.RemoveAll(localPath); err != nil {
			return log.WrapErr(err, "failed to remove directory at artifact path")
		}
	}

	if err := s.client.FGetObject(ctx, s.bucket, s.objectName(key), localPath, minio.GetObjectOptions{}); err != nil {
		if isCode(err, "NoSuchKey") {
			return fmt.Errorf("remote object %s: %w", key, domain.ErrArtifactMissing)
		}
		return log.WrapErr(err, "failed to download artifact")
	}

	log.Info().Msg("artifact downloaded")
	return nil
}

// List returns every object under the prefix with the prefix stripped.
func (s *Store) List(ctx context.Context) ([]domain.RemoteObjectRecord, error) {
	ctx, log := s.ctxLog(ctx, "List", nil)

	records := make([]domain.RemoteObjectRecord, 0)
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, log.WrapErr(obj.Err, "failed to list objects")
		}
		records = append(records, domain.RemoteObjectRecord{
			Key:          strings.TrimPrefix(obj.Key, s.prefix),
			SizeBytes:    obj.Size,
			LastModified: obj.LastModified,
		})
	}

	log.Debug().Int(zerowrap.FieldCount, len(records)).Msg("objects listed")
	return records, nil
}

// Delete removes key. S3 deletes are idempotent; NoSuchKey is also tolerated
// for stores that report it.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, log := s.ctxLog(ctx, "Delete", map[string]any{zerowrap.FieldEntityID: key})

	if err := s.client.RemoveObject(ctx, s.bucket, s.objectName(key), minio.RemoveObjectOptions{}); err != nil {
		if isCode(err, "NoSuchKey") {
			return nil
		}
		return log.WrapErr(err, "failed to delete object")
	}

	log.Info().Msg("object deleted")
	return nil
}

func isCode(err error, code string) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == code
	}
	return minio.ToErrorResponse(err).Code == code
}

func contentType(key string) string {
	kind, _ := domain.KindFromName(key)
	if kind == domain.ArtifactArchive {
		return "application/zip"
	}
	return "application/octet-stream"
}
