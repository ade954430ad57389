package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig はオブジェクトストレージの接続設定。
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinIOStore はS3互換のオブジェクトストレージにメディアを保存する。
// ディレクトリはプレフィックスで表現し、プロモートはCopyObjectとRemoveObjectで行う。
type MinIOStore struct {
	mc     *minio.Client
	bucket string
}

// NewMinIOStore はMinIOクライアントを生成し、バケットが無ければ作成する。
func NewMinIOStore(ctx context.Context, cfg MinIOConfig) (*MinIOStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio access key and secret key are required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	s := &MinIOStore{mc: mc, bucket: cfg.Bucket}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinIOStore) ensureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		slog.Info("メディア用バケットを作成しました", slog.String("bucket", s.bucket))
	}
	return nil
}

func stagingPrefix(key string) string {
	return stagingDir + "/" + key + "/"
}

// Stage は既存のステージング内容を削除してからオブジェクトを書き込む。
func (s *MinIOStore) Stage(ctx context.Context, stagingKey string, obj Object, data []byte) error {
	if err := validateSegment(stagingKey); err != nil {
		return err
	}
	if err := validateSegment(obj.Name); err != nil {
		return err
	}

	prefix := stagingPrefix(stagingKey)
	if err := s.removePrefix(ctx, prefix); err != nil {
		return err
	}
	_, err := s.mc.PutObject(ctx, s.bucket, prefix+obj.Name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: obj.ContentType})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", prefix+obj.Name, err)
	}
	return nil
}

// Staged はステージング済みオブジェクトを返す。
func (s *MinIOStore) Staged(ctx context.Context, stagingKey string) (*Object, error) {
	if err := validateSegment(stagingKey); err != nil {
		return nil, err
	}
	return s.first(ctx, stagingPrefix(stagingKey))
}

// Move はステージング済みオブジェクトをプロモート先へコピーし、元を削除する。
// コピー後の削除に失敗しても、次回のMoveまたはクリーンアップで回収される。
func (s *MinIOStore) Move(ctx context.Context, stagingKey, dest string) (*Object, error) {
	if err := validateDestination(dest); err != nil {
		return nil, err
	}
	staged, err := s.Staged(ctx, stagingKey)
	if err != nil {
		return nil, err
	}
	if staged == nil {
		return nil, fmt.Errorf("nothing staged for %s", stagingKey)
	}

	// コピーが成功するまで既存のプロモート先は残す
	src := stagingPrefix(stagingKey) + staged.Name
	dst := dest + "/" + staged.Name
	if _, err := s.mc.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: dst},
		minio.CopySrcOptions{Bucket: s.bucket, Object: src},
	); err != nil {
		return nil, fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	if err := s.removePrefixExcept(ctx, dest+"/", dst); err != nil {
		return nil, err
	}
	if err := s.mc.RemoveObject(ctx, s.bucket, src, minio.RemoveObjectOptions{}); err != nil {
		return nil, fmt.Errorf("failed to remove %s: %w", src, err)
	}

	return s.first(ctx, dest+"/")
}

// Lookup はプロモート先のオブジェクトを返す。
func (s *MinIOStore) Lookup(ctx context.Context, dest string) (*Object, error) {
	if err := validateDestination(dest); err != nil {
		return nil, err
	}
	return s.first(ctx, dest+"/")
}

// Remove はプロモート先のオブジェクトを削除する。
func (s *MinIOStore) Remove(ctx context.Context, dest string) error {
	if err := validateDestination(dest); err != nil {
		return err
	}
	return s.removePrefix(ctx, dest+"/")
}

// ListStaged はステージング領域をキー単位にまとめて返す。
// 更新時刻はキー内で最も新しいオブジェクトのもの。
func (s *MinIOStore) ListStaged(ctx context.Context) ([]StagedEntry, error) {
	byKey := make(map[string]int)
	var staged []StagedEntry

	for info := range s.mc.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: stagingDir + "/", Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("failed to list staging: %w", info.Err)
		}
		rest := strings.TrimPrefix(info.Key, stagingDir+"/")
		key, _, ok := strings.Cut(rest, "/")
		if !ok {
			continue
		}
		if i, seen := byKey[key]; seen {
			if info.LastModified.After(staged[i].ModTime) {
				staged[i].ModTime = info.LastModified
			}
			continue
		}
		byKey[key] = len(staged)
		staged = append(staged, StagedEntry{Key: key, ModTime: info.LastModified})
	}

	if staged == nil {
		staged = []StagedEntry{}
	}
	return staged, nil
}

// Discard はステージング内容を削除する。
func (s *MinIOStore) Discard(ctx context.Context, stagingKey string) error {
	if err := validateSegment(stagingKey); err != nil {
		return err
	}
	return s.removePrefix(ctx, stagingPrefix(stagingKey))
}

// first はプレフィックス直下の最初のオブジェクトをStatObjectで取得する。
func (s *MinIOStore) first(ctx context.Context, prefix string) (*Object, error) {
	for info := range s.mc.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if info.Err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, info.Err)
		}
		if strings.HasSuffix(info.Key, "/") {
			continue
		}

		stat, err := s.mc.StatObject(ctx, s.bucket, info.Key, minio.StatObjectOptions{})
		if err != nil {
			if minio.ToErrorResponse(err).Code == "NoSuchKey" {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", info.Key, err)
		}
		ct := stat.ContentType
		if ct == "" {
			ct = contentTypeFromName(info.Key)
		}
		return &Object{
			Name:        path.Base(info.Key),
			ContentType: ct,
			Size:        stat.Size,
			ModTime:     stat.LastModified,
		}, nil
	}
	return nil, nil
}

func (s *MinIOStore) removePrefix(ctx context.Context, prefix string) error {
	return s.removePrefixExcept(ctx, prefix, "")
}

// removePrefixExcept はprefix配下のkeep以外のオブジェクトを削除する。
func (s *MinIOStore) removePrefixExcept(ctx context.Context, prefix, keep string) error {
	for info := range s.mc.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return fmt.Errorf("failed to list %s: %w", prefix, info.Err)
		}
		if info.Key == keep {
			continue
		}
		if err := s.mc.RemoveObject(ctx, s.bucket, info.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("failed to remove %s: %w", info.Key, err)
		}
	}
	return nil
}

var _ Store = (*MinIOStore)(nil)
