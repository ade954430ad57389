package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // image.DecodeConfigにGIFを登録
	_ "image/jpeg" // image.DecodeConfigにJPEGを登録
	_ "image/png"  // image.DecodeConfigにPNGを登録
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/storyapi/internal/model"
	"github.com/hitoshi/storyapi/internal/security"
)

// デフォルトのアップロードサイズ制限。
const (
	DefaultMaxSize int64 = 15 << 20
	DefaultMinSize int64 = 1024
)

// アップロード結果のラベル。メトリクスに使う。
const (
	ResultStaged   = "staged"
	ResultRejected = "rejected"
	ResultFailed   = "failed"
)

// Config はアップロード検証の設定。
type Config struct {
	MaxSize int64
	MinSize int64
}

// UploadObserver はアップロード結果を記録する。metrics.Collectorが実装する。
type UploadObserver interface {
	ObserveUpload(kind, result string, size int64)
}

type nopObserver struct{}

func (nopObserver) ObserveUpload(string, string, int64) {}

// Service はステージング、プロモート、削除を提供する。
type Service struct {
	store    Store
	locker   Locker
	fetcher  security.RemoteFetcher
	observer UploadObserver
	cfg      Config
	now      func() time.Time
}

// NewService はServiceを生成する。fetcherとobserverはnilでもよい。
func NewService(store Store, locker Locker, fetcher security.RemoteFetcher, observer UploadObserver, cfg Config) *Service {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.MinSize < 0 {
		cfg.MinSize = 0
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Service{
		store:    store,
		locker:   locker,
		fetcher:  fetcher,
		observer: observer,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Stage はアップロードされた画像を検証してステージングする。
// 同じ所有者・種類の既存ステージングは置き換えられる。
// 検証エラーは321〜324の*model.APIErrorで返す。
func (s *Service) Stage(ctx context.Context, ownerID string, kind Kind, r io.Reader) (*Object, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.cfg.MaxSize+1))
	if err != nil {
		s.observer.ObserveUpload(string(kind), ResultRejected, 0)
		return nil, model.NewFileError(model.StatusFileUnreadable)
	}
	return s.stageBytes(ctx, ownerID, kind, data)
}

// StageFromURL はリモートURLから画像を取得してステージングする。
// 取得はSSRF対策済みのクライアントで行う。
func (s *Service) StageFromURL(ctx context.Context, ownerID string, kind Kind, rawURL string) (*Object, error) {
	if s.fetcher == nil {
		return nil, model.NewInvalidDataError("remote fetch is disabled")
	}

	data, _, err := s.fetcher.Fetch(ctx, rawURL, s.cfg.MaxSize)
	if err != nil {
		s.observer.ObserveUpload(string(kind), ResultRejected, 0)
		switch {
		case errors.Is(err, security.ErrResponseTooLarge):
			return nil, model.NewFileError(model.StatusFileTooLarge)
		case errors.Is(err, security.ErrBlockedURL):
			return nil, model.NewInvalidDataError(err.Error())
		default:
			slog.Warn("リモート画像の取得に失敗しました",
				slog.String("url", rawURL),
				slog.String("error", err.Error()),
			)
			return nil, model.NewFileError(model.StatusFileUnreadable)
		}
	}
	return s.stageBytes(ctx, ownerID, kind, data)
}

func (s *Service) stageBytes(ctx context.Context, ownerID string, kind Kind, data []byte) (*Object, error) {
	if !kind.Valid() {
		return nil, model.NewInvalidDataError(fmt.Sprintf("unknown media kind %q", kind))
	}

	contentType, apiErr := s.validate(data)
	if apiErr != nil {
		s.observer.ObserveUpload(string(kind), ResultRejected, int64(len(data)))
		return nil, apiErr
	}

	key := StagingKey(ownerID, kind)
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", key, err)
	}
	defer unlock()

	obj := Object{
		Name:        objectName(contentType),
		ContentType: contentType,
		Size:        int64(len(data)),
		ModTime:     s.now(),
	}
	if err := s.store.Stage(ctx, key, obj, data); err != nil {
		s.observer.ObserveUpload(string(kind), ResultFailed, obj.Size)
		return nil, fmt.Errorf("failed to stage media: %w", err)
	}

	s.observer.ObserveUpload(string(kind), ResultStaged, obj.Size)
	return &obj, nil
}

// validate はサイズと画像形式を検証し、MIMEタイプを返す。
func (s *Service) validate(data []byte) (string, *model.APIError) {
	size := int64(len(data))
	if size > s.cfg.MaxSize {
		return "", model.NewFileError(model.StatusFileTooLarge)
	}
	if size < s.cfg.MinSize || size == 0 {
		return "", model.NewFileError(model.StatusFileTooSmall)
	}

	contentType := http.DetectContentType(data)
	if _, ok := extensions[contentType]; !ok {
		return "", model.NewFileError(model.StatusFileNotImage)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return "", model.NewFileError(model.StatusFileNotImage)
	}
	return contentType, nil
}

// Promote はステージング済みの画像をレコードのディレクトリへ移動する。
// 冪等であり、レコード作成後に移動だけが失敗した場合は再実行してよい。
//   - ステージング済み: 移動して新しいメディアを返す
//   - ステージング無し・移動済み: 既存のメディアを返す
//   - どちらも無し: (nil, nil)
func (s *Service) Promote(ctx context.Context, ownerID string, kind Kind, recordID string) (*model.Media, error) {
	key := StagingKey(ownerID, kind)
	dest := Destination(kind, recordID)

	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", key, err)
	}
	defer unlock()

	staged, err := s.store.Staged(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read staging: %w", err)
	}

	var obj *Object
	if staged != nil {
		obj, err = s.store.Move(ctx, key, dest)
		if err != nil {
			return nil, fmt.Errorf("failed to promote media: %w", err)
		}
	} else {
		obj, err = s.store.Lookup(ctx, dest)
		if err != nil {
			return nil, fmt.Errorf("failed to look up media: %w", err)
		}
	}
	if obj == nil {
		return nil, nil
	}

	return &model.Media{
		Type: obj.ContentType,
		Ref:  dest + "/" + obj.Name,
		Size: obj.Size,
	}, nil
}

// Remove はレコードに紐づくメディアを削除する。
func (s *Service) Remove(ctx context.Context, kind Kind, recordID string) error {
	return s.store.Remove(ctx, Destination(kind, recordID))
}

// PurgeStaging はolderThanより古いステージングを削除し、削除件数を返す。
// 個々の削除失敗はログに残して処理を続ける。
func (s *Service) PurgeStaging(ctx context.Context, olderThan time.Duration) (int, error) {
	entries, err := s.store.ListStaged(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list staging: %w", err)
	}

	cutoff := s.now().Add(-olderThan)
	purged := 0
	for _, e := range entries {
		if !e.ModTime.Before(cutoff) {
			continue
		}
		if err := s.discard(ctx, e.Key); err != nil {
			slog.Warn("ステージングの削除に失敗しました",
				slog.String("key", e.Key),
				slog.String("error", err.Error()),
			)
			continue
		}
		purged++
	}
	return purged, nil
}

func (s *Service) discard(ctx context.Context, key string) error {
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return s.store.Discard(ctx, key)
}
