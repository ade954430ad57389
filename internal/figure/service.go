// Package figure はフィギュアのドメインロジックを提供する。
package figure

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/storyapi/internal/media"
	"github.com/hitoshi/storyapi/internal/model"
	"github.com/hitoshi/storyapi/internal/policy"
	"github.com/hitoshi/storyapi/internal/repository"
)

// MediaPromoter はステージング済みメディアの確定・削除インターフェース。
type MediaPromoter interface {
	Promote(ctx context.Context, ownerID string, kind media.Kind, recordID string) (*model.Media, error)
	Remove(ctx context.Context, kind media.Kind, recordID string) error
}

// Sanitizer はテキストフィールドの無害化インターフェース。
type Sanitizer interface {
	Plain(raw string) string
	Rich(raw string) string
}

// CreateInput はフィギュア作成の入力。
type CreateInput struct {
	Name        string
	Description string
}

// Query はフィギュアの検索条件。
type Query struct {
	ID        string
	CreatedBy string
}

// Service はフィギュアのサービス層。
type Service struct {
	repo      repository.FigureRepository
	media     MediaPromoter
	sanitizer Sanitizer

	newID func() string
	now   func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。mediaはnilでもよい。
func NewService(repo repository.FigureRepository, promoter MediaPromoter, sanitizer Sanitizer) *Service {
	return &Service{
		repo:      repo,
		media:     promoter,
		sanitizer: sanitizer,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Create はフィギュアを作成し、作成者がステージングしたメディアがあれば紐づける。
// メディアの確定に失敗してもレコードは残し、AttachMediaで再試行できる。
func (s *Service) Create(ctx context.Context, requester model.Identity, in CreateInput) (policy.Record, error) {
	name := strings.TrimSpace(s.sanitizer.Plain(in.Name))
	description := strings.TrimSpace(s.sanitizer.Rich(in.Description))
	var missing []string
	if name == "" {
		missing = append(missing, "name")
	}
	if description == "" {
		missing = append(missing, "description")
	}
	if len(missing) > 0 {
		return nil, model.NewQueryNotCompleteError(missing...)
	}

	now := s.now()
	f := &model.Figure{
		ID:          s.newID(),
		Name:        name,
		Description: description,
		Enabled:     false,
		CreatedBy:   requester.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, f); err != nil {
		return nil, model.NewQueryError(err)
	}

	slog.Info("フィギュアを作成しました",
		slog.String("figure_id", f.ID),
		slog.String("user_id", requester.ID),
	)

	if m, err := s.promote(ctx, requester.ID, f.ID); err != nil {
		slog.Warn("メディアの確定に失敗しました",
			slog.String("figure_id", f.ID),
			slog.String("error", err.Error()),
		)
	} else if m != nil {
		if err := s.repo.Update(ctx, f.ID, repository.Patch{"mediaType": m.Type, "mediaRef": m.Ref}); err != nil {
			slog.Warn("メディア参照の保存に失敗しました",
				slog.String("figure_id", f.ID),
				slog.String("error", err.Error()),
			)
		} else {
			f.MediaType, f.MediaRef = m.Type, m.Ref
		}
	}

	return policy.FigureResource.View(requester, f.CreatedBy, f.Fields()), nil
}

// Get は条件に一致するフィギュアをcreatedAtの降順で返す。
func (s *Service) Get(ctx context.Context, requester model.Identity, q Query) ([]policy.Record, error) {
	figures, err := s.repo.Find(ctx, repository.FigureFilter{ID: q.ID, CreatedBy: q.CreatedBy})
	if err != nil {
		return nil, model.NewQueryError(err)
	}
	if len(figures) == 0 {
		return nil, model.NewNotFoundError(policy.FigureResource.Name)
	}

	out := make([]policy.Record, 0, len(figures))
	for _, f := range figures {
		out = append(out, policy.FigureResource.View(requester, f.CreatedBy, f.Fields()))
	}
	return out, nil
}

// Update はフィギュアを部分更新する。
// 判定順は 存在確認 → 所有者・特権ロール → フィールド許可リスト。
func (s *Service) Update(ctx context.Context, requester model.Identity, id string, body map[string]any) (policy.Record, error) {
	f, err := s.load(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if !policy.CanManage(requester, f.CreatedBy) {
		return nil, model.NewNotAuthorizedError("requester cannot manage figure " + f.ID)
	}

	accepted, err := policy.FigureResource.FilterUpdate(requester, body)
	if err != nil {
		return nil, err
	}
	patch, err := s.normalize(accepted)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, requester, f.ID, patch)
}

// Delete はフィギュアを削除する。createdByが指定された場合は作成者も条件に含める。
// 確定済みメディアの削除は失敗してもログのみ残す。
func (s *Service) Delete(ctx context.Context, requester model.Identity, id, createdBy string) error {
	f, err := s.load(ctx, id, createdBy)
	if err != nil {
		return err
	}
	if !policy.CanManage(requester, f.CreatedBy) {
		return model.NewNotAuthorizedError("requester cannot manage figure " + f.ID)
	}

	if err := s.repo.DeleteByID(ctx, f.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewNotFoundError(policy.FigureResource.Name)
		}
		return model.NewDatabaseError(err)
	}

	slog.Info("フィギュアを削除しました",
		slog.String("figure_id", f.ID),
		slog.String("requested_by", requester.ID),
	)

	if s.media != nil {
		if err := s.media.Remove(ctx, media.KindFigure, f.ID); err != nil {
			slog.Warn("メディアの削除に失敗しました",
				slog.String("figure_id", f.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// AttachMedia は依頼者がステージングしたメディアを既存のフィギュアに確定する。
// 作成時の確定が失敗した場合の再試行にも使う。
func (s *Service) AttachMedia(ctx context.Context, requester model.Identity, id string) (policy.Record, error) {
	f, err := s.load(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if !policy.CanManage(requester, f.CreatedBy) {
		return nil, model.NewNotAuthorizedError("requester cannot manage figure " + f.ID)
	}

	m, err := s.promote(ctx, requester.ID, f.ID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, model.NewNotFoundError("FILE")
	}
	return s.apply(ctx, requester, f.ID, repository.Patch{"mediaType": m.Type, "mediaRef": m.Ref})
}

func (s *Service) load(ctx context.Context, id, createdBy string) (*model.Figure, error) {
	if id == "" {
		return nil, model.NewQueryNotCompleteError("figureId")
	}
	found, err := s.repo.Find(ctx, repository.FigureFilter{ID: id, CreatedBy: createdBy})
	if err != nil {
		return nil, model.NewQueryError(err)
	}
	if len(found) == 0 {
		return nil, model.NewNotFoundError(policy.FigureResource.Name)
	}
	return found[0], nil
}

// apply は更新者と更新日時を付けてパッチを保存し、更新後のレコードを返す。
func (s *Service) apply(ctx context.Context, requester model.Identity, id string, patch repository.Patch) (policy.Record, error) {
	patch["updatedAt"] = s.now()
	patch["updatedBy"] = requester.ID

	if err := s.repo.Update(ctx, id, patch); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewNotFoundError(policy.FigureResource.Name)
		}
		return nil, model.NewQueryError(err)
	}

	updated, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, model.NewQueryError(err)
	}
	if updated == nil {
		return nil, model.NewNotFoundError(policy.FigureResource.Name)
	}
	return policy.FigureResource.View(requester, updated.CreatedBy, updated.Fields()), nil
}

func (s *Service) promote(ctx context.Context, ownerID, figureID string) (*model.Media, error) {
	if s.media == nil {
		return nil, nil
	}
	return s.media.Promote(ctx, ownerID, media.KindFigure, figureID)
}

// normalize は受け付けたフィールドの型をそろえ、テキストを無害化する。
func (s *Service) normalize(accepted map[string]any) (repository.Patch, error) {
	patch := make(repository.Patch, len(accepted)+2)
	for key, v := range accepted {
		switch key {
		case "enabled":
			b, ok := policy.BoolValue(v)
			if !ok {
				return nil, model.NewInvalidDataError("enabled must be a boolean")
			}
			patch[key] = b
		default:
			str, ok := policy.StringValue(v)
			if !ok {
				return nil, model.NewInvalidDataError(key + " must be a string")
			}
			switch key {
			case "name":
				str = strings.TrimSpace(s.sanitizer.Plain(str))
				if str == "" {
					return nil, model.NewInvalidDataError("name must not be empty")
				}
			case "description":
				str = strings.TrimSpace(s.sanitizer.Rich(str))
			}
			patch[key] = str
		}
	}
	return patch, nil
}
