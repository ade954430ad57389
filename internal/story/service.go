// Package story はストーリーのドメインロジックを提供する。
// ストーリーはフィギュアに属し、parentIdで木構造を成す。
package story

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

// maxDepth は親をたどる上限。循環チェックの打ち切りに使う。
const maxDepth = 256

// MediaPromoter はステージング済みメディアの確定・削除インターフェース。
type MediaPromoter interface {
	Promote(ctx context.Context, ownerID string, kind media.Kind, recordID string) (*model.Media, error)
	Remove(ctx context.Context, kind media.Kind, recordID string) error
}

// Sanitizer はテキストフィールドの無害化インターフェース。
type Sanitizer interface {
	Rich(raw string) string
}

// CreateInput はストーリー作成の入力。
type CreateInput struct {
	Description string
	FigureID    string
	ParentID    string
}

// Query はストーリーの検索条件。
type Query struct {
	ID        string
	CreatedBy string
	FigureID  string
	ParentID  string
}

// Service はストーリーのサービス層。
type Service struct {
	repo      repository.StoryRepository
	figures   repository.FigureRepository
	media     MediaPromoter
	sanitizer Sanitizer

	newID func() string
	now   func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。mediaはnilでもよい。
func NewService(repo repository.StoryRepository, figures repository.FigureRepository, promoter MediaPromoter, sanitizer Sanitizer) *Service {
	return &Service{
		repo:      repo,
		figures:   figures,
		media:     promoter,
		sanitizer: sanitizer,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Create はストーリーを作成する。参照先のフィギュアが存在し、
// 親を指定した場合は親が同じフィギュアに属している必要がある。
func (s *Service) Create(ctx context.Context, requester model.Identity, in CreateInput) (policy.Record, error) {
	description := strings.TrimSpace(s.sanitizer.Rich(in.Description))
	figureID := strings.TrimSpace(in.FigureID)
	var missing []string
	if description == "" {
		missing = append(missing, "description")
	}
	if figureID == "" {
		missing = append(missing, "figureId")
	}
	if len(missing) > 0 {
		return nil, model.NewQueryNotCompleteError(missing...)
	}

	fig, err := s.figures.FindByID(ctx, figureID)
	if err != nil {
		return nil, model.NewQueryError(err)
	}
	if fig == nil {
		return nil, model.NewNotFoundError(policy.FigureResource.Name)
	}

	var parentID *string
	if p := strings.TrimSpace(in.ParentID); p != "" {
		if err := s.checkParent(ctx, "", figureID, p); err != nil {
			return nil, err
		}
		parentID = &p
	}

	now := s.now()
	st := &model.Story{
		ID:          s.newID(),
		Description: description,
		FigureID:    figureID,
		ParentID:    parentID,
		Enabled:     false,
		CreatedBy:   requester.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, st); err != nil {
		return nil, model.NewQueryError(err)
	}

	slog.Info("ストーリーを作成しました",
		slog.String("story_id", st.ID),
		slog.String("figure_id", st.FigureID),
		slog.String("user_id", requester.ID),
	)

	if m, err := s.promote(ctx, requester.ID, st.ID); err != nil {
		slog.Warn("メディアの確定に失敗しました",
			slog.String("story_id", st.ID),
			slog.String("error", err.Error()),
		)
	} else if m != nil {
		if err := s.repo.Update(ctx, st.ID, repository.Patch{"mediaType": m.Type, "mediaRef": m.Ref}); err != nil {
			slog.Warn("メディア参照の保存に失敗しました",
				slog.String("story_id", st.ID),
				slog.String("error", err.Error()),
			)
		} else {
			st.MediaType, st.MediaRef = m.Type, m.Ref
		}
	}

	return policy.StoryResource.View(requester, st.CreatedBy, st.Fields()), nil
}

// Get は条件に一致するストーリーをcreatedAtの降順で返す。
func (s *Service) Get(ctx context.Context, requester model.Identity, q Query) ([]policy.Record, error) {
	stories, err := s.repo.Find(ctx, repository.StoryFilter{
		ID:        q.ID,
		CreatedBy: q.CreatedBy,
		FigureID:  q.FigureID,
		ParentID:  q.ParentID,
	})
	if err != nil {
		return nil, model.NewQueryError(err)
	}
	if len(stories) == 0 {
		return nil, model.NewNotFoundError(policy.StoryResource.Name)
	}

	out := make([]policy.Record, 0, len(stories))
	for _, st := range stories {
		out = append(out, policy.StoryResource.View(requester, st.CreatedBy, st.Fields()))
	}
	return out, nil
}

// Update はストーリーを部分更新する。figureIdは変更できない。
func (s *Service) Update(ctx context.Context, requester model.Identity, id string, body map[string]any) (policy.Record, error) {
	st, err := s.load(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if !policy.CanManage(requester, st.CreatedBy) {
		return nil, model.NewNotAuthorizedError("requester cannot manage story " + st.ID)
	}

	accepted, err := policy.StoryResource.FilterUpdate(requester, body)
	if err != nil {
		return nil, err
	}
	patch, err := s.normalize(ctx, st, accepted)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, requester, st.ID, patch)
}

// Delete はストーリーを削除する。子ストーリーは削除しない。
func (s *Service) Delete(ctx context.Context, requester model.Identity, id, createdBy string) error {
	st, err := s.load(ctx, id, createdBy)
	if err != nil {
		return err
	}
	if !policy.CanManage(requester, st.CreatedBy) {
		return model.NewNotAuthorizedError("requester cannot manage story " + st.ID)
	}

	if err := s.repo.DeleteByID(ctx, st.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewNotFoundError(policy.StoryResource.Name)
		}
		return model.NewDatabaseError(err)
	}

	slog.Info("ストーリーを削除しました",
		slog.String("story_id", st.ID),
		slog.String("requested_by", requester.ID),
	)

	if s.media != nil {
		if err := s.media.Remove(ctx, media.KindStory, st.ID); err != nil {
			slog.Warn("メディアの削除に失敗しました",
				slog.String("story_id", st.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// AttachMedia は依頼者がステージングしたメディアを既存のストーリーに確定する。
func (s *Service) AttachMedia(ctx context.Context, requester model.Identity, id string) (policy.Record, error) {
	st, err := s.load(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if !policy.CanManage(requester, st.CreatedBy) {
		return nil, model.NewNotAuthorizedError("requester cannot manage story " + st.ID)
	}

	m, err := s.promote(ctx, requester.ID, st.ID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, model.NewNotFoundError("FILE")
	}
	return s.apply(ctx, requester, st.ID, repository.Patch{"mediaType": m.Type, "mediaRef": m.Ref})
}

func (s *Service) load(ctx context.Context, id, createdBy string) (*model.Story, error) {
	if id == "" {
		return nil, model.NewQueryNotCompleteError("storyId")
	}
	found, err := s.repo.Find(ctx, repository.StoryFilter{ID: id, CreatedBy: createdBy})
	if err != nil {
		return nil, model.NewQueryError(err)
	}
	if len(found) == 0 {
		return nil, model.NewNotFoundError(policy.StoryResource.Name)
	}
	return found[0], nil
}

func (s *Service) apply(ctx context.Context, requester model.Identity, id string, patch repository.Patch) (policy.Record, error) {
	patch["updatedAt"] = s.now()
	patch["updatedBy"] = requester.ID

	if err := s.repo.Update(ctx, id, patch); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewNotFoundError(policy.StoryResource.Name)
		}
		return nil, model.NewQueryError(err)
	}

	updated, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, model.NewQueryError(err)
	}
	if updated == nil {
		return nil, model.NewNotFoundError(policy.StoryResource.Name)
	}
	return policy.StoryResource.View(requester, updated.CreatedBy, updated.Fields()), nil
}

func (s *Service) promote(ctx context.Context, ownerID, storyID string) (*model.Media, error) {
	if s.media == nil {
		return nil, nil
	}
	return s.media.Promote(ctx, ownerID, media.KindStory, storyID)
}

// checkParent は親が存在し、同じフィギュアに属し、selfIDの子孫でないことを確かめる。
// selfIDが空なら作成時として循環チェックを省く。
func (s *Service) checkParent(ctx context.Context, selfID, figureID, parentID string) error {
	if parentID == selfID {
		return model.NewInvalidDataError("story cannot be its own parent")
	}
	parent, err := s.repo.FindByID(ctx, parentID)
	if err != nil {
		return model.NewQueryError(err)
	}
	if parent == nil {
		return model.NewNotFoundError(policy.StoryResource.Name)
	}
	if parent.FigureID != figureID {
		return model.NewInvalidDataError("parent belongs to another figure")
	}
	if selfID == "" {
		return nil
	}

	cur := parent
	for depth := 0; cur.ParentID != nil; depth++ {
		if *cur.ParentID == selfID {
			return model.NewInvalidDataError("parent would create a cycle")
		}
		if depth >= maxDepth {
			return model.NewInvalidDataError("story tree is too deep")
		}
		next, err := s.repo.FindByID(ctx, *cur.ParentID)
		if err != nil {
			return model.NewQueryError(err)
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return nil
}

func (s *Service) normalize(ctx context.Context, st *model.Story, accepted map[string]any) (repository.Patch, error) {
	patch := make(repository.Patch, len(accepted)+2)
	for key, v := range accepted {
		switch key {
		case "enabled":
			b, ok := policy.BoolValue(v)
			if !ok {
				return nil, model.NewInvalidDataError("enabled must be a boolean")
			}
			patch[key] = b
		case "parentId":
			p, ok := policy.OptionalStringValue(v)
			if !ok {
				return nil, model.NewInvalidDataError("parentId must be a string or null")
			}
			if p != nil {
				if err := s.checkParent(ctx, st.ID, st.FigureID, *p); err != nil {
					return nil, err
				}
				patch[key] = *p
			} else {
				patch[key] = nil
			}
		default:
			str, ok := policy.StringValue(v)
			if !ok {
				return nil, model.NewInvalidDataError(key + " must be a string")
			}
			if key == "description" {
				str = strings.TrimSpace(s.sanitizer.Rich(str))
				if str == "" {
					return nil, model.NewInvalidDataError("description must not be empty")
				}
			}
			patch[key] = str
		}
	}
	return patch, nil
}
