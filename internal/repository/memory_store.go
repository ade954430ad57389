package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/storyapi/internal/model"
)

// MemoryStore はプロセス内でドキュメントを保持するStore実装。
// MONGO_URI=memory:// のときとテストで使う。再起動でデータは消える。
type MemoryStore struct {
	users   *MemoryUserRepo
	figures *MemoryFigureRepo
	stories *MemoryStoryRepo
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: &MemoryUserRepo{docs: newMemCollection(
			func(u *model.User) string { return u.ID },
			func(u *model.User) time.Time { return u.CreatedAt },
		)},
		figures: &MemoryFigureRepo{docs: newMemCollection(
			func(f *model.Figure) string { return f.ID },
			func(f *model.Figure) time.Time { return f.CreatedAt },
		)},
		stories: &MemoryStoryRepo{docs: newMemCollection(
			func(s *model.Story) string { return s.ID },
			func(s *model.Story) time.Time { return s.CreatedAt },
		)},
	}
}

func (s *MemoryStore) Users() UserRepository     { return s.users }
func (s *MemoryStore) Figures() FigureRepository { return s.figures }
func (s *MemoryStore) Stories() StoryRepository  { return s.stories }

// Ping は常に成功する。
func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// Close は何もしない。
func (s *MemoryStore) Close() error { return nil }

// memCollection は1コレクション分のドキュメントを保持する。
// 取り出す値は常にコピーで、呼び出し側の変更はストアに反映されない。
type memCollection[T any] struct {
	mu        sync.RWMutex
	docs      map[string]T
	idOf      func(*T) string
	createdAt func(*T) time.Time
}

func newMemCollection[T any](idOf func(*T) string, createdAt func(*T) time.Time) *memCollection[T] {
	return &memCollection[T]{
		docs:      make(map[string]T),
		idOf:      idOf,
		createdAt: createdAt,
	}
}

func (c *memCollection[T]) get(id string) *T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[id]
	if !ok {
		return nil
	}
	return &doc
}

// find は条件に一致するドキュメントをcreatedAtの降順で返す。
func (c *memCollection[T]) find(match func(*T) bool) []*T {
	c.mu.RLock()
	out := []*T{}
	for _, doc := range c.docs {
		d := doc
		if match(&d) {
			out = append(out, &d)
		}
	}
	c.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := c.createdAt(out[i]), c.createdAt(out[j])
		if ti.Equal(tj) {
			return c.idOf(out[i]) < c.idOf(out[j])
		}
		return ti.After(tj)
	})
	return out
}

// insert はドキュメントを追加する。unique が true を返す既存ドキュメントがあれば ErrDuplicate。
func (c *memCollection[T]) insert(doc *T, conflicts func(existing *T) bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.idOf(doc)
	if _, exists := c.docs[id]; exists {
		return ErrDuplicate
	}
	if conflicts != nil {
		for _, existing := range c.docs {
			e := existing
			if conflicts(&e) {
				return ErrDuplicate
			}
		}
	}
	c.docs[id] = *doc
	return nil
}

// update はドキュメントにパッチを適用する。
// パッチのキーはJSONタグ名で、JSONを経由して構造体に戻す。
func (c *memCollection[T]) update(id string, patch Patch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, ok := c.docs[id]
	if !ok {
		return ErrNotFound
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	for k, v := range patch {
		fields[k] = v
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode patch: %w", err)
	}
	var updated T
	if err := json.Unmarshal(merged, &updated); err != nil {
		return fmt.Errorf("failed to apply patch: %w", err)
	}
	c.docs[id] = updated
	return nil
}

func (c *memCollection[T]) remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.docs[id]; !ok {
		return ErrNotFound
	}
	delete(c.docs, id)
	return nil
}

// MemoryUserRepo はMemoryStoreのユーザーリポジトリ。
type MemoryUserRepo struct {
	docs *memCollection[model.User]
}

func (r *MemoryUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.docs.get(id), nil
}

func (r *MemoryUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if email == "" {
		return nil, nil
	}
	found := r.docs.find(func(u *model.User) bool { return u.Email == email })
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

func (r *MemoryUserRepo) Find(ctx context.Context, f UserFilter) ([]*model.User, error) {
	return r.docs.find(func(u *model.User) bool {
		return matches(f.ID, u.ID) && matches(f.Email, u.Email) && matches(f.Username, u.Username)
	}), nil
}

func (r *MemoryUserRepo) Create(ctx context.Context, user *model.User) error {
	return r.docs.insert(user, func(existing *model.User) bool {
		return existing.Email == user.Email
	})
}

func (r *MemoryUserRepo) Update(ctx context.Context, id string, patch Patch) error {
	return r.docs.update(id, patch)
}

func (r *MemoryUserRepo) DeleteByID(ctx context.Context, id string) error {
	return r.docs.remove(id)
}

// MemoryFigureRepo はMemoryStoreのフィギュアリポジトリ。
type MemoryFigureRepo struct {
	docs *memCollection[model.Figure]
}

func (r *MemoryFigureRepo) FindByID(ctx context.Context, id string) (*model.Figure, error) {
	return r.docs.get(id), nil
}

func (r *MemoryFigureRepo) Find(ctx context.Context, f FigureFilter) ([]*model.Figure, error) {
	return r.docs.find(func(fig *model.Figure) bool {
		return matches(f.ID, fig.ID) && matches(f.CreatedBy, fig.CreatedBy)
	}), nil
}

func (r *MemoryFigureRepo) Create(ctx context.Context, figure *model.Figure) error {
	return r.docs.insert(figure, nil)
}

func (r *MemoryFigureRepo) Update(ctx context.Context, id string, patch Patch) error {
	return r.docs.update(id, patch)
}

func (r *MemoryFigureRepo) DeleteByID(ctx context.Context, id string) error {
	return r.docs.remove(id)
}

// MemoryStoryRepo はMemoryStoreのストーリーリポジトリ。
type MemoryStoryRepo struct {
	docs *memCollection[model.Story]
}

func (r *MemoryStoryRepo) FindByID(ctx context.Context, id string) (*model.Story, error) {
	return r.docs.get(id), nil
}

func (r *MemoryStoryRepo) Find(ctx context.Context, f StoryFilter) ([]*model.Story, error) {
	return r.docs.find(func(s *model.Story) bool {
		parent := ""
		if s.ParentID != nil {
			parent = *s.ParentID
		}
		return matches(f.ID, s.ID) &&
			matches(f.CreatedBy, s.CreatedBy) &&
			matches(f.FigureID, s.FigureID) &&
			matches(f.ParentID, parent)
	}), nil
}

func (r *MemoryStoryRepo) Create(ctx context.Context, story *model.Story) error {
	return r.docs.insert(story, nil)
}

func (r *MemoryStoryRepo) Update(ctx context.Context, id string, patch Patch) error {
	return r.docs.update(id, patch)
}

func (r *MemoryStoryRepo) DeleteByID(ctx context.Context, id string) error {
	return r.docs.remove(id)
}

// matches は条件が空なら常にtrue、それ以外は完全一致を要求する。
func matches(want, got string) bool {
	return want == "" || want == got
}

var (
	_ Store            = (*MemoryStore)(nil)
	_ UserRepository   = (*MemoryUserRepo)(nil)
	_ FigureRepository = (*MemoryFigureRepo)(nil)
	_ StoryRepository  = (*MemoryStoryRepo)(nil)
)
