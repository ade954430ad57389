package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/storyapi/internal/model"
	"github.com/hitoshi/storyapi/internal/security"
)

// noisePNG は圧縮が効かないPNG画像を生成する。
func noisePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	rnd := rand.New(rand.NewSource(1))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(rnd.Intn(256)), uint8(rnd.Intn(256)), uint8(rnd.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakeFetcher struct {
	data []byte
	err  error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, maxSize int64) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	if int64(len(f.data)) > maxSize {
		return nil, "", security.ErrResponseTooLarge
	}
	return f.data, "image/png", nil
}

type recordingObserver struct {
	mu      sync.Mutex
	results []string
}

func (o *recordingObserver) ObserveUpload(kind, result string, _ int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, kind+":"+result)
}

func newTestService(t *testing.T, cfg Config, fetcher security.RemoteFetcher) (*Service, *FSStore, *recordingObserver) {
	t.Helper()
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	obs := &recordingObserver{}
	return NewService(store, NewLocalLocker(), fetcher, obs, cfg), store, obs
}

func requireFileError(t *testing.T, err error, status int) {
	t.Helper()
	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr), "expected *model.APIError, got %v", err)
	assert.Equal(t, status, apiErr.Status)
}

func TestService_StageAndPromote(t *testing.T) {
	svc, store, obs := newTestService(t, Config{MaxSize: 1 << 20, MinSize: 1}, nil)
	ctx := context.Background()
	data := noisePNG(t, 16, 16)

	obj, err := svc.Stage(ctx, "u1", KindStory, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "image/png", obj.ContentType)
	assert.Equal(t, "image.png", obj.Name)
	assert.Equal(t, []string{"story:staged"}, obs.results)

	m, err := svc.Promote(ctx, "u1", KindStory, "s1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "story/s1/image.png", m.Ref)
	assert.Equal(t, "image/png", m.Type)
	assert.Equal(t, int64(len(data)), m.Size)

	staged, err := store.Staged(ctx, StagingKey("u1", KindStory))
	require.NoError(t, err)
	assert.Nil(t, staged, "staging must be empty after promote")
}

// TestService_PromoteIdempotent はプロモートの再実行が同じ結果を返すことを検証する。
func TestService_PromoteIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t, Config{MaxSize: 1 << 20, MinSize: 1}, nil)
	ctx := context.Background()

	_, err := svc.Stage(ctx, "u1", KindFigure, bytes.NewReader(noisePNG(t, 8, 8)))
	require.NoError(t, err)

	first, err := svc.Promote(ctx, "u1", KindFigure, "f1")
	require.NoError(t, err)
	second, err := svc.Promote(ctx, "u1", KindFigure, "f1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestService_PromoteNothingStaged(t *testing.T) {
	svc, _, _ := newTestService(t, Config{MaxSize: 1 << 20, MinSize: 1}, nil)

	m, err := svc.Promote(context.Background(), "u1", KindFigure, "f1")
	require.NoError(t, err)
	assert.Nil(t, m)
}

// TestService_StageReplaces は再アップロードで以前のステージングが置き換わることを検証する。
func TestService_StageReplaces(t *testing.T) {
	svc, store, _ := newTestService(t, Config{MaxSize: 1 << 20, MinSize: 1}, nil)
	ctx := context.Background()

	_, err := svc.Stage(ctx, "u1", KindStory, bytes.NewReader(noisePNG(t, 8, 8)))
	require.NoError(t, err)
	second := noisePNG(t, 20, 20)
	_, err = svc.Stage(ctx, "u1", KindStory, bytes.NewReader(second))
	require.NoError(t, err)

	staged, err := store.Staged(ctx, StagingKey("u1", KindStory))
	require.NoError(t, err)
	require.NotNil(t, staged)
	assert.Equal(t, int64(len(second)), staged.Size)
}

func TestService_StageRejects(t *testing.T) {
	png16 := noisePNG(t, 16, 16)

	tests := []struct {
		name   string
		cfg    Config
		data   []byte
		status int
	}{
		{"上限超過", Config{MaxSize: 100, MinSize: 1}, png16, model.StatusFileTooLarge},
		{"下限未満", Config{MaxSize: 1 << 20, MinSize: int64(len(png16)) + 1}, png16, model.StatusFileTooSmall},
		{"空", Config{MaxSize: 1 << 20, MinSize: 0}, nil, model.StatusFileTooSmall},
		{"テキスト", Config{MaxSize: 1 << 20, MinSize: 1}, []byte(strings.Repeat("hello ", 50)), model.StatusFileNotImage},
		{"PNGヘッダーのみ", Config{MaxSize: 1 << 20, MinSize: 1}, append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...), model.StatusFileNotImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, obs := newTestService(t, tt.cfg, nil)
			_, err := svc.Stage(context.Background(), "u1", KindFigure, bytes.NewReader(tt.data))
			requireFileError(t, err, tt.status)
			assert.Equal(t, []string{"figure:rejected"}, obs.results)
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestService_StageUnreadable(t *testing.T) {
	svc, _, _ := newTestService(t, Config{MaxSize: 1 << 20, MinSize: 1}, nil)

	_, err := svc.Stage(context.Background(), "u1", KindFigure, failingReader{})
	requireFileError(t, err, model.StatusFileUnreadable)
}

func TestService_StageUnknownKind(t *testing.T) {
	svc, _, _ := newTestService(t, Config{MaxSize: 1 << 20, MinSize: 1}, nil)

	_, err := svc.Stage(context.Background(), "u1", Kind("avatar"), bytes.NewReader(noisePNG(t, 8, 8)))
	requireFileError(t, err, model.StatusInvalidData)
}

func TestService_StageFromURL(t *testing.T) {
	data := noisePNG(t, 16, 16)

	t.Run("成功", func(t *testing.T) {
		svc, _, _ := newTestService(t, Config{MaxSize: 1 << 20, MinSize: 1}, &fakeFetcher{data: data})
		obj, err := svc.StageFromURL(context.Background(), "u1", KindFigure, "https://example.com/a.png")
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), obj.Size)
	})

	t.Run("サイズ超過", func(t *testing.T) {
		svc, _, _ := newTestService(t, Config{MaxSize: 10, MinSize: 1}, &fakeFetcher{data: data})
		_, err := svc.StageFromURL(context.Background(), "u1", KindFigure, "https://example.com/a.png")
		requireFileError(t, err, model.StatusFileTooLarge)
	})

	t.Run("ブロックされたURL", func(t *testing.T) {
		svc, _, _ := newTestService(t, Config{MaxSize: 1 << 20, MinSize: 1}, &fakeFetcher{err: security.ErrBlockedURL})
		_, err := svc.StageFromURL(context.Background(), "u1", KindFigure, "http://127.0.0.1/a.png")
		requireFileError(t, err, model.StatusInvalidData)
	})

	t.Run("取得失敗", func(t *testing.T) {
		svc, _, _ := newTestService(t, Config{MaxSize: 1 << 20, MinSize: 1}, &fakeFetcher{err: errors.New("timeout")})
		_, err := svc.StageFromURL(context.Background(), "u1", KindFigure, "https://example.com/a.png")
		requireFileError(t, err, model.StatusFileUnreadable)
	})

	t.Run("フェッチャー無し", func(t *testing.T) {
		svc, _, _ := newTestService(t, Config{MaxSize: 1 << 20, MinSize: 1}, nil)
		_, err := svc.StageFromURL(context.Background(), "u1", KindFigure, "https://example.com/a.png")
		requireFileError(t, err, model.StatusInvalidData)
	})
}

func TestService_Remove(t *testing.T) {
	svc, store, _ := newTestService(t, Config{MaxSize: 1 << 20, MinSize: 1}, nil)
	ctx := context.Background()

	_, err := svc.Stage(ctx, "u1", KindFigure, bytes.NewReader(noisePNG(t, 8, 8)))
	require.NoError(t, err)
	_, err = svc.Promote(ctx, "u1", KindFigure, "f1")
	require.NoError(t, err)

	require.NoError(t, svc.Remove(ctx, KindFigure, "f1"))
	obj, err := store.Lookup(ctx, Destination(KindFigure, "f1"))
	require.NoError(t, err)
	assert.Nil(t, obj)

	// 存在しない場合もエラーにしない
	assert.NoError(t, svc.Remove(ctx, KindFigure, "f1"))
}

func TestService_PurgeStaging(t *testing.T) {
	svc, store, _ := newTestService(t, Config{MaxSize: 1 << 20, MinSize: 1}, nil)
	ctx := context.Background()

	_, err := svc.Stage(ctx, "u1", KindFigure, bytes.NewReader(noisePNG(t, 8, 8)))
	require.NoError(t, err)
	_, err = svc.Stage(ctx, "u2", KindStory, bytes.NewReader(noisePNG(t, 8, 8)))
	require.NoError(t, err)

	n, err := svc.PurgeStaging(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "fresh staging must be kept")

	svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	n, err = svc.PurgeStaging(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := store.ListStaged(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
