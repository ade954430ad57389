package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker はステージングキー単位の排他制御を提供する。
// 同じユーザーによる同時アップロードとプロモートが互いを上書きしないようにする。
type Locker interface {
	// Lock はkeyのロックを取得し、解放関数を返す。ctxが終了すると待機を中止する。
	Lock(ctx context.Context, key string) (func(), error)
}

// LocalLocker はプロセス内のキー単位ロック。
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker はLocalLockerを生成する。
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*lockSlot)}
}

// Lock はkeyのロックを取得する。
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(key, s)
		})
	}, nil
}

// release は参照カウントを減らし、誰も使っていないスロットを破棄する。
func (l *LocalLocker) release(key string, s *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

const redisLockPrefix = "storyapi:lock:"

// unlockScript は自分が取得したロックだけを削除する。
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// redisClient はRedisLockerが使うコマンドの集合。*redis.Clientが満たす。
type redisClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisLocker は複数プロセス間で共有するRedisベースのロック。
// SET NX PXで取得し、トークンを照合するスクリプトで解放する。
type RedisLocker struct {
	client redisClient
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker はRedisLockerを生成する。ttlはプロセスが落ちた場合にロックが自然解放されるまでの時間。
func NewRedisLocker(client redisClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, retry: 50 * time.Millisecond}
}

// Lock はロックを取得できるまでretry間隔でSET NXを繰り返す。
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := redisLockPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// リクエストのctxが既に終了していても解放できるよう独立したctxを使う
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := unlockScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				slog.Warn("ロックの解放に失敗しました。TTL経過後に解放されます",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			}
		})
	}, nil
}

var (
	_ Locker = (*LocalLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)
