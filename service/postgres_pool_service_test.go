package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dbgate-backend/model"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

var testLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

// 建立一個惰性的 pgxpool，不會真的連線，註冊表測試用
func newLazyPool(t *testing.T) func(ctx context.Context, info model.PostgresConnInfo) (*pgxpool.Pool, error) {
	t.Helper()
	return func(ctx context.Context, info model.PostgresConnInfo) (*pgxpool.Pool, error) {
		dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s", info.Host, info.Port, info.Database, info.User)
		cfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, err
		}
		cfg.MinConns = 0
		return pgxpool.NewWithConfig(ctx, cfg)
	}
}

func pgConnInfo(user string) model.PostgresConnInfo {
	return model.PostgresConnInfo{
		Host:     "127.0.0.1",
		Port:     1, // 不可達的端口，惰性池不會真的連
		Database: "appdb",
		User:     user,
		Password: "secret",
	}
}

// 同一組連線資訊重複取用必須命中同一個池，建池函數只被呼叫一次
func TestPostgresPoolReuse(t *testing.T) {
	var created int64
	lazy := newLazyPool(t)
	svc := NewPostgresPoolServiceForTesting(testLogger, 10*time.Minute,
		func(ctx context.Context, info model.PostgresConnInfo) (*pgxpool.Pool, error) {
			atomic.AddInt64(&created, 1)
			return lazy(ctx, info)
		})
	defer svc.Close()

	info := pgConnInfo("alice")

	// 第一次取用會建池；池指向不可達端口，租連線失敗是預期的
	_, key, _ := svc.Acquire(context.Background(), info)
	firstID, ok := svc.PoolID(key)
	if !ok {
		t.Fatal("第一次取用後註冊表應存在該池")
	}

	_, _, _ = svc.Acquire(context.Background(), info)
	secondID, _ := svc.PoolID(key)

	if got := atomic.LoadInt64(&created); got != 1 {
		t.Fatalf("同 key 的建池次數 = %d, 預期 1", got)
	}
	if firstID != secondID {
		t.Fatalf("池識別碼改變了: %s != %s", firstID, secondID)
	}
	if svc.PoolCount() != 1 {
		t.Fatalf("PoolCount = %d, 預期 1", svc.PoolCount())
	}
}

// 不同的用戶（即使同主機同資料庫）必須各自一個池
func TestPostgresPoolDistinctPrincipals(t *testing.T) {
	var created int64
	lazy := newLazyPool(t)
	svc := NewPostgresPoolServiceForTesting(testLogger, 10*time.Minute,
		func(ctx context.Context, info model.PostgresConnInfo) (*pgxpool.Pool, error) {
			atomic.AddInt64(&created, 1)
			return lazy(ctx, info)
		})
	defer svc.Close()

	_, _, _ = svc.Acquire(context.Background(), pgConnInfo("alice"))
	_, _, _ = svc.Acquire(context.Background(), pgConnInfo("bob"))

	if got := atomic.LoadInt64(&created); got != 2 {
		t.Fatalf("建池次數 = %d, 預期 2", got)
	}
	if svc.PoolCount() != 2 {
		t.Fatalf("PoolCount = %d, 預期 2", svc.PoolCount())
	}
}

// 同密碼不同的連線資訊視為不同 key
func TestPostgresPoolDistinctCredentials(t *testing.T) {
	infoA := pgConnInfo("alice")
	infoB := pgConnInfo("alice")
	infoB.Password = "other"

	if infoA.Key().String() == infoB.Key().String() {
		t.Fatal("不同密碼的連線資訊不應共用 key")
	}
}

// 建池失敗不得留下殘餘記錄，下一個請求必須重試
func TestPostgresPoolFailedCreateNotCached(t *testing.T) {
	var created int64
	svc := NewPostgresPoolServiceForTesting(testLogger, 10*time.Minute,
		func(ctx context.Context, info model.PostgresConnInfo) (*pgxpool.Pool, error) {
			atomic.AddInt64(&created, 1)
			return nil, errors.New("authentication failed")
		})
	defer svc.Close()

	info := pgConnInfo("alice")

	_, _, err := svc.Acquire(context.Background(), info)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("預期 ConnectionError, 得到 %v", err)
	}
	if svc.PoolCount() != 0 {
		t.Fatalf("失敗的建池不應留在註冊表, PoolCount = %d", svc.PoolCount())
	}

	_, _, _ = svc.Acquire(context.Background(), info)
	if got := atomic.LoadInt64(&created); got != 2 {
		t.Fatalf("第二次取用應重試建池, 建池次數 = %d", got)
	}
}

// 同 key 的並發取用只建一次池
func TestPostgresPoolConcurrentSameKey(t *testing.T) {
	var created int64
	lazy := newLazyPool(t)
	svc := NewPostgresPoolServiceForTesting(testLogger, 10*time.Minute,
		func(ctx context.Context, info model.PostgresConnInfo) (*pgxpool.Pool, error) {
			atomic.AddInt64(&created, 1)
			time.Sleep(50 * time.Millisecond) // 拉長建池窗口
			return lazy(ctx, info)
		})
	defer svc.Close()

	info := pgConnInfo("alice")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = svc.Acquire(context.Background(), info)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&created); got != 1 {
		t.Fatalf("並發取用的建池次數 = %d, 預期 1", got)
	}
}

// 閒置超過門檻的池被回收，近期使用過的保留
func TestPostgresPoolReapIdle(t *testing.T) {
	lazy := newLazyPool(t)
	svc := NewPostgresPoolServiceForTesting(testLogger, 10*time.Minute, lazy)
	defer svc.Close()

	_, staleKey, _ := svc.Acquire(context.Background(), pgConnInfo("alice"))
	_, freshKey, _ := svc.Acquire(context.Background(), pgConnInfo("bob"))

	// 把時鐘撥快 11 分鐘，再刷新其中一個池
	base := time.Now()
	svc.now = func() time.Time { return base.Add(11 * time.Minute) }

	s := svc
	s.mu.RLock()
	fresh := s.entries[freshKey.String()]
	s.mu.RUnlock()
	fresh.touch(svc.now())

	reaped := svc.ReapIdle(context.Background())
	if reaped != 1 {
		t.Fatalf("回收數 = %d, 預期 1", reaped)
	}
	if _, ok := svc.PoolID(staleKey); ok {
		t.Fatal("閒置池應已被回收")
	}
	if _, ok := svc.PoolID(freshKey); !ok {
		t.Fatal("近期使用的池不應被回收")
	}
}

// 未超過門檻時回收器不做任何事
func TestPostgresPoolReapIdleKeepsActive(t *testing.T) {
	lazy := newLazyPool(t)
	svc := NewPostgresPoolServiceForTesting(testLogger, 10*time.Minute, lazy)
	defer svc.Close()

	_, _, _ = svc.Acquire(context.Background(), pgConnInfo("alice"))

	if reaped := svc.ReapIdle(context.Background()); reaped != 0 {
		t.Fatalf("回收數 = %d, 預期 0", reaped)
	}
	if svc.PoolCount() != 1 {
		t.Fatalf("PoolCount = %d, 預期 1", svc.PoolCount())
	}
}
