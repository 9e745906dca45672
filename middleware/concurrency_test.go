package middleware

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dbgate-backend/infra"

	"github.com/rs/zerolog"
)

var testLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

func newTestLimiter(maxRequests, pgMax, mongoMax, waitMS int) *ConcurrencyLimiter {
	return NewConcurrencyLimiter(testLogger, infra.ConcurrencyConfig{
		MaxRequests:   maxRequests,
		PostgresMax:   pgMax,
		MongoMax:      mongoMax,
		AcquireWaitMS: waitMS,
	})
}

// 後端閘門大小為 K 時，同時持有的名額不得超過 K
func TestLimiterBoundsConcurrency(t *testing.T) {
	const limit = 3
	l := newTestLimiter(100, limit, limit, 2000)

	var inflight, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background(), "postgresql", l.PostgresSemaphore()); err != nil {
				t.Errorf("取得名額失敗: %v", err)
				return
			}
			cur := atomic.AddInt64(&inflight, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&inflight, -1)
			l.Release("postgresql", l.PostgresSemaphore())
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&peak); got > limit {
		t.Fatalf("同時持有名額峰值 = %d, 上限 %d", got, limit)
	}
}

// 閘門滿載時，等待逾時的請求被拒絕
func TestLimiterRejectsWhenSaturated(t *testing.T) {
	l := newTestLimiter(100, 2, 2, 50)

	for i := 0; i < 2; i++ {
		if err := l.Acquire(context.Background(), "postgresql", l.PostgresSemaphore()); err != nil {
			t.Fatalf("佔滿閘門失敗: %v", err)
		}
	}

	if err := l.Acquire(context.Background(), "postgresql", l.PostgresSemaphore()); err == nil {
		t.Fatal("滿載時應拒絕新請求")
	}

	// 釋放一個名額後恢復
	l.Release("postgresql", l.PostgresSemaphore())
	if err := l.Acquire(context.Background(), "postgresql", l.PostgresSemaphore()); err != nil {
		t.Fatalf("釋放後應可再取得名額: %v", err)
	}
}

// 全域閘門比後端閘門小的時候，全域限制生效
func TestLimiterGlobalGate(t *testing.T) {
	l := newTestLimiter(1, 10, 10, 50)

	if err := l.Acquire(context.Background(), "postgresql", l.PostgresSemaphore()); err != nil {
		t.Fatalf("第一個請求應通過: %v", err)
	}
	if err := l.Acquire(context.Background(), "mongodb", l.MongoSemaphore()); err == nil {
		t.Fatal("全域閘門滿載時應拒絕另一後端的請求")
	}

	l.Release("postgresql", l.PostgresSemaphore())
	if err := l.Acquire(context.Background(), "mongodb", l.MongoSemaphore()); err != nil {
		t.Fatalf("全域名額釋放後應可取得: %v", err)
	}
}

// 後端閘門取不到時必須退還已取得的全域名額
func TestLimiterReleasesGlobalOnBackendFailure(t *testing.T) {
	l := newTestLimiter(2, 1, 1, 50)

	if err := l.Acquire(context.Background(), "postgresql", l.PostgresSemaphore()); err != nil {
		t.Fatalf("佔滿 postgresql 閘門失敗: %v", err)
	}
	// postgresql 滿了，這次取用失敗，但不能吃掉全域名額
	if err := l.Acquire(context.Background(), "postgresql", l.PostgresSemaphore()); err == nil {
		t.Fatal("postgresql 閘門滿載時應拒絕")
	}
	// mongodb 還有名額，全域也應剩一個
	if err := l.Acquire(context.Background(), "mongodb", l.MongoSemaphore()); err != nil {
		t.Fatalf("全域名額不應被失敗的取用吃掉: %v", err)
	}
}

// 已取消的 context 直接拒絕，不佔任何名額
func TestLimiterCancelledContext(t *testing.T) {
	l := newTestLimiter(5, 5, 5, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Acquire(ctx, "postgresql", l.PostgresSemaphore()); err == nil {
		t.Fatal("已取消的 context 應立即失敗")
	}
	// 名額未被佔用
	if err := l.Acquire(context.Background(), "postgresql", l.PostgresSemaphore()); err != nil {
		t.Fatalf("後續請求應可取得名額: %v", err)
	}
}

// 非後端路徑也要受全域閘門約束，不能繞過准入
func TestLimiterGlobalGateCoversNonFamilyPaths(t *testing.T) {
	l := newTestLimiter(1, 10, 10, 50)

	family, backend := l.familyFor("/apiDatabase/auth/token/info")
	if backend != nil {
		t.Fatalf("非後端路徑不應有專屬閘門")
	}
	if err := l.Acquire(context.Background(), family, backend); err != nil {
		t.Fatalf("第一個請求應通過: %v", err)
	}
	// 全域名額被非後端請求佔滿，後端請求也進不來
	if err := l.Acquire(context.Background(), "postgresql", l.PostgresSemaphore()); err == nil {
		t.Fatal("全域閘門滿載時應拒絕後端請求")
	}
	// 第二個非後端請求同樣被擋
	if err := l.Acquire(context.Background(), family, backend); err == nil {
		t.Fatal("全域閘門滿載時應拒絕非後端請求")
	}

	l.Release(family, backend)
	if err := l.Acquire(context.Background(), "postgresql", l.PostgresSemaphore()); err != nil {
		t.Fatalf("全域名額釋放後應可取得: %v", err)
	}
}

func TestFamilyForPath(t *testing.T) {
	l := newTestLimiter(1, 1, 1, 50)

	testCases := []struct {
		path   string
		family string
		gated  bool
	}{
		{"/apiDatabase/postgresql", "postgresql", true},
		{"/apiDatabase/mongodb", "mongodb", true},
		{"/apiDatabase/auth/token", "global", false},
		{"/", "global", false},
		{"/metrics", "global", false},
	}

	for _, tc := range testCases {
		family, backend := l.familyFor(tc.path)
		if tc.gated != (backend != nil) {
			t.Errorf("familyFor(%q) gated = %v, 預期 %v", tc.path, backend != nil, tc.gated)
		}
		if family != tc.family {
			t.Errorf("familyFor(%q) family = %q, 預期 %q", tc.path, family, tc.family)
		}
	}
}
