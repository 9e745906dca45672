package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"dbgate-backend/model"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongo.Connect 不會立刻撥號，適合當測試用的假建線函數
func newDetachedClient(ctx context.Context, info model.MongoConnInfo) (*mongo.Client, error) {
	return mongo.Connect(ctx, options.Client().ApplyURI("mongodb://127.0.0.1:1"))
}

func mongoConnInfo(username string) model.MongoConnInfo {
	return model.MongoConnInfo{
		Host:     "127.0.0.1",
		Port:     1,
		Database: "appdb",
		Username: username,
		Password: "secret",
	}
}

// 同一組連線資訊必須共用同一個 client
func TestMongoClientReuse(t *testing.T) {
	var created int64
	svc := NewMongoPoolServiceForTesting(testLogger, 10*time.Minute,
		func(ctx context.Context, info model.MongoConnInfo) (*mongo.Client, error) {
			atomic.AddInt64(&created, 1)
			return newDetachedClient(ctx, info)
		})
	defer svc.Close(context.Background())

	info := mongoConnInfo("alice")

	first, key, err := svc.Client(context.Background(), info)
	if err != nil {
		t.Fatalf("取得 client 失敗: %v", err)
	}
	second, _, err := svc.Client(context.Background(), info)
	if err != nil {
		t.Fatalf("第二次取得 client 失敗: %v", err)
	}

	if first != second {
		t.Fatal("同 key 應取得同一個 client")
	}
	if got := atomic.LoadInt64(&created); got != 1 {
		t.Fatalf("建線次數 = %d, 預期 1", got)
	}
	if _, ok := svc.PoolID(key); !ok {
		t.Fatal("註冊表應存在該 client")
	}
}

// 建線失敗不留存，下一個請求重試
func TestMongoClientFailedCreateNotCached(t *testing.T) {
	var created int64
	svc := NewMongoPoolServiceForTesting(testLogger, 10*time.Minute,
		func(ctx context.Context, info model.MongoConnInfo) (*mongo.Client, error) {
			atomic.AddInt64(&created, 1)
			return nil, errors.New("server selection timeout")
		})
	defer svc.Close(context.Background())

	info := mongoConnInfo("alice")

	_, _, err := svc.Client(context.Background(), info)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("預期 ConnectionError, 得到 %v", err)
	}
	if svc.PoolCount() != 0 {
		t.Fatalf("失敗的建線不應留在註冊表, PoolCount = %d", svc.PoolCount())
	}

	_, _, _ = svc.Client(context.Background(), info)
	if got := atomic.LoadInt64(&created); got != 2 {
		t.Fatalf("第二次取用應重試, 建線次數 = %d", got)
	}
}

// Touch 之後的 client 不會被回收
func TestMongoClientReapIdleRespectsTouch(t *testing.T) {
	svc := NewMongoPoolServiceForTesting(testLogger, 10*time.Minute, newDetachedClient)
	defer svc.Close(context.Background())

	_, staleKey, _ := svc.Client(context.Background(), mongoConnInfo("alice"))
	_, freshKey, _ := svc.Client(context.Background(), mongoConnInfo("bob"))

	base := time.Now()
	svc.now = func() time.Time { return base.Add(11 * time.Minute) }
	svc.Touch(freshKey)

	reaped := svc.ReapIdle(context.Background())
	if reaped != 1 {
		t.Fatalf("回收數 = %d, 預期 1", reaped)
	}
	if _, ok := svc.PoolID(staleKey); ok {
		t.Fatal("閒置 client 應已被回收")
	}
	if _, ok := svc.PoolID(freshKey); !ok {
		t.Fatal("Touch 過的 client 不應被回收")
	}
}
