package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"dbgate-backend/infra"
	"dbgate-backend/metrics"
	"dbgate-backend/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// pgPoolEntry 單一 ConnectionKey 對應的連線池。
// ready 在池建立完成（或失敗）後關閉；建立失敗時 entry 已自 registry 移除，
// 下一個請求會重新建池。
type pgPoolEntry struct {
	id    string
	ready chan struct{}
	pool  *pgxpool.Pool
	err   error

	mu       sync.Mutex
	lastUsed time.Time
}

func (e *pgPoolEntry) touch(now time.Time) {
	e.mu.Lock()
	e.lastUsed = now
	e.mu.Unlock()
}

func (e *pgPoolEntry) idleSince() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastUsed
}

// PostgresPoolService 管理所有呼叫端提供的 PostgreSQL 連線池。
// registry 的結構性變動（新增／回收）走 mu；既有池的取用只讀 map，不會被建池 I/O 擋住。
type PostgresPoolService struct {
	logger  zerolog.Logger
	mu      sync.RWMutex
	entries map[string]*pgPoolEntry

	minConns      int
	maxConns      int
	acquireWait   time.Duration
	idleThreshold time.Duration

	// 可在測試中替換的建池函數與時鐘
	newPool func(ctx context.Context, info model.PostgresConnInfo) (*pgxpool.Pool, error)
	now     func() time.Time
}

func NewPostgresPoolService(logger zerolog.Logger) *PostgresPoolService {
	cfg := infra.AppConfig.Pool
	s := &PostgresPoolService{
		logger:        logger.With().Str("module", "postgres_pool_service").Logger(),
		entries:       make(map[string]*pgPoolEntry),
		minConns:      cfg.MinConns,
		maxConns:      cfg.MaxConns,
		acquireWait:   time.Duration(cfg.ConnectTimeoutSecs) * time.Second,
		idleThreshold: time.Duration(cfg.IdleThresholdMins) * time.Minute,
		now:           time.Now,
	}
	s.newPool = s.createPool
	return s
}

// NewPostgresPoolServiceForTesting 使用注入的建池函數，測試不需要真實資料庫
func NewPostgresPoolServiceForTesting(logger zerolog.Logger, idleThreshold time.Duration,
	newPool func(ctx context.Context, info model.PostgresConnInfo) (*pgxpool.Pool, error)) *PostgresPoolService {
	s := &PostgresPoolService{
		logger:        logger.With().Str("module", "postgres_pool_service").Logger(),
		entries:       make(map[string]*pgPoolEntry),
		minConns:      1,
		maxConns:      5,
		acquireWait:   time.Second,
		idleThreshold: idleThreshold,
		newPool:       newPool,
		now:           time.Now,
	}
	return s
}

func (s *PostgresPoolService) createPool(ctx context.Context, info model.PostgresConnInfo) (*pgxpool.Pool, error) {
	return infra.NewPostgresPool(ctx, infra.PostgresConfig{
		Host:           info.Host,
		Port:           info.Port,
		Database:       info.Database,
		User:           info.User,
		Password:       info.Password,
		SSLMode:        info.SSLMode,
		ConnectTimeout: info.ConnectTimeout,
		MinConns:       s.minConns,
		MaxConns:       s.maxConns,
	})
}

// Acquire 取得 key 對應池的一條連線，池不存在時先建池。
// 建池不在結構鎖內進行，同 key 的並發請求等待同一次建池結果。
func (s *PostgresPoolService) Acquire(ctx context.Context, info model.PostgresConnInfo) (*pgxpool.Conn, model.ConnectionKey, error) {
	key := info.Key()
	entry, pending := s.getOrCreateEntry(key)

	if pending {
		pool, err := s.newPool(ctx, info)
		if err != nil {
			// 失敗的建池嘗試不留存，下一個請求會重試
			s.removeEntry(key.String(), entry)
			entry.err = err
			close(entry.ready)
			metrics.RecordPoolCreateFailed(string(model.BackendFamilyPostgres))
			s.logger.Error().Err(err).Str("pool_key", key.String()).Msg("建立 PostgreSQL 連線池失敗")
			return nil, key, &ConnectionError{Family: model.BackendFamilyPostgres, Key: key.String(), Err: err}
		}
		entry.pool = pool
		close(entry.ready)
		metrics.RecordPoolCreated(string(model.BackendFamilyPostgres))
		s.logger.Info().Str("pool_key", key.String()).Str("pool_id", entry.id).Msg("建立 PostgreSQL 連線池")
	}

	select {
	case <-entry.ready:
	case <-ctx.Done():
		return nil, key, ctx.Err()
	}

	if entry.err != nil {
		return nil, key, &ConnectionError{Family: model.BackendFamilyPostgres, Key: key.String(), Err: entry.err}
	}

	// 先刷新 lastUsed 再取連線，避免回收器在取用期間關閉這個池
	entry.touch(s.now())

	acquireCtx, cancel := context.WithTimeout(ctx, s.acquireWait)
	defer cancel()

	conn, err := entry.pool.Acquire(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, key, ErrPoolExhausted
		}
		return nil, key, &ConnectionError{Family: model.BackendFamilyPostgres, Key: key.String(), Err: err}
	}

	entry.touch(s.now())
	return conn, key, nil
}

// Release 歸還連線。池已被回收時 pgxpool 會直接銷毀這條連線而不是報錯。
func (s *PostgresPoolService) Release(key model.ConnectionKey, conn *pgxpool.Conn) {
	if conn == nil {
		return
	}
	s.mu.RLock()
	entry, exists := s.entries[key.String()]
	s.mu.RUnlock()

	conn.Release()
	if exists {
		entry.touch(s.now())
	}
}

// PoolID 回傳 key 對應池的識別碼，測試用來驗證池重用
func (s *PostgresPoolService) PoolID(key model.ConnectionKey) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key.String()]
	if !ok {
		return "", false
	}
	return entry.id, true
}

// PoolCount 目前管理的池數量
func (s *PostgresPoolService) PoolCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// ReapIdle 回收閒置超過門檻的池。lastUsed 在結構鎖內重新確認，
// 近期有活動的池不會被回收。
func (s *PostgresPoolService) ReapIdle(ctx context.Context) int {
	now := s.now()
	var toClose []*pgPoolEntry

	s.mu.Lock()
	for keyStr, entry := range s.entries {
		select {
		case <-entry.ready:
		default:
			continue // 建池中，跳過
		}
		if entry.err == nil && now.Sub(entry.idleSince()) > s.idleThreshold {
			delete(s.entries, keyStr)
			toClose = append(toClose, entry)
			s.logger.Info().Str("pool_key", keyStr).Str("pool_id", entry.id).Msg("關閉閒置 PostgreSQL 連線池")
		}
	}
	s.mu.Unlock()

	for _, entry := range toClose {
		entry.pool.Close()
	}
	metrics.RecordPoolEvicted(string(model.BackendFamilyPostgres), len(toClose))
	return len(toClose)
}

// Close 關閉所有池，行程關閉時呼叫
func (s *PostgresPoolService) Close() {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*pgPoolEntry)
	s.mu.Unlock()

	for _, entry := range entries {
		select {
		case <-entry.ready:
			if entry.err == nil {
				entry.pool.Close()
			}
		default:
		}
	}
}

func (s *PostgresPoolService) getOrCreateEntry(key model.ConnectionKey) (*pgPoolEntry, bool) {
	keyStr := key.String()

	s.mu.RLock()
	entry, ok := s.entries[keyStr]
	s.mu.RUnlock()
	if ok {
		return entry, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[keyStr]; ok {
		return entry, false
	}
	entry = &pgPoolEntry{
		id:       uuid.NewString(),
		ready:    make(chan struct{}),
		lastUsed: s.now(),
	}
	s.entries[keyStr] = entry
	return entry, true
}

func (s *PostgresPoolService) removeEntry(keyStr string, entry *pgPoolEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.entries[keyStr]; ok && current == entry {
		delete(s.entries, keyStr)
	}
}
