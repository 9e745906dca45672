package service

import (
	"context"
	"sync"
	"time"

	"dbgate-backend/infra"
	"dbgate-backend/metrics"
	"dbgate-backend/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
)

// mongoClientEntry 單一 ConnectionKey 對應的 MongoDB client。
// client 內建連線池，取用即共用；ready 的語意與 PostgreSQL 池相同。
type mongoClientEntry struct {
	id     string
	ready  chan struct{}
	client *mongo.Client
	err    error

	mu       sync.Mutex
	lastUsed time.Time
}

func (e *mongoClientEntry) touch(now time.Time) {
	e.mu.Lock()
	e.lastUsed = now
	e.mu.Unlock()
}

func (e *mongoClientEntry) idleSince() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastUsed
}

// MongoPoolService 管理所有呼叫端提供的 MongoDB client
type MongoPoolService struct {
	logger  zerolog.Logger
	mu      sync.RWMutex
	entries map[string]*mongoClientEntry

	minPoolSize   int
	maxPoolSize   int
	idleThreshold time.Duration

	newClient func(ctx context.Context, info model.MongoConnInfo) (*mongo.Client, error)
	now       func() time.Time
}

func NewMongoPoolService(logger zerolog.Logger) *MongoPoolService {
	cfg := infra.AppConfig.Pool
	s := &MongoPoolService{
		logger:        logger.With().Str("module", "mongo_pool_service").Logger(),
		entries:       make(map[string]*mongoClientEntry),
		minPoolSize:   cfg.MinConns,
		maxPoolSize:   cfg.MaxConns,
		idleThreshold: time.Duration(cfg.IdleThresholdMins) * time.Minute,
		now:           time.Now,
	}
	s.newClient = s.createClient
	return s
}

// NewMongoPoolServiceForTesting 使用注入的建線函數，測試不需要真實資料庫
func NewMongoPoolServiceForTesting(logger zerolog.Logger, idleThreshold time.Duration,
	newClient func(ctx context.Context, info model.MongoConnInfo) (*mongo.Client, error)) *MongoPoolService {
	return &MongoPoolService{
		logger:        logger.With().Str("module", "mongo_pool_service").Logger(),
		entries:       make(map[string]*mongoClientEntry),
		minPoolSize:   1,
		maxPoolSize:   5,
		idleThreshold: idleThreshold,
		newClient:     newClient,
		now:           time.Now,
	}
}

func (s *MongoPoolService) createClient(ctx context.Context, info model.MongoConnInfo) (*mongo.Client, error) {
	return infra.NewMongoClient(ctx, infra.MongoConfig{
		Host:             info.Host,
		Port:             info.Port,
		Database:         info.Database,
		Username:         info.Username,
		Password:         info.Password,
		AuthSource:       info.AuthSource,
		ConnectTimeoutMS: info.ConnectTimeoutMS,
		MinPoolSize:      s.minPoolSize,
		MaxPoolSize:      s.maxPoolSize,
	})
}

// Client 取得 key 對應的 client，不存在時先建立並 ping 驗證
func (s *MongoPoolService) Client(ctx context.Context, info model.MongoConnInfo) (*mongo.Client, model.ConnectionKey, error) {
	key := info.Key()
	entry, pending := s.getOrCreateEntry(key)

	if pending {
		client, err := s.newClient(ctx, info)
		if err != nil {
			s.removeEntry(key.String(), entry)
			entry.err = err
			close(entry.ready)
			metrics.RecordPoolCreateFailed(string(model.BackendFamilyMongo))
			s.logger.Error().Err(err).Str("pool_key", key.String()).Msg("建立 MongoDB 客戶端失敗")
			return nil, key, &ConnectionError{Family: model.BackendFamilyMongo, Key: key.String(), Err: err}
		}
		entry.client = client
		close(entry.ready)
		metrics.RecordPoolCreated(string(model.BackendFamilyMongo))
		s.logger.Info().Str("pool_key", key.String()).Str("pool_id", entry.id).Msg("建立 MongoDB 客戶端")
	}

	select {
	case <-entry.ready:
	case <-ctx.Done():
		return nil, key, ctx.Err()
	}

	if entry.err != nil {
		return nil, key, &ConnectionError{Family: model.BackendFamilyMongo, Key: key.String(), Err: entry.err}
	}

	entry.touch(s.now())
	return entry.client, key, nil
}

// Touch 指令完成後刷新 lastUsed
func (s *MongoPoolService) Touch(key model.ConnectionKey) {
	s.mu.RLock()
	entry, exists := s.entries[key.String()]
	s.mu.RUnlock()
	if exists {
		entry.touch(s.now())
	}
}

// PoolID 回傳 key 對應 client 的識別碼，測試用來驗證重用
func (s *MongoPoolService) PoolID(key model.ConnectionKey) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key.String()]
	if !ok {
		return "", false
	}
	return entry.id, true
}

// PoolCount 目前管理的 client 數量
func (s *MongoPoolService) PoolCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// ReapIdle 回收閒置超過門檻的 client
func (s *MongoPoolService) ReapIdle(ctx context.Context) int {
	now := s.now()
	var toClose []*mongoClientEntry

	s.mu.Lock()
	for keyStr, entry := range s.entries {
		select {
		case <-entry.ready:
		default:
			continue
		}
		if entry.err == nil && now.Sub(entry.idleSince()) > s.idleThreshold {
			delete(s.entries, keyStr)
			toClose = append(toClose, entry)
			s.logger.Info().Str("pool_key", keyStr).Str("pool_id", entry.id).Msg("關閉閒置 MongoDB 客戶端")
		}
	}
	s.mu.Unlock()

	for _, entry := range toClose {
		if err := entry.client.Disconnect(ctx); err != nil {
			s.logger.Error().Err(err).Str("pool_id", entry.id).Msg("關閉 MongoDB 客戶端失敗")
		}
	}
	metrics.RecordPoolEvicted(string(model.BackendFamilyMongo), len(toClose))
	return len(toClose)
}

// Close 關閉所有 client，行程關閉時呼叫
func (s *MongoPoolService) Close(ctx context.Context) {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*mongoClientEntry)
	s.mu.Unlock()

	for _, entry := range entries {
		select {
		case <-entry.ready:
			if entry.err == nil {
				_ = entry.client.Disconnect(ctx)
			}
		default:
		}
	}
}

func (s *MongoPoolService) getOrCreateEntry(key model.ConnectionKey) (*mongoClientEntry, bool) {
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
	entry = &mongoClientEntry{
		id:       uuid.NewString(),
		ready:    make(chan struct{}),
		lastUsed: s.now(),
	}
	s.entries[keyStr] = entry
	return entry, true
}

func (s *MongoPoolService) removeEntry(keyStr string, entry *mongoClientEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.entries[keyStr]; ok && current == entry {
		delete(s.entries, keyStr)
	}
}
