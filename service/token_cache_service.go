package service

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"time"

	"dbgate-backend/model"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	TOKEN_CACHE_KEY_PREFIX = "token_cache" // Redis key 前綴
)

// TokenCacheService 令牌驗證結果的短 TTL 快取。
// 快照僅供預檢使用，權威扣次一律走帳本交易，所以過期前的舊額度是安全的。
// Redis 不可用時靜默退回帳本查詢。
type TokenCacheService struct {
	logger      zerolog.Logger
	redisClient *redis.Client
	ttl         time.Duration
}

func NewTokenCacheService(logger zerolog.Logger, redisClient *redis.Client, ttlSecs int) *TokenCacheService {
	if ttlSecs <= 0 {
		ttlSecs = 60
	}
	return &TokenCacheService{
		logger:      logger.With().Str("module", "token_cache_service").Logger(),
		redisClient: redisClient,
		ttl:         time.Duration(ttlSecs) * time.Second,
	}
}

// generateCacheKey 令牌原文不進 Redis，key 用 MD5 雜湊
func (s *TokenCacheService) generateCacheKey(accessToken string) string {
	hasher := md5.New()
	hasher.Write([]byte(accessToken))
	return fmt.Sprintf("%s:%x", TOKEN_CACHE_KEY_PREFIX, hasher.Sum(nil))
}

// Get 讀取快取的令牌快照，miss 或 Redis 異常都回傳 false
func (s *TokenCacheService) Get(ctx context.Context, accessToken string) (*model.AccessToken, bool) {
	key := s.generateCacheKey(accessToken)

	result, err := s.redisClient.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Debug().Err(err).Msg("讀取令牌快取失敗，退回帳本查詢")
		}
		return nil, false
	}

	var token model.AccessToken
	if err := json.Unmarshal([]byte(result), &token); err != nil {
		s.logger.Debug().Err(err).Msg("令牌快取內容無法解析，丟棄")
		_ = s.redisClient.Del(ctx, key).Err()
		return nil, false
	}

	return &token, true
}

// Set 寫入令牌快照
func (s *TokenCacheService) Set(ctx context.Context, accessToken string, token *model.AccessToken) {
	key := s.generateCacheKey(accessToken)

	b, err := json.Marshal(token)
	if err != nil {
		s.logger.Debug().Err(err).Msg("序列化令牌快照失敗")
		return
	}

	if err := s.redisClient.Set(ctx, key, b, s.ttl).Err(); err != nil {
		s.logger.Debug().Err(err).Msg("寫入令牌快取失敗")
	}
}

// Invalidate 令牌額度調整後主動失效
func (s *TokenCacheService) Invalidate(ctx context.Context, accessToken string) {
	key := s.generateCacheKey(accessToken)
	if err := s.redisClient.Del(ctx, key).Err(); err != nil {
		s.logger.Debug().Err(err).Msg("清除令牌快取失敗")
	}
}
