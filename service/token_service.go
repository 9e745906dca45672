package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"dbgate-backend/infra"
	"dbgate-backend/metrics"
	"dbgate-backend/model"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

const (
	accessTokenLength   = 48
	accessTokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	consumeTimeout = 30 * time.Second
)

// TokenService 配額帳本：令牌的建立／調整／驗證，以及原子的扣次＋記錄
type TokenService struct {
	logger        zerolog.Logger
	db            *infra.Postgres
	cache         *TokenCacheService
	retentionDays int
}

func NewTokenService(logger zerolog.Logger, db *infra.Postgres, cache *TokenCacheService) *TokenService {
	retentionDays := infra.AppConfig.Retention.Days
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &TokenService{
		logger:        logger.With().Str("module", "token_service").Logger(),
		db:            db,
		cache:         cache,
		retentionDays: retentionDays,
	}
}

// EnsureSchema 建立帳本需要的資料表，啟動時呼叫
func (s *TokenService) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS api_tokens (
			token_id SERIAL PRIMARY KEY,
			access_token VARCHAR(64) UNIQUE NOT NULL,
			email VARCHAR(100) NOT NULL,
			ws_id VARCHAR(50) NOT NULL UNIQUE,
			token_type VARCHAR(20) NOT NULL DEFAULT 'limited',
			remaining_calls INTEGER,
			total_calls INTEGER,
			is_active BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS token_usage_logs (
			log_id SERIAL PRIMARY KEY,
			token_id INTEGER REFERENCES api_tokens(token_id),
			ws_id VARCHAR(50) NOT NULL,
			operation_type VARCHAR(50) NOT NULL,
			target_database VARCHAR(50) NOT NULL,
			target_collection VARCHAR(50),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			status VARCHAR(20) NOT NULL,
			request_details JSONB
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("初始化帳本資料表失敗: %w", err)
		}
	}

	s.logger.Info().Msg("帳本資料表初始化完成")
	return nil
}

// GenerateAccessToken 產生固定長度、字母數字字元集的隨機訪問令牌
func GenerateAccessToken() (string, error) {
	token := make([]byte, accessTokenLength)
	max := big.NewInt(int64(len(accessTokenAlphabet)))
	for i := range token {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		token[i] = accessTokenAlphabet[n.Int64()]
	}
	return string(token), nil
}

// CreateToken 為工作區創建令牌，一個工作區只能有一個
func (s *TokenService) CreateToken(ctx context.Context, email, wsID string, tokenType model.TokenType, totalCalls *int64) (*model.AccessToken, error) {
	if !tokenType.IsValid() {
		return nil, NewValidationError("無效的令牌類型: %s", tokenType)
	}

	accessToken, err := GenerateAccessToken()
	if err != nil {
		return nil, fmt.Errorf("產生訪問令牌失敗: %w", err)
	}

	var remaining, total *int64
	if tokenType == model.TokenTypeLimited {
		remaining = totalCalls
		total = totalCalls
	}

	var tokenID int64
	err = s.db.Pool.QueryRow(ctx,
		`INSERT INTO api_tokens (access_token, email, ws_id, token_type, remaining_calls, total_calls, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		 RETURNING token_id`,
		accessToken, email, wsID, string(tokenType), remaining, total,
	).Scan(&tokenID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, ErrWorkspaceExists
		}
		s.logger.Error().Err(err).Str("ws_id", wsID).Msg("創建令牌失敗")
		return nil, fmt.Errorf("創建令牌失敗: %w", err)
	}

	s.logger.Info().Str("ws_id", wsID).Str("token_type", string(tokenType)).Int64("token_id", tokenID).Msg("已創建訪問令牌")

	return &model.AccessToken{
		TokenID:        tokenID,
		AccessToken:    accessToken,
		Email:          email,
		WsID:           wsID,
		TokenType:      tokenType,
		RemainingCalls: remaining,
		TotalCalls:     total,
		IsActive:       true,
	}, nil
}

// UpdateToken 調整令牌額度。operation ∈ {add, set, unlimited}，
// add 需要正數、set 需要非負數，驗證失敗不做任何變更。
func (s *TokenService) UpdateToken(ctx context.Context, wsID string, operation model.TokenOperation, callsValue *int64) (*model.AccessToken, error) {
	var row pgx.Row

	switch operation {
	case model.TokenOperationUnlimited:
		row = s.db.Pool.QueryRow(ctx,
			`UPDATE api_tokens
			 SET token_type = 'unlimited', remaining_calls = NULL, total_calls = NULL, updated_at = CURRENT_TIMESTAMP
			 WHERE ws_id = $1
			 RETURNING token_id, access_token, ws_id, token_type, remaining_calls, total_calls`,
			wsID)
	case model.TokenOperationAdd:
		if callsValue == nil || *callsValue <= 0 {
			return nil, ErrInvalidCallsValue
		}
		row = s.db.Pool.QueryRow(ctx,
			`UPDATE api_tokens
			 SET token_type = 'limited',
			     remaining_calls = COALESCE(remaining_calls, 0) + $1,
			     total_calls = COALESCE(total_calls, 0) + $1,
			     updated_at = CURRENT_TIMESTAMP
			 WHERE ws_id = $2
			 RETURNING token_id, access_token, ws_id, token_type, remaining_calls, total_calls`,
			*callsValue, wsID)
	case model.TokenOperationSet:
		if callsValue == nil || *callsValue < 0 {
			return nil, ErrInvalidCallsValue
		}
		row = s.db.Pool.QueryRow(ctx,
			`UPDATE api_tokens
			 SET token_type = 'limited',
			     remaining_calls = $1,
			     total_calls = $1,
			     updated_at = CURRENT_TIMESTAMP
			 WHERE ws_id = $2
			 RETURNING token_id, access_token, ws_id, token_type, remaining_calls, total_calls`,
			*callsValue, wsID)
	default:
		return nil, ErrInvalidOperation
	}

	token := &model.AccessToken{}
	var tokenType string
	err := row.Scan(&token.TokenID, &token.AccessToken, &token.WsID, &tokenType, &token.RemainingCalls, &token.TotalCalls)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		s.logger.Error().Err(err).Str("ws_id", wsID).Msg("更新令牌失敗")
		return nil, fmt.Errorf("更新令牌失敗: %w", err)
	}
	token.TokenType = model.TokenType(tokenType)

	// 讓快取失效，下一次驗證拿到新額度
	if s.cache != nil {
		s.cache.Invalidate(ctx, token.AccessToken)
	}

	s.logger.Info().Str("ws_id", wsID).Str("operation", string(operation)).Msg("已更新令牌額度")
	return token, nil
}

// GetTokenInfo 查詢工作區的完整令牌記錄
func (s *TokenService) GetTokenInfo(ctx context.Context, wsID string) (*model.AccessToken, error) {
	token, err := s.scanFullToken(s.db.Pool.QueryRow(ctx,
		`SELECT token_id, access_token, email, ws_id, token_type, remaining_calls, total_calls, is_active, created_at, updated_at
		 FROM api_tokens WHERE ws_id = $1`, wsID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		s.logger.Error().Err(err).Str("ws_id", wsID).Msg("查詢令牌信息失敗")
		return nil, fmt.Errorf("查詢令牌信息失敗: %w", err)
	}
	return token, nil
}

// Validate 以訪問令牌字串驗證租戶身份，要求 is_active=true。
// 回傳的額度快照僅供請求前的預檢，權威扣次在 Consume 內完成。
func (s *TokenService) Validate(ctx context.Context, accessToken string) (*model.AccessToken, error) {
	if s.cache != nil {
		if token, ok := s.cache.Get(ctx, accessToken); ok {
			return token, nil
		}
	}

	token, err := s.scanFullToken(s.db.Pool.QueryRow(ctx,
		`SELECT token_id, access_token, email, ws_id, token_type, remaining_calls, total_calls, is_active, created_at, updated_at
		 FROM api_tokens WHERE access_token = $1 AND is_active = TRUE`, accessToken))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenInvalid
		}
		s.logger.Error().Err(err).Msg("令牌驗證過程中發生錯誤")
		return nil, fmt.Errorf("令牌驗證失敗: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(ctx, accessToken, token)
	}
	return token, nil
}

// Consume 扣一次調用並寫入使用日誌，兩者在同一交易內完成。
// 同一令牌的並發扣次由行鎖串行化；limited 扣到 0 為止，unlimited 只記錄不扣次。
// 任一步失敗整筆回滾，回傳 false。
func (s *TokenService) Consume(ctx context.Context, usage *model.TokenUsageLog) bool {
	ctx, cancel := context.WithTimeout(ctx, consumeTimeout)
	defer cancel()

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		s.logger.Error().Err(err).Int64("token_id", usage.TokenID).Msg("開啟扣次交易失敗")
		metrics.RecordUsageLogFailure()
		return false
	}
	defer tx.Rollback(ctx)

	var tokenType, accessToken string
	var remaining *int64
	err = tx.QueryRow(ctx,
		`SELECT token_type, access_token, remaining_calls FROM api_tokens WHERE token_id = $1 FOR UPDATE`,
		usage.TokenID).Scan(&tokenType, &accessToken, &remaining)
	if err != nil {
		s.logger.Error().Err(err).Int64("token_id", usage.TokenID).Msg("未找到令牌信息")
		metrics.RecordUsageLogFailure()
		return false
	}

	if tokenType == string(model.TokenTypeLimited) {
		var newRemaining int64
		err = tx.QueryRow(ctx,
			`UPDATE api_tokens
			 SET remaining_calls = GREATEST(remaining_calls - 1, 0), updated_at = CURRENT_TIMESTAMP
			 WHERE token_id = $1
			 RETURNING remaining_calls`,
			usage.TokenID).Scan(&newRemaining)
		if err != nil {
			s.logger.Error().Err(err).Int64("token_id", usage.TokenID).Msg("更新令牌使用次數失敗")
			metrics.RecordUsageLogFailure()
			return false
		}
		s.logger.Debug().Int64("token_id", usage.TokenID).Int64("remaining_calls", newRemaining).Msg("令牌使用次數已更新")
	}

	requestJSON := marshalRequestDetails(usage.RequestDetails)

	var logID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO token_usage_logs (token_id, ws_id, operation_type, target_database, target_collection, status, request_details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING log_id`,
		usage.TokenID, usage.WsID, usage.OperationType, usage.TargetDatabase, usage.TargetCollection, string(usage.Status), requestJSON,
	).Scan(&logID)
	if err != nil {
		s.logger.Error().Err(err).Int64("token_id", usage.TokenID).Msg("寫入使用日誌失敗")
		metrics.RecordUsageLogFailure()
		return false
	}

	if err := tx.Commit(ctx); err != nil {
		s.logger.Error().Err(err).Int64("token_id", usage.TokenID).Msg("提交扣次交易失敗")
		metrics.RecordUsageLogFailure()
		return false
	}

	// 扣次後快取的額度快照已過時，失效掉讓下一次驗證重新讀帳本
	if s.cache != nil {
		s.cache.Invalidate(ctx, accessToken)
	}

	metrics.RecordQuotaConsumed(tokenType, string(usage.Status))
	s.logger.Debug().Int64("log_id", logID).Int64("token_id", usage.TokenID).Msg("令牌使用記錄已創建")
	return true
}

// CleanupUsageLogs 刪除超過保留期的使用日誌，回傳刪除筆數
func (s *TokenService) CleanupUsageLogs(ctx context.Context) (int64, error) {
	interval := fmt.Sprintf("%d days", s.retentionDays)

	var count int64
	err := s.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM token_usage_logs WHERE created_at < NOW() - $1::interval`, interval).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("查詢過期日誌數量失敗: %w", err)
	}

	if count == 0 {
		s.logger.Debug().Msg("沒有需要清理的舊日誌記錄")
		return 0, nil
	}

	if _, err := s.db.Pool.Exec(ctx,
		`DELETE FROM token_usage_logs WHERE created_at < NOW() - $1::interval`, interval); err != nil {
		return 0, fmt.Errorf("清理令牌使用日誌失敗: %w", err)
	}

	s.logger.Info().Int64("count", count).Int("retention_days", s.retentionDays).Msg("已清理過期的令牌使用日誌")
	return count, nil
}

func (s *TokenService) scanFullToken(row pgx.Row) (*model.AccessToken, error) {
	token := &model.AccessToken{}
	var tokenType string
	err := row.Scan(&token.TokenID, &token.AccessToken, &token.Email, &token.WsID, &tokenType,
		&token.RemainingCalls, &token.TotalCalls, &token.IsActive, &token.CreatedAt, &token.UpdatedAt)
	if err != nil {
		return nil, err
	}
	token.TokenType = model.TokenType(tokenType)
	return token, nil
}

// marshalRequestDetails 序列化請求詳情，失敗時降級為標記物件而不是整筆失敗
func marshalRequestDetails(details any) []byte {
	if details == nil {
		return nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		fallback, _ := json.Marshal(map[string]string{"error": "無法序列化原始請求詳情"})
		return fallback
	}
	return b
}
