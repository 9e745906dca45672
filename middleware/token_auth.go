package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"dbgate-backend/data-models/common"
	"dbgate-backend/model"
	"dbgate-backend/service"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"
)

// TokenValidator 驗證訪問令牌並回傳額度快照
type TokenValidator interface {
	Validate(ctx context.Context, accessToken string) (*model.AccessToken, error)
}

type contextKey string

const accessTokenContextKey contextKey = "access_token"

// 不需要 token 的路徑：管理端、文件與健康檢查
var tokenSkipPaths = map[string]bool{
	"/":             true,
	"/ping":         true,
	"/docs":         true,
	"/openapi.json": true,
	"/redoc":        true,
	"/metrics":      true,
}

type TokenAuthMiddleware struct {
	logger    zerolog.Logger
	validator TokenValidator
}

func NewTokenAuthMiddleware(logger zerolog.Logger, validator TokenValidator) *TokenAuthMiddleware {
	return &TokenAuthMiddleware{
		logger:    logger.With().Str("module", "token_auth_middleware").Logger(),
		validator: validator,
	}
}

func (m *TokenAuthMiddleware) shouldSkip(path string) bool {
	if tokenSkipPaths[path] {
		return true
	}
	return strings.HasPrefix(path, "/apiDatabase/auth")
}

func (m *TokenAuthMiddleware) Auth() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		path := ctx.URL().Path
		if m.shouldSkip(path) {
			next(ctx)
			return
		}

		// token 放在 accessToken header，或 access_token 查詢參數
		tokenString := ctx.Header("accessToken")
		if tokenString == "" {
			tokenString = ctx.Query("access_token")
		}
		if tokenString == "" {
			writeEnvelope(ctx, http.StatusUnauthorized, common.CodeMissingToken, "缺少存取權杖")
			return
		}

		token, err := m.validator.Validate(ctx.Context(), tokenString)
		if err != nil {
			if errors.Is(err, service.ErrTokenInvalid) {
				writeEnvelope(ctx, http.StatusUnauthorized, common.CodeInvalidToken, "無效的存取權杖")
				return
			}
			m.logger.Error().Err(err).Msg("權杖驗證失敗")
			writeEnvelope(ctx, http.StatusInternalServerError, common.CodeInternal, "權杖驗證失敗")
			return
		}

		// 額度耗盡的預檢在 controller 做：只有 controller 知道這次操作
		// 是讀還是寫，讀取類請求即使額度歸零也要放行
		ctx = huma.WithValue(ctx, accessTokenContextKey, token)
		next(ctx)
	}
}

// GetTokenFromContext 取出驗證通過的權杖，供 controller 記帳用
func GetTokenFromContext(ctx context.Context) (*model.AccessToken, bool) {
	token, ok := ctx.Value(accessTokenContextKey).(*model.AccessToken)
	return token, ok
}

func writeEnvelope(ctx huma.Context, status int, code int, msg string) {
	ctx.SetStatus(status)
	ctx.SetHeader("Content-Type", "application/json")
	ctx.BodyWriter().Write(common.ErrorJSON(code, msg))
}
