package controller

import (
	"context"

	"dbgate-backend/data-models/auth"
	"dbgate-backend/data-models/common"
	"dbgate-backend/infra"
	"dbgate-backend/model"
	"dbgate-backend/service"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"
)

type TokenController struct {
	logger       zerolog.Logger
	tokenService *service.TokenService
}

func NewTokenController(logger zerolog.Logger, tokenService *service.TokenService) *TokenController {
	return &TokenController{
		logger:       logger.With().Str("module", "token_controller").Logger(),
		tokenService: tokenService,
	}
}

func (c *TokenController) RegisterRoutes(api huma.API) {
	// 創建工作區令牌
	huma.Register(api, huma.Operation{
		OperationID: "create-token",
		Method:      "POST",
		Path:        "/apiDatabase/auth/token",
		Summary:     "創建工作區令牌",
		Tags:        []string{"auth"},
	}, func(ctx context.Context, input *auth.CreateTokenInput) (*auth.Response, error) {
		opCtx, span := infra.StartSpan(ctx, "create_token_controller",
			infra.AttrOperation("create_token"),
			infra.AttrWsID(input.Body.WsID),
		)
		defer span.End()

		tokenType := model.TokenType(input.Body.TokenType)
		if tokenType == "" {
			tokenType = model.TokenTypeLimited
		}
		if !tokenType.IsValid() {
			return common.ErrorResponse(common.CodeValidation, "無效的令牌類型"), nil
		}
		if tokenType == model.TokenTypeLimited && (input.Body.TotalCalls == nil || *input.Body.TotalCalls <= 0) {
			return common.ErrorResponse(common.CodeValidation, "limited 類型需要正數的 total_calls"), nil
		}

		token, err := c.tokenService.CreateToken(opCtx, input.Body.Email, input.Body.WsID, tokenType, input.Body.TotalCalls)
		if err != nil {
			infra.RecordError(span, err, "創建令牌失敗")
			c.logger.Warn().Err(err).Str("ws_id", input.Body.WsID).Msg("創建令牌失敗")
			return envelopeForError(err, common.CodeValidation, common.CodeInternal), nil
		}

		infra.MarkSuccess(span, infra.AttrWsID(token.WsID))
		c.logger.Info().Str("ws_id", token.WsID).Str("token_type", string(token.TokenType)).Msg("創建令牌成功")

		return common.SuccessResponse(&auth.TokenSummary{
			TokenID:        token.TokenID,
			AccessToken:    token.AccessToken,
			WsID:           token.WsID,
			TokenType:      string(token.TokenType),
			RemainingCalls: token.RemainingCalls,
			TotalCalls:     token.TotalCalls,
		}), nil
	})

	// 調整工作區令牌額度
	huma.Register(api, huma.Operation{
		OperationID: "update-token",
		Method:      "POST",
		Path:        "/apiDatabase/auth/token/update",
		Summary:     "調整工作區令牌額度",
		Tags:        []string{"auth"},
	}, func(ctx context.Context, input *auth.UpdateTokenInput) (*auth.Response, error) {
		opCtx, span := infra.StartSpan(ctx, "update_token_controller",
			infra.AttrOperation("update_token"),
			infra.AttrWsID(input.Body.WsID),
		)
		defer span.End()

		operation := model.TokenOperation(input.Body.Operation)

		token, err := c.tokenService.UpdateToken(opCtx, input.Body.WsID, operation, input.Body.CallsValue)
		if err != nil {
			infra.RecordError(span, err, "更新令牌失敗")
			c.logger.Warn().Err(err).Str("ws_id", input.Body.WsID).Str("operation", input.Body.Operation).Msg("更新令牌失敗")
			return envelopeForError(err, common.CodeValidation, common.CodeInternal), nil
		}

		infra.MarkSuccess(span)
		c.logger.Info().Str("ws_id", token.WsID).Str("operation", input.Body.Operation).Msg("更新令牌成功")

		return common.SuccessResponse(&auth.TokenSummary{
			TokenID:        token.TokenID,
			WsID:           token.WsID,
			TokenType:      string(token.TokenType),
			RemainingCalls: token.RemainingCalls,
			TotalCalls:     token.TotalCalls,
		}), nil
	})

	// 查詢工作區令牌
	huma.Register(api, huma.Operation{
		OperationID: "get-token-info",
		Method:      "GET",
		Path:        "/apiDatabase/auth/token/info",
		Summary:     "查詢工作區令牌",
		Tags:        []string{"auth"},
	}, func(ctx context.Context, input *auth.GetTokenInfoInput) (*auth.Response, error) {
		token, err := c.tokenService.GetTokenInfo(ctx, input.WsID)
		if err != nil {
			c.logger.Warn().Err(err).Str("ws_id", input.WsID).Msg("查詢令牌失敗")
			return envelopeForError(err, common.CodeValidation, common.CodeInternal), nil
		}
		return common.SuccessResponse(token), nil
	})

	// 手動觸發使用日誌清理
	huma.Register(api, huma.Operation{
		OperationID: "cleanup-usage-logs",
		Method:      "POST",
		Path:        "/apiDatabase/auth/logs/cleanup",
		Summary:     "清理過期的使用日誌",
		Tags:        []string{"auth"},
	}, func(ctx context.Context, input *auth.CleanupLogsInput) (*auth.Response, error) {
		deleted, err := c.tokenService.CleanupUsageLogs(ctx)
		if err != nil {
			c.logger.Error().Err(err).Msg("清理使用日誌失敗")
			return envelopeForError(err, common.CodeValidation, common.CodeInternal), nil
		}
		c.logger.Info().Int64("deleted", deleted).Msg("清理使用日誌完成")
		return common.SuccessResponse(map[string]any{"deleted_count": deleted}), nil
	})
}
