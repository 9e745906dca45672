package controller

import (
	"context"

	"dbgate-backend/data-models/common"
	"dbgate-backend/data-models/postgresql"
	"dbgate-backend/infra"
	"dbgate-backend/middleware"
	"dbgate-backend/model"
	"dbgate-backend/service"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"
)

type PostgresController struct {
	logger       zerolog.Logger
	queryService *service.PostgresQueryService
	tokenService *service.TokenService
}

func NewPostgresController(logger zerolog.Logger, queryService *service.PostgresQueryService, tokenService *service.TokenService) *PostgresController {
	return &PostgresController{
		logger:       logger.With().Str("module", "postgres_controller").Logger(),
		queryService: queryService,
		tokenService: tokenService,
	}
}

func (c *PostgresController) RegisterRoutes(api huma.API) {
	// 以呼叫端憑證執行 SQL
	huma.Register(api, huma.Operation{
		OperationID: "execute-postgresql",
		Method:      "POST",
		Path:        "/apiDatabase/postgresql",
		Summary:     "執行 PostgreSQL 語句",
		Tags:        []string{"database"},
	}, func(ctx context.Context, input *postgresql.ExecuteInput) (*common.EnvelopeResponse, error) {
		conn := input.Body.Connection
		info := model.PostgresConnInfo{
			Host:           conn.Host,
			Port:           conn.Port,
			Database:       conn.Database,
			User:           conn.User,
			Password:       conn.Password,
			SSLMode:        conn.SSLMode,
			ConnectTimeout: conn.ConnectTimeout,
		}

		opCtx, span := infra.StartSpan(ctx, "postgresql_controller",
			infra.AttrOperation("execute_sql"),
			infra.AttrString("db.host", conn.Host),
			infra.AttrString("db.name", conn.Database),
		)
		defer span.End()

		// 寫入語句先過額度預檢，耗盡的令牌不佔後端資源
		if !service.IsReadStatement(input.Body.SQL) {
			if rejected := checkWriteQuota(opCtx); rejected != nil {
				return rejected, nil
			}
		}

		result, err := c.queryService.Execute(opCtx, info, input.Body.SQL, input.Body.Parameters)
		if err != nil {
			infra.RecordError(span, err, "SQL 執行失敗")
			// 驗證錯誤發生在進後端之前，不算一次調用
			if !isValidationError(err) && !service.IsReadStatement(input.Body.SQL) {
				c.recordUsage(opCtx, conn.Database, input.Body.SQL, model.UsageStatusError)
			}
			return envelopeForError(err, common.CodeSQLValidation, common.CodeConnError), nil
		}

		// 讀取型語句不扣額度
		if !result.IsRead {
			c.recordUsage(opCtx, conn.Database, input.Body.SQL, model.UsageStatusSuccess)
		}

		infra.MarkSuccess(span)

		if result.IsRead {
			return common.SuccessResponse(&postgresql.QueryData{Rows: result.Rows, RowCount: result.RowCount}), nil
		}
		return common.SuccessResponse(&postgresql.ExecData{RowsAffected: result.RowsAffected}), nil
	})
}

// recordUsage 扣一次額度並寫使用日誌。記帳失敗只記 log，不影響已完成的執行結果。
func (c *PostgresController) recordUsage(ctx context.Context, database, sql string, status model.UsageStatus) {
	token, ok := middleware.GetTokenFromContext(ctx)
	if !ok {
		return
	}
	ok = c.tokenService.Consume(ctx, &model.TokenUsageLog{
		TokenID:        token.TokenID,
		WsID:           token.WsID,
		OperationType:  "postgresql",
		TargetDatabase: database,
		Status:         status,
		RequestDetails: map[string]any{"sql": sql},
	})
	if !ok {
		c.logger.Error().Str("ws_id", token.WsID).Msg("使用記帳失敗，該次調用未入帳")
	}
}
