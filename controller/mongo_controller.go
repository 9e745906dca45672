package controller

import (
	"context"

	"dbgate-backend/data-models/common"
	"dbgate-backend/data-models/mongodb"
	"dbgate-backend/infra"
	"dbgate-backend/middleware"
	"dbgate-backend/model"
	"dbgate-backend/service"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"
)

type MongoController struct {
	logger         zerolog.Logger
	commandService *service.MongoCommandService
	tokenService   *service.TokenService
}

func NewMongoController(logger zerolog.Logger, commandService *service.MongoCommandService, tokenService *service.TokenService) *MongoController {
	return &MongoController{
		logger:         logger.With().Str("module", "mongo_controller").Logger(),
		commandService: commandService,
		tokenService:   tokenService,
	}
}

func (c *MongoController) RegisterRoutes(api huma.API) {
	// 以呼叫端憑證執行 MongoDB 指令
	huma.Register(api, huma.Operation{
		OperationID: "execute-mongodb",
		Method:      "POST",
		Path:        "/apiDatabase/mongodb",
		Summary:     "執行 MongoDB 指令",
		Tags:        []string{"database"},
	}, func(ctx context.Context, input *mongodb.ExecuteInput) (*common.EnvelopeResponse, error) {
		conn := input.Body.Connection
		info := model.MongoConnInfo{
			Host:             conn.Host,
			Port:             conn.Port,
			Database:         conn.Database,
			Username:         conn.Username,
			Password:         conn.Password,
			AuthSource:       conn.AuthSource,
			ConnectTimeoutMS: conn.ConnectTimeoutMS,
		}

		command := model.MongoCommand(input.Body.Operation)
		req := &service.MongoCommandRequest{
			Collection: input.Body.Collection,
			Command:    command,
			Filter:     input.Body.Filter,
			Document:   input.Body.Document,
			Documents:  input.Body.Documents,
			Update:     input.Body.Update,
			Pipeline:   input.Body.Pipeline,
			Limit:      input.Body.Limit,
			Skip:       input.Body.Skip,
			Sort:       input.Body.Sort,
		}

		opCtx, span := infra.StartSpan(ctx, "mongodb_controller",
			infra.AttrOperation(string(command)),
			infra.AttrString("db.host", conn.Host),
			infra.AttrString("db.name", conn.Database),
			infra.AttrString("db.collection", input.Body.Collection),
		)
		defer span.End()

		// 寫入指令先過額度預檢；指令本身不合法時走驗證錯誤而不是 1403
		if command.IsValid() && !command.IsRead() {
			if rejected := checkWriteQuota(opCtx); rejected != nil {
				return rejected, nil
			}
		}

		result, err := c.commandService.Execute(opCtx, info, req)
		if err != nil {
			infra.RecordError(span, err, "MongoDB 指令執行失敗")
			// 驗證錯誤發生在進後端之前，不算一次調用
			if !isValidationError(err) && !command.IsRead() {
				c.recordUsage(opCtx, conn.Database, input.Body.Collection, command, model.UsageStatusError)
			}
			return envelopeForError(err, common.CodeValidation, common.CodeConnError), nil
		}

		// 讀取型指令不扣額度
		if !command.IsRead() {
			c.recordUsage(opCtx, conn.Database, input.Body.Collection, command, model.UsageStatusSuccess)
		}

		infra.MarkSuccess(span)
		return common.SuccessResponse(result), nil
	})
}

// recordUsage 扣一次額度並寫使用日誌。記帳失敗只記 log，不影響已完成的執行結果。
func (c *MongoController) recordUsage(ctx context.Context, database, collection string, command model.MongoCommand, status model.UsageStatus) {
	token, ok := middleware.GetTokenFromContext(ctx)
	if !ok {
		return
	}

	ok = c.tokenService.Consume(ctx, &model.TokenUsageLog{
		TokenID:          token.TokenID,
		WsID:             token.WsID,
		OperationType:    "mongodb",
		TargetDatabase:   database,
		TargetCollection: collection,
		Status:           status,
		RequestDetails:   map[string]any{"operation": string(command), "collection": collection},
	})
	if !ok {
		c.logger.Error().Str("ws_id", token.WsID).Msg("使用記帳失敗，該次調用未入帳")
	}
}
