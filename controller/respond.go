package controller

import (
	"context"
	"errors"

	"dbgate-backend/data-models/common"
	"dbgate-backend/middleware"
	"dbgate-backend/model"
	"dbgate-backend/service"
)

// envelopeForError 把 service 層錯誤對應到統一回應碼。
// validationCode 讓各 dispatcher 自訂驗證錯誤的碼（SQL 驗證走 1005），
// fallbackCode 則是沒有對應到任何已知類別時的碼。
func envelopeForError(err error, validationCode, fallbackCode int) *common.EnvelopeResponse {
	var connErr *service.ConnectionError
	if errors.As(err, &connErr) {
		return common.ErrorResponse(common.CodeConnFailed, connErr.Error())
	}

	var valErr *service.ValidationError
	if errors.As(err, &valErr) {
		return common.ErrorResponse(validationCode, valErr.Error())
	}

	switch {
	case errors.Is(err, service.ErrPoolExhausted):
		return common.ErrorResponse(common.CodePoolExhausted, service.ErrPoolExhausted.Error())
	case errors.Is(err, service.ErrWorkspaceExists):
		return common.ErrorResponse(common.CodeDuplicateWs, service.ErrWorkspaceExists.Error())
	case errors.Is(err, service.ErrTokenNotFound):
		return common.ErrorResponse(common.CodeTokenNotFound, service.ErrTokenNotFound.Error())
	case errors.Is(err, service.ErrQuotaExceeded):
		return common.ErrorResponse(common.CodeQuotaExceeded, service.ErrQuotaExceeded.Error())
	case errors.Is(err, service.ErrInvalidOperation), errors.Is(err, service.ErrInvalidCallsValue):
		return common.ErrorResponse(common.CodeValidation, err.Error())
	}

	return common.ErrorResponse(fallbackCode, err.Error())
}

func isValidationError(err error) bool {
	var valErr *service.ValidationError
	return errors.As(err, &valErr)
}

// checkWriteQuota 寫入類請求進後端前的額度預檢。
// limited 令牌已耗盡時回傳 1403 信封，請求不會碰到後端；
// 讀取類請求不呼叫這個函數，額度歸零仍可查詢。
func checkWriteQuota(ctx context.Context) *common.EnvelopeResponse {
	token, ok := middleware.GetTokenFromContext(ctx)
	if !ok {
		return nil
	}
	if token.TokenType == model.TokenTypeLimited && !token.HasRemainingCalls() {
		return common.ErrorResponse(common.CodeQuotaExceeded, "配額已用盡")
	}
	return nil
}
