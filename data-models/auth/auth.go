package auth

import "dbgate-backend/data-models/common"

// CreateTokenInput 創建令牌請求
type CreateTokenInput struct {
	Body struct {
		Email      string `json:"email" required:"true" doc:"用戶郵箱"`
		WsID       string `json:"ws_id" required:"true" doc:"工作區ID（唯一）"`
		TokenType  string `json:"token_type" enum:"limited,unlimited" default:"limited" doc:"令牌類型"`
		TotalCalls *int64 `json:"total_calls,omitempty" doc:"limited 類型的總調用次數"`
	}
}

// UpdateTokenInput 更新令牌額度請求
type UpdateTokenInput struct {
	Body struct {
		WsID       string `json:"ws_id" required:"true" doc:"工作區ID"`
		Operation  string `json:"operation" required:"true" enum:"add,set,unlimited" doc:"操作類型"`
		CallsValue *int64 `json:"calls_value,omitempty" doc:"add/set 操作的調用次數值"`
	}
}

// GetTokenInfoInput 查詢令牌請求
type GetTokenInfoInput struct {
	WsID string `query:"ws_id" required:"true" doc:"工作區ID"`
}

// CleanupLogsInput 手動觸發使用日誌清理
type CleanupLogsInput struct{}

// TokenSummary 創建／更新操作的回傳摘要
type TokenSummary struct {
	TokenID        int64  `json:"token_id"`
	AccessToken    string `json:"access_token,omitempty"`
	WsID           string `json:"ws_id"`
	TokenType      string `json:"token_type"`
	RemainingCalls *int64 `json:"remaining_calls"`
	TotalCalls     *int64 `json:"total_calls"`
}

// Response 統一信封輸出
type Response = common.EnvelopeResponse
