package model

import "time"

// AccessToken 工作區的配額令牌記錄，對應 api_tokens 表。
// remaining_calls / total_calls 只有 limited 類型才有值，unlimited 一律為 NULL。
type AccessToken struct {
	TokenID        int64      `json:"token_id"`
	AccessToken    string     `json:"access_token,omitempty"`
	Email          string     `json:"email"`
	WsID           string     `json:"ws_id"`
	TokenType      TokenType  `json:"token_type"`
	RemainingCalls *int64     `json:"remaining_calls"`
	TotalCalls     *int64     `json:"total_calls"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// HasRemainingCalls 檢查寫入操作是否還有可用額度
func (t *AccessToken) HasRemainingCalls() bool {
	if t.TokenType == TokenTypeUnlimited {
		return true
	}
	return t.RemainingCalls != nil && *t.RemainingCalls > 0
}

// TokenUsageLog 一次已消耗調用的使用日誌，對應 token_usage_logs 表
type TokenUsageLog struct {
	LogID            int64       `json:"log_id"`
	TokenID          int64       `json:"token_id"`
	WsID             string      `json:"ws_id"`
	OperationType    string      `json:"operation_type"`
	TargetDatabase   string      `json:"target_database"`
	TargetCollection string      `json:"target_collection,omitempty"`
	Status           UsageStatus `json:"status"`
	RequestDetails   any         `json:"request_details,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}
