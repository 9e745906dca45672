package service

import (
	"errors"
	"fmt"

	"dbgate-backend/model"
)

var (
	// 配額帳本相關
	ErrWorkspaceExists   = errors.New("工作區已存在關聯的令牌")
	ErrTokenNotFound     = errors.New("未找到工作區關聯的令牌")
	ErrTokenInvalid      = errors.New("無效的訪問令牌")
	ErrQuotaExceeded     = errors.New("令牌調用次數已用完")
	ErrInvalidOperation  = errors.New("不支援的操作類型")
	ErrInvalidCallsValue = errors.New("無效的調用次數值")

	// 連線池相關
	ErrPoolExhausted = errors.New("連線池等待逾時")
)

// ConnectionError 無法建立或取得後端連線（主機不可達、認證失敗、逾時）
type ConnectionError struct {
	Family model.BackendFamily
	Key    string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s 連線失敗 (%s): %v", e.Family, e.Key, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ValidationError 請求參數驗證失敗
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// NewValidationError 建立驗證錯誤
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
