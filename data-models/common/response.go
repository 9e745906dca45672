package common

import "encoding/json"

// 統一回應碼，errCode=0 代表成功
const (
	CodeOK                = 0
	CodeConnFailed        = 1000 // 無法建立後端連線
	CodeConnError         = 1001 // 連線／執行期間的後端錯誤
	CodePoolExhausted     = 1002 // 連線池等待逾時
	CodeSQLValidation     = 1005 // SQL 語句驗證失敗
	CodeDuplicateWs       = 1050 // 工作區已存在令牌
	CodeTokenNotFound     = 1051 // 找不到工作區令牌
	CodeValidation        = 1400 // 請求參數驗證失敗
	CodeMissingToken      = 1401 // 未提供訪問令牌
	CodeInvalidToken      = 1402 // 無效的訪問令牌
	CodeQuotaExceeded     = 1403 // 令牌調用次數已用完
	CodeAdmissionRejected = 1429 // 並發額度已滿
	CodeInternal          = 9999 // 伺服器內部錯誤
)

// Envelope 所有端點共用的回應信封
type Envelope struct {
	ErrCode int     `json:"errCode" doc:"錯誤碼，0 代表成功"`
	Data    any     `json:"data" doc:"回傳資料，錯誤時為 null"`
	ErrMsg  *string `json:"errMsg" doc:"錯誤訊息，成功時為 null"`
}

// EnvelopeResponse huma 輸出包裝
type EnvelopeResponse struct {
	Body Envelope
}

// SuccessResponse 成功回應
func SuccessResponse(data any) *EnvelopeResponse {
	return &EnvelopeResponse{Body: Envelope{ErrCode: CodeOK, Data: data}}
}

// ErrorResponse 帶錯誤碼的失敗回應
func ErrorResponse(code int, msg string) *EnvelopeResponse {
	return &EnvelopeResponse{Body: Envelope{ErrCode: code, Data: nil, ErrMsg: &msg}}
}

// ErrorJSON middleware 直接寫入 response body 時使用
func ErrorJSON(code int, msg string) []byte {
	b, err := json.Marshal(Envelope{ErrCode: code, Data: nil, ErrMsg: &msg})
	if err != nil {
		return []byte(`{"errCode":9999,"data":null,"errMsg":"internal error"}`)
	}
	return b
}
