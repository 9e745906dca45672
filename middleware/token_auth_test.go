package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"dbgate-backend/data-models/common"
	"dbgate-backend/model"
	"dbgate-backend/service"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
)

// stubValidator 可控的令牌驗證器，測試不需要帳本資料庫
type stubValidator struct {
	token *model.AccessToken
	err   error
}

func (s *stubValidator) Validate(ctx context.Context, accessToken string) (*model.AccessToken, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

// newAuthTestRouter 掛上令牌驗證中間件的測試 app，
// dispatcher 路由回報 context 裡是否帶到令牌
func newAuthTestRouter(validator TokenValidator, sawToken *bool) http.Handler {
	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("閘道測試", "0.0.0"))
	api.UseMiddleware(NewTokenAuthMiddleware(testLogger, validator).Auth())

	huma.Register(api, huma.Operation{
		OperationID: "dispatch-stub",
		Method:      "POST",
		Path:        "/apiDatabase/postgresql",
	}, func(ctx context.Context, input *struct{}) (*common.EnvelopeResponse, error) {
		if sawToken != nil {
			_, ok := GetTokenFromContext(ctx)
			*sawToken = ok
		}
		return common.SuccessResponse(nil), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "auth-stub",
		Method:      "GET",
		Path:        "/apiDatabase/auth/token/info",
	}, func(ctx context.Context, input *struct{}) (*common.EnvelopeResponse, error) {
		return common.SuccessResponse(nil), nil
	})

	return router
}

func postDispatch(t *testing.T, handler http.Handler, accessToken string) (int, common.Envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/apiDatabase/postgresql", nil)
	if accessToken != "" {
		req.Header.Set("accessToken", accessToken)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var envelope common.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("解析回應信封失敗: %v (body=%s)", err, rec.Body.String())
	}
	return rec.Code, envelope
}

func TestAuthMissingToken(t *testing.T) {
	handler := newAuthTestRouter(&stubValidator{}, nil)

	status, envelope := postDispatch(t, handler, "")
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, 預期 401", status)
	}
	if envelope.ErrCode != common.CodeMissingToken {
		t.Fatalf("errCode = %d, 預期 %d", envelope.ErrCode, common.CodeMissingToken)
	}
}

func TestAuthInvalidToken(t *testing.T) {
	handler := newAuthTestRouter(&stubValidator{err: service.ErrTokenInvalid}, nil)

	status, envelope := postDispatch(t, handler, "no-such-token")
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, 預期 401", status)
	}
	if envelope.ErrCode != common.CodeInvalidToken {
		t.Fatalf("errCode = %d, 預期 %d", envelope.ErrCode, common.CodeInvalidToken)
	}
}

func TestAuthValidateFailure(t *testing.T) {
	handler := newAuthTestRouter(&stubValidator{err: errors.New("帳本暫時無法連線")}, nil)

	status, envelope := postDispatch(t, handler, "any")
	if status != http.StatusInternalServerError {
		t.Fatalf("status = %d, 預期 500", status)
	}
	if envelope.ErrCode != common.CodeInternal {
		t.Fatalf("errCode = %d, 預期 %d", envelope.ErrCode, common.CodeInternal)
	}
}

// 額度耗盡的 limited 令牌仍要放行到 controller：
// 只有 controller 知道操作是讀還是寫，讀取類請求不受額度限制
func TestAuthExhaustedTokenReachesHandler(t *testing.T) {
	zero := int64(0)
	total := int64(5)
	validator := &stubValidator{token: &model.AccessToken{
		TokenID:        1,
		AccessToken:    "exhausted",
		WsID:           "ws-exhausted",
		TokenType:      model.TokenTypeLimited,
		RemainingCalls: &zero,
		TotalCalls:     &total,
		IsActive:       true,
	}}

	var sawToken bool
	handler := newAuthTestRouter(validator, &sawToken)

	status, envelope := postDispatch(t, handler, "exhausted")
	if status != http.StatusOK {
		t.Fatalf("status = %d, 預期 200", status)
	}
	if envelope.ErrCode != common.CodeOK {
		t.Fatalf("errCode = %d, 預期 0", envelope.ErrCode)
	}
	if !sawToken {
		t.Fatal("handler 應在 context 中拿到令牌快照")
	}
}

func TestAuthTokenFromQueryParam(t *testing.T) {
	remaining := int64(3)
	validator := &stubValidator{token: &model.AccessToken{
		TokenID:        2,
		WsID:           "ws-query",
		TokenType:      model.TokenTypeLimited,
		RemainingCalls: &remaining,
		IsActive:       true,
	}}

	var sawToken bool
	handler := newAuthTestRouter(validator, &sawToken)

	req := httptest.NewRequest(http.MethodPost, "/apiDatabase/postgresql?access_token=from-query", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, 預期 200", rec.Code)
	}
	if !sawToken {
		t.Fatal("handler 應在 context 中拿到令牌快照")
	}
}

// 管理端路徑不需要令牌
func TestAuthSkipsManagementPaths(t *testing.T) {
	handler := newAuthTestRouter(&stubValidator{err: service.ErrTokenInvalid}, nil)

	req := httptest.NewRequest(http.MethodGet, "/apiDatabase/auth/token/info", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, 預期 200 (管理端路徑不驗令牌)", rec.Code)
	}
}
