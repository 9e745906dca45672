package service

import (
	"errors"
	"testing"
)

func TestValidateSQL(t *testing.T) {
	testCases := []struct {
		name    string
		sql     string
		wantErr bool
	}{
		{"一般查詢", "SELECT id, name FROM users WHERE id = $1", false},
		{"select 星號", "select * from users", false},
		{"insert", "INSERT INTO users (name) VALUES ($1)", false},
		{"update", "UPDATE users SET name = $1 WHERE id = $2", false},
		{"空語句", "   ", true},
		{"select 缺 from", "SELECT id, name", true},
		{"select 缺列名", "SELECT FROM users", true},
		{"括號不匹配", "SELECT count(* FROM users", true},
		{"where 後無條件", "SELECT * FROM users WHERE ;", true},
		{"常見拼寫錯誤 form", "SELECT * FORM users", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSQL(tc.sql)
			if tc.wantErr && err == nil {
				t.Fatalf("預期驗證失敗: %q", tc.sql)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("不應驗證失敗: %q, err = %v", tc.sql, err)
			}
			if tc.wantErr {
				var valErr *ValidationError
				if !errors.As(err, &valErr) {
					t.Fatalf("錯誤類型應為 ValidationError, 得到 %T", err)
				}
			}
		})
	}
}

func TestIsReadStatement(t *testing.T) {
	testCases := []struct {
		sql  string
		want bool
	}{
		{"SELECT * FROM users", true},
		{"  select 1 from t", true},
		{"WITH cte AS (SELECT 1) SELECT * FROM cte", true},
		{"SHOW server_version", true},
		{"EXPLAIN SELECT * FROM users", true},
		{"VALUES (1), (2)", true},
		{"INSERT INTO users VALUES ($1)", false},
		{"UPDATE users SET name = $1", false},
		{"DELETE FROM users", false},
		{"CREATE TABLE t (id int)", false},
		{"TRUNCATE users", false},
	}

	for _, tc := range testCases {
		if got := IsReadStatement(tc.sql); got != tc.want {
			t.Errorf("IsReadStatement(%q) = %v, 預期 %v", tc.sql, got, tc.want)
		}
	}
}
