package model

import (
	"strings"
	"testing"
)

func TestConnectionKeyString(t *testing.T) {
	info := PostgresConnInfo{
		Host:     "db.internal",
		Port:     5432,
		Database: "appdb",
		User:     "alice",
		Password: "secret",
	}
	key := info.Key()

	if key.Family != BackendFamilyPostgres {
		t.Fatalf("family = %s", key.Family)
	}
	if strings.Contains(key.String(), "secret") {
		t.Fatal("池識別鍵不得包含密碼原文")
	}
	if key.CredentialHash == "" || len(key.CredentialHash) != 8 {
		t.Fatalf("密碼指紋長度 = %d, 預期 8", len(key.CredentialHash))
	}
}

func TestConnectionKeyEquality(t *testing.T) {
	base := PostgresConnInfo{Host: "h", Port: 5432, Database: "d", User: "u", Password: "p"}

	same := base
	if base.Key().String() != same.Key().String() {
		t.Fatal("相同連線資訊應產生相同 key")
	}

	variants := []PostgresConnInfo{
		{Host: "h2", Port: 5432, Database: "d", User: "u", Password: "p"},
		{Host: "h", Port: 5433, Database: "d", User: "u", Password: "p"},
		{Host: "h", Port: 5432, Database: "d2", User: "u", Password: "p"},
		{Host: "h", Port: 5432, Database: "d", User: "u2", Password: "p"},
		{Host: "h", Port: 5432, Database: "d", User: "u", Password: "p2"},
	}
	for i, v := range variants {
		if base.Key().String() == v.Key().String() {
			t.Errorf("variant %d 不應與 base 同 key", i)
		}
	}
}

func TestMongoAndPostgresKeysNeverCollide(t *testing.T) {
	pg := PostgresConnInfo{Host: "h", Port: 27017, Database: "d", User: "u", Password: "p"}
	mg := MongoConnInfo{Host: "h", Port: 27017, Database: "d", Username: "u", Password: "p"}

	if pg.Key().String() == mg.Key().String() {
		t.Fatal("不同家族的連線不得共用 key")
	}
}

func TestFingerprintCredential(t *testing.T) {
	if FingerprintCredential("") != "" {
		t.Fatal("空密碼的指紋應為空字串")
	}
	a := FingerprintCredential("secret")
	b := FingerprintCredential("secret")
	c := FingerprintCredential("other")
	if a != b {
		t.Fatal("相同密碼的指紋應一致")
	}
	if a == c {
		t.Fatal("不同密碼的指紋不應相同")
	}
}

func TestHasRemainingCalls(t *testing.T) {
	zero, five := int64(0), int64(5)

	testCases := []struct {
		name  string
		token AccessToken
		want  bool
	}{
		{"unlimited 永遠有額度", AccessToken{TokenType: TokenTypeUnlimited}, true},
		{"limited 有餘額", AccessToken{TokenType: TokenTypeLimited, RemainingCalls: &five}, true},
		{"limited 餘額為零", AccessToken{TokenType: TokenTypeLimited, RemainingCalls: &zero}, false},
		{"limited 餘額缺失", AccessToken{TokenType: TokenTypeLimited}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.token.HasRemainingCalls(); got != tc.want {
				t.Fatalf("HasRemainingCalls = %v, 預期 %v", got, tc.want)
			}
		})
	}
}
