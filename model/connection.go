package model

import (
	"crypto/md5"
	"fmt"
)

// ConnectionKey 連線池的識別鍵。
// 同一組 (家族, host, port, database, principal, 密碼指紋) 共用同一個連線池，
// 任一欄位不同就是不同的池。密碼只保留指紋，不保留原文。
type ConnectionKey struct {
	Family         BackendFamily
	Host           string
	Port           int
	Database       string
	Principal      string
	CredentialHash string
}

// String 回傳池的 map key
func (k ConnectionKey) String() string {
	return fmt.Sprintf("%s:%s:%d:%s:%s:%s", k.Family, k.Host, k.Port, k.Database, k.Principal, k.CredentialHash)
}

// FingerprintCredential 對密碼取 MD5 前 8 碼作為指紋
func FingerprintCredential(credential string) string {
	if credential == "" {
		return ""
	}
	sum := md5.Sum([]byte(credential))
	return fmt.Sprintf("%x", sum)[:8]
}

// PostgresConnInfo 呼叫端提供的 PostgreSQL 連線資訊
type PostgresConnInfo struct {
	Host           string
	Port           int
	Database       string
	User           string
	Password       string
	SSLMode        string
	ConnectTimeout int // 秒
}

// Key 產生此連線資訊的池識別鍵
func (c PostgresConnInfo) Key() ConnectionKey {
	return ConnectionKey{
		Family:         BackendFamilyPostgres,
		Host:           c.Host,
		Port:           c.Port,
		Database:       c.Database,
		Principal:      c.User,
		CredentialHash: FingerprintCredential(c.Password),
	}
}

// MongoConnInfo 呼叫端提供的 MongoDB 連線資訊
type MongoConnInfo struct {
	Host             string
	Port             int
	Database         string
	Username         string
	Password         string
	AuthSource       string
	ConnectTimeoutMS int
}

// Key 產生此連線資訊的池識別鍵
func (c MongoConnInfo) Key() ConnectionKey {
	return ConnectionKey{
		Family:         BackendFamilyMongo,
		Host:           c.Host,
		Port:           c.Port,
		Database:       c.Database,
		Principal:      c.Username,
		CredentialHash: FingerprintCredential(c.Password),
	}
}
