package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresConfig struct {
	Host           string
	Port           int
	Database       string
	User           string
	Password       string
	SSLMode        string
	ConnectTimeout int // 秒
	MinConns       int
	MaxConns       int
}

// Postgres 配額帳本使用的 PostgreSQL 連線池
type Postgres struct {
	Pool *pgxpool.Pool
}

// BuildPostgresDSN 組出 keyword/value 形式的連線字串
func BuildPostgresDSN(config PostgresConfig) string {
	sslmode := config.SSLMode
	if sslmode == "" {
		sslmode = "prefer"
	}
	connectTimeout := config.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 30
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s connect_timeout=%d",
		config.Host, config.Port, config.Database, config.User, config.Password, sslmode, connectTimeout)
}

// NewPostgresPool 依設定建立 pgxpool，尚未實際連線（連線在第一次取用時建立）
func NewPostgresPool(ctx context.Context, config PostgresConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(BuildPostgresDSN(config))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}

	minConns := config.MinConns
	if minConns <= 0 {
		minConns = 1
	}
	maxConns := config.MaxConns
	if maxConns <= 0 {
		maxConns = 30
	}

	poolConfig.MinConns = int32(minConns)
	poolConfig.MaxConns = int32(maxConns)
	poolConfig.MaxConnIdleTime = 10 * time.Minute
	poolConfig.ConnConfig.ConnectTimeout = time.Duration(config.ConnectTimeout) * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}
	return pool, nil
}

// NewPostgres 建立帳本資料庫連線並確認可連通
func NewPostgres(config PostgresConfig) (*Postgres, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(config.ConnectTimeout)*time.Second)
	defer cancel()

	pool, err := NewPostgresPool(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return &Postgres{Pool: pool}, nil
}

func (p *Postgres) Close() {
	p.Pool.Close()
}
