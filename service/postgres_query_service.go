package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"dbgate-backend/infra"
	"dbgate-backend/metrics"
	"dbgate-backend/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// *pgxpool.Conn 滿足這兩個介面，測試可以用假實作替代
type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type pgxExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var (
	selectNoColumnsPattern = regexp.MustCompile(`(?i)^select\s+from`)
	emptyWherePattern      = regexp.MustCompile(`(?i)where\s*;`)

	// 常見拼寫錯誤
	sqlTypos = map[string]string{
		`\bslect\b`:        "select",
		`\bform\b`:         "from",
		`\bwhere\s+and\b`:  "where",
		`\bgroup\s+order\b`: "group by ... order",
	}
)

// PostgresQueryService 把驗證過的 SQL 請求轉成實際的資料庫調用
type PostgresQueryService struct {
	logger zerolog.Logger
	pools  *PostgresPoolService
}

func NewPostgresQueryService(logger zerolog.Logger, pools *PostgresPoolService) *PostgresQueryService {
	return &PostgresQueryService{
		logger: logger.With().Str("module", "postgres_query_service").Logger(),
		pools:  pools,
	}
}

// ValidateSQL 基本的 SQL 語法檢查，擋掉明顯寫錯的語句
func ValidateSQL(sql string) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return NewValidationError("SQL 語句不能為空")
	}

	lower := strings.ToLower(trimmed)

	if strings.HasPrefix(lower, "select") {
		if !strings.Contains(lower, " from ") {
			return NewValidationError("SELECT 語句缺少 FROM 子句")
		}
		selectPart := strings.TrimSpace(strings.SplitN(lower, " from ", 2)[0])
		if selectPart == "select" || selectNoColumnsPattern.MatchString(lower) {
			return NewValidationError("SELECT 語句缺少列名，請指定要查詢的列或使用 SELECT * 查詢所有列")
		}
	}

	if strings.Count(trimmed, "(") != strings.Count(trimmed, ")") {
		return NewValidationError("SQL 語句括號不匹配")
	}

	if emptyWherePattern.MatchString(trimmed) {
		return NewValidationError("WHERE 子句後缺少條件")
	}

	for typo, correction := range sqlTypos {
		if matched, _ := regexp.MatchString(typo, lower); matched {
			return NewValidationError("SQL 語句可能存在拼寫錯誤: 檢查 '%s'", correction)
		}
	}

	return nil
}

// IsReadStatement 讀取型語句不扣調用次數
func IsReadStatement(sql string) bool {
	lower := strings.ToLower(strings.TrimSpace(sql))
	for _, prefix := range []string{"select", "with", "show", "explain", "values"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// QueryResult SQL 執行結果，讀取型帶 rows，寫入型帶影響筆數
type QueryResult struct {
	IsRead       bool
	Rows         []map[string]any
	RowCount     int
	RowsAffected int64
}

// Execute 租一條連線執行 SQL 並歸還。驗證錯誤在進池之前就回報。
func (s *PostgresQueryService) Execute(ctx context.Context, info model.PostgresConnInfo, sql string, parameters []any) (*QueryResult, error) {
	if err := ValidateSQL(sql); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := infra.StartDispatchSpan(ctx, "postgresql",
		infra.AttrBackendFamily(string(model.BackendFamilyPostgres)),
		infra.AttrString("db.name", info.Database),
	)
	defer span.End()

	conn, key, err := s.pools.Acquire(ctx, info)
	if err != nil {
		infra.RecordError(span, err, "取得連線失敗", infra.AttrPoolKey(key.String()))
		return nil, err
	}
	defer s.pools.Release(key, conn)
	infra.AddEvent(span, "pool_conn_acquired", infra.AttrPoolKey(key.String()))

	args := parameters
	if args == nil {
		args = []any{}
	}

	var result *QueryResult
	if IsReadStatement(sql) {
		result, err = s.executeQuery(ctx, conn, sql, args)
	} else {
		result, err = s.executeExec(ctx, conn, sql, args)
	}
	if err != nil {
		infra.RecordError(span, err, "SQL 執行失敗")
		s.logger.Error().Err(err).Str("pool_key", key.String()).Msg("SQL 執行失敗")
		return nil, err
	}

	metrics.RecordDispatchDuration(string(model.BackendFamilyPostgres), "execute", time.Since(start))
	infra.MarkSuccess(span,
		infra.AttrBool("db.read", result.IsRead),
		infra.AttrInt("db.row_count", result.RowCount),
	)
	return result, nil
}

func (s *PostgresQueryService) executeQuery(ctx context.Context, conn pgxQuerier, sql string, args []any) (*QueryResult, error) {
	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("SQL 查詢失敗: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("讀取查詢結果失敗: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[string(fd.Name)] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("讀取查詢結果失敗: %w", err)
	}

	if out == nil {
		out = []map[string]any{}
	}
	return &QueryResult{IsRead: true, Rows: out, RowCount: len(out)}, nil
}

func (s *PostgresQueryService) executeExec(ctx context.Context, conn pgxExecer, sql string, args []any) (*QueryResult, error) {
	tag, err := conn.Exec(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("SQL 執行失敗: %w", err)
	}
	return &QueryResult{IsRead: false, RowsAffected: tag.RowsAffected()}, nil
}
