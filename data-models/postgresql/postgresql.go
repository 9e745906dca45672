package postgresql

// ConnectionInfo 呼叫端提供的 PostgreSQL 連線資訊
type ConnectionInfo struct {
	Host           string `json:"host" required:"true" doc:"資料庫主機"`
	Port           int    `json:"port" default:"5432" doc:"資料庫端口"`
	Database       string `json:"database" required:"true" doc:"資料庫名稱"`
	User           string `json:"user" required:"true" doc:"資料庫用戶"`
	Password       string `json:"password" required:"true" doc:"資料庫密碼"`
	SSLMode        string `json:"sslmode,omitempty" default:"prefer" doc:"SSL 模式"`
	ConnectTimeout int    `json:"connect_timeout,omitempty" default:"30" doc:"連線逾時（秒）"`
}

// ExecuteInput 執行 SQL 請求
type ExecuteInput struct {
	Body struct {
		Connection ConnectionInfo `json:"connection" required:"true"`
		SQL        string         `json:"sql" required:"true" doc:"要執行的 SQL 語句"`
		Parameters []any          `json:"parameters,omitempty" doc:"位置參數（$1, $2, ...）"`
	}
}

// QueryData SELECT 類語句的回傳資料
type QueryData struct {
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// ExecData 寫入類語句的回傳資料
type ExecData struct {
	RowsAffected int64 `json:"rows_affected"`
}
