package mongodb

// ConnectionInfo 呼叫端提供的 MongoDB 連線資訊
type ConnectionInfo struct {
	Host             string `json:"host" required:"true" doc:"資料庫主機"`
	Port             int    `json:"port" default:"27017" doc:"資料庫端口"`
	Database         string `json:"database" required:"true" doc:"資料庫名稱"`
	Username         string `json:"username,omitempty" doc:"帳號，可省略"`
	Password         string `json:"password,omitempty" doc:"密碼，可省略"`
	AuthSource       string `json:"auth_source,omitempty" default:"admin" doc:"認證資料庫"`
	ConnectTimeoutMS int    `json:"connect_timeout_ms,omitempty" default:"30000" doc:"連線逾時（毫秒）"`
}

// ExecuteInput 執行 MongoDB 指令請求。
// operation 必須屬於支援的封閉集合，其餘欄位依指令選用。
type ExecuteInput struct {
	Body struct {
		Connection ConnectionInfo   `json:"connection" required:"true"`
		Collection string           `json:"collection" required:"true" doc:"目標集合"`
		Operation  string           `json:"operation" required:"true" enum:"find,findOne,insertOne,insertMany,updateOne,updateMany,deleteOne,deleteMany,aggregate,countDocuments" doc:"指令類型"`
		Filter     map[string]any   `json:"filter,omitempty" doc:"查詢／更新／刪除條件"`
		Document   map[string]any   `json:"document,omitempty" doc:"insertOne 的文件"`
		Documents  []map[string]any `json:"documents,omitempty" doc:"insertMany 的文件陣列"`
		Update     map[string]any   `json:"update,omitempty" doc:"updateOne/updateMany 的更新內容"`
		Pipeline   []map[string]any `json:"pipeline,omitempty" doc:"aggregate 的管線"`
		Limit      int64            `json:"limit,omitempty" doc:"find 的筆數上限"`
		Skip       int64            `json:"skip,omitempty" doc:"find 的略過筆數"`
		Sort       map[string]any   `json:"sort,omitempty" doc:"find 的排序"`
	}
}

// FindData 查詢類指令回傳
type FindData struct {
	Documents []map[string]any `json:"documents"`
	Count     int              `json:"count"`
}

// InsertData 寫入類指令回傳
type InsertData struct {
	InsertedIDs []string `json:"inserted_ids"`
}

// UpdateData 更新類指令回傳
type UpdateData struct {
	MatchedCount  int64 `json:"matched_count"`
	ModifiedCount int64 `json:"modified_count"`
}

// DeleteData 刪除類指令回傳
type DeleteData struct {
	DeletedCount int64 `json:"deleted_count"`
}

// CountData countDocuments 回傳
type CountData struct {
	Count int64 `json:"count"`
}
