package model

// TokenType 令牌類型
type TokenType string

const (
	TokenTypeLimited   TokenType = "limited"   // 有調用次數上限
	TokenTypeUnlimited TokenType = "unlimited" // 無調用次數上限
)

// IsValid 檢查令牌類型是否合法
func (t TokenType) IsValid() bool {
	return t == TokenTypeLimited || t == TokenTypeUnlimited
}

// TokenOperation 令牌額度調整操作
type TokenOperation string

const (
	TokenOperationAdd       TokenOperation = "add"       // 增加調用次數
	TokenOperationSet       TokenOperation = "set"       // 設定調用次數
	TokenOperationUnlimited TokenOperation = "unlimited" // 改為無限制
)

// UsageStatus 使用日誌狀態
type UsageStatus string

const (
	UsageStatusSuccess UsageStatus = "success"
	UsageStatusError   UsageStatus = "error"
)

// BackendFamily 後端資料庫家族
type BackendFamily string

const (
	BackendFamilyPostgres BackendFamily = "postgresql"
	BackendFamilyMongo    BackendFamily = "mongodb"
)

// MongoCommand MongoDB 指令集合（封閉集合，集合外的指令一律拒絕）
type MongoCommand string

const (
	MongoCommandFind           MongoCommand = "find"
	MongoCommandFindOne        MongoCommand = "findOne"
	MongoCommandInsertOne      MongoCommand = "insertOne"
	MongoCommandInsertMany     MongoCommand = "insertMany"
	MongoCommandUpdateOne      MongoCommand = "updateOne"
	MongoCommandUpdateMany     MongoCommand = "updateMany"
	MongoCommandDeleteOne      MongoCommand = "deleteOne"
	MongoCommandDeleteMany     MongoCommand = "deleteMany"
	MongoCommandAggregate      MongoCommand = "aggregate"
	MongoCommandCountDocuments MongoCommand = "countDocuments"
)

// IsValid 檢查指令是否在支援的集合內
func (c MongoCommand) IsValid() bool {
	switch c {
	case MongoCommandFind, MongoCommandFindOne,
		MongoCommandInsertOne, MongoCommandInsertMany,
		MongoCommandUpdateOne, MongoCommandUpdateMany,
		MongoCommandDeleteOne, MongoCommandDeleteMany,
		MongoCommandAggregate, MongoCommandCountDocuments:
		return true
	}
	return false
}

// IsRead 讀取型指令不扣調用次數
func (c MongoCommand) IsRead() bool {
	switch c {
	case MongoCommandFind, MongoCommandFindOne, MongoCommandAggregate, MongoCommandCountDocuments:
		return true
	}
	return false
}
