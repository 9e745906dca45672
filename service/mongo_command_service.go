package service

import (
	"context"
	"fmt"
	"time"

	"dbgate-backend/data-models/mongodb"
	"dbgate-backend/infra"
	"dbgate-backend/metrics"
	"dbgate-backend/model"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoCommandService 把封閉指令集合內的請求轉成 driver 調用
type MongoCommandService struct {
	logger zerolog.Logger
	pools  *MongoPoolService
}

func NewMongoCommandService(logger zerolog.Logger, pools *MongoPoolService) *MongoCommandService {
	return &MongoCommandService{
		logger: logger.With().Str("module", "mongo_command_service").Logger(),
		pools:  pools,
	}
}

// MongoCommandRequest 已驗證的指令描述
type MongoCommandRequest struct {
	Collection string
	Command    model.MongoCommand
	Filter     map[string]any
	Document   map[string]any
	Documents  []map[string]any
	Update     map[string]any
	Pipeline   []map[string]any
	Limit      int64
	Skip       int64
	Sort       map[string]any
}

// ValidateCommand 指令集合外的操作一律拒絕，必要欄位缺漏也在這裡擋下
func ValidateCommand(req *MongoCommandRequest) error {
	if !req.Command.IsValid() {
		return NewValidationError("不支援的操作類型: %s", req.Command)
	}
	if req.Collection == "" {
		return NewValidationError("缺少目標集合")
	}

	switch req.Command {
	case model.MongoCommandInsertOne:
		if len(req.Document) == 0 {
			return NewValidationError("insertOne 需要 document")
		}
	case model.MongoCommandInsertMany:
		if len(req.Documents) == 0 {
			return NewValidationError("insertMany 需要非空的 documents")
		}
	case model.MongoCommandUpdateOne, model.MongoCommandUpdateMany:
		if len(req.Update) == 0 {
			return NewValidationError("%s 需要 update", req.Command)
		}
	case model.MongoCommandDeleteOne, model.MongoCommandDeleteMany:
		if len(req.Filter) == 0 {
			return NewValidationError("%s 需要 filter", req.Command)
		}
	case model.MongoCommandAggregate:
		if len(req.Pipeline) == 0 {
			return NewValidationError("aggregate 需要非空的 pipeline")
		}
	}
	return nil
}

// Execute 取得 client 執行指令，完成後刷新池的 lastUsed
func (s *MongoCommandService) Execute(ctx context.Context, info model.MongoConnInfo, req *MongoCommandRequest) (any, error) {
	if err := ValidateCommand(req); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := infra.StartDispatchSpan(ctx, "mongodb",
		infra.AttrBackendFamily(string(model.BackendFamilyMongo)),
		infra.AttrString("db.name", info.Database),
		infra.AttrString("db.collection", req.Collection),
		infra.AttrOperation(string(req.Command)),
	)
	defer span.End()

	client, key, err := s.pools.Client(ctx, info)
	if err != nil {
		infra.RecordError(span, err, "取得客戶端失敗", infra.AttrPoolKey(key.String()))
		return nil, err
	}
	defer s.pools.Touch(key)
	infra.AddEvent(span, "client_acquired", infra.AttrPoolKey(key.String()))

	coll := client.Database(info.Database).Collection(req.Collection)

	result, err := s.dispatch(ctx, coll, req)
	if err != nil {
		infra.RecordError(span, err, "MongoDB 指令執行失敗")
		s.logger.Error().Err(err).Str("pool_key", key.String()).Str("operation", string(req.Command)).Msg("MongoDB 指令執行失敗")
		return nil, fmt.Errorf("MongoDB 指令執行失敗: %w", err)
	}

	metrics.RecordDispatchDuration(string(model.BackendFamilyMongo), string(req.Command), time.Since(start))
	infra.MarkSuccess(span, infra.AttrBool("db.read", req.Command.IsRead()))
	return result, nil
}

func (s *MongoCommandService) dispatch(ctx context.Context, coll *mongo.Collection, req *MongoCommandRequest) (any, error) {
	filter := toBsonM(req.Filter)

	switch req.Command {
	case model.MongoCommandFind:
		findOptions := options.Find()
		if req.Limit > 0 {
			findOptions.SetLimit(req.Limit)
		}
		if req.Skip > 0 {
			findOptions.SetSkip(req.Skip)
		}
		if len(req.Sort) > 0 {
			findOptions.SetSort(toBsonM(req.Sort))
		}
		cursor, err := coll.Find(ctx, filter, findOptions)
		if err != nil {
			return nil, err
		}
		defer cursor.Close(ctx)
		docs, err := decodeAll(ctx, cursor)
		if err != nil {
			return nil, err
		}
		return &mongodb.FindData{Documents: docs, Count: len(docs)}, nil

	case model.MongoCommandFindOne:
		var doc bson.M
		err := coll.FindOne(ctx, filter).Decode(&doc)
		if err != nil {
			if err == mongo.ErrNoDocuments {
				return &mongodb.FindData{Documents: []map[string]any{}, Count: 0}, nil
			}
			return nil, err
		}
		return &mongodb.FindData{Documents: []map[string]any{normalizeDoc(doc)}, Count: 1}, nil

	case model.MongoCommandInsertOne:
		res, err := coll.InsertOne(ctx, toBsonM(req.Document))
		if err != nil {
			return nil, err
		}
		return &mongodb.InsertData{InsertedIDs: []string{formatInsertedID(res.InsertedID)}}, nil

	case model.MongoCommandInsertMany:
		docs := make([]any, 0, len(req.Documents))
		for _, d := range req.Documents {
			docs = append(docs, toBsonM(d))
		}
		res, err := coll.InsertMany(ctx, docs)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(res.InsertedIDs))
		for _, id := range res.InsertedIDs {
			ids = append(ids, formatInsertedID(id))
		}
		return &mongodb.InsertData{InsertedIDs: ids}, nil

	case model.MongoCommandUpdateOne:
		res, err := coll.UpdateOne(ctx, filter, toBsonM(req.Update))
		if err != nil {
			return nil, err
		}
		return &mongodb.UpdateData{MatchedCount: res.MatchedCount, ModifiedCount: res.ModifiedCount}, nil

	case model.MongoCommandUpdateMany:
		res, err := coll.UpdateMany(ctx, filter, toBsonM(req.Update))
		if err != nil {
			return nil, err
		}
		return &mongodb.UpdateData{MatchedCount: res.MatchedCount, ModifiedCount: res.ModifiedCount}, nil

	case model.MongoCommandDeleteOne:
		res, err := coll.DeleteOne(ctx, filter)
		if err != nil {
			return nil, err
		}
		return &mongodb.DeleteData{DeletedCount: res.DeletedCount}, nil

	case model.MongoCommandDeleteMany:
		res, err := coll.DeleteMany(ctx, filter)
		if err != nil {
			return nil, err
		}
		return &mongodb.DeleteData{DeletedCount: res.DeletedCount}, nil

	case model.MongoCommandAggregate:
		pipeline := make(mongo.Pipeline, 0, len(req.Pipeline))
		for _, stage := range req.Pipeline {
			stageDoc := bson.D{}
			for k, v := range stage {
				stageDoc = append(stageDoc, primitive.E{Key: k, Value: v})
			}
			pipeline = append(pipeline, stageDoc)
		}
		cursor, err := coll.Aggregate(ctx, pipeline)
		if err != nil {
			return nil, err
		}
		defer cursor.Close(ctx)
		docs, err := decodeAll(ctx, cursor)
		if err != nil {
			return nil, err
		}
		return &mongodb.FindData{Documents: docs, Count: len(docs)}, nil

	case model.MongoCommandCountDocuments:
		count, err := coll.CountDocuments(ctx, filter)
		if err != nil {
			return nil, err
		}
		return &mongodb.CountData{Count: count}, nil
	}

	return nil, NewValidationError("不支援的操作類型: %s", req.Command)
}

func decodeAll(ctx context.Context, cursor *mongo.Cursor) ([]map[string]any, error) {
	var results []bson.M
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	docs := make([]map[string]any, 0, len(results))
	for _, doc := range results {
		docs = append(docs, normalizeDoc(doc))
	}
	return docs, nil
}

// normalizeDoc 把 ObjectID 轉成十六進位字串，回應才能被 JSON 序列化
func normalizeDoc(doc bson.M) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if oid, ok := v.(primitive.ObjectID); ok {
			out[k] = oid.Hex()
			continue
		}
		out[k] = v
	}
	return out
}

func formatInsertedID(id any) string {
	if oid, ok := id.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprintf("%v", id)
}

func toBsonM(m map[string]any) bson.M {
	if m == nil {
		return bson.M{}
	}
	return bson.M(m)
}
