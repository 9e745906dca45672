package service

import (
	"errors"
	"testing"

	"dbgate-backend/model"
)

func TestValidateCommand(t *testing.T) {
	doc := map[string]any{"name": "alice"}

	testCases := []struct {
		name    string
		req     MongoCommandRequest
		wantErr bool
	}{
		{"find", MongoCommandRequest{Collection: "users", Command: model.MongoCommandFind}, false},
		{"findOne", MongoCommandRequest{Collection: "users", Command: model.MongoCommandFindOne}, false},
		{"countDocuments", MongoCommandRequest{Collection: "users", Command: model.MongoCommandCountDocuments}, false},
		{"insertOne 有文件", MongoCommandRequest{Collection: "users", Command: model.MongoCommandInsertOne, Document: doc}, false},
		{"updateOne 有更新", MongoCommandRequest{Collection: "users", Command: model.MongoCommandUpdateOne, Update: doc}, false},
		{"deleteOne 有條件", MongoCommandRequest{Collection: "users", Command: model.MongoCommandDeleteOne, Filter: doc}, false},
		{"aggregate 有管線", MongoCommandRequest{Collection: "users", Command: model.MongoCommandAggregate, Pipeline: []map[string]any{{"$match": doc}}}, false},

		{"集合外指令", MongoCommandRequest{Collection: "users", Command: model.MongoCommand("dropDatabase")}, true},
		{"renameCollection 不在集合內", MongoCommandRequest{Collection: "users", Command: model.MongoCommand("renameCollection")}, true},
		{"缺少集合", MongoCommandRequest{Command: model.MongoCommandFind}, true},
		{"insertOne 缺文件", MongoCommandRequest{Collection: "users", Command: model.MongoCommandInsertOne}, true},
		{"insertMany 空陣列", MongoCommandRequest{Collection: "users", Command: model.MongoCommandInsertMany, Documents: []map[string]any{}}, true},
		{"updateMany 缺更新", MongoCommandRequest{Collection: "users", Command: model.MongoCommandUpdateMany}, true},
		{"deleteMany 缺條件", MongoCommandRequest{Collection: "users", Command: model.MongoCommandDeleteMany}, true},
		{"aggregate 空管線", MongoCommandRequest{Collection: "users", Command: model.MongoCommandAggregate}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateCommand(&tc.req)
			if tc.wantErr && err == nil {
				t.Fatal("預期驗證失敗")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("不應驗證失敗: %v", err)
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

func TestMongoCommandIsRead(t *testing.T) {
	reads := []model.MongoCommand{
		model.MongoCommandFind,
		model.MongoCommandFindOne,
		model.MongoCommandAggregate,
		model.MongoCommandCountDocuments,
	}
	writes := []model.MongoCommand{
		model.MongoCommandInsertOne,
		model.MongoCommandInsertMany,
		model.MongoCommandUpdateOne,
		model.MongoCommandUpdateMany,
		model.MongoCommandDeleteOne,
		model.MongoCommandDeleteMany,
	}

	for _, cmd := range reads {
		if !cmd.IsRead() {
			t.Errorf("%s 應視為讀取型指令", cmd)
		}
	}
	for _, cmd := range writes {
		if cmd.IsRead() {
			t.Errorf("%s 不應視為讀取型指令", cmd)
		}
	}
}
