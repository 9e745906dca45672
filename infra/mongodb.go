package infra

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoConfig struct {
	Host             string
	Port             int
	Database         string
	Username         string
	Password         string
	AuthSource       string
	ConnectTimeoutMS int
	MinPoolSize      int
	MaxPoolSize      int
}

// BuildMongoURI 依呼叫端提供的連線資訊組出連線字串
func BuildMongoURI(config MongoConfig) string {
	uri := "mongodb://"
	if config.Username != "" && config.Password != "" {
		uri += fmt.Sprintf("%s:%s@", url.QueryEscape(config.Username), url.QueryEscape(config.Password))
	}
	uri += fmt.Sprintf("%s:%d/%s", config.Host, config.Port, config.Database)
	if config.AuthSource != "" {
		uri += "?authSource=" + url.QueryEscape(config.AuthSource)
	}
	return uri
}

// NewMongoClient 建立 MongoDB client 並以 ping 驗證連通性。
// client 本身就是一個帶上限的連線池，之後的請求直接重用。
func NewMongoClient(ctx context.Context, config MongoConfig) (*mongo.Client, error) {
	connectTimeout := config.ConnectTimeoutMS
	if connectTimeout <= 0 {
		connectTimeout = 30000
	}
	minPool := config.MinPoolSize
	if minPool <= 0 {
		minPool = 1
	}
	maxPool := config.MaxPoolSize
	if maxPool <= 0 {
		maxPool = 30
	}

	clientOptions := options.Client().
		ApplyURI(BuildMongoURI(config)).
		SetConnectTimeout(time.Duration(connectTimeout) * time.Millisecond).
		SetServerSelectionTimeout(time.Duration(connectTimeout) * time.Millisecond).
		SetMinPoolSize(uint64(minPool)).
		SetMaxPoolSize(uint64(maxPool)).
		SetMaxConnIdleTime(10 * time.Second)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(connectTimeout)*time.Millisecond)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client, nil
}
