package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dbgate-backend/background"
	"dbgate-backend/controller"
	"dbgate-backend/infra"
	"dbgate-backend/metrics"
	gatewayMiddleware "dbgate-backend/middleware"
	"dbgate-backend/service"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Port int `help:"服務監聽端口" short:"p" default:"3010"`
}

// 全局變量用於存儲 OpenTelemetry cleanup 函數
var otelCleanup func()

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, options *Options) {
		// 載入設定檔
		if err := infra.LoadConfig(); err != nil {
			log.Fatal().
				Err(err).
				Msg("讀取 config.yml 失敗")
		}

		// 初始化 logger（在載入配置後）
		infra.InitLogger()

		port := infra.AppConfig.App.Port
		if options.Port != 0 && options.Port != 3010 {
			port = options.Port
		}

		// 初始化 OpenTelemetry
		otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		if otelEndpoint == "" {
			otelEndpoint = infra.AppConfig.Otel.OTLPEndpoint
		}
		if otelEndpoint == "" {
			otelEndpoint = "localhost:4318"
		}

		otelConfig := gatewayMiddleware.OtelConfig{
			ServiceName:     "dbgate-backend",
			ServiceVersion:  "1.0.0",
			Environment:     os.Getenv("GO_ENV"),
			OTLPEndpoint:    otelEndpoint,
			Enabled:         infra.AppConfig.Otel.Enabled,
			DevelopmentMode: os.Getenv("GO_ENV") != "production",
		}

		var err error
		otelCleanup, err = gatewayMiddleware.InitOpenTelemetry(otelConfig, log.Logger)
		if err != nil {
			log.Fatal().
				Err(err).
				Msg("OpenTelemetry 初始化失敗")
		}

		// 初始化全局 tracer
		infra.InitTracer()

		// 初始化 Prometheus metrics
		if err := gatewayMiddleware.InitPrometheusMetrics(log.Logger); err != nil {
			log.Error().
				Err(err).
				Msg("Prometheus metrics 初始化失敗，將繼續運行")
		}

		// 初始化 Service 層 metrics
		if err := metrics.InitServiceMetrics(gatewayMiddleware.GetPrometheusRegistry()); err != nil {
			log.Error().
				Err(err).
				Msg("Service metrics 初始化失敗，將繼續運行")
		}

		log.Info().
			Int("port", port).
			Msg("啟動 DBGate API服務")

		// 配額帳本資料庫
		authDB, err := infra.NewPostgres(infra.PostgresConfig{
			Host:           infra.AppConfig.AuthDB.Host,
			Port:           infra.AppConfig.AuthDB.Port,
			Database:       infra.AppConfig.AuthDB.Database,
			User:           infra.AppConfig.AuthDB.User,
			Password:       infra.AppConfig.AuthDB.Password,
			SSLMode:        infra.AppConfig.AuthDB.SSLMode,
			ConnectTimeout: infra.AppConfig.AuthDB.ConnectTimeout,
		})
		if err != nil {
			log.Fatal().
				Err(err).
				Msg("配額資料庫初始化失敗")
		}

		// Redis 令牌快取（可選，連不上就不開快取）
		var tokenCache *service.TokenCacheService
		var redisClient *infra.Redis
		if infra.AppConfig.Redis.Enabled {
			redisClient, err = infra.NewRedis(infra.RedisConfig{
				Addr:     infra.AppConfig.Redis.Addr,
				Password: infra.AppConfig.Redis.Password,
				DB:       infra.AppConfig.Redis.DB,
			})
			if err != nil {
				log.Error().
					Err(err).
					Msg("Redis連接失敗 (繼續運行，停用令牌快取)")
				redisClient = nil
			} else {
				tokenCache = service.NewTokenCacheService(log.Logger, redisClient.Client, infra.AppConfig.Redis.CacheTTLSecs)
			}
		}

		// Service 層
		tokenService := service.NewTokenService(log.Logger, authDB, tokenCache)
		postgresPools := service.NewPostgresPoolService(log.Logger)
		mongoPools := service.NewMongoPoolService(log.Logger)
		queryService := service.NewPostgresQueryService(log.Logger, postgresPools)
		commandService := service.NewMongoCommandService(log.Logger, mongoPools)

		// 確保 api_tokens / token_usage_logs 表存在
		if err := tokenService.EnsureSchema(context.Background()); err != nil {
			log.Fatal().
				Err(err).
				Msg("初始化配額資料表失敗")
		}

		router := chi.NewRouter()
		router.Use(middleware.Logger)
		router.Use(middleware.Recoverer)
		router.Use(middleware.RequestID)
		router.Use(middleware.Heartbeat("/ping"))

		// CORS 設定 - 允許所有來源
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "accessToken"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: false,
			MaxAge:           300,
		}))

		apiConfig := huma.DefaultConfig("DBGate API", "1.0.0")
		apiConfig.Info.Description = "以呼叫端憑證執行資料庫操作的閘道服務，按工作區令牌計量"

		serverURL := fmt.Sprintf("http://localhost:%d", port)
		apiConfig.Servers = []*huma.Server{
			{URL: serverURL},
		}

		api := humachi.New(router, apiConfig)

		// 中間件順序：遙測 → metrics → 併發閘門 → 令牌驗證
		api.UseMiddleware(gatewayMiddleware.OpenTelemetryMiddleware(otelConfig, log.Logger))
		api.UseMiddleware(gatewayMiddleware.PrometheusMiddleware(log.Logger))

		limiter := gatewayMiddleware.NewConcurrencyLimiter(log.Logger, infra.AppConfig.Concurrency)
		api.UseMiddleware(limiter.Middleware())

		tokenAuthMiddleware := gatewayMiddleware.NewTokenAuthMiddleware(log.Logger, tokenService)
		api.UseMiddleware(tokenAuthMiddleware.Auth())

		// Controller 層
		tokenController := controller.NewTokenController(log.Logger, tokenService)
		postgresController := controller.NewPostgresController(log.Logger, queryService, tokenService)
		mongoController := controller.NewMongoController(log.Logger, commandService, tokenService)

		tokenController.RegisterRoutes(api)
		postgresController.RegisterRoutes(api)
		mongoController.RegisterRoutes(api)

		// 註冊 Prometheus metrics 端點
		router.Handle("/metrics", gatewayMiddleware.GetStandardPrometheusHandler())

		huma.Register(api, huma.Operation{
			OperationID: "health-check",
			Method:      "GET",
			Path:        "/",
			Summary:     "健康檢查",
			Tags:        []string{"system"},
		}, func(ctx context.Context, input *struct{}) (*struct {
			Body struct {
				Status  string `json:"status" example:"ok"`
				Message string `json:"message" example:"服務運行正常"`
			}
		}, error) {
			resp := &struct {
				Body struct {
					Status  string `json:"status" example:"ok"`
					Message string `json:"message" example:"服務運行正常"`
				}
			}{}
			resp.Body.Status = "ok"
			resp.Body.Message = "DBGate API服務運行正常"
			return resp, nil
		})

		// 背景工作
		bgCtx, bgCancel := context.WithCancel(context.Background())

		poolReaper := background.NewPoolReaper(log.Logger, postgresPools, mongoPools,
			time.Duration(infra.AppConfig.Pool.ReapIntervalMins)*time.Minute)
		poolReaper.Start(bgCtx)

		retentionSweeper, err := background.NewRetentionSweeper(log.Logger, tokenService, infra.AppConfig.Retention.SweepTime)
		if err != nil {
			log.Fatal().
				Err(err).
				Msg("日誌清理排程初始化失敗")
		}
		retentionSweeper.Start(bgCtx)

		// 基礎設施健康狀態更新器
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-bgCtx.Done():
					return
				case <-ticker.C:
					pgStart := time.Now()
					pgErr := authDB.Pool.Ping(bgCtx)
					pgLatency := float64(time.Since(pgStart).Nanoseconds()) / 1e6
					gatewayMiddleware.UpdateInfrastructureHealth("database", "postgresql", pgErr == nil, pgLatency)

					if redisClient != nil {
						redisStart := time.Now()
						redisErr := redisClient.Client.Ping(bgCtx).Err()
						redisLatency := float64(time.Since(redisStart).Nanoseconds()) / 1e6
						gatewayMiddleware.UpdateInfrastructureHealth("cache", "redis", redisErr == nil, redisLatency)
					}
				}
			}
		}()

		hooks.OnStart(func() {
			log.Info().
				Int("port", port).
				Str("docs_url", fmt.Sprintf("%s/docs", serverURL)).
				Msg("API文檔已啟用")
			server := &http.Server{
				Addr:    fmt.Sprintf(":%d", port),
				Handler: router,
			}
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal().
						Err(err).
						Msg("服務器啟動失敗")
				}
			}()
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit
			log.Info().Msg("正在關閉服務器...")

			bgCancel()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error().
					Err(err).
					Msg("服務器關閉錯誤")
			}

			postgresPools.Close()
			mongoPools.Close(shutdownCtx)
			authDB.Close()
			if redisClient != nil {
				if err := redisClient.Close(); err != nil {
					log.Error().
						Err(err).
						Msg("Redis關閉錯誤")
				}
			}

			// 清理 OpenTelemetry resources
			if otelCleanup != nil {
				log.Info().Msg("正在關閉 OpenTelemetry...")
				otelCleanup()
			}
			log.Info().Msg("服務器已關閉")
		})
	})
	cli.Run()
}
