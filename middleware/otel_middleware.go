package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

type OtelConfig struct {
	ServiceName     string
	ServiceVersion  string
	Environment     string
	OTLPEndpoint    string
	Enabled         bool
	DevelopmentMode bool // 開發模式使用 stdout，生產模式使用 OTLP
}

var tracer trace.Tracer

// InitOpenTelemetry 初始化 trace provider（metrics 走 Prometheus，不經過 otel）
func InitOpenTelemetry(config OtelConfig, logger zerolog.Logger) (func(), error) {
	if !config.Enabled {
		return func() {}, nil
	}

	ctx := context.Background()

	// 創建 resource（不使用 Default 避免版本衝突）
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(config.ServiceName),
		semconv.ServiceVersionKey.String(config.ServiceVersion),
		semconv.DeploymentEnvironmentKey.String(config.Environment),
		semconv.ServiceInstanceIDKey.String(fmt.Sprintf("%s-%d", config.ServiceName, time.Now().Unix())),
	)

	var exporter sdktrace.SpanExporter
	var err error

	if config.DevelopmentMode {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		logger.Info().Msg("使用 stdout trace exporter（開發模式）")
	} else {
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(config.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		logger.Info().Str("endpoint", config.OTLPEndpoint).Msg("使用 OTLP gRPC trace exporter（生產模式）")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	// 設置全局 propagator
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer = otel.Tracer(config.ServiceName)

	logger.Info().
		Str("service", config.ServiceName).
		Str("version", config.ServiceVersion).
		Str("environment", config.Environment).
		Str("otlp_endpoint", config.OTLPEndpoint).
		Bool("development_mode", config.DevelopmentMode).
		Msg("OpenTelemetry 初始化成功")

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error during OpenTelemetry shutdown")
		}
		logger.Info().Msg("OpenTelemetry 清理完成")
	}, nil
}

// OpenTelemetryMiddleware 為每個請求建立 span，並在回應 headers 帶上 trace 信息
func OpenTelemetryMiddleware(config OtelConfig, logger zerolog.Logger) func(huma.Context, func(huma.Context)) {
	if !config.Enabled {
		return func(ctx huma.Context, next func(huma.Context)) {
			next(ctx)
		}
	}

	return func(ctx huma.Context, next func(huma.Context)) {
		startTime := time.Now()

		// 從 HTTP headers 中提取 trace context
		carrier := &HeaderCarrier{ctx: ctx}
		parentCtx := otel.GetTextMapPropagator().Extract(ctx.Context(), carrier)

		spanName := fmt.Sprintf("%s %s", ctx.Method(), ctx.URL().Path)

		spanCtx, span := tracer.Start(parentCtx, spanName,
			trace.WithAttributes(
				semconv.HTTPMethodKey.String(ctx.Method()),
				semconv.HTTPRouteKey.String(ctx.URL().Path),
				semconv.HTTPUserAgentKey.String(ctx.Header("User-Agent")),
				attribute.String("net.peer.ip", ctx.RemoteAddr()),
				attribute.String("service.name", config.ServiceName),
			),
		)
		defer span.End()

		requestID := GetRequestIDFromContext(ctx)
		if requestID == "" {
			requestID = fmt.Sprintf("req_%s", span.SpanContext().TraceID().String()[:8])
		}

		traceID := span.SpanContext().TraceID().String()
		spanID := span.SpanContext().SpanID().String()
		ctx.SetHeader("X-Request-ID", requestID)
		ctx.SetHeader("X-Trace-ID", traceID)
		ctx.SetHeader("X-Span-ID", spanID)

		// 將 trace context 注入到響應 headers
		otel.GetTextMapPropagator().Inject(spanCtx, carrier)

		span.AddEvent("request.start")

		next(ctx)

		duration := time.Since(startTime)
		statusCode := ctx.Status()

		span.SetAttributes(
			semconv.HTTPStatusCodeKey.Int(statusCode),
			attribute.Float64("http.request.duration_ms", float64(duration.Nanoseconds())/1e6),
			attribute.String("http.request_id", requestID),
		)
		span.AddEvent("request.complete", trace.WithAttributes(
			attribute.Int("status_code", statusCode),
			attribute.Float64("duration_ms", float64(duration.Nanoseconds())/1e6),
		))

		// 根據狀態碼設置 span 狀態
		if statusCode >= 400 {
			span.RecordError(fmt.Errorf("HTTP %d", statusCode))
			if statusCode >= 500 {
				span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", statusCode))
			} else {
				span.SetStatus(codes.Error, fmt.Sprintf("Client Error %d", statusCode))
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}

		logEvent := logger.Info()
		if statusCode >= 500 {
			logEvent = logger.Error()
		} else if statusCode >= 400 {
			logEvent = logger.Warn()
		}

		logEvent.
			Str("request_id", requestID).
			Str("trace_id", traceID).
			Str("method", ctx.Method()).
			Str("path", ctx.URL().Path).
			Int("status_code", statusCode).
			Float64("duration_ms", float64(duration.Nanoseconds())/1e6).
			Str("remote_addr", ctx.RemoteAddr()).
			Msg("HTTP request completed")
	}
}

// GetRequestIDFromContext 從 HTTP headers 獲取 request ID
func GetRequestIDFromContext(ctx huma.Context) string {
	return ctx.Header("X-Request-ID")
}

// HeaderCarrier 實現 propagation.TextMapCarrier 接口
type HeaderCarrier struct {
	ctx huma.Context
}

func (h *HeaderCarrier) Get(key string) string {
	return h.ctx.Header(key)
}

func (h *HeaderCarrier) Set(key, value string) {
	h.ctx.SetHeader(key, value)
}

func (h *HeaderCarrier) Keys() []string {
	// huma.Context 沒有列舉 header keys 的方法，extract 用不到
	return []string{}
}
