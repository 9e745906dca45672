package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"dbgate-backend/data-models/common"
	"dbgate-backend/infra"
	"dbgate-backend/metrics"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// ConcurrencyLimiter 先過全域閘門，再過各後端的專屬閘門
type ConcurrencyLimiter struct {
	logger      zerolog.Logger
	global      *semaphore.Weighted
	postgres    *semaphore.Weighted
	mongo       *semaphore.Weighted
	acquireWait time.Duration
}

func NewConcurrencyLimiter(logger zerolog.Logger, cfg infra.ConcurrencyConfig) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{
		logger:      logger.With().Str("module", "concurrency_limiter").Logger(),
		global:      semaphore.NewWeighted(int64(cfg.MaxRequests)),
		postgres:    semaphore.NewWeighted(int64(cfg.PostgresMax)),
		mongo:       semaphore.NewWeighted(int64(cfg.MongoMax)),
		acquireWait: time.Duration(cfg.AcquireWaitMS) * time.Millisecond,
	}
}

// familyFor 解析路徑對應的後端家族。非後端路徑只走全域閘門，backend 為 nil。
func (l *ConcurrencyLimiter) familyFor(path string) (string, *semaphore.Weighted) {
	switch {
	case strings.HasPrefix(path, "/apiDatabase/postgresql"):
		return "postgresql", l.postgres
	case strings.HasPrefix(path, "/apiDatabase/mongodb"):
		return "mongodb", l.mongo
	}
	return "global", nil
}

// Acquire 先取全域名額，後端請求再加取該後端的名額，任一失敗都不持有另一個
func (l *ConcurrencyLimiter) Acquire(ctx context.Context, family string, backend *semaphore.Weighted) error {
	ctx, cancel := context.WithTimeout(ctx, l.acquireWait)
	defer cancel()

	if err := l.global.Acquire(ctx, 1); err != nil {
		return err
	}
	if backend != nil {
		if err := backend.Acquire(ctx, 1); err != nil {
			l.global.Release(1)
			return err
		}
	}
	metrics.RecordAdmissionAcquired(family)
	return nil
}

func (l *ConcurrencyLimiter) Release(family string, backend *semaphore.Weighted) {
	if backend != nil {
		backend.Release(1)
	}
	l.global.Release(1)
	metrics.RecordAdmissionReleased(family)
}

func (l *ConcurrencyLimiter) Middleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		family, backend := l.familyFor(ctx.URL().Path)

		if err := l.Acquire(ctx.Context(), family, backend); err != nil {
			metrics.RecordAdmissionRejected(family)
			l.logger.Warn().Str("family", family).Msg("併發額度已滿，拒絕請求")
			ctx.SetStatus(http.StatusServiceUnavailable)
			ctx.SetHeader("Content-Type", "application/json")
			ctx.BodyWriter().Write(common.ErrorJSON(common.CodeAdmissionRejected, "系統忙碌中，請稍後再試"))
			return
		}
		defer l.Release(family, backend)

		next(ctx)
	}
}

// PostgresSemaphore 與 MongoSemaphore 供測試直接操作閘門
func (l *ConcurrencyLimiter) PostgresSemaphore() *semaphore.Weighted { return l.postgres }
func (l *ConcurrencyLimiter) MongoSemaphore() *semaphore.Weighted   { return l.mongo }
