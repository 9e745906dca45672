package background

import (
	"context"
	"time"

	"dbgate-backend/service"

	"github.com/rs/zerolog"
)

// PoolReaper 週期性回收閒置的後端連線池
type PoolReaper struct {
	logger        zerolog.Logger
	postgresPools *service.PostgresPoolService
	mongoPools    *service.MongoPoolService
	interval      time.Duration
}

func NewPoolReaper(logger zerolog.Logger, postgresPools *service.PostgresPoolService, mongoPools *service.MongoPoolService, interval time.Duration) *PoolReaper {
	return &PoolReaper{
		logger:        logger.With().Str("module", "pool_reaper").Logger(),
		postgresPools: postgresPools,
		mongoPools:    mongoPools,
		interval:      interval,
	}
}

func (r *PoolReaper) Start(ctx context.Context) {
	go r.run(ctx)
}

func (r *PoolReaper) run(ctx context.Context) {
	r.logger.Info().Dur("interval", r.interval).Msg("連線池回收器已啟動")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("連線池回收器已停止")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce 執行一輪回收，供排程與測試共用
func (r *PoolReaper) RunOnce(ctx context.Context) {
	pgReaped := r.postgresPools.ReapIdle(ctx)
	mongoReaped := r.mongoPools.ReapIdle(ctx)

	if pgReaped > 0 || mongoReaped > 0 {
		r.logger.Info().
			Int("postgresql_reaped", pgReaped).
			Int("mongodb_reaped", mongoReaped).
			Int("postgresql_active", r.postgresPools.PoolCount()).
			Int("mongodb_active", r.mongoPools.PoolCount()).
			Msg("回收閒置連線池完成")
	}
}
