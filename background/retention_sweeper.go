package background

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dbgate-backend/service"

	"github.com/rs/zerolog"
)

// RetentionSweeper 每日固定時刻清理過期的使用日誌
type RetentionSweeper struct {
	logger       zerolog.Logger
	tokenService *service.TokenService
	sweepHour    int
	sweepMinute  int

	now func() time.Time
}

func NewRetentionSweeper(logger zerolog.Logger, tokenService *service.TokenService, sweepTime string) (*RetentionSweeper, error) {
	hour, minute, err := parseSweepTime(sweepTime)
	if err != nil {
		return nil, err
	}

	return &RetentionSweeper{
		logger:       logger.With().Str("module", "retention_sweeper").Logger(),
		tokenService: tokenService,
		sweepHour:    hour,
		sweepMinute:  minute,
		now:          time.Now,
	}, nil
}

func parseSweepTime(sweepTime string) (int, int, error) {
	parts := strings.Split(sweepTime, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("無效的清理時刻格式: %s，需要 HH:MM", sweepTime)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("無效的清理時刻小時: %s", parts[0])
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("無效的清理時刻分鐘: %s", parts[1])
	}
	return hour, minute, nil
}

// nextRunAt 計算下一次清理的時間點，今天的時刻已過就排到明天
func (s *RetentionSweeper) nextRunAt(from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), s.sweepHour, s.sweepMinute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s *RetentionSweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *RetentionSweeper) run(ctx context.Context) {
	s.logger.Info().
		Str("sweep_time", fmt.Sprintf("%02d:%02d", s.sweepHour, s.sweepMinute)).
		Msg("日誌清理排程已啟動")

	for {
		next := s.nextRunAt(s.now())
		wait := next.Sub(s.now())

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("日誌清理排程已停止")
			return
		case <-timer.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce 執行一輪清理。失敗只記 log，下一輪排程照常
func (s *RetentionSweeper) RunOnce(ctx context.Context) {
	deleted, err := s.tokenService.CleanupUsageLogs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("清理使用日誌失敗")
		return
	}
	s.logger.Info().Int64("deleted", deleted).Msg("清理使用日誌完成")
}
