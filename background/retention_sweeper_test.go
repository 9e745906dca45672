package background

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var testLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

func TestParseSweepTime(t *testing.T) {
	testCases := []struct {
		input   string
		hour    int
		minute  int
		wantErr bool
	}{
		{"03:00", 3, 0, false},
		{"00:00", 0, 0, false},
		{"23:59", 23, 59, false},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"0300", 0, 0, true},
		{"ab:cd", 0, 0, true},
		{"", 0, 0, true},
	}

	for _, tc := range testCases {
		hour, minute, err := parseSweepTime(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseSweepTime(%q) 應失敗", tc.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseSweepTime(%q) 失敗: %v", tc.input, err)
			continue
		}
		if hour != tc.hour || minute != tc.minute {
			t.Errorf("parseSweepTime(%q) = %d:%d, 預期 %d:%d", tc.input, hour, minute, tc.hour, tc.minute)
		}
	}
}

func TestNextRunAt(t *testing.T) {
	sweeper, err := NewRetentionSweeper(testLogger, nil, "03:00")
	if err != nil {
		t.Fatalf("建立排程失敗: %v", err)
	}

	loc := time.UTC

	// 今天的時刻還沒到，排今天
	from := time.Date(2026, 8, 31, 1, 30, 0, 0, loc)
	next := sweeper.nextRunAt(from)
	want := time.Date(2026, 8, 31, 3, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("nextRunAt = %v, 預期 %v", next, want)
	}

	// 今天的時刻已過，排明天
	from = time.Date(2026, 8, 31, 3, 0, 1, 0, loc)
	next = sweeper.nextRunAt(from)
	want = time.Date(2026, 9, 1, 3, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("nextRunAt = %v, 預期 %v", next, want)
	}

	// 正好在時刻上，排明天（避免同一分鐘重複執行）
	from = time.Date(2026, 8, 31, 3, 0, 0, 0, loc)
	next = sweeper.nextRunAt(from)
	if !next.Equal(want) {
		t.Fatalf("nextRunAt = %v, 預期 %v", next, want)
	}
}

func TestNewRetentionSweeperRejectsBadTime(t *testing.T) {
	if _, err := NewRetentionSweeper(testLogger, nil, "25:00"); err == nil {
		t.Fatal("無效的清理時刻應報錯")
	}
}
