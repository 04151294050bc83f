package gormstore

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// infoLogger mirrors the service default LOG_LEVEL=info.
func infoLogger(buf *bytes.Buffer) zerolog.Logger {
	return zerolog.New(buf).Level(zerolog.InfoLevel)
}

func TestNewLoggerKeepsWarnAndErrorAtInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(infoLogger(&buf), logger.Warn)
	l.Warn(context.Background(), "index %s missing", "user_data_key")
	l.Error(context.Background(), "migrate failed: %v", "boom")

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, "index user_data_key missing") {
		t.Fatalf("warn line missing in %q", out)
	}
	if !strings.Contains(out, `"level":"error"`) || !strings.Contains(out, "migrate failed: boom") {
		t.Fatalf("error line missing in %q", out)
	}
	if !strings.Contains(out, `"component":"gormstore"`) {
		t.Fatalf("missing component in %q", out)
	}
}

func TestNewLoggerRespectsGormLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(infoLogger(&buf), logger.Warn)
	l.Info(context.Background(), "dropped")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}

	l = l.LogMode(logger.Info)
	l.Info(context.Background(), "kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("info not logged after LogMode: %q", buf.String())
	}

	buf.Reset()
	l.LogMode(logger.Silent).Error(context.Background(), "silenced")
	if buf.Len() != 0 {
		t.Fatalf("silent mode logged: %q", buf.String())
	}
}

func TestTraceFailedAndSlowQueries(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(infoLogger(&buf), logger.Warn)
	sql := func() (string, int64) { return "SELECT 1", 0 }

	l.Trace(context.Background(), time.Now(), sql, errors.New("relation does not exist"))
	if out := buf.String(); !strings.Contains(out, "query failed") || !strings.Contains(out, "relation does not exist") {
		t.Fatalf("failed query not logged: %q", out)
	}

	buf.Reset()
	l.Trace(context.Background(), time.Now(), sql, gorm.ErrRecordNotFound)
	if buf.Len() != 0 {
		t.Fatalf("record not found logged: %q", buf.String())
	}

	l.Trace(context.Background(), time.Now().Add(-time.Second), sql, nil)
	if out := buf.String(); !strings.Contains(out, "slow query") || !strings.Contains(out, `"level":"warn"`) {
		t.Fatalf("slow query not logged at warn: %q", out)
	}

	buf.Reset()
	l.Trace(context.Background(), time.Now(), sql, nil)
	if buf.Len() != 0 {
		t.Fatalf("fast query logged at warn level: %q", buf.String())
	}
}
