// Package gormstore implements store.Backend on PostgreSQL through GORM.
package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/wilhg/contentstate/pkg/store"
)

func init() {
	_ = store.Register("gorm", func(_ context.Context, dsn string, log zerolog.Logger) (store.Backend, error) {
		return Open(dsn, WithLogger(NewLogger(log, logger.Warn)))
	})
}

// Option allows configuring DB connection.
type Option func(*config)

type config struct {
	Logger logger.Interface
}

// WithLogger sets a custom GORM logger.
func WithLogger(l logger.Interface) Option { return func(c *config) { c.Logger = l } }

// NewLogger adapts a zerolog logger to GORM's logger interface. GORM info,
// warn and error messages keep their level; failed queries log at error and
// slow queries at warn. Other queries trace at debug under logger.Info.
func NewLogger(log zerolog.Logger, level logger.LogLevel) logger.Interface {
	return &gormLogger{
		log:   log.With().Str("component", "gormstore").Logger(),
		level: level,
		slow:  200 * time.Millisecond,
	}
}

type gormLogger struct {
	log   zerolog.Logger
	level logger.LogLevel
	slow  time.Duration
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *gormLogger) Info(_ context.Context, msg string, args ...any) {
	if l.level >= logger.Info {
		l.log.Info().Msgf(msg, args...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, args ...any) {
	if l.level >= logger.Warn {
		l.log.Warn().Msgf(msg, args...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, args ...any) {
	if l.level >= logger.Error {
		l.log.Error().Msgf(msg, args...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		l.log.Error().Err(err).Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query failed")
	case l.slow > 0 && elapsed > l.slow && l.level >= logger.Warn:
		sql, rows := fc()
		l.log.Warn().Dur("elapsed", elapsed).Dur("threshold", l.slow).Int64("rows", rows).Str("sql", sql).Msg("slow query")
	case l.level >= logger.Info:
		sql, rows := fc()
		l.log.Debug().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query")
	}
}

// Open opens a Postgres-backed GORM DB connection using the provided DSN and
// migrates the schema.
func Open(dsn string, opts ...Option) (*Store, error) {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	gormCfg := &gorm.Config{}
	if cfg.Logger != nil {
		gormCfg.Logger = cfg.Logger
	}
	db, err := gorm.Open(postgres.Open(dsn), gormCfg)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&UserDataModel{}, &FinishedModel{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// UserDataModel represents the GORM model for user state.
type UserDataModel struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	ContentID    string `gorm:"type:text;not null;uniqueIndex:user_data_key,priority:1;index"`
	UserID       string `gorm:"type:text;not null;uniqueIndex:user_data_key,priority:2"`
	DataType     string `gorm:"type:text;not null;uniqueIndex:user_data_key,priority:3"`
	SubContentID string `gorm:"type:text;not null;uniqueIndex:user_data_key,priority:4"`
	UserState    string `gorm:"type:text;not null"`
	Preload      bool   `gorm:"not null"`
	Invalidate   bool   `gorm:"not null"`
	UpdatedAt    time.Time
}

func (UserDataModel) TableName() string { return "content_user_data" }

// FinishedModel represents the GORM model for completion events.
type FinishedModel struct {
	ID                uint64 `gorm:"primaryKey;autoIncrement"`
	ContentID         string `gorm:"type:text;not null;uniqueIndex:finished_key,priority:1"`
	UserID            string `gorm:"type:text;not null;uniqueIndex:finished_key,priority:2"`
	Score             int    `gorm:"not null"`
	MaxScore          int    `gorm:"not null"`
	OpenedTimestamp   int64  `gorm:"column:opened_at;not null"`
	FinishedTimestamp int64  `gorm:"column:finished_at;not null"`
	CompletionTime    int64  `gorm:"not null"`
}

func (FinishedModel) TableName() string { return "content_finished" }

// Store implements store.Backend using GORM.
type Store struct{ db *gorm.DB }

// LoadUserData fetches the record at the exact key.
func (s *Store) LoadUserData(ctx context.Context, contentID, dataType, subContentID string, user store.User) (store.Record, bool, error) {
	var models []UserDataModel
	err := s.db.WithContext(ctx).
		Where("content_id = ? AND user_id = ? AND data_type = ? AND sub_content_id = ?", contentID, user.ID, dataType, subContentID).
		Limit(1).
		Find(&models).Error
	if err != nil {
		return store.Record{}, false, err
	}
	if len(models) == 0 {
		return store.Record{}, false, nil
	}
	return models[0].record(), true, nil
}

// SaveUserData upserts on the record key.
func (s *Store) SaveUserData(ctx context.Context, rec store.Record, _ store.User) error {
	m := UserDataModel{
		ContentID:    rec.ContentID,
		UserID:       rec.UserID,
		DataType:     rec.DataType,
		SubContentID: rec.SubContentID,
		UserState:    rec.UserState,
		Preload:      rec.Preload,
		Invalidate:   rec.Invalidate,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "content_id"}, {Name: "user_id"}, {Name: "data_type"}, {Name: "sub_content_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_state", "preload", "invalidate", "updated_at"}),
	}).Create(&m).Error
}

// DeleteUserDataByUser removes all records of userID for contentID.
func (s *Store) DeleteUserDataByUser(ctx context.Context, contentID, userID string, _ store.User) error {
	return s.db.WithContext(ctx).
		Where("content_id = ? AND user_id = ?", contentID, userID).
		Delete(&UserDataModel{}).Error
}

// DeleteAllUserDataForContent removes all records for contentID.
func (s *Store) DeleteAllUserDataForContent(ctx context.Context, contentID string, _ store.User) error {
	return s.db.WithContext(ctx).
		Where("content_id = ?", contentID).
		Delete(&UserDataModel{}).Error
}

// ListRecordsForContent lists every record of userID for contentID.
func (s *Store) ListRecordsForContent(ctx context.Context, contentID, userID string) ([]store.Record, error) {
	var models []UserDataModel
	if err := s.db.WithContext(ctx).Where("content_id = ? AND user_id = ?", contentID, userID).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.Record, 0, len(models))
	for _, m := range models {
		out = append(out, m.record())
	}
	return out, nil
}

// RecordCompletion upserts on (content_id, user_id).
func (s *Store) RecordCompletion(ctx context.Context, rec store.FinishedRecord, _ store.User) error {
	m := FinishedModel{
		ContentID:         rec.ContentID,
		UserID:            rec.UserID,
		Score:             rec.Score,
		MaxScore:          rec.MaxScore,
		OpenedTimestamp:   rec.OpenedTimestamp,
		FinishedTimestamp: rec.FinishedTimestamp,
		CompletionTime:    rec.CompletionTime,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "content_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"score", "max_score", "opened_at", "finished_at", "completion_time"}),
	}).Create(&m).Error
}

// ListCompletions lists completions for contentID ordered by user id.
func (s *Store) ListCompletions(ctx context.Context, contentID string) ([]store.FinishedRecord, error) {
	var models []FinishedModel
	if err := s.db.WithContext(ctx).Where("content_id = ?", contentID).Order("user_id asc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.FinishedRecord, 0, len(models))
	for _, m := range models {
		out = append(out, store.FinishedRecord{
			ContentID:         m.ContentID,
			UserID:            m.UserID,
			Score:             m.Score,
			MaxScore:          m.MaxScore,
			OpenedTimestamp:   m.OpenedTimestamp,
			FinishedTimestamp: m.FinishedTimestamp,
			CompletionTime:    m.CompletionTime,
		})
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (m UserDataModel) record() store.Record {
	return store.Record{
		ContentID:    m.ContentID,
		UserID:       m.UserID,
		DataType:     m.DataType,
		SubContentID: m.SubContentID,
		UserState:    m.UserState,
		Preload:      m.Preload,
		Invalidate:   m.Invalidate,
	}
}
