// Package audit 把安全事件归档到 SQL 数据库或发布到 Kafka，作为 Redis 事件流之外的长期记录。
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kochabx/vidchat/core/session"
	"github.com/kochabx/vidchat/errors"
	"github.com/kochabx/vidchat/log"
	"github.com/kochabx/vidchat/store/db"
)

// Config 审计库配置
type Config struct {
	Enabled bool `mapstructure:"enabled"`
	// Retention 超过该时长的事件由维护任务删除
	Retention time.Duration `mapstructure:"retention" default:"720h"`

	db.Config `mapstructure:",squash"`

	Stream StreamConfig `mapstructure:"stream"`
}

// Record 安全事件表
type Record struct {
	ID         uint      `gorm:"primaryKey"`
	EventID    string    `gorm:"size:36;uniqueIndex"`
	Type       string    `gorm:"size:64;index"`
	Identifier string    `gorm:"size:255;index"`
	Details    string    `gorm:"type:text"`
	OccurredAt time.Time `gorm:"index"`
}

func (Record) TableName() string {
	return "security_events"
}

// Sink 实现 session.EventSink
type Sink struct {
	db     *gorm.DB
	logger *log.Logger
}

var _ session.EventSink = (*Sink)(nil)

// Option Sink 选项
type Option func(*Sink)

func WithLogger(l *log.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// New 建表并返回 Sink
func New(ctx context.Context, database db.Database, opts ...Option) (*Sink, error) {
	if database == nil {
		return nil, db.ErrNotInitialized
	}
	s := &Sink{db: database.DB(), logger: log.G}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Component("audit")

	if err := database.AutoMigrate(ctx, &Record{}); err != nil {
		return nil, fmt.Errorf("migrate security events: %w", err)
	}
	return s, nil
}

// Write 写入一条事件，重复的事件 id 忽略
func (s *Sink) Write(ctx context.Context, event session.Event) error {
	details := ""
	if len(event.Details) > 0 {
		b, err := json.Marshal(event.Details)
		if err != nil {
			return errors.ErrInvalidInput.WithReason("unencodable_details").WithCause(err)
		}
		details = string(b)
	}
	record := Record{
		EventID:    event.ID,
		Type:       string(event.Type),
		Identifier: event.Identifier,
		Details:    details,
		OccurredAt: event.Timestamp.UTC(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&record).Error
	if err != nil {
		return errors.ErrUnavailable.WithReason("audit_write").WithCause(err)
	}
	return nil
}

// Query 事件查询条件，空字段不过滤
type Query struct {
	Type       session.EventType
	Identifier string
	Since      time.Time
	Limit      int
}

// Find 按时间倒序查询事件
func (s *Sink) Find(ctx context.Context, q Query) ([]session.Event, error) {
	tx := s.db.WithContext(ctx).Model(&Record{})
	if q.Type != "" {
		tx = tx.Where("type = ?", string(q.Type))
	}
	if q.Identifier != "" {
		tx = tx.Where("identifier = ?", q.Identifier)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("occurred_at >= ?", q.Since.UTC())
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var records []Record
	if err := tx.Order("occurred_at DESC").Order("id DESC").Find(&records).Error; err != nil {
		return nil, errors.ErrUnavailable.WithReason("audit_query").WithCause(err)
	}

	events := make([]session.Event, 0, len(records))
	for _, r := range records {
		event := session.Event{
			ID:         r.EventID,
			Type:       session.EventType(r.Type),
			Identifier: r.Identifier,
			Timestamp:  r.OccurredAt,
		}
		if r.Details != "" {
			if err := json.Unmarshal([]byte(r.Details), &event.Details); err != nil {
				s.logger.Warn().Err(err).Str("event_id", r.EventID).Msg("skipping undecodable audit details")
			}
		}
		events = append(events, event)
	}
	return events, nil
}

// Purge 删除早于 before 的事件
func (s *Sink) Purge(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("occurred_at < ?", before.UTC()).Delete(&Record{})
	if res.Error != nil {
		return 0, errors.ErrUnavailable.WithReason("audit_purge").WithCause(res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info().Int64("deleted", res.RowsAffected).Msg("purged audit events")
	}
	return res.RowsAffected, nil
}
