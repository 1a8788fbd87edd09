// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wfunc/econgames/models"
)

// GormPostgreSQL 使用GORM的PostgreSQL实现. Writers announce changes with
// pg_notify; a ChangeListener turns them into subscriptions.
type GormPostgreSQL struct {
	db      *gorm.DB
	changes *ChangeListener
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(cfg PostgresConfig) (*GormPostgreSQL, error) {
	// 配置GORM日志
	gormLogger := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold: time.Second,
			LogLevel:      gormlogger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := autoMigrate(db); err != nil {
		return nil, err
	}

	p := &GormPostgreSQL{db: db}
	p.changes, err = NewChangeListener(cfg.DSN(), p.Read)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return p, nil
}

// autoMigrate 自动迁移表结构
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.GormSession{},
		&models.GormGameRecord{},
	)
}

func toRow(s *models.Session) (*models.GormSession, error) {
	data, err := encodeSession(s)
	if err != nil {
		return nil, err
	}
	return &models.GormSession{
		ID:        s.ID,
		Name:      s.Name,
		GameID:    s.GameData.GameID,
		Status:    string(s.Status),
		CreatedBy: s.CreatedBy,
		Version:   s.Version,
		Data:      data,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}, nil
}

func (p *GormPostgreSQL) notify(ctx context.Context, op, id string) error {
	return p.db.WithContext(ctx).Exec("SELECT pg_notify(?, ?)", notifyChannel, notifyPayload(op, id)).Error
}

func (p *GormPostgreSQL) Create(ctx context.Context, s *models.Session) error {
	stamp(s, 1)
	row, err := toRow(s)
	if err != nil {
		return err
	}
	if err := p.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create session: %w", err)
	}
	return p.notify(ctx, "upsert", s.ID)
}

func (p *GormPostgreSQL) Read(ctx context.Context, id string) (*models.Session, error) {
	var row models.GormSession
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return decodeSession(row.Data)
}

func (p *GormPostgreSQL) Update(ctx context.Context, id string, fields map[string]any) (*models.Session, error) {
	for {
		var row models.GormSession
		if err := p.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrRecordNotFound
			}
			return nil, err
		}
		doc, err := mergeFields(row.Data, fields)
		if err != nil {
			return nil, err
		}
		err = p.CompareAndSwap(ctx, doc, row.Version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return doc, nil
	}
}

func (p *GormPostgreSQL) CompareAndSwap(ctx context.Context, s *models.Session, expected int64) error {
	next := *s
	stamp(&next, expected+1)
	row, err := toRow(&next)
	if err != nil {
		return err
	}
	res := p.db.WithContext(ctx).Model(&models.GormSession{}).
		Where("id = ? AND version = ?", s.ID, expected).
		Updates(map[string]any{
			"name":       row.Name,
			"game_id":    row.GameID,
			"status":     row.Status,
			"version":    row.Version,
			"data":       row.Data,
			"updated_at": row.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("update session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := p.db.WithContext(ctx).Model(&models.GormSession{}).Where("id = ?", s.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrRecordNotFound
		}
		return ErrVersionConflict
	}
	*s = next
	return p.notify(ctx, "upsert", s.ID)
}

func (p *GormPostgreSQL) Delete(ctx context.Context, id string) error {
	res := p.db.WithContext(ctx).Where("id = ?", id).Delete(&models.GormSession{})
	if res.Error != nil {
		return fmt.Errorf("delete session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return p.notify(ctx, "delete", id)
}

func (p *GormPostgreSQL) List(ctx context.Context) ([]*models.Session, error) {
	var rows []models.GormSession
	if err := p.db.WithContext(ctx).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	list := make([]*models.Session, 0, len(rows))
	for _, row := range rows {
		doc, err := decodeSession(row.Data)
		if err != nil {
			return nil, err
		}
		list = append(list, doc)
	}
	return list, nil
}

func (p *GormPostgreSQL) Subscribe(ctx context.Context, id string) (<-chan *models.Session, error) {
	if _, err := p.Read(ctx, id); err != nil {
		return nil, err
	}
	return p.changes.Subscribe(ctx, id), nil
}

// SaveGameRecord 保存游戏记录
func (p *GormPostgreSQL) SaveGameRecord(ctx context.Context, rec *models.GameRecord) error {
	players, err := json.Marshal(rec.Players)
	if err != nil {
		return err
	}
	result, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	row := models.GormGameRecord{
		SessionID: rec.SessionID,
		GameID:    rec.GameID,
		Players:   players,
		Result:    result,
		CreatedAt: rec.CompletedAt,
	}
	return p.db.WithContext(ctx).Create(&row).Error
}

func (p *GormPostgreSQL) ListGameRecords(ctx context.Context, playerID string) ([]*models.GameRecord, error) {
	q := p.db.WithContext(ctx).Order("id")
	if playerID != "" {
		contains, err := json.Marshal([]string{playerID})
		if err != nil {
			return nil, err
		}
		q = q.Where("players @> ?", string(contains))
	}
	var rows []models.GormGameRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list game records: %w", err)
	}
	out := make([]*models.GameRecord, 0, len(rows))
	for _, row := range rows {
		var rec models.GameRecord
		if err := json.Unmarshal(row.Result, &rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, nil
}

// Close 关闭数据库连接
func (p *GormPostgreSQL) Close() error {
	if p.changes != nil {
		p.changes.Close()
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
