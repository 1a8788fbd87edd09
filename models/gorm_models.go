// models/gorm_models.go
package models

import (
	"time"
)

// GormSession 会话文档表. Data holds the JSON encoded Session; the other
// columns are copies used for filtering and the version check.
type GormSession struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"not null"`
	GameID    string `gorm:"index;not null"`
	Status    string `gorm:"index;not null"`
	CreatedBy string `gorm:"not null"`
	Version   int64  `gorm:"not null;default:1"`
	Data      []byte `gorm:"type:jsonb;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (GormSession) TableName() string { return "sessions" }

// GormGameRecord 游戏记录模型
type GormGameRecord struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"index;not null"`
	GameID    string `gorm:"not null"`
	Players   []byte `gorm:"type:jsonb;not null"` // JSON array of player ids
	Result    []byte `gorm:"type:jsonb;not null"` // JSON encoded GameRecord
	CreatedAt time.Time
}

func (GormGameRecord) TableName() string { return "game_records" }
