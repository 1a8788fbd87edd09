// persistence/interface.go
package persistence

import (
	"context"
	"errors"

	"github.com/wfunc/econgames/models"
)

// Store is the shared document store holding one document per session. Every
// successful write increments the document Version.
type Store interface {
	// Create inserts s with Version 1.
	Create(ctx context.Context, s *models.Session) error
	// Read returns a private copy of the current document.
	Read(ctx context.Context, id string) (*models.Session, error)
	// Update shallow-merges top-level JSON fields into the document.
	Update(ctx context.Context, id string, fields map[string]any) (*models.Session, error)
	// CompareAndSwap replaces the document only if its stored Version equals
	// expected. On success s.Version is set to the new version.
	CompareAndSwap(ctx context.Context, s *models.Session, expected int64) error
	Delete(ctx context.Context, id string) error
	// List returns all documents ordered by creation time.
	List(ctx context.Context) ([]*models.Session, error)
	// Subscribe streams committed versions of the document. Slow readers only
	// see the latest version. The channel closes when ctx is done or the
	// document is deleted.
	Subscribe(ctx context.Context, id string) (<-chan *models.Session, error)

	SaveGameRecord(ctx context.Context, rec *models.GameRecord) error
	// ListGameRecords returns records involving playerID, or all records for an empty id.
	ListGameRecords(ctx context.Context, playerID string) ([]*models.GameRecord, error)

	Close() error
}

// 错误定义
var (
	ErrRecordNotFound  = errors.New("record not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrAlreadyExists   = errors.New("record already exists")
	ErrProtectedField  = errors.New("field cannot be updated")
	ErrClosed          = errors.New("store closed")
)

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*RedisStore)(nil)
	_ Store = (*GormPostgreSQL)(nil)
)
