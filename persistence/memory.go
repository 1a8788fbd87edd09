package persistence

import (
	"context"
	"sync"

	"github.com/wfunc/econgames/models"
)

// MemoryStore keeps encoded documents in process memory. It is the default
// store for single-node deployments and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	docs    map[string][]byte
	records []*models.GameRecord
	hub     *hub
	closed  bool
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte), hub: newHub()}
}

func (m *MemoryStore) Create(ctx context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, exists := m.docs[s.ID]; exists {
		return ErrAlreadyExists
	}
	stamp(s, 1)
	data, err := encodeSession(s)
	if err != nil {
		return err
	}
	m.docs[s.ID] = data
	m.hub.publish(s)
	return nil
}

func (m *MemoryStore) Read(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.docs[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return decodeSession(data)
}

func (m *MemoryStore) Update(ctx context.Context, id string, fields map[string]any) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	s, err := mergeFields(data, fields)
	if err != nil {
		return nil, err
	}
	stamp(s, s.Version+1)
	if m.docs[id], err = encodeSession(s); err != nil {
		return nil, err
	}
	m.hub.publish(s)
	return s, nil
}

func (m *MemoryStore) CompareAndSwap(ctx context.Context, s *models.Session, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[s.ID]
	if !ok {
		return ErrRecordNotFound
	}
	current, err := decodeSession(data)
	if err != nil {
		return err
	}
	if current.Version != expected {
		return ErrVersionConflict
	}
	stamp(s, expected+1)
	encoded, err := encodeSession(s)
	if err != nil {
		return err
	}
	m.docs[s.ID] = encoded
	m.hub.publish(s)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return ErrRecordNotFound
	}
	delete(m.docs, id)
	m.hub.closeTopic(id)
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*models.Session, 0, len(m.docs))
	for _, data := range m.docs {
		s, err := decodeSession(data)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	sortByCreated(list)
	return list, nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, id string) (<-chan *models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.docs[id]; !ok {
		return nil, ErrRecordNotFound
	}
	return m.hub.subscribe(ctx, id), nil
}

func (m *MemoryStore) SaveGameRecord(ctx context.Context, rec *models.GameRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records = append(m.records, &cp)
	return nil
}

func (m *MemoryStore) ListGameRecords(ctx context.Context, playerID string) ([]*models.GameRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.GameRecord
	for _, rec := range m.records {
		if recordInvolves(rec, playerID) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.hub.closeAll()
	return nil
}
