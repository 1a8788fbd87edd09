// server/conn.go
package server

import (
	"sync"
	"time"

	"github.com/wfunc/econgames/network"
)

// Conn is one websocket client and the player it speaks for.
type Conn struct {
	ID          string
	Conn        network.Connection
	PlayerID    string
	DisplayName string
	CreatedAt   time.Time

	mutex      sync.RWMutex
	lastActive time.Time
	watching   map[string]bool // 正在关注的会话
}

func NewConn(id string, conn network.Connection, playerID, displayName string) *Conn {
	now := time.Now()
	return &Conn{
		ID:          id,
		Conn:        conn,
		PlayerID:    playerID,
		DisplayName: displayName,
		CreatedAt:   now,
		lastActive:  now,
		watching:    make(map[string]bool),
	}
}

func (c *Conn) GetID() string {
	return c.ID
}

func (c *Conn) Touch() {
	c.mutex.Lock()
	c.lastActive = time.Now()
	c.mutex.Unlock()
}

func (c *Conn) LastActive() time.Time {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.lastActive
}

func (c *Conn) Send(msgID uint16, data []byte) error {
	return c.Conn.Send(msgID, data)
}

func (c *Conn) Close() error {
	return c.Conn.Close()
}

func (c *Conn) watch(sessionID string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.watching[sessionID] {
		return false
	}
	c.watching[sessionID] = true
	return true
}

func (c *Conn) unwatch(sessionID string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.watching[sessionID] {
		return false
	}
	delete(c.watching, sessionID)
	return true
}

// Registry 连接管理器
type Registry struct {
	conns map[string]*Conn
	mutex sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Conn),
	}
}

func (r *Registry) Add(c *Conn) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.conns[c.ID] = c
}

func (r *Registry) Remove(id string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.conns, id)
}

func (r *Registry) Get(id string) (*Conn, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	c, exists := r.conns[id]
	return c, exists
}

func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.conns)
}

func (r *Registry) GetByPlayerID(playerID string) []*Conn {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*Conn
	for _, c := range r.conns {
		if c.PlayerID == playerID {
			result = append(result, c)
		}
	}
	return result
}

// CloseAll closes every registered connection.
func (r *Registry) CloseAll() {
	r.mutex.RLock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mutex.RUnlock()
	for _, c := range conns {
		c.Close()
	}
}
