// persistence/postgresql.go
package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq" // PostgreSQL 驱动 + LISTEN/NOTIFY

	"github.com/wfunc/econgames/logger"
	"github.com/wfunc/econgames/models"
)

// notifyChannel carries "upsert:<id>" and "delete:<id>" payloads.
const notifyChannel = "econgames_sessions"

// PostgresConfig PostgreSQL 连接参数
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN returns a lib/pq style connection string.
func (c PostgresConfig) DSN() string {
	ssl := c.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, ssl)
}

func notifyPayload(op, id string) string { return op + ":" + id }

func parseNotifyPayload(payload string) (op, id string, ok bool) {
	op, id, ok = strings.Cut(payload, ":")
	if !ok || id == "" || (op != "upsert" && op != "delete") {
		return "", "", false
	}
	return op, id, true
}

// ChangeListener turns NOTIFY events into per-session change streams. Each
// notification is resolved to the current document through load.
type ChangeListener struct {
	listener *pq.Listener
	load     func(ctx context.Context, id string) (*models.Session, error)
	hub      *hub
	done     chan struct{}
}

// NewChangeListener 创建 LISTEN 连接
func NewChangeListener(dsn string, load func(ctx context.Context, id string) (*models.Session, error)) (*ChangeListener, error) {
	l := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Log.Warnf("Postgres listener event %d: %v", ev, err)
		}
	})
	if err := l.Listen(notifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
	}
	c := &ChangeListener{listener: l, load: load, hub: newHub(), done: make(chan struct{})}
	go c.run()
	return c, nil
}

func (c *ChangeListener) run() {
	for {
		select {
		case n, ok := <-c.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// reconnected; notifications may have been missed
				continue
			}
			c.dispatch(n.Extra)
		case <-time.After(90 * time.Second):
			go c.listener.Ping()
		case <-c.done:
			return
		}
	}
}

func (c *ChangeListener) dispatch(payload string) {
	op, id, ok := parseNotifyPayload(payload)
	if !ok {
		logger.Log.Warnf("Ignoring notification %q", payload)
		return
	}
	if op == "delete" {
		c.hub.closeTopic(id)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	doc, err := c.load(ctx, id)
	if err != nil {
		logger.Log.Warnf("Failed to load session %s after notification: %v", id, err)
		return
	}
	c.hub.publish(doc)
}

// Subscribe streams changes of one session.
func (c *ChangeListener) Subscribe(ctx context.Context, id string) <-chan *models.Session {
	return c.hub.subscribe(ctx, id)
}

// Close 关闭监听连接
func (c *ChangeListener) Close() error {
	close(c.done)
	c.hub.closeAll()
	return c.listener.Close()
}
