// broadcast/broadcast.go
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/wfunc/econgames/logger"
	"github.com/wfunc/econgames/models"
	"github.com/wfunc/econgames/network"
)

var (
	ErrSessionNotWatched = errors.New("session not watched")
)

// 广播接口
type Broadcaster interface {
	BroadcastToSession(sessionID string, msgID uint16, data []byte) error
	BroadcastToAll(msgID uint16, data []byte) error
}

// Sender is one attached client connection.
type Sender interface {
	GetID() string
	Send(msgID uint16, data []byte) error
}

// Source streams committed session versions.
type Source interface {
	Subscribe(ctx context.Context, id string) (<-chan *models.Session, error)
}

type topic struct {
	senders map[string]Sender
	cancel  context.CancelFunc
}

// Hub pushes every committed version of a session to the connections
// attached to it. One change-feed subscription is held per watched session.
type Hub struct {
	source Source
	mu     sync.Mutex
	topics map[string]*topic
}

func NewHub(source Source) *Hub {
	return &Hub{source: source, topics: make(map[string]*topic)}
}

// Attach adds s to sessionID's audience, subscribing to the session on first use.
// The subscription is opened outside the hub lock. If another Attach created
// the topic meanwhile, that topic is kept and this subscription is cancelled.
func (h *Hub) Attach(sessionID string, s Sender) error {
	if h.join(sessionID, s) {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := h.source.Subscribe(ctx, sessionID)
	if err != nil {
		cancel()
		return err
	}

	h.mu.Lock()
	if t, ok := h.topics[sessionID]; ok {
		t.senders[s.GetID()] = s
		h.mu.Unlock()
		cancel()
		return nil
	}
	t := &topic{senders: map[string]Sender{s.GetID(): s}, cancel: cancel}
	h.topics[sessionID] = t
	h.mu.Unlock()
	go h.pump(sessionID, t, ch)
	return nil
}

// join adds s to an existing topic.
func (h *Hub) join(sessionID string, s Sender) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[sessionID]
	if ok {
		t.senders[s.GetID()] = s
	}
	return ok
}

// Detach removes s; the subscription ends with the last sender.
func (h *Hub) Detach(sessionID string, s Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[sessionID]
	if !ok {
		return
	}
	delete(t.senders, s.GetID())
	if len(t.senders) == 0 {
		t.cancel()
		delete(h.topics, sessionID)
	}
}

// DetachAll removes s from every session, e.g. on disconnect.
func (h *Hub) DetachAll(s Sender) {
	h.mu.Lock()
	ids := make([]string, 0, len(h.topics))
	for id, t := range h.topics {
		if _, ok := t.senders[s.GetID()]; ok {
			ids = append(ids, id)
		}
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.Detach(id, s)
	}
}

// Watching returns the number of sessions with attached senders.
func (h *Hub) Watching() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics)
}

func (h *Hub) pump(sessionID string, t *topic, ch <-chan *models.Session) {
	for s := range ch {
		data, err := json.Marshal(s)
		if err != nil {
			logger.Log.Errorf("Failed to encode session %s: %v", sessionID, err)
			continue
		}
		h.BroadcastToSession(sessionID, network.MsgTypeSessionState, data)
	}

	h.mu.Lock()
	current, ok := h.topics[sessionID]
	stillOurs := ok && current == t
	if stillOurs {
		delete(h.topics, sessionID)
	}
	h.mu.Unlock()
	if !stillOurs {
		return
	}
	// the feed closed while senders were attached: the session was deleted
	data, _ := json.Marshal(network.SessionDeleted{SessionID: sessionID})
	for _, s := range t.senders {
		if err := s.Send(network.MsgTypeSessionDeleted, data); err != nil {
			logger.Log.Debugf("Failed to notify %s of deleted session %s: %v", s.GetID(), sessionID, err)
		}
	}
	t.cancel()
}

func (h *Hub) senders(sessionID string) []Sender {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[sessionID]
	if !ok {
		return nil
	}
	out := make([]Sender, 0, len(t.senders))
	for _, s := range t.senders {
		out = append(out, s)
	}
	return out
}

func (h *Hub) BroadcastToSession(sessionID string, msgID uint16, data []byte) error {
	senders := h.senders(sessionID)
	if senders == nil {
		return ErrSessionNotWatched
	}
	for _, s := range senders {
		if err := s.Send(msgID, data); err != nil {
			// 发送失败由连接的读循环负责清理
			logger.Log.Debugf("Broadcast to %s failed: %v", s.GetID(), err)
			continue
		}
	}
	return nil
}

func (h *Hub) BroadcastToAll(msgID uint16, data []byte) error {
	h.mu.Lock()
	seen := map[string]Sender{}
	for _, t := range h.topics {
		for id, s := range t.senders {
			seen[id] = s
		}
	}
	h.mu.Unlock()
	for _, s := range seen {
		s.Send(msgID, data)
	}
	return nil
}
