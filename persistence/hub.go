package persistence

import (
	"context"
	"sync"

	"github.com/wfunc/econgames/models"
)

type subscriber struct {
	ch     chan *models.Session
	done   chan struct{}
	closed bool
}

// hub fans committed documents out to subscribers with latest-wins buffering.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[*subscriber]struct{})}
}

func (h *hub) subscribe(ctx context.Context, id string) <-chan *models.Session {
	sub := &subscriber{ch: make(chan *models.Session, 1), done: make(chan struct{})}
	h.mu.Lock()
	if h.subs[id] == nil {
		h.subs[id] = make(map[*subscriber]struct{})
	}
	h.subs[id][sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-sub.done:
			return
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if set := h.subs[id]; set != nil {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, id)
			}
		}
		h.closeSub(sub)
	}()
	return sub.ch
}

func (h *hub) closeSub(sub *subscriber) {
	if !sub.closed {
		sub.closed = true
		close(sub.done)
		close(sub.ch)
	}
}

// publish delivers s to every subscriber of s.ID, replacing any undelivered value.
func (h *hub) publish(s *models.Session) {
	if s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[s.ID] {
		if sub.closed {
			continue
		}
		offer(sub.ch, cloneSession(s))
	}
}

// closeTopic ends every subscription to id.
func (h *hub) closeTopic(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[id] {
		h.closeSub(sub)
	}
	delete(h.subs, id)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.subs {
		for sub := range set {
			h.closeSub(sub)
		}
		delete(h.subs, id)
	}
}

// offer sends doc on a buffered channel of size 1, replacing an undelivered value.
// ch must have a single sender.
func offer(ch chan *models.Session, doc *models.Session) {
	select {
	case ch <- doc:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- doc
	}
}
