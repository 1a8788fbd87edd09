package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/wfunc/econgames/models"
	"github.com/wfunc/econgames/network"
	"github.com/wfunc/econgames/persistence"
)

type mockSender struct {
	id  string
	mu  sync.Mutex
	got []uint16
	ses []*models.Session
}

func (m *mockSender) GetID() string { return m.id }

func (m *mockSender) Send(msgID uint16, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, msgID)
	if msgID == network.MsgTypeSessionState {
		var s models.Session
		json.Unmarshal(data, &s)
		m.ses = append(m.ses, &s)
	}
	return nil
}

func (m *mockSender) last() (uint16, *models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.got) == 0 {
		return 0, nil
	}
	var s *models.Session
	if len(m.ses) > 0 {
		s = m.ses[len(m.ses)-1]
	}
	return m.got[len(m.got)-1], s
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHubPushesCommits(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	defer store.Close()
	doc := &models.Session{ID: "s1", Name: "pd", Status: models.SessionWaiting, CreatedBy: "alice",
		Players: map[string]*models.Player{"alice": {ID: "alice", IsHost: true}}}
	if err := store.Create(ctx, doc); err != nil {
		t.Fatal(err)
	}

	h := NewHub(store)
	a, b := &mockSender{id: "a"}, &mockSender{id: "b"}
	if err := h.Attach("s1", a); err != nil {
		t.Fatal(err)
	}
	if err := h.Attach("s1", b); err != nil {
		t.Fatal(err)
	}
	if err := h.Attach("missing", a); err == nil {
		t.Fatal("expected error attaching to a missing session")
	}
	if h.Watching() != 1 {
		t.Fatalf("expected one watched session, got %d", h.Watching())
	}

	doc.Status = models.SessionPlaying
	if err := store.CompareAndSwap(ctx, doc, 1); err != nil {
		t.Fatal(err)
	}
	for _, s := range []*mockSender{a, b} {
		eventually(t, func() bool {
			id, got := s.last()
			return id == network.MsgTypeSessionState && got != nil && got.Version == 2
		})
	}

	h.Detach("s1", b)
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool {
		id, _ := a.last()
		return id == network.MsgTypeSessionDeleted
	})
	if id, _ := b.last(); id == network.MsgTypeSessionDeleted {
		t.Fatal("detached sender must not be notified")
	}
	eventually(t, func() bool { return h.Watching() == 0 })
}

// gatedSource blocks subscriptions to one session until released.
type gatedSource struct {
	Source
	gate    string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSource) Subscribe(ctx context.Context, id string) (<-chan *models.Session, error) {
	if id == g.gate {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.Source.Subscribe(ctx, id)
}

func TestHubAttachDoesNotBlockWhileSubscribing(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	defer store.Close()
	docs := map[string]*models.Session{}
	for _, id := range []string{"s1", "s2"} {
		docs[id] = &models.Session{ID: id, Name: id, Status: models.SessionWaiting, CreatedBy: "alice",
			Players: map[string]*models.Player{"alice": {ID: "alice", IsHost: true}}}
		if err := store.Create(ctx, docs[id]); err != nil {
			t.Fatal(err)
		}
	}
	src := &gatedSource{Source: store, gate: "s2", entered: make(chan struct{}, 2), release: make(chan struct{})}
	h := NewHub(src)

	a, b, c := &mockSender{id: "a"}, &mockSender{id: "b"}, &mockSender{id: "c"}
	if err := h.Attach("s1", a); err != nil {
		t.Fatal(err)
	}

	attached := make(chan error, 2)
	for _, s := range []*mockSender{b, c} {
		go func(s *mockSender) { attached <- h.Attach("s2", s) }(s)
	}
	<-src.entered
	<-src.entered

	done := make(chan struct{})
	go func() {
		h.BroadcastToSession("s1", network.MsgTypeHeartbeat, nil)
		h.Detach("s1", a)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub blocked while a subscription was being opened")
	}

	close(src.release)
	for i := 0; i < 2; i++ {
		if err := <-attached; err != nil {
			t.Fatal(err)
		}
	}
	if h.Watching() != 1 {
		t.Fatalf("expected only s2 watched, got %d", h.Watching())
	}

	docs["s2"].Status = models.SessionPlaying
	if err := store.CompareAndSwap(ctx, docs["s2"], 1); err != nil {
		t.Fatal(err)
	}
	for _, s := range []*mockSender{b, c} {
		eventually(t, func() bool {
			id, got := s.last()
			return id == network.MsgTypeSessionState && got != nil && got.Version == 2
		})
	}
}
