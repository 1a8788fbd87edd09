package rpc

import (
	"context"
	"net"
	"net/rpc"
	"strings"
	"testing"

	"github.com/wfunc/econgames/games"
	"github.com/wfunc/econgames/persistence"
	"github.com/wfunc/econgames/services"
	"github.com/wfunc/econgames/session"
)

func newPipeClient(t *testing.T) (*rpc.Client, *session.Manager) {
	t.Helper()
	store := persistence.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	records := services.NewRecordService(store)
	m := session.NewManager(session.Options{Store: store, Games: games.NewDefaultRegistry(nil), Archiver: records})

	srv := rpc.NewServer()
	if err := srv.RegisterName("SessionService", NewSessionService(m, records)); err != nil {
		t.Fatal(err)
	}
	serverConn, clientConn := net.Pipe()
	go srv.ServeConn(serverConn)
	client := rpc.NewClient(clientConn)
	t.Cleanup(func() { client.Close() })
	return client, m
}

func TestSessionServiceOverPipe(t *testing.T) {
	client, m := newPipeClient(t)
	ctx := context.Background()

	s, err := m.CreateSession(ctx, session.Caller{ID: "alice", DisplayName: "Alice"},
		session.CreateRequest{Name: "pd", GameID: games.PrisonersDilemma, MaxRounds: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.JoinSession(ctx, session.Caller{ID: "bob"}, s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.StartGame(ctx, "alice", s.ID); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"alice", "bob"} {
		if _, err := m.SubmitDecision(ctx, p, s.ID, session.DecisionRequest{Decision: "cooperate"}); err != nil {
			t.Fatal(err)
		}
	}

	var reply SessionReply
	if err := client.Call("SessionService.GetSession", &SessionArgs{SessionID: s.ID}, &reply); err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if reply.Session.Name != "pd" || len(reply.Session.GameData.GameState.History) != 1 {
		t.Fatalf("unexpected session %+v", reply.Session)
	}

	var board LeaderboardReply
	if err := client.Call("SessionService.Leaderboard", &SessionArgs{SessionID: s.ID}, &board); err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if len(board.Entries) != 2 || board.Entries[0].Draws != 1 {
		t.Fatalf("unexpected leaderboard %+v", board.Entries)
	}

	var stats PlayerStatsReply
	if err := client.Call("SessionService.PlayerStats", &PlayerArgs{PlayerID: "bob"}, &stats); err != nil {
		t.Fatalf("PlayerStats: %v", err)
	}
	if stats.Stats.TotalGames != 1 || stats.Stats.TotalScore != 3 {
		t.Fatalf("unexpected stats %+v", stats.Stats)
	}

	var list ListGamesReply
	if err := client.Call("SessionService.ListGames", new(string), &list); err != nil {
		t.Fatalf("ListGames: %v", err)
	}
	if len(list.Games) != 7 {
		t.Fatalf("expected 7 games, got %d", len(list.Games))
	}

	err = client.Call("SessionService.GetSession", &SessionArgs{SessionID: "missing"}, &reply)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}
