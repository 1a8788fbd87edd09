package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/wfunc/econgames/gameerr"
	"github.com/wfunc/econgames/games"
	"github.com/wfunc/econgames/models"
	"github.com/wfunc/econgames/persistence"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingArchiver struct {
	mu   sync.Mutex
	recs []*models.GameRecord
}

func (a *recordingArchiver) Archive(_ context.Context, rec *models.GameRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return nil
}

func (a *recordingArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.recs)
}

type fixture struct {
	m     *Manager
	store persistence.Store
	arch  *recordingArchiver
	clock *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := persistence.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	f := &fixture{
		store: store,
		arch:  &recordingArchiver{},
		clock: &clock{t: time.Now().UTC()},
	}
	n := 0
	f.m = NewManager(Options{
		Store:    store,
		Games:    games.NewDefaultRegistry(nil),
		Archiver: f.arch,
		Rand:     rand.New(rand.NewPCG(7, 11)),
		Now:      f.clock.Now,
		NewID: func() string {
			n++
			return fmt.Sprintf("s%d", n)
		},
	})
	return f
}

// setup creates a session hosted by the first player and joins the rest.
func (f *fixture) setup(t *testing.T, req CreateRequest, players ...string) *models.Session {
	t.Helper()
	ctx := context.Background()
	s, err := f.m.CreateSession(ctx, Caller{ID: players[0], DisplayName: players[0]}, req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, p := range players[1:] {
		if s, err = f.m.JoinSession(ctx, Caller{ID: p}, s.ID); err != nil {
			t.Fatalf("join %s: %v", p, err)
		}
	}
	return s
}

func (f *fixture) submit(t *testing.T, id, player string, d models.Decision) *models.Session {
	t.Helper()
	s, err := f.m.SubmitDecision(context.Background(), player, id, DecisionRequest{Decision: d})
	if err != nil {
		t.Fatalf("submit %s %s: %v", player, d, err)
	}
	return s
}

func expectKind(t *testing.T, err error, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := Caller{ID: "alice"}

	cases := []struct {
		name   string
		caller Caller
		req    CreateRequest
	}{
		{"blank name", alice, CreateRequest{Name: "  ", GameID: games.PrisonersDilemma}},
		{"unknown game", alice, CreateRequest{Name: "x", GameID: "poker"}},
		{"negative rounds", alice, CreateRequest{Name: "x", GameID: games.Chicken, MaxRounds: -1}},
		{"missing caller", Caller{}, CreateRequest{Name: "x", GameID: games.Chicken}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.m.CreateSession(ctx, tc.caller, tc.req)
			expectKind(t, err, gameerr.ErrValidation)
		})
	}

	s, err := f.m.CreateSession(ctx, Caller{ID: "alice", DisplayName: "Alice"}, CreateRequest{Name: "Lab 1", GameID: games.StagHunt, MaxRounds: 3})
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != models.SessionWaiting || s.CreatedBy != "alice" || !s.Players["alice"].IsHost {
		t.Fatalf("unexpected session %+v", s)
	}
	if s.GameData.GameState.Status != models.GameSetup || s.GameData.GameState.MaxRounds != 3 {
		t.Fatalf("unexpected initial game state %+v", s.GameData.GameState)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setup(t, CreateRequest{Name: "pd", GameID: games.PrisonersDilemma}, "alice", "bob")

	again, err := f.m.JoinSession(ctx, Caller{ID: "bob", DisplayName: "Bobby"}, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Version != s.Version || len(again.Players) != 2 || again.Players["bob"].DisplayName != "bob" {
		t.Fatalf("rejoin must not change the session: %+v", again)
	}

	_, err = f.m.JoinSession(ctx, Caller{ID: "carol"}, s.ID)
	expectKind(t, err, gameerr.ErrInvalidState)
	_, err = f.m.JoinSession(ctx, Caller{ID: "carol"}, "missing")
	expectKind(t, err, gameerr.ErrNotFound)

	if _, err := f.m.StartGame(ctx, "alice", s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.m.JoinSession(ctx, Caller{ID: "bob"}, s.ID); err != nil {
		t.Fatalf("reconnecting member must succeed while playing: %v", err)
	}
	_, err = f.m.JoinSession(ctx, Caller{ID: "dave"}, s.ID)
	expectKind(t, err, gameerr.ErrInvalidState)
}

func TestPrisonersDilemmaOneRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setup(t, CreateRequest{Name: "pd", GameID: games.PrisonersDilemma, MaxRounds: 1}, "alice", "bob")

	_, err := f.m.StartGame(ctx, "bob", s.ID)
	expectKind(t, err, gameerr.ErrPermission)

	s, err = f.m.StartGame(ctx, "alice", s.ID)
	if err != nil {
		t.Fatal(err)
	}
	gs := s.GameData.GameState
	if s.Status != models.SessionPlaying || gs.Status != models.GameInProgress || gs.Round != 1 {
		t.Fatalf("unexpected started state %+v / %+v", s, gs)
	}

	f.submit(t, s.ID, "alice", "cooperate")
	_, err = f.m.SubmitDecision(ctx, "alice", s.ID, DecisionRequest{Decision: "defect"})
	expectKind(t, err, gameerr.ErrInvalidState)
	s = f.submit(t, s.ID, "bob", "defect")

	gs = s.GameData.GameState
	if gs.Status != models.GameCompleted || len(gs.History) != 1 {
		t.Fatalf("expected one completed round, got %+v", gs)
	}
	if gs.PlayerData["alice"].TotalScore != 0 || gs.PlayerData["bob"].TotalScore != 5 {
		t.Fatalf("unexpected totals %v", gs.Scores())
	}
	if f.arch.count() != 1 {
		t.Fatalf("expected one archived record, got %d", f.arch.count())
	}
	rec := f.arch.recs[0]
	if rec.Outcomes["bob"] != "win" || rec.Outcomes["alice"] != "loss" || rec.Rounds != 1 {
		t.Fatalf("unexpected record %+v", rec)
	}

	board, err := f.m.Leaderboard(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if board[0].PlayerID != "bob" || board[0].Wins != 1 || board[1].Losses != 1 {
		t.Fatalf("unexpected leaderboard %+v %+v", board[0], board[1])
	}

	s, err = f.m.FinishGame(ctx, "bob", s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != models.SessionFinished {
		t.Fatalf("expected finished, got %s", s.Status)
	}

	_, err = f.m.ResetGame(ctx, "bob", s.ID, ResetOptions{})
	expectKind(t, err, gameerr.ErrPermission)
	s, err = f.m.ResetGame(ctx, "alice", s.ID, ResetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	gs = s.GameData.GameState
	if s.Status != models.SessionPlaying || gs.Round != 1 || len(gs.History) != 0 || gs.PlayerData["bob"].TotalScore != 0 {
		t.Fatalf("reset did not start a fresh game: %+v", gs)
	}
}

func TestStaleRoundRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setup(t, CreateRequest{Name: "stag", GameID: games.StagHunt, MaxRounds: 3}, "alice", "bob")
	if _, err := f.m.StartGame(ctx, "alice", s.ID); err != nil {
		t.Fatal(err)
	}
	f.submit(t, s.ID, "alice", "stag")
	f.submit(t, s.ID, "bob", "stag")

	_, err := f.m.SubmitDecision(ctx, "alice", s.ID, DecisionRequest{Decision: "hare", Round: 1})
	expectKind(t, err, gameerr.ErrInvalidState)
	_, err = f.m.SubmitDecision(ctx, "alice", s.ID, DecisionRequest{Decision: "rabbit", Round: 2})
	expectKind(t, err, gameerr.ErrValidation)
	if _, err := f.m.SubmitDecision(ctx, "alice", s.ID, DecisionRequest{Decision: "hare", Round: 2}); err != nil {
		t.Fatal(err)
	}
}

func TestDictatorScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setup(t, CreateRequest{Name: "split", GameID: games.DictatorGame, MaxRounds: 2}, "alice", "bob")
	if _, err := f.m.StartGame(ctx, "alice", s.ID); err != nil {
		t.Fatal(err)
	}

	_, err := f.m.SubmitDecision(ctx, "bob", s.ID, DecisionRequest{Decision: "50"})
	expectKind(t, err, gameerr.ErrInvalidRole)
	_, err = f.m.SubmitDecision(ctx, "alice", s.ID, DecisionRequest{Decision: "101"})
	expectKind(t, err, gameerr.ErrValidation)

	s = f.submit(t, s.ID, "alice", "30")
	gs := s.GameData.GameState
	if len(gs.History) != 1 || gs.Round != 2 {
		t.Fatalf("dictator round must evaluate with one decision: %+v", gs)
	}
	if gs.PlayerData["alice"].TotalScore != 70 || gs.PlayerData["bob"].TotalScore != 30 {
		t.Fatalf("unexpected scores %v", gs.Scores())
	}
	if gs.PlayerRoles["bob"] != games.RoleDictator {
		t.Fatalf("roles did not swap: %v", gs.PlayerRoles)
	}

	s = f.submit(t, s.ID, "bob", "0")
	gs = s.GameData.GameState
	if gs.Status != models.GameCompleted || gs.PlayerData["alice"].TotalScore != 70 || gs.PlayerData["bob"].TotalScore != 130 {
		t.Fatalf("unexpected final state %v %s", gs.Scores(), gs.Status)
	}
	if gs.History[0].Roles["alice"] != games.RoleDictator || gs.History[1].Roles["bob"] != games.RoleDictator {
		t.Fatal("history must record the roles of each round")
	}
}

func TestCoordinationScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setup(t, CreateRequest{Name: "focal", GameID: games.Coordination, MaxRounds: 2}, "alice", "bob", "carol")
	if _, err := f.m.StartGame(ctx, "alice", s.ID); err != nil {
		t.Fatal(err)
	}

	f.submit(t, s.ID, "alice", games.ChooseA)
	f.submit(t, s.ID, "bob", games.ChooseA)
	s = f.submit(t, s.ID, "carol", games.ChooseB)
	r := s.GameData.GameState.History[0]
	if r.Scores["alice"] != 3 || r.Scores["bob"] != 3 || r.Scores["carol"] != 0 {
		t.Fatalf("unexpected 2-vs-1 scores %v", r.Scores)
	}
	if r.ChoiceCounts["optionA"] != 2 || r.ChoiceCounts["optionB"] != 1 {
		t.Fatalf("unexpected counts %v", r.ChoiceCounts)
	}

	for _, p := range []string{"alice", "bob", "carol"} {
		s = f.submit(t, s.ID, p, games.ChooseB)
	}
	r = s.GameData.GameState.History[1]
	if r.Scores["alice"] != 2 || r.Scores["carol"] != 2 || r.Outcome != "unanimous" {
		t.Fatalf("unexpected unanimous round %+v", r)
	}
}

func TestHostReassignedToEarliestJoiner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setup(t, CreateRequest{Name: "pg", GameID: games.PublicGoods}, "alice", "bob", "carol")

	s, err := f.m.LeaveSession(ctx, "alice", s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Players["bob"].IsHost || s.Players["carol"].IsHost || s.IsMember("alice") {
		t.Fatalf("expected bob to become host: %+v", s.Players)
	}
	_, err = f.m.LeaveSession(ctx, "alice", s.ID)
	expectKind(t, err, gameerr.ErrNotFound)

	_, err = f.m.StartGame(ctx, "carol", s.ID)
	expectKind(t, err, gameerr.ErrPermission)
	if _, err := f.m.StartGame(ctx, "bob", s.ID); err != nil {
		t.Fatal(err)
	}
}

func TestLeaveDuringPlay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// three players: the game continues and the leaver no longer blocks the round
	s := f.setup(t, CreateRequest{Name: "pg", GameID: games.PublicGoods, MaxRounds: 3}, "alice", "bob", "carol")
	if _, err := f.m.StartGame(ctx, "alice", s.ID); err != nil {
		t.Fatal(err)
	}
	f.submit(t, s.ID, "alice", games.Contribute)
	f.submit(t, s.ID, "bob", games.Keep)
	s, err := f.m.LeaveSession(ctx, "carol", s.ID)
	if err != nil {
		t.Fatal(err)
	}
	gs := s.GameData.GameState
	if s.Status != models.SessionPlaying || len(gs.History) != 1 || gs.HasPlayer("carol") {
		t.Fatalf("leaving last undecided player must evaluate the round: %+v", gs)
	}

	// two-player game: leaving completes it
	s = f.setup(t, CreateRequest{Name: "pd", GameID: games.PrisonersDilemma, MaxRounds: 3}, "dave", "erin")
	if _, err := f.m.StartGame(ctx, "dave", s.ID); err != nil {
		t.Fatal(err)
	}
	f.submit(t, s.ID, "dave", "cooperate")
	f.submit(t, s.ID, "erin", "cooperate")
	s, err = f.m.LeaveSession(ctx, "erin", s.ID)
	if err != nil {
		t.Fatal(err)
	}
	gs = s.GameData.GameState
	if s.Status != models.SessionFinished || gs.Status != models.GameCompleted || gs.Round != len(gs.History) {
		t.Fatalf("expected abandoned game, got %s %+v", s.Status, gs)
	}
}

func TestTournamentShuffle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.m.CreateSession(ctx, Caller{ID: "alice"}, CreateRequest{Name: "t", GameID: games.PublicGoods, IsTournament: true})
	if err != nil {
		t.Fatalf("public goods supports pairs: %v", err)
	}

	s := f.setup(t, CreateRequest{Name: "cup", GameID: games.PrisonersDilemma, IsTournament: true, MaxRounds: 1}, "alice", "bob", "carol")
	_, err = f.m.ShuffleMatches(ctx, "alice", s.ID)
	expectKind(t, err, gameerr.ErrInvalidState)

	s, err = f.m.StartGame(ctx, "alice", s.ID)
	if err != nil {
		t.Fatal(err)
	}
	checkPairing := func(s *models.Session) (string, string, string) {
		t.Helper()
		var waiting string
		var pair []string
		for _, id := range []string{"alice", "bob", "carol"} {
			opp := s.PlayerMatches[id]
			switch {
			case opp == models.MatchWaiting:
				if waiting != "" {
					t.Fatalf("more than one waiting player: %v", s.PlayerMatches)
				}
				waiting = id
			case opp == id:
				t.Fatalf("%s paired with themselves", id)
			default:
				if s.PlayerMatches[opp] != id {
					t.Fatalf("asymmetric pairing %v", s.PlayerMatches)
				}
				pair = append(pair, id)
			}
		}
		if waiting == "" || len(pair) != 2 || len(s.GameData.Matches) != 1 {
			t.Fatalf("unexpected pairing %v", s.PlayerMatches)
		}
		return pair[0], pair[1], waiting
	}

	a, b, waiting := checkPairing(s)
	_, err = f.m.SubmitDecision(ctx, waiting, s.ID, DecisionRequest{Decision: "cooperate"})
	expectKind(t, err, gameerr.ErrInvalidState)

	f.submit(t, s.ID, a, "defect")
	s = f.submit(t, s.ID, b, "cooperate")
	if r := s.TournamentResults[a]; r == nil || r.TotalScore != 5 || r.Wins != 1 || r.DefectCount != 1 || r.MatchesPlayed != 1 {
		t.Fatalf("unexpected result for %s: %+v", a, r)
	}
	if r := s.TournamentResults[b]; r == nil || r.Losses != 1 || r.CooperateCount != 1 {
		t.Fatalf("unexpected result for %s: %+v", b, r)
	}

	_, err = f.m.ShuffleMatches(ctx, "bob", s.ID)
	expectKind(t, err, gameerr.ErrPermission)
	s, err = f.m.ShuffleMatches(ctx, "alice", s.ID)
	if err != nil {
		t.Fatal(err)
	}
	checkPairing(s)
	for _, gs := range s.GameData.Matches {
		if gs.Round != 1 || len(gs.History) != 0 || gs.Status != models.GameInProgress {
			t.Fatalf("shuffle must create fresh matches: %+v", gs)
		}
	}
	if s.TournamentResults[a].TotalScore != 5 {
		t.Fatal("shuffle must keep tournament results")
	}

	board, err := f.m.Leaderboard(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(board) != 2 || board[0].PlayerID != a {
		t.Fatalf("unexpected leaderboard %+v", board)
	}
	if f.arch.count() != 1 || !f.arch.recs[0].Tournament {
		t.Fatalf("expected one archived tournament match, got %d", f.arch.count())
	}
}

func TestConcurrentLastDecisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	players := []string{"p0", "p1", "p2", "p3", "p4", "p5", "p6", "p7"}
	s := f.setup(t, CreateRequest{Name: "rush", GameID: games.PublicGoods, MaxRounds: 2}, players...)
	if _, err := f.m.StartGame(ctx, "p0", s.ID); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(players))
	for _, p := range players {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			_, err := f.m.SubmitDecision(ctx, p, s.ID, DecisionRequest{Decision: games.Contribute, Round: 1})
			errs <- err
		}(p)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	s, err := f.m.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	gs := s.GameData.GameState
	if len(gs.History) != 1 || gs.Round != 2 {
		t.Fatalf("expected exactly one round result, got %d (round %d)", len(gs.History), gs.Round)
	}
	for _, p := range players {
		if gs.PlayerData[p].Ready || gs.PlayerData[p].TotalScore != 16 {
			t.Fatalf("unexpected player data for %s: %+v", p, gs.PlayerData[p])
		}
	}
}

func TestCreatorOnlyOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setup(t, CreateRequest{Name: "pd", GameID: games.PrisonersDilemma}, "alice", "bob")

	_, err := f.m.UpdateSessionMetadata(ctx, "bob", s.ID, Metadata{Name: "mine"})
	expectKind(t, err, gameerr.ErrPermission)
	s, err = f.m.UpdateSessionMetadata(ctx, "alice", s.ID, Metadata{Name: "Friday lab"})
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "Friday lab" || len(s.Players) != 2 {
		t.Fatalf("unexpected update %+v", s)
	}

	expectKind(t, f.m.DeleteSession(ctx, "bob", s.ID), gameerr.ErrPermission)
	if err := f.m.DeleteSession(ctx, "alice", s.ID); err != nil {
		t.Fatal(err)
	}
	_, err = f.m.GetSession(ctx, s.ID)
	expectKind(t, err, gameerr.ErrNotFound)
}

func TestSubscribeSeesCommits(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := f.setup(t, CreateRequest{Name: "pd", GameID: games.PrisonersDilemma}, "alice")

	ch, err := f.m.Subscribe(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.m.JoinSession(ctx, Caller{ID: "bob"}, s.ID); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-ch:
		if !got.IsMember("bob") {
			t.Fatalf("expected bob in pushed session %+v", got.Players)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
	}
}

func TestCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty := f.setup(t, CreateRequest{Name: "empty", GameID: games.Chicken}, "alice")
	if _, err := f.m.LeaveSession(ctx, "alice", empty.ID); err != nil {
		t.Fatal(err)
	}
	live := f.setup(t, CreateRequest{Name: "live", GameID: games.Chicken}, "bob")
	done := f.setup(t, CreateRequest{Name: "done", GameID: games.Chicken, MaxRounds: 1}, "carol", "dave")
	if _, err := f.m.StartGame(ctx, "carol", done.ID); err != nil {
		t.Fatal(err)
	}
	f.submit(t, done.ID, "carol", "swerve")
	f.submit(t, done.ID, "dave", "swerve")
	if _, err := f.m.FinishGame(ctx, "dave", done.ID); err != nil {
		t.Fatal(err)
	}

	removed, err := f.m.Cleanup(ctx, time.Hour)
	if err != nil || removed != 1 {
		t.Fatalf("expected only the empty session removed, got %d (%v)", removed, err)
	}

	f.clock.Advance(2 * time.Hour)
	removed, err = f.m.Cleanup(ctx, time.Hour)
	if err != nil || removed != 1 {
		t.Fatalf("expected the finished session removed, got %d (%v)", removed, err)
	}
	if _, err := f.m.GetSession(ctx, live.ID); err != nil {
		t.Fatalf("live session must survive cleanup: %v", err)
	}
}

func TestCleanupReapsCompletedUnfinishedGames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.setup(t, CreateRequest{Name: "left open", GameID: games.PrisonersDilemma, MaxRounds: 1}, "alice", "bob")
	if _, err := f.m.StartGame(ctx, "alice", s.ID); err != nil {
		t.Fatal(err)
	}
	f.submit(t, s.ID, "alice", "cooperate")
	s = f.submit(t, s.ID, "bob", "cooperate")
	if s.Status != models.SessionPlaying || s.GameData.GameState.Status != models.GameCompleted {
		t.Fatalf("expected a completed game in a playing session, got %s/%s", s.Status, s.GameData.GameState.Status)
	}
	running := f.setup(t, CreateRequest{Name: "running", GameID: games.PrisonersDilemma, MaxRounds: 3}, "carol", "dave")
	if _, err := f.m.StartGame(ctx, "carol", running.ID); err != nil {
		t.Fatal(err)
	}

	if removed, err := f.m.Cleanup(ctx, time.Hour); err != nil || removed != 0 {
		t.Fatalf("nothing is idle yet, removed %d (%v)", removed, err)
	}
	f.clock.Advance(2 * time.Hour)
	if removed, err := f.m.Cleanup(ctx, time.Hour); err != nil || removed != 1 {
		t.Fatalf("expected the completed game removed, got %d (%v)", removed, err)
	}
	_, err := f.m.GetSession(ctx, s.ID)
	expectKind(t, err, gameerr.ErrNotFound)
	if _, err := f.m.GetSession(ctx, running.ID); err != nil {
		t.Fatalf("an in-progress game must survive cleanup: %v", err)
	}
}

func TestTournamentResetKeepsResultsUnlessCleared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.setup(t, CreateRequest{Name: "cup", GameID: games.PrisonersDilemma, IsTournament: true, MaxRounds: 1}, "alice", "bob")
	if _, err := f.m.StartGame(ctx, "alice", s.ID); err != nil {
		t.Fatal(err)
	}
	f.submit(t, s.ID, "alice", "cooperate")
	f.submit(t, s.ID, "bob", "defect")
	s, err := f.m.FinishGame(ctx, "bob", s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != models.SessionFinished {
		t.Fatalf("expected finished, got %s", s.Status)
	}

	s, err = f.m.ResetGame(ctx, "alice", s.ID, ResetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	alice := s.TournamentResults["alice"]
	if alice == nil || alice.MatchesPlayed != 1 || alice.Losses != 1 || alice.CooperateCount != 1 {
		t.Fatalf("results should survive a plain reset: %+v", alice)
	}
	if bob := s.TournamentResults["bob"]; bob == nil || bob.Wins != 1 || bob.DefectCount != 1 {
		t.Fatalf("results should survive a plain reset: %+v", bob)
	}
	if s.Status != models.SessionPlaying || len(s.GameData.Matches) != 1 {
		t.Fatalf("expected one fresh match, got %s with %d matches", s.Status, len(s.GameData.Matches))
	}
	for key, gs := range s.GameData.Matches {
		if gs.Status != models.GameInProgress || len(gs.History) != 0 {
			t.Fatalf("match %s not fresh: %+v", key, gs)
		}
	}

	f.submit(t, s.ID, "alice", "defect")
	f.submit(t, s.ID, "bob", "defect")
	if _, err := f.m.FinishGame(ctx, "alice", s.ID); err != nil {
		t.Fatal(err)
	}
	s, err = f.m.ResetGame(ctx, "alice", s.ID, ResetOptions{ClearTournamentResults: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(s.TournamentResults) != 0 {
		t.Fatalf("expected cleared results, got %+v", s.TournamentResults)
	}
	if s.Status != models.SessionPlaying || len(s.GameData.Matches) != 1 {
		t.Fatalf("expected one fresh match after clearing, got %s with %d matches", s.Status, len(s.GameData.Matches))
	}
}
