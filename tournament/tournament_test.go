package tournament

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/wfunc/econgames/games"
	"github.com/wfunc/econgames/models"
)

func checkPerfectMatching(t *testing.T, ids []string, pairs map[string]string) {
	t.Helper()
	if len(pairs) != len(ids) {
		t.Fatalf("expected every player paired, got %v", pairs)
	}
	waiting := 0
	for a, b := range pairs {
		switch {
		case b == models.MatchWaiting:
			waiting++
		case a == b:
			t.Fatalf("%s paired with themselves", a)
		case pairs[b] != a:
			t.Fatalf("pairing not symmetric: %s->%s but %s->%s", a, b, b, pairs[b])
		}
	}
	if want := len(ids) % 2; waiting != want {
		t.Fatalf("expected %d waiting, got %d", want, waiting)
	}
}

func TestPairPlayers(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for n := 0; n <= 9; n++ {
		ids := make([]string, n)
		for i := range ids {
			ids[i] = fmt.Sprintf("p%d", i)
		}
		for trial := 0; trial < 20; trial++ {
			checkPerfectMatching(t, ids, PairPlayers(ids, rng))
		}
	}
}

func TestPairPlayersDoesNotMutateInput(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}
	PairPlayers(ids, rand.New(rand.NewPCG(3, 4)))
	if ids[0] != "a" || ids[3] != "d" {
		t.Fatalf("input reordered: %v", ids)
	}
}

func TestMatchKey(t *testing.T) {
	if MatchKey("b", "a") != "a|b" || MatchKey("a", "b") != "a|b" {
		t.Fatal("match key must not depend on order")
	}
	a, b := SplitKey("a|b")
	if a != "a" || b != "b" {
		t.Fatalf("SplitKey returned %s %s", a, b)
	}
}

func TestBuildMatchesThreePlayers(t *testing.T) {
	def, _ := games.NewDefaultRegistry(nil).Get(games.PrisonersDilemma)
	pairs := map[string]string{"a": "c", "c": "a", "b": models.MatchWaiting}
	matches := BuildMatches(def, pairs, 3)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	gs, ok := matches["a|c"]
	if !ok {
		t.Fatalf("missing match a|c: %v", matches)
	}
	if gs.Status != models.GameInProgress || gs.Round != 1 || len(gs.Players) != 2 {
		t.Fatalf("unexpected match state %+v", gs)
	}

	s := &models.Session{PlayerMatches: pairs, GameData: models.GameData{Matches: matches}}
	if key, ok := MatchFor(s, "c"); !ok || key != "a|c" {
		t.Fatalf("MatchFor(c) = %s %v", key, ok)
	}
	if _, ok := MatchFor(s, "b"); ok {
		t.Fatal("waiting player has no match")
	}
}

func TestOutcomes(t *testing.T) {
	out := Outcomes(map[string]float64{"a": 5, "b": 3})
	if out["a"] != Win || out["b"] != Loss {
		t.Fatalf("unexpected %v", out)
	}
	out = Outcomes(map[string]float64{"a": 4, "b": 4, "c": 1})
	if out["a"] != Draw || out["b"] != Draw || out["c"] != Loss {
		t.Fatalf("unexpected %v", out)
	}
	out = Outcomes(map[string]float64{"a": -1, "b": -2})
	if out["a"] != Win {
		t.Fatalf("negative scores: %v", out)
	}
}

func TestRecordRound(t *testing.T) {
	def, _ := games.NewDefaultRegistry(nil).Get(games.PrisonersDilemma)
	match := def.NewState([]string{"a", "b"}, 1)
	round := models.RoundResult{
		Round:     1,
		Decisions: map[string]models.Decision{"a": "cooperate", "b": "defect"},
		Scores:    map[string]float64{"a": 0, "b": 5},
	}

	// not yet completed: scores and counts only
	results := RecordRound(nil, def, match, round, map[string]string{"a": "Alice"})
	if results["a"].DisplayName != "Alice" || results["a"].CooperateCount != 1 || results["b"].DefectCount != 1 {
		t.Fatalf("unexpected results %+v %+v", results["a"], results["b"])
	}
	if results["a"].MatchesPlayed != 0 {
		t.Fatal("match not finished yet")
	}

	match.Status = models.GameCompleted
	match.PlayerData["a"].TotalScore = 0
	match.PlayerData["b"].TotalScore = 5
	results = RecordRound(results, def, match, round, nil)
	a, b := results["a"], results["b"]
	if a.MatchesPlayed != 1 || a.Losses != 1 || a.Wins+a.Draws != 0 {
		t.Fatalf("a: %+v", a)
	}
	if b.MatchesPlayed != 1 || b.Wins != 1 || b.TotalScore != 10 {
		t.Fatalf("b: %+v", b)
	}
	if a.DisplayName != "Alice" {
		t.Fatal("display name must survive an update without names")
	}
}

func TestLeaderboardStableOrder(t *testing.T) {
	results := map[string]*models.TournamentPlayerResult{
		"a":    {PlayerID: "a", TotalScore: 3},
		"b":    {PlayerID: "b", TotalScore: 5},
		"c":    {PlayerID: "c", TotalScore: 3},
		"gone": {PlayerID: "gone", TotalScore: 3},
	}
	board := Leaderboard(results, []string{"c", "a", "b"})
	got := make([]string, len(board))
	for i, r := range board {
		got[i] = r.PlayerID
	}
	want := []string{"b", "c", "a", "gone"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
