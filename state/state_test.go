package state

import (
	"errors"
	"testing"

	"github.com/wfunc/econgames/gameerr"
	"github.com/wfunc/econgames/games"
	"github.com/wfunc/econgames/models"
)

func newMachine(t *testing.T, id string, players []string, rounds int) *Machine {
	t.Helper()
	def, ok := games.NewDefaultRegistry(nil).Get(id)
	if !ok {
		t.Fatalf("game %s missing", id)
	}
	m := NewMachine(def.DefaultState(), def)
	if !m.NeedsInit() {
		t.Fatal("fresh state should need init")
	}
	if err := m.Initialize(players, rounds); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return m
}

func TestMachine_InitializeIsIdempotent(t *testing.T) {
	m := newMachine(t, games.PrisonersDilemma, []string{"a", "b"}, 3)
	gs := m.State()
	if gs.Status != models.GameInProgress || gs.Round != 1 || gs.MaxRounds != 3 {
		t.Fatalf("unexpected state after init: %+v", gs)
	}
	if err := m.Submit("a", "cooperate", 1); err != nil {
		t.Fatal(err)
	}
	if err := m.Initialize([]string{"a", "b"}, 3); err != nil {
		t.Fatal(err)
	}
	if !gs.PlayerData["a"].Ready {
		t.Fatal("second Initialize must not reset an in-progress state")
	}
}

func TestMachine_PrisonersDilemmaOneRound(t *testing.T) {
	m := newMachine(t, games.PrisonersDilemma, []string{"a", "b"}, 1)

	if err := m.Submit("a", "cooperate", 1); err != nil {
		t.Fatal(err)
	}
	if m.AllReady() {
		t.Fatal("should not be ready with one decision")
	}
	if err := m.Submit("b", "defect", 1); err != nil {
		t.Fatal(err)
	}
	if !m.AllReady() {
		t.Fatal("expected all ready")
	}
	res, err := m.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Scores["a"] != 0 || res.Scores["b"] != 5 {
		t.Fatalf("unexpected scores %v", res.Scores)
	}

	gs := m.State()
	if gs.Status != models.GameCompleted {
		t.Fatalf("expected completed, got %s", gs.Status)
	}
	if len(gs.History) != gs.Round {
		t.Fatalf("completed state must hold Round history entries: %d vs %d", len(gs.History), gs.Round)
	}
	if gs.PlayerData["b"].TotalScore != 5 || gs.PlayerData["b"].Ready || gs.PlayerData["b"].CurrentDecision != "" {
		t.Fatalf("player data not settled: %+v", gs.PlayerData["b"])
	}

	if err := m.Submit("a", "cooperate", 0); gameerr.KindOf(err) != gameerr.KindInvalidState {
		t.Fatalf("submit after completion: expected invalid state, got %v", err)
	}
}

func TestMachine_HistoryAndTotals(t *testing.T) {
	m := newMachine(t, games.StagHunt, []string{"a", "b"}, 3)
	plays := [][2]models.Decision{{"stag", "stag"}, {"stag", "hare"}, {"hare", "hare"}}
	for i, p := range plays {
		gs := m.State()
		if gs.Status == models.GameInProgress && len(gs.History) != gs.Round-1 {
			t.Fatalf("round %d: history length %d", gs.Round, len(gs.History))
		}
		if err := m.Submit("a", p[0], i+1); err != nil {
			t.Fatal(err)
		}
		if err := m.Submit("b", p[1], 0); err != nil {
			t.Fatal(err)
		}
		if _, err := m.Evaluate(); err != nil {
			t.Fatal(err)
		}
	}
	gs := m.State()
	if len(gs.History) != 3 {
		t.Fatalf("expected 3 results, got %d", len(gs.History))
	}
	for _, id := range []string{"a", "b"} {
		sum := 0.0
		for _, r := range gs.History {
			sum += r.Scores[id]
		}
		if gs.PlayerData[id].TotalScore != sum {
			t.Fatalf("%s total %v != history sum %v", id, gs.PlayerData[id].TotalScore, sum)
		}
	}
	// 4+0+2 and 4+3+2
	if gs.PlayerData["a"].TotalScore != 6 || gs.PlayerData["b"].TotalScore != 9 {
		t.Fatalf("unexpected totals %v", gs.Scores())
	}
}

func TestMachine_SubmitErrors(t *testing.T) {
	m := newMachine(t, games.PrisonersDilemma, []string{"a", "b"}, 3)

	if err := m.Submit("zed", "cooperate", 0); gameerr.KindOf(err) != gameerr.KindNotFound {
		t.Fatalf("non participant: expected not found, got %v", err)
	}
	if err := m.Submit("a", "cooperate", 2); gameerr.KindOf(err) != gameerr.KindInvalidState {
		t.Fatalf("stale round: expected invalid state, got %v", err)
	}
	if err := m.Submit("a", "maybe", 1); gameerr.KindOf(err) != gameerr.KindValidation {
		t.Fatalf("bad decision: expected validation, got %v", err)
	}
	if err := m.Submit("a", "cooperate", 1); err != nil {
		t.Fatal(err)
	}
	if err := m.Submit("a", "defect", 1); gameerr.KindOf(err) != gameerr.KindInvalidState {
		t.Fatalf("double submit: expected invalid state, got %v", err)
	}
}

func TestMachine_EvaluateAbortsWithoutTouchingState(t *testing.T) {
	m := newMachine(t, games.PrisonersDilemma, []string{"a", "b"}, 3)
	if err := m.Submit("a", "cooperate", 1); err != nil {
		t.Fatal(err)
	}
	_, err := m.Evaluate()
	if !errors.Is(err, gameerr.ErrEvaluationAborted) {
		t.Fatalf("expected evaluation aborted, got %v", err)
	}
	gs := m.State()
	if gs.Round != 1 || len(gs.History) != 0 || !gs.PlayerData["a"].Ready {
		t.Fatalf("state changed by aborted evaluation: %+v", gs)
	}
}

func TestMachine_DictatorScenario(t *testing.T) {
	m := newMachine(t, games.DictatorGame, []string{"a", "b"}, 2)

	if err := m.Submit("b", "50", 1); gameerr.KindOf(err) != gameerr.KindInvalidRole {
		t.Fatalf("recipient submit: expected invalid role, got %v", err)
	}
	if err := m.Submit("a", "30", 1); err != nil {
		t.Fatal(err)
	}
	if !m.AllReady() {
		t.Fatal("dictator alone should make the round ready")
	}
	res, err := m.Evaluate()
	if err != nil {
		t.Fatal(err)
	}
	if res.Scores["a"] != 70 || res.Scores["b"] != 30 || res.Roles["a"] != games.RoleDictator {
		t.Fatalf("unexpected result %+v", res)
	}
	gs := m.State()
	if gs.Round != 2 || gs.PlayerRoles["b"] != games.RoleDictator {
		t.Fatalf("roles should swap for round 2: %+v", gs.PlayerRoles)
	}
	if err := m.Submit("b", "100", 2); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Evaluate(); err != nil {
		t.Fatal(err)
	}
	if gs.PlayerData["a"].TotalScore != 170 || gs.PlayerData["b"].TotalScore != 30 {
		t.Fatalf("unexpected totals %v", gs.Scores())
	}
}

func TestMachine_ResetFromCompleted(t *testing.T) {
	m := newMachine(t, games.Chicken, []string{"a", "b"}, 1)
	_ = m.Submit("a", "swerve", 1)
	_ = m.Submit("b", "swerve", 1)
	if _, err := m.Evaluate(); err != nil {
		t.Fatal(err)
	}
	if m.NeedsInit() {
		t.Fatal("completed state is not uninitialized")
	}
	if err := m.Reset([]string{"a", "b"}, 2); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	gs := m.State()
	if gs.Status != models.GameInProgress || gs.Round != 1 || len(gs.History) != 0 || gs.PlayerData["a"].TotalScore != 0 {
		t.Fatalf("unexpected state after reset: %+v", gs)
	}
}

func TestMachine_AbandonAndRemove(t *testing.T) {
	m := newMachine(t, games.Coordination, []string{"a", "b", "c"}, 5)
	if !m.RemovePlayer("c") {
		t.Fatal("expected c to be removed")
	}
	if m.RemovePlayer("c") {
		t.Fatal("second removal should report false")
	}
	gs := m.State()
	if len(gs.Players) != 2 || gs.HasPlayer("c") {
		t.Fatalf("c still present: %+v", gs.Players)
	}
	if err := m.Abandon(); err != nil {
		t.Fatal(err)
	}
	if gs.Status != models.GameCompleted || gs.Round != len(gs.History) {
		t.Fatalf("unexpected abandoned state: %+v", gs)
	}
}

func TestMachine_TransitionTable(t *testing.T) {
	m := NewMachine(nil, games.NewPenniesGame(1, games.PenniesPayoffs{Win: 1, Lose: -1}))
	if err := m.changeStatus(models.GameCompleted); err != ErrTransitionNotAllowed {
		t.Fatalf("setup -> completed: expected ErrTransitionNotAllowed, got %v", err)
	}
	if err := m.changeStatus(models.GameInProgress); err != ErrTransitionNotAllowed {
		t.Fatalf("setup -> in_progress without players: expected ErrTransitionNotAllowed, got %v", err)
	}
	if m.State().Status != models.GameSetup {
		t.Fatalf("status changed by a blocked transition: %s", m.State().Status)
	}
}
