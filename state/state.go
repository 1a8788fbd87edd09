package state

import (
	"errors"
	"maps"
	"slices"

	"github.com/wfunc/econgames/gameerr"
	"github.com/wfunc/econgames/games"
	"github.com/wfunc/econgames/models"
)

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// Machine drives one GameState through setup -> in_progress -> completed.
// It mutates the state in place and is not safe for concurrent use; callers
// serialize access through the session document.
type Machine struct {
	gs          *models.GameState
	rules       Rules
	transitions map[models.GameStatus]map[models.GameStatus]func() bool // from -> to -> condition
	abandoned   bool
}

// NewMachine wraps gs. A nil gs starts from an empty setup state.
func NewMachine(gs *models.GameState, rules Rules) *Machine {
	if gs == nil {
		gs = &models.GameState{Status: models.GameSetup}
	}
	if gs.Status == "" {
		gs.Status = models.GameSetup
	}
	m := &Machine{
		gs:          gs,
		rules:       rules,
		transitions: make(map[models.GameStatus]map[models.GameStatus]func() bool),
	}
	m.AddTransition(models.GameSetup, models.GameInProgress, func() bool {
		return len(m.gs.PlayerData) > 0 && m.gs.Round >= 1
	})
	m.AddTransition(models.GameInProgress, models.GameCompleted, func() bool {
		return m.abandoned || m.gs.Round >= m.gs.MaxRounds
	})
	m.AddTransition(models.GameInProgress, models.GameSetup, nil)
	m.AddTransition(models.GameCompleted, models.GameSetup, nil)
	return m
}

// AddTransition registers an allowed transition with an optional guard.
func (m *Machine) AddTransition(from, to models.GameStatus, condition func() bool) {
	if _, exists := m.transitions[from]; !exists {
		m.transitions[from] = make(map[models.GameStatus]func() bool)
	}
	m.transitions[from][to] = condition
}

func (m *Machine) changeStatus(to models.GameStatus) error {
	from := m.gs.Status
	if from == to {
		return nil
	}
	conditions, exists := m.transitions[from]
	if !exists {
		return ErrTransitionNotAllowed
	}
	condition, exists := conditions[to]
	if !exists {
		return ErrTransitionNotAllowed
	}
	if condition != nil && !condition() {
		return ErrTransitionNotAllowed
	}
	m.gs.Status = to
	return nil
}

// State returns the wrapped game state.
func (m *Machine) State() *models.GameState { return m.gs }

// NeedsInit reports whether the state has never been initialized.
func (m *Machine) NeedsInit() bool {
	return m.gs.Status == models.GameSetup || m.gs.Round == 0 || len(m.gs.PlayerData) == 0
}

// Initialize seeds the state for players when NeedsInit. It is a no-op otherwise.
func (m *Machine) Initialize(players []string, maxRounds int) error {
	if !m.NeedsInit() {
		return nil
	}
	return m.Reset(players, maxRounds)
}

// Reset re-initializes the state at round 1 regardless of its current status.
func (m *Machine) Reset(players []string, maxRounds int) error {
	const op = "state.reset"
	if len(players) == 0 {
		return gameerr.InvalidState(op, "no players to start with")
	}
	if err := m.changeStatus(models.GameSetup); err != nil {
		return gameerr.Wrap(gameerr.KindInvalidState, op, err, "cannot re-initialize")
	}
	fresh := m.rules.NewState(players, maxRounds)
	fresh.Status = models.GameSetup
	*m.gs = *fresh
	m.abandoned = false
	if err := m.changeStatus(models.GameInProgress); err != nil {
		return gameerr.Wrap(gameerr.KindInvalidState, op, err, "cannot start")
	}
	return nil
}

// Submit records playerID's decision for the current round. A non-zero round
// must match the current round.
func (m *Machine) Submit(playerID string, d models.Decision, round int) error {
	const op = "state.submit"
	gs := m.gs
	if gs.Status != models.GameInProgress {
		return gameerr.InvalidState(op, "game is %s", gs.Status)
	}
	pd, ok := gs.PlayerData[playerID]
	if !ok {
		return gameerr.NotFound(op, "player %s is not in this game", playerID)
	}
	if round != 0 && round != gs.Round {
		return gameerr.InvalidState(op, "decision for round %d but current round is %d", round, gs.Round)
	}
	if pd.Ready {
		return gameerr.InvalidState(op, "player %s already decided round %d", playerID, gs.Round)
	}
	if err := m.rules.ValidateDecision(gs, playerID, d); err != nil {
		return err
	}
	pd.CurrentDecision = d
	pd.Ready = true
	return nil
}

// AllReady reports whether every required player has decided.
func (m *Machine) AllReady() bool {
	if m.gs.Status != models.GameInProgress {
		return false
	}
	required := m.rules.RequiredPlayers(m.gs)
	if len(required) == 0 {
		return false
	}
	for _, id := range required {
		pd, ok := m.gs.PlayerData[id]
		if !ok || !pd.Ready {
			return false
		}
	}
	return true
}

// Evaluate scores the current round, appends it to History and advances. If
// a required decision is missing the state is left untouched.
func (m *Machine) Evaluate() (*models.RoundResult, error) {
	const op = "state.evaluate"
	gs := m.gs
	if gs.Status != models.GameInProgress {
		return nil, gameerr.InvalidState(op, "game is %s", gs.Status)
	}
	decisions := make(map[string]models.Decision, len(gs.PlayerData))
	for _, id := range m.rules.RequiredPlayers(gs) {
		pd, ok := gs.PlayerData[id]
		if !ok || !pd.Ready {
			return nil, gameerr.EvaluationAborted(op, "missing decision for player %s in round %d", id, gs.Round)
		}
		decisions[id] = pd.CurrentDecision
	}

	outcome, err := m.rules.Evaluate(decisions, games.ContextFor(gs))
	if err != nil {
		return nil, err
	}

	result := models.RoundResult{
		Round:        gs.Round,
		Decisions:    decisions,
		Scores:       outcome.Scores,
		Outcome:      outcome.Label,
		Allocation:   outcome.Allocation,
		ChoiceCounts: outcome.ChoiceCounts,
	}
	if len(gs.PlayerRoles) > 0 {
		result.Roles = maps.Clone(gs.PlayerRoles)
	}
	gs.History = append(gs.History, result)

	for id, delta := range outcome.Scores {
		if pd, ok := gs.PlayerData[id]; ok {
			pd.TotalScore += delta
		}
	}
	for _, pd := range gs.PlayerData {
		pd.CurrentDecision = ""
		pd.Ready = false
	}

	if gs.Round >= gs.MaxRounds {
		if err := m.changeStatus(models.GameCompleted); err != nil {
			return nil, gameerr.Wrap(gameerr.KindInvalidState, op, err, "cannot complete")
		}
	} else {
		gs.Round++
	}
	m.rules.AfterRound(gs)
	return &result, nil
}

// Abandon completes an in-progress game early, e.g. when too few players remain.
func (m *Machine) Abandon() error {
	if m.gs.Status != models.GameInProgress {
		return nil
	}
	m.abandoned = true
	if err := m.changeStatus(models.GameCompleted); err != nil {
		return err
	}
	// completed states hold one history entry per round played
	m.gs.Round = len(m.gs.History)
	for _, pd := range m.gs.PlayerData {
		pd.CurrentDecision = ""
		pd.Ready = false
	}
	return nil
}

// RemovePlayer drops playerID from the state. It reports whether the player
// was a participant.
func (m *Machine) RemovePlayer(playerID string) bool {
	gs := m.gs
	if _, ok := gs.PlayerData[playerID]; !ok {
		return false
	}
	delete(gs.PlayerData, playerID)
	delete(gs.PlayerRoles, playerID)
	gs.Players = slices.DeleteFunc(gs.Players, func(id string) bool { return id == playerID })
	return true
}
