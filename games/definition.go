package games

import (
	"github.com/wfunc/econgames/models"
)

// Info describes a game type for the lobby.
type Info struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	MinPlayers       int               `json:"minPlayers"`
	MaxPlayers       int               `json:"maxPlayers"`
	DefaultMaxRounds int               `json:"defaultMaxRounds"`
	Decisions        []models.Decision `json:"decisions,omitempty"`
	Roles            []string          `json:"roles,omitempty"`
}

// SupportsPairs reports whether the game can be played 1:1, which tournaments require.
func (i Info) SupportsPairs() bool {
	return i.MinPlayers <= 2 && i.MaxPlayers >= 2
}

// EvalContext carries the per-state inputs an evaluator needs besides the decisions.
type EvalContext struct {
	Players     []string
	Roles       map[string]string
	TotalAmount int
	Endowment   float64
}

// ContextFor builds the evaluation context of gs.
func ContextFor(gs *models.GameState) EvalContext {
	return EvalContext{
		Players:     gs.Players,
		Roles:       gs.PlayerRoles,
		TotalAmount: gs.TotalAmount,
		Endowment:   gs.Endowment,
	}
}

// Outcome is the result of evaluating one round.
type Outcome struct {
	Scores       map[string]float64
	Label        string
	Allocation   *int
	ChoiceCounts map[string]int
}

// Stance classifies a decision for tournament counting.
type Stance int

const (
	Neutral Stance = iota
	Cooperative
	Defecting
)

// Definition is one playable game. Implementations hold only immutable
// configuration and are safe for concurrent use.
type Definition interface {
	Info() Info

	// DefaultState is the state stored on a freshly created session.
	DefaultState() *models.GameState

	// NewState returns an in-progress state at round 1 for players.
	NewState(players []string, maxRounds int) *models.GameState

	// RequiredPlayers lists the players whose decision is needed this round.
	RequiredPlayers(gs *models.GameState) []string

	// ValidateDecision checks a decision before it is recorded.
	ValidateDecision(gs *models.GameState, playerID string, d models.Decision) error

	// Evaluate scores a complete set of decisions. It must not mutate its inputs.
	Evaluate(decisions map[string]models.Decision, ctx EvalContext) (Outcome, error)

	// AfterRound runs once the round result is appended, e.g. to swap roles.
	AfterRound(gs *models.GameState)

	// Classify reports whether playerID cooperated in result.
	Classify(result models.RoundResult, playerID string) Stance
}
