// state/interfaces.go
package state

import (
	"github.com/wfunc/econgames/games"
	"github.com/wfunc/econgames/models"
)

// Rules is the game-specific behaviour the round machine drives.
// games.Definition satisfies it.
type Rules interface {
	NewState(players []string, maxRounds int) *models.GameState
	RequiredPlayers(gs *models.GameState) []string
	ValidateDecision(gs *models.GameState, playerID string, d models.Decision) error
	Evaluate(decisions map[string]models.Decision, ctx games.EvalContext) (games.Outcome, error)
	AfterRound(gs *models.GameState)
}
