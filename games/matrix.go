package games

import (
	"github.com/wfunc/econgames/gameerr"
	"github.com/wfunc/econgames/models"
)

// MatrixGame is a symmetric two-player 2x2 game (Prisoner's Dilemma, Stag Hunt, Chicken).
type MatrixGame struct {
	base
	cooperate models.Decision
	defect    models.Decision
	payoffs   MatrixPayoffs
}

// NewMatrixGame builds a 2x2 game whose two decisions are cooperate and defect.
func NewMatrixGame(info Info, cooperate, defect models.Decision, p MatrixPayoffs) *MatrixGame {
	info.MinPlayers, info.MaxPlayers = 2, 2
	info.Decisions = []models.Decision{cooperate, defect}
	return &MatrixGame{base: base{info: info}, cooperate: cooperate, defect: defect, payoffs: p}
}

// Payoffs returns the game's matrix.
func (g *MatrixGame) Payoffs() MatrixPayoffs { return g.payoffs }

func (g *MatrixGame) NewState(players []string, maxRounds int) *models.GameState {
	return g.newState(players, maxRounds)
}

func (g *MatrixGame) ValidateDecision(_ *models.GameState, _ string, d models.Decision) error {
	return g.validateChoice("matrix.validate", d)
}

// score returns the row player's payoff for (mine, theirs).
func (g *MatrixGame) score(mine, theirs models.Decision) float64 {
	switch {
	case mine == g.cooperate && theirs == g.cooperate:
		return g.payoffs.BothCooperate
	case mine == g.defect && theirs == g.defect:
		return g.payoffs.BothDefect
	case mine == g.cooperate:
		return g.payoffs.Sucker
	default:
		return g.payoffs.Temptation
	}
}

func (g *MatrixGame) Evaluate(decisions map[string]models.Decision, ctx EvalContext) (Outcome, error) {
	const op = "matrix.evaluate"
	if len(ctx.Players) != 2 {
		return Outcome{}, gameerr.EvaluationAborted(op, "%s needs exactly 2 players, got %d", g.info.ID, len(ctx.Players))
	}
	if err := checkComplete(op, decisions, ctx.Players); err != nil {
		return Outcome{}, err
	}
	a, b := ctx.Players[0], ctx.Players[1]
	da, db := decisions[a], decisions[b]
	for _, d := range []models.Decision{da, db} {
		if err := g.validateChoice(op, d); err != nil {
			return Outcome{}, err
		}
	}

	label := "mixed"
	switch {
	case da == g.cooperate && db == g.cooperate:
		label = "both_" + string(g.cooperate)
	case da == g.defect && db == g.defect:
		label = "both_" + string(g.defect)
	}
	return Outcome{
		Scores: map[string]float64{a: g.score(da, db), b: g.score(db, da)},
		Label:  label,
	}, nil
}

func (g *MatrixGame) Classify(result models.RoundResult, playerID string) Stance {
	switch result.Decisions[playerID] {
	case g.cooperate:
		return Cooperative
	case g.defect:
		return Defecting
	}
	return Neutral
}
