package games

import (
	"github.com/wfunc/econgames/gameerr"
	"github.com/wfunc/econgames/models"
)

// Matching Pennies roles.
const (
	RoleMatcher    = "matcher"
	RoleMismatcher = "mismatcher"
)

// PenniesGame is Matching Pennies: the matcher wins when both coins agree.
// Roles are assigned in join order and stay fixed for the match.
type PenniesGame struct {
	base
	payoffs PenniesPayoffs
}

func NewPenniesGame(maxRounds int, p PenniesPayoffs) *PenniesGame {
	return &PenniesGame{
		base: base{info: Info{
			ID:               MatchingPennies,
			Name:             "Matching Pennies",
			Description:      "The matcher wins if both coins show the same side, the mismatcher if they differ.",
			MinPlayers:       2,
			MaxPlayers:       2,
			DefaultMaxRounds: maxRounds,
			Decisions:        []models.Decision{"heads", "tails"},
			Roles:            []string{RoleMatcher, RoleMismatcher},
		}},
		payoffs: p,
	}
}

func (g *PenniesGame) NewState(players []string, maxRounds int) *models.GameState {
	gs := g.newState(players, maxRounds)
	gs.PlayerRoles = make(map[string]string, len(players))
	for i, id := range players {
		if i == 0 {
			gs.PlayerRoles[id] = RoleMatcher
		} else {
			gs.PlayerRoles[id] = RoleMismatcher
		}
	}
	return gs
}

func (g *PenniesGame) ValidateDecision(_ *models.GameState, _ string, d models.Decision) error {
	return g.validateChoice("pennies.validate", d)
}

func (g *PenniesGame) Evaluate(decisions map[string]models.Decision, ctx EvalContext) (Outcome, error) {
	const op = "pennies.evaluate"
	if err := checkComplete(op, decisions, ctx.Players); err != nil {
		return Outcome{}, err
	}
	var matcher, mismatcher string
	for _, id := range ctx.Players {
		switch ctx.Roles[id] {
		case RoleMatcher:
			matcher = id
		case RoleMismatcher:
			mismatcher = id
		}
	}
	if matcher == "" || mismatcher == "" {
		return Outcome{}, gameerr.EvaluationAborted(op, "roles not assigned")
	}
	for _, id := range ctx.Players {
		if err := g.validateChoice(op, decisions[id]); err != nil {
			return Outcome{}, err
		}
	}

	out := Outcome{Scores: make(map[string]float64, 2)}
	if decisions[matcher] == decisions[mismatcher] {
		out.Label = "match"
		out.Scores[matcher], out.Scores[mismatcher] = g.payoffs.Win, g.payoffs.Lose
	} else {
		out.Label = "mismatch"
		out.Scores[matcher], out.Scores[mismatcher] = g.payoffs.Lose, g.payoffs.Win
	}
	return out, nil
}
