package games

import (
	"github.com/wfunc/econgames/models"
)

// Coordination decisions.
const (
	ChooseA models.Decision = "optionA"
	ChooseB models.Decision = "optionB"
)

// CoordinationGame rewards siding with the majority. Unanimous rounds and even
// splits pay everyone the split payoff.
type CoordinationGame struct {
	base
	payoffs CoordinationPayoffs
}

func NewCoordinationGame(maxRounds int, p CoordinationPayoffs) *CoordinationGame {
	return &CoordinationGame{
		base: base{info: Info{
			ID:               Coordination,
			Name:             "Coordination Game",
			Description:      "Pick the option most others pick. The majority wins, the minority gets nothing.",
			MinPlayers:       2,
			MaxPlayers:       p.MaxPlayers,
			DefaultMaxRounds: maxRounds,
			Decisions:        []models.Decision{ChooseA, ChooseB},
		}},
		payoffs: p,
	}
}

func (g *CoordinationGame) DefaultState() *models.GameState {
	gs := g.base.DefaultState()
	gs.OptionA, gs.OptionB = g.payoffs.OptionALabel, g.payoffs.OptionBLabel
	return gs
}

func (g *CoordinationGame) NewState(players []string, maxRounds int) *models.GameState {
	gs := g.newState(players, maxRounds)
	gs.OptionA, gs.OptionB = g.payoffs.OptionALabel, g.payoffs.OptionBLabel
	return gs
}

func (g *CoordinationGame) ValidateDecision(_ *models.GameState, _ string, d models.Decision) error {
	return g.validateChoice("coordination.validate", d)
}

func (g *CoordinationGame) Evaluate(decisions map[string]models.Decision, ctx EvalContext) (Outcome, error) {
	const op = "coordination.evaluate"
	if err := checkComplete(op, decisions, ctx.Players); err != nil {
		return Outcome{}, err
	}
	counts := map[string]int{string(ChooseA): 0, string(ChooseB): 0}
	for _, id := range ctx.Players {
		d := decisions[id]
		if err := g.validateChoice(op, d); err != nil {
			return Outcome{}, err
		}
		counts[string(d)]++
	}

	a, b := counts[string(ChooseA)], counts[string(ChooseB)]
	out := Outcome{Scores: make(map[string]float64, len(ctx.Players)), ChoiceCounts: counts}
	if a == 0 || b == 0 || a == b {
		out.Label = "split"
		if a == 0 || b == 0 {
			out.Label = "unanimous"
		}
		for _, id := range ctx.Players {
			out.Scores[id] = g.payoffs.Split
		}
		return out, nil
	}

	majority := ChooseA
	if b > a {
		majority = ChooseB
	}
	out.Label = "majority_" + string(majority)
	for _, id := range ctx.Players {
		if decisions[id] == majority {
			out.Scores[id] = g.payoffs.Majority
		} else {
			out.Scores[id] = g.payoffs.Minority
		}
	}
	return out, nil
}
