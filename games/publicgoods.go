package games

import (
	"github.com/wfunc/econgames/models"
)

// Public goods decisions.
const (
	Contribute models.Decision = "contribute"
	Keep       models.Decision = "keep"
)

// PublicGoodsGame: contributors put their endowment in a pot that is
// multiplied and shared equally among all players.
type PublicGoodsGame struct {
	base
	payoffs PublicGoodsPayoffs
}

func NewPublicGoodsGame(maxRounds int, p PublicGoodsPayoffs) *PublicGoodsGame {
	return &PublicGoodsGame{
		base: base{info: Info{
			ID:               PublicGoods,
			Name:             "Public Goods Game",
			Description:      "Contribute your endowment to a shared pot that grows and is split evenly, or keep it.",
			MinPlayers:       2,
			MaxPlayers:       p.MaxPlayers,
			DefaultMaxRounds: maxRounds,
			Decisions:        []models.Decision{Contribute, Keep},
		}},
		payoffs: p,
	}
}

func (g *PublicGoodsGame) DefaultState() *models.GameState {
	gs := g.base.DefaultState()
	gs.Endowment = g.payoffs.Endowment
	return gs
}

func (g *PublicGoodsGame) NewState(players []string, maxRounds int) *models.GameState {
	gs := g.newState(players, maxRounds)
	gs.Endowment = g.payoffs.Endowment
	return gs
}

func (g *PublicGoodsGame) ValidateDecision(_ *models.GameState, _ string, d models.Decision) error {
	return g.validateChoice("public_goods.validate", d)
}

func (g *PublicGoodsGame) Evaluate(decisions map[string]models.Decision, ctx EvalContext) (Outcome, error) {
	const op = "public_goods.evaluate"
	if err := checkComplete(op, decisions, ctx.Players); err != nil {
		return Outcome{}, err
	}
	endowment := ctx.Endowment
	if endowment <= 0 {
		endowment = g.payoffs.Endowment
	}

	contributors := 0
	for _, id := range ctx.Players {
		d := decisions[id]
		if err := g.validateChoice(op, d); err != nil {
			return Outcome{}, err
		}
		if d == Contribute {
			contributors++
		}
	}

	share := 0.0
	if n := len(ctx.Players); n > 0 {
		share = float64(contributors) * endowment * g.payoffs.Multiplier / float64(n)
	}
	out := Outcome{
		Scores:       make(map[string]float64, len(ctx.Players)),
		ChoiceCounts: map[string]int{string(Contribute): contributors, string(Keep): len(ctx.Players) - contributors},
	}
	for _, id := range ctx.Players {
		out.Scores[id] = share
		if decisions[id] == Keep {
			out.Scores[id] += endowment
		}
	}
	switch contributors {
	case len(ctx.Players):
		out.Label = "all_contribute"
	case 0:
		out.Label = "none_contribute"
	default:
		out.Label = "mixed"
	}
	return out, nil
}

func (g *PublicGoodsGame) Classify(result models.RoundResult, playerID string) Stance {
	switch result.Decisions[playerID] {
	case Contribute:
		return Cooperative
	case Keep:
		return Defecting
	}
	return Neutral
}
