package games

import (
	"strconv"
	"strings"

	"github.com/wfunc/econgames/gameerr"
	"github.com/wfunc/econgames/models"
)

// Dictator Game roles.
const (
	RoleDictator  = "dictator"
	RoleRecipient = "recipient"
)

// dictatorGame 独裁者博弈: 独裁者决定分给接收者多少, 每回合交换角色
type dictatorGame struct {
	base
	payoffs DictatorPayoffs
}

func NewDictatorGame(maxRounds int, p DictatorPayoffs) Definition {
	return &dictatorGame{
		base: base{info: Info{
			ID:               DictatorGame,
			Name:             "Dictator Game",
			Description:      "The dictator splits a fixed amount with the recipient. Roles swap every round.",
			MinPlayers:       2,
			MaxPlayers:       2,
			DefaultMaxRounds: maxRounds,
			Roles:            []string{RoleDictator, RoleRecipient},
		}},
		payoffs: p,
	}
}

func (g *dictatorGame) DefaultState() *models.GameState {
	gs := g.base.DefaultState()
	gs.TotalAmount = g.payoffs.TotalAmount
	return gs
}

func (g *dictatorGame) NewState(players []string, maxRounds int) *models.GameState {
	gs := g.newState(players, maxRounds)
	gs.TotalAmount = g.payoffs.TotalAmount
	gs.PlayerRoles = make(map[string]string, len(players))
	for i, id := range players {
		if i == 0 {
			gs.PlayerRoles[id] = RoleDictator
		} else {
			gs.PlayerRoles[id] = RoleRecipient
		}
	}
	return gs
}

// RequiredPlayers is only the current dictator.
func (g *dictatorGame) RequiredPlayers(gs *models.GameState) []string {
	for _, id := range gs.Players {
		if gs.PlayerRoles[id] == RoleDictator {
			return []string{id}
		}
	}
	return nil
}

func (g *dictatorGame) total(amount int) int {
	if amount > 0 {
		return amount
	}
	return g.payoffs.TotalAmount
}

// ParseAllocation parses d as an allocation in [0, total].
func ParseAllocation(op string, d models.Decision, total int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(string(d)))
	if err != nil {
		return 0, gameerr.Validation(op, "allocation %q is not an integer", d)
	}
	if n < 0 || n > total {
		return 0, gameerr.Validation(op, "allocation %d out of range [0, %d]", n, total)
	}
	return n, nil
}

func (g *dictatorGame) ValidateDecision(gs *models.GameState, playerID string, d models.Decision) error {
	const op = "dictator.validate"
	if gs.PlayerRoles[playerID] != RoleDictator {
		return gameerr.InvalidRole(op, "only the dictator decides this round")
	}
	_, err := ParseAllocation(op, d, g.total(gs.TotalAmount))
	return err
}

func (g *dictatorGame) Evaluate(decisions map[string]models.Decision, ctx EvalContext) (Outcome, error) {
	const op = "dictator.evaluate"
	var dictator, recipient string
	for _, id := range ctx.Players {
		switch ctx.Roles[id] {
		case RoleDictator:
			dictator = id
		case RoleRecipient:
			recipient = id
		}
	}
	if dictator == "" || recipient == "" {
		return Outcome{}, gameerr.EvaluationAborted(op, "roles not assigned")
	}
	if err := checkComplete(op, decisions, []string{dictator}); err != nil {
		return Outcome{}, err
	}
	total := g.total(ctx.TotalAmount)
	alloc, err := ParseAllocation(op, decisions[dictator], total)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Scores: map[string]float64{
			dictator:  float64(total - alloc),
			recipient: float64(alloc),
		},
		Label:      "allocation",
		Allocation: &alloc,
	}, nil
}

// AfterRound swaps dictator and recipient.
func (g *dictatorGame) AfterRound(gs *models.GameState) {
	for id, role := range gs.PlayerRoles {
		switch role {
		case RoleDictator:
			gs.PlayerRoles[id] = RoleRecipient
		case RoleRecipient:
			gs.PlayerRoles[id] = RoleDictator
		}
	}
}

// Classify counts an even or generous split as cooperation.
func (g *dictatorGame) Classify(result models.RoundResult, playerID string) Stance {
	if result.Roles[playerID] != RoleDictator || result.Allocation == nil {
		return Neutral
	}
	alloc := *result.Allocation
	total := alloc + int(result.Scores[playerID])
	if alloc*2 >= total {
		return Cooperative
	}
	return Defecting
}
