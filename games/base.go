package games

import (
	"slices"

	"github.com/wfunc/econgames/gameerr"
	"github.com/wfunc/econgames/models"
)

// base carries the behaviour shared by every family.
type base struct {
	info Info
}

func (b base) Info() Info { return b.info }

func (b base) DefaultState() *models.GameState {
	return &models.GameState{
		Status:     models.GameSetup,
		MaxRounds:  b.info.DefaultMaxRounds,
		PlayerData: map[string]*models.PlayerRoundData{},
		History:    []models.RoundResult{},
	}
}

func (b base) newState(players []string, maxRounds int) *models.GameState {
	if maxRounds <= 0 {
		maxRounds = b.info.DefaultMaxRounds
	}
	gs := &models.GameState{
		Status:     models.GameInProgress,
		Round:      1,
		MaxRounds:  maxRounds,
		Players:    slices.Clone(players),
		PlayerData: make(map[string]*models.PlayerRoundData, len(players)),
		History:    []models.RoundResult{},
	}
	for _, id := range players {
		gs.PlayerData[id] = &models.PlayerRoundData{}
	}
	return gs
}

func (b base) RequiredPlayers(gs *models.GameState) []string {
	return slices.Clone(gs.Players)
}

func (b base) AfterRound(*models.GameState) {}

func (b base) Classify(models.RoundResult, string) Stance { return Neutral }

// validateChoice accepts only the game's enumerated decisions.
func (b base) validateChoice(op string, d models.Decision) error {
	if !slices.Contains(b.info.Decisions, d) {
		return gameerr.Validation(op, "decision %q is not valid for %s", d, b.info.ID)
	}
	return nil
}

// checkComplete verifies every player in ids has a decision.
func checkComplete(op string, decisions map[string]models.Decision, ids []string) error {
	for _, id := range ids {
		if _, ok := decisions[id]; !ok {
			return gameerr.EvaluationAborted(op, "missing decision for player %s", id)
		}
	}
	return nil
}
