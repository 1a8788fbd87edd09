package session

import (
	"context"
	"errors"
	"strings"

	"github.com/wfunc/econgames/gameerr"
	"github.com/wfunc/econgames/games"
	"github.com/wfunc/econgames/models"
	"github.com/wfunc/econgames/state"
	"github.com/wfunc/econgames/tournament"
)

// DecisionRequest is one player's choice for a round. A non-zero Round must
// match the current round so stale clients cannot land in the next one.
type DecisionRequest struct {
	Decision models.Decision `json:"decision"`
	Round    int             `json:"round,omitempty"`
}

// SubmitDecision records the caller's decision in their game state, the
// session game or their tournament match, and evaluates the round once every
// required player has decided.
func (m *Manager) SubmitDecision(ctx context.Context, callerID, id string, req DecisionRequest) (*models.Session, error) {
	const op = "session.submit"
	if strings.TrimSpace(string(req.Decision)) == "" {
		return nil, gameerr.Validation(op, "decision is required")
	}
	return m.mutate(ctx, "submit", id, func(s *models.Session, fx *effects) error {
		if err := requireMember(op, s, callerID); err != nil {
			return err
		}
		if s.Status != models.SessionPlaying {
			return gameerr.InvalidState(op, "session %s is %s", s.ID, s.Status)
		}
		def, err := m.definition(op, s)
		if err != nil {
			return err
		}

		var (
			gs       *models.GameState
			matchKey string
			players  []string
		)
		if s.IsTournament {
			key, ok := tournament.MatchFor(s, callerID)
			if !ok {
				return gameerr.InvalidState(op, "player %s has no active match", callerID)
			}
			matchKey = key
			gs = s.GameData.Matches[key]
			lo, hi := tournament.SplitKey(key)
			players = []string{lo, hi}
		} else {
			if s.GameData.GameState == nil {
				s.GameData.GameState = def.DefaultState()
			}
			gs = s.GameData.GameState
			players = s.RosterOrder()
		}

		mach := state.NewMachine(gs, def)
		if mach.NeedsInit() {
			if err := mach.Initialize(players, maxRounds(s, def)); err != nil {
				return err
			}
		}
		if err := mach.Submit(callerID, req.Decision, req.Round); err != nil {
			return err
		}
		return m.advance(s, def, mach, matchKey, fx)
	})
}

// advance evaluates the round when every required player is ready. An
// aborted evaluation leaves the state as it was and is only reported.
func (m *Manager) advance(s *models.Session, def games.Definition, mach *state.Machine, matchKey string, fx *effects) error {
	if !mach.AllReady() {
		return nil
	}
	result, err := mach.Evaluate()
	if errors.Is(err, gameerr.ErrEvaluationAborted) {
		fx.aborts = append(fx.aborts, err)
		return nil
	}
	if err != nil {
		return err
	}
	fx.rounds++

	gs := mach.State()
	if s.IsTournament {
		names := make(map[string]string, len(s.Players))
		for id, p := range s.Players {
			names[id] = p.DisplayName
		}
		s.TournamentResults = tournament.RecordRound(s.TournamentResults, def, gs, *result, names)
	}
	if gs.Status == models.GameCompleted {
		fx.archives = append(fx.archives, m.record(s, gs))
		if matchKey != "" {
			fx.matches = append(fx.matches, matchKey)
		}
	}
	return nil
}

func (m *Manager) record(s *models.Session, gs *models.GameState) *models.GameRecord {
	scores := gs.Scores()
	players := make([]string, 0, len(gs.Players))
	for _, id := range gs.Players {
		if _, ok := scores[id]; ok {
			players = append(players, id)
		}
	}
	return &models.GameRecord{
		SessionID:   s.ID,
		GameID:      s.GameData.GameID,
		Tournament:  s.IsTournament,
		Players:     players,
		Scores:      scores,
		Outcomes:    tournament.Outcomes(scores),
		Rounds:      len(gs.History),
		CompletedAt: m.now(),
	}
}

// Leaderboard ranks players by total score. Tournament sessions rank the
// accumulated results, other sessions the scores of the current game.
func (m *Manager) Leaderboard(ctx context.Context, id string) ([]*models.TournamentPlayerResult, error) {
	s, err := m.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	order := s.RosterOrder()
	if s.IsTournament {
		return tournament.Leaderboard(s.TournamentResults, order), nil
	}
	results := map[string]*models.TournamentPlayerResult{}
	gs := s.GameData.GameState
	if gs == nil {
		return []*models.TournamentPlayerResult{}, nil
	}
	for pid, pd := range gs.PlayerData {
		r := &models.TournamentPlayerResult{PlayerID: pid, TotalScore: pd.TotalScore}
		if p, ok := s.Players[pid]; ok {
			r.DisplayName = p.DisplayName
		}
		results[pid] = r
	}
	if gs.Status == models.GameCompleted {
		for pid, outcome := range tournament.Outcomes(gs.Scores()) {
			r := results[pid]
			r.MatchesPlayed = 1
			switch outcome {
			case tournament.Win:
				r.Wins = 1
			case tournament.Loss:
				r.Losses = 1
			default:
				r.Draws = 1
			}
		}
	}
	return tournament.Leaderboard(results, order), nil
}
