package session

import (
	"context"
	"errors"
	"strings"

	"github.com/wfunc/econgames/gameerr"
	"github.com/wfunc/econgames/games"
	"github.com/wfunc/econgames/logger"
	"github.com/wfunc/econgames/models"
	"github.com/wfunc/econgames/persistence"
	"github.com/wfunc/econgames/state"
	"github.com/wfunc/econgames/tournament"
)

// CreateRequest describes a new session.
type CreateRequest struct {
	Name         string `json:"name"`
	GameID       string `json:"gameId"`
	IsTournament bool   `json:"isTournament"`
	// MaxRounds overrides the game's default round count when positive.
	MaxRounds int `json:"maxRounds,omitempty"`
}

// ResetOptions controls ResetGame.
type ResetOptions struct {
	ClearTournamentResults bool `json:"clearTournamentResults"`
}

// Metadata holds the creator-editable session fields.
type Metadata struct {
	Name string `json:"name"`
}

func requireCaller(op, id string) error {
	if strings.TrimSpace(id) == "" {
		return gameerr.Validation(op, "player id is required")
	}
	return nil
}

func requireMember(op string, s *models.Session, playerID string) error {
	if !s.IsMember(playerID) {
		return gameerr.NotFound(op, "player %s is not in session %s", playerID, s.ID)
	}
	return nil
}

func requireHost(op string, s *models.Session, playerID string) error {
	if err := requireMember(op, s, playerID); err != nil {
		return err
	}
	if !s.Players[playerID].IsHost {
		return gameerr.Permission(op, "only the host can do this")
	}
	return nil
}

func displayName(c Caller) string {
	if n := strings.TrimSpace(c.DisplayName); n != "" {
		return n
	}
	return c.ID
}

// CreateSession 创建会话, the caller becomes the host.
func (m *Manager) CreateSession(ctx context.Context, caller Caller, req CreateRequest) (s *models.Session, err error) {
	const op = "session.create"
	ctx, span := m.startSpan(ctx, "create", "")
	defer func() { endSpan(span, err) }()

	if err := requireCaller(op, caller.ID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, gameerr.Validation(op, "session name is required")
	}
	def, ok := m.games.Get(req.GameID)
	if !ok {
		return nil, gameerr.Validation(op, "unknown game %q", req.GameID)
	}
	if req.IsTournament && !def.Info().SupportsPairs() {
		return nil, gameerr.Validation(op, "%s cannot be played as a 1:1 tournament", def.Info().Name)
	}
	if req.MaxRounds < 0 {
		return nil, gameerr.Validation(op, "max rounds must not be negative")
	}

	now := m.now()
	gs := def.DefaultState()
	if req.MaxRounds > 0 {
		gs.MaxRounds = req.MaxRounds
	}
	s = &models.Session{
		ID:           m.newID(),
		Name:         name,
		Status:       models.SessionWaiting,
		CreatedBy:    caller.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
		IsTournament: req.IsTournament,
		Players: map[string]*models.Player{
			caller.ID: {ID: caller.ID, DisplayName: displayName(caller), IsHost: true, JoinedAt: now},
		},
		GameData: models.GameData{GameID: req.GameID, GameState: gs},
	}
	if req.IsTournament {
		s.TournamentResults = map[string]*models.TournamentPlayerResult{}
		s.PlayerMatches = map[string]string{}
	}
	if err := m.store.Create(ctx, s); err != nil {
		return nil, err
	}
	m.metrics.SessionCreated(req.GameID)
	logger.Log.Infof("Session %s (%s) created by %s", s.ID, req.GameID, caller.ID)
	return s, nil
}

// JoinSession adds the caller to the roster. Joining again is a no-op in any
// status so clients can reconnect.
func (m *Manager) JoinSession(ctx context.Context, caller Caller, id string) (*models.Session, error) {
	const op = "session.join"
	if err := requireCaller(op, caller.ID); err != nil {
		return nil, err
	}
	return m.mutate(ctx, "join", id, func(s *models.Session, fx *effects) error {
		if s.IsMember(caller.ID) {
			fx.noop = true
			return nil
		}
		if s.Status != models.SessionWaiting {
			return gameerr.InvalidState(op, "session %s is %s", s.ID, s.Status)
		}
		def, err := m.definition(op, s)
		if err != nil {
			return err
		}
		if !s.IsTournament && len(s.Players) >= def.Info().MaxPlayers {
			return gameerr.InvalidState(op, "session %s is full", s.ID)
		}
		if s.Players == nil {
			s.Players = map[string]*models.Player{}
		}
		s.Players[caller.ID] = &models.Player{
			ID:          caller.ID,
			DisplayName: displayName(caller),
			IsHost:      s.Host() == nil,
			JoinedAt:    m.now(),
		}
		return nil
	})
}

// LeaveSession removes the caller. If the host leaves, the earliest remaining
// joiner becomes host. Leaving a running game removes the player from it.
func (m *Manager) LeaveSession(ctx context.Context, callerID, id string) (*models.Session, error) {
	const op = "session.leave"
	return m.mutate(ctx, "leave", id, func(s *models.Session, fx *effects) error {
		if err := requireMember(op, s, callerID); err != nil {
			return err
		}
		wasHost := s.Players[callerID].IsHost
		delete(s.Players, callerID)
		if wasHost {
			if order := s.RosterOrder(); len(order) > 0 {
				s.Players[order[0]].IsHost = true
			}
		}
		if s.Status != models.SessionPlaying {
			return nil
		}
		def, err := m.definition(op, s)
		if err != nil {
			return err
		}
		if s.IsTournament {
			m.dissolveMatch(s, callerID)
			return nil
		}
		return m.removeFromGame(s, def, callerID, fx)
	})
}

// dissolveMatch drops playerID's tournament match; the opponent waits for a re-pair.
func (m *Manager) dissolveMatch(s *models.Session, playerID string) {
	opp, ok := s.PlayerMatches[playerID]
	delete(s.PlayerMatches, playerID)
	if !ok || opp == models.MatchWaiting || opp == "" {
		return
	}
	delete(s.GameData.Matches, tournament.MatchKey(playerID, opp))
	if _, still := s.PlayerMatches[opp]; still {
		s.PlayerMatches[opp] = models.MatchWaiting
	}
}

func (m *Manager) removeFromGame(s *models.Session, def games.Definition, playerID string, fx *effects) error {
	gs := s.GameData.GameState
	if gs == nil || gs.Status != models.GameInProgress {
		return nil
	}
	mach := state.NewMachine(gs, def)
	if !mach.RemovePlayer(playerID) {
		return nil
	}
	if len(gs.Players) < def.Info().MinPlayers {
		if err := mach.Abandon(); err != nil {
			return err
		}
		s.Status = models.SessionFinished
		fx.finished = true
		if len(gs.History) > 0 && len(gs.Players) > 0 {
			fx.archives = append(fx.archives, m.record(s, gs))
		}
		return nil
	}
	// the leaver may have been the last one the round was waiting for
	return m.advance(s, def, mach, "", fx)
}

func (m *Manager) validatePlayerCount(op string, s *models.Session, def games.Definition) error {
	n := len(s.Players)
	if s.IsTournament {
		if n < 2 {
			return gameerr.InvalidState(op, "a tournament needs at least 2 players, have %d", n)
		}
		return nil
	}
	info := def.Info()
	if n < info.MinPlayers || n > info.MaxPlayers {
		return gameerr.InvalidState(op, "%s needs %d-%d players, have %d", info.Name, info.MinPlayers, info.MaxPlayers, n)
	}
	return nil
}

func maxRounds(s *models.Session, def games.Definition) int {
	if gs := s.GameData.GameState; gs != nil && gs.MaxRounds > 0 {
		return gs.MaxRounds
	}
	return def.Info().DefaultMaxRounds
}

// initGame puts a fresh game at round 1 on the session.
func (m *Manager) initGame(op string, s *models.Session, def games.Definition) error {
	roster := s.RosterOrder()
	rounds := maxRounds(s, def)
	if s.IsTournament {
		s.GameData.GameState = &models.GameState{
			Status:     models.GameInProgress,
			Round:      1,
			MaxRounds:  rounds,
			Players:    roster,
			PlayerData: map[string]*models.PlayerRoundData{},
			History:    []models.RoundResult{},
		}
		m.repair(s, def, roster, rounds)
		if s.TournamentResults == nil {
			s.TournamentResults = map[string]*models.TournamentPlayerResult{}
		}
		return nil
	}
	if s.GameData.GameState == nil {
		s.GameData.GameState = def.DefaultState()
	}
	mach := state.NewMachine(s.GameData.GameState, def)
	if err := mach.Reset(roster, rounds); err != nil {
		return gameerr.Wrap(gameerr.KindInvalidState, op, err, "cannot initialize game")
	}
	return nil
}

func (m *Manager) repair(s *models.Session, def games.Definition, roster []string, rounds int) {
	s.PlayerMatches = m.pair(roster)
	s.GameData.Matches = tournament.BuildMatches(def, s.PlayerMatches, rounds)
}

// StartGame starts the selected game. Host only, from waiting.
func (m *Manager) StartGame(ctx context.Context, callerID, id string) (*models.Session, error) {
	const op = "session.start"
	return m.mutate(ctx, "start", id, func(s *models.Session, fx *effects) error {
		if err := requireHost(op, s, callerID); err != nil {
			return err
		}
		if s.Status != models.SessionWaiting {
			return gameerr.InvalidState(op, "session %s is %s", s.ID, s.Status)
		}
		def, err := m.definition(op, s)
		if err != nil {
			return err
		}
		if err := m.validatePlayerCount(op, s, def); err != nil {
			return err
		}
		if err := m.initGame(op, s, def); err != nil {
			return err
		}
		s.Status = models.SessionPlaying
		fx.started = true
		return nil
	})
}

// ResetGame starts a new game on a finished session. Tournament results are
// kept unless opts clears them.
func (m *Manager) ResetGame(ctx context.Context, callerID, id string, opts ResetOptions) (*models.Session, error) {
	const op = "session.reset"
	return m.mutate(ctx, "reset", id, func(s *models.Session, fx *effects) error {
		if err := requireHost(op, s, callerID); err != nil {
			return err
		}
		if s.Status != models.SessionFinished {
			return gameerr.InvalidState(op, "only a finished session can be reset, session %s is %s", s.ID, s.Status)
		}
		def, err := m.definition(op, s)
		if err != nil {
			return err
		}
		if err := m.validatePlayerCount(op, s, def); err != nil {
			return err
		}
		if s.IsTournament && opts.ClearTournamentResults {
			s.TournamentResults = map[string]*models.TournamentPlayerResult{}
		}
		if err := m.initGame(op, s, def); err != nil {
			return err
		}
		s.Status = models.SessionPlaying
		fx.started = true
		return nil
	})
}

// ShuffleMatches re-pairs every tournament player with fresh match states.
func (m *Manager) ShuffleMatches(ctx context.Context, callerID, id string) (*models.Session, error) {
	const op = "session.shuffle"
	return m.mutate(ctx, "shuffle", id, func(s *models.Session, fx *effects) error {
		if err := requireHost(op, s, callerID); err != nil {
			return err
		}
		if !s.IsTournament {
			return gameerr.InvalidState(op, "session %s is not a tournament", s.ID)
		}
		if s.Status != models.SessionPlaying {
			return gameerr.InvalidState(op, "session %s is %s", s.ID, s.Status)
		}
		def, err := m.definition(op, s)
		if err != nil {
			return err
		}
		if err := m.validatePlayerCount(op, s, def); err != nil {
			return err
		}
		roster := s.RosterOrder()
		m.repair(s, def, roster, maxRounds(s, def))
		if gs := s.GameData.GameState; gs != nil {
			gs.Players = roster
		}
		return nil
	})
}

// gameCompleted reports whether the session's game, or every tournament
// match, has completed.
func gameCompleted(s *models.Session) bool {
	if s.IsTournament {
		for _, gs := range s.GameData.Matches {
			if gs.Status != models.GameCompleted {
				return false
			}
		}
		return true
	}
	gs := s.GameData.GameState
	return gs != nil && gs.Status == models.GameCompleted
}

// FinishGame marks the session finished once its game is completed. It is a
// no-op otherwise.
func (m *Manager) FinishGame(ctx context.Context, callerID, id string) (*models.Session, error) {
	const op = "session.finish"
	return m.mutate(ctx, "finish", id, func(s *models.Session, fx *effects) error {
		if err := requireMember(op, s, callerID); err != nil {
			return err
		}
		if s.Status != models.SessionPlaying || !gameCompleted(s) {
			fx.noop = true
			return nil
		}
		if s.IsTournament && s.GameData.GameState != nil {
			s.GameData.GameState.Status = models.GameCompleted
		}
		s.Status = models.SessionFinished
		fx.finished = true
		return nil
	})
}

// DeleteSession removes the session. Creator only.
func (m *Manager) DeleteSession(ctx context.Context, callerID, id string) (err error) {
	const op = "session.delete"
	ctx, span := m.startSpan(ctx, "delete", id)
	defer func() { endSpan(span, err) }()

	s, err := m.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if s.CreatedBy != callerID {
		return gameerr.Permission(op, "only the creator can delete session %s", id)
	}
	if err := m.store.Delete(ctx, id); err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return gameerr.NotFound(op, "session %s not found", id)
		}
		return err
	}
	m.metrics.SessionDeleted()
	logger.Log.Infof("Session %s deleted by %s", id, callerID)
	return nil
}

// UpdateSessionMetadata renames the session. Creator only.
func (m *Manager) UpdateSessionMetadata(ctx context.Context, callerID, id string, md Metadata) (out *models.Session, err error) {
	const op = "session.update"
	ctx, span := m.startSpan(ctx, "update", id)
	defer func() { endSpan(span, err) }()

	name := strings.TrimSpace(md.Name)
	if name == "" {
		return nil, gameerr.Validation(op, "session name is required")
	}
	s, err := m.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.CreatedBy != callerID {
		return nil, gameerr.Permission(op, "only the creator can edit session %s", id)
	}
	out, err = m.store.Update(ctx, id, map[string]any{"name": name})
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, gameerr.NotFound(op, "session %s not found", id)
	}
	return out, err
}
