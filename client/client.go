// Package client is the player-side facade over a session API: the local
// session manager or a Remote websocket connection.
package client

import (
	"context"
	"sync"

	"github.com/wfunc/econgames/gameerr"
	"github.com/wfunc/econgames/logger"
	"github.com/wfunc/econgames/models"
	"github.com/wfunc/econgames/session"
	"github.com/wfunc/econgames/tournament"
)

// Identity supplies the current user.
type Identity interface {
	CurrentUserID() string
	DisplayName() string
}

// StaticIdentity is a fixed Identity.
type StaticIdentity struct {
	ID   string
	Name string
}

func (i StaticIdentity) CurrentUserID() string { return i.ID }
func (i StaticIdentity) DisplayName() string   { return i.Name }

// API is the session surface a Client drives. *session.Manager and *Remote implement it.
type API interface {
	CreateSession(ctx context.Context, caller session.Caller, req session.CreateRequest) (*models.Session, error)
	JoinSession(ctx context.Context, caller session.Caller, id string) (*models.Session, error)
	LeaveSession(ctx context.Context, callerID, id string) (*models.Session, error)
	StartGame(ctx context.Context, callerID, id string) (*models.Session, error)
	ResetGame(ctx context.Context, callerID, id string, opts session.ResetOptions) (*models.Session, error)
	ShuffleMatches(ctx context.Context, callerID, id string) (*models.Session, error)
	FinishGame(ctx context.Context, callerID, id string) (*models.Session, error)
	SubmitDecision(ctx context.Context, callerID, id string, req session.DecisionRequest) (*models.Session, error)
	DeleteSession(ctx context.Context, callerID, id string) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	Leaderboard(ctx context.Context, id string) ([]*models.TournamentPlayerResult, error)
	Subscribe(ctx context.Context, id string) (<-chan *models.Session, error)
}

var (
	_ API = (*session.Manager)(nil)
	_ API = (*Remote)(nil)
)

var errNoSession = gameerr.New(gameerr.KindInvalidState, "client", "not in a session")

// Client tracks the caller's current session and notifies listeners when
// their game state changes.
type Client struct {
	api API
	id  Identity

	mu        sync.Mutex
	current   *models.Session
	following string
	stopWatch context.CancelFunc
	nextCB    int
	callbacks map[int]func(*models.GameState)
}

func New(api API, id Identity) *Client {
	return &Client{api: api, id: id, callbacks: make(map[int]func(*models.GameState))}
}

func (c *Client) caller() session.Caller {
	return session.Caller{ID: c.id.CurrentUserID(), DisplayName: c.id.DisplayName()}
}

func (c *Client) sessionID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return "", errNoSession
	}
	return c.current.ID, nil
}

// Session returns the last known version of the current session.
func (c *Client) Session() *models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// GetGameState returns the caller's game: the session game, or their
// tournament match. It is nil outside a session or without an active match.
func (c *Client) GetGameState() *models.GameState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gameStateLocked()
}

func (c *Client) gameStateLocked() *models.GameState {
	s := c.current
	if s == nil {
		return nil
	}
	if !s.IsTournament {
		return s.GameData.GameState
	}
	key, ok := tournament.MatchFor(s, c.id.CurrentUserID())
	if !ok {
		return nil
	}
	return s.GameData.Matches[key]
}

// OnGameStateChange registers cb for every update of the caller's game state.
// The returned function unregisters it.
func (c *Client) OnGameStateChange(cb func(*models.GameState)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextCB
	c.nextCB++
	c.callbacks[id] = cb
	return func() {
		c.mu.Lock()
		delete(c.callbacks, id)
		c.mu.Unlock()
	}
}

// apply stores s if it is newer than the cached version and notifies listeners.
func (c *Client) apply(s *models.Session) {
	c.mu.Lock()
	if s == nil || s.ID != c.following || (c.current != nil && c.current.Version >= s.Version) {
		c.mu.Unlock()
		return
	}
	c.current = s
	gs := c.gameStateLocked()
	cbs := make([]func(*models.GameState), 0, len(c.callbacks))
	for _, cb := range c.callbacks {
		cbs = append(cbs, cb)
	}
	c.mu.Unlock()
	for _, cb := range cbs {
		cb(gs)
	}
}

// enter makes s the current session and follows its change feed.
func (c *Client) enter(s *models.Session) error {
	c.mu.Lock()
	if c.stopWatch != nil {
		c.stopWatch()
	}
	c.current = nil
	c.following = s.ID
	ctx, cancel := context.WithCancel(context.Background())
	c.stopWatch = cancel
	c.mu.Unlock()

	c.apply(s)
	ch, err := c.api.Subscribe(ctx, s.ID)
	if err != nil {
		cancel()
		return err
	}
	go func() {
		for next := range ch {
			c.apply(next)
		}
		logger.Log.Debugf("Client %s stopped following session %s", c.id.CurrentUserID(), s.ID)
	}()
	return nil
}

func (c *Client) exit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopWatch != nil {
		c.stopWatch()
		c.stopWatch = nil
	}
	c.current = nil
	c.following = ""
}

func (c *Client) CreateSession(ctx context.Context, name, gameID string, isTournament bool) (*models.Session, error) {
	s, err := c.api.CreateSession(ctx, c.caller(), session.CreateRequest{Name: name, GameID: gameID, IsTournament: isTournament})
	if err != nil {
		return nil, err
	}
	return s, c.enter(s)
}

func (c *Client) JoinSession(ctx context.Context, id string) (*models.Session, error) {
	s, err := c.api.JoinSession(ctx, c.caller(), id)
	if err != nil {
		return nil, err
	}
	return s, c.enter(s)
}

func (c *Client) LeaveSession(ctx context.Context) error {
	id, err := c.sessionID()
	if err != nil {
		return err
	}
	if _, err := c.api.LeaveSession(ctx, c.id.CurrentUserID(), id); err != nil {
		return err
	}
	c.exit()
	return nil
}

func (c *Client) DeleteSession(ctx context.Context, id string) error {
	if err := c.api.DeleteSession(ctx, c.id.CurrentUserID(), id); err != nil {
		return err
	}
	if cur, _ := c.sessionID(); cur == id {
		c.exit()
	}
	return nil
}

// do runs op on the current session and applies the result.
func (c *Client) do(ctx context.Context, op func(ctx context.Context, callerID, id string) (*models.Session, error)) error {
	id, err := c.sessionID()
	if err != nil {
		return err
	}
	s, err := op(ctx, c.id.CurrentUserID(), id)
	if err != nil {
		return err
	}
	c.apply(s)
	return nil
}

func (c *Client) StartGame(ctx context.Context) error {
	return c.do(ctx, c.api.StartGame)
}

func (c *Client) ShuffleMatches(ctx context.Context) error {
	return c.do(ctx, c.api.ShuffleMatches)
}

func (c *Client) FinishGame(ctx context.Context) error {
	return c.do(ctx, c.api.FinishGame)
}

func (c *Client) ResetGame(ctx context.Context, clearResults bool) error {
	return c.do(ctx, func(ctx context.Context, callerID, id string) (*models.Session, error) {
		return c.api.ResetGame(ctx, callerID, id, session.ResetOptions{ClearTournamentResults: clearResults})
	})
}

// SubmitDecision submits choice for the round the client last saw, so a
// decision never lands in a round the player has not seen.
func (c *Client) SubmitDecision(ctx context.Context, choice models.Decision) error {
	round := 0
	if gs := c.GetGameState(); gs != nil {
		round = gs.Round
	}
	return c.do(ctx, func(ctx context.Context, callerID, id string) (*models.Session, error) {
		return c.api.SubmitDecision(ctx, callerID, id, session.DecisionRequest{Decision: choice, Round: round})
	})
}

func (c *Client) Leaderboard(ctx context.Context) ([]*models.TournamentPlayerResult, error) {
	id, err := c.sessionID()
	if err != nil {
		return nil, err
	}
	return c.api.Leaderboard(ctx, id)
}

// Close stops following the current session.
func (c *Client) Close() {
	c.exit()
}
