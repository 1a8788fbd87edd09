package client

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/wfunc/econgames/gameerr"
	"github.com/wfunc/econgames/games"
	"github.com/wfunc/econgames/logger"
	"github.com/wfunc/econgames/models"
	"github.com/wfunc/econgames/network"
	"github.com/wfunc/econgames/session"
)

// ErrDisconnected is returned once the websocket connection is gone.
var ErrDisconnected = errors.New("disconnected from server")

type remoteSub struct {
	ch   chan *models.Session
	once sync.Once
}

func (s *remoteSub) close() {
	s.once.Do(func() { close(s.ch) })
}

// Remote speaks the websocket protocol to a game server. The identity is
// fixed when dialing; calls made for another player are rejected locally.
type Remote struct {
	conn     *network.WSConnection
	identity Identity
	seq      atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan *network.Result
	subs    map[string]map[*remoteSub]struct{}
	closed  chan struct{}
	err     error
}

// Dial connects to the server's /ws endpoint as id.
func Dial(ctx context.Context, rawURL string, id Identity) (*Remote, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("player", id.CurrentUserID())
	q.Set("name", id.DisplayName())
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	r := &Remote{
		conn:     network.NewWSConnection(ws),
		identity: id,
		pending:  make(map[string]chan *network.Result),
		subs:     make(map[string]map[*remoteSub]struct{}),
		closed:   make(chan struct{}),
	}
	go r.readLoop()
	return r, nil
}

func (r *Remote) readLoop() {
	for {
		p, err := r.conn.ReadPacket()
		if err != nil {
			r.fail(err)
			return
		}
		switch p.MsgID {
		case network.MsgTypeResult:
			var res network.Result
			if err := p.Decode(&res); err != nil {
				logger.Log.Warnf("Remote: bad result: %v", err)
				continue
			}
			r.mu.Lock()
			ch, ok := r.pending[res.RequestID]
			delete(r.pending, res.RequestID)
			r.mu.Unlock()
			if ok {
				ch <- &res
			}
		case network.MsgTypeSessionState:
			var s models.Session
			if err := p.Decode(&s); err != nil {
				logger.Log.Warnf("Remote: bad session state: %v", err)
				continue
			}
			r.publish(&s)
		case network.MsgTypeSessionDeleted:
			var d network.SessionDeleted
			if err := p.Decode(&d); err == nil {
				r.closeTopic(d.SessionID)
			}
		case network.MsgTypeHeartbeat:
		default:
			logger.Log.Debugf("Remote: ignoring message %d", p.MsgID)
		}
	}
}

func (r *Remote) publish(s *models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sub := range r.subs[s.ID] {
		select {
		case sub.ch <- s:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- s:
			default:
			}
		}
	}
}

func (r *Remote) closeTopic(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sub := range r.subs[id] {
		sub.close()
	}
	delete(r.subs, id)
}

func (r *Remote) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.closed:
		return
	default:
	}
	r.err = err
	close(r.closed)
	for id, set := range r.subs {
		for sub := range set {
			sub.close()
		}
		delete(r.subs, id)
	}
}

// Close disconnects from the server.
func (r *Remote) Close() error {
	err := r.conn.Close()
	r.fail(ErrDisconnected)
	return err
}

func (r *Remote) call(ctx context.Context, msgID uint16, req network.Request) (*network.Result, error) {
	req.RequestID = strconv.FormatUint(r.seq.Add(1), 10)
	ch := make(chan *network.Result, 1)
	r.mu.Lock()
	select {
	case <-r.closed:
		r.mu.Unlock()
		return nil, ErrDisconnected
	default:
	}
	r.pending[req.RequestID] = ch
	r.mu.Unlock()

	forget := func() {
		r.mu.Lock()
		delete(r.pending, req.RequestID)
		r.mu.Unlock()
	}
	if err := r.conn.SendJSON(msgID, req); err != nil {
		forget()
		return nil, err
	}
	select {
	case res := <-ch:
		if !res.OK {
			if res.Error == nil {
				return nil, gameerr.New(gameerr.KindUnknown, "remote", "request failed")
			}
			return nil, gameerr.New(gameerr.ParseKind(res.Error.Kind), "remote", res.Error.Message)
		}
		return res, nil
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	case <-r.closed:
		return nil, ErrDisconnected
	}
}

func (r *Remote) checkCaller(callerID string) error {
	if callerID != r.identity.CurrentUserID() {
		return gameerr.Permission("remote", "connection is authenticated as %s", r.identity.CurrentUserID())
	}
	return nil
}

func (r *Remote) sessionCall(ctx context.Context, callerID string, msgID uint16, req network.Request) (*models.Session, error) {
	if err := r.checkCaller(callerID); err != nil {
		return nil, err
	}
	res, err := r.call(ctx, msgID, req)
	if err != nil {
		return nil, err
	}
	return res.Session, nil
}

func (r *Remote) CreateSession(ctx context.Context, caller session.Caller, req session.CreateRequest) (*models.Session, error) {
	return r.sessionCall(ctx, caller.ID, network.MsgTypeCreateSession, network.Request{
		Name: req.Name, GameID: req.GameID, IsTournament: req.IsTournament, MaxRounds: req.MaxRounds,
	})
}

func (r *Remote) JoinSession(ctx context.Context, caller session.Caller, id string) (*models.Session, error) {
	return r.sessionCall(ctx, caller.ID, network.MsgTypeJoinSession, network.Request{SessionID: id})
}

func (r *Remote) LeaveSession(ctx context.Context, callerID, id string) (*models.Session, error) {
	return r.sessionCall(ctx, callerID, network.MsgTypeLeaveSession, network.Request{SessionID: id})
}

func (r *Remote) StartGame(ctx context.Context, callerID, id string) (*models.Session, error) {
	return r.sessionCall(ctx, callerID, network.MsgTypeStartGame, network.Request{SessionID: id})
}

func (r *Remote) ResetGame(ctx context.Context, callerID, id string, opts session.ResetOptions) (*models.Session, error) {
	return r.sessionCall(ctx, callerID, network.MsgTypeResetGame, network.Request{SessionID: id, ClearTournamentResults: opts.ClearTournamentResults})
}

func (r *Remote) ShuffleMatches(ctx context.Context, callerID, id string) (*models.Session, error) {
	return r.sessionCall(ctx, callerID, network.MsgTypeShuffleMatches, network.Request{SessionID: id})
}

func (r *Remote) FinishGame(ctx context.Context, callerID, id string) (*models.Session, error) {
	return r.sessionCall(ctx, callerID, network.MsgTypeFinishGame, network.Request{SessionID: id})
}

func (r *Remote) SubmitDecision(ctx context.Context, callerID, id string, req session.DecisionRequest) (*models.Session, error) {
	return r.sessionCall(ctx, callerID, network.MsgTypeSubmitDecision, network.Request{SessionID: id, Decision: req.Decision, Round: req.Round})
}

func (r *Remote) DeleteSession(ctx context.Context, callerID, id string) error {
	if err := r.checkCaller(callerID); err != nil {
		return err
	}
	_, err := r.call(ctx, network.MsgTypeDeleteSession, network.Request{SessionID: id})
	return err
}

func (r *Remote) GetSession(ctx context.Context, id string) (*models.Session, error) {
	res, err := r.call(ctx, network.MsgTypeGetSession, network.Request{SessionID: id})
	if err != nil {
		return nil, err
	}
	return res.Session, nil
}

func (r *Remote) Leaderboard(ctx context.Context, id string) ([]*models.TournamentPlayerResult, error) {
	res, err := r.call(ctx, network.MsgTypeLeaderboard, network.Request{SessionID: id})
	if err != nil {
		return nil, err
	}
	return res.Leaderboard, nil
}

func (r *Remote) ListGames(ctx context.Context) ([]games.Info, error) {
	res, err := r.call(ctx, network.MsgTypeListGames, network.Request{})
	if err != nil {
		return nil, err
	}
	return res.Games, nil
}

// Subscribe asks the server to push id's changes and streams them until ctx
// is done, the session is deleted or the connection drops.
func (r *Remote) Subscribe(ctx context.Context, id string) (<-chan *models.Session, error) {
	sub := &remoteSub{ch: make(chan *models.Session, 1)}
	r.mu.Lock()
	if r.subs[id] == nil {
		r.subs[id] = make(map[*remoteSub]struct{})
	}
	r.subs[id][sub] = struct{}{}
	r.mu.Unlock()

	if _, err := r.call(ctx, network.MsgTypeWatchSession, network.Request{SessionID: id}); err != nil {
		r.mu.Lock()
		delete(r.subs[id], sub)
		r.mu.Unlock()
		return nil, err
	}
	go func() {
		select {
		case <-ctx.Done():
		case <-r.closed:
		}
		r.mu.Lock()
		if set, ok := r.subs[id]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(r.subs, id)
			}
		}
		sub.close()
		r.mu.Unlock()
	}()
	return sub.ch, nil
}

func (r *Remote) UpdateSessionMetadata(ctx context.Context, callerID, id string, meta session.Metadata) (*models.Session, error) {
	return r.sessionCall(ctx, callerID, network.MsgTypeUpdateSession, network.Request{SessionID: id, Name: meta.Name})
}
