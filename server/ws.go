package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/wfunc/econgames/gameerr"
	"github.com/wfunc/econgames/logger"
	"github.com/wfunc/econgames/models"
	"github.com/wfunc/econgames/network"
	"github.com/wfunc/econgames/session"
)

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	caller, err := identity(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	s.handleConnection(network.NewWSConnection(conn), caller)
}

func (s *GameServer) handleConnection(wsConn network.Connection, caller session.Caller) {
	c := NewConn(uuid.New().String(), wsConn, caller.ID, caller.DisplayName)
	s.conns.Add(c)
	if s.monitor != nil {
		s.monitor.IncOnlinePlayers()
	}
	if s.heartbeat > 0 {
		wsConn.SetHeartbeat(s.heartbeat)
	}

	logger.Log.Infof("New connection from %s, player %s, conn ID: %s", wsConn.RemoteAddr(), c.PlayerID, c.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, conn ID: %s", wsConn.RemoteAddr(), c.GetID())
		s.hub.DetachAll(c)
		s.conns.Remove(c.GetID())
		if s.monitor != nil {
			s.monitor.DecOnlinePlayers()
		}
		wsConn.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
			packet, err := wsConn.ReadPacket()
			if err != nil {
				return
			}
			c.Touch()
			s.handlePacket(c, packet)
		}
	}
}

func (s *GameServer) handlePacket(c *Conn, packet *network.Packet) {
	start := time.Now()
	if s.monitor != nil {
		s.monitor.IncMessagesReceived()
		defer func() { s.monitor.ObserveMessageLatency(time.Since(start)) }()
	}

	if packet.MsgID == network.MsgTypeHeartbeat {
		c.Send(network.MsgTypeHeartbeat, nil)
		return
	}

	var req network.Request
	if err := packet.Decode(&req); err != nil {
		c.Conn.SendJSON(network.MsgTypeError, network.ErrorBody{Kind: gameerr.KindValidation.String(), Message: "malformed request"})
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
	defer cancel()
	res, err := s.dispatch(ctx, c, packet.MsgID, &req)
	if err != nil {
		res = &network.Result{Error: &network.ErrorBody{Kind: kindName(err), Message: gameerr.Message(err)}}
		if gameerr.KindOf(err) == gameerr.KindUnknown {
			logger.Log.Errorf("Conn %s: message %d failed: %v", c.GetID(), packet.MsgID, err)
			res.Error.Message = "internal server error"
		}
	} else {
		res.OK = true
	}
	res.RequestID = req.RequestID
	if err := c.Conn.SendJSON(network.MsgTypeResult, res); err != nil {
		logger.Log.Debugf("Conn %s: failed to send result: %v", c.GetID(), err)
	}
}

func (s *GameServer) dispatch(ctx context.Context, c *Conn, msgID uint16, req *network.Request) (*network.Result, error) {
	caller := session.Caller{ID: c.PlayerID, DisplayName: c.DisplayName}
	var (
		sess *models.Session
		err  error
	)
	switch msgID {
	case network.MsgTypeCreateSession:
		sess, err = s.sessions.CreateSession(ctx, caller, session.CreateRequest{
			Name: req.Name, GameID: req.GameID, IsTournament: req.IsTournament, MaxRounds: req.MaxRounds,
		})
	case network.MsgTypeJoinSession:
		sess, err = s.sessions.JoinSession(ctx, caller, req.SessionID)
	case network.MsgTypeLeaveSession:
		sess, err = s.sessions.LeaveSession(ctx, caller.ID, req.SessionID)
		if err == nil {
			s.unwatch(c, req.SessionID)
			return &network.Result{Session: sess}, nil
		}
	case network.MsgTypeStartGame:
		sess, err = s.sessions.StartGame(ctx, caller.ID, req.SessionID)
	case network.MsgTypeResetGame:
		sess, err = s.sessions.ResetGame(ctx, caller.ID, req.SessionID, session.ResetOptions{ClearTournamentResults: req.ClearTournamentResults})
	case network.MsgTypeShuffleMatches:
		sess, err = s.sessions.ShuffleMatches(ctx, caller.ID, req.SessionID)
	case network.MsgTypeFinishGame:
		sess, err = s.sessions.FinishGame(ctx, caller.ID, req.SessionID)
	case network.MsgTypeSubmitDecision:
		sess, err = s.sessions.SubmitDecision(ctx, caller.ID, req.SessionID, session.DecisionRequest{Decision: req.Decision, Round: req.Round})
	case network.MsgTypeUpdateSession:
		sess, err = s.sessions.UpdateSessionMetadata(ctx, caller.ID, req.SessionID, session.Metadata{Name: req.Name})
	case network.MsgTypeDeleteSession:
		if err := s.sessions.DeleteSession(ctx, caller.ID, req.SessionID); err != nil {
			return nil, err
		}
		s.unwatch(c, req.SessionID)
		return &network.Result{}, nil
	case network.MsgTypeWatchSession, network.MsgTypeGetSession:
		sess, err = s.sessions.GetSession(ctx, req.SessionID)
	case network.MsgTypeLeaderboard:
		board, err := s.sessions.Leaderboard(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		return &network.Result{Leaderboard: board}, nil
	case network.MsgTypeListGames:
		return &network.Result{Games: s.sessions.Games().List()}, nil
	default:
		logger.Log.Infof("Unknown message type: %d", msgID)
		return nil, gameerr.Validation("dispatch", "unknown message type %d", msgID)
	}
	if err != nil {
		return nil, err
	}
	s.watch(c, sess.ID)
	return &network.Result{Session: sess}, nil
}

// watch attaches c to the session's change feed once.
func (s *GameServer) watch(c *Conn, sessionID string) {
	if !c.watch(sessionID) {
		return
	}
	if err := s.hub.Attach(sessionID, c); err != nil {
		c.unwatch(sessionID)
		logger.Log.Warnf("Conn %s: cannot watch session %s: %v", c.GetID(), sessionID, err)
	}
}

func (s *GameServer) unwatch(c *Conn, sessionID string) {
	if c.unwatch(sessionID) {
		s.hub.Detach(sessionID, c)
	}
}
