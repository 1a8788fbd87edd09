package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"time"

	"github.com/wfunc/econgames/games"
	"github.com/wfunc/econgames/logger"
	"github.com/wfunc/econgames/models"
	"github.com/wfunc/econgames/services"
	"github.com/wfunc/econgames/session"
)

const callTimeout = 5 * time.Second

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
	rpc      *rpc.Server
}

// NewServer listens on addr and serves svc as "SessionService".
func NewServer(addr string, svc *SessionService) (*Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName("SessionService", svc); err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  listener.Addr().String(),
		rpc:      srv,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.address }

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// SessionService exposes read-only session queries over net/rpc.
type SessionService struct {
	sessions *session.Manager
	records  *services.RecordService
}

func NewSessionService(m *session.Manager, rs *services.RecordService) *SessionService {
	return &SessionService{sessions: m, records: rs}
}

type SessionArgs struct {
	SessionID string
}

type SessionReply struct {
	Session *models.Session
}

type LeaderboardReply struct {
	Entries []*models.TournamentPlayerResult
}

type PlayerArgs struct {
	PlayerID string
}

type PlayerStatsReply struct {
	Stats *models.PlayerStats
}

type ListGamesReply struct {
	Games []games.Info
}

func (s *SessionService) GetSession(args *SessionArgs, reply *SessionReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	sess, err := s.sessions.GetSession(ctx, args.SessionID)
	if err != nil {
		return err
	}
	reply.Session = sess
	return nil
}

func (s *SessionService) Leaderboard(args *SessionArgs, reply *LeaderboardReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	board, err := s.sessions.Leaderboard(ctx, args.SessionID)
	if err != nil {
		return err
	}
	reply.Entries = board
	return nil
}

func (s *SessionService) PlayerStats(args *PlayerArgs, reply *PlayerStatsReply) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	stats, err := s.records.PlayerStats(ctx, args.PlayerID)
	if err != nil {
		return err
	}
	reply.Stats = stats
	return nil
}

// ListGames ignores its argument; gob cannot encode an empty struct.
func (s *SessionService) ListGames(_ *string, reply *ListGamesReply) error {
	reply.Games = s.sessions.Games().List()
	return nil
}
