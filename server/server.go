package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/wfunc/econgames/broadcast"
	"github.com/wfunc/econgames/logger"
	"github.com/wfunc/econgames/monitor"
	econrpc "github.com/wfunc/econgames/rpc"
	"github.com/wfunc/econgames/services"
	"github.com/wfunc/econgames/session"
)

const requestTimeout = 10 * time.Second

// Options configures a GameServer. Sessions and Records are required.
type Options struct {
	Addr    string
	RPCAddr string
	// PublicURL is the base of join links in QR codes. Empty derives it from the request.
	PublicURL string
	Heartbeat time.Duration
	Sessions  *session.Manager
	Records   *services.RecordService
	Monitor   *monitor.Monitor
}

type GameServer struct {
	addr      string
	publicURL string
	heartbeat time.Duration
	upgrader  websocket.Upgrader
	sessions  *session.Manager
	records   *services.RecordService
	monitor   *monitor.Monitor
	conns     *Registry
	hub       *broadcast.Hub
	rpcServer *econrpc.Server
	http      *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewGameServer(opts Options) (*GameServer, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &GameServer{
		addr:      opts.Addr,
		publicURL: opts.PublicURL,
		heartbeat: opts.Heartbeat,
		sessions:  opts.Sessions,
		records:   opts.Records,
		monitor:   opts.Monitor,
		conns:     NewRegistry(),
		hub:       broadcast.NewHub(opts.Sessions),
		ctx:       ctx,
		cancel:    cancel,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}

	if opts.RPCAddr != "" {
		rpcServer, err := econrpc.NewServer(opts.RPCAddr, econrpc.NewSessionService(opts.Sessions, opts.Records))
		if err != nil {
			cancel()
			return nil, err
		}
		s.rpcServer = rpcServer
	}

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		IdleTimeout:       10 * time.Minute,
		ReadHeaderTimeout: requestTimeout,
	}
	return s, nil
}

// Handler returns the REST and websocket routes.
func (s *GameServer) Handler() http.Handler {
	mux := httprouter.New()
	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		logger.Log.Errorf("Panic serving %s %s: %v", r.Method, r.URL.Path, i)
		writeJSON(w, http.StatusInternalServerError, errorBody{Kind: "internal", Message: "internal server error"})
	}
	s.registerRoutes(mux)
	return mux
}

// Start serves until Shutdown.
func (s *GameServer) Start() error {
	if s.rpcServer != nil {
		go s.rpcServer.Start()
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	logger.Log.Infof("Game server listening on %s", ln.Addr())
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes websocket clients and waits for
// their handlers to return.
func (s *GameServer) Shutdown(ctx context.Context) error {
	s.cancel()
	if s.rpcServer != nil {
		s.rpcServer.Stop()
	}
	err := s.http.Shutdown(ctx)
	s.conns.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// Connections returns the number of connected websocket clients.
func (s *GameServer) Connections() int {
	return s.conns.Count()
}
