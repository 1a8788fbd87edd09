package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/wfunc/econgames/gameerr"
	"github.com/wfunc/econgames/logger"
	"github.com/wfunc/econgames/models"
	"github.com/wfunc/econgames/session"
)

const (
	headerPlayerID   = "X-Player-ID"
	headerPlayerName = "X-Player-Name"
	qrSize           = 320
	maxBodyBytes     = 64 << 10
)

var errNoIdentity = gameerr.Validation("identity", "missing %s header", headerPlayerID)

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (s *GameServer) registerRoutes(mux *httprouter.Router) {
	mux.GET("/healthz", s.serveHealthCheck)
	mux.GET("/api/games", s.listGames)

	mux.GET("/api/sessions", s.listSessions)
	mux.POST("/api/sessions", s.createSession)
	mux.GET("/api/sessions/:id", s.getSession)
	mux.PATCH("/api/sessions/:id", s.updateSession)
	mux.DELETE("/api/sessions/:id", s.deleteSession)

	mux.POST("/api/sessions/:id/join", s.joinSession)
	mux.POST("/api/sessions/:id/leave", s.mutation(s.sessions.LeaveSession))
	mux.POST("/api/sessions/:id/start", s.mutation(s.sessions.StartGame))
	mux.POST("/api/sessions/:id/reset", s.resetGame)
	mux.POST("/api/sessions/:id/shuffle", s.mutation(s.sessions.ShuffleMatches))
	mux.POST("/api/sessions/:id/finish", s.mutation(s.sessions.FinishGame))
	mux.POST("/api/sessions/:id/decisions", s.submitDecision)
	mux.GET("/api/sessions/:id/leaderboard", s.leaderboard)
	mux.GET("/api/sessions/:id/qr", s.qrHandler)

	mux.GET("/api/players/:id/stats", s.playerStats)

	mux.GET("/ws", s.handleWebSocket)

	if s.monitor != nil {
		mux.Handler(http.MethodGet, "/metrics", s.monitor.Handler())
	}
}

// identity reads the caller from headers, falling back to query parameters.
func identity(r *http.Request) (session.Caller, error) {
	id := strings.TrimSpace(r.Header.Get(headerPlayerID))
	name := strings.TrimSpace(r.Header.Get(headerPlayerName))
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("player"))
	}
	if name == "" {
		name = strings.TrimSpace(r.URL.Query().Get("name"))
	}
	if id == "" {
		return session.Caller{}, errNoIdentity
	}
	return session.Caller{ID: id, DisplayName: name}, nil
}

func statusFor(err error) int {
	switch gameerr.KindOf(err) {
	case gameerr.KindValidation, gameerr.KindInvalidRole:
		return http.StatusBadRequest
	case gameerr.KindInvalidState:
		return http.StatusConflict
	case gameerr.KindNotFound:
		return http.StatusNotFound
	case gameerr.KindPermission:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func kindName(err error) string {
	if k := gameerr.KindOf(err); k != gameerr.KindUnknown {
		return k.String()
	}
	return "internal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Debugf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := gameerr.Message(err)
	if status == http.StatusInternalServerError {
		logger.Log.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
		msg = "internal server error"
	}
	writeJSON(w, status, errorBody{Kind: kindName(err), Message: msg})
}

func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return gameerr.Validation("decode", "invalid request body: %v", err)
	}
	return nil
}

func (s *GameServer) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}

func (s *GameServer) serveHealthCheck(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "connections": s.conns.Count()})
}

func (s *GameServer) listGames(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.sessions.Games().List())
}

func (s *GameServer) listSessions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	list, err := s.sessions.ListSessions(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := list[:0]
		for _, sess := range list {
			if string(sess.Status) == status {
				filtered = append(filtered, sess)
			}
		}
		list = filtered
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *GameServer) createSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	caller, err := identity(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req session.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	sess, err := s.sessions.CreateSession(ctx, caller, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *GameServer) getSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	sess, err := s.sessions.GetSession(ctx, ps.ByName("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *GameServer) updateSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	caller, err := identity(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var md session.Metadata
	if err := decodeBody(r, &md); err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	sess, err := s.sessions.UpdateSessionMetadata(ctx, caller.ID, ps.ByName("id"), md)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *GameServer) deleteSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	caller, err := identity(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	if err := s.sessions.DeleteSession(ctx, caller.ID, ps.ByName("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *GameServer) joinSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	caller, err := identity(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	sess, err := s.sessions.JoinSession(ctx, caller, ps.ByName("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// mutation adapts a (ctx, callerID, sessionID) manager operation.
func (s *GameServer) mutation(op func(ctx context.Context, callerID, id string) (*models.Session, error)) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		caller, err := identity(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx, cancel := s.requestContext(r)
		defer cancel()
		sess, err := op(ctx, caller.ID, ps.ByName("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func (s *GameServer) resetGame(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	caller, err := identity(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var opts session.ResetOptions
	if err := decodeBody(r, &opts); err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	sess, err := s.sessions.ResetGame(ctx, caller.ID, ps.ByName("id"), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *GameServer) submitDecision(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	caller, err := identity(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req session.DecisionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	sess, err := s.sessions.SubmitDecision(ctx, caller.ID, ps.ByName("id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *GameServer) leaderboard(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	board, err := s.sessions.Leaderboard(ctx, ps.ByName("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (s *GameServer) playerStats(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	stats, err := s.records.PlayerStats(ctx, ps.ByName("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// joinURL is the link encoded in a session's QR code.
func (s *GameServer) joinURL(r *http.Request, sessionID string) string {
	base := strings.TrimSuffix(s.publicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + "/join/" + url.PathEscape(sessionID)
}

// qrHandler renders a PNG QR code of the session's join link.
func (s *GameServer) qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	id := ps.ByName("id")
	if _, err := s.sessions.GetSession(ctx, id); err != nil {
		writeError(w, r, err)
		return
	}
	png, err := qrcode.Encode(s.joinURL(r, id), qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}
