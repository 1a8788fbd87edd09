package network

import (
	"github.com/wfunc/econgames/games"
	"github.com/wfunc/econgames/models"
)

// Client to server.
const (
	MsgTypeHeartbeat      = 1
	MsgTypeCreateSession  = 101
	MsgTypeJoinSession    = 102
	MsgTypeLeaveSession   = 103
	MsgTypeStartGame      = 104
	MsgTypeResetGame      = 105
	MsgTypeShuffleMatches = 106
	MsgTypeFinishGame     = 107
	MsgTypeDeleteSession  = 108
	MsgTypeUpdateSession  = 109
	MsgTypeWatchSession   = 110
	MsgTypeGetSession     = 111
	MsgTypeLeaderboard    = 112
	MsgTypeListGames      = 113
	MsgTypeSubmitDecision = 201
)

// Server to client.
const (
	MsgTypeResult         = 300
	MsgTypeSessionState   = 301
	MsgTypeSessionDeleted = 302
	MsgTypeError          = 399
)

// Request is the body of every client message. Fields not used by the
// message type are ignored.
type Request struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id,omitempty"`

	Name         string `json:"name,omitempty"`
	GameID       string `json:"game_id,omitempty"`
	IsTournament bool   `json:"is_tournament,omitempty"`
	MaxRounds    int    `json:"max_rounds,omitempty"`

	Decision               models.Decision `json:"decision,omitempty"`
	Round                  int             `json:"round,omitempty"`
	ClearTournamentResults bool            `json:"clear_tournament_results,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Result answers the Request with the same RequestID.
type Result struct {
	RequestID   string                           `json:"request_id"`
	OK          bool                             `json:"ok"`
	Error       *ErrorBody                       `json:"error,omitempty"`
	Session     *models.Session                  `json:"session,omitempty"`
	Leaderboard []*models.TournamentPlayerResult `json:"leaderboard,omitempty"`
	Games       []games.Info                     `json:"games,omitempty"`
}

// SessionDeleted is pushed when a watched session disappears.
type SessionDeleted struct {
	SessionID string `json:"session_id"`
}
