// models/models.go
package models

import (
	"cmp"
	"slices"
	"time"
)

// SessionStatus 会话生命周期状态
type SessionStatus string

const (
	SessionWaiting  SessionStatus = "waiting"
	SessionPlaying  SessionStatus = "playing"
	SessionFinished SessionStatus = "finished"
)

// GameStatus 对局内部状态
type GameStatus string

const (
	GameSetup      GameStatus = "setup"
	GameInProgress GameStatus = "in_progress"
	GameCompleted  GameStatus = "completed"
)

// MatchWaiting marks a tournament player without an opponent.
const MatchWaiting = "waiting"

// Decision is the per-round action a player submits. Its vocabulary is game
// specific ("cooperate", "stag", "heads", an allocation amount, ...).
type Decision string

// Session is the shared document coordinating one group of players.
type Session struct {
	ID                string                             `json:"id"`
	Name              string                             `json:"name"`
	Status            SessionStatus                      `json:"status"`
	CreatedBy         string                             `json:"createdBy"`
	CreatedAt         time.Time                          `json:"createdAt"`
	UpdatedAt         time.Time                          `json:"updatedAt"`
	IsTournament      bool                               `json:"isTournament"`
	Players           map[string]*Player                 `json:"players"`
	GameData          GameData                           `json:"gameData"`
	TournamentResults map[string]*TournamentPlayerResult `json:"tournamentResults,omitempty"`
	PlayerMatches     map[string]string                  `json:"playerMatches,omitempty"`
	Version           int64                              `json:"version"`
}

// Player 会话成员
type Player struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	IsHost      bool      `json:"isHost"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// GameData holds the selected game and its round state. Tournament sessions
// keep one independent state per pair in Matches.
type GameData struct {
	GameID    string                `json:"gameId"`
	GameState *GameState            `json:"gameState"`
	Matches   map[string]*GameState `json:"matches,omitempty"`
}

// GameState is the per-game round state.
type GameState struct {
	Status     GameStatus                  `json:"status"`
	Round      int                         `json:"round"`
	MaxRounds  int                         `json:"maxRounds"`
	Players    []string                    `json:"players,omitempty"`
	PlayerData map[string]*PlayerRoundData `json:"playerData"`
	History    []RoundResult               `json:"history"`

	PlayerRoles map[string]string `json:"playerRoles,omitempty"`
	OptionA     string            `json:"optionA,omitempty"`
	OptionB     string            `json:"optionB,omitempty"`
	TotalAmount int               `json:"totalAmount,omitempty"`
	Endowment   float64           `json:"endowment,omitempty"`
}

// PlayerRoundData 玩家在当前回合的数据
type PlayerRoundData struct {
	TotalScore      float64  `json:"totalScore"`
	CurrentDecision Decision `json:"currentDecision,omitempty"`
	Ready           bool     `json:"ready"`
}

// RoundResult is appended exactly once per completed round and never modified.
type RoundResult struct {
	Round        int                 `json:"round"`
	Decisions    map[string]Decision `json:"decisions"`
	Scores       map[string]float64  `json:"scores"`
	Outcome      string              `json:"outcome,omitempty"`
	Roles        map[string]string   `json:"roles,omitempty"`
	Allocation   *int                `json:"allocation,omitempty"`
	ChoiceCounts map[string]int      `json:"choiceCounts,omitempty"`
}

// TournamentPlayerResult aggregates one player's tournament performance.
type TournamentPlayerResult struct {
	PlayerID       string  `json:"playerId"`
	DisplayName    string  `json:"displayName,omitempty"`
	TotalScore     float64 `json:"totalScore"`
	MatchesPlayed  int     `json:"matchesPlayed"`
	CooperateCount int     `json:"cooperateCount"`
	DefectCount    int     `json:"defectCount"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	Draws          int     `json:"draws"`
}

// GameRecord 已完成对局的归档记录
type GameRecord struct {
	SessionID   string             `json:"sessionId"`
	GameID      string             `json:"gameId"`
	Tournament  bool               `json:"tournament"`
	Players     []string           `json:"players"`
	Scores      map[string]float64 `json:"scores"`
	Outcomes    map[string]string  `json:"outcomes"` // win/loss/draw
	Rounds      int                `json:"rounds"`
	CompletedAt time.Time          `json:"completedAt"`
}

// PlayerStats 玩家统计信息
type PlayerStats struct {
	PlayerID   string  `json:"playerId"`
	TotalGames int     `json:"totalGames"`
	Wins       int     `json:"wins"`
	Losses     int     `json:"losses"`
	Draws      int     `json:"draws"`
	TotalScore float64 `json:"totalScore"`
}

// Host returns the current host, or nil for an empty roster.
func (s *Session) Host() *Player {
	for _, p := range s.Players {
		if p.IsHost {
			return p
		}
	}
	return nil
}

// IsMember reports whether playerID is on the roster.
func (s *Session) IsMember(playerID string) bool {
	_, ok := s.Players[playerID]
	return ok
}

// RosterOrder returns player ids ordered by join time, ties broken by id.
func (s *Session) RosterOrder() []string {
	ids := make([]string, 0, len(s.Players))
	for id := range s.Players {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		ja, jb := s.Players[a].JoinedAt, s.Players[b].JoinedAt
		if c := ja.Compare(jb); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return ids
}

// HasPlayer reports whether playerID participates in this game state.
func (g *GameState) HasPlayer(playerID string) bool {
	_, ok := g.PlayerData[playerID]
	return ok
}

// Scores returns each participant's running total.
func (g *GameState) Scores() map[string]float64 {
	out := make(map[string]float64, len(g.PlayerData))
	for id, pd := range g.PlayerData {
		out[id] = pd.TotalScore
	}
	return out
}
