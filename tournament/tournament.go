// Package tournament pairs session players into 1:1 matches and aggregates
// their results into a leaderboard.
package tournament

import (
	"cmp"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/wfunc/econgames/games"
	"github.com/wfunc/econgames/models"
)

// Match outcomes.
const (
	Win  = "win"
	Loss = "loss"
	Draw = "draw"
)

// MatchKey identifies the match between a and b regardless of order.
func MatchKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// SplitKey returns the two player ids of a match key.
func SplitKey(key string) (string, string) {
	a, b, _ := strings.Cut(key, "|")
	return a, b
}

// PairPlayers randomly pairs ids. With an odd count exactly one player is
// mapped to models.MatchWaiting.
func PairPlayers(ids []string, rng *rand.Rand) map[string]string {
	shuffled := slices.Clone(ids)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	pairs := make(map[string]string, len(shuffled))
	for i := 0; i+1 < len(shuffled); i += 2 {
		a, b := shuffled[i], shuffled[i+1]
		pairs[a] = b
		pairs[b] = a
	}
	if len(shuffled)%2 == 1 {
		pairs[shuffled[len(shuffled)-1]] = models.MatchWaiting
	}
	return pairs
}

// BuildMatches creates one fresh in-progress state per pair.
func BuildMatches(def games.Definition, pairs map[string]string, maxRounds int) map[string]*models.GameState {
	matches := make(map[string]*models.GameState, len(pairs)/2)
	for a, b := range pairs {
		if b == models.MatchWaiting || b == "" {
			continue
		}
		key := MatchKey(a, b)
		if _, done := matches[key]; done {
			continue
		}
		lo, hi := SplitKey(key)
		matches[key] = def.NewState([]string{lo, hi}, maxRounds)
	}
	return matches
}

// MatchFor returns the key of playerID's current match.
func MatchFor(s *models.Session, playerID string) (string, bool) {
	opp, ok := s.PlayerMatches[playerID]
	if !ok || opp == "" || opp == models.MatchWaiting {
		return "", false
	}
	key := MatchKey(playerID, opp)
	if _, ok := s.GameData.Matches[key]; !ok {
		return "", false
	}
	return key, true
}

// Outcomes ranks final scores: the unique top scorer wins, tied top scorers draw
// and everyone else loses.
func Outcomes(scores map[string]float64) map[string]string {
	out := make(map[string]string, len(scores))
	if len(scores) == 0 {
		return out
	}
	top, leaders := 0.0, 0
	first := true
	for _, s := range scores {
		switch {
		case first || s > top:
			top, leaders, first = s, 1, false
		case s == top:
			leaders++
		}
	}
	for id, s := range scores {
		switch {
		case s < top:
			out[id] = Loss
		case leaders > 1:
			out[id] = Draw
		default:
			out[id] = Win
		}
	}
	return out
}

// RecordRound folds one evaluated match round into results, creating entries
// lazily. When match has completed, each participant gets MatchesPlayed and
// exactly one of win, loss or draw.
func RecordRound(results map[string]*models.TournamentPlayerResult, def games.Definition,
	match *models.GameState, round models.RoundResult, names map[string]string) map[string]*models.TournamentPlayerResult {
	if results == nil {
		results = make(map[string]*models.TournamentPlayerResult)
	}
	entry := func(id string) *models.TournamentPlayerResult {
		r, ok := results[id]
		if !ok {
			r = &models.TournamentPlayerResult{PlayerID: id}
			results[id] = r
		}
		if n := names[id]; n != "" {
			r.DisplayName = n
		}
		return r
	}

	for _, id := range match.Players {
		r := entry(id)
		r.TotalScore += round.Scores[id]
		switch def.Classify(round, id) {
		case games.Cooperative:
			r.CooperateCount++
		case games.Defecting:
			r.DefectCount++
		}
	}

	if match.Status == models.GameCompleted {
		for id, outcome := range Outcomes(match.Scores()) {
			r := entry(id)
			r.MatchesPlayed++
			switch outcome {
			case Win:
				r.Wins++
			case Loss:
				r.Losses++
			default:
				r.Draws++
			}
		}
	}
	return results
}

// Leaderboard orders results by TotalScore descending. Ties keep the order of
// order, with players missing from it appended by id.
func Leaderboard(results map[string]*models.TournamentPlayerResult, order []string) []*models.TournamentPlayerResult {
	board := make([]*models.TournamentPlayerResult, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, id := range order {
		if r, ok := results[id]; ok && !seen[id] {
			board = append(board, r)
			seen[id] = true
		}
	}
	var rest []string
	for id := range results {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	slices.Sort(rest)
	for _, id := range rest {
		board = append(board, results[id])
	}
	slices.SortStableFunc(board, func(a, b *models.TournamentPlayerResult) int {
		return cmp.Compare(b.TotalScore, a.TotalScore)
	})
	return board
}
