package games

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// Game ids.
const (
	PrisonersDilemma = "prisoners_dilemma"
	StagHunt         = "stag_hunt"
	Chicken          = "chicken"
	MatchingPennies  = "matching_pennies"
	DictatorGame     = "dictator"
	Coordination     = "coordination"
	PublicGoods      = "public_goods"
)

// Registry holds all registered game types.
type Registry struct {
	mu    sync.RWMutex
	games map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{games: make(map[string]Definition)}
}

// NewDefaultRegistry registers every built-in game with the given constants.
// A nil config uses DefaultPayoffs.
func NewDefaultRegistry(cfg *PayoffConfig) *Registry {
	if cfg == nil {
		cfg = DefaultPayoffs()
	}
	r := NewRegistry()
	r.Register(NewMatrixGame(Info{
		ID:               PrisonersDilemma,
		Name:             "Prisoner's Dilemma",
		Description:      "Cooperate or defect. Mutual cooperation pays, but defecting on a cooperator pays more.",
		DefaultMaxRounds: cfg.maxRounds(PrisonersDilemma),
	}, "cooperate", "defect", cfg.PrisonersDilemma))
	r.Register(NewMatrixGame(Info{
		ID:               StagHunt,
		Name:             "Stag Hunt",
		Description:      "Hunt the stag together for the best payoff, or take the safe hare alone.",
		DefaultMaxRounds: cfg.maxRounds(StagHunt),
	}, "stag", "hare", cfg.StagHunt))
	r.Register(NewMatrixGame(Info{
		ID:               Chicken,
		Name:             "Chicken",
		Description:      "Swerve or go straight. If nobody swerves, both crash.",
		DefaultMaxRounds: cfg.maxRounds(Chicken),
	}, "swerve", "straight", cfg.Chicken))
	r.Register(NewPenniesGame(cfg.maxRounds(MatchingPennies), cfg.MatchingPennies))
	r.Register(NewDictatorGame(cfg.maxRounds(DictatorGame), cfg.Dictator))
	r.Register(NewCoordinationGame(cfg.maxRounds(Coordination), cfg.Coordination))
	r.Register(NewPublicGoodsGame(cfg.maxRounds(PublicGoods), cfg.PublicGoods))
	return r
}

// Register adds a game type. Panics on duplicate ids.
func (r *Registry) Register(d Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := d.Info().ID
	if _, exists := r.games[id]; exists {
		panic(fmt.Sprintf("game %q already registered", id))
	}
	r.games[id] = d
}

// Get returns a game by id.
func (r *Registry) Get(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.games[id]
	return d, ok
}

// List returns info for all registered games ordered by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.games))
	for _, d := range r.games {
		infos = append(infos, d.Info())
	}
	slices.SortFunc(infos, func(a, b Info) int { return cmp.Compare(a.ID, b.ID) })
	return infos
}
