package games

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// MatrixPayoffs are the four payoffs of a symmetric 2x2 game, from the row player's view.
type MatrixPayoffs struct {
	BothCooperate float64 `yaml:"both_cooperate"`
	BothDefect    float64 `yaml:"both_defect"`
	Sucker        float64 `yaml:"sucker"`
	Temptation    float64 `yaml:"temptation"`
}

// PenniesPayoffs 猜硬币收益
type PenniesPayoffs struct {
	Win  float64 `yaml:"win"`
	Lose float64 `yaml:"lose"`
}

// DictatorPayoffs 独裁者博弈参数
type DictatorPayoffs struct {
	TotalAmount int `yaml:"total_amount"`
}

// CoordinationPayoffs 协调博弈收益
type CoordinationPayoffs struct {
	Majority     float64 `yaml:"majority"`
	Split        float64 `yaml:"split"`
	Minority     float64 `yaml:"minority"`
	OptionALabel string  `yaml:"option_a"`
	OptionBLabel string  `yaml:"option_b"`
	MaxPlayers   int     `yaml:"max_players"`
}

// PublicGoodsPayoffs 公共物品博弈参数
type PublicGoodsPayoffs struct {
	Endowment  float64 `yaml:"endowment"`
	Multiplier float64 `yaml:"multiplier"`
	MaxPlayers int     `yaml:"max_players"`
}

// PayoffConfig is the complete set of tunable game constants.
type PayoffConfig struct {
	PrisonersDilemma MatrixPayoffs       `yaml:"prisoners_dilemma"`
	StagHunt         MatrixPayoffs       `yaml:"stag_hunt"`
	Chicken          MatrixPayoffs       `yaml:"chicken"`
	MatchingPennies  PenniesPayoffs      `yaml:"matching_pennies"`
	Dictator         DictatorPayoffs     `yaml:"dictator"`
	Coordination     CoordinationPayoffs `yaml:"coordination"`
	PublicGoods      PublicGoodsPayoffs  `yaml:"public_goods"`

	// MaxRounds overrides the default round count per game id.
	MaxRounds map[string]int `yaml:"max_rounds"`
}

// DefaultPayoffs returns the compiled-in constants.
func DefaultPayoffs() *PayoffConfig {
	return &PayoffConfig{
		PrisonersDilemma: MatrixPayoffs{BothCooperate: 3, BothDefect: 1, Sucker: 0, Temptation: 5},
		StagHunt:         MatrixPayoffs{BothCooperate: 4, BothDefect: 2, Sucker: 0, Temptation: 3},
		Chicken:          MatrixPayoffs{BothCooperate: 3, BothDefect: 0, Sucker: 1, Temptation: 5},
		MatchingPennies:  PenniesPayoffs{Win: 1, Lose: -1},
		Dictator:         DictatorPayoffs{TotalAmount: 100},
		Coordination: CoordinationPayoffs{
			Majority: 3, Split: 2, Minority: 0,
			OptionALabel: "Option A", OptionBLabel: "Option B",
			MaxPlayers: 10,
		},
		PublicGoods: PublicGoodsPayoffs{Endowment: 10, Multiplier: 1.6, MaxPlayers: 10},
		MaxRounds: map[string]int{
			PrisonersDilemma: 5,
			StagHunt:         5,
			Chicken:          5,
			MatchingPennies:  5,
			DictatorGame:     4,
			Coordination:     5,
			PublicGoods:      5,
		},
	}
}

// LoadPayoffs reads a YAML payoff file over the defaults. Values may reference
// the environment as ${VAR} or ${VAR:default}.
func LoadPayoffs(path string) (*PayoffConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read payoff file: %w", err)
	}
	return ParsePayoffs(data)
}

// ParsePayoffs decodes YAML payoff data over the defaults.
func ParsePayoffs(data []byte) (*PayoffConfig, error) {
	cfg := DefaultPayoffs()
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse payoff file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid payoff file: %w", err)
	}
	return cfg, nil
}

// Validate checks the constants for values no game can be played with.
func (c *PayoffConfig) Validate() error {
	if c.Dictator.TotalAmount <= 0 {
		return fmt.Errorf("dictator total_amount must be positive, got %d", c.Dictator.TotalAmount)
	}
	co := c.Coordination
	if co.Majority < co.Split || co.Split < co.Minority {
		return fmt.Errorf("coordination payoffs must satisfy majority >= split >= minority, got %v/%v/%v",
			co.Majority, co.Split, co.Minority)
	}
	if co.MaxPlayers < 2 {
		return fmt.Errorf("coordination max_players must be at least 2, got %d", co.MaxPlayers)
	}
	if co.OptionALabel == "" || co.OptionBLabel == "" {
		return fmt.Errorf("coordination option labels must not be empty")
	}
	pg := c.PublicGoods
	if pg.Endowment <= 0 || pg.Multiplier <= 0 {
		return fmt.Errorf("public_goods endowment and multiplier must be positive")
	}
	if pg.MaxPlayers < 2 {
		return fmt.Errorf("public_goods max_players must be at least 2, got %d", pg.MaxPlayers)
	}
	for id, n := range c.MaxRounds {
		if n <= 0 {
			return fmt.Errorf("max_rounds for %s must be positive, got %d", id, n)
		}
	}
	return nil
}

func (c *PayoffConfig) maxRounds(id string) int {
	if n, ok := c.MaxRounds[id]; ok && n > 0 {
		return n
	}
	return 5
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}.
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		varName, defaultValue, _ := strings.Cut(key, ":")
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}
