package progress

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed achievements.yaml
var achievementsYAML []byte

type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityLegendary Rarity = "legendary"
	RarityVoid      Rarity = "void"
)

type Stat string

const (
	StatLevel         Stat = "level"
	StatDailyStreak   Stat = "dailyStreak"
	StatXP            Stat = "xp"
	StatTotalSessions Stat = "totalSessions"
)

// Condition holds when the named stat is at least AtLeast.
type Condition struct {
	Stat    Stat `yaml:"stat" json:"stat"`
	AtLeast int  `yaml:"atLeast" json:"atLeast"`
}

func (c Condition) Satisfied(stats Stats) bool {
	return stats.value(c.Stat) >= c.AtLeast
}

type Achievement struct {
	ID          string    `yaml:"id" json:"id"`
	Title       string    `yaml:"title" json:"title"`
	Description string    `yaml:"description" json:"description"`
	Icon        string    `yaml:"icon" json:"icon"`
	Rarity      Rarity    `yaml:"rarity" json:"rarity"`
	XPReward    int       `yaml:"xpReward" json:"xpReward"`
	Condition   Condition `yaml:"condition" json:"condition"`
}

// Stats is the snapshot achievement conditions are evaluated against.
type Stats struct {
	Level         int
	DailyStreak   int
	XP            int
	TotalSessions int
}

func StatsOf(state State) Stats {
	return Stats{
		Level:         state.Level,
		DailyStreak:   state.DailyStreak,
		XP:            state.XP,
		TotalSessions: state.TotalSessions,
	}
}

func (s Stats) value(stat Stat) int {
	switch stat {
	case StatLevel:
		return s.Level
	case StatDailyStreak:
		return s.DailyStreak
	case StatXP:
		return s.XP
	case StatTotalSessions:
		return s.TotalSessions
	}
	return 0
}

type achievementCatalog struct {
	Version      int           `yaml:"version"`
	Achievements []Achievement `yaml:"achievements"`
}

var catalog = mustLoadCatalog(achievementsYAML)

func mustLoadCatalog(data []byte) []Achievement {
	achievements, err := parseCatalog(data)
	if err != nil {
		panic(err)
	}
	return achievements
}

func parseCatalog(data []byte) ([]Achievement, error) {
	var parsed achievementCatalog
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse achievement catalog: %w", err)
	}
	seen := map[string]struct{}{}
	for _, achievement := range parsed.Achievements {
		if achievement.ID == "" {
			return nil, fmt.Errorf("%w: achievement without id", ErrInvalidInput)
		}
		if _, ok := seen[achievement.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate achievement %s", ErrInvalidInput, achievement.ID)
		}
		seen[achievement.ID] = struct{}{}
		if achievement.XPReward < 0 {
			return nil, fmt.Errorf("%w: achievement %s has negative reward", ErrInvalidInput, achievement.ID)
		}
		switch achievement.Condition.Stat {
		case StatLevel, StatDailyStreak, StatXP, StatTotalSessions:
		default:
			return nil, fmt.Errorf("%w: achievement %s uses unknown stat %q", ErrInvalidInput, achievement.ID, achievement.Condition.Stat)
		}
	}
	return parsed.Achievements, nil
}

// Catalog returns a copy of the built-in achievement list.
func Catalog() []Achievement {
	return append([]Achievement(nil), catalog...)
}

func AchievementByID(id string) (Achievement, bool) {
	for _, achievement := range catalog {
		if achievement.ID == id {
			return achievement, true
		}
	}
	return Achievement{}, false
}

// Evaluate returns the achievements in catalog order whose condition holds
// for stats and whose id is not in unlocked. Every rule is checked.
func Evaluate(stats Stats, achievements []Achievement, unlocked []string) []Achievement {
	have := make(map[string]struct{}, len(unlocked))
	for _, id := range unlocked {
		have[id] = struct{}{}
	}
	var out []Achievement
	for _, achievement := range achievements {
		if _, ok := have[achievement.ID]; ok {
			continue
		}
		if achievement.Condition.Satisfied(stats) {
			out = append(out, achievement)
		}
	}
	return out
}
