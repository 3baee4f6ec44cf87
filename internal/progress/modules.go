package progress

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed modules.yaml
var modulesYAML []byte

// DailyChallengeCount is how many modules are offered per day; completing
// all of them counts toward the streak.
const DailyChallengeCount = 3

// Module is one training exercise a daily challenge can point at.
type Module struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Tier        string `yaml:"tier" json:"tier"`
	Description string `yaml:"description" json:"description"`
}

var modules = mustLoadModules(modulesYAML)

func mustLoadModules(data []byte) []Module {
	var parsed struct {
		Modules []Module `yaml:"modules"`
	}
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		panic(fmt.Errorf("parse module catalog: %w", err))
	}
	return parsed.Modules
}

func Modules() []Module {
	return append([]Module(nil), modules...)
}

func ModuleByID(id string) (Module, bool) {
	for _, module := range modules {
		if module.ID == id {
			return module, true
		}
	}
	return Module{}, false
}

// DailyModules picks the day's challenge modules. The pick is a pure
// function of the day string so every device offers the same set.
func DailyModules(day Day) []Module {
	return pickModules(modules, day, DailyChallengeCount)
}

func pickModules(all []Module, day Day, count int) []Module {
	if count > len(all) {
		count = len(all)
	}
	next := seededRandom(daySeed(day))
	picked := make([]Module, 0, count)
	seen := make(map[int]struct{}, count)
	for len(picked) < count {
		idx := int(next() * float64(len(all)))
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		picked = append(picked, all[idx])
	}
	return picked
}

func daySeed(day Day) uint32 {
	var hash int32
	for i := 0; i < len(day); i++ {
		hash = (hash << 5) - hash + int32(day[i])
	}
	return uint32(hash)
}

// seededRandom is a mulberry32 generator returning values in [0, 1).
func seededRandom(seed uint32) func() float64 {
	state := seed
	return func() float64 {
		state += 0x6D2B79F5
		t := state
		t = (t ^ t>>15) * (t | 1)
		t ^= t + (t^t>>7)*(t|61)
		return float64(t^t>>14) / 4294967296
	}
}

// DailyProgress reports the day's challenge modules and which are done.
type DailyProgress struct {
	Day       Day      `json:"day"`
	Modules   []Module `json:"modules"`
	Completed []string `json:"completed"`
}

func (p DailyProgress) Done() bool {
	for _, module := range p.Modules {
		if !containsString(p.Completed, module.ID) {
			return false
		}
	}
	return len(p.Modules) > 0
}

// LevelForVVIQ maps a VVIQ questionnaire total onto a training level.
func LevelForVVIQ(score int) (int, error) {
	if score < minVVIQScore || score > maxVVIQScore {
		return 0, fmt.Errorf("%w: vviq score %d outside [%d,%d]", ErrInvalidInput, score, minVVIQScore, maxVVIQScore)
	}
	switch {
	case score >= 65:
		return 4, nil
	case score >= 49:
		return 3, nil
	case score >= 33:
		return 2, nil
	}
	return 1, nil
}
