package progress

import (
	"errors"
	"reflect"
	"testing"
)

func TestDailyModulesIsDeterministicAndDistinct(t *testing.T) {
	for _, day := range []Day{"2026-03-10", "2026-03-11", "2027-01-01"} {
		first := DailyModules(day)
		second := DailyModules(day)
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("%s: expected the same pick twice, got %v and %v", day, first, second)
		}
		if len(first) != DailyChallengeCount {
			t.Fatalf("%s: expected %d modules, got %d", day, DailyChallengeCount, len(first))
		}
		seen := map[string]bool{}
		for _, module := range first {
			if seen[module.ID] {
				t.Fatalf("%s: duplicate module %s", day, module.ID)
			}
			seen[module.ID] = true
			if _, ok := ModuleByID(module.ID); !ok {
				t.Fatalf("%s: picked unknown module %s", day, module.ID)
			}
		}
	}
}

func TestSeededRandomStaysInUnitInterval(t *testing.T) {
	next := seededRandom(daySeed("2026-03-10"))
	for i := 0; i < 1000; i++ {
		v := next()
		if v < 0 || v >= 1 {
			t.Fatalf("value %f outside [0,1)", v)
		}
	}
}

func TestModulesCatalog(t *testing.T) {
	if len(Modules()) != 16 {
		t.Fatalf("expected 16 modules, got %d", len(Modules()))
	}
	if module, ok := ModuleByID("rotation"); !ok || module.Title != "Mental Rotation" {
		t.Fatalf("unexpected rotation module: %+v", module)
	}
}

func TestLevelForVVIQBands(t *testing.T) {
	cases := map[int]int{16: 1, 32: 1, 33: 2, 48: 2, 49: 3, 64: 3, 65: 4, 80: 4}
	for score, want := range cases {
		got, err := LevelForVVIQ(score)
		if err != nil {
			t.Fatalf("score %d: unexpected error %v", score, err)
		}
		if got != want {
			t.Fatalf("score %d: expected level %d, got %d", score, want, got)
		}
	}
	for _, score := range []int{15, 81} {
		if _, err := LevelForVVIQ(score); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("score %d: expected invalid input, got %v", score, err)
		}
	}
}
