package progress

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrInvalidBackup  = errors.New("invalid backup")
	ErrNotImplemented = errors.New("not implemented")
)

// StorageKey names the single local blob holding the progress state.
const StorageKey = "monocle-storage"

const (
	dayLayout             = "2006-01-02"
	defaultSkillValue     = 10
	maxSkillValue         = 100
	diagnosticPromptEvery = 1000
	minVVIQScore          = 16
	maxVVIQScore          = 80
)

type Skill string

const (
	SkillVisual    Skill = "visual"
	SkillAuditory  Skill = "auditory"
	SkillSomatic   Skill = "somatic"
	SkillCognitive Skill = "cognitive"
	SkillFocus     Skill = "focus"
)

// Skills lists the closed set of neural profile tags in display order.
func Skills() []Skill {
	return []Skill{SkillVisual, SkillAuditory, SkillSomatic, SkillCognitive, SkillFocus}
}

func ParseSkill(raw string) (Skill, error) {
	skill := Skill(raw)
	if !skill.Valid() {
		return "", fmt.Errorf("%w: unknown skill %q", ErrInvalidInput, raw)
	}
	return skill, nil
}

func (s Skill) Valid() bool {
	switch s {
	case SkillVisual, SkillAuditory, SkillSomatic, SkillCognitive, SkillFocus:
		return true
	}
	return false
}

type NeuralProfile struct {
	Visual    int `json:"visual" db:"visual" validate:"gte=0,lte=100"`
	Auditory  int `json:"auditory" db:"auditory" validate:"gte=0,lte=100"`
	Somatic   int `json:"somatic" db:"somatic" validate:"gte=0,lte=100"`
	Cognitive int `json:"cognitive" db:"cognitive" validate:"gte=0,lte=100"`
	Focus     int `json:"focus" db:"focus" validate:"gte=0,lte=100"`
}

func DefaultNeuralProfile() NeuralProfile {
	return NeuralProfile{
		Visual:    defaultSkillValue,
		Auditory:  defaultSkillValue,
		Somatic:   defaultSkillValue,
		Cognitive: defaultSkillValue,
		Focus:     defaultSkillValue,
	}
}

func (p NeuralProfile) Get(skill Skill) int {
	switch skill {
	case SkillVisual:
		return p.Visual
	case SkillAuditory:
		return p.Auditory
	case SkillSomatic:
		return p.Somatic
	case SkillCognitive:
		return p.Cognitive
	case SkillFocus:
		return p.Focus
	}
	return 0
}

func (p *NeuralProfile) set(skill Skill, value int) {
	value = clampSkill(value)
	switch skill {
	case SkillVisual:
		p.Visual = value
	case SkillAuditory:
		p.Auditory = value
	case SkillSomatic:
		p.Somatic = value
	case SkillCognitive:
		p.Cognitive = value
	case SkillFocus:
		p.Focus = value
	}
}

// Map returns the profile keyed by skill tag.
func (p NeuralProfile) Map() map[Skill]int {
	out := make(map[Skill]int, 5)
	for _, skill := range Skills() {
		out[skill] = p.Get(skill)
	}
	return out
}

func clampSkill(value int) int {
	if value < 0 {
		return 0
	}
	if value > maxSkillValue {
		return maxSkillValue
	}
	return value
}

// Day is a local calendar date in YYYY-MM-DD form. The zero value means
// "never" and is encoded as JSON null.
type Day string

func DayOf(t time.Time) Day {
	return Day(t.Format(dayLayout))
}

func ParseDay(raw string) (Day, error) {
	if raw == "" {
		return "", nil
	}
	if _, err := time.Parse(dayLayout, raw); err != nil {
		return "", fmt.Errorf("%w: day %q", ErrInvalidInput, raw)
	}
	return Day(raw), nil
}

func (d Day) IsZero() bool {
	return d == ""
}

func (d Day) String() string {
	return string(d)
}

func (d Day) MarshalJSON() ([]byte, error) {
	if d == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(d))
}

func (d *Day) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*d = ""
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = Day(raw)
	return nil
}

// State is the gamification aggregate for one user.
type State struct {
	Level                  int           `json:"level"`
	XP                     int           `json:"xp"`
	DailyStreak            int           `json:"dailyStreak"`
	LastPracticeDate       Day           `json:"lastPracticeDate"`
	LastChallengeResetDate Day           `json:"lastChallengeResetDate"`
	NeuralProfile          NeuralProfile `json:"neuralProfile"`
	UnlockedAchievements   []string      `json:"unlockedAchievements"`
	TotalSessions          int           `json:"totalSessions"`
	ActivityHistory        map[Day]int   `json:"activityHistory"`
	CompletedChallenges    []string      `json:"completedChallenges"`
	LastDiagnosticXP       int           `json:"lastDiagnosticXP"`
	ShowDiagnosticPrompt   bool          `json:"showDiagnosticPrompt"`
	VviqScore              *int          `json:"vviqScore"`
}

func DefaultState() State {
	return State{
		Level:                1,
		NeuralProfile:        DefaultNeuralProfile(),
		UnlockedAchievements: []string{},
		ActivityHistory:      map[Day]int{},
		CompletedChallenges:  []string{},
	}
}

func (s State) Clone() State {
	out := s
	out.UnlockedAchievements = append([]string{}, s.UnlockedAchievements...)
	out.CompletedChallenges = append([]string{}, s.CompletedChallenges...)
	out.ActivityHistory = make(map[Day]int, len(s.ActivityHistory))
	for day, count := range s.ActivityHistory {
		out.ActivityHistory[day] = count
	}
	if s.VviqScore != nil {
		score := *s.VviqScore
		out.VviqScore = &score
	}
	return out
}

func (s State) HasAchievement(id string) bool {
	return containsString(s.UnlockedAchievements, id)
}

func (s State) HasCompletedChallenge(id string) bool {
	return containsString(s.CompletedChallenges, id)
}

// normalize repairs a decoded state so the aggregate invariants hold.
func (s State) normalize() State {
	if s.Level < 1 {
		s.Level = 1
	}
	if s.XP < 0 {
		s.XP = 0
	}
	if s.DailyStreak < 0 {
		s.DailyStreak = 0
	}
	if s.TotalSessions < 0 {
		s.TotalSessions = 0
	}
	for _, skill := range Skills() {
		s.NeuralProfile.set(skill, s.NeuralProfile.Get(skill))
	}
	if s.VviqScore != nil && (*s.VviqScore < minVVIQScore || *s.VviqScore > maxVVIQScore) {
		s.VviqScore = nil
	}
	s.UnlockedAchievements = uniqueStrings(s.UnlockedAchievements)
	s.CompletedChallenges = uniqueStrings(s.CompletedChallenges)
	if s.ActivityHistory == nil {
		s.ActivityHistory = map[Day]int{}
	}
	return s
}

// SyncSnapshot is the whitelisted field set mirrored to the remote record.
type SyncSnapshot struct {
	Level                  *int           `json:"level,omitempty" validate:"omitempty,gte=1"`
	XP                     *int           `json:"xp,omitempty" validate:"omitempty,gte=0"`
	DailyStreak            *int           `json:"dailyStreak,omitempty" validate:"omitempty,gte=0"`
	LastPracticeDate       *Day           `json:"lastPracticeDate,omitempty" validate:"omitempty,day"`
	LastChallengeResetDate *Day           `json:"lastChallengeResetDate,omitempty" validate:"omitempty,day"`
	NeuralProfile          *NeuralProfile `json:"neuralProfile,omitempty"`
	UnlockedAchievements   []string       `json:"unlockedAchievements,omitempty" validate:"omitempty,dive,required,max=64"`
	ActivityHistory        map[Day]int    `json:"activityHistory,omitempty" validate:"omitempty,dive,keys,day,endkeys,gte=0"`
}

func (s State) SyncSnapshot(includeActivity bool) SyncSnapshot {
	level := s.Level
	xp := s.XP
	streak := s.DailyStreak
	practice := s.LastPracticeDate
	reset := s.LastChallengeResetDate
	profile := s.NeuralProfile
	snapshot := SyncSnapshot{
		Level:                  &level,
		XP:                     &xp,
		DailyStreak:            &streak,
		LastPracticeDate:       &practice,
		LastChallengeResetDate: &reset,
		NeuralProfile:          &profile,
		UnlockedAchievements:   append([]string{}, s.UnlockedAchievements...),
	}
	if includeActivity {
		snapshot.ActivityHistory = make(map[Day]int, len(s.ActivityHistory))
		for day, count := range s.ActivityHistory {
			snapshot.ActivityHistory[day] = count
		}
	}
	return snapshot
}

// PersistedState is the envelope stored under StorageKey.
type PersistedState struct {
	State   State `json:"state"`
	Version int   `json:"version"`
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func uniqueStrings(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
