package progress

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type StoreOptions struct {
	StateFile    string
	StateBackend StateBackend
	Now          func() time.Time
	Logger       *zap.Logger
}

// Change is delivered to subscribers after a mutation has been applied and
// persisted. Op names the operation that produced it.
type Change struct {
	Op   string
	Prev State
	Next State
}

// Store owns one user's progress state. All methods are safe for
// concurrent use; mutations are serialized and each one is written to the
// backend before it returns.
type Store struct {
	mu      sync.Mutex
	state   State
	backend StateBackend
	now     func() time.Time
	logger  *zap.Logger

	// notifyMu is taken before mu is released so changes reach
	// subscribers in mutation order.
	notifyMu    sync.Mutex
	subMu       sync.Mutex
	subscribers map[int]func(Change)
	nextSubID   int
}

// SessionResult describes one finished training session.
type SessionResult struct {
	XP     int
	Skills []Skill
}

// Hydration is a partial state fetched from the remote record. Nil fields
// are absent and leave local state untouched.
type Hydration struct {
	Level                  *int
	XP                     *int
	DailyStreak            *int
	LastPracticeDate       *Day
	LastChallengeResetDate *Day
	NeuralProfile          map[Skill]int
	UnlockedAchievements   []string
	TotalSessions          *int
	ActivityHistory        map[Day]int
}

func NewStore(opts StoreOptions) *Store {
	backend := opts.StateBackend
	if backend == nil && strings.TrimSpace(opts.StateFile) != "" {
		backend = NewJSONFileStateBackend(opts.StateFile)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		state:       DefaultState(),
		backend:     backend,
		now:         now,
		logger:      logger,
		subscribers: map[int]func(Change){},
	}
	if err := s.loadLocked(); err != nil {
		s.logger.Warn("progress state unreadable, starting from defaults", zap.Error(err))
		s.state = DefaultState()
	}
	return s
}

func (s *Store) loadLocked() error {
	if s.backend == nil {
		return nil
	}
	snapshot, err := s.backend.Load()
	if err != nil {
		return err
	}
	if snapshot == nil {
		return nil
	}
	s.state = snapshot.State.normalize()
	return nil
}

func (s *Store) saveLocked(op string) {
	if s.backend == nil {
		return
	}
	snapshot := PersistedState{State: s.state, Version: 0}
	if err := s.backend.Save(&snapshot); err != nil {
		s.logger.Error("persist progress state failed", zap.String("op", op), zap.Error(err))
	}
}

// Close releases the backend if it holds resources.
func (s *Store) Close() error {
	if closer, ok := s.backend.(stateBackendCloser); ok {
		return closer.Close()
	}
	return nil
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

func (s *Store) SyncSnapshot(includeActivity bool) SyncSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.SyncSnapshot(includeActivity)
}

func (s *Store) Today() Day {
	return DayOf(s.now())
}

// Subscribe registers fn for change events and returns a func that removes
// it. fn runs synchronously on the mutating goroutine and must not call
// mutating Store methods.
func (s *Store) Subscribe(fn func(Change)) func() {
	if fn == nil {
		return func() {}
	}
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.subMu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) emit(change Change) {
	s.subMu.Lock()
	subscribers := make([]func(Change), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subscribers = append(subscribers, fn)
	}
	s.subMu.Unlock()
	for _, fn := range subscribers {
		fn(change)
	}
}

// mutate applies fn to a working copy of the state. When fn succeeds and
// the state changed, the copy is installed, persisted and announced.
func (s *Store) mutate(op string, fn func(state *State) error) error {
	s.mu.Lock()
	prev := s.state
	next := s.state.Clone()
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return err
	}
	if reflect.DeepEqual(prev, next) {
		s.mu.Unlock()
		return nil
	}
	s.state = next
	s.saveLocked(op)
	change := Change{Op: op, Prev: prev, Next: next.Clone()}
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	s.emit(change)
	return nil
}

// AddXP adds a positive amount of experience.
func (s *Store) AddXP(amount int) error {
	if amount <= 0 {
		return fmt.Errorf("%w: xp amount must be positive, got %d", ErrInvalidInput, amount)
	}
	return s.mutate("addXP", func(state *State) error {
		addXP(state, amount)
		return nil
	})
}

func addXP(state *State, amount int) {
	state.XP += amount
	if !state.ShowDiagnosticPrompt && state.XP-state.LastDiagnosticXP >= diagnosticPromptEvery {
		state.ShowDiagnosticPrompt = true
	}
}

func (s *Store) SetLevel(level int) error {
	if level < 1 {
		return fmt.Errorf("%w: level must be at least 1, got %d", ErrInvalidInput, level)
	}
	return s.mutate("setLevel", func(state *State) error {
		state.Level = level
		return nil
	})
}

// SetVviqScore records a diagnostic result. A nil score clears the result
// without touching the recalibration countdown.
func (s *Store) SetVviqScore(score *int) error {
	if err := validateVVIQ(score); err != nil {
		return err
	}
	return s.mutate("setVviqScore", func(state *State) error {
		setVviqScore(state, score)
		return nil
	})
}

func validateVVIQ(score *int) error {
	if score != nil && (*score < minVVIQScore || *score > maxVVIQScore) {
		return fmt.Errorf("%w: vviq score %d outside [%d,%d]", ErrInvalidInput, *score, minVVIQScore, maxVVIQScore)
	}
	return nil
}

func setVviqScore(state *State, score *int) {
	if score == nil {
		state.VviqScore = nil
		return
	}
	value := *score
	state.VviqScore = &value
	state.LastDiagnosticXP = state.XP
	state.ShowDiagnosticPrompt = false
}

func (s *Store) UpdateNeuralProfile(skills []Skill, amount int) error {
	if err := validateSkills(skills); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: profile amount must be positive, got %d", ErrInvalidInput, amount)
	}
	return s.mutate("updateNeuralProfile", func(state *State) error {
		updateNeuralProfile(state, skills, amount)
		return nil
	})
}

func validateSkills(skills []Skill) error {
	if len(skills) == 0 {
		return fmt.Errorf("%w: no skills given", ErrInvalidInput)
	}
	for _, skill := range skills {
		if !skill.Valid() {
			return fmt.Errorf("%w: unknown skill %q", ErrInvalidInput, skill)
		}
	}
	return nil
}

func updateNeuralProfile(state *State, skills []Skill, amount int) {
	seen := make(map[Skill]struct{}, len(skills))
	for _, skill := range skills {
		if _, ok := seen[skill]; ok {
			continue
		}
		seen[skill] = struct{}{}
		state.NeuralProfile.set(skill, state.NeuralProfile.Get(skill)+amount)
	}
}

// SetNeuralProfile overwrites the given tags, clamping into [0,100].
func (s *Store) SetNeuralProfile(values map[Skill]int) error {
	for skill := range values {
		if !skill.Valid() {
			return fmt.Errorf("%w: unknown skill %q", ErrInvalidInput, skill)
		}
	}
	return s.mutate("setNeuralProfile", func(state *State) error {
		for skill, value := range values {
			state.NeuralProfile.set(skill, value)
		}
		return nil
	})
}

func (s *Store) IncrementSessionCount() {
	_ = s.mutate("incrementSessionCount", func(state *State) error {
		s.incrementSessionCount(state)
		return nil
	})
}

func (s *Store) incrementSessionCount(state *State) {
	state.TotalSessions++
	state.ActivityHistory = RecordActivity(state.ActivityHistory, s.Today())
}

// IncrementStreak counts today toward the streak at most once.
func (s *Store) IncrementStreak() {
	_ = s.mutate("incrementStreak", func(state *State) error {
		s.incrementStreak(state)
		return nil
	})
}

func (s *Store) incrementStreak(state *State) {
	today := s.Today()
	if state.LastPracticeDate == today {
		return
	}
	state.DailyStreak++
	state.LastPracticeDate = today
}

// CheckDailyReset clears the completed challenges on the first call of a
// new calendar day.
func (s *Store) CheckDailyReset() {
	_ = s.mutate("checkDailyReset", func(state *State) error {
		s.checkDailyReset(state)
		return nil
	})
}

func (s *Store) checkDailyReset(state *State) {
	today := s.Today()
	if state.LastChallengeResetDate == today {
		return
	}
	state.CompletedChallenges = []string{}
	state.LastChallengeResetDate = today
}

func (s *Store) CompleteChallenge(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: empty challenge id", ErrInvalidInput)
	}
	return s.mutate("completeChallenge", func(state *State) error {
		completeChallenge(state, id)
		return nil
	})
}

func completeChallenge(state *State, id string) bool {
	if state.HasCompletedChallenge(id) {
		return false
	}
	state.CompletedChallenges = append(state.CompletedChallenges, id)
	return true
}

// CheckAchievements unlocks every catalog entry whose condition now holds
// and awards its XP. Rewards can satisfy further entries, so evaluation
// repeats until nothing new unlocks. It returns the ids unlocked by this
// call.
func (s *Store) CheckAchievements() []string {
	var unlocked []string
	_ = s.mutate("checkAchievements", func(state *State) error {
		unlocked = checkAchievements(state)
		return nil
	})
	return unlocked
}

func checkAchievements(state *State) []string {
	var unlocked []string
	for {
		newly := Evaluate(StatsOf(*state), catalog, state.UnlockedAchievements)
		if len(newly) == 0 {
			return unlocked
		}
		for _, achievement := range newly {
			state.UnlockedAchievements = append(state.UnlockedAchievements, achievement.ID)
			unlocked = append(unlocked, achievement.ID)
			if achievement.XPReward > 0 {
				addXP(state, achievement.XPReward)
			}
		}
	}
}

func (s *Store) DismissDiagnosticPrompt() {
	_ = s.mutate("dismissDiagnosticPrompt", func(state *State) error {
		state.ShowDiagnosticPrompt = false
		return nil
	})
}

// Reset wipes all progress back to defaults.
func (s *Store) Reset() {
	_ = s.mutate("reset", func(state *State) error {
		*state = DefaultState()
		return nil
	})
}

// HydrateFromDb merges a remote record into local state. Scalars present in
// h overwrite local values, neural profile tags overwrite per tag,
// achievements are unioned and activity days keep the larger count. The
// session total never moves backwards.
func (s *Store) HydrateFromDb(h Hydration) {
	_ = s.mutate("hydrateFromDb", func(state *State) error {
		if h.Level != nil {
			state.Level = *h.Level
		}
		if h.XP != nil {
			state.XP = *h.XP
		}
		if h.DailyStreak != nil {
			state.DailyStreak = *h.DailyStreak
		}
		if h.LastPracticeDate != nil {
			state.LastPracticeDate = *h.LastPracticeDate
		}
		if h.LastChallengeResetDate != nil {
			state.LastChallengeResetDate = *h.LastChallengeResetDate
		}
		for skill, value := range h.NeuralProfile {
			if skill.Valid() {
				state.NeuralProfile.set(skill, value)
			}
		}
		for _, id := range h.UnlockedAchievements {
			if id != "" && !state.HasAchievement(id) {
				state.UnlockedAchievements = append(state.UnlockedAchievements, id)
			}
		}
		if h.TotalSessions != nil && *h.TotalSessions > state.TotalSessions {
			state.TotalSessions = *h.TotalSessions
		}
		state.ActivityHistory = MergeActivity(state.ActivityHistory, h.ActivityHistory)
		*state = state.normalize()
		return nil
	})
}

// RecordSession applies a finished session: XP, the session count, skill
// growth of max(1, round(xp/20)) per trained skill, then achievements.
func (s *Store) RecordSession(result SessionResult) ([]string, error) {
	if result.XP < 0 {
		return nil, fmt.Errorf("%w: session xp must not be negative, got %d", ErrInvalidInput, result.XP)
	}
	if len(result.Skills) > 0 {
		if err := validateSkills(result.Skills); err != nil {
			return nil, err
		}
	}
	var unlocked []string
	err := s.mutate("recordSession", func(state *State) error {
		if result.XP > 0 {
			addXP(state, result.XP)
		}
		s.incrementSessionCount(state)
		if len(result.Skills) > 0 {
			updateNeuralProfile(state, result.Skills, SkillPoints(result.XP))
		}
		unlocked = checkAchievements(state)
		return nil
	})
	return unlocked, err
}

// SkillPoints converts session XP into neural profile growth.
func SkillPoints(xp int) int {
	points := int(math.Round(float64(xp) / 20))
	if points < 1 {
		return 1
	}
	return points
}

// CompleteDailyChallenge marks one of today's challenge modules done. The
// first completion of a module counts as a session and finishing the whole
// set counts today toward the streak.
func (s *Store) CompleteDailyChallenge(moduleID string) (DailyProgress, []string, error) {
	today := s.Today()
	daily := DailyModules(today)
	if !moduleInList(daily, moduleID) {
		return DailyProgress{}, nil, fmt.Errorf("%w: %q is not one of today's challenges", ErrInvalidInput, moduleID)
	}
	var unlocked []string
	var result DailyProgress
	err := s.mutate("completeDailyChallenge", func(state *State) error {
		s.checkDailyReset(state)
		if completeChallenge(state, moduleID) {
			s.incrementSessionCount(state)
			if completedCount(daily, state.CompletedChallenges) == len(daily) {
				s.incrementStreak(state)
			}
		}
		unlocked = checkAchievements(state)
		result = dailyProgress(today, daily, state.CompletedChallenges)
		return nil
	})
	return result, unlocked, err
}

// DailyProgress reports today's challenges without mutating state.
func (s *Store) DailyProgress() DailyProgress {
	today := s.Today()
	daily := DailyModules(today)
	state := s.Snapshot()
	completed := state.CompletedChallenges
	if state.LastChallengeResetDate != today {
		completed = nil
	}
	return dailyProgress(today, daily, completed)
}

func dailyProgress(day Day, daily []Module, completed []string) DailyProgress {
	done := make([]string, 0, len(daily))
	for _, module := range daily {
		if containsString(completed, module.ID) {
			done = append(done, module.ID)
		}
	}
	return DailyProgress{Day: day, Modules: daily, Completed: done}
}

func moduleInList(list []Module, id string) bool {
	for _, module := range list {
		if module.ID == id {
			return true
		}
	}
	return false
}

func completedCount(daily []Module, completed []string) int {
	count := 0
	for _, module := range daily {
		if containsString(completed, module.ID) {
			count++
		}
	}
	return count
}

// CompleteDiagnostic records a VVIQ total and sets the level it maps to.
func (s *Store) CompleteDiagnostic(score int) ([]string, error) {
	level, err := LevelForVVIQ(score)
	if err != nil {
		return nil, err
	}
	var unlocked []string
	err = s.mutate("completeDiagnostic", func(state *State) error {
		setVviqScore(state, &score)
		state.Level = level
		unlocked = checkAchievements(state)
		return nil
	})
	return unlocked, err
}

// Reload replaces in-memory state with what the backend currently holds.
// The read and the install happen under the store lock so a mutation can
// never be overwritten by a blob read before it committed. A missing blob
// leaves state as is.
func (s *Store) Reload() error {
	if s.backend == nil {
		return nil
	}
	s.mu.Lock()
	prev := s.state
	if err := s.loadLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if reflect.DeepEqual(prev, s.state) {
		s.mu.Unlock()
		return nil
	}
	change := Change{Op: "reload", Prev: prev, Next: s.state.Clone()}
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	s.emit(change)
	return nil
}
