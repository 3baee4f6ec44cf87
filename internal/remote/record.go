package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/agentworkforce/monocle/internal/progress"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// UserRecord is the server-held copy of a user's progress.
type UserRecord struct {
	UserID                 string                  `json:"userId"`
	Level                  int                     `json:"level"`
	XP                     int                     `json:"xp"`
	DailyStreak            int                     `json:"dailyStreak"`
	LastPracticeDate       progress.Day            `json:"lastPracticeDate"`
	LastChallengeResetDate progress.Day            `json:"lastChallengeResetDate"`
	NeuralProfile          *progress.NeuralProfile `json:"neuralProfile,omitempty"`
	UnlockedAchievements   []string                `json:"unlockedAchievements"`
	TotalSessions          int                     `json:"totalSessions"`
	ActivityHistory        map[progress.Day]int    `json:"activityHistory,omitempty"`
	UpdatedAt              string                  `json:"updatedAt,omitempty"`
}

// Hydration maps the record onto the partial state merged into a local
// store. Nested rows are flattened; a missing profile row stays absent.
func (r UserRecord) Hydration() progress.Hydration {
	level := r.Level
	xp := r.XP
	streak := r.DailyStreak
	h := progress.Hydration{
		Level:                &level,
		XP:                   &xp,
		DailyStreak:          &streak,
		UnlockedAchievements: append([]string(nil), r.UnlockedAchievements...),
	}
	if !r.LastPracticeDate.IsZero() {
		practice := r.LastPracticeDate
		h.LastPracticeDate = &practice
	}
	if !r.LastChallengeResetDate.IsZero() {
		reset := r.LastChallengeResetDate
		h.LastChallengeResetDate = &reset
	}
	if r.NeuralProfile != nil {
		h.NeuralProfile = r.NeuralProfile.Map()
	}
	if len(r.ActivityHistory) > 0 {
		sessions := r.TotalSessions
		h.TotalSessions = &sessions
		h.ActivityHistory = make(map[progress.Day]int, len(r.ActivityHistory))
		for day, count := range r.ActivityHistory {
			h.ActivityHistory[day] = count
		}
	}
	return h
}

// Repository persists user records. SyncUser must be idempotent: scalars
// and the profile are upserted and achievement unlocks are only inserted
// when missing.
type Repository interface {
	GetUser(ctx context.Context, userID string) (UserRecord, error)
	SyncUser(ctx context.Context, userID string, snapshot progress.SyncSnapshot) error
	Close() error
}

// OpenRepository builds a repository from a DSN: memory://, sqlite://path
// or postgres://.
func OpenRepository(ctx context.Context, dsn string) (Repository, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryRepository(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	switch scheme := strings.ToLower(parsed.Scheme); scheme {
	case "memory", "mem", "inmem":
		return NewMemoryRepository(), nil
	case "sqlite", "sqlite3", "file", "":
		path, pathErr := progress.DSNPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return OpenSQLRepository(ctx, sqliteDriver, path)
	case "postgres", "postgresql":
		return OpenSQLRepository(ctx, postgresDriver, dsn)
	default:
		return nil, fmt.Errorf("unsupported repository scheme: %s", scheme)
	}
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidInput)
	}
	return nil
}
