package remote

import (
	"context"
	"sync"
	"time"

	"github.com/agentworkforce/monocle/internal/progress"
)

type MemoryRepository struct {
	mu    sync.Mutex
	users map[string]*UserRecord
	now   func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users: map[string]*UserRecord{},
		now:   time.Now,
	}
}

func (r *MemoryRepository) GetUser(ctx context.Context, userID string) (UserRecord, error) {
	if err := validateUserID(userID); err != nil {
		return UserRecord{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.users[userID]
	if !ok {
		return UserRecord{}, ErrNotFound
	}
	return cloneRecord(*record), nil
}

func (r *MemoryRepository) SyncUser(ctx context.Context, userID string, snapshot progress.SyncSnapshot) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.users[userID]
	if !ok {
		record = &UserRecord{UserID: userID, Level: 1, UnlockedAchievements: []string{}}
		r.users[userID] = record
	}
	if snapshot.Level != nil {
		record.Level = *snapshot.Level
	}
	if snapshot.XP != nil {
		record.XP = *snapshot.XP
	}
	if snapshot.DailyStreak != nil {
		record.DailyStreak = *snapshot.DailyStreak
	}
	if snapshot.LastPracticeDate != nil && !snapshot.LastPracticeDate.IsZero() {
		record.LastPracticeDate = *snapshot.LastPracticeDate
	}
	if snapshot.LastChallengeResetDate != nil && !snapshot.LastChallengeResetDate.IsZero() {
		record.LastChallengeResetDate = *snapshot.LastChallengeResetDate
	}
	if snapshot.NeuralProfile != nil {
		profile := *snapshot.NeuralProfile
		record.NeuralProfile = &profile
	}
	for _, id := range snapshot.UnlockedAchievements {
		if !containsString(record.UnlockedAchievements, id) {
			record.UnlockedAchievements = append(record.UnlockedAchievements, id)
		}
	}
	if len(snapshot.ActivityHistory) > 0 {
		record.ActivityHistory = progress.MergeActivity(record.ActivityHistory, snapshot.ActivityHistory)
		record.TotalSessions = progress.TotalActivity(record.ActivityHistory)
	}
	record.UpdatedAt = r.now().UTC().Format(time.RFC3339Nano)
	return nil
}

func (r *MemoryRepository) Close() error {
	return nil
}

func cloneRecord(record UserRecord) UserRecord {
	out := record
	out.UnlockedAchievements = append([]string{}, record.UnlockedAchievements...)
	if record.NeuralProfile != nil {
		profile := *record.NeuralProfile
		out.NeuralProfile = &profile
	}
	if record.ActivityHistory != nil {
		out.ActivityHistory = make(map[progress.Day]int, len(record.ActivityHistory))
		for day, count := range record.ActivityHistory {
			out.ActivityHistory[day] = count
		}
	}
	return out
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
