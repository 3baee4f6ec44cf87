package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/agentworkforce/monocle/internal/progress"
)

const (
	sqliteDriver   = "sqlite"
	postgresDriver = "postgres"

	usersTable        = "monocle_users"
	profilesTable     = "monocle_neural_profiles"
	achievementsTable = "monocle_achievement_unlocks"
	activityTable     = "monocle_activity_log"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ` + usersTable + ` (
		user_id TEXT PRIMARY KEY,
		level INTEGER NOT NULL DEFAULT 1,
		xp INTEGER NOT NULL DEFAULT 0,
		daily_streak INTEGER NOT NULL DEFAULT 0,
		last_practice_date TEXT,
		last_challenge_reset_date TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ` + profilesTable + ` (
		user_id TEXT PRIMARY KEY REFERENCES ` + usersTable + `(user_id) ON DELETE CASCADE,
		visual INTEGER NOT NULL,
		auditory INTEGER NOT NULL,
		somatic INTEGER NOT NULL,
		cognitive INTEGER NOT NULL,
		focus INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ` + achievementsTable + ` (
		user_id TEXT NOT NULL REFERENCES ` + usersTable + `(user_id) ON DELETE CASCADE,
		achievement_id TEXT NOT NULL,
		unlocked_at TEXT NOT NULL,
		PRIMARY KEY (user_id, achievement_id)
	)`,
	`CREATE TABLE IF NOT EXISTS ` + activityTable + ` (
		user_id TEXT NOT NULL REFERENCES ` + usersTable + `(user_id) ON DELETE CASCADE,
		day TEXT NOT NULL,
		count INTEGER NOT NULL,
		PRIMARY KEY (user_id, day)
	)`,
}

type userRow struct {
	UserID                 string         `db:"user_id"`
	Level                  int            `db:"level"`
	XP                     int            `db:"xp"`
	DailyStreak            int            `db:"daily_streak"`
	LastPracticeDate       sql.NullString `db:"last_practice_date"`
	LastChallengeResetDate sql.NullString `db:"last_challenge_reset_date"`
	UpdatedAt              string         `db:"updated_at"`
}

type activityRow struct {
	Day   string `db:"day"`
	Count int    `db:"count"`
}

// SQLRepository stores user records across four tables: the user scalars,
// the neural profile, achievement unlock facts and the daily activity log.
type SQLRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

func OpenSQLRepository(ctx context.Context, driver, dsn string) (*SQLRepository, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == sqliteDriver {
		db.SetMaxOpenConns(1)
	}
	repo := &SQLRepository{db: db, now: time.Now}
	if err := repo.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *SQLRepository) migrate(ctx context.Context) error {
	if r.db.DriverName() == sqliteDriver {
		if _, err := r.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			return err
		}
	}
	for _, statement := range schemaStatements {
		if _, err := r.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) GetUser(ctx context.Context, userID string) (UserRecord, error) {
	if err := validateUserID(userID); err != nil {
		return UserRecord{}, err
	}
	var row userRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT user_id, level, xp, daily_streak, last_practice_date, last_challenge_reset_date, updated_at
		FROM `+usersTable+` WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return UserRecord{}, ErrNotFound
	}
	if err != nil {
		return UserRecord{}, err
	}
	record := UserRecord{
		UserID:                 row.UserID,
		Level:                  row.Level,
		XP:                     row.XP,
		DailyStreak:            row.DailyStreak,
		LastPracticeDate:       progress.Day(row.LastPracticeDate.String),
		LastChallengeResetDate: progress.Day(row.LastChallengeResetDate.String),
		UnlockedAchievements:   []string{},
		UpdatedAt:              row.UpdatedAt,
	}

	var profile progress.NeuralProfile
	err = r.db.GetContext(ctx, &profile, r.db.Rebind(`
		SELECT visual, auditory, somatic, cognitive, focus
		FROM `+profilesTable+` WHERE user_id = ?`), userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return UserRecord{}, err
	default:
		record.NeuralProfile = &profile
	}

	if err := r.db.SelectContext(ctx, &record.UnlockedAchievements, r.db.Rebind(`
		SELECT achievement_id FROM `+achievementsTable+`
		WHERE user_id = ? ORDER BY unlocked_at, achievement_id`), userID); err != nil {
		return UserRecord{}, err
	}

	var activity []activityRow
	if err := r.db.SelectContext(ctx, &activity, r.db.Rebind(`
		SELECT day, count FROM `+activityTable+` WHERE user_id = ?`), userID); err != nil {
		return UserRecord{}, err
	}
	if len(activity) > 0 {
		record.ActivityHistory = make(map[progress.Day]int, len(activity))
		for _, entry := range activity {
			record.ActivityHistory[progress.Day(entry.Day)] = entry.Count
			record.TotalSessions += entry.Count
		}
	}
	return record, nil
}

func (r *SQLRepository) SyncUser(ctx context.Context, userID string, snapshot progress.SyncSnapshot) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	now := r.now().UTC().Format(time.RFC3339Nano)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO `+usersTable+` (user_id, created_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING`), userID, now, now); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE `+usersTable+` SET
			level = COALESCE(?, level),
			xp = COALESCE(?, xp),
			daily_streak = COALESCE(?, daily_streak),
			last_practice_date = COALESCE(?, last_practice_date),
			last_challenge_reset_date = COALESCE(?, last_challenge_reset_date),
			updated_at = ?
		WHERE user_id = ?`),
		nullableInt(snapshot.Level),
		nullableInt(snapshot.XP),
		nullableInt(snapshot.DailyStreak),
		nullableDay(snapshot.LastPracticeDate),
		nullableDay(snapshot.LastChallengeResetDate),
		now,
		userID,
	); err != nil {
		return fmt.Errorf("update user: %w", err)
	}

	if profile := snapshot.NeuralProfile; profile != nil {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO `+profilesTable+` (user_id, visual, auditory, somatic, cognitive, focus, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET
				visual = excluded.visual,
				auditory = excluded.auditory,
				somatic = excluded.somatic,
				cognitive = excluded.cognitive,
				focus = excluded.focus,
				updated_at = excluded.updated_at`),
			userID, profile.Visual, profile.Auditory, profile.Somatic, profile.Cognitive, profile.Focus, now,
		); err != nil {
			return fmt.Errorf("upsert neural profile: %w", err)
		}
	}

	insertUnlock := tx.Rebind(`
		INSERT INTO ` + achievementsTable + ` (user_id, achievement_id, unlocked_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, achievement_id) DO NOTHING`)
	for _, id := range snapshot.UnlockedAchievements {
		if id == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, insertUnlock, userID, id, now); err != nil {
			return fmt.Errorf("insert achievement %s: %w", id, err)
		}
	}

	upsertActivity := tx.Rebind(`
		INSERT INTO ` + activityTable + ` (user_id, day, count)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, day) DO UPDATE SET
			count = CASE WHEN excluded.count > ` + activityTable + `.count THEN excluded.count ELSE ` + activityTable + `.count END`)
	for day, count := range snapshot.ActivityHistory {
		if day.IsZero() || count <= 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, upsertActivity, userID, string(day), count); err != nil {
			return fmt.Errorf("upsert activity %s: %w", day, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return int64(*value)
}

func nullableDay(value *progress.Day) any {
	if value == nil || value.IsZero() {
		return nil
	}
	return string(*value)
}
