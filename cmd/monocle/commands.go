package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/monocle/internal/progress"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show level, XP, streak, neural profile and today's challenges",
		Args:  cobra.NoArgs,
		RunE: withApp(false, func(cmd *cobra.Command, args []string, a *app) error {
			state := a.store.Snapshot()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(state)
			}
			printStatus(cmd.OutOrStdout(), state, a.store.DailyProgress())
			return nil
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw state as JSON")
	return cmd
}

func printStatus(out io.Writer, state progress.State, daily progress.DailyProgress) {
	fmt.Fprintf(out, "level %d  xp %d  streak %d  sessions %d\n", state.Level, state.XP, state.DailyStreak, state.TotalSessions)
	for _, skill := range progress.Skills() {
		fmt.Fprintf(out, "  %-10s %3d\n", skill, state.NeuralProfile.Get(skill))
	}
	fmt.Fprintf(out, "achievements %d/%d\n", len(state.UnlockedAchievements), len(progress.Catalog()))
	fmt.Fprintf(out, "today %s (%d/%d)\n", daily.Day, len(daily.Completed), len(daily.Modules))
	for _, module := range daily.Modules {
		mark := " "
		for _, id := range daily.Completed {
			if id == module.ID {
				mark = "x"
			}
		}
		fmt.Fprintf(out, "  [%s] %s  %s\n", mark, module.ID, module.Title)
	}
	if state.ShowDiagnosticPrompt {
		fmt.Fprintln(out, "a new VVIQ diagnostic is due: monocle diagnostic <score>")
	}
}

func newSessionCmd() *cobra.Command {
	var xp int
	var skills []string
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Record a finished training session",
		Args:  cobra.NoArgs,
		RunE: withApp(true, func(cmd *cobra.Command, args []string, a *app) error {
			parsed := make([]progress.Skill, 0, len(skills))
			for _, raw := range skills {
				skill, err := progress.ParseSkill(strings.TrimSpace(raw))
				if err != nil {
					return err
				}
				parsed = append(parsed, skill)
			}
			unlocked, err := a.store.RecordSession(progress.SessionResult{XP: xp, Skills: parsed})
			if err != nil {
				return err
			}
			state := a.store.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "+%d xp, now %d\n", xp, state.XP)
			printUnlocked(cmd.OutOrStdout(), unlocked)
			return nil
		}),
	}
	cmd.Flags().IntVar(&xp, "xp", 0, "XP earned in the session")
	cmd.Flags().StringSliceVar(&skills, "skills", nil, "skills trained (visual, auditory, somatic, cognitive, focus)")
	return cmd
}

func newChallengeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "challenge [module-id]",
		Short: "List today's challenges, or mark one complete",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(true, func(cmd *cobra.Command, args []string, a *app) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				daily := a.store.DailyProgress()
				for _, module := range daily.Modules {
					fmt.Fprintf(out, "%s  %s (%s)\n", module.ID, module.Title, module.Tier)
				}
				return nil
			}
			daily, unlocked, err := a.store.CompleteDailyChallenge(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d/%d challenges done for %s\n", len(daily.Completed), len(daily.Modules), daily.Day)
			if daily.Done() {
				fmt.Fprintf(out, "daily set complete, streak %d\n", a.store.Snapshot().DailyStreak)
			}
			printUnlocked(out, unlocked)
			return nil
		}),
	}
}

func newDiagnosticCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnostic <vviq-score>",
		Short: "Record a VVIQ diagnostic total (16-80) and recalibrate the level",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(true, func(cmd *cobra.Command, args []string, a *app) error {
			score, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("score must be a number: %w", err)
			}
			unlocked, err := a.store.CompleteDiagnostic(score)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "level set to %d\n", a.store.Snapshot().Level)
			printUnlocked(cmd.OutOrStdout(), unlocked)
			return nil
		}),
	}
}

func newLevelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "level <n>",
		Short: "Set the training level",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(true, func(cmd *cobra.Command, args []string, a *app) error {
			level, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("level must be a number: %w", err)
			}
			return a.store.SetLevel(level)
		}),
	}
}

func newAchievementsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "achievements",
		Short: "List the achievement catalog",
		Args:  cobra.NoArgs,
		RunE: withApp(false, func(cmd *cobra.Command, args []string, a *app) error {
			state := a.store.Snapshot()
			for _, achievement := range progress.Catalog() {
				mark := " "
				if state.HasAchievement(achievement.ID) {
					mark = "x"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %-18s %-9s +%d  %s\n", mark, achievement.ID, achievement.Rarity, achievement.XPReward, achievement.Description)
			}
			return nil
		}),
	}
}

func newExportCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a backup of the local progress blob",
		Args:  cobra.NoArgs,
		RunE: withApp(false, func(cmd *cobra.Command, args []string, a *app) error {
			data, err := a.store.Export()
			if err != nil {
				return err
			}
			if outPath == "-" {
				_, err := cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			if outPath == "" {
				outPath = progress.ExportFileName(time.Now())
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", outPath)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file, - for stdout (default monocle-backup-<date>.json)")
	return cmd
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <backup.json>",
		Short: "Replace local progress with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(true, func(cmd *cobra.Command, args []string, a *app) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := a.store.Import(data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s\n", args[0])
			return nil
		}),
	}
}

func newResetCmd() *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe all local progress",
		Args:  cobra.NoArgs,
		RunE: withApp(true, func(cmd *cobra.Command, args []string, a *app) error {
			if !confirmed {
				return fmt.Errorf("reset wipes all progress; pass --yes to confirm")
			}
			a.store.Reset()
			fmt.Fprintln(cmd.OutOrStdout(), "progress reset")
			return nil
		}),
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm the reset")
	return cmd
}

func printUnlocked(out io.Writer, ids []string) {
	for _, id := range ids {
		if achievement, ok := progress.AchievementByID(id); ok {
			fmt.Fprintf(out, "unlocked %s %s (+%d xp)\n", achievement.Icon, achievement.Title, achievement.XPReward)
		}
	}
}
