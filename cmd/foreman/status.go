package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/foremanhq/foreman/internal/comms"
	"github.com/foremanhq/foreman/internal/improve"
	"github.com/foremanhq/foreman/internal/roster"
	"github.com/foremanhq/foreman/internal/state"
	"github.com/foremanhq/foreman/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine state",
	Long: `Display the current engine state from the state database.

Shows cycle progress, task counts by status, blocked work, the latest
self-evaluation, and recent team activity.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if _, err := os.Stat(state.DBPath(cfg.DataDir)); os.IsNotExist(err) {
		fmt.Println("No engine state. Run 'foreman run' to start.")
		return nil
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	engine, err := db.LoadEngineState()
	if err != nil {
		return fmt.Errorf("load engine state: %w", err)
	}
	tasks := state.NewTaskStore(db)
	stats, err := tasks.Stats()
	if err != nil {
		return fmt.Errorf("load task stats: %w", err)
	}

	r, err := roster.Load(cfg.RosterPath)
	if err != nil {
		return err
	}

	fmt.Printf("Engine: cycle %d", engine.CycleCount)
	if !engine.StartedAt.IsZero() {
		fmt.Printf(", started %s ago", formatDuration(time.Since(engine.StartedAt)))
	}
	fmt.Println()
	fmt.Printf("  Agents: %d active / %d total\n", len(r.Active()), r.Size())
	if engine.LastSelfEval != nil {
		fmt.Printf("  Last self-eval: %s ago\n", formatDuration(time.Since(*engine.LastSelfEval)))
	}

	fmt.Println()
	fmt.Printf("Tasks: %d total\n", stats.Total)
	fmt.Printf("  %s %d\n", color.GreenString("completed "), stats.Completed)
	fmt.Printf("  %s %d\n", color.CyanString("in review "), stats.InReview)
	fmt.Printf("  %s %d\n", color.BlueString("in progress"), stats.InProgress)
	fmt.Printf("  %s %d\n", color.WhiteString("pending   "), stats.Pending)
	fmt.Printf("  %s %d\n", color.YellowString("blocked   "), stats.Blocked)
	fmt.Printf("  %s %d\n", color.RedString("failed    "), stats.Failed)

	blocked, err := tasks.ListByStatus(models.TaskStatusBlocked)
	if err != nil {
		return err
	}
	if len(blocked) > 0 {
		fmt.Println()
		fmt.Println("Blocked work:")
		for _, t := range blocked {
			reason := t.BlockedReason
			if reason == "" && len(t.Blockers) > 0 {
				reason = t.Blockers[0]
			}
			fmt.Printf("  %s %s (%s): %s\n", color.YellowString("!"), t.Title, t.AssignedTo, reason)
		}
	}

	eval, err := improve.LatestEvaluation(db)
	if err != nil {
		return err
	}
	if eval != nil {
		fmt.Println()
		scoreStr := color.GreenString("%d/100", eval.Score)
		if eval.Score < 70 {
			scoreStr = color.RedString("%d/100", eval.Score)
		} else if eval.Score < 85 {
			scoreStr = color.YellowString("%d/100", eval.Score)
		}
		fmt.Printf("Latest evaluation: %s (%s ago)\n", scoreStr, formatDuration(time.Since(eval.Timestamp)))
	}

	bus := comms.NewBus(db)
	recent, err := bus.Recent(5)
	if err != nil {
		return err
	}
	if len(recent) > 0 {
		fmt.Println()
		fmt.Println("Recent activity:")
		for _, msg := range recent {
			fmt.Printf("  [%s] %s -> %s: %s\n",
				msg.Timestamp.Format("15:04"), msg.From, msg.To, msg.Subject)
		}
	}
	return nil
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
