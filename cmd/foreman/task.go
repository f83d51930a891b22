package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/foremanhq/foreman/internal/comms"
	"github.com/foremanhq/foreman/internal/envs"
	"github.com/foremanhq/foreman/internal/state"
)

var (
	taskDecisionBy       string
	taskDecisionComments string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and decide tasks",
}

var taskApproveCmd = &cobra.Command{
	Use:   "approve <task-id>",
	Short: "Approve the review gating a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideTask(args[0], true)
	},
}

var taskRejectCmd = &cobra.Command{
	Use:   "reject <task-id>",
	Short: "Request changes on the review gating a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideTask(args[0], false)
	},
}

func init() {
	for _, c := range []*cobra.Command{taskApproveCmd, taskRejectCmd} {
		c.Flags().StringVar(&taskDecisionBy, "by", envs.HumanApprover, "Deciding reviewer id")
		c.Flags().StringVar(&taskDecisionComments, "comments", "", "Review comments")
	}
	taskCmd.AddCommand(taskApproveCmd)
	taskCmd.AddCommand(taskRejectCmd)
}

// decideTask resolves the code review gating a task, moving the task
// through the same transitions the scheduler uses.
func decideTask(taskID string, approve bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	tasks := state.NewTaskStore(db)
	reviews := comms.NewReviews(db, comms.NewBus(db), tasks)

	task, err := tasks.Get(taskID)
	if err != nil {
		return err
	}
	if task.ReviewID == "" {
		return fmt.Errorf("task %s has no review to decide", task.ID)
	}

	if approve {
		err = reviews.Approve(task.ReviewID, taskDecisionBy, taskDecisionComments)
	} else {
		err = reviews.RequestChanges(task.ReviewID, taskDecisionBy, taskDecisionComments)
	}
	if err != nil {
		return err
	}

	task, err = tasks.Get(taskID)
	if err != nil {
		return err
	}
	if approve {
		fmt.Printf("%s %s is now %s\n", color.GreenString("✓"), task.ID, task.Status)
	} else {
		fmt.Printf("%s %s returned to %s with feedback\n", color.YellowString("↺"), task.ID, task.Status)
	}
	return nil
}
