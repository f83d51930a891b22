package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/foremanhq/foreman/internal/envs"
	"github.com/foremanhq/foreman/internal/logging"
	"github.com/foremanhq/foreman/pkg/models"
)

var (
	deployApprover string
	rejectReason   string
	rollbackEnv    string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Manage deployments",
}

var deployListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending production deployments",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, closeDB, err := openEnvManager()
		if err != nil {
			return err
		}
		defer closeDB()

		pending, err := mgr.Pending()
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("No pending deployments.")
			return nil
		}
		for _, req := range pending {
			fmt.Printf("%s  %s %s by %s", req.ID, req.Component, req.Version, req.RequestedBy)
			if len(req.Blockers) > 0 {
				fmt.Printf("  %s", color.YellowString("%d gate(s) unmet", len(req.Blockers)))
			}
			fmt.Println()
			for _, blocker := range req.Blockers {
				fmt.Printf("    - %s\n", blocker)
			}
		}
		return nil
	},
}

var deployApproveCmd = &cobra.Command{
	Use:   "approve <deploy-id>",
	Short: "Approve a pending production deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, closeDB, err := openEnvManager()
		if err != nil {
			return err
		}
		defer closeDB()

		if err := mgr.Approve(args[0], deployApprover); err != nil {
			return err
		}
		fmt.Printf("%s deployment %s approved and executed\n", color.GreenString("✓"), args[0])
		return nil
	},
}

var deployRejectCmd = &cobra.Command{
	Use:   "reject <deploy-id>",
	Short: "Reject a pending production deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, closeDB, err := openEnvManager()
		if err != nil {
			return err
		}
		defer closeDB()

		if err := mgr.Reject(args[0], deployApprover, rejectReason); err != nil {
			return err
		}
		fmt.Printf("%s deployment %s rejected\n", color.RedString("✗"), args[0])
		return nil
	},
}

var deployRollbackCmd = &cobra.Command{
	Use:   "rollback <component>",
	Short: "Roll a component back to its previous version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env := models.Environment(rollbackEnv)
		switch env {
		case models.EnvTest, models.EnvStaging, models.EnvProduction:
		default:
			return fmt.Errorf("unknown environment %q", rollbackEnv)
		}

		mgr, closeDB, err := openEnvManager()
		if err != nil {
			return err
		}
		defer closeDB()

		version, err := mgr.Rollback(env, args[0], envs.HumanApprover)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s rolled back to %s in %s\n", color.GreenString("✓"), args[0], version, env)
		return nil
	},
}

func init() {
	deployApproveCmd.Flags().StringVar(&deployApprover, "by", envs.HumanApprover, "Approving agent id")
	deployRejectCmd.Flags().StringVar(&deployApprover, "by", envs.HumanApprover, "Rejecting agent id")
	deployRejectCmd.Flags().StringVar(&rejectReason, "reason", "", "Why the deployment is rejected")
	deployRollbackCmd.Flags().StringVar(&rollbackEnv, "env", string(models.EnvProduction), "Target environment")

	deployCmd.AddCommand(deployListCmd)
	deployCmd.AddCommand(deployApproveCmd)
	deployCmd.AddCommand(deployRejectCmd)
	deployCmd.AddCommand(deployRollbackCmd)
}

func openEnvManager() (*envs.Manager, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	mgr := envs.NewManager(db, logging.Nop(), cfg.Coordinator, cfg.Gates.MinCoverage)
	return mgr, func() { db.Close() }, nil
}
