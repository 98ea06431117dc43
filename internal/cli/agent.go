package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/store"
	"github.com/taskhive/taskhive/pkg/models"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
	}
	cmd.AddCommand(newAgentRegisterCmd())
	cmd.AddCommand(newAgentListCmd())
	return cmd
}

func newAgentRegisterCmd() *cobra.Command {
	var (
		agentID   string
		projectID string
		role      string
		level     string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register (or re-register) an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if agentID == "" {
				return errors.New("--id is required")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			agent, err := st.RegisterAgent(cmd.Context(), store.AgentParams{
				AgentID:        agentID,
				ProjectID:      projectID,
				Role:           role,
				SkillLevel:     level,
				ConnectionType: "cli",
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Registered agent %q (%s, %s)\n", agent.AgentID, agent.Role, agent.SkillLevel)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "id", "", "Agent ID (also its @mention handle)")
	cmd.Flags().StringVar(&projectID, "project", "", "Project ID")
	cmd.Flags().StringVar(&role, "role", models.RoleBackendDev, "Role: backend_dev, frontend_dev, qa, docs, devops")
	cmd.Flags().StringVar(&level, "level", models.LevelJunior, "Skill level: junior, senior, or principal")
	return cmd
}

func newAgentListCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			agents, err := st.ListAgents(cmd.Context(), projectID)
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No agents")
				return nil
			}
			for _, a := range agents {
				task := "-"
				if a.CurrentTaskID != nil {
					task = fmt.Sprintf("%d", *a.CurrentTaskID)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-14s %-10s %-8s task=%s\n",
					a.AgentID, a.Role, a.SkillLevel, a.Status, task)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "Limit to a project ID")
	return cmd
}
