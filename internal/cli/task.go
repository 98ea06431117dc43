package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/store"
	"github.com/taskhive/taskhive/pkg/models"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(newTaskAddCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskShowCmd())
	cmd.AddCommand(newTaskRequeueCmd())
	return cmd
}

func newTaskAddCmd() *cobra.Command {
	var (
		featureID  string
		title      string
		role       string
		difficulty string
		complexity string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task on a feature",
		RunE: func(cmd *cobra.Command, args []string) error {
			if featureID == "" || title == "" {
				return errors.New("--feature and --title are required")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			task, err := st.CreateTask(cmd.Context(), store.TaskParams{
				FeatureID:  featureID,
				Title:      title,
				TargetRole: role,
				Difficulty: difficulty,
				Complexity: complexity,
				CreatedBy:  "cli",
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created task %d %q (%s/%s)\n", task.TaskID, task.Title, task.TargetRole, task.Difficulty)
			return nil
		},
	}
	cmd.Flags().StringVar(&featureID, "feature", "", "Feature ID")
	cmd.Flags().StringVar(&title, "title", "", "Task title")
	cmd.Flags().StringVar(&role, "role", models.RoleBackendDev, "Target role")
	cmd.Flags().StringVar(&difficulty, "difficulty", models.LevelJunior, "Difficulty: junior, senior, or principal")
	cmd.Flags().StringVar(&complexity, "complexity", models.ComplexityMinor, "Complexity: minor or major")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var projectID string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks (newest first)",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			tasks, err := st.ListTasks(cmd.Context(), projectID, limit)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No tasks")
				return nil
			}
			for _, t := range tasks {
				lock := "-"
				if t.LockedBy != nil {
					lock = *t.LockedBy
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%-6d %-20s %-12s %-10s %-10s %s\n",
					t.TaskID, t.Status, t.TargetRole, t.Difficulty, lock, t.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "Limit to a project ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max tasks to show")
	return cmd
}

func newTaskShowCmd() *cobra.Command {
	var taskID int64
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a task and its changelog",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID <= 0 {
				return errors.New("--id must be a positive task ID")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			task, err := st.GetTask(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Task %d: %s\n", task.TaskID, task.Title)
			_, _ = fmt.Fprintf(out, "  status:     %s\n", task.Status)
			_, _ = fmt.Fprintf(out, "  role:       %s (%s, %s)\n", task.TargetRole, task.Difficulty, task.Complexity)
			if task.LockedBy != nil {
				_, _ = fmt.Fprintf(out, "  locked by:  %s since %s\n", *task.LockedBy, task.LockedAt.Format("2006-01-02 15:04:05"))
			}
			if task.BranchName != "" {
				_, _ = fmt.Fprintf(out, "  branch:     %s\n", task.BranchName)
			}

			log, err := st.ListChangelog(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, "History:")
			for _, e := range log {
				from := e.OldStatus
				if from == "" {
					from = "(new)"
				}
				_, _ = fmt.Fprintf(out, "  %s  %s -> %s  by %s", e.ChangedAt.Format("2006-01-02 15:04:05"), from, e.NewStatus, e.ChangedBy)
				if e.Notes != "" {
					_, _ = fmt.Fprintf(out, "  (%s)", e.Notes)
				}
				_, _ = fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	return cmd
}

func newTaskRequeueCmd() *cobra.Command {
	var taskID int64
	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "Force a task back into the routing queue (clears the lock)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID <= 0 {
				return errors.New("--id must be a positive task ID")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			task, err := st.GetTask(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			if task.Status == models.StatusUnderWork {
				if _, err := st.Transition(cmd.Context(), store.TransitionParams{
					TaskID:    taskID,
					OldStatus: models.StatusUnderWork,
					NewStatus: models.StatusCreated,
					ChangedBy: "cli",
					Notes:     "requeued by operator",
					ClearLock: true,
				}); err != nil {
					return err
				}
			} else if err := st.ClearLock(cmd.Context(), taskID); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Requeued task %d\n", taskID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	return cmd
}
