package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/store"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(newProjectAddCmd())
	cmd.AddCommand(newProjectListCmd())
	cmd.AddCommand(newProjectArchiveCmd())
	cmd.AddCommand(newProjectRemoveCmd())
	return cmd
}

func newProjectArchiveCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Soft-delete a project (hidden from listings and routing, rows kept)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return errors.New("--id is required")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := st.ArchiveProject(cmd.Context(), id); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Archived project %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Project ID")
	return cmd
}

func newProjectAddCmd() *cobra.Command {
	var name string
	var epic string
	var feature string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a project (optionally with an initial --epic and --feature)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			p, err := st.CreateProject(cmd.Context(), name)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created project %q (%s)\n", p.Name, p.ProjectID)

			if epic != "" {
				e, err := st.CreateEpic(cmd.Context(), p.ProjectID, epic)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created epic %q (%s)\n", e.Name, e.EpicID)
				if feature != "" {
					f, err := st.CreateFeature(cmd.Context(), e.EpicID, feature)
					if err != nil {
						return err
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created feature %q (%s)\n", f.Name, f.FeatureID)
				}
			} else if feature != "" {
				return errors.New("--feature requires --epic")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Project name")
	cmd.Flags().StringVar(&epic, "epic", "", "Also create an epic with this name")
	cmd.Flags().StringVar(&feature, "feature", "", "Also create a feature under the epic")
	return cmd
}

func newProjectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			projects, err := st.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No projects")
				return nil
			}
			for _, p := range projects {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", p.ProjectID, p.Name)
			}
			return nil
		},
	}
	return cmd
}

func newProjectRemoveCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Delete a project and everything under it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return errors.New("--id is required")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := st.DeleteProject(cmd.Context(), id); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted project %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Project ID")
	return cmd
}
