package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"taskrails/internal/adapter/store"
	"taskrails/internal/domain"
	"taskrails/internal/infra/config"
)

func openStore(cfgPath string) (*store.SQLiteTaskStore, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return store.NewSQLiteTaskStore(cfg.ResolvePath(cfg.Store.Path))
}

func newTaskCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage the task board directly in the workspace database",
	}
	cmd.AddCommand(newTaskAddCmd(flags), newTaskListCmd(flags))
	return cmd
}

func newTaskAddCmd(flags *rootFlags) *cobra.Command {
	var t domain.Task
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task in todo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(flags.configPath)
			if err != nil {
				return err
			}
			defer s.Close()

			t.Title = args[0]
			if err := s.CreateTask(cmd.Context(), &t); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&t.ID, "id", "", "task id (generated when empty)")
	cmd.Flags().StringVarP(&t.Description, "description", "d", "", "task description")
	cmd.Flags().StringVar(&t.Phase, "phase", "", "phase label")
	cmd.Flags().StringVar(&t.Priority, "priority", "", "priority label")
	return cmd
}

func newTaskListCmd(flags *rootFlags) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, optionally filtered by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openStore(flags.configPath)
			if err != nil {
				return err
			}
			defer s.Close()

			tasks, err := s.ListTasks(cmd.Context(), domain.TaskStatus(status))
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tTITLE")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.Status, t.Title)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "todo, doing or done")
	return cmd
}
