package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/da8ter/todosync/internal/model"
	"github.com/da8ter/todosync/internal/store"
)

var dueLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseDue(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	for _, layout := range dueLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("cannot parse due date %q, expected YYYY-MM-DD or YYYY-MM-DD HH:MM", s)
}

func parseItemID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid item id %q", arg)
	}
	return id, nil
}

func newAddCmd(open func() (*app, error)) *cobra.Command {
	var (
		info     string
		due      string
		priority string
		quantity int
		notify   bool
		lead     int
		recurs   string
		unit     string
		value    int
		reset    int
	)

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.close()

			dueTS, err := parseDue(due)
			if err != nil {
				return err
			}

			it, err := a.store.AddItem(cmd.Context(), store.NewItem{
				Title:                   args[0],
				Info:                    info,
				Due:                     dueTS,
				Priority:                priority,
				Quantity:                quantity,
				Notification:            notify,
				NotificationLeadTime:    lead,
				Recurrence:              recurs,
				RecurrenceCustomUnit:    unit,
				RecurrenceCustomValue:   value,
				RecurrenceResetLeadTime: reset,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added #%d %s\n", it.ID, it.Title)
			return nil
		},
	}

	cmd.Flags().StringVar(&info, "info", "", "additional notes")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD or YYYY-MM-DD HH:MM)")
	cmd.Flags().StringVar(&priority, "priority", "normal", "low, normal or high")
	cmd.Flags().IntVar(&quantity, "quantity", 1, "quantity")
	cmd.Flags().BoolVar(&notify, "notify", false, "enable the due notification")
	cmd.Flags().IntVar(&lead, "lead", -1, "notification lead time in seconds")
	cmd.Flags().StringVar(&recurs, "recur", "none", "recurrence: w1, w2, w3, m1, q1, y1 or custom")
	cmd.Flags().StringVar(&unit, "recur-unit", "w", "custom recurrence unit: h, d, w, m or y")
	cmd.Flags().IntVar(&value, "recur-every", 1, "custom recurrence interval")
	cmd.Flags().IntVar(&reset, "reopen", 0, "reopen window in seconds, -1 for immediately")
	return cmd
}

func newListCmd(open func() (*app, error)) *cobra.Command {
	var showDone bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.close()

			items, err := a.store.Items(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\t \tTITLE\tDUE\tPRIORITY\tRECURS")
			for _, it := range items {
				if it.Done && !showDone {
					continue
				}
				mark := " "
				if it.Done {
					mark = "x"
				}
				due := ""
				if it.Due > 0 {
					due = time.Unix(it.Due, 0).Format("2006-01-02 15:04")
				}
				recurs := ""
				if it.Recurrence != model.RecurNone {
					recurs = string(it.Recurrence)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					it.ID, mark, it.Title, due, it.Priority, recurs)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			stats, err := a.store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d open, %d overdue, %d due today\n",
				stats.Open, stats.Overdue, stats.DueToday)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showDone, "all", false, "include completed tasks")
	return cmd
}

func newDoneCmd(open func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Toggle a task's completion state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.close()

			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}

			it, err := a.store.ToggleDone(cmd.Context(), id)
			if err != nil {
				return err
			}
			if it.Done {
				fmt.Fprintf(cmd.OutOrStdout(), "completed #%d %s\n", it.ID, it.Title)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "reopened #%d %s\n", it.ID, it.Title)
			}
			return nil
		},
	}
}

func newRemoveCmd(open func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Short:   "Delete a task",
		Aliases: []string{"remove"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.close()

			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			if err := a.store.DeleteItem(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted #%d\n", id)
			return nil
		},
	}
}
