package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/da8ter/todosync/internal/recur"
	syncer "github.com/da8ter/todosync/internal/sync"
)

// logListener surfaces pass results and due notifications in the log.
// Notification delivery itself is left to whatever watches the output.
type logListener struct {
	log *slog.Logger
}

func (l *logListener) SyncCompleted(r syncer.Result) {
	l.log.Info("list updated",
		"backend", r.Backend,
		"open", r.Stats.Open,
		"overdue", r.Stats.Overdue,
		"due_today", r.Stats.DueToday,
	)
}

func (l *logListener) NotificationsDue(notes []recur.DueNotification) {
	for _, n := range notes {
		l.log.Info("task due", "item", n.ItemID, "title", n.Title, "lead_time", n.LeadTime)
	}
}

func newDaemonCmd(open func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the background sync loop until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.close()

			b, err := resolveBackend(a, nil)
			if err != nil {
				return err
			}
			adapter, err := buildAdapter(a, b)
			if err != nil {
				return err
			}

			c := syncer.New(a.store, a.cfg, a.log, &logListener{log: a.log})
			c.Register(adapter)
			c.Start()
			defer c.Stop()

			a.log.Info("daemon started", "backend", b,
				"interval_min", a.cfg.SyncIntervalMinFor(b))

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			sig := <-sigCh
			fmt.Fprintln(cmd.OutOrStdout())
			a.log.Info("shutting down", "signal", sig.String())
			return nil
		},
	}
}
