package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/da8ter/todosync/internal/backend"
	syncer "github.com/da8ter/todosync/internal/sync"
)

func newSyncCmd(open func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [backend]",
		Short: "Run one sync pass and exit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.close()

			b, err := resolveBackend(a, args)
			if err != nil {
				return err
			}
			adapter, err := buildAdapter(a, b)
			if err != nil {
				return err
			}

			c := syncer.New(a.store, a.cfg, a.log, nil)
			c.Register(adapter)

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			res, err := c.SyncOnce(ctx, b)
			if err != nil {
				if backend.IsAuthError(err) {
					return fmt.Errorf("%w\nrun 'todosync auth %s' to reconnect", err, b)
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"%s: %d uploaded, %d adopted, %d deleted (%d open, %d overdue, %d due today)\n",
				b, res.Uploaded, res.Adopted, res.Deleted,
				res.Stats.Open, res.Stats.Overdue, res.Stats.DueToday)
			return nil
		},
	}
}

func newTestConnectionCmd(open func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection [backend]",
		Short: "Verify credentials and connectivity of a backend",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.close()

			b, err := resolveBackend(a, args)
			if err != nil {
				return err
			}
			adapter, err := buildAdapter(a, b)
			if err != nil {
				return err
			}

			msg, err := adapter.TestConnection(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", b, msg)
			return nil
		},
	}
}

func newDiscoverCmd(open func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "discover [backend]",
		Short: "List the backend's calendars or task lists",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.close()

			b, err := resolveBackend(a, args)
			if err != nil {
				return err
			}
			adapter, err := buildAdapter(a, b)
			if err != nil {
				return err
			}

			opts, err := adapter.DiscoverCollections(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.store.ReplaceRemoteOptions(cmd.Context(), b, opts); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LABEL\tVALUE\tTASKS")
			for _, o := range opts {
				tasks := ""
				if o.SupportsTodo {
					tasks = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", o.Label, o.Value, tasks)
			}
			return w.Flush()
		},
	}
}

func newResetSyncCmd(open func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-sync <backend>",
		Short: "Forget a backend's sync state so the next pass starts fresh",
		Long: `Clears the backend's remote ids, etags and sync stamps on every item,
drops its pending deletes and last-sync stamp. The items themselves are
kept; the next pass re-uploads them and re-matches the remote side.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.close()

			b, err := resolveBackend(a, args)
			if err != nil {
				return err
			}
			if err := a.store.ResetSync(cmd.Context(), b); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sync state for %s cleared\n", b)
			return nil
		},
	}
}
