package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/da8ter/todosync/internal/model"
)

func newAuthCmd(open func() (*app, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Connect, inspect or disconnect OAuth backends",
	}
	cmd.AddCommand(
		newAuthConnectCmd(open),
		newAuthStatusCmd(open),
		newAuthDisconnectCmd(open),
	)
	return cmd
}

func newAuthConnectCmd(open func() (*app, error)) *cobra.Command {
	var code string

	cmd := &cobra.Command{
		Use:   "connect <google|microsoft>",
		Short: "Run the authorization-code flow for a backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.close()

			b := model.ParseBackend(args[0])
			if b == "" {
				return fmt.Errorf("unknown backend %q", args[0])
			}
			ts, err := tokenSource(a, b)
			if err != nil {
				return err
			}

			if code == "" {
				state := uuid.NewString()
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "Open this URL in a browser and grant access:")
				fmt.Fprintln(out)
				fmt.Fprintln(out, "  "+ts.AuthURL(state))
				fmt.Fprintln(out)
				fmt.Fprint(out, "Paste the code from the redirect URL: ")

				reader := bufio.NewReader(cmd.InOrStdin())
				line, err := reader.ReadString('\n')
				if err != nil {
					return fmt.Errorf("reading authorization code: %w", err)
				}
				code = strings.TrimSpace(line)
			}
			if code == "" {
				return fmt.Errorf("no authorization code provided")
			}

			if err := ts.Exchange(cmd.Context(), code); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s connected\n", b)
			return nil
		},
	}

	cmd.Flags().StringVar(&code, "code", "", "authorization code (skips the interactive prompt)")
	return cmd
}

func newAuthStatusCmd(open func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which OAuth backends hold a stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.close()

			for _, b := range []model.Backend{model.BackendGoogle, model.BackendMicrosoft} {
				ts, err := tokenSource(a, b)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: not configured\n", b)
					continue
				}
				if ts.Connected() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: connected\n", b)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: not connected\n", b)
				}
			}
			return nil
		},
	}
}

func newAuthDisconnectCmd(open func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <google|microsoft>",
		Short: "Drop a backend's stored tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.close()

			b := model.ParseBackend(args[0])
			if b == "" {
				return fmt.Errorf("unknown backend %q", args[0])
			}
			ts, err := tokenSource(a, b)
			if err != nil {
				return err
			}
			if err := ts.Disconnect(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s disconnected\n", b)
			return nil
		},
	}
}
