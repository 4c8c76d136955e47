package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Show the stored session state",
		Args:  cobra.NoArgs,
		RunE:  runToken,
	}
	cmd.Flags().Bool("show", false, "Print the access token")
	cmd.Flags().Bool("refresh", false, "Exchange the refresh token for a new pair first")
	return cmd
}

func runToken(cmd *cobra.Command, _ []string) error {
	show, _ := cmd.Flags().GetBool("show")
	refresh, _ := cmd.Flags().GetBool("refresh")

	cfg, logger, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	sess, err := openSession(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = sess.close() }()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if refresh {
		if _, err := sess.store.Refresh(ctx); err != nil {
			return fmt.Errorf("refresh failed, run `taskgate login` again: %w", err)
		}
		fmt.Fprintln(out, "Refreshed")
	}

	pair, ok := sess.store.Current(ctx)
	if !ok {
		fmt.Fprintln(out, "Not logged in")
		return nil
	}

	fmt.Fprintln(out, "Logged in")
	fmt.Fprintf(out, "Refresh token: %s\n", presence(pair.RefreshToken != ""))
	if exp, ok := sess.store.ExpiresAt(ctx); ok {
		state := "valid"
		if !exp.After(time.Now()) {
			state = "expired"
		}
		fmt.Fprintf(out, "Expires: %s (%s)\n", exp.Local().Format(time.RFC1123), state)
	}
	if show {
		fmt.Fprintln(out, pair.AccessToken)
	}
	return nil
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return "absent"
}
