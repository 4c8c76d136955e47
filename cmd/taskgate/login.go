package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/polisai/taskgate/pkg/domain"
	"github.com/polisai/taskgate/pkg/gateway"
	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the backend and store the session tokens",
		Args:  cobra.NoArgs,
		RunE:  runLogin,
	}
	cmd.Flags().StringP("email", "e", "", "Account email")
	cmd.Flags().StringP("password", "p", "", "Account password (prefer --password-stdin)")
	cmd.Flags().Bool("password-stdin", false, "Read the password from stdin")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func runLogin(cmd *cobra.Command, _ []string) error {
	email, _ := cmd.Flags().GetString("email")
	password, _ := cmd.Flags().GetString("password")
	fromStdin, _ := cmd.Flags().GetBool("password-stdin")

	if fromStdin {
		if password != "" {
			return errors.New("--password and --password-stdin are mutually exclusive")
		}
		var err error
		password, err = readPassword(cmd.InOrStdin())
		if err != nil {
			return err
		}
	}
	if password == "" {
		return errors.New("a password is required: use --password or --password-stdin")
	}

	cfg, logger, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	sess, err := openSession(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = sess.close() }()

	credentials, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	auth := newAuthHandlers(cfg, sess, nil, logger)
	if _, err := auth.SignIn(cmd.Context(), credentials); err != nil {
		var backendErr *domain.BackendError
		if errors.As(err, &backendErr) {
			return fmt.Errorf("login failed: %s", gateway.Normalize(err).Message)
		}
		return fmt.Errorf("login failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Logged in as %s\n", email)
	if exp, ok := sess.store.ExpiresAt(cmd.Context()); ok {
		fmt.Fprintf(out, "Access token expires %s\n", exp.Local().Format(time.RFC1123))
	}
	return nil
}

// readPassword returns the first line of r without its line terminator.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the backend session and delete the stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			sess, err := openSession(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = sess.close() }()

			if err := newAuthHandlers(cfg, sess, nil, logger).SignOut(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear session: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}
