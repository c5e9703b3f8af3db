package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/23026475/trackit/internal/models"
	"github.com/23026475/trackit/internal/store"
)

func newUserCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(newUserCreateCmd(g), newUserPasswordCmd(g))
	return cmd
}

func newUserCreateCmd(g *globalFlags) *cobra.Command {
	var (
		email         string
		name          string
		admin         bool
		passwordStdin bool
		noPassword    bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		Long: `Create a user account directly in the database. Use this to bootstrap
the first account when signup is disabled.

The password is prompted for unless --password-stdin or --no-password is given.
Accounts created with --no-password can only authenticate with API keys.`,
		Example: "  trackit user create --email ada@example.com --name Ada --admin",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if !noPassword {
				var err error
				password, err = readPassword(cmd, passwordStdin)
				if err != nil {
					return err
				}
			}

			st, err := g.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			u, err := st.CreateUser(email, name, password)
			if err != nil {
				return err
			}
			if admin {
				if err := st.SetUserAdmin(u.Email, true); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "created user %s\n", u.Email)
			fmt.Fprintf(out, "  id:    %s\n", u.ID)
			if admin {
				fmt.Fprintln(out, "  admin: yes")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address (required)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant admin privileges")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	cmd.Flags().BoolVar(&noPassword, "no-password", false, "create an API-key-only account")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagsMutuallyExclusive("password-stdin", "no-password")
	return cmd
}

func newUserPasswordCmd(g *globalFlags) *cobra.Command {
	var (
		email         string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "set-password",
		Short: "Reset a user's password and sign out their sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd, passwordStdin)
			if err != nil {
				return err
			}

			st, err := g.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			u, err := lookupUser(st, email)
			if err != nil {
				return err
			}
			if err := st.SetPassword(u.ID, password); err != nil {
				return err
			}
			n, err := st.RevokeUserSessions(u.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s (%d sessions revoked)\n", u.Email, n)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address (required)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	cmd.MarkFlagRequired("email")
	return cmd
}

// readPassword reads one line from stdin, or prompts twice without echo when
// stdin is a terminal.
func readPassword(cmd *cobra.Command, fromStdin bool) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && !fromStdin && term.IsTerminal(int(f.Fd())) {
		errOut := cmd.ErrOrStderr()
		fmt.Fprint(errOut, "Password: ")
		first, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(errOut)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		fmt.Fprint(errOut, "Confirm password: ")
		second, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(errOut)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		if string(first) != string(second) {
			return "", errors.New("passwords do not match")
		}
		return string(first), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password")
	}
	return password, nil
}

func lookupUser(st *store.Store, email string) (*models.User, error) {
	u, err := st.GetUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user not found: %s", store.NormalizeEmail(email))
	}
	return u, nil
}
