package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/23026475/trackit/internal/store"
)

func newAdminCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Server administration",
	}
	cmd.AddCommand(
		newAdminGrantCmd(g),
		newAdminRevokeCmd(g),
		newAdminCreateKeyCmd(g),
		newAdminCleanupCmd(g),
	)
	return cmd
}

func newAdminGrantCmd(g *globalFlags) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant admin privileges to a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := g.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			u, err := lookupUser(st, email)
			if err != nil {
				return err
			}
			if err := st.SetUserAdmin(u.Email, true); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted admin to %s\n", u.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "user email address (required)")
	cmd.MarkFlagRequired("email")
	return cmd
}

func newAdminRevokeCmd(g *globalFlags) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke admin privileges from a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := g.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			u, err := lookupUser(st, email)
			if err != nil {
				return err
			}
			count, err := st.CountAdmins()
			if err != nil {
				return err
			}
			if u.IsAdmin && count <= 1 {
				return errors.New("cannot revoke last admin")
			}
			if err := st.SetUserAdmin(u.Email, false); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked admin from %s\n", u.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "user email address (required)")
	cmd.MarkFlagRequired("email")
	return cmd
}

func newAdminCreateKeyCmd(g *globalFlags) *cobra.Command {
	var (
		email         string
		name          string
		expiresInDays int
	)
	cmd := &cobra.Command{
		Use:   "create-key",
		Short: "Create an API key for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if expiresInDays < 0 {
				return errors.New("--expires-in-days must not be negative")
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

			var expiresAt *time.Time
			if expiresInDays > 0 {
				t := time.Now().UTC().AddDate(0, 0, expiresInDays)
				expiresAt = &t
			}
			plaintext, ak, err := st.GenerateAPIKey(u.ID, name, "", expiresAt)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "created API key for %s\n", u.Email)
			fmt.Fprintf(out, "  name:    %s\n", ak.Name)
			if ak.ExpiresAt != nil {
				fmt.Fprintf(out, "  expires: %s\n", ak.ExpiresAt.Format(time.RFC3339))
			}
			fmt.Fprintf(out, "  key:     %s\n", plaintext)
			fmt.Fprintln(out, "\nSave this key now -- it will not be shown again.")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "user email address (required)")
	cmd.Flags().StringVar(&name, "name", "", "key name (required)")
	cmd.Flags().IntVar(&expiresInDays, "expires-in-days", 0, "days until the key expires (0 = never)")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newAdminCleanupCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Purge expired sessions and auth events past retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer st.Close()

			sessions, err := st.CleanupExpiredSessions()
			if err != nil {
				return err
			}
			var events int64
			if cfg.AuthEventRetention > 0 {
				if events, err = st.CleanupAuthEvents(cfg.AuthEventRetention); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired sessions and %d auth events\n", sessions, events)
			return nil
		},
	}
}
